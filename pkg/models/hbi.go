package models

import (
	"strings"
	"time"
)

// Inbound HBI event types.
const (
	HbiEventCreated = "created"
	HbiEventUpdated = "updated"
	HbiEventDelete  = "delete"
)

// Fact namespaces reported by HBI.
const (
	FactNamespaceRhsm      = "rhsm"
	FactNamespaceSatellite = "satellite"
	FactNamespaceQpc       = "qpc"
)

// HbiEvent is a message from the inventory events topic. Create and update
// events carry Host; delete events carry the identity fields at the top level.
type HbiEvent struct {
	Type                  string         `json:"type" validate:"required"`
	Timestamp             *time.Time     `json:"timestamp,omitempty"`
	Host                  *HbiHost       `json:"host,omitempty"`
	ID                    string         `json:"id,omitempty"`
	OrgID                 string         `json:"org_id,omitempty"`
	InsightsID            *string        `json:"insights_id,omitempty"`
	SubscriptionManagerID *string        `json:"subscription_manager_id,omitempty"`
	PlatformMetadata      map[string]any `json:"platform_metadata,omitempty"`
}

// HbiHost is the host payload of a create or update event.
type HbiHost struct {
	ID                    string         `json:"id" validate:"required"`
	OrgID                 string         `json:"org_id" validate:"required"`
	DisplayName           *string        `json:"display_name,omitempty"`
	InsightsID            *string        `json:"insights_id,omitempty"`
	SubscriptionManagerID *string        `json:"subscription_manager_id,omitempty"`
	ProviderID            *string        `json:"provider_id,omitempty"`
	ProviderType          *string        `json:"provider_type,omitempty"`
	Reporter              string         `json:"reporter,omitempty"`
	StaleTimestamp        *time.Time     `json:"stale_timestamp,omitempty"`
	Updated               *time.Time     `json:"updated,omitempty"`
	Facts                 []HbiHostFacts `json:"facts,omitempty"`
	SystemProfile         SystemProfile  `json:"system_profile"`
}

type HbiHostFacts struct {
	Namespace string         `json:"namespace"`
	Facts     map[string]any `json:"facts"`
}

type SystemProfile struct {
	Arch               string `json:"arch,omitempty"`
	InfrastructureType string `json:"infrastructure_type,omitempty"`
	CloudProvider      string `json:"cloud_provider,omitempty"`
	HostType           string `json:"host_type,omitempty"`
	VirtualHostUUID    string `json:"virtual_host_uuid,omitempty"`
	NumberOfSockets    int    `json:"number_of_sockets,omitempty"`
	CoresPerSocket     int    `json:"cores_per_socket,omitempty"`
	ThreadsPerCore     int    `json:"threads_per_core,omitempty"`
	IsMarketplace      bool   `json:"is_marketplace,omitempty"`
}

// SubscriptionManagerIDValue returns the subscription manager id or "".
func (h *HbiHost) SubscriptionManagerIDValue() string {
	if h == nil || h.SubscriptionManagerID == nil {
		return ""
	}
	return strings.TrimSpace(*h.SubscriptionManagerID)
}

// FactsFor returns the facts reported under namespace, if any.
func (h *HbiHost) FactsFor(namespace string) (map[string]any, bool) {
	for _, f := range h.Facts {
		if strings.EqualFold(f.Namespace, namespace) {
			return f.Facts, true
		}
	}
	return nil, false
}

// OrgIDValue returns the org id for any event shape.
func (e *HbiEvent) OrgIDValue() string {
	if e.Host != nil && e.Host.OrgID != "" {
		return e.Host.OrgID
	}
	return e.OrgID
}
