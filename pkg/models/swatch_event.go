package models

import "time"

// Normalized event types.
const (
	EventTypeInstanceCreated = "INSTANCE_CREATED"
	EventTypeInstanceUpdated = "INSTANCE_UPDATED"
	EventTypeInstanceDeleted = "INSTANCE_DELETED"
)

const (
	ServiceTypeRhelSystem = "RHEL System"
	EventSourceHbi        = "HBI_HOST"
)

// Hardware types.
const (
	HardwareTypePhysical = "PHYSICAL"
	HardwareTypeVirtual  = "VIRTUAL"
	HardwareTypeCloud    = "CLOUD"
)

// Measurement metric ids.
const (
	MetricCores   = "cores"
	MetricSockets = "sockets"
)

// SwatchEvent is the normalized instance event published downstream.
type SwatchEvent struct {
	ServiceType           string        `json:"service_type"`
	EventSource           string        `json:"event_source"`
	EventType             string        `json:"event_type"`
	Timestamp             time.Time     `json:"timestamp"`
	Expiration            time.Time     `json:"expiration"`
	OrgID                 string        `json:"org_id"`
	InstanceID            string        `json:"instance_id"`
	InventoryID           string        `json:"inventory_id,omitempty"`
	InsightsID            string        `json:"insights_id,omitempty"`
	SubscriptionManagerID string        `json:"subscription_manager_id,omitempty"`
	DisplayName           string        `json:"display_name,omitempty"`
	SLA                   string        `json:"sla,omitempty"`
	Usage                 string        `json:"usage,omitempty"`
	HypervisorUUID        string        `json:"hypervisor_uuid,omitempty"`
	CloudProvider         string        `json:"cloud_provider,omitempty"`
	HardwareType          string        `json:"hardware_type,omitempty"`
	ProductIDs            []string      `json:"product_ids,omitempty"`
	Measurements          []Measurement `json:"measurements,omitempty"`
	IsVirtual             bool          `json:"is_virtual"`
	IsUnmappedGuest       bool          `json:"is_unmapped_guest"`
	IsHypervisor          bool          `json:"is_hypervisor"`
	LastSeen              *time.Time    `json:"last_seen,omitempty"`
}

type Measurement struct {
	MetricID string  `json:"metric_id"`
	Value    float64 `json:"value"`
}
