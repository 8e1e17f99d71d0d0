package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
)

// hostNamespace scopes deterministic host relationship ids.
var hostNamespace = uuid.MustParse("6d1f5a0e-4a3c-4c1b-9f6e-1b2a7c9d3e55")

// HostID derives the relationship primary key from the host identity.
func HostID(orgID, subscriptionManagerID string) uuid.UUID {
	return uuid.NewSHA1(hostNamespace, []byte(orgID+":"+subscriptionManagerID))
}

// HostRelationship is the persisted view of a host and its hypervisor link.
// Whether a host is itself a hypervisor is never stored; it is derived from
// how many relationships reference its subscription manager id.
type HostRelationship struct {
	ID                    uuid.UUID                       `db:"id" json:"id"`
	OrgID                 string                          `db:"org_id" json:"org_id"`
	SubscriptionManagerID string                          `db:"subscription_manager_id" json:"subscription_manager_id"`
	InventoryID           *string                         `db:"inventory_id" json:"inventory_id,omitempty"`
	HypervisorUUID        *string                         `db:"hypervisor_uuid" json:"hypervisor_uuid,omitempty"`
	IsUnmappedGuest       bool                            `db:"is_unmapped_guest" json:"is_unmapped_guest"`
	Facts                 database.JSONB[json.RawMessage] `db:"facts" json:"facts"`
	CreationDate          time.Time                       `db:"creation_date" json:"creation_date"`
	LastUpdated           time.Time                       `db:"last_updated" json:"last_updated"`
}

// HypervisorID returns the hypervisor reference, or "" when there is none.
func (r *HostRelationship) HypervisorID() string {
	if r == nil || r.HypervisorUUID == nil {
		return ""
	}
	return *r.HypervisorUUID
}

// MappedHypervisorID returns the hypervisor id only when the link is resolved.
func (r *HostRelationship) MappedHypervisorID() string {
	if r == nil || r.IsUnmappedGuest {
		return ""
	}
	return r.HypervisorID()
}

func (r *HostRelationship) IsGuest() bool {
	return r.HypervisorID() != ""
}

// Host decodes the stored facts back into the inventory host they came from.
func (r *HostRelationship) Host() (*HbiHost, error) {
	var host HbiHost
	if len(r.Facts.Data) == 0 {
		return &host, nil
	}
	if err := json.Unmarshal(r.Facts.Data, &host); err != nil {
		return nil, err
	}
	return &host, nil
}
