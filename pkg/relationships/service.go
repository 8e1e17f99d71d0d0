// Package relationships resolves hypervisor and guest links between hosts.
//
// A host's relationship row records which hypervisor it last reported and
// whether that hypervisor is known. Hypervisor status itself is derived on
// demand from the rows that point at a host.
package relationships

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/clock"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var ErrMissingIdentity = errors.New("org id and subscription manager id are required")

// Store is the persistence the resolver depends on.
type Store interface {
	Find(ctx context.Context, orgID, subscriptionManagerID string) (*models.HostRelationship, error)
	FindByInventoryID(ctx context.Context, orgID, inventoryID string) (*models.HostRelationship, error)
	Exists(ctx context.Context, orgID, subscriptionManagerID string) (bool, error)
	Upsert(ctx context.Context, rel *models.HostRelationship) error
	Delete(ctx context.Context, id uuid.UUID) error
	GuestCount(ctx context.Context, orgID, hypervisorID string) (int64, error)
	FindGuests(ctx context.Context, orgID, hypervisorID string) ([]models.HostRelationship, error)
	FindUnmappedGuests(ctx context.Context, orgID, hypervisorID string) ([]models.HostRelationship, error)
}

// HostInput is what the resolver needs to know about one sighting of a host.
type HostInput struct {
	OrgID                 string
	SubscriptionManagerID string
	InventoryID           string
	HypervisorUUID        string
	Facts                 json.RawMessage
}

type Service struct {
	store  Store
	clock  clock.Clock
	logger ectologger.Logger
}

func NewService(store Store, clk clock.Clock, logger ectologger.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		store:  store,
		clock:  clk,
		logger: logger,
	}
}

// ProcessHost creates or refreshes the relationship for a host and returns
// the stored record.
func (s *Service) ProcessHost(ctx context.Context, in HostInput) (*models.HostRelationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationships.Service.ProcessHost")
	defer span.End()

	if in.OrgID == "" || in.SubscriptionManagerID == "" {
		return nil, ErrMissingIdentity
	}

	existing, err := s.store.Find(ctx, in.OrgID, in.SubscriptionManagerID)
	if err != nil {
		return nil, err
	}

	unmapped, err := s.IsUnmappedGuest(ctx, in.OrgID, in.SubscriptionManagerID, in.HypervisorUUID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	rel := existing
	if rel == nil {
		rel = &models.HostRelationship{
			ID:                    models.HostID(in.OrgID, in.SubscriptionManagerID),
			OrgID:                 in.OrgID,
			SubscriptionManagerID: in.SubscriptionManagerID,
			CreationDate:          now,
		}
	}

	rel.HypervisorUUID = optional(in.HypervisorUUID)
	rel.IsUnmappedGuest = unmapped
	rel.Facts = database.NewJSONB(in.Facts)
	rel.LastUpdated = now
	if in.InventoryID != "" {
		rel.InventoryID = optional(in.InventoryID)
	}

	if err := s.store.Upsert(ctx, rel); err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"org_id":                  rel.OrgID,
		"subscription_manager_id": rel.SubscriptionManagerID,
		"hypervisor_uuid":         rel.HypervisorID(),
		"is_unmapped_guest":       rel.IsUnmappedGuest,
		"created":                 existing == nil,
	}).Debug("Processed host relationship")

	return rel, nil
}

// IsUnmappedGuest applies the classification rule: a guest is unmapped when it
// names a hypervisor that is itself or that has no relationship yet.
func (s *Service) IsUnmappedGuest(ctx context.Context, orgID, subscriptionManagerID, hypervisorUUID string) (bool, error) {
	if hypervisorUUID == "" {
		return false, nil
	}
	if hypervisorUUID == subscriptionManagerID {
		return true, nil
	}
	known, err := s.IsKnownHost(ctx, orgID, hypervisorUUID)
	if err != nil {
		return false, err
	}
	return !known, nil
}

// IsHypervisor is true when at least one relationship names the host as its hypervisor.
func (s *Service) IsHypervisor(ctx context.Context, orgID, subscriptionManagerID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "relationships.Service.IsHypervisor")
	defer span.End()

	if subscriptionManagerID == "" {
		return false, nil
	}
	count, err := s.store.GuestCount(ctx, orgID, subscriptionManagerID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) IsKnownHost(ctx context.Context, orgID, subscriptionManagerID string) (bool, error) {
	if subscriptionManagerID == "" {
		return false, nil
	}
	return s.store.Exists(ctx, orgID, subscriptionManagerID)
}

func (s *Service) GetRelationship(ctx context.Context, orgID, subscriptionManagerID string) (*models.HostRelationship, error) {
	if subscriptionManagerID == "" {
		return nil, nil
	}
	return s.store.Find(ctx, orgID, subscriptionManagerID)
}

func (s *Service) GetRelationshipByInventoryID(ctx context.Context, orgID, inventoryID string) (*models.HostRelationship, error) {
	if inventoryID == "" {
		return nil, nil
	}
	return s.store.FindByInventoryID(ctx, orgID, inventoryID)
}

func (s *Service) GetUnmappedGuests(ctx context.Context, orgID, hypervisorUUID string) ([]models.HostRelationship, error) {
	return s.store.FindUnmappedGuests(ctx, orgID, hypervisorUUID)
}

func (s *Service) GetGuests(ctx context.Context, orgID, hypervisorUUID string) ([]models.HostRelationship, error) {
	return s.store.FindGuests(ctx, orgID, hypervisorUUID)
}

// Delete removes the host's own row. Guests pointing at it keep their rows.
func (s *Service) Delete(ctx context.Context, rel *models.HostRelationship) error {
	ctx, span := tracing.StartSpan(ctx, "relationships.Service.Delete")
	defer span.End()

	if err := s.store.Delete(ctx, rel.ID); err != nil {
		return err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"org_id":                  rel.OrgID,
		"subscription_manager_id": rel.SubscriptionManagerID,
	}).Debug("Deleted host relationship")
	return nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
