package processor

import (
	"context"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizer"
)

// handleDelete removes the host's relationship and emits a deleted event built
// from its last stored state. Guests of a deleted hypervisor are re-resolved
// as unmapped; the hypervisor of a deleted guest is refreshed.
func (p *Processor) handleDelete(ctx context.Context, run *unitOfWork, event *models.HbiEvent) error {
	orgID := event.OrgID
	inventoryID := event.ID
	subscriptionManagerID := derefString(event.SubscriptionManagerID)

	rel, err := p.relationships.GetRelationship(ctx, orgID, subscriptionManagerID)
	if err != nil {
		return err
	}
	if rel == nil {
		rel, err = p.relationships.GetRelationshipByInventoryID(ctx, orgID, inventoryID)
		if err != nil {
			return err
		}
	}

	if rel == nil {
		run.emit(subscriptionManagerID, p.normalizer.BuildDeleteEvent(orgID, inventoryID, subscriptionManagerID, run.at))
		return nil
	}

	facts, err := storedFacts(p.normalizer, rel)
	if err != nil {
		return err
	}
	if inventoryID != "" {
		facts.InventoryID = inventoryID
	}

	wasHypervisor, err := p.relationships.IsHypervisor(ctx, rel.OrgID, rel.SubscriptionManagerID)
	if err != nil {
		return err
	}

	if err := p.relationships.Delete(ctx, rel); err != nil {
		return err
	}
	run.deleted(rel)

	run.emit(rel.SubscriptionManagerID, p.normalizer.BuildEvent(models.EventTypeInstanceDeleted, facts, normalizer.HostState{
		IsUnmappedGuest: rel.IsUnmappedGuest,
		IsHypervisor:    wasHypervisor,
	}, run.at))

	if wasHypervisor {
		guests, err := p.relationships.GetGuests(ctx, rel.OrgID, rel.SubscriptionManagerID)
		if err != nil {
			return err
		}
		for i := range guests {
			if guests[i].IsUnmappedGuest {
				continue
			}
			if err := run.refresh(ctx, &guests[i]); err != nil {
				return err
			}
		}
	}

	return run.refreshByID(ctx, rel.OrgID, rel.MappedHypervisorID())
}
