package processor

import (
	"context"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizer"
	"github.com/Ramsey-B/fern/pkg/relationships"
)

// handleCreateUpdate stores the host's relationship and emits its event. When
// the host is a hypervisor its unmapped guests are re-resolved. When a guest
// joins or leaves a hypervisor, that hypervisor is refreshed.
func (p *Processor) handleCreateUpdate(ctx context.Context, run *unitOfWork, event *models.HbiEvent) error {
	host := event.Host

	if reason := p.normalizer.SkipReason(host); reason != "" {
		run.skipReason = reason
		return nil
	}

	eventType := models.EventTypeInstanceUpdated
	if event.Type == models.HbiEventCreated {
		eventType = models.EventTypeInstanceCreated
	}

	facts := p.normalizer.Normalize(host)
	orgID := facts.OrgID
	subscriptionManagerID := facts.SubscriptionManagerID

	if subscriptionManagerID == "" {
		// No identity to key a relationship on; emit from live store state only.
		unmapped, err := p.relationships.IsUnmappedGuest(ctx, orgID, "", facts.HypervisorUUID)
		if err != nil {
			return err
		}
		run.emit("", p.normalizer.BuildEvent(eventType, facts, normalizer.HostState{IsUnmappedGuest: unmapped}, run.at))
		return nil
	}

	previous, err := p.relationships.GetRelationship(ctx, orgID, subscriptionManagerID)
	if err != nil {
		return err
	}

	raw, err := marshalHost(host)
	if err != nil {
		return err
	}

	rel, err := p.relationships.ProcessHost(ctx, relationships.HostInput{
		OrgID:                 orgID,
		SubscriptionManagerID: subscriptionManagerID,
		InventoryID:           host.ID,
		HypervisorUUID:        facts.HypervisorUUID,
		Facts:                 raw,
	})
	if err != nil {
		return err
	}
	run.saved(rel)

	isHypervisor, err := p.relationships.IsHypervisor(ctx, orgID, subscriptionManagerID)
	if err != nil {
		return err
	}

	run.emit(subscriptionManagerID, p.normalizer.BuildEvent(eventType, facts, normalizer.HostState{
		IsUnmappedGuest: rel.IsUnmappedGuest,
		IsHypervisor:    isHypervisor,
	}, run.at))

	if isHypervisor {
		guests, err := p.relationships.GetUnmappedGuests(ctx, orgID, subscriptionManagerID)
		if err != nil {
			return err
		}
		for i := range guests {
			if err := run.refresh(ctx, &guests[i]); err != nil {
				return err
			}
		}
	}

	newHypervisor := rel.MappedHypervisorID()
	oldHypervisor := previous.MappedHypervisorID()
	if newHypervisor != "" && newHypervisor != oldHypervisor {
		if err := run.refreshByID(ctx, orgID, newHypervisor); err != nil {
			return err
		}
	}
	if oldHypervisor != "" && oldHypervisor != newHypervisor {
		if err := run.refreshByID(ctx, orgID, oldHypervisor); err != nil {
			return err
		}
	}

	return nil
}
