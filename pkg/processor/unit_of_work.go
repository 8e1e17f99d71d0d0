package processor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizer"
	"github.com/Ramsey-B/fern/pkg/relationships"
)

// unitOfWork collects what one inbound message produces. Each host is
// emitted at most once per message, and every event it emits carries the
// same timestamp.
type unitOfWork struct {
	p          *Processor
	at         time.Time
	events     []models.SwatchEvent
	changes    []models.RelationshipChange
	emitted    map[string]bool
	skipReason string
}

func newUnitOfWork(p *Processor, at time.Time) *unitOfWork {
	return &unitOfWork{p: p, at: at, emitted: make(map[string]bool)}
}

func (u *unitOfWork) emit(key string, event models.SwatchEvent) {
	if key != "" {
		u.emitted[key] = true
	}
	u.events = append(u.events, event)
}

func (u *unitOfWork) saved(rel *models.HostRelationship) {
	u.changes = append(u.changes, models.RelationshipChange{Relationship: *rel})
}

func (u *unitOfWork) deleted(rel *models.HostRelationship) {
	u.changes = append(u.changes, models.RelationshipChange{Deleted: true, Relationship: *rel})
}

func (u *unitOfWork) result() *Result {
	outcome := metrics.OutcomeProcessed
	if u.skipReason != "" {
		outcome = metrics.OutcomeSkipped
	}
	return &Result{
		Outcome:    outcome,
		SkipReason: u.skipReason,
		Events:     u.events,
		Changes:    u.changes,
	}
}

// refresh re-resolves a stored relationship against current store state and
// emits an updated event for it.
func (u *unitOfWork) refresh(ctx context.Context, rel *models.HostRelationship) error {
	if rel == nil || u.emitted[rel.SubscriptionManagerID] {
		return nil
	}

	facts, err := storedFacts(u.p.normalizer, rel)
	if err != nil {
		return err
	}

	updated, err := u.p.relationships.ProcessHost(ctx, relationships.HostInput{
		OrgID:                 rel.OrgID,
		SubscriptionManagerID: rel.SubscriptionManagerID,
		InventoryID:           derefString(rel.InventoryID),
		HypervisorUUID:        rel.HypervisorID(),
		Facts:                 rel.Facts.Data,
	})
	if err != nil {
		return err
	}
	u.saved(updated)

	isHypervisor, err := u.p.relationships.IsHypervisor(ctx, updated.OrgID, updated.SubscriptionManagerID)
	if err != nil {
		return err
	}

	u.emit(updated.SubscriptionManagerID, u.p.normalizer.BuildEvent(models.EventTypeInstanceUpdated, facts, normalizer.HostState{
		IsUnmappedGuest: updated.IsUnmappedGuest,
		IsHypervisor:    isHypervisor,
	}, u.at))
	return nil
}

func (u *unitOfWork) refreshByID(ctx context.Context, orgID, subscriptionManagerID string) error {
	if subscriptionManagerID == "" || u.emitted[subscriptionManagerID] {
		return nil
	}
	rel, err := u.p.relationships.GetRelationship(ctx, orgID, subscriptionManagerID)
	if err != nil {
		return err
	}
	return u.refresh(ctx, rel)
}

// storedFacts normalizes the host payload kept on a relationship, filling the
// identity from the row when the payload lacks it.
func storedFacts(n *normalizer.Normalizer, rel *models.HostRelationship) (normalizer.NormalizedFacts, error) {
	host, err := rel.Host()
	if err != nil {
		return normalizer.NormalizedFacts{}, err
	}

	facts := n.Normalize(host)
	if facts.OrgID == "" {
		facts.OrgID = rel.OrgID
	}
	if facts.SubscriptionManagerID == "" {
		facts.SubscriptionManagerID = rel.SubscriptionManagerID
	}
	if facts.InventoryID == "" {
		facts.InventoryID = derefString(rel.InventoryID)
	}
	if facts.InstanceID == "" {
		facts.InstanceID = facts.InventoryID
	}
	if facts.HypervisorUUID == "" {
		facts.HypervisorUUID = rel.HypervisorID()
	}
	return facts, nil
}

func marshalHost(host *models.HbiHost) (json.RawMessage, error) {
	return json.Marshal(host)
}
