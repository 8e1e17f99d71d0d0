package graph

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	upsertHostCypher = `
		MERGE (h:Host {org_id: $org_id, subscription_manager_id: $subscription_manager_id})
		SET h.inventory_id = $inventory_id,
			h.is_unmapped_guest = $is_unmapped_guest,
			h.last_updated = $last_updated`

	clearGuestOfCypher = `
		MATCH (h:Host {org_id: $org_id, subscription_manager_id: $subscription_manager_id})-[r:GUEST_OF]->()
		DELETE r`

	linkGuestOfCypher = `
		MATCH (g:Host {org_id: $org_id, subscription_manager_id: $subscription_manager_id})
		MERGE (hv:Host {org_id: $org_id, subscription_manager_id: $hypervisor_uuid})
		MERGE (g)-[r:GUEST_OF]->(hv)
		SET r.is_unmapped_guest = $is_unmapped_guest`

	deleteHostCypher = `
		MATCH (h:Host {org_id: $org_id, subscription_manager_id: $subscription_manager_id})
		DETACH DELETE h`
)

// Writer runs statements in a single write transaction.
type Writer interface {
	RunWrite(ctx context.Context, statements []Statement) error
}

// Projector mirrors committed relationship changes as
// (:Host)-[:GUEST_OF]->(:Host) edges. The graph is write-only from this
// service's point of view.
type Projector struct {
	writer Writer
	logger ectologger.Logger
}

func NewProjector(writer Writer, logger ectologger.Logger) *Projector {
	return &Projector{writer: writer, logger: logger}
}

// Project writes changes. Failures are logged and dropped.
func (p *Projector) Project(ctx context.Context, changes []models.RelationshipChange) {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.Project")
	defer span.End()

	statements := Statements(changes)
	if len(statements) == 0 {
		return
	}

	if err := p.writer.RunWrite(ctx, statements); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("changes", len(changes)).Warn("Failed to project relationship changes to graph")
	}
}

// Statements translates changes into Cypher, in change order.
func Statements(changes []models.RelationshipChange) []Statement {
	var statements []Statement
	for _, change := range changes {
		rel := change.Relationship
		key := map[string]any{
			"org_id":                  rel.OrgID,
			"subscription_manager_id": rel.SubscriptionManagerID,
		}

		if change.Deleted {
			statements = append(statements, Statement{Cypher: deleteHostCypher, Params: key})
			continue
		}

		inventoryID := ""
		if rel.InventoryID != nil {
			inventoryID = *rel.InventoryID
		}
		statements = append(statements,
			Statement{Cypher: upsertHostCypher, Params: merge(key, map[string]any{
				"inventory_id":      inventoryID,
				"is_unmapped_guest": rel.IsUnmappedGuest,
				"last_updated":      rel.LastUpdated.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			})},
			Statement{Cypher: clearGuestOfCypher, Params: key},
		)

		if hv := rel.HypervisorID(); hv != "" && hv != rel.SubscriptionManagerID {
			statements = append(statements, Statement{Cypher: linkGuestOfCypher, Params: merge(key, map[string]any{
				"hypervisor_uuid":   hv,
				"is_unmapped_guest": rel.IsUnmappedGuest,
			})})
		}
	}
	return statements
}

func merge(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
