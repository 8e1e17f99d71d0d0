package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

type fakeWriter struct {
	runs [][]Statement
	err  error
}

func (w *fakeWriter) RunWrite(_ context.Context, statements []Statement) error {
	w.runs = append(w.runs, statements)
	return w.err
}

func rel(subman, hv string, unmapped bool) models.HostRelationship {
	r := models.HostRelationship{
		OrgID:                 "org1",
		SubscriptionManagerID: subman,
		IsUnmappedGuest:       unmapped,
		LastUpdated:           time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	if hv != "" {
		r.HypervisorUUID = &hv
	}
	return r
}

func cyphers(statements []Statement) []string {
	out := make([]string, 0, len(statements))
	for _, s := range statements {
		out = append(out, s.Cypher)
	}
	return out
}

func TestStatements(t *testing.T) {
	tests := []struct {
		name   string
		change models.RelationshipChange
		want   []string
	}{
		{
			name:   "host without hypervisor",
			change: models.RelationshipChange{Relationship: rel("h1", "", false)},
			want:   []string{upsertHostCypher, clearGuestOfCypher},
		},
		{
			name:   "guest links to hypervisor",
			change: models.RelationshipChange{Relationship: rel("g1", "h1", false)},
			want:   []string{upsertHostCypher, clearGuestOfCypher, linkGuestOfCypher},
		},
		{
			name:   "self reference has no edge",
			change: models.RelationshipChange{Relationship: rel("g1", "g1", true)},
			want:   []string{upsertHostCypher, clearGuestOfCypher},
		},
		{
			name:   "delete",
			change: models.RelationshipChange{Deleted: true, Relationship: rel("g1", "h1", false)},
			want:   []string{deleteHostCypher},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cyphers(Statements([]models.RelationshipChange{tt.change})))
		})
	}
}

func TestStatementParams(t *testing.T) {
	statements := Statements([]models.RelationshipChange{{Relationship: rel("g1", "h1", true)}})
	require.Len(t, statements, 3)

	assert.Equal(t, map[string]any{
		"org_id":                  "org1",
		"subscription_manager_id": "g1",
		"inventory_id":            "",
		"is_unmapped_guest":       true,
		"last_updated":            "2024-03-01T10:00:00.000Z",
	}, statements[0].Params)
	assert.Equal(t, "h1", statements[2].Params["hypervisor_uuid"])
}

func TestProject(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	writer := &fakeWriter{}
	p := NewProjector(writer, logger)

	p.Project(context.Background(), nil)
	assert.Empty(t, writer.runs)

	p.Project(context.Background(), []models.RelationshipChange{
		{Relationship: rel("h1", "", false)},
		{Relationship: rel("g1", "h1", false)},
	})
	require.Len(t, writer.runs, 1, "one write transaction per batch of changes")
	assert.Len(t, writer.runs[0], 5)

	writer.err = errors.New("neo4j unavailable")
	assert.NotPanics(t, func() {
		p.Project(context.Background(), []models.RelationshipChange{{Deleted: true, Relationship: rel("h1", "", false)}})
	})
}
