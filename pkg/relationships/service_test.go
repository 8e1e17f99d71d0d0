package relationships_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/memstore"
	"github.com/Ramsey-B/fern/pkg/clock"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/relationships"
)

const org = "org1"

func newService(t *testing.T) (*relationships.Service, *memstore.Store, *clock.Fixed) {
	t.Helper()
	store := memstore.New()
	clk := clock.NewFixed(time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC))
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return relationships.NewService(store, clk, logger), store, clk
}

func host(subman, hv string) relationships.HostInput {
	return relationships.HostInput{
		OrgID:                 org,
		SubscriptionManagerID: subman,
		HypervisorUUID:        hv,
		Facts:                 json.RawMessage(`{"id":"inv-` + subman + `"}`),
	}
}

func TestProcessHost_RequiresIdentity(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.ProcessHost(context.Background(), relationships.HostInput{OrgID: org})
	assert.ErrorIs(t, err, relationships.ErrMissingIdentity)

	_, err = svc.ProcessHost(context.Background(), relationships.HostInput{SubscriptionManagerID: "h1"})
	assert.ErrorIs(t, err, relationships.ErrMissingIdentity)
}

func TestProcessHost_IdempotentIdentity(t *testing.T) {
	svc, store, clk := newService(t)
	ctx := context.Background()

	first, err := svc.ProcessHost(ctx, host("h1", ""))
	require.NoError(t, err)
	created := first.CreationDate

	clk.Advance(time.Hour)
	second, err := svc.ProcessHost(ctx, host("h1", ""))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.HostID(org, "h1"), second.ID)
	assert.Equal(t, created, second.CreationDate)
	assert.Equal(t, clk.Now(), second.LastUpdated)
	assert.Len(t, store.Relationships(), 1)
}

func TestProcessHost_Classification(t *testing.T) {
	tests := []struct {
		name     string
		known    []string
		subman   string
		hv       string
		unmapped bool
	}{
		{name: "standalone", subman: "s1", hv: "", unmapped: false},
		{name: "unknown hypervisor", subman: "g1", hv: "h1", unmapped: true},
		{name: "known hypervisor", known: []string{"h1"}, subman: "g1", hv: "h1", unmapped: false},
		{name: "self reference", subman: "h1", hv: "h1", unmapped: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newService(t)
			ctx := context.Background()
			for _, k := range tt.known {
				_, err := svc.ProcessHost(ctx, host(k, ""))
				require.NoError(t, err)
			}

			rel, err := svc.ProcessHost(ctx, host(tt.subman, tt.hv))
			require.NoError(t, err)
			assert.Equal(t, tt.unmapped, rel.IsUnmappedGuest)
			assert.Equal(t, tt.hv, rel.HypervisorID())
		})
	}
}

func TestUnmappedToMappedConvergence(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	g1, err := svc.ProcessHost(ctx, host("g1", "h1"))
	require.NoError(t, err)
	assert.True(t, g1.IsUnmappedGuest)

	isHyp, err := svc.IsHypervisor(ctx, org, "h1")
	require.NoError(t, err)
	assert.True(t, isHyp, "a host referenced by a guest is a hypervisor before it reports")

	_, err = svc.ProcessHost(ctx, host("h1", ""))
	require.NoError(t, err)

	unmapped, err := svc.GetUnmappedGuests(ctx, org, "h1")
	require.NoError(t, err)
	require.Len(t, unmapped, 1)

	g1, err = svc.ProcessHost(ctx, host("g1", "h1"))
	require.NoError(t, err)
	assert.False(t, g1.IsUnmappedGuest)
	assert.Equal(t, "h1", g1.MappedHypervisorID())
}

func TestIsHypervisor_Derived(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.ProcessHost(ctx, host("h1", ""))
	require.NoError(t, err)
	isHyp, err := svc.IsHypervisor(ctx, org, "h1")
	require.NoError(t, err)
	assert.False(t, isHyp)

	_, err = svc.ProcessHost(ctx, host("g1", "h1"))
	require.NoError(t, err)
	isHyp, err = svc.IsHypervisor(ctx, org, "h1")
	require.NoError(t, err)
	assert.True(t, isHyp)

	// Guest moves away; h1 stops being a hypervisor.
	_, err = svc.ProcessHost(ctx, host("g1", ""))
	require.NoError(t, err)
	isHyp, err = svc.IsHypervisor(ctx, org, "h1")
	require.NoError(t, err)
	assert.False(t, isHyp)
}

func TestDelete_LeavesDependents(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	hv, err := svc.ProcessHost(ctx, host("h1", ""))
	require.NoError(t, err)
	_, err = svc.ProcessHost(ctx, host("g1", "h1"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, hv))

	known, err := svc.IsKnownHost(ctx, org, "h1")
	require.NoError(t, err)
	assert.False(t, known)

	rels := store.Relationships()
	require.Len(t, rels, 1)
	assert.Equal(t, "g1", rels[0].SubscriptionManagerID)
	assert.Equal(t, "h1", rels[0].HypervisorID())

	unmapped, err := svc.IsUnmappedGuest(ctx, org, "g1", "h1")
	require.NoError(t, err)
	assert.True(t, unmapped)
}

func TestGetRelationshipByInventoryID(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	in := host("h1", "")
	in.InventoryID = "inv-1"
	_, err := svc.ProcessHost(ctx, in)
	require.NoError(t, err)

	rel, err := svc.GetRelationshipByInventoryID(ctx, org, "inv-1")
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, "h1", rel.SubscriptionManagerID)

	rel, err = svc.GetRelationshipByInventoryID(ctx, org, "")
	require.NoError(t, err)
	assert.Nil(t, rel)
}
