package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/clock"
	"github.com/Ramsey-B/fern/pkg/models"
)

var testNow = time.Date(2024, 3, 1, 10, 42, 17, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func newNormalizer() *Normalizer {
	return New(Config{}, clock.NewFixed(testNow))
}

func baseHost() *models.HbiHost {
	return &models.HbiHost{
		ID:                    "inv-1",
		OrgID:                 "org1",
		SubscriptionManagerID: ptr("g1"),
		DisplayName:           ptr("guest one"),
		SystemProfile: models.SystemProfile{
			NumberOfSockets: 2,
			CoresPerSocket:  4,
		},
	}
}

func TestSkipReason(t *testing.T) {
	n := newNormalizer()

	tests := []struct {
		name   string
		mutate func(h *models.HbiHost)
		want   string
	}{
		{name: "regular", mutate: func(*models.HbiHost) {}, want: ""},
		{name: "marketplace", mutate: func(h *models.HbiHost) {
			h.Facts = []models.HbiHostFacts{{Namespace: "rhsm", Facts: map[string]any{"BILLING_MODEL": "Marketplace"}}}
		}, want: SkipMarketplace},
		{name: "edge", mutate: func(h *models.HbiHost) { h.SystemProfile.HostType = "edge" }, want: SkipEdge},
		{name: "stale beyond culling", mutate: func(h *models.HbiHost) {
			h.StaleTimestamp = ptr(testNow.Add(-DefaultCullingOffset - time.Minute))
		}, want: SkipStale},
		{name: "stale exactly at culling", mutate: func(h *models.HbiHost) {
			h.StaleTimestamp = ptr(testNow.Add(-DefaultCullingOffset))
		}, want: SkipStale},
		{name: "stale within culling", mutate: func(h *models.HbiHost) {
			h.StaleTimestamp = ptr(testNow.Add(-time.Hour))
		}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := baseHost()
			tt.mutate(h)
			assert.Equal(t, tt.want, n.SkipReason(h))
		})
	}
}

func TestNormalize_HypervisorSources(t *testing.T) {
	n := newNormalizer()

	h := baseHost()
	h.SystemProfile.VirtualHostUUID = " h-profile "
	assert.Equal(t, "h-profile", n.Normalize(h).HypervisorUUID)

	h.Facts = []models.HbiHostFacts{{Namespace: "satellite", Facts: map[string]any{"virtual_host_uuid": "h-sat"}}}
	facts := n.Normalize(h)
	assert.Equal(t, "h-sat", facts.HypervisorUUID)
	assert.True(t, facts.IsVirtual)
	assert.Equal(t, models.HardwareTypeVirtual, facts.HardwareType)
}

func TestNormalize_InstanceAndHardware(t *testing.T) {
	n := newNormalizer()

	h := baseHost()
	facts := n.Normalize(h)
	assert.Equal(t, "inv-1", facts.InstanceID)
	assert.Equal(t, models.HardwareTypePhysical, facts.HardwareType)
	assert.Equal(t, 8, facts.Cores)
	assert.Equal(t, 2, facts.Sockets)

	h.ProviderID = ptr("i-abc")
	h.SystemProfile.CloudProvider = "AWS"
	facts = n.Normalize(h)
	assert.Equal(t, "i-abc", facts.InstanceID)
	assert.Equal(t, "AWS", facts.CloudProvider)
	assert.Equal(t, models.HardwareTypeCloud, facts.HardwareType)
}

func TestNormalize_SystemPurpose(t *testing.T) {
	n := newNormalizer()

	h := baseHost()
	h.Facts = []models.HbiHostFacts{
		{Namespace: "rhsm", Facts: map[string]any{
			"SYSPURPOSE_SLA":   "Premium",
			"SYSPURPOSE_USAGE": "Production",
			"RH_PROD":          []any{"69", float64(479)},
			"SYNC_TIMESTAMP":   testNow.Add(-time.Hour).Format(time.RFC3339),
		}},
	}
	facts := n.Normalize(h)
	assert.Equal(t, "Premium", facts.SLA)
	assert.Equal(t, "Production", facts.Usage)
	assert.Equal(t, []string{"69", "479"}, facts.ProductIDs)

	h.Facts = append(h.Facts, models.HbiHostFacts{Namespace: "satellite", Facts: map[string]any{"system_purpose_sla": "Standard"}})
	assert.Equal(t, "Standard", n.Normalize(h).SLA)
}

func TestNormalize_UnregisteredRhsmFactsIgnored(t *testing.T) {
	n := newNormalizer()

	h := baseHost()
	h.Facts = []models.HbiHostFacts{
		{Namespace: "rhsm", Facts: map[string]any{
			"SYSPURPOSE_SLA": "Premium",
			"IS_VIRTUAL":     true,
			"RH_PROD":        []any{"69"},
			"SYNC_TIMESTAMP": testNow.Add(-48 * time.Hour).Format(time.RFC3339),
		}},
	}
	facts := n.Normalize(h)
	assert.Empty(t, facts.SLA)
	assert.Empty(t, facts.ProductIDs)
	assert.True(t, facts.IsVirtual)
}

func TestBuildEvent(t *testing.T) {
	n := newNormalizer()
	facts := n.Normalize(baseHost())

	event := n.BuildEvent(models.EventTypeInstanceCreated, facts, HostState{IsUnmappedGuest: true, IsHypervisor: false}, testNow)

	assert.Equal(t, models.ServiceTypeRhelSystem, event.ServiceType)
	assert.Equal(t, models.EventSourceHbi, event.EventSource)
	assert.Equal(t, models.EventTypeInstanceCreated, event.EventType)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), event.Timestamp)
	assert.Equal(t, time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC), event.Expiration)
	assert.Equal(t, "org1", event.OrgID)
	assert.Equal(t, "g1", event.SubscriptionManagerID)
	assert.True(t, event.IsUnmappedGuest)
	assert.Equal(t, []models.Measurement{
		{MetricID: models.MetricCores, Value: 8},
		{MetricID: models.MetricSockets, Value: 2},
	}, event.Measurements)
}

func TestBuildEvent_NoMeasurementsWithoutTopology(t *testing.T) {
	n := newNormalizer()
	h := baseHost()
	h.SystemProfile = models.SystemProfile{}

	event := n.BuildEvent(models.EventTypeInstanceUpdated, n.Normalize(h), HostState{}, testNow)
	assert.Empty(t, event.Measurements)
}

func TestBuildDeleteEvent(t *testing.T) {
	n := newNormalizer()

	at := time.Date(2024, 2, 27, 7, 15, 0, 0, time.UTC)

	event := n.BuildDeleteEvent("org1", "inv-9", "", at)
	assert.Equal(t, models.EventTypeInstanceDeleted, event.EventType)
	assert.Equal(t, time.Date(2024, 2, 27, 7, 0, 0, 0, time.UTC), event.Timestamp)
	assert.Equal(t, "inv-9", event.InstanceID)
	assert.Equal(t, "inv-9", event.InventoryID)
	assert.False(t, event.IsHypervisor)
}

func TestEventTime(t *testing.T) {
	n := newNormalizer()
	inbound := time.Date(2024, 2, 27, 7, 15, 0, 0, time.UTC)

	assert.Equal(t, inbound, n.EventTime(&inbound))
	assert.Equal(t, testNow, n.EventTime(nil))
	assert.Equal(t, testNow, n.EventTime(&time.Time{}))
}
