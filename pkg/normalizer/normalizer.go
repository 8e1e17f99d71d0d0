// Package normalizer turns HBI hosts into normalized instance events.
package normalizer

import (
	"strings"
	"time"

	"github.com/Ramsey-B/fern/pkg/clock"
	"github.com/Ramsey-B/fern/pkg/models"
)

const (
	DefaultCullingOffset     = 14 * 24 * time.Hour
	DefaultLastSyncThreshold = 24 * time.Hour
	eventWindow              = time.Hour
)

// Reasons a host event is acknowledged without being processed.
const (
	SkipMarketplace = "marketplace"
	SkipEdge        = "edge"
	SkipStale       = "stale"
)

type Config struct {
	// CullingOffset is how long past its stale timestamp a host is still processed.
	CullingOffset time.Duration
	// LastSyncThreshold is the age after which RHSM facts are treated as unregistered.
	LastSyncThreshold time.Duration
}

// HostState carries the relationship facts that come from the store rather
// than from the host payload.
type HostState struct {
	IsUnmappedGuest bool
	IsHypervisor    bool
}

type Normalizer struct {
	cfg   Config
	clock clock.Clock
}

func New(cfg Config, clk clock.Clock) *Normalizer {
	if cfg.CullingOffset <= 0 {
		cfg.CullingOffset = DefaultCullingOffset
	}
	if cfg.LastSyncThreshold <= 0 {
		cfg.LastSyncThreshold = DefaultLastSyncThreshold
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Normalizer{cfg: cfg, clock: clk}
}

// SkipReason returns why host should not be processed, or "".
func (n *Normalizer) SkipReason(host *models.HbiHost) string {
	rhsm := namespaceFacts(host, models.FactNamespaceRhsm)
	if strings.EqualFold(rhsm.str(rhsmBillingModel), "marketplace") {
		return SkipMarketplace
	}
	if strings.EqualFold(host.SystemProfile.HostType, "edge") {
		return SkipEdge
	}
	if host.StaleTimestamp != nil && !n.clock.Now().Before(host.StaleTimestamp.Add(n.cfg.CullingOffset)) {
		return SkipStale
	}
	return ""
}

// Normalize extracts the facts used to build outbound events.
func (n *Normalizer) Normalize(host *models.HbiHost) NormalizedFacts {
	rhsm := namespaceFacts(host, models.FactNamespaceRhsm)
	satellite := namespaceFacts(host, models.FactNamespaceSatellite)
	profile := host.SystemProfile

	if n.rhsmUnregistered(rhsm) {
		rhsm = factMap{rhsmIsVirtual: rhsm[rhsmIsVirtual]}
	}

	facts := NormalizedFacts{
		OrgID:                 host.OrgID,
		InventoryID:           host.ID,
		InstanceID:            derefString(host.ProviderID),
		InsightsID:            derefString(host.InsightsID),
		SubscriptionManagerID: host.SubscriptionManagerIDValue(),
		DisplayName:           derefString(host.DisplayName),
		CloudProvider:         cloudProvider(profile),
		ProductIDs:            rhsm.strings(rhsmProductIDs),
		LastSeen:              host.Updated,
	}
	if facts.InstanceID == "" {
		facts.InstanceID = host.ID
	}

	facts.HypervisorUUID = satellite.str(satelliteHypervisor)
	if facts.HypervisorUUID == "" {
		facts.HypervisorUUID = strings.TrimSpace(profile.VirtualHostUUID)
	}

	facts.SLA = firstNonEmpty(satellite.str(satelliteSLA), rhsm.str(rhsmSLA))
	facts.Usage = firstNonEmpty(satellite.str(satelliteUsage), rhsm.str(rhsmUsage))

	facts.IsVirtual = rhsm.boolean(rhsmIsVirtual) ||
		satellite.str(satelliteHypervisor) != "" ||
		strings.EqualFold(profile.InfrastructureType, "virtual")

	switch {
	case facts.CloudProvider != "":
		facts.HardwareType = models.HardwareTypeCloud
	case facts.IsVirtual:
		facts.HardwareType = models.HardwareTypeVirtual
	default:
		facts.HardwareType = models.HardwareTypePhysical
	}

	if profile.NumberOfSockets > 0 {
		facts.Sockets = profile.NumberOfSockets
		if profile.CoresPerSocket > 0 {
			facts.Cores = profile.NumberOfSockets * profile.CoresPerSocket
		}
	}

	return facts
}

func (n *Normalizer) rhsmUnregistered(rhsm factMap) bool {
	raw := rhsm.str(rhsmSyncTimestamp)
	if raw == "" {
		return false
	}
	synced, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false
	}
	return n.clock.Now().Sub(synced) > n.cfg.LastSyncThreshold
}

// EventTime is the time outbound events for an inbound event are stamped
// with: the inbound timestamp when present, otherwise now.
func (n *Normalizer) EventTime(timestamp *time.Time) time.Time {
	if timestamp != nil && !timestamp.IsZero() {
		return *timestamp
	}
	return n.clock.Now()
}

// BuildEvent produces the outbound event for a normalized host, stamped with
// the hour containing at.
func (n *Normalizer) BuildEvent(eventType string, facts NormalizedFacts, state HostState, at time.Time) models.SwatchEvent {
	timestamp := clock.StartOfHour(at)

	event := models.SwatchEvent{
		ServiceType:           models.ServiceTypeRhelSystem,
		EventSource:           models.EventSourceHbi,
		EventType:             eventType,
		Timestamp:             timestamp,
		Expiration:            timestamp.Add(eventWindow),
		OrgID:                 facts.OrgID,
		InstanceID:            facts.InstanceID,
		InventoryID:           facts.InventoryID,
		InsightsID:            facts.InsightsID,
		SubscriptionManagerID: facts.SubscriptionManagerID,
		DisplayName:           facts.DisplayName,
		SLA:                   facts.SLA,
		Usage:                 facts.Usage,
		HypervisorUUID:        facts.HypervisorUUID,
		CloudProvider:         facts.CloudProvider,
		HardwareType:          facts.HardwareType,
		ProductIDs:            facts.ProductIDs,
		IsVirtual:             facts.IsVirtual,
		IsUnmappedGuest:       state.IsUnmappedGuest,
		IsHypervisor:          state.IsHypervisor,
		LastSeen:              facts.LastSeen,
	}
	if event.InstanceID == "" {
		event.InstanceID = firstNonEmpty(facts.InventoryID, facts.SubscriptionManagerID)
	}

	if facts.Cores > 0 {
		event.Measurements = append(event.Measurements, models.Measurement{MetricID: models.MetricCores, Value: float64(facts.Cores)})
	}
	if facts.Sockets > 0 {
		event.Measurements = append(event.Measurements, models.Measurement{MetricID: models.MetricSockets, Value: float64(facts.Sockets)})
	}

	return event
}

// BuildDeleteEvent is used when a delete arrives for a host with no stored
// relationship, so only the delete payload is available.
func (n *Normalizer) BuildDeleteEvent(orgID, inventoryID, subscriptionManagerID string, at time.Time) models.SwatchEvent {
	return n.BuildEvent(models.EventTypeInstanceDeleted, NormalizedFacts{
		OrgID:                 orgID,
		InventoryID:           inventoryID,
		InstanceID:            inventoryID,
		SubscriptionManagerID: subscriptionManagerID,
	}, HostState{}, at)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
