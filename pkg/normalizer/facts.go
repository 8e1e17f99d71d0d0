package normalizer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Fact keys reported by HBI namespaces.
const (
	rhsmIsVirtual       = "IS_VIRTUAL"
	rhsmBillingModel    = "BILLING_MODEL"
	rhsmSyncTimestamp   = "SYNC_TIMESTAMP"
	rhsmSLA             = "SYSPURPOSE_SLA"
	rhsmUsage           = "SYSPURPOSE_USAGE"
	rhsmProductIDs      = "RH_PROD"
	satelliteHypervisor = "virtual_host_uuid"
	satelliteSLA        = "system_purpose_sla"
	satelliteUsage      = "system_purpose_usage"
)

var cloudProviders = map[string]string{
	"aws":     "AWS",
	"azure":   "AZURE",
	"gcp":     "GOOGLE",
	"google":  "GOOGLE",
	"alibaba": "ALIBABA",
}

// NormalizedFacts is the host view events are built from.
type NormalizedFacts struct {
	OrgID                 string
	InventoryID           string
	InstanceID            string
	InsightsID            string
	SubscriptionManagerID string
	DisplayName           string
	SLA                   string
	Usage                 string
	HypervisorUUID        string
	CloudProvider         string
	HardwareType          string
	IsVirtual             bool
	ProductIDs            []string
	Cores                 int
	Sockets               int
	LastSeen              *time.Time
}

type factMap map[string]any

func (f factMap) str(key string) string {
	if f == nil {
		return ""
	}
	switch v := f[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (f factMap) boolean(key string) bool {
	if f == nil {
		return false
	}
	switch v := f[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	default:
		return false
	}
}

func (f factMap) strings(key string) []string {
	if f == nil {
		return nil
	}
	raw, ok := f[key].([]any)
	if !ok {
		if s := f.str(key); s != "" {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		switch t := v.(type) {
		case string:
			if t != "" {
				out = append(out, t)
			}
		case float64:
			out = append(out, strconv.FormatInt(int64(t), 10))
		default:
			out = append(out, fmt.Sprint(t))
		}
	}
	return out
}

func namespaceFacts(host *models.HbiHost, namespace string) factMap {
	facts, ok := host.FactsFor(namespace)
	if !ok {
		return nil
	}
	return factMap(facts)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}

func cloudProvider(profile models.SystemProfile) string {
	return cloudProviders[strings.ToLower(strings.TrimSpace(profile.CloudProvider))]
}
