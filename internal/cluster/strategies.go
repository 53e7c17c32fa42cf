package cluster

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"threatlens/internal/ioc"
	"threatlens/internal/schema"
)

// businessUnitKeywords maps a business unit to keywords matched against
// alert text fields. First unit with any keyword hit wins.
var businessUnitKeywords = []struct {
	unit     string
	keywords []string
}{
	{"finance", []string{"finance", "payment", "billing", "invoice", "swift", "treasury"}},
	{"hr", []string{"hr", "payroll", "employee", "workday", "recruiting"}},
	{"engineering", []string{"jenkins", "gitlab", "github", "ci", "build", "deploy", "kubernetes"}},
	{"sales", []string{"crm", "salesforce", "quote", "opportunity"}},
	{"it_operations", []string{"vpn", "dns", "dhcp", "domain controller", "active directory", "exchange"}},
}

// businessUnitPrefixes maps coarse source-IP prefixes to business units.
var businessUnitPrefixes = map[string]string{
	"10.10.": "finance",
	"10.20.": "hr",
	"10.30.": "engineering",
	"10.40.": "sales",
	"10.50.": "it_operations",
}

// BusinessContextStrategy groups alerts touching the same business unit.
// Unit classification is keyword matching over title/description/host/user
// plus the source-IP prefix table; a group only becomes a cluster once it
// reaches the configured minimum size.
type BusinessContextStrategy struct {
	cfg Config
}

// NewBusinessContextStrategy creates the business-context strategy.
func NewBusinessContextStrategy(cfg Config) *BusinessContextStrategy {
	return &BusinessContextStrategy{cfg: cfg}
}

// Name returns the strategy tag.
func (s *BusinessContextStrategy) Name() schema.ClusterStrategy {
	return schema.StrategyBusinessContext
}

// Cluster groups alerts by classified business unit.
func (s *BusinessContextStrategy) Cluster(ctx context.Context, alerts []*schema.SecurityAlert, _ ioc.Ledger) ([]*schema.AlertCluster, error) {
	groups := make(map[string][]*schema.SecurityAlert)
	for _, alert := range alerts {
		if unit := classifyBusinessUnit(alert); unit != "" {
			groups[unit] = append(groups[unit], alert)
		}
	}

	units := make([]string, 0, len(groups))
	for unit := range groups {
		units = append(units, unit)
	}
	sort.Strings(units)

	var clusters []*schema.AlertCluster
	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		group := groups[unit]
		if len(group) < s.cfg.BusinessMinGroup {
			continue
		}
		bc := map[string]any{
			"business_units": []string{unit},
			"criticality":    unitCriticality(unit),
		}
		if frameworks := unitFrameworks(unit); len(frameworks) > 0 {
			bc["compliance_frameworks"] = frameworks
		}
		clusters = append(clusters, newCluster(s.cfg, schema.StrategyBusinessContext, group, 1.0, bc))
	}
	return clusters, nil
}

// classifyBusinessUnit resolves an alert to a business unit, or "" when no
// heuristic applies. Keywords match whole words only, so "hr" does not
// fire on "threshold"; multi-word keywords match as token phrases.
func classifyBusinessUnit(alert *schema.SecurityAlert) string {
	text := strings.ToLower(strings.Join([]string{alert.Title, alert.Description, alert.Host, alert.User}, " "))
	tokens := splitWords(text)
	for _, entry := range businessUnitKeywords {
		for _, kw := range entry.keywords {
			if containsPhrase(tokens, splitWords(kw)) {
				return entry.unit
			}
		}
	}
	if alert.SourceIP != "" {
		for prefix, unit := range businessUnitPrefixes {
			if strings.HasPrefix(alert.SourceIP, prefix) {
				return unit
			}
		}
	}
	return ""
}

// splitWords breaks lowercased text into alphanumeric tokens, so
// "jenkins-prod.corp" yields "jenkins", "prod", "corp".
func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// containsPhrase reports whether words appears as a consecutive token run.
func containsPhrase(tokens, words []string) bool {
	if len(words) == 0 {
		return false
	}
outer:
	for i := 0; i+len(words) <= len(tokens); i++ {
		for j, w := range words {
			if tokens[i+j] != w {
				continue outer
			}
		}
		return true
	}
	return false
}

// unitFrameworks lists the compliance frameworks governing a unit's data.
func unitFrameworks(unit string) []string {
	switch unit {
	case "finance":
		return []string{"PCI-DSS", "SOX"}
	case "hr":
		return []string{"GDPR"}
	case "sales":
		return []string{"GDPR"}
	case "it_operations":
		return []string{"SOC2"}
	default:
		return nil
	}
}

func unitCriticality(unit string) string {
	switch unit {
	case "finance", "it_operations":
		return "high"
	case "hr", "engineering":
		return "medium"
	default:
		return "standard"
	}
}

// TemporalStrategy buckets alerts into fixed wall-clock-aligned windows and
// emits a cluster per window that reaches the minimum alert count. Windows
// at or above the burst threshold are flagged alert_burst in the business
// context.
type TemporalStrategy struct {
	cfg Config
}

// NewTemporalStrategy creates the temporal strategy.
func NewTemporalStrategy(cfg Config) *TemporalStrategy {
	return &TemporalStrategy{cfg: cfg}
}

// Name returns the strategy tag.
func (s *TemporalStrategy) Name() schema.ClusterStrategy {
	return schema.StrategyTemporal
}

// Cluster buckets alerts by aligned time window.
func (s *TemporalStrategy) Cluster(ctx context.Context, alerts []*schema.SecurityAlert, _ ioc.Ledger) ([]*schema.AlertCluster, error) {
	buckets := make(map[int64][]*schema.SecurityAlert)
	for _, alert := range sortByTimestamp(alerts) {
		key := alert.Timestamp.Truncate(s.cfg.TemporalWindow).Unix()
		buckets[key] = append(buckets[key], alert)
	}

	keys := make([]int64, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var clusters []*schema.AlertCluster
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		group := buckets[key]
		if len(group) < s.cfg.TemporalMinAlerts {
			continue
		}
		bc := map[string]any{
			"window_start": group[0].Timestamp.Truncate(s.cfg.TemporalWindow),
			"alert_burst":  len(group) >= s.cfg.BurstThreshold,
		}
		clusters = append(clusters, newCluster(s.cfg, schema.StrategyTemporal, group, 1.0, bc))
	}
	return clusters, nil
}

// IOCStrategy groups alerts sharing an extracted indicator value. Every
// extraction is recorded in the shared ledger; a cluster is emitted for
// each indicator observed on at least the configured number of distinct
// alerts.
type IOCStrategy struct {
	cfg Config
}

// NewIOCStrategy creates the IOC-based strategy.
func NewIOCStrategy(cfg Config) *IOCStrategy {
	return &IOCStrategy{cfg: cfg}
}

// Name returns the strategy tag.
func (s *IOCStrategy) Name() schema.ClusterStrategy {
	return schema.StrategyIOC
}

// Cluster groups alerts by shared indicator.
func (s *IOCStrategy) Cluster(ctx context.Context, alerts []*schema.SecurityAlert, ledger ioc.Ledger) ([]*schema.AlertCluster, error) {
	byIndicator := make(map[string][]*schema.SecurityAlert)
	indicators := make(map[string]ioc.Indicator)

	for _, alert := range alerts {
		for _, ind := range ioc.Extract(alert) {
			if _, err := ledger.Upsert(ctx, ind, alert); err != nil {
				return nil, err
			}
			key := ind.Key()
			if !containsAlert(byIndicator[key], alert) {
				byIndicator[key] = append(byIndicator[key], alert)
			}
			indicators[key] = ind
		}
	}

	keys := make([]string, 0, len(byIndicator))
	for key := range byIndicator {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var clusters []*schema.AlertCluster
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		group := byIndicator[key]
		if len(group) < s.cfg.IOCMinAlerts {
			continue
		}
		ind := indicators[key]
		bc := map[string]any{
			"indicator_type":  string(ind.Type),
			"indicator_value": ind.Value,
		}
		clusters = append(clusters, newCluster(s.cfg, schema.StrategyIOC, group, 1.0, bc))
	}
	return clusters, nil
}

func containsAlert(list []*schema.SecurityAlert, alert *schema.SecurityAlert) bool {
	for _, a := range list {
		if a.ID == alert.ID {
			return true
		}
	}
	return false
}
