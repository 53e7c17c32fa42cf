// Package cluster groups filtered alerts into candidate clusters using four
// independent strategies, then merges clusters with overlapping membership.
package cluster

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"threatlens/internal/ioc"
	"threatlens/internal/schema"
)

// Strategy produces candidate clusters from the filtered alert set. A
// strategy reads and writes the shared IOC ledger but never mutates alerts.
type Strategy interface {
	Name() schema.ClusterStrategy
	Cluster(ctx context.Context, alerts []*schema.SecurityAlert, ledger ioc.Ledger) ([]*schema.AlertCluster, error)
}

// Config carries the clustering thresholds. All values are calibration
// defaults, not tuned constants; adjust per deployment alert volume.
type Config struct {
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	BusinessMinGroup    int           `yaml:"business_min_group"`
	TemporalWindow      time.Duration `yaml:"temporal_window"`
	TemporalMinAlerts   int           `yaml:"temporal_min_alerts"`
	BurstThreshold      int           `yaml:"burst_threshold"`
	IOCMinAlerts        int           `yaml:"ioc_min_alerts"`
	MaxActions          int           `yaml:"max_actions"`
}

// DefaultConfig returns the default clustering configuration.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.8,
		BusinessMinGroup:    3,
		TemporalWindow:      60 * time.Minute,
		TemporalMinAlerts:   5,
		BurstThreshold:      10,
		IOCMinAlerts:        2,
		MaxActions:          6,
	}
}

// Strategies returns all four clustering strategies for the config.
func Strategies(cfg Config) []Strategy {
	return []Strategy{
		NewSimilarityStrategy(cfg),
		NewBusinessContextStrategy(cfg),
		NewTemporalStrategy(cfg),
		NewIOCStrategy(cfg),
	}
}

// newCluster assembles a cluster from its member alerts. The highest
// severity member becomes the primary alert and is excluded from
// RelatedAlerts; priority, summary and recommended actions come from the
// shared helpers below.
func newCluster(cfg Config, strategy schema.ClusterStrategy, alerts []*schema.SecurityAlert, similarity float64, businessContext map[string]any) *schema.AlertCluster {
	primary := alerts[0]
	for _, a := range alerts[1:] {
		if a.Severity > primary.Severity {
			primary = a
		}
	}

	related := make([]*schema.SecurityAlert, 0, len(alerts)-1)
	for _, a := range alerts {
		if a != primary {
			related = append(related, a)
		}
	}

	if businessContext == nil {
		businessContext = make(map[string]any)
	}

	c := &schema.AlertCluster{
		ID:              uuid.New(),
		PrimaryAlert:    primary,
		RelatedAlerts:   related,
		Strategy:        strategy,
		SimilarityScore: similarity,
		Priority:        clusterPriority(primary.Severity, len(alerts)),
		BusinessContext: businessContext,
		CreatedAt:       time.Now().UTC(),
	}
	c.Summary = summarize(c)
	c.RecommendedActions = recommendActions(cfg, c)
	return c
}

// clusterPriority maps (max severity, alert count) to a priority band.
// The function is a monotone step function; ties break toward the higher
// priority.
func clusterPriority(maxSeverity schema.Severity, count int) schema.Priority {
	switch {
	case maxSeverity >= schema.SeverityCritical && count >= 5:
		return schema.PriorityEmergency
	case maxSeverity >= schema.SeverityCritical:
		return schema.PriorityCritical
	case maxSeverity >= schema.SeverityHigh && count >= 3:
		return schema.PriorityCritical
	case maxSeverity >= schema.SeverityHigh:
		return schema.PriorityHigh
	case maxSeverity >= schema.SeverityMedium && count >= 5:
		return schema.PriorityHigh
	case maxSeverity >= schema.SeverityMedium:
		return schema.PriorityMedium
	case count >= 10:
		return schema.PriorityMedium
	case maxSeverity >= schema.SeverityLow:
		return schema.PriorityLow
	default:
		return schema.PriorityNoise
	}
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "on": true, "in": true, "of": true,
	"for": true, "to": true, "from": true, "and": true, "or": true,
	"was": true, "is": true, "at": true, "by": true, "with": true,
	"detected": true, "alert": true, "event": true,
}

// summarize builds a one-line human-readable summary: alert count, platform
// set, max severity, and up to 3 frequent non-stopword title terms.
func summarize(c *schema.AlertCluster) string {
	alerts := c.Alerts()

	platforms := make(map[string]bool)
	termCounts := make(map[string]int)
	for _, a := range alerts {
		platforms[a.Platform] = true
		for _, term := range strings.Fields(strings.ToLower(a.Title)) {
			term = strings.Trim(term, ".,:;!?()[]\"'")
			if len(term) < 3 || stopwords[term] {
				continue
			}
			termCounts[term]++
		}
	}

	platformList := make([]string, 0, len(platforms))
	for p := range platforms {
		platformList = append(platformList, p)
	}
	sort.Strings(platformList)

	summary := fmt.Sprintf("%d alerts across %s (max severity %s)",
		len(alerts), strings.Join(platformList, ", "), c.MaxSeverity())

	if terms := topTerms(termCounts, 3, len(alerts)); len(terms) > 0 {
		summary += fmt.Sprintf("; common terms: %s", strings.Join(terms, ", "))
	}
	return summary
}

// topTerms returns up to n terms shared by more than one alert, most
// frequent first. Single-alert clusters fall back to their top terms.
func topTerms(counts map[string]int, n, alertCount int) []string {
	type tc struct {
		term  string
		count int
	}
	ranked := make([]tc, 0, len(counts))
	for term, count := range counts {
		if alertCount > 1 && count < 2 {
			continue
		}
		ranked = append(ranked, tc{term, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].term < ranked[j].term
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	terms := make([]string, len(ranked))
	for i, t := range ranked {
		terms[i] = t.term
	}
	return terms
}

// recommendActions builds the ordered action list for a cluster, capped at
// cfg.MaxActions entries.
func recommendActions(cfg Config, c *schema.AlertCluster) []string {
	alerts := c.Alerts()

	platforms := make(map[string]bool)
	hasIndicators := false
	for _, a := range alerts {
		platforms[a.Platform] = true
		if len(ioc.Extract(a)) > 0 {
			hasIndicators = true
		}
	}

	actions := []string{
		fmt.Sprintf("Investigate primary alert %s (%s)", c.PrimaryAlert.ID, c.PrimaryAlert.Title),
	}
	if len(platforms) > 1 {
		actions = append(actions, fmt.Sprintf("Coordinate triage across %d platforms", len(platforms)))
	}
	if c.MaxSeverity() >= schema.SeverityHigh {
		actions = append(actions, "Escalate to on-call security analyst")
	}
	if hasIndicators {
		actions = append(actions, "Review extracted indicators against threat intelligence")
	}
	if units, ok := c.BusinessContext["business_units"].([]string); ok && len(units) > 0 {
		actions = append(actions, fmt.Sprintf("Notify business units: %s", strings.Join(units, ", ")))
	}

	max := cfg.MaxActions
	if max <= 0 {
		max = DefaultConfig().MaxActions
	}
	if len(actions) > max {
		actions = actions[:max]
	}
	return actions
}

// sortByTimestamp returns a copy of alerts ordered by timestamp.
func sortByTimestamp(alerts []*schema.SecurityAlert) []*schema.SecurityAlert {
	out := append([]*schema.SecurityAlert(nil), alerts...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
