// Package noise removes high-frequency low-value alerts before clustering.
// Filtering is a stateful streaming dedup per (rule, platform) pair: each
// rule allows at most MaxFrequency matching alerts inside a sliding window.
package noise

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"threatlens/internal/schema"
)

// Rule defines a single noise suppression rule. Rules are static
// configuration loaded once per run; a malformed rule is treated as
// disabled rather than aborting the load.
type Rule struct {
	Name         string        `yaml:"name" json:"name" validate:"required"`
	Description  string        `yaml:"description" json:"description"`
	Patterns     []string      `yaml:"patterns" json:"patterns" validate:"required,min=1"`
	Platforms    []string      `yaml:"platforms" json:"platforms" validate:"required,min=1"`
	TimeWindow   time.Duration `yaml:"time_window" json:"time_window" validate:"required,gt=0"`
	MaxFrequency int           `yaml:"max_frequency" json:"max_frequency" validate:"required,gt=0"`
	Enabled      bool          `yaml:"enabled" json:"enabled"`
}

// appliesTo reports whether the rule covers the alert's platform and one of
// its patterns matches the alert text. Pattern matching is case-insensitive
// substring matching over title + description.
func (r *Rule) appliesTo(alert *schema.SecurityAlert) bool {
	platformOK := false
	for _, p := range r.Platforms {
		if p == alert.Platform {
			platformOK = true
			break
		}
	}
	if !platformOK {
		return false
	}

	text := strings.ToLower(alert.Title + " " + alert.Description)
	for _, pattern := range r.Patterns {
		if strings.Contains(text, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// RuleStats tracks per-rule filtering counters.
type RuleStats struct {
	Matched  int `json:"matched"`
	Filtered int `json:"filtered"`
}

// Filter applies noise rules to an alert batch.
type Filter struct {
	rules []Rule
	stats map[string]*RuleStats
	mu    sync.Mutex
}

// NewFilter creates a Filter from the given rules. Disabled rules and
// rules with no usable window or frequency are skipped.
func NewFilter(rules []Rule) *Filter {
	usable := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if r.TimeWindow <= 0 || r.MaxFrequency <= 0 || len(r.Patterns) == 0 {
			slog.Warn("skipping malformed noise rule", "rule", r.Name)
			continue
		}
		usable = append(usable, r)
	}
	return &Filter{
		rules: usable,
		stats: make(map[string]*RuleStats),
	}
}

// groupKey identifies the sliding-window state for one rule on one platform.
type groupKey struct {
	rule     string
	platform string
}

// Apply partitions alerts into kept and filtered sets. Alerts matching no
// enabled rule are kept unconditionally. Matched alerts are processed in
// timestamp order per (rule, platform) pair: an alert is kept while the
// number of matched alerts inside the rule's sliding window, including
// itself, does not exceed the rule's MaxFrequency.
func (f *Filter) Apply(alerts []*schema.SecurityAlert) (kept, filtered []*schema.SecurityAlert) {
	type matched struct {
		alert *schema.SecurityAlert
		rule  *Rule
	}

	groups := make(map[groupKey][]matched)
	kept = make([]*schema.SecurityAlert, 0, len(alerts))

	for _, alert := range alerts {
		rule := f.firstMatch(alert)
		if rule == nil {
			kept = append(kept, alert)
			continue
		}
		key := groupKey{rule: rule.Name, platform: alert.Platform}
		groups[key] = append(groups[key], matched{alert: alert, rule: rule})
	}

	for key, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].alert.Timestamp.Before(group[j].alert.Timestamp)
		})

		rule := group[0].rule
		window := make([]time.Time, 0, rule.MaxFrequency)
		keptCount, filteredCount := 0, 0

		for _, m := range group {
			cutoff := m.alert.Timestamp.Add(-rule.TimeWindow)
			trimmed := window[:0]
			for _, ts := range window {
				if ts.After(cutoff) {
					trimmed = append(trimmed, ts)
				}
			}
			window = trimmed
			window = append(window, m.alert.Timestamp)

			if len(window) <= rule.MaxFrequency {
				kept = append(kept, m.alert)
				keptCount++
			} else {
				filtered = append(filtered, m.alert)
				filteredCount++
			}
		}

		f.record(key.rule, keptCount+filteredCount, filteredCount)
		if filteredCount > 0 {
			slog.Debug("noise rule suppressed alerts",
				"rule", key.rule,
				"platform", key.platform,
				"filtered", filteredCount)
		}
	}

	return kept, filtered
}

// firstMatch returns the first enabled rule that applies to the alert.
func (f *Filter) firstMatch(alert *schema.SecurityAlert) *Rule {
	for i := range f.rules {
		if f.rules[i].appliesTo(alert) {
			return &f.rules[i]
		}
	}
	return nil
}

func (f *Filter) record(rule string, matched, filtered int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.stats[rule]
	if s == nil {
		s = &RuleStats{}
		f.stats[rule] = s
	}
	s.Matched += matched
	s.Filtered += filtered
}

// Stats returns a copy of the per-rule filtering counters.
func (f *Filter) Stats() map[string]RuleStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]RuleStats, len(f.stats))
	for name, s := range f.stats {
		out[name] = *s
	}
	return out
}
