package correlate

import (
	"context"
	"fmt"
	"sort"

	"threatlens/internal/ioc"
	"threatlens/internal/schema"
)

// TemporalDetector finds alert bursts and severity escalations inside
// fixed-size time buckets.
type TemporalDetector struct {
	cfg Config
}

// NewTemporalDetector creates the temporal burst/escalation detector.
func NewTemporalDetector(cfg Config) *TemporalDetector {
	return &TemporalDetector{cfg: cfg}
}

// Name identifies the detector in logs.
func (d *TemporalDetector) Name() string { return "temporal" }

// Detect buckets alerts into cfg.TemporalBucket windows. A bucket with at
// least cfg.BurstMinAlerts yields a burst correlation scored
// 60 + 10*platforms + 2*alerts; a bucket whose severities never decrease
// over time and rise by at least cfg.EscalationMinRise levels yields an
// escalation correlation scored 70 + 10*rise. Both scores cap at 100.
func (d *TemporalDetector) Detect(ctx context.Context, alerts []*schema.SecurityAlert, _ ioc.Ledger) ([]*schema.ThreatCorrelation, error) {
	buckets := make(map[int64][]*schema.SecurityAlert)
	for _, alert := range alerts {
		key := alert.Timestamp.Truncate(d.cfg.TemporalBucket).Unix()
		buckets[key] = append(buckets[key], alert)
	}

	keys := make([]int64, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var out []*schema.ThreatCorrelation
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		group := buckets[key]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})

		if len(group) >= d.cfg.BurstMinAlerts {
			out = append(out, d.burstCorrelation(group))
		}
		if tc := d.escalationCorrelation(group); tc != nil {
			out = append(out, tc)
		}
	}
	return out, nil
}

func (d *TemporalDetector) burstCorrelation(group []*schema.SecurityAlert) *schema.ThreatCorrelation {
	platforms := make(map[string]bool)
	for _, a := range group {
		platforms[a.Platform] = true
	}

	score := 60 + 10*float64(len(platforms)) + 2*float64(len(group))
	actions := []string{
		fmt.Sprintf("Triage burst of %d alerts within %s", len(group), d.cfg.TemporalBucket),
		"Check for scheduled jobs or scanning activity masking an attack",
	}

	tc := newCorrelation(schema.CategoryTemporalBurst, group, score, 0.7, actions)
	tc.BusinessImpact = fmt.Sprintf("Alert burst across %d platforms", len(platforms))
	return tc
}

// escalationCorrelation reports a bucket whose severities are monotonically
// non-decreasing across time with a total rise of at least
// cfg.EscalationMinRise levels.
func (d *TemporalDetector) escalationCorrelation(group []*schema.SecurityAlert) *schema.ThreatCorrelation {
	if len(group) < 2 {
		return nil
	}

	for i := 1; i < len(group); i++ {
		if group[i].Severity < group[i-1].Severity {
			return nil
		}
	}

	rise := int(group[len(group)-1].Severity) - int(group[0].Severity)
	if rise < d.cfg.EscalationMinRise {
		return nil
	}

	score := 70 + 10*float64(rise)
	actions := []string{
		fmt.Sprintf("Investigate severity escalation from %s to %s",
			group[0].Severity, group[len(group)-1].Severity),
		"Treat as active attack progression until proven otherwise",
	}

	tc := newCorrelation(schema.CategoryTemporalEscalation, group, score, 0.8, actions)
	tc.BusinessImpact = fmt.Sprintf("Severity rose %d levels within %s", rise, d.cfg.TemporalBucket)
	return tc
}
