// Package correlate re-examines the full filtered alert set with five
// independent detectors (temporal, IOC, attack-pattern, geographic,
// anomaly) and merges overlapping results into threat correlations.
package correlate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"threatlens/internal/cluster"
	"threatlens/internal/ioc"
	"threatlens/internal/schema"
)

// maxThreatScore caps every correlation score.
const maxThreatScore = 100.0

// Detector is one correlation technique over the filtered alert set.
type Detector interface {
	Name() string
	Detect(ctx context.Context, alerts []*schema.SecurityAlert, ledger ioc.Ledger) ([]*schema.ThreatCorrelation, error)
}

// Geolocator resolves a source address to a coarse location. Supplied by
// the caller; failed lookups simply drop that alert's contribution from
// the geographic detector.
type Geolocator interface {
	Geolocate(ip string) (country, region string, ok bool)
}

// Config carries the detector thresholds. All values are calibration
// defaults, not tuned constants.
type Config struct {
	TemporalBucket    time.Duration `yaml:"temporal_bucket"`
	BurstMinAlerts    int           `yaml:"burst_min_alerts"`
	EscalationMinRise int           `yaml:"escalation_min_rise"`
	IOCMinAlerts      int           `yaml:"ioc_min_alerts"`
	GeoMinAlerts      int           `yaml:"geo_min_alerts"`
	GeoScoreThreshold float64       `yaml:"geo_score_threshold"`
	GeoTightSpan      time.Duration `yaml:"geo_tight_span"`
	HighRiskCountries []string      `yaml:"high_risk_countries"`
	AnomalyThreshold  float64       `yaml:"anomaly_threshold"`
}

// DefaultConfig returns the default correlation configuration.
func DefaultConfig() Config {
	return Config{
		TemporalBucket:    30 * time.Minute,
		BurstMinAlerts:    5,
		EscalationMinRise: 2,
		IOCMinAlerts:      2,
		GeoMinAlerts:      3,
		GeoScoreThreshold: 70,
		GeoTightSpan:      time.Hour,
		HighRiskCountries: []string{"KP", "IR", "RU", "CN"},
		AnomalyThreshold:  0.7,
	}
}

// Engine runs all detectors in parallel and merges their output.
type Engine struct {
	cfg       Config
	detectors []Detector
	logger    *slog.Logger
}

// NewEngine builds an engine with all five detectors. Patterns is the
// attack-pattern knowledge base; geo may be nil, which disables the
// geographic detector's contribution entirely.
func NewEngine(cfg Config, patterns []AttackPattern, geo Geolocator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg: cfg,
		detectors: []Detector{
			NewTemporalDetector(cfg),
			NewIOCDetector(cfg),
			NewPatternDetector(patterns),
			NewGeoDetector(cfg, geo),
			NewAnomalyDetector(cfg),
		},
		logger: logger,
	}
}

// Correlate runs every detector over the alert set concurrently, joins the
// results, and merges overlapping correlations. A failing detector is
// logged and skipped; it never fails the batch.
func (e *Engine) Correlate(ctx context.Context, alerts []*schema.SecurityAlert, ledger ioc.Ledger) ([]*schema.ThreatCorrelation, error) {
	if len(alerts) == 0 {
		return nil, nil
	}

	results := make([][]*schema.ThreatCorrelation, len(e.detectors))
	var wg sync.WaitGroup

	for i, d := range e.detectors {
		wg.Add(1)
		go func(i int, d Detector) {
			defer wg.Done()
			found, err := d.Detect(ctx, alerts, ledger)
			if err != nil {
				e.logger.Warn("correlation detector failed",
					"detector", d.Name(), "error", err)
				return
			}
			results[i] = found
		}(i, d)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var all []*schema.ThreatCorrelation
	for i, found := range results {
		e.logger.Debug("correlation detector finished",
			"detector", e.detectors[i].Name(), "correlations", len(found))
		all = append(all, found...)
	}

	merged := mergeCorrelations(all)
	for _, tc := range merged {
		if tc.Status == "" || tc.Status == schema.CorrelationPending {
			tc.Status = schema.CorrelationCorrelated
		}
	}
	return merged, nil
}

// newCorrelation assembles a correlation from its member alerts.
func newCorrelation(category schema.CorrelationCategory, alerts []*schema.SecurityAlert, score, confidence float64, actions []string) *schema.ThreatCorrelation {
	if score > maxThreatScore {
		score = maxThreatScore
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return &schema.ThreatCorrelation{
		ID:                 uuid.New(),
		Alerts:             alerts,
		ThreatScore:        score,
		Category:           category,
		Confidence:         confidence,
		RecommendedActions: actions,
		Status:             schema.CorrelationPending,
		CreatedAt:          time.Now().UTC(),
	}
}

// mergeCorrelations collapses correlations with overlapping alert sets
// using the same connected-components rule as cluster merging. Merged
// score is the constituent maximum plus 10 (capped 100); merged confidence
// is the constituent mean plus 0.1 (capped 1.0).
func mergeCorrelations(correlations []*schema.ThreatCorrelation) []*schema.ThreatCorrelation {
	if len(correlations) <= 1 {
		return correlations
	}

	idSets := make([][]string, len(correlations))
	for i, tc := range correlations {
		idSets[i] = tc.AlertIDs()
	}

	var out []*schema.ThreatCorrelation
	for _, component := range cluster.GroupOverlapping(idSets) {
		if len(component) == 1 {
			out = append(out, correlations[component[0]])
			continue
		}

		seen := make(map[string]bool)
		var alerts []*schema.SecurityAlert
		var maxScore, confSum float64
		var actions []string
		actionSeen := make(map[string]bool)
		patternID := ""

		for _, idx := range component {
			tc := correlations[idx]
			for _, a := range tc.Alerts {
				if !seen[a.ID] {
					seen[a.ID] = true
					alerts = append(alerts, a)
				}
			}
			if tc.ThreatScore > maxScore {
				maxScore = tc.ThreatScore
			}
			confSum += tc.Confidence
			for _, action := range tc.RecommendedActions {
				if !actionSeen[action] {
					actionSeen[action] = true
					actions = append(actions, action)
				}
			}
			if patternID == "" && tc.AttackPatternID != "" {
				patternID = tc.AttackPatternID
			}
		}

		merged := newCorrelation(
			schema.CategoryMultiTechnique,
			alerts,
			maxScore+10,
			confSum/float64(len(component))+0.1,
			actions,
		)
		merged.AttackPatternID = patternID
		merged.BusinessImpact = fmt.Sprintf("%d correlation techniques agree on %d alerts",
			len(component), len(alerts))
		out = append(out, merged)
	}
	return out
}
