// Package pipeline wires the noise filter, clustering strategies,
// correlation detectors, and threat scorer into one batch run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"threatlens/internal/cluster"
	"threatlens/internal/correlate"
	"threatlens/internal/ioc"
	"threatlens/internal/noise"
	"threatlens/internal/schema"
	"threatlens/internal/scoring"
)

// Config aggregates the engine configuration for one pipeline.
type Config struct {
	Cluster   cluster.Config   `yaml:"cluster"`
	Correlate correlate.Config `yaml:"correlate"`
	Scoring   scoring.Config   `yaml:"scoring"`
	// AutoEscalateMinAlerts is the cluster size at which a critical
	// assessment triggers auto-escalation.
	AutoEscalateMinAlerts int `yaml:"auto_escalate_min_alerts"`
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Cluster:               cluster.DefaultConfig(),
		Correlate:             correlate.DefaultConfig(),
		Scoring:               scoring.DefaultConfig(),
		AutoEscalateMinAlerts: 5,
	}
}

// RankedThreat is one unified output row: a scored cluster or correlation
// ready for the external notification router.
type RankedThreat struct {
	ID                 string                 `json:"id"`
	Kind               scoring.ItemKind       `json:"kind"`
	AlertIDs           []string               `json:"alert_ids"`
	Priority           schema.Priority        `json:"priority"`
	Category           scoring.ThreatCategory `json:"category"`
	Score              float64                `json:"score"`
	Confidence         float64                `json:"confidence"`
	Summary            string                 `json:"summary"`
	Signature          string                 `json:"signature"`
	Platforms          []string               `json:"platforms"`
	RecommendedActions []string               `json:"recommended_actions"`
	AutoEscalated      bool                   `json:"auto_escalated"`
	Assessment         scoring.Assessment     `json:"assessment"`
}

// RunStats summarizes one pipeline run.
type RunStats struct {
	InputAlerts    int           `json:"input_alerts"`
	FilteredAlerts int           `json:"filtered_alerts"`
	Clusters       int           `json:"clusters"`
	Correlations   int           `json:"correlations"`
	Threats        int           `json:"threats"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Result is the output of one batch run.
type Result struct {
	Threats []RankedThreat `json:"threats"`
	Stats   RunStats       `json:"stats"`
}

// Pipeline runs the full correlation engine over alert batches. The IOC
// ledger is the only shared mutable state; everything else is per-run.
type Pipeline struct {
	cfg        Config
	filter     *noise.Filter
	strategies []cluster.Strategy
	correlator *correlate.Engine
	scorer     *scoring.Scorer
	ledger     ioc.Ledger
	logger     *slog.Logger
}

// New assembles a pipeline. ledger must not be nil; geo and history may be
// nil (their features then contribute nothing).
func New(cfg Config, rules []noise.Rule, patterns []correlate.AttackPattern, ledger ioc.Ledger, geo correlate.Geolocator, history scoring.HistoryStore, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:        cfg,
		filter:     noise.NewFilter(rules),
		strategies: cluster.Strategies(cfg.Cluster),
		correlator: correlate.NewEngine(cfg.Correlate, patterns, geo, logger),
		scorer:     scoring.NewScorer(cfg.Scoring, history, geo, logger),
		ledger:     ledger,
		logger:     logger,
	}
}

// Run processes one alert batch: noise filtering first (it changes the
// working set), then clustering strategies and correlation detectors in
// parallel over the filtered alerts, then merge, scoring, and ranking.
// A single malformed alert never fails the batch.
func (p *Pipeline) Run(ctx context.Context, alerts []*schema.SecurityAlert) (*Result, error) {
	start := time.Now()

	kept, filtered := p.filter.Apply(alerts)
	p.logger.Info("noise filter applied",
		"input", len(alerts), "kept", len(kept), "filtered", len(filtered))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clusters, correlations, err := p.analyze(ctx, kept)
	if err != nil {
		return nil, err
	}

	merged := cluster.Merge(clusters)

	snapshot, err := p.ledger.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger snapshot: %w", err)
	}

	threats := make([]RankedThreat, 0, len(merged)+len(correlations))
	for _, c := range merged {
		threats = append(threats, p.scoreItem(ctx, scoring.FromCluster(c), snapshot))
	}
	for _, tc := range correlations {
		threats = append(threats, p.scoreItem(ctx, scoring.FromCorrelation(tc), snapshot))
	}

	sort.SliceStable(threats, func(i, j int) bool {
		return threats[i].Score > threats[j].Score
	})

	stats := RunStats{
		InputAlerts:    len(alerts),
		FilteredAlerts: len(filtered),
		Clusters:       len(merged),
		Correlations:   len(correlations),
		Threats:        len(threats),
		Elapsed:        time.Since(start),
	}
	p.logger.Info("pipeline run complete",
		"clusters", stats.Clusters,
		"correlations", stats.Correlations,
		"threats", stats.Threats,
		"elapsed", stats.Elapsed)

	return &Result{Threats: threats, Stats: stats}, nil
}

// analyze runs the clustering strategies and the correlation engine
// concurrently over the filtered alert set. A failing strategy is logged
// and contributes nothing; only context cancellation aborts the run.
func (p *Pipeline) analyze(ctx context.Context, kept []*schema.SecurityAlert) ([]*schema.AlertCluster, []*schema.ThreatCorrelation, error) {
	clusterResults := make([][]*schema.AlertCluster, len(p.strategies))
	var correlations []*schema.ThreatCorrelation
	var correlateErr error

	var wg sync.WaitGroup
	for i, strategy := range p.strategies {
		wg.Add(1)
		go func(i int, strategy cluster.Strategy) {
			defer wg.Done()
			found, err := strategy.Cluster(ctx, kept, p.ledger)
			if err != nil {
				p.logger.Warn("clustering strategy failed",
					"strategy", strategy.Name(), "error", err)
				return
			}
			clusterResults[i] = found
		}(i, strategy)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		correlations, correlateErr = p.correlator.Correlate(ctx, kept, p.ledger)
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if correlateErr != nil {
		return nil, nil, correlateErr
	}

	var clusters []*schema.AlertCluster
	for i, found := range clusterResults {
		p.logger.Debug("clustering strategy finished",
			"strategy", p.strategies[i].Name(), "clusters", len(found))
		clusters = append(clusters, found...)
	}
	return clusters, correlations, nil
}

// scoreItem assesses one item and applies the auto-escalation rules: the
// assessed priority can only raise the item's priority, and critical
// assessments on sufficiently large groups get an escalation action
// prepended.
func (p *Pipeline) scoreItem(ctx context.Context, item *scoring.Item, snapshot map[string]ioc.Record) RankedThreat {
	assessment := p.scorer.Score(ctx, item, snapshot)

	priority := item.Priority
	if assessment.Priority > priority {
		priority = assessment.Priority
	}

	actions := item.Actions
	autoEscalated := item.AutoEscalated
	if assessment.Priority >= schema.PriorityCritical && len(item.Alerts) >= p.cfg.AutoEscalateMinAlerts {
		autoEscalated = true
		actions = append([]string{
			fmt.Sprintf("Auto-escalated: %s threat at %s priority", assessment.Category, assessment.Priority),
		}, actions...)
	}

	alertIDs := make([]string, 0, len(item.Alerts))
	platformSet := make(map[string]struct{})
	for _, a := range item.Alerts {
		alertIDs = append(alertIDs, a.ID)
		platformSet[a.Platform] = struct{}{}
	}
	platforms := make([]string, 0, len(platformSet))
	for platform := range platformSet {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)

	return RankedThreat{
		ID:                 item.ID.String(),
		Kind:               item.Kind,
		AlertIDs:           alertIDs,
		Priority:           priority,
		Category:           assessment.Category,
		Score:              assessment.Score,
		Confidence:         assessment.Confidence,
		Summary:            item.Summary,
		Signature:          scoring.Signature(item),
		Platforms:          platforms,
		RecommendedActions: actions,
		AutoEscalated:      autoEscalated,
		Assessment:         assessment,
	}
}

// NoiseStats exposes the noise filter's per-rule counters.
func (p *Pipeline) NoiseStats() map[string]noise.RuleStats {
	return p.filter.Stats()
}
