package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"threatlens/internal/ioc"
	"threatlens/internal/schema"
)

// ThreatCategory is the closed set of threat classifications, ordered by
// classification precedence (first match wins).
type ThreatCategory string

const (
	CategoryRansomware       ThreatCategory = "ransomware"
	CategoryAPT              ThreatCategory = "apt"
	CategoryPhishing         ThreatCategory = "phishing"
	CategoryDataBreach       ThreatCategory = "data_breach"
	CategoryInsiderThreat    ThreatCategory = "insider_threat"
	CategoryNetworkIntrusion ThreatCategory = "network_intrusion"
	CategoryMalware          ThreatCategory = "malware"
	CategoryUnknown          ThreatCategory = "unknown"
)

// Assessment is the scorer's output for one item.
type Assessment struct {
	ItemID            string             `json:"item_id"`
	Score             float64            `json:"score"` // 0-1
	Category          ThreatCategory     `json:"category"`
	Confidence        float64            `json:"confidence"` // 0-1
	FeatureImportance map[string]float64 `json:"feature_importance"`
	RiskFactors       []string           `json:"risk_factors"`
	Priority          schema.Priority    `json:"priority"`
	Explanation       string             `json:"explanation"`
	PredictedImpact   string             `json:"predicted_impact"`
	EscalationETA     time.Duration      `json:"escalation_eta"`
	Degraded          bool               `json:"degraded,omitempty"`
}

// HistoryStore supplies the historical-similarity domain score from past
// runs. Implementations live in internal/history.
type HistoryStore interface {
	// SimilarityScore reports in [0,1] how closely the signature matches
	// previously assessed threats.
	SimilarityScore(ctx context.Context, signature string, platforms []string) (float64, error)
}

// featureWeights combines the 14 feature dimensions into one score. The
// weights sum to 1.
var featureWeights = map[string]float64{
	FeatureAlertCount:        0.08,
	FeatureMaxSeverity:       0.15,
	FeatureMeanConfidence:    0.07,
	FeaturePlatformDiversity: 0.05,
	FeatureTemporalSpread:    0.05,
	FeatureBusinessImpact:    0.10,
	FeatureIOCReputation:     0.10,
	FeatureGeographicRisk:    0.05,
	FeatureBehavioralAnomaly: 0.10,
	FeatureComplianceRisk:    0.05,
	FeatureHistorical:        0.05,
	FeatureThreatIntel:       0.05,
	FeatureNetworkContext:    0.05,
	FeatureUserContext:       0.05,
}

// threatIntelBonus scales the threat-intel feature into a score bonus.
const threatIntelBonus = 0.2

// Config carries scorer thresholds.
type Config struct {
	HighRiskCountries []string `yaml:"high_risk_countries"`
	// RiskFactorThreshold is the sub-score above which a dimension becomes
	// a named risk factor.
	RiskFactorThreshold float64 `yaml:"risk_factor_threshold"`
	MaxRiskFactors      int     `yaml:"max_risk_factors"`
}

// DefaultConfig returns the default scorer configuration.
func DefaultConfig() Config {
	return Config{
		HighRiskCountries:   []string{"KP", "IR", "RU", "CN"},
		RiskFactorThreshold: 0.6,
		MaxRiskFactors:      6,
	}
}

// Scorer produces threat assessments with explainable feature attribution.
type Scorer struct {
	cfg               Config
	history           HistoryStore
	geo               Geolocator
	highRiskCountries []string
	logger            *slog.Logger
}

// NewScorer creates a scorer. history and geo may both be nil; the
// corresponding features then contribute zero.
func NewScorer(cfg Config, history HistoryStore, geo Geolocator, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{
		cfg:               cfg,
		history:           history,
		geo:               geo,
		highRiskCountries: cfg.HighRiskCountries,
		logger:            logger,
	}
}

// Score assesses one item against the IOC snapshot. Scoring never fails a
// batch: on any sub-score failure the item receives the neutral fallback
// assessment with the failure surfaced as a risk factor.
func (s *Scorer) Score(ctx context.Context, item *Item, snapshot map[string]ioc.Record) (assessment Assessment) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("scoring panicked, using fallback assessment",
				"item", item.ID, "panic", r)
			assessment = s.fallback(item, fmt.Sprintf("scoring failure: %v", r))
		}
	}()

	features, err := s.extractFeatures(ctx, item, snapshot)
	if err != nil {
		s.logger.Warn("feature extraction failed, using fallback assessment",
			"item", item.ID, "error", err)
		return s.fallback(item, fmt.Sprintf("feature extraction failed: %v", err))
	}

	var score float64
	for name, weight := range featureWeights {
		score += weight * features[name]
	}
	score += features[FeatureThreatIntel] * threatIntelBonus
	score = clamp01(score)

	confidence := clamp01(0.4 + 0.6*features[FeatureMeanConfidence])
	category := classify(item, snapshot)
	priority := priorityBand(score * confidence)

	return Assessment{
		ItemID:            item.ID.String(),
		Score:             score,
		Category:          category,
		Confidence:        confidence,
		FeatureImportance: importance(features),
		RiskFactors:       s.riskFactors(features, item),
		Priority:          priority,
		Explanation:       s.explain(item, features, score, category),
		PredictedImpact:   predictImpact(category, score, item),
		EscalationETA:     escalationETA(category, score),
	}
}

// fallback is the neutral assessment used when scoring degrades.
func (s *Scorer) fallback(item *Item, reason string) Assessment {
	return Assessment{
		ItemID:          item.ID.String(),
		Score:           0.5,
		Category:        CategoryUnknown,
		Confidence:      0.3,
		RiskFactors:     []string{"degraded scoring: " + reason},
		Priority:        priorityBand(0.5 * 0.3),
		Explanation:     "Assessment degraded; manual review required",
		PredictedImpact: "Unknown",
		EscalationETA:   escalationETA(CategoryUnknown, 0.5),
		Degraded:        true,
	}
}

// categoryRule is one ordered classification rule.
type categoryRule struct {
	category ThreatCategory
	keywords []string
}

// categoryRules are evaluated in precedence order; first match wins.
var categoryRules = []categoryRule{
	{CategoryRansomware, []string{"ransom", "encrypt", "lockbit", "file encryption"}},
	{CategoryAPT, []string{"apt", "lateral movement", "persistence", "command and control", "c2"}},
	{CategoryPhishing, []string{"phish", "credential harvest", "suspicious email", "spoofed"}},
	{CategoryDataBreach, []string{"exfiltration", "data leak", "data breach", "large upload"}},
	{CategoryInsiderThreat, []string{"insider", "privilege abuse", "unauthorized access by employee"}},
	{CategoryNetworkIntrusion, []string{"intrusion", "port scan", "brute force", "exploit attempt"}},
	{CategoryMalware, []string{"malware", "trojan", "virus", "backdoor", "rootkit"}},
}

// classify resolves the threat category from keyword, IOC, and
// attack-pattern evidence using the ordered rule list.
func classify(item *Item, snapshot map[string]ioc.Record) ThreatCategory {
	text := combinedText(item.Alerts)
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.category
			}
		}
	}
	if item.AttackPatternID != "" {
		return CategoryAPT
	}
	for _, a := range item.Alerts {
		for _, ind := range ioc.Extract(a) {
			if ioc.IsHashType(ind.Type) {
				if _, ok := snapshot[ind.Key()]; ok {
					return CategoryMalware
				}
			}
		}
	}
	return CategoryUnknown
}

// importance normalizes per-feature contributions so they sum to 1.
func importance(features map[string]float64) map[string]float64 {
	var total float64
	for _, name := range FeatureOrder {
		total += features[name] * featureWeights[name]
	}
	out := make(map[string]float64, len(features))
	if total == 0 {
		return out
	}
	for _, name := range FeatureOrder {
		out[name] = features[name] * featureWeights[name] / total
	}
	return out
}

// riskFactorText names the risk behind each feature dimension.
var riskFactorText = map[string]string{
	FeatureAlertCount:        "large alert volume",
	FeatureMaxSeverity:       "critical severity alerts present",
	FeatureBusinessImpact:    "high-value business assets involved",
	FeatureIOCReputation:     "indicators with accumulated bad reputation",
	FeatureGeographicRisk:    "traffic from high-risk regions",
	FeatureBehavioralAnomaly: "activity outside business hours",
	FeatureComplianceRisk:    "regulated data potentially exposed",
	FeatureHistorical:        "similar threats seen before",
	FeatureThreatIntel:       "matches known threat intelligence",
	FeatureNetworkContext:    "external network exposure",
	FeatureUserContext:       "privileged accounts involved",
}

func (s *Scorer) riskFactors(features map[string]float64, item *Item) []string {
	var factors []string
	for _, name := range FeatureOrder {
		text, ok := riskFactorText[name]
		if !ok {
			continue
		}
		if features[name] > s.cfg.RiskFactorThreshold {
			factors = append(factors, text)
		}
	}
	max := s.cfg.MaxRiskFactors
	if max <= 0 {
		max = DefaultConfig().MaxRiskFactors
	}
	if len(factors) > max {
		factors = factors[:max]
	}
	return factors
}

func (s *Scorer) explain(item *Item, features map[string]float64, score float64, category ThreatCategory) string {
	imp := importance(features)
	type contrib struct {
		name  string
		value float64
	}
	ranked := make([]contrib, 0, len(imp))
	for name, value := range imp {
		ranked = append(ranked, contrib{name, value})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].value != ranked[j].value {
			return ranked[i].value > ranked[j].value
		}
		return ranked[i].name < ranked[j].name
	})

	top := make([]string, 0, 3)
	for i := 0; i < len(ranked) && i < 3; i++ {
		top = append(top, fmt.Sprintf("%s (%.0f%%)", ranked[i].name, ranked[i].value*100))
	}

	return fmt.Sprintf("%d alerts classified as %s with threat score %.2f; top factors: %s",
		len(item.Alerts), category, score, strings.Join(top, ", "))
}

// priorityBand maps weighted score*confidence to one of six bands.
func priorityBand(weighted float64) schema.Priority {
	switch {
	case weighted >= 0.85:
		return schema.PriorityEmergency
	case weighted >= 0.70:
		return schema.PriorityCritical
	case weighted >= 0.50:
		return schema.PriorityHigh
	case weighted >= 0.30:
		return schema.PriorityMedium
	case weighted >= 0.15:
		return schema.PriorityLow
	default:
		return schema.PriorityNoise
	}
}

// escalationBase is the category-specific starting escalation window.
var escalationBase = map[ThreatCategory]time.Duration{
	CategoryRansomware:       30 * time.Minute,
	CategoryAPT:              time.Hour,
	CategoryDataBreach:       45 * time.Minute,
	CategoryPhishing:         2 * time.Hour,
	CategoryInsiderThreat:    4 * time.Hour,
	CategoryNetworkIntrusion: 2 * time.Hour,
	CategoryMalware:          3 * time.Hour,
	CategoryUnknown:          4 * time.Hour,
}

// escalationFloor is the minimum escalation window regardless of score.
const escalationFloor = 15 * time.Minute

// escalationETA scales the category base window down as the score rises.
func escalationETA(category ThreatCategory, score float64) time.Duration {
	base, ok := escalationBase[category]
	if !ok {
		base = escalationBase[CategoryUnknown]
	}
	eta := time.Duration(float64(base) * (1.0 - score))
	if eta < escalationFloor {
		eta = escalationFloor
	}
	return eta
}

func predictImpact(category ThreatCategory, score float64, item *Item) string {
	scope := "localized"
	if countPlatforms(item.Alerts) > 1 {
		scope = "cross-platform"
	}
	switch {
	case score >= 0.8:
		return fmt.Sprintf("Severe %s impact likely (%s)", category, scope)
	case score >= 0.5:
		return fmt.Sprintf("Moderate %s impact possible (%s)", category, scope)
	default:
		return fmt.Sprintf("Limited %s impact expected (%s)", category, scope)
	}
}

// Signature derives a stable signature for history lookups: the sorted
// distinct rule names of the member alerts, falling back to the most
// frequent title terms when rule names are absent.
func Signature(item *Item) string {
	names := make(map[string]bool)
	for _, a := range item.Alerts {
		if a.RuleName != "" {
			names[a.RuleName] = true
		}
	}
	if len(names) > 0 {
		sorted := make([]string, 0, len(names))
		for name := range names {
			sorted = append(sorted, name)
		}
		sort.Strings(sorted)
		return strings.Join(sorted, "|")
	}

	terms := make(map[string]int)
	for _, a := range item.Alerts {
		for _, term := range strings.Fields(strings.ToLower(a.Title)) {
			if len(term) >= 4 {
				terms[term]++
			}
		}
	}
	type tc struct {
		term  string
		count int
	}
	ranked := make([]tc, 0, len(terms))
	for term, count := range terms {
		ranked = append(ranked, tc{term, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].term < ranked[j].term
	})
	if len(ranked) > 4 {
		ranked = ranked[:4]
	}
	parts := make([]string, len(ranked))
	for i, t := range ranked {
		parts[i] = t.term
	}
	return strings.Join(parts, "|")
}
