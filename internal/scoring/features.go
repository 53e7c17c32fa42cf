// Package scoring turns clusters and correlations into ranked, explainable
// threat assessments.
package scoring

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"threatlens/internal/correlate"
	"threatlens/internal/ioc"
	"threatlens/internal/schema"
)

// ItemKind distinguishes the two pipelines feeding the scorer.
type ItemKind string

const (
	KindCluster     ItemKind = "cluster"
	KindCorrelation ItemKind = "correlation"
)

// Item is the unified view of a cluster or correlation handed to the
// scorer and, once scored, to the external notification router.
type Item struct {
	ID              uuid.UUID
	Kind            ItemKind
	Alerts          []*schema.SecurityAlert
	BaseScore       float64 // normalized 0-1
	Priority        schema.Priority
	Category        schema.CorrelationCategory
	AttackPatternID string
	BusinessContext map[string]any
	Summary         string
	Actions         []string
	AutoEscalated   bool
}

// FromCluster adapts an alert cluster for scoring.
func FromCluster(c *schema.AlertCluster) *Item {
	return &Item{
		ID:              c.ID,
		Kind:            KindCluster,
		Alerts:          c.Alerts(),
		BaseScore:       c.SimilarityScore,
		Priority:        c.Priority,
		BusinessContext: c.BusinessContext,
		Summary:         c.Summary,
		Actions:         c.RecommendedActions,
		AutoEscalated:   c.AutoEscalated,
	}
}

// FromCorrelation adapts a threat correlation for scoring.
func FromCorrelation(tc *schema.ThreatCorrelation) *Item {
	return &Item{
		ID:              tc.ID,
		Kind:            KindCorrelation,
		Alerts:          tc.Alerts,
		BaseScore:       tc.ThreatScore / 100.0,
		Category:        tc.Category,
		AttackPatternID: tc.AttackPatternID,
		Summary:         tc.BusinessImpact,
		Actions:         tc.RecommendedActions,
	}
}

// Feature names, in vector order. The vector is fixed at 14 dimensions;
// every value is normalized to [0,1].
const (
	FeatureAlertCount        = "alert_count"
	FeatureMaxSeverity       = "max_severity"
	FeatureMeanConfidence    = "mean_confidence"
	FeaturePlatformDiversity = "platform_diversity"
	FeatureTemporalSpread    = "temporal_spread"
	FeatureBusinessImpact    = "business_impact"
	FeatureIOCReputation     = "ioc_reputation"
	FeatureGeographicRisk    = "geographic_risk"
	FeatureBehavioralAnomaly = "behavioral_anomaly"
	FeatureComplianceRisk    = "compliance_risk"
	FeatureHistorical        = "historical_similarity"
	FeatureThreatIntel       = "threat_intel"
	FeatureNetworkContext    = "network_context"
	FeatureUserContext       = "user_context"
)

// FeatureOrder lists the vector dimensions in canonical order.
var FeatureOrder = []string{
	FeatureAlertCount,
	FeatureMaxSeverity,
	FeatureMeanConfidence,
	FeaturePlatformDiversity,
	FeatureTemporalSpread,
	FeatureBusinessImpact,
	FeatureIOCReputation,
	FeatureGeographicRisk,
	FeatureBehavioralAnomaly,
	FeatureComplianceRisk,
	FeatureHistorical,
	FeatureThreatIntel,
	FeatureNetworkContext,
	FeatureUserContext,
}

// normalization caps for the base features
const (
	alertCountCap  = 20.0
	platformCap    = 3.0
	temporalCapHrs = 24.0
)

// extractFeatures builds the normalized 14-dimension vector for an item.
// The heuristic domain scores may be replaced by trained models as long as
// the names and [0,1] ranges are preserved.
func (s *Scorer) extractFeatures(ctx context.Context, item *Item, snapshot map[string]ioc.Record) (map[string]float64, error) {
	alerts := item.Alerts

	f := make(map[string]float64, len(FeatureOrder))
	f[FeatureAlertCount] = clamp01(float64(len(alerts)) / alertCountCap)
	f[FeatureMaxSeverity] = float64(maxSeverity(alerts)) / 5.0
	f[FeatureMeanConfidence] = meanConfidence(alerts)
	f[FeaturePlatformDiversity] = clamp01(float64(countPlatforms(alerts)) / platformCap)
	f[FeatureTemporalSpread] = clamp01(spanHours(alerts) / temporalCapHrs)

	f[FeatureBusinessImpact] = businessImpactScore(item)
	f[FeatureIOCReputation] = iocReputationScore(alerts, snapshot)
	f[FeatureGeographicRisk] = s.geographicRiskScore(alerts)
	f[FeatureBehavioralAnomaly] = behavioralAnomalyScore(alerts)
	f[FeatureComplianceRisk] = complianceRiskScore(item)

	historical, err := s.historicalScore(ctx, item)
	if err != nil {
		return nil, err
	}
	f[FeatureHistorical] = historical

	f[FeatureThreatIntel] = threatIntelScore(alerts, snapshot)
	f[FeatureNetworkContext] = networkContextScore(alerts)
	f[FeatureUserContext] = userContextScore(alerts)
	return f, nil
}

func maxSeverity(alerts []*schema.SecurityAlert) schema.Severity {
	max := schema.Severity(0)
	for _, a := range alerts {
		if a.Severity > max {
			max = a.Severity
		}
	}
	return max
}

func meanConfidence(alerts []*schema.SecurityAlert) float64 {
	if len(alerts) == 0 {
		return 0
	}
	var sum float64
	for _, a := range alerts {
		sum += a.Confidence
	}
	return sum / float64(len(alerts))
}

func countPlatforms(alerts []*schema.SecurityAlert) int {
	platforms := make(map[string]bool)
	for _, a := range alerts {
		platforms[a.Platform] = true
	}
	return len(platforms)
}

func spanHours(alerts []*schema.SecurityAlert) float64 {
	if len(alerts) < 2 {
		return 0
	}
	earliest, latest := alerts[0].Timestamp, alerts[0].Timestamp
	for _, a := range alerts[1:] {
		if a.Timestamp.Before(earliest) {
			earliest = a.Timestamp
		}
		if a.Timestamp.After(latest) {
			latest = a.Timestamp
		}
	}
	return latest.Sub(earliest).Hours()
}

var highImpactKeywords = []string{"payment", "production", "database", "domain controller", "customer data", "executive"}

func businessImpactScore(item *Item) float64 {
	score := 0.3
	if crit, ok := item.BusinessContext["criticality"].(string); ok {
		switch crit {
		case "high":
			score = 0.8
		case "medium":
			score = 0.5
		}
	}
	text := combinedText(item.Alerts)
	for _, kw := range highImpactKeywords {
		if strings.Contains(text, kw) {
			score += 0.15
		}
	}
	return clamp01(score)
}

func iocReputationScore(alerts []*schema.SecurityAlert, snapshot map[string]ioc.Record) float64 {
	var sum float64
	n := 0
	for _, a := range alerts {
		for _, ind := range ioc.Extract(a) {
			if rec, ok := snapshot[ind.Key()]; ok {
				sum += rec.Confidence
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return clamp01(sum / float64(n))
}

func (s *Scorer) geographicRiskScore(alerts []*schema.SecurityAlert) float64 {
	if s.geo == nil {
		return 0
	}
	highRisk := make(map[string]bool, len(s.highRiskCountries))
	for _, c := range s.highRiskCountries {
		highRisk[c] = true
	}
	resolved, risky := 0, 0
	for _, a := range alerts {
		if a.SourceIP == "" {
			continue
		}
		country, _, ok := s.geo.Geolocate(a.SourceIP)
		if !ok {
			continue
		}
		resolved++
		if highRisk[country] {
			risky++
		}
	}
	if resolved == 0 {
		return 0
	}
	return float64(risky) / float64(resolved)
}

func behavioralAnomalyScore(alerts []*schema.SecurityAlert) float64 {
	if len(alerts) == 0 {
		return 0
	}
	offHours := 0
	for _, a := range alerts {
		h := a.Timestamp.UTC().Hour()
		wd := a.Timestamp.UTC().Weekday()
		if h < 6 || h >= 22 || wd == time.Saturday || wd == time.Sunday {
			offHours++
		}
	}
	return float64(offHours) / float64(len(alerts))
}

var complianceKeywords = []string{"pci", "hipaa", "gdpr", "sox", "cardholder", "phi", "personal data"}

func complianceRiskScore(item *Item) float64 {
	score := 0.0
	if frameworks, ok := item.BusinessContext["compliance_frameworks"].([]string); ok && len(frameworks) > 0 {
		score = 0.6
	}
	text := combinedText(item.Alerts)
	for _, kw := range complianceKeywords {
		if strings.Contains(text, kw) {
			score += 0.2
		}
	}
	return clamp01(score)
}

func (s *Scorer) historicalScore(ctx context.Context, item *Item) (float64, error) {
	if s.history == nil {
		return 0, nil
	}
	score, err := s.history.SimilarityScore(ctx, Signature(item), platformList(item.Alerts))
	if err != nil {
		return 0, err
	}
	return clamp01(score), nil
}

func threatIntelScore(alerts []*schema.SecurityAlert, snapshot map[string]ioc.Record) float64 {
	score := 0.0
	for _, a := range alerts {
		for _, ind := range ioc.Extract(a) {
			if !ioc.IsHashType(ind.Type) {
				continue
			}
			if rec, ok := snapshot[ind.Key()]; ok && rec.Confidence > score {
				score = rec.Confidence
			}
		}
		for _, tag := range a.Tags {
			if tag == "known_campaign" || tag == "threat_intel" {
				return 1.0
			}
		}
	}
	return clamp01(score)
}

func networkContextScore(alerts []*schema.SecurityAlert) float64 {
	if len(alerts) == 0 {
		return 0
	}
	external := 0
	for _, a := range alerts {
		if a.SourceIP != "" && !ioc.IsPrivateIP(a.SourceIP) {
			external++
		} else if a.DestIP != "" && !ioc.IsPrivateIP(a.DestIP) {
			external++
		}
	}
	return float64(external) / float64(len(alerts))
}

var privilegedUserKeywords = []string{"admin", "root", "svc", "service"}

func userContextScore(alerts []*schema.SecurityAlert) float64 {
	if len(alerts) == 0 {
		return 0
	}
	var score float64
	withUser := 0
	for _, a := range alerts {
		if a.User == "" {
			continue
		}
		withUser++
		userScore := 0.5
		lower := strings.ToLower(a.User)
		for _, kw := range privilegedUserKeywords {
			if strings.Contains(lower, kw) {
				userScore = 1.0
				break
			}
		}
		score += userScore
	}
	if withUser == 0 {
		return 0
	}
	return clamp01(score / float64(withUser))
}

func combinedText(alerts []*schema.SecurityAlert) string {
	parts := make([]string, 0, len(alerts)*2)
	for _, a := range alerts {
		parts = append(parts, a.Title, a.Description)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func platformList(alerts []*schema.SecurityAlert) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range alerts {
		if !seen[a.Platform] {
			seen[a.Platform] = true
			out = append(out, a.Platform)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Geolocator aliases the correlation engine's capability interface so the
// scorer can share the same injected implementation.
type Geolocator = correlate.Geolocator
