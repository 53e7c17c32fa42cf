package correlate

import (
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"threatlens/internal/ioc"
	"threatlens/internal/schema"
)

// anomaly score contributions
const (
	anomalyOffHours = 0.3
	anomalyHighSev  = 0.4
	anomalyLongText = 0.2
	anomalyWeekend  = 0.1
	anomalyJitter   = 0.1 // upper bound of the model-uncertainty jitter
)

// longTextThreshold marks an alert's combined text as oversized.
const longTextThreshold = 1000

// alertFeatures is the per-alert feature tuple fed to the anomaly model.
type alertFeatures struct {
	Severity     int
	PlatformHash uint64
	HourOfDay    int
	Weekday      int
	TextLength   int
	HasSourceIP  bool
	HasDestIP    bool
	HasUser      bool
	TagCount     int
	Confidence   float64
}

// AnomalyDetector scores each alert with a lightweight stand-in for an ML
// anomaly model: a weighted sum of behavioral flags plus bounded jitter
// representing model uncertainty. Any trained model can replace the
// weighted sum as long as scores stay in [0, ~1.1].
type AnomalyDetector struct {
	cfg Config
}

// NewAnomalyDetector creates the anomaly-scoring detector.
func NewAnomalyDetector(cfg Config) *AnomalyDetector {
	return &AnomalyDetector{cfg: cfg}
}

// Name identifies the detector in logs.
func (d *AnomalyDetector) Name() string { return "anomaly" }

// Detect emits a single-alert correlation for every alert whose anomaly
// score reaches cfg.AnomalyThreshold, with threat score min(100, score*120).
func (d *AnomalyDetector) Detect(ctx context.Context, alerts []*schema.SecurityAlert, _ ioc.Ledger) ([]*schema.ThreatCorrelation, error) {
	var out []*schema.ThreatCorrelation
	for _, alert := range alerts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		score := d.anomalyScore(alert)
		if score < d.cfg.AnomalyThreshold {
			continue
		}

		threatScore := minFloat(maxThreatScore, score*120)
		actions := []string{
			fmt.Sprintf("Review anomalous alert %s (anomaly score %.2f)", alert.ID, score),
			"Compare against the source's behavioral baseline",
		}

		tc := newCorrelation(schema.CategoryAnomaly, []*schema.SecurityAlert{alert}, threatScore, minFloat(1.0, score), actions)
		tc.BusinessImpact = "Alert deviates from expected behavioral profile"
		out = append(out, tc)
	}
	return out, nil
}

// anomalyScore evaluates the feature tuple for one alert.
func (d *AnomalyDetector) anomalyScore(alert *schema.SecurityAlert) float64 {
	f := extractFeatures(alert)

	score := 0.0
	if f.HourOfDay < 6 || f.HourOfDay >= 22 {
		score += anomalyOffHours
	}
	if f.Severity >= int(schema.SeverityHigh) {
		score += anomalyHighSev
	}
	if f.TextLength > longTextThreshold {
		score += anomalyLongText
	}
	if f.Weekday == 0 || f.Weekday == 6 {
		score += anomalyWeekend
	}
	score += jitter(alert.ID)
	return score
}

func extractFeatures(alert *schema.SecurityAlert) alertFeatures {
	return alertFeatures{
		Severity:     int(alert.Severity),
		PlatformHash: hash64(alert.Platform),
		HourOfDay:    alert.Timestamp.UTC().Hour(),
		Weekday:      int(alert.Timestamp.UTC().Weekday()),
		TextLength:   len(alert.Title) + len(alert.Description),
		HasSourceIP:  alert.SourceIP != "",
		HasDestIP:    alert.DestIP != "",
		HasUser:      alert.User != "",
		TagCount:     len(alert.Tags),
		Confidence:   alert.Confidence,
	}
}

// hash64 gives a stable 64-bit hash for categorical features.
func hash64(s string) uint64 {
	sum := blake2b.Sum256([]byte(s))
	return binary.BigEndian.Uint64(sum[:8])
}

// jitter derives a bounded pseudo-random value in [0, anomalyJitter) from
// the alert id, so reruns over the same batch score identically.
func jitter(id string) float64 {
	return float64(hash64(id)%1000) / 1000.0 * anomalyJitter
}
