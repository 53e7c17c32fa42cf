package correlate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"threatlens/internal/ioc"
	"threatlens/internal/schema"
)

// AttackPattern is a MITRE-style signature from the static knowledge base:
// a set of indicator keywords that must appear across a set of alerts
// inside a time window. Read-only at runtime.
type AttackPattern struct {
	ID                  string        `yaml:"id" json:"id" validate:"required"`
	Name                string        `yaml:"name" json:"name" validate:"required"`
	Tactic              string        `yaml:"tactic" json:"tactic"`
	Technique           string        `yaml:"technique" json:"technique"`
	Indicators          []string      `yaml:"indicators" json:"indicators" validate:"required,min=1"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold" json:"confidence_threshold" validate:"gt=0,lte=1"`
	TimeWindow          time.Duration `yaml:"time_window" json:"time_window" validate:"required,gt=0"`
}

// patternMinKeywordRatio is the fraction of a pattern's indicator keywords
// an alert's text must contain to count as a candidate match.
const patternMinKeywordRatio = 0.3

// PatternDetector matches alert groups against the attack-pattern
// knowledge base.
type PatternDetector struct {
	patterns []AttackPattern
}

// NewPatternDetector creates the attack-pattern detector.
func NewPatternDetector(patterns []AttackPattern) *PatternDetector {
	return &PatternDetector{patterns: patterns}
}

// Name identifies the detector in logs.
func (d *PatternDetector) Name() string { return "attack_pattern" }

// Detect evaluates every pattern. Candidates are alerts within the
// pattern's time window of the most recent alert whose combined
// title+description+tags text contains at least 30% of the pattern's
// indicator keywords. Match confidence is keywordsCovered/totalKeywords
// plus 0.05 per extra alert (capped +0.2) and 0.05 per extra platform
// (capped +0.1); a correlation is emitted only when confidence reaches the
// pattern's threshold and at least two alerts matched.
func (d *PatternDetector) Detect(ctx context.Context, alerts []*schema.SecurityAlert, _ ioc.Ledger) ([]*schema.ThreatCorrelation, error) {
	if len(alerts) == 0 {
		return nil, nil
	}

	var newest time.Time
	for _, a := range alerts {
		if a.Timestamp.After(newest) {
			newest = a.Timestamp
		}
	}

	var out []*schema.ThreatCorrelation
	for _, pattern := range d.patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if tc := d.matchPattern(pattern, alerts, newest); tc != nil {
			out = append(out, tc)
		}
	}
	return out, nil
}

func (d *PatternDetector) matchPattern(pattern AttackPattern, alerts []*schema.SecurityAlert, newest time.Time) *schema.ThreatCorrelation {
	cutoff := newest.Add(-pattern.TimeWindow)

	var matched []*schema.SecurityAlert
	covered := make(map[string]bool)
	platforms := make(map[string]bool)

	for _, alert := range alerts {
		if alert.Timestamp.Before(cutoff) {
			continue
		}
		text := alertText(alert)

		hits := 0
		var alertCovered []string
		for _, keyword := range pattern.Indicators {
			if strings.Contains(text, strings.ToLower(keyword)) {
				hits++
				alertCovered = append(alertCovered, keyword)
			}
		}
		if float64(hits)/float64(len(pattern.Indicators)) < patternMinKeywordRatio {
			continue
		}

		matched = append(matched, alert)
		platforms[alert.Platform] = true
		for _, keyword := range alertCovered {
			covered[keyword] = true
		}
	}

	if len(matched) < 2 {
		return nil
	}

	confidence := float64(len(covered)) / float64(len(pattern.Indicators))
	confidence += minFloat(0.2, 0.05*float64(len(matched)-1))
	confidence += minFloat(0.1, 0.05*float64(len(platforms)-1))
	if confidence > 1.0 {
		confidence = 1.0
	}

	if confidence < pattern.ConfidenceThreshold {
		return nil
	}

	score := 80 + 5*float64(len(matched))
	actions := []string{
		fmt.Sprintf("Matched attack pattern %q (%s / %s)", pattern.Name, pattern.Tactic, pattern.Technique),
		"Initiate incident response playbook for the matched technique",
	}

	tc := newCorrelation(schema.CategoryAttackPattern, matched, score, confidence, actions)
	tc.AttackPatternID = pattern.ID
	tc.BusinessImpact = fmt.Sprintf("Attack pattern %s observed across %d platforms",
		pattern.Name, len(platforms))
	return tc
}

func alertText(alert *schema.SecurityAlert) string {
	parts := []string{alert.Title, alert.Description}
	parts = append(parts, alert.Tags...)
	return strings.ToLower(strings.Join(parts, " "))
}
