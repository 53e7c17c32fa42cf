// Package schema defines the canonical alert and cluster types for ThreatLens.
// Security alerts arrive already normalized by the connector layer; everything
// downstream of ingestion treats them as immutable records.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// Severity is the ordinal severity of a security alert. Higher is worse.
type Severity int

const (
	SeverityInfo Severity = iota + 1
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the lowercase name of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	}
	return "unknown"
}

// IsValid checks if the severity is within the defined range.
func (s Severity) IsValid() bool {
	return s >= SeverityInfo && s <= SeverityCritical
}

// Priority ranks a cluster or correlation for response ordering.
type Priority int

const (
	PriorityNoise Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
	PriorityCritical
	PriorityEmergency
)

// String returns the lowercase name of the priority band.
func (p Priority) String() string {
	switch p {
	case PriorityNoise:
		return "noise"
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	case PriorityEmergency:
		return "emergency"
	}
	return "unknown"
}

// SecurityAlert is the normalized alert record consumed by the engine.
// Created by the external connector layer and never mutated afterwards;
// clusters and correlations reference alerts, they do not own them.
type SecurityAlert struct {
	ID          string    `json:"id" validate:"required"`
	Platform    string    `json:"platform" validate:"required,max=64,platform_format"`
	Title       string    `json:"title" validate:"required,max=1024"`
	Description string    `json:"description" validate:"max=65536"`
	Severity    Severity  `json:"severity" validate:"required,min=1,max=5"`
	Timestamp   time.Time `json:"timestamp" validate:"required"`
	SourceIP    string    `json:"source_ip,omitempty" validate:"omitempty,ip"`
	DestIP      string    `json:"dest_ip,omitempty" validate:"omitempty,ip"`
	User        string    `json:"user,omitempty" validate:"max=256"`
	Host        string    `json:"host,omitempty" validate:"max=256"`
	RuleName    string    `json:"rule_name,omitempty" validate:"max=256"`
	Tags        []string  `json:"tags,omitempty"`
	Confidence  float64   `json:"confidence" validate:"min=0,max=1"`
}

// ClusterStrategy identifies which strategy produced a cluster.
type ClusterStrategy string

const (
	StrategySimilarity      ClusterStrategy = "similarity"
	StrategyBusinessContext ClusterStrategy = "business_context"
	StrategyTemporal        ClusterStrategy = "temporal"
	StrategyIOC             ClusterStrategy = "ioc"
	StrategyMerged          ClusterStrategy = "merged"
)

// AlertCluster is a group of alerts judged related by one clustering
// strategy. Merge produces a new cluster rather than mutating in place;
// scoring may raise Priority and prepend RecommendedActions.
type AlertCluster struct {
	ID                 uuid.UUID        `json:"id"`
	PrimaryAlert       *SecurityAlert   `json:"primary_alert"`
	RelatedAlerts      []*SecurityAlert `json:"related_alerts"`
	Strategy           ClusterStrategy  `json:"strategy"`
	SimilarityScore    float64          `json:"similarity_score"`
	Priority           Priority         `json:"priority"`
	BusinessContext    map[string]any   `json:"business_context,omitempty"`
	Summary            string           `json:"summary"`
	RecommendedActions []string         `json:"recommended_actions,omitempty"`
	AutoEscalated      bool             `json:"auto_escalated"`
	CreatedAt          time.Time        `json:"created_at"`
}

// Alerts returns the primary alert followed by the related alerts.
func (c *AlertCluster) Alerts() []*SecurityAlert {
	if c.PrimaryAlert == nil {
		return c.RelatedAlerts
	}
	out := make([]*SecurityAlert, 0, len(c.RelatedAlerts)+1)
	out = append(out, c.PrimaryAlert)
	out = append(out, c.RelatedAlerts...)
	return out
}

// AlertIDs returns the ids of all member alerts, primary first.
func (c *AlertCluster) AlertIDs() []string {
	alerts := c.Alerts()
	ids := make([]string, 0, len(alerts))
	for _, a := range alerts {
		ids = append(ids, a.ID)
	}
	return ids
}

// MaxSeverity returns the highest severity among member alerts.
func (c *AlertCluster) MaxSeverity() Severity {
	max := Severity(0)
	for _, a := range c.Alerts() {
		if a.Severity > max {
			max = a.Severity
		}
	}
	return max
}

// CorrelationCategory tags the technique that produced a correlation.
type CorrelationCategory string

const (
	CategoryTemporalBurst      CorrelationCategory = "temporal_burst"
	CategoryTemporalEscalation CorrelationCategory = "temporal_escalation"
	CategoryIOCMatch           CorrelationCategory = "ioc_match"
	CategoryAttackPattern      CorrelationCategory = "attack_pattern"
	CategoryGeographic         CorrelationCategory = "geographic"
	CategoryAnomaly            CorrelationCategory = "anomaly"
	CategoryMultiTechnique     CorrelationCategory = "multi_technique"
)

// CorrelationStatus tracks the lifecycle of a correlation.
type CorrelationStatus string

const (
	CorrelationPending    CorrelationStatus = "pending"
	CorrelationCorrelated CorrelationStatus = "correlated"
	CorrelationEscalated  CorrelationStatus = "escalated"
	CorrelationResolved   CorrelationStatus = "resolved"
)

// ThreatCorrelation is the output of the advanced correlation engine.
// Structurally parallel to AlertCluster but produced by an independent
// pipeline; the two meet only at the final ranking step.
type ThreatCorrelation struct {
	ID                 uuid.UUID           `json:"id"`
	Alerts             []*SecurityAlert    `json:"alerts"`
	ThreatScore        float64             `json:"threat_score"` // 0-100
	Category           CorrelationCategory `json:"category"`
	AttackPatternID    string              `json:"attack_pattern_id,omitempty"`
	BusinessImpact     string              `json:"business_impact,omitempty"`
	Confidence         float64             `json:"confidence"` // 0-1
	RecommendedActions []string            `json:"recommended_actions,omitempty"`
	Status             CorrelationStatus   `json:"status"`
	CreatedAt          time.Time           `json:"created_at"`
}

// AlertIDs returns the ids of all member alerts.
func (tc *ThreatCorrelation) AlertIDs() []string {
	ids := make([]string, 0, len(tc.Alerts))
	for _, a := range tc.Alerts {
		ids = append(ids, a.ID)
	}
	return ids
}

// MaxSeverity returns the highest severity among member alerts.
func (tc *ThreatCorrelation) MaxSeverity() Severity {
	max := Severity(0)
	for _, a := range tc.Alerts {
		if a.Severity > max {
			max = a.Severity
		}
	}
	return max
}
