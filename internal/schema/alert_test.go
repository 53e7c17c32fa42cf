package schema

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSeverityString(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityInfo, "info"},
		{SeverityLow, "low"},
		{SeverityMedium, "medium"},
		{SeverityHigh, "high"},
		{SeverityCritical, "critical"},
		{Severity(0), "unknown"},
		{Severity(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.severity.String(); got != tt.want {
			t.Errorf("Severity(%d).String() = %q, want %q", tt.severity, got, tt.want)
		}
	}
}

func TestSeverityIsValid(t *testing.T) {
	for s := SeverityInfo; s <= SeverityCritical; s++ {
		if !s.IsValid() {
			t.Errorf("Severity(%d).IsValid() = false, want true", s)
		}
	}
	if Severity(0).IsValid() {
		t.Error("Severity(0).IsValid() = true, want false")
	}
	if Severity(6).IsValid() {
		t.Error("Severity(6).IsValid() = true, want false")
	}
}

func TestPriorityString(t *testing.T) {
	tests := []struct {
		priority Priority
		want     string
	}{
		{PriorityNoise, "noise"},
		{PriorityLow, "low"},
		{PriorityMedium, "medium"},
		{PriorityHigh, "high"},
		{PriorityCritical, "critical"},
		{PriorityEmergency, "emergency"},
		{Priority(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.priority.String(); got != tt.want {
			t.Errorf("Priority(%d).String() = %q, want %q", tt.priority, got, tt.want)
		}
	}
}

func TestPriorityOrdering(t *testing.T) {
	order := []Priority{PriorityNoise, PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical, PriorityEmergency}
	for i := 1; i < len(order); i++ {
		if order[i-1] >= order[i] {
			t.Errorf("priority ordering broken: %v >= %v", order[i-1], order[i])
		}
	}
}

func clusterAlert(id string, sev Severity) *SecurityAlert {
	return &SecurityAlert{
		ID:        id,
		Platform:  "splunk",
		Title:     "Test alert " + id,
		Severity:  sev,
		Timestamp: time.Now().UTC(),
	}
}

func TestAlertClusterAlerts(t *testing.T) {
	primary := clusterAlert("a1", SeverityMedium)
	related := []*SecurityAlert{
		clusterAlert("a2", SeverityHigh),
		clusterAlert("a3", SeverityLow),
	}
	c := &AlertCluster{
		ID:            uuid.New(),
		PrimaryAlert:  primary,
		RelatedAlerts: related,
	}

	alerts := c.Alerts()
	if len(alerts) != 3 {
		t.Fatalf("Alerts() returned %d alerts, want 3", len(alerts))
	}
	if alerts[0] != primary {
		t.Error("Alerts() did not put the primary alert first")
	}

	ids := c.AlertIDs()
	want := []string{"a1", "a2", "a3"}
	for i, id := range want {
		if ids[i] != id {
			t.Errorf("AlertIDs()[%d] = %q, want %q", i, ids[i], id)
		}
	}
}

func TestAlertClusterAlertsNilPrimary(t *testing.T) {
	c := &AlertCluster{
		RelatedAlerts: []*SecurityAlert{clusterAlert("a1", SeverityLow)},
	}
	alerts := c.Alerts()
	if len(alerts) != 1 || alerts[0].ID != "a1" {
		t.Errorf("Alerts() with nil primary = %v, want only related alerts", alerts)
	}
}

func TestAlertClusterMaxSeverity(t *testing.T) {
	c := &AlertCluster{
		PrimaryAlert: clusterAlert("a1", SeverityLow),
		RelatedAlerts: []*SecurityAlert{
			clusterAlert("a2", SeverityCritical),
			clusterAlert("a3", SeverityMedium),
		},
	}
	if got := c.MaxSeverity(); got != SeverityCritical {
		t.Errorf("MaxSeverity() = %v, want %v", got, SeverityCritical)
	}

	empty := &AlertCluster{}
	if got := empty.MaxSeverity(); got != Severity(0) {
		t.Errorf("MaxSeverity() on empty cluster = %v, want 0", got)
	}
}

func TestThreatCorrelationHelpers(t *testing.T) {
	tc := &ThreatCorrelation{
		ID: uuid.New(),
		Alerts: []*SecurityAlert{
			clusterAlert("c1", SeverityMedium),
			clusterAlert("c2", SeverityHigh),
		},
		Category: CategoryTemporalBurst,
		Status:   CorrelationCorrelated,
	}

	ids := tc.AlertIDs()
	if len(ids) != 2 || ids[0] != "c1" || ids[1] != "c2" {
		t.Errorf("AlertIDs() = %v, want [c1 c2]", ids)
	}
	if got := tc.MaxSeverity(); got != SeverityHigh {
		t.Errorf("MaxSeverity() = %v, want %v", got, SeverityHigh)
	}
}
