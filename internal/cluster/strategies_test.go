package cluster

import (
	"context"
	"fmt"
	"testing"
	"time"

	"threatlens/internal/ioc"
	"threatlens/internal/schema"
)

func TestClassifyBusinessUnit(t *testing.T) {
	tests := []struct {
		name  string
		alert schema.SecurityAlert
		want  string
	}{
		{
			name:  "keyword in title",
			alert: schema.SecurityAlert{Title: "Suspicious access to payment gateway"},
			want:  "finance",
		},
		{
			name:  "keyword in host",
			alert: schema.SecurityAlert{Host: "jenkins-build-04"},
			want:  "engineering",
		},
		{
			name:  "source ip prefix",
			alert: schema.SecurityAlert{Title: "Port scan observed", SourceIP: "10.20.3.4"},
			want:  "hr",
		},
		{
			name:  "multi-word keyword",
			alert: schema.SecurityAlert{Title: "Replication failure on domain controller"},
			want:  "it_operations",
		},
		{
			name:  "no heuristic",
			alert: schema.SecurityAlert{Title: "Generic anomaly", SourceIP: "203.0.113.9"},
			want:  "",
		},
		// Short keywords must not fire on substrings of unrelated words.
		{
			name:  "hr not matched inside threshold",
			alert: schema.SecurityAlert{Title: "Account lockout threshold reached"},
			want:  "",
		},
		{
			name:  "ci not matched inside suspicious",
			alert: schema.SecurityAlert{Title: "Suspicious process spawned by office application"},
			want:  "",
		},
		{
			name:  "ci not matched inside malicious",
			alert: schema.SecurityAlert{Title: "Malicious file quarantined"},
			want:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyBusinessUnit(&tt.alert); got != tt.want {
				t.Errorf("classifyBusinessUnit() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBusinessContextStrategy(t *testing.T) {
	base := time.Now()
	var alerts []*schema.SecurityAlert
	for i := 0; i < 4; i++ {
		alerts = append(alerts, &schema.SecurityAlert{
			ID:        fmt.Sprintf("f%d", i),
			Platform:  "splunk",
			Title:     "Unusual invoice export volume",
			Severity:  schema.SeverityMedium,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	// Below the minimum group size for its unit.
	alerts = append(alerts, &schema.SecurityAlert{
		ID:        "h1",
		Platform:  "splunk",
		Title:     "Payroll record accessed after hours",
		Severity:  schema.SeverityMedium,
		Timestamp: base,
	})

	s := NewBusinessContextStrategy(DefaultConfig())
	clusters, err := s.Cluster(context.Background(), alerts, ioc.NewMemoryLedger())
	if err != nil {
		t.Fatalf("Cluster() error = %v", err)
	}

	if len(clusters) != 1 {
		t.Fatalf("clusters = %d, want 1", len(clusters))
	}
	c := clusters[0]
	units, ok := c.BusinessContext["business_units"].([]string)
	if !ok || len(units) != 1 || units[0] != "finance" {
		t.Errorf("business_units = %v, want [finance]", c.BusinessContext["business_units"])
	}
	if got := c.BusinessContext["criticality"]; got != "high" {
		t.Errorf("criticality = %v, want high", got)
	}
	frameworks, ok := c.BusinessContext["compliance_frameworks"].([]string)
	if !ok || len(frameworks) != 2 || frameworks[0] != "PCI-DSS" || frameworks[1] != "SOX" {
		t.Errorf("compliance_frameworks = %v, want [PCI-DSS SOX]", c.BusinessContext["compliance_frameworks"])
	}
}

func TestUnitFrameworks(t *testing.T) {
	tests := []struct {
		unit string
		want int
	}{
		{"finance", 2},
		{"hr", 1},
		{"sales", 1},
		{"it_operations", 1},
		{"engineering", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := unitFrameworks(tt.unit); len(got) != tt.want {
			t.Errorf("unitFrameworks(%q) = %v, want %d frameworks", tt.unit, got, tt.want)
		}
	}
}

func TestTemporalStrategyBurst(t *testing.T) {
	base := time.Now().Truncate(time.Hour)
	var alerts []*schema.SecurityAlert
	for i := 0; i < 12; i++ {
		alerts = append(alerts, &schema.SecurityAlert{
			ID:        fmt.Sprintf("q%d", i),
			Platform:  "qradar",
			Title:     fmt.Sprintf("Firewall deny burst %d", i),
			Severity:  schema.SeverityMedium,
			Timestamp: base.Add(time.Duration(i*2) * time.Minute),
		})
	}

	s := NewTemporalStrategy(DefaultConfig())
	clusters, err := s.Cluster(context.Background(), alerts, ioc.NewMemoryLedger())
	if err != nil {
		t.Fatalf("Cluster() error = %v", err)
	}

	if len(clusters) != 1 {
		t.Fatalf("clusters = %d, want 1", len(clusters))
	}
	c := clusters[0]
	if got := len(c.Alerts()); got != 12 {
		t.Errorf("cluster size = %d, want 12", got)
	}
	if burst, _ := c.BusinessContext["alert_burst"].(bool); !burst {
		t.Error("alert_burst = false, want true for 12 alerts in one window")
	}
}

func TestTemporalStrategyBelowMinimum(t *testing.T) {
	base := time.Now().Truncate(time.Hour)
	var alerts []*schema.SecurityAlert
	for i := 0; i < 4; i++ {
		alerts = append(alerts, &schema.SecurityAlert{
			ID:        fmt.Sprintf("q%d", i),
			Platform:  "qradar",
			Title:     "Firewall deny",
			Severity:  schema.SeverityLow,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}

	s := NewTemporalStrategy(DefaultConfig())
	clusters, err := s.Cluster(context.Background(), alerts, ioc.NewMemoryLedger())
	if err != nil {
		t.Fatalf("Cluster() error = %v", err)
	}
	if len(clusters) != 0 {
		t.Errorf("clusters = %d, want 0 below minimum window population", len(clusters))
	}
}

func TestIOCStrategySharedIndicator(t *testing.T) {
	base := time.Now()
	alerts := []*schema.SecurityAlert{
		{
			ID:        "s1",
			Platform:  "splunk",
			Title:     "Outbound connection blocked",
			Severity:  schema.SeverityHigh,
			Timestamp: base,
			SourceIP:  "203.0.113.7",
		},
		{
			ID:        "c1",
			Platform:  "crowdstrike",
			Title:     "Process beacon detected",
			Severity:  schema.SeverityHigh,
			Timestamp: base.Add(time.Minute),
			SourceIP:  "203.0.113.7",
		},
		{
			ID:        "p1",
			Platform:  "paloalto",
			Title:     "DNS request anomaly",
			Severity:  schema.SeverityLow,
			Timestamp: base.Add(2 * time.Minute),
			SourceIP:  "198.51.100.9",
		},
	}

	ledger := ioc.NewMemoryLedger()
	s := NewIOCStrategy(DefaultConfig())
	clusters, err := s.Cluster(context.Background(), alerts, ledger)
	if err != nil {
		t.Fatalf("Cluster() error = %v", err)
	}

	if len(clusters) != 1 {
		t.Fatalf("clusters = %d, want 1", len(clusters))
	}
	c := clusters[0]
	if got := c.BusinessContext["indicator_value"]; got != "203.0.113.7" {
		t.Errorf("indicator_value = %v, want 203.0.113.7", got)
	}
	if len(c.Alerts()) != 2 {
		t.Errorf("cluster size = %d, want 2", len(c.Alerts()))
	}

	// Every extraction must land in the ledger, clustered or not.
	rec, ok, err := ledger.Get(context.Background(), ioc.Indicator{Type: ioc.TypeIP, Value: "198.51.100.9"})
	if err != nil || !ok {
		t.Fatalf("ledger missing singleton indicator: ok=%v err=%v", ok, err)
	}
	if rec.Confidence != 0.5 {
		t.Errorf("singleton confidence = %v, want 0.5", rec.Confidence)
	}
}

func TestClusterPriorityMonotone(t *testing.T) {
	severities := []schema.Severity{
		schema.SeverityInfo, schema.SeverityLow, schema.SeverityMedium,
		schema.SeverityHigh, schema.SeverityCritical,
	}
	for _, sev := range severities {
		prev := schema.PriorityNoise
		for count := 1; count <= 12; count++ {
			p := clusterPriority(sev, count)
			if p < prev {
				t.Errorf("priority regressed for severity %s at count %d: %s -> %s", sev, count, prev, p)
			}
			prev = p
		}
	}
	for count := 1; count <= 12; count++ {
		prev := schema.PriorityNoise
		for _, sev := range severities {
			p := clusterPriority(sev, count)
			if p < prev {
				t.Errorf("priority regressed at count %d for severity %s", count, sev)
			}
			prev = p
		}
	}
}

func TestNewClusterInvariants(t *testing.T) {
	base := time.Now()
	alerts := []*schema.SecurityAlert{
		{ID: "a1", Platform: "splunk", Title: "low", Severity: schema.SeverityLow, Timestamp: base},
		{ID: "a2", Platform: "splunk", Title: "critical", Severity: schema.SeverityCritical, Timestamp: base},
		{ID: "a3", Platform: "qradar", Title: "medium", Severity: schema.SeverityMedium, Timestamp: base},
	}

	c := newCluster(DefaultConfig(), schema.StrategySimilarity, alerts, 0.9, nil)

	if c.PrimaryAlert.ID != "a2" {
		t.Errorf("primary = %s, want highest severity a2", c.PrimaryAlert.ID)
	}
	for _, a := range c.RelatedAlerts {
		if a.ID == c.PrimaryAlert.ID {
			t.Error("primary alert repeated in related alerts")
		}
	}
	if len(c.Alerts()) != 3 {
		t.Errorf("total alerts = %d, want 3", len(c.Alerts()))
	}
	if c.Summary == "" {
		t.Error("summary is empty")
	}
	if len(c.RecommendedActions) == 0 {
		t.Error("no recommended actions")
	}
	if len(c.RecommendedActions) > DefaultConfig().MaxActions {
		t.Errorf("actions = %d, over cap %d", len(c.RecommendedActions), DefaultConfig().MaxActions)
	}
}
