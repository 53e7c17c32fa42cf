package noise

import (
	"fmt"
	"testing"
	"time"

	"threatlens/internal/schema"
)

func testRule() Rule {
	return Rule{
		Name:         "failed_login_burst",
		Patterns:     []string{"failed login"},
		Platforms:    []string{"splunk"},
		TimeWindow:   5 * time.Minute,
		MaxFrequency: 3,
		Enabled:      true,
	}
}

func makeAlert(id, platform, title string, ts time.Time) *schema.SecurityAlert {
	return &schema.SecurityAlert{
		ID:        id,
		Platform:  platform,
		Title:     title,
		Severity:  schema.SeverityLow,
		Timestamp: ts,
	}
}

func TestApplyKeepsUnmatchedAlerts(t *testing.T) {
	f := NewFilter([]Rule{testRule()})
	base := time.Now()

	alerts := []*schema.SecurityAlert{
		makeAlert("a1", "splunk", "Privilege escalation detected", base),
		makeAlert("a2", "qradar", "Failed login for admin", base),
	}

	kept, filtered := f.Apply(alerts)
	if len(kept) != 2 {
		t.Errorf("kept = %d, want 2", len(kept))
	}
	if len(filtered) != 0 {
		t.Errorf("filtered = %d, want 0", len(filtered))
	}
}

func TestApplySlidingWindow(t *testing.T) {
	tests := []struct {
		name         string
		count        int
		spacing      time.Duration
		wantKept     int
		wantFiltered int
	}{
		{name: "under threshold", count: 3, spacing: time.Minute, wantKept: 3, wantFiltered: 0},
		{name: "over threshold in window", count: 6, spacing: 30 * time.Second, wantKept: 3, wantFiltered: 3},
		{name: "spread outside window", count: 6, spacing: 10 * time.Minute, wantKept: 6, wantFiltered: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFilter([]Rule{testRule()})
			base := time.Now()

			alerts := make([]*schema.SecurityAlert, 0, tt.count)
			for i := 0; i < tt.count; i++ {
				alerts = append(alerts, makeAlert(
					fmt.Sprintf("a%d", i), "splunk", "Failed login for svc",
					base.Add(time.Duration(i)*tt.spacing)))
			}

			kept, filtered := f.Apply(alerts)
			if len(kept) != tt.wantKept {
				t.Errorf("kept = %d, want %d", len(kept), tt.wantKept)
			}
			if len(filtered) != tt.wantFiltered {
				t.Errorf("filtered = %d, want %d", len(filtered), tt.wantFiltered)
			}
		})
	}
}

func TestApplyTotality(t *testing.T) {
	f := NewFilter([]Rule{testRule()})
	base := time.Now()

	alerts := make([]*schema.SecurityAlert, 0, 20)
	for i := 0; i < 20; i++ {
		title := "Failed login for user"
		if i%3 == 0 {
			title = "Malware detected"
		}
		alerts = append(alerts, makeAlert(
			fmt.Sprintf("a%d", i), "splunk", title,
			base.Add(time.Duration(i)*20*time.Second)))
	}

	kept, filtered := f.Apply(alerts)
	if len(kept)+len(filtered) != len(alerts) {
		t.Errorf("kept %d + filtered %d != input %d", len(kept), len(filtered), len(alerts))
	}

	seen := make(map[string]bool)
	for _, a := range kept {
		seen[a.ID] = true
	}
	for _, a := range filtered {
		if seen[a.ID] {
			t.Errorf("alert %s in both kept and filtered", a.ID)
		}
	}
}

func TestApplyOutOfOrderTimestamps(t *testing.T) {
	f := NewFilter([]Rule{testRule()})
	base := time.Now()

	// Same window regardless of arrival order.
	alerts := []*schema.SecurityAlert{
		makeAlert("a3", "splunk", "failed login", base.Add(3*time.Minute)),
		makeAlert("a0", "splunk", "failed login", base),
		makeAlert("a4", "splunk", "failed login", base.Add(4*time.Minute)),
		makeAlert("a1", "splunk", "failed login", base.Add(1*time.Minute)),
		makeAlert("a2", "splunk", "failed login", base.Add(2*time.Minute)),
	}

	kept, filtered := f.Apply(alerts)
	if len(kept) != 3 || len(filtered) != 2 {
		t.Errorf("kept = %d filtered = %d, want 3 and 2", len(kept), len(filtered))
	}
}

func TestApplyPerPlatformWindows(t *testing.T) {
	rule := testRule()
	rule.Platforms = []string{"splunk", "qradar"}
	f := NewFilter([]Rule{rule})
	base := time.Now()

	var alerts []*schema.SecurityAlert
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * 30 * time.Second)
		alerts = append(alerts,
			makeAlert(fmt.Sprintf("s%d", i), "splunk", "failed login", ts),
			makeAlert(fmt.Sprintf("q%d", i), "qradar", "failed login", ts))
	}

	// Three per platform stays under the per-platform cap even though six
	// alerts matched the rule overall.
	kept, filtered := f.Apply(alerts)
	if len(kept) != 6 {
		t.Errorf("kept = %d, want 6", len(kept))
	}
	if len(filtered) != 0 {
		t.Errorf("filtered = %d, want 0", len(filtered))
	}
}

func TestNewFilterSkipsDisabledAndMalformed(t *testing.T) {
	disabled := testRule()
	disabled.Enabled = false

	malformed := testRule()
	malformed.Name = "broken"
	malformed.TimeWindow = 0

	f := NewFilter([]Rule{disabled, malformed})
	if len(f.rules) != 0 {
		t.Errorf("usable rules = %d, want 0", len(f.rules))
	}

	base := time.Now()
	alerts := []*schema.SecurityAlert{
		makeAlert("a1", "splunk", "failed login", base),
		makeAlert("a2", "splunk", "failed login", base.Add(time.Second)),
	}
	kept, filtered := f.Apply(alerts)
	if len(kept) != 2 || len(filtered) != 0 {
		t.Errorf("kept = %d filtered = %d, want all kept", len(kept), len(filtered))
	}
}

func TestStats(t *testing.T) {
	f := NewFilter([]Rule{testRule()})
	base := time.Now()

	var alerts []*schema.SecurityAlert
	for i := 0; i < 5; i++ {
		alerts = append(alerts, makeAlert(
			fmt.Sprintf("a%d", i), "splunk", "failed login",
			base.Add(time.Duration(i)*time.Second)))
	}
	f.Apply(alerts)

	stats := f.Stats()
	s, ok := stats["failed_login_burst"]
	if !ok {
		t.Fatal("expected stats for failed_login_burst")
	}
	if s.Matched != 5 {
		t.Errorf("matched = %d, want 5", s.Matched)
	}
	if s.Filtered != 2 {
		t.Errorf("filtered = %d, want 2", s.Filtered)
	}
}
