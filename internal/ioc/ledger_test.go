package ioc

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"threatlens/internal/schema"
)

func sightingAlert(id, platform string, ts time.Time) *schema.SecurityAlert {
	return &schema.SecurityAlert{
		ID:        id,
		Platform:  platform,
		Severity:  schema.SeverityMedium,
		Timestamp: ts,
	}
}

func TestUpsertConfidenceAccumulation(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	ind := Indicator{Type: TypeIP, Value: "203.0.113.7"}
	base := time.Now()

	wantConfidence := []float64{0.5, 0.6, 0.7, 0.8, 0.9, 1.0, 1.0}
	for i, want := range wantConfidence {
		rec, err := ledger.Upsert(ctx, ind, sightingAlert(
			fmt.Sprintf("a%d", i), "splunk", base.Add(time.Duration(i)*time.Minute)))
		if err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if math.Abs(rec.Confidence-want) > 1e-9 {
			t.Errorf("sighting %d: confidence = %.2f, want %.2f", i+1, rec.Confidence, want)
		}
	}
}

func TestUpsertTracksPlatformsAndAlerts(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	ind := Indicator{Type: TypeDomain, Value: "c2.badsite.net"}
	base := time.Now()

	ledger.Upsert(ctx, ind, sightingAlert("a1", "splunk", base))
	ledger.Upsert(ctx, ind, sightingAlert("a2", "qradar", base.Add(time.Minute)))
	rec, err := ledger.Upsert(ctx, ind, sightingAlert("a2", "qradar", base.Add(2*time.Minute)))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if len(rec.Platforms) != 2 {
		t.Errorf("platforms = %v, want 2 distinct", rec.Platforms)
	}
	if len(rec.RelatedAlerts) != 2 {
		t.Errorf("related alerts = %v, want 2 distinct", rec.RelatedAlerts)
	}
	if !rec.FirstSeen.Equal(base) {
		t.Errorf("first seen = %v, want %v", rec.FirstSeen, base)
	}
	if !rec.LastSeen.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("last seen = %v, want %v", rec.LastSeen, base.Add(2*time.Minute))
	}
}

func TestUpsertRepeatedAlertCountsOnce(t *testing.T) {
	// The clustering strategy and the correlation detector both report
	// every indicator, so each alert reaches the ledger twice. Confidence
	// must step once per distinct alert, not once per report.
	ctx := context.Background()
	ledger := NewMemoryLedger()
	ind := Indicator{Type: TypeIP, Value: "203.0.113.5"}
	base := time.Now()

	for pass := 0; pass < 2; pass++ {
		for i := 0; i < 3; i++ {
			if _, err := ledger.Upsert(ctx, ind, sightingAlert(
				fmt.Sprintf("a%d", i), "splunk", base.Add(time.Duration(i)*time.Minute))); err != nil {
				t.Fatalf("Upsert() error = %v", err)
			}
		}
	}

	rec, ok, err := ledger.Get(ctx, ind)
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if math.Abs(rec.Confidence-0.7) > 1e-9 {
		t.Errorf("confidence = %.2f, want 0.70 after 3 distinct alerts", rec.Confidence)
	}
	if len(rec.RelatedAlerts) != 3 {
		t.Errorf("related alerts = %d, want 3", len(rec.RelatedAlerts))
	}
}

func TestGetMissing(t *testing.T) {
	ledger := NewMemoryLedger()
	_, ok, err := ledger.Get(context.Background(), Indicator{Type: TypeIP, Value: "8.8.8.8"})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() found a record in an empty ledger")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	ind := Indicator{Type: TypeIP, Value: "203.0.113.7"}

	ledger.Upsert(ctx, ind, sightingAlert("a1", "splunk", time.Now()))

	snap, err := ledger.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	rec := snap[ind.Key()]
	rec.Platforms = append(rec.Platforms, "mutated")

	fresh, _, _ := ledger.Get(ctx, ind)
	if len(fresh.Platforms) != 1 {
		t.Errorf("snapshot mutation leaked into ledger: %v", fresh.Platforms)
	}
}

func TestConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	ind := Indicator{Type: TypeUser, Value: "svc-backup"}
	base := time.Now()

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledger.Upsert(ctx, ind, sightingAlert(
				fmt.Sprintf("a%d", i), "splunk", base))
			if err != nil {
				t.Errorf("Upsert() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	rec, ok, err := ledger.Get(ctx, ind)
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if rec.Confidence != confidenceCeiling {
		t.Errorf("confidence = %.2f, want %.2f after %d sightings", rec.Confidence, confidenceCeiling, workers)
	}
	if len(rec.RelatedAlerts) != workers {
		t.Errorf("related alerts = %d, want %d", len(rec.RelatedAlerts), workers)
	}
}

func TestUpsertCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ledger := NewMemoryLedger()
	_, err := ledger.Upsert(ctx, Indicator{Type: TypeIP, Value: "203.0.113.7"},
		sightingAlert("a1", "splunk", time.Now()))
	if err == nil {
		t.Error("Upsert() with cancelled context succeeded, want error")
	}
}

func TestKeysSorted(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	base := time.Now()

	for _, v := range []string{"9.9.9.9", "1.1.1.1", "5.5.5.5"} {
		ledger.Upsert(ctx, Indicator{Type: TypeIP, Value: v}, sightingAlert("a-"+v, "splunk", base))
	}

	keys := ledger.Keys()
	if len(keys) != 3 {
		t.Fatalf("keys = %v, want 3", keys)
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			t.Errorf("keys not sorted: %v", keys)
		}
	}
}
