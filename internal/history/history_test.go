package history

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreSimilarityScaling(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	score, err := store.SimilarityScore(ctx, "Auth_Brute_Force", nil)
	if err != nil {
		t.Fatalf("SimilarityScore() error = %v", err)
	}
	if score != 0 {
		t.Errorf("unseen signature score = %v, want 0", score)
	}

	for i := 0; i < 3; i++ {
		if err := store.Record(ctx, Record{
			Signature: "Auth_Brute_Force",
			Category:  "network_intrusion",
			Score:     0.7,
			CreatedAt: time.Now(),
		}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	score, err = store.SimilarityScore(ctx, "Auth_Brute_Force", nil)
	if err != nil {
		t.Fatalf("SimilarityScore() error = %v", err)
	}
	if score != 3.0/similarityCap {
		t.Errorf("score after 3 sightings = %v, want %v", score, 3.0/similarityCap)
	}
}

func TestMemoryStoreSaturates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < similarityCap+5; i++ {
		store.Record(ctx, Record{Signature: "sig", CreatedAt: time.Now()})
	}
	score, err := store.SimilarityScore(ctx, "sig", nil)
	if err != nil {
		t.Fatalf("SimilarityScore() error = %v", err)
	}
	if score != 1.0 {
		t.Errorf("saturated score = %v, want 1.0", score)
	}
}

func TestMemoryStoreRecordBatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	recs := []Record{
		{Signature: "Auth_Brute_Force", CreatedAt: time.Now()},
		{Signature: "Auth_Brute_Force", CreatedAt: time.Now()},
		{Signature: "Data_Exfil", CreatedAt: time.Now()},
	}
	if err := store.RecordBatch(ctx, recs); err != nil {
		t.Fatalf("RecordBatch() error = %v", err)
	}

	score, err := store.SimilarityScore(ctx, "Auth_Brute_Force", nil)
	if err != nil {
		t.Fatalf("SimilarityScore() error = %v", err)
	}
	if score != 2.0/similarityCap {
		t.Errorf("score after batch = %v, want %v", score, 2.0/similarityCap)
	}
	score, _ = store.SimilarityScore(ctx, "Data_Exfil", nil)
	if score != 1.0/similarityCap {
		t.Errorf("score after batch = %v, want %v", score, 1.0/similarityCap)
	}
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewMemoryStore()
	if _, err := store.SimilarityScore(ctx, "sig", nil); err == nil {
		t.Error("SimilarityScore() with cancelled context succeeded")
	}
	if err := store.Record(ctx, Record{Signature: "sig"}); err == nil {
		t.Error("Record() with cancelled context succeeded")
	}
	if err := store.RecordBatch(ctx, []Record{{Signature: "sig"}}); err == nil {
		t.Error("RecordBatch() with cancelled context succeeded")
	}
}
