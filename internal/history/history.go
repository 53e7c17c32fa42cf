// Package history stores past threat assessments and answers the scorer's
// historical-similarity lookups.
package history

import (
	"context"
	"sync"
	"time"
)

// Record is one persisted assessment outcome.
type Record struct {
	Signature string    `json:"signature"`
	Platforms []string  `json:"platforms"`
	Category  string    `json:"category"`
	Score     float64   `json:"score"`
	Priority  string    `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

// Store extends the scorer's read-side lookup with assessment writes.
// RecordBatch is the run-level write path; Record covers one-off writes.
type Store interface {
	SimilarityScore(ctx context.Context, signature string, platforms []string) (float64, error)
	Record(ctx context.Context, rec Record) error
	RecordBatch(ctx context.Context, recs []Record) error
}

// similarityCap is the sighting count at which a signature saturates to a
// similarity of 1.0.
const similarityCap = 5

// MemoryStore keeps signature counts for the current process only. It is
// the default when ClickHouse is not configured.
type MemoryStore struct {
	mu   sync.RWMutex
	seen map[string]int
}

// NewMemoryStore creates an empty in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]int)}
}

// SimilarityScore reports how often the signature was assessed before,
// scaled into [0,1].
func (s *MemoryStore) SimilarityScore(ctx context.Context, signature string, _ []string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := s.seen[signature]
	if count >= similarityCap {
		return 1.0, nil
	}
	return float64(count) / similarityCap, nil
}

// Record registers one assessment outcome.
func (s *MemoryStore) Record(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[rec.Signature]++
	return nil
}

// RecordBatch registers all outcomes of one run.
func (s *MemoryStore) RecordBatch(ctx context.Context, recs []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		s.seen[rec.Signature]++
	}
	return nil
}
