package ioc

import (
	"context"
	"sort"
	"sync"
	"time"

	"threatlens/internal/schema"
)

// Record is the accumulated state for one indicator. Confidence starts at
// 0.5 and rises by 0.1 per additional distinct alert, capped at 1.0; it
// never decreases within a run.
type Record struct {
	Type          IndicatorType `json:"type"`
	Value         string        `json:"value"`
	Confidence    float64       `json:"confidence"`
	FirstSeen     time.Time     `json:"first_seen"`
	LastSeen      time.Time     `json:"last_seen"`
	Platforms     []string      `json:"platforms"`
	RelatedAlerts []string      `json:"related_alerts"`
}

const (
	initialConfidence = 0.5
	sightingIncrement = 0.1
	confidenceCeiling = 1.0
)

// Ledger is the shared indicator store. Updates to a single key are
// serialized by the implementation; reads may be snapshot-consistent since
// confidence only trends upward within a run.
type Ledger interface {
	// Upsert records a sighting of the indicator by the given alert and
	// returns the updated record.
	Upsert(ctx context.Context, ind Indicator, alert *schema.SecurityAlert) (Record, error)

	// Get returns the current record for an indicator, if any.
	Get(ctx context.Context, ind Indicator) (Record, bool, error)

	// Snapshot returns a point-in-time copy of all records keyed by
	// Indicator.Key().
	Snapshot(ctx context.Context) (map[string]Record, error)
}

const ledgerShards = 16

// MemoryLedger is the default in-process ledger. State is sharded by key
// with one mutex per shard so concurrent strategies contend only on
// colliding indicators.
type MemoryLedger struct {
	shards [ledgerShards]ledgerShard
}

type ledgerShard struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	l := &MemoryLedger{}
	for i := range l.shards {
		l.shards[i].records = make(map[string]*Record)
	}
	return l
}

func (l *MemoryLedger) shard(key string) *ledgerShard {
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return &l.shards[h%ledgerShards]
}

// Upsert records a sighting. The whole update for one key happens under
// the shard lock, so a cancelled run never leaves a key half written.
func (l *MemoryLedger) Upsert(ctx context.Context, ind Indicator, alert *schema.SecurityAlert) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	key := ind.Key()
	shard := l.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.records[key]
	if !ok {
		rec = &Record{
			Type:       ind.Type,
			Value:      ind.Value,
			Confidence: initialConfidence,
			FirstSeen:  alert.Timestamp,
			LastSeen:   alert.Timestamp,
		}
		shard.records[key] = rec
	} else {
		// A sighting is one (indicator, alert) pair. Strategies and
		// detectors both report indicators, so the same alert can reach
		// here twice; it must count once.
		if !containsString(rec.RelatedAlerts, alert.ID) {
			rec.Confidence = min(confidenceCeiling, rec.Confidence+sightingIncrement)
		}
		if alert.Timestamp.After(rec.LastSeen) {
			rec.LastSeen = alert.Timestamp
		}
		if alert.Timestamp.Before(rec.FirstSeen) {
			rec.FirstSeen = alert.Timestamp
		}
	}

	if !containsString(rec.Platforms, alert.Platform) {
		rec.Platforms = append(rec.Platforms, alert.Platform)
	}
	if !containsString(rec.RelatedAlerts, alert.ID) {
		rec.RelatedAlerts = append(rec.RelatedAlerts, alert.ID)
	}

	return copyRecord(rec), nil
}

// Get returns the record for an indicator.
func (l *MemoryLedger) Get(ctx context.Context, ind Indicator) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}

	key := ind.Key()
	shard := l.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.records[key]
	if !ok {
		return Record{}, false, nil
	}
	return copyRecord(rec), true, nil
}

// Snapshot copies all records. Shards are locked one at a time, so the
// snapshot is eventually consistent across shards.
func (l *MemoryLedger) Snapshot(ctx context.Context) (map[string]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]Record)
	for i := range l.shards {
		shard := &l.shards[i]
		shard.mu.Lock()
		for key, rec := range shard.records {
			out[key] = copyRecord(rec)
		}
		shard.mu.Unlock()
	}
	return out, nil
}

// Keys returns all indicator keys in sorted order, mainly for tests and
// diagnostics.
func (l *MemoryLedger) Keys() []string {
	keys := make([]string, 0)
	for i := range l.shards {
		shard := &l.shards[i]
		shard.mu.Lock()
		for key := range shard.records {
			keys = append(keys, key)
		}
		shard.mu.Unlock()
	}
	sort.Strings(keys)
	return keys
}

func copyRecord(rec *Record) Record {
	out := *rec
	out.Platforms = append([]string(nil), rec.Platforms...)
	out.RelatedAlerts = append([]string(nil), rec.RelatedAlerts...)
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
