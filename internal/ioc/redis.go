package ioc

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"threatlens/internal/schema"
)

// RedisConfig holds connection settings for the Redis-backed ledger.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"key_prefix"`
	TTL          time.Duration `yaml:"ttl"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	TLSEnabled   bool          `yaml:"tls_enabled"`
}

// DefaultRedisConfig returns the default Redis ledger configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		KeyPrefix:    "threatlens:ioc:",
		TTL:          30 * 24 * time.Hour,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	}
}

// RedisLedger persists indicator state in Redis so confidence accumulated
// in one run carries into the next. Each indicator maps to one hash plus a
// platform set and an alert set under the same key prefix. The alert-set
// SAdd decides whether a sighting is new, and the confidence increment
// runs only on a new alert id; since SAdd is atomic, concurrent upserts
// for the same (key, alert) pair still count once.
type RedisLedger struct {
	client *redis.Client
	cfg    RedisConfig
}

// NewRedisLedger connects to Redis and verifies the connection.
func NewRedisLedger(cfg RedisConfig) (*RedisLedger, error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisLedger{client: client, cfg: cfg}, nil
}

func (l *RedisLedger) hashKey(key string) string     { return l.cfg.KeyPrefix + key }
func (l *RedisLedger) platformKey(key string) string { return l.cfg.KeyPrefix + key + ":platforms" }
func (l *RedisLedger) alertKey(key string) string    { return l.cfg.KeyPrefix + key + ":alerts" }
func (l *RedisLedger) indexKey() string              { return l.cfg.KeyPrefix + "keys" }

// Upsert records a sighting of the indicator. A sighting is one
// (indicator, alert) pair: re-reporting the same alert id does not move
// confidence.
func (l *RedisLedger) Upsert(ctx context.Context, ind Indicator, alert *schema.SecurityAlert) (Record, error) {
	key := ind.Key()
	hkey := l.hashKey(key)

	added, err := l.client.SAdd(ctx, l.alertKey(key), alert.ID).Result()
	if err != nil {
		return Record{}, fmt.Errorf("ioc upsert %s: %w", key, err)
	}

	pipe := l.client.TxPipeline()
	// First sighting lands at initialConfidence after the increment below;
	// every later new alert only runs the increment.
	pipe.HSetNX(ctx, hkey, "type", string(ind.Type))
	pipe.HSetNX(ctx, hkey, "value", ind.Value)
	pipe.HSetNX(ctx, hkey, "first_seen", alert.Timestamp.UTC().Format(time.RFC3339Nano))
	pipe.HSetNX(ctx, hkey, "confidence", strconv.FormatFloat(initialConfidence-sightingIncrement, 'f', -1, 64))
	if added > 0 {
		pipe.HIncrByFloat(ctx, hkey, "confidence", sightingIncrement)
	}
	pipe.HSet(ctx, hkey, "last_seen", alert.Timestamp.UTC().Format(time.RFC3339Nano))
	pipe.SAdd(ctx, l.platformKey(key), alert.Platform)
	pipe.SAdd(ctx, l.indexKey(), key)
	if l.cfg.TTL > 0 {
		pipe.Expire(ctx, hkey, l.cfg.TTL)
		pipe.Expire(ctx, l.platformKey(key), l.cfg.TTL)
		pipe.Expire(ctx, l.alertKey(key), l.cfg.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return Record{}, fmt.Errorf("ioc upsert %s: %w", key, err)
	}

	rec, _, err := l.Get(ctx, ind)
	return rec, err
}

// Get returns the current record for an indicator.
func (l *RedisLedger) Get(ctx context.Context, ind Indicator) (Record, bool, error) {
	key := ind.Key()

	fields, err := l.client.HGetAll(ctx, l.hashKey(key)).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("ioc get %s: %w", key, err)
	}
	if len(fields) == 0 {
		return Record{}, false, nil
	}

	platforms, err := l.client.SMembers(ctx, l.platformKey(key)).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("ioc get %s platforms: %w", key, err)
	}
	alerts, err := l.client.SMembers(ctx, l.alertKey(key)).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("ioc get %s alerts: %w", key, err)
	}

	rec := Record{
		Type:          IndicatorType(fields["type"]),
		Value:         fields["value"],
		Platforms:     platforms,
		RelatedAlerts: alerts,
	}
	if conf, err := strconv.ParseFloat(fields["confidence"], 64); err == nil {
		rec.Confidence = min(confidenceCeiling, conf)
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["first_seen"]); err == nil {
		rec.FirstSeen = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["last_seen"]); err == nil {
		rec.LastSeen = ts
	}
	return rec, true, nil
}

// Snapshot reads all known indicators via the key index.
func (l *RedisLedger) Snapshot(ctx context.Context) (map[string]Record, error) {
	keys, err := l.client.SMembers(ctx, l.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("ioc snapshot: %w", err)
	}

	out := make(map[string]Record, len(keys))
	for _, key := range keys {
		fields, err := l.client.HGetAll(ctx, l.hashKey(key)).Result()
		if err != nil {
			return nil, fmt.Errorf("ioc snapshot %s: %w", key, err)
		}
		if len(fields) == 0 {
			continue // expired
		}
		rec, ok, err := l.Get(ctx, Indicator{Type: IndicatorType(fields["type"]), Value: fields["value"]})
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = rec
		}
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}
