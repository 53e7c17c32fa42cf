package history

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseConfig holds the connection settings for the history store.
type ClickHouseConfig struct {
	Hosts           []string      `yaml:"hosts"`
	Database        string        `yaml:"database"`
	Table           string        `yaml:"table"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	TLSEnabled      bool          `yaml:"tls_enabled"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	// Lookback bounds the similarity query window.
	Lookback time.Duration `yaml:"lookback"`
}

// DefaultClickHouseConfig returns the default history store configuration.
func DefaultClickHouseConfig() ClickHouseConfig {
	return ClickHouseConfig{
		Hosts:           []string{"localhost:9000"},
		Database:        "threatlens",
		Table:           "threat_assessments",
		Username:        "default",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		DialTimeout:     10 * time.Second,
		Lookback:        30 * 24 * time.Hour,
	}
}

// ClickHouseStore persists assessments to ClickHouse so the
// historical-similarity feature spans runs and processes.
type ClickHouseStore struct {
	conn driver.Conn
	cfg  ClickHouseConfig
}

// NewClickHouseStore connects, verifies the connection, and ensures the
// assessment table exists.
func NewClickHouseStore(cfg ClickHouseConfig) (*ClickHouseStore, error) {
	opts := &clickhouse.Options{
		Addr: cfg.Hosts,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionZSTD,
		},
		DialTimeout:     cfg.DialTimeout,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
	if cfg.TLSEnabled {
		opts.TLS = &tls.Config{InsecureSkipVerify: false}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	s := &ClickHouseStore{conn: conn, cfg: cfg}
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ClickHouseStore) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			signature  String,
			platforms  Array(String),
			category   LowCardinality(String),
			score      Float64,
			priority   LowCardinality(String),
			created_at DateTime64(3)
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(created_at)
		ORDER BY (signature, created_at)
		TTL toDateTime(created_at) + INTERVAL 90 DAY
	`, s.cfg.Database, s.cfg.Table)

	if err := s.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure assessment table: %w", err)
	}
	return nil
}

// SimilarityScore counts past sightings of the signature inside the
// lookback window, scaled into [0,1].
func (s *ClickHouseStore) SimilarityScore(ctx context.Context, signature string, _ []string) (float64, error) {
	query := fmt.Sprintf(`
		SELECT count()
		FROM %s.%s
		WHERE signature = ? AND created_at >= ?
	`, s.cfg.Database, s.cfg.Table)

	var count uint64
	row := s.conn.QueryRow(ctx, query, signature, time.Now().Add(-s.cfg.Lookback))
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("similarity query: %w", err)
	}

	if count >= similarityCap {
		return 1.0, nil
	}
	return float64(count) / similarityCap, nil
}

// Record inserts one assessment outcome.
func (s *ClickHouseStore) Record(ctx context.Context, rec Record) error {
	query := fmt.Sprintf(`
		INSERT INTO %s.%s (signature, platforms, category, score, priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.cfg.Database, s.cfg.Table)

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if err := s.conn.Exec(ctx, query, rec.Signature, rec.Platforms, rec.Category, rec.Score, rec.Priority, createdAt); err != nil {
		return fmt.Errorf("record assessment: %w", err)
	}
	return nil
}

// RecordBatch inserts many assessments through one prepared batch.
func (s *ClickHouseStore) RecordBatch(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}

	query := fmt.Sprintf("INSERT INTO %s.%s", s.cfg.Database, s.cfg.Table)
	batch, err := s.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare assessment batch: %w", err)
	}

	for _, rec := range recs {
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if err := batch.Append(rec.Signature, rec.Platforms, rec.Category, rec.Score, rec.Priority, createdAt); err != nil {
			return fmt.Errorf("append assessment: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send assessment batch: %w", err)
	}
	slog.Debug("assessment batch written", "count", len(recs))
	return nil
}

// Close releases the connection.
func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}
