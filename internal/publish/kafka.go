// Package publish emits ranked threat items to the external
// notification/response router over Kafka. The pipeline itself never
// depends on this package; it is boundary plumbing for service deployments.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"threatlens/internal/pipeline"
)

// ErrPublisherClosed is returned after Close.
var ErrPublisherClosed = errors.New("publish: publisher is closed")

// Config holds Kafka connection settings for the threat publisher.
type Config struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RequiredAcks int           `yaml:"required_acks"`
}

// DefaultConfig returns the default publisher configuration.
func DefaultConfig() Config {
	return Config{
		Brokers:      []string{"localhost:9092"},
		Topic:        "threatlens.threats",
		BatchSize:    100,
		BatchTimeout: time.Second,
		MaxRetries:   3,
		RetryBackoff: 250 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: -1,
	}
}

// Validate checks the publisher configuration.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("publish: at least one broker is required")
	}
	if c.Topic == "" {
		return fmt.Errorf("publish: topic is required")
	}
	return nil
}

// Publisher writes ranked threats to the configured topic, keyed by threat
// id so replays for the same threat land on the same partition.
type Publisher struct {
	writer    *kafka.Writer
	cfg       Config
	logger    *slog.Logger
	closed    atomic.Bool
	published atomic.Int64
	failed    atomic.Int64
}

// NewPublisher creates a threat publisher.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxRetries,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...), "component", "threat-publisher")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "threat-publisher")
		}),
	}

	logger.Info("threat publisher initialized",
		"brokers", cfg.Brokers, "topic", cfg.Topic)

	return &Publisher{writer: writer, cfg: cfg, logger: logger}, nil
}

// Publish sends every ranked threat of a run result in one batch.
func (p *Publisher) Publish(ctx context.Context, result *pipeline.Result) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	if len(result.Threats) == 0 {
		return nil
	}

	messages := make([]kafka.Message, 0, len(result.Threats))
	for i := range result.Threats {
		threat := &result.Threats[i]
		value, err := json.Marshal(threat)
		if err != nil {
			return fmt.Errorf("publish: marshal threat %s: %w", threat.ID, err)
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(threat.ID),
			Value: value,
			Time:  time.Now(),
		})
	}

	var lastErr error
	backoff := p.cfg.RetryBackoff
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		if err := p.writer.WriteMessages(ctx, messages...); err != nil {
			lastErr = err
			continue
		}

		p.published.Add(int64(len(messages)))
		p.logger.Info("published threats",
			"count", len(messages), "topic", p.cfg.Topic)
		return nil
	}

	p.failed.Add(int64(len(messages)))
	return fmt.Errorf("publish: write after %d attempts: %w", p.cfg.MaxRetries+1, lastErr)
}

// Stats returns publish counters.
func (p *Publisher) Stats() map[string]int64 {
	return map[string]int64{
		"published": p.published.Load(),
		"failed":    p.failed.Load(),
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.writer.Close()
}
