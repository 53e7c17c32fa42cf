// Package main is the entry point for the ThreatLens batch runner. It reads
// a batch of security alerts, runs the full correlation pipeline, and prints
// the ranked threats.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"threatlens/internal/config"
	"threatlens/internal/correlate"
	"threatlens/internal/geo"
	"threatlens/internal/history"
	"threatlens/internal/ioc"
	"threatlens/internal/kb"
	"threatlens/internal/logging"
	"threatlens/internal/pipeline"
	"threatlens/internal/publish"
	"threatlens/internal/report"
	"threatlens/internal/schema"
)

var version = "dev"

func main() {
	var (
		showVersion bool
		inputPath   string
		outputMode  string
		detailCount int
	)

	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.StringVar(&inputPath, "input", "-", "Alert batch JSON file (- for stdin)")
	flag.StringVar(&outputMode, "output", "table", "Output format: table or json")
	flag.IntVar(&detailCount, "detail", 0, "Render full detail for the top N threats")
	flag.Parse()

	if showVersion {
		fmt.Printf("threatlens %s\n", version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, inputPath, outputMode, detailCount); err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, inputPath, outputMode string, detailCount int) error {
	doc, err := loadKnowledgeBase(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to load knowledge base: %w", err)
	}

	slog.Info("knowledge base loaded",
		"noise_rules", len(doc.NoiseRules),
		"attack_patterns", len(doc.AttackPatterns),
	)

	ledger, closeLedger, err := buildLedger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize IOC ledger: %w", err)
	}
	defer closeLedger()

	store, closeStore, err := buildHistory(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize history store: %w", err)
	}
	defer closeStore()

	var locator correlate.Geolocator
	if len(cfg.Geo.Entries) > 0 {
		locator = geo.NewStaticResolver(cfg.Geo.Entries)
	}

	alerts, err := readAlerts(inputPath, cfg)
	if err != nil {
		return err
	}

	engine := pipeline.New(cfg.Pipeline, doc.NoiseRules, doc.AttackPatterns, ledger, locator, store, logger)

	result, err := engine.Run(ctx, alerts)
	if err != nil {
		return fmt.Errorf("pipeline run failed: %w", err)
	}

	recordAssessments(ctx, store, result)

	if cfg.Publish.Enabled {
		if err := publishResult(ctx, cfg, logger, result); err != nil {
			slog.Error("failed to publish threats", "error", err)
		}
	}

	switch outputMode {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
	default:
		fmt.Print(report.Render(result))
		for i := 0; i < detailCount && i < len(result.Threats); i++ {
			fmt.Println(report.RenderDetail(result.Threats[i]))
		}
	}

	return nil
}

func loadKnowledgeBase(ctx context.Context, cfg *config.Config) (*kb.Document, error) {
	if cfg.KnowledgeBase.Source == "s3" {
		loader, err := kb.NewS3Loader(ctx, cfg.KnowledgeBase.S3)
		if err != nil {
			return nil, err
		}
		return loader.Load(ctx)
	}
	return kb.NewLoader().LoadFile(cfg.KnowledgeBase.Path)
}

func buildLedger(cfg *config.Config) (ioc.Ledger, func(), error) {
	if cfg.Ledger.Backend == "redis" {
		ledger, err := ioc.NewRedisLedger(cfg.Ledger.Redis)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using redis IOC ledger", "addr", cfg.Ledger.Redis.Addr)
		return ledger, func() {
			if err := ledger.Close(); err != nil {
				slog.Warn("failed to close redis ledger", "error", err)
			}
		}, nil
	}
	return ioc.NewMemoryLedger(), func() {}, nil
}

func buildHistory(cfg *config.Config) (history.Store, func(), error) {
	if cfg.History.Backend == "clickhouse" {
		store, err := history.NewClickHouseStore(cfg.History.ClickHouse)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using clickhouse history store", "hosts", cfg.History.ClickHouse.Hosts)
		return store, func() {
			if err := store.Close(); err != nil {
				slog.Warn("failed to close clickhouse store", "error", err)
			}
		}, nil
	}
	return history.NewMemoryStore(), func() {}, nil
}

// readAlerts decodes the alert batch and validates each alert. Invalid
// alerts are logged and skipped so one bad record cannot sink the batch.
func readAlerts(path string, cfg *config.Config) ([]*schema.SecurityAlert, error) {
	var reader io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		reader = f
	}

	var alerts []*schema.SecurityAlert
	if err := json.NewDecoder(reader).Decode(&alerts); err != nil {
		return nil, fmt.Errorf("failed to decode alert batch: %w", err)
	}

	validator := schema.NewValidatorWithConfig(cfg.Validation)

	valid := make([]*schema.SecurityAlert, 0, len(alerts))
	for i, alert := range alerts {
		if alert == nil {
			continue
		}
		if alert.ID == "" {
			alert.ID = uuid.New().String()
		}
		if err := validator.Validate(alert); err != nil {
			slog.Warn("skipping invalid alert", "index", i, "alert_id", alert.ID, "error", err)
			continue
		}
		valid = append(valid, alert)
	}

	slog.Info("alert batch loaded", "total", len(alerts), "valid", len(valid))
	return valid, nil
}

func recordAssessments(ctx context.Context, store history.Store, result *pipeline.Result) {
	if len(result.Threats) == 0 {
		return
	}
	now := time.Now().UTC()
	recs := make([]history.Record, 0, len(result.Threats))
	for _, threat := range result.Threats {
		recs = append(recs, history.Record{
			Signature: threat.Signature,
			Platforms: threat.Platforms,
			Category:  string(threat.Category),
			Score:     threat.Score,
			Priority:  threat.Priority.String(),
			CreatedAt: now,
		})
	}
	if err := store.RecordBatch(ctx, recs); err != nil {
		slog.Warn("failed to record assessments", "count", len(recs), "error", err)
	}
}

func publishResult(ctx context.Context, cfg *config.Config, logger *slog.Logger, result *pipeline.Result) error {
	publisher, err := publish.NewPublisher(cfg.Publish.Kafka, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	if err := publisher.Publish(ctx, result); err != nil {
		return err
	}

	stats := publisher.Stats()
	slog.Info("threats published",
		"topic", cfg.Publish.Kafka.Topic,
		"published", stats["published"],
		"failed", stats["failed"],
	)
	return nil
}
