package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fluxorio/threadpool/pkg/config"
	"github.com/fluxorio/threadpool/pkg/core/concurrency"
	"github.com/fluxorio/threadpool/pkg/observability/natsevents"
	"github.com/fluxorio/threadpool/pkg/observability/otel"
	"github.com/fluxorio/threadpool/pkg/observability/prometheus"
	promclient "github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// AppConfig is the demo configuration. Every field can be overridden with
// THREADPOOL_<SECTION>_<KEY>, e.g. THREADPOOL_POOL_CORE_SIZE=4.
type AppConfig struct {
	Pool    concurrency.PoolConfig `yaml:"pool"`
	Demo    DemoConfig             `yaml:"demo"`
	Metrics MetricsConfig          `yaml:"metrics"`
	Tracing otel.Config            `yaml:"tracing"`
	Events  EventsConfig           `yaml:"events"`
}

type DemoConfig struct {
	Tasks           int           `yaml:"tasks"`
	MaxValue        int           `yaml:"max_value"`
	Development     bool          `yaml:"development"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Linger keeps the process (and /metrics) up after the tasks finish
	Linger time.Duration `yaml:"linger"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type EventsConfig struct {
	Enabled bool              `yaml:"enabled"`
	NATS    natsevents.Config `yaml:"nats"`
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := concurrency.NewLogger(cfg.Demo.Development)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalw("demo failed", "error", err)
	}
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Pool: concurrency.DefaultPoolConfig(),
		Demo: DemoConfig{
			Tasks:           100,
			MaxValue:        1000,
			ShutdownTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Tracing: otel.Config{
			ServiceName:    "threadpool-demo",
			ServiceVersion: "1.0.0",
			Environment:    "development",
			Exporter:       otel.ExporterNone,
			SampleRate:     1.0,
		},
		Events: EventsConfig{
			NATS: natsevents.Config{
				Name: "threadpool-demo",
			},
		},
	}
}

func loadConfig() (*AppConfig, error) {
	cfg := defaultConfig()

	// Try to load from config file if exists
	configPath := os.Getenv("THREADPOOL_CONFIG")
	if configPath == "" {
		configPath = "threadpool.yaml"
	}
	if _, err := os.Stat(configPath); err != nil {
		configPath = ""
	}

	if err := config.LoadWithEnv(configPath, config.DefaultEnvPrefix, cfg); err != nil {
		return nil, err
	}
	cfg.Pool = cfg.Pool.WithDefaults()

	err := config.Validate(cfg,
		config.PoolSettings("Pool"),
		config.RangeValidator("Demo.Tasks", 0, 1_000_000),
		config.RangeValidator("Demo.MaxValue", 1, 1<<31-1),
		config.OneOfValidator("Tracing.Exporter", "", otel.ExporterNone, otel.ExporterStdout, otel.ExporterZipkin),
		config.RangeValidator("Tracing.SampleRate", 0, 1),
	)
	if err != nil {
		return nil, err
	}
	if cfg.Metrics.Enabled {
		if err := config.Validate(cfg, config.RequiredFields("Metrics.Addr")); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// run wires logging, metrics, tracing and events around a shared pool,
// submits Demo.Tasks tasks that each log a random integer and shuts the
// pool down once they have drained.
func run(ctx context.Context, cfg *AppConfig, logger *zap.SugaredLogger) error {
	var observers []concurrency.Observer

	if cfg.Tracing.Exporter != "" && cfg.Tracing.Exporter != otel.ExporterNone {
		shutdownTracing, err := otel.Initialize(ctx, cfg.Tracing)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Warnw("tracer shutdown failed", "error", err)
			}
		}()
		logger.Infow("tracing enabled", "exporter", cfg.Tracing.Exporter, "endpoint", cfg.Tracing.Endpoint)
	}

	registry := promclient.NewRegistry()
	if cfg.Metrics.Enabled {
		observers = append(observers, prometheus.NewMetrics(registry))
	}

	if cfg.Events.Enabled {
		publisher, err := natsevents.NewPublisher(cfg.Events.NATS, logger.Named("events"))
		if err != nil {
			return fmt.Errorf("events: %w", err)
		}
		defer publisher.Close()
		observers = append(observers, publisher)
		logger.Infow("publishing pool events", "url", cfg.Events.NATS.URL, "prefix", cfg.Events.NATS.Prefix)
	}

	provider := concurrency.NewProvider(ctx, cfg.Pool,
		concurrency.WithLogger(logger.Named("pool")),
		concurrency.WithObservers(observers...),
	)
	if err := provider.Err(); err != nil {
		return err
	}
	pool := provider.Pool()

	if cfg.Metrics.Enabled {
		if err := prometheus.RegisterPoolStats(registry, pool); err != nil {
			return err
		}
		server := prometheus.NewServer(cfg.Metrics.Addr, registry, pool)
		go func() {
			if err := server.ListenAndServe(); err != nil {
				logger.Errorw("metrics server failed", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
		defer server.Shutdown(context.Background())
		logger.Infow("metrics endpoint started", "addr", cfg.Metrics.Addr, "path", prometheus.DefaultMetricsPath)
	}

	logger.Infow("submitting tasks",
		"pool", pool.Name(),
		"tasks", cfg.Demo.Tasks,
		"core_size", cfg.Pool.CoreSize,
		"max_size", cfg.Pool.MaxSize,
		"queue_capacity", cfg.Pool.QueueCapacity,
	)
	for i := 0; i < cfg.Demo.Tasks; i++ {
		task := concurrency.NewNamedTask(fmt.Sprintf("random-%d", i), randomValueTask(logger, i, cfg.Demo.MaxValue))
		if err := pool.Execute(task); err != nil {
			// only after shutdown, e.g. on a signal
			logger.Warnw("submission stopped", "submitted", i, "error", err)
			break
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Demo.ShutdownTimeout)
	defer cancel()
	if err := provider.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("pool shutdown: %w", err)
	}

	stats := pool.Stats()
	logger.Infow("pool stats",
		"state", stats.State.String(),
		"completed", stats.CompletedTasks,
		"failed", stats.FailedTasks,
		"rejected", stats.RejectedTasks,
		"dropped", stats.DroppedTasks,
		"largest_pool_size", stats.LargestPoolSize,
	)

	if cfg.Demo.Linger > 0 {
		logger.Infow("lingering", "for", cfg.Demo.Linger)
		select {
		case <-time.After(cfg.Demo.Linger):
		case <-ctx.Done():
		}
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		logger.Infow("interrupted")
	}
	return nil
}

func randomValueTask(logger *zap.SugaredLogger, i, maxValue int) concurrency.TaskFunc {
	return func(ctx context.Context) error {
		logger.Infow("random value", "task", i, "value", rand.Intn(maxValue))
		return nil
	}
}
