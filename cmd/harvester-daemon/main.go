// Command harvester-daemon is the process entrypoint wiring config,
// store, cache, broker and orchestrator together, with signal-aware
// graceful shutdown.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jdp1ps/svp-harvester-go/internal/broker"
	"github.com/jdp1ps/svp-harvester-go/internal/config"
	"github.com/jdp1ps/svp-harvester-go/internal/harvester"
	"github.com/jdp1ps/svp-harvester-go/internal/health"
	"github.com/jdp1ps/svp-harvester-go/internal/orchestrator"
	"github.com/jdp1ps/svp-harvester-go/internal/reconcile"
	"github.com/jdp1ps/svp-harvester-go/internal/store/factory"
	"github.com/jdp1ps/svp-harvester-go/internal/thirdcache"
)

var (
	configDir       string
	harvestersTOML  string
	logFile         string
	telemetryStdout bool
)

var rootCmd = &cobra.Command{
	Use:   "harvester-daemon",
	Short: "Run the bibliographic reference harvesting orchestrator daemon",
	RunE:  runDaemon,
}

func init() {
	rootCmd.Flags().StringVar(&configDir, "config-dir", ".", "Directory containing settings.yaml")
	rootCmd.Flags().StringVar(&harvestersTOML, "harvesters-file", "harvesters.toml", "Path to the harvesters registry TOML file")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "Rotating log file path (stderr if unset)")
	rootCmd.Flags().BoolVar(&telemetryStdout, "telemetry-stdout", false, "Emit OTel traces/metrics to stdout (local/dev observability)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "harvester-daemon:", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	var w io.Writer = os.Stderr
	if logFile != "" {
		w = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	return slog.New(slog.NewJSONHandler(w, nil))
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	slog.SetDefault(logger)

	settings, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	harvesterSpecs, err := config.LoadHarvesters(harvestersTOML)
	if err != nil {
		return fmt.Errorf("load harvesters file: %w", err)
	}

	var cache *thirdcache.Cache
	if settings.ThirdAPICachingEnabled && settings.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: settings.RedisAddr})
		defer rdb.Close()
		namespaceTTLs := make([]thirdcache.Config, 0, len(settings.CacheNamespaces))
		for ns, ttl := range settings.CacheNamespaces {
			namespaceTTLs = append(namespaceTTLs, thirdcache.Config{Namespace: ns, TTL: ttl})
		}
		cache = thirdcache.New(rdb, 24*time.Hour, namespaceTTLs)
	}

	registry := harvester.NewRegistry()
	harvester.RegisterDefaults(registry, cache)

	backend := settings.StoreBackend
	if backend == "" {
		backend = factory.BackendSQLite
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if telemetryStdout {
		shutdownTelemetry, err := initTelemetry(ctx)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = shutdownTelemetry(shutdownCtx)
		}()
	}

	store, err := factory.New(ctx, backend, factory.Options{DSN: settings.StoreDSN})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	var dereferencer reconcile.ConceptDereferencer = reconcile.NewHTTPDereferencer()

	orch, err := orchestrator.New(store, registry, store, dereferencer, store, config.ToRegistryConfigs(harvesterSpecs))
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}
	orch.Logger = logger
	orch.ConceptLanguages = settings.ConceptLanguages

	stopWatch, err := config.WatchHarvesters(harvestersTOML, logger, func(specs []config.HarvesterSpec) {
		if err := orch.SetConfigs(config.ToRegistryConfigs(specs)); err != nil {
			logger.Error("reject reloaded harvesters configuration", "error", err)
		}
	})
	if err != nil {
		logger.Warn("harvesters file hot-reload disabled", "error", err)
	} else {
		defer stopWatch()
	}

	natsOpts := []nats.Option{nats.Name("harvester-daemon")}
	if settings.BrokerUser != "" {
		natsOpts = append(natsOpts, nats.UserInfo(settings.BrokerUser, settings.BrokerPassword))
	}
	brokerURL := settings.BrokerHost
	if brokerURL == "" {
		brokerURL = nats.DefaultURL
	}
	nc, err := nats.Connect(brokerURL, natsOpts...)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer nc.Drain()

	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("open jetstream context: %w", err)
	}

	healthState := health.New()
	publisher := broker.NewPublisher(js, logger)

	pool, err := broker.NewPool(js, orch, publisher, healthState, broker.Config{
		QueueName:             settings.QueueName,
		DurableName:           durableNameFor(settings.QueueName),
		PrefetchCount:         settings.PrefetchCount,
		Workers:               settings.InnerTaskParallelismLimit,
		InnerTaskQueueLength:  settings.InnerTaskQueueLength,
		WaitBeforeShutdown:    settings.WaitBeforeShutdown,
		ConsumerAckTimeout:    settings.ConsumerAckTimeout,
		RecognisedIdentifiers: settings.RecognisedIdentifierTypes(),
	}, logger)
	if err != nil {
		return fmt.Errorf("build consumer pool: %w", err)
	}

	httpServer := &http.Server{Addr: settings.HealthAddr, Handler: health.Handler(healthState)}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server exited", "error", err)
		}
	}()

	logger.Info("harvester-daemon starting", "broker", brokerURL, "queue", settings.QueueName, "store_backend", backend)

	go pool.Run(ctx)

	<-ctx.Done()
	logger.Info("shutdown signal received, draining in-flight work")
	pool.Stop()
	<-pool.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info("harvester-daemon stopped")
	return nil
}

func durableNameFor(queueName string) string {
	if queueName == "" {
		return "harvester-daemon"
	}
	return filepath.Base(queueName)
}
