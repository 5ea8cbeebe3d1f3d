package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"

	"github.com/example/roadside-dispatch/internal/config"
	"github.com/example/roadside-dispatch/internal/logging"
	"github.com/example/roadside-dispatch/internal/registry"
	"github.com/example/roadside-dispatch/internal/storage"
)

var (
	cfgPath     string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:          "garage-sync",
	Short:        "Apply garage directory updates from Kafka to the registry",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "YAML configuration file")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Postgres.DSN == "" || len(cfg.Kafka.Brokers) == 0 {
		return errors.New("garage sync needs postgres.dsn and kafka.brokers")
	}
	logger := logging.NewLogger(cfg.Log.Level).With("component", "garage-sync")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.OpenPostgres(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer db.Close()
	writer := registry.NewPostgres(db)

	var inv snapshotInvalidator = noInvalidate{}
	var rc *redis.Client
	if cfg.Redis.Addr != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rc.Close()
		inv = registry.NewCached(writer, registry.NewRedisSnapshotCache(rc), cfg.Redis.SnapshotKey, cfg.Redis.SnapshotTTL, logger)
	}

	go serveMetrics(logger, func(ctx context.Context) error {
		if rc != nil {
			if err := rc.Ping(ctx).Err(); err != nil {
				return err
			}
		}
		return db.PingContext(ctx)
	})

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.GarageTopic,
		GroupID:  cfg.Kafka.Group,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer r.Close()

	logger.Info("consumer listening", "topic", cfg.Kafka.GarageTopic, "brokers", cfg.Kafka.Brokers, "group", cfg.Kafka.Group)
	consume(ctx, r, writer, inv, logger)
	logger.Info("shutting down consumer")
	return nil
}

func serveMetrics(logger *slog.Logger, ready func(context.Context) error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := ready(r.Context()); err != nil {
			http.Error(w, "dependencies not ready", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready"))
	})
	srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("metrics/health listening", "addr", metricsAddr)
	if err := srv.ListenAndServe(); err != nil {
		logger.Warn("metrics server stopped", "error", err)
	}
}
