package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"changegate/internal/change/catalog"
	"changegate/internal/change/gateway"
	"changegate/internal/change/handler"
	"changegate/internal/change/notify"
	"changegate/internal/change/outbox"
	"changegate/internal/change/ports"
	"changegate/internal/change/registry"
	"changegate/internal/change/retry"
	"changegate/internal/change/service"
	"changegate/internal/change/store"
	"changegate/internal/platform/config"
	"changegate/internal/platform/httpserver"
	"changegate/internal/platform/kafka"
	"changegate/internal/platform/logger"
	"changegate/internal/platform/metrics"
	"changegate/internal/platform/postgres"
	platformredis "changegate/internal/platform/redis"
	"changegate/internal/platform/tracing"
	"changegate/pkg/platform/circuit"
	"changegate/pkg/platform/httputil"
)

// main wires dependencies and runs the HTTP server alongside the background
// loops until SIGINT or SIGTERM. Protocol logic lives in internal/change.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "changegate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	m := metrics.New(prometheus.DefaultRegisterer)

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
	}

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var (
		reg     ports.Registry
		sweeper *registry.Sweeper
	)
	switch cfg.Registry.Backend {
	case "redis":
		reg = registry.NewRedis(redisClient.Client, cfg.Change.ConfirmationTTL)
	default:
		mem := registry.NewInMemory(cfg.Change.ConfirmationTTL)
		reg = mem
		sweeper = registry.NewSweeper(mem, cfg.Change.SweepInterval,
			registry.WithSweepLogger(log),
			registry.WithSweepObserver(m),
		)
	}

	var localStore ports.LocalStateStore = store.NewInMemory()
	if db != nil {
		localStore = store.NewPostgres(db)
	}

	if cfg.Remote.BaseURL == "" {
		return errors.New("REMOTE_BASE_URL is required")
	}
	breaker := circuit.New("remote-sync",
		circuit.WithFailureThreshold(cfg.Remote.BreakerThreshold),
		circuit.WithCooldown(cfg.Remote.BreakerCooldown),
	)
	gw, err := gateway.NewHTTP(cfg.Remote.BaseURL,
		gateway.WithBreaker(breaker),
		gateway.WithAttemptTimeout(cfg.Remote.AttemptTimeout),
		gateway.WithLogger(log),
	)
	if err != nil {
		return err
	}

	sinks := notify.Multi{notify.NewLogSink(log)}
	if db != nil {
		sinks = append(sinks, notify.NewOutboxSink(db))
	}
	notifier := notify.NewAsync(sinks, cfg.Change.NotifyBuffer,
		notify.WithAsyncLogger(log),
		notify.WithDropObserver(m),
	)
	// Failures skip the buffer so they reach the outbox before Confirm returns.
	routed := notify.Split{Routine: notifier, Failures: sinks}

	svc, err := service.New(reg, catalog.Bindings(localStore, gw),
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithNotifier(routed),
		service.WithRetryPolicy(retry.Policy{
			MaxAttempts: cfg.Change.MaxSyncRetries,
			BaseDelay:   cfg.Change.RetryBackoffBase,
			Multiplier:  2,
			MaxDelay:    cfg.Change.RetryBackoffMax,
			Jitter:      0.2,
		}),
		service.WithIdempotencyStrategy(cfg.Change.IdempotencyKeyStrategy),
		service.WithNotifyTimeout(cfg.Change.NotifyTimeout),
	)
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", healthHandler(db, redisClient))
	handler.New(svc, log).Register(router)
	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)

	// The notifier outlives the server so confirms finishing during shutdown
	// still get their notifications delivered.
	notifyCtx, stopNotifier := context.WithCancel(context.WithoutCancel(ctx))
	defer stopNotifier()

	g.Go(func() error {
		log.Info("starting changegate", "addr", cfg.Server.Addr, "registry", cfg.Registry.Backend, "kinds", svc.Kinds())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		defer stopNotifier()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return notifier.Run(notifyCtx)
	})
	if sweeper != nil {
		g.Go(func() error {
			return sweeper.Run(gctx)
		})
	}
	if err := startOutbox(gctx, g, cfg.Kafka, db, log, m); err != nil {
		stop()
		_ = g.Wait()
		return err
	}

	err = g.Wait()
	log.Info("changegate stopped")
	return err
}

// startOutbox runs the outbox relay when both Postgres and Kafka are
// configured.
func startOutbox(ctx context.Context, g *errgroup.Group, cfg config.Kafka, db *sql.DB, log *slog.Logger, m *metrics.Metrics) error {
	if db == nil || len(cfg.Brokers) == 0 {
		log.Info("outbox relay disabled", "postgres", db != nil, "kafka", len(cfg.Brokers) > 0)
		return nil
	}

	client, err := kafka.New(cfg)
	if err != nil {
		return err
	}
	if err := kafka.EnsureTopic(ctx, client, cfg.Topic, cfg.TopicPartitions, cfg.ReplicationFactor); err != nil {
		client.Close()
		return err
	}

	worker := outbox.NewWorker(db, outbox.NewKafkaPublisher(client, cfg.Topic), cfg.PollInterval,
		outbox.WithBatchSize(cfg.BatchSize),
		outbox.WithLogger(log),
		outbox.WithObserver(m),
	)
	g.Go(func() error {
		defer client.Close()
		return worker.Run(ctx)
	})
	return nil
}

func healthHandler(db *sql.DB, redisClient *platformredis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{}
		healthy := true
		if db != nil {
			checks["postgres"] = "ok"
			if err := db.PingContext(r.Context()); err != nil {
				checks["postgres"] = err.Error()
				healthy = false
			}
		}
		if redisClient != nil {
			checks["redis"] = "ok"
			if err := redisClient.Health(r.Context()); err != nil {
				checks["redis"] = err.Error()
				healthy = false
			}
		}
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, checks)
	}
}
