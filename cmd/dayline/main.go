package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"dayline/internal/api"
	"dayline/internal/audit"
	"dayline/internal/backup"
	"dayline/internal/calendar"
	"dayline/internal/config"
	"dayline/internal/crmapi"
	"dayline/internal/db"
	"dayline/internal/events"
	"dayline/internal/metrics"
	"dayline/internal/reschedule"
	"dayline/internal/timeline"
)

const refreshInterval = time.Minute

func main() {
	_ = godotenv.Load()

	// Initialize logger
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if !cfg.Logging.Pretty {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil && cfg.Logging.Level != "" {
		logger = logger.Level(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewEventBus(&logger)
	bus.Subscribe(events.EventRescheduleFailed, func(e events.Event) error {
		var out reschedule.Outcome
		if err := e.Decode(&out); err != nil {
			return err
		}
		logger.Warn().Int64("appointment_id", out.AppointmentID).Str("date", out.Date).Str("error", out.Error).Msg("reschedule not applied")
		return nil
	})

	var (
		store    reschedule.Store
		auditLog reschedule.AuditLog
		database *db.DB
		client   *crmapi.Client
		rdb      *redis.Client
	)
	switch cfg.Store.Driver {
	case config.StoreRemote:
		client = crmapi.NewClient(crmapi.Options{
			BaseURL:       cfg.CRM.BaseURL,
			APIKey:        cfg.CRM.APIKey,
			APIExtra:      cfg.CRM.APIExtra,
			Timeout:       cfg.CRMTimeout(),
			RatePerSecond: cfg.CRM.RatePerSecond,
			Burst:         cfg.CRM.Burst,
		}, &logger)
		if cfg.Redis.Address != "" && cfg.CacheTTL() > 0 {
			rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
			defer rdb.Close()
			client.UseRedisCache(rdb, cfg.CacheTTL())
		}
		store = client
	default:
		database, err = db.NewDB(cfg.Database.Path, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("open db error")
		}
		defer database.Close()
		store = database
		auditLog = database
	}

	projector, err := timeline.NewProjector(cfg.TimelineConfig())
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid timeline settings")
	}
	dragCfg, err := cfg.DragConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid drag settings")
	}

	committer := reschedule.NewCommitter(store, cfg.CommitTimeout(), bus, auditLog, &logger)
	registry := calendar.NewRegistry(calendar.RegistryOptions{
		Store:          store,
		Committer:      committer,
		Projector:      projector,
		AvailableWidth: cfg.AvailableWidth(),
		Drag:           dragCfg,
		Bus:            bus,
		Logger:         &logger,
	})

	err = config.Watch(ctx, configPath, 30*time.Second, func(next *config.Config) {
		p, err := timeline.NewProjector(next.TimelineConfig())
		if err != nil {
			logger.Warn().Err(err).Msg("ignoring invalid timeline settings")
			return
		}
		registry.SetLayout(p, next.AvailableWidth())
	})
	if err != nil {
		logger.Error().Err(err).Msg("config watch disabled")
	}

	var exporter api.Exporter
	if database != nil {
		auditSvc := audit.NewService(audit.Config{
			Enabled:       cfg.Audit.Enabled,
			Dir:           cfg.Audit.Dir,
			RetentionDays: cfg.Audit.RetentionDays,
			ExportOnStart: cfg.Audit.ExportOnStart,
		}, database, database, &logger)
		exporter = auditSvc
		go auditSvc.Start(ctx)

		backupSvc := backup.NewService(database, backup.Config{
			Enabled:       cfg.Backup.Enabled,
			Interval:      cfg.BackupInterval(),
			StoragePath:   cfg.Backup.Path,
			RetentionDays: cfg.Backup.RetentionDays,
		}, &logger)
		go backupSvc.Start(ctx)
	}

	go refreshLoop(ctx, registry, &logger)

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8081
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, readiness(database, client, rdb), &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	logger.Info().Str("store", cfg.Store.Driver).Msg("dayline started")
	if !cfg.API.Enabled {
		<-ctx.Done()
		return
	}
	server := api.NewHTTPServer(api.Config{Port: cfg.APIPort(), APIKey: cfg.API.APIKey}, registry, exporter, &logger)
	if err := server.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("api server stopped")
	}
	if n := registry.Tracker().CancelAll(); n > 0 {
		logger.Info().Int("count", n).Msg("canceled drags on shutdown")
	}
}

// refreshLoop keeps loaded days in sync with the store and drops past days.
func refreshLoop(ctx context.Context, registry *calendar.Registry, logger *zerolog.Logger) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = registry.RefreshAll(ctx)
			y, m, d := time.Now().AddDate(0, 0, -1).Date()
			if n := registry.Evict(time.Date(y, m, d, 0, 0, 0, 0, time.Local)); n > 0 {
				logger.Debug().Int("count", n).Msg("evicted past day views")
			}
		}
	}
}

func readiness(database *db.DB, client *crmapi.Client, rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if database != nil {
			if err := database.PingContext(ctx); err != nil {
				return fmt.Errorf("db not ready: %w", err)
			}
		}
		if client != nil {
			if err := client.HealthCheck(ctx); err != nil {
				return fmt.Errorf("crm not ready: %w", err)
			}
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis not ready: %w", err)
			}
		}
		return nil
	}
}

func startHealthServer(ctx context.Context, port int, ready func(context.Context) error, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := ready(ctxPing); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
