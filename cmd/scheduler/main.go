package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinicsched/internal/api"
	"clinicsched/internal/config"
	"clinicsched/internal/conflict"
	"clinicsched/internal/db"
	"clinicsched/internal/events"
	"clinicsched/internal/generator"
	"clinicsched/internal/metrics"
	"clinicsched/internal/override"
	"clinicsched/internal/quarter"
	"clinicsched/internal/report"
	"clinicsched/internal/roomdir"
	"clinicsched/internal/slots"
	"clinicsched/internal/trigger"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("SCHED_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Str("timezone", cfg.Scheduling.Timezone).Msg("invalid timezone")
	}
	cal := quarter.NewCalendar(loc)

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer database.Close()

	backup := db.NewBackup(cfg.Database.Path, cfg.Backup, logger)
	if err := backup.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start backup job")
	}
	defer backup.Stop()

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Rooms, shifts and holiday rules live in rooms.yaml and reload on
	// change. Schedules keep their generation-time snapshots regardless.
	roomsCfg, err := config.LoadRoomsConfig(cfg.Scheduling.RoomsPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load rooms config")
	}
	settings := config.NewSettings(roomsCfg, cfg.Scheduling.UnitDurationMinutes, loc)
	source := roomdir.NewStaticSource(roomsCfg.ModelRooms())

	if err := config.WatchRooms(ctx, cfg.Scheduling.RoomsPath, cfg.RoomsReloadInterval(), func(rc *config.RoomsConfig) {
		settings.Apply(rc)
		source.Reload(rc.ModelRooms())
		logger.Info().Int("rooms", len(rc.Rooms)).Msg("rooms config reloaded")
	}); err != nil {
		logger.Fatal().Err(err).Msg("failed to watch rooms config")
	}

	directory := roomdir.NewCachedDirectory(source, rdb, cfg.CacheTTL(), logger)
	factory := slots.NewFactory(database, logger)
	publisher := events.NewPublisher(rdb, cfg.EventRate(), logger)
	gen := generator.New(database, factory, directory, settings, settings, publisher, cal, logger)
	manager := override.NewManager(database, database, factory, logger)
	detector := conflict.NewDetector(database, logger)
	exporter := report.NewExporter(database, database, logger)

	runner := trigger.NewRunner(trigger.NewPolicy(cal), database, directory, gen, logger)
	if err := runner.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start auto-generation runner")
	}
	defer runner.Stop()

	if rdb != nil {
		consumer := events.NewConsumer(rdb, gen, directory, cal, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("event consumer stopped")
			}
		}()
	}

	if cfg.API.Enabled {
		server := api.NewServer(gen, manager, detector, database, exporter, cal, cfg.API.APIKey, logger)
		go startAPIServer(ctx, cfg.API.Port, server.Handler(), &logger)
	}

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, database, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	logger.Info().Str("timezone", loc.String()).Msg("scheduler started")
	<-ctx.Done()
	logger.Info().Msg("scheduler stopping")
}

func startAPIServer(ctx context.Context, port int, handler http.Handler, logger *zerolog.Logger) {
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: handler}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("api server error")
	}
}

func startHealthServer(ctx context.Context, port int, database *db.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := database.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
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

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
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
