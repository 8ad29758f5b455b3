package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/widedata/platform/pkg/common/config"
	"github.com/widedata/platform/pkg/common/database"
	"github.com/widedata/platform/pkg/common/httpserver"
	"github.com/widedata/platform/pkg/common/kafka"
	"github.com/widedata/platform/pkg/common/logger"
	"github.com/widedata/platform/pkg/crawlerlog"
	"github.com/widedata/platform/pkg/observability/metrics"
	"github.com/widedata/platform/pkg/pickup"
)

const (
	serviceName    = "pickup-service"
	backlogSampler = time.Minute
)

func main() {
	logger.Init()
	cfg, err := config.Load()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load configuration")
	}
	if err := cfg.Pickup.Validate(); err != nil {
		logger.Log.WithError(err).Fatal("invalid pickup configuration")
	}

	db, err := database.GetPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	repo := crawlerlog.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate crawler log table")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	requester := kafka.NewRequester(cfg.KafkaBrokers, cfg.Pickup.ReplyTopic, serviceName)
	requester.Start(ctx)

	var redisClient *redis.Client
	if cfg.Pickup.InFlightMode == config.InFlightRedis {
		redisClient = database.GetRedis(cfg)
	}
	var guardClient redis.Cmdable
	if redisClient != nil {
		guardClient = redisClient
	}
	guard, err := pickup.NewGuard(cfg.Pickup.InFlightMode, guardClient, cfg.Pickup.InFlightTTL)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to build in-flight guard")
	}

	recorder := metrics.NewRecorder()
	sinks := []pickup.ReportSink{
		pickup.ReportSinkFunc(func(r pickup.CycleReport) {
			recorder.ObserveCycle(metrics.CycleCounts{
				RowsReturned:    r.RowsReturned,
				MappingAbsences: r.MappingAbsences,
				Dispatched:      r.Dispatched,
				Skipped:         r.Skipped,
				Succeeded:       r.Succeeded,
				Failed:          r.Failed,
				QueryFailed:     r.QueryError != "",
				Cancelled:       r.Cancelled,
				Duration:        r.FinishedAt.Sub(r.StartedAt),
			})
		}),
	}

	var reportProducer *kafka.Producer
	if cfg.Pickup.ReportTopic != "" {
		reportProducer = kafka.NewProducer(cfg.KafkaBrokers, cfg.Pickup.ReportTopic)
		sinks = append(sinks, pickup.NewEventSink(reportProducer, serviceName))
	}

	dispatcher := pickup.NewDispatcher(requester, guard, pickup.DispatcherConfig{
		Destination:  cfg.Pickup.DispatchTopic,
		ReplyTimeout: cfg.Pickup.ReplyTimeout,
	})
	picker := pickup.NewPicker(repo, crawlerlog.MapRow, dispatcher, pickup.PickerConfig{
		PageSize: cfg.Pickup.PageSize,
		Workers:  cfg.Pickup.Workers,
	}, sinks...)

	scheduler := pickup.NewScheduler(cfg.Pickup.Interval, picker.Trigger)
	if err := scheduler.Start(ctx); err != nil {
		logger.Log.WithError(err).Fatal("failed to start pickup scheduler")
	}

	readiness := map[string]func(context.Context) error{
		"postgres": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if redisClient != nil {
		readiness["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	router := mux.NewRouter()
	router.Use(httpserver.Recovery, httpserver.Logging)
	router.HandleFunc("/health", httpserver.HealthHandler("healthy")).Methods(http.MethodGet)
	router.HandleFunc("/ready", httpserver.ReadyHandler(readiness)).Methods(http.MethodGet)
	router.Handle("/metrics", recorder.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	pickup.NewHTTPHandler(ctx, picker, repo).Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":           cfg.ServerHost,
			"port":           cfg.ServerPort,
			"dispatch_topic": dispatcher.Destination(),
			"page_size":      cfg.Pickup.PageSize,
			"inflight_mode":  cfg.Pickup.InFlightMode,
		}).Info("Pickup Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	go func() {
		ticker := time.NewTicker(backlogSampler)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				count, err := repo.CountPending(ctx)
				if err != nil {
					logger.Log.WithError(err).Warn("backlog sample failed")
					continue
				}
				recorder.ObserveBacklog(count)
			case <-ctx.Done():
				return
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Pickup Service...")
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	cancel()
	if err := requester.Close(); err != nil {
		logger.Log.WithError(err).Warn("failed to close requester")
	}
	if reportProducer != nil {
		if err := reportProducer.Close(); err != nil {
			logger.Log.WithError(err).Warn("failed to close report producer")
		}
	}
	if err := database.CloseRedis(); err != nil {
		logger.Log.WithError(err).Warn("failed to close redis")
	}
	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Warn("failed to close postgres")
	}

	logger.Log.Info("Pickup Service stopped")
}
