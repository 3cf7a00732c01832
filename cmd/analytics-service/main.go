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

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/alerting"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/analysis"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/common/config"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/common/database"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/common/kafka"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/common/logger"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/issues"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/observability/metrics"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/rules"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/scheduler"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/scoring"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/snapshot"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/studies"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/watcher"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/workbooks"
)

func main() {
	logger.Init()
	cfg := config.Load()

	catalog, err := rules.NewCatalog(cfg.RulesPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load rule catalog")
	}

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	rdb := database.GetRedis()

	runRepo := analysis.NewRepository(db)
	issueRepo := issues.NewRepository(db)
	trendRepo := scoring.NewTrendRepository(db)
	alertRepo := alerting.NewRepository(db)
	workbookRepo := workbooks.NewRepository(db)
	studyRepo := studies.NewRepository(db)
	cache := snapshot.NewCache(db, rdb, cfg.SnapshotCacheTTL)

	for name, migrate := range map[string]func() error{
		"runs":      runRepo.AutoMigrate,
		"issues":    issueRepo.AutoMigrate,
		"trend":     trendRepo.AutoMigrate,
		"alerts":    alertRepo.AutoMigrate,
		"workbooks": workbookRepo.AutoMigrate,
		"studies":   studyRepo.AutoMigrate,
		"snapshots": cache.AutoMigrate,
	} {
		if err := migrate(); err != nil {
			logger.Log.WithError(err).WithField("tables", name).Fatal("failed to migrate")
		}
	}

	var producer *kafka.Producer
	var publisher analysis.EventPublisher
	if cfg.PublishEvents {
		producer = kafka.NewProducer(cfg.AnalyticsTopic)
		publisher = producer
		defer producer.Close()
	}

	studyService := studies.NewService(studyRepo, workbookRepo, issueRepo, trendRepo)
	var gatePublisher alerting.EventPublisher
	if producer != nil {
		gatePublisher = producer
	}
	gate := alerting.NewGate(alertRepo, gatePublisher)
	worker := analysis.NewWorker(runRepo, workbookRepo, issueRepo, trendRepo, cache, gate, studyService)
	analysisService := analysis.NewService(runRepo, worker, catalog, cache, publisher, cfg.MaxConcurrentRuns, cfg.RunTimeout)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.Ping() != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1/analytics").Subrouter()
	analysis.NewHandler(analysisService, issueRepo, alertRepo, trendRepo, workbookRepo).Register(api)
	studies.NewHandler(studyService).Register(api)

	ctx, stop := context.WithCancel(context.Background())

	if cfg.SweepEnabled {
		sweeper := scheduler.NewSweeper(cfg.SweepSchedule, workbookRepo, analysisService)
		if err := sweeper.Start(); err != nil {
			logger.Log.WithError(err).Fatal("failed to start analysis sweep")
		}
		defer sweeper.Stop()
	}
	if cfg.RulesAutoReload {
		rulesWatcher := watcher.NewRulesWatcher(cfg.RulesPath, catalog, time.Second)
		go func() {
			if err := rulesWatcher.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Log.WithError(err).Error("rules watcher stopped")
			}
		}()
	}

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithField("addr", address).Info("Analytics service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start analytics service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down analytics service...")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("Analytics service forced to shutdown")
	}
	analysisService.Wait()
	database.ClosePostgres()
	database.CloseRedis()
	logger.Log.Info("Analytics service stopped")
}
