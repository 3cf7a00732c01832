package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/alerting"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/analysis"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/common/config"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/common/database"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/common/kafka"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/common/logger"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/issues"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/rules"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/scoring"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/snapshot"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/studies"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/watcher"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/workbooks"
)

// The intake watcher runs alongside the analytics service, tailing the data
// lake folder and feeding dropped workbooks into the shared database. It
// executes runs itself so files land analyzed even when the HTTP service is
// busy or down.
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

	var producer *kafka.Producer
	var publisher analysis.EventPublisher
	var gatePublisher alerting.EventPublisher
	if cfg.PublishEvents {
		producer = kafka.NewProducer(cfg.AnalyticsTopic)
		publisher = producer
		gatePublisher = producer
		defer producer.Close()
	}

	studyService := studies.NewService(studyRepo, workbookRepo, issueRepo, trendRepo)
	gate := alerting.NewGate(alertRepo, gatePublisher)
	worker := analysis.NewWorker(runRepo, workbookRepo, issueRepo, trendRepo, cache, gate, studyService)
	analysisService := analysis.NewService(runRepo, worker, catalog, cache, publisher, cfg.MaxConcurrentRuns, cfg.RunTimeout)

	if err := os.MkdirAll(cfg.DataLakePath, 0o755); err != nil {
		logger.Log.WithError(err).Fatal("failed to create data lake folder")
	}

	ctx, stop := context.WithCancel(context.Background())
	intake := watcher.New(cfg.DataLakePath, cfg.WatchDebounce, studyService, workbookRepo, analysisService)

	go func() {
		if err := intake.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Log.WithError(err).Fatal("intake watcher stopped")
		}
	}()
	if cfg.RulesAutoReload {
		rulesWatcher := watcher.NewRulesWatcher(cfg.RulesPath, catalog, cfg.WatchDebounce)
		go func() {
			if err := rulesWatcher.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Log.WithError(err).Error("rules watcher stopped")
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down intake watcher...")
	stop()
	analysisService.Wait()
	database.ClosePostgres()
	database.CloseRedis()
	logger.Log.Info("Intake watcher stopped")
}
