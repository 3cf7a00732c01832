package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/common/logger"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/rules"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/snapshot"
)

// EventPublisher matches the Kafka producer surface.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

// SnapshotReader serves the committed analytics view.
type SnapshotReader interface {
	Get(ctx context.Context, studyID string) (*snapshot.Snapshot, error)
}

// Service owns run lifecycle: admission, async execution, cancellation, and
// the read side. A run pins the rule snapshot it was admitted with, so a
// catalog reload mid-run changes nothing for it.
type Service struct {
	runs      RunStore
	worker    *Worker
	catalog   *rules.Catalog
	snapshots SnapshotReader
	publisher EventPublisher

	timeout time.Duration
	slots   chan struct{}
	wg      sync.WaitGroup
}

func NewService(runs RunStore, worker *Worker, catalog *rules.Catalog, snapshots SnapshotReader, publisher EventPublisher, maxConcurrent int, timeout time.Duration) *Service {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Service{
		runs:      runs,
		worker:    worker,
		catalog:   catalog,
		snapshots: snapshots,
		publisher: publisher,
		timeout:   timeout,
		slots:     make(chan struct{}, maxConcurrent),
	}
}

// StartRun admits a run for the study and executes it asynchronously.
// Returns ErrRunConflict while the study already has an active run.
func (s *Service) StartRun(ctx context.Context, studyID string) (*Run, error) {
	snap := s.catalog.Snapshot()
	run, err := s.runs.Begin(ctx, studyID, snap.Version)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "run_started", map[string]interface{}{
		"run_id":        run.ID,
		"study_id":      studyID,
		"rules_version": snap.Version,
	})

	// The worker goroutine mutates the run as it progresses, so the caller
	// gets its own copy of the admitted state.
	admitted := *run

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.slots <- struct{}{}
		defer func() { <-s.slots }()

		runCtx := context.Background()
		if s.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, s.timeout)
			defer cancel()
		}
		s.worker.Execute(runCtx, run, snap)
		s.publishOutcome(run)
	}()
	return &admitted, nil
}

// CurrentRun returns the study's latest run state, or ErrNoActiveRun when the
// study has never been analyzed.
func (s *Service) CurrentRun(ctx context.Context, studyID string) (*Run, error) {
	return s.runs.Current(ctx, studyID)
}

// CancelRun flags the study's active run for cancellation. The run stops at
// its next stage boundary; the flagged run is returned immediately.
func (s *Service) CancelRun(ctx context.Context, studyID string) (*Run, error) {
	return s.runs.RequestCancel(ctx, studyID)
}

// GetSnapshot serves the last committed analytics snapshot.
func (s *Service) GetSnapshot(ctx context.Context, studyID string) (*snapshot.Snapshot, error) {
	return s.snapshots.Get(ctx, studyID)
}

// ReloadRules re-reads the rule catalog. In-flight runs keep their snapshot.
func (s *Service) ReloadRules() (*rules.Snapshot, error) {
	return s.catalog.Reload()
}

// Wait blocks until in-flight runs finish. Used during shutdown.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) publishOutcome(run *Run) {
	data := map[string]interface{}{
		"run_id":   run.ID,
		"study_id": run.StudyID,
	}
	eventType := "run_completed"
	if run.State == StateFailed {
		eventType = "run_failed"
		data["reason"] = run.Error
	}
	s.publish(context.Background(), eventType, data)
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishEvent(ctx, eventType, "analysis", data); err != nil {
		logger.WithField("event_type", eventType).WithError(err).Warn("Failed to publish run event")
	}
}
