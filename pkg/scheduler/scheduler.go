package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/analysis"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/common/logger"
)

// PendingLister names studies whose workbooks have not been analyzed yet.
type PendingLister interface {
	StudiesWithPending(ctx context.Context) ([]string, error)
}

type RunStarter interface {
	StartRun(ctx context.Context, studyID string) (*analysis.Run, error)
}

// Sweeper periodically starts analysis for studies with pending workbooks,
// catching anything the intake watcher missed (service restarts, files
// copied while it was down).
type Sweeper struct {
	schedule string
	pending  PendingLister
	starter  RunStarter
	cron     *cron.Cron
}

func NewSweeper(schedule string, pending PendingLister, starter RunStarter) *Sweeper {
	return &Sweeper{
		schedule: schedule,
		pending:  pending,
		starter:  starter,
		cron:     cron.New(),
	}
}

func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, s.sweep)
	if err != nil {
		return fmt.Errorf("bad sweep schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	logger.Log.WithField("schedule", s.schedule).Info("Analysis sweep scheduled")
	return nil
}

func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweep() {
	ctx := context.Background()
	studyIDs, err := s.pending.StudiesWithPending(ctx)
	if err != nil {
		logger.Log.WithError(err).Error("Sweep failed to list pending studies")
		return
	}
	for _, studyID := range studyIDs {
		if _, err := s.starter.StartRun(ctx, studyID); err != nil {
			if errors.Is(err, analysis.ErrRunConflict) {
				continue
			}
			logger.WithStudy(studyID).WithError(err).Error("Sweep failed to start run")
		}
	}
	if len(studyIDs) > 0 {
		logger.Log.WithField("studies", len(studyIDs)).Info("Sweep pass finished")
	}
}
