package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RunStore is the persistence surface the worker and service need. The gorm
// Repository implements it; tests substitute an in-memory store.
type RunStore interface {
	Begin(ctx context.Context, studyID, rulesVersion string) (*Run, error)
	Update(ctx context.Context, run *Run) error
	Current(ctx context.Context, studyID string) (*Run, error)
	Get(ctx context.Context, runID string) (*Run, error)
	RequestCancel(ctx context.Context, studyID string) (*Run, error)
	CancelRequested(ctx context.Context, runID string) (bool, error)
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Run{})
}

// Begin inserts a pending run, claiming the study's active slot. The unique
// index on active_key turns a lost race into ErrRunConflict instead of a
// second concurrent run.
func (r *Repository) Begin(ctx context.Context, studyID, rulesVersion string) (*Run, error) {
	key := studyID
	run := &Run{
		ID:           uuid.New().String(),
		StudyID:      studyID,
		State:        StatePending,
		RulesVersion: rulesVersion,
		RequestedAt:  time.Now().UTC(),
		ActiveKey:    &key,
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrRunConflict
		}
		return nil, fmt.Errorf("begin run for study %s: %w", studyID, err)
	}
	return run, nil
}

func (r *Repository) Update(ctx context.Context, run *Run) error {
	if run.Terminal() {
		run.ActiveKey = nil
	}
	// Save with a nil ActiveKey must clear the column, so use explicit updates.
	err := r.db.WithContext(ctx).Model(&Run{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"state":       string(run.State),
			"stage":       run.Stage,
			"progress":    run.Progress,
			"error":       run.Error,
			"started_at":  run.StartedAt,
			"finished_at": run.FinishedAt,
			"active_key":  run.ActiveKey,
		}).Error
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	return nil
}

// Current returns the study's most recent run, active or terminal.
func (r *Repository) Current(ctx context.Context, studyID string) (*Run, error) {
	var run Run
	err := r.db.WithContext(ctx).
		Where("study_id = ?", studyID).
		Order("requested_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoActiveRun
	}
	if err != nil {
		return nil, fmt.Errorf("current run for study %s: %w", studyID, err)
	}
	return &run, nil
}

func (r *Repository) Get(ctx context.Context, runID string) (*Run, error) {
	var run Run
	err := r.db.WithContext(ctx).Where("id = ?", runID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoActiveRun
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return &run, nil
}

// RequestCancel flags the study's active run. The worker honors the flag at
// its next stage boundary.
func (r *Repository) RequestCancel(ctx context.Context, studyID string) (*Run, error) {
	var run Run
	err := r.db.WithContext(ctx).
		Where("study_id = ? AND state IN ?", studyID, []string{string(StatePending), string(StateRunning)}).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoActiveRun
	}
	if err != nil {
		return nil, fmt.Errorf("find active run for study %s: %w", studyID, err)
	}
	err = r.db.WithContext(ctx).Model(&Run{}).
		Where("id = ?", run.ID).
		Update("cancel_requested", true).Error
	if err != nil {
		return nil, fmt.Errorf("request cancel for run %s: %w", run.ID, err)
	}
	run.CancelRequested = true
	return &run, nil
}

func (r *Repository) CancelRequested(ctx context.Context, runID string) (bool, error) {
	var run Run
	err := r.db.WithContext(ctx).Select("cancel_requested").Where("id = ?", runID).First(&run).Error
	if err != nil {
		return false, fmt.Errorf("read cancel flag for run %s: %w", runID, err)
	}
	return run.CancelRequested, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && (errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "UNIQUE constraint failed"))
}
