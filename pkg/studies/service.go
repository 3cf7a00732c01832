package studies

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/common/logger"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/common/models"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/issues"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/scoring"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/workbooks"
)

// Service maintains the study registry and its rollup aggregates.
type Service struct {
	repo      *Repository
	workbooks *workbooks.Repository
	issues    *issues.Repository
	trend     *scoring.TrendRepository
}

func NewService(repo *Repository, workbookRepo *workbooks.Repository, issueRepo *issues.Repository, trendRepo *scoring.TrendRepository) *Service {
	return &Service{repo: repo, workbooks: workbookRepo, issues: issueRepo, trend: trendRepo}
}

func (s *Service) CreateStudy(ctx context.Context, req models.CreateStudyRequest) (*models.Study, error) {
	now := time.Now().UTC()
	study := models.Study{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, study); err != nil {
		return nil, err
	}
	return &study, nil
}

func (s *Service) GetStudy(ctx context.Context, id string) (*models.Study, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListStudies(ctx context.Context, limit int) ([]models.Study, error) {
	return s.repo.List(ctx, limit)
}

// EnsureByName resolves a study by name, creating it when unknown. The
// intake watcher maps data lake folders to studies through this.
func (s *Service) EnsureByName(ctx context.Context, name string) (*models.Study, error) {
	study, err := s.repo.GetByName(ctx, name)
	if err == nil {
		return study, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	created, err := s.CreateStudy(ctx, models.CreateStudyRequest{Name: name})
	if err != nil {
		return nil, fmt.Errorf("auto-register study %s: %w", name, err)
	}
	logger.WithStudy(created.ID).WithField("name", name).Info("Registered study from data lake")
	return created, nil
}

// Refresh recomputes the study's rollup after a completed analysis run.
func (s *Service) Refresh(ctx context.Context, studyID string) error {
	workbookCount, err := s.workbooks.CountByStudy(ctx, studyID)
	if err != nil {
		return err
	}
	openIssues, err := s.issues.CountOpen(ctx, studyID)
	if err != nil {
		return err
	}
	var (
		score float64
		level string
		at    = time.Now().UTC()
	)
	points, err := s.trend.History(ctx, studyID, 1)
	if err != nil {
		return err
	}
	if len(points) > 0 {
		score = points[0].Score
		level = points[0].RiskLevel
		at = points[0].RecordedAt
	}
	return s.repo.UpdateRollup(ctx, studyID, int(workbookCount), int(openIssues), score, level, at)
}
