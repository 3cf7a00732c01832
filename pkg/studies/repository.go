package studies

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/common/models"
)

// ErrNotFound is returned for unknown study IDs.
var ErrNotFound = errors.New("study not found")

type studyRow struct {
	ID          string `gorm:"primaryKey"`
	Name        string `gorm:"uniqueIndex"`
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	TotalWorkbooks int
	OpenIssues     int
	RiskScore      float64
	RiskLevel      string
	LastAnalyzedAt *time.Time
}

func (studyRow) TableName() string { return "studies" }

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&studyRow{})
}

func (r *Repository) Create(ctx context.Context, study models.Study) error {
	row := studyRow{
		ID:          study.ID,
		Name:        study.Name,
		Description: study.Description,
		CreatedAt:   study.CreatedAt,
		UpdatedAt:   study.UpdatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create study %s: %w", study.Name, err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*models.Study, error) {
	var row studyRow
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get study %s: %w", id, err)
	}
	study := row.toStudy()
	return &study, nil
}

// GetByName resolves a study from a data lake folder or display name.
func (r *Repository) GetByName(ctx context.Context, name string) (*models.Study, error) {
	var row studyRow
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get study by name %s: %w", name, err)
	}
	study := row.toStudy()
	return &study, nil
}

func (r *Repository) List(ctx context.Context, limit int) ([]models.Study, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []studyRow
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list studies: %w", err)
	}
	out := make([]models.Study, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toStudy())
	}
	return out, nil
}

// UpdateRollup writes the aggregates shown on the study list.
func (r *Repository) UpdateRollup(ctx context.Context, id string, workbookCount, openIssues int, riskScore float64, riskLevel string, analyzedAt time.Time) error {
	err := r.db.WithContext(ctx).Model(&studyRow{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_workbooks":  workbookCount,
			"open_issues":      openIssues,
			"risk_score":       riskScore,
			"risk_level":       riskLevel,
			"last_analyzed_at": analyzedAt,
			"updated_at":       time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("update rollup for study %s: %w", id, err)
	}
	return nil
}

func (row studyRow) toStudy() models.Study {
	return models.Study{
		ID:             row.ID,
		Name:           row.Name,
		Description:    row.Description,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
		TotalWorkbooks: row.TotalWorkbooks,
		OpenIssues:     row.OpenIssues,
		RiskScore:      row.RiskScore,
		RiskLevel:      row.RiskLevel,
		LastAnalyzedAt: row.LastAnalyzedAt,
	}
}
