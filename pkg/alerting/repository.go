package alerting

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Alert{})
}

// transition reads the study's active-alert state and applies decide under
// one transaction. Returns the inserted alert, or nil for a no-op.
func (r *Repository) transition(ctx context.Context, studyID string, decide func(active bool) *Alert) (*Alert, error) {
	var inserted *Alert
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last Alert
		active := false
		err := tx.Where("study_id = ?", studyID).
			Order("created_at DESC").
			First(&last).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("read alert state for study %s: %w", studyID, err)
		}
		if err == nil {
			active = last.Kind == KindFired
		}

		alert := decide(active)
		if alert == nil {
			return nil
		}
		if err := tx.Create(alert).Error; err != nil {
			return fmt.Errorf("insert alert for study %s: %w", studyID, err)
		}
		inserted = alert
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// ListByStudy returns the study's alert history, newest first.
func (r *Repository) ListByStudy(ctx context.Context, studyID string, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	var alerts []Alert
	err := r.db.WithContext(ctx).
		Where("study_id = ?", studyID).
		Order("created_at DESC").
		Limit(limit).
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("list alerts for study %s: %w", studyID, err)
	}
	return alerts, nil
}
