package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TrendPoint is one append-only row per scope per completed run. Delta is the
// change against the scope's previous point, zero for the first one.
type TrendPoint struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	StudyID    string    `gorm:"index:idx_trend_scope" json:"study_id"`
	ScopeKey   string    `gorm:"index:idx_trend_scope" json:"scope_key"`
	RunID      string    `gorm:"index" json:"run_id"`
	Score      float64   `json:"score"`
	PrevScore  float64   `json:"prev_score"`
	Delta      float64   `json:"delta"`
	Direction  string    `json:"direction"`
	RiskLevel  string    `json:"risk_level"`
	RecordedAt time.Time `gorm:"index" json:"recorded_at"`
}

// direction labels a run-over-run score change for the trend view. Lower
// scores are better, so a negative delta reads as improving.
func direction(delta float64) string {
	switch {
	case delta > 0:
		return "worsening"
	case delta < 0:
		return "improving"
	}
	return "stable"
}

func (TrendPoint) TableName() string { return "risk_trend_points" }

type TrendRepository struct {
	db *gorm.DB
}

func NewTrendRepository(db *gorm.DB) *TrendRepository {
	return &TrendRepository{db: db}
}

func (r *TrendRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&TrendPoint{})
}

// Record appends one point for the study aggregate and one per scope,
// including scopes from earlier runs that carry no open issues anymore. The
// study aggregate is stored under the scope key "study" like any other scope.
func (r *TrendRepository) Record(ctx context.Context, studyID, runID string, score StudyScore, now time.Time) error {
	points := make([]TrendPoint, 0, len(score.Scopes)+1)

	add := func(scopeKey string, value float64, level RiskLevel) error {
		prev, err := r.latest(ctx, studyID, scopeKey)
		if err != nil {
			return err
		}
		var prevScore, delta float64
		if prev != nil {
			prevScore = prev.Score
			delta = value - prevScore
		}
		points = append(points, TrendPoint{
			ID:         uuid.New().String(),
			StudyID:    studyID,
			ScopeKey:   scopeKey,
			RunID:      runID,
			Score:      value,
			PrevScore:  prevScore,
			Delta:      delta,
			Direction:  direction(delta),
			RiskLevel:  string(level),
			RecordedAt: now,
		})
		return nil
	}

	known, err := r.knownScopes(ctx, studyID)
	if err != nil {
		return err
	}
	for _, target := range pointTargets(score, known) {
		if err := add(target.key, target.score, target.level); err != nil {
			return err
		}
	}

	if err := r.db.WithContext(ctx).Create(&points).Error; err != nil {
		return fmt.Errorf("record trend points: %w", err)
	}
	return nil
}

type scopeValue struct {
	key   string
	score float64
	level RiskLevel
}

// pointTargets lists every scope that gets a point this run: the study
// aggregate, each currently scored scope, and any previously recorded scope
// that went quiet. A scope whose issues all resolved carries no open issues
// and so no score, but its trend must still show the recovery to zero.
func pointTargets(score StudyScore, known []string) []scopeValue {
	targets := []scopeValue{{key: "study", score: score.Score, level: score.RiskLevel}}
	seen := map[string]bool{"study": true}
	for _, sc := range score.Scopes {
		if seen[sc.ScopeKey] {
			continue
		}
		seen[sc.ScopeKey] = true
		targets = append(targets, scopeValue{key: sc.ScopeKey, score: sc.Score, level: sc.RiskLevel})
	}
	for _, key := range known {
		if seen[key] {
			continue
		}
		seen[key] = true
		targets = append(targets, scopeValue{key: key, level: RiskLow})
	}
	return targets
}

// knownScopes lists every scope key the study has recorded a point for.
func (r *TrendRepository) knownScopes(ctx context.Context, studyID string) ([]string, error) {
	var keys []string
	err := r.db.WithContext(ctx).
		Model(&TrendPoint{}).
		Where("study_id = ?", studyID).
		Distinct().
		Pluck("scope_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("known trend scopes for study %s: %w", studyID, err)
	}
	return keys, nil
}

// History returns the study-level trend, newest first.
func (r *TrendRepository) History(ctx context.Context, studyID string, limit int) ([]TrendPoint, error) {
	if limit <= 0 {
		limit = 50
	}
	var points []TrendPoint
	err := r.db.WithContext(ctx).
		Where("study_id = ? AND scope_key = ?", studyID, "study").
		Order("recorded_at DESC").
		Limit(limit).
		Find(&points).Error
	if err != nil {
		return nil, fmt.Errorf("trend history for study %s: %w", studyID, err)
	}
	return points, nil
}

// LatestStudyScore returns the most recent study-level score, or false when
// the study has never completed a run.
func (r *TrendRepository) LatestStudyScore(ctx context.Context, studyID string) (float64, bool, error) {
	point, err := r.latest(ctx, studyID, "study")
	if err != nil {
		return 0, false, err
	}
	if point == nil {
		return 0, false, nil
	}
	return point.Score, true, nil
}

func (r *TrendRepository) latest(ctx context.Context, studyID, scopeKey string) (*TrendPoint, error) {
	var point TrendPoint
	err := r.db.WithContext(ctx).
		Where("study_id = ? AND scope_key = ?", studyID, scopeKey).
		Order("recorded_at DESC").
		First(&point).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest trend point for %s/%s: %w", studyID, scopeKey, err)
	}
	return &point, nil
}
