package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/common/logger"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/extraction"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/scoring"
)

// ErrNotFound is returned when a study has no committed snapshot yet.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is the precomputed analytics view served to dashboards. A run
// builds the whole value off to the side and commits it in one swap, so
// readers see either the previous complete snapshot or the new one.
type Snapshot struct {
	StudyID        string               `json:"study_id"`
	RunID          string               `json:"run_id"`
	GeneratedAt    time.Time            `json:"generated_at"`
	RulesVersion   string               `json:"rules_version"`
	Score          float64              `json:"score"`
	RiskLevel      scoring.RiskLevel    `json:"risk_level"`
	Scopes         []scoring.ScopeScore `json:"scopes"`
	OpenIssues     int                  `json:"open_issues"`
	ResolvedIssues int                  `json:"resolved_issues"`
	IssuesByTier   map[string]int       `json:"issues_by_tier"`
	Workbooks      int                  `json:"workbooks"`
	Records        int                  `json:"records"`
	Extraction     *extraction.Audit    `json:"extraction,omitempty"`
}

type snapshotRow struct {
	StudyID     string `gorm:"primaryKey"`
	RunID       string
	Payload     datatypes.JSON
	GeneratedAt time.Time
	UpdatedAt   time.Time
}

func (snapshotRow) TableName() string { return "analytics_snapshots" }

// Cache keeps the committed snapshot per study. Postgres is the source of
// truth; Redis is a write-through read cache with a TTL.
type Cache struct {
	db    *gorm.DB
	redis *redis.Client
	ttl   time.Duration
}

func NewCache(db *gorm.DB, rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{db: db, redis: rdb, ttl: ttl}
}

func (c *Cache) AutoMigrate() error {
	return c.db.AutoMigrate(&snapshotRow{})
}

func cacheKey(studyID string) string {
	return fmt.Sprintf("analytics:snapshot:%s", studyID)
}

// Commit atomically replaces the study's snapshot. The Postgres upsert is the
// commit point; a Redis failure afterwards only costs a cache miss.
func (c *Cache) Commit(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot for study %s: %w", snap.StudyID, err)
	}

	row := snapshotRow{
		StudyID:     snap.StudyID,
		RunID:       snap.RunID,
		Payload:     datatypes.JSON(payload),
		GeneratedAt: snap.GeneratedAt,
		UpdatedAt:   time.Now().UTC(),
	}
	err = c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "study_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"run_id", "payload", "generated_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("commit snapshot for study %s: %w", snap.StudyID, err)
	}

	if c.redis != nil {
		if err := c.redis.Set(ctx, cacheKey(snap.StudyID), payload, c.ttl).Err(); err != nil {
			logger.WithStudy(snap.StudyID).WithError(err).Warn("Failed to prime snapshot cache")
		}
	}
	return nil
}

// Get serves the snapshot Redis-first and falls back to Postgres, re-priming
// the cache on a miss.
func (c *Cache) Get(ctx context.Context, studyID string) (*Snapshot, error) {
	if c.redis != nil {
		raw, err := c.redis.Get(ctx, cacheKey(studyID)).Bytes()
		if err == nil {
			var snap Snapshot
			if err := json.Unmarshal(raw, &snap); err == nil {
				return &snap, nil
			}
			logger.WithStudy(studyID).Warn("Discarding corrupt cached snapshot")
		} else if !errors.Is(err, redis.Nil) {
			logger.WithStudy(studyID).WithError(err).Warn("Snapshot cache read failed, using database")
		}
	}

	var row snapshotRow
	err := c.db.WithContext(ctx).Where("study_id = ?", studyID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot for study %s: %w", studyID, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(row.Payload, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot for study %s: %w", studyID, err)
	}

	if c.redis != nil {
		if err := c.redis.Set(ctx, cacheKey(studyID), []byte(row.Payload), c.ttl).Err(); err != nil {
			logger.WithStudy(studyID).WithError(err).Warn("Failed to re-prime snapshot cache")
		}
	}
	return &snap, nil
}
