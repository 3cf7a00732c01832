package workbooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/observability/metrics"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAnalyzed Status = "analyzed"
)

// Workbook is an uploaded spreadsheet held for analysis. Content is keyed by
// checksum per study, so re-uploading the same bytes is a no-op rather than a
// duplicate.
type Workbook struct {
	ID         string     `gorm:"primaryKey" json:"id"`
	StudyID    string     `gorm:"index:idx_workbook_content,unique;index" json:"study_id"`
	Checksum   string     `gorm:"index:idx_workbook_content,unique" json:"checksum"`
	Filename   string     `json:"filename"`
	Size       int64      `json:"size"`
	Data       []byte     `gorm:"type:bytea" json:"-"`
	Status     Status     `gorm:"index" json:"status"`
	UploadedAt time.Time  `json:"uploaded_at"`
	AnalyzedAt *time.Time `json:"analyzed_at,omitempty"`
}

func (Workbook) TableName() string { return "study_workbooks" }

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Workbook{})
}

// Save stores a workbook for the study. Identical content uploaded again
// refreshes the filename and upload time and reports created=false.
func (r *Repository) Save(ctx context.Context, studyID, filename string, data []byte) (*Workbook, bool, error) {
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	var existing Workbook
	err := r.db.WithContext(ctx).
		Where("study_id = ? AND checksum = ?", studyID, checksum).
		First(&existing).Error
	if err == nil {
		updates := map[string]interface{}{
			"filename":    filename,
			"uploaded_at": time.Now().UTC(),
		}
		if err := r.db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
			return nil, false, fmt.Errorf("refresh workbook %s: %w", existing.ID, err)
		}
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("lookup workbook by checksum: %w", err)
	}

	wb := Workbook{
		ID:         uuid.New().String(),
		StudyID:    studyID,
		Checksum:   checksum,
		Filename:   filename,
		Size:       int64(len(data)),
		Data:       data,
		Status:     StatusPending,
		UploadedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&wb).Error; err != nil {
		return nil, false, fmt.Errorf("store workbook %s for study %s: %w", filename, studyID, err)
	}
	metrics.WorkbookIngested()
	return &wb, true, nil
}

// ListByStudy returns workbook metadata without blob payloads.
func (r *Repository) ListByStudy(ctx context.Context, studyID string) ([]Workbook, error) {
	var wbs []Workbook
	err := r.db.WithContext(ctx).
		Select("id", "study_id", "checksum", "filename", "size", "status", "uploaded_at", "analyzed_at").
		Where("study_id = ?", studyID).
		Order("uploaded_at DESC").
		Find(&wbs).Error
	if err != nil {
		return nil, fmt.Errorf("list workbooks for study %s: %w", studyID, err)
	}
	return wbs, nil
}

// LoadForAnalysis returns every workbook for the study with payloads, the
// full set rather than just pending ones, since each run re-analyzes the
// study from scratch.
func (r *Repository) LoadForAnalysis(ctx context.Context, studyID string) ([]Workbook, error) {
	var wbs []Workbook
	err := r.db.WithContext(ctx).
		Where("study_id = ?", studyID).
		Order("uploaded_at").
		Find(&wbs).Error
	if err != nil {
		return nil, fmt.Errorf("load workbooks for study %s: %w", studyID, err)
	}
	return wbs, nil
}

// MarkAnalyzed flags the study's pending workbooks after a completed run.
func (r *Repository) MarkAnalyzed(ctx context.Context, studyID string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&Workbook{}).
		Where("study_id = ? AND status = ?", studyID, string(StatusPending)).
		Updates(map[string]interface{}{"status": string(StatusAnalyzed), "analyzed_at": at}).Error
	if err != nil {
		return fmt.Errorf("mark workbooks analyzed for study %s: %w", studyID, err)
	}
	return nil
}

// StudiesWithPending lists study IDs that have workbooks awaiting a run.
func (r *Repository) StudiesWithPending(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&Workbook{}).
		Distinct("study_id").
		Where("status = ?", string(StatusPending)).
		Pluck("study_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list studies with pending workbooks: %w", err)
	}
	return ids, nil
}

// CountByStudy is used for the study registry rollup.
func (r *Repository) CountByStudy(ctx context.Context, studyID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Workbook{}).
		Where("study_id = ?", studyID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count workbooks for study %s: %w", studyID, err)
	}
	return n, nil
}
