package issues

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/rules"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// issueRow is the persisted shape. Scope and sources are stored as JSON so
// the uniqueness constraint stays on the flat (study, rule, scope_key) triple.
type issueRow struct {
	ID         string `gorm:"primaryKey"`
	StudyID    string `gorm:"index:idx_issue_identity,unique;index"`
	RuleID     string `gorm:"index:idx_issue_identity,unique"`
	ScopeKey   string `gorm:"index:idx_issue_identity,unique"`
	Scope      datatypes.JSON
	Domain     string
	Metric     string
	Observed   float64
	Threshold  float64
	Tier       string
	Status     string `gorm:"index"`
	Sources    datatypes.JSON
	FirstSeen  time.Time
	LastSeen   time.Time
	ResolvedAt *time.Time
}

func (issueRow) TableName() string { return "canonical_issues" }

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&issueRow{})
}

// ListByStudy returns every issue for the study, resolved ones included.
func (r *Repository) ListByStudy(ctx context.Context, studyID string) ([]Issue, error) {
	var rows []issueRow
	err := r.db.WithContext(ctx).
		Where("study_id = ?", studyID).
		Order("rule_id, scope_key").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list issues for study %s: %w", studyID, err)
	}
	out := make([]Issue, 0, len(rows))
	for _, row := range rows {
		issue, err := row.toIssue()
		if err != nil {
			return nil, err
		}
		out = append(out, issue)
	}
	return out, nil
}

// ListOpenByStudy returns only the open issues, ordered for deterministic output.
func (r *Repository) ListOpenByStudy(ctx context.Context, studyID string) ([]Issue, error) {
	var rows []issueRow
	err := r.db.WithContext(ctx).
		Where("study_id = ? AND status = ?", studyID, string(StatusOpen)).
		Order("rule_id, scope_key").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list open issues for study %s: %w", studyID, err)
	}
	out := make([]Issue, 0, len(rows))
	for _, row := range rows {
		issue, err := row.toIssue()
		if err != nil {
			return nil, err
		}
		out = append(out, issue)
	}
	return out, nil
}

// SaveAll upserts the merged canonical set in one transaction. Conflicts on
// the identity triple overwrite the mutable columns and keep first_seen.
func (r *Repository) SaveAll(ctx context.Context, issues []Issue) error {
	if len(issues) == 0 {
		return nil
	}
	rows := make([]issueRow, 0, len(issues))
	for _, issue := range issues {
		row, err := toRow(issue)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "study_id"}, {Name: "rule_id"}, {Name: "scope_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"observed", "threshold", "tier", "status", "sources", "last_seen", "resolved_at",
		}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("save issues: %w", err)
	}
	return nil
}

// CountOpen is used for the study registry rollup.
func (r *Repository) CountOpen(ctx context.Context, studyID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&issueRow{}).
		Where("study_id = ? AND status = ?", studyID, string(StatusOpen)).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count open issues for study %s: %w", studyID, err)
	}
	return n, nil
}

func toRow(issue Issue) (issueRow, error) {
	scope, err := json.Marshal(issue.Scope)
	if err != nil {
		return issueRow{}, fmt.Errorf("marshal issue scope: %w", err)
	}
	sources, err := json.Marshal(issue.Sources)
	if err != nil {
		return issueRow{}, fmt.Errorf("marshal issue sources: %w", err)
	}
	return issueRow{
		ID:         issue.ID,
		StudyID:    issue.StudyID,
		RuleID:     issue.RuleID,
		ScopeKey:   issue.ScopeKey,
		Scope:      datatypes.JSON(scope),
		Domain:     string(issue.Domain),
		Metric:     string(issue.Metric),
		Observed:   issue.Observed,
		Threshold:  issue.Threshold,
		Tier:       string(issue.Tier),
		Status:     string(issue.Status),
		Sources:    datatypes.JSON(sources),
		FirstSeen:  issue.FirstSeen,
		LastSeen:   issue.LastSeen,
		ResolvedAt: issue.ResolvedAt,
	}, nil
}

func (row issueRow) toIssue() (Issue, error) {
	issue := Issue{
		ID:         row.ID,
		StudyID:    row.StudyID,
		RuleID:     row.RuleID,
		ScopeKey:   row.ScopeKey,
		Domain:     rules.Domain(row.Domain),
		Metric:     rules.MetricKind(row.Metric),
		Observed:   row.Observed,
		Threshold:  row.Threshold,
		Tier:       rules.Tier(row.Tier),
		Status:     Status(row.Status),
		FirstSeen:  row.FirstSeen,
		LastSeen:   row.LastSeen,
		ResolvedAt: row.ResolvedAt,
	}
	if len(row.Scope) > 0 {
		if err := json.Unmarshal(row.Scope, &issue.Scope); err != nil {
			return Issue{}, fmt.Errorf("unmarshal issue scope: %w", err)
		}
	}
	if len(row.Sources) > 0 {
		if err := json.Unmarshal(row.Sources, &issue.Sources); err != nil {
			return Issue{}, fmt.Errorf("unmarshal issue sources: %w", err)
		}
	}
	return issue, nil
}
