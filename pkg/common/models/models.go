package models

import (
	"time"
)

// Event is the envelope published to the analytics event bus. External
// collaborators (notification service, dashboard) consume these.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // run_started, run_completed, run_failed, alert_fired, alert_resolved
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// Study is the registry entry for a monitored study, including the rollup
// fields refreshed when an analysis run completes.
type Study struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	TotalWorkbooks int        `json:"total_workbooks"`
	OpenIssues     int        `json:"open_issues"`
	RiskScore      float64    `json:"risk_score"`
	RiskLevel      string     `json:"risk_level,omitempty"`
	LastAnalyzedAt *time.Time `json:"last_analyzed_at,omitempty"`
}

type CreateStudyRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
