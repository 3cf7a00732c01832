package analysis

import (
	"errors"
	"time"
)

// ErrRunConflict is returned when a study already has an active run.
var ErrRunConflict = errors.New("analysis run already active for study")

// ErrNoActiveRun is returned by cancellation when nothing is running.
var ErrNoActiveRun = errors.New("no active analysis run for study")

type State string

const (
	StatePending   State = "PENDING"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

// Stage names and the progress value reached when each stage finishes.
// Progress only moves forward within a run.
const (
	StageExtraction = "extraction"
	StageEvaluation = "evaluation"
	StageDedup      = "deduplication"
	StageScoring    = "scoring"
	StageCommit     = "commit"
)

var stageProgress = map[string]int{
	StageExtraction: 30,
	StageEvaluation: 55,
	StageDedup:      70,
	StageScoring:    85,
	StageCommit:     100,
}

// Run tracks one analysis pass over a study's workbooks.
type Run struct {
	ID              string     `gorm:"primaryKey" json:"id"`
	StudyID         string     `gorm:"index" json:"study_id"`
	State           State      `gorm:"index" json:"state"`
	Stage           string     `json:"stage,omitempty"`
	Progress        int        `json:"progress"`
	Error           string     `json:"error,omitempty"`
	CancelRequested bool       `json:"cancel_requested,omitempty"`
	RulesVersion    string     `json:"rules_version,omitempty"`
	RequestedAt     time.Time  `json:"requested_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`

	// ActiveKey mirrors StudyID while the run is pending or running and is
	// cleared on completion. The unique index on it is the concurrency guard:
	// a second insert for the same study fails instead of racing.
	ActiveKey *string `gorm:"uniqueIndex" json:"-"`
}

func (Run) TableName() string { return "analysis_runs" }

// Terminal reports whether the run has finished, successfully or not.
func (r *Run) Terminal() bool {
	return r.State == StateCompleted || r.State == StateFailed
}
