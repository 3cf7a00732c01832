package alerting

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/common/logger"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/observability/metrics"
)

type Kind string

const (
	KindFired    Kind = "fired"
	KindResolved Kind = "resolved"
)

// Alert is one edge transition of the study risk score against the alert
// threshold. Sustained crossings produce no rows.
type Alert struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	StudyID   string    `gorm:"index" json:"study_id"`
	RunID     string    `json:"run_id"`
	Kind      Kind      `json:"kind"`
	Score     float64   `json:"score"`
	Threshold float64   `json:"threshold"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (Alert) TableName() string { return "risk_alerts" }

// EventPublisher decouples the gate from the Kafka producer for tests.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Gate struct {
	repo      *Repository
	publisher EventPublisher
}

func NewGate(repo *Repository, publisher EventPublisher) *Gate {
	return &Gate{repo: repo, publisher: publisher}
}

// Decide compares the score against the threshold given whether an alert is
// currently active. It returns the transition to record, or "" when the state
// is unchanged. A score exactly at the threshold counts as crossed, so an
// alert fires at equality and only resolves once the score drops below it.
func Decide(active bool, score, threshold float64) Kind {
	crossed := score >= threshold
	switch {
	case crossed && !active:
		return KindFired
	case !crossed && active:
		return KindResolved
	}
	return ""
}

// Process records the alert transition for one completed run, if any. The
// active-state read and the alert insert run in one transaction so concurrent
// sweeps cannot double-fire. Event publication failures are logged, not
// propagated: the run outcome does not depend on the broker.
func (g *Gate) Process(ctx context.Context, studyID, runID string, score, threshold float64, now time.Time) (*Alert, error) {
	alert, err := g.repo.transition(ctx, studyID, func(active bool) *Alert {
		kind := Decide(active, score, threshold)
		if kind == "" {
			return nil
		}
		return &Alert{
			ID:        uuid.New().String(),
			StudyID:   studyID,
			RunID:     runID,
			Kind:      kind,
			Score:     score,
			Threshold: threshold,
			CreatedAt: now,
		}
	})
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, nil
	}

	eventType := "alert_fired"
	if alert.Kind == KindResolved {
		eventType = "alert_resolved"
		metrics.AlertResolved()
	} else {
		metrics.AlertFired()
	}
	if g.publisher != nil {
		payload := map[string]interface{}{
			"alert_id":  alert.ID,
			"study_id":  alert.StudyID,
			"run_id":    alert.RunID,
			"score":     alert.Score,
			"threshold": alert.Threshold,
		}
		if err := g.publisher.PublishEvent(ctx, eventType, "alerting", payload); err != nil {
			logger.WithStudy(studyID).WithError(err).Warn("Failed to publish alert event")
		}
	}
	return alert, nil
}
