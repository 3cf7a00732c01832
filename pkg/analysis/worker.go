package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/alerting"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/common/logger"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/evaluation"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/extraction"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/issues"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/observability/metrics"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/rules"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/scoring"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/snapshot"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/workbooks"
)

// CancelledReason is the error string recorded when a run stops at a stage
// boundary because cancellation was requested. TimedOutReason is recorded
// when the run's deadline expired instead.
const (
	CancelledReason = "cancelled"
	TimedOutReason  = "timed out"
)

// WorkbookSource supplies the study's spreadsheets and records their
// consumption.
type WorkbookSource interface {
	LoadForAnalysis(ctx context.Context, studyID string) ([]workbooks.Workbook, error)
	MarkAnalyzed(ctx context.Context, studyID string, at time.Time) error
}

type IssueStore interface {
	ListByStudy(ctx context.Context, studyID string) ([]issues.Issue, error)
	SaveAll(ctx context.Context, all []issues.Issue) error
}

type TrendStore interface {
	Record(ctx context.Context, studyID, runID string, score scoring.StudyScore, now time.Time) error
}

type SnapshotSink interface {
	Commit(ctx context.Context, snap snapshot.Snapshot) error
}

type AlertProcessor interface {
	Process(ctx context.Context, studyID, runID string, score, threshold float64, now time.Time) (*alerting.Alert, error)
}

// RollupRefresher lets the worker update study registry aggregates after a
// completed run. Optional.
type RollupRefresher interface {
	Refresh(ctx context.Context, studyID string) error
}

// Worker executes one analysis run end to end: extract, evaluate, merge
// issues, score, then alert and commit the snapshot. Each persisted artifact
// before the commit stage is internally consistent on its own; the snapshot
// swap at the end is what readers observe.
type Worker struct {
	runs      RunStore
	source    WorkbookSource
	issueRepo IssueStore
	trend     TrendStore
	sink      SnapshotSink
	gate      AlertProcessor
	rollups   RollupRefresher

	extractor *extraction.Extractor
	evaluator *evaluation.Evaluator
	dedup     *issues.Deduplicator
	scorer    *scoring.Scorer

	now func() time.Time
}

func NewWorker(runs RunStore, source WorkbookSource, issueRepo IssueStore, trend TrendStore, sink SnapshotSink, gate AlertProcessor, rollups RollupRefresher) *Worker {
	return &Worker{
		runs:      runs,
		source:    source,
		issueRepo: issueRepo,
		trend:     trend,
		sink:      sink,
		gate:      gate,
		rollups:   rollups,
		extractor: extraction.NewExtractor(),
		evaluator: evaluation.NewEvaluator(),
		dedup:     issues.NewDeduplicator(),
		scorer:    scoring.NewScorer(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Execute drives the run to a terminal state. A failure at any stage leaves
// the previously committed snapshot untouched. Cancellation is honored at
// stage boundaries only; a stage in flight always finishes.
func (w *Worker) Execute(ctx context.Context, run *Run, snap *rules.Snapshot) {
	log := logger.WithStudy(run.StudyID).WithField("run_id", run.ID)

	if reason, stop := w.stopReason(ctx, run); stop {
		w.fail(ctx, run, reason, log)
		return
	}
	started := w.now()
	run.State = StateRunning
	run.StartedAt = &started
	if err := w.runs.Update(ctx, run); err != nil {
		w.fail(ctx, run, fmt.Sprintf("mark run running: %v", err), log)
		return
	}
	metrics.RunStarted()
	log.WithField("rules_version", run.RulesVersion).Info("Analysis run started")

	// Stage 1: extraction.
	run.Stage = StageExtraction
	wbs, err := w.source.LoadForAnalysis(ctx, run.StudyID)
	if err != nil {
		w.fail(ctx, run, fmt.Sprintf("load workbooks: %v", err), log)
		return
	}
	input := make([]extraction.Workbook, 0, len(wbs))
	for _, wb := range wbs {
		input = append(input, extraction.Workbook{Filename: wb.Filename, Data: wb.Data})
	}
	records, audit := w.extractor.Extract(input)
	metrics.RecordsExtracted(len(records))
	w.advance(ctx, run, StageExtraction)
	log.WithField("records", len(records)).WithField("sheets", audit.ProcessedSheets).Info("Extraction finished")

	// Stage 2: evaluation.
	if reason, stop := w.stopReason(ctx, run); stop {
		w.fail(ctx, run, reason, log)
		return
	}
	run.Stage = StageEvaluation
	runTime := w.now()
	candidates := w.evaluator.Evaluate(records, snap, runTime)
	w.advance(ctx, run, StageEvaluation)

	// Stage 3: issue deduplication.
	if reason, stop := w.stopReason(ctx, run); stop {
		w.fail(ctx, run, reason, log)
		return
	}
	run.Stage = StageDedup
	existing, err := w.issueRepo.ListByStudy(ctx, run.StudyID)
	if err != nil {
		w.fail(ctx, run, fmt.Sprintf("load issues: %v", err), log)
		return
	}
	merged := w.dedup.Merge(run.StudyID, existing, candidates, runTime)
	if err := w.issueRepo.SaveAll(ctx, merged.Issues); err != nil {
		w.fail(ctx, run, fmt.Sprintf("save issues: %v", err), log)
		return
	}
	w.advance(ctx, run, StageDedup)
	log.WithField("created", merged.Created).
		WithField("resolved", merged.Resolved).
		WithField("reopened", merged.Reopened).
		Info("Issue set merged")

	// Stage 4: scoring.
	if reason, stop := w.stopReason(ctx, run); stop {
		w.fail(ctx, run, reason, log)
		return
	}
	run.Stage = StageScoring
	score := w.scorer.Score(merged.Issues, snap.Scoring)
	if err := w.trend.Record(ctx, run.StudyID, run.ID, score, runTime); err != nil {
		w.fail(ctx, run, fmt.Sprintf("record trend: %v", err), log)
		return
	}
	w.advance(ctx, run, StageScoring)

	// Stage 5: alert gating and snapshot commit.
	if reason, stop := w.stopReason(ctx, run); stop {
		w.fail(ctx, run, reason, log)
		return
	}
	run.Stage = StageCommit
	if _, err := w.gate.Process(ctx, run.StudyID, run.ID, score.Score, snap.Alerting.ScoreThreshold, runTime); err != nil {
		w.fail(ctx, run, fmt.Sprintf("alert gate: %v", err), log)
		return
	}
	if err := w.sink.Commit(ctx, buildSnapshot(run, snap, score, merged.Issues, audit, len(wbs), len(records), runTime)); err != nil {
		w.fail(ctx, run, fmt.Sprintf("commit snapshot: %v", err), log)
		return
	}
	if err := w.source.MarkAnalyzed(ctx, run.StudyID, runTime); err != nil {
		log.WithError(err).Warn("Failed to mark workbooks analyzed")
	}

	finished := w.now()
	run.State = StateCompleted
	run.FinishedAt = &finished
	w.advance(ctx, run, StageCommit)
	if w.rollups != nil {
		if err := w.rollups.Refresh(ctx, run.StudyID); err != nil {
			log.WithError(err).Warn("Failed to refresh study rollup")
		}
	}
	metrics.RunCompleted()
	open := 0
	for _, issue := range merged.Issues {
		if issue.Status == issues.StatusOpen {
			open++
		}
	}
	metrics.ObserveOpenIssues(open)
	log.WithField("score", score.Score).WithField("risk_level", score.RiskLevel).Info("Analysis run completed")
}

func buildSnapshot(run *Run, snap *rules.Snapshot, score scoring.StudyScore, all []issues.Issue, audit *extraction.Audit, workbookCount, recordCount int, at time.Time) snapshot.Snapshot {
	byTier := make(map[string]int)
	open, resolved := 0, 0
	for _, issue := range all {
		if issue.Status == issues.StatusOpen {
			open++
			byTier[string(issue.Tier)]++
		} else {
			resolved++
		}
	}
	return snapshot.Snapshot{
		StudyID:        run.StudyID,
		RunID:          run.ID,
		GeneratedAt:    at,
		RulesVersion:   snap.Version,
		Score:          score.Score,
		RiskLevel:      score.RiskLevel,
		Scopes:         score.Scopes,
		OpenIssues:     open,
		ResolvedIssues: resolved,
		IssuesByTier:   byTier,
		Workbooks:      workbookCount,
		Records:        recordCount,
		Extraction:     audit,
	}
}

// advance moves the run's progress to the stage's completion mark, never
// backwards, and persists the new state.
func (w *Worker) advance(ctx context.Context, run *Run, stage string) {
	if p := stageProgress[stage]; p > run.Progress {
		run.Progress = p
	}
	if err := w.runs.Update(ctx, run); err != nil {
		logger.WithStudy(run.StudyID).WithError(err).Error("Failed to persist run progress")
	}
}

// stopReason reports whether the run must stop at this boundary and the
// terminal reason to record: an expired deadline, a dead context, or a
// cancellation flag set through the API.
func (w *Worker) stopReason(ctx context.Context, run *Run) (string, bool) {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return TimedOutReason, true
		}
		return CancelledReason, true
	}
	requested, err := w.runs.CancelRequested(ctx, run.ID)
	if err != nil {
		logger.WithStudy(run.StudyID).WithError(err).Warn("Failed to read cancel flag")
		return "", false
	}
	if requested {
		return CancelledReason, true
	}
	return "", false
}

// fail records the terminal state on a context detached from the run's own.
// The run's context may be the very thing that died; the FAILED write must
// still land or the study's active-run slot is never released.
func (w *Worker) fail(ctx context.Context, run *Run, reason string, log *logrus.Entry) {
	if reason == CancelledReason {
		metrics.RunCancelled()
	} else {
		metrics.RunFailed()
	}
	finished := w.now()
	run.State = StateFailed
	run.Error = reason
	run.FinishedAt = &finished
	if err := w.runs.Update(context.WithoutCancel(ctx), run); err != nil {
		logger.WithStudy(run.StudyID).WithError(err).Error("Failed to mark run failed")
		return
	}
	log.WithField("reason", reason).Info("Analysis run stopped")
}
