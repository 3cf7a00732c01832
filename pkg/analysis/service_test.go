package analysis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/rules"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/workbooks"
)

const serviceRulesDoc = `
scoring:
  weights:
    quality: 0.5
    operational: 0.5
  severity_points:
    low: 1
    medium: 2
    high: 3
  study_aggregation: sum
  risk_bands:
    medium: 1
    high: 3
alerting:
  score_threshold: 10
rules:
  - id: missing_lab_name
    domain: quality
    metric: missing_count
    field: lab_name
    thresholds: {low: 1, medium: 3, high: 5}
`

func testService(t *testing.T, store *memRunStore, w *Worker) *Service {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(serviceRulesDoc), 0o644); err != nil {
		t.Fatalf("writing rules: %v", err)
	}
	catalog, err := rules.NewCatalog(path)
	if err != nil {
		t.Fatalf("loading catalog: %v", err)
	}
	return NewService(store, w, catalog, nil, nil, 1, 0)
}

func TestStartRunReturnsDetachedRun(t *testing.T) {
	store := newMemRunStore()
	source := &memSource{wbs: []workbooks.Workbook{{Filename: "labs.xlsx", Data: labWorkbook(t)}}}
	w := testWorker(store, source, &memIssueStore{}, &memTrend{}, &memSink{}, &memGate{})
	svc := testService(t, store, w)

	run, err := svc.StartRun(context.Background(), "ST-1")
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	svc.Wait()

	// The caller's copy is frozen at admission; only the store reflects the
	// worker's progress.
	if run.State != StatePending || run.Progress != 0 {
		t.Fatalf("admitted run mutated by the worker: %+v", run)
	}
	final, err := store.Get(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if final.State != StateCompleted || final.Progress != 100 {
		t.Fatalf("run did not complete in the store: %+v", final)
	}
}

func TestStartRunRejectsSecondActiveRun(t *testing.T) {
	store := newMemRunStore()
	if _, err := store.Begin(context.Background(), "ST-1", "v-test"); err != nil {
		t.Fatalf("seed run: %v", err)
	}
	source := &memSource{}
	w := testWorker(store, source, &memIssueStore{}, &memTrend{}, &memSink{}, &memGate{})
	svc := testService(t, store, w)

	if _, err := svc.StartRun(context.Background(), "ST-1"); !errors.Is(err, ErrRunConflict) {
		t.Fatalf("expected run conflict, got %v", err)
	}
}
