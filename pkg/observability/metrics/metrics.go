package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	runsStarted        atomic.Int64
	runsCompleted      atomic.Int64
	runsFailed         atomic.Int64
	runsCancelled      atomic.Int64
	workbooksIngested  atomic.Int64
	recordsExtracted   atomic.Int64
	alertsFired        atomic.Int64
	alertsResolved     atomic.Int64
	openIssuesObserved atomic.Int64
)

func RunStarted()   { runsStarted.Add(1) }
func RunCompleted() { runsCompleted.Add(1) }
func RunFailed()    { runsFailed.Add(1) }
func RunCancelled() { runsCancelled.Add(1) }

func WorkbookIngested()           { workbooksIngested.Add(1) }
func RecordsExtracted(n int)      { recordsExtracted.Add(int64(n)) }
func AlertFired()                 { alertsFired.Add(1) }
func AlertResolved()              { alertsResolved.Add(1) }
func ObserveOpenIssues(count int) { openIssuesObserved.Store(int64(count)) }

// WritePrometheus exposes the counters in text exposition format for the
// /metrics route.
func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	writeCounter(w, "trialintel_runs_started_total", "Analysis runs admitted.", runsStarted.Load())
	writeCounter(w, "trialintel_runs_completed_total", "Analysis runs completed successfully.", runsCompleted.Load())
	writeCounter(w, "trialintel_runs_failed_total", "Analysis runs that failed.", runsFailed.Load())
	writeCounter(w, "trialintel_runs_cancelled_total", "Analysis runs stopped by cancellation.", runsCancelled.Load())
	writeCounter(w, "trialintel_workbooks_ingested_total", "Workbooks accepted for analysis.", workbooksIngested.Load())
	writeCounter(w, "trialintel_records_extracted_total", "Records extracted from workbook sheets.", recordsExtracted.Load())
	writeCounter(w, "trialintel_alerts_fired_total", "Risk alerts fired.", alertsFired.Load())
	writeCounter(w, "trialintel_alerts_resolved_total", "Risk alerts resolved.", alertsResolved.Load())
	writeGauge(w, "trialintel_open_issues", "Open issues observed by the latest run.", openIssuesObserved.Load())
}

func writeCounter(w http.ResponseWriter, name, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, value)
}

func writeGauge(w http.ResponseWriter, name, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", name, help, name, name, value)
}
