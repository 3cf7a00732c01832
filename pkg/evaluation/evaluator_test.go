package evaluation

import (
	"testing"
	"time"

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/extraction"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/rules"
)

func qualityRecord(site string, fields map[string]interface{}) extraction.Record {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	if site != "" {
		fields[extraction.FieldSiteID] = site
	}
	return extraction.Record{
		SourceFile: "report.xlsx",
		Sheet:      "Missing Data",
		Domain:     rules.DomainQuality,
		Fields:     fields,
	}
}

func snapshotWith(rs ...rules.Rule) *rules.Snapshot {
	return &rules.Snapshot{Rules: rs}
}

func TestEvidenceReproducibility(t *testing.T) {
	// 100 records, 12 missing lab_name => 12% against {5, 15, 30}.
	var records []extraction.Record
	for i := 0; i < 100; i++ {
		fields := map[string]interface{}{"page": "p1"}
		if i >= 12 {
			fields["lab_name"] = "CBC"
		}
		records = append(records, qualityRecord("", fields))
	}

	rule := rules.Rule{
		ID:         "MISSING_DATA",
		Domain:     rules.DomainQuality,
		Metric:     rules.MetricPercentMissing,
		Scope:      rules.ScopeStudy,
		Field:      "lab_name",
		Thresholds: rules.Thresholds{Low: 5, Medium: 15, High: 30},
	}

	now := time.Now().UTC()
	candidates := NewEvaluator().Evaluate(records, snapshotWith(rule), now)
	if len(candidates) != 1 {
		t.Fatalf("expected exactly one candidate, got %d", len(candidates))
	}
	c := candidates[0]
	if c.Tier != rules.TierLow {
		t.Errorf("expected tier low, got %s", c.Tier)
	}
	if c.Observed != 12 {
		t.Errorf("expected observed 12, got %v", c.Observed)
	}
	if c.Threshold != 5 {
		t.Errorf("expected threshold 5, got %v", c.Threshold)
	}
	if !c.DetectedAt.Equal(now) {
		t.Errorf("expected detection timestamp %v, got %v", now, c.DetectedAt)
	}

	// Determinism: same input, same output.
	again := NewEvaluator().Evaluate(records, snapshotWith(rule), now)
	if len(again) != 1 {
		t.Fatalf("re-evaluation diverged: %+v vs %+v", again, candidates)
	}
	if again[0].Observed != c.Observed || again[0].Threshold != c.Threshold || again[0].Tier != c.Tier {
		t.Fatalf("re-evaluation diverged: %+v vs %+v", again[0], c)
	}
}

func TestNoCandidateBelowLowestThreshold(t *testing.T) {
	records := []extraction.Record{
		qualityRecord("1", map[string]interface{}{"form": "Vitals"}),
	}
	rule := rules.Rule{
		ID:         "INACTIVATED_FORMS",
		Domain:     rules.DomainQuality,
		Metric:     rules.MetricRowCount,
		Scope:      rules.ScopeSite,
		Thresholds: rules.Thresholds{Low: 3, Medium: 10, High: 20},
	}
	candidates := NewEvaluator().Evaluate(records, snapshotWith(rule), time.Now())
	if len(candidates) != 0 {
		t.Fatalf("expected no candidates below the low threshold, got %d", len(candidates))
	}
}

func TestSheetFilterRestrictsRowCount(t *testing.T) {
	records := []extraction.Record{
		{Domain: rules.DomainQuality, SourceFile: "forms.xlsx", Sheet: "Inactivated Forms",
			Fields: map[string]interface{}{extraction.FieldSiteID: "1", "form": "AE"}},
		{Domain: rules.DomainQuality, SourceFile: "forms.xlsx", Sheet: "Inactivated Forms",
			Fields: map[string]interface{}{extraction.FieldSiteID: "1", "form": "CM"}},
		{Domain: rules.DomainQuality, SourceFile: "forms.xlsx", Sheet: "Inactivated Forms",
			Fields: map[string]interface{}{extraction.FieldSiteID: "1", "form": "VS"}},
		{Domain: rules.DomainQuality, SourceFile: "labs.xlsx", Sheet: "Missing Lab Names",
			Fields: map[string]interface{}{extraction.FieldSiteID: "1", "lab_name": "CBC"}},
	}
	rule := rules.Rule{
		ID:            "inactivated_forms",
		Domain:        rules.DomainQuality,
		Metric:        rules.MetricRowCount,
		SheetContains: "inactivated",
		Scope:         rules.ScopeSite,
		Thresholds:    rules.Thresholds{Low: 3, Medium: 10, High: 20},
	}
	candidates := NewEvaluator().Evaluate(records, snapshotWith(rule), time.Now())
	if len(candidates) != 1 {
		t.Fatalf("expected one candidate, got %d", len(candidates))
	}
	if candidates[0].Observed != 3 {
		t.Fatalf("lab sheet leaked into form count: observed %v", candidates[0].Observed)
	}
}

func TestGroupingBySite(t *testing.T) {
	var records []extraction.Record
	for i := 0; i < 4; i++ {
		records = append(records, qualityRecord("1", map[string]interface{}{"form": "AE"}))
	}
	records = append(records, qualityRecord("2", map[string]interface{}{"form": "AE"}))

	rule := rules.Rule{
		ID:         "INACTIVATED_FORMS",
		Domain:     rules.DomainQuality,
		Metric:     rules.MetricRowCount,
		Scope:      rules.ScopeSite,
		Thresholds: rules.Thresholds{Low: 3, Medium: 10, High: 20},
	}
	candidates := NewEvaluator().Evaluate(records, snapshotWith(rule), time.Now())
	if len(candidates) != 1 {
		t.Fatalf("expected one candidate (site 1 only), got %d", len(candidates))
	}
	if candidates[0].Scope.Key() != "site:1" {
		t.Fatalf("expected scope site:1, got %s", candidates[0].Scope.Key())
	}
	if candidates[0].Observed != 4 {
		t.Fatalf("expected observed 4, got %v", candidates[0].Observed)
	}
}

func TestFieldSumAndQueryBacklog(t *testing.T) {
	records := []extraction.Record{
		{Domain: rules.DomainOperational, SourceFile: "edc.xlsx", Sheet: "Metrics",
			Fields: map[string]interface{}{extraction.FieldSiteID: "3", "open_queries": "20"}},
		{Domain: rules.DomainOperational, SourceFile: "edc.xlsx", Sheet: "Metrics",
			Fields: map[string]interface{}{extraction.FieldSiteID: "3", "open_queries": "15"}},
		{Domain: rules.DomainOperational, SourceFile: "edc.xlsx", Sheet: "Metrics",
			Fields: map[string]interface{}{extraction.FieldSiteID: "3", "open_queries": "junk"}},
	}
	rule := rules.Rule{
		ID:         "QUERY_BACKLOG",
		Domain:     rules.DomainOperational,
		Metric:     rules.MetricFieldSum,
		Scope:      rules.ScopeSite,
		Field:      "open_queries",
		Thresholds: rules.Thresholds{Low: 10, Medium: 30, High: 50},
	}
	candidates := NewEvaluator().Evaluate(records, snapshotWith(rule), time.Now())
	if len(candidates) != 1 {
		t.Fatalf("expected one candidate, got %d", len(candidates))
	}
	if candidates[0].Observed != 35 {
		t.Fatalf("expected observed 35 (non-numeric skipped), got %v", candidates[0].Observed)
	}
	if candidates[0].Tier != rules.TierMedium {
		t.Fatalf("expected medium tier, got %s", candidates[0].Tier)
	}
}

func TestDateDelayCount(t *testing.T) {
	mk := func(projected, actual string) extraction.Record {
		return extraction.Record{
			Domain: rules.DomainOperational, SourceFile: "visits.xlsx", Sheet: "Projections",
			Fields: map[string]interface{}{
				extraction.FieldSiteID: "1",
				"projected_date":       projected,
				"actual_date":          actual,
			},
		}
	}
	records := []extraction.Record{
		mk("2026-01-05", "2026-01-12"),
		mk("2026-01-05", "2026-01-04"),
		mk("2026-02-01", "2026-02-10"),
	}
	rule := rules.Rule{
		ID:             "DELAYED_VISITS",
		Domain:         rules.DomainOperational,
		Metric:         rules.MetricDateDelay,
		Scope:          rules.ScopeSite,
		ProjectedField: "projected_date",
		ActualField:    "actual_date",
		Thresholds:     rules.Thresholds{Low: 2, Medium: 5, High: 10},
	}
	candidates := NewEvaluator().Evaluate(records, snapshotWith(rule), time.Now())
	if len(candidates) != 1 {
		t.Fatalf("expected one candidate, got %d", len(candidates))
	}
	if candidates[0].Observed != 2 {
		t.Fatalf("expected 2 delayed visits, got %v", candidates[0].Observed)
	}
}

func TestMissingFieldSheetCarriesNoSignal(t *testing.T) {
	// The sheet never contains lab_name: absence is not missing data.
	records := []extraction.Record{
		qualityRecord("1", map[string]interface{}{"page": "p1"}),
		qualityRecord("1", map[string]interface{}{"page": "p2"}),
	}
	rule := rules.Rule{
		ID:         "MISSING_LAB_NAMES",
		Domain:     rules.DomainQuality,
		Metric:     rules.MetricMissingCount,
		Scope:      rules.ScopeSite,
		Field:      "lab_name",
		Thresholds: rules.Thresholds{Low: 1, Medium: 5, High: 10},
	}
	candidates := NewEvaluator().Evaluate(records, snapshotWith(rule), time.Now())
	if len(candidates) != 0 {
		t.Fatalf("expected no candidates, got %+v", candidates)
	}
}
