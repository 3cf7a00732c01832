package rules

import "testing"

const validDoc = `
scoring:
  weights:
    quality: 0.5
    operational: 0.5
  severity_points:
    low: 1
    medium: 2
    high: 3
  study_aggregation: max
  risk_bands:
    medium: 4
    high: 8
alerting:
  score_threshold: 10
rules:
  - id: MISSING_DATA
    domain: quality
    metric: percent_missing
    field: lab_name
    thresholds: {low: 5, medium: 15, high: 30}
  - id: QUERY_BACKLOG
    domain: operational
    metric: field_sum
    field: open_queries
    thresholds: {low: 10, medium: 30, high: 50}
`

func TestParseValidDocument(t *testing.T) {
	snap, err := Parse([]byte(validDoc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Report.Loaded != 2 {
		t.Fatalf("expected 2 rules loaded, got %d", snap.Report.Loaded)
	}
	if len(snap.Report.Rejected) != 0 {
		t.Fatalf("expected no rejected rules, got %v", snap.Report.Rejected)
	}
	if snap.Scoring.StudyAggregation != "max" {
		t.Fatalf("expected max aggregation, got %q", snap.Scoring.StudyAggregation)
	}
	if got := snap.ByDomain(DomainQuality); len(got) != 1 || got[0].ID != "MISSING_DATA" {
		t.Fatalf("unexpected quality rules: %v", got)
	}
}

func TestInvalidRuleRejectedOthersLoad(t *testing.T) {
	doc := validDoc + `
  - id: BAD_THRESHOLDS
    domain: quality
    metric: row_count
    thresholds: {low: 10, medium: 5, high: 30}
  - id: BAD_METRIC
    domain: operational
    metric: sentiment
    thresholds: {low: 1, medium: 2, high: 3}
`
	snap, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Report.Loaded != 2 {
		t.Fatalf("expected valid rules to survive, got %d loaded", snap.Report.Loaded)
	}
	if len(snap.Report.Rejected) != 2 {
		t.Fatalf("expected 2 rejections, got %v", snap.Report.Rejected)
	}
}

func TestMissingAggregationPolicyFailsLoad(t *testing.T) {
	doc := `
scoring:
  weights:
    quality: 0.5
    operational: 0.5
  severity_points:
    low: 1
    medium: 2
    high: 3
rules: []
`
	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatal("expected error for missing study_aggregation")
	}
}

func TestTierClassification(t *testing.T) {
	rule := Rule{Thresholds: Thresholds{Low: 5, Medium: 15, High: 30}}

	tier, threshold, ok := rule.Tier(12)
	if !ok || tier != TierLow || threshold != 5 {
		t.Fatalf("expected low tier at threshold 5, got %s/%v/%v", tier, threshold, ok)
	}

	tier, threshold, ok = rule.Tier(30)
	if !ok || tier != TierHigh || threshold != 30 {
		t.Fatalf("expected high tier at threshold 30, got %s/%v/%v", tier, threshold, ok)
	}

	if _, _, ok := rule.Tier(4.9); ok {
		t.Fatal("expected no tier below lowest threshold")
	}
}

func TestEqualThresholdsPreferHigherTier(t *testing.T) {
	rule := Rule{Thresholds: Thresholds{Low: 10, Medium: 10, High: 30}}
	tier, _, ok := rule.Tier(10)
	if !ok || tier != TierMedium {
		t.Fatalf("expected medium tier to win the tie, got %s", tier)
	}
}

func TestDateDelayRequiresFields(t *testing.T) {
	doc := `
scoring:
  weights: {quality: 0.5, operational: 0.5}
  severity_points: {low: 1, medium: 2, high: 3}
  study_aggregation: sum
rules:
  - id: DELAYED_VISITS
    domain: operational
    metric: date_delay
    thresholds: {low: 2, medium: 5, high: 10}
`
	snap, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Report.Rejected) != 1 {
		t.Fatalf("expected date_delay rule rejection, got %v", snap.Report.Rejected)
	}
}

func TestRowCountRequiresSheetFilter(t *testing.T) {
	doc := `
scoring:
  weights: {quality: 0.5, operational: 0.5}
  severity_points: {low: 1, medium: 2, high: 3}
  study_aggregation: sum
rules:
  - id: INACTIVATED_FORMS
    domain: quality
    metric: row_count
    thresholds: {low: 3, medium: 10, high: 20}
  - id: INACTIVATED_FORMS_SCOPED
    domain: quality
    metric: row_count
    sheet_contains: inactivated
    thresholds: {low: 3, medium: 10, high: 20}
`
	snap, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Report.Loaded != 1 || len(snap.Report.Rejected) != 1 {
		t.Fatalf("expected unfiltered row_count rejected, got %+v", snap.Report)
	}
}
