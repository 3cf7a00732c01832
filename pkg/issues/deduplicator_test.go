package issues

import (
	"testing"
	"time"

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/evaluation"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/rules"
)

func candidate(ruleID, siteID string, observed, threshold float64, tier rules.Tier) evaluation.Candidate {
	return evaluation.Candidate{
		RuleID:    ruleID,
		Domain:    rules.DomainQuality,
		Metric:    rules.MetricPercentMissing,
		Scope:     evaluation.Scope{SiteID: siteID},
		Observed:  observed,
		Threshold: threshold,
		Tier:      tier,
		Sources:   []evaluation.SourceRef{{File: "wb.xlsx", Sheet: "Missing Data"}},
	}
}

func TestMergeCreatesAndPreservesFirstSeen(t *testing.T) {
	d := NewDeduplicator()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(24 * time.Hour)

	first := d.Merge("ST-1", nil, []evaluation.Candidate{candidate("missing_lab", "1", 12, 5, rules.TierLow)}, t0)
	if first.Created != 1 || len(first.Issues) != 1 {
		t.Fatalf("expected one created issue, got %+v", first)
	}
	issue := first.Issues[0]
	if issue.Status != StatusOpen || !issue.FirstSeen.Equal(t0) || !issue.LastSeen.Equal(t0) {
		t.Fatalf("unexpected initial issue state: %+v", issue)
	}

	second := d.Merge("ST-1", first.Issues, []evaluation.Candidate{candidate("missing_lab", "1", 15, 5, rules.TierMedium)}, t1)
	if second.Created != 0 || second.Updated != 1 {
		t.Fatalf("expected pure update, got %+v", second)
	}
	updated := second.Issues[0]
	if updated.ID != issue.ID {
		t.Fatalf("issue identity changed: %s vs %s", updated.ID, issue.ID)
	}
	if !updated.FirstSeen.Equal(t0) {
		t.Fatalf("first-seen not preserved: %v", updated.FirstSeen)
	}
	if !updated.LastSeen.Equal(t1) || updated.Observed != 15 || updated.Tier != rules.TierMedium {
		t.Fatalf("evidence not refreshed: %+v", updated)
	}
}

func TestMergeIdempotentOnUnchangedInput(t *testing.T) {
	d := NewDeduplicator()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	cands := []evaluation.Candidate{
		candidate("missing_lab", "1", 12, 5, rules.TierLow),
		candidate("query_backlog", "2", 30, 20, rules.TierMedium),
	}
	first := d.Merge("ST-1", nil, cands, t0)
	second := d.Merge("ST-1", first.Issues, cands, t1)

	if second.Created != 0 || second.Resolved != 0 || second.Reopened != 0 {
		t.Fatalf("re-run changed the canonical set: %+v", second)
	}
	if len(second.Issues) != len(first.Issues) {
		t.Fatalf("issue count drifted: %d vs %d", len(second.Issues), len(first.Issues))
	}
	for i := range second.Issues {
		a, b := first.Issues[i], second.Issues[i]
		if a.ID != b.ID || a.Observed != b.Observed || a.Tier != b.Tier || !b.FirstSeen.Equal(a.FirstSeen) {
			t.Fatalf("issue %d drifted beyond last-seen: %+v vs %+v", i, a, b)
		}
		if !b.LastSeen.Equal(t1) {
			t.Fatalf("last-seen not refreshed: %+v", b)
		}
	}
}

func TestMergeResolvesInsteadOfDeleting(t *testing.T) {
	d := NewDeduplicator()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	first := d.Merge("ST-1", nil, []evaluation.Candidate{
		candidate("missing_lab", "1", 12, 5, rules.TierLow),
		candidate("query_backlog", "2", 30, 20, rules.TierMedium),
	}, t0)

	second := d.Merge("ST-1", first.Issues, []evaluation.Candidate{
		candidate("missing_lab", "1", 11, 5, rules.TierLow),
	}, t1)
	if second.Resolved != 1 {
		t.Fatalf("expected one resolution, got %+v", second)
	}
	if len(second.Issues) != 2 {
		t.Fatalf("resolved issue dropped from canonical set: %+v", second.Issues)
	}
	var resolved *Issue
	for i := range second.Issues {
		if second.Issues[i].RuleID == "query_backlog" {
			resolved = &second.Issues[i]
		}
	}
	if resolved == nil || resolved.Status != StatusResolved || resolved.ResolvedAt == nil || !resolved.ResolvedAt.Equal(t1) {
		t.Fatalf("unexpected resolved state: %+v", resolved)
	}
}

func TestMergeReopensResolvedIssue(t *testing.T) {
	d := NewDeduplicator()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t1.Add(time.Hour)

	first := d.Merge("ST-1", nil, []evaluation.Candidate{candidate("missing_lab", "1", 12, 5, rules.TierLow)}, t0)
	second := d.Merge("ST-1", first.Issues, nil, t1)
	if second.Resolved != 1 {
		t.Fatalf("expected resolution, got %+v", second)
	}

	third := d.Merge("ST-1", second.Issues, []evaluation.Candidate{candidate("missing_lab", "1", 14, 5, rules.TierLow)}, t2)
	if third.Reopened != 1 {
		t.Fatalf("expected reopen, got %+v", third)
	}
	reopened := third.Issues[0]
	if reopened.Status != StatusOpen || reopened.ResolvedAt != nil {
		t.Fatalf("reopened issue still carries resolution: %+v", reopened)
	}
	if !reopened.FirstSeen.Equal(t0) {
		t.Fatalf("reopen lost original first-seen: %+v", reopened)
	}
}
