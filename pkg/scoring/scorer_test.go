package scoring

import (
	"testing"

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/issues"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/rules"
)

func testConfig(aggregation string) rules.ScoringConfig {
	return rules.ScoringConfig{
		Weights: map[rules.Domain]float64{
			rules.DomainQuality:     0.5,
			rules.DomainOperational: 0.5,
		},
		SeverityPoints: map[rules.Tier]float64{
			rules.TierHigh:   3,
			rules.TierMedium: 2,
			rules.TierLow:    1,
		},
		StudyAggregation: aggregation,
		RiskBands:        rules.RiskBands{Medium: 2, High: 4},
	}
}

func openIssue(ruleID, scopeKey string, domain rules.Domain, tier rules.Tier) issues.Issue {
	return issues.Issue{
		RuleID:   ruleID,
		ScopeKey: scopeKey,
		Domain:   domain,
		Tier:     tier,
		Status:   issues.StatusOpen,
	}
}

func TestScoreWeightsAndBands(t *testing.T) {
	all := []issues.Issue{
		openIssue("missing_lab", "site:1", rules.DomainQuality, rules.TierHigh),
		openIssue("inactive_pages", "site:1", rules.DomainQuality, rules.TierMedium),
		openIssue("query_backlog", "site:1", rules.DomainOperational, rules.TierHigh),
		openIssue("visit_delay", "site:2", rules.DomainOperational, rules.TierLow),
	}
	score := NewScorer().Score(all, testConfig("sum"))

	if len(score.Scopes) != 2 {
		t.Fatalf("expected two scopes, got %+v", score.Scopes)
	}
	// site:1 = (3+2)*0.5 + 3*0.5 = 4.0 (high); site:2 = 1*0.5 = 0.5 (low)
	if score.Scopes[0].Score != 4.0 || score.Scopes[0].RiskLevel != RiskHigh {
		t.Fatalf("unexpected site:1 score: %+v", score.Scopes[0])
	}
	if score.Scopes[1].Score != 0.5 || score.Scopes[1].RiskLevel != RiskLow {
		t.Fatalf("unexpected site:2 score: %+v", score.Scopes[1])
	}
	if score.Score != 4.5 || score.RiskLevel != RiskHigh {
		t.Fatalf("unexpected study aggregate: %+v", score)
	}
}

func TestScoreIgnoresResolvedIssues(t *testing.T) {
	resolved := openIssue("missing_lab", "site:1", rules.DomainQuality, rules.TierHigh)
	resolved.Status = issues.StatusResolved
	score := NewScorer().Score([]issues.Issue{
		resolved,
		openIssue("visit_delay", "site:1", rules.DomainOperational, rules.TierLow),
	}, testConfig("sum"))

	if score.Scopes[0].Score != 0.5 || score.Scopes[0].OpenCount != 1 {
		t.Fatalf("resolved issue leaked into score: %+v", score.Scopes[0])
	}
}

func TestStudyAggregationPolicies(t *testing.T) {
	all := []issues.Issue{
		openIssue("missing_lab", "site:1", rules.DomainQuality, rules.TierHigh),  // 1.5
		openIssue("missing_lab", "site:2", rules.DomainQuality, rules.TierLow),   // 0.5
		openIssue("missing_lab", "site:3", rules.DomainQuality, rules.TierMedium), // 1.0
	}
	cases := []struct {
		policy string
		want   float64
	}{
		{"sum", 3.0},
		{"average", 1.0},
		{"max", 1.5},
	}
	for _, tc := range cases {
		score := NewScorer().Score(all, testConfig(tc.policy))
		if score.Score != tc.want {
			t.Errorf("policy %s: got %v, want %v", tc.policy, score.Score, tc.want)
		}
	}
}

func TestScoreEmptyIssueSet(t *testing.T) {
	score := NewScorer().Score(nil, testConfig("sum"))
	if score.Score != 0 || score.RiskLevel != RiskLow || len(score.Scopes) != 0 {
		t.Fatalf("unexpected empty score: %+v", score)
	}
}
