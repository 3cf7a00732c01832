package scoring

import "testing"

func TestResolvedScopeStillGetsTrendPoint(t *testing.T) {
	// Run 1 scored site:1 and site:2; by run 2 every issue at site:1 has
	// resolved, so only site:2 carries a score.
	score := StudyScore{
		Score:     1.5,
		RiskLevel: RiskMedium,
		Scopes: []ScopeScore{
			{ScopeKey: "site:2", Score: 1.5, RiskLevel: RiskMedium},
		},
	}
	targets := pointTargets(score, []string{"study", "site:1", "site:2"})

	byKey := make(map[string]scopeValue, len(targets))
	for _, target := range targets {
		if _, dup := byKey[target.key]; dup {
			t.Fatalf("scope %s received more than one point", target.key)
		}
		byKey[target.key] = target
	}
	if len(byKey) != 3 {
		t.Fatalf("expected points for study, site:1 and site:2, got %v", byKey)
	}
	recovered, ok := byKey["site:1"]
	if !ok {
		t.Fatal("recovered scope dropped from the trend")
	}
	if recovered.score != 0 || recovered.level != RiskLow {
		t.Fatalf("recovered scope should score zero at low risk, got %+v", recovered)
	}
	if active := byKey["site:2"]; active.score != 1.5 || active.level != RiskMedium {
		t.Fatalf("active scope point wrong: %+v", active)
	}
}

func TestFirstRunScopesNeedNoHistory(t *testing.T) {
	score := StudyScore{
		Score:     4,
		RiskLevel: RiskHigh,
		Scopes: []ScopeScore{
			{ScopeKey: "site:1", Score: 4, RiskLevel: RiskHigh},
		},
	}
	targets := pointTargets(score, nil)
	if len(targets) != 2 {
		t.Fatalf("expected study and site:1 points, got %v", targets)
	}
	if targets[0].key != "study" || targets[0].score != 4 {
		t.Fatalf("study aggregate point wrong: %+v", targets[0])
	}
}

func TestDirectionLabels(t *testing.T) {
	cases := []struct {
		delta float64
		want  string
	}{
		{2.5, "worsening"},
		{-1, "improving"},
		{0, "stable"},
	}
	for _, tc := range cases {
		if got := direction(tc.delta); got != tc.want {
			t.Fatalf("direction(%v) = %q, want %q", tc.delta, got, tc.want)
		}
	}
}
