package alerting

import "testing"

func TestDecideEdgeTransitions(t *testing.T) {
	threshold := 10.0
	scores := []float64{5, 12, 14, 9, 16}

	var fired, resolved int
	active := false
	for _, score := range scores {
		switch Decide(active, score, threshold) {
		case KindFired:
			fired++
			active = true
		case KindResolved:
			resolved++
			active = false
		}
	}
	if fired != 2 || resolved != 1 {
		t.Fatalf("got %d fires and %d resolves, want 2 and 1", fired, resolved)
	}
}

func TestDecideSustainedCrossingIsSilent(t *testing.T) {
	if got := Decide(true, 14, 10); got != "" {
		t.Fatalf("sustained crossing produced %q", got)
	}
	if got := Decide(false, 5, 10); got != "" {
		t.Fatalf("sustained low score produced %q", got)
	}
}

func TestDecideThresholdEqualityCounts(t *testing.T) {
	if got := Decide(false, 10, 10); got != KindFired {
		t.Fatalf("score equal to threshold should fire, got %q", got)
	}
	if got := Decide(true, 10, 10); got != "" {
		t.Fatalf("score holding at threshold should not re-fire, got %q", got)
	}
}
