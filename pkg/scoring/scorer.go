package scoring

import (
	"math"
	"sort"

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/issues"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/rules"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ScopeScore is the weighted risk for one scope, with the per-domain raw
// point totals kept for the snapshot breakdown.
type ScopeScore struct {
	ScopeKey  string               `json:"scope_key"`
	ByDomain  map[rules.Domain]float64 `json:"by_domain"`
	Score     float64              `json:"score"`
	RiskLevel RiskLevel            `json:"risk_level"`
	OpenCount int                  `json:"open_count"`
}

// StudyScore aggregates scope scores per the configured policy.
type StudyScore struct {
	Score     float64      `json:"score"`
	RiskLevel RiskLevel    `json:"risk_level"`
	Scopes    []ScopeScore `json:"scopes"`
}

type Scorer struct{}

func NewScorer() *Scorer {
	return &Scorer{}
}

// Score computes the weighted risk per scope and the study aggregate. Only
// open issues contribute. Scores are rounded to two decimals so repeated runs
// over identical issues produce byte-identical snapshots.
func (s *Scorer) Score(all []issues.Issue, cfg rules.ScoringConfig) StudyScore {
	type acc struct {
		byDomain map[rules.Domain]float64
		open     int
	}
	perScope := make(map[string]*acc)

	for _, issue := range all {
		if issue.Status != issues.StatusOpen {
			continue
		}
		a, ok := perScope[issue.ScopeKey]
		if !ok {
			a = &acc{byDomain: make(map[rules.Domain]float64)}
			perScope[issue.ScopeKey] = a
		}
		a.byDomain[issue.Domain] += cfg.SeverityPoints[issue.Tier]
		a.open++
	}

	scopes := make([]ScopeScore, 0, len(perScope))
	for key, a := range perScope {
		var score float64
		for domain, points := range a.byDomain {
			score += points * cfg.Weights[domain]
		}
		score = round2(score)
		scopes = append(scopes, ScopeScore{
			ScopeKey:  key,
			ByDomain:  a.byDomain,
			Score:     score,
			RiskLevel: Band(score, cfg.RiskBands),
			OpenCount: a.open,
		})
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i].ScopeKey < scopes[j].ScopeKey })

	study := aggregate(scopes, cfg.StudyAggregation)
	return StudyScore{
		Score:     study,
		RiskLevel: Band(study, cfg.RiskBands),
		Scopes:    scopes,
	}
}

// Band maps a score to its risk level. Band boundaries are inclusive on the
// higher level.
func Band(score float64, bands rules.RiskBands) RiskLevel {
	switch {
	case score >= bands.High:
		return RiskHigh
	case score >= bands.Medium:
		return RiskMedium
	}
	return RiskLow
}

func aggregate(scopes []ScopeScore, policy string) float64 {
	if len(scopes) == 0 {
		return 0
	}
	switch policy {
	case "average":
		var sum float64
		for _, sc := range scopes {
			sum += sc.Score
		}
		return round2(sum / float64(len(scopes)))
	case "max":
		max := scopes[0].Score
		for _, sc := range scopes[1:] {
			if sc.Score > max {
				max = sc.Score
			}
		}
		return max
	default: // sum, validated at catalog load
		var sum float64
		for _, sc := range scopes {
			sum += sc.Score
		}
		return round2(sum)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
