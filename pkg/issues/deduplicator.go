package issues

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/evaluation"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/rules"
)

type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// Issue is the canonical, persisted form of an issue candidate. At most one
// exists per (study, rule, scope). Issues are never deleted: when a run stops
// re-detecting one it is marked resolved and stays queryable.
type Issue struct {
	ID        string                 `json:"id"`
	StudyID   string                 `json:"study_id"`
	RuleID    string                 `json:"rule_id"`
	ScopeKey  string                 `json:"scope_key"`
	Scope     evaluation.Scope       `json:"scope"`
	Domain    rules.Domain           `json:"domain"`
	Metric    rules.MetricKind       `json:"metric"`
	Observed  float64                `json:"observed"`
	Threshold float64                `json:"threshold"`
	Tier      rules.Tier             `json:"tier"`
	Status    Status                 `json:"status"`
	Sources   []evaluation.SourceRef `json:"sources,omitempty"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
	ResolvedAt *time.Time            `json:"resolved_at,omitempty"`
}

// MergeResult carries the full canonical set after a merge plus the change
// counts for the run audit.
type MergeResult struct {
	Issues   []Issue
	Created  int
	Updated  int
	Reopened int
	Resolved int
}

type Deduplicator struct{}

func NewDeduplicator() *Deduplicator {
	return &Deduplicator{}
}

// Merge folds a run's candidates into the study's canonical issue set.
// Matching issues refresh last-seen and evidence but keep first-seen and
// identity; open issues with no matching candidate resolve; new candidates
// create issues with first-seen = last-seen = run time. Re-running unchanged
// input changes nothing but last-seen timestamps.
func (d *Deduplicator) Merge(studyID string, existing []Issue, candidates []evaluation.Candidate, now time.Time) MergeResult {
	result := MergeResult{}

	byKey := make(map[[2]string]*Issue, len(existing))
	kept := make([]Issue, len(existing))
	copy(kept, existing)
	for i := range kept {
		byKey[[2]string{kept[i].RuleID, kept[i].ScopeKey}] = &kept[i]
	}

	matched := make(map[[2]string]bool)
	var created []Issue

	for _, c := range candidates {
		key := [2]string{c.RuleID, c.Scope.Key()}
		matched[key] = true

		if issue, ok := byKey[key]; ok {
			if issue.Status == StatusResolved {
				result.Reopened++
			} else {
				result.Updated++
			}
			issue.Status = StatusOpen
			issue.ResolvedAt = nil
			issue.Observed = c.Observed
			issue.Threshold = c.Threshold
			issue.Tier = c.Tier
			issue.Sources = c.Sources
			issue.LastSeen = now
			continue
		}

		created = append(created, Issue{
			ID:        uuid.New().String(),
			StudyID:   studyID,
			RuleID:    c.RuleID,
			ScopeKey:  c.Scope.Key(),
			Scope:     c.Scope,
			Domain:    c.Domain,
			Metric:    c.Metric,
			Observed:  c.Observed,
			Threshold: c.Threshold,
			Tier:      c.Tier,
			Status:    StatusOpen,
			Sources:   c.Sources,
			FirstSeen: now,
			LastSeen:  now,
		})
		result.Created++
	}

	for i := range kept {
		key := [2]string{kept[i].RuleID, kept[i].ScopeKey}
		if matched[key] || kept[i].Status == StatusResolved {
			continue
		}
		resolvedAt := now
		kept[i].Status = StatusResolved
		kept[i].ResolvedAt = &resolvedAt
		result.Resolved++
	}

	all := append(kept, created...)
	sort.Slice(all, func(i, j int) bool {
		if all[i].RuleID != all[j].RuleID {
			return all[i].RuleID < all[j].RuleID
		}
		return all[i].ScopeKey < all[j].ScopeKey
	})
	result.Issues = all
	return result
}

// OpenByDomain filters the open issues of one domain, for scoring.
func OpenByDomain(all []Issue, domain rules.Domain) []Issue {
	var out []Issue
	for _, issue := range all {
		if issue.Status == StatusOpen && issue.Domain == domain {
			out = append(out, issue)
		}
	}
	return out
}
