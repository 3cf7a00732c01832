package evaluation

import (
	"sort"
	"strings"
	"time"

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/extraction"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/rules"
)

// Scope is the narrowest entity a candidate applies to. Zero value means
// study-wide.
type Scope struct {
	SiteID    string `json:"site_id,omitempty"`
	SubjectID string `json:"subject_id,omitempty"`
	Visit     string `json:"visit,omitempty"`
}

// Key is the canonical scope identity used for issue deduplication.
func (s Scope) Key() string {
	var parts []string
	if s.SiteID != "" {
		parts = append(parts, "site:"+s.SiteID)
	}
	if s.SubjectID != "" {
		parts = append(parts, "subject:"+s.SubjectID)
	}
	if s.Visit != "" {
		parts = append(parts, "visit:"+s.Visit)
	}
	if len(parts) == 0 {
		return "study"
	}
	return strings.Join(parts, "|")
}

type SourceRef struct {
	File  string `json:"file"`
	Sheet string `json:"sheet"`
}

// Candidate is an evidence-backed issue candidate. Observed and Threshold are
// the literal values compared, in the same units, so the detection is
// reproducible from the same Records and RuleDefinition.
type Candidate struct {
	RuleID     string           `json:"rule_id"`
	Domain     rules.Domain     `json:"domain"`
	Metric     rules.MetricKind `json:"metric"`
	Scope      Scope            `json:"scope"`
	Observed   float64          `json:"observed"`
	Threshold  float64          `json:"threshold"`
	Tier       rules.Tier       `json:"tier"`
	Sources    []SourceRef      `json:"sources,omitempty"`
	DetectedAt time.Time        `json:"detected_at"`
}

type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate computes every loaded rule's metric over the matching record
// groups and emits candidates for metrics that cross the lowest configured
// threshold. Pure function of (records, catalog snapshot, now).
func (e *Evaluator) Evaluate(records []extraction.Record, snap *rules.Snapshot, now time.Time) []Candidate {
	var candidates []Candidate
	for _, rule := range snap.Rules {
		sheetFilter := strings.ToLower(rule.SheetContains)
		var domainRecords []extraction.Record
		for _, r := range records {
			if r.Domain != rule.Domain {
				continue
			}
			if sheetFilter != "" && !strings.Contains(strings.ToLower(r.Sheet), sheetFilter) {
				continue
			}
			domainRecords = append(domainRecords, r)
		}
		if len(domainRecords) == 0 {
			continue
		}

		for scope, group := range groupByScope(domainRecords, rule.Scope) {
			observed, ok := computeMetric(rule, group)
			if !ok {
				continue
			}
			tier, threshold, crossed := rule.Tier(observed)
			if !crossed {
				continue
			}
			candidates = append(candidates, Candidate{
				RuleID:     rule.ID,
				Domain:     rule.Domain,
				Metric:     rule.Metric,
				Scope:      scope,
				Observed:   observed,
				Threshold:  threshold,
				Tier:       tier,
				Sources:    sourceRefs(group),
				DetectedAt: now,
			})
		}
	}

	// Stable output order for deterministic re-evaluation.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].RuleID != candidates[j].RuleID {
			return candidates[i].RuleID < candidates[j].RuleID
		}
		return candidates[i].Scope.Key() < candidates[j].Scope.Key()
	})
	return candidates
}

// groupByScope buckets records by the identifiers the rule's scope level
// requires. Records lacking an identifier fold into the next-coarser bucket.
func groupByScope(records []extraction.Record, level rules.ScopeLevel) map[Scope][]extraction.Record {
	groups := make(map[Scope][]extraction.Record)
	for _, r := range records {
		scope := Scope{}
		if level != rules.ScopeStudy {
			scope.SiteID, _ = r.Field(extraction.FieldSiteID)
		}
		if level == rules.ScopeSubject || level == rules.ScopeVisit {
			scope.SubjectID, _ = r.Field(extraction.FieldSubjectID)
		}
		if level == rules.ScopeVisit {
			scope.Visit, _ = r.Field(extraction.FieldVisit)
		}
		groups[scope] = append(groups[scope], r)
	}
	return groups
}

func sourceRefs(records []extraction.Record) []SourceRef {
	seen := make(map[SourceRef]bool)
	var refs []SourceRef
	for _, r := range records {
		ref := SourceRef{File: r.SourceFile, Sheet: r.Sheet}
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].File != refs[j].File {
			return refs[i].File < refs[j].File
		}
		return refs[i].Sheet < refs[j].Sheet
	})
	return refs
}
