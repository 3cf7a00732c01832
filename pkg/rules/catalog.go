package rules

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/common/logger"
	"gopkg.in/yaml.v3"
)

// ErrRuleConfig marks a rule definition that failed validation. The offending
// rule is rejected from the catalog; the rest of the document still loads.
var ErrRuleConfig = errors.New("invalid rule configuration")

type Domain string

const (
	DomainQuality     Domain = "quality"
	DomainOperational Domain = "operational"
)

type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// TierRank orders severity tiers for comparisons. Higher is more severe.
func TierRank(t Tier) int {
	switch t {
	case TierHigh:
		return 3
	case TierMedium:
		return 2
	case TierLow:
		return 1
	}
	return 0
}

type MetricKind string

const (
	MetricPercentMissing MetricKind = "percent_missing"
	MetricMissingCount   MetricKind = "missing_count"
	MetricRowCount       MetricKind = "row_count"
	MetricFieldSum       MetricKind = "field_sum"
	MetricFieldAverage   MetricKind = "field_average"
	MetricDateDelay      MetricKind = "date_delay"
)

var knownMetrics = map[MetricKind]bool{
	MetricPercentMissing: true,
	MetricMissingCount:   true,
	MetricRowCount:       true,
	MetricFieldSum:       true,
	MetricFieldAverage:   true,
	MetricDateDelay:      true,
}

// fieldMetrics require a target field to compute over.
var fieldMetrics = map[MetricKind]bool{
	MetricPercentMissing: true,
	MetricMissingCount:   true,
	MetricFieldSum:       true,
	MetricFieldAverage:   true,
}

type Thresholds struct {
	Low    float64 `yaml:"low" json:"low"`
	Medium float64 `yaml:"medium" json:"medium"`
	High   float64 `yaml:"high" json:"high"`
}

// ScopeLevel names the narrowest entity a rule's metric is grouped by.
type ScopeLevel string

const (
	ScopeStudy   ScopeLevel = "study"
	ScopeSite    ScopeLevel = "site"
	ScopeSubject ScopeLevel = "subject"
	ScopeVisit   ScopeLevel = "visit"
)

type Rule struct {
	ID             string     `yaml:"id" json:"id"`
	Domain         Domain     `yaml:"domain" json:"domain"`
	Metric         MetricKind `yaml:"metric" json:"metric"`
	Scope          ScopeLevel `yaml:"scope,omitempty" json:"scope,omitempty"`
	Field          string     `yaml:"field,omitempty" json:"field,omitempty"`
	SheetContains  string     `yaml:"sheet_contains,omitempty" json:"sheet_contains,omitempty"`
	ProjectedField string     `yaml:"projected_field,omitempty" json:"projected_field,omitempty"`
	ActualField    string     `yaml:"actual_field,omitempty" json:"actual_field,omitempty"`
	Thresholds     Thresholds `yaml:"thresholds" json:"thresholds"`
	Description    string     `yaml:"description,omitempty" json:"description,omitempty"`
}

// Tier classifies an observed metric value against the rule's ordered
// thresholds. The highest crossed threshold wins; when two thresholds are
// equal the higher-severity tier takes precedence by evaluation order.
// Returns false when the value does not reach the lowest threshold.
func (r Rule) Tier(value float64) (Tier, float64, bool) {
	switch {
	case value >= r.Thresholds.High:
		return TierHigh, r.Thresholds.High, true
	case value >= r.Thresholds.Medium:
		return TierMedium, r.Thresholds.Medium, true
	case value >= r.Thresholds.Low:
		return TierLow, r.Thresholds.Low, true
	}
	return "", 0, false
}

type RiskBands struct {
	Medium float64 `yaml:"medium" json:"medium"`
	High   float64 `yaml:"high" json:"high"`
}

type ScoringConfig struct {
	Weights          map[Domain]float64 `yaml:"weights" json:"weights"`
	SeverityPoints   map[Tier]float64   `yaml:"severity_points" json:"severity_points"`
	StudyAggregation string             `yaml:"study_aggregation" json:"study_aggregation"` // sum, average, max
	RiskBands        RiskBands          `yaml:"risk_bands" json:"risk_bands"`
}

type AlertingConfig struct {
	ScoreThreshold float64 `yaml:"score_threshold" json:"score_threshold"`
}

type RuleError struct {
	RuleID string `json:"rule_id"`
	Reason string `json:"reason"`
}

// LoadReport records which rules loaded and which were rejected and why.
type LoadReport struct {
	Loaded   int         `json:"loaded"`
	Rejected []RuleError `json:"rejected,omitempty"`
}

// Snapshot is an immutable view of the catalog. A run started before a reload
// completes with the snapshot it began with.
type Snapshot struct {
	Rules    []Rule
	Scoring  ScoringConfig
	Alerting AlertingConfig
	Version  string
	LoadedAt time.Time
	Report   LoadReport
}

// ByDomain returns the loaded rules applicable to a record domain.
func (s *Snapshot) ByDomain(d Domain) []Rule {
	var out []Rule
	for _, r := range s.Rules {
		if r.Domain == d {
			out = append(out, r)
		}
	}
	return out
}

type document struct {
	Scoring  ScoringConfig  `yaml:"scoring"`
	Alerting AlertingConfig `yaml:"alerting"`
	Rules    []Rule         `yaml:"rules"`
}

// Load parses and validates a rule configuration document. Per-rule failures
// reject only that rule; document-level failures (unreadable file, missing
// scoring policy) fail the load outright.
func Load(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule configuration: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Snapshot, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing rule configuration: %w", err)
	}

	if err := validateScoring(doc.Scoring); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Scoring:  doc.Scoring,
		Alerting: doc.Alerting,
		LoadedAt: time.Now().UTC(),
	}

	seen := make(map[string]bool)
	for _, rule := range doc.Rules {
		if rule.Scope == "" {
			rule.Scope = ScopeSite
		}
		if err := validateRule(rule, seen); err != nil {
			snap.Report.Rejected = append(snap.Report.Rejected, RuleError{
				RuleID: rule.ID,
				Reason: err.Error(),
			})
			continue
		}
		seen[rule.ID] = true
		snap.Rules = append(snap.Rules, rule)
	}
	snap.Report.Loaded = len(snap.Rules)
	snap.Version = fmt.Sprintf("%d-rules-%d", len(snap.Rules), snap.LoadedAt.UnixNano())
	return snap, nil
}

func validateScoring(cfg ScoringConfig) error {
	switch cfg.StudyAggregation {
	case "sum", "average", "max":
	case "":
		return fmt.Errorf("%w: scoring.study_aggregation must be set explicitly (sum, average, or max)", ErrRuleConfig)
	default:
		return fmt.Errorf("%w: unknown study_aggregation %q", ErrRuleConfig, cfg.StudyAggregation)
	}
	for _, d := range []Domain{DomainQuality, DomainOperational} {
		if _, ok := cfg.Weights[d]; !ok {
			return fmt.Errorf("%w: scoring.weights missing domain %q", ErrRuleConfig, d)
		}
	}
	for _, t := range []Tier{TierLow, TierMedium, TierHigh} {
		if _, ok := cfg.SeverityPoints[t]; !ok {
			return fmt.Errorf("%w: scoring.severity_points missing tier %q", ErrRuleConfig, t)
		}
	}
	return nil
}

func validateRule(rule Rule, seen map[string]bool) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrRuleConfig)
	}
	if seen[rule.ID] {
		return fmt.Errorf("%w: duplicate rule id %q", ErrRuleConfig, rule.ID)
	}
	if rule.Domain != DomainQuality && rule.Domain != DomainOperational {
		return fmt.Errorf("%w: rule %s has unknown domain %q", ErrRuleConfig, rule.ID, rule.Domain)
	}
	if !knownMetrics[rule.Metric] {
		return fmt.Errorf("%w: rule %s has unknown metric %q", ErrRuleConfig, rule.ID, rule.Metric)
	}
	switch rule.Scope {
	case ScopeStudy, ScopeSite, ScopeSubject, ScopeVisit:
	default:
		return fmt.Errorf("%w: rule %s has unknown scope %q", ErrRuleConfig, rule.ID, rule.Scope)
	}
	if fieldMetrics[rule.Metric] && rule.Field == "" {
		return fmt.Errorf("%w: rule %s metric %s requires a field", ErrRuleConfig, rule.ID, rule.Metric)
	}
	if rule.Metric == MetricRowCount && rule.SheetContains == "" {
		return fmt.Errorf("%w: rule %s metric row_count requires sheet_contains", ErrRuleConfig, rule.ID)
	}
	if rule.Metric == MetricDateDelay && (rule.ProjectedField == "" || rule.ActualField == "") {
		return fmt.Errorf("%w: rule %s metric date_delay requires projected_field and actual_field", ErrRuleConfig, rule.ID)
	}
	t := rule.Thresholds
	if t.Low > t.Medium || t.Medium > t.High {
		return fmt.Errorf("%w: rule %s thresholds must be ordered low <= medium <= high", ErrRuleConfig, rule.ID)
	}
	return nil
}

// Catalog holds the active snapshot behind an atomic pointer so reloads never
// disturb in-flight runs.
type Catalog struct {
	path    string
	current atomic.Pointer[Snapshot]
}

func NewCatalog(path string) (*Catalog, error) {
	snap, err := Load(path)
	if err != nil {
		return nil, err
	}
	c := &Catalog{path: path}
	c.current.Store(snap)
	for _, rejected := range snap.Report.Rejected {
		logger.Log.WithFields(map[string]interface{}{
			"rule_id": rejected.RuleID,
			"reason":  rejected.Reason,
		}).Warn("rule rejected during catalog load")
	}
	return c, nil
}

func (c *Catalog) Snapshot() *Snapshot {
	return c.current.Load()
}

// Reload re-reads the configuration and swaps it in. On failure the previous
// snapshot stays active.
func (c *Catalog) Reload() (*Snapshot, error) {
	snap, err := Load(c.path)
	if err != nil {
		logger.Log.WithError(err).Error("rule catalog reload failed, keeping previous snapshot")
		return nil, err
	}
	c.current.Store(snap)
	logger.Log.WithFields(map[string]interface{}{
		"rules":    snap.Report.Loaded,
		"rejected": len(snap.Report.Rejected),
		"version":  snap.Version,
	}).Info("rule catalog reloaded")
	return snap, nil
}
