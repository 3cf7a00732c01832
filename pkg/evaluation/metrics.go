package evaluation

import (
	"time"

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/extraction"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/rules"
	"github.com/spf13/cast"
)

// dateLayouts accepted for date_delay columns, tried in order.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
	"02-Jan-2006",
}

// computeMetric evaluates one rule's metric over a record group. The closed
// set of metric kinds is selected here; ok is false when the group carries no
// signal for the metric (e.g. the field never appears).
func computeMetric(rule rules.Rule, group []extraction.Record) (float64, bool) {
	switch rule.Metric {
	case rules.MetricRowCount:
		return float64(len(group)), len(group) > 0
	case rules.MetricPercentMissing:
		missing, total, ok := missingCounts(rule.Field, group)
		if !ok || total == 0 {
			return 0, false
		}
		return float64(missing) / float64(total) * 100, true
	case rules.MetricMissingCount:
		missing, _, ok := missingCounts(rule.Field, group)
		if !ok {
			return 0, false
		}
		return float64(missing), true
	case rules.MetricFieldSum:
		sum, n := numericFold(rule.Field, group)
		return sum, n > 0
	case rules.MetricFieldAverage:
		sum, n := numericFold(rule.Field, group)
		if n == 0 {
			return 0, false
		}
		return sum / float64(n), true
	case rules.MetricDateDelay:
		return dateDelayCount(rule, group)
	}
	return 0, false
}

// missingCounts counts records lacking the field, restricted to records from
// sheets where the field appears at all. A sheet without the column is not
// evidence of missing data.
func missingCounts(field string, group []extraction.Record) (missing, total int, ok bool) {
	relevant := make(map[[2]string]bool)
	for _, r := range group {
		if _, has := r.Field(field); has {
			relevant[[2]string{r.SourceFile, r.Sheet}] = true
		}
	}
	if len(relevant) == 0 {
		return 0, 0, false
	}
	for _, r := range group {
		if !relevant[[2]string{r.SourceFile, r.Sheet}] {
			continue
		}
		total++
		if _, has := r.Field(field); !has {
			missing++
		}
	}
	return missing, total, true
}

// numericFold sums the field's numeric values, tolerating spreadsheet noise
// via cast; non-numeric cells are skipped.
func numericFold(field string, group []extraction.Record) (sum float64, n int) {
	for _, r := range group {
		raw, has := r.Field(field)
		if !has {
			continue
		}
		value, err := cast.ToFloat64E(raw)
		if err != nil {
			continue
		}
		sum += value
		n++
	}
	return sum, n
}

// dateDelayCount counts records whose actual date lands after the projected
// date. Rows missing either date carry no signal.
func dateDelayCount(rule rules.Rule, group []extraction.Record) (float64, bool) {
	comparable := 0
	delayed := 0
	for _, r := range group {
		projectedRaw, hasProjected := r.Field(rule.ProjectedField)
		actualRaw, hasActual := r.Field(rule.ActualField)
		if !hasProjected || !hasActual {
			continue
		}
		projected, okP := parseDate(projectedRaw)
		actual, okA := parseDate(actualRaw)
		if !okP || !okA {
			continue
		}
		comparable++
		if actual.After(projected) {
			delayed++
		}
	}
	if comparable == 0 {
		return 0, false
	}
	return float64(delayed), true
}

func parseDate(raw string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
