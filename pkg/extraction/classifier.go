package extraction

import (
	"strings"

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/rules"
)

// Keyword sets for domain detection, checked against file name, sheet name,
// and headers. Quality takes priority over operational when both match.
var (
	qualityKeywords = []string{
		"missing", "inactive", "inactivated", "page", "blank", "invalid", "error", "lab",
	}
	operationalKeywords = []string{
		"visit", "projection", "query", "queries", "delay", "overdue", "pending",
		"edc", "metric", "edrr", "entry",
	}
)

// DetectDomain classifies a sheet into a rule domain from its file name,
// sheet name, and canonical headers. Returns false when nothing matches.
func DetectDomain(filename, sheet string, headers []string) (rules.Domain, bool) {
	haystack := strings.ToLower(filename) + " " + strings.ToLower(sheet) + " " + strings.ToLower(strings.Join(headers, " "))

	if containsAny(haystack, qualityKeywords) {
		return rules.DomainQuality, true
	}
	if containsAny(haystack, operationalKeywords) {
		return rules.DomainOperational, true
	}
	return "", false
}

func containsAny(haystack string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}
