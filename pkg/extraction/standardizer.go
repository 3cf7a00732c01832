package extraction

import (
	"regexp"
	"strconv"
	"strings"
)

// Canonical identifier field names downstream rules key on.
const (
	FieldSiteID    = "site_id"
	FieldSubjectID = "subject_id"
	FieldVisit     = "visit"
)

// identifierSynonyms maps known header variants to canonical identifier
// names, so rules never see raw header variance.
var identifierSynonyms = map[string]string{
	"site":        FieldSiteID,
	"site id":     FieldSiteID,
	"site number": FieldSiteID,
	"siteid":      FieldSiteID,
	"site_id":     FieldSiteID,
	"site_number": FieldSiteID,
	"siteno":      FieldSiteID,
	"site no":     FieldSiteID,

	"subject":    FieldSubjectID,
	"subject id": FieldSubjectID,
	"subjectid":  FieldSubjectID,
	"subject_id": FieldSubjectID,
	"patient":    FieldSubjectID,
	"patient id": FieldSubjectID,
	"patientid":  FieldSubjectID,

	"visit":        FieldVisit,
	"visit name":   FieldVisit,
	"visit number": FieldVisit,
	"visitname":    FieldVisit,
	"visit_name":   FieldVisit,
	"visitno":      FieldVisit,
	"visit no":     FieldVisit,
}

var (
	nonWordRe      = regexp.MustCompile(`[^a-z0-9]+`)
	sitePrefixRe   = regexp.MustCompile(`(?i)^(site[\s_-]*)`)
	subjPrefixRe   = regexp.MustCompile(`(?i)^(subj|subject|patient|pt)[\s_-]*`)
	firstNumberRe  = regexp.MustCompile(`(\d+)`)
	visitNumberRe  = regexp.MustCompile(`(?i)v(?:isit)?[\s_-]*(\d+)`)
	visitOrdinals  = map[string]string{
		"first": "1", "second": "2", "third": "3", "fourth": "4",
		"fifth": "5", "sixth": "6", "seventh": "7", "eighth": "8",
	}
)

type Standardizer struct{}

func NewStandardizer() *Standardizer {
	return &Standardizer{}
}

// CanonicalHeader folds a raw column header to its canonical field name.
// Identifier synonyms collapse to site_id/subject_id/visit; everything else
// becomes a lowercase snake_case name.
func (s *Standardizer) CanonicalHeader(header string) string {
	lowered := strings.ToLower(strings.TrimSpace(header))
	if canonical, ok := identifierSynonyms[lowered]; ok {
		return canonical
	}
	cleaned := strings.Trim(nonWordRe.ReplaceAllString(lowered, "_"), "_")
	if canonical, ok := identifierSynonyms[strings.ReplaceAll(cleaned, "_", " ")]; ok {
		return canonical
	}
	return cleaned
}

// IsIdentifier reports whether a canonical field name is one of the
// standardized entity identifiers.
func (s *Standardizer) IsIdentifier(canonical string) bool {
	return canonical == FieldSiteID || canonical == FieldSubjectID || canonical == FieldVisit
}

// NormalizeValue normalizes an identifier value for its canonical field.
// Non-identifier fields pass through trimmed.
func (s *Standardizer) NormalizeValue(canonical, value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	switch canonical {
	case FieldSiteID:
		return s.normalizeSiteID(trimmed)
	case FieldSubjectID:
		return s.normalizeSubjectID(trimmed)
	case FieldVisit:
		return s.normalizeVisit(trimmed)
	}
	return trimmed
}

// normalizeSiteID folds "Site 001", "site-1", "001" to "1".
func (s *Standardizer) normalizeSiteID(value string) string {
	stripped := sitePrefixRe.ReplaceAllString(value, "")
	if match := firstNumberRe.FindString(stripped); match != "" {
		if n, err := strconv.Atoi(match); err == nil {
			return strconv.Itoa(n)
		}
	}
	return strings.ToLower(stripped)
}

func (s *Standardizer) normalizeSubjectID(value string) string {
	return subjPrefixRe.ReplaceAllString(value, "")
}

// normalizeVisit folds "V1", "visit 1", "First Visit" to "Visit 1".
func (s *Standardizer) normalizeVisit(value string) string {
	lowered := strings.ToLower(value)
	for word, num := range visitOrdinals {
		if strings.Contains(lowered, word) {
			return "Visit " + num
		}
	}
	if m := visitNumberRe.FindStringSubmatch(lowered); len(m) == 2 {
		return "Visit " + m[1]
	}
	if m := firstNumberRe.FindString(lowered); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			return "Visit " + strconv.Itoa(n)
		}
	}
	return titleCase(lowered)
}

// titleCase upcases the first letter of each space-separated word. Visit
// labels are plain ASCII.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
