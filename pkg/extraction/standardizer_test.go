package extraction

import "testing"

func TestCanonicalHeaderSynonyms(t *testing.T) {
	std := NewStandardizer()

	cases := map[string]string{
		"Site Number":  FieldSiteID,
		"SITEID":       FieldSiteID,
		"site no":      FieldSiteID,
		"Patient ID":   FieldSubjectID,
		"Subject":      FieldSubjectID,
		"Visit Name":   FieldVisit,
		"visitno":      FieldVisit,
		"Lab Name":     "lab_name",
		"Open Queries": "open_queries",
	}
	for raw, want := range cases {
		if got := std.CanonicalHeader(raw); got != want {
			t.Errorf("CanonicalHeader(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestNormalizeSiteID(t *testing.T) {
	std := NewStandardizer()

	cases := map[string]string{
		"Site 001": "1",
		"site-12":  "12",
		"007":      "7",
		"SITE 3":   "3",
	}
	for raw, want := range cases {
		if got := std.NormalizeValue(FieldSiteID, raw); got != want {
			t.Errorf("site %q normalized to %q, want %q", raw, got, want)
		}
	}
}

func TestNormalizeSubjectID(t *testing.T) {
	std := NewStandardizer()

	if got := std.NormalizeValue(FieldSubjectID, "SUBJ-1001"); got != "1001" {
		t.Errorf("expected 1001, got %q", got)
	}
	if got := std.NormalizeValue(FieldSubjectID, "patient 42"); got != "42" {
		t.Errorf("expected 42, got %q", got)
	}
}

func TestNormalizeVisit(t *testing.T) {
	std := NewStandardizer()

	cases := map[string]string{
		"V1":          "Visit 1",
		"visit 3":     "Visit 3",
		"First Visit": "Visit 1",
		"4":           "Visit 4",
	}
	for raw, want := range cases {
		if got := std.NormalizeValue(FieldVisit, raw); got != want {
			t.Errorf("visit %q normalized to %q, want %q", raw, got, want)
		}
	}
}
