package extraction

import (
	"bytes"
	"fmt"

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/common/logger"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/rules"
	"github.com/xuri/excelize/v2"
)

// Record is one normalized row, bound to the sheet it came from. Hard
// isolation guarantee: a Record's fields come only from its own sheet.
type Record struct {
	SourceFile string
	Sheet      string
	Domain     rules.Domain
	Fields     map[string]interface{}
}

// Scope-related field accessors used by evaluation grouping.
func (r Record) Field(name string) (string, bool) {
	v, ok := r.Fields[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Workbook is raw tabular input: bytes in, tagged Records plus audit out.
type Workbook struct {
	Filename string
	Data     []byte
}

type SheetAudit struct {
	File     string       `json:"file"`
	Sheet    string       `json:"sheet"`
	Records  int          `json:"records"`
	Domain   rules.Domain `json:"domain,omitempty"`
	Excluded bool         `json:"excluded"`
	Reason   string       `json:"reason,omitempty"`
}

// Audit is the extraction-audit trail: which sheets produced records, which
// were excluded and why. Sheet-scoped failures never abort other sheets.
type Audit struct {
	TotalSheets     int          `json:"total_sheets"`
	ProcessedSheets int          `json:"processed_sheets"`
	SheetsWithRows  int          `json:"sheets_with_rows"`
	Sheets          []SheetAudit `json:"sheets"`
	Warnings        []string     `json:"warnings,omitempty"`
}

func (a *Audit) warn(format string, args ...interface{}) {
	a.Warnings = append(a.Warnings, fmt.Sprintf(format, args...))
}

type Extractor struct {
	std *Standardizer
}

func NewExtractor() *Extractor {
	return &Extractor{std: NewStandardizer()}
}

// Extract turns raw workbooks into normalized, domain-tagged Records. Every
// sheet is processed with fresh state; a workbook or sheet that cannot be
// parsed yields zero Records for itself plus an audit entry.
func (e *Extractor) Extract(workbooks []Workbook) ([]Record, *Audit) {
	audit := &Audit{}
	var records []Record

	for _, wb := range workbooks {
		f, err := excelize.OpenReader(bytes.NewReader(wb.Data))
		if err != nil {
			audit.warn("workbook %s unreadable: %v", wb.Filename, err)
			continue
		}

		for _, sheet := range f.GetSheetList() {
			audit.TotalSheets++
			sheetRecords, entry := e.extractSheet(f, wb.Filename, sheet)
			audit.ProcessedSheets++
			audit.Sheets = append(audit.Sheets, entry)
			if entry.Excluded {
				audit.warn("sheet %s/%s excluded: %s", wb.Filename, sheet, entry.Reason)
				continue
			}
			if len(sheetRecords) > 0 {
				audit.SheetsWithRows++
				records = append(records, sheetRecords...)
			}
		}

		if err := f.Close(); err != nil {
			logger.Log.WithError(err).WithField("workbook", wb.Filename).Warn("failed to close workbook")
		}
	}

	return records, audit
}

// extractSheet reads one sheet in isolation. All parsing state is local;
// nothing carries over between sheets.
func (e *Extractor) extractSheet(f *excelize.File, filename, sheet string) ([]Record, SheetAudit) {
	entry := SheetAudit{File: filename, Sheet: sheet}

	rows, err := f.GetRows(sheet)
	if err != nil {
		entry.Excluded = true
		entry.Reason = fmt.Sprintf("unparseable sheet: %v", err)
		return nil, entry
	}

	headerIdx, headers := findHeader(rows)
	if headers == nil {
		entry.Excluded = true
		entry.Reason = "no header row"
		return nil, entry
	}

	canonical := make([]string, len(headers))
	seen := make(map[string]int)
	for i, h := range headers {
		name := e.std.CanonicalHeader(h)
		canonical[i] = name
		if name == "" {
			continue
		}
		seen[name]++
		// Two raw headers collapsing onto the same identifier is a schema
		// ambiguity: exclude the sheet rather than risk field bleed.
		if e.std.IsIdentifier(name) && seen[name] > 1 {
			entry.Excluded = true
			entry.Reason = fmt.Sprintf("ambiguous identifier header %q", name)
			return nil, entry
		}
	}

	domain, ok := DetectDomain(filename, sheet, canonical)
	if !ok {
		entry.Excluded = true
		entry.Reason = "unclassified sheet"
		return nil, entry
	}
	entry.Domain = domain

	var records []Record
	for _, row := range rows[headerIdx+1:] {
		fields := make(map[string]interface{})
		for i, cell := range row {
			if i >= len(canonical) || canonical[i] == "" {
				continue
			}
			value := e.std.NormalizeValue(canonical[i], cell)
			if value == "" {
				continue // fully-blank cells never count toward completeness
			}
			fields[canonical[i]] = value
		}
		if len(fields) == 0 {
			continue // empty row
		}
		records = append(records, Record{
			SourceFile: filename,
			Sheet:      sheet,
			Domain:     domain,
			Fields:     fields,
		})
	}

	entry.Records = len(records)
	if len(records) == 0 {
		entry.Reason = "no data rows"
	}
	return records, entry
}

// findHeader locates the first row with at least two non-blank cells and
// returns it as the header.
func findHeader(rows [][]string) (int, []string) {
	for i, row := range rows {
		filled := 0
		for _, cell := range row {
			if cell != "" {
				filled++
			}
		}
		if filled >= 2 {
			return i, row
		}
	}
	return 0, nil
}
