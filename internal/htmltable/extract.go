// Package htmltable extracts financial statement tables from filing HTML
// into facts ready for period resolution.
package htmltable

import (
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"github.com/sells-group/filing-recon/internal/financial"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultUnit is the value type given to extracted cells.
const DefaultUnit = "USD"

// Options tunes Extract.
type Options struct {
	// Annual marks facts as coming from an annual report.
	Annual bool
	// PeriodEnd keeps only columns ending on this date. When zero the latest
	// column of each table is used.
	PeriodEnd time.Time
	// Unit overrides DefaultUnit.
	Unit string
}

// Column is one period column of a statement table.
type Column struct {
	Header string
	End    time.Time
	// Months is the duration of the column, 0 for balance-sheet dates and
	// headers without a duration.
	Months int
}

// Row is a labeled line item with one raw value per column.
type Row struct {
	Label  string
	Values []string
}

// Table is a statement table recognized in a document.
type Table struct {
	Title     string
	Statement financial.StatementType
	Columns   []Column
	Rows      []Row
}

// ParseTables returns the statement tables of an HTML document. Tables whose
// heading does not classify as a financial statement, or that carry no dated
// columns, are ignored.
func ParseTables(r io.Reader) ([]Table, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, eris.Wrap(err, "htmltable: parse document")
	}

	var tables []Table
	doc.Find("table").Each(func(_ int, sel *goquery.Selection) {
		if t, ok := parseTable(sel); ok {
			tables = append(tables, t)
		}
	})
	return tables, nil
}

// Extract parses the statement tables of r and returns one fact per line
// item of the selected column. Names follow HTML_{Statement}_{Label}; the
// first occurrence of a name wins.
func Extract(r io.Reader, opts Options) ([]financial.ResolvedFact, error) {
	tables, err := ParseTables(r)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var facts []financial.ResolvedFact
	for _, t := range tables {
		for _, f := range t.Facts(opts) {
			key := financial.FoldKey(f.ElementName)
			if seen[key] {
				continue
			}
			seen[key] = true
			facts = append(facts, f)
		}
	}
	return facts, nil
}

// Facts returns the facts of the column selected by opts.
func (t Table) Facts(opts Options) []financial.ResolvedFact {
	col, ok := t.selectColumn(opts)
	if !ok {
		return nil
	}
	unit := opts.Unit
	if unit == "" {
		unit = DefaultUnit
	}
	c := t.Columns[col]

	facts := make([]financial.ResolvedFact, 0, len(t.Rows))
	for _, row := range t.Rows {
		f := financial.ResolvedFact{
			ElementName:    financial.HTMLPrefix + string(t.Statement) + "_" + row.Label,
			RawValue:       row.Values[col],
			Unit:           unit,
			IsAnnualReport: opts.Annual,
			Source:         financial.SourceHTML,
		}
		end := c.End
		switch {
		case t.Statement == financial.BalanceSheet:
			f.ContextInstant = &end
		case c.Months == 3 || c.Months == 12:
			start := end.AddDate(0, -c.Months, 1)
			f.ContextStart = &start
			f.ContextEnd = &end
		default:
			f.ContextEnd = &end
		}
		facts = append(facts, f)
	}
	return facts
}

// selectColumn picks the column ending on opts.PeriodEnd, or on the latest
// date, preferring the shortest duration. Cash-flow tables of interim
// reports only carry year-to-date columns, which are returned as is.
func (t Table) selectColumn(opts Options) (int, bool) {
	target := opts.PeriodEnd
	if target.IsZero() {
		for _, c := range t.Columns {
			if c.End.After(target) {
				target = c.End
			}
		}
	}
	best := -1
	for i, c := range t.Columns {
		if !c.End.Equal(target) {
			continue
		}
		if best < 0 || shorter(c, t.Columns[best]) {
			best = i
		}
	}
	return best, best >= 0
}

func shorter(a, b Column) bool {
	if a.Months == 0 {
		return false
	}
	return b.Months == 0 || a.Months < b.Months
}

type cell struct {
	start, span int
	text        string
}

func parseTable(sel *goquery.Selection) (Table, bool) {
	var grid [][]cell
	width := 0
	sel.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var row []cell
		col := 0
		tr.Find("td, th").Each(func(_ int, td *goquery.Selection) {
			span, err := strconv.Atoi(td.AttrOr("colspan", "1"))
			if err != nil || span < 1 {
				span = 1
			}
			row = append(row, cell{start: col, span: span, text: cleanText(td.Text())})
			col += span
		})
		if col > width {
			width = col
		}
		grid = append(grid, row)
	})
	if len(grid) == 0 {
		return Table{}, false
	}

	first := len(grid)
	var rows []Row
	var labels []string
	var values [][]string
	for i, r := range grid {
		label, vals := splitRow(r)
		if label == "" || len(vals) == 0 || isYearRow(vals) {
			continue
		}
		if i < first {
			first = i
		}
		labels = append(labels, label)
		values = append(values, vals)
	}
	if first == len(grid) {
		return Table{}, false
	}

	title, st := tableTitle(sel, grid[:first])
	if st == financial.Other {
		return Table{}, false
	}
	columns := headerColumns(grid[:first], width)
	if len(columns) == 0 {
		return Table{}, false
	}

	for i, label := range labels {
		if len(values[i]) != len(columns) {
			continue
		}
		name := sanitizeLabel(label)
		if name == "" {
			continue
		}
		rows = append(rows, Row{Label: name, Values: values[i]})
	}
	if len(rows) == 0 {
		return Table{}, false
	}
	return Table{Title: title, Statement: st, Columns: columns, Rows: rows}, true
}

// splitRow returns the row label and its value cells. A lone "$" cell is
// dropped and a lone ")" closes the preceding value.
func splitRow(r []cell) (string, []string) {
	var label string
	var vals []string
	for _, c := range r {
		t := c.text
		if t == "" {
			continue
		}
		if label == "" && t != "$" && !isValue(t) {
			label = t
			continue
		}
		switch t {
		case "$":
			continue
		case ")", ")%":
			if n := len(vals); n > 0 {
				vals[n-1] += ")"
			}
			continue
		}
		t = strings.TrimSpace(strings.TrimPrefix(t, "$"))
		if isValue(t) || isValue(t+")") {
			vals = append(vals, t)
		}
	}
	if label == "" {
		return "", nil
	}
	return label, vals
}

var yearRE = regexp.MustCompile(`^(19|20)\d{2}$`)

// isYearRow reports whether every value is a bare year, as in a header row
// labeled "(in millions)" over "2024" and "2023".
func isYearRow(vals []string) bool {
	for _, v := range vals {
		if !yearRE.MatchString(v) {
			return false
		}
	}
	return true
}

var valueRE = regexp.MustCompile(`^\$?\s*\(?\s*\$?\s*[-\x{2212}]?[\d,]*\d(\.\d+)?\s*\)?$`)

func isValue(s string) bool {
	switch s {
	case "-", "—", "–", "$-", "$—", "$–":
		return true
	}
	return valueRE.MatchString(s)
}

// tableTitle returns the first heading candidate that classifies as a
// financial statement: the caption, a heading row, then the nearest
// preceding text.
func tableTitle(sel *goquery.Selection, header [][]cell) (string, financial.StatementType) {
	for _, c := range titleCandidates(sel, header) {
		if st := financial.ClassifyTitle(c); st != financial.Other {
			return c, st
		}
	}
	return "", financial.Other
}

const (
	maxTitleLen   = 300
	maxPrecedings = 3
)

func titleCandidates(sel *goquery.Selection, header [][]cell) []string {
	var out []string
	if c := cleanText(sel.Find("caption").First().Text()); c != "" {
		out = append(out, c)
	}
	for _, r := range header {
		var texts []string
		for _, c := range r {
			if c.text != "" {
				texts = append(texts, c.text)
			}
		}
		if len(texts) == 1 && parseDate(texts[0]).IsZero() {
			out = append(out, texts[0])
		}
	}

	found := 0
	for node := sel; node.Length() > 0 && found < maxPrecedings; node = node.Parent() {
		if goquery.NodeName(node) == "body" {
			break
		}
		node.PrevAll().EachWithBreak(func(_ int, prev *goquery.Selection) bool {
			if goquery.NodeName(prev) == "table" || prev.Find("table").Length() > 0 {
				found = maxPrecedings
				return false
			}
			t := cleanText(prev.Text())
			if t == "" || len(t) > maxTitleLen {
				return true
			}
			out = append(out, t)
			found++
			return found < maxPrecedings
		})
	}
	return out
}

// headerColumns reads the period columns from the header rows. The text of
// every header cell above a grid column is joined top to bottom, so split
// headers such as "Three Months Ended March 31," over "2024" resolve to one
// dated column. Adjacent grid columns with the same text form one column.
func headerColumns(header [][]cell, width int) []Column {
	stacked := make([][]string, width)
	for _, r := range header {
		for _, c := range r {
			if c.text == "" || c.start == 0 || c.span >= width {
				continue
			}
			for g := c.start; g < c.start+c.span && g < width; g++ {
				stacked[g] = append(stacked[g], c.text)
			}
		}
	}

	var columns []Column
	prev := ""
	for _, texts := range stacked {
		h := strings.Join(texts, " ")
		if h == prev {
			continue
		}
		prev = h
		end := parseDate(h)
		if end.IsZero() {
			continue
		}
		columns = append(columns, Column{Header: h, End: end, Months: parseMonths(h)})
	}
	return columns
}

var dateRE = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2}),?\s*(\d{4})\b`)

var monthIndex = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// parseDate returns the first date in s, or the zero time.
func parseDate(s string) time.Time {
	m := dateRE.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}
	}
	day, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	month := monthIndex[strings.ToLower(m[1])]
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}
	}
	return t
}

var monthsRE = regexp.MustCompile(`(?i)\b(three|six|nine|twelve|3|6|9|12|thirteen|twenty-six|thirty-nine|fifty-two|13|26|39|52)[\s-]+(months?|weeks?)\b`)

var durationWords = map[string]int{
	"three": 3, "six": 6, "nine": 9, "twelve": 12,
	"3": 3, "6": 6, "9": 9, "12": 12,
	"thirteen": 3, "twenty-six": 6, "thirty-nine": 9, "fifty-two": 12,
	"13": 3, "26": 6, "39": 9, "52": 12,
}

// parseMonths returns the duration named in a column header in months.
// Week-based headers map to their quarter equivalents.
func parseMonths(s string) int {
	if m := monthsRE.FindStringSubmatch(s); m != nil {
		return durationWords[strings.ToLower(m[1])]
	}
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "year ended"), strings.Contains(lower, "years ended"),
		strings.Contains(lower, "fiscal year"):
		return 12
	case strings.Contains(lower, "quarter ended"):
		return 3
	}
	return 0
}

// cleanText collapses whitespace, including non-breaking spaces.
func cleanText(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '\u00a0' || r == '\u200b'
	}), " ")
}

// sanitizeLabel turns a line-item label into an element label:
// "Net cash provided by operating activities" becomes
// "NetCashProvidedByOperatingActivities". Punctuation is dropped.
func sanitizeLabel(label string) string {
	label = strings.TrimSuffix(strings.TrimSpace(label), ":")
	words := strings.FieldsFunc(label, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	caser := cases.Title(language.English)
	var b strings.Builder
	for _, w := range words {
		b.WriteString(caser.String(w))
	}
	return b.String()
}
