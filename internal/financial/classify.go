package financial

import (
	"strings"
	"unicode"
)

// StatementType is the financial statement an element belongs to.
type StatementType string

const (
	BalanceSheet          StatementType = "BalanceSheet"
	IncomeStatement       StatementType = "IncomeStatement"
	Cashflow              StatementType = "Cashflow"
	StatementOfOperations StatementType = "StatementOfOperations"
	Other                 StatementType = "Other"
)

var statementTypes = []StatementType{BalanceSheet, IncomeStatement, Cashflow, StatementOfOperations, Other}

// ParseStatementType matches a statement token case-insensitively.
func ParseStatementType(s string) (StatementType, bool) {
	for _, st := range statementTypes {
		if strings.EqualFold(s, string(st)) {
			return st, true
		}
	}
	return "", false
}

// HTMLPrefix starts every HTML-sourced element name:
// HTML_{Statement}_{PeriodToken}_{Label}, or HTML_{Statement}_{Label} before
// the period is known.
const HTMLPrefix = "HTML_"

// AnnualToken is the period token of full-year HTML elements.
const AnnualToken = "FY"

// PeriodToken returns the HTML period token for quarter.
func PeriodToken(quarter int) string {
	switch quarter {
	case 1:
		return "Q1"
	case 2:
		return "Q2"
	case 3:
		return "Q3"
	case 4:
		return "Q4"
	default:
		return AnnualToken
	}
}

func isPeriodToken(s string) bool {
	switch strings.ToUpper(s) {
	case AnnualToken, "Q1", "Q2", "Q3", "Q4":
		return true
	}
	return false
}

// HTMLName is a parsed HTML element name.
type HTMLName struct {
	Statement StatementType
	Token     string // empty when the name carries no period token
	Label     string
}

// IsHTMLName reports whether name uses the HTML element naming scheme.
func IsHTMLName(name string) bool {
	return len(name) > len(HTMLPrefix) && strings.EqualFold(name[:len(HTMLPrefix)], HTMLPrefix)
}

// ParseHTMLName splits an HTML element name into its parts.
func ParseHTMLName(name string) (HTMLName, bool) {
	if !IsHTMLName(name) {
		return HTMLName{}, false
	}
	parts := strings.SplitN(name[len(HTMLPrefix):], "_", 3)
	if len(parts) < 2 {
		return HTMLName{}, false
	}
	st, ok := ParseStatementType(parts[0])
	if !ok {
		st = Other
	}
	if len(parts) == 3 && isPeriodToken(parts[1]) {
		return HTMLName{Statement: st, Token: strings.ToUpper(parts[1]), Label: parts[2]}, true
	}
	return HTMLName{Statement: st, Label: strings.Join(parts[1:], "_")}, true
}

// String renders the name, including the token when set.
func (n HTMLName) String() string {
	if n.Token == "" {
		return HTMLPrefix + string(n.Statement) + "_" + n.Label
	}
	return HTMLPrefix + string(n.Statement) + "_" + n.Token + "_" + n.Label
}

// HTMLElementName builds the name of an HTML element for quarter.
func HTMLElementName(st StatementType, quarter int, label string) string {
	return HTMLName{Statement: st, Token: PeriodToken(quarter), Label: label}.String()
}

// BaseName strips the period token from HTML names; XBRL names are returned
// unchanged.
func BaseName(name string) string {
	n, ok := ParseHTMLName(name)
	if !ok {
		return name
	}
	n.Token = ""
	return n.String()
}

// NameForQuarter rewrites name into its form for quarter: HTML names get the
// quarter's token, XBRL names pass through.
func NameForQuarter(name string, quarter int) string {
	n, ok := ParseHTMLName(name)
	if !ok {
		return name
	}
	n.Token = PeriodToken(quarter)
	return n.String()
}

// boilerplateWords are dropped before keyword matching.
var boilerplateWords = map[string]bool{
	"condensed":     true,
	"consolidated":  true,
	"consolidating": true,
	"statement":     true,
	"statements":    true,
	"of":            true,
	"the":           true,
	"unaudited":     true,
	"interim":       true,
	"and":           true,
	"us":            true,
	"gaap":          true,
}

// statementKeywords is checked in order; the first rule with a matching
// phrase wins. Phrases match whole-word sequences.
var statementKeywords = []struct {
	statement StatementType
	phrases   []string
}{
	{Cashflow, []string{
		"cash flows", "cash flow", "net cash", "cash provided", "cash used",
		"payments to", "payments for", "proceeds from", "repayments of",
		"depreciation", "amortization", "share based compensation",
		"increase decrease",
	}},
	{BalanceSheet, []string{
		"balance sheet", "balance sheets", "financial position", "financial condition",
		"assets", "asset", "liabilities", "liability", "equity", "stockholders",
		"shareholders", "receivable", "receivables", "payable", "payables",
		"inventory", "inventories", "goodwill", "debt", "cash equivalents",
		"retained earnings", "accumulated", "shares outstanding", "marketable securities",
		"property plant",
	}},
	{StatementOfOperations, []string{
		"operations", "comprehensive income", "comprehensive loss",
	}},
	{IncomeStatement, []string{
		"income", "loss", "revenue", "revenues", "sales", "earnings", "expense",
		"expenses", "cost", "costs", "margin", "profit", "tax", "per share",
		"dividends",
	}},
}

// ClassifyElement returns the statement type of an element name. HTML names
// carry the statement token; other names are keyword matched.
func ClassifyElement(name string) StatementType {
	if n, ok := ParseHTMLName(name); ok {
		return n.Statement
	}
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		name = name[i+1:]
	}
	return ClassifyTitle(strings.Join(splitWords(name), " "))
}

// ClassifyTitle keyword matches free text such as a statement heading
// ("Condensed Consolidated Statements of Cash Flows") or a space-separated
// element name.
func ClassifyTitle(text string) StatementType {
	words := normalizeWords(text)
	if len(words) == 0 {
		return Other
	}
	joined := " " + strings.Join(words, " ") + " "
	for _, rule := range statementKeywords {
		for _, p := range rule.phrases {
			if strings.Contains(joined, " "+p+" ") {
				return rule.statement
			}
		}
	}
	return Other
}

// normalizeWords lowercases, splits on non-alphanumerics and drops
// boilerplate words.
func normalizeWords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if !boilerplateWords[f] {
			out = append(out, f)
		}
	}
	return out
}

// splitWords splits a CamelCase identifier into words:
// "NetCashProvidedByOperatingActivities" → [Net Cash Provided By ...].
func splitWords(s string) []string {
	var words []string
	runes := []rune(s)
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		next := rune(0)
		if i+1 < len(runes) {
			next = runes[i+1]
		}
		boundary := (unicode.IsLower(prev) && unicode.IsUpper(cur)) ||
			(unicode.IsUpper(prev) && unicode.IsUpper(cur) && next != 0 && unicode.IsLower(next)) ||
			(unicode.IsLetter(prev) && unicode.IsDigit(cur)) ||
			(unicode.IsDigit(prev) && unicode.IsLetter(cur)) ||
			cur == '_' || cur == '-'
		if boundary {
			if w := strings.Trim(string(runes[start:i]), "_-"); w != "" {
				words = append(words, w)
			}
			start = i
		}
	}
	if w := strings.Trim(string(runes[start:]), "_-"); w != "" {
		words = append(words, w)
	}
	return words
}
