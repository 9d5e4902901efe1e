package xbrl

// Namespaces are the fact namespaces read from company facts, in order.
var Namespaces = []string{"us-gaap", "ifrs-full", "dei", "srt"}

var annualForms = map[string]bool{
	"10-K":   true,
	"10-K/A": true,
	"20-F":   true,
	"20-F/A": true,
	"40-F":   true,
	"10-KT":  true,
}

var quarterlyForms = map[string]bool{
	"10-Q":   true,
	"10-Q/A": true,
	"10-QT":  true,
}

// Duration bands, in days between start and end, of the contexts kept.
const (
	minQuarterDays = 80
	maxQuarterDays = 100
	minAnnualDays  = 350
	maxAnnualDays  = 380
)

// IsAnnualForm reports whether form is an annual report.
func IsAnnualForm(form string) bool { return annualForms[form] }

// IsQuarterlyForm reports whether form is an interim report.
func IsQuarterlyForm(form string) bool { return quarterlyForms[form] }
