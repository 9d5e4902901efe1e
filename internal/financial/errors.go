package financial

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// ErrStoreClosed is returned by EntryStore operations after Close.
var ErrStoreClosed = eris.New("financial: entry store closed")

// NoAnchorError reports that no annual report is known for a company, so a
// quarterly report date cannot be placed in a fiscal year. Callers defer the
// filing until an annual report has been ingested.
type NoAnchorError struct {
	CompanyID string
	ReportEnd time.Time
}

func (e *NoAnchorError) Error() string {
	return fmt.Sprintf("financial: no annual anchor for company %s (report ending %s)",
		e.CompanyID, e.ReportEnd.Format(time.DateOnly))
}

// ParseValueError reports an element whose raw value is not numeric where a
// number is required. The element is skipped.
type ParseValueError struct {
	Element string
	Raw     string
}

func (e *ParseValueError) Error() string {
	return fmt.Sprintf("financial: element %s: value %q is not numeric", e.Element, e.Raw)
}

// ValidationError reports an element or entry that was skipped rather than
// forced through: a negative adjusted delta, a date before the storage
// floor, an incomplete entry, and similar.
type ValidationError struct {
	CompanyID string
	Element   string
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.Element == "" {
		return fmt.Sprintf("financial: company %s: %s", e.CompanyID, e.Reason)
	}
	return fmt.Sprintf("financial: company %s element %s: %s", e.CompanyID, e.Element, e.Reason)
}
