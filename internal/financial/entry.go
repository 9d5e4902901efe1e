package financial

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// QuarterAnnual is the quarter number used for full fiscal-year entries.
const QuarterAnnual = 0

// Source identifies which extractor produced a fact.
type Source int

const (
	SourceXBRL Source = iota + 1
	SourceHTML
)

func (s Source) String() string {
	switch s {
	case SourceXBRL:
		return "xbrl"
	case SourceHTML:
		return "html"
	default:
		return "unknown"
	}
}

// Entry is one reporting period for one company.
type Entry struct {
	CompanyID string

	// PeriodStart and PeriodEnd are the dates observed by the source.
	PeriodStart time.Time
	PeriodEnd   time.Time

	// StandardStart and StandardEnd are the canonical dates used as the
	// storage key.
	StandardStart time.Time
	StandardEnd   time.Time

	FiscalYear int
	Quarter    int

	// FiscalYearEnd anchors fiscal-year arithmetic; zero when unknown.
	FiscalYearEnd time.Time

	XBRLParsed bool
	HTMLParsed bool

	Values Values
}

// PeriodKey identifies an entry's merge bucket.
type PeriodKey struct {
	FiscalYear int
	Quarter    int
}

func (k PeriodKey) String() string {
	return fmt.Sprintf("FY%d_Q%d", k.FiscalYear, k.Quarter)
}

// PeriodKey returns the (fiscal year, quarter) merge bucket of e.
func (e *Entry) PeriodKey() PeriodKey {
	return PeriodKey{FiscalYear: e.FiscalYear, Quarter: e.Quarter}
}

// Key returns the composite cache key
// companyID_FY{fiscalYear}_Q{quarter}_{standardStart}_{standardEnd}.
func (e *Entry) Key() string {
	return fmt.Sprintf("%s_FY%d_Q%d_%s_%s",
		e.CompanyID, e.FiscalYear, e.Quarter,
		e.StandardStart.Format(time.DateOnly), e.StandardEnd.Format(time.DateOnly))
}

// IsComplete reports whether both sources have contributed to the entry.
func (e *Entry) IsComplete() bool {
	return e.XBRLParsed && e.HTMLParsed
}

// IsAnnual reports whether e covers a full fiscal year.
func (e *Entry) IsAnnual() bool {
	return e.Quarter == QuarterAnnual
}

// MarkParsed sets the parsed flag for src.
func (e *Entry) MarkParsed(src Source) {
	switch src {
	case SourceXBRL:
		e.XBRLParsed = true
	case SourceHTML:
		e.HTMLParsed = true
	}
}

// Validate checks the structural invariants of e.
func (e *Entry) Validate() error {
	if e.CompanyID == "" {
		return eris.New("financial: entry has no company id")
	}
	if e.Quarter < 0 || e.Quarter > 4 {
		return eris.Errorf("financial: entry %s has invalid quarter %d", e.CompanyID, e.Quarter)
	}
	return nil
}

// Clone returns a deep copy of e.
func (e *Entry) Clone() *Entry {
	c := *e
	c.Values = e.Values.Clone()
	return &c
}

// mergeFrom folds other into e: parsed flags are OR'd and every value of
// other overwrites e's value for the same key. Dates of e are kept; a
// missing fiscal-year end is filled in.
func (e *Entry) mergeFrom(other *Entry) {
	e.XBRLParsed = e.XBRLParsed || other.XBRLParsed
	e.HTMLParsed = e.HTMLParsed || other.HTMLParsed
	if e.FiscalYearEnd.IsZero() && !other.FiscalYearEnd.IsZero() {
		e.FiscalYearEnd = other.FiscalYearEnd
	}
	if e.Values == nil {
		e.Values = make(Values, len(other.Values))
	}
	e.Values.Merge(other.Values)
}
