package financial

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ResolvedFact is a single XBRL tag or HTML cell with its period context
// already extracted. HTML facts carry the base name HTML_{Statement}_{Label};
// ingestion embeds the resolved period token.
type ResolvedFact struct {
	ElementName    string
	RawValue       string
	Unit           string
	ContextStart   *time.Time
	ContextEnd     *time.Time
	ContextInstant *time.Time
	IsAnnualReport bool
	Source         Source
}

// ReportEnd returns the date the fact is reported as of: the instant for
// point-in-time facts, otherwise the end of the duration.
func (f ResolvedFact) ReportEnd() (time.Time, bool) {
	if f.ContextInstant != nil {
		return dateOnly(*f.ContextInstant), true
	}
	if f.ContextEnd != nil {
		return dateOnly(*f.ContextEnd), true
	}
	return time.Time{}, false
}

// IngestOptions tunes Ingest.
type IngestOptions struct {
	// CalendarFallback places filings of companies with no annual anchor in
	// calendar quarters instead of failing with NoAnchorError.
	CalendarFallback bool
}

// IngestReport describes one Ingest call.
type IngestReport struct {
	Periods  []PeriodKey
	Facts    int
	Calendar bool
	Skipped  []error
}

type pendingFact struct {
	fact   ResolvedFact
	end    time.Time
	value  Value
	period Period
}

// Ingest resolves every fact of one filing to a fiscal period, groups them
// into one entry per (fiscal year, quarter) and merges the entries into
// store. Facts with unparseable values or no date are skipped and reported.
//
// Interim filings need an annual anchor. When none is known Ingest merges
// nothing and returns *NoAnchorError, unless opts.CalendarFallback is set.
func Ingest(store *EntryStore, companyID string, facts []ResolvedFact, opts IngestOptions) (*IngestReport, error) {
	if companyID != store.CompanyID() {
		return nil, eris.Errorf("financial: ingest for company %s into store of %s", companyID, store.CompanyID())
	}
	report := &IngestReport{}
	history := store.AnnualHistory()

	pending := make([]pendingFact, 0, len(facts))
	for _, f := range facts {
		end, ok := f.ReportEnd()
		if !ok {
			report.Skipped = append(report.Skipped, &ValidationError{
				CompanyID: companyID, Element: f.ElementName, Reason: "fact has no period context",
			})
			continue
		}
		v, err := ParseRawValue(f.ElementName, f.RawValue, f.Unit)
		if err != nil {
			report.Skipped = append(report.Skipped, err)
			continue
		}

		var p Period
		switch {
		case f.IsAnnualReport:
			p = Period{FiscalYear: end.Year(), Quarter: QuarterAnnual, FiscalYearEnd: end}
		default:
			p, err = ResolveFiscalPeriod(companyID, end, history)
			if err != nil {
				var noAnchor *NoAnchorError
				if !errors.As(err, &noAnchor) || !opts.CalendarFallback {
					return nil, err
				}
				p = CalendarPeriod(end)
				report.Calendar = true
			}
		}
		pending = append(pending, pendingFact{fact: f, end: end, value: v, period: p})
	}

	entries := make(map[PeriodKey]*Entry)
	for _, pf := range pending {
		pk := PeriodKey{FiscalYear: pf.period.FiscalYear, Quarter: pf.period.Quarter}
		e, ok := entries[pk]
		if !ok {
			e = &Entry{
				CompanyID:     companyID,
				FiscalYear:    pk.FiscalYear,
				Quarter:       pk.Quarter,
				FiscalYearEnd: pf.period.FiscalYearEnd,
				Values:        make(Values),
			}
			if report.Calendar && pk.Quarter != QuarterAnnual {
				e.StandardStart, e.StandardEnd = CalendarPeriodBounds(pk.FiscalYear, pk.Quarter)
			} else {
				e.StandardStart, e.StandardEnd = StandardPeriodBounds(pf.period.FiscalYearEnd, pk.Quarter)
			}
			entries[pk] = e
		}
		e.MarkParsed(pf.fact.Source)
		if pf.fact.ContextStart != nil {
			start := dateOnly(*pf.fact.ContextStart)
			if e.PeriodStart.IsZero() || start.Before(e.PeriodStart) {
				e.PeriodStart = start
			}
		}
		if pf.end.After(e.PeriodEnd) {
			e.PeriodEnd = pf.end
		}

		name := pf.fact.ElementName
		if IsHTMLName(name) {
			name = NameForQuarter(name, pk.Quarter)
		}
		typ := pf.fact.Unit
		if !pf.value.IsNumeric() {
			typ = TypeText
		}
		e.Values.Set(name, pf.value, typ)
		report.Facts++
	}

	keys := make([]PeriodKey, 0, len(entries))
	for pk := range entries {
		keys = append(keys, pk)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].FiscalYear != keys[j].FiscalYear {
			return keys[i].FiscalYear < keys[j].FiscalYear
		}
		return keys[i].Quarter < keys[j].Quarter
	})
	for _, pk := range keys {
		e := entries[pk]
		if e.PeriodStart.IsZero() {
			e.PeriodStart = e.StandardStart
		}
		if err := store.AddOrUpdateEntry(e); err != nil {
			return report, eris.Wrapf(err, "financial: merge %s", pk)
		}
		report.Periods = append(report.Periods, pk)
	}

	if len(report.Skipped) > 0 {
		log := zap.L().With(zap.String("component", "financial.ingest"), zap.String("company_id", companyID))
		for _, err := range report.Skipped {
			log.Debug("fact skipped", zap.Error(err))
		}
	}
	return report, nil
}

// ParseRawValue converts a raw extracted value into a Value. Thousands
// separators, currency marks and surrounding whitespace are ignored, a
// parenthesized figure is negative and a lone dash is zero. Values that are
// not numeric are kept as text only when unit is TypeText.
func ParseRawValue(element, raw, unit string) (Value, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Value{}, &ParseValueError{Element: element, Raw: raw}
	}
	if strings.EqualFold(unit, TypeText) {
		return Text(s), nil
	}
	switch s {
	case "-", "—", "–", "$-", "$—", "$–":
		return Number(decimal.Zero), nil
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ',', '$', ' ', '\u00a0':
			return -1
		case '\u2212':
			return '-'
		}
		return r
	}, s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Value{}, &ParseValueError{Element: element, Raw: raw}
	}
	if negative {
		d = d.Neg()
	}
	return Number(d), nil
}
