package financial

import (
	"sort"
	"time"
)

// Period is the fiscal placement of a report.
type Period struct {
	FiscalYear    int
	Quarter       int
	FiscalYearEnd time.Time
}

// quarterBand maps an open interval of months-since-fiscal-year-start to a
// quarter. Values outside every band resolve to Q4.
type quarterBand struct {
	low, high float64
	quarter   int
}

// The bands leave gaps at 1, 4.5 and beyond 7.5 months. They are kept as
// published; see DESIGN.md before changing them.
var quarterBands = []quarterBand{
	{low: 1, high: 4.5, quarter: 1},
	{low: 4.5, high: 5.5, quarter: 2},
	{low: 5.5, high: 7.5, quarter: 3},
}

// ResolveFiscalPeriod places reportEnd in a fiscal year and quarter using the
// company's known annual report end dates as anchors.
func ResolveFiscalPeriod(companyID string, reportEnd time.Time, annualHistory []time.Time) (Period, error) {
	if len(annualHistory) == 0 {
		return Period{}, &NoAnchorError{CompanyID: companyID, ReportEnd: reportEnd}
	}

	reportEnd = dateOnly(reportEnd)
	fyEnd := selectAnchor(reportEnd, annualHistory)
	fyStart := fiscalYearStart(fyEnd)

	switch {
	case reportEnd.After(fyEnd):
		fyStart = fyEnd.AddDate(0, 0, 1)
		fyEnd = fyEnd.AddDate(1, 0, 0)
	case reportEnd.Before(fyStart):
		// The report predates every known annual end, so selectAnchor fell
		// back to the earliest one. Step one fiscal year back from it. A
		// report more than a year older still lands in that year and the
		// month count goes negative, which resolves to Q4.
		fyEnd = fyStart.AddDate(0, 0, -1)
		fyStart = fiscalYearStart(fyEnd)
	}

	months := (reportEnd.Year()-fyStart.Year())*12 + int(reportEnd.Month()) - int(fyStart.Month())

	return Period{
		FiscalYear:    fyEnd.Year(),
		Quarter:       normalizeQuarter(bandQuarter(float64(months))),
		FiscalYearEnd: fyEnd,
	}, nil
}

// selectAnchor returns the most recent annual end on or before reportEnd,
// falling back to the earliest known annual end.
func selectAnchor(reportEnd time.Time, history []time.Time) time.Time {
	sorted := make([]time.Time, len(history))
	for i, t := range history {
		sorted[i] = dateOnly(t)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	anchor := sorted[0]
	found := false
	for _, t := range sorted {
		if t.After(reportEnd) {
			break
		}
		anchor = t
		found = true
	}
	if !found {
		return sorted[0]
	}
	return anchor
}

func bandQuarter(months float64) int {
	for _, b := range quarterBands {
		if months > b.low && months < b.high {
			return b.quarter
		}
	}
	return 4
}

func normalizeQuarter(q int) int {
	for q < 1 {
		q += 4
	}
	for q > 4 {
		q -= 4
	}
	return q
}

// fiscalYearStart returns the day after fyEnd one year earlier.
func fiscalYearStart(fyEnd time.Time) time.Time {
	return fyEnd.AddDate(-1, 0, 1)
}

// StandardPeriodBounds returns the canonical storage dates for a quarter of
// the fiscal year ending fyEnd. Quarter 0 spans the whole fiscal year and Q4
// always ends on fyEnd.
func StandardPeriodBounds(fyEnd time.Time, quarter int) (time.Time, time.Time) {
	fyEnd = dateOnly(fyEnd)
	start := fiscalYearStart(fyEnd)
	if quarter == QuarterAnnual {
		return start, fyEnd
	}
	qStart := start.AddDate(0, 3*(quarter-1), 0)
	if quarter == 4 {
		return qStart, fyEnd
	}
	return qStart, start.AddDate(0, 3*quarter, -1)
}

// CalendarPeriodBounds returns calendar-aligned bounds for a quarter of year.
// It is the degraded path for companies with no annual anchor at all.
func CalendarPeriodBounds(year, quarter int) (time.Time, time.Time) {
	if quarter == QuarterAnnual {
		return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
			time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
	}
	start := time.Date(year, time.Month(3*(quarter-1)+1), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 3, -1)
}

// CalendarPeriod places reportEnd in its calendar year and quarter.
func CalendarPeriod(reportEnd time.Time) Period {
	q := (int(reportEnd.Month())-1)/3 + 1
	return Period{
		FiscalYear:    reportEnd.Year(),
		Quarter:       q,
		FiscalYearEnd: time.Date(reportEnd.Year(), time.December, 31, 0, 0, 0, 0, time.UTC),
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
