package financial

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DeriveReport describes one DeriveQ4 run.
type DeriveReport struct {
	FiscalYear int
	Derived    []string
	Skipped    []error
	// Incomplete is set when Q4 was not attempted because an interim
	// quarter is missing.
	Incomplete bool
}

// DeriveQ4 synthesizes the fourth quarter of fiscalYear from the Annual and
// Q1–Q3 entries in store and merges it back into the store. It returns nil
// when the annual entry or any of Q1–Q3 is missing, or when no element could
// be derived. The synthetic entry is always complete: Q4 is computed, never
// observed.
//
// Flow elements use Q4 = Annual − (Q1 + Q2 + Q3); an element a quarter does
// not report counts as zero. Balance-sheet elements are point-in-time: HTML
// balances take the annual figure, XBRL balances use a directly reported Q4
// value or are skipped.
func DeriveQ4(store *EntryStore, fiscalYear int) (*Entry, *DeriveReport, error) {
	report := &DeriveReport{FiscalYear: fiscalYear}
	log := zap.L().With(
		zap.String("component", "financial.q4"),
		zap.String("company_id", store.CompanyID()),
		zap.Int("fiscal_year", fiscalYear),
	)

	annual, ok := store.Entry(fiscalYear, QuarterAnnual)
	if !ok {
		log.Debug("no annual entry, nothing to derive")
		return nil, report, nil
	}
	quarters := make(map[int]*Entry, 4)
	var missing []string
	for q := 1; q <= 4; q++ {
		e, ok := store.Entry(fiscalYear, q)
		if ok {
			quarters[q] = e
		} else if q < 4 {
			missing = append(missing, fmt.Sprintf("Q%d", q))
		}
	}
	if len(missing) > 0 {
		err := &ValidationError{
			CompanyID: store.CompanyID(),
			Reason:    fmt.Sprintf("FY%d has no %s, q4 not derived", fiscalYear, strings.Join(missing, ", ")),
		}
		report.Skipped = append(report.Skipped, err)
		report.Incomplete = true
		log.Debug("interim quarters missing, nothing to derive", zap.Strings("missing", missing))
		return nil, report, nil
	}

	fyEnd := annual.FiscalYearEnd
	if fyEnd.IsZero() {
		fyEnd = annual.PeriodEnd
	}

	synthetic := &Entry{
		CompanyID:     store.CompanyID(),
		FiscalYear:    fiscalYear,
		Quarter:       4,
		FiscalYearEnd: fyEnd,
		XBRLParsed:    true,
		HTMLParsed:    true,
		Values:        make(Values),
	}

	for _, base := range elementBaseNames(annual, quarters[1], quarters[2], quarters[3]) {
		annualField, ok := annual.Values.Get(NameForQuarter(base, QuarterAnnual))
		if !ok {
			continue
		}
		if !annualField.Value.IsNumeric() {
			report.Skipped = append(report.Skipped, &ParseValueError{Element: annualField.Name, Raw: annualField.Value.Text})
			continue
		}

		q4Name := NameForQuarter(base, 4)
		var q4 decimal.Decimal

		if ClassifyElement(base) == BalanceSheet {
			if IsHTMLName(base) {
				q4 = annualField.Value.Num
			} else {
				direct, ok := numericField(quarters[4], q4Name)
				if !ok {
					continue
				}
				q4 = direct
			}
		} else {
			sum := decimal.Zero
			valid := true
			for q := 1; q <= 3; q++ {
				f, ok := fieldOf(quarters[q], NameForQuarter(base, q))
				if !ok {
					continue
				}
				if !f.Value.IsNumeric() {
					report.Skipped = append(report.Skipped, &ParseValueError{Element: f.Name, Raw: f.Value.Text})
					valid = false
					break
				}
				sum = sum.Add(f.Value.Num)
			}
			if !valid {
				continue
			}
			q4 = annualField.Value.Num.Sub(sum)
		}

		synthetic.Values.Set(q4Name, Number(q4), annualField.Type)
		report.Derived = append(report.Derived, q4Name)
	}

	for _, err := range report.Skipped {
		log.Warn("q4 element skipped", zap.Error(err))
	}
	if len(synthetic.Values) == 0 {
		return nil, report, nil
	}

	if q3 := quarters[3]; q3 != nil && !q3.PeriodEnd.IsZero() {
		synthetic.PeriodStart = q3.PeriodEnd.AddDate(0, 0, 1)
	} else {
		synthetic.PeriodStart = fiscalYearStart(fyEnd).AddDate(0, 9, 0)
	}
	synthetic.PeriodEnd = fyEnd
	synthetic.StandardStart, synthetic.StandardEnd = StandardPeriodBounds(fyEnd, 4)

	if err := store.AddOrUpdateEntry(synthetic); err != nil {
		return nil, report, err
	}
	log.Info("derived q4", zap.Int("elements", len(report.Derived)))
	return synthetic, report, nil
}

// elementBaseNames returns the distinct base names across entries, sorted.
func elementBaseNames(entries ...*Entry) []string {
	seen := make(map[string]string)
	for _, e := range entries {
		if e == nil {
			continue
		}
		for _, f := range e.Values {
			base := BaseName(f.Name)
			k := FoldKey(base)
			if _, ok := seen[k]; !ok {
				seen[k] = base
			}
		}
	}
	names := make([]string, 0, len(seen))
	for _, n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func fieldOf(e *Entry, name string) (Field, bool) {
	if e == nil {
		return Field{}, false
	}
	return e.Values.Get(name)
}

func numericField(e *Entry, name string) (decimal.Decimal, bool) {
	f, ok := fieldOf(e, name)
	if !ok || !f.Value.IsNumeric() {
		return decimal.Decimal{}, false
	}
	return f.Value.Num, true
}
