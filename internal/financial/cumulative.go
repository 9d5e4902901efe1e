package financial

import (
	"sort"

	"go.uber.org/zap"
)

// AdjustReport describes one AdjustCumulativeCashflows run.
type AdjustReport struct {
	FiscalYear      int
	AlreadyAdjusted bool
	Adjusted        []string // base names rewritten
	Skipped         []error
}

// AdjustCumulativeCashflows rewrites fiscalYear's HTML cash-flow figures for
// Q2 and Q3 from year-to-date totals into discrete-quarter totals:
//
//	Q2 = Q2cum − Q1cum
//	Q3 = Q3cum − Q2cum
//
// Q1 is already discrete and XBRL elements are never touched. An element
// whose Q2 or Q3 figure is missing or not numeric, or whose delta would be
// negative, is skipped and reported instead of being forced.
//
// Only figures the store still tracks as year to date are rewritten. When a
// rerun re-ingests one quarter over a discrete figure loaded from the
// database, Q2cum is rebuilt from the discrete values before subtracting.
// The fiscal year is then recorded as adjusted, and later calls return a
// report with AlreadyAdjusted set until new year-to-date figures arrive.
func AdjustCumulativeCashflows(store *EntryStore, fiscalYear int) (*AdjustReport, error) {
	report := &AdjustReport{FiscalYear: fiscalYear}
	companyID := store.CompanyID()

	err := store.update(fiscalYear, func(byQuarter map[int]*Entry, st *storeState) {
		if st.adjusted[fiscalYear] {
			report.AlreadyAdjusted = true
			return
		}
		q1, q2, q3 := byQuarter[1], byQuarter[2], byQuarter[3]
		if q1 == nil {
			return
		}
		st.adjusted[fiscalYear] = true
		pending2 := st.pending[PeriodKey{FiscalYear: fiscalYear, Quarter: 2}]
		pending3 := st.pending[PeriodKey{FiscalYear: fiscalYear, Quarter: 3}]

		var bases []string
		for _, f := range q1.Values {
			if IsHTMLName(f.Name) && ClassifyElement(f.Name) == Cashflow {
				bases = append(bases, BaseName(f.Name))
			}
		}
		sort.Strings(bases)

		for _, base := range bases {
			key := FoldKey(base)
			cum2, cum3 := pending2[key], pending3[key]
			c1, _ := fieldOf(q1, NameForQuarter(base, 1))
			c2, ok2 := fieldOf(q2, NameForQuarter(base, 2))
			c3, ok3 := fieldOf(q3, NameForQuarter(base, 3))

			switch {
			case ok2 && ok3 && !cum2 && !cum3:
				continue
			case !c1.Value.IsNumeric():
				report.Skipped = append(report.Skipped, &ParseValueError{Element: c1.Name, Raw: c1.Value.Text})
				continue
			case !ok2 || !ok3:
				report.Skipped = append(report.Skipped, &ValidationError{
					CompanyID: companyID, Element: base, Reason: "missing Q2 or Q3 cumulative value",
				})
				continue
			case !c2.Value.IsNumeric():
				report.Skipped = append(report.Skipped, &ParseValueError{Element: c2.Name, Raw: c2.Value.Text})
				continue
			case !c3.Value.IsNumeric():
				report.Skipped = append(report.Skipped, &ParseValueError{Element: c3.Name, Raw: c3.Value.Text})
				continue
			}

			q2Actual, q2Cum := c2.Value.Num, c2.Value.Num
			if cum2 {
				q2Actual = c2.Value.Num.Sub(c1.Value.Num)
			} else {
				q2Cum = c1.Value.Num.Add(c2.Value.Num)
			}
			q3Actual := c3.Value.Num
			if cum3 {
				q3Actual = c3.Value.Num.Sub(q2Cum)
			}
			if q2Actual.IsNegative() || q3Actual.IsNegative() {
				report.Skipped = append(report.Skipped, &ValidationError{
					CompanyID: companyID,
					Element:   base,
					Reason:    "negative discrete quarter (Q2 " + q2Actual.String() + ", Q3 " + q3Actual.String() + ")",
				})
				continue
			}

			q2.Values.Set(c2.Name, Number(q2Actual), c2.Type)
			q3.Values.Set(c3.Name, Number(q3Actual), c3.Type)
			delete(pending2, key)
			delete(pending3, key)
			report.Adjusted = append(report.Adjusted, base)
		}
	})
	if err != nil {
		return nil, err
	}

	log := zap.L().With(
		zap.String("component", "financial.cumulative"),
		zap.String("company_id", companyID),
		zap.Int("fiscal_year", fiscalYear),
	)
	for _, skipped := range report.Skipped {
		log.Warn("cumulative adjustment skipped", zap.Error(skipped))
	}
	if report.AlreadyAdjusted {
		log.Debug("fiscal year already adjusted")
	} else if len(report.Adjusted) > 0 {
		log.Info("adjusted cumulative cash flows", zap.Int("elements", len(report.Adjusted)))
	}
	return report, nil
}
