package xbrl

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/filing-recon/internal/financial"
)

// Filing is one 10-K or 10-Q submission reconstructed from company facts.
type Filing struct {
	Accession string
	Form      string
	Filed     time.Time
	// PeriodEnd is the latest context end of the filing, its period of report.
	PeriodEnd time.Time
	Annual    bool
	Facts     []financial.ResolvedFact
}

// Name identifies the filing in logs.
func (f Filing) Name() string {
	return fmt.Sprintf("%s %s (%s)", f.Form, f.PeriodEnd.Format(time.DateOnly), f.Accession)
}

type rawFact struct {
	ns    string
	name  string
	unit  string
	value FactValue
	start time.Time
	end   time.Time
}

// SplitFilings groups company facts by accession number. Only annual and
// quarterly report forms are kept, and within each filing only contexts
// ending on the filing's period of report: instants, discrete quarters for
// 10-Q filings and full years for 10-K filings. Cumulative year-to-date
// durations and comparative prior periods are dropped. Filings are returned
// ordered by period end, then filing date.
func SplitFilings(cf *CompanyFacts) []Filing {
	if cf == nil {
		return nil
	}

	byAccn := make(map[string][]rawFact)
	forms := make(map[string]FactValue)
	for _, ns := range Namespaces {
		concepts, ok := cf.Facts[ns]
		if !ok {
			continue
		}
		for name, fact := range concepts {
			for unit, values := range fact.Units {
				for _, v := range values {
					if v.Accn == "" || !(IsAnnualForm(v.Form) || IsQuarterlyForm(v.Form)) {
						continue
					}
					end, err := time.Parse(time.DateOnly, v.End)
					if err != nil {
						continue
					}
					rf := rawFact{ns: ns, name: ns + ":" + name, unit: unit, value: v, end: end}
					if v.Start != "" {
						if rf.start, err = time.Parse(time.DateOnly, v.Start); err != nil {
							continue
						}
					}
					byAccn[v.Accn] = append(byAccn[v.Accn], rf)
					if _, seen := forms[v.Accn]; !seen {
						forms[v.Accn] = v
					}
				}
			}
		}
	}

	filings := make([]Filing, 0, len(byAccn))
	for accn, raws := range byAccn {
		head := forms[accn]
		f := Filing{Accession: accn, Form: head.Form, Annual: IsAnnualForm(head.Form)}
		filed, err := time.Parse(time.DateOnly, head.Filed)
		if err != nil {
			zap.L().Warn("unparseable filing date, ordering by period end only",
				zap.String("component", "xbrl.filings"),
				zap.String("accession", accn),
				zap.String("filed", head.Filed),
				zap.Error(err),
			)
		}
		f.Filed = filed
		f.PeriodEnd = periodEnd(raws)

		sort.Slice(raws, func(i, j int) bool {
			if raws[i].name != raws[j].name {
				return raws[i].name < raws[j].name
			}
			return raws[i].unit < raws[j].unit
		})
		seen := make(map[string]bool, len(raws))
		for _, rf := range raws {
			if !rf.end.Equal(f.PeriodEnd) || !keepContext(rf, f.Annual) || seen[rf.name] {
				continue
			}
			seen[rf.name] = true
			f.Facts = append(f.Facts, rf.resolved(f.Annual))
		}
		if len(f.Facts) > 0 {
			filings = append(filings, f)
		}
	}

	sort.Slice(filings, func(i, j int) bool {
		a, b := filings[i], filings[j]
		if !a.PeriodEnd.Equal(b.PeriodEnd) {
			return a.PeriodEnd.Before(b.PeriodEnd)
		}
		if !a.Filed.Equal(b.Filed) {
			return a.Filed.Before(b.Filed)
		}
		return a.Accession < b.Accession
	})
	return filings
}

// periodEnd is the latest context end among financial facts. Cover-page
// dei facts are dated after the period and only count when nothing else does.
func periodEnd(raws []rawFact) time.Time {
	var end, deiEnd time.Time
	for _, rf := range raws {
		if rf.ns == "dei" {
			if rf.end.After(deiEnd) {
				deiEnd = rf.end
			}
			continue
		}
		if rf.end.After(end) {
			end = rf.end
		}
	}
	if end.IsZero() {
		return deiEnd
	}
	return end
}

// keepContext applies the duration bands.
func keepContext(rf rawFact, annual bool) bool {
	if rf.start.IsZero() {
		return true
	}
	days := int(rf.end.Sub(rf.start).Hours() / 24)
	if annual {
		return days >= minAnnualDays && days <= maxAnnualDays
	}
	return days >= minQuarterDays && days <= maxQuarterDays
}

func (rf rawFact) resolved(annual bool) financial.ResolvedFact {
	raw, text := rf.value.RawValue()
	unit := rf.unit
	if text {
		unit = financial.TypeText
	}
	end := rf.end
	f := financial.ResolvedFact{
		ElementName:    rf.name,
		RawValue:       raw,
		Unit:           unit,
		IsAnnualReport: annual,
		Source:         financial.SourceXBRL,
	}
	if rf.start.IsZero() {
		f.ContextInstant = &end
	} else {
		start := rf.start
		f.ContextStart = &start
		f.ContextEnd = &end
	}
	return f
}
