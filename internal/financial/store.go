package financial

import (
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// storeState is owned by the store's goroutine and never touched elsewhere.
type storeState struct {
	entries  map[string]*Entry    // composite key → entry
	byPeriod map[PeriodKey]string // (fiscal year, quarter) → composite key
	adjusted map[int]bool         // fiscal years whose cumulative cash flows were corrected
	// pending holds the folded base names of HTML cash-flow figures in Q2
	// and Q3 that still carry year-to-date totals.
	pending  map[PeriodKey]map[string]bool
}

// EntryStore is one company's cache of consolidated period entries. A single
// goroutine owns the cache and runs every operation in arrival order, so the
// read-modify-write merge never loses an update. Reads return copies.
type EntryStore struct {
	companyID string
	ops       chan func(*storeState)
	done      chan struct{}
	closeOnce sync.Once
}

// NewEntryStore starts the owning goroutine for companyID's cache. Close
// releases it.
func NewEntryStore(companyID string) *EntryStore {
	s := &EntryStore{
		companyID: companyID,
		ops:       make(chan func(*storeState)),
		done:      make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *EntryStore) loop() {
	st := &storeState{
		entries:  make(map[string]*Entry),
		byPeriod: make(map[PeriodKey]string),
		adjusted: make(map[int]bool),
		pending:  make(map[PeriodKey]map[string]bool),
	}
	for {
		select {
		case op := <-s.ops:
			op(st)
		case <-s.done:
			return
		}
	}
}

// do runs fn on the owning goroutine and waits for it to finish.
func (s *EntryStore) do(fn func(*storeState)) error {
	finished := make(chan struct{})
	select {
	case s.ops <- func(st *storeState) {
		defer close(finished)
		fn(st)
	}:
	case <-s.done:
		return ErrStoreClosed
	}
	<-finished
	return nil
}

// Close stops the owning goroutine. Later operations return ErrStoreClosed.
func (s *EntryStore) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// CompanyID returns the company the store belongs to.
func (s *EntryStore) CompanyID() string { return s.companyID }

// AddOrUpdateEntry merges entry into the bucket for its (fiscal year,
// quarter), ignoring exact dates, or inserts it as a new bucket. Applying the
// same entry twice leaves the same state as applying it once.
func (s *EntryStore) AddOrUpdateEntry(entry *Entry) error {
	if entry == nil {
		return eris.New("financial: nil entry")
	}
	if entry.CompanyID != s.companyID {
		return eris.Errorf("financial: entry for company %s added to store of %s", entry.CompanyID, s.companyID)
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	incoming := entry.Clone()
	return s.do(func(st *storeState) {
		pk := incoming.PeriodKey()
		st.recordCumulative(incoming)
		if key, ok := st.byPeriod[pk]; ok {
			st.entries[key].mergeFrom(incoming)
			return
		}
		if incoming.Values == nil {
			incoming.Values = make(Values)
		}
		key := incoming.Key()
		st.entries[key] = incoming
		st.byPeriod[pk] = key
	})
}

// Entry returns a copy of the entry for (fiscalYear, quarter).
func (s *EntryStore) Entry(fiscalYear, quarter int) (*Entry, bool) {
	var out *Entry
	_ = s.do(func(st *storeState) {
		if key, ok := st.byPeriod[PeriodKey{FiscalYear: fiscalYear, Quarter: quarter}]; ok {
			out = st.entries[key].Clone()
		}
	})
	return out, out != nil
}

// Entries returns copies of every entry ordered by fiscal year and quarter.
func (s *EntryStore) Entries() []*Entry {
	return s.collect(func(*Entry) bool { return true })
}

// GetCompletedEntries returns copies of the entries both sources have
// contributed to. Only these may be persisted.
func (s *EntryStore) GetCompletedEntries() []*Entry {
	return s.collect((*Entry).IsComplete)
}

func (s *EntryStore) collect(keep func(*Entry) bool) []*Entry {
	var out []*Entry
	_ = s.do(func(st *storeState) {
		for _, e := range st.entries {
			if keep(e) {
				out = append(out, e.Clone())
			}
		}
	})
	sortEntries(out)
	return out
}

// Len returns the number of buckets.
func (s *EntryStore) Len() int {
	var n int
	_ = s.do(func(st *storeState) { n = len(st.entries) })
	return n
}

// GetMostRecentFiscalYearEndDate returns the latest period end among annual
// entries, or false when no annual entry exists yet.
func (s *EntryStore) GetMostRecentFiscalYearEndDate() (time.Time, bool) {
	var latest time.Time
	_ = s.do(func(st *storeState) {
		for _, e := range st.entries {
			if e.IsAnnual() && e.PeriodEnd.After(latest) {
				latest = e.PeriodEnd
			}
		}
	})
	return latest, !latest.IsZero()
}

// AnnualHistory returns the period end dates of all annual entries, oldest
// first. It seeds ResolveFiscalPeriod.
func (s *EntryStore) AnnualHistory() []time.Time {
	var out []time.Time
	_ = s.do(func(st *storeState) {
		for _, e := range st.entries {
			if e.IsAnnual() && !e.PeriodEnd.IsZero() {
				out = append(out, e.PeriodEnd)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// FiscalYears returns the distinct fiscal years present, ascending.
func (s *EntryStore) FiscalYears() []int {
	seen := make(map[int]bool)
	_ = s.do(func(st *storeState) {
		for pk := range st.byPeriod {
			seen[pk.FiscalYear] = true
		}
	})
	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// recordCumulative marks the HTML cash-flow figures of an incoming Q2 or Q3
// entry as year to date and reopens the fiscal year for adjustment.
func (st *storeState) recordCumulative(e *Entry) {
	if e.Quarter != 2 && e.Quarter != 3 {
		return
	}
	pk := e.PeriodKey()
	for _, f := range e.Values {
		if !IsHTMLName(f.Name) || ClassifyElement(f.Name) != Cashflow {
			continue
		}
		if st.pending[pk] == nil {
			st.pending[pk] = make(map[string]bool)
		}
		st.pending[pk][FoldKey(BaseName(f.Name))] = true
		delete(st.adjusted, e.FiscalYear)
	}
}

// MarkAdjusted records that fiscalYear's cumulative cash flows are already
// discrete. Only elements present in both Q2 and Q3 count as discrete; a Q2
// figure without its Q3 counterpart was never adjusted and stays year to
// date.
func (s *EntryStore) MarkAdjusted(fiscalYear int) error {
	return s.do(func(st *storeState) {
		st.adjusted[fiscalYear] = true
		q2 := st.pending[PeriodKey{FiscalYear: fiscalYear, Quarter: 2}]
		q3 := st.pending[PeriodKey{FiscalYear: fiscalYear, Quarter: 3}]
		for base := range q2 {
			if q3[base] {
				delete(q2, base)
				delete(q3, base)
			}
		}
	})
}

// IsAdjusted reports whether fiscalYear was marked adjusted.
func (s *EntryStore) IsAdjusted(fiscalYear int) bool {
	var ok bool
	_ = s.do(func(st *storeState) { ok = st.adjusted[fiscalYear] })
	return ok
}

// IsCumulative reports whether the Q2 or Q3 figure of the HTML element
// name still holds a year-to-date total.
func (s *EntryStore) IsCumulative(fiscalYear, quarter int, name string) bool {
	var ok bool
	_ = s.do(func(st *storeState) {
		ok = st.pending[PeriodKey{FiscalYear: fiscalYear, Quarter: quarter}][FoldKey(BaseName(name))]
	})
	return ok
}

// update runs fn against the live entries of fiscalYear on the owning
// goroutine. fn may mutate entry values and the store's bookkeeping in place.
func (s *EntryStore) update(fiscalYear int, fn func(byQuarter map[int]*Entry, st *storeState)) error {
	return s.do(func(st *storeState) {
		byQuarter := make(map[int]*Entry)
		for pk, key := range st.byPeriod {
			if pk.FiscalYear == fiscalYear {
				byQuarter[pk.Quarter] = st.entries[key]
			}
		}
		fn(byQuarter, st)
	})
}

func sortEntries(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].FiscalYear != entries[j].FiscalYear {
			return entries[i].FiscalYear < entries[j].FiscalYear
		}
		return entries[i].Quarter < entries[j].Quarter
	})
}
