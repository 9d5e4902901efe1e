// Package persist reconciles consolidated financial entries with the durable
// fin_data store: the fuzzy-matched transactional upsert, the single-flight
// batch writer, the row loader, the run log and schema migrations.
package persist

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/sells-group/filing-recon/internal/db"
	"github.com/sells-group/filing-recon/internal/financial"
	"github.com/sells-group/filing-recon/internal/resilience"
	"go.uber.org/zap"
)

// Defaults for Options.
const (
	DefaultLeewayDays = 15
)

// DefaultFloorDate is the earliest storable period date.
var DefaultFloorDate = time.Date(1753, time.January, 1, 0, 0, 0, 0, time.UTC)

// Options configures a Coordinator.
type Options struct {
	// LeewayDays is the tolerance, on both start and end date, within which
	// an entry merges into an existing row instead of inserting a new one.
	LeewayDays int
	// FloorDate rejects entries whose standard dates fall before it.
	FloorDate time.Time
	// Retry governs whole-transaction retries on transient errors.
	Retry resilience.RetryConfig
}

// Result describes one Persist call.
type Result struct {
	CompanyID string
	Inserted  int
	Merged    int
	// Periods lists the periods written, in entry order.
	Periods []financial.PeriodKey
	Skipped []error
}

// PersistenceError reports a transaction that was rolled back. Nothing of
// the Persist call was committed.
type PersistenceError struct {
	CompanyID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist: company %s rolled back: %v", e.CompanyID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Coordinator writes completed entries to fin_data.financial_data.
type Coordinator struct {
	pool db.Pool
	opts Options
}

// NewCoordinator creates a Coordinator; zero options take the defaults.
func NewCoordinator(pool db.Pool, opts Options) *Coordinator {
	if opts.LeewayDays <= 0 {
		opts.LeewayDays = DefaultLeewayDays
	}
	if opts.FloorDate.IsZero() {
		opts.FloorDate = DefaultFloorDate
	}
	return &Coordinator{pool: pool, opts: opts}
}

// Persist writes companyID's completed entries in one transaction. Entries
// that are incomplete, belong to another company or fall before the floor
// date are skipped and reported; entries sharing standard dates are
// deduplicated, first wins. Each remaining entry either merges into the
// existing row it matches (exactly, or within the leeway on both dates) or
// is inserted. Transient failures retry the whole transaction; any other
// failure rolls back and returns *PersistenceError.
func (c *Coordinator) Persist(ctx context.Context, companyID string, entries []*financial.Entry) (*Result, error) {
	valid, skipped := c.prepare(companyID, entries)
	log := zap.L().With(zap.String("component", "persist.coordinator"), zap.String("company_id", companyID))
	for _, err := range skipped {
		log.Warn("entry skipped", zap.Error(err))
	}
	if len(valid) == 0 {
		return &Result{CompanyID: companyID, Skipped: skipped}, nil
	}

	retry := c.opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("persist.coordinator", "persist", zap.String("company_id", companyID))
	}

	res, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*Result, error) {
		return c.persistTx(ctx, companyID, valid)
	})
	if err != nil {
		return nil, &PersistenceError{CompanyID: companyID, Err: err}
	}
	res.Skipped = skipped
	log.Info("persisted company",
		zap.Int("inserted", res.Inserted),
		zap.Int("merged", res.Merged),
		zap.Int("skipped", len(skipped)),
	)
	return res, nil
}

// prepare validates and deduplicates entries.
func (c *Coordinator) prepare(companyID string, entries []*financial.Entry) ([]*financial.Entry, []error) {
	var (
		valid   []*financial.Entry
		skipped []error
	)
	seen := make(map[[2]time.Time]bool, len(entries))
	for _, e := range entries {
		if e == nil {
			continue
		}
		reject := func(reason string) {
			skipped = append(skipped, &financial.ValidationError{
				CompanyID: companyID,
				Reason:    fmt.Sprintf("entry FY%d Q%d: %s", e.FiscalYear, e.Quarter, reason),
			})
		}
		switch {
		case e.CompanyID != companyID:
			reject("belongs to company " + e.CompanyID)
			continue
		case e.Validate() != nil:
			reject(e.Validate().Error())
			continue
		case !e.IsComplete():
			reject("incomplete, both sources are required")
			continue
		case e.StandardStart.IsZero() || e.StandardEnd.IsZero():
			reject("missing standard dates")
			continue
		case e.StandardStart.Before(c.opts.FloorDate) || e.StandardEnd.Before(c.opts.FloorDate):
			reject("standard dates before floor " + c.opts.FloorDate.Format(time.DateOnly))
			continue
		case e.StandardEnd.Before(e.StandardStart):
			reject("standard end before start")
			continue
		}

		key := [2]time.Time{e.StandardStart, e.StandardEnd}
		if seen[key] {
			continue
		}
		seen[key] = true
		valid = append(valid, e)
	}
	return valid, skipped
}

// envelope returns the date ranges, widened by the leeway, that can hold a
// row matching any of entries.
func envelope(entries []*financial.Entry, leewayDays int) (startLo, startHi, endLo, endHi time.Time) {
	for i, e := range entries {
		if i == 0 || e.StandardStart.Before(startLo) {
			startLo = e.StandardStart
		}
		if i == 0 || e.StandardStart.After(startHi) {
			startHi = e.StandardStart
		}
		if i == 0 || e.StandardEnd.Before(endLo) {
			endLo = e.StandardEnd
		}
		if i == 0 || e.StandardEnd.After(endHi) {
			endHi = e.StandardEnd
		}
	}
	return startLo.AddDate(0, 0, -leewayDays), startHi.AddDate(0, 0, leewayDays),
		endLo.AddDate(0, 0, -leewayDays), endHi.AddDate(0, 0, leewayDays)
}

// matchRow returns the index of the row e merges into, or -1. An exact
// (start, end) match wins; otherwise the first row, in the order given,
// whose start and end are both within leewayDays.
func matchRow(e *financial.Entry, rows []Row, leewayDays int) int {
	for i := range rows {
		if sameDay(rows[i].StartDate, e.StandardStart) && sameDay(rows[i].EndDate, e.StandardEnd) {
			return i
		}
	}
	for i := range rows {
		if withinDays(rows[i].StartDate, e.StandardStart, leewayDays) &&
			withinDays(rows[i].EndDate, e.StandardEnd, leewayDays) {
			return i
		}
	}
	return -1
}

func dayNumber(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

func sameDay(a, b time.Time) bool { return dayNumber(a) == dayNumber(b) }

func withinDays(a, b time.Time, days int) bool {
	diff := dayNumber(a) - dayNumber(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= int64(days)
}

const selectCandidatesSQL = `SELECT ` + selectColumns + `
	FROM fin_data.financial_data
	WHERE company_id = $1
	  AND start_date BETWEEN $2 AND $3
	  AND end_date BETWEEN $4 AND $5
	ORDER BY start_date, end_date, id
	FOR UPDATE`

const updateRowSQL = `UPDATE fin_data.financial_data
	SET financial_data_json = $1, is_html_parsed = $2, is_xbrl_parsed = $3, updated_at = now()
	WHERE id = $4`

// persistTx is one transactional attempt.
func (c *Coordinator) persistTx(ctx context.Context, companyID string, entries []*financial.Entry) (*Result, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "persist: begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, err := selectCandidates(ctx, tx, companyID, entries, c.opts.LeewayDays)
	if err != nil {
		return nil, err
	}

	res := &Result{CompanyID: companyID}
	merged := make(map[int]bool)
	var inserts [][]any
	for _, e := range entries {
		res.Periods = append(res.Periods, e.PeriodKey())
		if i := matchRow(e, existing, c.opts.LeewayDays); i >= 0 {
			existing[i].merge(e)
			merged[i] = true
			res.Merged++
			continue
		}
		vals, err := insertValues(e)
		if err != nil {
			return nil, err
		}
		inserts = append(inserts, vals)
	}

	if len(inserts) > 0 {
		n, err := db.CopyInto(ctx, tx, financialDataTable, insertColumns, inserts)
		if err != nil {
			return nil, eris.Wrap(err, "persist: insert new rows")
		}
		res.Inserted = int(n)
	}

	idx := make([]int, 0, len(merged))
	for i := range merged {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(a, b int) bool { return existing[idx[a]].ID < existing[idx[b]].ID })
	for _, i := range idx {
		row := existing[i]
		blob, err := encodeValues(row.Values)
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, updateRowSQL, blob, row.HTMLParsed, row.XBRLParsed, row.ID); err != nil {
			return nil, eris.Wrapf(err, "persist: merge into row %d", row.ID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "persist: commit tx")
	}
	return res, nil
}

func selectCandidates(ctx context.Context, tx pgx.Tx, companyID string, entries []*financial.Entry, leewayDays int) ([]Row, error) {
	startLo, startHi, endLo, endHi := envelope(entries, leewayDays)
	rows, err := tx.Query(ctx, selectCandidatesSQL, companyID, startLo, startHi, endLo, endHi)
	if err != nil {
		return nil, eris.Wrap(err, "persist: select existing rows")
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "persist: iterate existing rows")
	}
	return out, nil
}
