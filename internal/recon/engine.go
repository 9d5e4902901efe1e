// Package recon orchestrates company reconciliation runs: filings are loaded
// and merged through a bounded worker pool, cumulative cash flows are
// corrected, fourth quarters derived, and completed periods persisted.
package recon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/filing-recon/internal/financial"
	"github.com/sells-group/filing-recon/internal/persist"
)

// DefaultWorkers is the width of the filing worker pool.
const DefaultWorkers = 5

// Persister writes a company's completed entries.
type Persister interface {
	Persist(ctx context.Context, companyID string, entries []*financial.Entry) (*persist.Result, error)
}

// BatchExecutor flushes bookkeeping statements.
type BatchExecutor interface {
	ExecuteBatch(ctx context.Context, ops []persist.BatchOp) error
}

// RunRecorder records per-company run outcomes.
type RunRecorder interface {
	Start(ctx context.Context, runID uuid.UUID, companyID string) (int64, error)
	Complete(ctx context.Context, id int64, result *persist.RunResult) error
	Fail(ctx context.Context, id int64, errMsg string) error
}

// Options tunes an Engine.
type Options struct {
	Workers int
	// CalendarFallback places filings of companies with no annual report in
	// calendar quarters when they are retried.
	CalendarFallback bool
}

// CompanyResult is the outcome of one company.
type CompanyResult struct {
	CompanyID       string
	Filings         int
	FailedFilings   int
	Deferred        int
	SkippedFilings  int
	SkippedFacts    int
	Adjusted        int
	Derived         int
	// IncompleteYears counts fiscal years with an annual report but
	// without all of Q1–Q3, whose Q4 was not derived.
	IncompleteYears int
	Inserted        int
	Merged          int
	Skipped         int
	Elapsed         time.Duration
	Err             error
}

// Summary is the outcome of a run.
type Summary struct {
	RunID     uuid.UUID
	Companies []CompanyResult
	Failed    int
}

// Engine reconciles companies one at a time.
type Engine struct {
	registry  *financial.Registry
	sources   []Source
	persister Persister
	batch     BatchExecutor
	runs      RunRecorder
	opts      Options
}

// NewEngine creates an Engine. runs may be nil.
func NewEngine(registry *financial.Registry, sources []Source, persister Persister, batch BatchExecutor, runs RunRecorder, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Engine{
		registry:  registry,
		sources:   sources,
		persister: persister,
		batch:     batch,
		runs:      runs,
		opts:      opts,
	}
}

// Run reconciles companies in order. A company's failure is logged and
// recorded and the next company proceeds; only cancellation of ctx stops
// the run early.
func (e *Engine) Run(ctx context.Context, companies []Company) (*Summary, error) {
	log := zap.L().With(zap.String("component", "recon.engine"))
	summary := &Summary{RunID: uuid.New()}
	log.Info("starting run", zap.String("run_id", summary.RunID.String()), zap.Int("companies", len(companies)))

	for _, c := range companies {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		res := e.reconcile(ctx, summary.RunID, c)
		if res.Err != nil {
			summary.Failed++
		}
		summary.Companies = append(summary.Companies, res)
	}

	log.Info("run complete",
		zap.String("run_id", summary.RunID.String()),
		zap.Int("companies", len(summary.Companies)),
		zap.Int("failed", summary.Failed),
	)
	return summary, ctx.Err()
}

// reconcile runs one company and records the outcome in the run log.
func (e *Engine) reconcile(ctx context.Context, runID uuid.UUID, c Company) CompanyResult {
	log := zap.L().With(zap.String("component", "recon.engine"), zap.String("company_id", c.ID))
	start := time.Now()

	var logID int64
	if e.runs != nil {
		id, err := e.runs.Start(ctx, runID, c.ID)
		if err != nil {
			log.Error("failed to record run start", zap.Error(err))
		}
		logID = id
	}

	res := CompanyResult{CompanyID: c.ID}
	res.Err = e.process(ctx, c, &res)
	res.Elapsed = time.Since(start)

	if res.Err != nil {
		log.Error("company failed", zap.Error(res.Err), zap.Duration("elapsed", res.Elapsed))
		if e.runs != nil && logID != 0 {
			if err := e.runs.Fail(ctx, logID, res.Err.Error()); err != nil {
				log.Error("failed to record run failure", zap.Error(err))
			}
		}
		return res
	}

	if e.runs != nil && logID != 0 {
		err := e.runs.Complete(ctx, logID, &persist.RunResult{
			Inserted: res.Inserted,
			Merged:   res.Merged,
			Skipped:  res.Skipped,
			Metadata: map[string]any{
				"filings":          res.Filings,
				"failed_filings":   res.FailedFilings,
				"deferred":         res.Deferred,
				"skipped_filings":  res.SkippedFilings,
				"skipped_facts":    res.SkippedFacts,
				"adjusted":         res.Adjusted,
				"derived":          res.Derived,
				"incomplete_years": res.IncompleteYears,
			},
		})
		if err != nil {
			log.Error("failed to record run completion", zap.Error(err))
		}
	}
	log.Info("company reconciled",
		zap.Int("filings", res.Filings),
		zap.Int("inserted", res.Inserted),
		zap.Int("merged", res.Merged),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res
}

// loaded is a filing whose facts have been read.
type loaded struct {
	filing Filing
	facts  []financial.ResolvedFact
}

func (e *Engine) process(ctx context.Context, c Company, res *CompanyResult) error {
	store, err := e.registry.GetOrLoadCompanyFinancialData(ctx, c.ID)
	if err != nil {
		return err
	}
	defer e.registry.Release(c.ID)

	var annual, interim []Filing
	for _, src := range e.sources {
		filings, err := src.Filings(ctx, c)
		if err != nil {
			return eris.Wrapf(err, "recon: list %s filings", src.Name())
		}
		for _, f := range filings {
			if f.Annual {
				annual = append(annual, f)
			} else {
				interim = append(interim, f)
			}
		}
	}

	p := &pass{engine: e, store: store, companyID: c.ID, res: res}
	if err := p.run(ctx, annual); err != nil {
		return err
	}
	if err := p.run(ctx, interim); err != nil {
		return err
	}
	p.retryDeferred()

	for _, fy := range store.FiscalYears() {
		adj, err := financial.AdjustCumulativeCashflows(store, fy)
		if err != nil {
			return eris.Wrapf(err, "recon: adjust FY%d", fy)
		}
		res.Adjusted += len(adj.Adjusted)

		_, derived, err := financial.DeriveQ4(store, fy)
		if err != nil {
			return eris.Wrapf(err, "recon: derive Q4 of FY%d", fy)
		}
		res.Derived += len(derived.Derived)
		if derived.Incomplete {
			res.IncompleteYears++
			zap.L().Info("q4 not derived, interim quarters missing",
				zap.String("component", "recon.engine"),
				zap.String("company_id", c.ID),
				zap.Int("fiscal_year", fy),
				zap.Errors("reasons", derived.Skipped),
			)
		}
	}

	completed := store.GetCompletedEntries()
	if len(completed) == 0 {
		return nil
	}
	pr, err := e.persister.Persist(ctx, c.ID, completed)
	if err != nil {
		return err
	}
	res.Inserted, res.Merged, res.Skipped = pr.Inserted, pr.Merged, len(pr.Skipped)

	if e.batch == nil || len(pr.Periods) == 0 {
		return nil
	}
	ops := make([]persist.BatchOp, 0, len(pr.Periods))
	for _, pk := range pr.Periods {
		ops = append(ops, persist.MarkPeriodProcessed(c.ID, pk.FiscalYear, pk.Quarter))
	}
	return e.batch.ExecuteBatch(ctx, ops)
}

// pass loads and ingests filings through the worker pool.
type pass struct {
	engine    *Engine
	store     *financial.EntryStore
	companyID string

	mu       sync.Mutex
	res      *CompanyResult
	deferred []loaded
}

// run processes filings with at most Workers in flight. A filing that fails
// to load or ingest is logged and counted; one that has no annual anchor is
// deferred.
func (p *pass) run(ctx context.Context, filings []Filing) error {
	if len(filings) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.engine.opts.Workers)

	for _, f := range filings {
		g.Go(func() error {
			facts, err := f.Load(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				p.fail(f, err)
				return nil
			}
			p.ingest(loaded{filing: f, facts: facts}, financial.IngestOptions{}, true)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return eris.Wrapf(err, "recon: company %s", p.companyID)
	}
	return nil
}

// retryDeferred ingests the deferred filings once more, with the calendar
// fallback when enabled. Filings still without an anchor are skipped.
func (p *pass) retryDeferred() {
	p.mu.Lock()
	deferred := p.deferred
	p.deferred = nil
	p.mu.Unlock()

	opts := financial.IngestOptions{CalendarFallback: p.engine.opts.CalendarFallback}
	for _, l := range deferred {
		p.ingest(l, opts, false)
	}
}

func (p *pass) ingest(l loaded, opts financial.IngestOptions, canDefer bool) {
	log := zap.L().With(
		zap.String("component", "recon.engine"),
		zap.String("company_id", p.companyID),
		zap.String("filing", l.filing.Name),
	)
	report, err := financial.Ingest(p.store, p.companyID, l.facts, opts)

	p.mu.Lock()
	defer p.mu.Unlock()

	var noAnchor *financial.NoAnchorError
	switch {
	case errors.As(err, &noAnchor) && canDefer:
		p.deferred = append(p.deferred, l)
		p.res.Deferred++
		log.Debug("filing deferred until annual reports are merged")
	case errors.As(err, &noAnchor):
		p.res.SkippedFilings++
		log.Warn("filing skipped, no annual anchor", zap.Error(err))
	case err != nil:
		p.res.FailedFilings++
		log.Warn("filing failed", zap.Error(err))
	default:
		p.res.Filings++
		p.res.SkippedFacts += len(report.Skipped)
		if report.Calendar {
			log.Warn("filing placed in calendar quarters")
		}
	}
}

func (p *pass) fail(f Filing, err error) {
	p.mu.Lock()
	p.res.FailedFilings++
	p.mu.Unlock()
	zap.L().Warn("filing failed to load",
		zap.String("component", "recon.engine"),
		zap.String("company_id", p.companyID),
		zap.String("filing", f.Name),
		zap.Error(err),
	)
}
