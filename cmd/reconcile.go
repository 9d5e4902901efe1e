package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/filing-recon/internal/db"
	"github.com/sells-group/filing-recon/internal/fetcher"
	"github.com/sells-group/filing-recon/internal/financial"
	"github.com/sells-group/filing-recon/internal/persist"
	"github.com/sells-group/filing-recon/internal/recon"
	"github.com/sells-group/filing-recon/internal/resilience"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile company filings into fiscal quarters",
	Long: `Loads each manifest company's stored periods, merges its XBRL company facts
and listed HTML statements, adjusts cumulative cash flows, derives Q4 from the
annual report, and persists completed periods. Companies run one at a time;
a failed company is recorded and the run continues.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("reconcile"); err != nil {
			return err
		}

		manifest, _ := cmd.Flags().GetString("manifest")
		if manifest == "" {
			manifest = cfg.Recon.Manifest
		}
		ids, _ := cmd.Flags().GetStringSlice("companies")

		all, err := recon.LoadManifest(manifest)
		if err != nil {
			return err
		}
		companies, err := recon.Select(all, ids)
		if err != nil {
			return err
		}
		if len(companies) == 0 {
			fmt.Fprintln(os.Stderr, "No companies to reconcile.")
			return nil
		}

		pool, err := db.NewPool(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := persist.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "reconcile: migrate")
		}

		records := make([]persist.Company, 0, len(companies))
		for _, c := range companies {
			records = append(records, c.Record())
		}
		if _, err := persist.UpsertCompanies(ctx, pool, records); err != nil {
			return eris.Wrap(err, "reconcile: upsert companies")
		}

		engine, registry, err := newEngine(pool)
		if err != nil {
			return err
		}
		defer registry.Close()

		summary, runErr := engine.Run(ctx, companies)
		if summary != nil {
			formatSummary(os.Stdout, summary)
		}
		if runErr != nil {
			return eris.Wrap(runErr, "reconcile")
		}
		if summary.Failed > 0 {
			return eris.Errorf("reconcile: %d of %d companies failed", summary.Failed, len(summary.Companies))
		}
		return nil
	},
}

func init() {
	reconcileCmd.Flags().String("manifest", "", "company manifest (default recon.manifest)")
	reconcileCmd.Flags().StringSlice("companies", nil, "reconcile only these company ids")

	rootCmd.AddCommand(reconcileCmd)
}

// newEngine wires the engine from configuration.
func newEngine(pool *pgxpool.Pool) (*recon.Engine, *financial.Registry, error) {
	floor, err := cfg.Recon.Floor()
	if err != nil {
		return nil, nil, err
	}

	retry := resilience.FromRetryConfig(
		cfg.Retry.MaxAttempts,
		cfg.Retry.InitialBackoff(),
		cfg.Retry.MaxBackoff(),
		cfg.Retry.Multiplier,
		cfg.Retry.JitterFraction,
	)
	batchRetry := retry
	batchRetry.MaxAttempts = cfg.Recon.BatchAttempts

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    cfg.Fetcher.UserAgent,
		Timeout:      time.Duration(cfg.Fetcher.TimeoutSecs) * time.Second,
		Retry:        retry,
		RateLimiters: fetcher.DefaultRateLimiters(),
	})

	registry := financial.NewRegistry(persist.NewLoader(pool))
	coordinator := persist.NewCoordinator(pool, persist.Options{
		LeewayDays: cfg.Recon.LeewayDays,
		FloorDate:  floor,
		Retry:      retry,
	})
	batch := persist.NewBatchWriter(pool, cfg.Recon.BatchSize, batchRetry)

	sources := []recon.Source{
		recon.NewXBRLSource(f, cfg.Fetcher.CompanyFactsURL),
		recon.NewHTMLSource(f),
	}

	zap.L().Debug("engine configured",
		zap.Int("workers", cfg.Recon.Workers),
		zap.Int("leeway_days", cfg.Recon.LeewayDays),
		zap.Time("floor_date", floor),
		zap.Bool("calendar_fallback", cfg.Recon.CalendarFallback),
	)

	engine := recon.NewEngine(registry, sources, coordinator, batch, persist.NewRunLog(pool), recon.Options{
		Workers:          cfg.Recon.Workers,
		CalendarFallback: cfg.Recon.CalendarFallback,
	})
	return engine, registry, nil
}

// formatSummary writes per-company results to w.
func formatSummary(out io.Writer, s *recon.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", s.RunID)
	_, _ = fmt.Fprintln(w, "COMPANY\tFILINGS\tFAILED\tSKIPPED\tADJUSTED\tDERIVED\tINSERTED\tMERGED\tELAPSED\tERROR")
	_, _ = fmt.Fprintln(w, "-------\t-------\t------\t-------\t--------\t-------\t--------\t------\t-------\t-----")

	for _, r := range s.Companies {
		errMsg := ""
		if r.Err != nil {
			errMsg = r.Err.Error()
			if len(errMsg) > 60 {
				errMsg = errMsg[:57] + "..."
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.CompanyID,
			r.Filings,
			r.FailedFilings,
			r.SkippedFilings,
			r.Adjusted,
			r.Derived,
			r.Inserted,
			r.Merged,
			r.Elapsed.Round(time.Millisecond),
			errMsg,
		)
	}
	_, _ = fmt.Fprintf(w, "Companies:\t%d\tfailed:\t%d\n", len(s.Companies), s.Failed)
	_ = w.Flush()
}
