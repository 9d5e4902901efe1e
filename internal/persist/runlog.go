package persist

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/sells-group/filing-recon/internal/db"
)

// RunEntry represents a row in fin_data.recon_log.
type RunEntry struct {
	ID          int64          `json:"id"`
	RunID       uuid.UUID      `json:"run_id"`
	CompanyID   string         `json:"company_id"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Inserted    int            `json:"inserted"`
	Merged      int            `json:"merged"`
	Skipped     int            `json:"skipped"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// RunResult holds the outcome of one company reconciliation, passed to
// Complete.
type RunResult struct {
	Inserted int            `json:"inserted"`
	Merged   int            `json:"merged"`
	Skipped  int            `json:"skipped"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RunLog provides read/write access to the fin_data.recon_log table.
type RunLog struct {
	pool db.Pool
}

// NewRunLog creates a RunLog backed by the given connection pool.
func NewRunLog(pool db.Pool) *RunLog {
	return &RunLog{pool: pool}
}

// Start records the beginning of a company run and returns its log id.
func (l *RunLog) Start(ctx context.Context, runID uuid.UUID, companyID string) (int64, error) {
	var id int64
	err := l.pool.QueryRow(ctx,
		`INSERT INTO fin_data.recon_log (run_id, company_id, status, started_at)
		 VALUES ($1, $2, 'running', now()) RETURNING id`,
		runID, companyID,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "runlog: start run for %s", companyID)
	}
	return id, nil
}

// Complete marks a company run as successfully completed.
func (l *RunLog) Complete(ctx context.Context, id int64, result *RunResult) error {
	if result == nil {
		result = &RunResult{}
	}
	var metaJSON []byte
	if result.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(result.Metadata)
		if err != nil {
			return eris.Wrap(err, "runlog: marshal metadata")
		}
	}

	_, err := l.pool.Exec(ctx,
		`UPDATE fin_data.recon_log
		 SET status = 'complete', completed_at = now(), inserted = $1, merged = $2, skipped = $3, metadata = $4
		 WHERE id = $5`,
		result.Inserted, result.Merged, result.Skipped, metaJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %d", id)
	}
	return nil
}

// Fail marks a company run as failed with an error message.
func (l *RunLog) Fail(ctx context.Context, id int64, errMsg string) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE fin_data.recon_log
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %d", id)
	}
	return nil
}

// LastSuccess returns the start of the most recent completed run of a
// company, or nil if it never completed.
func (l *RunLog) LastSuccess(ctx context.Context, companyID string) (*time.Time, error) {
	var t time.Time
	err := l.pool.QueryRow(ctx,
		`SELECT started_at FROM fin_data.recon_log
		 WHERE company_id = $1 AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		companyID,
	).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "runlog: last success for %s", companyID)
	}
	return &t, nil
}

// List returns the most recent runs, newest first. limit <= 0 means 50.
func (l *RunLog) List(ctx context.Context, limit int) ([]RunEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, run_id, company_id, status, started_at, completed_at, inserted, merged, skipped, error, metadata
		 FROM fin_data.recon_log ORDER BY started_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list")
	}
	defer rows.Close()

	var entries []RunEntry
	for rows.Next() {
		var e RunEntry
		var errStr *string
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.RunID, &e.CompanyID, &e.Status, &e.StartedAt, &e.CompletedAt,
			&e.Inserted, &e.Merged, &e.Skipped, &errStr, &metaJSON); err != nil {
			return nil, eris.Wrap(err, "runlog: scan entry")
		}
		if errStr != nil {
			e.Error = *errStr
		}
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
