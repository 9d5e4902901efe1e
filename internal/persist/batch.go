package persist

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/sells-group/filing-recon/internal/db"
	"github.com/sells-group/filing-recon/internal/resilience"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of ops flushed per transaction.
const DefaultBatchSize = 50

// batchMu serializes ExecuteBatch across the process.
var batchMu sync.Mutex

// BatchOp is one upsert-shaped statement. Ops must be safe to replay: a
// failed batch is retried from the first op.
type BatchOp struct {
	Name string
	SQL  string
	Args []any
}

// BatchWriter flushes BatchOps in chunked transactions.
type BatchWriter struct {
	pool  db.Pool
	size  int
	retry resilience.RetryConfig
}

// NewBatchWriter creates a BatchWriter. size <= 0 takes DefaultBatchSize.
func NewBatchWriter(pool db.Pool, size int, retry resilience.RetryConfig) *BatchWriter {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &BatchWriter{pool: pool, size: size, retry: retry}
}

// ExecuteBatch runs ops in chunks of the configured size, one transaction
// per chunk. Only one batch runs at a time in the process. Any failure
// retries the whole batch; exhaustion returns the last error.
func (w *BatchWriter) ExecuteBatch(ctx context.Context, ops []BatchOp) error {
	if len(ops) == 0 {
		return nil
	}

	batchMu.Lock()
	defer batchMu.Unlock()

	retry := w.retry
	retry.ShouldRetry = func(error) bool { return true }
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("persist.batch", "execute_batch", zap.Int("ops", len(ops)))
	}

	err := resilience.Do(ctx, retry, func(ctx context.Context) error {
		for start := 0; start < len(ops); start += w.size {
			end := min(start+w.size, len(ops))
			if err := w.flush(ctx, ops[start:end]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return eris.Wrapf(err, "persist: execute batch of %d ops", len(ops))
	}
	zap.L().Debug("batch executed",
		zap.String("component", "persist.batch"),
		zap.Int("ops", len(ops)),
	)
	return nil
}

func (w *BatchWriter) flush(ctx context.Context, chunk []BatchOp) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "persist: begin batch tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, op := range chunk {
		if _, err := tx.Exec(ctx, op.SQL, op.Args...); err != nil {
			return eris.Wrapf(err, "persist: batch op %s", op.Name)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "persist: commit batch tx")
	}
	return nil
}

const markProcessedSQL = `INSERT INTO fin_data.period_status (company_id, year, quarter, processed_at)
	VALUES ($1, $2, $3, now())
	ON CONFLICT (company_id, year, quarter) DO UPDATE SET processed_at = now()`

// MarkPeriodProcessed records that a company's period was persisted.
func MarkPeriodProcessed(companyID string, fiscalYear, quarter int) BatchOp {
	return BatchOp{
		Name: "mark_processed",
		SQL:  markProcessedSQL,
		Args: []any{companyID, fiscalYear, quarter},
	}
}
