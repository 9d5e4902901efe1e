package persist

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/sells-group/filing-recon/internal/db"
	"github.com/sells-group/filing-recon/internal/financial"
)

// Loader reads a company's durable rows back into entries. It implements
// financial.Loader.
type Loader struct {
	pool db.Pool
}

// NewLoader creates a Loader backed by pool.
func NewLoader(pool db.Pool) *Loader {
	return &Loader{pool: pool}
}

const loadEntriesSQL = `SELECT ` + selectColumns + `
	FROM fin_data.financial_data
	WHERE company_id = $1
	ORDER BY year, quarter, start_date, id`

// LoadEntries returns every stored period of companyID.
func (l *Loader) LoadEntries(ctx context.Context, companyID string) ([]*financial.Entry, error) {
	rows, err := l.pool.Query(ctx, loadEntriesSQL, companyID)
	if err != nil {
		return nil, eris.Wrapf(err, "persist: load entries for %s", companyID)
	}
	defer rows.Close()

	var out []*financial.Entry
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r.Entry())
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "persist: iterate entries for %s", companyID)
	}
	return out, nil
}
