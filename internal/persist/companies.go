package persist

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/sells-group/filing-recon/internal/db"
)

// Company is a row of fin_data.companies.
type Company struct {
	ID            string
	CIK           string
	Name          string
	FiscalYearEnd string // MMDD as reported by EDGAR, e.g. "1231"
}

var companiesUpsert = db.UpsertConfig{
	Table:        "fin_data.companies",
	Columns:      []string{"company_id", "cik", "name", "fiscal_year_end"},
	ConflictKeys: []string{"company_id"},
	TouchCol:     "updated_at",
}

// UpsertCompanies inserts or refreshes company metadata.
func UpsertCompanies(ctx context.Context, pool db.Pool, companies []Company) (int64, error) {
	rows := make([][]any, 0, len(companies))
	for _, c := range companies {
		if c.ID == "" {
			return 0, eris.New("persist: company without id")
		}
		rows = append(rows, []any{c.ID, c.CIK, c.Name, c.FiscalYearEnd})
	}
	n, err := db.BulkUpsert(ctx, pool, companiesUpsert, rows)
	if err != nil {
		return 0, eris.Wrap(err, "persist: upsert companies")
	}
	return n, nil
}
