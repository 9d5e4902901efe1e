package persist

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertCompanies(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_fin_data_companies"}, companiesUpsert.Columns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "fin_data"."companies" .* "updated_at" = now\(\)`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := UpsertCompanies(context.Background(), mock, []Company{
		{ID: "acme", CIK: "0000320193", Name: "Acme Corp", FiscalYearEnd: "1231"},
		{ID: "globex", CIK: "0000789019", Name: "Globex", FiscalYearEnd: "0630"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCompanies_RequiresID(t *testing.T) {
	_, err := UpsertCompanies(context.Background(), nil, []Company{{CIK: "1"}})
	assert.Error(t, err)
}

func TestUpsertCompanies_Empty(t *testing.T) {
	n, err := UpsertCompanies(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
