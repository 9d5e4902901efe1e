package persist

import (
	"context"
	"fmt"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/sells-group/filing-recon/internal/financial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ financial.Loader = (*Loader)(nil)

func TestLoader_LoadEntries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT .* FROM fin_data.financial_data\s+WHERE company_id = \$1`).
		WithArgs("acme").
		WillReturnRows(pgxmock.NewRows(rowColumns).
			AddRow(int64(1), "acme", day("2023-01-01"), day("2023-12-31"), 0, 2023,
				[]byte(`{"us-gaap:Revenues":400,"dei:DocumentFiscalPeriodFocus":"FY"}`), true, true).
			AddRow(int64(2), "acme", day("2023-01-01"), day("2023-03-31"), 1, 2023,
				[]byte(`{"us-gaap:Revenues":80.50}`), false, true))

	entries, err := NewLoader(mock).LoadEntries(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	annual := entries[0]
	assert.True(t, annual.IsAnnual())
	assert.Equal(t, day("2023-12-31"), annual.FiscalYearEnd)
	assert.True(t, annual.IsComplete())
	focus, ok := annual.Values.Get("dei:DocumentFiscalPeriodFocus")
	require.True(t, ok)
	assert.Equal(t, financial.TypeText, focus.Type)

	q1 := entries[1]
	assert.Equal(t, 1, q1.Quarter)
	assert.True(t, q1.FiscalYearEnd.IsZero())
	assert.False(t, q1.IsComplete())
	rev, ok := q1.Values.Get("US-GAAP:REVENUES")
	require.True(t, ok)
	assert.Equal(t, "80.5", rev.Value.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoader_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT .* FROM fin_data.financial_data`).
		WillReturnError(fmt.Errorf("connection lost"))

	_, err = NewLoader(mock).LoadEntries(context.Background(), "acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load entries for acme")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoader_BadBlob(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT .* FROM fin_data.financial_data`).
		WillReturnRows(pgxmock.NewRows(rowColumns).
			AddRow(int64(9), "acme", day("2023-01-01"), day("2023-03-31"), 1, 2023,
				[]byte(`[1,2]`), true, true))

	_, err = NewLoader(mock).LoadEntries(context.Background(), "acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode blob of row 9")
}

func TestRow_MergeEntryWins(t *testing.T) {
	r := Row{Values: make(financial.Values), XBRLParsed: true}
	r.Values.Set("us-gaap:Revenues", financial.Text("old"), financial.TypeText)
	r.Values.Set("us-gaap:Assets", financial.Text("keep"), financial.TypeText)

	e := completeEntry("acme", 2023, 1, "2023-01-01", "2023-03-31", "us-gaap:Revenues", "5")
	e.XBRLParsed = false
	r.merge(e)

	assert.True(t, r.XBRLParsed)
	assert.True(t, r.HTMLParsed)
	rev, _ := r.Values.Get("us-gaap:Revenues")
	assert.Equal(t, "5", rev.Value.String())
	assets, _ := r.Values.Get("us-gaap:Assets")
	assert.Equal(t, "keep", assets.Value.String())
}

func TestInsertValues(t *testing.T) {
	e := completeEntry("acme", 2023, 2, "2023-04-01", "2023-06-30", "us-gaap:Revenues", "12.30")
	vals, err := insertValues(e)
	require.NoError(t, err)
	require.Len(t, vals, len(insertColumns))
	assert.Equal(t, "acme", vals[0])
	assert.Equal(t, day("2023-04-01"), vals[1])
	assert.Equal(t, 2, vals[3])
	assert.Equal(t, 2023, vals[4])
	assert.JSONEq(t, `{"us-gaap:Revenues":12.3}`, string(vals[5].([]byte)))

	blob, err := encodeValues(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(blob))
}
