package persist

import (
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/sells-group/filing-recon/internal/financial"
)

const financialDataTable = "fin_data.financial_data"

// insertColumns are written by COPY for new rows.
var insertColumns = []string{
	"company_id", "start_date", "end_date", "quarter", "year",
	"financial_data_json", "is_html_parsed", "is_xbrl_parsed",
}

const selectColumns = `id, company_id, start_date, end_date, quarter, year,
	financial_data_json, is_html_parsed, is_xbrl_parsed`

// Row is one durable period record of fin_data.financial_data.
type Row struct {
	ID         int64
	CompanyID  string
	StartDate  time.Time
	EndDate    time.Time
	Quarter    int
	Year       int
	Values     financial.Values
	HTMLParsed bool
	XBRLParsed bool
}

// scanRow reads one row selected with selectColumns.
func scanRow(rows pgx.Rows) (Row, error) {
	var (
		r    Row
		blob []byte
	)
	if err := rows.Scan(&r.ID, &r.CompanyID, &r.StartDate, &r.EndDate, &r.Quarter, &r.Year,
		&blob, &r.HTMLParsed, &r.XBRLParsed); err != nil {
		return Row{}, eris.Wrap(err, "persist: scan financial row")
	}
	r.Values = make(financial.Values)
	if len(blob) > 0 {
		if err := json.Unmarshal(blob, &r.Values); err != nil {
			return Row{}, eris.Wrapf(err, "persist: decode blob of row %d", r.ID)
		}
	}
	return r, nil
}

// insertValues renders an entry as a COPY row in insertColumns order.
func insertValues(e *financial.Entry) ([]any, error) {
	blob, err := encodeValues(e.Values)
	if err != nil {
		return nil, err
	}
	return []any{
		e.CompanyID, e.StandardStart, e.StandardEnd, e.Quarter, e.FiscalYear,
		blob, e.HTMLParsed, e.XBRLParsed,
	}, nil
}

func encodeValues(vs financial.Values) ([]byte, error) {
	if vs == nil {
		return []byte("{}"), nil
	}
	blob, err := json.Marshal(vs)
	if err != nil {
		return nil, eris.Wrap(err, "persist: encode financial values")
	}
	return blob, nil
}

// Entry converts a durable row back into a consolidated entry. The storage
// dates become both the observed and the standard dates; the fiscal-year end
// is only known for annual and fourth-quarter rows.
func (r Row) Entry() *financial.Entry {
	e := &financial.Entry{
		CompanyID:     r.CompanyID,
		PeriodStart:   r.StartDate,
		PeriodEnd:     r.EndDate,
		StandardStart: r.StartDate,
		StandardEnd:   r.EndDate,
		FiscalYear:    r.Year,
		Quarter:       r.Quarter,
		XBRLParsed:    r.XBRLParsed,
		HTMLParsed:    r.HTMLParsed,
		Values:        r.Values.Clone(),
	}
	if r.Quarter == financial.QuarterAnnual || r.Quarter == 4 {
		e.FiscalYearEnd = r.EndDate
	}
	return e
}

// merge folds an entry into the row: the entry's values win on conflict and
// the parsed flags are OR'd.
func (r *Row) merge(e *financial.Entry) {
	if r.Values == nil {
		r.Values = make(financial.Values, len(e.Values))
	}
	r.Values.Merge(e.Values)
	r.HTMLParsed = r.HTMLParsed || e.HTMLParsed
	r.XBRLParsed = r.XBRLParsed || e.XBRLParsed
}
