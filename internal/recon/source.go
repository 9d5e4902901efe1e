package recon

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/filing-recon/internal/fetcher"
	"github.com/sells-group/filing-recon/internal/financial"
	"github.com/sells-group/filing-recon/internal/htmltable"
	"github.com/sells-group/filing-recon/internal/xbrl"
)

// Filing is one unit of work for the worker pool: a filing whose facts are
// produced by Load, which may block on network I/O.
type Filing struct {
	Name   string
	Annual bool
	Load   func(ctx context.Context) ([]financial.ResolvedFact, error)
}

// Source lists a company's filings.
type Source interface {
	Name() string
	Filings(ctx context.Context, c Company) ([]Filing, error)
}

// XBRLSource reads filings from EDGAR company facts.
type XBRLSource struct {
	fetcher fetcher.Fetcher
	baseURL string
}

// NewXBRLSource creates an XBRLSource. An empty baseURL uses EDGAR.
func NewXBRLSource(f fetcher.Fetcher, baseURL string) *XBRLSource {
	return &XBRLSource{fetcher: f, baseURL: baseURL}
}

// Name implements Source.
func (s *XBRLSource) Name() string { return "xbrl" }

// Filings downloads the company facts of c once and splits them into one
// filing per accession number. Companies without a CIK have no filings.
func (s *XBRLSource) Filings(ctx context.Context, c Company) ([]Filing, error) {
	if c.CIK == "" {
		return nil, nil
	}
	cf, err := xbrl.FetchCompanyFacts(ctx, s.fetcher, s.baseURL, c.CIK)
	if err != nil {
		return nil, eris.Wrapf(err, "recon: xbrl filings of %s", c.ID)
	}
	split := xbrl.SplitFilings(cf)
	filings := make([]Filing, 0, len(split))
	for _, f := range split {
		facts := f.Facts
		filings = append(filings, Filing{
			Name:   f.Name(),
			Annual: f.Annual,
			Load: func(context.Context) ([]financial.ResolvedFact, error) {
				return facts, nil
			},
		})
	}
	return filings, nil
}

// HTMLSource reads statement tables from the documents listed for a
// company.
type HTMLSource struct {
	fetcher fetcher.Fetcher
}

// NewHTMLSource creates an HTMLSource. f may be nil when every document is
// local.
func NewHTMLSource(f fetcher.Fetcher) *HTMLSource {
	return &HTMLSource{fetcher: f}
}

// Name implements Source.
func (s *HTMLSource) Name() string { return "html" }

// Filings returns one filing per document. Documents are opened and parsed
// by Load.
func (s *HTMLSource) Filings(_ context.Context, c Company) ([]Filing, error) {
	filings := make([]Filing, 0, len(c.Documents))
	for _, d := range c.Documents {
		end, err := d.End()
		if err != nil {
			return nil, err
		}
		filings = append(filings, Filing{
			Name:   d.Form + " " + d.Location,
			Annual: d.Annual(),
			Load: func(ctx context.Context) ([]financial.ResolvedFact, error) {
				return s.load(ctx, d, end)
			},
		})
	}
	return filings, nil
}

func (s *HTMLSource) load(ctx context.Context, d Document, end time.Time) ([]financial.ResolvedFact, error) {
	rc, err := fetcher.Open(ctx, s.fetcher, d.Location)
	if err != nil {
		return nil, eris.Wrapf(err, "recon: open %s", d.Location)
	}
	defer rc.Close() //nolint:errcheck

	facts, err := htmltable.Extract(rc, htmltable.Options{Annual: d.Annual(), PeriodEnd: end})
	if err != nil {
		return nil, eris.Wrapf(err, "recon: extract %s", d.Location)
	}
	return facts, nil
}
