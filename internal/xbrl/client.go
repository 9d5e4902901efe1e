package xbrl

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/sells-group/filing-recon/internal/fetcher"
)

// CompanyFactsBaseURL serves EDGAR company facts.
const CompanyFactsBaseURL = "https://data.sec.gov/api/xbrl/companyfacts"

// CompanyFactsURL returns the company facts URL for cik, zero padded to ten
// digits.
func CompanyFactsURL(baseURL, cik string) string {
	if baseURL == "" {
		baseURL = CompanyFactsBaseURL
	}
	return fmt.Sprintf("%s/CIK%s.json", strings.TrimRight(baseURL, "/"), PadCIK(cik))
}

// PadCIK zero pads cik to the ten digits EDGAR uses in paths.
func PadCIK(cik string) string {
	cik = strings.TrimSpace(cik)
	if len(cik) >= 10 {
		return cik
	}
	return strings.Repeat("0", 10-len(cik)) + cik
}

// FetchCompanyFacts downloads and parses the company facts of cik.
func FetchCompanyFacts(ctx context.Context, f fetcher.Fetcher, baseURL, cik string) (*CompanyFacts, error) {
	if strings.TrimSpace(cik) == "" {
		return nil, eris.New("xbrl: empty cik")
	}
	cf, err := fetcher.FetchJSON[CompanyFacts](ctx, f, CompanyFactsURL(baseURL, cik))
	if err != nil {
		return nil, eris.Wrapf(err, "xbrl: company facts for cik %s", cik)
	}
	return cf, nil
}
