package recon

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/filing-recon/internal/persist"
	"github.com/sells-group/filing-recon/internal/xbrl"
)

// Document is an HTML filing document listed in the manifest.
type Document struct {
	// Location is a local path or an http(s) URL.
	Location string `yaml:"location"`
	// Form is the filing form, e.g. "10-Q" or "10-K".
	Form string `yaml:"form"`
	// PeriodEnd, YYYY-MM-DD, selects the statement column to read. When
	// empty the latest column of each table is used.
	PeriodEnd string `yaml:"period_end,omitempty"`
}

// Annual reports whether the document is an annual report.
func (d Document) Annual() bool { return xbrl.IsAnnualForm(strings.ToUpper(d.Form)) }

// End parses PeriodEnd; an empty value returns the zero time.
func (d Document) End() (time.Time, error) {
	if d.PeriodEnd == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, d.PeriodEnd)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "recon: period_end of %s", d.Location)
	}
	return t, nil
}

// Company is one company to reconcile.
type Company struct {
	ID            string     `yaml:"id"`
	CIK           string     `yaml:"cik"`
	Name          string     `yaml:"name"`
	FiscalYearEnd string     `yaml:"fiscal_year_end,omitempty"`
	Documents     []Document `yaml:"documents,omitempty"`
}

// Record returns the company's fin_data.companies row.
func (c Company) Record() persist.Company {
	return persist.Company{ID: c.ID, CIK: c.CIK, Name: c.Name, FiscalYearEnd: c.FiscalYearEnd}
}

type manifest struct {
	Companies []Company `yaml:"companies"`
}

// ParseManifest decodes a company manifest. Unknown keys, companies without
// an id and duplicate ids are errors.
func ParseManifest(r io.Reader) ([]Company, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var m manifest
	if err := dec.Decode(&m); err != nil && err != io.EOF {
		return nil, eris.Wrap(err, "recon: decode manifest")
	}

	seen := make(map[string]bool, len(m.Companies))
	for i, c := range m.Companies {
		if strings.TrimSpace(c.ID) == "" {
			return nil, eris.Errorf("recon: manifest company %d has no id", i)
		}
		if seen[c.ID] {
			return nil, eris.Errorf("recon: duplicate company %s in manifest", c.ID)
		}
		seen[c.ID] = true
		for _, d := range c.Documents {
			if d.Location == "" {
				return nil, eris.Errorf("recon: company %s lists a document without location", c.ID)
			}
			if _, err := d.End(); err != nil {
				return nil, err
			}
		}
	}
	return m.Companies, nil
}

// LoadManifest reads and decodes the manifest at path.
func LoadManifest(path string) ([]Company, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "recon: open manifest %s", path)
	}
	defer f.Close() //nolint:errcheck

	return ParseManifest(f)
}

// Select returns the companies whose id is in ids, in manifest order. An
// empty ids returns every company; an unknown id is an error.
func Select(companies []Company, ids []string) ([]Company, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			want[id] = true
		}
	}
	if len(want) == 0 {
		return companies, nil
	}
	var out []Company
	for _, c := range companies {
		if want[c.ID] {
			out = append(out, c)
			delete(want, c.ID)
		}
	}
	for id := range want {
		return nil, eris.Errorf("recon: company %s not in manifest", id)
	}
	return out, nil
}
