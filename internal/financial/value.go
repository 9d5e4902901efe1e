// Package financial consolidates XBRL and HTML financial-statement facts into
// period-indexed records: fiscal period resolution, the per-company entry
// store, fourth-quarter derivation and cumulative cash-flow correction.
package financial

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// ValueKind tags the payload carried by a Value.
type ValueKind int

const (
	// KindNumeric values carry an exact decimal.
	KindNumeric ValueKind = iota
	// KindText values carry free text (e.g. a fiscal period focus label).
	KindText
)

func (k ValueKind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Value is a numeric-or-text fact value.
type Value struct {
	Kind ValueKind
	Num  decimal.Decimal
	Text string
}

// Number returns a numeric Value.
func Number(d decimal.Decimal) Value {
	return Value{Kind: KindNumeric, Num: d}
}

// Text returns a text Value.
func Text(s string) Value {
	return Value{Kind: KindText, Text: s}
}

// IsNumeric reports whether v holds a number.
func (v Value) IsNumeric() bool { return v.Kind == KindNumeric }

// Equal compares kind and payload; numbers compare by value, not scale.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	if v.Kind == KindNumeric {
		return v.Num.Equal(o.Num)
	}
	return v.Text == o.Text
}

func (v Value) String() string {
	if v.Kind == KindNumeric {
		return v.Num.String()
	}
	return v.Text
}

// MarshalJSON encodes numbers as bare JSON numbers and text as JSON strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Kind == KindNumeric {
		return []byte(v.Num.String()), nil
	}
	return json.Marshal(v.Text)
}

// UnmarshalJSON accepts a JSON number or string.
func (v *Value) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if strings.HasPrefix(s, `"`) {
		var text string
		if err := json.Unmarshal(b, &text); err != nil {
			return eris.Wrap(err, "financial: decode text value")
		}
		*v = Text(text)
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return eris.Wrapf(err, "financial: decode numeric value %q", s)
	}
	*v = Number(d)
	return nil
}

// TypeText is the value type recorded for text values.
const TypeText = "text"

// Field is one named value plus its source type label (XBRL unit such as
// "USD" or "shares", or TypeText).
type Field struct {
	Name  string
	Value Value
	Type  string
}

// Values maps element names to fields. Keys are case folded, so lookups are
// case-insensitive while Field.Name keeps the most recently written spelling.
type Values map[string]Field

// FoldKey returns the case-insensitive map key for an element name.
func FoldKey(name string) string {
	// cases.Caser is stateful and must not be shared between goroutines.
	return cases.Fold().String(name)
}

// Set writes (or overwrites) the value and type for name.
func (vs Values) Set(name string, v Value, typ string) {
	vs[FoldKey(name)] = Field{Name: name, Value: v, Type: typ}
}

// Get looks up name case-insensitively.
func (vs Values) Get(name string) (Field, bool) {
	f, ok := vs[FoldKey(name)]
	return f, ok
}

// Delete removes name.
func (vs Values) Delete(name string) {
	delete(vs, FoldKey(name))
}

// Merge overwrites vs with every field of other (last write wins per key).
func (vs Values) Merge(other Values) {
	for k, f := range other {
		vs[k] = f
	}
}

// Clone returns an independent copy.
func (vs Values) Clone() Values {
	out := make(Values, len(vs))
	for k, f := range vs {
		out[k] = f
	}
	return out
}

// Names returns the stored element names in sorted order.
func (vs Values) Names() []string {
	names := make([]string, 0, len(vs))
	for _, f := range vs {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON encodes the schema-free storage blob: name → number or string.
func (vs Values) MarshalJSON() ([]byte, error) {
	out := make(map[string]Value, len(vs))
	for _, f := range vs {
		out[f.Name] = f.Value
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a storage blob. Numbers get an empty type label and
// strings get TypeText, since the blob does not carry units. Nulls are dropped.
func (vs *Values) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return eris.Wrap(err, "financial: decode values")
	}
	out := make(Values, len(raw))
	for name, msg := range raw {
		if strings.TrimSpace(string(msg)) == "null" {
			continue
		}
		var v Value
		if err := v.UnmarshalJSON(msg); err != nil {
			return eris.Wrapf(err, "financial: decode value for %s", name)
		}
		typ := ""
		if v.Kind == KindText {
			typ = TypeText
		}
		out.Set(name, v, typ)
	}
	*vs = out
	return nil
}
