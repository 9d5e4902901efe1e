package financial

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func num(s string) Value {
	return Number(decimal.RequireFromString(s))
}

func TestValues_CaseInsensitive(t *testing.T) {
	vs := make(Values)
	vs.Set("us-gaap:NetIncomeLoss", num("10"), "USD")
	vs.Set("US-GAAP:NETINCOMELOSS", num("12"), "USD")

	require.Len(t, vs, 1)
	f, ok := vs.Get("us-gaap:netincomeloss")
	require.True(t, ok)
	assert.True(t, f.Value.Equal(num("12")))
	assert.Equal(t, "US-GAAP:NETINCOMELOSS", f.Name)

	vs.Delete("Us-Gaap:NetIncomeLoss")
	assert.Empty(t, vs)
}

func TestValues_MergeLastWriteWins(t *testing.T) {
	a := Values{}
	a.Set("Revenue", num("1"), "USD")
	a.Set("Assets", num("5"), "USD")
	b := Values{}
	b.Set("revenue", num("2"), "USD")
	b.Set("Period", Text("Q1"), TypeText)

	a.Merge(b)
	assert.Equal(t, []string{"Assets", "Period", "revenue"}, a.Names())
	f, _ := a.Get("Revenue")
	assert.True(t, f.Value.Equal(num("2")))
}

func TestValues_Clone(t *testing.T) {
	a := Values{}
	a.Set("Revenue", num("1"), "USD")
	c := a.Clone()
	c.Set("Revenue", num("9"), "USD")

	f, _ := a.Get("Revenue")
	assert.True(t, f.Value.Equal(num("1")))
}

func TestValues_JSON(t *testing.T) {
	vs := Values{}
	vs.Set("us-gaap:Revenues", num("123456789.125"), "USD")
	vs.Set("dei:DocumentFiscalPeriodFocus", Text("Q2"), TypeText)

	b, err := json.Marshal(vs)
	require.NoError(t, err)
	assert.JSONEq(t, `{"us-gaap:Revenues":123456789.125,"dei:DocumentFiscalPeriodFocus":"Q2"}`, string(b))

	var out Values
	require.NoError(t, json.Unmarshal(b, &out))
	rev, ok := out.Get("us-gaap:revenues")
	require.True(t, ok)
	assert.True(t, rev.Value.Equal(num("123456789.125")))
	assert.Equal(t, "", rev.Type)

	focus, ok := out.Get("dei:DocumentFiscalPeriodFocus")
	require.True(t, ok)
	assert.Equal(t, KindText, focus.Value.Kind)
	assert.Equal(t, TypeText, focus.Type)
}

func TestValues_UnmarshalSkipsNull(t *testing.T) {
	var out Values
	require.NoError(t, json.Unmarshal([]byte(`{"A":null,"B":-4.5}`), &out))
	assert.Len(t, out, 1)
	_, ok := out.Get("A")
	assert.False(t, ok)
}

func TestValues_UnmarshalRejectsGarbage(t *testing.T) {
	var out Values
	assert.Error(t, json.Unmarshal([]byte(`{"A":true}`), &out))
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &out))
}

func TestValue_Equal(t *testing.T) {
	assert.True(t, num("1.50").Equal(num("1.5")))
	assert.False(t, num("1").Equal(Text("1")))
	assert.True(t, Text("x").Equal(Text("x")))
}

func TestParseRawValue(t *testing.T) {
	tests := []struct {
		raw  string
		unit string
		want Value
	}{
		{"1,234", "USD", num("1234")},
		{"(1,234)", "USD", num("-1234")},
		{"$ 1,234.50", "USD", num("1234.5")},
		{"-42", "shares", num("-42")},
		{"−42", "shares", num("-42")},
		{"—", "USD", num("0")},
		{"  7 ", "", num("7")},
		{"Q2", TypeText, Text("Q2")},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseRawValue("el", tt.raw, tt.unit)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestParseRawValue_Errors(t *testing.T) {
	for _, raw := range []string{"", "   ", "n/a", "12abc"} {
		_, err := ParseRawValue("us-gaap:Revenues", raw, "USD")
		var pe *ParseValueError
		require.ErrorAs(t, err, &pe, "raw %q", raw)
		assert.Equal(t, "us-gaap:Revenues", pe.Element)
	}
}
