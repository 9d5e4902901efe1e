package financial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cashName(q int) string {
	return NameForQuarter("HTML_Cashflow_NetCashFromOperatingActivities", q)
}

func seedCumulative(t *testing.T, s *EntryStore, q1, q2, q3 any) {
	t.Helper()
	for q, v := range map[int]any{1: q1, 2: q2, 3: q3} {
		if v == nil {
			continue
		}
		require.NoError(t, s.AddOrUpdateEntry(newEntry("acme", 2023, q, SourceHTML, cashName(q), v)))
	}
}

func value(t *testing.T, s *EntryStore, q int, name string) Value {
	t.Helper()
	e, ok := s.Entry(2023, q)
	require.True(t, ok)
	f, ok := e.Values.Get(name)
	require.True(t, ok)
	return f.Value
}

func TestAdjustCumulativeCashflows(t *testing.T) {
	s := newStore(t, "acme")
	seedCumulative(t, s, "50", "120", "200")

	report, err := AdjustCumulativeCashflows(s, 2023)
	require.NoError(t, err)
	assert.Empty(t, report.Skipped)
	assert.Equal(t, []string{"HTML_Cashflow_NetCashFromOperatingActivities"}, report.Adjusted)

	assert.Equal(t, "50", value(t, s, 1, cashName(1)).String())
	assert.Equal(t, "70", value(t, s, 2, cashName(2)).String())
	assert.Equal(t, "80", value(t, s, 3, cashName(3)).String())
	assert.True(t, s.IsAdjusted(2023))
}

func TestAdjustCumulativeCashflows_Identity(t *testing.T) {
	q1, q2c, q3c := num("12.34"), num("56.78"), num("99.01")
	s := newStore(t, "acme")
	seedCumulative(t, s, q1.String(), q2c.String(), q3c.String())

	_, err := AdjustCumulativeCashflows(s, 2023)
	require.NoError(t, err)

	q2 := value(t, s, 2, cashName(2)).Num
	q3 := value(t, s, 3, cashName(3)).Num
	assert.True(t, q2.Add(q1.Num).Equal(q2c.Num))
	assert.True(t, q3.Add(q2c.Num).Equal(q3c.Num))
}

func TestAdjustCumulativeCashflows_SecondRunIsNoop(t *testing.T) {
	s := newStore(t, "acme")
	seedCumulative(t, s, "50", "120", "200")

	_, err := AdjustCumulativeCashflows(s, 2023)
	require.NoError(t, err)
	report, err := AdjustCumulativeCashflows(s, 2023)
	require.NoError(t, err)

	assert.True(t, report.AlreadyAdjusted)
	assert.Empty(t, report.Adjusted)
	assert.Equal(t, "70", value(t, s, 2, cashName(2)).String())
	assert.Equal(t, "80", value(t, s, 3, cashName(3)).String())
}

func TestAdjustCumulativeCashflows_NegativeDeltaSkipped(t *testing.T) {
	s := newStore(t, "acme")
	seedCumulative(t, s, "50", "40", "200")

	report, err := AdjustCumulativeCashflows(s, 2023)
	require.NoError(t, err)
	require.Len(t, report.Skipped, 1)
	var ve *ValidationError
	assert.ErrorAs(t, report.Skipped[0], &ve)
	assert.Empty(t, report.Adjusted)

	assert.Equal(t, "40", value(t, s, 2, cashName(2)).String())
	assert.Equal(t, "200", value(t, s, 3, cashName(3)).String())
}

func TestAdjustCumulativeCashflows_MissingOrTextSkipped(t *testing.T) {
	t.Run("missing Q3", func(t *testing.T) {
		s := newStore(t, "acme")
		seedCumulative(t, s, "50", "120", nil)

		report, err := AdjustCumulativeCashflows(s, 2023)
		require.NoError(t, err)
		require.Len(t, report.Skipped, 1)
		var ve *ValidationError
		assert.ErrorAs(t, report.Skipped[0], &ve)
		assert.Equal(t, "120", value(t, s, 2, cashName(2)).String())
	})

	t.Run("text Q2", func(t *testing.T) {
		s := newStore(t, "acme")
		seedCumulative(t, s, "50", Text("restated"), "200")

		report, err := AdjustCumulativeCashflows(s, 2023)
		require.NoError(t, err)
		require.Len(t, report.Skipped, 1)
		var pe *ParseValueError
		assert.ErrorAs(t, report.Skipped[0], &pe)
		assert.Equal(t, "200", value(t, s, 3, cashName(3)).String())
	})
}

func TestAdjustCumulativeCashflows_LeavesOtherElements(t *testing.T) {
	s := newStore(t, "acme")
	for q, v := range map[int][2]string{1: {"10", "50"}, 2: {"20", "120"}, 3: {"30", "200"}} {
		require.NoError(t, s.AddOrUpdateEntry(newEntry("acme", 2023, q, SourceXBRL,
			"us-gaap:NetCashProvidedByUsedInOperatingActivities", v[1],
			NameForQuarter("HTML_IncomeStatement_Revenue", q), v[0],
		)))
	}

	report, err := AdjustCumulativeCashflows(s, 2023)
	require.NoError(t, err)
	assert.Empty(t, report.Adjusted)
	assert.Equal(t, "120", value(t, s, 2, "us-gaap:NetCashProvidedByUsedInOperatingActivities").String())
	assert.Equal(t, "20", value(t, s, 2, "HTML_IncomeStatement_Q2_Revenue").String())
}

func TestAdjustCumulativeCashflows_NoQ1(t *testing.T) {
	s := newStore(t, "acme")
	seedCumulative(t, s, nil, "120", "200")

	report, err := AdjustCumulativeCashflows(s, 2023)
	require.NoError(t, err)
	assert.Empty(t, report.Adjusted)
	assert.False(t, s.IsAdjusted(2023))
}

// seedDiscrete loads already adjusted quarters the way the registry does.
func seedDiscrete(t *testing.T, s *EntryStore, q1, q2, q3 string) {
	t.Helper()
	seedCumulative(t, s, q1, q2, q3)
	require.NoError(t, s.MarkAdjusted(2023))
	require.False(t, s.IsCumulative(2023, 2, cashName(2)))
	require.False(t, s.IsCumulative(2023, 3, cashName(3)))
}

func TestAdjustCumulativeCashflows_Rerun(t *testing.T) {
	tests := []struct {
		name         string
		reingest     map[int]string
		wantQ2       string
		wantQ3       string
		wantAdjusted bool
	}{
		{"both quarters", map[int]string{2: "120", 3: "200"}, "70", "80", true},
		{"Q3 only", map[int]string{3: "200"}, "70", "80", true},
		{"Q2 only", map[int]string{2: "120"}, "70", "80", true},
		{"Q1 only", map[int]string{1: "50"}, "70", "80", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t, "acme")
			seedDiscrete(t, s, "50", "70", "80")

			for q, v := range tt.reingest {
				require.NoError(t, s.AddOrUpdateEntry(newEntry("acme", 2023, q, SourceHTML, cashName(q), v)))
			}

			report, err := AdjustCumulativeCashflows(s, 2023)
			require.NoError(t, err)
			assert.Empty(t, report.Skipped)
			assert.Equal(t, !tt.wantAdjusted, report.AlreadyAdjusted)
			if tt.wantAdjusted {
				assert.Len(t, report.Adjusted, 1)
			}
			assert.Equal(t, "50", value(t, s, 1, cashName(1)).String())
			assert.Equal(t, tt.wantQ2, value(t, s, 2, cashName(2)).String())
			assert.Equal(t, tt.wantQ3, value(t, s, 3, cashName(3)).String())
			assert.False(t, s.IsCumulative(2023, 2, cashName(2)))
			assert.False(t, s.IsCumulative(2023, 3, cashName(3)))
		})
	}
}

func TestAdjustCumulativeCashflows_NewFiguresReopenYear(t *testing.T) {
	s := newStore(t, "acme")
	seedCumulative(t, s, "50", "120", "200")
	_, err := AdjustCumulativeCashflows(s, 2023)
	require.NoError(t, err)
	require.True(t, s.IsAdjusted(2023))

	require.NoError(t, s.AddOrUpdateEntry(newEntry("acme", 2023, 3, SourceHTML, cashName(3), "230")))
	assert.False(t, s.IsAdjusted(2023))
	assert.True(t, s.IsCumulative(2023, 3, cashName(3)))

	report, err := AdjustCumulativeCashflows(s, 2023)
	require.NoError(t, err)
	assert.False(t, report.AlreadyAdjusted)
	assert.Equal(t, "70", value(t, s, 2, cashName(2)).String())
	assert.Equal(t, "110", value(t, s, 3, cashName(3)).String())
}

func TestAdjustCumulativeCashflows_StoredQ2WithoutQ3StaysCumulative(t *testing.T) {
	s := newStore(t, "acme")
	seedCumulative(t, s, "50", "120", nil)
	require.NoError(t, s.MarkAdjusted(2023))
	assert.True(t, s.IsCumulative(2023, 2, cashName(2)))

	require.NoError(t, s.AddOrUpdateEntry(newEntry("acme", 2023, 3, SourceHTML, cashName(3), "200")))
	_, err := AdjustCumulativeCashflows(s, 2023)
	require.NoError(t, err)
	assert.Equal(t, "70", value(t, s, 2, cashName(2)).String())
	assert.Equal(t, "80", value(t, s, 3, cashName(3)).String())
}
