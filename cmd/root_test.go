package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/filing-recon/internal/persist"
	"github.com/sells-group/filing-recon/internal/recon"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"reconcile", "migrate", "runs"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "filing-recon", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestReconcileCommand_Flags(t *testing.T) {
	flag := reconcileCmd.Flags().Lookup("manifest")
	require.NotNil(t, flag, "reconcile command should have --manifest flag")
	assert.Equal(t, "", flag.DefValue)

	flag = reconcileCmd.Flags().Lookup("companies")
	require.NotNil(t, flag, "reconcile command should have --companies flag")
}

func TestRunsListCommand_Flags(t *testing.T) {
	flag := runsListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)
}

func TestFormatRunsList(t *testing.T) {
	start := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	done := start.Add(90 * time.Second)
	runs := []persist.RunEntry{
		{
			ID:          7,
			RunID:       uuid.MustParse("abc12345-6789-0000-0000-000000000000"),
			CompanyID:   "acme",
			Status:      "complete",
			StartedAt:   start,
			CompletedAt: &done,
			Inserted:    4,
			Merged:      2,
		},
		{
			ID:        8,
			RunID:     uuid.MustParse("abc12345-6789-0000-0000-000000000000"),
			CompanyID: "globex",
			Status:    "failed",
			StartedAt: start,
			Error:     "persist globex: connection reset by peer while committing transaction",
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	out := buf.String()
	assert.Contains(t, out, "COMPANY")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "acme")
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "2025-06-15 10:30")
	assert.Contains(t, out, "globex")
	assert.Contains(t, out, "persist globex: connection reset by p...")
}

func TestFormatSummary(t *testing.T) {
	s := &recon.Summary{
		RunID: uuid.MustParse("11111111-2222-3333-4444-555555555555"),
		Companies: []recon.CompanyResult{
			{CompanyID: "acme", Filings: 6, Derived: 3, Inserted: 4, Elapsed: 1500 * time.Millisecond},
			{CompanyID: "bad", Err: errors.New("recon: list xbrl filings: boom")},
		},
		Failed: 1,
	}

	var buf bytes.Buffer
	formatSummary(&buf, s)

	out := buf.String()
	assert.Contains(t, out, "11111111-2222-3333-4444-555555555555")
	assert.Contains(t, out, "acme")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "recon: list xbrl filings: boom")
	assert.Contains(t, out, "failed:")
}

func TestFormatLastSuccess(t *testing.T) {
	assert.Equal(t, "acme: no successful run", formatLastSuccess("acme", nil))

	at := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, "acme: last reconciled 2025-06-15T10:30:00Z", formatLastSuccess("acme", &at))
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
