package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/filing-recon/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "filing-recon",
	Short: "Quarterly financial data reconciliation",
	Long:  "Merges XBRL and HTML statement facts from 10-K and 10-Q filings into fiscal quarters, derives fourth quarters, and persists the result to Postgres.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
