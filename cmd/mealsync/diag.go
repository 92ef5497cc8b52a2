package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Export a diagnostics snapshot",
	Long: `Diag captures connectivity, queue statistics, and every queued item
(payload bodies included) for support escalations.`,
	Example: `  mealsync diag
  mealsync diag --out report.json`,
	RunE: runDiag,
}

var diagOut string

func init() {
	rootCmd.AddCommand(diagCmd)

	diagCmd.Flags().StringVarP(&diagOut, "out", "o", "",
		"Write the report to a file instead of stdout")
}

func runDiag(cmd *cobra.Command, _ []string) error {
	report := apiClient.Sync.Diagnostics()

	if diagOut == "" {
		printJSON(report)
		return nil
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	// Reports may contain queued credentials; keep them private.
	if err := os.WriteFile(diagOut, data, 0600); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	printSuccess("Diagnostics written to %s", diagOut)
	return nil
}
