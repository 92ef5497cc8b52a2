package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/platewise/mealsync/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity and queue state",
	Example: `  mealsync status
  mealsync status --json`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	st := apiClient.Sync.Status()

	if jsonOutput {
		printJSON(st)
		return nil
	}

	if st.IsOnline {
		printSuccess("Online")
	} else {
		printWarning("Offline")
	}
	if st.Paused {
		printWarning("Sync paused")
	}
	if st.Draining {
		printInfo("Drain in progress (domain: %s)", st.ActiveDomain)
	}

	fmt.Printf("Pending items: %d\n", st.Queue.Total)
	for _, domain := range []models.Domain{
		models.DomainAuth, models.DomainMeal, models.DomainMenu, models.DomainPhoto,
	} {
		if n := st.Queue.ByDomain[domain]; n > 0 {
			fmt.Printf("  %-6s %d\n", domain, n)
		}
	}
	if st.Queue.Exhausted > 0 {
		printWarning("Needs attention: %d item(s) out of retries", st.Queue.Exhausted)
	}
	if !st.Queue.OldestCreatedAt.IsZero() {
		fmt.Printf("Oldest queued: %s\n", st.Queue.OldestCreatedAt.Local().Format(time.RFC822))
	}
	if st.LastSyncAt.IsZero() {
		fmt.Println("Last sync: never")
	} else {
		fmt.Printf("Last sync: %s\n", st.LastSyncAt.Local().Format(time.RFC822))
	}

	return nil
}
