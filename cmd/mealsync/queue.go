package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/platewise/mealsync/internal/models"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage pending sync items",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued items",
	Example: `  mealsync queue list
  mealsync queue list --domain photo
  mealsync queue list --exhausted`,
	RunE: runQueueList,
}

var (
	queueListDomain    string
	queueListExhausted bool
)

var queueRetryCmd = &cobra.Command{
	Use:   "retry <item-id>",
	Short: "Re-arm an exhausted item for the next drain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient.Sync.RetryExhausted(cmd.Context(), args[0]); err != nil {
			return err
		}
		printSuccess("Item %s re-armed", args[0])
		return nil
	},
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove <item-id>",
	Short: "Drop an exhausted item without syncing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient.Sync.RemoveExhausted(cmd.Context(), args[0]); err != nil {
			return err
		}
		printSuccess("Item %s removed", args[0])
		return nil
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop exhausted items, or the entire queue with --all",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if queueClearAll {
			if err := apiClient.Sync.ClearAll(cmd.Context()); err != nil {
				return err
			}
			printSuccess("Queue cleared")
			return nil
		}

		if err := apiClient.Sync.ClearExhausted(cmd.Context()); err != nil {
			return err
		}
		printSuccess("Exhausted items cleared")
		return nil
	},
}

var queueClearAll bool

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueRemoveCmd)
	queueCmd.AddCommand(queueClearCmd)

	queueListCmd.Flags().StringVarP(&queueListDomain, "domain", "d", "",
		"Only show one domain (auth, meal, menu, photo)")
	queueListCmd.Flags().BoolVar(&queueListExhausted, "exhausted", false,
		"Only show items that are out of retries")

	queueClearCmd.Flags().BoolVar(&queueClearAll, "all", false,
		"Drop pending items too, not just exhausted ones")
}

func runQueueList(cmd *cobra.Command, _ []string) error {
	items := apiClient.Sync.Diagnostics().Items

	if queueListDomain != "" {
		domain, err := parseDomain(queueListDomain)
		if err != nil {
			return err
		}
		var keep []*models.SyncPayload
		for _, item := range items {
			if item.Domain == domain {
				keep = append(keep, item)
			}
		}
		items = keep
	}

	if queueListExhausted {
		var keep []*models.SyncPayload
		for _, item := range items {
			if item.Exhausted {
				keep = append(keep, item)
			}
		}
		items = keep
	}

	if jsonOutput {
		printJSON(items)
		return nil
	}

	if len(items) == 0 {
		printInfo("Queue is empty")
		return nil
	}

	now := time.Now()
	fmt.Printf("%-32s %-6s %-4s %-8s %s\n", "ID", "DOMAIN", "PRI", "RETRIES", "STATE")
	for _, item := range items {
		state := "pending"
		switch {
		case item.Exhausted:
			state = "exhausted"
		case now.Before(item.NextAttemptAt):
			state = fmt.Sprintf("backoff until %s", item.NextAttemptAt.Local().Format("15:04:05"))
		}
		fmt.Printf("%-32s %-6s %-4d %d/%-6d %s\n",
			item.ID, item.Domain, item.Priority, item.RetryCount, item.MaxRetries, state)
	}

	return nil
}
