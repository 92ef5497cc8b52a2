package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/platewise/mealsync/internal/models"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the pending queue now",
	Long: `Sync pushes queued work to the backend immediately instead of
waiting for the background interval. Exhausted items are skipped; use
"queue retry" to re-arm them.`,
	Example: `  mealsync sync
  mealsync sync --domain meal
  mealsync sync --domain auth,photo
  mealsync sync --limit 10`,
	RunE: runSync,
}

var (
	syncDomains string
	syncLimit   int
)

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringVarP(&syncDomains, "domain", "d", "",
		"Only drain these domains, comma separated (auth, meal, menu, photo)")
	syncCmd.Flags().IntVarP(&syncLimit, "limit", "n", 0,
		"Stop after this many items")
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	var (
		res *models.DrainResult
		err error
	)
	switch {
	case syncDomains != "":
		var domains []models.Domain
		domains, err = parseDomainList(syncDomains)
		if err != nil {
			return err
		}
		res = &models.DrainResult{}
		for _, domain := range domains {
			var part *models.DrainResult
			part, err = apiClient.Sync.SyncDomain(ctx, domain)
			if err != nil {
				break
			}
			res.Merge(part)
		}
	case syncLimit > 0:
		res, err = apiClient.Sync.SyncBatch(ctx, syncLimit)
	default:
		res, err = apiClient.Sync.SyncAll(ctx)
	}

	switch {
	case errors.Is(err, models.ErrOffline):
		if jsonOutput {
			printJSON(map[string]interface{}{"success": false, "error": "offline"})
		} else {
			printWarning("Offline: queued items are kept and sync when connectivity returns")
		}
		return err
	case errors.Is(err, models.ErrSyncInProgress):
		printWarning("Another sync is already running")
		return err
	case err != nil:
		return err
	}

	if jsonOutput {
		printJSON(res)
		return nil
	}

	switch {
	case res.Failed > 0:
		printWarning("Synced %d item(s), %d failed", res.Processed, res.Failed)
		for _, itemErr := range res.Errors {
			printError("  %s [%s]: %s", itemErr.ID, itemErr.Domain, itemErr.Err)
		}
	case res.Processed == 0:
		printInfo("Nothing to sync")
	default:
		printSuccess("Synced %d item(s) in %s", res.Processed, res.Duration.Round(time.Millisecond))
	}

	return nil
}

func parseDomain(s string) (models.Domain, error) {
	switch domain := models.Domain(strings.ToLower(strings.TrimSpace(s))); domain {
	case models.DomainAuth, models.DomainMeal, models.DomainMenu, models.DomainPhoto:
		return domain, nil
	}
	return "", fmt.Errorf("unknown domain %q (expected auth, meal, menu, or photo)", s)
}

func parseDomainList(s string) ([]models.Domain, error) {
	var domains []models.Domain
	seen := make(map[models.Domain]bool)
	for _, part := range strings.Split(s, ",") {
		domain, err := parseDomain(part)
		if err != nil {
			return nil, err
		}
		if seen[domain] {
			continue
		}
		seen[domain] = true
		domains = append(domains, domain)
	}
	return domains, nil
}
