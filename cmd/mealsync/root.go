package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/platewise/mealsync/internal/client"
	"github.com/platewise/mealsync/internal/config"
	"github.com/platewise/mealsync/internal/events"
)

var (
	cfgFile      string
	jsonOutput   bool
	forceOffline bool

	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "mealsync",
	Short: "Offline-first sync client for PlateWise meal data",
	Long: `Mealsync keeps meal scans, menu orders, favorites, and photo jobs in
a durable local queue and reconciles them with the PlateWise backend
whenever connectivity allows. Every command works offline; pending
work syncs on the next drain.`,
	Version:           client.Version,
	PersistentPreRunE: setup,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()

	if apiClient != nil {
		if cerr := apiClient.Close(); cerr != nil {
			logger.WithError(cerr).Warn("Shutdown incomplete")
		}
	}

	if err != nil {
		printError("Error: %v", err)
		return 1
	}
	return 0
}

func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}
	if forceOffline {
		cfg.Dev.ForceOffline = true
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	events.SetDefault(logger)

	if !cfg.Log.Color {
		color.NoColor = true
	}

	apiClient, err = client.New(cfg, logger)
	if err != nil {
		return err
	}

	return apiClient.Initialize(cmd.Context())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Config file (default searches ./mealsync.json and ~/.config/mealsync)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output machine-readable JSON")
	rootCmd.PersistentFlags().BoolVar(&forceOffline, "offline", false,
		"Treat the device as offline; everything queues locally")
}

// Output helpers. Commands print through these so color settings
// apply uniformly.

func printSuccess(format string, args ...interface{}) {
	color.New(color.FgGreen).Printf(format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	color.New(color.FgCyan).Printf(format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	color.New(color.FgYellow).Printf(format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(os.Stderr, format+"\n", args...)
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		printError("Encode JSON: %v", err)
		return
	}
	fmt.Println(string(data))
}
