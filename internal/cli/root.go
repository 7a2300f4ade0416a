package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kpi-alerts/internal/app"
	"kpi-alerts/internal/config"
	"kpi-alerts/internal/logging"
)

var (
	cfgFile     string
	logLevel    string
	input       string
	granularity string
	rangeDays   int
	appHandle   *app.App
)

var rootCmd = &cobra.Command{
	Use:           "kpiwatch",
	Short:         "Detect anomalies in KPI time series",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if err := applyOverrides(cmd, cfg); err != nil {
			return err
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		appHandle.Out = cmd.OutOrStdout()
		return nil
	},
}

// applyOverrides folds global flags into the loaded configuration.
func applyOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("input") {
		cfg.Source.Path = input
	}
	if flags.Changed("granularity") {
		cfg.Analysis.Granularity = granularity
	}
	if flags.Changed("range-days") {
		cfg.Analysis.RangeDays = rangeDays
	}
	return cfg.Validate()
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")
	rootCmd.PersistentFlags().StringVarP(&input, "input", "i", "", "Observation source: CSV/XLSX path or http(s) URL")
	rootCmd.PersistentFlags().StringVarP(&granularity, "granularity", "g", "", "Aggregation granularity: day, week or month")
	rootCmd.PersistentFlags().IntVar(&rangeDays, "range-days", 0, "Keep only the trailing N days (0 keeps everything)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
