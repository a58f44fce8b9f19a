package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	jsonMode bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "coveredcalls",
		Short: "Covered call trading assistant",
		Long: `Ranks covered calls against held stock, sizes and tracks the resulting
positions, suggests rolls and serves a dashboard API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonMode, "json", false, "print JSON instead of tables")

	rootCmd.AddCommand(
		newServeCmd(),
		newScanCmd(),
		newGreeksCmd(),
		newKellyCmd(),
		newRollCmd(),
		newOptimizeCmd(),
		newRiskCmd(),
		newPortfolioCmd(),
		newBacktestCmd(),
		newHistoryCmd(),
		newDeribitCmd(),
		newTokenCmd(),
	)
	return rootCmd
}
