// Command leverage-core runs the leveraged trading coordinator.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "leverage-core",
		Short: "Leveraged trading execution core",
		Long: `leverage-core runs a trading session against a simulated or Binance USDT-M venue:
market data feeds a strategy, signals become orders, and every order passes risk
admission before execution.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(limitsCmd())
	rootCmd.AddCommand(strategiesCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
