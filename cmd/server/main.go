package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "trading-engine",
	Short: "Paper-trading ledger service",
	Long: `trading-engine runs a simulated brokerage: accounts start with virtual
cash and buy or sell equities at live quotes, with every balance, position
and order change applied atomically.

Commands:
  serve    - Run the HTTP API
  migrate  - Create the database schema
  config   - Generate or validate configuration files`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
