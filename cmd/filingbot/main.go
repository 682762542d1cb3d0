// Command filingbot discovers regulatory filings, queues them for parsing and
// writes the parsed rows to the lake.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "filingbot",
	Short: "Filings ingestion pipeline",
	Long: `filingbot polls the filings registry for new ownership, holdings and
beneficial-ownership filings, enqueues the unseen ones and parses them into
partitioned Parquet tables.

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
