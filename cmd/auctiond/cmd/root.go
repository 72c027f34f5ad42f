package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/utxobroker/dutchbroker/log"
)

var cmdLogger = log.ModuleLogger("cmd")

var rootCmd = &cobra.Command{
	Use:          "auctiond",
	Short:        "A Dutch-auction broker for Counterparty assets pinned to Bitcoin UTXOs",
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
