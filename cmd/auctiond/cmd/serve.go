package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/utxobroker/dutchbroker/app"
	"github.com/utxobroker/dutchbroker/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the auctiond daemon: the HTTP surface and the event pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}

		a, err := app.New(cfg)
		if err != nil {
			return err
		}
		if err := a.Start(); err != nil {
			return err
		}

		sigC := make(chan os.Signal, 1)
		signal.Notify(sigC, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigC
		cmdLogger.Info("caught signal, shutting down", "signal", sig.String())

		return a.Stop()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
