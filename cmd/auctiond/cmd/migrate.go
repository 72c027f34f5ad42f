package cmd

import (
	"github.com/spf13/cobra"

	"github.com/utxobroker/dutchbroker/config"
	"github.com/utxobroker/dutchbroker/listingdb"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Runs any pending database migrations and exits",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}

		engine, err := listingdb.NewEngine(cfg.DatabasePath, cfg.Network)
		if err != nil {
			return err
		}
		defer engine.Close()

		if err := listingdb.MigrateDB(engine); err != nil {
			return err
		}

		cmdLogger.Info("migrations applied", "path", cfg.DatabasePath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
