package cmd

import (
	"context"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/utxobroker/dutchbroker/bitcoinrpc"
	"github.com/utxobroker/dutchbroker/config"
	"github.com/utxobroker/dutchbroker/listing"
	"github.com/utxobroker/dutchbroker/listingdb"
	"github.com/utxobroker/dutchbroker/query"
)

var listingsStatusFlag string

var listingsCmd = &cobra.Command{
	Use:   "listings",
	Short: "Inspect listings in the broker's database",
}

var listingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists listings, optionally filtered by a comma-separated status list",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := newQueryService()
		if err != nil {
			return err
		}
		defer closeFn()

		var statuses []listing.Status
		if listingsStatusFlag != "" {
			for _, s := range strings.Split(listingsStatusFlag, ",") {
				statuses = append(statuses, listing.Status(strings.TrimSpace(s)))
			}
		}

		listings, err := svc.List(context.Background(), statuses)
		if err != nil {
			return err
		}
		return printJSON(listings)
	},
}

var listingsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Shows one listing's metadata (without its PSBT step ladder)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}

		svc, closeFn, err := newQueryService()
		if err != nil {
			return err
		}
		defer closeFn()

		l, err := svc.Get(context.Background(), id)
		if err != nil {
			return err
		}
		return printJSON(l)
	},
}

func init() {
	listingsListCmd.Flags().StringVar(&listingsStatusFlag, "status", "", "comma-separated status filter, e.g. active,finished")
	listingsCmd.AddCommand(listingsListCmd)
	listingsCmd.AddCommand(listingsShowCmd)
	rootCmd.AddCommand(listingsCmd)
}

// newQueryService opens the database and a ZMQ-less chain oracle -- CLI
// inspection only ever needs Tip(), never the push subscriptions.
func newQueryService() (*query.Service, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}

	engine, err := listingdb.NewEngine(cfg.DatabasePath, cfg.Network)
	if err != nil {
		return nil, nil, err
	}

	rpcClient := bitcoinrpc.NewClient(&cfg.BitcoinRPC)
	chainOracle := bitcoinrpc.NewCompositeOracle(rpcClient, nil)

	svc := query.New(engine, chainOracle)
	return svc, func() { _ = engine.Close() }, nil
}
