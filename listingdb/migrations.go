package listingdb

import (
	"time"

	"github.com/pkg/errors"

	"github.com/utxobroker/dutchbroker/log"
)

var logger = log.ModuleLogger("listingdb")

const CreateMigrationsQuery = `
CREATE TABLE IF NOT EXISTS migrations (
	id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
	name VARCHAR NOT NULL,
	applied_at INTEGER NOT NULL
);
`

type Migration struct {
	Query string
	Name  string
}

// Migrations only ever grows -- new schema changes append a new element,
// they never edit an already-shipped one.
var Migrations = []*Migration{
	{
		Query: `
CREATE TABLE listings (
	id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
	asset_name VARCHAR NOT NULL,
	asset_qty VARCHAR NOT NULL,
	utxo_txid VARCHAR(64) NOT NULL,
	utxo_vout INTEGER NOT NULL,
	start_block INTEGER NOT NULL,
	end_block INTEGER NOT NULL,
	blocks_after_end INTEGER NOT NULL,
	start_price_sats INTEGER NOT NULL,
	end_price_sats INTEGER NOT NULL,
	price_decrement INTEGER NOT NULL,
	status VARCHAR NOT NULL,
	spent_txid VARCHAR(64),
	spent_block INTEGER,
	spent_at INTEGER,
	recipient VARCHAR,
	seller VARCHAR NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX idx_listings_utxo ON listings(utxo_txid, utxo_vout);
CREATE INDEX idx_listings_status ON listings(status);

-- invariant 5: at most one non-terminal listing may reference a given
-- UTXO at a time. sqlite partial indexes let the schema itself enforce
-- this instead of relying solely on the InsertListingAtomic transaction.
CREATE UNIQUE INDEX idx_uniq_listings_active_utxo
ON listings(utxo_txid, utxo_vout)
WHERE status IN ('upcoming', 'active', 'finished');

CREATE TABLE psbt_steps (
	id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
	listing_id INTEGER NOT NULL REFERENCES listings(id),
	block_number INTEGER NOT NULL,
	price_sats INTEGER NOT NULL,
	psbt_data BLOB NOT NULL
);

CREATE INDEX idx_psbt_steps_listing_id ON psbt_steps(listing_id);
CREATE UNIQUE INDEX idx_uniq_psbt_steps_listing_block ON psbt_steps(listing_id, block_number);
`,
		Name: "create_listings",
	},
}

func MigrateDB(engine *Engine) error {
	return engine.Transaction(func(tx Transactor) error {
		logger.Debug("creating migrations table")
		_, err := tx.Exec(CreateMigrationsQuery)
		if err != nil {
			return errors.WithStack(err)
		}

		migRow := tx.QueryRow("SELECT COALESCE(MAX(id), 0) FROM migrations")
		if migRow.Err() != nil {
			return errors.WithStack(migRow.Err())
		}
		var latestMigID int
		if err := migRow.Scan(&latestMigID); err != nil {
			return errors.WithStack(err)
		}

		if latestMigID == len(Migrations) {
			logger.Info("migrations up to date")
			return nil
		}

		logger.Info("running migrations")
		for i := latestMigID; i < len(Migrations); i++ {
			mig := Migrations[i]
			logger.Debug("executing migration", "name", mig.Name, "version", i)
			if err := ExecMigration(tx, mig); err != nil {
				return err
			}
		}
		logger.Info("successfully migrated database")
		return nil
	})
}

func ExecMigration(tx Transactor, migration *Migration) error {
	if _, err := tx.Exec(migration.Query); err != nil {
		return errors.Wrapf(err, "error executing migration %s", migration.Name)
	}
	_, err := tx.Exec(
		"INSERT INTO migrations (name, applied_at) VALUES (?, ?)",
		migration.Name,
		time.Now().Unix(),
	)
	if err != nil {
		return errors.WithStack(err)
	}
	return nil
}
