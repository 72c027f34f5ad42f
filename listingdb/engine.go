package listingdb

import (
	"database/sql"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/utxobroker/dutchbroker/chain"
)

// Engine is the single-writer sqlite store backing the Listing Store. All
// writes go through Transaction, which holds a process-wide mutex for the
// duration of the callback -- sqlite serializes writers anyway, so this
// just makes the serialization explicit instead of letting it surface as
// SQLITE_BUSY errors.
type Engine struct {
	db  *sql.DB
	mtx sync.Mutex

	network *chain.Network
}

type Scanner interface {
	Scan(dest ...interface{}) error
}

type Querier interface {
	Query(q string, args ...interface{}) (*sql.Rows, error)
	QueryRow(q string, args ...interface{}) *sql.Row
	Exec(q string, args ...interface{}) (sql.Result, error)
}

type Transactor interface {
	Querier
}

// NewEngine opens (creating if absent) the sqlite database at dbPath. It
// does not run migrations -- callers run MigrateDB explicitly, typically
// once at startup before the Event Pipeline starts.
func NewEngine(dbPath string, network *chain.Network) (*Engine, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "error opening DB")
	}
	return &Engine{
		db:      db,
		network: network,
	}, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

func (e *Engine) Transaction(cb func(tx Transactor) error) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	tx, err := e.db.Begin()
	if err != nil {
		panic(err)
	}

	childTx := &transactor{tx: tx}
	if err := cb(childTx); err != nil {
		cbErr := err
		if err := tx.Rollback(); err != nil {
			panic("error rolling back transaction!")
		}
		return cbErr
	}

	if err := tx.Commit(); err != nil {
		panic(err)
	}

	return nil
}

type transactor struct {
	tx *sql.Tx
}

func (t transactor) Query(q string, args ...interface{}) (*sql.Rows, error) {
	return t.tx.Query(q, args...)
}

func (t transactor) QueryRow(q string, args ...interface{}) *sql.Row {
	return t.tx.QueryRow(q, args...)
}

func (t transactor) Exec(q string, args ...interface{}) (sql.Result, error) {
	return t.tx.Exec(q, args...)
}
