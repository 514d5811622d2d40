// Package connection implements the typed facade spec §4.9 describes:
// a thin layer over one opened database that routes every call
// straight into the transaction engine or the view engine. No
// business logic lives here — the same shape as the teacher's
// StorageEngine.Get/Scan autocommit wrappers, which open a
// transaction, delegate, and close it, rather than re-implementing
// anything themselves.
package connection

import (
	"github.com/bobboyms/docviewdb/pkg/schema"
	"github.com/bobboyms/docviewdb/pkg/storage"
	"github.com/bobboyms/docviewdb/pkg/txlog"
	"github.com/bobboyms/docviewdb/pkg/txn"
)

// Connection is a handle to one opened database, offering collection
// and view access without exposing storage.Database's wiring details.
//
// The original's CollectionHandle<C>/ViewQueryBuilder<V> are
// type-parameterized over a document model C; the teacher and the
// rest of the example pack show no real generics usage anywhere, so
// this translation keeps handles keyed by plain collection/view
// names instead of a type parameter. Callers own (de)serializing
// their document model to and from the []byte contents the engine
// stores.
type Connection struct {
	db *storage.Database
}

// Open wraps an already-opened database in a Connection.
func Open(db *storage.Database) *Connection {
	return &Connection{db: db}
}

// Collection returns a handle for reading and writing one declared
// collection.
func (c *Connection) Collection(name schema.CollectionName) *CollectionHandle {
	return &CollectionHandle{name: string(name), db: c.db}
}

// View returns a query builder for one bound view.
func (c *Connection) View(name schema.ViewName) *ViewQueryBuilder {
	return &ViewQueryBuilder{name: string(name), db: c.db}
}

// Transaction starts a new multi-operation transaction spanning any
// of this database's collections, for callers that need more than
// one handle's single-collection operations applied atomically
// together. It is applied via Apply, not through the handles above.
func (c *Connection) Transaction() *txn.Transaction {
	return txn.New()
}

// Apply commits tx against this connection's database.
func (c *Connection) Apply(tx *txn.Transaction) ([]txn.OperationResult, error) {
	return c.db.Engine.Apply(tx)
}

// ListExecutedTransactions exposes the database's transaction log
// (spec §6 list_executed_transactions).
func (c *Connection) ListExecutedTransactions(start uint64, limit int) ([]txlog.Executed, error) {
	return c.db.ListExecutedTransactions(start, limit)
}
