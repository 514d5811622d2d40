package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bobboyms/docviewdb/pkg/errors"
	"github.com/bobboyms/docviewdb/pkg/kv"
	"github.com/bobboyms/docviewdb/pkg/schema"
	"github.com/bobboyms/docviewdb/pkg/tasks"
	"github.com/bobboyms/docviewdb/pkg/txlog"
	"github.com/bobboyms/docviewdb/pkg/txn"
	"github.com/bobboyms/docviewdb/pkg/view"
)

// ViewFuncs is the behavior half of a declared view: schema.View only
// carries the persisted identity/version/policy (spec §3), since that
// is what gets bson-encoded into the admin registry. The map/reduce
// closures themselves are code, not data, so the application supplies
// them again each time it opens a database, keyed by the view name
// the schema already declares.
type ViewFuncs struct {
	Map    view.MapFunc
	Reduce view.ReduceFunc
}

// Database is one opened database: its declared collections bound
// into a transaction engine, its declared views bound into the same
// engine for invalidation, its key-value namespace, transaction log,
// and background task pool (spec §3, §4.3, §4.6, §4.7).
type Database struct {
	Name   string
	Schema *schema.Schema
	Engine *txn.Engine
	KV     *kv.Store

	dir  string
	log  *txlog.Writer
	pool *tasks.Pool

	mu          sync.Mutex
	collections map[schema.CollectionName]*txn.CollectionStore
	views       map[schema.ViewName]*view.Store
	viewStates  map[schema.ViewName]*view.State
	viewDirs    map[schema.ViewName]string
	viewDefs    map[schema.ViewName]view.Definition
}

const mapperBatchSize = 256

// openDatabase wires together every per-database component named in
// spec §3: one CollectionStore per declared collection, one
// view.Store + view.State + view.Mapper + txn.ViewBinding per
// declared view, a kv.Store, a txlog.Writer, and a worker pool driving
// background mapper/compaction jobs.
func openDatabase(dir, name string, sch *schema.Schema, baseLog zerolog.Logger) (*Database, error) {
	logger := baseLog.With().Str("database", name).Logger()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.Io, "storage.openDatabase", "create database directory", err)
	}

	logWriter, err := txlog.Open(txlog.Options{
		DirPath:              filepath.Join(dir, "txlog"),
		BufferSize:           64 * 1024,
		SyncPolicy:           txlog.SyncInterval,
		SyncIntervalDuration: txlog.DefaultOptions().SyncIntervalDuration,
		SyncBatchBytes:       txlog.DefaultOptions().SyncBatchBytes,
	})
	if err != nil {
		return nil, errors.Wrap(errors.Io, "storage.openDatabase", "open transaction log", err)
	}

	kvStore, err := kv.Open(filepath.Join(dir, "kv"))
	if err != nil {
		logWriter.Close()
		return nil, errors.Wrap(errors.Io, "storage.openDatabase", "open key-value store", err)
	}

	pool := tasks.New(4, 256)
	engine := txn.NewEngine(name, logWriter, pool)
	engine.BindKV(kvStore)

	db := &Database{
		Name:        name,
		Schema:      sch,
		Engine:      engine,
		KV:          kvStore,
		dir:         dir,
		log:         logWriter,
		pool:        pool,
		collections: make(map[schema.CollectionName]*txn.CollectionStore),
		views:       make(map[schema.ViewName]*view.Store),
		viewStates:  make(map[schema.ViewName]*view.State),
		viewDirs:    make(map[schema.ViewName]string),
		viewDefs:    make(map[schema.ViewName]view.Definition),
	}

	for _, c := range sch.Collections() {
		cs, err := txn.OpenCollection(dir, "c."+string(c.Name))
		if err != nil {
			db.Close()
			return nil, errors.Wrap(errors.Io, "storage.openDatabase", "open collection "+string(c.Name), err)
		}
		db.collections[c.Name] = cs
		engine.AddCollection(string(c.Name), cs)
		logger.Debug().Str("collection", string(c.Name)).Msg("collection opened")
	}

	return db, nil
}

// BindView attaches a view's map/reduce behavior to an already-opened
// database, registering it with the transaction engine so future
// writes to its source collection invalidate and re-map it. Views are
// bound after open (rather than inside openDatabase) because their
// behavior is supplied by the caller at the call site, not recovered
// from the admin registry.
func (db *Database) BindView(name schema.ViewName, funcs ViewFuncs) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	viewDecl, ok := db.Schema.View(db.collectionOfView(name), name)
	if !ok {
		return errors.Newf(errors.NotFound, "storage.Database.BindView", "view %q not declared in schema", name)
	}
	if _, ok := db.views[name]; ok {
		return errors.Newf(errors.Conflict, "storage.Database.BindView", "view %q already bound", name)
	}

	col, ok := db.collections[viewDecl.Collection]
	if !ok {
		return errors.Newf(errors.Internal, "storage.Database.BindView", "view %q declares unknown collection %q", name, viewDecl.Collection)
	}

	viewDir := filepath.Join(db.dir, "v."+string(viewDecl.Collection)+"."+string(name))
	if err := os.MkdirAll(viewDir, 0o755); err != nil {
		return errors.Wrap(errors.Io, "storage.Database.BindView", "create view directory", err)
	}
	store, err := view.Open(viewDir)
	if err != nil {
		return errors.Wrap(errors.Io, "storage.Database.BindView", "open view store", err)
	}
	state, err := view.LoadState(viewDir)
	if err != nil {
		store.Close()
		return errors.Wrap(errors.Io, "storage.Database.BindView", "load view state", err)
	}

	if state.Version != viewDecl.Version {
		liveIDs, err := liveDocumentIDs(col)
		if err != nil {
			store.Close()
			return err
		}
		job := &view.ScanJob{
			Database:        db.Name,
			View:            string(name),
			Store:           store,
			State:           state,
			DeclaredVersion: viewDecl.Version,
			LiveDocumentIDs: liveIDs,
			Dir:             viewDir,
		}
		if _, err := db.pool.Enqueue(job).Wait(context.Background()); err != nil {
			store.Close()
			return errors.Wrap(errors.Io, "storage.Database.BindView", "run integrity scan", err)
		}
	}

	def := view.Definition{
		Name:       string(name),
		Collection: string(viewDecl.Collection),
		Version:    viewDecl.Version,
		Map:        funcs.Map,
		Reduce:     funcs.Reduce,
	}
	mapper := &view.Mapper{
		Def:       def,
		Store:     store,
		State:     state,
		BatchSize: mapperBatchSize,
		Fetch: func(documentID uint64) ([]byte, bool, error) {
			doc, found, err := col.Get(documentID)
			if err != nil || !found {
				return nil, found, err
			}
			return doc.Contents, true, nil
		},
	}

	db.views[name] = store
	db.viewStates[name] = state
	db.viewDirs[name] = viewDir
	db.viewDefs[name] = def
	db.Engine.BindView(string(viewDecl.Collection), &txn.ViewBinding{
		Database: db.Name,
		Def:      def,
		State:    state,
		Mapper:   mapper,
		Dir:      viewDir,
	})
	return nil
}

func (db *Database) collectionOfView(name schema.ViewName) schema.CollectionName {
	for _, c := range db.Schema.Collections() {
		for _, v := range c.Views {
			if v.Name == name {
				return c.Name
			}
		}
	}
	return ""
}

// ViewCollection returns the collection a declared view indexes, for
// callers (the connection facade) that need to route a view-scoped
// operation back to its source collection.
func (db *Database) ViewCollection(name schema.ViewName) schema.CollectionName {
	return db.collectionOfView(name)
}

// ViewDefinition returns a bound view's map/reduce definition, so the
// connection facade's query builder can run Reduce/ReduceGrouped
// without reaching into Database internals.
func (db *Database) ViewDefinition(name schema.ViewName) (view.Definition, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	def, ok := db.viewDefs[name]
	if !ok {
		return view.Definition{}, errors.Newf(errors.NotFound, "storage.Database.ViewDefinition", "view %q not bound", name)
	}
	return def, nil
}

// ViewStateFor exposes a bound view's control block wrapped for the
// connection facade's UpdateBefore access policy (spec §4.4): it
// cannot reach into view.State's internals directly, since State
// lives in a different package and this is the only operation it
// needs.
func (db *Database) ViewStateFor(name schema.ViewName) (*ViewState, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	state, ok := db.viewStates[name]
	if !ok {
		return nil, errors.Newf(errors.NotFound, "storage.Database.ViewStateFor", "view %q not bound", name)
	}
	return &ViewState{state: state}, nil
}

func liveDocumentIDs(col *txn.CollectionStore) ([]uint64, error) {
	docs, err := col.List(nil, false, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, len(docs))
	for i, d := range docs {
		ids[i] = d.Header.ID
	}
	return ids, nil
}

// Collection exposes an opened collection's store directly (used by
// the connection facade's CollectionHandle).
func (db *Database) Collection(name schema.CollectionName) (*txn.CollectionStore, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	cs, ok := db.collections[name]
	if !ok {
		return nil, errors.Newf(errors.NotFound, "storage.Database.Collection", "collection %q not declared", name)
	}
	return cs, nil
}

// View exposes a bound view's store directly (used by the connection
// facade's ViewQueryBuilder).
func (db *Database) View(name schema.ViewName) (*view.Store, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	s, ok := db.views[name]
	if !ok {
		return nil, errors.Newf(errors.NotFound, "storage.Database.View", "view %q not bound", name)
	}
	return s, nil
}

// Pool exposes the database's background task pool, so the caller can
// register its Prometheus collectors (pkg/tasks deliberately does not
// self-register, since a process may hold more than one Database).
func (db *Database) Pool() *tasks.Pool { return db.pool }

// ListExecutedTransactions replays the transaction log (spec §6):
// start is the first id to return (0 means from the beginning), limit
// is clamped to the engine's hard cap, defaulting to 1000.
func (db *Database) ListExecutedTransactions(start uint64, limit int) ([]txlog.Executed, error) {
	const defaultLimit = 1000
	const hardCap = 100000

	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > hardCap {
		limit = hardCap
	}

	// Committed transactions must be visible to a listing that runs
	// right after Apply returns, so force the buffered writer to disk
	// before replaying it rather than waiting on its background sync
	// interval.
	if err := db.log.Sync(); err != nil {
		return nil, errors.Wrap(errors.Io, "storage.Database.ListExecutedTransactions", "flush transaction log", err)
	}

	all, err := txlog.List(txlog.Options{DirPath: filepath.Join(db.dir, "txlog")}, start, limit)
	if err != nil {
		return nil, errors.Wrap(errors.Io, "storage.Database.ListExecutedTransactions", "replay transaction log", err)
	}
	return all, nil
}

// Close releases every resource opened for this database.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.pool.Close()

	var firstErr error
	for name, state := range db.viewStates {
		if err := state.Save(db.viewDirs[name]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, s := range db.views {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, cs := range db.collections {
		if err := cs.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if db.KV != nil {
		if err := db.KV.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if db.log != nil {
		if err := db.log.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
