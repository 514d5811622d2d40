package txn

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bobboyms/docviewdb/pkg/errors"
	"github.com/bobboyms/docviewdb/pkg/kv"
	"github.com/bobboyms/docviewdb/pkg/tasks"
	"github.com/bobboyms/docviewdb/pkg/txlog"
	"github.com/bobboyms/docviewdb/pkg/view"
)

// ViewBinding is one view registered over a collection: the pieces
// Engine.Apply needs to invalidate and re-enqueue it after a commit
// touches that collection (spec §4.3 steps 6-7).
type ViewBinding struct {
	Database string
	Def      view.Definition
	State    *view.State
	Mapper   *view.Mapper

	// Dir is where State.Save persists its control block; mapperJob
	// saves here after every batch so a crash between batches loses at
	// most one batch's worth of already-completed remapping, not the
	// whole invalidated set accumulated since the view was last opened.
	Dir string
}

func (b *ViewBinding) jobKey() string {
	return fmt.Sprintf("%s/%s", b.Database, b.Def.Name)
}

// mapperJob adapts a repeated Mapper.RunBatch into a tasks.Job: one
// execution drains whatever is invalidated right now, and — if more
// remains — the job re-enqueues itself under the same key once this
// execution finishes (spec §4.6 step 3, §4.7).
type mapperJob struct {
	binding *ViewBinding
	pool    *tasks.Pool
	lsn     uint64
}

func (j mapperJob) Key() string { return j.binding.jobKey() }

func (j mapperJob) Execute() (interface{}, error) {
	more, err := j.binding.Mapper.RunBatch(j.lsn)
	if j.binding.Dir != "" {
		if saveErr := j.binding.State.Save(j.binding.Dir); saveErr != nil && err == nil {
			err = saveErr
		}
	}
	if err != nil {
		return nil, err
	}
	if more {
		j.pool.Enqueue(j)
	}
	return nil, nil
}

// Engine applies Transactions against a set of per-database
// collections, logging each commit and fanning out view invalidation
// and mapper work afterward (spec §4.3).
type Engine struct {
	database string
	log      *txlog.Writer
	pool     *tasks.Pool

	collMu      sync.Mutex
	collections map[string]*CollectionStore

	viewMu sync.Mutex
	views  map[string][]*ViewBinding // keyed by collection name

	kvMu sync.Mutex
	kv   *kv.Store
}

// NewEngine builds an engine over an already-open log and task pool.
// Collections and views are registered with AddCollection/BindView as
// the owning database opens them.
func NewEngine(database string, log *txlog.Writer, pool *tasks.Pool) *Engine {
	return &Engine{
		database:    database,
		log:         log,
		pool:        pool,
		collections: make(map[string]*CollectionStore),
		views:       make(map[string][]*ViewBinding),
	}
}

// AddCollection registers an opened collection under name.
func (e *Engine) AddCollection(name string, cs *CollectionStore) {
	e.collMu.Lock()
	defer e.collMu.Unlock()
	e.collections[name] = cs
}

// BindView registers a view as watching collection; Apply marks it
// invalidated and schedules its mapper whenever a transaction touches
// that collection.
func (e *Engine) BindView(collection string, binding *ViewBinding) {
	e.viewMu.Lock()
	defer e.viewMu.Unlock()
	e.views[collection] = append(e.views[collection], binding)
}

// BindKV attaches the database's kv namespace store, letting
// Transactions carry KVOperations. A Transaction with KVOperations
// fails Internal if no store has been bound.
func (e *Engine) BindKV(store *kv.Store) {
	e.kvMu.Lock()
	defer e.kvMu.Unlock()
	e.kv = store
}

// CollectionFor exposes a registered collection directly, for callers
// (the connection facade, tests) that need read access outside of a
// transaction.
func (e *Engine) CollectionFor(name string) (*CollectionStore, error) {
	return e.collection(name)
}

func (e *Engine) collection(name string) (*CollectionStore, error) {
	e.collMu.Lock()
	defer e.collMu.Unlock()
	cs, ok := e.collections[name]
	if !ok {
		return nil, errors.Newf(errors.NotFound, "txn.Engine.Apply", "unknown collection %q", name)
	}
	return cs, nil
}

// staged is one operation's validated-but-not-yet-written outcome.
type staged struct {
	op       Operation
	coll     *CollectionStore
	result   OperationResult
	contents []byte
	// update/delete only
	prevOffset int64
	// delete only
	deleteOffset int64
}

// Apply implements spec §4.3's seven-step algorithm: lock every named
// collection in a deterministic order, validate every operation
// up-front, stage the writes, log the commit, flush the stages, then
// invalidate and re-enqueue affected views. Any validation failure
// aborts before anything is written or logged, so the transaction is
// all-or-nothing.
func (e *Engine) Apply(tx *Transaction) ([]OperationResult, error) {
	names := collectionNames(tx)
	locks, err := e.lockAll(names)
	if err != nil {
		return nil, err
	}
	defer unlockAll(locks)

	if len(tx.KVOperations) > 0 {
		e.kvMu.Lock()
		defer e.kvMu.Unlock()
		if e.kv == nil {
			return nil, errors.Newf(errors.Internal, "txn.Engine.Apply", "transaction has kv operations but no kv store is bound")
		}
	}

	stages := make([]staged, len(tx.Operations))
	for i, op := range tx.Operations {
		cs, err := e.collection(op.Collection)
		if err != nil {
			return nil, err
		}
		st, err := e.validate(cs, op)
		if err != nil {
			return nil, errors.Wrap(errors.KindOf(err), "txn.Engine.Apply", fmt.Sprintf("operation %d", i), err)
		}
		stages[i] = st
	}

	changed := make([]txlog.ChangedDocument, 0, len(stages))
	for _, st := range stages {
		deleted := st.op.Command.Kind == CommandDelete
		changed = append(changed, txlog.ChangedDocument{
			Collection: st.op.Collection,
			DocumentID: st.result.Header.ID,
			Deleted:    deleted,
		})
	}
	changedKeys := changedKeysFor(tx.KVOperations)

	lsn, err := e.log.Append(changesRecord(changed, changedKeys))
	if err != nil {
		return nil, errors.Wrap(errors.Io, "txn.Engine.Apply", "append commit record", err)
	}

	results := make([]OperationResult, len(stages))
	for i, st := range stages {
		if err := e.commit(st, lsn); err != nil {
			return nil, errors.Wrap(errors.Internal, "txn.Engine.Apply", "flush staged write", err)
		}
		results[i] = st.result
	}
	if err := e.commitKV(tx.KVOperations); err != nil {
		return nil, errors.Wrap(errors.Internal, "txn.Engine.Apply", "flush kv mutations", err)
	}

	e.invalidateViews(changed, lsn)
	return results, nil
}

// changedKeysFor derives the transaction log's ChangedKey records
// directly from the transaction's staged KVOperations, the same way
// changed is built from the staged document operations above — no
// trip to the kv store is needed since the records only name what
// changed, not the values.
func changedKeysFor(ops []KVOperation) []txlog.ChangedKey {
	if len(ops) == 0 {
		return nil
	}
	changed := make([]txlog.ChangedKey, len(ops))
	for i, op := range ops {
		changed[i] = txlog.ChangedKey{Namespace: op.Namespace, Key: op.Key, Deleted: op.Delete}
	}
	return changed
}

// changesRecord picks the transaction log's change kind (spec.md:89-92):
// a pure document commit logs ChangesDocuments, a pure kv commit logs
// ChangesKeys, and a transaction mixing both logs ChangesMixed so the
// two lists still land in one atomic log entry.
func changesRecord(docs []txlog.ChangedDocument, keys []txlog.ChangedKey) txlog.Changes {
	switch {
	case len(keys) > 0 && len(docs) > 0:
		return txlog.Changes{Kind: txlog.ChangesMixed, Documents: docs, Keys: keys}
	case len(keys) > 0:
		return txlog.Changes{Kind: txlog.ChangesKeys, Keys: keys}
	default:
		return txlog.Changes{Kind: txlog.ChangesDocuments, Documents: docs}
	}
}

// commitKV groups a transaction's KVOperations by namespace and flushes
// each group through kv.Store.ApplyChangedKeys, mirroring how commit
// flushes each staged document write after the log record naming it is
// already durable.
func (e *Engine) commitKV(ops []KVOperation) error {
	if len(ops) == 0 {
		return nil
	}

	type group struct {
		sets    map[string][]byte
		deletes [][]byte
	}
	byNamespace := make(map[string]*group)
	order := make([]string, 0)
	for _, op := range ops {
		g, ok := byNamespace[op.Namespace]
		if !ok {
			g = &group{sets: make(map[string][]byte)}
			byNamespace[op.Namespace] = g
			order = append(order, op.Namespace)
		}
		if op.Delete {
			g.deletes = append(g.deletes, op.Key)
		} else {
			g.sets[string(op.Key)] = op.Value
		}
	}

	for _, ns := range order {
		g := byNamespace[ns]
		if _, err := e.kv.ApplyChangedKeys(ns, g.sets, g.deletes); err != nil {
			return err
		}
	}
	return nil
}

func collectionNames(tx *Transaction) []string {
	seen := make(map[string]struct{})
	for _, op := range tx.Operations {
		seen[op.Collection] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) lockAll(names []string) ([]*sync.Mutex, error) {
	locks := make([]*sync.Mutex, 0, len(names))
	for _, name := range names {
		cs, err := e.collection(name)
		if err != nil {
			return nil, err
		}
		locks = append(locks, &cs.writeMu)
	}
	for _, l := range locks {
		l.Lock()
	}
	return locks, nil
}

func unlockAll(locks []*sync.Mutex) {
	for _, l := range locks {
		l.Unlock()
	}
}

func (e *Engine) validate(cs *CollectionStore, op Operation) (staged, error) {
	cmd := op.Command
	switch cmd.Kind {
	case CommandInsert:
		h, err := cs.planInsert(cmd.ID, cmd.Contents)
		if err != nil {
			return staged{}, err
		}
		return staged{op: op, coll: cs, contents: cmd.Contents, result: OperationResult{
			Kind: ResultSuccess, Collection: op.Collection, Header: h,
		}}, nil

	case CommandUpdate:
		h, prevOffset, err := cs.planUpdate(cmd.Header, cmd.Contents)
		if err != nil {
			return staged{}, err
		}
		return staged{op: op, coll: cs, contents: cmd.Contents, prevOffset: prevOffset, result: OperationResult{
			Kind: ResultDocumentUpdated, Collection: op.Collection, Header: h,
		}}, nil

	case CommandDelete:
		offset, err := cs.planDelete(cmd.Header)
		if err != nil {
			return staged{}, err
		}
		return staged{op: op, coll: cs, deleteOffset: offset, result: OperationResult{
			Kind: ResultDocumentDeleted, Collection: op.Collection, ID: cmd.Header.ID,
		}}, nil

	default:
		return staged{}, errors.Newf(errors.Internal, "txn.Engine.validate", "unknown command kind %d", cmd.Kind)
	}
}

func (e *Engine) commit(st staged, lsn uint64) error {
	switch st.op.Command.Kind {
	case CommandInsert:
		return st.coll.commitInsert(st.result.Header, st.contents, lsn)
	case CommandUpdate:
		return st.coll.commitUpdate(st.result.Header, st.contents, st.prevOffset, lsn)
	case CommandDelete:
		return st.coll.commitDelete(st.result.ID, st.deleteOffset, lsn)
	default:
		return errors.Newf(errors.Internal, "txn.Engine.commit", "unknown command kind %d", st.op.Command.Kind)
	}
}

func (e *Engine) invalidateViews(changed []txlog.ChangedDocument, lsn uint64) {
	e.viewMu.Lock()
	touched := make(map[*ViewBinding][]uint64)
	for _, c := range changed {
		for _, b := range e.views[c.Collection] {
			touched[b] = append(touched[b], c.DocumentID)
		}
	}
	e.viewMu.Unlock()

	for binding, ids := range touched {
		binding.State.MarkInvalidated(ids...)
		e.pool.Enqueue(mapperJob{binding: binding, pool: e.pool, lsn: lsn})
	}
}
