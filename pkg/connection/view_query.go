package connection

import (
	"github.com/bobboyms/docviewdb/pkg/errors"
	"github.com/bobboyms/docviewdb/pkg/keyrange"
	"github.com/bobboyms/docviewdb/pkg/schema"
	"github.com/bobboyms/docviewdb/pkg/storage"
	"github.com/bobboyms/docviewdb/pkg/txn"
	"github.com/bobboyms/docviewdb/pkg/types"
	"github.com/bobboyms/docviewdb/pkg/view"
)

// ViewQueryBuilder is the builder-style read path over a bound view
// (spec §4.9, mirroring original_source's View builder:
// with_key/with_keys/with_key_range, ascending/descending, limit,
// query/query_with_docs/reduce/reduce_grouped/delete_docs). Every
// terminal method funnels into view.Store.Query or view.Reduce/
// ReduceAll; none of them implement anything beyond routing and the
// access-policy wait spec §4.4 describes.
type ViewQueryBuilder struct {
	name string
	db   *storage.Database

	filter view.KeyFilter
	order  view.Sort
	limit  int
	policy schema.AccessPolicy
}

// WithKey restricts the query to rows emitted under exactly key.
func (b *ViewQueryBuilder) WithKey(key types.Comparable) *ViewQueryBuilder {
	b.filter = view.KeyFilter{Exact: key}
	return b
}

// WithKeys restricts the query to rows emitted under any of keys.
func (b *ViewQueryBuilder) WithKeys(keys []types.Comparable) *ViewQueryBuilder {
	b.filter = view.KeyFilter{Multiple: keys}
	return b
}

// WithKeyRange restricts the query to rows whose key falls within r.
func (b *ViewQueryBuilder) WithKeyRange(r keyrange.Range) *ViewQueryBuilder {
	b.filter = view.KeyFilter{Range: &r}
	return b
}

// Ascending orders results by key ascending (the default).
func (b *ViewQueryBuilder) Ascending() *ViewQueryBuilder {
	b.order = view.Ascending
	return b
}

// Descending orders results by key descending.
func (b *ViewQueryBuilder) Descending() *ViewQueryBuilder {
	b.order = view.Descending
	return b
}

// Limit caps the number of rows returned; 0 means unlimited.
func (b *ViewQueryBuilder) Limit(n int) *ViewQueryBuilder {
	b.limit = n
	return b
}

// WithAccessPolicy sets the staleness policy for this query only (spec
// §4.4). Without it a query runs under UpdateBefore, the zero value;
// the view's schema.View.DefaultPolicy is not consulted.
func (b *ViewQueryBuilder) WithAccessPolicy(p schema.AccessPolicy) *ViewQueryBuilder {
	b.policy = p
	return b
}

func (b *ViewQueryBuilder) store() (*view.Store, error) {
	return b.db.View(schema.ViewName(b.name))
}

// applyPolicy honors the requested staleness policy before reading:
// UpdateBefore blocks until every currently invalidated id has been
// remapped, UpdateAfter and NoUpdate both return immediately
// (UpdateAfter relies on the mapper job Engine.Apply already
// scheduled; NoUpdate leaves catching the view up to someone else).
func (b *ViewQueryBuilder) applyPolicy(state *storage.ViewState) error {
	if b.policy != schema.UpdateBefore {
		return nil
	}
	return state.WaitUntilCaughtUp()
}

// Query runs the configured read and returns the matching (key,
// documentID, value) rows without fetching document bodies.
func (b *ViewQueryBuilder) Query() ([]view.Result, error) {
	store, err := b.store()
	if err != nil {
		return nil, err
	}
	if state, stateErr := b.db.ViewStateFor(schema.ViewName(b.name)); stateErr == nil {
		if err := b.applyPolicy(state); err != nil {
			return nil, err
		}
	}
	return store.Query(view.Query{Filter: b.filter, Order: b.order, Limit: b.limit})
}

// QueryWithDocs runs the same query as Query, then fetches each
// matched row's current document contents from the source collection.
func (b *ViewQueryBuilder) QueryWithDocs() ([]DocumentResult, error) {
	results, err := b.Query()
	if err != nil {
		return nil, err
	}

	viewDecl, ok := b.db.Schema.View(b.db.ViewCollection(schema.ViewName(b.name)), schema.ViewName(b.name))
	if !ok {
		return nil, errors.Newf(errors.NotFound, "connection.ViewQueryBuilder.QueryWithDocs", "view %q not declared in schema", b.name)
	}
	cs, err := b.db.Collection(viewDecl.Collection)
	if err != nil {
		return nil, err
	}

	out := make([]DocumentResult, 0, len(results))
	for _, r := range results {
		doc, found, err := cs.Get(r.DocumentID)
		if err != nil {
			return nil, err
		}
		out = append(out, DocumentResult{Result: r, Document: doc, Found: found})
	}
	return out, nil
}

// DocumentResult pairs one view row with the source document it
// currently points at (QueryWithDocs' return shape).
type DocumentResult struct {
	Result   view.Result
	Document txn.Document
	Found    bool
}

// ReduceGrouped runs the view's reduce function once per distinct key
// among the configured query's results.
func (b *ViewQueryBuilder) ReduceGrouped() (map[string][]byte, error) {
	results, err := b.Query()
	if err != nil {
		return nil, err
	}
	def, err := b.definition()
	if err != nil {
		return nil, err
	}
	return view.Reduce(def, results)
}

// Reduce runs the view's reduce function once over the configured
// query's entire result set, ignoring key grouping.
func (b *ViewQueryBuilder) Reduce() ([]byte, error) {
	results, err := b.Query()
	if err != nil {
		return nil, err
	}
	def, err := b.definition()
	if err != nil {
		return nil, err
	}
	return view.ReduceAll(def, results)
}

func (b *ViewQueryBuilder) definition() (view.Definition, error) {
	return b.db.ViewDefinition(schema.ViewName(b.name))
}

// DeleteDocs deletes, through the transaction engine, every source
// document the configured query currently matches. Each delete is
// applied as its own operation in one transaction, so either all of
// them land or none do.
func (b *ViewQueryBuilder) DeleteDocs() ([]txn.OperationResult, error) {
	results, err := b.Query()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	viewDecl, ok := b.db.Schema.View(b.db.ViewCollection(schema.ViewName(b.name)), schema.ViewName(b.name))
	if !ok {
		return nil, errors.Newf(errors.NotFound, "connection.ViewQueryBuilder.DeleteDocs", "view %q not declared in schema", b.name)
	}
	cs, err := b.db.Collection(viewDecl.Collection)
	if err != nil {
		return nil, err
	}

	tx := txn.New()
	seen := make(map[uint64]bool, len(results))
	for _, r := range results {
		if seen[r.DocumentID] {
			continue
		}
		seen[r.DocumentID] = true
		doc, found, err := cs.Get(r.DocumentID)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		tx.Push(string(viewDecl.Collection), txn.Delete(doc.Header))
	}
	if len(tx.Operations) == 0 {
		return nil, nil
	}
	return b.db.Engine.Apply(tx)
}
