package connection_test

import (
	"testing"
	"time"

	"github.com/bobboyms/docviewdb/pkg/connection"
	"github.com/bobboyms/docviewdb/pkg/errors"
	"github.com/bobboyms/docviewdb/pkg/schema"
	"github.com/bobboyms/docviewdb/pkg/storage"
	"github.com/bobboyms/docviewdb/pkg/txn"
	"github.com/bobboyms/docviewdb/pkg/types"
	"github.com/bobboyms/docviewdb/pkg/view"
)

func widgetInsert(contents string) txn.Command {
	return txn.Insert(nil, []byte(contents))
}

func openWidgetsConnection(t *testing.T) *connection.Connection {
	t.Helper()
	sch, err := schema.New("widgets-db", 1, []schema.Collection{
		{Name: "widgets", Views: []schema.View{
			{Name: "by-color", Collection: "widgets", Version: 1, HasReduce: true},
		}},
	})
	if err != nil {
		t.Fatalf("schema.New: %v", err)
	}

	inst, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { inst.Close() })

	db, err := inst.CreateDatabase("widgets-db", sch)
	if err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}

	err = db.BindView("by-color", storage.ViewFuncs{
		Map: func(id uint64, contents []byte) ([]view.Mapped, error) {
			return []view.Mapped{{Key: types.VarcharKey(string(contents)), Value: contents}}, nil
		},
		Reduce: func(mappings []view.Mapped, rereduce bool) ([]byte, error) {
			return []byte{byte(len(mappings))}, nil
		},
	})
	if err != nil {
		t.Fatalf("BindView: %v", err)
	}

	return connection.Open(db)
}

func TestCollectionHandlePushInsertGetList(t *testing.T) {
	conn := openWidgetsConnection(t)
	widgets := conn.Collection("widgets")

	header, err := widgets.Push([]byte("red"))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	doc, found, err := widgets.Get(header.ID)
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if string(doc.Contents) != "red" {
		t.Fatalf("expected contents %q, got %q", "red", doc.Contents)
	}

	if _, err := widgets.Insert(header.ID, []byte("taken")); !errors.Is(err, errors.AlreadyExists) {
		t.Fatalf("expected AlreadyExists inserting a duplicate id, got %v", err)
	}

	second, err := widgets.Push([]byte("blue"))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	docs, err := widgets.List(nil, false, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}

	multi, err := widgets.GetMultiple([]uint64{header.ID, second.ID, 9999})
	if err != nil {
		t.Fatalf("GetMultiple: %v", err)
	}
	if len(multi) != 2 {
		t.Fatalf("expected 2 documents from GetMultiple, got %d", len(multi))
	}
}

func TestCollectionHandleUpdateAndDeleteEnforceRevision(t *testing.T) {
	conn := openWidgetsConnection(t)
	widgets := conn.Collection("widgets")

	header, err := widgets.Push([]byte("red"))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	stale := header
	stale.Revision.Count = 99
	if _, err := widgets.Update(stale, []byte("green")); !errors.Is(err, errors.Conflict) {
		t.Fatalf("expected Conflict updating with a stale revision, got %v", err)
	}

	newHeader, err := widgets.Update(header, []byte("green"))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := widgets.Delete(header); !errors.Is(err, errors.Conflict) {
		t.Fatalf("expected Conflict deleting with a stale (pre-update) revision, got %v", err)
	}
	if err := widgets.Delete(newHeader); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestViewQueryBuilderQueryAndReduce(t *testing.T) {
	conn := openWidgetsConnection(t)
	widgets := conn.Collection("widgets")

	if _, err := widgets.Push([]byte("red")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if _, err := widgets.Push([]byte("red")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if _, err := widgets.Push([]byte("blue")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var results []view.Result
	var err error
	for {
		results, err = conn.View("by-color").WithKey(types.VarcharKey("red")).Query()
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(results) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for view to catch up, got %+v", results)
		}
		time.Sleep(5 * time.Millisecond)
	}

	withDocs, err := conn.View("by-color").WithKey(types.VarcharKey("red")).QueryWithDocs()
	if err != nil {
		t.Fatalf("QueryWithDocs: %v", err)
	}
	if len(withDocs) != 2 {
		t.Fatalf("expected 2 rows with docs, got %d", len(withDocs))
	}
	for _, r := range withDocs {
		if !r.Found || string(r.Document.Contents) != "red" {
			t.Fatalf("unexpected document result: %+v", r)
		}
	}

	reduced, err := conn.View("by-color").WithKey(types.VarcharKey("red")).Reduce()
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if len(reduced) != 1 || reduced[0] != 2 {
		t.Fatalf("expected reduce over 2 mappings, got %v", reduced)
	}
}

func TestViewQueryBuilderDeleteDocsRemovesMatchingSourceDocuments(t *testing.T) {
	conn := openWidgetsConnection(t)
	widgets := conn.Collection("widgets")

	if _, err := widgets.Push([]byte("red")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if _, err := widgets.Push([]byte("blue")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		results, err := conn.View("by-color").WithKey(types.VarcharKey("red")).Query()
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(results) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for view to catch up")
		}
		time.Sleep(5 * time.Millisecond)
	}

	deleted, err := conn.View("by-color").WithKey(types.VarcharKey("red")).DeleteDocs()
	if err != nil {
		t.Fatalf("DeleteDocs: %v", err)
	}
	if len(deleted) != 1 {
		t.Fatalf("expected 1 deleted document, got %d", len(deleted))
	}

	remaining, err := widgets.List(nil, false, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 1 || string(remaining[0].Contents) != "blue" {
		t.Fatalf("expected only the blue widget to remain, got %+v", remaining)
	}
}

func TestConnectionTransactionAppliesMultipleOperationsAtomically(t *testing.T) {
	conn := openWidgetsConnection(t)

	tx := conn.Transaction().
		Push("widgets", widgetInsert("a")).
		Push("widgets", widgetInsert("b"))

	results, err := conn.Apply(tx)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	executed, err := conn.ListExecutedTransactions(0, 0)
	if err != nil {
		t.Fatalf("ListExecutedTransactions: %v", err)
	}
	if len(executed) != 1 {
		t.Fatalf("expected a single committed transaction record, got %d", len(executed))
	}
}
