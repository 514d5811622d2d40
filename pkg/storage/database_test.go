package storage_test

import (
	"testing"
	"time"

	"github.com/bobboyms/docviewdb/pkg/schema"
	"github.com/bobboyms/docviewdb/pkg/storage"
	"github.com/bobboyms/docviewdb/pkg/txn"
	"github.com/bobboyms/docviewdb/pkg/types"
	"github.com/bobboyms/docviewdb/pkg/view"
)

func openWidgetsDatabase(t *testing.T) *storage.Database {
	t.Helper()
	sch, err := schema.New("widgets-db", 1, []schema.Collection{
		{Name: "widgets", Views: []schema.View{
			{Name: "by-color", Collection: "widgets", Version: 1},
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
	})
	if err != nil {
		t.Fatalf("BindView: %v", err)
	}
	return db
}

func TestDatabaseInsertThroughEngineInvalidatesBoundView(t *testing.T) {
	db := openWidgetsDatabase(t)

	tx := txn.New().Push("widgets", txn.Insert(nil, []byte("red")))
	results, err := db.Engine.Apply(tx)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(results) != 1 || results[0].Kind != txn.ResultSuccess {
		t.Fatalf("unexpected results: %+v", results)
	}

	store, err := db.View("by-color")
	if err != nil {
		t.Fatalf("View: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		res, err := store.Query(view.Query{Filter: view.KeyFilter{Exact: types.VarcharKey("red")}})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(res) == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for mapper to populate view, got %+v", res)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestListExecutedTransactionsReturnsAppendedEntries(t *testing.T) {
	db := openWidgetsDatabase(t)

	if _, err := db.Engine.Apply(txn.New().Push("widgets", txn.Insert(nil, []byte("blue")))); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := db.Engine.Apply(txn.New().Push("widgets", txn.Insert(nil, []byte("green")))); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	executed, err := db.ListExecutedTransactions(0, 0)
	if err != nil {
		t.Fatalf("ListExecutedTransactions: %v", err)
	}
	if len(executed) != 2 {
		t.Fatalf("expected 2 executed transactions, got %d", len(executed))
	}
}

func TestCollectionAccessorRejectsUndeclaredCollection(t *testing.T) {
	db := openWidgetsDatabase(t)
	if _, err := db.Collection("nope"); err == nil {
		t.Fatal("expected error for undeclared collection")
	}
}
