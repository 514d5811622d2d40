// Command example walks through the document engine's core surface
// end to end: opening a storage root, declaring a schema, binding a
// view, running CRUD through the connection facade, querying and
// reducing the view, and replaying the transaction log.
package main

import (
	"fmt"
	"os"

	"github.com/bobboyms/docviewdb/pkg/connection"
	"github.com/bobboyms/docviewdb/pkg/schema"
	"github.com/bobboyms/docviewdb/pkg/storage"
	"github.com/bobboyms/docviewdb/pkg/txn"
	"github.com/bobboyms/docviewdb/pkg/types"
	"github.com/bobboyms/docviewdb/pkg/view"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "example:", err)
		os.Exit(1)
	}
}

func run() error {
	dir, err := os.MkdirTemp("", "docviewdb-example-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	sch, err := schema.New("shop", 1, []schema.Collection{
		{Name: "products", Views: []schema.View{
			{Name: "by-category", Collection: "products", Version: 1, HasReduce: true},
		}},
	})
	if err != nil {
		return fmt.Errorf("declare schema: %w", err)
	}

	inst, err := storage.Open(dir)
	if err != nil {
		return fmt.Errorf("open storage root: %w", err)
	}
	defer inst.Close()

	db, err := inst.CreateDatabase("shop", sch)
	if err != nil {
		return fmt.Errorf("create database: %w", err)
	}

	err = db.BindView("by-category", storage.ViewFuncs{
		Map: func(_ uint64, contents []byte) ([]view.Mapped, error) {
			category, price := parseProduct(contents)
			return []view.Mapped{{Key: types.VarcharKey(category), Value: encodePrice(price)}}, nil
		},
		Reduce: func(mappings []view.Mapped, _ bool) ([]byte, error) {
			var total int64
			for _, m := range mappings {
				total += decodePrice(m.Value)
			}
			return encodePrice(total), nil
		},
	})
	if err != nil {
		return fmt.Errorf("bind view: %w", err)
	}

	conn := connection.Open(db)
	products := conn.Collection("products")

	seed := []struct {
		category string
		price    int64
	}{
		{"electronics", 1999},
		{"electronics", 2999},
		{"kitchen", 499},
	}
	for _, p := range seed {
		if _, err := products.Push(encodeProduct(p.category, p.price)); err != nil {
			return fmt.Errorf("insert product: %w", err)
		}
	}

	rows, err := conn.View("by-category").WithKey(types.VarcharKey("electronics")).Query()
	if err != nil {
		return fmt.Errorf("query view: %w", err)
	}
	fmt.Printf("electronics rows: %d\n", len(rows))

	total, err := conn.View("by-category").WithKey(types.VarcharKey("electronics")).Reduce()
	if err != nil {
		return fmt.Errorf("reduce view: %w", err)
	}
	fmt.Printf("electronics total (cents): %d\n", decodePrice(total))

	tx := conn.Transaction().
		Push("products", txn.Insert(nil, encodeProduct("kitchen", 799))).
		Push("products", txn.Insert(nil, encodeProduct("kitchen", 1299)))
	if _, err := conn.Apply(tx); err != nil {
		return fmt.Errorf("apply transaction: %w", err)
	}

	executed, err := conn.ListExecutedTransactions(0, 0)
	if err != nil {
		return fmt.Errorf("list executed transactions: %w", err)
	}
	fmt.Printf("committed transactions: %d\n", len(executed))

	return nil
}

// encodeProduct/parseProduct/encodePrice/decodePrice stand in for a
// real document codec: the engine stores opaque bytes (spec §4.2), so
// a caller supplies whatever encoding its documents use. Kept
// deliberately trivial here since this command demonstrates the
// engine's surface, not a serialization format.
func encodeProduct(category string, priceCents int64) []byte {
	return []byte(fmt.Sprintf("%s|%d", category, priceCents))
}

func parseProduct(contents []byte) (category string, priceCents int64) {
	for i, b := range contents {
		if b == '|' {
			category = string(contents[:i])
			fmt.Sscanf(string(contents[i+1:]), "%d", &priceCents)
			break
		}
	}
	return category, priceCents
}

func encodePrice(cents int64) []byte {
	return []byte(fmt.Sprintf("%d", cents))
}

func decodePrice(data []byte) int64 {
	var cents int64
	fmt.Sscanf(string(data), "%d", &cents)
	return cents
}
