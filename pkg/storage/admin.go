package storage

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/bobboyms/docviewdb/pkg/btree"
	"github.com/bobboyms/docviewdb/pkg/errors"
	"github.com/bobboyms/docviewdb/pkg/heap"
	"github.com/bobboyms/docviewdb/pkg/schema"
	"github.com/bobboyms/docviewdb/pkg/types"
)

const adminHeapName = "schemas"

// adminDatabase is the reserved "admin" database (spec §6): a single
// name-keyed tree of registered schemas, so OpenDatabase can recover
// a database's shape without the caller re-declaring it every time.
// Records are self-describing the same way pkg/view's entries/docmap
// records are (key alongside payload), so the tree rebuilds from the
// heap alone on open.
type adminDatabase struct {
	mu   sync.Mutex
	tree *btree.BPlusTree
	hm   *heap.HeapManager
	lsn  atomic.Uint64
}

func openAdminDatabase(root string) (*adminDatabase, error) {
	dir := filepath.Join(root, "admin")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.Io, "storage.openAdminDatabase", "create admin directory", err)
	}
	hm, err := heap.NewHeapManager(filepath.Join(dir, adminHeapName))
	if err != nil {
		return nil, errors.Wrap(errors.Io, "storage.openAdminDatabase", "open schema registry heap", err)
	}

	admin := &adminDatabase{tree: btree.NewUniqueTree(64), hm: hm}
	if err := admin.rebuild(); err != nil {
		return nil, errors.Wrap(errors.Internal, "storage.openAdminDatabase", "rebuild schema registry", err)
	}
	return admin, nil
}

func (a *adminDatabase) rebuild() error {
	it, err := a.hm.NewIterator()
	if err != nil {
		return nil
	}
	defer it.Close()

	var maxLSN uint64
	for {
		doc, header, offset, err := it.Next()
		if err == io.EOF {
			a.lsn.Store(maxLSN)
			return nil
		}
		if err != nil {
			return err
		}
		if header.CreateLSN > maxLSN {
			maxLSN = header.CreateLSN
		}
		if !header.Valid {
			continue
		}
		name, _, err := readBytes(doc)
		if err != nil {
			return err
		}
		if err := a.tree.Replace(types.BytesKey(name), offset); err != nil {
			return err
		}
	}
}

func (a *adminDatabase) register(name string, sch *schema.Schema) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := types.BytesKey(name)
	if _, exists := a.tree.Get(key); exists {
		return errors.Newf(errors.AlreadyExists, "storage.adminDatabase.register", "schema already registered for database %q", name)
	}

	payload, err := encodeSchemaRecord(sch)
	if err != nil {
		return err
	}
	lsn := a.lsn.Add(1)
	record := appendBytes(nil, []byte(name))
	record = append(record, payload...)

	offset, err := a.hm.Write(record, lsn, -1)
	if err != nil {
		return errors.Wrap(errors.Io, "storage.adminDatabase.register", "write schema record", err)
	}
	return a.tree.Insert(key, offset)
}

func (a *adminDatabase) lookup(name string) (*schema.Schema, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	offset, found := a.tree.Get(types.BytesKey(name))
	if !found {
		return nil, errors.Newf(errors.SchemaNotRegistered, "storage.adminDatabase.lookup", "no schema registered for database %q", name)
	}
	raw, _, err := a.hm.Read(offset)
	if err != nil {
		return nil, errors.Wrap(errors.Io, "storage.adminDatabase.lookup", "read schema record", err)
	}
	_, payload, err := readBytes(raw)
	if err != nil {
		return nil, err
	}
	return decodeSchemaRecord(payload)
}

// update replaces a database's registered schema record in place: used
// by OpenDatabase after schema.ValidateUpgrade accepts a newer schema
// for an already-created database (spec §7 SchemaMismatch is the
// rejection path; this is the acceptance path).
func (a *adminDatabase) update(name string, sch *schema.Schema) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := types.BytesKey(name)
	if offset, found := a.tree.Get(key); found {
		lsn := a.lsn.Add(1)
		if err := a.hm.Delete(offset, lsn); err != nil {
			return errors.Wrap(errors.Io, "storage.adminDatabase.update", "tombstone previous schema record", err)
		}
		a.tree.Remove(key)
	}

	payload, err := encodeSchemaRecord(sch)
	if err != nil {
		return err
	}
	lsn := a.lsn.Add(1)
	record := appendBytes(nil, []byte(name))
	record = append(record, payload...)

	offset, err := a.hm.Write(record, lsn, -1)
	if err != nil {
		return errors.Wrap(errors.Io, "storage.adminDatabase.update", "write schema record", err)
	}
	return a.tree.Insert(key, offset)
}

func (a *adminDatabase) unregister(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := types.BytesKey(name)
	offset, found := a.tree.Get(key)
	if !found {
		return nil
	}
	lsn := a.lsn.Add(1)
	if err := a.hm.Delete(offset, lsn); err != nil {
		return errors.Wrap(errors.Io, "storage.adminDatabase.unregister", "tombstone schema record", err)
	}
	a.tree.Remove(key)
	return nil
}

func (a *adminDatabase) list() ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var names []string
	// FindLeafLowerBound returns its leaf already RLock'd; each
	// iteration locks the next leaf before releasing the current one so
	// the chain is never walked through an unlocked node.
	leaf, _ := a.tree.FindLeafLowerBound(types.BytesKey(""))
	for leaf != nil {
		ptrs := append([]int64(nil), leaf.DataPtrs[:leaf.N]...)
		next := leaf.Next
		if next != nil {
			next.RLock()
		}
		leaf.RUnlock()

		for _, offset := range ptrs {
			raw, _, err := a.hm.Read(offset)
			if err != nil {
				return nil, err
			}
			name, _, err := readBytes(raw)
			if err != nil {
				return nil, err
			}
			names = append(names, string(name))
		}
		leaf = next
	}
	return names, nil
}

func (a *adminDatabase) close() error {
	return a.hm.Close()
}

// schemaRecord is the admin database's wire shape for a registered
// schema, bson-encoded the way the teacher's pkg/storage/bson.go
// marshals documents — a typed struct rather than a bson.D, since
// this record's shape is fixed and internal rather than
// caller-supplied.
type schemaRecord struct {
	Name        string             `bson:"name"`
	Version     uint64             `bson:"version"`
	Collections []collectionRecord `bson:"collections"`
}

type collectionRecord struct {
	Name  string       `bson:"name"`
	Views []viewRecord `bson:"views"`
}

type viewRecord struct {
	Name          string `bson:"name"`
	Version       uint64 `bson:"version"`
	HasReduce     bool   `bson:"has_reduce"`
	DefaultPolicy int    `bson:"default_policy"`
}

func encodeSchemaRecord(sch *schema.Schema) ([]byte, error) {
	rec := schemaRecord{Name: sch.Name, Version: sch.Version}
	for _, c := range sch.Collections() {
		cr := collectionRecord{Name: string(c.Name)}
		for _, v := range c.Views {
			cr.Views = append(cr.Views, viewRecord{
				Name:          string(v.Name),
				Version:       v.Version,
				HasReduce:     v.HasReduce,
				DefaultPolicy: int(v.DefaultPolicy),
			})
		}
		rec.Collections = append(rec.Collections, cr)
	}

	data, err := bson.Marshal(rec)
	if err != nil {
		return nil, errors.Wrap(errors.Serialization, "storage.encodeSchemaRecord", "marshal schema", err)
	}
	return data, nil
}

func decodeSchemaRecord(data []byte) (*schema.Schema, error) {
	var rec schemaRecord
	if err := bson.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(errors.Serialization, "storage.decodeSchemaRecord", "unmarshal schema", err)
	}

	collections := make([]schema.Collection, len(rec.Collections))
	for i, cr := range rec.Collections {
		views := make([]schema.View, len(cr.Views))
		for j, vr := range cr.Views {
			views[j] = schema.View{
				Name:          schema.ViewName(vr.Name),
				Collection:    schema.CollectionName(cr.Name),
				Version:       vr.Version,
				HasReduce:     vr.HasReduce,
				DefaultPolicy: schema.AccessPolicy(vr.DefaultPolicy),
			}
		}
		collections[i] = schema.Collection{Name: schema.CollectionName(cr.Name), Views: views}
	}

	return schema.New(rec.Name, rec.Version, collections)
}
