// Package storage implements the top-level engine instance: the
// storage root, the server identifier, the admin database's schema
// registry, and database lifecycle (create/open/delete), wiring
// pkg/txn, pkg/view, pkg/kv, pkg/txlog, and pkg/tasks together per
// database (spec §3 "Lifecycles", §6 on-disk layout).
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bobboyms/docviewdb/pkg/errors"
	"github.com/bobboyms/docviewdb/pkg/schema"
)

const serverIDFileName = "server-id"

// Instance is one open storage root: the set of databases it knows
// about, the admin database backing the schema registry, and a
// logger scoped to this instance rather than global, since a process
// may open more than one Instance (grounded on cuemby-warren's
// pkg/log, adapted the same way pkg/tasks scopes its metrics per-Pool
// instead of registering globally — see DESIGN.md).
type Instance struct {
	root     string
	ServerID uint64
	log      zerolog.Logger

	mu        sync.RWMutex
	databases map[string]*Database

	admin *adminDatabase
}

// Open opens (creating if needed) a storage root at dir: ensures the
// server-id file, and opens the admin database holding the schema
// registry.
func Open(dir string) (*Instance, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.Io, "storage.Open", "create storage root", err)
	}

	serverID, err := loadOrCreateServerID(dir)
	if err != nil {
		return nil, err
	}

	inst := &Instance{
		root:      dir,
		ServerID:  serverID,
		log:       zerolog.New(os.Stderr).With().Timestamp().Str("storage_root", dir).Logger(),
		databases: make(map[string]*Database),
	}

	admin, err := openAdminDatabase(dir)
	if err != nil {
		return nil, errors.Wrap(errors.Internal, "storage.Open", "open admin database", err)
	}
	inst.admin = admin

	return inst, nil
}

// loadOrCreateServerID implements spec §6's "rewriting is disallowed
// once present": if server-id already exists, its content is
// authoritative and is returned as-is; otherwise a fresh id is
// generated and written once.
func loadOrCreateServerID(dir string) (uint64, error) {
	path := filepath.Join(dir, serverIDFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		id, parseErr := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
		if parseErr != nil {
			return 0, errors.Wrap(errors.Serialization, "storage.loadOrCreateServerID", "parse server-id", parseErr)
		}
		return id, nil
	}
	if !os.IsNotExist(err) {
		return 0, errors.Wrap(errors.Io, "storage.loadOrCreateServerID", "read server-id", err)
	}

	id := generateServerID()
	if err := os.WriteFile(path, []byte(strconv.FormatUint(id, 10)), 0o644); err != nil {
		return 0, errors.Wrap(errors.Io, "storage.loadOrCreateServerID", "write server-id", err)
	}
	return id, nil
}

// validateDatabaseName implements spec §6's naming rule: first
// character alphanumeric or underscore, subsequent characters
// alphanumeric, '.', or '-', case-folded to lowercase for uniqueness,
// at most 64 bytes.
func validateDatabaseName(name string) (string, error) {
	if len(name) == 0 || len(name) > 64 {
		return "", errors.Newf(errors.InvalidName, "storage.validateDatabaseName", "name must be 1-64 bytes, got %d", len(name))
	}
	folded := strings.ToLower(name)
	for i, r := range folded {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if i == 0 {
			if !isAlnum && r != '_' {
				return "", errors.Newf(errors.InvalidName, "storage.validateDatabaseName", "name %q must start with an alphanumeric character or underscore", name)
			}
			continue
		}
		if !isAlnum && r != '.' && r != '-' {
			return "", errors.Newf(errors.InvalidName, "storage.validateDatabaseName", "name %q contains an invalid character %q", name, r)
		}
	}
	return folded, nil
}

// CreateDatabase validates name, registers sch in the admin database,
// and opens the new database's trees. Fails if a database with this
// (case-folded) name already exists.
func (inst *Instance) CreateDatabase(name string, sch *schema.Schema) (*Database, error) {
	folded, err := validateDatabaseName(name)
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	if _, exists := inst.databases[folded]; exists {
		return nil, errors.Newf(errors.Conflict, "storage.CreateDatabase", "database %q already exists", folded)
	}

	if err := inst.admin.register(folded, sch); err != nil {
		return nil, err
	}

	db, err := openDatabase(filepath.Join(inst.root, folded), folded, sch, inst.log)
	if err != nil {
		return nil, err
	}
	inst.databases[folded] = db
	return db, nil
}

// OpenDatabase opens an already-created database. want is the schema
// the caller expects this database to have; it is diffed against the
// schema recovered from the admin registry via schema.ValidateUpgrade
// (spec §7 SchemaMismatch: opening a database under a schema that
// removes a collection fails with SchemaMismatch, and one that moves a
// view's version backward fails with an Internal error, rather than
// silently adopting the caller's shape). A legal upgrade
// (same or newer view versions, no removed collections) is
// re-registered and used to open the database; an unchanged schema
// just opens with the version already on file.
func (inst *Instance) OpenDatabase(name string, want *schema.Schema) (*Database, error) {
	folded, err := validateDatabaseName(name)
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	if db, ok := inst.databases[folded]; ok {
		return db, nil
	}

	stored, err := inst.admin.lookup(folded)
	if err != nil {
		return nil, err
	}

	if err := schema.ValidateUpgrade(stored, want); err != nil {
		return nil, err
	}
	if want.Version != stored.Version {
		if err := inst.admin.update(folded, want); err != nil {
			return nil, err
		}
	}

	db, err := openDatabase(filepath.Join(inst.root, folded), folded, want, inst.log)
	if err != nil {
		return nil, err
	}
	inst.databases[folded] = db
	return db, nil
}

// ListDatabases returns every database name registered in the admin
// database, regardless of whether it is currently open.
func (inst *Instance) ListDatabases() ([]string, error) {
	return inst.admin.list()
}

// DeleteDatabase closes (if open) and removes a database's on-disk
// directory and admin registration.
func (inst *Instance) DeleteDatabase(name string) error {
	folded, err := validateDatabaseName(name)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	if db, ok := inst.databases[folded]; ok {
		if err := db.Close(); err != nil {
			return err
		}
		delete(inst.databases, folded)
	}

	if err := inst.admin.unregister(folded); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(inst.root, folded))
}

// Close closes every currently open database and the admin database.
func (inst *Instance) Close() error {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	var firstErr error
	for name, db := range inst.databases {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close database %q: %w", name, err)
		}
	}
	if err := inst.admin.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
