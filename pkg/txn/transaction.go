package txn

// CommandKind distinguishes what a single Operation performs.
type CommandKind int

const (
	CommandInsert CommandKind = iota
	CommandUpdate
	CommandDelete
)

// Command is one document mutation within an Operation. Exactly the
// fields relevant to Kind are populated:
//   - CommandInsert: ID (nil for auto-assign), Contents
//   - CommandUpdate: Header, Contents
//   - CommandDelete: Header
type Command struct {
	Kind     CommandKind
	ID       *uint64
	Header   Header
	Contents []byte
}

// Insert builds an insert command. id may be nil to auto-assign.
func Insert(id *uint64, contents []byte) Command {
	return Command{Kind: CommandInsert, ID: id, Contents: contents}
}

// Update builds an update command against header's revision.
func Update(header Header, contents []byte) Command {
	return Command{Kind: CommandUpdate, Header: header, Contents: contents}
}

// Delete builds a delete command against header's revision.
func Delete(header Header) Command {
	return Command{Kind: CommandDelete, Header: header}
}

// Operation names the collection a Command applies to.
type Operation struct {
	Collection string
	Command    Command
}

// KVOperation is one key/value namespace mutation staged within a
// Transaction (spec §3 "key/value namespace", spec.md:89-92's
// Changes::Keys variant). Exactly one of Value (Delete false) or
// Delete (true) applies.
type KVOperation struct {
	Namespace string
	Key       []byte
	Value     []byte
	Delete    bool
}

// Transaction is an ordered batch of operations applied atomically by
// Engine.Apply (spec §4.3). Operations may span collections; trees are
// locked in a deterministic order so concurrent transactions never
// deadlock against each other. KVOperations commit in the same atomic
// pass as Operations, so a transaction may mix document and kv
// namespace mutations.
type Transaction struct {
	Operations   []Operation
	KVOperations []KVOperation
}

// New starts an empty transaction.
func New() *Transaction {
	return &Transaction{}
}

// Push appends one operation and returns the transaction, so calls
// chain: txn.New().Push("widgets", txn.Insert(nil, body)).Push(...).
func (t *Transaction) Push(collection string, cmd Command) *Transaction {
	t.Operations = append(t.Operations, Operation{Collection: collection, Command: cmd})
	return t
}

// SetKey stages a kv namespace write, committed atomically with this
// transaction's other operations and recorded in the transaction log
// alongside them.
func (t *Transaction) SetKey(namespace string, key, value []byte) *Transaction {
	t.KVOperations = append(t.KVOperations, KVOperation{Namespace: namespace, Key: key, Value: value})
	return t
}

// DeleteKey stages a kv namespace delete, committed atomically with
// this transaction's other operations.
func (t *Transaction) DeleteKey(namespace string, key []byte) *Transaction {
	t.KVOperations = append(t.KVOperations, KVOperation{Namespace: namespace, Key: key, Delete: true})
	return t
}

// ResultKind distinguishes the variants of OperationResult (spec §4.3).
type ResultKind int

const (
	ResultSuccess ResultKind = iota
	ResultDocumentUpdated
	ResultDocumentDeleted
)

// OperationResult reports what one operation in a transaction produced,
// in the same order as Transaction.Operations.
type OperationResult struct {
	Kind       ResultKind
	Collection string
	Header     Header
	ID         uint64
}
