package txlog

import (
	"encoding/binary"

	"github.com/bobboyms/docviewdb/pkg/errors"
)

// ChangeKind distinguishes what a committed transaction touched (spec
// §4.3 step 4 / §3 "Transaction log exposure").
type ChangeKind uint8

const (
	// ChangesDocuments records mutations to a collection's documents.
	ChangesDocuments ChangeKind = iota + 1
	// ChangesKeys records mutations to the kv namespace tree.
	ChangesKeys
	// ChangesMixed records a transaction that committed both document
	// and kv namespace mutations atomically in the same commit.
	ChangesMixed
)

// ChangedDocument names one document a transaction created, updated,
// or deleted.
type ChangedDocument struct {
	Collection string
	DocumentID uint64
	Deleted    bool
}

// ChangedKey names one kv-namespace key a transaction wrote or removed.
type ChangedKey struct {
	Namespace string
	Key       []byte
	Deleted   bool
}

// Changes is the union of what a committed transaction touched. Kind
// selects what is populated: Documents for ChangesDocuments, Keys for
// ChangesKeys, and both for ChangesMixed.
type Changes struct {
	Kind      ChangeKind
	Documents []ChangedDocument
	Keys      []ChangedKey
}

// Executed is one committed transaction as recorded in the log.
type Executed struct {
	ID      uint64
	Changes Changes
}

func encodeChanges(c Changes) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, byte(c.Kind))

	switch c.Kind {
	case ChangesDocuments:
		buf = encodeDocuments(buf, c.Documents)
	case ChangesKeys:
		buf = encodeKeys(buf, c.Keys)
	case ChangesMixed:
		buf = encodeDocuments(buf, c.Documents)
		buf = encodeKeys(buf, c.Keys)
	}
	return buf
}

func encodeDocuments(buf []byte, docs []ChangedDocument) []byte {
	buf = appendUint32(buf, uint32(len(docs)))
	for _, d := range docs {
		buf = appendBytes(buf, []byte(d.Collection))
		buf = appendUint64(buf, d.DocumentID)
		buf = append(buf, boolByte(d.Deleted))
	}
	return buf
}

func encodeKeys(buf []byte, keys []ChangedKey) []byte {
	buf = appendUint32(buf, uint32(len(keys)))
	for _, k := range keys {
		buf = appendBytes(buf, []byte(k.Namespace))
		buf = appendBytes(buf, k.Key)
		buf = append(buf, boolByte(k.Deleted))
	}
	return buf
}

func decodeChanges(data []byte) (Changes, error) {
	if len(data) < 1 {
		return Changes{}, errors.Newf(errors.Serialization, "txlog.decodeChanges", "truncated changes record")
	}
	kind := ChangeKind(data[0])
	rest := data[1:]

	switch kind {
	case ChangesDocuments:
		docs, _, err := decodeDocuments(rest)
		if err != nil {
			return Changes{}, err
		}
		return Changes{Kind: kind, Documents: docs}, nil

	case ChangesKeys:
		keys, _, err := decodeKeys(rest)
		if err != nil {
			return Changes{}, err
		}
		return Changes{Kind: kind, Keys: keys}, nil

	case ChangesMixed:
		docs, rest, err := decodeDocuments(rest)
		if err != nil {
			return Changes{}, err
		}
		keys, _, err := decodeKeys(rest)
		if err != nil {
			return Changes{}, err
		}
		return Changes{Kind: kind, Documents: docs, Keys: keys}, nil

	default:
		return Changes{}, errors.Newf(errors.Serialization, "txlog.decodeChanges", "unknown change kind %d", kind)
	}
}

func decodeDocuments(data []byte) ([]ChangedDocument, []byte, error) {
	count, rest, err := readUint32(data)
	if err != nil {
		return nil, nil, err
	}
	docs := make([]ChangedDocument, 0, count)
	for i := uint32(0); i < count; i++ {
		var d ChangedDocument
		var coll []byte
		coll, rest, err = readBytes(rest)
		if err != nil {
			return nil, nil, err
		}
		d.Collection = string(coll)
		d.DocumentID, rest, err = readUint64(rest)
		if err != nil {
			return nil, nil, err
		}
		if len(rest) < 1 {
			return nil, nil, errors.Newf(errors.Serialization, "txlog.decodeDocuments", "truncated document flag")
		}
		d.Deleted = rest[0] != 0
		rest = rest[1:]
		docs = append(docs, d)
	}
	return docs, rest, nil
}

func decodeKeys(data []byte) ([]ChangedKey, []byte, error) {
	count, rest, err := readUint32(data)
	if err != nil {
		return nil, nil, err
	}
	keys := make([]ChangedKey, 0, count)
	for i := uint32(0); i < count; i++ {
		var k ChangedKey
		var ns []byte
		ns, rest, err = readBytes(rest)
		if err != nil {
			return nil, nil, err
		}
		k.Namespace = string(ns)
		k.Key, rest, err = readBytes(rest)
		if err != nil {
			return nil, nil, err
		}
		if len(rest) < 1 {
			return nil, nil, errors.Newf(errors.Serialization, "txlog.decodeKeys", "truncated key flag")
		}
		k.Deleted = rest[0] != 0
		rest = rest[1:]
		keys = append(keys, k)
	}
	return keys, rest, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendBytes(buf []byte, v []byte) []byte {
	buf = appendUint32(buf, uint32(len(v)))
	return append(buf, v...)
}

func readUint32(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, errors.Newf(errors.Serialization, "txlog.readUint32", "truncated uint32")
	}
	return binary.BigEndian.Uint32(data[:4]), data[4:], nil
}

func readUint64(data []byte) (uint64, []byte, error) {
	if len(data) < 8 {
		return 0, nil, errors.Newf(errors.Serialization, "txlog.readUint64", "truncated uint64")
	}
	return binary.BigEndian.Uint64(data[:8]), data[8:], nil
}

func readBytes(data []byte) ([]byte, []byte, error) {
	n, rest, err := readUint32(data)
	if err != nil {
		return nil, nil, err
	}
	if uint32(len(rest)) < n {
		return nil, nil, errors.Newf(errors.Serialization, "txlog.readBytes", "truncated byte field")
	}
	out := make([]byte, n)
	copy(out, rest[:n])
	return out, rest[n:], nil
}
