package view

import (
	"encoding/binary"

	"github.com/bobboyms/docviewdb/pkg/errors"
)

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
		return 0, nil, errors.Newf(errors.Serialization, "view.readUint32", "truncated uint32")
	}
	return binary.BigEndian.Uint32(data[:4]), data[4:], nil
}

func readUint64(data []byte) (uint64, []byte, error) {
	if len(data) < 8 {
		return 0, nil, errors.Newf(errors.Serialization, "view.readUint64", "truncated uint64")
	}
	return binary.BigEndian.Uint64(data[:8]), data[8:], nil
}

func readBytes(data []byte) ([]byte, []byte, error) {
	n, rest, err := readUint32(data)
	if err != nil {
		return nil, nil, err
	}
	if uint32(len(rest)) < n {
		return nil, nil, errors.Newf(errors.Serialization, "view.readBytes", "truncated byte field")
	}
	out := make([]byte, n)
	copy(out, rest[:n])
	return out, rest[n:], nil
}

// entryTuple is one (documentID, value) pair stored at an entries-tree
// key. A key can hold several, since many documents may emit the same
// key (spec §4.4: views are not unique indexes).
type entryTuple struct {
	DocumentID uint64
	Value      []byte
}

func encodeEntryList(tuples []entryTuple) []byte {
	buf := appendUint32(nil, uint32(len(tuples)))
	for _, t := range tuples {
		buf = appendUint64(buf, t.DocumentID)
		buf = appendBytes(buf, t.Value)
	}
	return buf
}

func decodeEntryList(data []byte) ([]entryTuple, error) {
	count, rest, err := readUint32(data)
	if err != nil {
		return nil, err
	}
	out := make([]entryTuple, 0, count)
	for i := uint32(0); i < count; i++ {
		var t entryTuple
		t.DocumentID, rest, err = readUint64(rest)
		if err != nil {
			return nil, err
		}
		t.Value, rest, err = readBytes(rest)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func encodeKeyList(keys [][]byte) []byte {
	buf := appendUint32(nil, uint32(len(keys)))
	for _, k := range keys {
		buf = appendBytes(buf, k)
	}
	return buf
}

func decodeKeyList(data []byte) ([][]byte, error) {
	count, rest, err := readUint32(data)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		var k []byte
		k, rest, err = readBytes(rest)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}
