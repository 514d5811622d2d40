package txn

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
		return 0, nil, errors.Newf(errors.Serialization, "txn.readUint32", "truncated uint32")
	}
	return binary.BigEndian.Uint32(data[:4]), data[4:], nil
}

func readUint64(data []byte) (uint64, []byte, error) {
	if len(data) < 8 {
		return 0, nil, errors.Newf(errors.Serialization, "txn.readUint64", "truncated uint64")
	}
	return binary.BigEndian.Uint64(data[:8]), data[8:], nil
}

func readBytes(data []byte) ([]byte, []byte, error) {
	n, rest, err := readUint32(data)
	if err != nil {
		return nil, nil, err
	}
	if uint32(len(rest)) < n {
		return nil, nil, errors.Newf(errors.Serialization, "txn.readBytes", "truncated byte field")
	}
	out := make([]byte, n)
	copy(out, rest[:n])
	return out, rest[n:], nil
}

// encodeRecord lays out one document's self-describing heap record:
// id, revision, contents. Self-describing so CollectionStore.rebuild can
// reconstruct the tree straight from heap iteration (see
// pkg/view/store.go for the same trick applied to view entries).
func encodeRecord(h Header, contents []byte) []byte {
	buf := appendUint64(nil, h.ID)
	buf = appendUint32(buf, h.Revision.Count)
	buf = append(buf, h.Revision.SHA256[:]...)
	buf = appendBytes(buf, contents)
	return buf
}

func decodeRecord(data []byte) (Header, []byte, error) {
	var h Header
	id, rest, err := readUint64(data)
	if err != nil {
		return Header{}, nil, err
	}
	h.ID = id

	count, rest, err := readUint32(rest)
	if err != nil {
		return Header{}, nil, err
	}
	h.Revision.Count = count

	if len(rest) < 32 {
		return Header{}, nil, errors.Newf(errors.Serialization, "txn.decodeRecord", "truncated sha256")
	}
	copy(h.Revision.SHA256[:], rest[:32])
	rest = rest[32:]

	contents, rest, err := readBytes(rest)
	if err != nil {
		return Header{}, nil, err
	}
	return h, contents, nil
}
