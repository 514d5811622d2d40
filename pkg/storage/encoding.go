package storage

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/bobboyms/docviewdb/pkg/errors"
)

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendBytes(buf []byte, v []byte) []byte {
	buf = appendUint32(buf, uint32(len(v)))
	return append(buf, v...)
}

func readBytes(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, errors.Newf(errors.Serialization, "storage.readBytes", "truncated length prefix")
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint32(len(data)) < n {
		return nil, nil, errors.Newf(errors.Serialization, "storage.readBytes", "truncated payload")
	}
	return data[:n], data[n:], nil
}

// generateServerID produces a fresh random 63-bit identifier for a
// storage root's one-time server-id file (spec §6). Collisions across
// independently created roots are immaterial: the id distinguishes
// this instance's log entries from another's, it is not a coordinated
// cluster identity.
func generateServerID() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 1
	}
	return binary.BigEndian.Uint64(buf[:]) &^ (1 << 63)
}
