package txlog

import (
	"encoding/binary"
	"io"
)

// HeaderSize is the fixed size, in bytes, of every record header.
const (
	HeaderSize = 24
	logVersion = 1
	logMagic   = 0xDEADBEEF
)

// recordHeader precedes every Executed record on disk.
type recordHeader struct {
	Magic      uint32
	Version    uint8
	Reserved   [3]byte
	LSN        uint64
	PayloadLen uint32
	CRC32      uint32
}

func (h *recordHeader) encode(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	copy(buf[5:8], h.Reserved[:])
	binary.BigEndian.PutUint64(buf[8:16], h.LSN)
	binary.BigEndian.PutUint32(buf[16:20], h.PayloadLen)
	binary.BigEndian.PutUint32(buf[20:24], h.CRC32)
}

func (h *recordHeader) decode(buf []byte) {
	h.Magic = binary.BigEndian.Uint32(buf[0:4])
	h.Version = buf[4]
	copy(h.Reserved[:], buf[5:8])
	h.LSN = binary.BigEndian.Uint64(buf[8:16])
	h.PayloadLen = binary.BigEndian.Uint32(buf[16:20])
	h.CRC32 = binary.BigEndian.Uint32(buf[20:24])
}

// record is one on-disk (header, payload) pair.
type record struct {
	header  recordHeader
	payload []byte
}

func (r *record) writeTo(w io.Writer) (int64, error) {
	var headerBuf [HeaderSize]byte
	r.header.encode(headerBuf[:])

	n, err := w.Write(headerBuf[:])
	if err != nil {
		return int64(n), err
	}
	m, err := w.Write(r.payload)
	return int64(n + m), err
}
