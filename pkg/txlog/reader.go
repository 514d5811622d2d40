package txlog

import (
	"io"
	"os"
	"path/filepath"

	"github.com/bobboyms/docviewdb/pkg/errors"
)

var errEOF = io.EOF

// reader reads Executed records sequentially from a log file.
type reader struct {
	file *os.File
}

func newReaderAt(path string) (*reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &reader{file: f}, nil
}

// Next reads and validates the next record, decoding it into an
// Executed. Returns io.EOF once the file is exhausted.
func (r *reader) Next() (Executed, error) {
	headerBuf := make([]byte, HeaderSize)
	n, err := io.ReadFull(r.file, headerBuf)
	if err == io.EOF {
		return Executed{}, io.EOF
	}
	if err != nil {
		return Executed{}, errors.Wrap(errors.Io, "txlog.reader.Next", "read header", err)
	}
	if n != HeaderSize {
		return Executed{}, errors.Newf(errors.Io, "txlog.reader.Next", "short header read")
	}

	var h recordHeader
	h.decode(headerBuf)
	if h.Magic != logMagic {
		return Executed{}, errors.Newf(errors.Serialization, "txlog.reader.Next", "bad magic number")
	}
	if h.PayloadLen > 1<<30 {
		return Executed{}, errors.Newf(errors.Serialization, "txlog.reader.Next", "implausible payload length %d", h.PayloadLen)
	}

	payload := make([]byte, h.PayloadLen)
	if _, err := io.ReadFull(r.file, payload); err != nil {
		return Executed{}, errors.Wrap(errors.Io, "txlog.reader.Next", "read payload", err)
	}
	if !validateCRC32(payload, h.CRC32) {
		return Executed{}, errors.Newf(errors.Serialization, "txlog.reader.Next", "checksum mismatch at LSN %d", h.LSN)
	}

	changes, err := decodeChanges(payload)
	if err != nil {
		return Executed{}, err
	}
	return Executed{ID: h.LSN, Changes: changes}, nil
}

func (r *reader) Close() error {
	return r.file.Close()
}

// List replays the log starting at the first LSN >= start, returning
// up to limit records in ascending LSN order. limit <= 0 means no cap.
func List(opts Options, start uint64, limit int) ([]Executed, error) {
	path := filepath.Join(opts.DirPath, "txn.log")
	r, err := newReaderAt(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.Io, "txlog.List", "open log", err)
	}
	defer r.Close()

	var out []Executed
	for {
		exec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if exec.ID < start {
			continue
		}
		out = append(out, exec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
