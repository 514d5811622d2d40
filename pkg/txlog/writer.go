// Package txlog implements the engine's transaction log: the
// append-only, crash-checkable record of every committed transaction
// (spec §3, §4.3 step 4, §6 "Transaction log exposure").
package txlog

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bobboyms/docviewdb/pkg/errors"
)

// Writer appends Executed records and assigns each one the next LSN.
type Writer struct {
	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	options Options

	nextLSN    uint64
	batchBytes int64

	done   chan struct{}
	ticker *time.Ticker
	closed bool
}

// Open opens (creating if needed) the log file under opts.DirPath,
// positioning nextLSN just past the highest LSN already on disk.
func Open(opts Options) (*Writer, error) {
	if err := os.MkdirAll(opts.DirPath, 0o755); err != nil {
		return nil, errors.Wrap(errors.Io, "txlog.Open", "create log directory", err)
	}
	path := filepath.Join(opts.DirPath, "txn.log")

	lastLSN, err := lastLSNOnDisk(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(errors.Io, "txlog.Open", "open log file", err)
	}

	w := &Writer{
		file:    f,
		writer:  bufio.NewWriterSize(f, opts.BufferSize),
		options: opts,
		nextLSN: lastLSN + 1,
		done:    make(chan struct{}),
	}

	if opts.SyncPolicy == SyncInterval {
		w.ticker = time.NewTicker(opts.SyncIntervalDuration)
		go w.backgroundSync()
	}
	return w, nil
}

func lastLSNOnDisk(path string) (uint64, error) {
	r, err := newReaderAt(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer r.Close()

	var last uint64
	for {
		exec, err := r.Next()
		if err == errEOF {
			break
		}
		if err != nil {
			return 0, err
		}
		last = exec.ID
	}
	return last, nil
}

// Append writes one Executed record for changes, assigning it the next
// LSN, and returns that LSN.
func (w *Writer) Append(changes Changes) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	lsn := w.nextLSN
	payload := encodeChanges(changes)

	rec := acquireRecord()
	defer releaseRecord(rec)

	rec.header = recordHeader{
		Magic:      logMagic,
		Version:    logVersion,
		LSN:        lsn,
		PayloadLen: uint32(len(payload)),
		CRC32:      calculateCRC32(payload),
	}
	rec.payload = append(rec.payload[:0], payload...)

	n, err := rec.writeTo(w.writer)
	if err != nil {
		return 0, errors.Wrap(errors.Io, "txlog.Append", "write record", err)
	}
	w.batchBytes += n
	w.nextLSN++

	switch w.options.SyncPolicy {
	case SyncEveryWrite:
		if err := w.syncLocked(); err != nil {
			return 0, err
		}
	case SyncBatch:
		if w.batchBytes >= w.options.SyncBatchBytes {
			if err := w.syncLocked(); err != nil {
				return 0, err
			}
		}
	}
	return lsn, nil
}

// Sync forces the buffered writer and the underlying file to disk.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *Writer) syncLocked() error {
	if err := w.writer.Flush(); err != nil {
		return errors.Wrap(errors.Io, "txlog.Sync", "flush buffer", err)
	}
	if err := w.file.Sync(); err != nil {
		return errors.Wrap(errors.Io, "txlog.Sync", "fsync", err)
	}
	w.batchBytes = 0
	return nil
}

// Close flushes, fsyncs, stops the background ticker, and closes the
// file. Safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.ticker != nil {
		w.ticker.Stop()
		close(w.done)
	}

	if err := w.syncLocked(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

func (w *Writer) backgroundSync() {
	for {
		select {
		case <-w.ticker.C:
			w.Sync()
		case <-w.done:
			return
		}
	}
}
