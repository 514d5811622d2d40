package txlog

import "time"

// SyncPolicy controls when the log is fsynced to disk.
type SyncPolicy int

const (
	// SyncEveryWrite fsyncs after every Append. Safest, slowest.
	SyncEveryWrite SyncPolicy = iota
	// SyncInterval fsyncs on a background ticker.
	SyncInterval
	// SyncBatch fsyncs once accumulated bytes cross SyncBatchBytes.
	SyncBatch
)

// Options configures a Writer.
type Options struct {
	// DirPath is the directory the log file lives in.
	DirPath string

	// BufferSize is the bufio buffer size in front of the log file.
	BufferSize int

	SyncPolicy           SyncPolicy
	SyncIntervalDuration time.Duration
	SyncBatchBytes       int64
}

// DefaultOptions returns a conservative configuration.
func DefaultOptions() Options {
	return Options{
		DirPath:              "./txlog",
		BufferSize:           64 * 1024,
		SyncPolicy:           SyncInterval,
		SyncIntervalDuration: 200 * time.Millisecond,
		SyncBatchBytes:       1 * 1024 * 1024,
	}
}
