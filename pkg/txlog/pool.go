package txlog

import "sync"

var recordPool = sync.Pool{
	New: func() interface{} {
		return &record{payload: make([]byte, 0, 4096)}
	},
}

func acquireRecord() *record {
	return recordPool.Get().(*record)
}

func releaseRecord(r *record) {
	r.header = recordHeader{}
	r.payload = r.payload[:0]
	recordPool.Put(r)
}
