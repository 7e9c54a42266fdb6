package txhashset

import "sync"

// lease is the single-writer, multiple-reader lock described in spec §5: a
// writer (block application, rewind, compaction) holds the write lease for
// the full batch; readers observe only a consistent committed snapshot,
// never mid-batch state. It is a thin wrapper over sync.RWMutex that also
// tracks which mode the current holder is in, so internal assertions (and
// tests) can check a write-only operation is never entered without the
// write lease held.
type lease struct {
	mu       sync.RWMutex
	writer   bool
	writerMu sync.Mutex
}

func (l *lease) lockRead() func() {
	l.mu.RLock()
	return l.mu.RUnlock
}

func (l *lease) lockWrite() func() {
	l.mu.Lock()
	l.writerMu.Lock()
	l.writer = true
	l.writerMu.Unlock()
	return func() {
		l.writerMu.Lock()
		l.writer = false
		l.writerMu.Unlock()
		l.mu.Unlock()
	}
}

// isWriterHeld reports whether the write lease is currently held. Used only
// by assertions/tests; it is inherently racy against a concurrent lock
// acquisition and must never gate actual synchronization decisions.
func (l *lease) isWriterHeld() bool {
	l.writerMu.Lock()
	defer l.writerMu.Unlock()
	return l.writer
}
