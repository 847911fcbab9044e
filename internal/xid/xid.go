package xid

import (
	"sync"
	"time"
)

var (
	mu   sync.Mutex
	last int64
)

// Next returns a millisecond-timestamp identifier. Two calls landing in the
// same millisecond get strictly increasing values, so identifiers stay
// distinct within a process and sort by creation time.
func Next() int64 {
	mu.Lock()
	defer mu.Unlock()
	now := time.Now().UnixMilli()
	if now <= last {
		now = last + 1
	}
	last = now
	return now
}
