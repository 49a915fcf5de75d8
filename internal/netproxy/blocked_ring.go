package netproxy

import (
	"sync"
	"time"
)

// maxBlockedEvents bounds the blocked-request ring buffer (§4.C / original
// network-proxy/src/runtime.rs MAX_BLOCKED_EVENTS).
const maxBlockedEvents = 200

// BlockedRequest is one recorded denial.
type BlockedRequest struct {
	Host   string
	Port   int
	Reason BlockReason
	At     time.Time
}

// blockedRing is a FIFO bounded at maxBlockedEvents entries; the oldest
// entry is evicted once the buffer is full.
type blockedRing struct {
	mu      sync.Mutex
	entries []BlockedRequest
}

func newBlockedRing() *blockedRing {
	return &blockedRing{entries: make([]BlockedRequest, 0, maxBlockedEvents)}
}

// record appends entry, evicting the oldest if the buffer is full.
func (r *blockedRing) record(entry BlockedRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) >= maxBlockedEvents {
		r.entries = r.entries[1:]
	}
	r.entries = append(r.entries, entry)
}

// drain atomically takes and clears all buffered entries.
func (r *blockedRing) drain() []BlockedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.entries
	r.entries = make([]BlockedRequest, 0, maxBlockedEvents)
	return out
}
