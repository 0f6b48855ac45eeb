// Package alerts provides the bounded in-memory alert sink.
package alerts

import (
	"sync"

	"github.com/opensource-risk/kestrel/internal/domain"
)

// Ring is a fixed-capacity, concurrency-safe alert buffer. The oldest
// alert is evicted first on overflow; alerts are never mutated after
// insertion.
type Ring struct {
	mu       sync.RWMutex
	buf      []*domain.Alert
	capacity int
	next     int // write position
	size     int
}

// NewRing creates a ring with the given capacity (default 100).
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 100
	}
	return &Ring{
		buf:      make([]*domain.Alert, capacity),
		capacity: capacity,
	}
}

// Append adds an alert, evicting the oldest when full. Safe for
// concurrent writers.
func (r *Ring) Append(a *domain.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = a
	r.next = (r.next + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// Query returns alerts matching the filter, newest first.
func (r *Ring) Query(filter domain.AlertFilter) []*domain.Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Alert, 0, r.size)
	for i := 0; i < r.size; i++ {
		// Walk backwards from the most recent write.
		idx := (r.next - 1 - i + r.capacity*2) % r.capacity
		a := r.buf[idx]
		if a == nil {
			continue
		}
		if !filter.Matches(a) {
			continue
		}
		out = append(out, a)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// Len returns the number of buffered alerts.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Capacity returns the fixed capacity of the ring.
func (r *Ring) Capacity() int {
	return r.capacity
}
