// Package usage counts successful generations per local calendar day.
//
// Every store scopes its count to "today" and starts again from zero on the
// first access of a new day. Increments must not lose updates when variants
// are dispatched in parallel.
package usage

import (
	"context"
	"sync"
	"time"
)

// DateLayout is the day key format.
const DateLayout = "2006-01-02"

// Store is the daily usage counter.
type Store interface {
	Read(ctx context.Context) (int, error)
	Increment(ctx context.Context) error
}

// Clock returns the current local time.
type Clock func() time.Time

// Today formats the local date for now.
func Today(now Clock) string {
	if now == nil {
		now = time.Now
	}
	return now().Local().Format(DateLayout)
}

// Record is the persisted shape used by the memory and file stores.
type Record struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// rollover resets r when its date is not today. It reports whether r changed.
func (r *Record) rollover(today string) bool {
	if r.Date == today {
		return false
	}
	r.Date = today
	r.Count = 0
	return true
}

// MemoryStore keeps the count in process memory.
type MemoryStore struct {
	mu  sync.Mutex
	rec Record
	now Clock
}

// NewMemoryStore returns an empty in-memory store. A nil clock uses time.Now.
func NewMemoryStore(now Clock) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now}
}

// Seed overwrites the stored record.
func (s *MemoryStore) Seed(r Record) {
	s.mu.Lock()
	s.rec = r
	s.mu.Unlock()
}

// Snapshot returns the stored record without applying rollover.
func (s *MemoryStore) Snapshot() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

func (s *MemoryStore) Read(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.rollover(Today(s.now))
	return s.rec.Count, nil
}

func (s *MemoryStore) Increment(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.rollover(Today(s.now))
	s.rec.Count++
	return nil
}
