// Package batch processes a queue of images one at a time with a shared
// request template.
package batch

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	"github.com/google/uuid"
	_ "golang.org/x/image/webp"

	"github.com/fpang/lynx-studio/internal/payload"
	"github.com/fpang/lynx-studio/internal/provider"
)

// Status is the lifecycle of a queued item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Dims is an image size in pixels. Zero when the image could not be decoded.
type Dims struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Item is one queued image.
type Item struct {
	ID     string
	Name   string
	Source string // data URI
	Status Status
	// Result is the first image the request produced.
	Result       *provider.Image
	Error        string
	OriginalDims Dims
	ResultDims   Dims
}

// Queue is an ordered, concurrency-safe list of items.
type Queue struct {
	mu    sync.Mutex
	items []*Item
}

func NewQueue() *Queue { return &Queue{} }

// Add appends a pending item for source and returns its ID.
func (q *Queue) Add(name, source string) string {
	it := &Item{
		ID:           uuid.NewString(),
		Name:         name,
		Source:       source,
		Status:       StatusPending,
		OriginalDims: DimsOf(source),
	}
	q.mu.Lock()
	q.items = append(q.items, it)
	q.mu.Unlock()
	return it.ID
}

// Items returns copies of the items in queue order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	for i, it := range q.items {
		out[i] = *it
	}
	return out
}

// Counts tallies items by status.
func (q *Queue) Counts() map[Status]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	c := make(map[Status]int, 4)
	for _, it := range q.items {
		c[it.Status]++
	}
	return c
}

// Reset returns items stuck in processing to pending.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.Status == StatusProcessing {
			it.Status = StatusPending
		}
	}
}

// pending returns the IDs of pending items in order.
func (q *Queue) pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var ids []string
	for _, it := range q.items {
		if it.Status == StatusPending {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

// update applies fn to the item with id under the lock. Removed items are skipped.
func (q *Queue) update(id string, fn func(*Item)) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.ID == id {
			fn(it)
			return *it, true
		}
	}
	return Item{}, false
}

// DimsOf decodes the header of a data URI or base64 image.
func DimsOf(encoded string) Dims {
	_, data, err := payload.Decode(encoded)
	if err != nil {
		return Dims{}
	}
	return dimsOfBytes(data)
}

func dimsOfBytes(data []byte) Dims {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Dims{}
	}
	return Dims{Width: cfg.Width, Height: cfg.Height}
}
