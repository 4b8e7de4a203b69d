// Package notify carries the short user-facing notices raised by the stores.
package notify

import (
	"log"
	"sync"
	"time"
)

// DefaultLimit is how many notices a Feed keeps.
const DefaultLimit = 50

type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// Notification is a title plus an optional description.
type Notification struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Variant     Variant   `json:"variant"`
	Time        time.Time `json:"time"`
}

// Notifier receives notices. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// Feed logs every notice and keeps the most recent ones for the UI.
type Feed struct {
	mu    sync.Mutex
	limit int
	items []Notification
	now   func() time.Time
}

func NewFeed(limit int) *Feed {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Feed{limit: limit, now: time.Now}
}

func (f *Feed) Notify(n Notification) {
	if n.Variant == "" {
		n.Variant = VariantDefault
	}
	if n.Time.IsZero() {
		n.Time = f.now()
	}
	log.Printf("notify [%s] %s: %s", n.Variant, n.Title, n.Description)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, n)
	if over := len(f.items) - f.limit; over > 0 {
		f.items = append(f.items[:0], f.items[over:]...)
	}
}

// Recent returns the kept notices, newest first.
func (f *Feed) Recent() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Notification, len(f.items))
	for i, n := range f.items {
		out[len(f.items)-1-i] = n
	}
	return out
}
