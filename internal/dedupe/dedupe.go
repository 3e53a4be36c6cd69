package dedupe

import (
	"sync"
)

// Tracker tracks fingerprints seen within one dataset
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	firstPath string
	seenCount int
}

// NewTracker creates a new dedupe tracker
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*entry)}
}

// Record records a fingerprint seen at path. It returns the path of the
// first image with that fingerprint and the seen count; a count of 1 means
// path is the first occurrence.
func (t *Tracker) Record(fingerprint, path string) (first string, count int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[fingerprint]
	if !ok {
		e = &entry{firstPath: path}
		t.entries[fingerprint] = e
	}
	e.seenCount++
	return e.firstPath, e.seenCount
}

// Len returns the number of distinct fingerprints
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
