package service

import "sync"

// missTracker counts fetches in progress per city. A count above one means
// concurrent misses for the same city are all going upstream.
type missTracker struct {
	mu     sync.Mutex
	active map[string]int // city -> upstream fetches in progress
}

func newMissTracker() *missTracker {
	return &missTracker{active: make(map[string]int)}
}

// begin records the start of a fetch for city and returns the number of fetches
// now in progress for it, including this one. Callers must call end when done.
func (t *missTracker) begin(city string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[city]++
	return t.active[city]
}

func (t *missTracker) end(city string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active[city] <= 1 {
		delete(t.active, city)
		return
	}
	t.active[city]--
}
