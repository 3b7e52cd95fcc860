package clock

import "sync"

// Cursors is a root's named-cursor table, mapping a client-chosen label
// to the tick value it last observed. Entries live from first reference
// until process exit (or explicit watch deletion, handled by the owning
// root).
type Cursors struct {
	mu      sync.Mutex
	byLabel map[string]Ticks
}

// NewCursors returns an empty cursor table.
func NewCursors() *Cursors {
	return &Cursors{byLabel: make(map[string]Ticks)}
}

// Lookup returns the stored tick for label and whether it existed.
func (c *Cursors) Lookup(label string) (Ticks, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.byLabel[label]
	return t, ok
}

// Set stores label's tick value, creating the cursor if absent.
func (c *Cursors) Set(label string, t Ticks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byLabel[label] = t
}

// Delete removes a cursor, e.g. when its watch is deleted.
func (c *Cursors) Delete(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byLabel, label)
}
