// Package clock implements the per-root logical tick counter and its
// textual ClockId form, the moment-naming identity watch clients use to
// resume "since" queries.
package clock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Ticks is a root's 32-bit monotonic counter. It only ever increases.
type Ticks uint32

// Clock guards a root's tick counter. The zero value is a ready-to-use
// clock at tick 0.
type Clock struct {
	mu    sync.Mutex
	ticks Ticks
}

// Value returns the current tick count.
func (c *Clock) Value() Ticks {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Tick advances the counter by one and returns the new value.
func (c *Clock) Tick() Ticks {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks++
	return c.ticks
}

// Bump advances the counter by one without returning it, for call sites
// that only care about the side effect.
func (c *Clock) Bump() {
	c.Tick()
}

// String renders the clock as a ClockId using the current process pid.
func (c *Clock) String() string {
	return ID(c.Value())
}

// ID formats a ClockId for the given tick value using the current
// process's pid: "c:<pid>:<ticks>".
func ID(t Ticks) string {
	return fmt.Sprintf("c:%d:%d", os.Getpid(), t)
}

// Parsed is a successfully-parsed ClockId's components.
type Parsed struct {
	PID   int
	Ticks Ticks
}

// ParseID parses a "c:<pid>:<ticks>" string. It does not interpret
// cursor names or integer timestamps — see ParseSince for that.
func ParseID(s string) (Parsed, bool) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] != "c" {
		return Parsed{}, false
	}
	pid, err := strconv.Atoi(parts[1])
	if err != nil {
		return Parsed{}, false
	}
	ticks, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return Parsed{}, false
	}
	return Parsed{PID: pid, Ticks: Ticks(ticks)}, true
}

// IsOurPID reports whether a parsed ClockId's pid matches this process.
func (p Parsed) IsOurPID() bool {
	return p.PID == os.Getpid()
}
