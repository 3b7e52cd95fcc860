package clock

import (
	"os"
	"strconv"
	"testing"
)

func TestTickMonotonic(t *testing.T) {
	var c Clock
	var last Ticks
	for i := 0; i < 5; i++ {
		v := c.Tick()
		if v <= last {
			t.Fatalf("tick went backwards: %d after %d", v, last)
		}
		last = v
	}
}

func TestIDRoundTrip(t *testing.T) {
	id := ID(42)
	parsed, ok := ParseID(id)
	if !ok {
		t.Fatalf("ParseID(%q) failed", id)
	}
	if parsed.Ticks != 42 {
		t.Fatalf("got ticks %d, want 42", parsed.Ticks)
	}
	if parsed.PID != os.Getpid() {
		t.Fatalf("got pid %d, want %d", parsed.PID, os.Getpid())
	}
	if !parsed.IsOurPID() {
		t.Fatal("expected IsOurPID to be true")
	}
}

func TestParseIDRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "c:1", "c:abc:1", "c:1:abc", "n:foo"} {
		if _, ok := ParseID(s); ok {
			t.Fatalf("ParseID(%q) unexpectedly succeeded", s)
		}
	}
}

func TestParseSinceForeignPIDDoesNotBump(t *testing.T) {
	var c Clock
	cursors := NewCursors()
	c.Tick()
	before := c.Value()

	foreign := "c:" + strconv.Itoa(os.Getpid()+1) + ":5"
	since, err := ParseSince(foreign, false, RootState{Clock: &c, Cursors: cursors})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !since.IsFreshInstance {
		t.Fatal("expected fresh instance for foreign pid")
	}
	if since.Ticks != 0 {
		t.Fatalf("expected ticks 0 for foreign pid, got %d", since.Ticks)
	}
	if c.Value() != before {
		t.Fatalf("foreign pid branch must not bump ticks: before=%d after=%d", before, c.Value())
	}
}

func TestParseSinceSamePIDUnchangedTicksBumps(t *testing.T) {
	var c Clock
	cursors := NewCursors()
	current := c.Tick() // ticks = 1

	spec := ID(current)
	since, err := ParseSince(spec, false, RootState{Clock: &c, Cursors: cursors})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if since.IsFreshInstance {
		t.Fatal("same-pid clockspec must not be a fresh instance")
	}
	if c.Value() != current+1 {
		t.Fatalf("expected bump to %d, got %d", current+1, c.Value())
	}
}

func TestParseSinceCursorFreshThenPromoted(t *testing.T) {
	var c Clock
	cursors := NewCursors()
	rs := RootState{Clock: &c, Cursors: cursors, AllowCursors: true}

	since1, err := ParseSince("n:foo", false, rs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !since1.IsFreshInstance {
		t.Fatal("first reference to a cursor must be a fresh instance")
	}

	stored, ok := cursors.Lookup("foo")
	if !ok {
		t.Fatal("cursor should have been created")
	}
	if stored != c.Value() {
		t.Fatalf("cursor should equal current ticks after promotion: stored=%d current=%d", stored, c.Value())
	}

	// Repeat with no filesystem activity in between: not fresh, but
	// still bumps (the promotion rule from spec.md §4.1).
	before := c.Value()
	since2, err := ParseSince("n:foo", false, rs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if since2.IsFreshInstance {
		t.Fatal("second reference to an existing cursor must not be a fresh instance")
	}
	if since2.Ticks != before {
		t.Fatalf("second call should observe the ticks stored by the first call: got %d want %d", since2.Ticks, before)
	}
	if c.Value() <= before {
		t.Fatalf("repeated cursor query must still bump ticks: before=%d after=%d", before, c.Value())
	}
}

func TestParseSinceCursorsDisallowed(t *testing.T) {
	var c Clock
	cursors := NewCursors()
	_, err := ParseSince("n:foo", false, RootState{Clock: &c, Cursors: cursors, AllowCursors: false})
	if err != ErrBadClockSpec {
		t.Fatalf("expected ErrBadClockSpec when cursors are disallowed, got %v", err)
	}
}

func TestParseSinceTimestamp(t *testing.T) {
	var c Clock
	cursors := NewCursors()
	since, err := ParseSince("1700000000", true, RootState{Clock: &c, Cursors: cursors})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !since.UseTimestamp || since.Timestamp != 1700000000 {
		t.Fatalf("unexpected timestamp result: %+v", since)
	}
}

func TestParseSinceGarbage(t *testing.T) {
	var c Clock
	cursors := NewCursors()
	_, err := ParseSince("not-a-clockspec", false, RootState{Clock: &c, Cursors: cursors})
	if err != ErrBadClockSpec {
		t.Fatalf("expected ErrBadClockSpec, got %v", err)
	}
}
