package clock

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrBadClockSpec is returned when a clockspec string matches none of
// the recognized forms (timestamp, "c:<pid>:<ticks>", "n:<label>").
var ErrBadClockSpec = errors.New("BadClockSpec")

// Since is the resolved form of a clockspec: either a tick-based cutoff
// or a wall-clock cutoff, never both.
type Since struct {
	// UseTimestamp is true when the spec was a bare integer: match
	// files whose mtime/ctime is >= Timestamp.
	UseTimestamp bool
	Timestamp    int64

	// Ticks is the tick-based cutoff: match files with tick > Ticks.
	Ticks Ticks

	// IsFreshInstance is set when the caller should treat the result
	// as a brand new observer with no prior state (foreign pid, or a
	// cursor label that did not previously exist).
	IsFreshInstance bool
}

// RootState is the subset of a root's clock state ParseSince needs.
// Callers must hold the root's lock for the duration of the call, per
// spec.md's invariant that clockspec resolution runs under the root lock.
type RootState struct {
	Clock        *Clock
	Cursors      *Cursors
	AllowCursors bool
}

// ParseSince resolves a clockspec string or integer against a root's
// clock state, applying the side effects the protocol requires (ticks
// bump on cursor re-use, fresh-instance detection for foreign pids and
// new cursor labels).
//
// spec is either a "c:..." or "n:..." string or, when isInt is true,
// the decimal text of an integer timestamp; callers decode the wire
// value before calling. A digit string with isInt false is rejected.
func ParseSince(spec string, isInt bool, rs RootState) (Since, error) {
	if isInt {
		n, err := strconv.ParseInt(spec, 10, 64)
		if err != nil {
			return Since{}, ErrBadClockSpec
		}
		return Since{UseTimestamp: true, Timestamp: n}, nil
	}

	switch {
	case strings.HasPrefix(spec, "c:"):
		parsed, ok := ParseID(spec)
		if !ok {
			return Since{}, ErrBadClockSpec
		}
		if !parsed.IsOurPID() {
			return Since{Ticks: 0, IsFreshInstance: true}, nil
		}
		current := rs.Clock.Value()
		if parsed.Ticks == current {
			// Repeated identical query: bump so it doesn't re-return
			// the same set on a third call either.
			rs.Clock.Tick()
		}
		return Since{Ticks: parsed.Ticks}, nil

	case strings.HasPrefix(spec, "n:"):
		if !rs.AllowCursors {
			return Since{}, ErrBadClockSpec
		}
		label := spec[len("n:"):]
		prior, existed := rs.Cursors.Lookup(label)
		result := Since{Ticks: prior, IsFreshInstance: !existed}

		newTicks := rs.Clock.Tick()
		rs.Cursors.Set(label, newTicks)
		return result, nil

	default:
		return Since{}, ErrBadClockSpec
	}
}

// MatchesTimestamp reports whether mtime/ctime cross the since
// timestamp cutoff (>= semantics, per spec.md §4.1).
func (s Since) MatchesTimestamp(mtime, ctime time.Time) bool {
	cutoff := time.Unix(s.Timestamp, 0)
	return !mtime.Before(cutoff) || !ctime.Before(cutoff)
}
