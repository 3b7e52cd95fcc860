// Package root implements the per-watched-directory state spec.md §3
// describes: the tick counter, cursor table, known-files map, and
// subscription list, all guarded by one per-root lock.
package root

import (
	"sync"
	"time"

	"github.com/codewiresh/fswatchd/internal/clock"
	"github.com/codewiresh/fswatchd/internal/match"
	"github.com/codewiresh/fswatchd/internal/query"
)

// Root is a watched directory tree plus its logical clock, cursor
// table, known files, and active subscriptions. All reads/mutations
// of Clock, Cursors, and the subscription list happen while mu is held
// (spec.md §3's invariant).
type Root struct {
	mu sync.Mutex

	Path    string
	Clock   clock.Clock
	Cursors *clock.Cursors

	files map[string]*FileState
	subs  map[string]*Subscription

	createdAt time.Time
}

// Subscription is a named standing query bound to a session. Deliver
// is invoked with the matched files whenever the subscription's query
// matches newly changed files; it is a closure the owning session
// installs, keeping this package free of any dependency on session or
// transport types (spec.md §3's "owned by exactly one session").
type Subscription struct {
	Name      string
	Query     query.Expr
	lastTicks clock.Ticks
	Deliver   func(Notification)
}

// Notification is what a subscription fan-out delivers to its owning
// session (spec.md §4.6).
type Notification struct {
	Subscription    string
	Root            string
	Files           []match.Record
	Clock           string
	IsFreshInstance bool
}

// New creates a Root rooted at path with an empty file set.
func New(path string) *Root {
	return &Root{
		Path:      path,
		Cursors:   clock.NewCursors(),
		files:     make(map[string]*FileState),
		subs:      make(map[string]*Subscription),
		createdAt: time.Now(),
	}
}

// Lock/Unlock expose the root lock to callers that must hold it across
// several operations (e.g. clockspec resolution followed by a file
// scan, per spec.md §5's lock-order rule: root lock is held, then the
// client-table lock may additionally be acquired to enqueue).
func (r *Root) Lock()   { r.mu.Lock() }
func (r *Root) Unlock() { r.mu.Unlock() }

// State returns the RootState view clock.ParseSince needs. Callers
// must already hold the root lock.
func (r *Root) State(allowCursors bool) clock.RootState {
	return clock.RootState{Clock: &r.Clock, Cursors: r.Cursors, AllowCursors: allowCursors}
}

// Advance applies a batch of observed file states from the watch
// backend, bumping the root's tick once for the whole batch and
// stamping each changed file's CClock (and, for newly-seen files,
// OClock) with the new tick. It then delivers a Notification to each
// subscription whose query matches a changed file, and calls fanout
// (if non-nil) with the changed files' records and the new tick value,
// all while still holding the lock (spec.md §4.6: fan-out runs under
// the root lock). An empty batch changes nothing.
func (r *Root) Advance(observed []FileState, fanout func(changed []match.Record, newTicks clock.Ticks)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(observed) == 0 {
		return
	}

	newTicks := r.Clock.Tick()
	changed := make([]match.Record, 0, len(observed))

	for _, obs := range observed {
		prev, existed := r.files[obs.Name]
		obs.CClock = newTicks
		if existed {
			obs.OClock = prev.OClock
		} else {
			obs.OClock = newTicks
		}
		st := obs
		r.files[obs.Name] = &st
		changed = append(changed, st.Record())
	}

	for _, sub := range r.subs {
		matched := filterChanged(sub, changed, r.Path, newTicks)
		if matched == nil {
			continue
		}
		sub.lastTicks = newTicks
		if sub.Deliver != nil {
			sub.Deliver(Notification{
				Subscription: sub.Name,
				Root:         r.Path,
				Files:        matched,
				Clock:        clock.ID(newTicks),
			})
		}
	}

	if fanout != nil {
		fanout(changed, newTicks)
	}
}

// filterChanged returns the subset of changed records a subscription's
// query matches, or nil if none matched (spec.md §4.6: "if non-empty,
// build a notification").
func filterChanged(sub *Subscription, changed []match.Record, rootPath string, newTicks clock.Ticks) []match.Record {
	var out []match.Record
	for _, rec := range changed {
		fi := query.FileInfo{Name: rec.Name, Exists: rec.Exists, Size: rec.Size, MtimeEpoch: rec.Mtime, CtimeEpoch: rec.Ctime}
		if sub.Query == nil || sub.Query.Match(fi) {
			out = append(out, rec)
		}
	}
	return out
}

// Find evaluates expr against every currently-known file. Find takes
// the root lock itself for the iteration, so callers must not already
// hold it.
func (r *Root) Find(expr query.Expr) []match.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(expr)
}

func (r *Root) findLocked(expr query.Expr) []match.Record {
	out := make([]match.Record, 0, len(r.files))
	for _, f := range r.files {
		if expr == nil || expr.Match(f.toQueryInfo()) {
			out = append(out, f.Record())
		}
	}
	return out
}

// Since returns every file whose CClock is strictly greater than
// since.Ticks (or, for timestamp-based specs, whose mtime/ctime meets
// the cutoff), filtered additionally by expr if non-nil. Callers must
// hold the root lock (clockspec resolution and this scan must be
// atomic with respect to concurrent Advance calls).
func (r *Root) Since(since clock.Since, expr query.Expr) []match.Record {
	out := make([]match.Record, 0)
	for _, f := range r.files {
		if expr != nil && !expr.Match(f.toQueryInfo()) {
			continue
		}
		if since.UseTimestamp {
			if since.MatchesTimestamp(f.Mtime, f.Ctime) {
				out = append(out, f.Record())
			}
			continue
		}
		if since.IsFreshInstance || f.CClock > since.Ticks {
			out = append(out, f.Record())
		}
	}
	return out
}

// Subscribe registers a new named subscription, replacing any existing
// subscription with the same name. The returned Subscription's initial
// result (per spec.md §4.5: "initial result immediate") is the caller's
// responsibility to compute via Find/Since before or after calling
// Subscribe.
func (r *Root) Subscribe(name string, expr query.Expr, deliver func(Notification)) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := &Subscription{Name: name, Query: expr, lastTicks: r.Clock.Value(), Deliver: deliver}
	r.subs[name] = sub
	return sub
}

// Unsubscribe removes a named subscription.
func (r *Root) Unsubscribe(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, name)
}

// RemoveSubscriptions removes every subscription named in names, such
// as the set a closing session owned.
func (r *Root) RemoveSubscriptions(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		delete(r.subs, n)
	}
}
