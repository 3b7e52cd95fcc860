// Package watchbackend supplies the out-of-scope watch mechanism
// spec.md treats as an external collaborator: something that notices
// filesystem changes under a root and reports them as FileState
// observations. This package's PollingBackend is a real, if modest,
// stand-in — a platform-native inotify/FSEvents binding was not part
// of the retrieved dependency set, so polling fills that role (see
// DESIGN.md).
package watchbackend

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/codewiresh/fswatchd/internal/clock"
	"github.com/codewiresh/fswatchd/internal/match"
	"github.com/codewiresh/fswatchd/internal/root"
)

// Backend watches a root and feeds the file state it observes into
// r.Advance, until the returned stop func is called or ctx is cancelled.
type Backend interface {
	Watch(ctx context.Context, r *root.Root) (stop func(), err error)
}

// PollingBackend walks each watched root's tree on a fixed interval,
// compares each file's size, mtime and mode with its own snapshot from
// the previous pass, and hands only new, changed, or deleted files to
// root.Advance.
type PollingBackend struct {
	Interval time.Duration
	Logger   *slog.Logger

	// OnAdvance, if set, is called after every scan that observed at
	// least one change, with the affected root and the records that
	// changed. The server wires this to trigger evaluation
	// (internal/trigger.Manager.Evaluate), keeping this package
	// ignorant of the trigger domain.
	OnAdvance func(r *root.Root, changed []match.Record, ticks clock.Ticks)

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewPolling returns a PollingBackend with the given scan interval
// (spec.md's own example uses roughly this granularity for its
// "eventually observed" edge case).
func NewPolling(interval time.Duration, logger *slog.Logger) *PollingBackend {
	return &PollingBackend{
		Interval: interval,
		Logger:   logger,
		running:  make(map[string]context.CancelFunc),
	}
}

// Watch starts a polling goroutine for r.Path, replacing any existing
// poller for the same path. The returned stop func cancels it.
func (b *PollingBackend) Watch(ctx context.Context, r *root.Root) (func(), error) {
	b.mu.Lock()
	if cancel, ok := b.running[r.Path]; ok {
		cancel()
	}
	watchCtx, cancel := context.WithCancel(ctx)
	b.running[r.Path] = cancel
	b.mu.Unlock()

	go b.loop(watchCtx, r)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if current, ok := b.running[r.Path]; ok {
			current()
			delete(b.running, r.Path)
		}
	}, nil
}

func (b *PollingBackend) loop(ctx context.Context, r *root.Root) {
	ticker := time.NewTicker(b.Interval)
	defer ticker.Stop()

	known := make(map[string]statSnapshot)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.scanOnce(r, known)
		}
	}
}

// statSnapshot is the subset of a file's stat data scanOnce compares
// across polls to decide whether it actually changed.
type statSnapshot struct {
	size  int64
	mtime time.Time
	mode  uint32
}

func (a statSnapshot) equal(b statSnapshot) bool {
	return a.size == b.size && a.mode == b.mode && a.mtime.Equal(b.mtime)
}

// scanOnce walks r.Path and reports only the files whose stat data
// differs from the last pass (or that are new), plus a synthesized
// deletion observation (Exists=false) for any file that was present
// last pass but is missing this pass. root.Advance stamps every entry
// it's given with the new change-clock, so an unchanged file must
// never be included here — otherwise its CClock would advance on
// every poll tick regardless of whether it actually changed.
func (b *PollingBackend) scanOnce(r *root.Root, known map[string]statSnapshot) {
	seen := make(map[string]statSnapshot, len(known))
	var observed []root.FileState

	walkErr := filepath.WalkDir(r.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if b.Logger != nil {
				b.Logger.Warn("watch scan error", "root", r.Path, "path", path, "error", err)
			}
			return nil
		}
		rel, relErr := filepath.Rel(r.Path, path)
		if relErr != nil {
			return nil
		}
		if rel == "." {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		state := root.FromOSFileInfo(rel, info)
		snap := statSnapshot{size: state.Size, mtime: state.Mtime, mode: state.Mode}
		seen[rel] = snap

		if prev, existed := known[rel]; !existed || !prev.equal(snap) {
			observed = append(observed, state)
		}
		return nil
	})
	if walkErr != nil && b.Logger != nil {
		b.Logger.Warn("watch scan failed", "root", r.Path, "error", walkErr)
	}

	for name := range known {
		if _, ok := seen[name]; !ok {
			observed = append(observed, root.FileState{Name: name, Exists: false})
		}
	}

	for name := range known {
		delete(known, name)
	}
	for name, snap := range seen {
		known[name] = snap
	}

	if len(observed) == 0 {
		return
	}
	if b.OnAdvance == nil {
		r.Advance(observed, nil)
		return
	}
	r.Advance(observed, func(changed []match.Record, ticks clock.Ticks) {
		b.OnAdvance(r, changed, ticks)
	})
}
