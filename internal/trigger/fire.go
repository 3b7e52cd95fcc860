package trigger

import (
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/creack/pty"

	"github.com/codewiresh/fswatchd/internal/match"
	"github.com/codewiresh/fswatchd/internal/query"
)

// Manager evaluates triggers against changed files and fires their
// commands, tracking running child processes for the reaper.
type Manager struct {
	store  *Store
	logger *slog.Logger
	// UsePTY runs fired commands under a pseudo-terminal, matching the
	// teacher's interactive-session launch path, for triggers whose
	// command output benefits from terminal framing (progress bars,
	// color). Off by default: most triggers are one-shot build/lint
	// commands better run with plain pipes.
	UsePTY bool

	exited chan exitedChild
}

type exitedChild struct {
	pid       int
	triggerID string
	err       error
}

// NewManager returns a Manager backed by store. The exited channel is
// buffered generously since a burst of triggers can fire in the same
// Advance batch; the reaper drains it on its own schedule.
func NewManager(store *Store, logger *slog.Logger) *Manager {
	return &Manager{store: store, logger: logger, exited: make(chan exitedChild, 256)}
}

// Evaluate runs every trigger in defs whose expression matches at
// least one of changed, launching each match's command exactly once
// per Advance batch (spec.md §4.5's trigger semantics: fires on
// matching changes, not on subscribe). exprs maps trigger name to its
// already-parsed query.Expr.
func (m *Manager) Evaluate(defs []Definition, changed []match.Record, exprs map[string]query.Expr) {
	for _, d := range defs {
		expr, ok := exprs[d.Name]
		if !ok {
			continue
		}
		var hit bool
		for _, rec := range changed {
			if expr.Match(recordToFileInfo(rec)) {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		if err := m.fire(d); err != nil && m.logger != nil {
			m.logger.Error("trigger fire failed", "trigger", d.Name, "root", d.Root, "error", err)
		}
	}
}

func recordToFileInfo(rec match.Record) query.FileInfo {
	return query.FileInfo{
		Name:       rec.Name,
		Exists:     rec.Exists,
		Size:       rec.Size,
		MtimeEpoch: rec.Mtime,
		CtimeEpoch: rec.Ctime,
	}
}

func (m *Manager) fire(d Definition) error {
	if len(d.Command) == 0 {
		return fmt.Errorf("trigger %q has an empty command", d.Name)
	}

	cmd := exec.Command(d.Command[0], d.Command[1:]...)
	cmd.Dir = d.Root

	var err error
	if m.UsePTY {
		_, err = pty.Start(cmd)
	} else {
		err = cmd.Start()
	}
	if err != nil {
		return fmt.Errorf("starting trigger %q: %w", d.Name, err)
	}

	if m.logger != nil {
		m.logger.Info("trigger fired", "trigger", d.Name, "root", d.Root, "pid", cmd.Process.Pid)
	}

	pid := cmd.Process.Pid
	go func() {
		waitErr := cmd.Wait()
		m.exited <- exitedChild{pid: pid, triggerID: d.Name, err: waitErr}
	}()

	return nil
}

// Reaper drains fired trigger processes' exit notifications so their
// outcomes are logged instead of silently discarded, mirroring the
// teacher's PTY session cleanup loop but for one-shot trigger commands
// instead of long-lived shells.
type Reaper struct {
	manager  *Manager
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewReaper returns a Reaper that harvests m's finished children every
// interval.
func NewReaper(m *Manager, interval time.Duration) *Reaper {
	return &Reaper{manager: m, interval: interval, stop: make(chan struct{}), done: make(chan struct{})}
}

// Run blocks, reaping on each tick, until Stop is called.
func (r *Reaper) Run() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.reapOnce()
		case c := <-r.manager.exited:
			r.logExit(c)
		}
	}
}

// Stop halts the reaper and waits for its goroutine to exit.
func (r *Reaper) Stop() {
	close(r.stop)
	<-r.done
}

// reapOnce drains any exit notifications already queued without
// blocking, so a tick with nothing to do returns immediately.
func (r *Reaper) reapOnce() {
	for {
		select {
		case c := <-r.manager.exited:
			r.logExit(c)
		default:
			return
		}
	}
}

func (r *Reaper) logExit(c exitedChild) {
	if r.manager.logger == nil {
		return
	}
	if c.err != nil {
		r.manager.logger.Warn("trigger command exited with error", "trigger", c.triggerID, "pid", c.pid, "error", c.err)
		return
	}
	r.manager.logger.Debug("trigger command exited", "trigger", c.triggerID, "pid", c.pid)
}
