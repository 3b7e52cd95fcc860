// Package clienttable implements the shared registry of live sessions
// spec.md §5 describes. The C original uses one recursive lock because
// log emission re-enters it while broadcasting to every client; the Go
// rendering instead routes log emission through an internal channel
// drained by its own goroutine, which always acquires a fresh,
// non-reentrant lock (spec.md §9's suggested design).
package clienttable

import (
	"context"
	"log/slog"
	"sync"

	"github.com/codewiresh/fswatchd/internal/clientsession"
	"github.com/codewiresh/fswatchd/internal/wire"
)

// Table is the process-wide set of connected sessions.
type Table struct {
	mu       sync.Mutex
	sessions map[string]*clientsession.Session

	logCh  chan logEntry
	stopCh chan struct{}
	doneCh chan struct{}
}

type logEntry struct {
	level   string
	message string
	fields  map[string]any
}

// New returns an empty Table and starts its log-broadcast goroutine.
// Stop must be called to release it.
func New() *Table {
	t := &Table{
		sessions: make(map[string]*clientsession.Session),
		logCh:    make(chan logEntry, 256),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go t.logLoop()
	return t
}

// Stop halts the log-broadcast goroutine.
func (t *Table) Stop() {
	close(t.stopCh)
	<-t.doneCh
}

// Register adds sess to the table.
func (t *Table) Register(sess *clientsession.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[sess.ID] = sess
}

// Deregister removes sess from the table. Callers are responsible for
// releasing any subscriptions/triggers sess.OwnedNames() reports before
// or after calling this (spec.md §4.9's orderly-teardown order).
func (t *Table) Deregister(sess *clientsession.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sess.ID)
}

// Each calls fn for every currently registered session, holding the
// table lock for the duration — fine for the cheap per-session work
// (enqueueing a response) this is used for, but callers must not call
// back into Table from fn or they will deadlock, which is exactly the
// reentrancy the log path below avoids by going through a channel
// instead.
func (t *Table) Each(fn func(*clientsession.Session)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.sessions {
		fn(s)
	}
}

// Count returns the number of registered sessions.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Log queues a log record for broadcast to every session subscribed at
// or above the record's level (spec.md §4.7). It never blocks on the
// table lock: the actual fan-out happens on logLoop's own goroutine.
func (t *Table) Log(level, message string, fields map[string]any) {
	select {
	case t.logCh <- logEntry{level: level, message: message, fields: fields}:
	default:
		// Drop under sustained overload rather than block the caller.
	}
}

func (t *Table) logLoop() {
	defer close(t.doneCh)
	for {
		select {
		case <-t.stopCh:
			return
		case entry := <-t.logCh:
			t.deliverLog(entry)
		}
	}
}

func (t *Table) deliverLog(entry logEntry) {
	resp := wire.NewResponse().Set("log", entry.message).Set("level", entry.level)
	for k, v := range entry.fields {
		resp.Set(k, v)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, sess := range t.sessions {
		if !levelEnabled(sess.LogLevel, entry.level) {
			continue
		}
		sess.Enqueue(resp)
	}
}

// levelOrder mirrors the four filter values the log-level command
// accepts: off, errors, info, debug, from least to most verbose.
var levelOrder = map[string]int{"debug": 0, "info": 1, "errors": 2, "off": 99}

// levelEnabled reports whether a session subscribed at subscribed
// should receive a message logged at produced. "off" (the default)
// never receives anything.
func levelEnabled(subscribed, produced string) bool {
	want, ok := levelOrder[subscribed]
	if !ok || subscribed == "off" {
		return false
	}
	got, ok := levelOrder[produced]
	if !ok {
		return false
	}
	return got >= want
}

// SlogHandler adapts a Table into an slog.Handler so the daemon's own
// structured logging also reaches subscribed clients, in addition to
// stderr (spec.md §4.7: "the daemon's own log output is one of the
// sources feeding the broadcast sink"). Next is always called first;
// Table.Log never returns an error so fan-out cannot fail the log
// call itself.
type SlogHandler struct {
	Table *Table
	Next  slog.Handler
}

func (h *SlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.Next.Enabled(ctx, level)
}

func (h *SlogHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.Next.Handle(ctx, r); err != nil {
		return err
	}
	fields := make(map[string]any, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = a.Value.Any()
		return true
	})
	h.Table.Log(slogLevelName(r.Level), r.Message, fields)
	return nil
}

// slogLevelName maps slog's level scale onto the log-level command's
// debug/info/errors vocabulary; Warn is folded into errors since the
// filter has no separate warning tier.
func slogLevelName(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "debug"
	case level < slog.LevelWarn:
		return "info"
	default:
		return "errors"
	}
}

func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SlogHandler{Table: h.Table, Next: h.Next.WithAttrs(attrs)}
}

func (h *SlogHandler) WithGroup(name string) slog.Handler {
	return &SlogHandler{Table: h.Table, Next: h.Next.WithGroup(name)}
}
