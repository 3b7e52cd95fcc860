// Package server implements the listener and accept loop spec.md
// §4.4 describes, wiring every other package (root, dispatch,
// clienttable, clientsession, trigger, watchbackend) into a running
// daemon. Grounded on the teacher's Node.Run: unlink-before-bind,
// close-the-listener-on-cancellation shutdown, one goroutine per
// accepted connection.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/codewiresh/fswatchd/internal/clientsession"
	"github.com/codewiresh/fswatchd/internal/clienttable"
	"github.com/codewiresh/fswatchd/internal/clock"
	"github.com/codewiresh/fswatchd/internal/dispatch"
	"github.com/codewiresh/fswatchd/internal/match"
	"github.com/codewiresh/fswatchd/internal/query"
	"github.com/codewiresh/fswatchd/internal/root"
	"github.com/codewiresh/fswatchd/internal/trigger"
	"github.com/codewiresh/fswatchd/internal/watchbackend"
	"github.com/codewiresh/fswatchd/internal/wire"
)

// Server owns the listening socket and every collaborator a session
// needs to dispatch commands.
type Server struct {
	SocketPath   string
	Logger       *slog.Logger
	PollInterval time.Duration

	Roots    *root.Registry
	Clients  *clienttable.Table
	Triggers *trigger.Store
	Backend  *watchbackend.PollingBackend

	reaper *trigger.Reaper

	listener net.Listener
}

// New builds a Server with fresh collaborators. triggerStore may be
// nil if trigger persistence is unavailable (e.g. the trigger database
// could not be opened); triggers are then simply unsupported for
// this run, per spec.md's "external collaborator" framing — watch,
// find, since, query, and subscribe remain fully functional.
func New(socketPath string, pollInterval time.Duration, triggerStore *trigger.Store, logger *slog.Logger) *Server {
	return &Server{
		SocketPath:   socketPath,
		Logger:       logger,
		PollInterval: pollInterval,
		Roots:        root.NewRegistry(),
		Clients:      clienttable.New(),
		Triggers:     triggerStore,
		Backend:      watchbackend.NewPolling(pollInterval, logger),
	}
}

// Run binds the socket, accepts connections until ctx is cancelled or
// shutdown-server is invoked, and blocks until teardown completes. The
// accept backlog (spec.md §4.4 calls for 200) is left at the Go
// runtime's platform default; net.Listen does not expose a backlog
// knob without reaching for raw syscalls, which isn't warranted here.
func (s *Server) Run(ctx context.Context) error {
	_ = os.Remove(s.SocketPath)

	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.SocketPath, err)
	}
	if unixLn, ok := ln.(*net.UnixListener); ok {
		unixLn.SetUnlinkOnClose(true)
	}
	s.listener = ln

	if s.Logger != nil {
		s.Logger.Info("listening", "socket", s.SocketPath)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	triggerMgr := trigger.NewManager(s.Triggers, s.Logger)
	if s.Triggers != nil {
		s.reaper = trigger.NewReaper(triggerMgr, 200*time.Millisecond)
		go s.reaper.Run()
		s.Backend.OnAdvance = func(r *root.Root, changed []match.Record, _ clock.Ticks) {
			s.evaluateTriggers(r, changed, triggerMgr)
		}
	}

	shutdown := func() { s.Shutdown() }
	disp := dispatch.New(s.Roots, s.Clients, s.Triggers, triggerMgr, s.SocketPath, shutdown)

	go func() {
		<-runCtx.Done()
		ln.Close()
	}()

	for {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			select {
			case <-runCtx.Done():
				return nil
			default:
			}
			if errors.Is(acceptErr, net.ErrClosed) {
				return nil
			}
			if s.Logger != nil {
				s.Logger.Error("accept error", "error", acceptErr)
			}
			continue
		}
		go s.handleConn(runCtx, conn, disp)
	}
}

// handleConn peeks the first frame to learn the session's wire
// encoding (spec.md §6: "the encoding of a session's first decoded
// request determines the encoding of all replies"), registers the
// session, and runs its loop until it closes.
func (s *Server) handleConn(ctx context.Context, conn net.Conn, disp *dispatch.Table) {
	defer conn.Close()

	first, err := wire.ReadFrame(conn)
	if err != nil || first == nil {
		return
	}
	args, err := wire.DecodeRequest(first.Encoding, first.Payload)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("malformed initial request, terminating session", "error", err)
		}
		s.writeTerminalError(conn, first.Encoding, err)
		return
	}

	sess := clientsession.New(conn, first.Encoding, s.Logger)
	s.Clients.Register(sess)
	defer func() {
		s.Clients.Deregister(sess)
		for _, name := range sess.OwnedNames() {
			releaseOwned(s.Roots, name)
		}
	}()

	if resp := disp.Dispatch(ctx, sess, args); resp != nil {
		sess.Enqueue(resp)
	}

	if err := sess.Run(ctx, disp); err != nil && s.Logger != nil {
		s.Logger.Debug("session ended", "session", sess.ID, "error", err)
	}
}

// writeTerminalError replies to a connection that never got far enough
// to have a Session (its first frame failed to decode) with a
// {version, error} response in that frame's own encoding, per spec.md
// §4.3's "decode error: enqueue an error response, then terminate."
func (s *Server) writeTerminalError(conn net.Conn, enc wire.Encoding, decodeErr error) {
	frame, err := wire.ErrorResponse(decodeErr).Encode(enc)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Error("failed to encode decode-error response", "error", err)
		}
		return
	}
	if err := wire.WriteFrame(conn, frame); err != nil && s.Logger != nil {
		s.Logger.Warn("failed to write decode-error response", "error", err)
	}
}

// WatchAuto registers each of paths as a root (creating it if it is
// not watched yet) and starts the watch backend on it. It is called
// once at startup for configuration-provided default roots.
func (s *Server) WatchAuto(ctx context.Context, paths []string) {
	for _, p := range paths {
		r, _, err := s.Roots.WatchOrCreate(p)
		if err != nil {
			if s.Logger != nil {
				s.Logger.Error("failed to watch configured root", "path", p, "error", err)
			}
			continue
		}
		if _, err := s.Backend.Watch(ctx, r); err != nil && s.Logger != nil {
			s.Logger.Error("failed to start watch backend", "path", p, "error", err)
		}
	}
}

// Shutdown implements spec.md §4.9's ordered teardown: stop accepting
// connections, release the reaper, and close the listener so Run
// returns.
func (s *Server) Shutdown() {
	if s.reaper != nil {
		s.reaper.Stop()
	}
	s.Clients.Stop()
	if s.listener != nil {
		s.listener.Close()
	}
}

// evaluateTriggers parses each trigger stored for r.Path and fires the
// ones whose expression matches a changed file. Parse failures are
// logged and skipped rather than aborting the whole batch — a bad
// trigger registered by one client shouldn't block notifications for
// the rest.
func (s *Server) evaluateTriggers(r *root.Root, changed []match.Record, mgr *trigger.Manager) {
	defs, err := s.Triggers.List(r.Path)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Error("failed to list triggers", "root", r.Path, "error", err)
		}
		return
	}
	if len(defs) == 0 {
		return
	}

	exprs := make(map[string]query.Expr, len(defs))
	for _, d := range defs {
		var raw any
		if err := json.Unmarshal(d.Expression, &raw); err != nil {
			if s.Logger != nil {
				s.Logger.Error("bad trigger expression", "trigger", d.Name, "error", err)
			}
			continue
		}
		expr, err := query.Parse(raw)
		if err != nil {
			if s.Logger != nil {
				s.Logger.Error("bad trigger expression", "trigger", d.Name, "error", err)
			}
			continue
		}
		exprs[d.Name] = expr
	}

	mgr.Evaluate(defs, changed, exprs)
}

func releaseOwned(roots *root.Registry, name string) {
	rootPath, subName, ok := splitOwnerKey(name)
	if !ok {
		return
	}
	if r, ok := roots.Resolve(rootPath); ok {
		r.Unsubscribe(subName)
	}
}

// splitOwnerKey reverses dispatch.subscriptionOwnerKey's "sub:<root>:<name>"
// encoding. Root paths are absolute and never contain a literal "sub:"
// prefix collision since the key always starts with that exact tag.
func splitOwnerKey(key string) (rootPath, name string, ok bool) {
	const prefix = "sub:"
	if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
		return "", "", false
	}
	rest := key[len(prefix):]
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == ':' {
			return rest[:i], rest[i+1:], true
		}
	}
	return "", "", false
}
