// Package dispatch implements the command registry spec.md §4.5
// describes: request-shape validation, root resolution, and the
// per-command handlers that make up the wire protocol's surface.
package dispatch

import (
	"context"
	"fmt"
	"os"

	"github.com/codewiresh/fswatchd/internal/clientsession"
	"github.com/codewiresh/fswatchd/internal/clienttable"
	"github.com/codewiresh/fswatchd/internal/clock"
	"github.com/codewiresh/fswatchd/internal/query"
	"github.com/codewiresh/fswatchd/internal/root"
	"github.com/codewiresh/fswatchd/internal/trigger"
	"github.com/codewiresh/fswatchd/internal/wire"
)

// Handler answers one command invocation.
type Handler func(ctx context.Context, t *Table, sess *clientsession.Session, args []any) *wire.Response

// Table is the name-to-handler registry plus the collaborators every
// handler needs: the root registry, the client table (for log-level
// and broadcast), and the trigger store/manager.
type Table struct {
	Roots      *root.Registry
	Clients    *clienttable.Table
	Triggers   *trigger.Store
	TriggerMgr *trigger.Manager
	SockPath   string
	Shutdown   func()

	handlers map[string]Handler
}

// New builds a Table with every command from spec.md §4.5 registered.
func New(roots *root.Registry, clients *clienttable.Table, triggers *trigger.Store, triggerMgr *trigger.Manager, sockPath string, shutdown func()) *Table {
	t := &Table{
		Roots:      roots,
		Clients:    clients,
		Triggers:   triggers,
		TriggerMgr: triggerMgr,
		SockPath:   sockPath,
		Shutdown:   shutdown,
	}
	t.handlers = map[string]Handler{
		"watch":           handleWatch,
		"watch-list":      handleWatchList,
		"watch-del":       handleWatchDel,
		"find":            handleFind,
		"since":           handleSince,
		"query":           handleQuery,
		"subscribe":       handleSubscribe,
		"unsubscribe":     handleUnsubscribe,
		"trigger":         handleTrigger,
		"trigger-list":    handleTriggerList,
		"trigger-del":     handleTriggerDel,
		"log-level":       handleLogLevel,
		"log":             handleLog,
		"clock":           handleClock,
		"version":         handleVersion,
		"get-sockname":    handleGetSockname,
		"get-pid":         handleGetPid,
		"shutdown-server": handleShutdownServer,
	}
	return t
}

// Dispatch implements clientsession.Dispatcher: it validates the
// request envelope per spec.md §4.5 and routes to the named handler.
func (t *Table) Dispatch(ctx context.Context, sess *clientsession.Session, args []any) *wire.Response {
	if len(args) == 0 {
		return wire.ErrorResponse(wire.ErrEmptyRequest)
	}
	name, ok := args[0].(string)
	if !ok {
		return wire.ErrorResponse(wire.ErrBadCommandName)
	}
	handler, ok := t.handlers[name]
	if !ok {
		return wire.ErrorResponse(wire.UnknownCommandError(name))
	}
	return handler(ctx, t, sess, args)
}

// stringArg fetches args[idx] as a string, failing with the spec's
// BadArgType/WrongArgCount taxonomy.
func stringArg(args []any, idx int) (string, error) {
	if idx >= len(args) {
		return "", wire.ErrWrongArgCount
	}
	s, ok := args[idx].(string)
	if !ok {
		return "", wire.ErrBadArgType
	}
	return s, nil
}

// resolveRoot resolves args[1] as a root path, honoring the session's
// client-mode flag (read-only resolution never creates a root).
func resolveRoot(t *Table, sess *clientsession.Session, args []any) (*root.Root, error) {
	path, err := stringArg(args, 1)
	if err != nil {
		return nil, err
	}
	if sess.ClientMode {
		r, ok := t.Roots.Resolve(path)
		if !ok {
			return nil, wire.UnresolvedRootError(fmt.Sprintf("unable to resolve root %s: not currently watched in client mode", path))
		}
		return r, nil
	}
	r, _, err := t.Roots.WatchOrCreate(path)
	if err != nil {
		return nil, wire.UnresolvedRootError(err.Error())
	}
	return r, nil
}

func handleWatch(ctx context.Context, t *Table, sess *clientsession.Session, args []any) *wire.Response {
	r, err := resolveRoot(t, sess, args)
	if err != nil {
		return wire.ErrorResponse(err)
	}
	r.Lock()
	tick := r.Clock.Value()
	r.Unlock()
	return wire.NewResponse().Set("root", r.Path).Set("clock", clock.ID(tick)).Set("watch", r.Path)
}

func handleWatchList(ctx context.Context, t *Table, sess *clientsession.Session, args []any) *wire.Response {
	return wire.NewResponse().Set("roots", t.Roots.List())
}

func handleWatchDel(ctx context.Context, t *Table, sess *clientsession.Session, args []any) *wire.Response {
	path, err := stringArg(args, 1)
	if err != nil {
		return wire.ErrorResponse(err)
	}
	removed := t.Roots.Remove(path)
	return wire.NewResponse().Set("root", path).Set("watch-del", removed)
}

func handleFind(ctx context.Context, t *Table, sess *clientsession.Session, args []any) *wire.Response {
	r, err := resolveRoot(t, sess, args)
	if err != nil {
		return wire.ErrorResponse(err)
	}
	expr, err := parseOptionalExpr(args, 2)
	if err != nil {
		return wire.ErrorResponse(fmt.Errorf("%w: %v", wire.ErrCollaborator, err))
	}

	r.Lock()
	tick := r.Clock.Value()
	r.Unlock()
	files := r.Find(expr)

	return wire.NewResponse().Set("clock", clock.ID(tick)).WithFiles(files)
}

func handleSince(ctx context.Context, t *Table, sess *clientsession.Session, args []any) *wire.Response {
	r, err := resolveRoot(t, sess, args)
	if err != nil {
		return wire.ErrorResponse(err)
	}
	specRaw, err := stringOrIntArg(args, 2)
	if err != nil {
		return wire.ErrorResponse(err)
	}
	expr, err := parseOptionalExpr(args, 3)
	if err != nil {
		return wire.ErrorResponse(fmt.Errorf("%w: %v", wire.ErrCollaborator, err))
	}

	r.Lock()
	since, err := clock.ParseSince(specRaw.text, specRaw.isInt, r.State(true))
	if err != nil {
		r.Unlock()
		return wire.ErrorResponse(err)
	}
	files := r.Since(since, expr)
	tick := r.Clock.Value()
	r.Unlock()

	return wire.NewResponse().
		Set("clock", clock.ID(tick)).
		Set("is_fresh_instance", since.IsFreshInstance).
		WithFiles(files)
}

func handleQuery(ctx context.Context, t *Table, sess *clientsession.Session, args []any) *wire.Response {
	r, err := resolveRoot(t, sess, args)
	if err != nil {
		return wire.ErrorResponse(err)
	}
	if len(args) < 3 {
		return wire.ErrorResponse(wire.ErrWrongArgCount)
	}
	expr, err := query.Parse(args[2])
	if err != nil {
		return wire.ErrorResponse(fmt.Errorf("%w: %v", wire.ErrCollaborator, err))
	}

	r.Lock()
	tick := r.Clock.Value()
	r.Unlock()
	files := r.Find(expr)

	return wire.NewResponse().Set("clock", clock.ID(tick)).WithFiles(files)
}

func handleSubscribe(ctx context.Context, t *Table, sess *clientsession.Session, args []any) *wire.Response {
	r, err := resolveRoot(t, sess, args)
	if err != nil {
		return wire.ErrorResponse(err)
	}
	name, err := stringArg(args, 2)
	if err != nil {
		return wire.ErrorResponse(err)
	}
	if len(args) < 4 {
		return wire.ErrorResponse(wire.ErrWrongArgCount)
	}
	expr, err := query.Parse(args[3])
	if err != nil {
		return wire.ErrorResponse(fmt.Errorf("%w: %v", wire.ErrCollaborator, err))
	}

	r.Subscribe(name, expr, func(n root.Notification) {
		t.deliverSubscription(sess, n)
	})
	sess.Own(subscriptionOwnerKey(r.Path, name))

	r.Lock()
	tick := r.Clock.Value()
	r.Unlock()
	files := r.Find(expr)

	return wire.NewResponse().
		Set("subscribe", name).
		Set("clock", clock.ID(tick)).
		WithFiles(files)
}

func (t *Table) deliverSubscription(sess *clientsession.Session, n root.Notification) {
	resp := wire.NewResponse().
		Set("subscription", n.Subscription).
		Set("root", n.Root).
		Set("clock", n.Clock).
		WithFiles(n.Files)
	if n.IsFreshInstance {
		resp.Set("is_fresh_instance", true)
	}
	sess.Enqueue(resp)
}

func handleUnsubscribe(ctx context.Context, t *Table, sess *clientsession.Session, args []any) *wire.Response {
	r, err := resolveRoot(t, sess, args)
	if err != nil {
		return wire.ErrorResponse(err)
	}
	name, err := stringArg(args, 2)
	if err != nil {
		return wire.ErrorResponse(err)
	}
	r.Unsubscribe(name)
	sess.Disown(subscriptionOwnerKey(r.Path, name))
	return wire.NewResponse().Set("unsubscribe", name)
}

func subscriptionOwnerKey(rootPath, name string) string {
	return "sub:" + rootPath + ":" + name
}

func handleLogLevel(ctx context.Context, t *Table, sess *clientsession.Session, args []any) *wire.Response {
	level, err := stringArg(args, 1)
	if err != nil {
		return wire.ErrorResponse(err)
	}
	sess.LogLevel = level
	return wire.NewResponse().Set("log-level", level)
}

func handleLog(ctx context.Context, t *Table, sess *clientsession.Session, args []any) *wire.Response {
	level, err := stringArg(args, 1)
	if err != nil {
		return wire.ErrorResponse(err)
	}
	msg, err := stringArg(args, 2)
	if err != nil {
		return wire.ErrorResponse(err)
	}
	t.Clients.Log(level, msg, nil)
	return wire.NewResponse().Set("logged", true)
}

func handleClock(ctx context.Context, t *Table, sess *clientsession.Session, args []any) *wire.Response {
	r, err := resolveRoot(t, sess, args)
	if err != nil {
		return wire.ErrorResponse(err)
	}
	r.Lock()
	tick := r.Clock.Value()
	r.Unlock()
	return wire.NewResponse().Set("clock", clock.ID(tick))
}

func handleVersion(ctx context.Context, t *Table, sess *clientsession.Session, args []any) *wire.Response {
	return wire.NewResponse().Set("version", wire.ProtocolVersion)
}

func handleGetSockname(ctx context.Context, t *Table, sess *clientsession.Session, args []any) *wire.Response {
	return wire.NewResponse().Set("sockname", t.SockPath)
}

func handleGetPid(ctx context.Context, t *Table, sess *clientsession.Session, args []any) *wire.Response {
	return wire.NewResponse().Set("pid", os.Getpid())
}

func handleShutdownServer(ctx context.Context, t *Table, sess *clientsession.Session, args []any) *wire.Response {
	if t.Shutdown != nil {
		go t.Shutdown()
	}
	return wire.NewResponse().Set("shutdown-server", true)
}

// parseOptionalExpr parses args[idx] as a query expression if present,
// returning a nil Expr (match everything) if the argument was omitted,
// matching find/since's "patterns are optional" contract.
func parseOptionalExpr(args []any, idx int) (query.Expr, error) {
	if idx >= len(args) {
		return nil, nil
	}
	return query.Parse(args[idx])
}

type clockspecArg struct {
	text  string
	isInt bool
}

func stringOrIntArg(args []any, idx int) (clockspecArg, error) {
	if idx >= len(args) {
		return clockspecArg{}, wire.ErrWrongArgCount
	}
	switch v := args[idx].(type) {
	case string:
		return clockspecArg{text: v}, nil
	case int:
		return clockspecArg{text: fmt.Sprintf("%d", v), isInt: true}, nil
	case int64:
		return clockspecArg{text: fmt.Sprintf("%d", v), isInt: true}, nil
	case float64:
		return clockspecArg{text: fmt.Sprintf("%d", int64(v)), isInt: true}, nil
	default:
		return clockspecArg{}, wire.ErrBadArgType
	}
}
