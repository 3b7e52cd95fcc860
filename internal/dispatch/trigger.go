package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codewiresh/fswatchd/internal/clientsession"
	"github.com/codewiresh/fswatchd/internal/query"
	"github.com/codewiresh/fswatchd/internal/trigger"
	"github.com/codewiresh/fswatchd/internal/wire"
)

// handleTrigger registers a persistent command trigger: ["trigger",
// path, name, expr, command...]. The query expression is stored
// alongside the command and re-parsed into the in-memory exprs map
// every time triggers for a root need evaluating (internal/server
// wires Advance's changed-file batch through trigger.Manager.Evaluate).
func handleTrigger(ctx context.Context, t *Table, sess *clientsession.Session, args []any) *wire.Response {
	r, err := resolveRoot(t, sess, args)
	if err != nil {
		return wire.ErrorResponse(err)
	}
	name, err := stringArg(args, 2)
	if err != nil {
		return wire.ErrorResponse(err)
	}
	if len(args) < 5 {
		return wire.ErrorResponse(wire.ErrWrongArgCount)
	}
	if _, err := query.Parse(args[3]); err != nil {
		return wire.ErrorResponse(fmt.Errorf("%w: %v", wire.ErrCollaborator, err))
	}
	exprRaw, err := json.Marshal(args[3])
	if err != nil {
		return wire.ErrorResponse(fmt.Errorf("%w: %v", wire.ErrCollaborator, err))
	}

	command := make([]string, 0, len(args)-4)
	for _, c := range args[4:] {
		s, ok := c.(string)
		if !ok {
			return wire.ErrorResponse(wire.ErrBadArgType)
		}
		command = append(command, s)
	}

	def := trigger.Definition{Root: r.Path, Name: name, Expression: exprRaw, Command: command}
	if t.Triggers != nil {
		if err := t.Triggers.Put(def); err != nil {
			return wire.ErrorResponse(fmt.Errorf("%w: %v", wire.ErrCollaborator, err))
		}
	}
	return wire.NewResponse().Set("trigger", name)
}

func handleTriggerList(ctx context.Context, t *Table, sess *clientsession.Session, args []any) *wire.Response {
	r, err := resolveRoot(t, sess, args)
	if err != nil {
		return wire.ErrorResponse(err)
	}
	if t.Triggers == nil {
		return wire.NewResponse().Set("triggers", []any{})
	}
	defs, err := t.Triggers.List(r.Path)
	if err != nil {
		return wire.ErrorResponse(fmt.Errorf("%w: %v", wire.ErrCollaborator, err))
	}
	out := make([]any, 0, len(defs))
	for _, d := range defs {
		out = append(out, map[string]any{"name": d.Name, "command": d.Command})
	}
	return wire.NewResponse().Set("triggers", out)
}

func handleTriggerDel(ctx context.Context, t *Table, sess *clientsession.Session, args []any) *wire.Response {
	r, err := resolveRoot(t, sess, args)
	if err != nil {
		return wire.ErrorResponse(err)
	}
	name, err := stringArg(args, 2)
	if err != nil {
		return wire.ErrorResponse(err)
	}
	var removed bool
	if t.Triggers != nil {
		removed, err = t.Triggers.Delete(r.Path, name)
		if err != nil {
			return wire.ErrorResponse(fmt.Errorf("%w: %v", wire.ErrCollaborator, err))
		}
	}
	return wire.NewResponse().Set("trigger-del", removed)
}
