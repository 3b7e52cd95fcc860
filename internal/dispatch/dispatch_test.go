package dispatch

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/codewiresh/fswatchd/internal/clientsession"
	"github.com/codewiresh/fswatchd/internal/clienttable"
	"github.com/codewiresh/fswatchd/internal/root"
	"github.com/codewiresh/fswatchd/internal/wire"
)

func newTestTable(t *testing.T) (*Table, *clientsession.Session) {
	t.Helper()
	_, serverConn := net.Pipe()
	t.Cleanup(func() { serverConn.Close() })
	sess := clientsession.New(serverConn, wire.EncodingJSON, nil)

	clients := clienttable.New()
	t.Cleanup(clients.Stop)

	table := New(root.NewRegistry(), clients, nil, nil, "/tmp/fswatchd.sock", nil)
	return table, sess
}

func TestDispatchEmptyRequest(t *testing.T) {
	table, sess := newTestTable(t)
	resp := table.Dispatch(context.Background(), sess, nil)
	if resp.Fields["error"] != wire.ErrEmptyRequest.Error() {
		t.Fatalf("unexpected error message: %v", resp.Fields["error"])
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	table, sess := newTestTable(t)
	resp := table.Dispatch(context.Background(), sess, []any{"foo"})
	if resp.Fields["error"] != "unknown command foo" {
		t.Fatalf("unexpected error message: %v", resp.Fields["error"])
	}
}

func TestDispatchWatchThenFind(t *testing.T) {
	table, sess := newTestTable(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	watchResp := table.Dispatch(context.Background(), sess, []any{"watch", dir})
	if watchResp.Fields["error"] != nil {
		t.Fatalf("unexpected watch error: %v", watchResp.Fields["error"])
	}

	r, ok := table.Roots.Resolve(dir)
	if !ok {
		t.Fatal("expected root to be registered after watch")
	}
	r.Advance([]root.FileState{{Name: "a.txt", Exists: true}}, nil)

	findResp := table.Dispatch(context.Background(), sess, []any{"find", dir})
	if len(findResp.Files) != 1 || findResp.Files[0].Name != "a.txt" {
		t.Fatalf("expected one file back, got %+v", findResp.Files)
	}
}

func TestDispatchVersionAndPid(t *testing.T) {
	table, sess := newTestTable(t)
	resp := table.Dispatch(context.Background(), sess, []any{"version"})
	if resp.Fields["version"] != wire.ProtocolVersion {
		t.Fatalf("unexpected version: %v", resp.Fields["version"])
	}
	resp = table.Dispatch(context.Background(), sess, []any{"get-pid"})
	if _, ok := resp.Fields["pid"].(int); !ok {
		t.Fatalf("expected pid to be an int, got %T", resp.Fields["pid"])
	}
}

func TestDispatchClientModeCannotCreateRoot(t *testing.T) {
	table, sess := newTestTable(t)
	sess.ClientMode = true

	resp := table.Dispatch(context.Background(), sess, []any{"find", t.TempDir()})
	if resp.Fields["error"] == nil {
		t.Fatal("expected an UnresolvedRoot error in client mode for a never-watched root")
	}
}

func TestDispatchSubscribeThenUnsubscribe(t *testing.T) {
	table, sess := newTestTable(t)
	dir := t.TempDir()
	table.Dispatch(context.Background(), sess, []any{"watch", dir})

	subResp := table.Dispatch(context.Background(), sess, []any{"subscribe", dir, "s1", nil})
	if subResp.Fields["subscribe"] != "s1" {
		t.Fatalf("unexpected subscribe response: %+v", subResp.Fields)
	}

	unsubResp := table.Dispatch(context.Background(), sess, []any{"unsubscribe", dir, "s1"})
	if unsubResp.Fields["unsubscribe"] != "s1" {
		t.Fatalf("unexpected unsubscribe response: %+v", unsubResp.Fields)
	}
}
