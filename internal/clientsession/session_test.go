package clientsession

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/codewiresh/fswatchd/internal/wire"
)

type echoDispatcher struct{}

func (echoDispatcher) Dispatch(ctx context.Context, sess *Session, args []any) *wire.Response {
	return wire.NewResponse().Set("echo", args)
}

func encodeRequestJSON(args []any) (*wire.Frame, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return &wire.Frame{Encoding: wire.EncodingJSON, Payload: payload}, nil
}

func TestSessionRunEchoesRequest(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	sess := New(serverConn, wire.EncodingJSON, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- sess.Run(ctx, echoDispatcher{}) }()

	req, err := encodeRequestJSON([]any{"version"})
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	if err := wire.WriteFrame(clientConn, req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	frame, err := wire.ReadFrame(clientConn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if frame == nil {
		t.Fatal("expected a response frame")
	}

	clientConn.Close()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not exit after connection close")
	}
}

func TestSessionRunTerminatesOnDecodeError(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	sess := New(serverConn, wire.EncodingJSON, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- sess.Run(ctx, echoDispatcher{}) }()

	malformed := &wire.Frame{Encoding: wire.EncodingJSON, Payload: []byte("not json")}
	if err := wire.WriteFrame(clientConn, malformed); err != nil {
		t.Fatalf("write malformed frame: %v", err)
	}

	frame, err := wire.ReadFrame(clientConn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if frame == nil {
		t.Fatal("expected an error response frame before the session closed")
	}
	var resp map[string]any
	if err := json.Unmarshal(frame.Payload, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if _, ok := resp["error"]; !ok {
		t.Fatalf("expected an error field in the response, got %+v", resp)
	}

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate after a decode error")
	}
}

func TestSessionEnqueueWithoutRunDoesNotBlock(t *testing.T) {
	_, serverConn := net.Pipe()
	defer serverConn.Close()

	sess := New(serverConn, wire.EncodingJSON, nil)
	for i := 0; i < 8; i++ {
		sess.Enqueue(wire.NewResponse())
	}
	if len(sess.popAll()) != 8 {
		t.Fatal("expected all enqueued responses to be retrievable")
	}
}

func TestSessionOwnershipTracking(t *testing.T) {
	_, serverConn := net.Pipe()
	defer serverConn.Close()

	sess := New(serverConn, wire.EncodingJSON, nil)
	sess.Own("sub1")
	sess.Own("sub2")
	sess.Disown("sub1")

	names := sess.OwnedNames()
	if len(names) != 1 || names[0] != "sub2" {
		t.Fatalf("expected only sub2 to remain owned, got %v", names)
	}
}
