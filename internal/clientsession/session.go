// Package clientsession implements the per-connection state spec.md
// §4.10 describes: a session cycles through reading a request,
// dispatching it, writing queued responses, and closing, while also
// accepting asynchronous subscription/log deliveries queued from other
// goroutines. The outbound queue and wake channel replace the
// self-pipe idiom the teacher's PTY bridge used for the same kind of
// "wake a blocked reader" problem.
package clientsession

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/codewiresh/fswatchd/internal/wire"
)

// State names the session's position in spec.md §4.10's loop. Session
// does not store or report it: the loop itself is a plain for-select
// over the two input sources.
type State int

const (
	StateReading State = iota
	StateDispatching
	StateWriting
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateReading:
		return "reading"
	case StateDispatching:
		return "dispatching"
	case StateWriting:
		return "writing"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Dispatcher handles one decoded request and returns the response to
// send back (or an error response built by the caller's own command
// table; Dispatch itself never fails the connection).
type Dispatcher interface {
	Dispatch(ctx context.Context, sess *Session, args []any) *wire.Response
}

// Session is one client connection's state: its wire encoding, a FIFO
// of outbound responses awaiting delivery, a non-blocking wake signal,
// and the set of subscription/trigger names it owns so they can be
// torn down on disconnect.
type Session struct {
	ID       string
	conn     io.ReadWriteCloser
	encoding wire.Encoding
	logger   *slog.Logger

	ClientMode bool
	LogLevel   string

	wake chan struct{}

	mu      sync.Mutex
	queue   []*wire.Response
	closed  bool
	ownedBy map[string]struct{} // subscription/trigger names owned by this session
}

// New wraps conn as a session whose wire encoding is fixed by the
// first frame it read (spec.md §4.2: encoding is chosen once, at
// connection start, and held for the connection's lifetime).
func New(conn io.ReadWriteCloser, encoding wire.Encoding, logger *slog.Logger) *Session {
	return &Session{
		ID:       uuid.NewString(),
		conn:     conn,
		encoding: encoding,
		logger:   logger,
		LogLevel: "off",
		wake:     make(chan struct{}, 1),
		ownedBy:  make(map[string]struct{}),
	}
}

// Enqueue appends resp to the outbound FIFO and wakes the write loop.
// Safe to call from any goroutine (subscription fan-out, log sink).
func (s *Session) Enqueue(resp *wire.Response) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, resp)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// popAll drains the outbound FIFO under the lock.
func (s *Session) popAll() []*wire.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	out := s.queue
	s.queue = nil
	return out
}

// Own records that this session holds a named resource (a subscription
// or a trigger), so Names can report them for teardown.
func (s *Session) Own(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownedBy[name] = struct{}{}
}

// Disown removes a previously Own'd resource name.
func (s *Session) Disown(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ownedBy, name)
}

// OwnedNames returns every resource name this session currently owns.
func (s *Session) OwnedNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ownedBy))
	for n := range s.ownedBy {
		out = append(out, n)
	}
	return out
}

// Run drives the session's Reading/Dispatching/Writing loop until the
// connection closes, ctx is cancelled, or a fatal read/write error
// occurs. It returns the terminating error, nil for a clean client
// disconnect.
func (s *Session) Run(ctx context.Context, d Dispatcher) error {
	readErrCh := make(chan error, 1)
	reqCh := make(chan []any, 1)

	go s.readLoop(reqCh, readErrCh)

	for {
		select {
		case <-ctx.Done():
			s.markClosed()
			return ctx.Err()

		case err := <-readErrCh:
			_ = s.flush()
			s.markClosed()
			return err

		case args, ok := <-reqCh:
			if !ok {
				s.markClosed()
				return nil
			}
			resp := d.Dispatch(ctx, s, args)
			if resp != nil {
				s.Enqueue(resp)
			}
			if err := s.flush(); err != nil {
				s.markClosed()
				return err
			}

		case <-s.wake:
			if err := s.flush(); err != nil {
				s.markClosed()
				return err
			}
		}
	}
}

// readLoop decodes frames off the connection and feeds them to reqCh,
// running on its own goroutine so Run's select can also service
// asynchronous wake-ups without blocking on the next read. A decode
// error is terminal (spec.md §4.3/§7): the malformed request gets an
// error reply and the session closes rather than continuing to read.
func (s *Session) readLoop(reqCh chan<- []any, errCh chan<- error) {
	for {
		frame, err := wire.ReadFrame(s.conn)
		if err != nil {
			errCh <- fmt.Errorf("reading request: %w", err)
			return
		}
		if frame == nil {
			close(reqCh)
			return
		}
		args, err := wire.DecodeRequest(frame.Encoding, frame.Payload)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("malformed request, terminating session", "session", s.ID, "error", err)
			}
			s.Enqueue(wire.ErrorResponse(err))
			errCh <- fmt.Errorf("decoding request: %w", err)
			return
		}
		reqCh <- args
	}
}

// flush writes every currently queued response to the connection in
// FIFO order.
func (s *Session) flush() error {
	for _, resp := range s.popAll() {
		frame, err := resp.Encode(s.encoding)
		if err != nil {
			return fmt.Errorf("encoding response: %w", err)
		}
		if err := wire.WriteFrame(s.conn, frame); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
	return nil
}

func (s *Session) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	_ = s.conn.Close()
}
