package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"oaistream/internal/core"
	"oaistream/internal/sse"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Outcome is how a session ended.
type Outcome string

const (
	OutcomeDone     Outcome = "done"
	OutcomeError    Outcome = "error"
	OutcomeCanceled Outcome = "canceled"
)

// Stats describes a finished session.
type Stats struct {
	SessionID string
	Operation string
	// Frames is the number of data increments delivered to OnData.
	Frames   int
	Opened   bool
	Duration time.Duration
	Outcome  Outcome
	Err      error
}

// Hooks observe session lifecycles. Nil hooks are skipped.
type Hooks struct {
	OnStart func(sessionID, operation string)
	OnEnd   func(stats Stats)
}

// Options holds the optional callbacks of a session.
type Options struct {
	// OnOpen fires once when the connection opens, before any OnData.
	OnOpen func()
	// OnError fires at most once on any abnormal exit. When nil the error is
	// not reported to the caller.
	OnError func(err error)
	// OnDone fires at most once when the stream ends with the sentinel.
	OnDone func()

	Hooks  Hooks
	Logger *slog.Logger
}

// Session is the lifecycle of one streaming request.
type Session struct {
	id        string
	operation string
	state     atomic.Int32

	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	closeOnce sync.Once

	mu     sync.Mutex
	body   io.ReadCloser
	closed bool
}

// ID returns the session id, also sent as the client request id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed once the session has reached StateClosed and its terminal
// callback has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session ends and returns the error delivered to
// OnError, or nil if the stream completed normally.
func (s *Session) Wait() error {
	<-s.done
	return s.err
}

// Cancel aborts the session. An open session reports a canceled error
// through OnError. Cancel is safe to call multiple times and after the
// session has ended.
func (s *Session) Cancel() {
	s.cancel()
	s.closeBody()
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// attach records the open body so Cancel can close it.
func (s *Session) attach(body io.ReadCloser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.body = body
	if s.closed {
		s.closeOnce.Do(func() { _ = body.Close() })
	}
}

// closeBody closes the connection at most once.
func (s *Session) closeBody() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.body == nil {
		return
	}
	s.closeOnce.Do(func() { _ = s.body.Close() })
}

// Stream starts a streaming session and returns immediately. Every data
// increment is decoded into T and passed to onData in arrival order. Exactly
// one of opts.OnDone or opts.OnError fires once the session reaches a
// terminal condition, and nothing is dispatched after it.
//
// Callbacks run on the session goroutine and are never invoked concurrently.
// Cancelling ctx or calling Session.Cancel aborts the session.
func Stream[T any](ctx context.Context, t Transport, req *Request, onData func(T), opts Options) *Session {
	s, ctx := newSession(ctx, req)
	s.start(ctx, t, req, newRouter(onData, opts), opts)
	return s
}

// newSession creates an idle session and the context that scopes it.
// Session.Cancel cancels the returned context.
func newSession(ctx context.Context, req *Request) (*Session, context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	s := &Session{
		id:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if req != nil {
		s.operation = req.Operation()
	}
	if !core.IsValidClientRequestID(core.GetRequestID(ctx)) {
		ctx = core.WithRequestID(ctx, s.id)
	}
	return s, ctx
}

func (s *Session) start(ctx context.Context, t Transport, req *Request, r dispatcher, opts Options) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", s.id, "operation", s.operation)

	s.setState(StateConnecting)
	go s.run(ctx, t, req, r, opts.Hooks, logger)
}

// run drives the state machine on the session goroutine.
func (s *Session) run(ctx context.Context, t Transport, req *Request, r dispatcher, hooks Hooks, logger *slog.Logger) {
	start := time.Now()
	stats := Stats{SessionID: s.id, Operation: s.operation}

	if hooks.OnStart != nil {
		hooks.OnStart(s.id, s.operation)
	}
	defer func() {
		s.cancel()
		if hooks.OnEnd != nil {
			stats.Duration = time.Since(start)
			hooks.OnEnd(stats)
		}
		close(s.done)
	}()
	defer s.closeBody()
	// Ending ctx closes the body so a read blocked on a silent upstream returns.
	stop := context.AfterFunc(ctx, s.closeBody)
	defer stop()

	fail := func(err error) {
		s.setState(StateClosed)
		s.err = err
		stats.Err = err
		stats.Outcome = OutcomeError
		if core.IsType(err, core.ErrorTypeCanceled) {
			stats.Outcome = OutcomeCanceled
		}
		if _, handled := r.fail(err); !handled {
			logger.Debug("stream error dropped: no error handler", "error", err)
		} else {
			logger.Debug("stream failed", "error", err, "frames", stats.Frames)
		}
	}

	if t == nil || req == nil {
		fail(core.NewInvalidRequestError("stream requires a transport and a request", nil))
		return
	}

	body, err := t.Open(ctx, req)
	if err != nil {
		fail(classifyOpenError(ctx, err))
		return
	}
	s.attach(body)

	if ctxErr := core.FromContext(ctx); ctxErr != nil {
		fail(ctxErr)
		return
	}

	s.setState(StateOpen)
	stats.Opened = true
	logger.Debug("stream opened")
	r.open()

	dec := sse.NewDecoder(body)
	for {
		if ctxErr := core.FromContext(ctx); ctxErr != nil {
			fail(ctxErr)
			return
		}

		frame, err := dec.Next()
		if err != nil {
			fail(classifyReadError(ctx, err))
			return
		}

		ev, ok := sse.Interpret(frame.Data)
		if !ok {
			continue
		}
		if frame.Event != "" || frame.ID != "" {
			logger.Debug("stream frame", "event", frame.Event, "id", frame.ID, "kind", ev.Kind.String())
		}

		switch ev.Kind {
		case sse.KindTerminal:
			s.setState(StateClosed)
			stats.Outcome = OutcomeDone
			r.done()
			logger.Debug("stream done", "frames", stats.Frames)
			return
		case sse.KindMalformed:
			fail(core.NewDecodeError(ev.Payload, ev.Cause, nil))
			return
		case sse.KindData:
			if err := r.data(ev.Payload); err != nil {
				fail(err)
				return
			}
			stats.Frames++
		}
	}
}

// dispatcher is the type-erased view of router[T] used by the session loop.
type dispatcher interface {
	open()
	data(payload string) error
	fail(err error) (delivered, handled bool)
	done() bool
}

func classifyOpenError(ctx context.Context, err error) error {
	if ctxErr := core.FromContext(ctx); ctxErr != nil {
		return ctxErr
	}
	var clientErr *core.ClientError
	if errors.As(err, &clientErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return core.NewCanceledError(err)
	}
	return core.NewTransportError("failed to open stream: "+err.Error(), err)
}

func classifyReadError(ctx context.Context, err error) error {
	if ctxErr := core.FromContext(ctx); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, io.EOF) {
		return core.NewTransportError("stream closed before "+sse.DoneSentinel+" sentinel", nil)
	}
	return core.NewTransportError("stream read failed: "+err.Error(), err)
}
