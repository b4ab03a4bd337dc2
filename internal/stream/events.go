package stream

import "context"

// EventKind tags an Event.
type EventKind int

const (
	EventOpen EventKind = iota
	EventData
	EventError
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventData:
		return "data"
	case EventError:
		return "error"
	case EventDone:
		return "done"
	}
	return "unknown"
}

// Event is one session callback delivered over a channel.
type Event[T any] struct {
	Kind EventKind
	Data T
	Err  error
}

// Events starts a session and delivers its callbacks as events on the
// returned channel, with the same ordering and exclusivity as Stream. The
// last event is EventDone or EventError, after which the channel is closed.
//
// The caller should receive until the channel is closed. Session.Cancel or
// cancelling ctx ends the session even when nobody is receiving; events the
// caller is not ready for at that point are dropped. opts callbacks are
// ignored, Hooks and Logger are used.
func Events[T any](ctx context.Context, t Transport, req *Request, opts Options) (<-chan Event[T], *Session) {
	ch := make(chan Event[T])
	s, ctx := newSession(ctx, req)

	send := func(ev Event[T]) {
		select {
		case ch <- ev:
			return
		case <-ctx.Done():
		}
		select {
		case ch <- ev:
		default:
		}
	}

	opts.OnOpen = func() {
		send(Event[T]{Kind: EventOpen})
	}
	opts.OnError = func(err error) {
		send(Event[T]{Kind: EventError, Err: err})
	}
	opts.OnDone = func() {
		send(Event[T]{Kind: EventDone})
	}
	onData := func(msg T) {
		send(Event[T]{Kind: EventData, Data: msg})
	}

	s.start(ctx, t, req, newRouter(onData, opts), opts)
	go func() {
		<-s.Done()
		close(ch)
	}()
	return ch, s
}
