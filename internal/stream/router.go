package stream

import (
	"encoding/json"
	"fmt"

	"oaistream/internal/core"
)

// router dispatches session callbacks. It enforces at most one OnOpen, at
// most one terminal callback, and no dispatch after the terminal callback.
// Calls are serialized by the session goroutine. Callback panics propagate.
type router[T any] struct {
	onOpen  func()
	onData  func(T)
	onError func(error)
	onDone  func()

	opened     bool
	terminated bool
}

func newRouter[T any](onData func(T), opts Options) *router[T] {
	return &router[T]{
		onOpen:  opts.OnOpen,
		onData:  onData,
		onError: opts.OnError,
		onDone:  opts.OnDone,
	}
}

func (r *router[T]) open() {
	if r.opened || r.terminated {
		return
	}
	r.opened = true
	if r.onOpen != nil {
		r.onOpen()
	}
}

// data decodes payload into T and dispatches it. A payload that cannot be
// decoded into T is returned as a decode error and nothing is dispatched.
func (r *router[T]) data(payload string) error {
	if r.terminated {
		return nil
	}
	var msg T
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return core.NewUnmarshalError(payload, fmt.Sprintf("%T", msg), err)
	}
	if r.onData != nil {
		r.onData(msg)
	}
	return nil
}

// fail dispatches err as the terminal callback. It reports whether the
// callback slot was still free and whether a handler consumed the error.
func (r *router[T]) fail(err error) (delivered, handled bool) {
	if r.terminated {
		return false, false
	}
	r.terminated = true
	if r.onError == nil {
		return true, false
	}
	r.onError(err)
	return true, true
}

func (r *router[T]) done() bool {
	if r.terminated {
		return false
	}
	r.terminated = true
	if r.onDone != nil {
		r.onDone()
	}
	return true
}
