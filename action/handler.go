package action

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrInFlight = errors.New("operation already in flight")

// Result is the observable state of a Handler. IsLoading and IsComplete are never both true,
// and Data and Err are never both set by the same execution.
type Result[T any] struct {
	Data       *T
	Err        error
	IsLoading  bool
	IsComplete bool
}

type Operation[T any] func(ctx context.Context) (T, error)

type callbacks[T any] struct {
	onSuccess func(T)
	onError   func(error)
}

type CallOption[T any] func(*callbacks[T])

func OnSuccess[T any](fn func(T)) CallOption[T] {
	return func(c *callbacks[T]) {
		c.onSuccess = fn
	}
}

func OnError[T any](fn func(error)) CallOption[T] {
	return func(c *callbacks[T]) {
		c.onError = fn
	}
}

// Handler wraps a single asynchronous operation and keeps the state of its last execution.
type Handler[T any] struct {
	mu      sync.Mutex
	state   Result[T]
	onError func(error)
}

func NewHandler[T any](onError func(error)) *Handler[T] {
	return &Handler[T]{
		onError: onError,
	}
}

// Execute runs op and records its outcome. It never panics; the outcome is only observable
// through the returned Result. A call made while another is loading is refused with ErrInFlight
// and leaves the stored state untouched.
func (h *Handler[T]) Execute(ctx context.Context, op Operation[T], opts ...CallOption[T]) Result[T] {
	cb := &callbacks[T]{}
	for _, opt := range opts {
		opt(cb)
	}

	h.mu.Lock()
	if h.state.IsLoading {
		h.mu.Unlock()
		return Result[T]{Err: ErrInFlight, IsComplete: true}
	}
	h.state = Result[T]{
		Data:      h.state.Data,
		IsLoading: true,
	}
	h.mu.Unlock()

	data, err := run(ctx, op)

	h.mu.Lock()
	if err != nil {
		h.state = Result[T]{
			Err:        err,
			IsComplete: true,
		}
	} else {
		h.state = Result[T]{
			Data:       &data,
			IsComplete: true,
		}
	}
	res := h.state
	h.mu.Unlock()

	if err != nil {
		if h.onError != nil {
			h.onError(err)
		}
		if cb.onError != nil {
			cb.onError(err)
		}
		return res
	}
	if cb.onSuccess != nil {
		cb.onSuccess(data)
	}
	return res
}

func (h *Handler[T]) State() Result[T] {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handler[T]) IsLoading() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.IsLoading
}

func (h *Handler[T]) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = Result[T]{}
}

func run[T any](ctx context.Context, op Operation[T]) (data T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	if err = ctx.Err(); err != nil {
		return data, err
	}
	return op(ctx)
}
