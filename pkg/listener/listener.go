// Package listener runs a handler on a goroutine for every value received
// from a channel.
package listener

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var errListenerStopped = errors.New("listener stopped")

// Job is a background task with an explicit lifecycle.
type Job interface {
	Start(ctx context.Context)
	Stop()
}

// Listener consumes in until it is stopped or in is closed. Handler errors
// are passed to the error hook and do not stop the loop.
type Listener[T any] struct {
	handler     func(ctx context.Context, input T) error
	onError     func(error)
	stopHandler func()

	in     <-chan T
	wg     sync.WaitGroup
	cancel func()
}

// Option configures a Listener.
type Option[T any] func(*Listener[T])

// WithStopHandler runs fn once after the loop exits on Stop.
func WithStopHandler[T any](fn func()) Option[T] {
	return func(l *Listener[T]) { l.stopHandler = fn }
}

// WithErrorHandler replaces the default error hook, which logs.
func WithErrorHandler[T any](fn func(error)) Option[T] {
	return func(l *Listener[T]) { l.onError = fn }
}

func New[T any](
	in <-chan T,
	handler func(context.Context, T) error,
	opts ...Option[T],
) *Listener[T] {
	l := &Listener[T]{
		in:          in,
		handler:     handler,
		cancel:      func() {},
		stopHandler: func() {},
		onError: func(err error) {
			slog.Error("listener handler failed", "error", err)
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Listener[T]) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		for {
			err := l.run(ctx)
			switch {
			case errors.Is(err, errListenerStopped):
				return
			case err != nil:
				l.onError(err)
			}
		}
	}()
}

func (l *Listener[T]) run(ctx context.Context) error {
	select {
	case inp, ok := <-l.in:
		if !ok {
			return errListenerStopped
		}
		return l.handler(ctx, inp)
	case <-ctx.Done():
		return errListenerStopped
	}
}

// Stop cancels the loop, waits for the running handler and then calls the
// stop handler.
func (l *Listener[T]) Stop() {
	l.cancel()
	l.wg.Wait()
	l.stopHandler()
}
