// internal/future/future.go
package future

import (
	"context"
	"sync/atomic"
)

// Future is the result of an asynchronous operation. It completes exactly
// once; later completions are ignored.
type Future[T any] struct {
	done     chan struct{}
	finished uint32
	value    T
	err      error
}

// New returns an incomplete future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Go runs fn in a new goroutine and returns its future.
func Go[T any](fn func() (T, error)) *Future[T] {
	f := New[T]()
	go func() {
		f.Complete(fn())
	}()
	return f
}

// Completed returns a future already holding v.
func Completed[T any](v T) *Future[T] {
	f := New[T]()
	f.Complete(v, nil)
	return f
}

// Failed returns a future already holding err.
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	var zero T
	f.Complete(zero, err)
	return f
}

// Complete sets the result. It reports false if the future was already done.
func (f *Future[T]) Complete(v T, err error) bool {
	if !atomic.CompareAndSwapUint32(&f.finished, 0, 1) {
		return false
	}
	f.value = v
	f.err = err
	close(f.done)
	return true
}

// Done is closed when the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Get waits for the result or for ctx to end. Cancelling ctx only abandons
// the wait; the underlying work is not interrupted.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the result of a completed future. It blocks until then.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.value, f.err
}

// Then chains fn after f succeeds. Failures of f are passed through unchanged.
func Then[T, R any](f *Future[T], fn func(T) (R, error)) *Future[R] {
	next := New[R]()
	go func() {
		v, err := f.Result()
		if err != nil {
			var zero R
			next.Complete(zero, err)
			return
		}
		next.Complete(fn(v))
	}()
	return next
}

// OnComplete calls fn with the result once f is done.
func (f *Future[T]) OnComplete(fn func(T, error)) {
	go func() {
		fn(f.Result())
	}()
}
