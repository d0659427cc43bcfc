// internal/cursor/cursor.go
package cursor

// Iterator is a single-pass, forward-only sequence.
//
// After Next returns true, a non-nil Err means the current element could
// not be decoded: Value is then the zero value and Next may be called again
// to move past it. After Next returns false, Err reports the failure that
// ended the sequence, if any.
type Iterator[T any] interface {
	Next() bool
	// Value returns the current element. It panics unless the last call
	// to Next returned true.
	Value() T
	Err() error
	// Close releases the iterator; pending prefetches are discarded.
	Close()
}

// state is the bookkeeping shared by the iterators of this package.
type state[T any] struct {
	cur     T
	valid   bool
	itemErr error
	err     error
	done    bool
}

func (s *state[T]) Value() T {
	if !s.valid {
		panic("cursor: Value called without a successful Next")
	}
	return s.cur
}

func (s *state[T]) Err() error {
	if s.valid && s.itemErr != nil {
		return s.itemErr
	}
	return s.err
}

func (s *state[T]) reset() {
	var zero T
	s.cur, s.valid, s.itemErr = zero, false, nil
}

func (s *state[T]) set(v T, err error) bool {
	if err != nil {
		var zero T
		v = zero
	}
	s.cur, s.valid, s.itemErr = v, true, err
	return true
}

func (s *state[T]) finish(err error) bool {
	s.reset()
	s.done = true
	if s.err == nil {
		s.err = err
	}
	return false
}

type sliceIter[T any] struct {
	state[T]
	items []T
	pos   int
}

// Slice iterates over items.
func Slice[T any](items []T) Iterator[T] {
	return &sliceIter[T]{items: items}
}

// Empty returns a drained iterator.
func Empty[T any]() Iterator[T] {
	return &sliceIter[T]{}
}

func (it *sliceIter[T]) Next() bool {
	it.reset()
	if it.done || it.pos >= len(it.items) {
		return it.finish(nil)
	}
	it.pos++
	return it.set(it.items[it.pos-1], nil)
}

func (it *sliceIter[T]) Close() {
	it.finish(nil)
	it.items = nil
}

// Collect drains it into a slice. It stops at the first error, whether
// the sequence ended or a single element failed.
func Collect[T any](it Iterator[T]) ([]T, error) {
	defer it.Close()
	var out []T
	for it.Next() {
		if err := it.Err(); err != nil {
			return out, err
		}
		out = append(out, it.Value())
	}
	return out, it.Err()
}
