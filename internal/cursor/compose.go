package cursor

type mapIter[S, T any] struct {
	state[T]
	src Iterator[S]
	fn  func(S) (T, error)
}

// Map converts every element of src. A conversion error fails that element
// only.
func Map[S, T any](src Iterator[S], fn func(S) (T, error)) Iterator[T] {
	return &mapIter[S, T]{src: src, fn: fn}
}

func (it *mapIter[S, T]) Next() bool {
	it.reset()
	if it.done {
		return false
	}
	if !it.src.Next() {
		return it.finish(it.src.Err())
	}
	if err := it.src.Err(); err != nil {
		var zero T
		return it.set(zero, err)
	}
	return it.set(it.fn(it.src.Value()))
}

func (it *mapIter[S, T]) Close() {
	it.finish(nil)
	it.src.Close()
}

type filterIter[T any] struct {
	state[T]
	src  Iterator[T]
	keep func(T) bool
}

// Filter skips the elements keep rejects. Failed elements are passed on.
func Filter[T any](src Iterator[T], keep func(T) bool) Iterator[T] {
	return &filterIter[T]{src: src, keep: keep}
}

func (it *filterIter[T]) Next() bool {
	it.reset()
	if it.done {
		return false
	}
	for it.src.Next() {
		if err := it.src.Err(); err != nil {
			var zero T
			return it.set(zero, err)
		}
		if v := it.src.Value(); it.keep(v) {
			return it.set(v, nil)
		}
	}
	return it.finish(it.src.Err())
}

func (it *filterIter[T]) Close() {
	it.finish(nil)
	it.src.Close()
}

type limitIter[T any] struct {
	state[T]
	src  Iterator[T]
	left int
}

// Limit stops after n elements; n <= 0 means no limit. The source is closed
// once the limit is reached.
func Limit[T any](src Iterator[T], n int) Iterator[T] {
	if n <= 0 {
		return src
	}
	return &limitIter[T]{src: src, left: n}
}

func (it *limitIter[T]) Next() bool {
	it.reset()
	if it.done {
		return false
	}
	if it.left == 0 {
		it.src.Close()
		return it.finish(nil)
	}
	if !it.src.Next() {
		return it.finish(it.src.Err())
	}
	it.left--
	if err := it.src.Err(); err != nil {
		var zero T
		return it.set(zero, err)
	}
	return it.set(it.src.Value(), nil)
}

func (it *limitIter[T]) Close() {
	it.finish(nil)
	it.src.Close()
}

type flatIter[S, T any] struct {
	state[T]
	src   Iterator[S]
	fn    func(S) ([]T, error)
	items []T
	pos   int
}

// FlatMap expands every element of src into zero or more elements. If fn
// fails, the error takes the place of that element's output.
func FlatMap[S, T any](src Iterator[S], fn func(S) ([]T, error)) Iterator[T] {
	return &flatIter[S, T]{src: src, fn: fn}
}

func (it *flatIter[S, T]) Next() bool {
	it.reset()
	if it.done {
		return false
	}
	for it.pos >= len(it.items) {
		it.items, it.pos = nil, 0
		if !it.src.Next() {
			return it.finish(it.src.Err())
		}
		var zero T
		if err := it.src.Err(); err != nil {
			return it.set(zero, err)
		}
		items, err := it.fn(it.src.Value())
		if err != nil {
			return it.set(zero, err)
		}
		it.items = items
	}
	it.pos++
	return it.set(it.items[it.pos-1], nil)
}

func (it *flatIter[S, T]) Close() {
	it.finish(nil)
	it.items = nil
	it.src.Close()
}

// Source opens the iterator of the next segment of a sequence. It returns
// a nil iterator when there are no more segments.
type Source[T any] func() (Iterator[T], error)

type concatIter[T any] struct {
	state[T]
	open Source[T]
	cur  Iterator[T]
}

// Concat chains the segments produced by open, opening each one only when
// the previous one is drained.
func Concat[T any](open Source[T]) Iterator[T] {
	return &concatIter[T]{open: open}
}

func (it *concatIter[T]) Next() bool {
	it.reset()
	if it.done {
		return false
	}
	for {
		if it.cur == nil {
			seg, err := it.open()
			if err != nil {
				return it.finish(err)
			}
			if seg == nil {
				return it.finish(nil)
			}
			it.cur = seg
		}
		if it.cur.Next() {
			if err := it.cur.Err(); err != nil {
				var zero T
				return it.set(zero, err)
			}
			return it.set(it.cur.Value(), nil)
		}
		err := it.cur.Err()
		it.cur.Close()
		it.cur = nil
		if err != nil {
			return it.finish(err)
		}
	}
}

func (it *concatIter[T]) Close() {
	it.finish(nil)
	if it.cur != nil {
		it.cur.Close()
		it.cur = nil
	}
}
