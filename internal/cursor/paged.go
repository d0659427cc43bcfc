package cursor

import (
	"context"

	"Cradle-storage/internal/future"
	"Cradle-storage/internal/storage"
)

// NextPage starts fetching the page after p. It returns nil when p is the
// last page of its result.
type NextPage func(ctx context.Context, p *storage.ResultPage) *future.Future[*storage.ResultPage]

// Paged walks the rows of a multi-page backend result, converting each row
// with convert. The next backend page is requested as soon as the current
// one is delivered, so at most one fetch is in flight.
type Paged[T any] struct {
	state[T]
	ctx     context.Context
	next    NextPage
	convert func(storage.Row) (T, error)

	rows    []storage.Row
	pos     int
	pending *future.Future[*storage.ResultPage]
}

func NewPaged[T any](ctx context.Context, first *storage.ResultPage, next NextPage, convert func(storage.Row) (T, error)) *Paged[T] {
	p := &Paged[T]{ctx: ctx, next: next, convert: convert}
	p.deliver(first)
	return p
}

func (p *Paged[T]) deliver(page *storage.ResultPage) {
	p.rows, p.pos, p.pending = nil, 0, nil
	if page == nil {
		return
	}
	p.rows = page.Rows
	if page.HasMore && p.ctx.Err() == nil {
		p.pending = p.next(p.ctx, page)
	}
}

func (p *Paged[T]) Next() bool {
	p.reset()
	if p.done {
		return false
	}
	for p.pos >= len(p.rows) {
		if p.pending == nil {
			return p.finish(nil)
		}
		page, err := p.pending.Get(p.ctx)
		if err != nil {
			p.pending = nil
			return p.finish(err)
		}
		p.deliver(page)
	}
	row := p.rows[p.pos]
	p.pos++
	return p.set(p.convert(row))
}

func (p *Paged[T]) Close() {
	p.finish(nil)
	p.rows, p.pending = nil, nil
}
