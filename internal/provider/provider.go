// internal/provider/provider.go
package provider

import (
	"context"

	"Cradle-storage/internal/book"
	"Cradle-storage/internal/cursor"
	"Cradle-storage/internal/fetcher"
	"Cradle-storage/internal/filter"
	"Cradle-storage/internal/storage"
)

// PageQuery is the backend query covering one page of a book.
type PageQuery struct {
	Page  book.PageInfo
	Query storage.Query
}

// pager turns resolved bounds into one backend query per page, walking
// the book from the first to the last page of the bounds.
type pager struct {
	book    *book.BookInfo
	bounds  filter.Bounds
	fetcher *fetcher.Fetcher
	build   func(ctx context.Context, page book.PageInfo) storage.Query
}

// InitialQuery is the query of the first page, or nil when nothing can
// match.
func (p *pager) InitialQuery(ctx context.Context) *PageQuery {
	if p.bounds.Empty {
		return nil
	}
	return &PageQuery{Page: p.bounds.FirstPage, Query: p.build(ctx, p.bounds.FirstPage)}
}

// NextQuery is the query of the page after prev, or nil once prev is the
// last page of the bounds.
func (p *pager) NextQuery(ctx context.Context, prev *PageQuery) *PageQuery {
	if prev == nil || prev.Page.Equal(p.bounds.LastPage) {
		return nil
	}
	next, ok := p.book.NextPage(prev.Page.Started)
	if !ok {
		return nil
	}
	return &PageQuery{Page: next, Query: p.build(ctx, next)}
}

// iterate runs the page queries one after another. The first page is
// fetched before iterate returns, so a failing backend is reported here
// rather than on the first Next.
func iterate[T any](ctx context.Context, p *pager, convert func(storage.Row) (T, error)) (cursor.Iterator[T], error) {
	open := func(q *PageQuery) (cursor.Iterator[T], error) {
		first, err := p.fetcher.FetchFirst(ctx, q.Query)
		if err != nil {
			return nil, err
		}
		return cursor.NewPaged(ctx, first, p.fetcher.FetchNextAsync, convert), nil
	}

	q := p.InitialQuery(ctx)
	if q == nil {
		return cursor.Empty[T](), nil
	}
	head, err := open(q)
	if err != nil {
		return nil, err
	}

	return cursor.Concat(func() (cursor.Iterator[T], error) {
		if head != nil {
			seg := head
			head = nil
			return seg, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if q = p.NextQuery(ctx, q); q == nil {
			return nil, nil
		}
		return open(q)
	}), nil
}
