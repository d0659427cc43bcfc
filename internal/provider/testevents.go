package provider

import (
	"context"
	"time"

	"Cradle-storage/internal/book"
	"Cradle-storage/internal/compression"
	"Cradle-storage/internal/cursor"
	"Cradle-storage/internal/entity"
	"Cradle-storage/internal/fetcher"
	"Cradle-storage/internal/filter"
	"Cradle-storage/internal/storage"
	"Cradle-storage/internal/testevent"
)

// DurationLookup returns the longest event batch stored in a page and
// scope.
type DurationLookup func(ctx context.Context, page book.PageID, scope string) (time.Duration, error)

// TestEvents reads the events of one scope. An event batch is returned
// whole when it starts inside the window, or starts earlier but lasts into
// it.
type TestEvents struct {
	pager
	filter    filter.TestEventFilter
	gate      compression.Gate
	durations DurationLookup
}

func NewTestEvents(f filter.TestEventFilter, b *book.BookInfo, fetch *fetcher.Fetcher, gate compression.Gate,
	durations DurationLookup, now time.Time) (*TestEvents, error) {
	ok, err := f.Check(b)
	if err != nil {
		return nil, err
	}
	bounds := filter.Bounds{Empty: true}
	if ok {
		bounds, err = filter.Resolve(f.StartTimestampFrom, f.StartTimestampTo, f.Page, b, now)
		if err != nil {
			return nil, err
		}
	}
	p := &TestEvents{filter: f, gate: gate, durations: durations}
	p.pager = pager{book: b, bounds: bounds, fetcher: fetch, build: p.query}
	return p, nil
}

func (p *TestEvents) Bounds() filter.Bounds {
	return p.bounds
}

func (p *TestEvents) query(ctx context.Context, page book.PageInfo) storage.Query {
	f := p.filter
	left, right := p.bounds.Left, p.bounds.Right

	from := left
	if p.durations != nil {
		if d, err := p.durations(ctx, page.ID, f.Scope); err == nil && d > 0 {
			from = left.Add(-d)
		}
	}
	q := storage.Query{
		Table:     entity.TestEvents.Name,
		Partition: entity.TestEventPartition(f.Book, page.ID.Name, f.Scope),
		From:      &storage.Bound{Values: entity.TestEventClustering(from, ""), Inclusive: true},
		To:        &storage.Bound{Values: entity.TestEventClustering(right, ""), Inclusive: true},
	}
	q.Where = func(row storage.Row) bool {
		start := row.Time(entity.ColStartDate).Add(row.Duration(entity.ColStartTime))
		if !filter.MatchTime(f.StartTimestampTo, start) {
			return false
		}
		if f.ParentID != nil && row.String(entity.ColParentID) != f.ParentID.String() {
			return false
		}
		if row.Bool(entity.ColEventBatch) && start.Before(left) {
			return !row.Time(entity.ColEndTimestamp).Before(left)
		}
		return !start.Before(left) && filter.MatchTime(f.StartTimestampFrom, start)
	}
	return q
}

func (p *TestEvents) convert(row storage.Row) (*entity.TestEvent, error) {
	return entity.TestEventFromRow(row, entity.Full), nil
}

// Iterator returns the matching events in page order, then start order.
func (p *TestEvents) Iterator(ctx context.Context) (cursor.Iterator[testevent.Event], error) {
	rows, err := iterate(ctx, &p.pager, p.convert)
	if err != nil {
		return nil, err
	}
	events := cursor.Map(rows, func(e *entity.TestEvent) (testevent.Event, error) {
		return e.Event(p.gate)
	})
	return cursor.Limit(events, p.filter.Limit), nil
}
