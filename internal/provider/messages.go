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
	"Cradle-storage/internal/message"
	"Cradle-storage/internal/storage"
)

// MessageBatches reads the message batches of one stream that may hold
// messages matching the filter.
type MessageBatches struct {
	pager
	filter filter.MessageFilter
	gate   compression.Gate
}

func NewMessageBatches(f filter.MessageFilter, b *book.BookInfo, fetch *fetcher.Fetcher, gate compression.Gate, now time.Time) (*MessageBatches, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	bounds, err := filter.Resolve(f.TimestampFrom, f.TimestampTo, f.Page, b, now)
	if err != nil {
		return nil, err
	}
	p := &MessageBatches{filter: f, gate: gate}
	p.pager = pager{book: b, bounds: bounds, fetcher: fetch, build: p.query}
	return p, nil
}

// Bounds returns the resolved time window and page span.
func (p *MessageBatches) Bounds() filter.Bounds {
	return p.bounds
}

func (p *MessageBatches) query(_ context.Context, page book.PageInfo) storage.Query {
	f := p.filter
	left, right := p.bounds.Left, p.bounds.Right
	q := storage.Query{
		Table:     entity.Messages.Name,
		Partition: entity.MessagePartition(f.Book, page.ID.Name, f.SessionAlias, f.Direction),
	}
	// Batches are clustered by their first sequence, so only an upper
	// sequence limit narrows the scan; a batch starting below a lower
	// limit may still reach into it.
	if c := f.Sequence; c != nil {
		switch c.Op {
		case filter.Equal, filter.LessOrEqual:
			q.To = &storage.Bound{Values: []interface{}{c.Value}, Inclusive: true}
		case filter.Less:
			q.To = &storage.Bound{Values: []interface{}{c.Value}}
		}
	}
	q.Where = func(row storage.Row) bool {
		if row.Time(entity.ColLastTime).Before(left) || row.Time(entity.ColFirstTime).After(right) {
			return false
		}
		if c := f.Sequence; c != nil {
			last := row.Int64(entity.ColLastSequence)
			switch c.Op {
			case filter.Equal, filter.GreaterOrEqual:
				return last >= c.Value
			case filter.Greater:
				return last > c.Value
			}
		}
		return true
	}
	return q
}

func (p *MessageBatches) convert(row storage.Row) (*entity.MessageBatch, error) {
	return entity.MessageBatchFromRow(row, entity.Full)
}

// Iterator returns the matching batches in page order, then sequence
// order. A batch that cannot be decoded fails on its own.
func (p *MessageBatches) Iterator(ctx context.Context) (cursor.Iterator[*message.Batch], error) {
	rows, err := iterate(ctx, &p.pager, p.convert)
	if err != nil {
		return nil, err
	}
	batches := cursor.Map(rows, func(e *entity.MessageBatch) (*message.Batch, error) {
		return e.Batch(p.gate)
	})
	return cursor.Limit(batches, p.filter.Limit), nil
}

// Messages reads single messages, matched one by one against the filter.
type Messages struct {
	*MessageBatches
}

func NewMessages(f filter.MessageFilter, b *book.BookInfo, fetch *fetcher.Fetcher, gate compression.Gate, now time.Time) (*Messages, error) {
	batches, err := NewMessageBatches(f, b, fetch, gate, now)
	if err != nil {
		return nil, err
	}
	return &Messages{MessageBatches: batches}, nil
}

func (p *Messages) Iterator(ctx context.Context) (cursor.Iterator[message.Message], error) {
	rows, err := iterate(ctx, &p.pager, p.convert)
	if err != nil {
		return nil, err
	}
	msgs := cursor.FlatMap(rows, func(e *entity.MessageBatch) ([]message.Message, error) {
		all, err := e.Messages(p.gate)
		if err != nil {
			return nil, err
		}
		out := all[:0]
		for _, m := range all {
			if p.filter.MatchMessage(m.ID) {
				out = append(out, m)
			}
		}
		return out, nil
	})
	return cursor.Limit(msgs, p.filter.Limit), nil
}
