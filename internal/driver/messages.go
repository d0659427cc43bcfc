package driver

import (
	"context"
	"time"

	"Cradle-storage/internal/book"
	"Cradle-storage/internal/cursor"
	"Cradle-storage/internal/entity"
	"Cradle-storage/internal/filter"
	"Cradle-storage/internal/message"
	"Cradle-storage/internal/metrics"
	"Cradle-storage/internal/provider"
	"Cradle-storage/internal/storage"
	"Cradle-storage/internal/storeerr"
)

const familyMessages = "messages"

// StoreMessageBatch writes b to page and records its stream in the
// session indices.
func (d *Driver) StoreMessageBatch(ctx context.Context, b *message.Batch, page book.PageID) error {
	start := time.Now()
	id := b.ID()
	e, err := entity.NewMessageBatch(b, page, d.msgGate)
	if err != nil {
		return err
	}
	if err := d.insert(ctx, entity.Messages, e.ToRow()); err != nil {
		return annotate(err, "could not store message batch",
			storeerr.WithBook(id.Book), storeerr.WithPage(page.Name), storeerr.WithID(id.String()))
	}

	sessions := []struct {
		table *storage.Table
		row   storage.Row
	}{
		{entity.Sessions, storage.Row{entity.ColBook: id.Book, entity.ColSessionAlias: id.SessionAlias}},
		{entity.PageSessions, storage.Row{
			entity.ColBook:         id.Book,
			entity.ColPage:         page.Name,
			entity.ColSessionAlias: id.SessionAlias,
			entity.ColDirection:    id.Direction.Label(),
		}},
	}
	for _, s := range sessions {
		if err := d.update(ctx, s.table, s.row); err != nil {
			return annotate(err, "could not index session "+id.SessionAlias,
				storeerr.WithBook(id.Book), storeerr.WithPage(page.Name), storeerr.WithID(id.String()))
		}
	}

	metrics.BatchesStored.WithLabelValues(id.Book, familyMessages).Inc()
	metrics.ContentBytes.WithLabelValues(familyMessages, "raw").Add(float64(e.ContentSize))
	metrics.ContentBytes.WithLabelValues(familyMessages, "stored").Add(float64(len(e.Content)))
	metrics.StoreLatency.WithLabelValues(familyMessages).Observe(time.Since(start).Seconds())
	return nil
}

// batchRow finds the row of the batch holding id: the last batch of the
// stream whose first sequence is not above id's.
func (d *Driver) batchRow(ctx context.Context, id message.ID, page book.PageID) (*entity.MessageBatch, error) {
	opts := []storeerr.Option{storeerr.WithBook(id.Book), storeerr.WithPage(page.Name), storeerr.WithID(id.String())}
	row, ok, err := d.selectOne(ctx, storage.Query{
		Table:     entity.Messages.Name,
		Partition: entity.MessagePartition(id.Book, page.Name, id.SessionAlias, id.Direction),
		To:        &storage.Bound{Values: []interface{}{id.Sequence}, Inclusive: true},
		Reverse:   true,
	})
	if err != nil {
		return nil, annotate(err, "could not read message batch", opts...)
	}
	if !ok {
		return nil, storeerr.New(storeerr.NotFound, "message not found", opts...)
	}
	e, err := entity.MessageBatchFromRow(row, entity.Full)
	if err != nil {
		return nil, err
	}
	if !e.Covers(id.Sequence) {
		return nil, storeerr.New(storeerr.NotFound, "message not found", opts...)
	}
	return e, nil
}

func (d *Driver) GetMessage(ctx context.Context, id message.ID, page book.PageID) (*message.Message, error) {
	e, err := d.batchRow(ctx, id, page)
	if err != nil {
		return nil, err
	}
	m, err := e.Message(id, d.msgGate)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, storeerr.New(storeerr.NotFound, "message not found",
			storeerr.WithBook(id.Book), storeerr.WithPage(page.Name), storeerr.WithID(id.String()))
	}
	return m, nil
}

// GetMessageBatch returns the whole batch holding id.
func (d *Driver) GetMessageBatch(ctx context.Context, id message.ID, page book.PageID) (*message.Batch, error) {
	e, err := d.batchRow(ctx, id, page)
	if err != nil {
		return nil, err
	}
	return e.Batch(d.msgGate)
}

func (d *Driver) GetMessages(ctx context.Context, f filter.MessageFilter, b *book.BookInfo) (cursor.Iterator[message.Message], error) {
	p, err := provider.NewMessages(f, b, d.fetch, d.msgGate, d.now())
	if err != nil {
		return nil, err
	}
	return p.Iterator(ctx)
}

func (d *Driver) GetMessageBatches(ctx context.Context, f filter.MessageFilter, b *book.BookInfo) (cursor.Iterator[*message.Batch], error) {
	p, err := provider.NewMessageBatches(f, b, d.fetch, d.msgGate, d.now())
	if err != nil {
		return nil, err
	}
	return p.Iterator(ctx)
}

// GetLastSequence returns the highest sequence stored for the stream, or
// -1 when the stream is empty. Pages are searched from the newest.
func (d *Driver) GetLastSequence(ctx context.Context, session string, dir message.Direction, b *book.BookInfo) (int64, error) {
	pages := b.Pages()
	for i := len(pages) - 1; i >= 0; i-- {
		row, ok, err := d.selectOne(ctx, storage.Query{
			Table:     entity.Messages.Name,
			Partition: entity.MessagePartition(b.ID, pages[i].ID.Name, session, dir),
			Reverse:   true,
		})
		if err != nil {
			return 0, annotate(err, "could not read last sequence", storeerr.WithBook(b.ID), storeerr.WithPage(pages[i].ID.Name))
		}
		if ok {
			return row.Int64(entity.ColLastSequence), nil
		}
	}
	return -1, nil
}

// GetSessionAliases lists every session alias written to the book.
func (d *Driver) GetSessionAliases(ctx context.Context, bookID string) ([]string, error) {
	out, err := d.texts(ctx, entity.Sessions, storage.Row{entity.ColBook: bookID}, entity.ColSessionAlias)
	if err != nil {
		return nil, annotate(err, "could not read session aliases", storeerr.WithBook(bookID))
	}
	return out, nil
}

// GetPageSessions lists the streams written to one page.
func (d *Driver) GetPageSessions(ctx context.Context, page book.PageID) ([]message.Stream, error) {
	rows, err := d.selectAll(ctx, storage.Query{
		Table:     entity.PageSessions.Name,
		Partition: storage.Row{entity.ColBook: page.Book, entity.ColPage: page.Name},
	})
	if err != nil {
		return nil, annotate(err, "could not read page sessions", storeerr.WithBook(page.Book), storeerr.WithPage(page.Name))
	}
	out := make([]message.Stream, 0, len(rows))
	for _, row := range rows {
		dir, err := message.ParseDirection(row.String(entity.ColDirection))
		if err != nil {
			return nil, storeerr.Wrap(storeerr.MalformedSerializedRecord, err, "invalid direction in page sessions row",
				storeerr.WithBook(page.Book), storeerr.WithPage(page.Name))
		}
		out = append(out, message.Stream{SessionAlias: row.String(entity.ColSessionAlias), Direction: dir})
	}
	return out, nil
}
