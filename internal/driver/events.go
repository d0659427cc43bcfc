package driver

import (
	"context"
	"time"

	"Cradle-storage/internal/book"
	"Cradle-storage/internal/cursor"
	"Cradle-storage/internal/durationcache"
	"Cradle-storage/internal/entity"
	"Cradle-storage/internal/filter"
	"Cradle-storage/internal/message"
	"Cradle-storage/internal/metrics"
	"Cradle-storage/internal/provider"
	"Cradle-storage/internal/storage"
	"Cradle-storage/internal/storeerr"
	"Cradle-storage/internal/testevent"
)

const familyEvents = "events"

// StoreTestEvent writes e to page together with its scope and message
// links. For a batch the longest batch duration of the page is kept up to
// date.
func (d *Driver) StoreTestEvent(ctx context.Context, e testevent.Event, page book.PageID) error {
	start := time.Now()
	id := e.EventID()
	opts := []storeerr.Option{storeerr.WithBook(id.Book), storeerr.WithPage(page.Name), storeerr.WithID(id.String())}

	ent, err := entity.NewTestEvent(e, page, d.eventGate)
	if err != nil {
		return err
	}
	if ent.EventBatch {
		if err := d.updateMaxDuration(ctx, page, id.Scope, ent.Duration()); err != nil {
			return annotate(err, "could not update batch duration", opts...)
		}
	}
	if err := d.insert(ctx, entity.TestEvents, ent.ToRow()); err != nil {
		return annotate(err, "could not store test event", opts...)
	}
	if err := d.update(ctx, entity.Scopes, storage.Row{entity.ColBook: id.Book, entity.ColScope: id.Scope}); err != nil {
		return annotate(err, "could not index scope "+id.Scope, opts...)
	}
	if err := d.linkMessages(ctx, e); err != nil {
		return annotate(err, "could not link messages", opts...)
	}

	metrics.BatchesStored.WithLabelValues(id.Book, familyEvents).Inc()
	metrics.ContentBytes.WithLabelValues(familyEvents, "raw").Add(float64(ent.ContentSize))
	metrics.ContentBytes.WithLabelValues(familyEvents, "stored").Add(float64(len(ent.Content)))
	metrics.StoreLatency.WithLabelValues(familyEvents).Observe(time.Since(start).Seconds())
	return nil
}

// linkMessages writes both directions of the event to message links. The
// events of a batch are linked one by one.
func (d *Driver) linkMessages(ctx context.Context, e testevent.Event) error {
	type link struct {
		event testevent.ID
		msgs  []message.ID
	}
	var links []link
	switch ev := e.(type) {
	case *testevent.Single:
		links = append(links, link{ev.ID, ev.MessageIDs})
	case *testevent.Batch:
		for _, be := range ev.Events() {
			links = append(links, link{be.ID, be.MessageIDs})
		}
	}
	for _, l := range links {
		eventID := l.event.String()
		for _, m := range l.msgs {
			msgID := m.String()
			if err := d.update(ctx, entity.EventMessages, storage.Row{
				entity.ColBook: l.event.Book, entity.ColEventID: eventID, entity.ColMessageID: msgID,
			}); err != nil {
				return err
			}
			if err := d.update(ctx, entity.MessageEvents, storage.Row{
				entity.ColBook: m.Book, entity.ColMessageID: msgID, entity.ColEventID: eventID,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// MaxBatchDuration returns the longest event batch stored in the page and
// scope, reading the backend on a cache miss.
func (d *Driver) MaxBatchDuration(ctx context.Context, page book.PageID, scope string) (time.Duration, error) {
	key := durationcache.Key{Book: page.Book, Page: page.Name, Scope: scope}
	if v, ok := d.durations.Get(key); ok {
		return v, nil
	}
	v, err := d.storedMaxDuration(ctx, key)
	if err != nil {
		return 0, err
	}
	d.durations.Update(key, v)
	return v, nil
}

func (d *Driver) storedMaxDuration(ctx context.Context, key durationcache.Key) (time.Duration, error) {
	row, ok, err := d.selectOne(ctx, storage.Query{
		Table:     entity.BatchDurations.Name,
		Partition: storage.Row{entity.ColBook: key.Book, entity.ColPage: key.Page, entity.ColScope: key.Scope},
	})
	if err != nil || !ok {
		return 0, err
	}
	return time.Duration(row.Int64(entity.ColMaxDuration)), nil
}

// updateMaxDuration raises the stored maximum of a scope to v. The cache only
// holds persisted values, so a cached value at least v needs no write. The
// compare and write on the row happen under the key's lock.
func (d *Driver) updateMaxDuration(ctx context.Context, page book.PageID, scope string, v time.Duration) error {
	key := durationcache.Key{Book: page.Book, Page: page.Name, Scope: scope}
	if cached, ok := d.durations.Get(key); ok && v <= cached {
		return nil
	}

	mu := d.durationLock(key)
	mu.Lock()
	defer mu.Unlock()

	stored, err := d.storedMaxDuration(ctx, key)
	if err != nil {
		return err
	}
	if v <= stored {
		d.durations.Update(key, stored)
		return nil
	}
	if err := d.update(ctx, entity.BatchDurations, storage.Row{
		entity.ColBook:        page.Book,
		entity.ColPage:        page.Name,
		entity.ColScope:       scope,
		entity.ColMaxDuration: int64(v),
	}); err != nil {
		return err
	}
	d.durations.Update(key, v)
	return nil
}

// ForgetPage drops the cached durations of a page that no longer exists.
func (d *Driver) ForgetPage(page book.PageID) int {
	return d.durations.RemovePage(page)
}

// UpdateParentLinks records e under its parent.
func (d *Driver) UpdateParentLinks(ctx context.Context, e testevent.Event) error {
	parent := e.Parent()
	if parent == nil {
		return nil
	}
	id := e.EventID()
	err := d.update(ctx, entity.ParentLinks, storage.Row{
		entity.ColBook:     id.Book,
		entity.ColParentID: parent.String(),
		entity.ColChildID:  id.String(),
	})
	if err != nil {
		return annotate(err, "could not link test event to parent "+parent.String(),
			storeerr.WithBook(id.Book), storeerr.WithID(id.String()))
	}
	return nil
}

// GetChildIDs lists the events and batches recorded under parent.
func (d *Driver) GetChildIDs(ctx context.Context, parent testevent.ID) ([]testevent.ID, error) {
	ids, err := d.texts(ctx, entity.ParentLinks,
		storage.Row{entity.ColBook: parent.Book, entity.ColParentID: parent.String()}, entity.ColChildID)
	if err != nil {
		return nil, annotate(err, "could not read children", storeerr.WithBook(parent.Book), storeerr.WithID(parent.String()))
	}
	return parseEventIDs(ids)
}

func parseEventIDs(ids []string) ([]testevent.ID, error) {
	out := make([]testevent.ID, 0, len(ids))
	for _, s := range ids {
		id, err := testevent.ParseID(s)
		if err != nil {
			return nil, storeerr.Wrap(storeerr.MalformedSerializedRecord, err, "invalid test event id in link row")
		}
		out = append(out, id)
	}
	return out, nil
}

func eventRowQuery(id testevent.ID, page book.PageID) storage.Query {
	key := entity.TestEventClustering(id.StartTimestamp, id.ID)
	return storage.Query{
		Table:     entity.TestEvents.Name,
		Partition: entity.TestEventPartition(id.Book, page.Name, id.Scope),
		From:      &storage.Bound{Values: key, Inclusive: true},
		To:        &storage.Bound{Values: key, Inclusive: true},
	}
}

// UpdateEventStatus changes the success flag of a stored event or batch.
func (d *Driver) UpdateEventStatus(ctx context.Context, id testevent.ID, page book.PageID, success bool) error {
	opts := []storeerr.Option{storeerr.WithBook(id.Book), storeerr.WithPage(page.Name), storeerr.WithID(id.String())}
	q := eventRowQuery(id, page)
	_, ok, err := d.selectOne(ctx, q)
	if err != nil {
		return annotate(err, "could not read test event", opts...)
	}
	if !ok {
		return storeerr.New(storeerr.NotFound, "test event not found", opts...)
	}
	row := entity.TestEventPartition(id.Book, page.Name, id.Scope)
	row[entity.ColStartDate] = storage.DateOf(id.StartTimestamp)
	row[entity.ColStartTime] = storage.TimeOfDay(id.StartTimestamp)
	row[entity.ColID] = id.ID
	row[entity.ColSuccess] = success
	if err := d.update(ctx, entity.TestEvents, row); err != nil {
		return annotate(err, "could not update test event status", opts...)
	}
	return nil
}

// GetTestEvent returns the event stored under id. An event written as part
// of a batch is looked up among the batches that started at most the
// longest batch duration before it.
func (d *Driver) GetTestEvent(ctx context.Context, id testevent.ID, page book.PageID) (testevent.Event, error) {
	opts := []storeerr.Option{storeerr.WithBook(id.Book), storeerr.WithPage(page.Name), storeerr.WithID(id.String())}
	row, ok, err := d.selectOne(ctx, eventRowQuery(id, page))
	if err != nil {
		return nil, annotate(err, "could not read test event", opts...)
	}
	if ok {
		return entity.TestEventFromRow(row, entity.Full).Event(d.eventGate)
	}

	longest, err := d.MaxBatchDuration(ctx, page, id.Scope)
	if err != nil {
		return nil, annotate(err, "could not read batch duration", opts...)
	}
	rows, err := d.selectAll(ctx, storage.Query{
		Table:     entity.TestEvents.Name,
		Partition: entity.TestEventPartition(id.Book, page.Name, id.Scope),
		From:      &storage.Bound{Values: entity.TestEventClustering(id.StartTimestamp.Add(-longest), ""), Inclusive: true},
		To:        &storage.Bound{Values: entity.TestEventClustering(id.StartTimestamp, ""), Inclusive: true},
		Where:     func(r storage.Row) bool { return r.Bool(entity.ColEventBatch) },
	})
	if err != nil {
		return nil, annotate(err, "could not read test event batches", opts...)
	}
	for _, r := range rows {
		ev, err := entity.TestEventFromRow(r, entity.Full).Event(d.eventGate)
		if err != nil {
			return nil, err
		}
		if b, isBatch := ev.(*testevent.Batch); isBatch {
			if be, found := b.Event(id); found {
				return be.Single(), nil
			}
		}
	}
	return nil, storeerr.New(storeerr.NotFound, "test event not found", opts...)
}

func (d *Driver) GetTestEvents(ctx context.Context, f filter.TestEventFilter, b *book.BookInfo) (cursor.Iterator[testevent.Event], error) {
	p, err := provider.NewTestEvents(f, b, d.fetch, d.eventGate, d.MaxBatchDuration, d.now())
	if err != nil {
		return nil, err
	}
	return p.Iterator(ctx)
}

// GetScopes lists every scope written to the book.
func (d *Driver) GetScopes(ctx context.Context, bookID string) ([]string, error) {
	out, err := d.texts(ctx, entity.Scopes, storage.Row{entity.ColBook: bookID}, entity.ColScope)
	if err != nil {
		return nil, annotate(err, "could not read scopes", storeerr.WithBook(bookID))
	}
	return out, nil
}

func (d *Driver) GetTestEventIDsByMessageID(ctx context.Context, id message.ID) ([]testevent.ID, error) {
	ids, err := d.texts(ctx, entity.MessageEvents,
		storage.Row{entity.ColBook: id.Book, entity.ColMessageID: id.String()}, entity.ColEventID)
	if err != nil {
		return nil, annotate(err, "could not read message links", storeerr.WithBook(id.Book), storeerr.WithID(id.String()))
	}
	return parseEventIDs(ids)
}

func (d *Driver) GetMessageIDsByTestEventID(ctx context.Context, id testevent.ID) ([]message.ID, error) {
	ids, err := d.texts(ctx, entity.EventMessages,
		storage.Row{entity.ColBook: id.Book, entity.ColEventID: id.String()}, entity.ColMessageID)
	if err != nil {
		return nil, annotate(err, "could not read event links", storeerr.WithBook(id.Book), storeerr.WithID(id.String()))
	}
	out, err := testevent.ParseMessageIDs(ids)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.MalformedSerializedRecord, err, "invalid message id in link row",
			storeerr.WithBook(id.Book), storeerr.WithID(id.String()))
	}
	return out, nil
}
