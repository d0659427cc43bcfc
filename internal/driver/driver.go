// internal/driver/driver.go
package driver

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"Cradle-storage/internal/book"
	"Cradle-storage/internal/compression"
	"Cradle-storage/internal/config"
	"Cradle-storage/internal/cursor"
	"Cradle-storage/internal/durationcache"
	"Cradle-storage/internal/entity"
	"Cradle-storage/internal/fetcher"
	"Cradle-storage/internal/storage"
	"Cradle-storage/internal/storeerr"
	"Cradle-storage/internal/throttle"
)

// Driver keeps books, messages and test events in a tabular store. Every
// backend request goes through one throttle and one retry policy.
type Driver struct {
	store     storage.Storage
	op        *throttle.Operator
	fetch     *fetcher.Fetcher
	instance  string
	msgGate   compression.Gate
	eventGate compression.Gate
	durations *durationcache.Cache
	durLocks  [durationStripes]sync.Mutex
	log       hclog.Logger
	now       func() time.Time
}

const durationStripes = 64

// durationLock returns the lock guarding the duration row of key.
func (d *Driver) durationLock(key durationcache.Key) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key.Book))
	h.Write([]byte{0})
	h.Write([]byte(key.Page))
	h.Write([]byte{0})
	h.Write([]byte(key.Scope))
	return &d.durLocks[h.Sum32()%durationStripes]
}

// New builds a driver over store. The driver owns store and closes it.
func New(store storage.Storage, cfg *config.Config, durations *durationcache.Cache, log hclog.Logger) *Driver {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	op := throttle.NewOperator(cfg.Requests.MaxParallel, log.Named("throttle"))
	return &Driver{
		store:     store,
		op:        op,
		fetch:     fetcher.New(store, op, fetcher.PolicyFrom(cfg.Retry), cfg.Requests.PageSize, log.Named("fetcher")),
		instance:  cfg.Instance,
		msgGate:   compression.NewGate(cfg.Compression.MessageThreshold),
		eventGate: compression.NewGate(cfg.Compression.EventThreshold),
		durations: durations,
		log:       log,
		now:       time.Now,
	}
}

// Init creates the tables the driver uses.
func (d *Driver) Init(ctx context.Context) error {
	for _, t := range entity.All() {
		if err := d.store.CreateTable(ctx, t); err != nil {
			return storeerr.Wrap(storeerr.Backend, err, "could not create table "+t.Name)
		}
	}
	d.log.Debug("tables ready", "count", len(entity.All()))
	return nil
}

func (d *Driver) Close() error {
	return d.store.Close()
}

// Operator exposes the throttle shared by every backend request.
func (d *Driver) Operator() *throttle.Operator {
	return d.op
}

func (d *Driver) insert(ctx context.Context, t *storage.Table, row storage.Row) error {
	return d.fetch.Exec(ctx, t.Name, func(ctx context.Context, s storage.Storage) error {
		return s.Insert(ctx, t.Name, row)
	})
}

func (d *Driver) update(ctx context.Context, t *storage.Table, row storage.Row) error {
	return d.fetch.Exec(ctx, t.Name, func(ctx context.Context, s storage.Storage) error {
		return s.Update(ctx, t.Name, row)
	})
}

func identity(r storage.Row) (storage.Row, error) {
	return r, nil
}

// selectAll reads every row q matches, following backend pages.
func (d *Driver) selectAll(ctx context.Context, q storage.Query) ([]storage.Row, error) {
	first, err := d.fetch.FetchFirst(ctx, q)
	if err != nil {
		return nil, err
	}
	return cursor.Collect[storage.Row](cursor.NewPaged(ctx, first, d.fetch.FetchNextAsync, identity))
}

// selectOne returns the first row q matches.
func (d *Driver) selectOne(ctx context.Context, q storage.Query) (storage.Row, bool, error) {
	q.PageSize = 1
	page, err := d.fetch.FetchFirst(ctx, q)
	if err != nil {
		return nil, false, err
	}
	for page != nil {
		if len(page.Rows) > 0 {
			return page.Rows[0], true, nil
		}
		// A Where filter may leave a page empty while more rows follow.
		if page, err = d.fetch.FetchNext(ctx, page); err != nil {
			return nil, false, err
		}
	}
	return nil, false, nil
}

// annotate adds context to a backend error while keeping its kind.
func annotate(err error, msg string, opts ...storeerr.Option) error {
	kind := storeerr.KindOf(err)
	if kind == storeerr.Unknown {
		kind = storeerr.Backend
	}
	return storeerr.Wrap(kind, err, msg, opts...)
}

// LoadBooks reads the books of this instance with their pages.
func (d *Driver) LoadBooks(ctx context.Context) ([]*book.BookInfo, error) {
	rows, err := d.selectAll(ctx, storage.Query{
		Table:     entity.Books.Name,
		Partition: storage.Row{entity.ColInstance: d.instance},
	})
	if err != nil {
		return nil, annotate(err, "could not load books")
	}
	books := make([]*book.BookInfo, 0, len(rows))
	for _, row := range rows {
		pages, err := d.LoadPages(ctx, row.String(entity.ColName))
		if err != nil {
			return nil, err
		}
		books = append(books, entity.BookFromRow(row, pages))
	}
	return books, nil
}

// LoadPages reads the pages of a book in start order.
func (d *Driver) LoadPages(ctx context.Context, bookID string) ([]book.PageInfo, error) {
	rows, err := d.selectAll(ctx, storage.Query{
		Table:     entity.Pages.Name,
		Partition: storage.Row{entity.ColBook: bookID},
	})
	if err != nil {
		return nil, annotate(err, "could not load pages", storeerr.WithBook(bookID))
	}
	pages := make([]book.PageInfo, 0, len(rows))
	for _, row := range rows {
		pages = append(pages, entity.PageFromRow(row))
	}
	return pages, nil
}

func (d *Driver) AddBook(ctx context.Context, b *book.BookInfo) error {
	if err := d.insert(ctx, entity.Books, entity.BookRow(d.instance, b)); err != nil {
		return annotate(err, "could not add book", storeerr.WithBook(b.ID))
	}
	return nil
}

// SwitchPage writes page and, when given, the closed form of the page it
// replaces.
func (d *Driver) SwitchPage(ctx context.Context, page book.PageInfo, previous *book.PageInfo) error {
	if previous != nil {
		if err := d.update(ctx, entity.Pages, entity.PageRow(*previous)); err != nil {
			return annotate(err, "could not close page", storeerr.WithBook(previous.ID.Book), storeerr.WithPage(previous.ID.Name))
		}
	}
	if err := d.insert(ctx, entity.Pages, entity.PageRow(page)); err != nil {
		return annotate(err, "could not add page", storeerr.WithBook(page.ID.Book), storeerr.WithPage(page.ID.Name))
	}
	return nil
}

// texts reads one text column of every row of a partition.
func (d *Driver) texts(ctx context.Context, t *storage.Table, partition storage.Row, column string) ([]string, error) {
	rows, err := d.selectAll(ctx, storage.Query{Table: t.Name, Partition: partition})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.String(column))
	}
	return out, nil
}
