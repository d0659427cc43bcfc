package book

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"Cradle-storage/internal/metrics"
	"Cradle-storage/internal/storeerr"
)

// PagesLoader reloads the page list of a book from the system of record.
type PagesLoader interface {
	LoadPages(ctx context.Context, book string) ([]PageInfo, error)
}

// Registry is the in-memory map of books. Readers never lock: each book is
// stored as an immutable *BookInfo that writers replace as a whole.
type Registry struct {
	books  sync.Map // string -> *BookInfo
	mu     sync.Mutex
	loader PagesLoader
	log    hclog.Logger

	onRemoved func(PageID)
}

func NewRegistry(loader PagesLoader, log hclog.Logger) *Registry {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Registry{loader: loader, log: log}
}

// OnPagesRemoved sets fn to be called for every page that disappears from
// a book on refresh.
func (r *Registry) OnPagesRemoved(fn func(PageID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemoved = fn
}

// Add registers a new book. It fails if the book is already known.
func (r *Registry) Add(b *BookInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.books.Load(b.ID); exists {
		return storeerr.New(storeerr.BookAlreadyExists, fmt.Sprintf("book '%s' already exists", b.ID), storeerr.WithBook(b.ID))
	}
	r.books.Store(b.ID, b)
	metrics.Books.Inc()
	return nil
}

// Put registers or replaces a book.
func (r *Registry) Put(b *BookInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, existed := r.books.Swap(b.ID, b); !existed {
		metrics.Books.Inc()
	}
}

// Get returns the current snapshot of a book.
func (r *Registry) Get(id string) (*BookInfo, error) {
	v, ok := r.books.Load(id)
	if !ok {
		return nil, storeerr.New(storeerr.UnknownBook, fmt.Sprintf("book '%s' is unknown", id), storeerr.WithBook(id))
	}
	return v.(*BookInfo), nil
}

// Books returns snapshots of all books ordered by id.
func (r *Registry) Books() []*BookInfo {
	var out []*BookInfo
	r.books.Range(func(_, v interface{}) bool {
		out = append(out, v.(*BookInfo))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindPage returns the latest page of the book starting at or before t.
func (r *Registry) FindPage(bookID string, t time.Time) (PageInfo, error) {
	b, err := r.Get(bookID)
	if err != nil {
		return PageInfo{}, err
	}
	return b.FindPage(t)
}

// CheckActivePage returns the open page if t belongs to it. Writes may only
// target the open page.
func (r *Registry) CheckActivePage(bookID string, t time.Time) (PageInfo, error) {
	b, err := r.Get(bookID)
	if err != nil {
		return PageInfo{}, err
	}
	page, ok := b.ActivePage()
	if !ok {
		return PageInfo{}, storeerr.New(storeerr.UnknownPage, "book has no active page", storeerr.WithBook(bookID))
	}
	if t.Before(page.Started) {
		return PageInfo{}, storeerr.New(storeerr.WriteTargetNotActivePage,
			fmt.Sprintf("timestamp %s is before start of active page (%s)",
				t.UTC().Format(time.RFC3339Nano), page.Started.UTC().Format(time.RFC3339Nano)),
			storeerr.WithBook(bookID), storeerr.WithPage(page.ID.Name))
	}
	return page, nil
}

// CheckPage returns the page with the given id.
func (r *Registry) CheckPage(id PageID) (PageInfo, error) {
	b, err := r.Get(id.Book)
	if err != nil {
		return PageInfo{}, err
	}
	page, ok := b.Page(id.Name)
	if !ok {
		return PageInfo{}, storeerr.New(storeerr.UnknownPage, "page is unknown", storeerr.WithBook(id.Book), storeerr.WithPage(id.Name))
	}
	return page, nil
}

// NextPage appends a page to the book, closing the open one at start. A
// refresh may already have picked the page up from the backend, in which case
// the current snapshot is returned as is.
func (r *Registry) NextPage(bookID, name string, start time.Time, comment string) (*BookInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, err := r.Get(bookID)
	if err != nil {
		return nil, err
	}
	if existing, ok := b.Page(name); ok && existing.Started.Equal(start) {
		return b, nil
	}
	updated, err := b.WithNewPage(PageInfo{
		ID:      PageID{Book: bookID, Name: name},
		Started: start,
		Comment: comment,
	})
	if err != nil {
		return nil, err
	}
	r.books.Store(bookID, updated)
	metrics.PageSwitches.WithLabelValues(bookID).Inc()
	r.log.Info("page added", "book", bookID, "page", name, "start", start)
	return updated, nil
}

const refreshAttempts = 3

// Refresh replaces the page list of a book with the one from the loader.
// Pages are loaded without holding the write lock; if the book changes
// meanwhile the load is repeated, and the last attempt loads under the lock.
func (r *Registry) Refresh(ctx context.Context, bookID string) (*BookInfo, error) {
	if r.loader == nil {
		return r.Get(bookID)
	}
	for attempt := 1; attempt < refreshAttempts; attempt++ {
		seen, err := r.Get(bookID)
		if err != nil {
			return nil, err
		}
		pages, err := r.load(ctx, bookID)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		updated, swapped, err := r.swapPages(bookID, seen, pages)
		r.mu.Unlock()
		if err != nil || swapped {
			return updated, err
		}
		r.log.Debug("book changed during refresh, reloading", "book", bookID, "attempt", attempt)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	seen, err := r.Get(bookID)
	if err != nil {
		return nil, err
	}
	pages, err := r.load(ctx, bookID)
	if err != nil {
		return nil, err
	}
	updated, _, err := r.swapPages(bookID, seen, pages)
	return updated, err
}

func (r *Registry) load(ctx context.Context, bookID string) ([]PageInfo, error) {
	pages, err := r.loader.LoadPages(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pages of book %s: %w", bookID, err)
	}
	return pages, nil
}

// swapPages stores pages as the page list of the book unless the snapshot
// is no longer seen. The caller holds r.mu.
func (r *Registry) swapPages(bookID string, seen *BookInfo, pages []PageInfo) (*BookInfo, bool, error) {
	b, err := r.Get(bookID)
	if err != nil {
		return nil, false, err
	}
	if b != seen {
		return nil, false, nil
	}
	updated := b.WithPages(pages)
	r.books.Store(bookID, updated)
	for _, old := range b.Pages() {
		if _, ok := updated.Page(old.ID.Name); ok {
			continue
		}
		r.log.Info("page removed", "book", bookID, "page", old.ID.Name)
		if r.onRemoved != nil {
			r.onRemoved(old.ID)
		}
	}
	r.log.Debug("book refreshed", "book", bookID, "pages", len(pages))
	return updated, true, nil
}
