// internal/cradle/storage.go
package cradle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"Cradle-storage/internal/book"
	"Cradle-storage/internal/config"
	"Cradle-storage/internal/cursor"
	"Cradle-storage/internal/filter"
	"Cradle-storage/internal/future"
	"Cradle-storage/internal/healing"
	"Cradle-storage/internal/message"
	"Cradle-storage/internal/metrics"
	"Cradle-storage/internal/storeerr"
	"Cradle-storage/internal/testevent"
)

const (
	stateUninitialized int32 = iota
	stateInitialized
	stateDisposed
)

// maxParentDepth bounds the walk up a parent chain when a failure is
// propagated.
const maxParentDepth = 1024

// BookToAdd describes a new book and its first page.
type BookToAdd struct {
	Name             string    `json:"name"`
	FullName         string    `json:"full_name,omitempty"`
	Description      string    `json:"description,omitempty"`
	Created          time.Time `json:"created,omitempty"`
	FirstPageName    string    `json:"first_page_name,omitempty"`
	FirstPageComment string    `json:"first_page_comment,omitempty"`
}

// StoreResult is the outcome of a test event write that succeeded. A
// non-nil SecondaryErr means the event is stored but updating its parents
// failed.
type StoreResult struct {
	SecondaryErr error
}

// Storage routes reads and writes of books, messages and test events to a
// Driver. It keeps the book registry and checks every request against it
// before the driver sees it.
type Storage struct {
	cfg       *config.Config
	driver    Driver
	registry  *book.Registry
	refresher *book.Refresher
	log       hclog.Logger
	now       func() time.Time

	mu    sync.Mutex
	state atomic.Int32
}

// New creates a storage over d. Call Init before use.
func New(d Driver, cfg *config.Config, log hclog.Logger) *Storage {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Storage{
		cfg:      cfg,
		driver:   d,
		registry: book.NewRegistry(d, log.Named("books")),
		log:      log,
		now:      time.Now,
	}
	s.registry.OnPagesRemoved(func(id book.PageID) {
		if n := d.ForgetPage(id); n > 0 {
			log.Debug("evicted cached durations of removed page", "book", id.Book, "page", id.Name, "entries", n)
		}
	})
	return s
}

// Init prepares the backend and loads every known book. It does nothing
// when the storage is already initialized.
func (s *Storage) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state.Load() {
	case stateInitialized:
		return nil
	case stateDisposed:
		return storeerr.New(storeerr.AlreadyDisposed, "storage is disposed")
	}

	s.log.Info("initializing storage")
	if err := s.driver.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	books, err := s.driver.LoadBooks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load books: %w", err)
	}
	for _, b := range books {
		s.registry.Put(b)
	}
	s.refresher = book.StartRefresher(s.registry, s.cfg.Books.RefreshInterval)
	s.state.Store(stateInitialized)
	s.log.Info("storage initialized", "books", len(books))
	return nil
}

// Dispose releases the backend. It does nothing when already disposed.
func (s *Storage) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Load() == stateDisposed {
		return nil
	}
	s.log.Info("disposing storage")
	s.refresher.Stop()
	s.refresher = nil
	s.state.Store(stateDisposed)
	if err := s.driver.Close(); err != nil {
		return fmt.Errorf("failed to dispose storage: %w", err)
	}
	s.log.Info("storage disposed")
	return nil
}

func (s *Storage) IsDisposed() bool {
	return s.state.Load() == stateDisposed
}

func (s *Storage) check() error {
	switch s.state.Load() {
	case stateUninitialized:
		return storeerr.New(storeerr.NotInitialized, "storage is not initialized")
	case stateDisposed:
		return storeerr.New(storeerr.AlreadyDisposed, "storage is disposed")
	}
	return nil
}

// async runs fn in the background after the storage state was checked.
func async[T any](s *Storage, fn func() (T, error)) *future.Future[T] {
	if err := s.check(); err != nil {
		return future.Failed[T](err)
	}
	return future.Go(fn)
}

// AddBook writes a new book and opens its first page at the book's
// creation time.
func (s *Storage) AddBook(ctx context.Context, nb BookToAdd) (*book.BookInfo, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if nb.Name == "" {
		return nil, storeerr.New(storeerr.ValidationError, "book name is mandatory")
	}
	if _, err := s.registry.Get(nb.Name); err == nil {
		return nil, storeerr.New(storeerr.BookAlreadyExists, "book '"+nb.Name+"' is already present in storage", storeerr.WithBook(nb.Name))
	}
	if nb.Created.IsZero() {
		nb.Created = s.now()
	}
	if nb.FirstPageName == "" {
		nb.FirstPageName = uuid.New().String()
	}

	s.log.Info("adding book", "book", nb.Name)
	b := book.New(nb.Name, nb.FullName, nb.Description, nb.Created, nil)
	if err := s.driver.AddBook(ctx, b); err != nil {
		return nil, err
	}
	if err := s.registry.Add(b); err != nil {
		return nil, err
	}
	return s.SwitchToNewPageAt(ctx, nb.Name, nb.FirstPageName, nb.Created, nb.FirstPageComment)
}

// Books returns every known book.
func (s *Storage) Books() []*book.BookInfo {
	return s.registry.Books()
}

func (s *Storage) Book(id string) (*book.BookInfo, error) {
	return s.registry.Get(id)
}

// RefreshBook reloads the pages of a book, picking up pages switched or
// removed by other writers.
func (s *Storage) RefreshBook(ctx context.Context, id string) (*book.BookInfo, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.log.Info("refreshing pages", "book", id)
	return s.registry.Refresh(ctx, id)
}

// SwitchToNewPage closes the active page of the book and opens name now.
func (s *Storage) SwitchToNewPage(ctx context.Context, bookID, name, comment string) (*book.BookInfo, error) {
	return s.SwitchToNewPageAt(ctx, bookID, name, s.now(), comment)
}

// SwitchToNewPageAt opens page name starting at start. The book is
// refreshed first, and refreshed again if the backend write fails.
func (s *Storage) SwitchToNewPageAt(ctx context.Context, bookID, name string, start time.Time, comment string) (*book.BookInfo, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, storeerr.New(storeerr.ValidationError, "page name is mandatory", storeerr.WithBook(bookID))
	}
	if _, err := s.registry.Get(bookID); err != nil {
		return nil, err
	}
	b, err := s.registry.Refresh(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if err := b.CheckNewPage(name, start); err != nil {
		return nil, err
	}

	now := s.now()
	page := book.PageInfo{ID: book.PageID{Book: bookID, Name: name}, Started: start, Comment: comment, Updated: now}
	var previous *book.PageInfo
	if active, ok := b.ActivePage(); ok {
		active.Ended = start
		active.Updated = now
		previous = &active
	}
	if err := s.driver.SwitchPage(ctx, page, previous); err != nil {
		if _, rerr := s.registry.Refresh(ctx, bookID); rerr != nil {
			s.log.Error("failed to refresh book after page switch failure", "book", bookID, "error", rerr)
		}
		return nil, err
	}
	return s.registry.NextPage(bookID, name, start, comment)
}

func (s *Storage) messagePage(b *message.Batch) (book.PageInfo, error) {
	if err := s.check(); err != nil {
		return book.PageInfo{}, err
	}
	if b == nil || b.IsEmpty() {
		return book.PageInfo{}, storeerr.New(storeerr.ValidationError, "message batch is empty")
	}
	id := b.ID()
	return s.registry.CheckActivePage(id.Book, id.Timestamp)
}

// StoreMessageBatch writes b to the active page of its book.
func (s *Storage) StoreMessageBatch(ctx context.Context, b *message.Batch) error {
	page, err := s.messagePage(b)
	if err != nil {
		return err
	}
	s.log.Debug("storing message batch", "id", b.ID())
	if err := s.driver.StoreMessageBatch(ctx, b, page.ID); err != nil {
		return err
	}
	s.log.Debug("message batch stored", "id", b.ID())
	return nil
}

// StoreMessageBatchAsync checks b and the active page at once and writes
// in the background.
func (s *Storage) StoreMessageBatchAsync(ctx context.Context, b *message.Batch) *future.Future[struct{}] {
	page, err := s.messagePage(b)
	if err != nil {
		return future.Failed[struct{}](err)
	}
	id := b.ID()
	return future.Go(func() (struct{}, error) {
		if err := s.driver.StoreMessageBatch(ctx, b, page.ID); err != nil {
			s.log.Error("error while storing message batch asynchronously", "id", id, "error", err)
			return struct{}{}, err
		}
		s.log.Debug("message batch stored asynchronously", "id", id)
		return struct{}{}, nil
	})
}

func (s *Storage) eventPage(e testevent.Event) (book.PageInfo, error) {
	if err := s.check(); err != nil {
		return book.PageInfo{}, err
	}
	if e == nil {
		return book.PageInfo{}, storeerr.New(storeerr.ValidationError, "test event is nil")
	}
	id := e.EventID()
	page, err := s.registry.CheckActivePage(id.Book, id.StartTimestamp)
	if err != nil {
		return book.PageInfo{}, err
	}
	if err := testevent.Validate(e); err != nil {
		return book.PageInfo{}, err
	}
	return page, nil
}

// StoreTestEvent writes e to the active page of its book and then updates
// its parents. A failed parent update is reported in the result and does
// not undo the write.
func (s *Storage) StoreTestEvent(ctx context.Context, e testevent.Event) (StoreResult, error) {
	page, err := s.eventPage(e)
	if err != nil {
		return StoreResult{}, err
	}
	return s.storeTestEvent(ctx, e, page)
}

func (s *Storage) StoreTestEventAsync(ctx context.Context, e testevent.Event) *future.Future[StoreResult] {
	page, err := s.eventPage(e)
	if err != nil {
		return future.Failed[StoreResult](err)
	}
	return future.Go(func() (StoreResult, error) {
		res, err := s.storeTestEvent(ctx, e, page)
		if err != nil {
			s.log.Error("error while storing test event asynchronously", "id", e.EventID(), "error", err)
		}
		return res, err
	})
}

func (s *Storage) storeTestEvent(ctx context.Context, e testevent.Event, page book.PageInfo) (StoreResult, error) {
	id := e.EventID()
	s.log.Debug("storing test event", "id", id)
	if err := s.driver.StoreTestEvent(ctx, e, page.ID); err != nil {
		return StoreResult{}, err
	}
	s.log.Debug("test event stored", "id", id)
	if e.Parent() == nil {
		return StoreResult{}, nil
	}
	return StoreResult{SecondaryErr: s.updateParents(ctx, e)}, nil
}

// updateParents links e to its parent and, when e failed, marks its
// ancestors failed too.
func (s *Storage) updateParents(ctx context.Context, e testevent.Event) error {
	var result *multierror.Error
	if err := s.driver.UpdateParentLinks(ctx, e); err != nil {
		result = multierror.Append(result, err)
	}
	if !e.IsSuccess() {
		if err := s.failAncestors(ctx, *e.Parent()); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		metrics.ErrorsTotal.WithLabelValues("parent_update").Inc()
		s.log.Warn("test event stored but its parents were not updated", "id", e.EventID(), "error", err)
		return err
	}
	s.log.Debug("parents of test event updated", "id", e.EventID())
	return nil
}

func (s *Storage) failAncestors(ctx context.Context, id testevent.ID) error {
	seen := make(map[string]bool)
	for depth := 0; depth < maxParentDepth; depth++ {
		key := id.String()
		if seen[key] {
			return nil
		}
		seen[key] = true

		page, err := s.registry.FindPage(id.Book, id.StartTimestamp)
		if err != nil {
			return err
		}
		parent, err := s.driver.GetTestEvent(ctx, id, page.ID)
		if err != nil {
			return err
		}
		// An ancestor already failed has had its own ancestors failed.
		if !parent.IsSuccess() {
			return nil
		}
		if err := s.driver.UpdateEventStatus(ctx, id, page.ID, false); err != nil {
			return err
		}
		next := parent.Parent()
		if next == nil {
			return nil
		}
		id = *next
	}
	return storeerr.New(storeerr.ValidationError, "parent chain is too deep", storeerr.WithBook(id.Book), storeerr.WithID(id.String()))
}

// UpdateEventStatus sets the success flag of a stored event.
func (s *Storage) UpdateEventStatus(ctx context.Context, id testevent.ID, success bool) error {
	if err := s.check(); err != nil {
		return err
	}
	page, err := s.registry.FindPage(id.Book, id.StartTimestamp)
	if err != nil {
		return err
	}
	return s.driver.UpdateEventStatus(ctx, id, page.ID, success)
}

func (s *Storage) UpdateEventStatusAsync(ctx context.Context, id testevent.ID, success bool) *future.Future[struct{}] {
	return async(s, func() (struct{}, error) {
		return struct{}{}, s.UpdateEventStatus(ctx, id, success)
	})
}

// GetMessage returns the message with the given id, searching the page that
// was active at its timestamp.
func (s *Storage) GetMessage(ctx context.Context, id message.ID) (*message.Message, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	page, err := s.registry.FindPage(id.Book, id.Timestamp)
	if err != nil {
		return nil, err
	}
	return s.driver.GetMessage(ctx, id, page.ID)
}

func (s *Storage) GetMessageAsync(ctx context.Context, id message.ID) *future.Future[*message.Message] {
	return async(s, func() (*message.Message, error) {
		return s.GetMessage(ctx, id)
	})
}

// GetMessageBatch returns the whole batch holding the message id.
func (s *Storage) GetMessageBatch(ctx context.Context, id message.ID) (*message.Batch, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	page, err := s.registry.FindPage(id.Book, id.Timestamp)
	if err != nil {
		return nil, err
	}
	return s.driver.GetMessageBatch(ctx, id, page.ID)
}

func (s *Storage) GetMessageBatchAsync(ctx context.Context, id message.ID) *future.Future[*message.Batch] {
	return async(s, func() (*message.Batch, error) {
		return s.GetMessageBatch(ctx, id)
	})
}

// GetMessages returns the messages matching f across every page it spans.
func (s *Storage) GetMessages(ctx context.Context, f filter.MessageFilter) (cursor.Iterator[message.Message], error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	b, err := s.registry.Get(f.Book)
	if err != nil {
		return nil, err
	}
	return s.driver.GetMessages(ctx, f, b)
}

func (s *Storage) GetMessagesAsync(ctx context.Context, f filter.MessageFilter) *future.Future[cursor.Iterator[message.Message]] {
	return async(s, func() (cursor.Iterator[message.Message], error) {
		return s.GetMessages(ctx, f)
	})
}

// GetMessageBatches returns the batches that may hold messages matching f.
func (s *Storage) GetMessageBatches(ctx context.Context, f filter.MessageFilter) (cursor.Iterator[*message.Batch], error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	b, err := s.registry.Get(f.Book)
	if err != nil {
		return nil, err
	}
	return s.driver.GetMessageBatches(ctx, f, b)
}

func (s *Storage) GetMessageBatchesAsync(ctx context.Context, f filter.MessageFilter) *future.Future[cursor.Iterator[*message.Batch]] {
	return async(s, func() (cursor.Iterator[*message.Batch], error) {
		return s.GetMessageBatches(ctx, f)
	})
}

// GetLastSequence returns the last sequence written to the stream, or -1.
func (s *Storage) GetLastSequence(ctx context.Context, bookID, session string, dir message.Direction) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	b, err := s.registry.Get(bookID)
	if err != nil {
		return 0, err
	}
	return s.driver.GetLastSequence(ctx, session, dir, b)
}

func (s *Storage) GetSessionAliases(ctx context.Context, bookID string) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if _, err := s.registry.Get(bookID); err != nil {
		return nil, err
	}
	return s.driver.GetSessionAliases(ctx, bookID)
}

// GetPageSessions lists the streams written to a page.
func (s *Storage) GetPageSessions(ctx context.Context, page book.PageID) ([]message.Stream, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if _, err := s.registry.CheckPage(page); err != nil {
		return nil, err
	}
	return s.driver.GetPageSessions(ctx, page)
}

// GetTestEvent returns the event with the given id, searching the page that
// was active at its start.
func (s *Storage) GetTestEvent(ctx context.Context, id testevent.ID) (testevent.Event, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	page, err := s.registry.FindPage(id.Book, id.StartTimestamp)
	if err != nil {
		return nil, err
	}
	return s.driver.GetTestEvent(ctx, id, page.ID)
}

func (s *Storage) GetTestEventAsync(ctx context.Context, id testevent.ID) *future.Future[testevent.Event] {
	return async(s, func() (testevent.Event, error) {
		return s.GetTestEvent(ctx, id)
	})
}

// GetTestEvents returns the events matching f. A filter that cannot match
// anything in the book yields an empty iterator.
func (s *Storage) GetTestEvents(ctx context.Context, f filter.TestEventFilter) (cursor.Iterator[testevent.Event], error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	b, err := s.registry.Get(f.Book)
	if err != nil {
		return nil, err
	}
	ok, err := f.Check(b)
	if err != nil {
		return nil, err
	}
	if !ok {
		return cursor.Empty[testevent.Event](), nil
	}
	return s.driver.GetTestEvents(ctx, f, b)
}

func (s *Storage) GetTestEventsAsync(ctx context.Context, f filter.TestEventFilter) *future.Future[cursor.Iterator[testevent.Event]] {
	return async(s, func() (cursor.Iterator[testevent.Event], error) {
		return s.GetTestEvents(ctx, f)
	})
}

func (s *Storage) GetScopes(ctx context.Context, bookID string) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if _, err := s.registry.Get(bookID); err != nil {
		return nil, err
	}
	return s.driver.GetScopes(ctx, bookID)
}

// GetChildIDs lists the events and batches stored under parent.
func (s *Storage) GetChildIDs(ctx context.Context, parent testevent.ID) ([]testevent.ID, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if _, err := s.registry.Get(parent.Book); err != nil {
		return nil, err
	}
	return s.driver.GetChildIDs(ctx, parent)
}

func (s *Storage) GetTestEventIDsByMessageID(ctx context.Context, id message.ID) ([]testevent.ID, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if _, err := s.registry.Get(id.Book); err != nil {
		return nil, err
	}
	return s.driver.GetTestEventIDsByMessageID(ctx, id)
}

func (s *Storage) GetMessageIDsByTestEventID(ctx context.Context, id testevent.ID) ([]message.ID, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if _, err := s.registry.Get(id.Book); err != nil {
		return nil, err
	}
	return s.driver.GetMessageIDsByTestEventID(ctx, id)
}

func (s *Storage) StoreHealingInterval(ctx context.Context, i *healing.Interval) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.registry.Get(i.Book); err != nil {
		return err
	}
	return s.driver.StoreHealingInterval(ctx, i)
}

func (s *Storage) GetHealingIntervals(ctx context.Context, bookID string) ([]*healing.Interval, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if _, err := s.registry.Get(bookID); err != nil {
		return nil, err
	}
	return s.driver.GetHealingIntervals(ctx, bookID)
}

// UpdateRecoveryState replaces the recovery state kept in an interval.
func (s *Storage) UpdateRecoveryState(ctx context.Context, bookID, id string, state json.RawMessage) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.registry.Get(bookID); err != nil {
		return err
	}
	return s.driver.UpdateRecoveryState(ctx, bookID, id, state)
}
