package cradle

import (
	"context"
	"encoding/json"

	"Cradle-storage/internal/book"
	"Cradle-storage/internal/cursor"
	"Cradle-storage/internal/filter"
	"Cradle-storage/internal/healing"
	"Cradle-storage/internal/message"
	"Cradle-storage/internal/testevent"
)

// Driver is the backend half of the storage. Storage validates and routes
// every call before it reaches the driver, so a driver may assume known
// books, existing pages and valid records.
type Driver interface {
	Init(ctx context.Context) error
	Close() error

	LoadBooks(ctx context.Context) ([]*book.BookInfo, error)
	LoadPages(ctx context.Context, bookID string) ([]book.PageInfo, error)
	AddBook(ctx context.Context, b *book.BookInfo) error
	SwitchPage(ctx context.Context, page book.PageInfo, previous *book.PageInfo) error
	// ForgetPage drops cached state kept for a page that no longer exists.
	ForgetPage(page book.PageID) int

	StoreMessageBatch(ctx context.Context, b *message.Batch, page book.PageID) error
	GetMessage(ctx context.Context, id message.ID, page book.PageID) (*message.Message, error)
	GetMessageBatch(ctx context.Context, id message.ID, page book.PageID) (*message.Batch, error)
	GetMessages(ctx context.Context, f filter.MessageFilter, b *book.BookInfo) (cursor.Iterator[message.Message], error)
	GetMessageBatches(ctx context.Context, f filter.MessageFilter, b *book.BookInfo) (cursor.Iterator[*message.Batch], error)
	GetLastSequence(ctx context.Context, session string, dir message.Direction, b *book.BookInfo) (int64, error)
	GetSessionAliases(ctx context.Context, bookID string) ([]string, error)
	GetPageSessions(ctx context.Context, page book.PageID) ([]message.Stream, error)

	StoreTestEvent(ctx context.Context, e testevent.Event, page book.PageID) error
	UpdateParentLinks(ctx context.Context, e testevent.Event) error
	UpdateEventStatus(ctx context.Context, id testevent.ID, page book.PageID, success bool) error
	GetTestEvent(ctx context.Context, id testevent.ID, page book.PageID) (testevent.Event, error)
	GetTestEvents(ctx context.Context, f filter.TestEventFilter, b *book.BookInfo) (cursor.Iterator[testevent.Event], error)
	GetScopes(ctx context.Context, bookID string) ([]string, error)
	GetChildIDs(ctx context.Context, parent testevent.ID) ([]testevent.ID, error)
	GetTestEventIDsByMessageID(ctx context.Context, id message.ID) ([]testevent.ID, error)
	GetMessageIDsByTestEventID(ctx context.Context, id testevent.ID) ([]message.ID, error)

	StoreHealingInterval(ctx context.Context, i *healing.Interval) error
	GetHealingIntervals(ctx context.Context, bookID string) ([]*healing.Interval, error)
	UpdateRecoveryState(ctx context.Context, bookID, id string, state json.RawMessage) error
}
