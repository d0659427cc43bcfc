// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrOverloaded and ErrTimeout are transient; the request may be retried.
	ErrOverloaded = errors.New("storage: backend overloaded")
	ErrTimeout    = errors.New("storage: request timed out")

	ErrUnavailable  = errors.New("storage: backend unavailable")
	ErrUnknownTable = errors.New("storage: unknown table")
	ErrInvalidRow   = errors.New("storage: invalid row")
	ErrClosed       = errors.New("storage: closed")
)

// IsRetryable reports whether err is a transient backend failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrOverloaded) || errors.Is(err, ErrTimeout)
}

// Bound limits a scan by a prefix of the clustering columns.
type Bound struct {
	Values    []interface{}
	Inclusive bool
}

// Query selects rows of one partition. Rows come in clustering order,
// descending when Reverse is set.
type Query struct {
	Table     string
	Partition Row
	From      *Bound
	To        *Bound
	// Where filters scanned rows; a backend page may hold fewer than
	// PageSize rows when it rejects some.
	Where    func(Row) bool
	PageSize int
	Reverse  bool
}

// ResultPage is one backend round-trip worth of rows.
type ResultPage struct {
	Rows        []Row
	PagingState []byte
	HasMore     bool

	query Query
}

// Query returns the query the page answers.
func (p *ResultPage) Query() Query {
	return p.query
}

// NewResultPage builds a page for q. Backends outside this package use it
// to hand out pages that FetchNext can continue.
func NewResultPage(q Query, rows []Row, pagingState []byte, hasMore bool) *ResultPage {
	return &ResultPage{Rows: rows, PagingState: pagingState, HasMore: hasMore, query: q}
}

// Storage is a tabular store with partition and clustering keys. It must
// be safe for concurrent use.
type Storage interface {
	// CreateTable registers a table schema. Creating an existing table is a
	// no-op.
	CreateTable(ctx context.Context, t *Table) error

	// Insert writes a whole row, replacing any row with the same key.
	Insert(ctx context.Context, table string, row Row) error

	// Update merges the given regular columns into the row with the same
	// key, creating it if needed.
	Update(ctx context.Context, table string, row Row) error

	// Select returns the first page of q.
	Select(ctx context.Context, q Query) (*ResultPage, error)

	// FetchNext returns the page following p. It must only be called when
	// p.HasMore is set.
	FetchNext(ctx context.Context, p *ResultPage) (*ResultPage, error)

	// io.Closer is embedded for graceful shutdown.
	io.Closer
}

const defaultPageSize = 5000

func pageSize(q Query) int {
	if q.PageSize <= 0 {
		return defaultPageSize
	}
	return q.PageSize
}
