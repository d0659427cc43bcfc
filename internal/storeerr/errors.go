// internal/storeerr/errors.go
package storeerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies storage failures so callers can branch on the category of
// a failure instead of inspecting wrapped error types.
type Kind int

const (
	Unknown Kind = iota
	NotInitialized
	AlreadyDisposed
	UnknownBook
	BookAlreadyExists
	UnknownPage
	PageAlreadyExists
	InvalidPageOrdering
	WriteTargetNotActivePage
	ValidationError
	CompressionFailure
	DecompressionFailure
	RetryExhausted
	NonRetryableBackendFailure
	ThrottleAcquisitionInterrupted
	MalformedSerializedRecord
	NotFound
	Backend
)

var kindNames = map[Kind]string{
	Unknown:                        "unknown",
	NotInitialized:                 "not_initialized",
	AlreadyDisposed:                "already_disposed",
	UnknownBook:                    "unknown_book",
	BookAlreadyExists:              "book_already_exists",
	UnknownPage:                    "unknown_page",
	PageAlreadyExists:              "page_already_exists",
	InvalidPageOrdering:            "invalid_page_ordering",
	WriteTargetNotActivePage:       "write_target_not_active_page",
	ValidationError:                "validation",
	CompressionFailure:             "compression",
	DecompressionFailure:           "decompression",
	RetryExhausted:                 "retry_exhausted",
	NonRetryableBackendFailure:     "non_retryable_backend",
	ThrottleAcquisitionInterrupted: "throttle_interrupted",
	MalformedSerializedRecord:      "malformed_record",
	NotFound:                       "not_found",
	Backend:                        "backend",
}

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the error type returned by every storage component. Book, Page
// and ID are filled in when known so the failure is actionable.
type Error struct {
	Kind Kind
	Book string
	Page string
	ID   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	var ctx []string
	if e.Book != "" {
		ctx = append(ctx, "book="+e.Book)
	}
	if e.Page != "" {
		ctx = append(ctx, "page="+e.Page)
	}
	if e.ID != "" {
		ctx = append(ctx, "id="+e.ID)
	}
	if len(ctx) > 0 {
		sb.WriteString(" [")
		sb.WriteString(strings.Join(ctx, " "))
		sb.WriteString("]")
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, storeerr.Of(kind))
// works through any number of wrapping layers.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Err == nil
}

// Option fills in contextual fields of an Error.
type Option func(*Error)

func WithBook(book string) Option {
	return func(e *Error) { e.Book = book }
}

func WithPage(page string) Option {
	return func(e *Error) { e.Page = page }
}

func WithID(id string) Option {
	return func(e *Error) { e.ID = id }
}

// New creates an error of the given kind with a formatted message.
func New(kind Kind, msg string, opts ...Option) *Error {
	e := &Error{Kind: kind, Msg: msg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf is New with fmt-style formatting.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to err. A nil err yields nil.
func Wrap(kind Kind, err error, msg string, opts ...Option) error {
	if err == nil {
		return nil
	}
	e := &Error{Kind: kind, Msg: msg, Err: err}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Of returns a bare sentinel of the given kind for use with errors.Is.
func Of(kind Kind) error {
	return &Error{Kind: kind}
}

// KindOf returns the kind of the outermost *Error in the chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether any error in the chain has the given kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, Of(kind))
}
