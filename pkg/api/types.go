package api

import "time"

// Page is one time partition of a book.
type Page struct {
	Name    string     `json:"name"`
	Started time.Time  `json:"started"`
	Ended   *time.Time `json:"ended,omitempty"`
	Comment string     `json:"comment,omitempty"`
}

// Book is a named, paged container of messages and test events.
type Book struct {
	Name        string    `json:"name"`
	FullName    string    `json:"full_name,omitempty"`
	Description string    `json:"description,omitempty"`
	Created     time.Time `json:"created"`
	Pages       []Page    `json:"pages"`
}

// AddBookRequest creates a book together with its first page.
type AddBookRequest struct {
	Name             string    `json:"name"`
	FullName         string    `json:"full_name,omitempty"`
	Description      string    `json:"description,omitempty"`
	Created          time.Time `json:"created,omitempty"`
	FirstPageName    string    `json:"first_page_name,omitempty"`
	FirstPageComment string    `json:"first_page_comment,omitempty"`
}

// SwitchPageRequest opens a new page. A zero Start means now.
type SwitchPageRequest struct {
	Name    string    `json:"name"`
	Start   time.Time `json:"start,omitempty"`
	Comment string    `json:"comment,omitempty"`
}

// Message is a single message of a session stream.
type Message struct {
	ID              string            `json:"id,omitempty"`
	SessionAlias    string            `json:"session_alias"`
	Direction       string            `json:"direction"`
	Sequence        int64             `json:"sequence"`
	Timestamp       time.Time         `json:"timestamp"`
	Content         []byte            `json:"content"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	ProtocolVersion string            `json:"protocol_version,omitempty"`
}

// StoreMessagesRequest is written as one batch; every message must share
// the session alias and direction.
type StoreMessagesRequest struct {
	Messages []Message `json:"messages"`
}

// MessagesResponse is one page of a message query.
type MessagesResponse struct {
	Messages []Message `json:"messages"`
	Errors   []string  `json:"errors,omitempty"`
	Count    int       `json:"count"`
}

// Event is a single test event. ParentID and MessageIDs hold the string
// form of the referenced ids.
type Event struct {
	ID         string    `json:"id"`
	Scope      string    `json:"scope"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end,omitempty"`
	Name       string    `json:"name"`
	Type       string    `json:"type,omitempty"`
	ParentID   string    `json:"parent_id,omitempty"`
	Success    bool      `json:"success"`
	Content    []byte    `json:"content,omitempty"`
	MessageIDs []string  `json:"message_ids,omitempty"`
	// FullID is filled in by the server.
	FullID string `json:"full_id,omitempty"`
}

// EventsResponse is the result of an event query.
type EventsResponse struct {
	Events []Event  `json:"events"`
	Errors []string `json:"errors,omitempty"`
	Count  int      `json:"count"`
}

// StoreResponse acknowledges a write. SecondaryError reports a failure
// that happened after the record itself was stored.
type StoreResponse struct {
	Status         string `json:"status"`
	ID             string `json:"id"`
	SecondaryError string `json:"secondary_error,omitempty"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// MessageQuery selects messages of one stream. Zero fields are unset.
type MessageQuery struct {
	SessionAlias string
	Direction    string
	Page         string
	From         time.Time
	To           time.Time
	// AfterSequence selects messages with a greater sequence when set.
	AfterSequence *int64
	Limit         int
}

// EventQuery selects test events of one scope.
type EventQuery struct {
	Scope    string
	Page     string
	From     time.Time
	To       time.Time
	ParentID string
	Limit    int
}
