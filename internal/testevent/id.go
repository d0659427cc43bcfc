package testevent

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"Cradle-storage/internal/message"
	"Cradle-storage/internal/storeerr"
)

// ID identifies a test event. The start timestamp is part of the id so
// the page holding the event can be found from the id alone.
type ID struct {
	Book           string    `json:"book"`
	Scope          string    `json:"scope"`
	StartTimestamp time.Time `json:"start_timestamp"`
	ID             string    `json:"id"`
}

// NewID builds an id with a random unique part.
func NewID(book, scope string, start time.Time) ID {
	return ID{Book: book, Scope: scope, StartTimestamp: start, ID: uuid.New().String()}
}

func (id ID) String() string {
	return message.JoinIDParts(message.EscapeIDPart(id.Book), message.EscapeIDPart(id.Scope),
		message.FormatTimestamp(id.StartTimestamp), message.EscapeIDPart(id.ID))
}

func (id ID) IsZero() bool {
	return id.ID == "" && id.Book == "" && id.Scope == "" && id.StartTimestamp.IsZero()
}

// ParseID parses the String form.
func ParseID(s string) (ID, error) {
	parts := message.SplitIDParts(s)
	if len(parts) != 4 {
		return ID{}, storeerr.New(storeerr.ValidationError,
			fmt.Sprintf("test event id '%s' should contain book, scope, timestamp and unique id delimited with ':'", s))
	}
	ts, err := message.ParseTimestamp(parts[2])
	if err != nil {
		return ID{}, storeerr.Wrap(storeerr.ValidationError, err, "invalid timestamp in test event id", storeerr.WithID(s))
	}
	return ID{Book: parts[0], Scope: parts[1], StartTimestamp: ts, ID: parts[3]}, nil
}

func sameID(a, b *ID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.String() == b.String()
}
