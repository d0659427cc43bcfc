package message

import (
	"fmt"
	"time"

	"Cradle-storage/internal/storeerr"
)

// Batch groups messages of one stream (book, session alias, direction)
// that are written together. Sequences grow strictly, timestamps never go
// back.
type Batch struct {
	maxSize  int
	size     int
	messages []Message
}

// NewBatch returns an empty batch that accepts at most maxSize bytes of
// serialized content. A non-positive maxSize disables the limit.
func NewBatch(maxSize int) *Batch {
	return &Batch{maxSize: maxSize}
}

// RestoreBatch wraps messages read back from storage.
func RestoreBatch(messages []Message) *Batch {
	b := &Batch{messages: messages}
	for _, m := range messages {
		b.size += recordSize(m)
	}
	return b
}

// Add appends a message and returns it with its id filled in.
func (b *Batch) Add(m ToStore) (Message, error) {
	if m.Book == "" {
		return Message{}, storeerr.New(storeerr.ValidationError, "message must have a book")
	}
	if m.SessionAlias == "" {
		return Message{}, storeerr.New(storeerr.ValidationError, "message must have a session alias", storeerr.WithBook(m.Book))
	}
	if !m.Direction.Valid() {
		return Message{}, storeerr.New(storeerr.ValidationError, fmt.Sprintf("message has invalid direction %d", int(m.Direction)), storeerr.WithBook(m.Book))
	}
	if m.Timestamp.IsZero() {
		return Message{}, storeerr.New(storeerr.ValidationError, "message must have a timestamp", storeerr.WithBook(m.Book))
	}
	if m.Sequence < 0 {
		return Message{}, storeerr.New(storeerr.ValidationError, fmt.Sprintf("sequence must not be negative, got %d", m.Sequence), storeerr.WithBook(m.Book))
	}

	msg := Message{
		ID: ID{
			Book:         m.Book,
			SessionAlias: m.SessionAlias,
			Direction:    m.Direction,
			Timestamp:    m.Timestamp,
			Sequence:     m.Sequence,
		},
		Content:         m.Content,
		Metadata:        m.Metadata,
		ProtocolVersion: m.ProtocolVersion,
	}

	if n := len(b.messages); n > 0 {
		last := b.messages[n-1].ID
		if m.Book != last.Book || m.SessionAlias != last.SessionAlias || m.Direction != last.Direction {
			return Message{}, storeerr.New(storeerr.ValidationError,
				fmt.Sprintf("batch contains messages of stream %s, cannot add message of stream %s", last.StreamKey(), msg.ID.StreamKey()),
				storeerr.WithBook(m.Book))
		}
		if m.Sequence <= last.Sequence {
			return Message{}, storeerr.New(storeerr.ValidationError,
				fmt.Sprintf("sequence %d must be greater than last sequence in batch (%d)", m.Sequence, last.Sequence),
				storeerr.WithBook(m.Book), storeerr.WithID(msg.ID.String()))
		}
		if m.Timestamp.Before(last.Timestamp) {
			return Message{}, storeerr.New(storeerr.ValidationError,
				fmt.Sprintf("timestamp %s is before timestamp of last message in batch (%s)",
					m.Timestamp.UTC().Format(time.RFC3339Nano), last.Timestamp.UTC().Format(time.RFC3339Nano)),
				storeerr.WithBook(m.Book), storeerr.WithID(msg.ID.String()))
		}
	}

	size := recordSize(msg)
	if b.maxSize > 0 && b.size+size > b.maxSize {
		return Message{}, storeerr.New(storeerr.ValidationError,
			fmt.Sprintf("batch has not enough space to hold message of %d bytes (%d of %d used)", size, b.size, b.maxSize),
			storeerr.WithBook(m.Book), storeerr.WithID(msg.ID.String()))
	}

	b.messages = append(b.messages, msg)
	b.size += size
	return msg, nil
}

// HasSpace reports whether m would fit into the batch.
func (b *Batch) HasSpace(m ToStore) bool {
	return b.maxSize <= 0 || b.size+recordSize(Message{Content: m.Content, Metadata: m.Metadata, ProtocolVersion: m.ProtocolVersion}) <= b.maxSize
}

// ID is the id of the first message.
func (b *Batch) ID() ID {
	if len(b.messages) == 0 {
		return ID{}
	}
	return b.messages[0].ID
}

func (b *Batch) IsEmpty() bool {
	return len(b.messages) == 0
}

func (b *Batch) Count() int {
	return len(b.messages)
}

func (b *Batch) Size() int {
	return b.size
}

func (b *Batch) Messages() []Message {
	out := make([]Message, len(b.messages))
	copy(out, b.messages)
	return out
}

func (b *Batch) FirstTimestamp() time.Time {
	if len(b.messages) == 0 {
		return time.Time{}
	}
	return b.messages[0].ID.Timestamp
}

func (b *Batch) LastTimestamp() time.Time {
	if len(b.messages) == 0 {
		return time.Time{}
	}
	return b.messages[len(b.messages)-1].ID.Timestamp
}

func (b *Batch) FirstSequence() int64 {
	return b.ID().Sequence
}

func (b *Batch) LastSequence() int64 {
	if len(b.messages) == 0 {
		return 0
	}
	return b.messages[len(b.messages)-1].ID.Sequence
}

// Message returns the message with the given sequence.
func (b *Batch) Message(sequence int64) (Message, bool) {
	for _, m := range b.messages {
		if m.ID.Sequence == sequence {
			return m, true
		}
	}
	return Message{}, false
}
