package entity

import (
	"time"

	"Cradle-storage/internal/book"
	"Cradle-storage/internal/compression"
	"Cradle-storage/internal/message"
	"Cradle-storage/internal/storage"
	"Cradle-storage/internal/storeerr"
)

// Form tells whether an entity carries its content blob.
type Form int

const (
	MetadataOnly Form = iota + 1
	Full
)

// MessageBatch is the persisted form of a message batch.
type MessageBatch struct {
	Form           Form
	Book           string
	Page           string
	SessionAlias   string
	Direction      message.Direction
	FirstSequence  int64
	LastSequence   int64
	FirstTimestamp time.Time
	LastTimestamp  time.Time
	Count          int
	Compressed     bool
	// ContentSize is the size of the content before compression.
	ContentSize int
	Content     []byte
}

// serializationErr reports content that could not be encoded. Nothing has
// reached the backend yet, so it is a validation failure.
func serializationErr(err error, what, bookID, page, id string) error {
	return storeerr.Wrap(storeerr.ValidationError, err, "could not serialize "+what,
		storeerr.WithBook(bookID), storeerr.WithPage(page), storeerr.WithID(id))
}

// NewMessageBatch serializes b for storage in page, compressing the
// content when the gate says so.
func NewMessageBatch(b *message.Batch, page book.PageID, gate compression.Gate) (*MessageBatch, error) {
	id := b.ID()
	content, err := message.Serialize(b)
	if err != nil {
		return nil, serializationErr(err, "message batch", id.Book, page.Name, id.String())
	}
	stored, compressed, err := gate.Apply(content)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.CompressionFailure, err, "could not compress message batch",
			storeerr.WithBook(id.Book), storeerr.WithPage(page.Name), storeerr.WithID(id.String()))
	}
	return &MessageBatch{
		Form:           Full,
		Book:           id.Book,
		Page:           page.Name,
		SessionAlias:   id.SessionAlias,
		Direction:      id.Direction,
		FirstSequence:  b.FirstSequence(),
		LastSequence:   b.LastSequence(),
		FirstTimestamp: b.FirstTimestamp(),
		LastTimestamp:  b.LastTimestamp(),
		Count:          b.Count(),
		Compressed:     compressed,
		ContentSize:    len(content),
		Content:        stored,
	}, nil
}

// ID is the id of the first message of the batch.
func (e *MessageBatch) ID() message.ID {
	return message.ID{
		Book:         e.Book,
		SessionAlias: e.SessionAlias,
		Direction:    e.Direction,
		Timestamp:    e.FirstTimestamp,
		Sequence:     e.FirstSequence,
	}
}

// Covers reports whether the batch holds the given sequence number.
func (e *MessageBatch) Covers(sequence int64) bool {
	return sequence >= e.FirstSequence && sequence <= e.LastSequence
}

func (e *MessageBatch) ToRow() storage.Row {
	row := MessagePartition(e.Book, e.Page, e.SessionAlias, e.Direction)
	row[ColFirstSequence] = e.FirstSequence
	row[ColLastSequence] = e.LastSequence
	row[ColFirstTime] = e.FirstTimestamp
	row[ColLastTime] = e.LastTimestamp
	row[ColCount] = e.Count
	row[ColCompressed] = e.Compressed
	row[ColContentSize] = e.ContentSize
	if e.Form == Full {
		row[ColContent] = e.Content
	}
	return row
}

// MessagePartition builds the partition key of one stream within a page.
func MessagePartition(bookID, page, session string, dir message.Direction) storage.Row {
	return storage.Row{
		ColBook:         bookID,
		ColPage:         page,
		ColSessionAlias: session,
		ColDirection:    dir.Label(),
	}
}

// MessageBatchFromRow reads a messages row. The content is kept only for
// the Full form.
func MessageBatchFromRow(row storage.Row, form Form) (*MessageBatch, error) {
	dir, err := message.ParseDirection(row.String(ColDirection))
	if err != nil {
		return nil, storeerr.Wrap(storeerr.MalformedSerializedRecord, err, "invalid direction in messages row",
			storeerr.WithBook(row.String(ColBook)), storeerr.WithPage(row.String(ColPage)))
	}
	e := &MessageBatch{
		Form:           form,
		Book:           row.String(ColBook),
		Page:           row.String(ColPage),
		SessionAlias:   row.String(ColSessionAlias),
		Direction:      dir,
		FirstSequence:  row.Int64(ColFirstSequence),
		LastSequence:   row.Int64(ColLastSequence),
		FirstTimestamp: row.Time(ColFirstTime),
		LastTimestamp:  row.Time(ColLastTime),
		Count:          row.Int(ColCount),
		Compressed:     row.Bool(ColCompressed),
		ContentSize:    row.Int(ColContentSize),
	}
	if form == Full {
		e.Content = row.Bytes(ColContent)
	}
	return e, nil
}

func (e *MessageBatch) content(gate compression.Gate) ([]byte, error) {
	if e.Form != Full {
		return nil, storeerr.New(storeerr.ValidationError, "message batch was read without content",
			storeerr.WithBook(e.Book), storeerr.WithPage(e.Page), storeerr.WithID(e.ID().String()))
	}
	content, err := gate.Restore(e.Content, e.Compressed)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.DecompressionFailure, err, "could not decompress message batch",
			storeerr.WithBook(e.Book), storeerr.WithPage(e.Page), storeerr.WithID(e.ID().String()))
	}
	return content, nil
}

// Messages decodes every message of the batch.
func (e *MessageBatch) Messages(gate compression.Gate) ([]message.Message, error) {
	content, err := e.content(gate)
	if err != nil {
		return nil, err
	}
	return message.Deserialize(e.ID(), content)
}

// Batch rebuilds the stored batch.
func (e *MessageBatch) Batch(gate compression.Gate) (*message.Batch, error) {
	msgs, err := e.Messages(gate)
	if err != nil {
		return nil, err
	}
	return message.RestoreBatch(msgs), nil
}

// Message extracts a single message; nil if the batch does not hold it.
func (e *MessageBatch) Message(id message.ID, gate compression.Gate) (*message.Message, error) {
	if !e.Covers(id.Sequence) {
		return nil, nil
	}
	content, err := e.content(gate)
	if err != nil {
		return nil, err
	}
	return message.DeserializeOne(id, content)
}
