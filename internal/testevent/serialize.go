package testevent

import (
	"time"

	"github.com/pkg/errors"

	"Cradle-storage/internal/codec"
	"Cradle-storage/internal/message"
	"Cradle-storage/internal/storeerr"
)

type eventRecord struct {
	ID         string   `codec:"id"`
	Start      int64    `codec:"start"`
	Name       string   `codec:"name"`
	Type       string   `codec:"type,omitempty"`
	ParentID   string   `codec:"parent"`
	End        int64    `codec:"end,omitempty"`
	Success    bool     `codec:"success"`
	Content    []byte   `codec:"content,omitempty"`
	MessageIDs []string `codec:"msgs,omitempty"`
}

// SerializeBatch writes the events of a batch back-to-back, each prefixed
// with its int32 length.
func SerializeBatch(b *Batch) ([]byte, error) {
	out := make([]byte, 0, b.Size())
	for _, e := range b.events {
		rec := eventRecord{
			ID:         e.ID.ID,
			Start:      e.ID.StartTimestamp.UnixNano(),
			Name:       e.Name,
			Type:       e.Type,
			ParentID:   e.ParentID.String(),
			Success:    e.Success,
			Content:    e.Content,
			MessageIDs: FormatMessageIDs(e.MessageIDs),
		}
		if !e.EndTimestamp.IsZero() {
			rec.End = e.EndTimestamp.UnixNano()
		}
		data, err := codec.Marshal(rec)
		if err != nil {
			return nil, errors.Wrapf(err, "serializing test event %s", e.ID)
		}
		out = codec.AppendFrame(out, data)
	}
	return out, nil
}

// DeserializeBatch rebuilds the events of batch b from content.
func DeserializeBatch(b *Batch, content []byte) error {
	malformed := func(err error, msg string) error {
		return storeerr.Wrap(storeerr.MalformedSerializedRecord, err, msg,
			storeerr.WithBook(b.ID.Book), storeerr.WithID(b.ID.String()))
	}

	r := codec.NewFrameReader(content)
	for data, ok := r.Next(); ok; data, ok = r.Next() {
		var rec eventRecord
		if err := codec.Unmarshal(data, &rec); err != nil {
			return malformed(err, "could not decode test event record")
		}
		parent, err := ParseID(rec.ParentID)
		if err != nil {
			return malformed(err, "invalid parent id in test event record")
		}
		msgIDs, err := ParseMessageIDs(rec.MessageIDs)
		if err != nil {
			return malformed(err, "invalid message id in test event record")
		}
		e := BatchedEvent{
			ID: ID{
				Book:           b.ID.Book,
				Scope:          b.ID.Scope,
				StartTimestamp: time.Unix(0, rec.Start).UTC(),
				ID:             rec.ID,
			},
			Name:       rec.Name,
			Type:       rec.Type,
			ParentID:   &parent,
			Success:    rec.Success,
			Content:    rec.Content,
			MessageIDs: msgIDs,
		}
		if rec.End != 0 {
			e.EndTimestamp = time.Unix(0, rec.End).UTC()
		}
		if err := b.Add(e); err != nil {
			return malformed(err, "stored test event violates batch structure")
		}
	}
	if err := r.Err(); err != nil {
		return malformed(err, "corrupted test event batch content")
	}
	return nil
}

// FormatMessageIDs renders message ids in their string form.
func FormatMessageIDs(ids []message.ID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func ParseMessageIDs(ids []string) ([]message.ID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out := make([]message.ID, len(ids))
	for i, s := range ids {
		id, err := message.ParseID(s)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}
