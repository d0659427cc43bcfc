package message

import (
	"time"

	"github.com/pkg/errors"

	"Cradle-storage/internal/codec"
	"Cradle-storage/internal/storeerr"
)

// record is the persisted form of a message inside batch content. Stream
// fields live in the batch row and are not repeated per message.
type record struct {
	Sequence        int64             `codec:"seq"`
	Timestamp       int64             `codec:"ts"`
	Content         []byte            `codec:"content"`
	Metadata        map[string]string `codec:"meta,omitempty"`
	ProtocolVersion string            `codec:"proto,omitempty"`
}

const recordOverhead = 32

func recordSize(m Message) int {
	size := len(m.Content) + len(m.ProtocolVersion) + recordOverhead
	for k, v := range m.Metadata {
		size += len(k) + len(v)
	}
	return codec.FrameSize(size)
}

// Serialize writes the messages of a batch back-to-back, each prefixed with
// its length.
func Serialize(b *Batch) ([]byte, error) {
	out := make([]byte, 0, b.Size())
	for _, m := range b.messages {
		data, err := codec.Marshal(record{
			Sequence:        m.ID.Sequence,
			Timestamp:       m.ID.Timestamp.UnixNano(),
			Content:         m.Content,
			Metadata:        m.Metadata,
			ProtocolVersion: m.ProtocolVersion,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "serializing message %s", m.ID)
		}
		out = codec.AppendFrame(out, data)
	}
	return out, nil
}

// Deserialize reads every message from batch content. stream supplies the
// book, session alias and direction shared by the batch.
func Deserialize(stream ID, content []byte) ([]Message, error) {
	var out []Message
	err := walk(stream, content, func(m Message) bool {
		out = append(out, m)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeserializeOne extracts the message with the given id, decoding only
// the records up to it.
func DeserializeOne(id ID, content []byte) (*Message, error) {
	var found *Message
	err := walk(id, content, func(m Message) bool {
		if m.ID.Sequence == id.Sequence {
			found = &m
			return false
		}
		return m.ID.Sequence < id.Sequence
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func walk(stream ID, content []byte, fn func(Message) bool) error {
	r := codec.NewFrameReader(content)
	for data, ok := r.Next(); ok; data, ok = r.Next() {
		var rec record
		if err := codec.Unmarshal(data, &rec); err != nil {
			return storeerr.Wrap(storeerr.MalformedSerializedRecord, err, "could not decode message record",
				storeerr.WithBook(stream.Book), storeerr.WithID(stream.String()))
		}
		m := Message{
			ID: ID{
				Book:         stream.Book,
				SessionAlias: stream.SessionAlias,
				Direction:    stream.Direction,
				Timestamp:    time.Unix(0, rec.Timestamp).UTC(),
				Sequence:     rec.Sequence,
			},
			Content:         rec.Content,
			Metadata:        rec.Metadata,
			ProtocolVersion: rec.ProtocolVersion,
		}
		if !fn(m) {
			return nil
		}
	}
	if err := r.Err(); err != nil {
		return storeerr.Wrap(storeerr.MalformedSerializedRecord, err, "corrupted message batch content",
			storeerr.WithBook(stream.Book), storeerr.WithID(stream.String()))
	}
	return nil
}
