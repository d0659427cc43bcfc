package entity

import (
	"fmt"
	"time"

	"Cradle-storage/internal/book"
	"Cradle-storage/internal/compression"
	"Cradle-storage/internal/storage"
	"Cradle-storage/internal/storeerr"
	"Cradle-storage/internal/testevent"
)

// TestEvent is the persisted form of a single event or an event batch.
type TestEvent struct {
	Form           Form
	Book           string
	Page           string
	Scope          string
	StartTimestamp time.Time
	ID             string
	Name           string
	Type           string
	Success        bool
	Root           bool
	ParentID       string
	EventBatch     bool
	EventCount     int
	EndTimestamp   time.Time
	Compressed     bool
	ContentSize    int
	Content        []byte
	MessageIDs     []string
}

// NewTestEvent prepares e for storage in page.
func NewTestEvent(e testevent.Event, page book.PageID, gate compression.Gate) (*TestEvent, error) {
	id := e.EventID()
	ent := &TestEvent{
		Form:           Full,
		Book:           id.Book,
		Page:           page.Name,
		Scope:          id.Scope,
		StartTimestamp: id.StartTimestamp,
		ID:             id.ID,
		Name:           e.EventName(),
		Type:           e.EventType(),
		Success:        e.IsSuccess(),
		Root:           e.Parent() == nil,
	}
	if p := e.Parent(); p != nil {
		ent.ParentID = p.String()
	}

	var content []byte
	switch ev := e.(type) {
	case *testevent.Single:
		content = ev.Content
		ent.EventCount = 1
		ent.EndTimestamp = ev.EndTimestamp
		ent.MessageIDs = testevent.FormatMessageIDs(ev.MessageIDs)
	case *testevent.Batch:
		data, err := testevent.SerializeBatch(ev)
		if err != nil {
			return nil, serializationErr(err, "test event batch", id.Book, page.Name, id.String())
		}
		content = data
		ent.EventBatch = true
		ent.EventCount = ev.Count()
		ent.EndTimestamp = ev.LastTimestamp()
		for _, be := range ev.Events() {
			ent.MessageIDs = append(ent.MessageIDs, testevent.FormatMessageIDs(be.MessageIDs)...)
		}
	default:
		return nil, storeerr.New(storeerr.ValidationError, fmt.Sprintf("unsupported test event type %T", e),
			storeerr.WithBook(id.Book), storeerr.WithID(id.String()))
	}

	stored, compressed, err := gate.Apply(content)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.CompressionFailure, err, "could not compress test event",
			storeerr.WithBook(id.Book), storeerr.WithPage(page.Name), storeerr.WithID(id.String()))
	}
	ent.Compressed = compressed
	ent.ContentSize = len(content)
	ent.Content = stored
	return ent, nil
}

// EventID rebuilds the id of the stored event.
func (e *TestEvent) EventID() testevent.ID {
	return testevent.ID{Book: e.Book, Scope: e.Scope, StartTimestamp: e.StartTimestamp, ID: e.ID}
}

// Duration is the time the event spans, from start to its last timestamp.
func (e *TestEvent) Duration() time.Duration {
	if e.EndTimestamp.IsZero() || e.EndTimestamp.Before(e.StartTimestamp) {
		return 0
	}
	return e.EndTimestamp.Sub(e.StartTimestamp)
}

// TestEventPartition builds the partition key of one scope within a page.
func TestEventPartition(bookID, page, scope string) storage.Row {
	return storage.Row{ColBook: bookID, ColPage: page, ColScope: scope}
}

// TestEventClustering returns the clustering values of an event start and id.
func TestEventClustering(start time.Time, id string) []interface{} {
	if id == "" {
		return []interface{}{storage.DateOf(start), storage.TimeOfDay(start)}
	}
	return []interface{}{storage.DateOf(start), storage.TimeOfDay(start), id}
}

func (e *TestEvent) ToRow() storage.Row {
	row := TestEventPartition(e.Book, e.Page, e.Scope)
	row[ColStartDate] = storage.DateOf(e.StartTimestamp)
	row[ColStartTime] = storage.TimeOfDay(e.StartTimestamp)
	row[ColID] = e.ID
	row[ColName] = e.Name
	row[ColType] = e.Type
	row[ColSuccess] = e.Success
	row[ColRoot] = e.Root
	row[ColEventBatch] = e.EventBatch
	row[ColEventCount] = e.EventCount
	row[ColEndTimestamp] = e.EndTimestamp
	row[ColCompressed] = e.Compressed
	row[ColContentSize] = e.ContentSize
	if e.ParentID != "" {
		row[ColParentID] = e.ParentID
	}
	if len(e.MessageIDs) > 0 {
		row[ColMessageIDs] = e.MessageIDs
	}
	if e.Form == Full {
		row[ColContent] = e.Content
	}
	return row
}

// TestEventFromRow reads a test_events row.
func TestEventFromRow(row storage.Row, form Form) *TestEvent {
	e := &TestEvent{
		Form:           form,
		Book:           row.String(ColBook),
		Page:           row.String(ColPage),
		Scope:          row.String(ColScope),
		StartTimestamp: row.Time(ColStartDate).Add(row.Duration(ColStartTime)),
		ID:             row.String(ColID),
		Name:           row.String(ColName),
		Type:           row.String(ColType),
		Success:        row.Bool(ColSuccess),
		Root:           row.Bool(ColRoot),
		ParentID:       row.String(ColParentID),
		EventBatch:     row.Bool(ColEventBatch),
		EventCount:     row.Int(ColEventCount),
		EndTimestamp:   row.Time(ColEndTimestamp),
		Compressed:     row.Bool(ColCompressed),
		ContentSize:    row.Int(ColContentSize),
		MessageIDs:     row.Strings(ColMessageIDs),
	}
	if form == Full {
		e.Content = row.Bytes(ColContent)
	}
	return e
}

func (e *TestEvent) opts() []storeerr.Option {
	return []storeerr.Option{storeerr.WithBook(e.Book), storeerr.WithPage(e.Page), storeerr.WithID(e.EventID().String())}
}

// Event rebuilds the stored event. The content of a batch is decoded into
// its events; a single event keeps its raw content.
func (e *TestEvent) Event(gate compression.Gate) (testevent.Event, error) {
	if e.Form != Full {
		return nil, storeerr.New(storeerr.ValidationError, "test event was read without content", e.opts()...)
	}
	var parent *testevent.ID
	if e.ParentID != "" {
		p, err := testevent.ParseID(e.ParentID)
		if err != nil {
			return nil, storeerr.Wrap(storeerr.MalformedSerializedRecord, err, "invalid parent id in test event row", e.opts()...)
		}
		parent = &p
	}
	content, err := gate.Restore(e.Content, e.Compressed)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.DecompressionFailure, err, "could not decompress test event", e.opts()...)
	}

	if !e.EventBatch {
		msgIDs, err := testevent.ParseMessageIDs(e.MessageIDs)
		if err != nil {
			return nil, storeerr.Wrap(storeerr.MalformedSerializedRecord, err, "invalid message id in test event row", e.opts()...)
		}
		return &testevent.Single{
			ID:           e.EventID(),
			Name:         e.Name,
			Type:         e.Type,
			ParentID:     parent,
			EndTimestamp: e.EndTimestamp,
			Success:      e.Success,
			Content:      content,
			MessageIDs:   msgIDs,
		}, nil
	}

	b, err := testevent.NewBatch(e.EventID(), e.Name, e.Type, parent, 0)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.MalformedSerializedRecord, err, "stored test event batch is invalid", e.opts()...)
	}
	if err := testevent.DeserializeBatch(b, content); err != nil {
		return nil, err
	}
	return b, nil
}
