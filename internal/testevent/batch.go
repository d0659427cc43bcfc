package testevent

import (
	"fmt"
	"time"

	"Cradle-storage/internal/codec"
	"Cradle-storage/internal/storeerr"
)

// Batch holds events written together under one id. Every event in the
// batch descends from the batch's parent: its parent is either that parent
// or another event already in the batch.
type Batch struct {
	ID       ID
	Name     string
	Type     string
	ParentID *ID

	maxSize  int
	size     int
	events   []BatchedEvent
	byID     map[string]int
	children map[string][]int
}

// NewBatch creates an empty batch. A batch cannot be a root event.
func NewBatch(id ID, name, typ string, parentID *ID, maxSize int) (*Batch, error) {
	if id.ID == "" {
		return nil, validationErr("Test event ID cannot be null", id)
	}
	if parentID == nil {
		return nil, validationErr("Batch must have a parent", id)
	}
	if sameID(&id, parentID) {
		return nil, validationErr("Test event cannot reference itself", id)
	}
	return &Batch{
		ID:       id,
		Name:     name,
		Type:     typ,
		ParentID: parentID,
		maxSize:  maxSize,
		byID:     make(map[string]int),
		children: make(map[string][]int),
	}, nil
}

func validationErr(msg string, id ID) error {
	return storeerr.New(storeerr.ValidationError, msg, storeerr.WithBook(id.Book), storeerr.WithID(id.String()))
}

// Add appends an event after checking the batch invariants.
func (b *Batch) Add(e BatchedEvent) error {
	if e.ID.ID == "" {
		return validationErr("Test event ID cannot be null", b.ID)
	}
	if e.ID.Book != b.ID.Book || e.ID.Scope != b.ID.Scope {
		return validationErr(fmt.Sprintf("Test event %s has book or scope different from batch %s", e.ID, b.ID), e.ID)
	}
	if e.Name == "" {
		return validationErr("Test event must have a name", e.ID)
	}
	if e.ID.StartTimestamp.IsZero() {
		return validationErr("Test event must have a start timestamp", e.ID)
	}
	if e.ID.StartTimestamp.Before(b.ID.StartTimestamp) {
		return validationErr(fmt.Sprintf("Test event %s starts before batch %s", e.ID, b.ID), e.ID)
	}
	if e.ParentID == nil {
		return validationErr(fmt.Sprintf("Event %s must have a parent", e.ID), e.ID)
	}
	if sameID(&e.ID, e.ParentID) {
		return validationErr("Test event cannot reference itself", e.ID)
	}
	key := e.ID.String()
	if _, exists := b.byID[key]; exists {
		return validationErr(fmt.Sprintf("Test event with ID %s is already present in batch", e.ID), e.ID)
	}
	if sameID(&e.ID, b.ParentID) {
		return validationErr(fmt.Sprintf("Test event with ID %s is a parent of batch itself and cannot be stored in this batch", e.ID), e.ID)
	}
	parentKey := e.ParentID.String()
	if !sameID(e.ParentID, b.ParentID) {
		if _, inBatch := b.byID[parentKey]; !inBatch {
			return validationErr(fmt.Sprintf("Test event with ID %s should be parent of the batch or of an event stored in this batch to be parent of event %s",
				e.ParentID, e.ID), e.ID)
		}
	}

	size := eventSize(e)
	if b.maxSize > 0 && b.size+size > b.maxSize {
		return validationErr(fmt.Sprintf("Batch has not enough space to hold test event of %d bytes (%d of %d used)", size, b.size, b.maxSize), e.ID)
	}

	b.events = append(b.events, e)
	idx := len(b.events) - 1
	b.byID[key] = idx
	b.children[parentKey] = append(b.children[parentKey], idx)
	b.size += size
	return nil
}

func eventSize(e BatchedEvent) int {
	size := len(e.Content) + len(e.Name) + len(e.Type) + len(e.ID.ID) + 64
	for _, m := range e.MessageIDs {
		size += len(m.SessionAlias) + 32
	}
	return codec.FrameSize(size)
}

func (b *Batch) Kind() Kind        { return KindBatch }
func (b *Batch) EventID() ID       { return b.ID }
func (b *Batch) EventName() string { return b.Name }
func (b *Batch) EventType() string { return b.Type }
func (b *Batch) Parent() *ID       { return b.ParentID }

// IsSuccess reports whether every event in the batch succeeded.
func (b *Batch) IsSuccess() bool {
	for _, e := range b.events {
		if !e.Success {
			return false
		}
	}
	return true
}

func (b *Batch) Count() int {
	return len(b.events)
}

func (b *Batch) IsEmpty() bool {
	return len(b.events) == 0
}

func (b *Batch) Size() int {
	return b.size
}

// Events returns the events in insertion order.
func (b *Batch) Events() []BatchedEvent {
	out := make([]BatchedEvent, len(b.events))
	copy(out, b.events)
	return out
}

// Event returns the event with the given id.
func (b *Batch) Event(id ID) (BatchedEvent, bool) {
	idx, ok := b.byID[id.String()]
	if !ok {
		return BatchedEvent{}, false
	}
	return b.events[idx], true
}

// RootEvents returns the events whose parent is the batch's parent.
func (b *Batch) RootEvents() []BatchedEvent {
	return b.Children(*b.ParentID)
}

// Children returns the direct children of id within the batch.
func (b *Batch) Children(id ID) []BatchedEvent {
	idxs := b.children[id.String()]
	out := make([]BatchedEvent, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, b.events[i])
	}
	return out
}

// HasChildren reports whether id has children in the batch.
func (b *Batch) HasChildren(id ID) bool {
	return len(b.children[id.String()]) > 0
}

// FirstStartTimestamp is the earliest start among the events.
func (b *Batch) FirstStartTimestamp() time.Time {
	var first time.Time
	for _, e := range b.events {
		if first.IsZero() || e.ID.StartTimestamp.Before(first) {
			first = e.ID.StartTimestamp
		}
	}
	return first
}

// LastStartTimestamp is the latest start among the events.
func (b *Batch) LastStartTimestamp() time.Time {
	var last time.Time
	for _, e := range b.events {
		if e.ID.StartTimestamp.After(last) {
			last = e.ID.StartTimestamp
		}
	}
	return last
}

// LastTimestamp is the latest start or end among the events.
func (b *Batch) LastTimestamp() time.Time {
	last := b.ID.StartTimestamp
	for _, e := range b.events {
		if e.ID.StartTimestamp.After(last) {
			last = e.ID.StartTimestamp
		}
		if e.EndTimestamp.After(last) {
			last = e.EndTimestamp
		}
	}
	return last
}
