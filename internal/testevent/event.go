package testevent

import (
	"time"

	"Cradle-storage/internal/message"
)

// Kind discriminates the two event variants.
type Kind int

const (
	KindSingle Kind = iota + 1
	KindBatch
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindBatch:
		return "batch"
	default:
		return "unknown"
	}
}

// Event is either a *Single or a *Batch.
type Event interface {
	Kind() Kind
	EventID() ID
	EventName() string
	EventType() string
	Parent() *ID
	IsSuccess() bool
	// LastTimestamp is the latest moment covered by the event.
	LastTimestamp() time.Time
}

// Single is a standalone test event.
type Single struct {
	ID           ID           `json:"id"`
	Name         string       `json:"name"`
	Type         string       `json:"type,omitempty"`
	ParentID     *ID          `json:"parent_id,omitempty"`
	EndTimestamp time.Time    `json:"end_timestamp,omitempty"`
	Success      bool         `json:"success"`
	Content      []byte       `json:"content,omitempty"`
	MessageIDs   []message.ID `json:"message_ids,omitempty"`
}

func (s *Single) Kind() Kind        { return KindSingle }
func (s *Single) EventID() ID       { return s.ID }
func (s *Single) EventName() string { return s.Name }
func (s *Single) EventType() string { return s.Type }
func (s *Single) Parent() *ID       { return s.ParentID }
func (s *Single) IsSuccess() bool   { return s.Success }

func (s *Single) IsRoot() bool {
	return s.ParentID == nil
}

func (s *Single) LastTimestamp() time.Time {
	if s.EndTimestamp.After(s.ID.StartTimestamp) {
		return s.EndTimestamp
	}
	return s.ID.StartTimestamp
}

// BatchedEvent is an event stored inside a batch.
type BatchedEvent struct {
	ID           ID           `json:"id"`
	Name         string       `json:"name"`
	Type         string       `json:"type,omitempty"`
	ParentID     *ID          `json:"parent_id"`
	EndTimestamp time.Time    `json:"end_timestamp,omitempty"`
	Success      bool         `json:"success"`
	Content      []byte       `json:"content,omitempty"`
	MessageIDs   []message.ID `json:"message_ids,omitempty"`
}

// Single returns e as a standalone event.
func (e BatchedEvent) Single() *Single {
	return &Single{
		ID:           e.ID,
		Name:         e.Name,
		Type:         e.Type,
		ParentID:     e.ParentID,
		EndTimestamp: e.EndTimestamp,
		Success:      e.Success,
		Content:      e.Content,
		MessageIDs:   e.MessageIDs,
	}
}
