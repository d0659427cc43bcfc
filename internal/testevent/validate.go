package testevent

import (
	"fmt"
)

// Validate checks an event before it is written.
func Validate(e Event) error {
	id := e.EventID()
	if id.ID == "" {
		return validationErr("Test event ID cannot be null", id)
	}
	if id.Book == "" {
		return validationErr("Test event must have a book", id)
	}
	if id.Scope == "" {
		return validationErr("Test event must have a scope", id)
	}
	if id.StartTimestamp.IsZero() {
		return validationErr("Test event must have a start timestamp", id)
	}
	if sameID(&id, e.Parent()) {
		return validationErr("Test event cannot reference itself", id)
	}
	if p := e.Parent(); p != nil && p.Book != id.Book {
		return validationErr(fmt.Sprintf("Test event %s and its parent %s belong to different books", id, p), id)
	}

	switch ev := e.(type) {
	case *Single:
		if ev.Name == "" {
			return validationErr("Test event must have a name", id)
		}
		if !ev.EndTimestamp.IsZero() && ev.EndTimestamp.Before(id.StartTimestamp) {
			return validationErr(fmt.Sprintf("Test event %s ends before it starts", id), id)
		}
	case *Batch:
		if ev.ParentID == nil {
			return validationErr("Batch must have a parent", id)
		}
		if ev.IsEmpty() {
			return validationErr(fmt.Sprintf("Batch %s is empty", id), id)
		}
	default:
		return validationErr(fmt.Sprintf("unsupported test event type %T", e), id)
	}
	return nil
}
