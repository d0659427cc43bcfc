package healing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"Cradle-storage/internal/storeerr"
)

const day = 24 * time.Hour

// Interval is a daily time window in which a recovery process works on a
// book. RecoveryState belongs to that process and is stored as given.
type Interval struct {
	ID            string          `json:"id"`
	Book          string          `json:"book"`
	Start         time.Duration   `json:"start"`
	End           time.Duration   `json:"end"`
	RecoveryState json.RawMessage `json:"recovery_state,omitempty"`
}

// New creates an interval with a random id.
func New(book string, start, end time.Duration, state json.RawMessage) *Interval {
	return &Interval{
		ID:            uuid.New().String(),
		Book:          book,
		Start:         start,
		End:           end,
		RecoveryState: state,
	}
}

// Validate checks the interval before it is written.
func (i *Interval) Validate() error {
	if i.ID == "" {
		return storeerr.New(storeerr.ValidationError, "healing interval must have an id", storeerr.WithBook(i.Book))
	}
	if i.Book == "" {
		return storeerr.New(storeerr.ValidationError, "healing interval must have a book", storeerr.WithID(i.ID))
	}
	if i.Start < 0 || i.Start >= day || i.End < 0 || i.End >= day {
		return storeerr.New(storeerr.ValidationError,
			fmt.Sprintf("healing interval bounds %s-%s must be times of day", i.Start, i.End),
			storeerr.WithBook(i.Book), storeerr.WithID(i.ID))
	}
	if len(i.RecoveryState) > 0 && !json.Valid(i.RecoveryState) {
		return storeerr.New(storeerr.ValidationError, "recovery state is not valid JSON",
			storeerr.WithBook(i.Book), storeerr.WithID(i.ID))
	}
	return nil
}

// Contains reports whether the time of day t falls into the interval. An
// interval whose end precedes its start wraps past midnight.
func (i *Interval) Contains(t time.Duration) bool {
	if i.Start <= i.End {
		return t >= i.Start && t <= i.End
	}
	return t >= i.Start || t <= i.End
}
