package message

import (
	"time"
)

// Message represents a single message of a session stream
type Message struct {
	ID              ID                `json:"id"`
	Content         []byte            `json:"content"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	ProtocolVersion string            `json:"protocol_version,omitempty"`
}

// ToStore describes a message before it is added to a batch. Sequence
// and Timestamp come from the caller; the batch checks their order.
type ToStore struct {
	Book            string
	SessionAlias    string
	Direction       Direction
	Sequence        int64
	Timestamp       time.Time
	Content         []byte
	Metadata        map[string]string
	ProtocolVersion string
}
