package message

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"Cradle-storage/internal/storeerr"
)

// Direction of a message within a session.
type Direction int

const (
	First  Direction = 1
	Second Direction = 2
)

// Label is the persisted form of the direction.
func (d Direction) Label() string {
	return strconv.Itoa(int(d))
}

func (d Direction) String() string {
	switch d {
	case First:
		return "FIRST"
	case Second:
		return "SECOND"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

func (d Direction) Valid() bool {
	return d == First || d == Second
}

// ParseDirection accepts labels ("1", "2"), names and the IN/OUT aliases.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(s) {
	case "1", "FIRST", "IN", "INBOUND":
		return First, nil
	case "2", "SECOND", "OUT", "OUTBOUND":
		return Second, nil
	}
	return 0, storeerr.New(storeerr.ValidationError, fmt.Sprintf("unknown direction '%s'", s))
}

const (
	idDelimiter   = ':'
	idEscape      = '\\'
	timestampForm = "20060102150405"
)

// ID identifies a message: book, session alias, direction and the
// sequence number, which grows strictly within that triple.
type ID struct {
	Book         string    `json:"book"`
	SessionAlias string    `json:"session_alias"`
	Direction    Direction `json:"direction"`
	Timestamp    time.Time `json:"timestamp"`
	Sequence     int64     `json:"sequence"`
}

func (id ID) String() string {
	return JoinIDParts(escapeIDPart(id.Book), escapeIDPart(id.SessionAlias), id.Direction.Label(),
		FormatTimestamp(id.Timestamp), strconv.FormatInt(id.Sequence, 10))
}

// Stream is one session alias and direction of a book.
type Stream struct {
	SessionAlias string    `json:"session_alias"`
	Direction    Direction `json:"direction"`
}

// StreamKey returns the partition this id belongs to.
func (id ID) StreamKey() string {
	return JoinIDParts(escapeIDPart(id.Book), escapeIDPart(id.SessionAlias), id.Direction.Label())
}

// ParseID parses the String form.
func ParseID(s string) (ID, error) {
	parts := SplitIDParts(s)
	if len(parts) != 5 {
		return ID{}, storeerr.New(storeerr.ValidationError,
			fmt.Sprintf("message id '%s' must have 5 parts delimited with '%c'", s, idDelimiter))
	}
	dir, err := ParseDirection(parts[2])
	if err != nil {
		return ID{}, err
	}
	ts, err := ParseTimestamp(parts[3])
	if err != nil {
		return ID{}, storeerr.Wrap(storeerr.ValidationError, err, "invalid timestamp in message id", storeerr.WithID(s))
	}
	seq, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil {
		return ID{}, storeerr.Wrap(storeerr.ValidationError, err, "invalid sequence in message id", storeerr.WithID(s))
	}
	return ID{Book: parts[0], SessionAlias: parts[1], Direction: dir, Timestamp: ts, Sequence: seq}, nil
}

// FormatTimestamp renders t as yyyyMMddHHmmss followed by nine digits of
// nanoseconds, in UTC.
func FormatTimestamp(t time.Time) string {
	t = t.UTC()
	return t.Format(timestampForm) + fmt.Sprintf("%09d", t.Nanosecond())
}

func ParseTimestamp(s string) (time.Time, error) {
	if len(s) != len(timestampForm)+9 {
		return time.Time{}, fmt.Errorf("timestamp '%s' has unexpected length", s)
	}
	t, err := time.ParseInLocation(timestampForm, s[:len(timestampForm)], time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	nanos, err := strconv.Atoi(s[len(timestampForm):])
	if err != nil {
		return time.Time{}, err
	}
	return t.Add(time.Duration(nanos)), nil
}

func escapeIDPart(s string) string {
	if !strings.ContainsAny(s, `:\`) {
		return s
	}
	var sb strings.Builder
	for _, r := range s {
		if r == idDelimiter || r == idEscape {
			sb.WriteRune(idEscape)
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// JoinIDParts joins already escaped parts.
func JoinIDParts(parts ...string) string {
	return strings.Join(parts, string(idDelimiter))
}

// EscapeIDPart escapes delimiters inside a single id part.
func EscapeIDPart(s string) string {
	return escapeIDPart(s)
}

// SplitIDParts splits an id on unescaped delimiters and unescapes each part.
func SplitIDParts(s string) []string {
	var (
		parts   []string
		sb      strings.Builder
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			sb.WriteRune(r)
			escaped = false
		case r == idEscape:
			escaped = true
		case r == idDelimiter:
			parts = append(parts, sb.String())
			sb.Reset()
		default:
			sb.WriteRune(r)
		}
	}
	return append(parts, sb.String())
}
