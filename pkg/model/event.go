package model

import (
	"errors"
	"time"
)

// PresenceEventKind says what happened to a registry entry.
type PresenceEventKind int

const (
	EventJoined  PresenceEventKind = iota // name registered
	EventLeft                             // explicit leave or disconnect
	EventExpired                          // idle datagram address evicted
	EventPruned                           // removed after a failed send
)

func (k PresenceEventKind) String() string {
	switch k {
	case EventJoined:
		return "joined"
	case EventLeft:
		return "left"
	case EventExpired:
		return "expired"
	case EventPruned:
		return "pruned"
	default:
		return "unknown"
	}
}

// Valid reports whether k is a known kind.
func (k PresenceEventKind) Valid() bool {
	return k >= EventJoined && k <= EventPruned
}

// ParsePresenceEventKind converts a string to a kind.
func ParsePresenceEventKind(s string) (PresenceEventKind, error) {
	switch s {
	case "joined":
		return EventJoined, nil
	case "left":
		return EventLeft, nil
	case "expired":
		return EventExpired, nil
	case "pruned":
		return EventPruned, nil
	default:
		return 0, ErrInvalidEventKind
	}
}

var ErrInvalidEventKind = errors.New("invalid presence event kind: must be joined, left, expired or pruned")

// PresenceEvent is one journal row describing a presence change.
type PresenceEvent struct {
	ID        int64             `json:"id"`
	Username  string            `json:"username"`
	Kind      PresenceEventKind `json:"kind"`
	Transport Transport         `json:"transport"`
	Remote    string            `json:"remote"`
	Session   string            `json:"session"` // empty for datagram peers
	CreatedAt time.Time         `json:"created_at"`
}

// Validate checks the fields the journal requires.
func (e *PresenceEvent) Validate() error {
	if err := ValidateUsername(e.Username); err != nil {
		return err
	}
	if !e.Kind.Valid() {
		return ErrInvalidEventKind
	}
	return nil
}

type PresenceEventFilters struct {
	Username *string
	Kind     *PresenceEventKind
	Limit    *int64
}
