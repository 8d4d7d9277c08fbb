package presence

import (
	"time"

	"github.com/NicolasHaas/openchat/pkg/model"
)

// Change describes one registry entry being created or removed.
type Change struct {
	Name      string
	Kind      model.PresenceEventKind
	Transport model.Transport
	Remote    string
	Session   string
	At        time.Time
}

// Event converts the change into a journal row.
func (c Change) Event() model.PresenceEvent {
	return model.PresenceEvent{
		Username:  c.Name,
		Kind:      c.Kind,
		Transport: c.Transport,
		Remote:    c.Remote,
		Session:   c.Session,
		CreatedAt: c.At,
	}
}

// Observer is notified after the registry lock is released, in the order the
// changes happened. Implementations must not call back into the registry
// synchronously with a write.
type Observer interface {
	PresenceChanged(c Change)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(c Change)

// PresenceChanged calls f(c).
func (f ObserverFunc) PresenceChanged(c Change) { f(c) }
