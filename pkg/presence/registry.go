// Package presence maps usernames to live delivery endpoints.
//
// The Registry is the one mutable resource shared by every session driver.
// All reads and writes go through a single RWMutex; broadcast fan-out works
// on a snapshot taken under that lock so sends never happen while it is held.
package presence

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NicolasHaas/openchat/pkg/model"
)

// ErrNameTaken is returned by Register when name belongs to the sentinel or
// to a live stream session.
var ErrNameTaken = errors.New("presence: name taken")

type entry struct {
	endpoint Endpoint // nil for the console sentinel
	lastSeen time.Time
}

// Registry is the presence map username -> Endpoint.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	sentinel  string
	now       func() time.Time
	observers []Observer

	// notifyMu keeps observer callbacks in mutation order.
	notifyMu sync.Mutex
}

// NewRegistry creates an empty registry using time.Now.
func NewRegistry() *Registry {
	return NewRegistryWithClock(time.Now)
}

// NewRegistryWithClock creates an empty registry with a custom clock.
func NewRegistryWithClock(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		entries: make(map[string]*entry),
		now:     now,
	}
}

// AddObserver subscribes o to every subsequent change.
func (r *Registry) AddObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// SetSentinel registers the console identity with no endpoint. The sentinel
// shows up in Names but is never a send target and cannot be overwritten.
func (r *Registry) SetSentinel(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sentinel != "" {
		delete(r.entries, r.sentinel)
	}
	r.sentinel = name
	r.entries[name] = &entry{lastSeen: r.now()}
}

// IsSentinel reports whether name is the registered console identity.
func (r *Registry) IsSentinel(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sentinel != "" && name == r.sentinel
}

// Register binds name to ep, overwriting a previous datagram binding, and
// refreshes its last-seen time. It reports whether the name was not
// registered before. The sentinel name and a name held by another stream
// endpoint are left untouched and return ErrNameTaken.
func (r *Registry) Register(name string, ep Endpoint) (created bool, err error) {
	r.mu.Lock()
	if r.sentinel != "" && name == r.sentinel {
		r.mu.Unlock()
		return false, fmt.Errorf("%w: %q", ErrNameTaken, name)
	}
	now := r.now()
	if e, ok := r.entries[name]; ok {
		if e.endpoint != ep && e.endpoint.Transport() == model.TransportStream {
			r.mu.Unlock()
			return false, fmt.Errorf("%w: %q", ErrNameTaken, name)
		}
		e.endpoint = ep
		e.lastSeen = now
		r.mu.Unlock()
		return false, nil
	}
	r.entries[name] = &entry{endpoint: ep, lastSeen: now}
	r.unlockAndNotify(changeFor(name, ep, model.EventJoined, now))
	return true, nil
}

// Claim binds name to ep only if name is free.
func (r *Registry) Claim(name string, ep Endpoint) bool {
	r.mu.Lock()
	if _, ok := r.entries[name]; ok {
		r.mu.Unlock()
		return false
	}
	now := r.now()
	r.entries[name] = &entry{endpoint: ep, lastSeen: now}
	r.unlockAndNotify(changeFor(name, ep, model.EventJoined, now))
	return true
}

// Unregister removes name. It is a no-op for unknown names and the sentinel.
func (r *Registry) Unregister(name string) (Endpoint, bool) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok || e.endpoint == nil {
		r.mu.Unlock()
		return nil, false
	}
	delete(r.entries, name)
	r.unlockAndNotify(changeFor(name, e.endpoint, model.EventLeft, r.now()))
	return e.endpoint, true
}

// RemoveIf removes name only while it is still bound to ep, so a departing
// connection cannot evict a newer binding of the same name. kind is recorded
// on the resulting change.
func (r *Registry) RemoveIf(name string, ep Endpoint, kind model.PresenceEventKind) bool {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok || e.endpoint == nil || e.endpoint != ep {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, name)
	r.unlockAndNotify(changeFor(name, ep, kind, r.now()))
	return true
}

// Lookup returns the endpoint bound to name. The sentinel returns (nil, true).
func (r *Registry) Lookup(name string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.endpoint, true
}

// Names returns every registered name, sentinel included, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered names, sentinel included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ForEachExcept calls fn for every endpoint except the one registered as
// sender. fn runs on a snapshot, outside the lock, so it may send or call
// RemoveIf.
func (r *Registry) ForEachExcept(sender string, fn func(name string, ep Endpoint)) {
	type target struct {
		name string
		ep   Endpoint
	}

	r.mu.RLock()
	targets := make([]target, 0, len(r.entries))
	for name, e := range r.entries {
		if name == sender || e.endpoint == nil {
			continue
		}
		targets = append(targets, target{name, e.endpoint})
	}
	r.mu.RUnlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].name < targets[j].name })
	for _, t := range targets {
		fn(t.name, t.ep)
	}
}

// Expire removes datagram entries not refreshed within ttl and returns their
// names. Stream entries have a liveness signal and are never expired.
func (r *Registry) Expire(ttl time.Duration) []string {
	if ttl <= 0 {
		return nil
	}

	r.mu.Lock()
	now := r.now()
	var expired []string
	var changes []Change
	for name, e := range r.entries {
		if e.endpoint == nil || e.endpoint.Transport() != model.TransportDatagram {
			continue
		}
		if now.Sub(e.lastSeen) <= ttl {
			continue
		}
		delete(r.entries, name)
		expired = append(expired, name)
		changes = append(changes, changeFor(name, e.endpoint, model.EventExpired, now))
	}
	r.unlockAndNotify(changes...)

	sort.Strings(expired)
	return expired
}

// Clear drops every entry, sentinel included, and returns the endpoints that
// were registered so the caller can close them.
func (r *Registry) Clear() []Endpoint {
	r.mu.Lock()
	now := r.now()
	var endpoints []Endpoint
	var changes []Change
	for name, e := range r.entries {
		if e.endpoint == nil {
			continue
		}
		endpoints = append(endpoints, e.endpoint)
		changes = append(changes, changeFor(name, e.endpoint, model.EventLeft, now))
	}
	r.entries = make(map[string]*entry)
	r.sentinel = ""
	r.unlockAndNotify(changes...)
	return endpoints
}

// unlockAndNotify releases r.mu and delivers changes to every observer.
// notifyMu is taken before r.mu is released so callbacks keep mutation order.
func (r *Registry) unlockAndNotify(changes ...Change) {
	if len(changes) == 0 || len(r.observers) == 0 {
		r.mu.Unlock()
		return
	}
	observers := r.observers
	r.notifyMu.Lock()
	r.mu.Unlock()
	defer r.notifyMu.Unlock()

	for _, c := range changes {
		for _, o := range observers {
			o.PresenceChanged(c)
		}
	}
}

func changeFor(name string, ep Endpoint, kind model.PresenceEventKind, at time.Time) Change {
	return Change{
		Name:      name,
		Kind:      kind,
		Transport: ep.Transport(),
		Remote:    ep.Identity(),
		Session:   sessionOf(ep),
		At:        at,
	}
}
