package presence

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/openchat/pkg/model"
)

type fakeEndpoint struct {
	id        string
	transport model.Transport
}

func (e *fakeEndpoint) Send(_ []byte) error        { return nil }
func (e *fakeEndpoint) Identity() string           { return e.id }
func (e *fakeEndpoint) Transport() model.Transport { return e.transport }
func (e *fakeEndpoint) Close() error               { return nil }

func stream(id string) *fakeEndpoint   { return &fakeEndpoint{id: id, transport: model.TransportStream} }
func datagram(id string) *fakeEndpoint { return &fakeEndpoint{id: id, transport: model.TransportDatagram} }

type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) PresenceChanged(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.changes))
	for i, c := range r.changes {
		out[i] = c.Name + ":" + c.Kind.String()
	}
	return out
}

func TestRegisterOverwritesAndReportsCreation(t *testing.T) {
	reg := NewRegistry()
	first, second := datagram("10.0.0.1:5000"), datagram("10.0.0.1:6000")

	if created, err := reg.Register("alice", first); err != nil || !created {
		t.Fatalf("Register: expected first registration to create entry, got %v %v", created, err)
	}
	if created, err := reg.Register("alice", second); err != nil || created {
		t.Fatalf("Register: expected re-registration to report existing entry, got %v %v", created, err)
	}
	ep, ok := reg.Lookup("alice")
	if !ok || ep != second {
		t.Fatalf("Lookup: expected latest endpoint, got %v ok=%v", ep, ok)
	}
	if reg.Len() != 1 {
		t.Fatalf("Len: want 1 got %d", reg.Len())
	}
}

func TestRegisterKeepsStreamBinding(t *testing.T) {
	reg := NewRegistry()
	held := stream("192.168.1.5:40000")
	if !reg.Claim("bob", held) {
		t.Fatalf("Claim: expected free name to be claimed")
	}

	if _, err := reg.Register("bob", datagram("10.0.0.9:7000")); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("Register: want ErrNameTaken, got %v", err)
	}
	if ep, _ := reg.Lookup("bob"); ep != held {
		t.Fatalf("Lookup: stream binding replaced by %v", ep)
	}
	if created, err := reg.Register("bob", held); err != nil || created {
		t.Fatalf("Register: refreshing own binding got %v %v", created, err)
	}
	if !reg.RemoveIf("bob", held, model.EventLeft) {
		t.Fatalf("RemoveIf: stream owner could not remove its binding")
	}
	if created, err := reg.Register("bob", datagram("10.0.0.9:7000")); err != nil || !created {
		t.Fatalf("Register: freed name got %v %v", created, err)
	}
}

func TestClaimRejectsTakenName(t *testing.T) {
	reg := NewRegistry()
	if !reg.Claim("alice", stream("a")) {
		t.Fatalf("Claim: expected free name to be claimed")
	}
	if reg.Claim("alice", stream("b")) {
		t.Fatalf("Claim: expected taken name to be rejected")
	}
}

func TestSentinel(t *testing.T) {
	reg := NewRegistry()
	reg.SetSentinel("Server")

	ep, ok := reg.Lookup("Server")
	if !ok || ep != nil {
		t.Fatalf("Lookup(sentinel): want (nil, true) got (%v, %v)", ep, ok)
	}
	if !reg.IsSentinel("Server") || reg.IsSentinel("alice") {
		t.Fatalf("IsSentinel: wrong answer")
	}
	if _, err := reg.Register("Server", datagram("9.9.9.9:9")); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("Register: sentinel must not be overwritten, got %v", err)
	}
	if reg.Claim("Server", stream("x")) {
		t.Fatalf("Claim: sentinel name must be taken")
	}
	if _, removed := reg.Unregister("Server"); removed {
		t.Fatalf("Unregister: sentinel must not be removed")
	}

	visited := 0
	reg.ForEachExcept("", func(string, Endpoint) { visited++ })
	if visited != 0 {
		t.Fatalf("ForEachExcept: sentinel must not be a send target")
	}
	if diff := cmp.Diff([]string{"Server"}, reg.Names()); diff != "" {
		t.Fatalf("Names mismatch (-want +got):\n%s", diff)
	}
}

func TestUnregisterAndRemoveIf(t *testing.T) {
	reg := NewRegistry()
	old, fresh := datagram("10.0.0.1:1"), datagram("10.0.0.1:2")
	reg.Register("alice", old)

	if _, ok := reg.Unregister("nobody"); ok {
		t.Fatalf("Unregister: unknown name must be a no-op")
	}

	reg.Register("alice", fresh)
	if reg.RemoveIf("alice", old, model.EventLeft) {
		t.Fatalf("RemoveIf: must not remove a newer binding")
	}
	if !reg.RemoveIf("alice", fresh, model.EventPruned) {
		t.Fatalf("RemoveIf: expected removal of current binding")
	}
	if _, ok := reg.Lookup("alice"); ok {
		t.Fatalf("Lookup: alice should be gone")
	}
}

func TestForEachExceptSkipsSender(t *testing.T) {
	reg := NewRegistry()
	reg.Register("alice", stream("a"))
	reg.Register("bob", stream("b"))
	reg.Register("carol", stream("c"))

	var got []string
	reg.ForEachExcept("alice", func(name string, _ Endpoint) {
		got = append(got, name)
	})
	if diff := cmp.Diff([]string{"bob", "carol"}, got); diff != "" {
		t.Fatalf("ForEachExcept mismatch (-want +got):\n%s", diff)
	}
}

func TestForEachExceptAllowsMutation(t *testing.T) {
	reg := NewRegistry()
	reg.Register("alice", stream("a"))
	reg.Register("bob", stream("b"))

	reg.ForEachExcept("", func(name string, ep Endpoint) {
		reg.RemoveIf(name, ep, model.EventPruned)
	})
	if reg.Len() != 0 {
		t.Fatalf("Len: want 0 got %d", reg.Len())
	}
}

func TestExpireOnlyIdleDatagrams(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	reg := NewRegistryWithClock(func() time.Time { return now })
	reg.SetSentinel("Server")
	reg.Register("udp-idle", datagram("1.1.1.1:1"))
	reg.Register("tcp-idle", stream("2.2.2.2:2"))

	now = now.Add(30 * time.Second)
	reg.Register("udp-fresh", datagram("3.3.3.3:3"))

	now = now.Add(45 * time.Second)
	expired := reg.Expire(time.Minute)
	if diff := cmp.Diff([]string{"udp-idle"}, expired); diff != "" {
		t.Fatalf("Expire mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Server", "tcp-idle", "udp-fresh"}, reg.Names()); diff != "" {
		t.Fatalf("Names mismatch (-want +got):\n%s", diff)
	}
	if reg.Expire(0) != nil {
		t.Fatalf("Expire(0): must never expire")
	}
}

func TestRegisterRefreshesLastSeen(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	reg := NewRegistryWithClock(func() time.Time { return now })
	ep := datagram("1.1.1.1:1")
	reg.Register("alice", ep)

	now = now.Add(50 * time.Second)
	reg.Register("alice", ep)
	now = now.Add(50 * time.Second)

	if expired := reg.Expire(time.Minute); len(expired) != 0 {
		t.Fatalf("Expire: refreshed entry must survive, got %v", expired)
	}
}

func TestClearReturnsEndpoints(t *testing.T) {
	reg := NewRegistry()
	reg.SetSentinel("Server")
	reg.Register("alice", stream("a"))
	reg.Register("bob", datagram("b"))

	eps := reg.Clear()
	if len(eps) != 2 {
		t.Fatalf("Clear: want 2 endpoints got %d", len(eps))
	}
	if reg.Len() != 0 || reg.IsSentinel("Server") {
		t.Fatalf("Clear: registry not empty")
	}
}

func TestObserverSeesEveryChangeOnce(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	reg.AddObserver(rec)

	ep := datagram("1.1.1.1:1")
	for i := 0; i < 5; i++ {
		reg.Register("alice", ep)
	}
	reg.RemoveIf("alice", ep, model.EventLeft)
	reg.Register("bob", stream("b"))
	reg.Unregister("bob")

	want := []string{"alice:joined", "alice:left", "bob:joined", "bob:left"}
	if diff := cmp.Diff(want, rec.kinds()); diff != "" {
		t.Fatalf("observer changes mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentRegisterSingleCreation(t *testing.T) {
	reg := NewRegistry()
	ep := datagram("1.1.1.1:1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := reg.Register("alice", ep); ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if created != 1 {
		t.Fatalf("Register: want exactly one creation, got %d", created)
	}
}
