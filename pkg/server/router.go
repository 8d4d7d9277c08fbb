package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/NicolasHaas/openchat/pkg/model"
	"github.com/NicolasHaas/openchat/pkg/presence"
	"github.com/NicolasHaas/openchat/pkg/protocol"
)

// Router delivers every command to the right endpoints. It is shared by the
// stream driver, the datagram driver and the console; all state lives in the
// registry.
type Router struct {
	registry *presence.Registry
	console  string // operator identity; lines for it go to out
	metrics  *Metrics
	now      func() time.Time

	outMu sync.Mutex
	out   io.Writer
}

// NewRouter creates a router over registry. Lines addressed to the console
// identity are written to out.
func NewRouter(registry *presence.Registry, console string, out io.Writer, metrics *Metrics) *Router {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Router{
		registry: registry,
		console:  console,
		metrics:  metrics,
		now:      time.Now,
		out:      out,
	}
}

// Dispatch routes one parsed command from sender and reports whether the
// sender asked to leave. KindJoin is a no-op here: binding belongs to the
// driver that owns the endpoint.
func (r *Router) Dispatch(sender string, cmd protocol.Command) (leave bool) {
	switch cmd.Kind {
	case protocol.KindBlank:
		r.Notify(sender, protocol.NoticeBlankMessage)
	case protocol.KindMalformed:
		r.metrics.MalformedCommands.Add(1)
		r.Notify(sender, cmd.Hint)
	case protocol.KindLeave:
		return true
	case protocol.KindListUsers:
		r.ListUsers(sender)
	case protocol.KindTestPing:
		r.TestPing(sender, cmd.Target)
	case protocol.KindPrivate:
		r.Private(sender, cmd.Target, cmd.Body)
	case protocol.KindPublic:
		r.Public(sender, cmd.Body)
	}
	return false
}

// Public broadcasts body to every registered endpoint except sender's own.
// The console always gets a copy.
func (r *Router) Public(sender, body string) {
	r.metrics.PublicMessages.Add(1)
	r.broadcast(sender, protocol.Format(model.NewPublic(r.now(), sender, body)))
}

// Private delivers body to target and echoes it back to sender.
// A message to oneself arrives once.
func (r *Router) Private(sender, target, body string) {
	r.metrics.PrivateMessages.Add(1)
	line := protocol.Format(model.NewPrivate(r.now(), sender, target, body))
	senderEP, senderRemote := r.remote(sender)

	if target == r.console {
		r.print(line)
		if senderRemote {
			_ = r.deliver(sender, senderEP, line)
		}
		return
	}

	targetEP, ok := r.registry.Lookup(target)
	if !ok || targetEP == nil {
		r.metrics.UnknownTargets.Add(1)
		r.Notify(sender, protocol.NotFound(target))
		return
	}

	if err := r.deliver(target, targetEP, line); errors.Is(err, presence.ErrEndpointClosed) {
		r.Notify(sender, protocol.SendFailed(target))
		return
	}
	if target == sender {
		return
	}
	if senderRemote {
		_ = r.deliver(sender, senderEP, line)
		return
	}
	r.print(line)
}

// TestPing sends the fixed test greeting privately from sender to target.
func (r *Router) TestPing(sender, target string) {
	r.Private(sender, target, protocol.TestGreeting)
}

// ListUsers answers requester with the sorted list of online names and
// returns the text it sent.
func (r *Router) ListUsers(requester string) string {
	text := protocol.Online(r.registry.Names())
	r.Notify(requester, text)
	return text
}

// Notify sends a system notice to name alone. The console, and any name with
// no live endpoint, gets it on the local output.
func (r *Router) Notify(name, text string) {
	line := protocol.System(text)
	if ep, ok := r.remote(name); ok {
		_ = r.deliver(name, ep, line)
		return
	}
	r.print(line)
}

// Join binds name to ep and announces names seen for the first time. A name
// held by the console or a stream session is refused with ErrNameTaken.
func (r *Router) Join(name string, ep presence.Endpoint) (created bool, err error) {
	created, err = r.registry.Register(name, ep)
	if err != nil {
		return false, err
	}
	if created {
		r.AnnounceJoin(name)
	}
	return created, nil
}

// Admit validates name and binds it to ep only if the name is free.
func (r *Router) Admit(name string, ep presence.Endpoint) error {
	if err := model.ValidateUsername(name); err != nil {
		return err
	}
	if !r.registry.Claim(name, ep) {
		return fmt.Errorf("%w: %q", ErrNameTaken, name)
	}
	r.AnnounceJoin(name)
	return nil
}

// AnnounceJoin tells everyone but name that name joined.
func (r *Router) AnnounceJoin(name string) {
	r.metrics.Joins.Add(1)
	slog.Info("user joined", "user", name)
	r.broadcast(name, protocol.Format(model.NewNotice(r.now(), name+" joined the chat.")))
}

// Leave acknowledges the departure to ep, removes name if it is still bound
// to ep and tells the remaining peers. It reports whether name was removed.
func (r *Router) Leave(name string, ep presence.Endpoint) bool {
	_ = ep.Send(protocol.EncodeLine(protocol.System(protocol.NoticeLeft)))

	if !r.registry.RemoveIf(name, ep, model.EventLeft) {
		return false
	}
	r.metrics.Leaves.Add(1)
	slog.Info("user left", "user", name, "remote", ep.Identity())
	r.broadcast(name, protocol.Format(model.NewNotice(r.now(), name+" left the chat.")))
	return true
}

// AnnounceExpired tells everyone that name was dropped for inactivity.
func (r *Router) AnnounceExpired(name string) {
	r.metrics.Expirations.Add(1)
	slog.Info("user timed out", "user", name)
	r.broadcast(name, protocol.Format(model.NewNotice(r.now(), name+" timed out.")))
}

// broadcast prints line locally and sends it to every endpoint but sender's.
func (r *Router) broadcast(sender, line string) {
	r.print(line)
	r.registry.ForEachExcept(sender, func(name string, ep presence.Endpoint) {
		_ = r.deliver(name, ep, line)
	})
}

// deliver sends line to ep. A closed stream endpoint is pruned from the
// registry and its departure broadcast; a dropped datagram is only counted.
func (r *Router) deliver(name string, ep presence.Endpoint, line string) error {
	err := ep.Send(protocol.EncodeLine(line))
	if err == nil {
		r.metrics.MessagesDelivered.Add(1)
		return nil
	}

	r.metrics.DeliveryFailures.Add(1)
	if !errors.Is(err, presence.ErrEndpointClosed) {
		slog.Debug("delivery dropped", "user", name, "remote", ep.Identity(), "err", err)
		return err
	}
	if r.registry.RemoveIf(name, ep, model.EventPruned) {
		r.metrics.EndpointsPruned.Add(1)
		slog.Info("pruned unreachable endpoint", "user", name, "remote", ep.Identity())
		_ = ep.Close()
		// Leave from the pruned session finds the name gone and stays silent.
		r.broadcast(name, protocol.Format(model.NewNotice(r.now(), name+" left the chat.")))
	}
	return err
}

// remote returns the endpoint bound to name unless name is the console or
// has no live binding.
func (r *Router) remote(name string) (presence.Endpoint, bool) {
	if name == r.console {
		return nil, false
	}
	ep, ok := r.registry.Lookup(name)
	if !ok || ep == nil {
		return nil, false
	}
	return ep, true
}

func (r *Router) print(line string) {
	if r.out == nil {
		return
	}
	r.outMu.Lock()
	defer r.outMu.Unlock()
	_, _ = fmt.Fprintln(r.out, line)
}
