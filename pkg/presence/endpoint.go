package presence

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasHaas/openchat/pkg/model"
)

var (
	// ErrEndpointClosed marks a send that failed because the peer is gone.
	// The registry entry holding the endpoint should be pruned.
	ErrEndpointClosed = errors.New("presence: endpoint closed")

	// ErrDatagramDropped marks a datagram that could not be written. Datagram
	// peers have no liveness signal, so the entry is kept.
	ErrDatagramDropped = errors.New("presence: datagram dropped")
)

// Endpoint is a sendable destination for one participant.
type Endpoint interface {
	// Send writes one encoded message. It never panics; failures are
	// reported as ErrEndpointClosed or ErrDatagramDropped.
	Send(msg []byte) error
	// Identity is the remote address, used in logs and the journal.
	Identity() string
	Transport() model.Transport
	Close() error
}

// StreamEndpoint wraps one accepted connection. Writes are serialised so
// concurrent router calls never interleave bytes on the wire.
type StreamEndpoint struct {
	conn         net.Conn
	session      string
	writeTimeout time.Duration

	mu sync.Mutex
}

// NewStreamEndpoint wraps conn and assigns it a fresh session ID.
// A zero writeTimeout disables write deadlines.
func NewStreamEndpoint(conn net.Conn, writeTimeout time.Duration) *StreamEndpoint {
	return &StreamEndpoint{
		conn:         conn,
		session:      uuid.NewString(),
		writeTimeout: writeTimeout,
	}
}

// Send writes msg to the connection.
func (e *StreamEndpoint) Send(msg []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.writeTimeout > 0 {
		_ = e.conn.SetWriteDeadline(time.Now().Add(e.writeTimeout))
	}
	if _, err := e.conn.Write(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrEndpointClosed, err)
	}
	return nil
}

// Identity returns the peer address.
func (e *StreamEndpoint) Identity() string {
	return e.conn.RemoteAddr().String()
}

// Transport returns model.TransportStream.
func (e *StreamEndpoint) Transport() model.Transport {
	return model.TransportStream
}

// Session returns the connection's session ID.
func (e *StreamEndpoint) Session() string {
	return e.session
}

// Close closes the connection. Closing twice is not an error.
func (e *StreamEndpoint) Close() error {
	if err := e.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// PacketWriter is the part of *net.UDPConn a DatagramEndpoint needs.
type PacketWriter interface {
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
}

// DatagramEndpoint is the most recently observed origin of a datagram peer.
// It is a comparable value: two endpoints are equal when they share a socket
// and an address.
type DatagramEndpoint struct {
	conn PacketWriter
	addr netip.AddrPort
}

// NewDatagramEndpoint binds addr to the shared socket conn.
func NewDatagramEndpoint(conn PacketWriter, addr netip.AddrPort) DatagramEndpoint {
	return DatagramEndpoint{conn: conn, addr: addr}
}

// Send writes msg to the peer's address.
func (e DatagramEndpoint) Send(msg []byte) error {
	if _, err := e.conn.WriteToUDPAddrPort(msg, e.addr); err != nil {
		return fmt.Errorf("%w: %v", ErrDatagramDropped, err)
	}
	return nil
}

// Identity returns "ip:port".
func (e DatagramEndpoint) Identity() string {
	return e.addr.String()
}

// Transport returns model.TransportDatagram.
func (e DatagramEndpoint) Transport() model.Transport {
	return model.TransportDatagram
}

// Addr returns the bound address.
func (e DatagramEndpoint) Addr() netip.AddrPort {
	return e.addr
}

// Close is a no-op; the socket is shared by every datagram peer.
func (e DatagramEndpoint) Close() error {
	return nil
}

// sessionOf returns the session ID of endpoints that have one.
func sessionOf(ep Endpoint) string {
	if s, ok := ep.(interface{ Session() string }); ok {
		return s.Session()
	}
	return ""
}
