// Package model defines the core domain types for OpenChat.
package model

// Transport identifies how a participant reaches the server.
type Transport int

const (
	TransportStream   Transport = iota // connection-oriented (TCP)
	TransportDatagram                  // connectionless (UDP)
)

func (t Transport) String() string {
	switch t {
	case TransportStream:
		return "stream"
	case TransportDatagram:
		return "datagram"
	default:
		return "unknown"
	}
}

// Valid reports whether t is a known transport.
func (t Transport) Valid() bool {
	return t == TransportStream || t == TransportDatagram
}

// ParseTransport converts a string to a Transport. Unknown values map to
// TransportStream; use Valid on the caller's side when that matters.
func ParseTransport(s string) Transport {
	switch s {
	case "datagram", "udp":
		return TransportDatagram
	default:
		return TransportStream
	}
}
