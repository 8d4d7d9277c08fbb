package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/NicolasHaas/openchat/pkg/model"
	"github.com/NicolasHaas/openchat/pkg/protocol"
)

// DefaultHandshakeTimeout is how long DialDatagram waits for any reply.
const DefaultHandshakeTimeout = 2 * time.Second

// DatagramClient is a datagram (UDP) chat session. Every frame it sends is
// prefixed with its alias.
type DatagramClient struct {
	conn       *net.UDPConn
	alias      string
	serverName string
	done       chan struct{}
}

// DialDatagram validates alias, announces it to the server at addr and waits
// up to timeout for any reply. No reply means ErrUnreachable.
func DialDatagram(ctx context.Context, addr, alias string, timeout time.Duration) (*DatagramClient, error) {
	alias = strings.TrimSpace(alias)
	if err := model.ValidateUsername(alias); err != nil {
		return nil, fmt.Errorf("client: alias: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	c := &DatagramClient{
		conn:       conn.(*net.UDPConn),
		alias:      alias,
		serverName: protocol.DefaultServerName,
		done:       make(chan struct{}),
	}
	if err := c.handshake(ctx, timeout); err != nil {
		_ = c.conn.Close()
		return nil, err
	}
	return c, nil
}

// handshake sends "joined" and "/who" and waits for the first reply.
func (c *DatagramClient) handshake(ctx context.Context, timeout time.Duration) error {
	for _, payload := range []string{"joined", "/who"} {
		if err := c.Send(payload); err != nil {
			return fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetReadDeadline(deadline)
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()

	buf := make([]byte, protocol.BufferSize)
	if _, err := c.conn.Read(buf); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return nil
}

// SetServerName sets the console name shown in the help text.
func (c *DatagramClient) SetServerName(name string) {
	if name != "" {
		c.serverName = name
	}
}

// Alias returns the username this client sends as.
func (c *DatagramClient) Alias() string {
	return c.alias
}

// Send frames payload with the alias and writes it.
func (c *DatagramClient) Send(payload string) error {
	frame := protocol.Frame{User: c.alias, Payload: payload}
	if _, err := c.conn.Write(frame.Encode()); err != nil {
		return fmt.Errorf("client: send: %w", err)
	}
	return nil
}

// Close closes the socket.
func (c *DatagramClient) Close() error {
	return c.conn.Close()
}

// Run prints the help text and server output to out and sends each line read
// from in. It returns after "exit", at end of input or when ctx is cancelled.
func (c *DatagramClient) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	w := &lockedWriter{w: out}
	w.println(strings.TrimRight(protocol.DatagramHelp(c.serverName), "\n"))
	c.startReceiving(w)
	lines := scanLines(in)

	defer func() { _ = c.Close() }()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				line = "exit"
			}
			line = strings.TrimSpace(line)
			if line == "" {
				w.println(protocol.System(protocol.NoticeBlankMessage))
				continue
			}
			if err := c.Send(line); err != nil {
				w.println(protocol.System("Failed to send. Server may be unreachable."))
				continue
			}
			if strings.EqualFold(line, "exit") {
				return nil
			}
		}
	}
}

// startReceiving prints every datagram until the socket is closed.
func (c *DatagramClient) startReceiving(w *lockedWriter) {
	go func() {
		defer close(c.done)
		buf := make([]byte, protocol.BufferSize)
		for {
			n, err := c.conn.Read(buf)
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				slog.Debug("datagram read error", "err", err)
				continue
			}
			if text := strings.TrimSpace(strings.ToValidUTF8(string(buf[:n]), "")); text != "" {
				w.println(text)
			}
		}
	}()
}
