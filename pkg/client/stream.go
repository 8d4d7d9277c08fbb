// Package client implements the OpenChat stream and datagram clients.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NicolasHaas/openchat/pkg/protocol"
)

// ErrUnreachable is returned when the server cannot be reached.
var ErrUnreachable = errors.New("client: server unreachable")

// exitGrace bounds how long a leaving client waits for the server's goodbye.
const exitGrace = time.Second

// StreamClient is a connected stream (TCP) chat session.
type StreamClient struct {
	conn    net.Conn
	mu      sync.Mutex // serialises writes
	leaving atomic.Bool
	done    chan struct{}
}

// DialStream connects to a stream server at addr.
func DialStream(ctx context.Context, addr string) (*StreamClient, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return &StreamClient{
		conn: conn,
		done: make(chan struct{}),
	}, nil
}

// Send writes one input line to the server.
func (c *StreamClient) Send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("client: send: %w", err)
	}
	return nil
}

// Close closes the connection.
func (c *StreamClient) Close() error {
	return c.conn.Close()
}

// Done returns a channel that's closed when the connection is lost.
func (c *StreamClient) Done() <-chan struct{} {
	return c.done
}

// Run prints server output to out and sends each line read from in. The
// first line answers the username prompt. It returns after "exit", at end of
// input, when the server disconnects or when ctx is cancelled.
func (c *StreamClient) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	w := &lockedWriter{w: out}
	c.startReceiving(w)
	lines := scanLines(in)

	for {
		select {
		case <-ctx.Done():
			_ = c.Close()
			return ctx.Err()
		case <-c.done:
			return nil
		case line, ok := <-lines:
			if !ok {
				line = "exit"
			}
			line = strings.TrimSpace(line)
			if line == "" {
				w.println(protocol.System(protocol.NoticeBlankMessage))
				continue
			}

			if strings.EqualFold(line, "exit") {
				c.leaving.Store(true)
			}
			if err := c.Send(line); err != nil {
				_ = c.Close()
				return err
			}
			if c.leaving.Load() {
				w.println(protocol.System("Disconnecting..."))
				select {
				case <-c.done:
				case <-time.After(exitGrace):
				}
				return c.Close()
			}
		}
	}
}

// startReceiving copies server output to w until the connection closes.
func (c *StreamClient) startReceiving(w *lockedWriter) {
	go func() {
		defer close(c.done)
		buf := make([]byte, protocol.BufferSize)
		for {
			n, err := c.conn.Read(buf)
			if n > 0 {
				if text := strings.TrimSpace(string(buf[:n])); text != "" {
					w.println(text)
				}
			}
			if err != nil {
				if !c.leaving.Load() {
					w.println(protocol.System("Disconnected from server."))
				}
				if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
					slog.Debug("stream read error", "err", err)
				}
				return
			}
		}
	}()
}

// scanLines feeds lines from r into the returned channel and closes it at
// end of input.
func scanLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// lockedWriter serialises line output from the receive and input loops.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) println(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = fmt.Fprintln(l.w, s)
}
