package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/openchat/pkg/model"
	"github.com/NicolasHaas/openchat/pkg/server"
)

const ioTimeout = 3 * time.Second

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitOutput(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(ioTimeout)
	for !strings.Contains(out.String(), want) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %q in output:\n%s", want, out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func startServer(t *testing.T, stream, datagram bool) *server.Server {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.StreamAddr = ""
	cfg.DatagramAddr = ""
	cfg.MetricsLogInterval = 0
	if stream {
		cfg.StreamAddr = "127.0.0.1:0"
	}
	if datagram {
		cfg.DatagramAddr = "127.0.0.1:0"
	}

	srv := server.New(cfg, server.Dependencies{Out: io.Discard})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background(), nil) }()
	t.Cleanup(func() {
		srv.Shutdown()
		<-done
	})
	return srv
}

func writeLine(t *testing.T, w io.Writer, line string) {
	t.Helper()
	if _, err := io.WriteString(w, line+"\n"); err != nil {
		t.Fatalf("write %q: %v", line, err)
	}
}

func TestStreamClientSession(t *testing.T) {
	srv := startServer(t, true, false)
	ctx := context.Background()

	c, err := DialStream(ctx, srv.StreamAddr().String())
	if err != nil {
		t.Fatalf("DialStream: %v", err)
	}

	pr, pw := io.Pipe()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, pr, out) }()

	waitOutput(t, out, "Enter your username:")
	writeLine(t, pw, "alice")
	waitOutput(t, out, "exit          - Leave chat")

	writeLine(t, pw, "   ")
	waitOutput(t, out, "[System] Cannot send blank message.")

	writeLine(t, pw, "/who")
	waitOutput(t, out, "[System] Online: Server, alice")

	writeLine(t, pw, "exit")
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(ioTimeout):
		t.Fatalf("Run did not return after exit")
	}
	waitOutput(t, out, "[System] You left the chat.")
	if strings.Contains(out.String(), "Disconnected from server.") {
		t.Fatalf("clean exit reported as disconnect:\n%s", out.String())
	}
}

func TestStreamClientServerGone(t *testing.T) {
	srv := startServer(t, true, false)
	ctx := context.Background()

	c, err := DialStream(ctx, srv.StreamAddr().String())
	if err != nil {
		t.Fatalf("DialStream: %v", err)
	}

	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, pr, out) }()

	waitOutput(t, out, "Enter your username:")
	srv.Shutdown()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(ioTimeout):
		t.Fatalf("Run did not return after server shutdown")
	}
	waitOutput(t, out, "[System] Disconnected from server.")
}

func TestDialStreamUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	if _, err := DialStream(context.Background(), addr); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("DialStream: want ErrUnreachable got %v", err)
	}
}

func TestDatagramClientSession(t *testing.T) {
	srv := startServer(t, false, true)
	ctx := context.Background()

	c, err := DialDatagram(ctx, srv.DatagramAddr().String(), "  carol ", time.Second)
	if err != nil {
		t.Fatalf("DialDatagram: %v", err)
	}
	if c.Alias() != "carol" {
		t.Fatalf("Alias: got %q", c.Alias())
	}
	if _, ok := srv.Registry().Lookup("carol"); !ok {
		t.Fatalf("carol not registered after handshake")
	}

	pr, pw := io.Pipe()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, pr, out) }()

	waitOutput(t, out, "@Server msg  - Private message to server")

	writeLine(t, pw, "")
	waitOutput(t, out, "[System] Cannot send blank message.")

	writeLine(t, pw, "/who")
	waitOutput(t, out, "[System] Online: carol")

	writeLine(t, pw, "exit")
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(ioTimeout):
		t.Fatalf("Run did not return after exit")
	}

	deadline := time.Now().Add(ioTimeout)
	for {
		if _, ok := srv.Registry().Lookup("carol"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("carol still registered after exit")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDialDatagramErrors(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	silent := pc.LocalAddr().String()
	defer func() { _ = pc.Close() }()

	tests := map[string]struct {
		alias   string
		wantErr error
	}{
		"empty alias":     {alias: "  ", wantErr: model.ErrUsernameEmpty},
		"separator alias": {alias: "a:b", wantErr: model.ErrUsernameSeparator},
		"no reply":        {alias: "dave", wantErr: ErrUnreachable},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DialDatagram(context.Background(), silent, tc.alias, 200*time.Millisecond)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("DialDatagram: want %v got %v", tc.wantErr, err)
			}
		})
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")

	if diff := cmp.Diff(DefaultSettings(), LoadSettings(path)); diff != "" {
		t.Fatalf("missing file should give defaults (-want +got):\n%s", diff)
	}

	want := &Settings{Transport: "datagram", Host: "10.0.0.5", Username: "carol", ServerName: "Hub"}
	if err := want.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if diff := cmp.Diff(want, LoadSettings(path)); diff != "" {
		t.Fatalf("settings mismatch (-want +got):\n%s", diff)
	}
}
