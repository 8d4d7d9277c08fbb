package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"
	"unicode"

	"github.com/NicolasHaas/openchat/pkg/presence"
	"github.com/NicolasHaas/openchat/pkg/protocol"
)

// startStream binds the TCP listener and registers the console identity.
func (s *Server) startStream() error {
	ln, err := net.Listen("tcp", s.cfg.StreamAddr)
	if err != nil {
		return fmt.Errorf("%w: stream %s: %v", ErrBind, s.cfg.StreamAddr, err)
	}
	s.streamLn = ln
	s.registry.SetSentinel(s.cfg.Name)
	slog.Info("stream listening", "addr", ln.Addr().String())
	return nil
}

// acceptLoop accepts stream connections until the listener is closed.
func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.streamLn.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("accept error", "err", err)
			continue
		}
		if !s.trackConn(conn) {
			_ = conn.Close()
			return nil
		}
		s.connWG.Add(1)
		go func() {
			defer s.connWG.Done()
			defer s.untrackConn(conn)
			s.handleStreamConn(conn)
		}()
	}
}

// handleStreamConn runs one stream session: username handshake, then one
// command per received chunk until the peer leaves or the connection drops.
func (s *Server) handleStreamConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	remote := conn.RemoteAddr().String()
	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	defer func() {
		s.metrics.ActiveConnections.Add(-1)
		s.metrics.TotalDisconnects.Add(1)
	}()
	slog.Debug("new stream connection", "remote", remote)

	ep := presence.NewStreamEndpoint(conn, s.cfg.WriteTimeout)
	if err := ep.Send([]byte(protocol.UsernamePrompt)); err != nil {
		return
	}

	name, err := s.readUsername(conn)
	if err != nil {
		s.metrics.HandshakeFailures.Add(1)
		slog.Debug("handshake read failed", "remote", remote, "err", err)
		return
	}

	if err := s.router.Admit(name, ep); err != nil {
		s.metrics.HandshakeFailures.Add(1)
		notice := protocol.NoticeInvalidName
		if errors.Is(err, ErrNameTaken) {
			notice = protocol.NameTaken(name)
		}
		_ = ep.Send(protocol.EncodeLine(protocol.System(notice)))
		slog.Info("stream handshake rejected", "remote", remote, "user", name, "err", err)
		return
	}
	slog.Info("stream client joined", "user", name, "remote", remote, "session", ep.Session())
	_ = ep.Send([]byte(protocol.StreamHelp))

	buf := make([]byte, protocol.BufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			cmd := protocol.Parse(sanitizeText(string(buf[:n])), protocol.DialectStream)
			if s.router.Dispatch(name, cmd) {
				break
			}
		}
		if err != nil {
			if !isClosedErr(err) {
				slog.Warn("stream read error", "user", name, "err", err)
			}
			break
		}
	}

	s.router.Leave(name, ep)
}

// readUsername reads the handshake chunk under the handshake deadline.
func (s *Server) readUsername(conn net.Conn) (string, error) {
	if s.cfg.HandshakeTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
		defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	}

	buf := make([]byte, protocol.BufferSize)
	n, err := conn.Read(buf)
	if n == 0 {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return "", err
	}
	return strings.TrimSpace(sanitizeText(string(buf[:n]))), nil
}

// trackConn records conn so Shutdown can close it. It returns false once
// shutdown has started.
func (s *Server) trackConn(conn net.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.conns, conn)
}

// closeConns closes every tracked connection and stops tracking new ones.
func (s *Server) closeConns() {
	s.connMu.Lock()
	conns := s.conns
	s.conns = nil
	s.connMu.Unlock()

	for conn := range conns {
		_ = conn.Close()
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// sanitizeText strips control characters from user-supplied text so peers
// cannot inject terminal escapes. Newlines collapse to spaces.
func sanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
