package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/NicolasHaas/openchat/pkg/presence"
	"github.com/NicolasHaas/openchat/pkg/protocol"
)

// startDatagram binds the UDP socket.
func (s *Server) startDatagram() error {
	addr, err := net.ResolveUDPAddr("udp", s.cfg.DatagramAddr)
	if err != nil {
		return fmt.Errorf("%w: datagram %s: %v", ErrBind, s.cfg.DatagramAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("%w: datagram %s: %v", ErrBind, s.cfg.DatagramAddr, err)
	}
	s.datagramConn = conn
	slog.Info("datagram listening", "addr", conn.LocalAddr().String())
	return nil
}

// datagramLoop reads frames until the socket is closed. Frames are handled
// inline, in arrival order.
func (s *Server) datagramLoop(ctx context.Context) error {
	buf := make([]byte, protocol.BufferSize)
	for {
		n, addr, err := s.datagramConn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("datagram read error", "err", err)
			continue
		}
		s.metrics.DatagramsIn.Add(1)
		s.handleDatagram(buf[:n], addr)
	}
}

// handleDatagram processes one "username:payload" frame from addr. Every
// valid frame (re)binds the username to addr.
func (s *Server) handleDatagram(data []byte, addr netip.AddrPort) {
	ep := presence.NewDatagramEndpoint(s.datagramConn, addr)

	frame, err := protocol.ParseFrame(data)
	if err != nil {
		s.metrics.DatagramsRejected.Add(1)
		slog.Debug("rejected datagram", "remote", addr.String(), "err", err)
		_ = ep.Send(protocol.EncodeLine(protocol.System(err.Error())))
		return
	}

	user := strings.TrimSpace(sanitizeText(frame.User))
	if user == "" {
		s.metrics.DatagramsRejected.Add(1)
		_ = ep.Send(protocol.EncodeLine(protocol.System(protocol.NoticeBlankUsername)))
		return
	}
	if user == s.cfg.Name {
		s.metrics.DatagramsRejected.Add(1)
		_ = ep.Send(protocol.EncodeLine(protocol.System(protocol.NameTaken(user))))
		return
	}

	cmd := protocol.Parse(sanitizeText(frame.Payload), protocol.DialectDatagram)

	var created bool
	if cmd.Kind == protocol.KindJoin {
		created, err = s.router.Join(user, ep)
	} else {
		created, err = s.registry.Register(user, ep)
	}
	if err != nil {
		s.metrics.DatagramsRejected.Add(1)
		slog.Info("datagram name refused", "user", user, "remote", addr.String(), "err", err)
		_ = ep.Send(protocol.EncodeLine(protocol.System(protocol.NameTaken(user))))
		return
	}
	if created {
		slog.Info("datagram client bound", "user", user, "remote", addr.String())
	}

	if cmd.Kind == protocol.KindLeave {
		s.router.Leave(user, ep)
		return
	}
	s.router.Dispatch(user, cmd)
}

// sweepLoop evicts datagram peers idle for longer than the configured TTL.
func (s *Server) sweepLoop(ctx context.Context) error {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = s.cfg.DatagramTTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Server) sweep() {
	for _, name := range s.registry.Expire(s.cfg.DatagramTTL) {
		s.router.AnnounceExpired(name)
	}
}
