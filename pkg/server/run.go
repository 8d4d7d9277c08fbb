package server

import (
	"context"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NicolasHaas/openchat/pkg/datastore"
	"github.com/NicolasHaas/openchat/pkg/presence"
)

// Start binds every enabled listener. On failure nothing is left bound.
// Calling it again after a successful bind is a no-op.
func (s *Server) Start() error {
	if s.started {
		return nil
	}
	if s.cfg.StreamAddr != "" {
		if err := s.startStream(); err != nil {
			return err
		}
	}
	if s.cfg.DatagramAddr != "" {
		if err := s.startDatagram(); err != nil {
			if s.streamLn != nil {
				_ = s.streamLn.Close()
				s.streamLn = nil
			}
			return err
		}
	}
	s.started = true
	return nil
}

// Run starts the server and blocks until ctx is cancelled, the console
// exits or Shutdown is called. A nil console disables the operator console.
func (s *Server) Run(ctx context.Context, console io.Reader) error {
	if err := s.Start(); err != nil {
		return err
	}
	defer s.closeJournal()

	slog.Info("OpenChat server running",
		"name", s.cfg.Name,
		"stream", s.cfg.StreamAddr,
		"datagram", s.cfg.DatagramAddr,
	)

	go func() {
		select {
		case <-ctx.Done():
			slog.Info("shutting down...")
			s.Shutdown()
		case <-s.ctx.Done():
		}
	}()

	s.StartMetricsHTTP()
	if s.cfg.MetricsLogInterval > 0 {
		s.metrics.StartPeriodicLog(s.cfg.MetricsLogInterval, s.ctx.Done())
	}

	// The console blocks on its reader, so it stays outside the group.
	if console != nil {
		go func() { _ = s.runConsole(console) }()
	}

	g, gctx := errgroup.WithContext(s.ctx)
	if s.streamLn != nil {
		g.Go(func() error { return s.acceptLoop(gctx) })
	}
	if s.datagramConn != nil {
		g.Go(func() error { return s.datagramLoop(gctx) })
	}
	if s.cfg.DatagramTTL > 0 && s.datagramConn != nil {
		g.Go(func() error { return s.sweepLoop(gctx) })
	}

	err := g.Wait()
	s.Shutdown()
	s.connWG.Wait()
	return err
}

// Shutdown gracefully stops the server. It is safe to call more than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.cancel()
		if s.streamLn != nil {
			_ = s.streamLn.Close()
		}
		if s.datagramConn != nil {
			_ = s.datagramConn.Close()
		}
		for _, ep := range s.registry.Clear() {
			_ = ep.Close()
		}
		s.closeConns()
		slog.Info("server stopped")
	})
}

func (s *Server) closeJournal() {
	if s.journal == nil {
		return
	}
	if err := s.journal.Close(); err != nil {
		slog.Warn("close journal", "err", err)
	}
}

// journalObserver records every presence change in the journal.
type journalObserver struct {
	journal datastore.JournalWriteProvider
}

func (o journalObserver) PresenceChanged(c presence.Change) {
	ev := c.Event()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.journal.RecordEvent(ctx, &ev); err != nil {
		slog.Warn("journal presence event", "user", c.Name, "kind", c.Kind.String(), "err", err)
	}
}
