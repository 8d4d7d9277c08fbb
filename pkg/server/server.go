// Package server implements the OpenChat server: one Router over one presence
// Registry, fed by a stream (TCP) driver, a datagram (UDP) driver and the
// operator console.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/NicolasHaas/openchat/pkg/datastore"
	"github.com/NicolasHaas/openchat/pkg/presence"
	"github.com/NicolasHaas/openchat/pkg/protocol"
)

var (
	// ErrBind is returned by Start when a listener cannot be bound.
	ErrBind = errors.New("server: bind failed")

	// ErrNameTaken rejects a username held by the console or a live session.
	ErrNameTaken = presence.ErrNameTaken
)

// Config holds server configuration.
type Config struct {
	Name         string // console identity shown as sender (default "Server")
	StreamAddr   string // TCP bind address (e.g. ":13000"), empty disables
	DatagramAddr string // UDP bind address (e.g. ":12000"), empty disables
	MetricsAddr  string // HTTP bind address for /metrics (empty = disabled)

	HandshakeTimeout time.Duration // username read deadline, 0 = none
	WriteTimeout     time.Duration // per-send deadline on stream endpoints, 0 = none

	// DatagramTTL evicts datagram peers not heard from for this long.
	// 0 keeps them until an explicit exit.
	DatagramTTL   time.Duration
	SweepInterval time.Duration // how often the TTL sweeper runs

	MetricsLogInterval time.Duration // periodic metrics log, 0 = disabled

	JournalPath string // SQLite presence journal, empty = disabled
	Redis       presence.RedisConfig

	// CLI-only actions (run and exit)
	ExportEvents bool // export the presence journal as YAML and exit
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Journal and will Close() it on shutdown.
type Dependencies struct {
	Journal   datastore.Journal   // optional
	Observers []presence.Observer // extra registry observers (e.g. RedisMirror)
	Out       io.Writer           // operator console output (default os.Stdout)
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:               protocol.DefaultServerName,
		StreamAddr:         ":13000",
		DatagramAddr:       ":12000",
		HandshakeTimeout:   60 * time.Second,
		WriteTimeout:       10 * time.Second,
		SweepInterval:      30 * time.Second,
		MetricsLogInterval: 60 * time.Second,
	}
}

// Server is the OpenChat server.
type Server struct {
	cfg      Config
	registry *presence.Registry
	router   *Router
	metrics  *Metrics
	journal  datastore.Journal

	started      bool
	streamLn     net.Listener
	datagramConn *net.UDPConn

	connMu sync.Mutex
	conns  map[net.Conn]struct{} // every open stream conn, joined or not
	connWG sync.WaitGroup

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	if cfg.Name == "" {
		cfg.Name = protocol.DefaultServerName
	}
	out := deps.Out
	if out == nil {
		out = os.Stdout
	}

	ctx, cancel := context.WithCancel(context.Background())
	metrics := NewMetrics()
	registry := presence.NewRegistry()

	s := &Server{
		cfg:      cfg,
		registry: registry,
		router:   NewRouter(registry, cfg.Name, out, metrics),
		metrics:  metrics,
		journal:  deps.Journal,
		conns:    make(map[net.Conn]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	if deps.Journal != nil {
		registry.AddObserver(journalObserver{journal: deps.Journal})
	}
	for _, o := range deps.Observers {
		registry.AddObserver(o)
	}
	return s
}

// Registry returns the presence registry.
func (s *Server) Registry() *presence.Registry {
	return s.registry
}

// Router returns the message router.
func (s *Server) Router() *Router {
	return s.router
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// StreamAddr returns the bound TCP address, or nil before Start.
func (s *Server) StreamAddr() net.Addr {
	if s.streamLn == nil {
		return nil
	}
	return s.streamLn.Addr()
}

// DatagramAddr returns the bound UDP address, or nil before Start.
func (s *Server) DatagramAddr() net.Addr {
	if s.datagramConn == nil {
		return nil
	}
	return s.datagramConn.LocalAddr()
}

// Done is closed once Shutdown has run.
func (s *Server) Done() <-chan struct{} {
	return s.ctx.Done()
}
