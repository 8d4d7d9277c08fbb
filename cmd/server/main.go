package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/NicolasHaas/openchat/pkg/datastore"
	"github.com/NicolasHaas/openchat/pkg/logging"
	"github.com/NicolasHaas/openchat/pkg/model"
	"github.com/NicolasHaas/openchat/pkg/presence"
	"github.com/NicolasHaas/openchat/pkg/server"
	"github.com/NicolasHaas/openchat/pkg/version"
)

func main() {
	def := server.DefaultConfig()
	fs := pflag.NewFlagSet("openchat-server", pflag.ExitOnError)

	configPath := fs.StringP("config", "c", "", "YAML config file (OPENCHAT_* env vars also apply)")
	fs.StringP("name", "n", def.Name, "Console identity shown as sender")
	fs.String("tcp", def.StreamAddr, "TCP bind address (empty to disable)")
	fs.String("udp", def.DatagramAddr, "UDP bind address (empty to disable)")
	fs.String("metrics", def.MetricsAddr, "HTTP bind address for /metrics, /healthz and /presence (empty to disable)")
	fs.Duration("handshake-timeout", def.HandshakeTimeout, "Time a TCP client has to send its username")
	fs.Duration("write-timeout", def.WriteTimeout, "Per-message write deadline on TCP clients")
	fs.Duration("udp-ttl", def.DatagramTTL, "Forget UDP clients idle this long (0 keeps them until exit)")
	fs.Duration("sweep-interval", def.SweepInterval, "How often idle UDP clients are checked")
	fs.String("journal", def.JournalPath, "SQLite presence journal path (empty to disable)")
	fs.String("redis", "", "Redis address for the online-users mirror (empty to disable)")
	fs.String("redis-password", "", "Redis password")
	fs.Int("redis-db", 0, "Redis database number")
	noConsole := fs.Bool("no-console", false, "Do not read operator commands from stdin")
	exportEvents := fs.Bool("export-events", false, "Export the presence journal as YAML and exit")
	exportUser := fs.String("export-user", "", "Only export events for this username")
	exportLimit := fs.Int64("export-limit", 100, "Maximum events to export")
	logLevel := fs.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := fs.String("log-format", "text", "Log format: text or json")
	showVersion := fs.BoolP("version", "v", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println(version.Banner("openchat-server"))
		return
	}

	if err := logging.Setup(logging.Options{
		Level:     *logLevel,
		Format:    *logFormat,
		Output:    os.Stderr,
		Component: "server",
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	cfg, err := server.LoadConfig(*configPath, fs)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	cfg.ExportEvents = *exportEvents

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Handle export command (run and exit)
	if cfg.ExportEvents {
		if err := exportJournal(ctx, cfg.JournalPath, *exportUser, *exportLimit); err != nil {
			slog.Error("export events", "err", err)
			os.Exit(1)
		}
		return
	}

	var deps server.Dependencies
	if cfg.JournalPath != "" {
		journal, err := datastore.NewSQLJournal(cfg.JournalPath)
		if err != nil {
			slog.Error("open journal", "err", err)
			os.Exit(1)
		}
		deps.Journal = journal
	}
	if cfg.Redis.Address != "" {
		mirror, err := presence.NewRedisMirror(ctx, cfg.Redis)
		if err != nil {
			slog.Error("connect redis", "err", err)
			os.Exit(1)
		}
		defer func() { _ = mirror.Close() }()
		deps.Observers = append(deps.Observers, mirror)
	}

	var console io.Reader = os.Stdin
	if *noConsole {
		console = nil
	} else {
		fmt.Printf("[%s] OpenChat server starting (tcp %q, udp %q). Type 'exit' to stop.\n",
			cfg.Name, cfg.StreamAddr, cfg.DatagramAddr)
	}

	srv := server.New(cfg, deps)
	if err := srv.Run(ctx, console); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

func exportJournal(ctx context.Context, path, user string, limit int64) error {
	if path == "" {
		return fmt.Errorf("no journal configured (use --journal)")
	}
	journal, err := datastore.NewSQLJournal(path)
	if err != nil {
		return err
	}
	defer func() { _ = journal.Close() }()

	filters := model.PresenceEventFilters{Limit: &limit}
	if user != "" {
		filters.Username = &user
	}
	data, err := server.ExportEventsYAML(ctx, journal, filters)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}
