package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/NicolasHaas/openchat/pkg/client"
	"github.com/NicolasHaas/openchat/pkg/logging"
	"github.com/NicolasHaas/openchat/pkg/model"
	"github.com/NicolasHaas/openchat/pkg/protocol"
	"github.com/NicolasHaas/openchat/pkg/version"
)

func main() {
	settingsPath := client.SettingsPath()
	saved := client.LoadSettings(settingsPath)

	fs := pflag.NewFlagSet("openchat-client", pflag.ExitOnError)
	transport := fs.StringP("transport", "t", saved.Transport, "Transport: stream (tcp) or datagram (udp)")
	host := fs.StringP("host", "H", saved.Host, "Server host or IP")
	port := fs.IntP("port", "p", 0, "Server port (default 13000 for stream, 12000 for datagram)")
	name := fs.StringP("name", "n", saved.Username, "Username (prompted when empty)")
	serverName := fs.String("server-name", saved.ServerName, "Server console name shown in datagram help")
	timeout := fs.Duration("timeout", client.DefaultHandshakeTimeout, "Datagram reachability timeout")
	noSave := fs.Bool("no-save", false, "Do not remember these settings")
	// Default to "off"; OPENCHAT_LOG_LEVEL still applies when the flag is unset.
	logLevel := fs.String("log-level", envOr("OPENCHAT_LOG_LEVEL", logging.LevelOff), "Log level: "+logging.LevelNames())
	showVersion := fs.BoolP("version", "v", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println(version.Banner("openchat-client"))
		return
	}

	if err := logging.Setup(logging.Options{
		Level:     *logLevel,
		Output:    os.Stderr,
		Component: "client",
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	switch strings.ToLower(*transport) {
	case "stream", "tcp", "datagram", "udp":
	default:
		fmt.Fprintf(os.Stderr, "unknown transport %q (valid: stream, tcp, datagram, udp)\n", *transport)
		os.Exit(2)
	}
	tr := model.ParseTransport(strings.ToLower(*transport))

	if *port == 0 {
		*port = protocol.StreamPort
		if tr == model.TransportDatagram {
			*port = protocol.DatagramPort
		}
	}
	addr := net.JoinHostPort(*host, strconv.Itoa(*port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stdin := bufio.NewReader(os.Stdin)
	var err error
	if tr == model.TransportDatagram {
		err = runDatagram(ctx, addr, *name, *serverName, *timeout, stdin)
	} else {
		err = runStream(ctx, addr, *name, stdin)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Println(protocol.System(err.Error()))
		os.Exit(1)
	}

	if !*noSave {
		saved.Transport = tr.String()
		saved.Host = *host
		saved.Username = *name
		saved.ServerName = *serverName
		_ = saved.Save(settingsPath)
	}
}

func runStream(ctx context.Context, addr, name string, stdin *bufio.Reader) error {
	c, err := client.DialStream(ctx, addr)
	if err != nil {
		return fmt.Errorf("Cannot connect to server. %w", err)
	}
	fmt.Println(protocol.System("Connected to " + addr))

	var in io.Reader = stdin
	if name != "" {
		// Answer the username prompt up front.
		in = io.MultiReader(strings.NewReader(name+"\n"), stdin)
	}
	return c.Run(ctx, in, os.Stdout)
}

func runDatagram(ctx context.Context, addr, name, serverName string, timeout time.Duration, stdin *bufio.Reader) error {
	if name == "" {
		fmt.Print("Enter username: ")
		line, _ := stdin.ReadString('\n')
		name = strings.TrimSpace(line)
	}
	if model.ValidateUsername(name) != nil {
		return errors.New(protocol.NoticeInvalidName)
	}

	c, err := client.DialDatagram(ctx, addr, name, timeout)
	if errors.Is(err, client.ErrUnreachable) {
		return errors.New("Could not reach server. Check IP/port or start the server.")
	}
	if err != nil {
		return err
	}
	c.SetServerName(serverName)
	return c.Run(ctx, stdin, os.Stdout)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
