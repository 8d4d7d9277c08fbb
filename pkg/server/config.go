package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/openchat/pkg/datastore"
	"github.com/NicolasHaas/openchat/pkg/model"
)

// EnvPrefix prefixes every environment override, e.g. OPENCHAT_STREAM_ADDR
// or OPENCHAT_REDIS_ADDRESS.
const EnvPrefix = "OPENCHAT"

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"name":              "name",
	"tcp":               "stream_addr",
	"udp":               "datagram_addr",
	"metrics":           "metrics_addr",
	"handshake-timeout": "handshake_timeout",
	"write-timeout":     "write_timeout",
	"udp-ttl":           "datagram_ttl",
	"sweep-interval":    "sweep_interval",
	"journal":           "journal_path",
	"redis":             "redis.address",
	"redis-password":    "redis.password",
	"redis-db":          "redis.db",
}

// LoadConfig resolves the server config. Precedence, highest first: flags set
// on the command line, OPENCHAT_* environment variables, the YAML file at
// path (optional), DefaultConfig.
func LoadConfig(path string, flags *pflag.FlagSet) (Config, error) {
	def := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("name", def.Name)
	v.SetDefault("stream_addr", def.StreamAddr)
	v.SetDefault("datagram_addr", def.DatagramAddr)
	v.SetDefault("metrics_addr", def.MetricsAddr)
	v.SetDefault("handshake_timeout", def.HandshakeTimeout)
	v.SetDefault("write_timeout", def.WriteTimeout)
	v.SetDefault("datagram_ttl", def.DatagramTTL)
	v.SetDefault("sweep_interval", def.SweepInterval)
	v.SetDefault("metrics_log_interval", def.MetricsLogInterval)
	v.SetDefault("journal_path", def.JournalPath)
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "")
	v.SetDefault("redis.channel", "")

	if flags != nil {
		for flag, key := range flagKeys {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return def, fmt.Errorf("server: bind flag %s: %w", flag, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return def, fmt.Errorf("server: read config %s: %w", path, err)
		}
	}

	cfg := Config{
		Name:               v.GetString("name"),
		StreamAddr:         v.GetString("stream_addr"),
		DatagramAddr:       v.GetString("datagram_addr"),
		MetricsAddr:        v.GetString("metrics_addr"),
		HandshakeTimeout:   v.GetDuration("handshake_timeout"),
		WriteTimeout:       v.GetDuration("write_timeout"),
		DatagramTTL:        v.GetDuration("datagram_ttl"),
		SweepInterval:      v.GetDuration("sweep_interval"),
		MetricsLogInterval: v.GetDuration("metrics_log_interval"),
		JournalPath:        v.GetString("journal_path"),
	}
	cfg.Redis.Address = v.GetString("redis.address")
	cfg.Redis.Password = v.GetString("redis.password")
	cfg.Redis.DB = v.GetInt("redis.db")
	cfg.Redis.Key = v.GetString("redis.key")
	cfg.Redis.Channel = v.GetString("redis.channel")
	cfg.Redis.Instance = cfg.Name

	if err := cfg.Validate(); err != nil {
		return def, err
	}
	return cfg, nil
}

// Validate rejects configs that cannot run.
func (c Config) Validate() error {
	if c.StreamAddr == "" && c.DatagramAddr == "" {
		return fmt.Errorf("server: config: no transport enabled")
	}
	if err := model.ValidateUsername(c.Name); err != nil {
		return fmt.Errorf("server: config: name: %w", err)
	}
	if c.DatagramTTL < 0 {
		return fmt.Errorf("server: config: negative datagram_ttl")
	}
	return nil
}

// EventYAML represents a presence event in YAML export.
type EventYAML struct {
	ID        int64  `yaml:"id"`
	Username  string `yaml:"username"`
	Kind      string `yaml:"kind"`
	Transport string `yaml:"transport"`
	Remote    string `yaml:"remote,omitempty"`
	Session   string `yaml:"session,omitempty"`
	CreatedAt string `yaml:"created_at"`
}

// EventsExport is the top-level YAML for presence journal export.
type EventsExport struct {
	Events []EventYAML `yaml:"events"`
}

// ExportEventsYAML exports journal events, newest first, as YAML.
func ExportEventsYAML(ctx context.Context, journal datastore.JournalReadProvider, filters model.PresenceEventFilters) ([]byte, error) {
	events, err := journal.ListEvents(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("server: export events: %w", err)
	}

	export := EventsExport{Events: []EventYAML{}}
	for _, ev := range events {
		export.Events = append(export.Events, EventYAML{
			ID:        ev.ID,
			Username:  ev.Username,
			Kind:      ev.Kind.String(),
			Transport: ev.Transport.String(),
			Remote:    ev.Remote,
			Session:   ev.Session,
			CreatedAt: ev.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return yaml.Marshal(&export)
}
