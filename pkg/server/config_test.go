package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/openchat/pkg/datastore"
	"github.com/NicolasHaas/openchat/pkg/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "openchat.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("", nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := DefaultConfig()
	want.Redis.Instance = want.Name
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := writeConfig(t, `
name: Hub
stream_addr: ":14000"
datagram_addr: ":14001"
datagram_ttl: 5m
journal_path: /tmp/presence.db
redis:
  address: localhost:6379
  db: 2
`)
	t.Setenv("OPENCHAT_DATAGRAM_ADDR", ":15001")
	t.Setenv("OPENCHAT_REDIS_DB", "3")

	fs := pflag.NewFlagSet("openchat-server", pflag.ContinueOnError)
	fs.String("tcp", ":13000", "")
	fs.String("udp", ":12000", "")
	fs.String("name", "Server", "")
	if err := fs.Parse([]string{"--tcp", ":16000"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := LoadConfig(path, fs)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	checks := map[string]struct {
		got, want any
	}{
		"name from file":          {cfg.Name, "Hub"},
		"stream from flag":        {cfg.StreamAddr, ":16000"},
		"datagram from env":       {cfg.DatagramAddr, ":15001"},
		"ttl from file":           {cfg.DatagramTTL, 5 * time.Minute},
		"journal from file":       {cfg.JournalPath, "/tmp/presence.db"},
		"redis address from file": {cfg.Redis.Address, "localhost:6379"},
		"redis db from env":       {cfg.Redis.DB, 3},
		"redis instance":          {cfg.Redis.Instance, "Hub"},
		"write timeout default":   {cfg.WriteTimeout, 10 * time.Second},
	}
	for name, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: want %v got %v", name, c.want, c.got)
		}
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := map[string]string{
		"missing file":   "",
		"no transport":   "stream_addr: \"\"\ndatagram_addr: \"\"\n",
		"bad name":       "name: \"a:b\"\n",
		"negative ttl":   "datagram_ttl: -1s\n",
		"malformed yaml": "name: [unclosed\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "missing.yaml")
			if body != "" {
				path = writeConfig(t, body)
			}
			if _, err := LoadConfig(path, nil); err == nil {
				t.Fatalf("LoadConfig: expected error")
			}
		})
	}
}

func TestExportEventsYAML(t *testing.T) {
	at := time.Date(2026, 3, 14, 10, 4, 5, 0, time.UTC)
	journal := datastore.NewMemoryWithClock(func() time.Time { return at })
	ctx := context.Background()

	for _, ev := range []model.PresenceEvent{
		{Username: "alice", Kind: model.EventJoined, Transport: model.TransportStream, Remote: "127.0.0.1:5000", Session: "s-1"},
		{Username: "carol", Kind: model.EventJoined, Transport: model.TransportDatagram, Remote: "127.0.0.1:6000"},
		{Username: "alice", Kind: model.EventLeft, Transport: model.TransportStream, Remote: "127.0.0.1:5000", Session: "s-1"},
	} {
		ev := ev
		if err := journal.RecordEvent(ctx, &ev); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}
	}

	alice := "alice"
	data, err := ExportEventsYAML(ctx, journal, model.PresenceEventFilters{Username: &alice})
	if err != nil {
		t.Fatalf("ExportEventsYAML: %v", err)
	}

	var got EventsExport
	if err := yaml.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal export: %v\n%s", err, data)
	}
	want := EventsExport{Events: []EventYAML{
		{ID: 3, Username: "alice", Kind: "left", Transport: "stream", Remote: "127.0.0.1:5000", Session: "s-1", CreatedAt: "2026-03-14T10:04:05Z"},
		{ID: 1, Username: "alice", Kind: "joined", Transport: "stream", Remote: "127.0.0.1:5000", Session: "s-1", CreatedAt: "2026-03-14T10:04:05Z"},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("export mismatch (-want +got):\n%s", diff)
	}
}

func TestExportEventsYAMLEmpty(t *testing.T) {
	data, err := ExportEventsYAML(context.Background(), datastore.NewMemory(), model.PresenceEventFilters{})
	if err != nil {
		t.Fatalf("ExportEventsYAML: %v", err)
	}
	if string(data) != "events: []\n" {
		t.Fatalf("empty export: got %q", data)
	}
}
