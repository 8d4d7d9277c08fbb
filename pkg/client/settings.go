package client

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/openchat/pkg/model"
)

// Settings stores the last connection used, persisted as YAML next to the
// binary so the next run can offer it as the default.
type Settings struct {
	Transport  string `yaml:"transport"`
	Host       string `yaml:"host"`
	Username   string `yaml:"username,omitempty"`
	ServerName string `yaml:"server_name,omitempty"`
}

// DefaultSettings returns default settings.
func DefaultSettings() *Settings {
	return &Settings{
		Transport: model.TransportStream.String(),
		Host:      "127.0.0.1",
	}
}

// SettingsPath returns the settings file next to the running binary.
func SettingsPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "openchat-client.yaml"
	}
	return filepath.Join(filepath.Dir(exe), "openchat-client.yaml")
}

// LoadSettings loads settings from path or returns defaults.
func LoadSettings(path string) *Settings {
	s := DefaultSettings()
	data, err := os.ReadFile(path) //nolint:gosec // path chosen by the local user
	if err != nil {
		return s
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		slog.Error("parse settings", "path", path, "err", err)
		return DefaultSettings()
	}
	return s
}

// Save writes settings to path as YAML.
func (s *Settings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("client: encode settings: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
