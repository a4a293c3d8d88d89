// Package config loads the per-device YAML configuration file and manages
// the on-disk device identity file that pins a device id across runs (spec
// §9's "device id is no longer stable across runs" open question).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

// OfflineConfig holds retry/backoff knobs loaded from the config file's
// offline section. No other package reads them: the stamp-ahead loop in
// pkg/certops uses its own fixed retry bound, and keys-bundle refresh
// retries once.
type OfflineConfig struct {
	MaxRetries   int `yaml:"max_retries"`
	BaseDelayMS  int `yaml:"base_delay_ms"`
	MaxDelayMS   int `yaml:"max_delay_ms"`
}

func (o OfflineConfig) BaseDelay() time.Duration { return time.Duration(o.BaseDelayMS) * time.Millisecond }
func (o OfflineConfig) MaxDelay() time.Duration  { return time.Duration(o.MaxDelayMS) * time.Millisecond }

func defaultOffline() OfflineConfig {
	return OfflineConfig{MaxRetries: 5, BaseDelayMS: 200, MaxDelayMS: 10_000}
}

// Config is the device/organization configuration loaded from YAML (spec
// §6.3's "two local databases per device, keyed by (data_base_dir,
// device_id)" names data_base_dir as the root of persisted state).
type Config struct {
	DataBaseDir    string
	OrganizationID types.OrganizationID
	UserID         types.UserID
	ServerAddr     string
	NoSSL          bool
	Offline        OfflineConfig
}

// configYAML mirrors Config's on-disk shape; UserID is stored as a string
// since types.UserID has no YAML codec of its own (it wraps a uuid.UUID).
type configYAML struct {
	DataBaseDir    string               `yaml:"data_base_dir"`
	OrganizationID types.OrganizationID `yaml:"organization_id"`
	UserID         string               `yaml:"user_id"`
	ServerAddr     string               `yaml:"server_addr"`
	NoSSL          bool                 `yaml:"no_ssl"`
	Offline        OfflineConfig        `yaml:"offline"`
}

// Load reads and validates the YAML config file at path, filling in offline
// retry defaults when the section is omitted.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	raw := configYAML{Offline: defaultOffline()}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg := &Config{
		DataBaseDir:    raw.DataBaseDir,
		OrganizationID: raw.OrganizationID,
		ServerAddr:     raw.ServerAddr,
		NoSSL:          raw.NoSSL,
		Offline:        raw.Offline,
	}
	if raw.UserID != "" {
		userID, err := uuid.Parse(raw.UserID)
		if err != nil {
			return nil, fmt.Errorf("config: user_id: %w", err)
		}
		cfg.UserID = types.UserID(userID)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DataBaseDir == "" {
		return fmt.Errorf("config: data_base_dir is required")
	}
	if _, err := types.ParseOrganizationID(c.OrganizationID.String()); err != nil {
		return fmt.Errorf("config: organization_id: %w", err)
	}
	if c.UserID == (types.UserID{}) {
		return fmt.Errorf("config: user_id is required")
	}
	if c.ServerAddr == "" {
		return fmt.Errorf("config: server_addr is required")
	}
	if c.Offline.MaxRetries <= 0 {
		return fmt.Errorf("config: offline.max_retries must be positive")
	}
	return nil
}
