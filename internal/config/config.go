package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds settings shared by the wakewatch binaries.
// The server fields are consumed by wakewatch-server, the agent fields by
// wakewatch-agent; both may live in the same file.
type Config struct {
	// ListenAddress is the host:port the sync server listens on.
	ListenAddress string `yaml:"listen_addr"`
	// AuthSecret is the shared secret used to sign and verify bearer tokens.
	AuthSecret string `yaml:"auth_secret"`
	// AlarmsFile is the path to the JSON file storing the alarm set.
	AlarmsFile string `yaml:"alarms_file"`

	// ServerURL is the websocket URL agents and browsers connect to.
	ServerURL string `yaml:"server_url"`
	// Token is the bearer token presented by this client during handshake.
	Token string `yaml:"token"`
	// Timezone is the IANA timezone name alarms are interpreted in.
	// Empty means the system local timezone.
	Timezone string `yaml:"timezone"`
	// AlarmScript is the path to the executable the agent runs when an
	// alarm fires.
	AlarmScript string `yaml:"alarm_script"`
	// MaxAlarmDuration caps how long a single alarm execution may run.
	MaxAlarmDuration time.Duration `yaml:"max_alarm_duration"`

	// Timeout is the duration for network operations.
	Timeout time.Duration `yaml:"timeout"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "wakewatch-settings.yaml"

	// DefaultAlarmsFilename is the default filename for the alarm set JSON.
	DefaultAlarmsFilename = "wakewatch-alarms.json"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 5 * time.Second

	// DefaultMaxAlarmDuration is the default cap on a single alarm run.
	DefaultMaxAlarmDuration = 30 * time.Minute

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// ErrListenAddressRequired is returned when the server listen address is missing.
	ErrListenAddressRequired = errors.New("listen address must be provided")
	// ErrAuthSecretRequired is returned when the signing secret is missing.
	ErrAuthSecretRequired = errors.New("auth secret must be provided")
	// ErrServerURLRequired is returned when the client websocket URL is missing.
	ErrServerURLRequired = errors.New("server URL must be provided")
	// ErrTokenRequired is returned when the client bearer token is missing.
	ErrTokenRequired = errors.New("token must be provided")
)

// Load reads configuration from the provided path and applies defaults.
// Role-specific required fields are checked by ValidateServer and
// ValidateAgent, so a shared file can omit the other role's fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	applyDefaults(cfg)

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions, the file carries the auth secret.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// ValidateServer checks the fields the sync server requires.
func ValidateServer(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.ListenAddress == "" {
		return ErrListenAddressRequired
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.ListenAddress); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}

	if cfg.AuthSecret == "" {
		return ErrAuthSecretRequired
	}

	return nil
}

// ValidateAgent checks the fields the execution agent requires.
func ValidateAgent(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.ServerURL == "" {
		return ErrServerURLRequired
	}

	parsed, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return fmt.Errorf("invalid server URL scheme %q: want ws or wss", parsed.Scheme)
	}

	if cfg.Token == "" {
		return ErrTokenRequired
	}

	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return fmt.Errorf("invalid timezone: %w", err)
		}
	}

	return nil
}

// Location resolves the configured timezone, falling back to the system local
// timezone when unset.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	return loc, nil
}

// applyDefaults fills zero values with package defaults.
func applyDefaults(cfg *Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.AlarmsFile == "" {
		cfg.AlarmsFile = DefaultAlarmsFilename
	}

	if cfg.MaxAlarmDuration <= 0 {
		cfg.MaxAlarmDuration = DefaultMaxAlarmDuration
	}
}
