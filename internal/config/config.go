package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	State     StateConfig     `yaml:"state"`
	Database  DatabaseConfig  `yaml:"database"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Rower     RowerConfig     `yaml:"rower"`
	Heart     HeartConfig     `yaml:"heart"`
	Session   SessionConfig   `yaml:"session"`
	Export    ExportConfig    `yaml:"export"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

type StateConfig struct {
	Dir string `yaml:"dir"`
}

// DatabaseConfig points at the optional workout history database.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
}

type RowerConfig struct {
	// Device is the serial port of the rowing machine, empty to simulate.
	Device               string        `yaml:"device"`
	Baud                 int           `yaml:"baud"`
	Tick                 time.Duration `yaml:"tick"`
	DeselectOnDisconnect bool          `yaml:"deselect_on_disconnect"`
}

type HeartConfig struct {
	// DeviceID is the address or name of the heart-rate sensor, empty for none.
	DeviceID  string        `yaml:"device_id"`
	LostAfter time.Duration `yaml:"lost_after"`
}

// SessionConfig holds the defaults of settings changed at runtime.
type SessionConfig struct {
	OpenEnd bool `yaml:"open_end"`
	HeadsUp bool `yaml:"heads_up"`
}

type ExportConfig struct {
	FITDir string `yaml:"fit_dir"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used for everything a file leaves out.
func Default() *Config {
	return &Config{
		Server:    ServerConfig{Host: "0.0.0.0", Port: 8080},
		State:     StateConfig{Dir: "~/.coxswain"},
		Database:  DatabaseConfig{Port: 5432},
		Tailscale: TailscaleConfig{Hostname: "coxswain"},
		Rower:     RowerConfig{Baud: 19200, Tick: time.Second, DeselectOnDisconnect: true},
		Heart:     HeartConfig{LostAfter: 10 * time.Second},
		Log:       LogConfig{Level: "info"},
	}
}

// Enabled reports whether a history database is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// DSN returns a PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode)
}

// SlogLevel parses the log level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Load reads config from a YAML file on top of the defaults, then applies
// environment variable overrides. An empty path skips the file. Env vars
// use the prefix COXSWAIN_ and underscore-separated paths:
//
//	COXSWAIN_SERVER_HOST, COXSWAIN_SERVER_PORT, COXSWAIN_AUTH_API_KEY,
//	COXSWAIN_STATE_DIR,
//	COXSWAIN_DB_HOST, COXSWAIN_DB_PORT, COXSWAIN_DB_NAME,
//	COXSWAIN_DB_USER, COXSWAIN_DB_PASSWORD, COXSWAIN_DB_SSLMODE,
//	COXSWAIN_TAILSCALE_ENABLED, COXSWAIN_TAILSCALE_HOSTNAME,
//	COXSWAIN_ROWER_DEVICE, COXSWAIN_HEART_DEVICE_ID,
//	COXSWAIN_EXPORT_FIT_DIR, COXSWAIN_LOG_LEVEL
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	dir, err := expandHome(cfg.State.Dir)
	if err != nil {
		return nil, err
	}
	cfg.State.Dir = dir
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("COXSWAIN_SERVER_HOST", &cfg.Server.Host)
	num("COXSWAIN_SERVER_PORT", &cfg.Server.Port)
	str("COXSWAIN_AUTH_API_KEY", &cfg.Auth.APIKey)
	str("COXSWAIN_STATE_DIR", &cfg.State.Dir)
	str("COXSWAIN_DB_HOST", &cfg.Database.Host)
	num("COXSWAIN_DB_PORT", &cfg.Database.Port)
	str("COXSWAIN_DB_NAME", &cfg.Database.Name)
	str("COXSWAIN_DB_USER", &cfg.Database.User)
	str("COXSWAIN_DB_PASSWORD", &cfg.Database.Password)
	str("COXSWAIN_DB_SSLMODE", &cfg.Database.SSLMode)
	if v := os.Getenv("COXSWAIN_TAILSCALE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tailscale.Enabled = b
		}
	}
	str("COXSWAIN_TAILSCALE_HOSTNAME", &cfg.Tailscale.Hostname)
	str("COXSWAIN_ROWER_DEVICE", &cfg.Rower.Device)
	str("COXSWAIN_HEART_DEVICE_ID", &cfg.Heart.DeviceID)
	str("COXSWAIN_EXPORT_FIT_DIR", &cfg.Export.FITDir)
	str("COXSWAIN_LOG_LEVEL", &cfg.Log.Level)
}

func (c *Config) validate() error {
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port is required")
	}
	if c.State.Dir == "" {
		return fmt.Errorf("state.dir is required")
	}
	if c.Rower.Tick <= 0 {
		return fmt.Errorf("rower.tick must be positive")
	}
	if c.Rower.Device != "" && c.Rower.Baud <= 0 {
		return fmt.Errorf("rower.baud must be positive")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	if c.Database.Enabled() {
		if c.Database.Port == 0 {
			return fmt.Errorf("database.port is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database.name is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required")
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expanding %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
