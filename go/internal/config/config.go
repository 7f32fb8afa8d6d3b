// Package config loads the sync client's settings from an optional YAML file
// overlaid by environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	TransportStomp = "stomp"
	TransportNATS  = "nats"

	SnapshotFile     = "file"
	SnapshotPostgres = "postgres"
	SnapshotMemory   = "memory"
)

// Config holds every setting of the sync client.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Inspector InspectorConfig `yaml:"inspector"`
	Auth      AuthConfig      `yaml:"auth"`
	LogLevel  string          `yaml:"log_level"`
}

type APIConfig struct {
	BaseURL string `yaml:"base_url"`
}

type RealtimeConfig struct {
	Transport         string        `yaml:"transport"`
	URL               string        `yaml:"url"`
	Host              string        `yaml:"host"`
	HeartBeat         time.Duration `yaml:"heartbeat"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	SubscribePoll     time.Duration `yaml:"subscribe_poll"`
	SubscribeAttempts int           `yaml:"subscribe_attempts"`
}

type SnapshotConfig struct {
	Backend  string         `yaml:"backend"`
	Dir      string         `yaml:"dir"`
	Database DatabaseConfig `yaml:"database"`
}

// DatabaseConfig holds Postgres connection settings for the snapshot table.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

type InspectorConfig struct {
	Addr string `yaml:"addr"`
	// Notifications is how many undrained notifications the feed keeps.
	Notifications int `yaml:"notifications"`
}

// AuthConfig carries headless credentials. A token wins over a password login.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		API: APIConfig{BaseURL: "http://localhost:8080"},
		Realtime: RealtimeConfig{
			Transport:         TransportStomp,
			URL:               "ws://localhost:8080/ws",
			HeartBeat:         10 * time.Second,
			ReconnectDelay:    5 * time.Second,
			DialTimeout:       30 * time.Second,
			SubscribePoll:     500 * time.Millisecond,
			SubscribeAttempts: 10,
		},
		Snapshot: SnapshotConfig{
			Backend: SnapshotFile,
			Dir:     defaultStateDir(),
			Database: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "postgres",
				Password: "postgres",
				Database: "bobgourmet",
				SSLMode:  "disable",
			},
		},
		Inspector: InspectorConfig{Addr: "127.0.0.1:8090", Notifications: 64},
		LogLevel:  "info",
	}
}

// Load reads path when it is set, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.API.BaseURL = getEnv("ROOMSYNC_API_URL", c.API.BaseURL)

	r := &c.Realtime
	r.Transport = getEnv("ROOMSYNC_TRANSPORT", r.Transport)
	r.URL = getEnv("ROOMSYNC_BROKER_URL", r.URL)
	r.Host = getEnv("ROOMSYNC_BROKER_HOST", r.Host)
	r.HeartBeat = getEnvAsDuration("ROOMSYNC_HEARTBEAT", r.HeartBeat)
	r.ReconnectDelay = getEnvAsDuration("ROOMSYNC_RECONNECT_DELAY", r.ReconnectDelay)
	r.DialTimeout = getEnvAsDuration("ROOMSYNC_DIAL_TIMEOUT", r.DialTimeout)
	r.SubscribePoll = getEnvAsDuration("ROOMSYNC_SUBSCRIBE_POLL", r.SubscribePoll)
	r.SubscribeAttempts = getEnvAsInt("ROOMSYNC_SUBSCRIBE_ATTEMPTS", r.SubscribeAttempts)

	s := &c.Snapshot
	s.Backend = getEnv("ROOMSYNC_SNAPSHOT_BACKEND", s.Backend)
	s.Dir = getEnv("ROOMSYNC_SNAPSHOT_DIR", s.Dir)
	s.Database.Host = getEnv("DB_HOST", s.Database.Host)
	s.Database.Port = getEnvAsInt("DB_PORT", s.Database.Port)
	s.Database.User = getEnv("DB_USER", s.Database.User)
	s.Database.Password = getEnv("DB_PASSWORD", s.Database.Password)
	s.Database.Database = getEnv("DB_NAME", s.Database.Database)
	s.Database.SSLMode = getEnv("DB_SSLMODE", s.Database.SSLMode)

	c.Inspector.Addr = getEnv("ROOMSYNC_INSPECTOR_ADDR", c.Inspector.Addr)
	c.Inspector.Notifications = getEnvAsInt("ROOMSYNC_NOTIFICATION_BUFFER", c.Inspector.Notifications)
	c.Auth.Username = getEnv("ROOMSYNC_USERNAME", c.Auth.Username)
	c.Auth.Password = getEnv("ROOMSYNC_PASSWORD", c.Auth.Password)
	c.Auth.Token = getEnv("ROOMSYNC_TOKEN", c.Auth.Token)
	c.LogLevel = getEnv("ROOMSYNC_LOG_LEVEL", c.LogLevel)
}

// Validate rejects settings the client cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api base url is required"))
	}
	switch c.Realtime.Transport {
	case TransportStomp, TransportNATS:
	default:
		errs = append(errs, fmt.Errorf("unknown realtime transport %q", c.Realtime.Transport))
	}
	if c.Realtime.URL == "" {
		errs = append(errs, errors.New("realtime url is required"))
	}
	if c.Realtime.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("reconnect delay must be positive"))
	}
	if c.Realtime.SubscribePoll <= 0 || c.Realtime.SubscribeAttempts <= 0 {
		errs = append(errs, errors.New("subscribe poll interval and attempts must be positive"))
	}
	if c.Inspector.Notifications < 1 {
		errs = append(errs, errors.New("notification buffer must hold at least one notification"))
	}
	switch c.Snapshot.Backend {
	case SnapshotFile:
		if c.Snapshot.Dir == "" {
			errs = append(errs, errors.New("snapshot dir is required for the file backend"))
		}
	case SnapshotPostgres, SnapshotMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown snapshot backend %q", c.Snapshot.Backend))
	}
	return errors.Join(errs...)
}

// DSN returns the Postgres connection URL.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func defaultStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "roomsync")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "roomsync")
	}
	return filepath.Join(os.TempDir(), "roomsync")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
