// Package config handles configuration loading, validation, and persistence
// for the rcon client, gateway and loopback host.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/energizer-project/rcon/internal/network"
	"github.com/energizer-project/rcon/internal/protocol"
	"github.com/energizer-project/rcon/internal/session"
)

const (
	DefaultConfigName = "rcon"
	DefaultConfigFile = "rcon.json"
	DefaultAPIListen  = "127.0.0.1:9991"
	DefaultHistoryDB  = "rcon_history.db"

	// EnvPrefix prefixes environment overrides, e.g. RCON_TARGET_PASSWORD.
	EnvPrefix = "RCON"
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Target  TargetConfig          `mapstructure:"target" json:"target"`
	Session SessionConfig         `mapstructure:"session" json:"session"`
	Logging LoggingConfig         `mapstructure:"logging" json:"logging"`
	History HistoryConfig         `mapstructure:"history" json:"history"`
	API     APIConfig             `mapstructure:"api" json:"api"`
	MQTT    MQTTConfig            `mapstructure:"mqtt" json:"mqtt"`
	Health  HealthConfig          `mapstructure:"health" json:"health"`
	Peers   map[string]PeerConfig `mapstructure:"peers" json:"peers,omitempty"`
}

// TargetConfig is the host the client talks to by default.
type TargetConfig struct {
	Address  string `mapstructure:"address" json:"address"`
	Port     int    `mapstructure:"port" json:"port"`
	Password string `mapstructure:"password" json:"password"`
}

// SessionConfig holds the session retry and timeout policy.
type SessionConfig struct {
	HandshakeAttempts      int           `mapstructure:"handshake_attempts" json:"handshake_attempts"`
	HandshakeTimeout       time.Duration `mapstructure:"handshake_timeout" json:"handshake_timeout"`
	HandshakeBackoff       time.Duration `mapstructure:"handshake_backoff" json:"handshake_backoff"`
	ResponseTimeout        time.Duration `mapstructure:"response_timeout" json:"response_timeout"`
	MaxConsecutiveTimeouts int           `mapstructure:"max_consecutive_timeouts" json:"max_consecutive_timeouts"`
}

// Options converts the policy into session options.
func (s SessionConfig) Options() session.Options {
	return session.Options{
		HandshakeAttempts:      s.HandshakeAttempts,
		HandshakeTimeout:       s.HandshakeTimeout,
		HandshakeBackoff:       s.HandshakeBackoff,
		ResponseTimeout:        s.ResponseTimeout,
		MaxConsecutiveTimeouts: s.MaxConsecutiveTimeouts,
	}
}

// LoggingConfig holds logging configuration. An empty Directory disables
// the log file.
type LoggingConfig struct {
	Level      string `mapstructure:"level" json:"level"`
	Directory  string `mapstructure:"directory" json:"directory"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"`
}

// HistoryConfig controls the command audit log. A zero Retention keeps
// records forever.
type HistoryConfig struct {
	Enabled     bool          `mapstructure:"enabled" json:"enabled"`
	Path        string        `mapstructure:"path" json:"path"`
	Retention   time.Duration `mapstructure:"retention" json:"retention"`
	CleanupTime string        `mapstructure:"cleanup_time" json:"cleanup_time"` // HH:MM, local time
}

// HealthConfig controls the gateway's periodic peer probes. A zero
// Interval disables them.
type HealthConfig struct {
	Interval time.Duration `mapstructure:"interval" json:"interval"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout"`
}

// APIConfig controls the HTTP remote-command gateway.
type APIConfig struct {
	Listen         string   `mapstructure:"listen" json:"listen"`
	AllowedOrigins []string `mapstructure:"allowed_origins" json:"allowed_origins"`
	Token          string   `mapstructure:"token" json:"token"`
	RateLimitRPS   int      `mapstructure:"rate_limit_rps" json:"rate_limit_rps"`
	TLSEnabled     bool     `mapstructure:"tls_enabled" json:"tls_enabled"`
	TLSCertFile    string   `mapstructure:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile     string   `mapstructure:"tls_key_file" json:"tls_key_file"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	BrokerURL   string `mapstructure:"broker_url" json:"broker_url"`
	Port        int    `mapstructure:"port" json:"port"`
	UseTLS      bool   `mapstructure:"use_tls" json:"use_tls"`
	CertFile    string `mapstructure:"cert_file" json:"cert_file"`
	KeyFile     string `mapstructure:"key_file" json:"key_file"`
	ClientID    string `mapstructure:"client_id" json:"client_id"`
	Username    string `mapstructure:"username" json:"username"`
	Password    string `mapstructure:"password" json:"password"`
	TopicPrefix string `mapstructure:"topic_prefix" json:"topic_prefix"`
}

// PeerConfig is a named host the gateway can reach without the caller
// knowing its password.
type PeerConfig struct {
	Address  string `mapstructure:"address" json:"address"`
	Port     int    `mapstructure:"port" json:"port"`
	Password string `mapstructure:"password" json:"password"`
}

// Endpoint returns the peer's network endpoint.
func (p PeerConfig) Endpoint() network.Endpoint {
	return network.Endpoint{Host: p.Address, Port: p.Port}
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Target: TargetConfig{
			Address: "127.0.0.1",
			Port:    protocol.DefaultPort,
		},
		Session: SessionConfig{
			HandshakeAttempts:      3,
			HandshakeTimeout:       2 * time.Second,
			HandshakeBackoff:       500 * time.Millisecond,
			ResponseTimeout:        5 * time.Second,
			MaxConsecutiveTimeouts: 3,
		},
		Logging: LoggingConfig{
			Level:      "warn",
			MaxBackups: 5,
		},
		History: HistoryConfig{
			Enabled:     true,
			Path:        DefaultHistoryDB,
			Retention:   30 * 24 * time.Hour,
			CleanupTime: "04:00",
		},
		Health: HealthConfig{
			Interval: time.Minute,
			Timeout:  5 * time.Second,
		},
		API: APIConfig{
			Listen:         DefaultAPIListen,
			AllowedOrigins: []string{"http://localhost:8180"},
			RateLimitRPS:   10,
			TLSCertFile:    "rcon_api.crt",
			TLSKeyFile:     "rcon_api.key",
		},
		MQTT: MQTTConfig{
			Port:        1883,
			TopicPrefix: "rcon",
		},
	}
}

// setDefaults registers every key with viper so AutomaticEnv can find it.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("target.address", d.Target.Address)
	v.SetDefault("target.port", d.Target.Port)
	v.SetDefault("target.password", d.Target.Password)

	v.SetDefault("session.handshake_attempts", d.Session.HandshakeAttempts)
	v.SetDefault("session.handshake_timeout", d.Session.HandshakeTimeout)
	v.SetDefault("session.handshake_backoff", d.Session.HandshakeBackoff)
	v.SetDefault("session.response_timeout", d.Session.ResponseTimeout)
	v.SetDefault("session.max_consecutive_timeouts", d.Session.MaxConsecutiveTimeouts)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.directory", d.Logging.Directory)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)

	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.path", d.History.Path)
	v.SetDefault("history.retention", d.History.Retention)
	v.SetDefault("history.cleanup_time", d.History.CleanupTime)

	v.SetDefault("health.interval", d.Health.Interval)
	v.SetDefault("health.timeout", d.Health.Timeout)

	v.SetDefault("api.listen", d.API.Listen)
	v.SetDefault("api.allowed_origins", d.API.AllowedOrigins)
	v.SetDefault("api.token", d.API.Token)
	v.SetDefault("api.rate_limit_rps", d.API.RateLimitRPS)
	v.SetDefault("api.tls_enabled", d.API.TLSEnabled)
	v.SetDefault("api.tls_cert_file", d.API.TLSCertFile)
	v.SetDefault("api.tls_key_file", d.API.TLSKeyFile)

	v.SetDefault("mqtt.enabled", d.MQTT.Enabled)
	v.SetDefault("mqtt.broker_url", d.MQTT.BrokerURL)
	v.SetDefault("mqtt.port", d.MQTT.Port)
	v.SetDefault("mqtt.use_tls", d.MQTT.UseTLS)
	v.SetDefault("mqtt.cert_file", d.MQTT.CertFile)
	v.SetDefault("mqtt.key_file", d.MQTT.KeyFile)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.username", d.MQTT.Username)
	v.SetDefault("mqtt.password", d.MQTT.Password)
	v.SetDefault("mqtt.topic_prefix", d.MQTT.TopicPrefix)
}

// Load reads configuration from defaults, an optional config file and
// RCON_* environment variables, in increasing priority. With an empty
// configFile, rcon.{yaml,json,toml} is looked up in ".", "./config" and
// "$HOME/.config/rcon"; a missing file is not an error. An explicit
// configFile must exist.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigName(DefaultConfigName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "rcon"))
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("no config file found, using defaults and environment")
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.path = v.ConfigFileUsed()
	if cfg.path == "" {
		cfg.path = DefaultConfigFile
	} else {
		log.Debug().Str("path", cfg.path).Msg("configuration loaded")
	}

	return cfg, nil
}

// Save writes the current configuration to Path as JSON.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file may hold passwords.
	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// SetPath changes where Save writes.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

const maskedSecret = "********"

// Masked returns a copy with passwords and tokens replaced, for display.
func (c *Config) Masked() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m := &Config{
		path:    c.path,
		Target:  c.Target,
		Session: c.Session,
		Logging: c.Logging,
		History: c.History,
		API:     c.API,
		MQTT:    c.MQTT,
		Health:  c.Health,
	}
	mask(&m.Target.Password)
	mask(&m.API.Token)
	mask(&m.MQTT.Password)

	if c.Peers != nil {
		m.Peers = make(map[string]PeerConfig, len(c.Peers))
		for id, p := range c.Peers {
			mask(&p.Password)
			m.Peers[id] = p
		}
	}
	return m
}

func mask(s *string) {
	if *s != "" {
		*s = maskedSecret
	}
}

// TargetEndpoint returns the default target as an endpoint.
func (c *Config) TargetEndpoint() network.Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return network.Endpoint{Host: c.Target.Address, Port: c.Target.Port}
}

// Peer looks up a configured peer.
func (c *Config) Peer(id string) (PeerConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	// viper lowercases map keys
	p, ok := c.Peers[strings.ToLower(id)]
	return p, ok
}

// PeerIDs returns the configured peer IDs in sorted order.
func (c *Config) PeerIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.Peers))
	for id := range c.Peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
