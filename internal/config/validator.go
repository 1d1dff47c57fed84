package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Err returns the first error, or nil when the result is valid.
func (r *ValidationResult) Err() error {
	if r.IsValid() {
		return nil
	}
	return r.Errors[0]
}

// Validate checks the settings shared by every command: session policy,
// logging, gateway, telemetry and peers.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateSession(&cfg.Session, result)
	validateLogging(&cfg.Logging, result)
	validateAPI(&cfg.API, result)
	validateMQTT(&cfg.MQTT, result)
	validateHistory(&cfg.History, result)

	if cfg.Health.Interval < 0 {
		result.AddError("health.interval", "cannot be negative")
	}
	if cfg.Health.Interval > 0 {
		validateTimeout(cfg.Health.Timeout, "health.timeout", result)
	}

	for id, peer := range cfg.Peers {
		field := "peers." + id
		if strings.TrimSpace(peer.Address) == "" {
			result.AddError(field+".address", "peer address is required")
		}
		validatePort(peer.Port, field+".port", result)
		if peer.Password == "" {
			result.AddWarning(field+".password", "peer has no password; callers must supply one")
		}
	}

	return result
}

// ValidateTarget checks the default target used by the client commands.
func ValidateTarget(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	if strings.TrimSpace(cfg.Target.Address) == "" {
		result.AddError("target.address", "target address is required")
	}
	validatePort(cfg.Target.Port, "target.port", result)

	return result
}

func validateSession(s *SessionConfig, result *ValidationResult) {
	if s.HandshakeAttempts < 1 {
		result.AddError("session.handshake_attempts", "must make at least 1 handshake attempt")
	}
	if s.HandshakeAttempts > 10 {
		result.AddWarning("session.handshake_attempts",
			fmt.Sprintf("%d handshake attempts may stall for a long time on a dead host", s.HandshakeAttempts))
	}
	if s.MaxConsecutiveTimeouts < 1 {
		result.AddError("session.max_consecutive_timeouts", "threshold must be at least 1")
	}
	if s.HandshakeBackoff < 0 {
		result.AddError("session.handshake_backoff", "backoff cannot be negative")
	}

	validateTimeout(s.HandshakeTimeout, "session.handshake_timeout", result)
	validateTimeout(s.ResponseTimeout, "session.response_timeout", result)
}

func validateTimeout(d time.Duration, field string, result *ValidationResult) {
	if d <= 0 {
		result.AddError(field, "timeout must be positive")
		return
	}
	if d < 100*time.Millisecond {
		result.AddWarning(field,
			fmt.Sprintf("timeout %s is shorter than a typical network round trip", d))
	}
}

func validateHistory(h *HistoryConfig, result *ValidationResult) {
	if !h.Enabled {
		return
	}
	if strings.TrimSpace(h.Path) == "" {
		result.AddError("history.path", "database path is required when history is enabled")
	}
	if h.Retention < 0 {
		result.AddError("history.retention", "cannot be negative")
	}
	if _, _, err := ParseClock(h.CleanupTime); err != nil {
		result.AddError("history.cleanup_time", err.Error())
	}
}

// ParseClock parses an HH:MM wall-clock time. An empty string means 04:00.
func ParseClock(s string) (hour, minute int, err error) {
	if s == "" {
		return 4, 0, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

func validateLogging(l *LoggingConfig, result *ValidationResult) {
	if _, err := zerolog.ParseLevel(l.Level); err != nil {
		result.AddError("logging.level", fmt.Sprintf("unknown log level %q", l.Level))
	}
	if l.MaxBackups < 0 {
		result.AddError("logging.max_backups", "cannot be negative")
	}
}

func validateAPI(a *APIConfig, result *ValidationResult) {
	host, _, err := net.SplitHostPort(a.Listen)
	if err != nil {
		result.AddError("api.listen", fmt.Sprintf("invalid listen address %q: %v", a.Listen, err))
		return
	}
	if a.RateLimitRPS < 0 {
		result.AddError("api.rate_limit_rps", "cannot be negative")
	}
	if a.TLSEnabled && (a.TLSCertFile == "" || a.TLSKeyFile == "") {
		result.AddError("api.tls_cert_file", "certificate and key files are required when TLS is enabled")
	}
	if a.Token == "" {
		ip := net.ParseIP(host)
		if host == "" || (ip != nil && !ip.IsLoopback()) {
			result.AddWarning("api.token",
				"gateway listens beyond loopback without a token; anyone reaching it can run commands")
		}
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "broker URL is required when MQTT is enabled")
	}
	validatePort(m.Port, "mqtt.port", result)
	if (m.CertFile == "") != (m.KeyFile == "") {
		result.AddError("mqtt.cert_file", "cert_file and key_file must be set together")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
	}
}
