package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// MinSessionSecretLen is the minimum accepted length of the session signing
// secret, in bytes.
const MinSessionSecretLen = 32

// Settings is the immutable process-wide configuration, loaded once at
// startup and passed explicitly to every component that needs it.
type Settings struct {
	Env      string           `mapstructure:"env" yaml:"env"`
	Server   ServerSettings   `mapstructure:"server" yaml:"server"`
	Database DatabaseSettings `mapstructure:"database" yaml:"database"`
	Auth     AuthSettings     `mapstructure:"auth" yaml:"auth"`
	Mail     MailSettings     `mapstructure:"mail" yaml:"mail"`
	Log      LogSettings      `mapstructure:"log" yaml:"log"`

	// GeneratedSecret is set when no session secret was configured and an
	// ephemeral one was generated (development only).
	GeneratedSecret bool `mapstructure:"-" yaml:"-"`
}

// ServerSettings controls the HTTP listener.
type ServerSettings struct {
	Host               string        `mapstructure:"host" yaml:"host"`
	Port               int           `mapstructure:"port" yaml:"port"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins        []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
}

// DatabaseSettings selects the directory backend.
type DatabaseSettings struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// AuthSettings holds session, token and operator-key parameters.
type AuthSettings struct {
	SessionSecret    string `mapstructure:"session_secret" yaml:"session_secret"`
	SessionTTLHours  int    `mapstructure:"session_ttl_hours" yaml:"session_ttl_hours"`
	RememberTTLDays  int    `mapstructure:"remember_ttl_days" yaml:"remember_ttl_days"`
	ResetTTLMinutes  int    `mapstructure:"reset_ttl_minutes" yaml:"reset_ttl_minutes"`
	InviteTTLMinutes int    `mapstructure:"invite_ttl_minutes" yaml:"invite_ttl_minutes"`
	OperatorKey      string `mapstructure:"operator_key" yaml:"operator_key"`
	CookieName       string `mapstructure:"cookie_name" yaml:"cookie_name"`
}

// MailSettings configures best-effort delivery of invite and reset links.
type MailSettings struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Host     string        `mapstructure:"host" yaml:"host"`
	Port     int           `mapstructure:"port" yaml:"port"`
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"password"`
	From     string        `mapstructure:"from" yaml:"from"`
	TLS      string        `mapstructure:"tls" yaml:"tls"` // starttls, implicit or none
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	BaseURL  string        `mapstructure:"base_url" yaml:"base_url"`
}

// LogSettings controls the slog handler.
type LogSettings struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults registers every known key with its default. Keys must be
// registered for AutomaticEnv to pick up GATEHOUSE_* overrides on Unmarshal.
func SetDefaults(v *viper.Viper, dataDir string) {
	v.SetDefault("env", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.rate_limit_per_minute", 20)

	v.SetDefault("database.driver", string(DialectSQLite))
	v.SetDefault("database.dsn", filepath.Join(dataDir, "gatehouse.db"))

	v.SetDefault("auth.session_secret", "")
	v.SetDefault("auth.session_ttl_hours", 12)
	v.SetDefault("auth.remember_ttl_days", 30)
	v.SetDefault("auth.reset_ttl_minutes", 30)
	v.SetDefault("auth.invite_ttl_minutes", 72*60)
	v.SetDefault("auth.operator_key", "")
	v.SetDefault("auth.cookie_name", "gatehouse_session")

	v.SetDefault("mail.enabled", false)
	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "")
	v.SetDefault("mail.tls", "starttls")
	v.SetDefault("mail.timeout", "15s")
	v.SetDefault("mail.base_url", "http://localhost:8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")
}

// LoadSettings unmarshals and validates the configuration held by v.
func LoadSettings(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("config unmarshal: %w", err)
	}
	s.Env = strings.ToLower(strings.TrimSpace(s.Env))

	if s.Auth.SessionSecret == "" && !s.IsProduction() {
		secret, err := RandomSecret()
		if err != nil {
			return Settings{}, err
		}
		s.Auth.SessionSecret = secret
		s.GeneratedSecret = true
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks invariants that must hold before the server starts.
func (s Settings) Validate() error {
	var errs []error
	if s.Env != "development" && s.Env != "production" {
		errs = append(errs, fmt.Errorf("env must be development or production, got %q", s.Env))
	}
	if len(s.Auth.SessionSecret) < MinSessionSecretLen {
		errs = append(errs, fmt.Errorf("auth.session_secret must be at least %d bytes", MinSessionSecretLen))
	}
	if s.Auth.SessionTTLHours <= 0 {
		errs = append(errs, errors.New("auth.session_ttl_hours must be positive"))
	}
	if s.Auth.RememberTTLDays <= 0 {
		errs = append(errs, errors.New("auth.remember_ttl_days must be positive"))
	}
	if s.Auth.ResetTTLMinutes <= 0 {
		errs = append(errs, errors.New("auth.reset_ttl_minutes must be positive"))
	}
	if s.Auth.InviteTTLMinutes <= 0 {
		errs = append(errs, errors.New("auth.invite_ttl_minutes must be positive"))
	}
	if s.Auth.CookieName == "" {
		errs = append(errs, errors.New("auth.cookie_name is required"))
	}
	if _, err := ParseDialect(s.Database.Driver); err != nil {
		errs = append(errs, err)
	}
	if s.Mail.Enabled && (s.Mail.Host == "" || s.Mail.From == "") {
		errs = append(errs, errors.New("mail.host and mail.from are required when mail is enabled"))
	}
	switch s.Mail.TLS {
	case "", "starttls", "implicit", "none":
	default:
		errs = append(errs, fmt.Errorf("mail.tls must be starttls, implicit or none, got %q", s.Mail.TLS))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the process runs in production mode.
func (s Settings) IsProduction() bool {
	return s.Env == "production"
}

// SessionTTL is the lifetime of a regular session.
func (s Settings) SessionTTL() time.Duration {
	return time.Duration(s.Auth.SessionTTLHours) * time.Hour
}

// RememberTTL is the lifetime of a "remember me" session.
func (s Settings) RememberTTL() time.Duration {
	return time.Duration(s.Auth.RememberTTLDays) * 24 * time.Hour
}

// ResetTTL is the lifetime of a password reset token.
func (s Settings) ResetTTL() time.Duration {
	return time.Duration(s.Auth.ResetTTLMinutes) * time.Minute
}

// InviteTTL is the lifetime of an invite token.
func (s Settings) InviteTTL() time.Duration {
	return time.Duration(s.Auth.InviteTTLMinutes) * time.Minute
}

// Masked returns a copy with every secret replaced, for display.
func (s Settings) Masked() Settings {
	m := s
	m.Auth.SessionSecret = mask(s.Auth.SessionSecret)
	m.Auth.OperatorKey = mask(s.Auth.OperatorKey)
	m.Mail.Password = mask(s.Mail.Password)
	return m
}

// YAML renders the settings as a YAML document.
func (s Settings) YAML() ([]byte, error) {
	return yaml.Marshal(s)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

// RandomSecret returns 32 random bytes, hex encoded.
func RandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
