// Package config loads the server configuration from an optional YAML file
// and environment variables, which take precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/GoCodeAlone/onboarding/crm"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultPort               = 3001
	DefaultCacheDurationHours = 720
	DefaultStaticDir          = "dist"
	DefaultProgressDB         = "onboarding.db"
)

// Config is the complete server configuration.
type Config struct {
	Port int `yaml:"port"`
	// Env is "production" in production; it selects the OAuth redirect URI
	// and secure cookies.
	Env            string   `yaml:"env"`
	LogLevel       string   `yaml:"logLevel"`
	LogFormat      string   `yaml:"logFormat"`
	StaticDir      string   `yaml:"staticDir"`
	AllowedOrigins []string `yaml:"allowedOrigins"`

	CRM       CRMConfig       `yaml:"crm"`
	Session   SessionConfig   `yaml:"session"`
	Sumsub    SumsubConfig    `yaml:"sumsub"`
	Recaptcha RecaptchaConfig `yaml:"recaptcha"`
	Google    GoogleConfig    `yaml:"google"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	Tracing   TracingConfig   `yaml:"tracing"`

	// ProgressDB is the SQLite file used by onboardctl to keep wizard
	// progress between runs.
	ProgressDB string `yaml:"progressDB"`
}

// CRMConfig configures the CRM client.
type CRMConfig struct {
	BaseURL string `yaml:"baseURL"`
	APIKey  string `yaml:"apiKey"` //nolint:gosec // G117: config field
	// CacheDurationHours is how long the country list is cached.
	CacheDurationHours int               `yaml:"cacheDurationHours"`
	Breaker            crm.BreakerConfig `yaml:"breaker"`
}

// CacheDuration returns the country cache TTL.
func (c CRMConfig) CacheDuration() time.Duration {
	return time.Duration(c.CacheDurationHours) * time.Hour
}

// SessionConfig configures the encrypted session cookie.
type SessionConfig struct {
	CookieName string `yaml:"cookieName"`
	Secret     string `yaml:"secret"` //nolint:gosec // G117: config field
	Salt       string `yaml:"salt"`
}

// SumsubConfig configures identity verification.
type SumsubConfig struct {
	BaseURL       string `yaml:"baseURL"`
	AppToken      string `yaml:"appToken"`
	SecretKey     string `yaml:"secretKey"` //nolint:gosec // G117: config field
	LevelName     string `yaml:"levelName"`
	WebhookSecret string `yaml:"webhookSecret"` //nolint:gosec // G117: config field
}

// RecaptchaConfig configures reCAPTCHA Enterprise.
type RecaptchaConfig struct {
	ProjectID       string `yaml:"projectID"`
	SiteKey         string `yaml:"siteKey"`
	APIKey          string `yaml:"apiKey"` //nolint:gosec // G117: config field
	CredentialsFile string `yaml:"credentialsFile"`
}

// GoogleConfig configures Google sign-in.
type GoogleConfig struct {
	ClientID        string `yaml:"clientID"`
	ClientSecret    string `yaml:"clientSecret"` //nolint:gosec // G117: config field
	DevRedirectURI  string `yaml:"devRedirectURI"`
	ProdRedirectURI string `yaml:"prodRedirectURI"`
}

// RedisConfig selects the Redis KYC cache. The in-memory cache is used
// when URL is empty.
type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// NATSConfig enables publishing KYC approvals.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// TracingConfig configures OTLP span export.
type TracingConfig struct {
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sampleRate"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		Port:       DefaultPort,
		LogLevel:   "info",
		LogFormat:  "text",
		StaticDir:  DefaultStaticDir,
		ProgressDB: DefaultProgressDB,
		CRM:        CRMConfig{CacheDurationHours: DefaultCacheDurationHours},
		Redis:      RedisConfig{Prefix: "onboarding:"},
	}
}

// Production reports whether the server runs in production.
func (c *Config) Production() bool { return strings.EqualFold(c.Env, "production") }

// GoogleRedirectURI returns the OAuth redirect URI for the environment.
func (c *Config) GoogleRedirectURI() string {
	if c.Production() {
		return c.Google.ProdRedirectURI
	}
	return c.Google.DevRedirectURI
}

// LoadFromFile reads a YAML configuration on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Load reads path, when not empty, and applies the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

type envBinding struct {
	name     string
	required bool
	set      func(string) error
	isSet    func() bool
}

func str(p *string) (func(string) error, func() bool) {
	return func(v string) error { *p = v; return nil }, func() bool { return *p != "" }
}

func bind(name string, required bool, p *string) envBinding {
	set, isSet := str(p)
	return envBinding{name: name, required: required, set: set, isSet: isSet}
}

func (c *Config) bindings() []envBinding {
	return []envBinding{
		{name: "PORT", set: func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 65535 {
				return fmt.Errorf("PORT: invalid port %q", v)
			}
			c.Port = n
			return nil
		}},
		bind("APP_ENV", false, &c.Env),
		bind("NODE_ENV", false, &c.Env),
		bind("LOG_LEVEL", false, &c.LogLevel),
		bind("LOG_FORMAT", false, &c.LogFormat),
		bind("STATIC_DIR", false, &c.StaticDir),
		{name: "ALLOWED_ORIGINS", set: func(v string) error {
			c.AllowedOrigins = splitList(v)
			return nil
		}},

		bind("CRM_API_BASE_URL", true, &c.CRM.BaseURL),
		bind("CRM_API_KEY", true, &c.CRM.APIKey),
		{name: "CACHE_DURATION_HOURS", set: func(v string) error {
			// An unparseable value falls back to the default.
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.CRM.CacheDurationHours = n
			} else {
				c.CRM.CacheDurationHours = DefaultCacheDurationHours
			}
			return nil
		}},

		bind("COOKIE_SESSION_KEY", true, &c.Session.CookieName),
		bind("AES_SECRET_KEY", true, &c.Session.Secret),
		bind("AES_IV", true, &c.Session.Salt),

		bind("SUMSUB_APP_TOKEN", true, &c.Sumsub.AppToken),
		bind("SUMSUB_SECRET_KEY", true, &c.Sumsub.SecretKey),
		bind("SUMSUB_BASE_URL", false, &c.Sumsub.BaseURL),
		bind("SUMSUB_LEVEL_NAME", false, &c.Sumsub.LevelName),
		bind("SUMSUB_WEBHOOK_SECRET", false, &c.Sumsub.WebhookSecret),

		bind("RECAPTCHA_PROJECT_ID", true, &c.Recaptcha.ProjectID),
		bind("RECAPTCHA_SITE_KEY", true, &c.Recaptcha.SiteKey),
		bind("RECAPTCHA_API_KEY", false, &c.Recaptcha.APIKey),
		bind("GOOGLE_APPLICATION_CREDENTIALS", false, &c.Recaptcha.CredentialsFile),

		bind("GOOGLE_CLIENT_ID", true, &c.Google.ClientID),
		bind("GOOGLE_CLIENT_SECRET", true, &c.Google.ClientSecret),
		bind("GOOGLE_DEV_REDIRECT_URI", true, &c.Google.DevRedirectURI),
		bind("GOOGLE_PROD_REDIRECT_URI", true, &c.Google.ProdRedirectURI),

		bind("REDIS_URL", false, &c.Redis.URL),
		bind("NATS_URL", false, &c.NATS.URL),
		bind("NATS_SUBJECT", false, &c.NATS.Subject),
		bind("OTEL_EXPORTER_OTLP_ENDPOINT", false, &c.Tracing.Endpoint),
		bind("PROGRESS_DB", false, &c.ProgressDB),
	}
}

// ApplyEnv overrides fields from the environment. lookup is usually
// os.LookupEnv; empty values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, b := range c.bindings() {
		v, ok := lookup(b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(v); err != nil {
			return err
		}
	}
	return nil
}

// MissingError lists the required settings that are not configured, by
// environment variable name.
type MissingError struct {
	Names []string
}

func (e *MissingError) Error() string {
	return "missing required configuration: " + strings.Join(e.Names, ", ")
}

// Validate reports every missing required setting in a single
// *MissingError.
func (c *Config) Validate() error {
	var missing []string
	for _, b := range c.bindings() {
		if b.required && !b.isSet() {
			missing = append(missing, b.name)
		}
	}
	if len(missing) > 0 {
		return &MissingError{Names: missing}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
