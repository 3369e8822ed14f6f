package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"cardlink/internal/utils"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds runtime settings. Values come from defaults, then an optional
// YAML file named by CONFIG_FILE, then the environment (including .env).
type Config struct {
	HTTPAddr     string `yaml:"http_addr"`
	DatabaseURL  string `yaml:"database_url"`
	RedisURL     string `yaml:"redis_url"`
	NotifyTopic  string `yaml:"notify_channel"`
	AppBaseURL   string `yaml:"app_base_url"`
	CookieDomain string `yaml:"cookie_domain"`
	CookieSecure bool   `yaml:"cookie_secure"`

	// TrustedProxies lists CIDRs whose X-Forwarded-For is believed when
	// resolving the client address. Empty means the peer address is used.
	TrustedProxies []string `yaml:"trusted_proxies"`

	JWTSecret        string        `yaml:"jwt_secret"`
	JWTIssuer        string        `yaml:"jwt_issuer"`
	PendingJWTSecret string        `yaml:"pending_jwt_secret"`
	SessionTTL       time.Duration `yaml:"session_ttl"`
	PersistentTTL    time.Duration `yaml:"persistent_session_ttl"`
	PendingTTL       time.Duration `yaml:"pending_token_ttl"`
	ResetTokenTTL    time.Duration `yaml:"reset_token_ttl"`
	HashTimeout      time.Duration `yaml:"hash_timeout"`
	TwoFactorIssuer  string        `yaml:"two_factor_issuer"`

	ResendAPIKey string `yaml:"resend_api_key"`
	EmailFrom    string `yaml:"email_from"`

	GeoProviderURL string        `yaml:"geo_provider_url"`
	SelfIPTimeout  time.Duration `yaml:"self_ip_timeout"`
	GeoTimeout     time.Duration `yaml:"geo_timeout"`

	Log LogConfig `yaml:"log"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":8080"
	c.DatabaseURL = "file:cardlink.db"
	c.NotifyTopic = "security-events"
	c.AppBaseURL = "http://localhost:3000"
	c.CookieSecure = true
	c.SessionTTL = utils.DefaultSessionTTL
	c.PersistentTTL = utils.DefaultPersistentTTL
	c.PendingTTL = 5 * time.Minute
	c.ResetTokenTTL = time.Hour
	c.HashTimeout = 5 * time.Second
	c.TwoFactorIssuer = "Cardlink"
	c.SelfIPTimeout = 2 * time.Second
	c.GeoTimeout = 4 * time.Second
	c.Log = LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28}
}

// Load reads .env when present; a missing .env is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	cfg := &Config{}
	cfg.LoadDefaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate refuses configurations the server must not start with.
func (c *Config) Validate() error {
	if err := utils.CheckSigningKey([]byte(c.JWTSecret)); err != nil {
		return fmt.Errorf("config: JWT_SECRET: %w", err)
	}
	if c.PendingJWTSecret != "" {
		if err := utils.CheckSigningKey([]byte(c.PendingJWTSecret)); err != nil {
			return fmt.Errorf("config: PENDING_JWT_SECRET: %w", err)
		}
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("config: DATABASE_URL is required")
	}
	if c.SessionTTL <= 0 || c.PersistentTTL <= 0 || c.PendingTTL <= 0 || c.ResetTokenTTL <= 0 {
		return errors.New("config: token lifetimes must be positive")
	}
	if c.HashTimeout <= 0 {
		return errors.New("config: HASH_TIMEOUT must be positive")
	}
	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("config: TRUSTED_PROXIES: %w", err)
		}
	}
	return nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	textVars := map[string]*string{
		"HTTP_ADDR":          &c.HTTPAddr,
		"DATABASE_URL":       &c.DatabaseURL,
		"REDIS_URL":          &c.RedisURL,
		"NOTIFY_CHANNEL":     &c.NotifyTopic,
		"APP_BASE_URL":       &c.AppBaseURL,
		"COOKIE_DOMAIN":      &c.CookieDomain,
		"JWT_SECRET":         &c.JWTSecret,
		"JWT_ISSUER":         &c.JWTIssuer,
		"PENDING_JWT_SECRET": &c.PendingJWTSecret,
		"TWO_FACTOR_ISSUER":  &c.TwoFactorIssuer,
		"RESEND_API_KEY":     &c.ResendAPIKey,
		"EMAIL_FROM":         &c.EmailFrom,
		"GEO_PROVIDER_URL":   &c.GeoProviderURL,
		"LOG_LEVEL":          &c.Log.Level,
		"LOG_FILE":           &c.Log.File,
	}
	for key, target := range textVars {
		if value, ok := lookup(key); ok {
			*target = value
		}
	}

	durations := map[string]*time.Duration{
		"SESSION_TTL":            &c.SessionTTL,
		"PERSISTENT_SESSION_TTL": &c.PersistentTTL,
		"PENDING_TOKEN_TTL":      &c.PendingTTL,
		"RESET_TOKEN_TTL":        &c.ResetTokenTTL,
		"HASH_TIMEOUT":           &c.HashTimeout,
		"SELF_IP_TIMEOUT":        &c.SelfIPTimeout,
		"GEO_TIMEOUT":            &c.GeoTimeout,
	}
	for key, target := range durations {
		value, ok := lookup(key)
		if !ok || value == "" {
			continue
		}
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*target = parsed
	}

	ints := map[string]*int{
		"LOG_MAX_SIZE_MB":  &c.Log.MaxSizeMB,
		"LOG_MAX_BACKUPS":  &c.Log.MaxBackups,
		"LOG_MAX_AGE_DAYS": &c.Log.MaxAgeDays,
	}
	for key, target := range ints {
		value, ok := lookup(key)
		if !ok || value == "" {
			continue
		}
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*target = parsed
	}

	if value, ok := lookup("COOKIE_SECURE"); ok && value != "" {
		c.CookieSecure = value != "false"
	}
	if value, ok := lookup("TRUSTED_PROXIES"); ok {
		c.TrustedProxies = splitList(value)
	}
	return nil
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
