// Package config loads service settings from an optional YAML file and the
// environment. Environment variables win over the file; the signing secret is
// read from the environment only.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissingSecret is returned by Validate when AUTH_JWT_SECRET is unset.
var ErrMissingSecret = errors.New("config: AUTH_JWT_SECRET is required")

const minSecretLength = 16

type Config struct {
	Env       string          `yaml:"env"`
	HTTP      HTTPConfig      `yaml:"http"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	Database  DatabaseConfig  `yaml:"database"`
	Session   SessionConfig   `yaml:"session"`
	OTT       OTTConfig       `yaml:"ott"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Kafka     KafkaConfig     `yaml:"kafka"`

	// JWTSecret never comes from the file.
	JWTSecret string `yaml:"-"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	// TrustedProxies lists the addresses or CIDRs whose X-Forwarded-For is
	// believed. Empty means clients are identified by the peer address only.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type SessionConfig struct {
	TTL              time.Duration `yaml:"ttl"`
	CookieName       string        `yaml:"cookie_name"`
	CrossSiteCookies bool          `yaml:"cross_site_cookies"`
	NextURLBase      string        `yaml:"next_url_base"`
}

type OTTConfig struct {
	TTL          time.Duration `yaml:"ttl"`
	ReapInterval time.Duration `yaml:"reap_interval"`
}

type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Env: "development",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		GRPC:     GRPCConfig{Addr: ":9090"},
		Database: DatabaseConfig{Driver: "pgx"},
		Session: SessionConfig{
			TTL:         12 * time.Hour,
			CookieName:  "auth_token",
			NextURLBase: "http://localhost:5173/login",
		},
		OTT: OTTConfig{
			TTL:          2 * time.Minute,
			ReapInterval: 30 * time.Second,
		},
		CORS:      CORSConfig{Origins: []string{"http://localhost:5173"}},
		RateLimit: RateLimitConfig{PerSecond: 5, Burst: 10},
		Kafka:     KafkaConfig{Topic: "auth.audit"},
	}
}

// Load reads AUTH_CONFIG_FILE when set and then applies the environment.
func Load() (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("AUTH_CONFIG_FILE")); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads a YAML file over the defaults without consulting the environment.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = splitList(v)
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		d, err := parseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
			return
		}
		*dst = d
	}

	str("AUTH_ENV", &c.Env)
	str("AUTH_HTTP_ADDR", &c.HTTP.Addr)
	str("AUTH_GRPC_ADDR", &c.GRPC.Addr)
	str("AUTH_DB_DRIVER", &c.Database.Driver)
	str("AUTH_DB_DSN", &c.Database.DSN)
	str("AUTH_NEXT_URL_BASE", &c.Session.NextURLBase)
	str("AUTH_KAFKA_TOPIC", &c.Kafka.Topic)
	list("AUTH_CORS_ORIGINS", &c.CORS.Origins)
	list("AUTH_TRUSTED_PROXIES", &c.HTTP.TrustedProxies)
	list("AUTH_KAFKA_BROKERS", &c.Kafka.Brokers)
	dur("AUTH_SESSION_TTL", &c.Session.TTL)
	dur("AUTH_OTT_TTL", &c.OTT.TTL)

	if v, ok := lookup("AUTH_JWT_SECRET"); ok {
		c.JWTSecret = v
	}
	if v, ok := lookup("AUTH_COOKIE_CROSS_SITE"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("config: AUTH_COOKIE_CROSS_SITE: %w", err))
		} else {
			c.Session.CrossSiteCookies = b
		}
	}
	if v, ok := lookup("AUTH_RATE_PER_SEC"); ok && strings.TrimSpace(v) != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: AUTH_RATE_PER_SEC: %w", err))
		} else {
			c.RateLimit.PerSecond = f
		}
	}
	if v, ok := lookup("AUTH_RATE_BURST"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("config: AUTH_RATE_BURST: %w", err))
		} else {
			c.RateLimit.Burst = n
		}
	}
	return errors.Join(errs...)
}

// parseDuration accepts Go durations ("90s", "2m") and bare seconds ("120").
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the settings the service cannot start without.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return ErrMissingSecret
	}
	var errs []error
	if len(c.JWTSecret) < minSecretLength && c.Production() {
		errs = append(errs, fmt.Errorf("config: AUTH_JWT_SECRET must be at least %d bytes in production", minSecretLength))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("config: AUTH_DB_DSN is required"))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("config: session ttl must be positive"))
	}
	if c.OTT.TTL <= 0 {
		errs = append(errs, errors.New("config: one-time token ttl must be positive"))
	}
	if c.OTT.ReapInterval <= 0 {
		errs = append(errs, errors.New("config: reap interval must be positive"))
	}
	if c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("config: rate limit must be positive"))
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("config: kafka topic is required when brokers are set"))
	}
	return errors.Join(errs...)
}

// TrustedProxyPrefixes parses HTTP.TrustedProxies. A bare address is a
// single-host prefix.
func (c Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.HTTP.TrustedProxies))
	for _, raw := range c.HTTP.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("config: AUTH_TRUSTED_PROXIES: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("config: AUTH_TRUSTED_PROXIES: %w", err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

// Production reports whether the service runs with production settings.
func (c Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}
