// Package models - Service configuration.
// This file defines the configuration tree for the gate and its collaborators.
//
// Configuration Philosophy:
// - One Config value is built at startup and handed to each constructor
// - Defaults work out of the box for a single-process development setup
// - Validate catches misconfiguration before any listener is opened
package models

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"time"
)

// Storage backend identifiers.
const (
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Backends for the rate limit counter and the token denylist.
const (
	BackendMemory  = "memory"
	BackendRedis   = "redis"
	BackendStorage = "storage"
)

// Supported HMAC signing algorithms for bearer tokens.
const (
	AlgorithmHS256 = "HS256"
	AlgorithmHS384 = "HS384"
	AlgorithmHS512 = "HS512"
)

// Config is the root configuration structure.
//
// Configuration Structure:
// - Server: HTTP listener settings
// - Storage: persistence of users, tiers, rules and denylist entries
// - Redis: shared store used by the counter and denylist when selected
// - Security: token signing, denylist and first-user seeding
// - RateLimit: default quota, counter backend and path normalization
// - Logging, Metrics, Observability: ambient concerns
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Redis         RedisConfig         `yaml:"redis" json:"redis"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
	// SecureCookies sets the Secure attribute on the refresh token cookie.
	SecureCookies bool `yaml:"secure_cookies" json:"secure_cookies"`
	// TrustedProxies lists the CIDRs or addresses of reverse proxies whose
	// X-Forwarded-For and X-Real-IP headers are believed. Empty trusts none,
	// so anonymous clients are keyed on the connection's peer address.
	TrustedProxies []string `yaml:"trusted_proxies" json:"trusted_proxies"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Database DatabaseConfig `yaml:"database" json:"database"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

type RedisConfig struct {
	Addr         string        `yaml:"addr" json:"addr"`
	Password     string        `yaml:"password" json:"-"`
	DB           int           `yaml:"db" json:"db"`
	PoolSize     int           `yaml:"pool_size" json:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

type SecurityConfig struct {
	Tokens    TokenConfig     `yaml:"tokens" json:"tokens"`
	Denylist  DenylistConfig  `yaml:"denylist" json:"denylist"`
	FirstUser FirstUserConfig `yaml:"first_user" json:"first_user"`
}

// TokenConfig holds the signing secret and token lifetimes. Rotating
// SecretKey invalidates every outstanding token.
type TokenConfig struct {
	SecretKey       string        `yaml:"secret_key" json:"-"`
	Algorithm       string        `yaml:"algorithm" json:"algorithm"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" json:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" json:"refresh_token_ttl"`
}

type DenylistConfig struct {
	Backend       string        `yaml:"backend" json:"backend"`
	KeyPrefix     string        `yaml:"key_prefix" json:"key_prefix"`
	PruneInterval time.Duration `yaml:"prune_interval" json:"prune_interval"`
}

// FirstUserConfig describes the superuser created on first start. Seeding is
// skipped when Username or Password is empty.
type FirstUserConfig struct {
	Name     string `yaml:"name" json:"name"`
	Email    string `yaml:"email" json:"email"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

type RateLimitConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Backend string `yaml:"backend" json:"backend"`
	// DefaultLimit and DefaultPeriod apply to anonymous callers and to
	// callers whose tier has no rule for the requested path.
	DefaultLimit  int           `yaml:"default_limit" json:"default_limit"`
	DefaultPeriod time.Duration `yaml:"default_period" json:"default_period"`
	FailOpen      bool          `yaml:"fail_open" json:"fail_open"`
	KeyPrefix     string        `yaml:"key_prefix" json:"key_prefix"`
	// RouteTemplates are extra path templates for normalization, on top of
	// the templates registered on the router.
	RouteTemplates  []string      `yaml:"route_templates" json:"route_templates"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
	Tiers           []TierSeed    `yaml:"tiers" json:"tiers"`
}

// TierSeed declares a tier and its rules to create at startup if missing.
type TierSeed struct {
	Name  string     `yaml:"name" json:"name"`
	Rules []RuleSeed `yaml:"rules" json:"rules"`
}

type RuleSeed struct {
	Path   string        `yaml:"path" json:"path"`
	Limit  int           `yaml:"limit" json:"limit"`
	Period time.Duration `yaml:"period" json:"period"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig returns a configuration that runs without external
// services: memory storage, memory counter, storage-backed denylist.
//
// Default Values Rationale:
// - 10 requests per hour: the default quota of the upstream service
// - 30 minute access tokens, 7 day refresh tokens
// - Fail-open counter: availability over strict enforcement
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          8000,
			Host:          "0.0.0.0",
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  30 * time.Second,
			IdleTimeout:   60 * time.Second,
			SecureCookies: true,
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
			Database: DatabaseConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
				ConnMaxIdleTime: 5 * time.Minute,
			},
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Security: SecurityConfig{
			Tokens: TokenConfig{
				Algorithm:       AlgorithmHS256,
				AccessTokenTTL:  30 * time.Minute,
				RefreshTokenTTL: 7 * 24 * time.Hour,
			},
			Denylist: DenylistConfig{
				Backend:       BackendStorage,
				KeyPrefix:     "denylist",
				PruneInterval: time.Hour,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			Backend:         BackendMemory,
			DefaultLimit:    10,
			DefaultPeriod:   time.Hour,
			FailOpen:        true,
			KeyPrefix:       "ratelimit",
			RouteTemplates:  []string{},
			CleanupInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "tiergate",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}
	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}
	if c.UsesRedis() && c.Redis.Addr == "" {
		return errors.New("invalid redis config: address is required when a redis backend is selected")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}
	return nil
}

// UsesRedis reports whether any component is configured against Redis.
func (c *Config) UsesRedis() bool {
	return (c.RateLimit.Enabled && c.RateLimit.Backend == BackendRedis) ||
		c.Security.Denylist.Backend == BackendRedis
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}
	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}
	if sc.TLSEnabled && (sc.TLSCertFile == "" || sc.TLSKeyFile == "") {
		return errors.New("TLS cert and key files are required when TLS is enabled")
	}
	if _, err := sc.TrustedProxyPrefixes(); err != nil {
		return err
	}
	return nil
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a single-host
// prefix.
func (sc *ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(sc.TrustedProxies))
	for _, entry := range sc.TrustedProxies {
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func (stc *StorageConfig) Validate() error {
	switch stc.Type {
	case StorageTypeMemory:
		return nil
	case StorageTypePostgres, StorageTypeSQLite:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
		return nil
	default:
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}
}

func (sec *SecurityConfig) Validate() error {
	if sec.Tokens.SecretKey == "" {
		return errors.New("token secret key is required")
	}
	if !slices.Contains([]string{AlgorithmHS256, AlgorithmHS384, AlgorithmHS512}, sec.Tokens.Algorithm) {
		return fmt.Errorf("unsupported token algorithm: %s", sec.Tokens.Algorithm)
	}
	if sec.Tokens.AccessTokenTTL <= 0 || sec.Tokens.RefreshTokenTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if sec.Denylist.Backend != BackendStorage && sec.Denylist.Backend != BackendRedis {
		return fmt.Errorf("invalid denylist backend: %s", sec.Denylist.Backend)
	}
	if sec.Denylist.PruneInterval < 0 {
		return errors.New("denylist prune interval cannot be negative")
	}
	return nil
}

func (rl *RateLimitConfig) Validate() error {
	if !rl.Enabled {
		return nil
	}
	if rl.Backend != BackendMemory && rl.Backend != BackendRedis {
		return fmt.Errorf("invalid rate limit backend: %s", rl.Backend)
	}
	if rl.DefaultLimit <= 0 {
		return errors.New("default limit must be positive")
	}
	if rl.DefaultPeriod < time.Second {
		return errors.New("default period must be at least one second")
	}
	for _, tier := range rl.Tiers {
		if tier.Name == "" {
			return errors.New("seeded tier name cannot be empty")
		}
		for _, rule := range tier.Rules {
			if rule.Path == "" || rule.Limit <= 0 || rule.Period < time.Second {
				return fmt.Errorf("tier %s has an invalid rule for path %q", tier.Name, rule.Path)
			}
		}
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, lc.Level) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}
	if !slices.Contains([]string{"json", "text"}, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}
	if !slices.Contains([]string{"stdout", "stderr", "file"}, lc.Output) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}
	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}
	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}
	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}
	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}
	return nil
}
