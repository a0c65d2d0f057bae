package models

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Security.Tokens.SecretKey = "test-secret"
	return cfg
}

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	// Test server defaults
	assert.Equal(t, 8000, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, 30*time.Second, config.Server.ReadTimeout)
	assert.False(t, config.Server.TLSEnabled)
	assert.True(t, config.Server.SecureCookies)

	// Test storage defaults
	assert.Equal(t, StorageTypeMemory, config.Storage.Type)
	assert.Equal(t, 25, config.Storage.Database.MaxOpenConns)

	// Test security defaults
	assert.Empty(t, config.Security.Tokens.SecretKey)
	assert.Equal(t, AlgorithmHS256, config.Security.Tokens.Algorithm)
	assert.Equal(t, 30*time.Minute, config.Security.Tokens.AccessTokenTTL)
	assert.Equal(t, 7*24*time.Hour, config.Security.Tokens.RefreshTokenTTL)
	assert.Equal(t, BackendStorage, config.Security.Denylist.Backend)

	// Test rate limit defaults
	assert.True(t, config.RateLimit.Enabled)
	assert.Equal(t, BackendMemory, config.RateLimit.Backend)
	assert.Equal(t, 10, config.RateLimit.DefaultLimit)
	assert.Equal(t, time.Hour, config.RateLimit.DefaultPeriod)
	assert.True(t, config.RateLimit.FailOpen)
	assert.Equal(t, "ratelimit", config.RateLimit.KeyPrefix)

	// Test logging and observability defaults
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.Equal(t, "tiergate", config.Observability.ServiceName)
	assert.False(t, config.Observability.Tracing.Enabled)
	assert.Equal(t, 1.0, config.Observability.Tracing.SampleRate)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid defaults with secret",
			mutate: func(*Config) {},
		},
		{
			name:        "missing secret",
			mutate:      func(c *Config) { c.Security.Tokens.SecretKey = "" },
			expectError: true,
			errorMsg:    "token secret key is required",
		},
		{
			name:        "invalid server port",
			mutate:      func(c *Config) { c.Server.Port = 0 },
			expectError: true,
			errorMsg:    "invalid server config",
		},
		{
			name: "redis counter without address",
			mutate: func(c *Config) {
				c.RateLimit.Backend = BackendRedis
				c.Redis.Addr = ""
			},
			expectError: true,
			errorMsg:    "address is required",
		},
		{
			name: "redis counter ignored when rate limiting disabled",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = false
				c.RateLimit.Backend = BackendRedis
				c.Redis.Addr = ""
			},
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "trace" },
			expectError: true,
			errorMsg:    "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      ServerConfig
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid config",
			config: ServerConfig{Port: 8000, Host: "localhost", ReadTimeout: time.Second},
		},
		{
			name:        "invalid port - too high",
			config:      ServerConfig{Port: 70000, Host: "localhost"},
			expectError: true,
			errorMsg:    "port must be between 1 and 65535",
		},
		{
			name:        "empty host",
			config:      ServerConfig{Port: 8000},
			expectError: true,
			errorMsg:    "host cannot be empty",
		},
		{
			name:        "negative timeout",
			config:      ServerConfig{Port: 8000, Host: "localhost", IdleTimeout: -time.Second},
			expectError: true,
			errorMsg:    "timeouts cannot be negative",
		},
		{
			name:        "tls without files",
			config:      ServerConfig{Port: 8443, Host: "localhost", TLSEnabled: true},
			expectError: true,
			errorMsg:    "TLS cert and key files are required",
		},
		{
			name:   "trusted proxies",
			config: ServerConfig{Port: 8000, Host: "localhost", TrustedProxies: []string{"10.0.0.0/8", "192.0.2.1", "fd00::/8"}},
		},
		{
			name:        "malformed trusted proxy",
			config:      ServerConfig{Port: 8000, Host: "localhost", TrustedProxies: []string{"10.0.0.0/33"}},
			expectError: true,
			errorMsg:    `invalid trusted proxy "10.0.0.0/33"`,
		},
		{
			name:        "hostname as trusted proxy",
			config:      ServerConfig{Port: 8000, Host: "localhost", TrustedProxies: []string{"proxy.internal"}},
			expectError: true,
			errorMsg:    `invalid trusted proxy "proxy.internal"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServerConfig_TrustedProxyPrefixes(t *testing.T) {
	sc := ServerConfig{TrustedProxies: []string{"10.1.2.3/8", "192.0.2.1", "::ffff:198.51.100.2", "2001:db8::1"}}

	prefixes, err := sc.TrustedProxyPrefixes()
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.1/32"),
		netip.MustParsePrefix("198.51.100.2/32"),
		netip.MustParsePrefix("2001:db8::1/128"),
	}, prefixes)

	assert.Empty(t, NewDefaultConfig().Server.TrustedProxies, "no proxy is trusted by default")
}

func TestStorageConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      StorageConfig
		expectError bool
	}{
		{name: "memory", config: StorageConfig{Type: StorageTypeMemory}},
		{name: "sqlite with dsn", config: StorageConfig{Type: StorageTypeSQLite, Database: DatabaseConfig{DSN: "file:test.db"}}},
		{name: "postgres without dsn", config: StorageConfig{Type: StorageTypePostgres}, expectError: true},
		{name: "unknown type", config: StorageConfig{Type: "json"}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSecurityConfig_Validate(t *testing.T) {
	base := func() SecurityConfig { return validConfig().Security }

	t.Run("valid", func(t *testing.T) {
		sec := base()
		assert.NoError(t, sec.Validate())
	})

	t.Run("unsupported algorithm", func(t *testing.T) {
		sec := base()
		sec.Tokens.Algorithm = "RS256"
		assert.ErrorContains(t, sec.Validate(), "unsupported token algorithm")
	})

	t.Run("zero ttl", func(t *testing.T) {
		sec := base()
		sec.Tokens.AccessTokenTTL = 0
		assert.ErrorContains(t, sec.Validate(), "token lifetimes must be positive")
	})

	t.Run("unknown denylist backend", func(t *testing.T) {
		sec := base()
		sec.Denylist.Backend = "memcached"
		assert.ErrorContains(t, sec.Validate(), "invalid denylist backend")
	})
}

func TestRateLimitConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*RateLimitConfig)
		expectError bool
		errorMsg    string
	}{
		{name: "defaults", mutate: func(*RateLimitConfig) {}},
		{
			name:        "zero default limit",
			mutate:      func(rl *RateLimitConfig) { rl.DefaultLimit = 0 },
			expectError: true,
			errorMsg:    "default limit must be positive",
		},
		{
			name:        "sub-second period",
			mutate:      func(rl *RateLimitConfig) { rl.DefaultPeriod = 500 * time.Millisecond },
			expectError: true,
			errorMsg:    "at least one second",
		},
		{
			name: "disabled skips checks",
			mutate: func(rl *RateLimitConfig) {
				rl.Enabled = false
				rl.DefaultLimit = 0
			},
		},
		{
			name: "invalid seeded rule",
			mutate: func(rl *RateLimitConfig) {
				rl.Tiers = []TierSeed{{Name: "free", Rules: []RuleSeed{{Path: "/api/v1/tiers", Limit: 0, Period: time.Minute}}}}
			},
			expectError: true,
			errorMsg:    "tier free has an invalid rule",
		},
		{
			name: "valid seeded rule",
			mutate: func(rl *RateLimitConfig) {
				rl.Tiers = []TierSeed{{Name: "pro", Rules: []RuleSeed{{Path: "/api/v1/tiers", Limit: 100, Period: time.Minute}}}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := NewDefaultConfig().RateLimit
			tt.mutate(&rl)
			err := rl.Validate()
			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoggingConfig_Validate(t *testing.T) {
	assert.NoError(t, (&LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}).Validate())
	assert.ErrorContains(t, (&LoggingConfig{Level: "info", Format: "xml", Output: "stdout"}).Validate(), "invalid log format")
	assert.ErrorContains(t, (&LoggingConfig{Level: "info", Format: "json", Output: "file"}).Validate(), "file path is required")
}

func TestMetricsConfig_Validate(t *testing.T) {
	assert.NoError(t, (&MetricsConfig{Enabled: false}).Validate())
	assert.NoError(t, (&MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090}).Validate())
	assert.ErrorContains(t, (&MetricsConfig{Enabled: true, Port: 9090}).Validate(), "metrics path cannot be empty")
	assert.ErrorContains(t, (&MetricsConfig{Enabled: true, Path: "/metrics"}).Validate(), "metrics port")
}
