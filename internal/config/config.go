package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tiergate/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TIERGATE_"

// Load loads configuration from .env files, the YAML file and environment
// variables, in that order of increasing precedence over the defaults.
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	if err := loadFromEnvironment(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadEnvFiles populates the process environment from .env.local and .env in
// the working directory. Missing files are ignored and variables that are
// already set are never overwritten.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// movedConfig mirrors keys that moved to a different section.
type movedConfig struct {
	Security struct {
		JWTSecret string      `yaml:"jwt_secret"`
		RateLimit interface{} `yaml:"rate_limit"`
	} `yaml:"security"`
}

// warnMovedKeys logs a warning for each relocated key found in the YAML data.
// These keys are ignored by the main decoder.
func warnMovedKeys(data []byte) {
	var moved movedConfig
	if err := yaml.Unmarshal(data, &moved); err != nil {
		return
	}
	if moved.Security.JWTSecret != "" {
		slog.Warn("Config key is ignored; set security.tokens.secret_key instead.", "config_key", "security.jwt_secret")
	}
	if moved.Security.RateLimit != nil {
		slog.Warn("Config key is ignored; rate limiting is configured under the top-level rate_limit section.", "config_key", "security.rate_limit")
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnMovedKeys(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// envReader collects the first parse failure so a malformed override is
// reported instead of silently dropped.
type envReader struct {
	err error
}

func (r *envReader) lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (r *envReader) fail(name string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
}

func (r *envReader) str(name string, dst *string) {
	if v, ok := r.lookup(name); ok {
		*dst = v
	}
}

func (r *envReader) integer(name string, dst *int) {
	if v, ok := r.lookup(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			r.fail(name, err)
			return
		}
		*dst = n
	}
}

func (r *envReader) boolean(name string, dst *bool) {
	if v, ok := r.lookup(name); ok {
		b, err := strconv.ParseBool(strings.ToLower(v))
		if err != nil {
			r.fail(name, err)
			return
		}
		*dst = b
	}
}

func (r *envReader) duration(name string, dst *time.Duration) {
	if v, ok := r.lookup(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			r.fail(name, err)
			return
		}
		*dst = d
	}
}

func (r *envReader) float(name string, dst *float64) {
	if v, ok := r.lookup(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			r.fail(name, err)
			return
		}
		*dst = f
	}
}

// list reads a comma-separated value, dropping empty items.
func (r *envReader) list(name string, dst *[]string) {
	if v, ok := r.lookup(name); ok {
		items := make([]string, 0)
		for _, part := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				items = append(items, trimmed)
			}
		}
		*dst = items
	}
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *models.Config) error {
	env := &envReader{}

	// Server configuration
	env.integer("PORT", &config.Server.Port)
	env.str("HOST", &config.Server.Host)
	env.duration("READ_TIMEOUT", &config.Server.ReadTimeout)
	env.duration("WRITE_TIMEOUT", &config.Server.WriteTimeout)
	env.duration("IDLE_TIMEOUT", &config.Server.IdleTimeout)
	env.boolean("TLS_ENABLED", &config.Server.TLSEnabled)
	env.str("TLS_CERT_FILE", &config.Server.TLSCertFile)
	env.str("TLS_KEY_FILE", &config.Server.TLSKeyFile)
	env.boolean("SECURE_COOKIES", &config.Server.SecureCookies)
	env.list("TRUSTED_PROXIES", &config.Server.TrustedProxies)

	// Storage configuration
	env.str("STORAGE_TYPE", &config.Storage.Type)
	env.str("DATABASE_DSN", &config.Storage.Database.DSN)
	env.integer("DATABASE_MAX_OPEN_CONNS", &config.Storage.Database.MaxOpenConns)
	env.integer("DATABASE_MAX_IDLE_CONNS", &config.Storage.Database.MaxIdleConns)

	// Redis configuration
	env.str("REDIS_ADDR", &config.Redis.Addr)
	env.str("REDIS_PASSWORD", &config.Redis.Password)
	env.integer("REDIS_DB", &config.Redis.DB)
	env.integer("REDIS_POOL_SIZE", &config.Redis.PoolSize)

	// Security configuration
	env.str("SECRET_KEY", &config.Security.Tokens.SecretKey)
	env.str("TOKEN_ALGORITHM", &config.Security.Tokens.Algorithm)
	env.duration("ACCESS_TOKEN_TTL", &config.Security.Tokens.AccessTokenTTL)
	env.duration("REFRESH_TOKEN_TTL", &config.Security.Tokens.RefreshTokenTTL)
	env.str("DENYLIST_BACKEND", &config.Security.Denylist.Backend)
	env.duration("DENYLIST_PRUNE_INTERVAL", &config.Security.Denylist.PruneInterval)
	env.str("ADMIN_NAME", &config.Security.FirstUser.Name)
	env.str("ADMIN_EMAIL", &config.Security.FirstUser.Email)
	env.str("ADMIN_USERNAME", &config.Security.FirstUser.Username)
	env.str("ADMIN_PASSWORD", &config.Security.FirstUser.Password)

	// Rate limit configuration
	env.boolean("RATE_LIMIT_ENABLED", &config.RateLimit.Enabled)
	env.str("RATE_LIMIT_BACKEND", &config.RateLimit.Backend)
	env.integer("DEFAULT_RATE_LIMIT_LIMIT", &config.RateLimit.DefaultLimit)
	env.duration("DEFAULT_RATE_LIMIT_PERIOD", &config.RateLimit.DefaultPeriod)
	env.boolean("RATE_LIMIT_FAIL_OPEN", &config.RateLimit.FailOpen)
	env.str("RATE_LIMIT_KEY_PREFIX", &config.RateLimit.KeyPrefix)
	env.list("RATE_LIMIT_ROUTE_TEMPLATES", &config.RateLimit.RouteTemplates)

	// Logging configuration
	env.str("LOG_LEVEL", &config.Logging.Level)
	env.str("LOG_FORMAT", &config.Logging.Format)
	env.str("LOG_OUTPUT", &config.Logging.Output)
	env.str("LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics and tracing configuration
	env.boolean("METRICS_ENABLED", &config.Metrics.Enabled)
	env.str("METRICS_PATH", &config.Metrics.Path)
	env.integer("METRICS_PORT", &config.Metrics.Port)
	env.boolean("TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	env.str("TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	env.str("OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
	env.float("TRACING_SAMPLE_RATE", &config.Observability.Tracing.SampleRate)

	return env.err
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()
	config.Security.Tokens.SecretKey = "change-me"
	config.Security.FirstUser = models.FirstUserConfig{
		Name:     "Admin",
		Email:    "admin@example.com",
		Username: "admin",
		Password: "change-me-too",
	}
	config.RateLimit.Tiers = []models.TierSeed{
		{
			Name: "free",
			Rules: []models.RuleSeed{
				{Path: "/api/v1/user/{username}", Limit: 10, Period: time.Hour},
			},
		},
		{
			Name: "pro",
			Rules: []models.RuleSeed{
				{Path: "/api/v1/user/{username}", Limit: 1000, Period: time.Hour},
				{Path: "/api/v1/tiers", Limit: 100, Period: time.Minute},
			},
		},
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
