package sqltmpl

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// ErrConfigValidation is returned when configuration validation fails
var ErrConfigValidation = errors.New("configuration validation failed")

// Config represents the sqltmpl configuration
type Config struct {
	Dialect   string              `yaml:"dialect"`
	Databases map[string]Database `yaml:"databases"`
	Query     QueryConfig         `yaml:"query"`
	Cache     CacheConfig         `yaml:"cache"`
	Logging   LoggingConfig       `yaml:"logging"`
}

// Database represents database connection configuration
type Database struct {
	Driver     string `yaml:"driver"`
	Connection string `yaml:"connection"`
	Dialect    string `yaml:"dialect"` // overrides Config.Dialect; "any" detects from the connection
}

// QueryConfig represents query execution settings
type QueryConfig struct {
	Timeout      int   `yaml:"timeout"`
	PageSize     int64 `yaml:"page_size"`
	Persistent   *bool `yaml:"persistent"` // nil means true
	StripOrderBy bool  `yaml:"strip_order_by"`
}

// IsPersistent returns true unless persistent: false is set
func (q QueryConfig) IsPersistent() bool {
	return q.Persistent == nil || *q.Persistent
}

// CacheConfig represents compiled template cache settings
type CacheConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

// LoggingConfig represents query logging settings
type LoggingConfig struct {
	Enabled            bool          `yaml:"enabled"`
	IncludeStack       bool          `yaml:"include_stack"`
	Explain            string        `yaml:"explain"` // "", "plan" or "analyze"
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
}

// LoadConfig loads configuration from the specified file
func LoadConfig(configPath string) (*Config, error) {
	// Load .env files first
	err := loadEnvFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to load environment files: %w", err)
	}

	_, err = os.Stat(configPath)
	if os.IsNotExist(err) {
		config := getDefaultConfig()
		expandConfigEnvVars(config)

		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Strict mode rejects unknown keys
	var config Config

	err = yaml.UnmarshalWithOptions(data, &config, yaml.Strict())
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	applyDefaults(&config)
	expandConfigEnvVars(&config)

	return &config, nil
}

// DatabaseDialect returns the dialect configured for the named database,
// falling back to the global dialect.
func (c *Config) DatabaseDialect(name string) (Dialect, error) {
	raw := c.Dialect
	if db, ok := c.Databases[name]; ok && db.Dialect != "" {
		raw = db.Dialect
	}

	return ParseDialect(raw)
}

// validateConfig validates the configuration for common errors and inconsistencies
func validateConfig(config *Config) error {
	if config.Dialect != "" {
		if _, err := ParseDialect(config.Dialect); err != nil {
			return fmt.Errorf("%w: invalid dialect '%s': must be one of postgres, mysql, mariadb, sqlite, any", ErrConfigValidation, config.Dialect)
		}
	}

	for name, db := range config.Databases {
		if db.Connection == "" {
			return fmt.Errorf("%w: databases.%s.connection is required", ErrConfigValidation, name)
		}

		if db.Dialect != "" {
			if _, err := ParseDialect(db.Dialect); err != nil {
				return fmt.Errorf("%w: databases.%s.dialect '%s' is invalid", ErrConfigValidation, name, db.Dialect)
			}
		}
	}

	if config.Query.Timeout < 0 {
		return fmt.Errorf("%w: query.timeout must be non-negative, got %d", ErrConfigValidation, config.Query.Timeout)
	}

	if config.Query.PageSize < 0 {
		return fmt.Errorf("%w: query.page_size must be non-negative, got %d", ErrConfigValidation, config.Query.PageSize)
	}

	if config.Cache.Size < 0 {
		return fmt.Errorf("%w: cache.size must be non-negative, got %d", ErrConfigValidation, config.Cache.Size)
	}

	if config.Cache.TTL < 0 {
		return fmt.Errorf("%w: cache.ttl must be >= 0, got %s", ErrConfigValidation, config.Cache.TTL)
	}

	switch config.Logging.Explain {
	case "", "plan", "analyze":
	default:
		return fmt.Errorf("%w: logging.explain '%s' is invalid: must be one of plan, analyze", ErrConfigValidation, config.Logging.Explain)
	}

	if config.Logging.SlowQueryThreshold < 0 {
		return fmt.Errorf("%w: logging.slow_query_threshold must be >= 0, got %s", ErrConfigValidation, config.Logging.SlowQueryThreshold)
	}

	return nil
}

// getDefaultConfig returns the default configuration
func getDefaultConfig() *Config {
	return &Config{
		Dialect:   "postgres",
		Databases: make(map[string]Database),
		Query: QueryConfig{
			Timeout:  30,
			PageSize: 20,
		},
		Cache: CacheConfig{
			Size: 128,
			TTL:  10 * time.Minute,
		},
	}
}

// applyDefaults fills zero values with defaults
func applyDefaults(config *Config) {
	defaults := getDefaultConfig()

	if config.Dialect == "" {
		config.Dialect = defaults.Dialect
	}

	if config.Databases == nil {
		config.Databases = make(map[string]Database)
	}

	if config.Query.Timeout == 0 {
		config.Query.Timeout = defaults.Query.Timeout
	}

	if config.Query.PageSize == 0 {
		config.Query.PageSize = defaults.Query.PageSize
	}

	if config.Cache.Size == 0 {
		config.Cache.Size = defaults.Cache.Size
	}

	if config.Cache.TTL == 0 {
		config.Cache.TTL = defaults.Cache.TTL
	}
}

// loadEnvFiles loads .env files if they exist
func loadEnvFiles() error {
	if fileExists(".env") {
		err := godotenv.Load(".env")
		if err != nil {
			return fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	return nil
}

var (
	bracedEnvPattern = regexp.MustCompile(`\$\{([^}]+)\}`)
	bareEnvPattern   = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// expandEnvVars expands environment variables in the format ${VAR} or $VAR
func expandEnvVars(s string) string {
	s = bracedEnvPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})

	return bareEnvPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[1:])
	})
}

// expandConfigEnvVars expands environment variables in database settings
func expandConfigEnvVars(config *Config) {
	for name, db := range config.Databases {
		db.Connection = expandEnvVars(db.Connection)
		db.Driver = expandEnvVars(db.Driver)
		db.Dialect = expandEnvVars(db.Dialect)
		config.Databases[name] = db
	}
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
