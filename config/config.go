// Package config provides configuration management for oaistream.
//
// Configuration is resolved in layers: built-in defaults, an optional .env
// file, an optional YAML file whose string values may reference environment
// variables as ${VAR} or ${VAR:-default}, and finally environment variable
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultBaseURL is the upstream API base URL.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultMockPort is the port the mock upstream listens on.
	DefaultMockPort = "8089"
)

// Cache backends.
const (
	CacheTypeNone  = "none"
	CacheTypeLocal = "local"
	CacheTypeRedis = "redis"
)

// Config holds the application configuration
type Config struct {
	OpenAI  OpenAIConfig  `yaml:"openai"`
	HTTP    HTTPConfig    `yaml:"http"`
	Retry   RetryConfig   `yaml:"retry"`
	Logging LogConfig     `yaml:"logging"`
	Cache   CacheConfig   `yaml:"cache"`
	Metrics MetricsConfig `yaml:"metrics"`
	Mock    MockConfig    `yaml:"mock"`
}

// OpenAIConfig holds upstream API configuration
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// HTTPConfig holds HTTP client timeouts in seconds.
// Timeout bounds one-shot requests only; streams are bounded by
// ResponseHeaderTimeout until the first byte and then run until done.
type HTTPConfig struct {
	Timeout               int `yaml:"timeout"`
	ResponseHeaderTimeout int `yaml:"response_header_timeout"`
}

// RetryConfig configures retries and circuit breaking of one-shot requests.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings. A zero
// FailureThreshold disables the breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // auto, text, json
}

// CacheConfig holds model-list cache configuration
type CacheConfig struct {
	Type  string           `yaml:"type"` // none, local, redis
	TTL   int              `yaml:"ttl"`  // seconds a cached listing is served
	Local LocalCacheConfig `yaml:"local"`
	Redis RedisCacheConfig `yaml:"redis"`
}

// LocalCacheConfig holds the file cache location
type LocalCacheConfig struct {
	Path string `yaml:"path"`
}

// RedisCacheConfig holds Redis cache configuration
type RedisCacheConfig struct {
	URL string `yaml:"url"`
	Key string `yaml:"key"`
	TTL int    `yaml:"ttl"` // seconds Redis keeps an entry
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Endpoint string `yaml:"endpoint"`
}

// MockConfig holds mock upstream configuration
type MockConfig struct {
	Port       string `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	Scenario   string `yaml:"scenario"`
	ChunkDelay int    `yaml:"chunk_delay_ms"`
}

// LoadResult is the outcome of Load.
type LoadResult struct {
	Config *Config

	// Path is the YAML file that was read, empty when none was found.
	Path string
}

// searchPaths are tried in order when Load is called without a path.
var searchPaths = []string{"config.yaml", "config/config.yaml"}

// Load resolves the configuration. An empty configPath searches the default
// locations; a non-empty one must exist.
func Load(configPath string) (*LoadResult, error) {
	cfg := buildDefaultConfig()

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	file, err := findConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", file, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &LoadResult{Config: cfg, Path: file}, nil
}

func buildDefaultConfig() *Config {
	return &Config{
		OpenAI: OpenAIConfig{
			BaseURL: DefaultBaseURL,
		},
		HTTP: HTTPConfig{
			Timeout:               600,
			ResponseHeaderTimeout: 600,
		},
		Retry: RetryConfig{
			MaxRetries:     3,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			BackoffFactor:  2.0,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Cache: CacheConfig{
			Type: CacheTypeLocal,
			TTL:  3600,
			Local: LocalCacheConfig{
				Path: ".cache",
			},
			Redis: RedisCacheConfig{
				Key: "oaistream:models",
				TTL: 86400,
			},
		},
		Metrics: MetricsConfig{
			Address:  ":9090",
			Endpoint: "/metrics",
		},
		Mock: MockConfig{
			Port:     DefaultMockPort,
			Scenario: "normal",
		},
	}
}

// loadDotEnv loads name into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadDotEnv(name string) error {
	if _, err := os.Stat(name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", name, err)
	}
	if err := godotenv.Load(name); err != nil {
		return fmt.Errorf("failed to load %s: %w", name, err)
	}
	return nil
}

func findConfigFile(configPath string) (string, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return "", fmt.Errorf("config file %s: %w", configPath, err)
		}
		return configPath, nil
	}
	for _, candidate := range searchPaths {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

// decodeYAML expands environment references in every scalar, then decodes
// the document over cfg so that absent keys keep their defaults.
func decodeYAML(data []byte, cfg *Config) error {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return err
	}
	if root.Kind == 0 {
		return nil
	}
	expandNode(&root)
	return root.Decode(cfg)
}

func expandNode(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode {
		expanded := expandString(n.Value)
		if expanded != n.Value {
			// Re-resolve the tag so "${PORT:-8080}" can fill an int field.
			n.Value = expanded
			n.Tag = ""
			n.Style = 0
		}
		return
	}
	for _, child := range n.Content {
		expandNode(child)
	}
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default} references. A reference
// to an unset or empty variable without a default is left untouched.
func expandString(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRefPattern.FindStringSubmatch(ref)
		name, hasDefault, def := m[1], m[2] != "", m[3]
		if val := os.Getenv(name); val != "" {
			return val
		}
		if hasDefault {
			return def
		}
		return ref
	})
}

// applyEnvOverrides applies environment variables on top of cfg.
func applyEnvOverrides(cfg *Config) error {
	envString("OPENAI_API_KEY", &cfg.OpenAI.APIKey)
	envString("OPENAI_BASE_URL", &cfg.OpenAI.BaseURL)
	envString("LOG_LEVEL", &cfg.Logging.Level)
	envString("LOG_FORMAT", &cfg.Logging.Format)
	envString("CACHE_TYPE", &cfg.Cache.Type)
	envString("CACHE_LOCAL_PATH", &cfg.Cache.Local.Path)
	envString("REDIS_URL", &cfg.Cache.Redis.URL)
	envString("REDIS_KEY", &cfg.Cache.Redis.Key)
	envString("METRICS_ADDRESS", &cfg.Metrics.Address)
	envString("METRICS_ENDPOINT", &cfg.Metrics.Endpoint)
	envString("MOCK_PORT", &cfg.Mock.Port)
	envString("MOCK_API_KEY", &cfg.Mock.APIKey)
	envString("MOCK_SCENARIO", &cfg.Mock.Scenario)

	return errors.Join(
		envSeconds("HTTP_TIMEOUT", &cfg.HTTP.Timeout),
		envSeconds("HTTP_RESPONSE_HEADER_TIMEOUT", &cfg.HTTP.ResponseHeaderTimeout),
		envSeconds("CACHE_TTL", &cfg.Cache.TTL),
		envSeconds("REDIS_TTL", &cfg.Cache.Redis.TTL),
		envInt("MAX_RETRIES", &cfg.Retry.MaxRetries),
		envInt("MOCK_CHUNK_DELAY_MS", &cfg.Mock.ChunkDelay),
		envBool("METRICS_ENABLED", &cfg.Metrics.Enabled),
	)
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envInt(key string, dst *int) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("invalid %s %q: expected an integer", key, val)
	}
	*dst = n
	return nil
}

// envSeconds accepts plain integers (seconds) or Go duration strings.
func envSeconds(key string, dst *int) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	if n, err := strconv.Atoi(val); err == nil {
		*dst = n
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("invalid %s %q: expected seconds or a duration", key, val)
	}
	*dst = int(d / time.Second)
	return nil
}

func envBool(key string, dst *bool) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("invalid %s %q: expected a boolean", key, val)
	}
	*dst = b
	return nil
}

// Validate checks the configuration and normalizes the metrics endpoint.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.OpenAI.BaseURL) == "" {
		errs = append(errs, errors.New("openai.base_url must not be empty"))
	}
	if c.HTTP.Timeout < 0 || c.HTTP.ResponseHeaderTimeout < 0 {
		errs = append(errs, errors.New("http timeouts must not be negative"))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid logging.level %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid logging.format %q: expected auto, text or json", c.Logging.Format))
	}

	switch c.Cache.Type {
	case "", CacheTypeNone, CacheTypeLocal:
	case CacheTypeRedis:
		if c.Cache.Redis.URL == "" {
			errs = append(errs, errors.New("cache.redis.url is required when cache.type is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid cache.type %q: expected none, local or redis", c.Cache.Type))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, errors.New("cache.ttl must not be negative"))
	}

	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = "/metrics"
	}
	c.Metrics.Endpoint = path.Clean("/" + c.Metrics.Endpoint)

	if c.Mock.ChunkDelay < 0 {
		errs = append(errs, errors.New("mock.chunk_delay_ms must not be negative"))
	}
	if _, err := strconv.Atoi(c.Mock.Port); err != nil {
		errs = append(errs, fmt.Errorf("invalid mock.port %q", c.Mock.Port))
	}

	return errors.Join(errs...)
}
