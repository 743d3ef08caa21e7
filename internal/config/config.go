package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv = "RECEIPTS_CONFIG"

	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"

	maxExtractionAttempts = 10
)

type Config struct {
	Port          string
	DatabasePath  string
	LogLevel      string
	PublicBaseURL string

	// S3
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3BucketName      string
	S3UseSSL          bool

	// Model provider
	AIProvider        string
	GeminiAPIKey      string
	GeminiModel       string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterBaseURL string

	Extraction ExtractionConfig

	PersistTimeout time.Duration

	// Upload limits
	MaxFileSize int64

	RateLimitRPS   float64
	RateLimitBurst int
	// TrustedProxies are addresses or CIDR ranges allowed to set
	// X-Forwarded-For. Empty means the peer address is always used.
	TrustedProxies []string

	// EnvFileLoaded is true when a .env file was found and applied.
	EnvFileLoaded bool
}

// ExtractionConfig tunes the model call loop.
type ExtractionConfig struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	Temperature     float32
	MaxOutputTokens int32
}

// fileConfig is the optional YAML overlay named by RECEIPTS_CONFIG.
type fileConfig struct {
	Extraction struct {
		MaxAttempts     int      `yaml:"max_attempts"`
		BaseDelay       string   `yaml:"base_delay"`
		Temperature     *float32 `yaml:"temperature"`
		MaxOutputTokens int32    `yaml:"max_output_tokens"`
	} `yaml:"extraction"`
	PersistTimeout string `yaml:"persist_timeout"`
	MaxFileSize    int64  `yaml:"max_file_size"`
	RateLimit      struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	TrustedProxies []string `yaml:"trusted_proxies"`
	AI             struct {
		Provider string `yaml:"provider"`
		Model    string `yaml:"model"`
	} `yaml:"ai"`
}

func defaultConfig() *Config {
	return &Config{
		Port:              "8080",
		DatabasePath:      "data/receipts.db",
		LogLevel:          "info",
		S3Endpoint:        "localhost:9000",
		S3AccessKeyID:     "minioadmin",
		S3SecretAccessKey: "minioadmin",
		S3BucketName:      "receipts",
		AIProvider:        ProviderGemini,
		GeminiModel:       "gemini-2.0-flash",
		OpenRouterModel:   "openai/gpt-4o-mini",
		OpenRouterBaseURL: "https://openrouter.ai/api/v1",
		Extraction: ExtractionConfig{
			MaxAttempts:     3,
			BaseDelay:       time.Second,
			Temperature:     0.1,
			MaxOutputTokens: 4096,
		},
		PersistTimeout: 10 * time.Second,
		MaxFileSize:    10 * 1024 * 1024,
		RateLimitRPS:   1,
		RateLimitBurst: 10,
	}
}

// Load builds the configuration from defaults, the optional YAML overlay and
// the environment, in increasing order of precedence. A missing API key is
// not an error; the first model call reports it.
func Load() (*Config, error) {
	cfg := defaultConfig()
	cfg.EnvFileLoaded = godotenv.Load() == nil

	if path := os.Getenv(configPathEnv); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.Extraction.MaxAttempts != 0 {
		c.Extraction.MaxAttempts = fc.Extraction.MaxAttempts
	}
	if fc.Extraction.BaseDelay != "" {
		d, err := time.ParseDuration(fc.Extraction.BaseDelay)
		if err != nil {
			return fmt.Errorf("config file extraction.base_delay: %w", err)
		}
		c.Extraction.BaseDelay = d
	}
	if fc.Extraction.Temperature != nil {
		c.Extraction.Temperature = *fc.Extraction.Temperature
	}
	if fc.Extraction.MaxOutputTokens != 0 {
		c.Extraction.MaxOutputTokens = fc.Extraction.MaxOutputTokens
	}
	if fc.PersistTimeout != "" {
		d, err := time.ParseDuration(fc.PersistTimeout)
		if err != nil {
			return fmt.Errorf("config file persist_timeout: %w", err)
		}
		c.PersistTimeout = d
	}
	if fc.MaxFileSize != 0 {
		c.MaxFileSize = fc.MaxFileSize
	}
	if fc.RateLimit.RPS != 0 {
		c.RateLimitRPS = fc.RateLimit.RPS
	}
	if fc.RateLimit.Burst != 0 {
		c.RateLimitBurst = fc.RateLimit.Burst
	}
	if len(fc.TrustedProxies) > 0 {
		c.TrustedProxies = fc.TrustedProxies
	}
	if fc.AI.Provider != "" {
		c.AIProvider = fc.AI.Provider
	}
	if fc.AI.Model != "" {
		c.GeminiModel = fc.AI.Model
		c.OpenRouterModel = fc.AI.Model
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.DatabasePath = getEnv("DATABASE_PATH", c.DatabasePath)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.PublicBaseURL = strings.TrimRight(getEnv("PUBLIC_BASE_URL", c.PublicBaseURL), "/")

	c.S3Endpoint = getEnv("S3_ENDPOINT", c.S3Endpoint)
	c.S3AccessKeyID = getEnv("S3_ACCESS_KEY_ID", c.S3AccessKeyID)
	c.S3SecretAccessKey = getEnv("S3_SECRET_ACCESS_KEY", c.S3SecretAccessKey)
	c.S3BucketName = getEnv("S3_BUCKET_NAME", c.S3BucketName)
	c.S3UseSSL = getEnv("S3_USE_SSL", strconv.FormatBool(c.S3UseSSL)) == "true"

	c.AIProvider = strings.ToLower(getEnv("AI_PROVIDER", c.AIProvider))
	c.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.GeminiAPIKey)
	c.GeminiModel = getEnv("GEMINI_MODEL", c.GeminiModel)
	c.OpenRouterAPIKey = getEnv("OPENROUTER_API_KEY", c.OpenRouterAPIKey)
	c.OpenRouterModel = getEnv("OPENROUTER_MODEL", c.OpenRouterModel)
	c.OpenRouterBaseURL = strings.TrimRight(getEnv("OPENROUTER_BASE_URL", c.OpenRouterBaseURL), "/")

	var err error
	if c.Extraction.MaxAttempts, err = getEnvAsInt("EXTRACTION_MAX_ATTEMPTS", c.Extraction.MaxAttempts); err != nil {
		return err
	}
	if c.Extraction.BaseDelay, err = getEnvAsDuration("EXTRACTION_BASE_DELAY", c.Extraction.BaseDelay); err != nil {
		return err
	}
	temperature, err := getEnvAsFloat("EXTRACTION_TEMPERATURE", float64(c.Extraction.Temperature))
	if err != nil {
		return err
	}
	c.Extraction.Temperature = float32(temperature)
	maxTokens, err := getEnvAsInt("EXTRACTION_MAX_OUTPUT_TOKENS", int(c.Extraction.MaxOutputTokens))
	if err != nil {
		return err
	}
	c.Extraction.MaxOutputTokens = int32(maxTokens)

	if c.PersistTimeout, err = getEnvAsDuration("PERSIST_TIMEOUT", c.PersistTimeout); err != nil {
		return err
	}
	maxSize, err := getEnvAsInt("MAX_FILE_SIZE", int(c.MaxFileSize))
	if err != nil {
		return err
	}
	c.MaxFileSize = int64(maxSize)
	if c.RateLimitRPS, err = getEnvAsFloat("RATE_LIMIT_RPS", c.RateLimitRPS); err != nil {
		return err
	}
	if c.RateLimitBurst, err = getEnvAsInt("RATE_LIMIT_BURST", c.RateLimitBurst); err != nil {
		return err
	}
	if proxies := os.Getenv("TRUSTED_PROXIES"); proxies != "" {
		c.TrustedProxies = strings.Split(proxies, ",")
	}
	return nil
}

func (c *Config) validate() error {
	switch c.AIProvider {
	case ProviderGemini, ProviderOpenRouter:
	default:
		return fmt.Errorf("AI_PROVIDER must be %q or %q, got %q", ProviderGemini, ProviderOpenRouter, c.AIProvider)
	}
	if c.Extraction.MaxAttempts < 1 || c.Extraction.MaxAttempts > maxExtractionAttempts {
		return fmt.Errorf("EXTRACTION_MAX_ATTEMPTS must be between 1 and %d", maxExtractionAttempts)
	}
	if c.Extraction.BaseDelay < 0 {
		return fmt.Errorf("EXTRACTION_BASE_DELAY must not be negative")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}

// ModelAPIKey returns the key of the selected provider.
func (c *Config) ModelAPIKey() string {
	if c.AIProvider == ProviderOpenRouter {
		return c.OpenRouterAPIKey
	}
	return c.GeminiAPIKey
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvAsFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return f, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration such as 1s: %w", key, err)
	}
	return d, nil
}
