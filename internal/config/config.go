package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig              `json:"server"`
	Database   DatabaseConfig            `json:"database"`
	Delegate   DelegateConfig            `json:"delegate"`
	Limits     LimitsConfig              `json:"limits"`
	Models     map[string]ModelConfig    `json:"models"`
	Pricing    map[string]PricingConfig  `json:"pricing"`
	Strategies map[string]StrategyConfig `json:"strategies"`

	DefaultModel    string `json:"default_model"`
	DefaultStrategy string `json:"default_strategy"`

	// MinCacheableTokens is the smallest content block worth a cache
	// breakpoint.
	MinCacheableTokens int `json:"min_cacheable_tokens"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslmode"`
	// Enabled gates usage-record persistence; the governor runs fully
	// in memory when false.
	Enabled bool `json:"enabled"`
}

type DelegateConfig struct {
	APIKey         string `json:"api_key,omitempty"`
	BaseURL        string `json:"base_url,omitempty"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type LimitsConfig struct {
	RequestsPerMinute     int     `json:"requests_per_minute"`
	InputTokensPerMinute  int     `json:"input_tokens_per_minute"`
	OutputTokensPerMinute int     `json:"output_tokens_per_minute"`
	SafetyMargin          float64 `json:"safety_margin"`
}

type ModelConfig struct {
	MaxContextTokens int `json:"max_context_tokens"`
	MaxOutputTokens  int `json:"max_output_tokens"`
}

type PricingConfig struct {
	InputRate            float64 `json:"input_rate"`
	OutputRate           float64 `json:"output_rate"`
	CacheWriteMultiplier float64 `json:"cache_write_multiplier"`
	CacheReadMultiplier  float64 `json:"cache_read_multiplier"`
}

type StrategyConfig struct {
	ThresholdPercent float64 `json:"threshold_percent"`
	PreserveRecent   int     `json:"preserve_recent"`
	TargetClass      string  `json:"target_class"`
	CacheCutoffTurns int     `json:"cache_cutoff_turns"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	// Add config paths
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Check for user config directory
	homeDir, err := os.UserHomeDir()
	if err == nil {
		viper.AddConfigPath(filepath.Join(homeDir, ".contextgate"))
	}

	// Set defaults
	viper.SetDefault("server.port", 3000)
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "contextgate")
	viper.SetDefault("database.database", "contextgate")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.enabled", false)
	viper.SetDefault("delegate.model", "gpt-4o-mini")
	viper.SetDefault("delegate.timeout_seconds", 30)
	viper.SetDefault("limits.requests_per_minute", 60)
	viper.SetDefault("limits.input_tokens_per_minute", 200000)
	viper.SetDefault("limits.output_tokens_per_minute", 80000)
	viper.SetDefault("limits.safety_margin", 0.9)
	viper.SetDefault("default_model", "gpt-4o-mini")
	viper.SetDefault("default_strategy", "balanced")
	viper.SetDefault("min_cacheable_tokens", 1024)

	// Read config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Create default config
			return createDefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	// Load environment variables
	loadEnvOverrides(&cfg)

	return &cfg, nil
}

func createDefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 3000,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "contextgate",
			Database: "contextgate",
			SSLMode:  "disable",
		},
		Delegate: DelegateConfig{
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 30,
		},
		Limits: LimitsConfig{
			RequestsPerMinute:     60,
			InputTokensPerMinute:  200000,
			OutputTokensPerMinute: 80000,
			SafetyMargin:          0.9,
		},
		DefaultModel:       "gpt-4o-mini",
		DefaultStrategy:    "balanced",
		MinCacheableTokens: 1024,
	}
	applyDefaults(cfg)
	loadEnvOverrides(cfg)
	return cfg
}

// applyDefaults fills the model and pricing tables when the config
// file omits them. Strategies left empty fall back to the built-in
// registry.
func applyDefaults(cfg *Config) {
	if len(cfg.Models) == 0 {
		cfg.Models = map[string]ModelConfig{
			"gpt-4o":        {MaxContextTokens: 128000, MaxOutputTokens: 4096},
			"gpt-4o-mini":   {MaxContextTokens: 128000, MaxOutputTokens: 4096},
			"claude-sonnet": {MaxContextTokens: 200000, MaxOutputTokens: 8192},
		}
	}
	if len(cfg.Pricing) == 0 {
		cfg.Pricing = map[string]PricingConfig{
			"gpt-4o":        {InputRate: 2.50, OutputRate: 10.00, CacheWriteMultiplier: 1.25, CacheReadMultiplier: 0.50},
			"gpt-4o-mini":   {InputRate: 0.15, OutputRate: 0.60, CacheWriteMultiplier: 1.25, CacheReadMultiplier: 0.50},
			"claude-sonnet": {InputRate: 3.00, OutputRate: 15.00, CacheWriteMultiplier: 1.25, CacheReadMultiplier: 0.10},
		}
	}
	if cfg.MinCacheableTokens <= 0 {
		cfg.MinCacheableTokens = 1024
	}
	if cfg.Limits.SafetyMargin <= 0 {
		cfg.Limits.SafetyMargin = 0.9
	}
	if cfg.Delegate.TimeoutSeconds <= 0 {
		cfg.Delegate.TimeoutSeconds = 30
	}
}

func loadEnvOverrides(cfg *Config) {
	// Override with environment variables
	if host := os.Getenv("CONTEXTGATE_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("CONTEXTGATE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	// Database overrides
	if dbHost := os.Getenv("POSTGRES_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
		cfg.Database.Enabled = true
	}
	if dbPort := os.Getenv("POSTGRES_PORT"); dbPort != "" {
		if port, err := strconv.Atoi(dbPort); err == nil {
			cfg.Database.Port = port
		}
	}
	if dbUser := os.Getenv("POSTGRES_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPass := os.Getenv("POSTGRES_PASSWORD"); dbPass != "" {
		cfg.Database.Password = dbPass
	}
	if dbName := os.Getenv("POSTGRES_DB"); dbName != "" {
		cfg.Database.Database = dbName
	}

	// Delegate overrides
	if key := os.Getenv("CONTEXTGATE_API_KEY"); key != "" {
		cfg.Delegate.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Delegate.APIKey == "" {
		cfg.Delegate.APIKey = key
	}
	if url := os.Getenv("CONTEXTGATE_BASE_URL"); url != "" {
		cfg.Delegate.BaseURL = url
	}
}
