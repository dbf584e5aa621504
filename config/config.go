package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Research  ResearchConfig  `mapstructure:"research"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug             bool          `mapstructure:"debug"`
	LogLevel          string        `mapstructure:"log_level"`
	MaxProcessingTime time.Duration `mapstructure:"max_processing_time"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address     string   `mapstructure:"address"`
	JWTSecret   string   `mapstructure:"jwt_secret"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai, local, etc.
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model to use for different pipeline stages
type LLMRoutingConfig struct {
	Classification string `mapstructure:"classification"` // query complexity judgment
	Planning       string `mapstructure:"planning"`       // sub-question decomposition
	Synthesis      string `mapstructure:"synthesis"`      // answer synthesis + gap analysis
	Fallback       string `mapstructure:"fallback"`
}

// SearchConfig contains web search provider settings
type SearchConfig struct {
	Provider      string             `mapstructure:"provider"` // serper or brave
	SerperAPIKey  string             `mapstructure:"serper_api_key"`
	BraveAPIKey   string             `mapstructure:"brave_api_key"`
	MaxResults    int                `mapstructure:"max_results"`
	Timeout       time.Duration      `mapstructure:"timeout"`
	BaseModel     string             `mapstructure:"base_model"`     // search model for simple/moderate queries
	AdvancedModel string             `mapstructure:"advanced_model"` // search model for complex queries
	CostPerQuery  map[string]float64 `mapstructure:"cost_per_query"` // USD per search, keyed by model
}

// ResearchConfig contains pipeline tuning knobs
type ResearchConfig struct {
	MaxParallelSearches  int           `mapstructure:"max_parallel_searches"`
	MaxRounds            int           `mapstructure:"max_rounds"`
	MaxCost              float64       `mapstructure:"max_cost"` // default session budget ceiling, USD
	ConfidenceCutoff     float64       `mapstructure:"confidence_cutoff"`
	UseLLMClassification bool          `mapstructure:"use_llm_classification"`
	StreamDelay          time.Duration `mapstructure:"stream_delay"` // smoothing delay between progress events
	ModerateSubQuestions int           `mapstructure:"moderate_sub_questions"`
	ComplexSubQuestions  int           `mapstructure:"complex_sub_questions"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	LogFile      string `mapstructure:"log_file"`
	CostTracking bool   `mapstructure:"cost_tracking"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DSN builds a connection string, preferring the explicit URL when set.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode)
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	viper.SetConfigName("deepscout_config")
	viper.SetConfigType("json")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("DEEPSCOUT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Config file is optional - defaults cover local development
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// General defaults
	viper.SetDefault("general.debug", false)
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.max_processing_time", "10m")
	viper.SetDefault("general.default_timeout", "30s")

	// Server defaults
	viper.SetDefault("server.address", ":10001")
	viper.SetDefault("server.cors_origins", []string{"*"})

	// LLM defaults
	viper.SetDefault("llm.routing.classification", "gpt-5-nano")
	viper.SetDefault("llm.routing.planning", "gpt-5")
	viper.SetDefault("llm.routing.synthesis", "gpt-5")
	viper.SetDefault("llm.routing.fallback", "gpt-5-nano")

	// Search defaults
	viper.SetDefault("search.provider", "serper")
	viper.SetDefault("search.max_results", 10)
	viper.SetDefault("search.timeout", "30s")
	viper.SetDefault("search.base_model", "standard")
	viper.SetDefault("search.advanced_model", "deep")
	viper.SetDefault("search.cost_per_query", map[string]float64{
		"standard": 0.005,
		"deep":     0.025,
	})

	// Research defaults
	viper.SetDefault("research.max_parallel_searches", 5)
	viper.SetDefault("research.max_rounds", 2)
	viper.SetDefault("research.max_cost", 1.0)
	viper.SetDefault("research.confidence_cutoff", 0.7)
	viper.SetDefault("research.use_llm_classification", true)
	viper.SetDefault("research.stream_delay", "50ms")
	viper.SetDefault("research.moderate_sub_questions", 3)
	viper.SetDefault("research.complex_sub_questions", 5)

	// Telemetry defaults
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.metrics_port", 9090)
	viper.SetDefault("telemetry.cost_tracking", true)

	// Storage defaults
	viper.SetDefault("storage.postgres.host", "")
	viper.SetDefault("storage.postgres.port", 5432)
	viper.SetDefault("storage.postgres.sslmode", "disable")
	viper.SetDefault("storage.postgres.timeout", "5s")
	viper.SetDefault("storage.redis.host", "localhost")
	viper.SetDefault("storage.redis.port", 6379)
	viper.SetDefault("storage.redis.db", 0)
	viper.SetDefault("storage.redis.timeout", "5s")
}

// overrideFromEnv overrides configuration with environment variables
func overrideFromEnv() {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		viper.Set("llm.providers.openai.api_key", apiKey)
	}
	if apiKey := os.Getenv("SERPER_API_KEY"); apiKey != "" {
		viper.Set("search.serper_api_key", apiKey)
	}
	if apiKey := os.Getenv("BRAVE_SEARCH_KEY"); apiKey != "" {
		viper.Set("search.brave_api_key", apiKey)
	}
	if secret := os.Getenv("DEEPSCOUT_JWT_SECRET"); secret != "" {
		viper.Set("server.jwt_secret", secret)
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		viper.Set("storage.postgres.url", url)
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		viper.Set("storage.postgres.host", host)
	}
	if port := os.Getenv("POSTGRES_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("storage.postgres.port", p)
		}
	}
	if user := os.Getenv("POSTGRES_USER"); user != "" {
		viper.Set("storage.postgres.user", user)
	}
	if pass := os.Getenv("POSTGRES_PASSWORD"); pass != "" {
		viper.Set("storage.postgres.password", pass)
	}
	if db := os.Getenv("POSTGRES_DB"); db != "" {
		viper.Set("storage.postgres.dbname", db)
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		viper.Set("storage.redis.host", host)
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("storage.redis.port", p)
		}
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		viper.Set("storage.redis.password", password)
	}
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if len(config.LLM.Providers) == 0 {
		return fmt.Errorf("at least one LLM provider must be configured")
	}

	routingModels := []string{
		config.LLM.Routing.Classification,
		config.LLM.Routing.Planning,
		config.LLM.Routing.Synthesis,
		config.LLM.Routing.Fallback,
	}

	for _, model := range routingModels {
		if model == "" {
			continue
		}
		found := false
		for _, provider := range config.LLM.Providers {
			for _, providerModel := range provider.Models {
				if providerModel.Name == model {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return fmt.Errorf("routing model '%s' not found in any provider", model)
		}
	}

	if config.Research.MaxParallelSearches < 1 {
		return fmt.Errorf("research.max_parallel_searches must be at least 1")
	}
	if config.Research.MaxRounds < 1 {
		return fmt.Errorf("research.max_rounds must be at least 1")
	}

	return nil
}
