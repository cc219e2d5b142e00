// Package config loads application configuration from an optional
// config.yaml and LAUNDROLYZER_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Firecrawl  FirecrawlConfig  `yaml:"firecrawl" mapstructure:"firecrawl"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Scrape     ScrapeConfig     `yaml:"scrape" mapstructure:"scrape"`
	Analysis   AnalysisConfig   `yaml:"analysis" mapstructure:"analysis"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	URL    string `yaml:"url" mapstructure:"url"`
}

// FirecrawlConfig holds Firecrawl API settings.
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// OpenAIConfig holds OpenAI API settings and the assistant IDs used for
// scoring and recommendations.
type OpenAIConfig struct {
	Key                       string `yaml:"key" mapstructure:"key"`
	BaseURL                   string `yaml:"base_url" mapstructure:"base_url"`
	BusinessScoreAssistantID  string `yaml:"business_score_assistant_id" mapstructure:"business_score_assistant_id"`
	RecommendationAssistantID string `yaml:"recommendation_assistant_id" mapstructure:"recommendation_assistant_id"`
	PollIntervalSecs          int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	MaxPollAttempts           int    `yaml:"max_poll_attempts" mapstructure:"max_poll_attempts"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// ScrapeConfig bounds extraction submissions.
type ScrapeConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	Burst             int `yaml:"burst" mapstructure:"burst"`
}

// AnalysisConfig configures analysis behavior.
type AnalysisConfig struct {
	DemographicsTimeoutSecs int `yaml:"demographics_timeout_secs" mapstructure:"demographics_timeout_secs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LAUNDROLYZER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.url", "laundrolyzer.db")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("openai.poll_interval_secs", 1)
	v.SetDefault("openai.max_poll_attempts", 30)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("scrape.requests_per_minute", 30)
	v.SetDefault("scrape.burst", 3)
	v.SetDefault("analysis.demographics_timeout_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks structural settings for the given mode ("serve" or
// "analyze"). Provider API keys are deliberately not required here: a
// missing key disables only the endpoints that need it.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "redis", "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not one of redis, sqlite, postgres", c.Store.Driver))
	}
	if c.Store.Driver != "sqlite" && c.Store.URL == "" {
		problems = append(problems, "store.url is required for driver "+c.Store.Driver)
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0 and <= 65535")
		}
	case "analyze":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Scrape.RequestsPerMinute < 1 {
		problems = append(problems, "scrape.requests_per_minute must be >= 1")
	}
	if c.OpenAI.MaxPollAttempts < 1 {
		problems = append(problems, "openai.max_poll_attempts must be >= 1")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
