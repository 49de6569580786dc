// Package config loads the scout configuration from scout-config.json
// (searched in $HOME and the working directory) with SCOUT_* environment
// variables taking precedence over file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the agent core.
type Config struct {
	// DataDir is the per-user root under which every project directory lives.
	DataDir string `mapstructure:"data_dir" json:"data_dir"`

	LLM       LLMConfig       `mapstructure:"llm" json:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding" json:"embedding"`
	Agent     AgentConfig     `mapstructure:"agent" json:"agent"`
	Vector    VectorConfig    `mapstructure:"vector" json:"vector"`
	Evolve    EvolveConfig    `mapstructure:"evolve" json:"evolve"`
	Server    ServerConfig    `mapstructure:"server" json:"server"`
}

// LLMConfig configures the model gateway.
type LLMConfig struct {
	BaseURLs       []string      `mapstructure:"base_urls" json:"base_urls"`
	Model          string        `mapstructure:"model" json:"model"`
	APIKey         string        `mapstructure:"api_key" json:"api_key"`
	MaxTokens      int           `mapstructure:"max_tokens" json:"max_tokens"`
	Temperature    float64       `mapstructure:"temperature" json:"temperature"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries" json:"max_retries"`
}

// EmbeddingConfig configures the embedding client.
type EmbeddingConfig struct {
	BaseURL   string `mapstructure:"base_url" json:"base_url"`
	Model     string `mapstructure:"model" json:"model"`
	APIKey    string `mapstructure:"api_key" json:"api_key"`
	Dimension int    `mapstructure:"dimension" json:"dimension"`
	CacheSize int    `mapstructure:"cache_size" json:"cache_size"`
}

// AgentConfig configures the reason-act loop.
type AgentConfig struct {
	MaxIterations     int           `mapstructure:"max_iterations" json:"max_iterations"`
	TokenBudget       int           `mapstructure:"token_budget" json:"token_budget"`
	CompactRetention  int           `mapstructure:"compact_retention" json:"compact_retention"`
	ToolConcurrency   int           `mapstructure:"tool_concurrency" json:"tool_concurrency"`
	RemoteToolTimeout time.Duration `mapstructure:"remote_tool_timeout" json:"remote_tool_timeout"`
	SubTaskResultMax  int           `mapstructure:"subtask_result_max_tokens" json:"subtask_result_max_tokens"`
}

// VectorConfig configures the tiered vector store.
type VectorConfig struct {
	L1MaxBytes     int64   `mapstructure:"l1_max_bytes" json:"l1_max_bytes"`
	ScoreThreshold float64 `mapstructure:"score_threshold" json:"score_threshold"`
}

// EvolveConfig configures the self-evolution loop and its guard.
type EvolveConfig struct {
	Enabled              bool          `mapstructure:"enabled" json:"enabled"`
	Interval             time.Duration `mapstructure:"interval" json:"interval"`
	QuestionsPerCycle    int           `mapstructure:"questions_per_cycle" json:"questions_per_cycle"`
	MaxDailyQuestions    int           `mapstructure:"max_daily_questions" json:"max_daily_questions"`
	DuplicateThreshold   float64       `mapstructure:"duplicate_threshold" json:"duplicate_threshold"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors" json:"max_consecutive_errors"`
	BaseBackoff          time.Duration `mapstructure:"base_backoff" json:"base_backoff"`
	MaxBackoff           time.Duration `mapstructure:"max_backoff" json:"max_backoff"`
}

// ServerConfig configures the channel server.
type ServerConfig struct {
	Host       string `mapstructure:"host" json:"host"`
	Port       int    `mapstructure:"port" json:"port"`
	EnableCORS bool   `mapstructure:"enable_cors" json:"enable_cors"`
	Debug      bool   `mapstructure:"debug" json:"debug"`
}

// Default returns the built-in configuration values.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir: filepath.Join(home, ".scout"),
		LLM: LLMConfig{
			BaseURLs:       []string{"https://api.openai.com/v1"},
			Model:          "gpt-4o",
			MaxTokens:      4096,
			Temperature:    0.2,
			RequestTimeout: 120 * time.Second,
			MaxRetries:     3,
		},
		Embedding: EmbeddingConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			CacheSize: 10000,
		},
		Agent: AgentConfig{
			MaxIterations:     50,
			TokenBudget:       96000,
			CompactRetention:  6,
			ToolConcurrency:   4,
			RemoteToolTimeout: 60 * time.Second,
			SubTaskResultMax:  2000,
		},
		Vector: VectorConfig{
			L1MaxBytes:     32 << 20,
			ScoreThreshold: 0.3,
		},
		Evolve: EvolveConfig{
			Enabled:              false,
			Interval:             10 * time.Minute,
			QuestionsPerCycle:    5,
			MaxDailyQuestions:    50,
			DuplicateThreshold:   0.85,
			MaxConsecutiveErrors: 3,
			BaseBackoff:          30 * time.Second,
			MaxBackoff:           30 * time.Minute,
		},
		Server: ServerConfig{
			Host:       "localhost",
			Port:       8420,
			EnableCORS: true,
		},
	}
}

// Load reads scout-config.json and applies SCOUT_* environment overrides.
// A missing config file is not an error; defaults apply.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("scout-config")
	v.SetConfigType("json")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a component.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if len(c.LLM.BaseURLs) == 0 {
		return fmt.Errorf("llm.base_urls must list at least one endpoint")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive")
	}
	if c.Evolve.DuplicateThreshold <= 0 || c.Evolve.DuplicateThreshold > 1 {
		return fmt.Errorf("evolve.duplicate_threshold must be in (0,1]")
	}
	if c.Vector.ScoreThreshold < 0 || c.Vector.ScoreThreshold > 1 {
		return fmt.Errorf("vector.score_threshold must be in [0,1]")
	}
	return nil
}

// ProjectDir returns the on-disk directory for one project key.
func (c Config) ProjectDir(projectKey string) string {
	return filepath.Join(c.DataDir, sanitizeKey(projectKey))
}

func sanitizeKey(key string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")
	cleaned := replacer.Replace(key)
	if cleaned == "" {
		cleaned = "default"
	}
	return cleaned
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("llm.base_urls", cfg.LLM.BaseURLs)
	v.SetDefault("llm.model", cfg.LLM.Model)
	v.SetDefault("llm.max_tokens", cfg.LLM.MaxTokens)
	v.SetDefault("llm.temperature", cfg.LLM.Temperature)
	v.SetDefault("llm.request_timeout", cfg.LLM.RequestTimeout)
	v.SetDefault("llm.max_retries", cfg.LLM.MaxRetries)
	v.SetDefault("embedding.base_url", cfg.Embedding.BaseURL)
	v.SetDefault("embedding.model", cfg.Embedding.Model)
	v.SetDefault("embedding.dimension", cfg.Embedding.Dimension)
	v.SetDefault("embedding.cache_size", cfg.Embedding.CacheSize)
	v.SetDefault("agent.max_iterations", cfg.Agent.MaxIterations)
	v.SetDefault("agent.token_budget", cfg.Agent.TokenBudget)
	v.SetDefault("agent.compact_retention", cfg.Agent.CompactRetention)
	v.SetDefault("agent.tool_concurrency", cfg.Agent.ToolConcurrency)
	v.SetDefault("agent.remote_tool_timeout", cfg.Agent.RemoteToolTimeout)
	v.SetDefault("agent.subtask_result_max_tokens", cfg.Agent.SubTaskResultMax)
	v.SetDefault("vector.l1_max_bytes", cfg.Vector.L1MaxBytes)
	v.SetDefault("vector.score_threshold", cfg.Vector.ScoreThreshold)
	v.SetDefault("evolve.enabled", cfg.Evolve.Enabled)
	v.SetDefault("evolve.interval", cfg.Evolve.Interval)
	v.SetDefault("evolve.questions_per_cycle", cfg.Evolve.QuestionsPerCycle)
	v.SetDefault("evolve.max_daily_questions", cfg.Evolve.MaxDailyQuestions)
	v.SetDefault("evolve.duplicate_threshold", cfg.Evolve.DuplicateThreshold)
	v.SetDefault("evolve.max_consecutive_errors", cfg.Evolve.MaxConsecutiveErrors)
	v.SetDefault("evolve.base_backoff", cfg.Evolve.BaseBackoff)
	v.SetDefault("evolve.max_backoff", cfg.Evolve.MaxBackoff)
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.enable_cors", cfg.Server.EnableCORS)
	v.SetDefault("server.debug", cfg.Server.Debug)
}
