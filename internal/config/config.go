// Package config loads the server configuration from YAML with
// environment variable expansion.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Loop     LoopConfig     `yaml:"loop"`
	Tools    ToolsConfig    `yaml:"tools"`
	Cache    CacheConfig    `yaml:"cache"`
	Memory   MemoryConfig   `yaml:"memory"`
	RAG      RAGConfig      `yaml:"rag"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AuthConfig maps bearer tokens to user ids.
type AuthConfig struct {
	Tokens map[string]string `yaml:"tokens"`
}

type DatabaseConfig struct {
	// Path locates the SQLite database file. Empty uses in-memory
	// stores, which lose state on restart.
	Path string `yaml:"path"`
}

type LLMConfig struct {
	// Provider selects the backend: openai or anthropic.
	Provider  string                       `yaml:"provider"`
	Providers map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type LoopConfig struct {
	MaxRounds    int    `yaml:"max_rounds"`
	MaxTokens    int    `yaml:"max_tokens"`
	HistoryLimit int    `yaml:"history_limit"`
	SystemPrompt string `yaml:"system_prompt"`
}

type ToolsConfig struct {
	WebSearch WebSearchConfig `yaml:"websearch"`
	Shell     ShellConfig     `yaml:"shell"`

	// Timeout bounds each tool execution.
	Timeout time.Duration `yaml:"timeout"`
}

type WebSearchConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BraveAPIKey string `yaml:"brave_api_key"`
	Backend     string `yaml:"backend"`
}

type ShellConfig struct {
	Enabled bool   `yaml:"enabled"`
	WorkDir string `yaml:"work_dir"`
}

type CacheConfig struct {
	// TTL is the fixed lifetime of cached search results.
	TTL time.Duration `yaml:"ttl"`
}

type MemoryConfig struct {
	Enabled bool `yaml:"enabled"`
	Limit   int  `yaml:"limit"`
}

type RAGConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file, expanding ${VAR}
// references from the environment. An empty path yields defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.Loop.MaxRounds < 1 {
		return fmt.Errorf("loop max_rounds must be at least 1, got %d", c.Loop.MaxRounds)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.Loop.MaxRounds == 0 {
		cfg.Loop.MaxRounds = 8
	}
	if cfg.Loop.MaxTokens == 0 {
		cfg.Loop.MaxTokens = 4096
	}
	if cfg.Loop.HistoryLimit == 0 {
		cfg.Loop.HistoryLimit = 100
	}
	if cfg.Tools.Timeout == 0 {
		cfg.Tools.Timeout = 30 * time.Second
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 7 * 24 * time.Hour
	}
	if cfg.Memory.Limit == 0 {
		cfg.Memory.Limit = 5
	}
	if cfg.RAG.Timeout == 0 {
		cfg.RAG.Timeout = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
