// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (DMNCHAT_* or well-known names like GEMINI_API_KEY)
//  2. Config file (~/.dmnchat/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: generation model, temperature, output token limit
//   - Storage: PostgreSQL connection
//   - GitHub: API base URL and optional bearer token
//   - Indexing: chunk size/overlap, file filters, batch sizes
//   - Chat: history windows and retrieval depth per channel
//
// Sensitive values (passwords, tokens, API keys) are never logged.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation.
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max output tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidChunking indicates the chunk size/overlap combination is invalid.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidGitHubBaseURL indicates the GitHub API base URL is malformed.
	ErrInvalidGitHubBaseURL = errors.New("invalid GitHub base URL")

	// ErrInvalidHistoryLimit indicates a history window is out of range.
	ErrInvalidHistoryLimit = errors.New("invalid history limit")
)

// Defaults and bounds.
const (
	// DefaultModelName is the default generation model.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultChunkSize is the target chunk length in characters.
	DefaultChunkSize = 1500

	// DefaultChunkOverlap is the number of characters repeated between
	// adjacent chunks.
	DefaultChunkOverlap = 200

	// DefaultMinChunkLength discards near-empty fragments shorter than this.
	DefaultMinChunkLength = 100

	// DefaultMaxFileSize is the largest file the indexer will download (bytes).
	DefaultMaxFileSize = 500 * 1024

	// DefaultIndexBatchSize is the number of files fetched per indexing batch.
	DefaultIndexBatchSize = 10

	// DefaultHistoryLimit is the number of prior turns included in a text
	// chat prompt.
	DefaultHistoryLimit = 10

	// DefaultVoiceHistoryLimit is the (smaller) window for the voice channel.
	DefaultVoiceHistoryLimit = 6

	// MaxAllowedHistoryLimit caps history windows to keep prompts bounded.
	MaxAllowedHistoryLimit = 50
)

// Config stores application configuration.
type Config struct {
	// Generation
	ModelName       string  `mapstructure:"model_name"`
	Temperature     float32 `mapstructure:"temperature"`
	MaxOutputTokens int32   `mapstructure:"max_output_tokens"`
	GeminiAPIKey    string  `mapstructure:"gemini_api_key"`

	// GitHub source hosting
	GitHubBaseURL string `mapstructure:"github_base_url"`
	GitHubToken   string `mapstructure:"github_token"`

	// Indexing
	ChunkSize      int   `mapstructure:"chunk_size"`
	ChunkOverlap   int   `mapstructure:"chunk_overlap"`
	MinChunkLength int   `mapstructure:"min_chunk_length"`
	MaxFileSize    int64 `mapstructure:"max_file_size"`
	IndexBatchSize int   `mapstructure:"index_batch_size"`

	// Retrieval and chat
	RetrievalScanLimit int32 `mapstructure:"retrieval_scan_limit"`
	TopKText           int   `mapstructure:"top_k_text"`
	TopKVoice          int   `mapstructure:"top_k_voice"`
	HistoryLimit       int32 `mapstructure:"history_limit"`
	VoiceHistoryLimit  int32 `mapstructure:"voice_history_limit"`
	MaxMessageLength   int   `mapstructure:"max_message_length"`

	// PostgreSQL
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// HTTP server
	ServerAddr string `mapstructure:"server_addr"`

	// Logging
	LogJSON  bool   `mapstructure:"log_json"`
	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from file, environment, and defaults.
// Validation is applied immediately so callers fail fast on bad config.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".dmnchat")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env cover it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("model_name", DefaultModelName)
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_output_tokens", 2048)

	viper.SetDefault("github_base_url", "https://api.github.com")

	viper.SetDefault("chunk_size", DefaultChunkSize)
	viper.SetDefault("chunk_overlap", DefaultChunkOverlap)
	viper.SetDefault("min_chunk_length", DefaultMinChunkLength)
	viper.SetDefault("max_file_size", DefaultMaxFileSize)
	viper.SetDefault("index_batch_size", DefaultIndexBatchSize)

	viper.SetDefault("retrieval_scan_limit", 500)
	viper.SetDefault("top_k_text", 5)
	viper.SetDefault("top_k_voice", 3)
	viper.SetDefault("history_limit", DefaultHistoryLimit)
	viper.SetDefault("voice_history_limit", DefaultVoiceHistoryLimit)
	viper.SetDefault("max_message_length", 10000)

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "dmnchat")
	viper.SetDefault("postgres_password", "dmnchat_dev_password")
	viper.SetDefault("postgres_db_name", "dmnchat")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("server_addr", "127.0.0.1:3400")

	viper.SetDefault("log_json", false)
	viper.SetDefault("log_level", "info")
}

func bindEnvVariables() {
	viper.SetEnvPrefix("DMNCHAT")
	viper.AutomaticEnv()

	// Well-known names take priority over the DMNCHAT_ prefix.
	_ = viper.BindEnv("gemini_api_key", "GEMINI_API_KEY", "DMNCHAT_GEMINI_API_KEY")
	_ = viper.BindEnv("github_token", "GITHUB_TOKEN", "DMNCHAT_GITHUB_TOKEN")
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.PostgresUser),
		url.QueryEscape(c.PostgresPassword),
		c.PostgresHost, c.PostgresPort, c.PostgresDBName, c.PostgresSSLMode)
}

// Validate performs range checks on all configuration values.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %.2f (must be in [0,2])", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxOutputTokens <= 0 || c.MaxOutputTokens > 65536 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxTokens, c.MaxOutputTokens)
	}

	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: size=%d overlap=%d (overlap must be in [0,size))",
			ErrInvalidChunking, c.ChunkSize, c.ChunkOverlap)
	}
	if c.MinChunkLength < 0 || c.MinChunkLength > c.ChunkSize {
		return fmt.Errorf("%w: min_chunk_length=%d", ErrInvalidChunking, c.MinChunkLength)
	}

	if u, err := url.Parse(c.GitHubBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidGitHubBaseURL, c.GitHubBaseURL)
	}

	if c.HistoryLimit <= 0 || c.HistoryLimit > MaxAllowedHistoryLimit {
		return fmt.Errorf("%w: history_limit=%d", ErrInvalidHistoryLimit, c.HistoryLimit)
	}
	if c.VoiceHistoryLimit <= 0 || c.VoiceHistoryLimit > MaxAllowedHistoryLimit {
		return fmt.Errorf("%w: voice_history_limit=%d", ErrInvalidHistoryLimit, c.VoiceHistoryLimit)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}

	return nil
}

// ValidateGeneration checks the settings needed to call the generation
// service. Split from Validate so indexing-only commands can run without an
// API key.
func (c *Config) ValidateGeneration() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: set GEMINI_API_KEY", ErrMissingAPIKey)
	}
	return nil
}
