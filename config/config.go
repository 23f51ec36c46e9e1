// ABOUTME: Configuration for rolodex: file at XDG config path plus environment overrides
// ABOUTME: Covers storage paths, the LLM classifier, Google OAuth, Redis and sync settings
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/goccy/go-json"
)

const (
	// AppName names the XDG directories.
	AppName = "rolodex"

	// ConfigFileName is the file under the XDG config directory.
	ConfigFileName = "config.json"
)

// Config holds every runtime setting.
type Config struct {
	// OwnerID scopes all contacts and sync state.
	OwnerID string `json:"owner_id,omitempty"`

	DatabasePath string `json:"database_path,omitempty"`
	TokenDir     string `json:"token_dir,omitempty"`

	LogLevel  string `json:"log_level,omitempty"`
	LogFormat string `json:"log_format,omitempty"`

	// OpenAI compatible endpoint. An empty key disables the model classifier.
	OpenAIAPIKey     string        `json:"openai_api_key,omitempty"`
	OpenAIBaseURL    string        `json:"openai_base_url,omitempty"`
	LLMModel         string        `json:"llm_model,omitempty"`
	LLMTimeout       time.Duration `json:"llm_timeout,omitempty"`
	LLMMaxInputChars int           `json:"llm_max_input_chars,omitempty"`

	// Memo of model classifications per sender.
	ClassificationTTL      time.Duration `json:"classification_ttl,omitempty"`
	ClassificationMaxItems int           `json:"classification_max_items,omitempty"`

	GoogleClientID     string `json:"google_client_id,omitempty"`
	GoogleClientSecret string `json:"google_client_secret,omitempty"`
	GoogleRedirectURL  string `json:"google_redirect_url,omitempty"`

	// RedisURL enables the cross-process sync lock when set.
	RedisURL     string        `json:"redis_url,omitempty"`
	SyncLeaseTTL time.Duration `json:"sync_lease_ttl,omitempty"`

	BatchConcurrency int `json:"batch_concurrency,omitempty"`
}

// Default returns a config with defaults for every field.
func Default() *Config {
	return &Config{
		OwnerID:                defaultOwner(),
		DatabasePath:           filepath.Join(xdg.DataHome, AppName, AppName+".db"),
		TokenDir:               filepath.Join(xdg.DataHome, AppName, "tokens"),
		LogLevel:               "info",
		LogFormat:              "console",
		LLMModel:               "gpt-4o-mini",
		LLMTimeout:             15 * time.Second,
		LLMMaxInputChars:       2000,
		ClassificationTTL:      24 * time.Hour,
		ClassificationMaxItems: 10000,
		GoogleRedirectURL:      "http://localhost:8080/oauth/callback",
		SyncLeaseTTL:           10 * time.Minute,
		BatchConcurrency:       4,
	}
}

func defaultOwner() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "default"
}

// DefaultPath returns the XDG config file path.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, ConfigFileName)
}

// Load reads path (DefaultPath when empty), fills missing fields with
// defaults and applies environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		var fromFile Config
		if err := json.Unmarshal(data, &fromFile); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		cfg.merge(&fromFile)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// merge copies the non-zero fields of other onto c.
func (c *Config) merge(other *Config) {
	setString(&c.OwnerID, other.OwnerID)
	setString(&c.DatabasePath, other.DatabasePath)
	setString(&c.TokenDir, other.TokenDir)
	setString(&c.LogLevel, other.LogLevel)
	setString(&c.LogFormat, other.LogFormat)
	setString(&c.OpenAIAPIKey, other.OpenAIAPIKey)
	setString(&c.OpenAIBaseURL, other.OpenAIBaseURL)
	setString(&c.LLMModel, other.LLMModel)
	setString(&c.GoogleClientID, other.GoogleClientID)
	setString(&c.GoogleClientSecret, other.GoogleClientSecret)
	setString(&c.GoogleRedirectURL, other.GoogleRedirectURL)
	setString(&c.RedisURL, other.RedisURL)
	if other.LLMTimeout > 0 {
		c.LLMTimeout = other.LLMTimeout
	}
	if other.LLMMaxInputChars > 0 {
		c.LLMMaxInputChars = other.LLMMaxInputChars
	}
	if other.ClassificationTTL > 0 {
		c.ClassificationTTL = other.ClassificationTTL
	}
	if other.ClassificationMaxItems > 0 {
		c.ClassificationMaxItems = other.ClassificationMaxItems
	}
	if other.SyncLeaseTTL > 0 {
		c.SyncLeaseTTL = other.SyncLeaseTTL
	}
	if other.BatchConcurrency > 0 {
		c.BatchConcurrency = other.BatchConcurrency
	}
}

func (c *Config) applyEnv() error {
	setString(&c.OwnerID, os.Getenv("ROLODEX_OWNER"))
	setString(&c.DatabasePath, os.Getenv("ROLODEX_DB_PATH"))
	setString(&c.TokenDir, os.Getenv("ROLODEX_TOKEN_DIR"))
	setString(&c.LogLevel, os.Getenv("ROLODEX_LOG_LEVEL"))
	setString(&c.LogFormat, os.Getenv("ROLODEX_LOG_FORMAT"))
	setString(&c.OpenAIAPIKey, os.Getenv("OPENAI_API_KEY"))
	setString(&c.OpenAIBaseURL, os.Getenv("OPENAI_BASE_URL"))
	setString(&c.LLMModel, os.Getenv("ROLODEX_LLM_MODEL"))
	setString(&c.GoogleClientID, os.Getenv("GOOGLE_CLIENT_ID"))
	setString(&c.GoogleClientSecret, os.Getenv("GOOGLE_CLIENT_SECRET"))
	setString(&c.GoogleRedirectURL, os.Getenv("GOOGLE_REDIRECT_URL"))
	setString(&c.RedisURL, os.Getenv("REDIS_URL"))

	var err error
	if c.LLMTimeout, err = envDuration("ROLODEX_LLM_TIMEOUT", c.LLMTimeout); err != nil {
		return err
	}
	if c.ClassificationTTL, err = envDuration("ROLODEX_CLASSIFICATION_TTL", c.ClassificationTTL); err != nil {
		return err
	}
	if c.SyncLeaseTTL, err = envDuration("ROLODEX_SYNC_LEASE_TTL", c.SyncLeaseTTL); err != nil {
		return err
	}
	if c.BatchConcurrency, err = envInt("ROLODEX_BATCH_CONCURRENCY", c.BatchConcurrency); err != nil {
		return err
	}
	return nil
}

// Save writes the config file with owner-only permissions.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// AIEnabled reports whether the model classifier can be used.
func (c *Config) AIEnabled() bool {
	return c.OpenAIAPIKey != ""
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
