package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hochfrequenz/oa-pipeline/internal/batch"
	"github.com/hochfrequenz/oa-pipeline/internal/logger"
	"github.com/pelletier/go-toml/v2"
)

// LocalConfigName is the project-local config file looked up from the working directory upwards
const LocalConfigName = ".oa-pipeline.toml"

// APIKeyEnv overrides backend.api_key when set
const APIKeyEnv = "OA_PIPELINE_API_KEY"

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Backend       BackendConfig       `toml:"backend"`
	Queue         QueueConfig         `toml:"queue"`
	Logging       logger.Config       `toml:"logging"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
	Schedules     []batch.BatchConfig `toml:"schedule"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DatabasePath string `toml:"database_path"`
	PromptsDir   string `toml:"prompts_dir"`
	InboxDir     string `toml:"inbox_dir"`
}

// BackendConfig holds the generation and persistence endpoint settings
type BackendConfig struct {
	GenerateURL string   `toml:"generate_url"`
	PersistURL  string   `toml:"persist_url"`
	APIKey      string   `toml:"api_key"`
	Model       string   `toml:"model"`
	MaxTokens   int      `toml:"max_tokens"` // output ceiling for the screenshot solver
	Timeout     Duration `toml:"timeout"`
}

// QueueConfig holds the queue processor's retry policy
type QueueConfig struct {
	MaxRetries int      `toml:"max_retries"`
	RetryDelay Duration `toml:"retry_delay"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds control API settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// Duration is a time.Duration written as a string ("2s", "10m") in TOML
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DatabasePath: filepath.Join(home, ".oa-pipeline", "runs.db"),
			InboxDir:     filepath.Join(home, ".oa-pipeline", "inbox"),
		},
		Backend: BackendConfig{
			Model:     "gemini-3-pro-preview",
			MaxTokens: 64000,
			Timeout:   Duration(10 * time.Minute),
		},
		Queue: QueueConfig{
			MaxRetries: 2,
			RetryDelay: Duration(2 * time.Second),
		},
		Logging: logger.Config{
			Level: logger.DefaultLevel,
		},
		Notifications: NotificationsConfig{
			Desktop: false,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.PromptsDir = ExpandPath(cfg.General.PromptsDir)
	cfg.General.InboxDir = ExpandPath(cfg.General.InboxDir)

	if key := os.Getenv(APIKeyEnv); key != "" {
		cfg.Backend.APIKey = key
	}

	return cfg, nil
}

// LoadWithLocalFallback loads an explicit path when given, otherwise the
// nearest project-local config, otherwise the user config.
func LoadWithLocalFallback(explicitPath string) (*Config, error) {
	if explicitPath != "" {
		return Load(explicitPath)
	}
	if local := FindLocalConfig(); local != "" {
		return Load(local)
	}
	return Load(DefaultConfigPath())
}

// FindLocalConfig walks up from the working directory looking for LocalConfigName
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Validate reports settings the pipeline cannot run without
func (c *Config) Validate() error {
	var errs []error
	if c.Backend.GenerateURL == "" {
		errs = append(errs, errors.New("backend.generate_url is required"))
	}
	if c.Backend.PersistURL == "" {
		errs = append(errs, errors.New("backend.persist_url is required"))
	}
	if c.Queue.MaxRetries < 0 {
		errs = append(errs, errors.New("queue.max_retries must not be negative"))
	}
	for i := range c.Schedules {
		if err := c.Schedules[i].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("schedule %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Save writes the configuration as TOML, creating parent directories
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "oa-pipeline", "config.toml")
}
