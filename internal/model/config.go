package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AccountConfig holds the mailbox connection settings. The password is
// never stored here; it lives in the system keyring.
type AccountConfig struct {
	// Username is the IMAP/SMTP login, usually the email address.
	Username string `mapstructure:"username" yaml:"username"`

	IMAPHost string `mapstructure:"imap_host" yaml:"imap_host"`
	IMAPPort string `mapstructure:"imap_port" yaml:"imap_port"`
	SMTPHost string `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort string `mapstructure:"smtp_port" yaml:"smtp_port"`

	// TLS selects implicit TLS; false means STARTTLS.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	// Mailbox names used for inbox, trash and spam moves.
	Inbox string `mapstructure:"inbox" yaml:"inbox"`
	Trash string `mapstructure:"trash" yaml:"trash"`
	Junk  string `mapstructure:"junk" yaml:"junk"`

	// RequestsPerSecond paces IMAP commands.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// BufferConfig controls the triage window.
type BufferConfig struct {
	WindowSize       int `mapstructure:"window_size" yaml:"window_size"`
	TriggerThreshold int `mapstructure:"trigger_threshold" yaml:"trigger_threshold"`
	BatchSize        int `mapstructure:"batch_size" yaml:"batch_size"`
	GroupThreshold   int `mapstructure:"group_threshold" yaml:"group_threshold"`

	// SkipProtected drops personal and transactional items before they
	// reach the window.
	SkipProtected bool `mapstructure:"skip_protected" yaml:"skip_protected"`
}

// UndoConfig controls the undo window and eviction sweep.
type UndoConfig struct {
	WindowSec        int `mapstructure:"window_sec" yaml:"window_sec"`
	SweepIntervalSec int `mapstructure:"sweep_interval_sec" yaml:"sweep_interval_sec"`
}

// Window returns the undo window as a duration.
func (c UndoConfig) Window() time.Duration {
	return time.Duration(c.WindowSec) * time.Second
}

// UnsubscribeConfig tunes the HTTP unsubscribe stage.
type UnsubscribeConfig struct {
	TimeoutMS      int `mapstructure:"timeout_ms" yaml:"timeout_ms"`
	RetryBackoffMS int `mapstructure:"retry_backoff_ms" yaml:"retry_backoff_ms"`
}

// LoggingConfig selects the log output, format and level.
type LoggingConfig struct {
	// Output is "stderr", "stdout" or a file path.
	Output string `mapstructure:"output" yaml:"output"`
	// Format is "console" or "json".
	Format string `mapstructure:"format" yaml:"format"`
	Level  string `mapstructure:"level" yaml:"level"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address for /metrics; empty disables the endpoint.
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Account     AccountConfig     `mapstructure:"account" yaml:"account"`
	Buffer      BufferConfig      `mapstructure:"buffer" yaml:"buffer"`
	Undo        UndoConfig        `mapstructure:"undo" yaml:"undo"`
	Unsubscribe UnsubscribeConfig `mapstructure:"unsubscribe" yaml:"unsubscribe"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
}

// DefaultConfigDir returns ~/.config/inbox-sweep.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "inbox-sweep")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/inbox-sweep/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultAppConfig returns a sensible default configuration.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Account: AccountConfig{
			IMAPPort:          "993",
			SMTPPort:          "465",
			TLS:               true,
			Inbox:             "INBOX",
			Trash:             "Trash",
			Junk:              "Junk",
			RequestsPerSecond: 5,
		},
		Buffer: BufferConfig{
			WindowSize:       30,
			TriggerThreshold: 10,
			BatchSize:        50,
			GroupThreshold:   5,
		},
		Undo: UndoConfig{
			WindowSec:        30,
			SweepIntervalSec: 60,
		},
		Unsubscribe: UnsubscribeConfig{
			TimeoutMS:      3000,
			RetryBackoffMS: 500,
		},
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Store: StoreConfig{
			Path: filepath.Join(DefaultConfigDir(), "sweep.db"),
		},
	}
}

// envReplacer maps nested keys to environment names (account.username ->
// SWEEP_ACCOUNT_USERNAME).
var envReplacer = strings.NewReplacer(".", "_")

func setDefaults(v *viper.Viper, def *AppConfig) {
	// Keys without a useful default are still registered so that
	// AutomaticEnv can resolve them during Unmarshal.
	v.SetDefault("account.username", "")
	v.SetDefault("account.imap_host", "")
	v.SetDefault("account.smtp_host", "")
	v.SetDefault("metrics.listen", "")
	v.SetDefault("account.imap_port", def.Account.IMAPPort)
	v.SetDefault("account.smtp_port", def.Account.SMTPPort)
	v.SetDefault("account.tls", def.Account.TLS)
	v.SetDefault("account.inbox", def.Account.Inbox)
	v.SetDefault("account.trash", def.Account.Trash)
	v.SetDefault("account.junk", def.Account.Junk)
	v.SetDefault("account.requests_per_second", def.Account.RequestsPerSecond)
	v.SetDefault("buffer.window_size", def.Buffer.WindowSize)
	v.SetDefault("buffer.trigger_threshold", def.Buffer.TriggerThreshold)
	v.SetDefault("buffer.batch_size", def.Buffer.BatchSize)
	v.SetDefault("buffer.group_threshold", def.Buffer.GroupThreshold)
	v.SetDefault("buffer.skip_protected", def.Buffer.SkipProtected)
	v.SetDefault("undo.window_sec", def.Undo.WindowSec)
	v.SetDefault("undo.sweep_interval_sec", def.Undo.SweepIntervalSec)
	v.SetDefault("unsubscribe.timeout_ms", def.Unsubscribe.TimeoutMS)
	v.SetDefault("unsubscribe.retry_backoff_ms", def.Unsubscribe.RetryBackoffMS)
	v.SetDefault("logging.output", def.Logging.Output)
	v.SetDefault("logging.format", def.Logging.Format)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("store.path", def.Store.Path)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Environment variables prefixed with SWEEP_ override file values
// (SWEEP_ACCOUNT_USERNAME, ...). If the file does not exist, defaults are
// returned.
func LoadConfig(path string) (*AppConfig, error) {
	def := DefaultAppConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("sweep")
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()
	setDefaults(v, def)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := DefaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *AppConfig) Validate() error {
	b := c.Buffer
	if b.WindowSize < 1 {
		return fmt.Errorf("buffer.window_size must be positive, got %d", b.WindowSize)
	}
	if b.TriggerThreshold < 0 || b.TriggerThreshold >= b.WindowSize {
		return fmt.Errorf(
			"buffer.trigger_threshold must be in [0, window_size), got %d",
			b.TriggerThreshold,
		)
	}
	if b.BatchSize < 1 {
		return fmt.Errorf("buffer.batch_size must be positive, got %d", b.BatchSize)
	}
	if b.GroupThreshold < 2 {
		return fmt.Errorf("buffer.group_threshold must be at least 2, got %d", b.GroupThreshold)
	}
	if c.Undo.WindowSec < 1 {
		return fmt.Errorf("undo.window_sec must be positive, got %d", c.Undo.WindowSec)
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("account", cfg.Account)
	v.Set("buffer", cfg.Buffer)
	v.Set("undo", cfg.Undo)
	v.Set("unsubscribe", cfg.Unsubscribe)
	v.Set("logging", cfg.Logging)
	v.Set("metrics", cfg.Metrics)
	v.Set("store", cfg.Store)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
