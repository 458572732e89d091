// Package config loads settings from defaults, an optional YAML file, .env and
// UNSUBSCAN_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"unsubscan/internal/gmail"
)

type Config struct {
	ConfigDir string       `mapstructure:"config_dir"`
	DBPath    string       `mapstructure:"db_path"`
	UserEmail string       `mapstructure:"user_email"`
	Log       LogConfig    `mapstructure:"log"`
	Gmail     GmailConfig  `mapstructure:"gmail"`
	Server    ServerConfig `mapstructure:"server"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type GmailConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	BatchURL    string        `mapstructure:"batch_url"`
	PageSize    int           `mapstructure:"page_size"`
	BatchSize   int           `mapstructure:"batch_size"`
	Concurrency int           `mapstructure:"concurrency"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	MaxJitter   time.Duration `mapstructure:"max_jitter"`
}

type ServerConfig struct {
	Addr        string        `mapstructure:"addr"`
	ScanTimeout time.Duration `mapstructure:"scan_timeout"`
}

// Options converts the gmail section into client options.
func (g GmailConfig) Options() gmail.Options {
	return gmail.Options{
		BaseURL:     g.BaseURL,
		BatchURL:    g.BatchURL,
		PageSize:    g.PageSize,
		BatchSize:   g.BatchSize,
		Concurrency: g.Concurrency,
		MaxAttempts: g.MaxAttempts,
		BackoffBase: g.BackoffBase,
		MaxJitter:   g.MaxJitter,
	}
}

func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".unsubscan"
	}
	return filepath.Join(home, ".config", "unsubscan")
}

func setDefaults(v *viper.Viper) {
	d := gmail.DefaultOptions()

	v.SetDefault("config_dir", DefaultConfigDir())
	v.SetDefault("db_path", "")
	v.SetDefault("user_email", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("gmail.base_url", d.BaseURL)
	v.SetDefault("gmail.batch_url", d.BatchURL)
	v.SetDefault("gmail.page_size", d.PageSize)
	v.SetDefault("gmail.batch_size", d.BatchSize)
	v.SetDefault("gmail.concurrency", d.Concurrency)
	v.SetDefault("gmail.max_attempts", d.MaxAttempts)
	v.SetDefault("gmail.backoff_base", d.BackoffBase)
	v.SetDefault("gmail.max_jitter", d.MaxJitter)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.scan_timeout", 5*time.Minute)
}

// Load reads configuration. An empty path means <config_dir>/config.yaml,
// which may be absent; an explicit path must exist.
func Load(path string) (Config, error) {
	var cfg Config

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("UNSUBSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	explicit := path != ""
	if !explicit {
		path = filepath.Join(v.GetString("config_dir"), "config.yaml")
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
		if explicit || !missing {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.ConfigDir, "unsubscan.db")
	}
	return cfg, Validate(cfg)
}

func Validate(cfg Config) error {
	g := cfg.Gmail
	switch {
	case cfg.ConfigDir == "":
		return fmt.Errorf("config_dir is required")
	case g.PageSize <= 0:
		return fmt.Errorf("gmail.page_size must be positive")
	case g.BatchSize <= 0 || g.BatchSize > gmail.MaxBatchSize:
		return fmt.Errorf("gmail.batch_size must be between 1 and %d", gmail.MaxBatchSize)
	case g.Concurrency <= 0:
		return fmt.Errorf("gmail.concurrency must be positive")
	case g.MaxAttempts <= 0 || g.MaxAttempts > gmail.MaxAttemptsLimit:
		return fmt.Errorf("gmail.max_attempts must be between 1 and %d", gmail.MaxAttemptsLimit)
	case g.BackoffBase < 0 || g.MaxJitter < 0:
		return fmt.Errorf("gmail.backoff_base and gmail.max_jitter must not be negative")
	case cfg.Server.ScanTimeout <= 0:
		return fmt.Errorf("server.scan_timeout must be positive")
	}
	return nil
}
