package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full archiver configuration. The zero value is not usable;
// start from defaults() via Load.
type Config struct {
	BaseURL    string          `yaml:"base_url"`
	DailyLimit int             `yaml:"daily_limit"`
	Database   DatabaseConfig  `yaml:"database"`
	Logging    LoggingConfig   `yaml:"logging"`
	Archiving  ArchivingConfig `yaml:"archiving"`
	Keywords   KeywordsConfig  `yaml:"keywords"`
	Parallel   ParallelConfig  `yaml:"parallel"`
	Batch      BatchConfig     `yaml:"batch"`
	Server     ServerConfig    `yaml:"server"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ArchivingConfig controls the outbound request budget and the save/retry
// protocol. Delays are in seconds to keep the file format close to the
// operator's existing configs.
type ArchivingConfig struct {
	RateLimitDelay    float64 `yaml:"rate_limit_delay"`
	MaxBurst          int     `yaml:"max_burst"`
	Timeout           int     `yaml:"timeout"`
	MaxRetries        int     `yaml:"max_retries"`
	RetryDelay        int     `yaml:"retry_delay"`
	WaybackFirstIndex bool    `yaml:"wayback_first_index"`
}

// RateLimitInterval returns the time to regenerate one request token.
func (a ArchivingConfig) RateLimitInterval() time.Duration {
	return time.Duration(a.RateLimitDelay * float64(time.Second))
}

// RequestTimeout returns the per-request deadline.
func (a ArchivingConfig) RequestTimeout() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}

// RetryInterval returns the pause between timeout retries.
func (a ArchivingConfig) RetryInterval() time.Duration {
	return time.Duration(a.RetryDelay) * time.Second
}

type KeywordsConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Terms           []string `yaml:"terms"`
	CaseSensitive   bool     `yaml:"case_sensitive"`
	SearchContent   bool     `yaml:"search_content"`
	ParallelWorkers int      `yaml:"parallel_workers"`
	WaybackFirst    bool     `yaml:"wayback_first"`
}

type ParallelConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxWorkers int  `yaml:"max_workers"`
}

type BatchConfig struct {
	Size         int `yaml:"size"`
	PauseSeconds int `yaml:"pause_seconds"`
	DailyLimit   int `yaml:"daily_limit"`
	TimeoutHours int `yaml:"timeout_hours"`
}

type ServerConfig struct {
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

func defaults() Config {
	return Config{
		BaseURL:    "http://www.mingpaocanada.com/tor",
		DailyLimit: 500,
		Database: DatabaseConfig{
			Path: "hkga_archive.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Archiving: ArchivingConfig{
			RateLimitDelay: 3.0,
			MaxBurst:       1,
			Timeout:        30,
			MaxRetries:     3,
			RetryDelay:     10,
		},
		Keywords: KeywordsConfig{
			ParallelWorkers: 2,
			WaybackFirst:    true,
		},
		Parallel: ParallelConfig{
			MaxWorkers: 2,
		},
		Batch: BatchConfig{
			Size:         100,
			PauseSeconds: 30,
			DailyLimit:   2000,
			TimeoutHours: 24,
		},
		Server: ServerConfig{
			Port: 4600,
		},
	}
}

// Load reads configuration from the YAML file at path (if it exists), then
// applies MINGPAO_* environment overrides, then validates. A missing file is
// not an error; defaults apply.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Fall through to env + defaults.
		case err != nil:
			return Config{}, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MINGPAO_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("MINGPAO_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("MINGPAO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MINGPAO_RATE_LIMIT_DELAY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Archiving.RateLimitDelay = f
		}
	}
	if v := os.Getenv("MINGPAO_DAILY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DailyLimit = n
		}
	}
	if v := os.Getenv("MINGPAO_KEYWORDS"); v != "" {
		terms := strings.Split(v, ",")
		for i := range terms {
			terms[i] = strings.TrimSpace(terms[i])
		}
		cfg.Keywords.Enabled = true
		cfg.Keywords.Terms = terms
	}
	if v := os.Getenv("MINGPAO_SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("MINGPAO_API_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
}

// Validate checks value ranges. Bounds follow the operator's long-standing
// limits: the archive tolerates at most one request every couple of seconds
// sustained, and retry budgets beyond ten have never helped.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url must not be empty")
	}
	if d := c.Archiving.RateLimitDelay; d <= 0 || d > 60 {
		return fmt.Errorf("archiving.rate_limit_delay must be in (0, 60], got %v", d)
	}
	if c.Archiving.MaxBurst < 1 {
		return fmt.Errorf("archiving.max_burst must be >= 1, got %d", c.Archiving.MaxBurst)
	}
	if t := c.Archiving.Timeout; t <= 0 || t > 300 {
		return fmt.Errorf("archiving.timeout must be in (0, 300] seconds, got %d", t)
	}
	if r := c.Archiving.MaxRetries; r < 0 || r > 10 {
		return fmt.Errorf("archiving.max_retries must be in [0, 10], got %d", r)
	}
	if r := c.Archiving.RetryDelay; r <= 0 || r > 60 {
		return fmt.Errorf("archiving.retry_delay must be in (0, 60] seconds, got %d", r)
	}
	if c.DailyLimit < 1 {
		return fmt.Errorf("daily_limit must be >= 1, got %d", c.DailyLimit)
	}
	if c.Keywords.Enabled && len(c.Keywords.Terms) == 0 {
		return fmt.Errorf("keywords.terms must not be empty when keywords are enabled")
	}
	if w := c.Keywords.ParallelWorkers; w < 1 || w > 10 {
		return fmt.Errorf("keywords.parallel_workers must be in [1, 10], got %d", w)
	}
	if w := c.Parallel.MaxWorkers; w < 1 || w > 20 {
		return fmt.Errorf("parallel.max_workers must be in [1, 20], got %d", w)
	}
	if c.Batch.Size < 1 {
		return fmt.Errorf("batch.size must be >= 1, got %d", c.Batch.Size)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level)
	}
	return nil
}
