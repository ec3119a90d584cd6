package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Rules  RulesConfig  `yaml:"rules" mapstructure:"rules"`
	Input  InputConfig  `yaml:"input" mapstructure:"input"`
	Output OutputConfig `yaml:"output" mapstructure:"output"`
	Batch  BatchConfig  `yaml:"batch" mapstructure:"batch"`
	Fetch  FetchConfig  `yaml:"fetch" mapstructure:"fetch"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RulesConfig points at an alternative classification rule table.
type RulesConfig struct {
	// Path is empty to use the embedded default table.
	Path string `yaml:"path" mapstructure:"path"`
}

// InputConfig locates the per-case source documents.
type InputConfig struct {
	Dir          string `yaml:"dir" mapstructure:"dir"`
	ResponseFile string `yaml:"response_file" mapstructure:"response_file"`
	FollowupFile string `yaml:"followup_file" mapstructure:"followup_file"`
}

// OutputConfig configures where reconciled records are written.
type OutputConfig struct {
	Dir    string `yaml:"dir" mapstructure:"dir"`
	Format string `yaml:"format" mapstructure:"format"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentCases int `yaml:"max_concurrent_cases" mapstructure:"max_concurrent_cases"`
}

// FetchConfig configures document downloads.
type FetchConfig struct {
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Concurrency       int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// Timeout returns TimeoutSecs as a duration.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSecs) * time.Second
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// FlagKeys maps command-line flag names to the config keys they override.
var FlagKeys = map[string]string{
	"rules":        "rules.path",
	"store":        "store.driver",
	"database-url": "store.database_url",
	"log-level":    "log.level",
	"log-format":   "log.format",
}

// Load reads config.yaml from the working directory and the environment.
func Load() (*Config, error) {
	return LoadWith("", nil)
}

// LoadWith is Load reading file instead of ./config.yaml when file is set.
// Flags named in FlagKeys that were set on the command line take precedence
// over the environment, which takes precedence over the file.
func LoadWith(file string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Config file
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("ECI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Flags
	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, eris.Wrapf(err, "config: bind flag %s", name)
				}
			}
		}
	}

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "eci-tracker.db")
	v.SetDefault("rules.path", "")
	v.SetDefault("input.dir", "input")
	v.SetDefault("input.response_file", "response.html")
	v.SetDefault("input.followup_file", "followup.html")
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.format", "json")
	v.SetDefault("batch.max_concurrent_cases", 8)
	v.SetDefault("fetch.user_agent", "eci-tracker/1.0")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.requests_per_second", 2.0)
	v.SetDefault("fetch.concurrency", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		// An explicit file must exist; the implicit ./config.yaml may not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || file != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. Modes are "batch", "fetch",
// "serve" and "store"; unknown modes are an error.
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	checkStore := func() {
		switch c.Store.Driver {
		case "sqlite", "postgres":
		default:
			add("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
		}
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required")
		}
		if c.Store.MinConns > 0 && c.Store.MaxConns > 0 && c.Store.MinConns > c.Store.MaxConns {
			add("store.min_conns (%d) exceeds store.max_conns (%d)", c.Store.MinConns, c.Store.MaxConns)
		}
	}

	switch mode {
	case "batch":
		checkStore()
		if c.Input.Dir == "" {
			add("input.dir is required")
		}
		if c.Input.ResponseFile == "" || c.Input.FollowupFile == "" {
			add("input.response_file and input.followup_file are required")
		}
		if c.Batch.MaxConcurrentCases < 1 || c.Batch.MaxConcurrentCases > 256 {
			add("batch.max_concurrent_cases must be between 1 and 256, got %d", c.Batch.MaxConcurrentCases)
		}
		switch strings.ToLower(c.Output.Format) {
		case "json", "csv", "xlsx":
		default:
			add("output.format must be json, csv or xlsx, got %q", c.Output.Format)
		}
	case "fetch":
		if c.Input.Dir == "" {
			add("input.dir is required")
		}
		if c.Fetch.TimeoutSecs <= 0 {
			add("fetch.timeout_secs must be positive")
		}
		if c.Fetch.MaxRetries < 0 {
			add("fetch.max_retries must not be negative")
		}
		if c.Fetch.RequestsPerSecond <= 0 {
			add("fetch.requests_per_second must be positive")
		}
	case "serve":
		checkStore()
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			add("server.port must be between 1 and 65535, got %d", c.Server.Port)
		}
	case "store":
		checkStore()
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
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
