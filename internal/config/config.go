// Package config loads the gateway configuration: defaults, then an optional
// YAML file, then GOVERNOR_* environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/krishna-kudari/governor"
)

// Key extractor names accepted in limit.key.
const (
	KeyPeerIP  = "peer_ip"
	KeySmartIP = "smart_ip"
	KeyBearer  = "bearer"
	KeyHeader  = "header"
	KeyGlobal  = "global"
)

// Config is the full gateway configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Limit   LimitConfig   `yaml:"limit"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Stats   StatsConfig   `yaml:"stats"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Upstream        string        `yaml:"upstream"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LimitConfig describes the quota and how requests are keyed.
// Either PerSecond or Period sets the replenishment rate; Period wins when both are set.
type LimitConfig struct {
	PerSecond     uint32        `yaml:"per_second"`
	Period        time.Duration `yaml:"period"`
	Burst         uint32        `yaml:"burst"`
	Key           string        `yaml:"key"`
	Header        string        `yaml:"header"`
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	UseHeaders    bool          `yaml:"use_headers"`
	ExcludePaths  []string      `yaml:"exclude_paths"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type StatsConfig struct {
	Enabled bool        `yaml:"enabled"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	Prefix    string        `yaml:"prefix"`
	TTL       time.Duration `yaml:"ttl"`
	TrackKeys bool          `yaml:"track_keys"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			Upstream:        "http://127.0.0.1:3000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Limit: LimitConfig{
			PerSecond:     2,
			Burst:         governor.DefaultBurst,
			Key:           KeySmartIP,
			IdleTTL:       10 * time.Minute,
			SweepInterval: time.Minute,
			UseHeaders:    true,
			ExcludePaths:  []string{"/healthz"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Stats: StatsConfig{
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "governor:stats",
				TTL:    24 * time.Hour,
			},
		},
	}
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadFromEnvironment(cfg); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// envOverride applies one variable when it is set.
type envOverride struct {
	name  string
	apply func(v string) error
}

func loadFromEnvironment(cfg *Config) error {
	overrides := []envOverride{
		{"GOVERNOR_HOST", setString(&cfg.Server.Host)},
		{"GOVERNOR_PORT", setInt(&cfg.Server.Port)},
		{"GOVERNOR_UPSTREAM", setString(&cfg.Server.Upstream)},
		{"GOVERNOR_READ_TIMEOUT", setDuration(&cfg.Server.ReadTimeout)},
		{"GOVERNOR_WRITE_TIMEOUT", setDuration(&cfg.Server.WriteTimeout)},
		{"GOVERNOR_SHUTDOWN_TIMEOUT", setDuration(&cfg.Server.ShutdownTimeout)},

		{"GOVERNOR_PER_SECOND", setUint32(&cfg.Limit.PerSecond)},
		{"GOVERNOR_PERIOD", setDuration(&cfg.Limit.Period)},
		{"GOVERNOR_BURST", setUint32(&cfg.Limit.Burst)},
		{"GOVERNOR_KEY", setString(&cfg.Limit.Key)},
		{"GOVERNOR_KEY_HEADER", setString(&cfg.Limit.Header)},
		{"GOVERNOR_IDLE_TTL", setDuration(&cfg.Limit.IdleTTL)},
		{"GOVERNOR_USE_HEADERS", setBool(&cfg.Limit.UseHeaders)},

		{"GOVERNOR_LOG_LEVEL", setString(&cfg.Logging.Level)},
		{"GOVERNOR_LOG_FORMAT", setString(&cfg.Logging.Format)},
		{"GOVERNOR_LOG_OUTPUT", setString(&cfg.Logging.Output)},

		{"GOVERNOR_METRICS_ENABLED", setBool(&cfg.Metrics.Enabled)},

		{"GOVERNOR_STATS_ENABLED", setBool(&cfg.Stats.Enabled)},
		{"GOVERNOR_REDIS_ADDR", setString(&cfg.Stats.Redis.Addr)},
		{"GOVERNOR_REDIS_PASSWORD", setString(&cfg.Stats.Redis.Password)},
		{"GOVERNOR_REDIS_DB", setInt(&cfg.Stats.Redis.DB)},
	}
	for _, o := range overrides {
		v, ok := os.LookupEnv(o.name)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(v); err != nil {
			return fmt.Errorf("%s: %w", o.name, err)
		}
	}
	return nil
}

func setString(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func setInt(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func setUint32(dst *uint32) func(string) error {
	return func(v string) error {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return err
		}
		*dst = uint32(n)
		return nil
	}
}

func setDuration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func setBool(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	if err := c.Limit.Validate(); err != nil {
		return fmt.Errorf("invalid limit config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.New("invalid metrics config: path must start with /")
	}
	if c.Stats.Enabled && c.Stats.Redis.Addr == "" {
		return errors.New("invalid stats config: redis addr is required")
	}
	return nil
}

func (s *ServerConfig) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	if s.Upstream == "" {
		return errors.New("upstream cannot be empty")
	}
	if s.ReadTimeout < 0 || s.WriteTimeout < 0 || s.IdleTimeout < 0 || s.ShutdownTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}
	return nil
}

func (l *LimitConfig) Validate() error {
	if _, err := l.Quota(); err != nil {
		return err
	}
	switch l.Key {
	case KeyPeerIP, KeySmartIP, KeyBearer, KeyGlobal:
	case KeyHeader:
		if l.Header == "" {
			return errors.New("header name is required when key is header")
		}
	default:
		return fmt.Errorf("unsupported key %q", l.Key)
	}
	if l.IdleTTL < 0 || l.SweepInterval < 0 {
		return errors.New("idle_ttl and sweep_interval cannot be negative")
	}
	return nil
}

// Quota converts the limit settings into a governor.Quota.
func (l *LimitConfig) Quota() (governor.Quota, error) {
	if l.Period > 0 {
		return governor.Every(l.Period, l.Burst)
	}
	return governor.PerSecond(l.PerSecond, l.Burst)
}

func (l *LoggingConfig) Validate() error {
	switch strings.ToLower(l.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported log format %q", l.Format)
	}
	switch strings.ToLower(l.Output) {
	case "stdout", "stderr":
	case "file":
		if l.FilePath == "" {
			return errors.New("file path is required when output is file")
		}
	default:
		return fmt.Errorf("unsupported log output %q", l.Output)
	}
	return nil
}
