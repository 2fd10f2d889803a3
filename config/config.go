// Package config loads the departure board service configuration
// from YAML.
//
// Values missing from the file keep their defaults. The result is
// validated using struct tags before being handed out.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"tidbyt.dev/departureboard"
	"tidbyt.dev/departureboard/model"
	"tidbyt.dev/departureboard/synthese"
	"tidbyt.dev/departureboard/window"
)

type StorageConfig struct {
	Backend   string `yaml:"backend" validate:"oneof=memory sqlite postgres"`
	Directory string `yaml:"directory" validate:"required_if=Backend sqlite"`
	DSN       string `yaml:"dsn" validate:"required_if=Backend postgres"`
}

type FeedConfig struct {
	StaticURL    string            `yaml:"static_url" validate:"required,url"`
	RealtimeURLs []string          `yaml:"realtime_urls" validate:"dive,url"`
	Headers      map[string]string `yaml:"headers"`

	// Directory the downloader persists fetched feeds in. When
	// empty, feeds are cached in redis if configured, and in memory
	// otherwise.
	CacheDir string `yaml:"cache_dir"`

	RefreshInterval time.Duration `yaml:"refresh_interval" validate:"gte=0"`
}

type EngineConfig struct {
	Depth         int    `yaml:"depth" validate:"gte=1"`
	Count         int    `yaml:"count" validate:"gte=1"`
	ItemsPerPoint int    `yaml:"items_per_point" validate:"gte=0"`
	MaxGoroutines int    `yaml:"max_goroutines" validate:"gte=1"`
	ClosurePolicy string `yaml:"closure_policy" validate:"omitempty,oneof=optimistic conservative"`
	RTLevel       string `yaml:"rt_level" validate:"omitempty,oneof=base_schedule adapted realtime"`
}

type SyntheseConfig struct {
	URL                  string        `yaml:"url" validate:"omitempty,url"`
	Timezone             string        `yaml:"timezone"`
	Timeout              time.Duration `yaml:"timeout" validate:"gte=0"`
	CacheTTL             time.Duration `yaml:"cache_ttl" validate:"gte=0"`
	MaxRequestsPerSecond float64       `yaml:"max_requests_per_second" validate:"gte=0"`
	BreakerMaxFailures   uint32        `yaml:"breaker_max_failures"`
	BreakerResetTimeout  time.Duration `yaml:"breaker_reset_timeout" validate:"gte=0"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"omitempty,hostname_port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen" validate:"required"`
}

type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Feed     FeedConfig     `yaml:"feed"`
	Engine   EngineConfig   `yaml:"engine"`
	Synthese SyntheseConfig `yaml:"synthese"`
	Redis    RedisConfig    `yaml:"redis"`
	HTTP     HTTPConfig     `yaml:"http"`
}

func Default() *Config {
	proxy := synthese.DefaultConfig()
	return &Config{
		Storage: StorageConfig{
			Backend: "memory",
		},
		Feed: FeedConfig{
			RefreshInterval: departureboard.DefaultStaticRefreshInterval,
		},
		Engine: EngineConfig{
			Depth:         1,
			Count:         10,
			MaxGoroutines: departureboard.DefaultEngineConfig().MaxGoroutines,
			ClosurePolicy: "optimistic",
			RTLevel:       model.RTLevelBaseSchedule.String(),
		},
		Synthese: SyntheseConfig{
			Timezone:             "UTC",
			Timeout:              proxy.Timeout,
			CacheTTL:             proxy.CacheTTL,
			MaxRequestsPerSecond: proxy.MaxRequestsPerSecond,
			BreakerMaxFailures:   proxy.BreakerMaxFailures,
			BreakerResetTimeout:  proxy.BreakerResetTimeout,
		},
		HTTP: HTTPConfig{
			Listen: ":8080",
		},
	}
}

var validate = validator.New()

// Reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Decodes YAML on top of the defaults, and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.LoadLocation(c.Synthese.Timezone); err != nil {
		return fmt.Errorf("invalid config: synthese timezone: %w", err)
	}
	return nil
}

func (c *Config) EngineConfig() (departureboard.EngineConfig, error) {
	policy, err := window.ParsePolicy(c.Engine.ClosurePolicy)
	if err != nil {
		return departureboard.EngineConfig{}, err
	}

	config := departureboard.DefaultEngineConfig()
	config.MaxGoroutines = c.Engine.MaxGoroutines
	config.ClosurePolicy = policy
	return config, nil
}

func (c *Config) RTLevel() model.RTLevel {
	level, _ := model.ParseRTLevel(c.Engine.RTLevel)
	return level
}

// Next passage service settings. ok is false when no service is
// configured.
func (c *Config) SyntheseConfig() (config synthese.Config, ok bool, err error) {
	if c.Synthese.URL == "" {
		return synthese.Config{}, false, nil
	}

	tz, err := time.LoadLocation(c.Synthese.Timezone)
	if err != nil {
		return synthese.Config{}, false, fmt.Errorf("loading synthese timezone: %w", err)
	}

	config = synthese.DefaultConfig()
	config.URL = c.Synthese.URL
	config.Timezone = tz
	config.Timeout = c.Synthese.Timeout
	config.CacheTTL = c.Synthese.CacheTTL
	config.MaxRequestsPerSecond = c.Synthese.MaxRequestsPerSecond
	config.BreakerMaxFailures = c.Synthese.BreakerMaxFailures
	config.BreakerResetTimeout = c.Synthese.BreakerResetTimeout
	return config, true, nil
}
