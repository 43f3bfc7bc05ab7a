package librarypage

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// MemoryCachePath selects an in-process fragment store instead of a file.
const MemoryCachePath = ":memory:"

type Config struct {
	Port  int         `yaml:"port"`
	Log   LogConfig   `yaml:"log"`
	Cache CacheConfig `yaml:"cache"`
	Feed  FeedConfig  `yaml:"feed"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

type CacheConfig struct {
	// Path of the fragment store; empty uses the platform state directory.
	Path string        `yaml:"path"`
	TTL  time.Duration `yaml:"ttl"`
}

type FeedConfig struct {
	MaxItems int           `yaml:"max_items"`
	Timeout  time.Duration `yaml:"timeout"`
}

func DefaultConfig() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// LoadConfig reads a YAML config file, expanding ${VAR} references from the
// environment before decoding.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	expanded := os.Expand(string(data), os.Getenv)
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	setDefaults(cfg)
	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSize <= 0 {
		cfg.Log.MaxSize = 64
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 3
	}
	if cfg.Log.MaxAge <= 0 {
		cfg.Log.MaxAge = 7
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}
	if cfg.Feed.MaxItems <= 0 {
		cfg.Feed.MaxItems = DefaultMaxItems
	}
	if cfg.Feed.Timeout <= 0 {
		cfg.Feed.Timeout = DefaultHTTPTimeout
	}
}

// OpenStore returns the fragment store named by the cache path, loaded from
// disk when it is file backed.
func (c *Config) OpenStore() (Store, error) {
	if c.Cache.Path == MemoryCachePath {
		return &MemoryStore{}, nil
	}
	opts := []FileStoreOption{}
	if c.Cache.Path != "" {
		opts = append(opts, WithPath(c.Cache.Path))
	}
	store, err := NewFileStore(opts...)
	if err != nil {
		return nil, err
	}
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("loading fragment store %s: %w", store.Path, err)
	}
	return store, nil
}

func (c *Config) Options(log *zap.Logger) []Option {
	return []Option{
		WithPort(c.Port),
		WithLogger(log),
		WithCacheTTL(c.Cache.TTL),
		WithMaxItems(c.Feed.MaxItems),
		WithHTTPTimeout(c.Feed.Timeout),
	}
}
