// Package config loads memory subsystem configuration from a YAML file
// overlaid with environment variables, and builds the configured storage
// backend. Backend selection lives here, outside the session core.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gopkg.in/yaml.v3"

	"github.com/vianexus/agentmemory/internal/storage"
)

// Backend kinds accepted in configuration.
const (
	BackendVolatile = "volatile"
	BackendFile     = "file"
	BackendObject   = "object"
)

// Defaults applied when a field is absent.
const (
	DefaultCacheCapacity = 1024
	DefaultFileRoot      = "conversation_memory"
	DefaultObjectRetries = 4
)

// Config is the full memory subsystem configuration.
type Config struct {
	Backend       string `yaml:"backend"`
	CacheCapacity int    `yaml:"cache_capacity"`

	File struct {
		Root string `yaml:"root"`
	} `yaml:"file"`

	Object struct {
		Bucket     string `yaml:"bucket"`
		Prefix     string `yaml:"prefix"`
		Region     string `yaml:"region"`
		MaxRetries int    `yaml:"max_retries"`
	} `yaml:"object"`

	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{
		Backend:       BackendVolatile,
		CacheCapacity: DefaultCacheCapacity,
	}
	cfg.File.Root = DefaultFileRoot
	cfg.Object.MaxRetries = DefaultObjectRetries
	cfg.Log.Level = "INFO"
	return cfg
}

// Load reads the YAML file at path (skipped when empty or absent) and then
// applies AGENTMEMORY_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("AGENTMEMORY_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("AGENTMEMORY_CACHE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheCapacity = n
		}
	}
	if v := os.Getenv("AGENTMEMORY_FILE_ROOT"); v != "" {
		cfg.File.Root = v
	}
	if v := os.Getenv("AGENTMEMORY_OBJECT_BUCKET"); v != "" {
		cfg.Object.Bucket = v
	}
	if v := os.Getenv("AGENTMEMORY_OBJECT_PREFIX"); v != "" {
		cfg.Object.Prefix = v
	}
	if v := os.Getenv("AGENTMEMORY_OBJECT_REGION"); v != "" {
		cfg.Object.Region = v
	}
	if v := os.Getenv("AGENTMEMORY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func validate(cfg *Config) error {
	switch cfg.Backend {
	case BackendVolatile, BackendFile:
	case BackendObject:
		if cfg.Object.Bucket == "" {
			return fmt.Errorf("object backend requires a bucket")
		}
	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = DefaultCacheCapacity
	}
	return nil
}

// BuildBackend constructs the configured storage backend.
func BuildBackend(ctx context.Context, cfg *Config) (storage.Backend, error) {
	switch cfg.Backend {
	case BackendVolatile:
		return storage.NewVolatileStore(), nil
	case BackendFile:
		return storage.NewFileStore(cfg.File.Root)
	case BackendObject:
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Object.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Object.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg)
		retries := cfg.Object.MaxRetries
		if retries <= 0 {
			retries = DefaultObjectRetries
		}
		return storage.NewObjectStore(client, cfg.Object.Bucket, cfg.Object.Prefix, uint64(retries)), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
