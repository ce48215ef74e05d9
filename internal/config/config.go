// Package config loads the dispatcher's YAML configuration file and
// overlays environment variables on top, mirroring the teacher's
// internal/config.Load shape. It also supports a fsnotify-driven
// hot-reload of the dispatch policy knobs that are safe to change
// without a restart.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ServerConfig is the HTTP-facing configuration.
type ServerConfig struct {
	Port        string `yaml:"port"`
	MetricsPort string `yaml:"metrics_port"`
}

// DispatchConfig holds C6/C7's tunables (spec.md §6 "Environment").
type DispatchConfig struct {
	MinScoreFraction  float64       `yaml:"min_score_fraction"`
	SoftTimeLimit     time.Duration `yaml:"soft_time_limit"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	Policy            string        `yaml:"policy"` // "score_load" | "threshold"
	MaxRetryBackoff   time.Duration `yaml:"max_retry_backoff"`
}

// LoggingConfig controls the structured logger's verbosity/format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the full, file-backed configuration tree.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Logging  LoggingConfig  `yaml:"logging"`

	path string
	mu   sync.RWMutex
}

var validPolicies = map[string]bool{
	"score_load": true,
	"threshold":  true,
}

// Load reads path (YAML), overlays environment variables and validates
// the result, applying defaults for anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{path: path}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	applyDefaults(config)

	if err := validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func applyDefaults(c *Config) {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.MetricsPort == "" {
		c.Server.MetricsPort = "9090"
	}
	if c.Dispatch.MinScoreFraction == 0 {
		c.Dispatch.MinScoreFraction = 0.7
	}
	if c.Dispatch.SoftTimeLimit == 0 {
		c.Dispatch.SoftTimeLimit = 30 * time.Second
	}
	if c.Dispatch.VisibilityTimeout == 0 {
		c.Dispatch.VisibilityTimeout = 40 * time.Second
	}
	if c.Dispatch.Policy == "" {
		c.Dispatch.Policy = "score_load"
	}
	if c.Dispatch.MaxRetryBackoff == 0 {
		c.Dispatch.MaxRetryBackoff = 300 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// loadFromEnv overlays DISPATCH_MIN_SCORE_FRACTION, DISPATCH_POLICY,
// DISPATCH_SOFT_TIME_LIMIT, DISPATCH_VISIBILITY_TIMEOUT,
// SERVER_PORT, METRICS_PORT, LOG_LEVEL and LOG_FORMAT onto config.
func loadFromEnv(c *Config) error {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		c.Server.MetricsPort = v
	}
	if v := os.Getenv("DISPATCH_MIN_SCORE_FRACTION"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid DISPATCH_MIN_SCORE_FRACTION: %w", err)
		}
		c.Dispatch.MinScoreFraction = f
	}
	if v := os.Getenv("DISPATCH_POLICY"); v != "" {
		c.Dispatch.Policy = v
	}
	if v := os.Getenv("DISPATCH_SOFT_TIME_LIMIT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid DISPATCH_SOFT_TIME_LIMIT: %w", err)
		}
		c.Dispatch.SoftTimeLimit = d
	}
	if v := os.Getenv("DISPATCH_VISIBILITY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid DISPATCH_VISIBILITY_TIMEOUT: %w", err)
		}
		c.Dispatch.VisibilityTimeout = d
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	return nil
}

// validate rejects configurations that would make the dispatcher
// misbehave silently rather than fail at startup.
func validate(c *Config) error {
	if c.Dispatch.Policy != "" && !validPolicies[c.Dispatch.Policy] {
		return fmt.Errorf("unsupported dispatch policy %q", c.Dispatch.Policy)
	}
	if c.Dispatch.MinScoreFraction < 0 || c.Dispatch.MinScoreFraction > 1 {
		return fmt.Errorf("dispatch min_score_fraction must be between 0.0 and 1.0")
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	return nil
}

// Snapshot returns a copy of the dispatch tunables, safe to read
// concurrently with a Watch-driven reload.
func (c *Config) Snapshot() DispatchConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Dispatch
}

// Watch reloads the config file on change and invokes onChange with
// the new dispatch tunables. It runs until stop is closed; fsnotify
// and reload errors are reported via onError, never fatal — a bad
// reload leaves the previous, known-good config in place.
func (c *Config) Watch(stop <-chan struct{}, onChange func(DispatchConfig), onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}

	if err := watcher.Add(c.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config file: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				reloaded, err := Load(c.path)
				if err != nil {
					onError(err)
					continue
				}
				c.mu.Lock()
				c.Dispatch = reloaded.Dispatch
				snapshot := c.Dispatch
				c.mu.Unlock()
				onChange(snapshot)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				onError(err)
			}
		}
	}()

	return nil
}
