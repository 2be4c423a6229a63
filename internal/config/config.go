// Package config loads service settings from defaults, an optional YAML
// file, a .env file and the environment, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ignatij/goscout/pkg/backend"
	"github.com/ignatij/goscout/pkg/queue"
	"github.com/ignatij/goscout/pkg/service"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL string              `yaml:"database_url"`
	Port        int                 `yaml:"port"`
	LogLevel    string              `yaml:"log_level"`
	Backends    BackendConfig       `yaml:"backends"`
	Queue       QueueConfig         `yaml:"queue"`
	Scheduler   SchedulerConfig     `yaml:"scheduler"`
	Agents      service.AgentConfig `yaml:"agents"`
}

type BackendConfig struct {
	AIWorkerURL     string        `yaml:"ai_worker_url"`
	BrowserScoutURL string        `yaml:"browser_scout_url"`
	Timeout         time.Duration `yaml:"timeout"`
}

type QueueConfig struct {
	Concurrency        int           `yaml:"concurrency"`
	BrowserConcurrency int           `yaml:"browser_concurrency"`
	MaxAttempts        int           `yaml:"max_attempts"`
	BackoffBase        time.Duration `yaml:"backoff_base"`
	AttemptTimeout     time.Duration `yaml:"attempt_timeout"`
	KeepCompleted      int           `yaml:"keep_completed"`
	KeepFailed         int           `yaml:"keep_failed"`
}

type SchedulerConfig struct {
	Interval       time.Duration `yaml:"interval"`
	RearmRecurring bool          `yaml:"rearm_recurring"`
	RetryFailed    bool          `yaml:"retry_failed"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		Port:     8080,
		LogLevel: "INFO",
		Backends: BackendConfig{
			AIWorkerURL:     "http://localhost:8787",
			BrowserScoutURL: "http://localhost:3001",
			Timeout:         backend.DefaultTimeout,
		},
		Queue: QueueConfig{
			Concurrency:        2,
			BrowserConcurrency: 1,
			MaxAttempts:        queue.DefaultMaxAttempts,
			BackoffBase:        queue.DefaultBackoffBase,
			AttemptTimeout:     queue.DefaultAttemptTimeout,
			KeepCompleted:      queue.DefaultKeepCompleted,
			KeepFailed:         queue.DefaultKeepFailed,
		},
		Scheduler: SchedulerConfig{Interval: 30 * time.Second},
		Agents:    service.DefaultAgentConfig(),
	}
}

// Load builds the configuration. path may be empty, in which case
// GOSCOUT_CONFIG is consulted; a missing .env file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("GOSCOUT_CONFIG")
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return Config{}, err
		}
	}
	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "parse config %s", path)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if url := DatabaseURLFromEnv(); url != "" {
		c.DatabaseURL = url
	}
	c.LogLevel = envOrDefault("LOG_LEVEL", c.LogLevel)
	c.Backends.AIWorkerURL = envOrDefault("AI_WORKER_URL", c.Backends.AIWorkerURL)
	c.Backends.BrowserScoutURL = envOrDefault("BROWSER_SCOUT_URL", c.Backends.BrowserScoutURL)

	var err error
	if c.Port, err = envInt("PORT", c.Port); err != nil {
		return err
	}
	if c.Queue.Concurrency, err = envInt("QUEUE_CONCURRENCY", c.Queue.Concurrency); err != nil {
		return err
	}
	if c.Queue.BrowserConcurrency, err = envInt("BROWSER_CONCURRENCY", c.Queue.BrowserConcurrency); err != nil {
		return err
	}
	if c.Backends.Timeout, err = envDuration("BACKEND_TIMEOUT", c.Backends.Timeout); err != nil {
		return err
	}
	if c.Scheduler.Interval, err = envDuration("SCHEDULER_INTERVAL", c.Scheduler.Interval); err != nil {
		return err
	}
	return nil
}

// DatabaseURLFromEnv returns DATABASE_URL, or a URL assembled from the
// DB_* variables when all of them are set, or "".
func DatabaseURLFromEnv() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	user, password := os.Getenv("DB_USERNAME"), os.Getenv("DB_PASSWORD")
	host, port, name := os.Getenv("DB_HOST"), os.Getenv("DB_PORT"), os.Getenv("DB_NAME")
	if user == "" || password == "" || host == "" || port == "" || name == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)
}

// QueueOptions maps the queue settings onto queue.Options.
func (c Config) QueueOptions() queue.Options {
	return queue.Options{
		Concurrency: map[string]int{
			queue.DefaultLane: c.Queue.Concurrency,
			queue.BrowserLane: c.Queue.BrowserConcurrency,
		},
		MaxAttempts:    c.Queue.MaxAttempts,
		BackoffBase:    c.Queue.BackoffBase,
		AttemptTimeout: c.Queue.AttemptTimeout,
		KeepCompleted:  c.Queue.KeepCompleted,
		KeepFailed:     c.Queue.KeepFailed,
		ShouldRetry:    service.IsRetryable,
	}
}

func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.Errorf("%s must be a positive integer, got %q", key, raw)
	}
	return n, nil
}

// envDuration accepts Go durations ("45s") and bare milliseconds ("45000").
func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, errors.Errorf("%s must be a positive duration, got %q", key, raw)
	}
	return d, nil
}
