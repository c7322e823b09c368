package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/zbysir/vscheduler"
	"github.com/zbysir/vscheduler/internal/backend"
	"github.com/zbysir/vscheduler/internal/logging"
)

type Config struct {
	Redis struct {
		URL            string        `yaml:"url"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
	} `yaml:"redis"`

	Scheduler vscheduler.Config `yaml:"scheduler"`

	Backend struct {
		Queue       string `yaml:"queue"`
		Concurrency int    `yaml:"concurrency"`
		MaxRetry    int    `yaml:"max_retry"`
	} `yaml:"backend"`

	HTTP struct {
		Addr         string `yaml:"addr"`
		RunOnRequest bool   `yaml:"run_on_request"`
	} `yaml:"http"`

	History struct {
		Enabled bool   `yaml:"enabled"`
		DSN     string `yaml:"dsn"`
		// Retention is how long records are kept; 0 keeps them forever.
		Retention time.Duration `yaml:"retention"`
		// PruneEvery is how often `run` deletes records older than Retention.
		PruneEvery time.Duration `yaml:"prune_every"`
	} `yaml:"history"`

	Log logging.Config `yaml:"log"`
}

func defaultConfig() Config {
	var c Config
	c.Redis.URL = "redis://localhost:6379/0"
	c.Redis.ConnectTimeout = 10 * time.Second
	c.Scheduler = vscheduler.DefaultConfig()
	c.Backend.Queue = backend.DefaultQueue
	c.Backend.Concurrency = 10
	c.Backend.MaxRetry = 25
	c.HTTP.Addr = ":8080"
	c.History.DSN = "vscheduler.db"
	c.History.Retention = 7 * 24 * time.Hour
	c.History.PruneEvery = time.Hour
	c.Log.Level = "info"
	c.Log.Console = true
	return c
}

// loadConfig reads path over the defaults; a missing file at the default path is not an error.
func loadConfig(path string, required bool) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		bs, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist) && !required:
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(bs, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("VSCHEDULER_REDIS_URL"); ok && v != "" {
		cfg.Redis.URL = v
	}
	if v, ok := lookup("VSCHEDULER_INTERVAL"); ok && v != "" {
		d, err := cast.ToDurationE(v)
		if err != nil {
			return fmt.Errorf("VSCHEDULER_INTERVAL: %w", err)
		}
		cfg.Scheduler.Interval = d
	}
	if v, ok := lookup("VSCHEDULER_DEBUG"); ok && v != "" {
		if cast.ToBool(v) {
			cfg.Log.Level = "debug"
		}
	}
	return nil
}
