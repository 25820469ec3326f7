package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validatePoll(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	return c.validateWorker()
}

func (c *Config) validateStore() error {
	s := c.Store
	switch s.Provider {
	case "localfs":
		if strings.TrimSpace(s.LocalRoot) == "" {
			return errors.New("store.local_root must be set for the localfs store")
		}
	case "gdrive":
		if s.GDrive.ClientID == "" || s.GDrive.ClientSecret == "" || s.GDrive.RefreshToken == "" {
			return errors.New("store.gdrive client_id, client_secret and refresh_token are required for the gdrive store")
		}
	case "s3":
		if s.S3.Bucket == "" {
			return errors.New("store.s3.bucket must be set for the s3 store")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis.addr must be set for the redis store")
		}
	case "postgres":
		if s.DatabaseURL == "" {
			return errors.New("store.database_url must be set for the postgres store")
		}
	case "sqlite":
		if strings.TrimSpace(s.SQLitePath) == "" {
			return errors.New("store.sqlite_path must be set for the sqlite store")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage provider: %s", s.Provider)
	}
	return nil
}

func (c *Config) validateProviders() error {
	switch c.Providers.Likeness {
	case "heygen", "fake":
	default:
		return fmt.Errorf("unknown likeness provider: %s", c.Providers.Likeness)
	}
	if c.Providers.RequestTimeout < 0 {
		return errors.New("providers.request_timeout must not be negative")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	s := c.Scheduler
	if s.ShortBudget <= 0 || s.SweepBudget <= 0 {
		return errors.New("scheduler budgets must be positive")
	}
	if s.SafetyMargin < 0 {
		return errors.New("scheduler.safety_margin must not be negative")
	}
	if s.SafetyMargin >= s.ShortBudget {
		return errors.New("scheduler.safety_margin must be smaller than scheduler.short_budget")
	}
	if s.MaxCandidates <= 0 {
		return errors.New("scheduler.max_candidates must be positive")
	}
	return nil
}

func (c *Config) validatePoll() error {
	if c.Poll.MaxConcurrency <= 0 {
		return errors.New("poll.max_concurrency must be positive")
	}
	if c.Poll.MaxPolls < 0 || c.Poll.MaxAge < 0 {
		return errors.New("poll caps must not be negative")
	}
	return nil
}

func (c *Config) validateRetry() error {
	r := c.Retry
	if r.Attempts < 1 {
		return errors.New("retry.attempts must be at least 1")
	}
	if r.BaseDelay < 0 || r.MaxDelay < r.BaseDelay {
		return errors.New("retry.max_delay must be at least retry.base_delay")
	}
	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.SweepInterval <= 0 {
		return errors.New("worker.sweep_interval must be positive")
	}
	if strings.TrimSpace(c.Worker.KickQueue) == "" {
		return errors.New("worker.kick_queue must be set")
	}
	return nil
}
