package vscheduler

import (
	"fmt"
	"time"
)

// Policy decides what a sweep does with an entry whose hand-off to the backend failed.
type Policy string

const (
	// RetryPreserving leaves the entry in the set so the next sweep retries it.
	// A task the backend always rejects is retried forever.
	RetryPreserving Policy = "retry"
	// Drop removes the entry anyway; the task is lost.
	Drop Policy = "drop"
)

// Config holds the names and timings shared by every process that schedules or sweeps.
// All processes pointing at the same store must agree on it.
type Config struct {
	LockKey   string `yaml:"lock_key"`
	TimerKey  string `yaml:"timer_key"`
	SetName   string `yaml:"set_name"`
	KeyPrefix string `yaml:"key_prefix"`

	// Interval is the minimum time between two admitted sweeps.
	Interval time.Duration `yaml:"interval"`
	// LockTTL bounds how long a crashed sweeper can hold the lock. 0 means the lock never expires.
	LockTTL time.Duration `yaml:"lock_ttl"`
	Policy  Policy        `yaml:"policy"`
	// EnqueueTimeout bounds each backend call, 0 means no timeout.
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`
	// LocalInterval throttles callers inside this process before the shared timer is read. 0 disables it.
	LocalInterval time.Duration `yaml:"local_interval"`
}

func DefaultConfig() Config {
	return Config{
		LockKey:  "vscheduler_lock",
		TimerKey: "vscheduler_timer",
		SetName:  "vscheduler_tasks",
		Interval: time.Second,
		LockTTL:  30 * time.Second,
		Policy:   RetryPreserving,
	}
}

// withDefaults fills empty names and timings; LockTTL, EnqueueTimeout and LocalInterval keep their zero meaning.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LockKey == "" {
		c.LockKey = d.LockKey
	}
	if c.TimerKey == "" {
		c.TimerKey = d.TimerKey
	}
	if c.SetName == "" {
		c.SetName = d.SetName
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Policy == "" {
		c.Policy = d.Policy
	}
	return c
}

func (c Config) Validate() error {
	switch c.Policy {
	case RetryPreserving, Drop:
	default:
		return fmt.Errorf("unknown policy %q", c.Policy)
	}
	if c.LockTTL < 0 {
		return fmt.Errorf("lock ttl %v is negative", c.LockTTL)
	}
	if c.LockTTL > 0 && c.LockTTL < c.Interval {
		return fmt.Errorf("lock ttl %v is shorter than interval %v", c.LockTTL, c.Interval)
	}
	names := map[string]string{"lock key": c.LockKey, "timer key": c.TimerKey, "set name": c.SetName}
	seen := map[string]string{}
	for what, name := range names {
		if other, ok := seen[name]; ok {
			return fmt.Errorf("%s and %s are both %q", other, what, name)
		}
		seen[name] = what
	}
	return nil
}
