package scheduler

import (
	"time"

	appconfig "github.com/aptora/aptora/internal/config"
)

// Config controls trigger expressions, batch sizes, and job deadlines.
// Cron expressions are evaluated in Timezone.
type Config struct {
	Timezone        string
	DueDateCron     string
	MaintenanceCron string
	DispatchCron    string
	BatchSize       int
	JobTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timezone:        "UTC",
		DueDateCron:     "0 8 * * *",
		MaintenanceCron: "0 7 * * *",
		DispatchCron:    "* * * * *",
		BatchSize:       100,
		JobTimeout:      30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Timezone == "" {
		c.Timezone = defaults.Timezone
	}
	if c.DueDateCron == "" {
		c.DueDateCron = defaults.DueDateCron
	}
	if c.MaintenanceCron == "" {
		c.MaintenanceCron = defaults.MaintenanceCron
	}
	if c.DispatchCron == "" {
		c.DispatchCron = defaults.DispatchCron
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}

func ProvideConfig(cfg appconfig.Config) Config {
	return Config{
		Timezone:        cfg.Scheduler.Timezone,
		DueDateCron:     cfg.Scheduler.DueDateCron,
		MaintenanceCron: cfg.Scheduler.MaintenanceCron,
		DispatchCron:    cfg.Scheduler.DispatchCron,
		BatchSize:       cfg.Scheduler.BatchSize,
		JobTimeout:      cfg.Scheduler.JobTimeout,
	}.withDefaults()
}
