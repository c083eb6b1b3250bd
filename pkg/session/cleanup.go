package session

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	// DefaultCleanupAge is how long a session may sit idle before the sweep
	// removes it.
	DefaultCleanupAge = 7 * 24 * time.Hour
	// DefaultCleanupSchedule runs the sweep once a day.
	DefaultCleanupSchedule = "@daily"
)

// Sweeper removes sessions idle since before the cutoff. Both store
// implementations satisfy it.
type Sweeper interface {
	Sweep(cutoff time.Time) (int, error)
}

// Cleanup periodically sweeps stale sessions from a store.
type Cleanup struct {
	sweeper    Sweeper
	cleanupAge time.Duration
	schedule   string
	logger     zerolog.Logger
	cron       *cron.Cron
}

// CleanupConfig configures a Cleanup.
type CleanupConfig struct {
	Sweeper    Sweeper
	CleanupAge time.Duration
	Schedule   string // cron spec, e.g. "@hourly" or "0 3 * * *"
	Logger     zerolog.Logger
}

// NewCleanup creates a session cleanup handler.
func NewCleanup(cfg CleanupConfig) (*Cleanup, error) {
	if cfg.Sweeper == nil {
		return nil, fmt.Errorf("sweeper is required")
	}
	if cfg.CleanupAge <= 0 {
		cfg.CleanupAge = DefaultCleanupAge
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultCleanupSchedule
	}

	return &Cleanup{
		sweeper:    cfg.Sweeper,
		cleanupAge: cfg.CleanupAge,
		schedule:   cfg.Schedule,
		logger:     cfg.Logger.With().Str("component", "session_cleanup").Logger(),
	}, nil
}

// Start schedules the sweep and runs one immediately.
func (c *Cleanup) Start() error {
	if c.cron != nil {
		return fmt.Errorf("cleanup is already running")
	}

	c.cron = cron.New()
	if _, err := c.cron.AddFunc(c.schedule, c.runOnce); err != nil {
		c.cron = nil
		return fmt.Errorf("invalid cleanup schedule %q: %w", c.schedule, err)
	}
	c.cron.Start()

	c.runOnce()

	c.logger.Info().
		Dur("cleanup_age", c.cleanupAge).
		Str("schedule", c.schedule).
		Msg("Session cleanup started")

	return nil
}

// Stop halts the schedule, waiting for an in-flight sweep to finish.
func (c *Cleanup) Stop() error {
	if c.cron == nil {
		return fmt.Errorf("cleanup is not running")
	}

	ctx := c.cron.Stop()
	<-ctx.Done()
	c.cron = nil

	c.logger.Info().Msg("Session cleanup stopped")
	return nil
}

func (c *Cleanup) runOnce() {
	cutoff := time.Now().Add(-c.cleanupAge)
	removed, err := c.sweeper.Sweep(cutoff)
	if err != nil {
		c.logger.Error().Err(err).Msg("Session sweep failed")
		return
	}
	if removed > 0 {
		c.logger.Info().Int("removed", removed).Msg("Session sweep completed")
	}
}
