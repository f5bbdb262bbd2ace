package sandbox

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/openraccoon/raccoon/internal/observability"
)

// reapSchedule is how often the idle sweep runs.
const reapSchedule = "@every 1m"

// Reaper periodically destroys sandboxes idle beyond the manager's idle
// timeout, releasing leaked backend resources.
type Reaper struct {
	cron    *cron.Cron
	manager *Manager
	logger  *observability.Logger
}

// NewReaper creates a reaper over the manager.
func NewReaper(manager *Manager, logger *observability.Logger) *Reaper {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
	}
	return &Reaper{
		cron:    cron.New(),
		manager: manager,
		logger:  logger,
	}
}

// Start schedules the sweep and begins running it.
func (r *Reaper) Start() error {
	if _, err := r.cron.AddFunc(reapSchedule, r.sweep); err != nil {
		return fmt.Errorf("schedule sandbox reaper: %w", err)
	}
	r.cron.Start()
	r.logger.Info(context.Background(), "sandbox reaper started", "schedule", reapSchedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info(context.Background(), "sandbox reaper stopped")
}

func (r *Reaper) sweep() {
	r.manager.ReapIdle(context.Background())
}
