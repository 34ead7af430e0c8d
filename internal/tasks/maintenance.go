// Package tasks schedules recurring background jobs.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// maintenanceTimeout bounds one maintenance run.
const maintenanceTimeout = 5 * time.Minute

// MaintenanceStore is the persistence surface maintenance needs.
type MaintenanceStore interface {
	RunMaintenance(ctx context.Context) error
}

// Scheduler wraps the cron scheduler driving periodic maintenance.
type Scheduler struct {
	scheduler gocron.Scheduler
	log       *slog.Logger
}

// NewScheduler creates a scheduler with the database maintenance job
// registered on the given cron expression. Call Start to begin running.
func NewScheduler(cronExpr string, store MaintenanceStore, log *slog.Logger) (*Scheduler, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
			defer cancel()

			start := time.Now()
			if err := store.RunMaintenance(ctx); err != nil {
				log.Error("Scheduled maintenance failed", "error", err)
				return
			}
			log.Info("Scheduled maintenance completed", "duration", time.Since(start))
		}),
		gocron.WithName("database-maintenance"),
	)
	if err != nil {
		if shutdownErr := scheduler.Shutdown(); shutdownErr != nil {
			log.Error("Error shutting down scheduler after job setup failure", "error", shutdownErr)
		}
		return nil, fmt.Errorf("failed to schedule maintenance job: %w", err)
	}

	return &Scheduler{scheduler: scheduler, log: log}, nil
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.log.Info("Maintenance scheduler started")
}

// Stop shuts the scheduler down, waiting for a running job to finish.
func (s *Scheduler) Stop() {
	if err := s.scheduler.Shutdown(); err != nil {
		s.log.Error("Error shutting down scheduler", "error", err)
	} else {
		s.log.Info("Maintenance scheduler stopped")
	}
}
