// Package taskmanager runs the fleet-wide background jobs that don't
// belong to any single request: the retention sweep, on a gocron
// schedule, and the startup crash-recovery resume pass for Bakta jobs,
// once per process (C7, SPEC_FULL §2 ADD). Grounded on the teacher's
// internal/taskManager package: a
// package-level gocron.Scheduler started once and shut down once.
package taskmanager

import (
	"context"

	"github.com/go-co-op/gocron/v2"

	"github.com/gast-project/gast-orchestrator/internal/config"
	"github.com/gast-project/gast-orchestrator/pkg/log"
)

var (
	s   gocron.Scheduler
	ctx context.Context
)

// sweeper is the subset of *archiver.Archiver the scheduled retention
// job needs.
type sweeper interface {
	Sweep(ctx context.Context) error
}

// resumer re-enters the poll loop for one previously-running Bakta job,
// satisfied by *bakta.Orchestrator.Run.
type resumer interface {
	Run(ctx context.Context, jobID string)
}

// Start builds the scheduler, registers every background job, and
// begins running them (teacher's taskManager.Start shape).
func Start(parent context.Context, archiver sweeper, retention config.RetentionConfig) error {
	ctx = parent
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	s = scheduler

	if _, err := s.NewJob(
		gocron.DurationJob(retention.SweepIntervalDuration()),
		gocron.NewTask(func() {
			if err := archiver.Sweep(ctx); err != nil {
				log.Errorf("taskmanager: retention sweep failed: %v", err)
			}
		}),
	); err != nil {
		return err
	}

	s.Start()
	log.Infof("taskmanager: started, retention sweep every %s", retention.SweepIntervalDuration())
	return nil
}

// Shutdown stops the scheduler, letting any in-flight job finish.
func Shutdown() error {
	if s == nil {
		return nil
	}
	return s.Shutdown()
}

// ResumeBaktaJobs re-enters Orchestrator.Run for every Bakta job left
// Init/Running by a previous process (spec §4.4b "crash-safe...resumed
// by re-entering the poll loop"). Called once at startup, not on the
// gocron schedule, since it only ever needs to run once per process
// lifetime.
func ResumeBaktaJobs(ctx context.Context, jobs []string, orch resumer) {
	for _, id := range jobs {
		go orch.Run(ctx, id)
	}
}
