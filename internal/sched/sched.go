// Package sched triggers agent runs on cron schedules. The engine's
// own rules still apply on every tick: a slot that is still running
// makes the tick a no-op, a policy denial skips it.
package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"

	"github.com/lightangel1412/reconness/internal/model"
)

// Runner is the slice of the engine the scheduler needs.
type Runner interface {
	Run(ctx context.Context, targetName, subdomainName, agentName string) error
	RunAllSubdomains(ctx context.Context, targetName, agentName string) (int, error)
}

// ParseCron validates a 5-field cron expression or an @macro.
func ParseCron(expr string) error {
	e := strings.TrimSpace(expr)
	if e == "" {
		return fmt.Errorf("empty cron expression")
	}

	if strings.HasPrefix(e, "@") {
		_, err := cron.ParseStandard(e)
		return err
	}

	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser5.Parse(e)
	return err
}

type Scheduler struct {
	scheduler gocron.Scheduler
}

// New builds a scheduler with one job per config entry. Jobs do not
// fire until Start is called.
func New(ctx context.Context, entries []model.ScheduleConfig, runner Runner) (*Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}

	for _, entry := range entries {
		if err := ParseCron(entry.Cron); err != nil {
			return nil, fmt.Errorf("schedule %s/%s: parsing cron: %w", entry.Target, entry.Agent, err)
		}
		_, err := scheduler.NewJob(
			gocron.CronJob(entry.Cron, false),
			gocron.NewTask(tick, ctx, entry, runner),
		)
		if err != nil {
			return nil, fmt.Errorf("schedule %s/%s: %w", entry.Target, entry.Agent, err)
		}
	}

	return &Scheduler{scheduler: scheduler}, nil
}

func tick(ctx context.Context, entry model.ScheduleConfig, runner Runner) {
	var err error
	switch {
	case entry.AllSubdomains != nil && *entry.AllSubdomains:
		_, err = runner.RunAllSubdomains(ctx, entry.Target, entry.Agent)
	case entry.Subdomain != nil:
		err = runner.Run(ctx, entry.Target, *entry.Subdomain, entry.Agent)
	default:
		err = runner.Run(ctx, entry.Target, "", entry.Agent)
	}

	switch {
	case err == nil:
	case errors.Is(err, model.ErrAlreadyRunning), errors.Is(err, model.ErrDenied):
		slog.DebugContext(ctx, "scheduled run skipped",
			"target", entry.Target, "agent", entry.Agent, "reason", err)
	default:
		slog.ErrorContext(ctx, "scheduled run failed",
			"target", entry.Target, "agent", entry.Agent, "error", err)
	}
}

func (s *Scheduler) Start() {
	s.scheduler.Start()
}

func (s *Scheduler) Shutdown() error {
	return s.scheduler.Shutdown()
}
