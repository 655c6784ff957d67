package sched_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lightangel1412/reconness/internal/model"
	"github.com/lightangel1412/reconness/internal/sched"
)

func TestParseCron(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{"* * * * *", "0 3 * * *", "*/5 8-18 * * 1-5", "@daily", "@every 90s"} {
		require.NoError(t, sched.ParseCron(expr), expr)
	}

	for _, expr := range []string{"", "  ", "* * *", "61 * * * *", "@sometimes"} {
		require.Error(t, sched.ParseCron(expr), expr)
	}
}

type fakeRunner struct {
	mu    sync.Mutex
	runs  []model.RunKey
	fanns []string

	tick chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{tick: make(chan struct{}, 16)}
}

func (f *fakeRunner) Run(_ context.Context, target, subdomain, agent string) error {
	f.mu.Lock()
	f.runs = append(f.runs, model.RunKey{Target: target, Subdomain: subdomain, Agent: agent})
	f.mu.Unlock()
	f.tick <- struct{}{}
	return nil
}

func (f *fakeRunner) RunAllSubdomains(_ context.Context, target, agent string) (int, error) {
	f.mu.Lock()
	f.fanns = append(f.fanns, target+"/"+agent)
	f.mu.Unlock()
	f.tick <- struct{}{}
	return 1, nil
}

func TestNewRejectsBadCron(t *testing.T) {
	t.Parallel()

	entries := []model.ScheduleConfig{
		{Cron: "not a cron", Target: "example.com", Agent: "sublist3r"},
	}
	_, err := sched.New(t.Context(), entries, newFakeRunner())
	require.Error(t, err)
	require.ErrorContains(t, err, "parsing cron")
}

func TestScheduledRun(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	entries := []model.ScheduleConfig{
		{Cron: "@every 1s", Target: "example.com", Agent: "sublist3r"},
	}

	scheduler, err := sched.New(t.Context(), entries, runner)
	require.NoError(t, err)

	scheduler.Start()
	defer func() {
		require.NoError(t, scheduler.Shutdown())
	}()

	select {
	case <-runner.tick:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled run never fired")
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.NotEmpty(t, runner.runs)
	require.Equal(t, model.RunKey{Target: "example.com", Agent: "sublist3r"}, runner.runs[0])
}

func TestScheduledFanOut(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	all := true
	entries := []model.ScheduleConfig{
		{Cron: "@every 1s", Target: "example.com", Agent: "httpx", AllSubdomains: &all},
	}

	scheduler, err := sched.New(t.Context(), entries, runner)
	require.NoError(t, err)

	scheduler.Start()
	defer func() {
		require.NoError(t, scheduler.Shutdown())
	}()

	select {
	case <-runner.tick:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled fan-out never fired")
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.NotEmpty(t, runner.fanns)
	require.Equal(t, "example.com/httpx", runner.fanns[0])
}
