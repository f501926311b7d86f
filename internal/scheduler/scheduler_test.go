package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/i474232898/weather-history-collector/internal/weather"
)

type countingRunner struct {
	mu       sync.Mutex
	triggers []string
}

func (r *countingRunner) RunCycle(_ context.Context, trigger string) weather.CycleReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers = append(r.triggers, trigger)
	return weather.CycleReport{Trigger: trigger}
}

func (r *countingRunner) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.triggers...)
}

func waitForNextRun(t *testing.T, s *Scheduler) time.Time {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if next := s.NextRun(); !next.IsZero() {
			return next
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("next run was never scheduled")
	return time.Time{}
}

func TestStartRunsStartupCycleAndSchedulesDaily(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Vienna")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	runner := &countingRunner{}
	s := New(runner, "00:05", loc, true, zaptest.NewLogger(t))
	if !s.NextRun().IsZero() {
		t.Fatalf("expected no next run before Start")
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if got := runner.calls(); len(got) != 1 || got[0] != "startup" {
		t.Fatalf("expected one startup cycle, got %v", got)
	}

	next := waitForNextRun(t, s).In(loc)
	if next.Hour() != 0 || next.Minute() != 5 {
		t.Fatalf("expected next run at 00:05 local time, got %v", next)
	}
	if !next.After(time.Now()) {
		t.Fatalf("expected next run in the future, got %v", next)
	}

	time.Sleep(50 * time.Millisecond)
	if got := runner.calls(); len(got) != 1 {
		t.Fatalf("daily job must wait for its schedule, got %v", got)
	}
}

func TestStartWithoutStartupCycle(t *testing.T) {
	runner := &countingRunner{}
	s := New(runner, "12:00", nil, false, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if got := runner.calls(); len(got) != 0 {
		t.Fatalf("expected no cycle at start, got %v", got)
	}
	next := waitForNextRun(t, s)
	if next.UTC().Hour() != 12 || next.UTC().Minute() != 0 {
		t.Fatalf("expected next run at 12:00 UTC, got %v", next)
	}
}

func TestStartRejectsBadTime(t *testing.T) {
	s := New(&countingRunner{}, "not-a-time", time.UTC, false, nil)
	if err := s.Start(context.Background()); err == nil {
		s.Stop()
		t.Fatalf("expected error for invalid time")
	}
}
