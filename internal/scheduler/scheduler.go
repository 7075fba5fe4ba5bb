// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scheduler runs background refresh tiers (spec.md §4.10), each
// registered Task an independent goroutine with its own cadence and
// failure counter, joined on shutdown. cmd/dexgraph registers the warm and
// full tiers here; the hot tier runs in hotpool.Manager.RunRefresh and gap
// scanning in discovery.GapRepairer, outside this package.
package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/luxfi/dexgraph/internal/logging"
)

// RunFunc is one tier's unit of work for a single firing.
type RunFunc func(ctx context.Context) error

// Task is one independently-scheduled tier (spec.md §4.10's table: hot,
// warm, full, gap scan).
type Task struct {
	Name string
	Run  RunFunc

	// Interval drives ticker-based tiers (hot, warm, gap scan). Leave zero
	// when NextFire is set instead.
	Interval time.Duration

	// NextFire computes the next firing time for cron-like tiers (full
	// refresh's fixed-UTC-hour cadence); takes precedence over Interval
	// when non-nil.
	NextFire func(now time.Time) time.Time

	// MaxConsecutiveFailures disables the tier for DisableFor once this
	// many firings in a row have failed. Zero means "best-effort, never
	// disable" (spec.md's Full-refresh policy).
	MaxConsecutiveFailures int
	DisableFor             time.Duration
}

// Scheduler owns every registered Task and joins their lifetimes.
type Scheduler struct {
	log   logging.Logger
	tasks []*Task

	mu        sync.Mutex
	failures  map[string]int
	disabled  map[string]time.Time
}

// New constructs an empty scheduler; Register each tier before calling Run.
func New() *Scheduler {
	return &Scheduler{
		log:      logging.Component("scheduler"),
		failures: make(map[string]int),
		disabled: make(map[string]time.Time),
	}
}

// Register adds a tier. Call before Run.
func (s *Scheduler) Register(t *Task) {
	s.tasks = append(s.tasks, t)
}

// Run spawns one goroutine per registered task and blocks until every
// task has exited — either because ctx was canceled (clean shutdown) or
// because a task's Run returned a non-policy-covered error it chose to
// propagate (tasks in this package never do; firing errors are retried
// per-tier, not surfaced to the group).
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range s.tasks {
		t := t
		g.Go(func() error {
			s.runTask(gctx, t)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) runTask(ctx context.Context, t *Task) {
	for {
		wait := s.nextWait(t)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if s.isDisabled(t.Name) {
			continue
		}
		if err := t.Run(ctx); err != nil {
			s.log.Warn("scheduled task failed", "task", t.Name, "err", err)
			s.recordFailure(t)
		} else {
			s.resetFailures(t.Name)
		}
	}
}

func (s *Scheduler) nextWait(t *Task) time.Duration {
	now := time.Now()
	if t.NextFire != nil {
		return t.NextFire(now).Sub(now)
	}
	if t.Interval <= 0 {
		return time.Minute
	}
	return t.Interval
}

func (s *Scheduler) isDisabled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.disabled[name]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(s.disabled, name)
		return false
	}
	return true
}

func (s *Scheduler) recordFailure(t *Task) {
	if t.MaxConsecutiveFailures <= 0 {
		return // best-effort tier, never disables
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[t.Name]++
	if s.failures[t.Name] >= t.MaxConsecutiveFailures {
		s.disabled[t.Name] = time.Now().Add(t.DisableFor)
		s.failures[t.Name] = 0
		s.log.Warn("disabling task after consecutive failures", "task", t.Name, "until", s.disabled[t.Name])
	}
}

func (s *Scheduler) resetFailures(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[name] = 0
}

// NextUTC returns the next occurrence of hour:00 UTC strictly after now,
// for the full-refresh tier's fixed-UTC-hour cadence (spec.md §4.10). A
// single function, not worth a cron-expression library.
func NextUTC(hour int) func(now time.Time) time.Time {
	return func(now time.Time) time.Time {
		u := now.UTC()
		next := time.Date(u.Year(), u.Month(), u.Day(), hour, 0, 0, 0, time.UTC)
		if !next.After(u) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}
}
