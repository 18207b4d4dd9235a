// Package scheduler runs named jobs on independent fixed intervals.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is one periodic task. A job never overlaps itself: a tick that arrives
// while Run is still executing is dropped.
type Job struct {
	Name       string
	Interval   time.Duration
	Run        func(ctx context.Context)
	RunAtStart bool
}

// Scheduler owns one goroutine per job.
type Scheduler struct {
	mu      sync.Mutex
	jobs    []Job
	started bool
	wg      sync.WaitGroup
	logger  zerolog.Logger
}

// New creates an empty scheduler.
func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{logger: logger.With().Str("component", "scheduler").Logger()}
}

// Add registers a job. Jobs must be added before Start.
func (s *Scheduler) Add(j Job) error {
	if j.Name == "" || j.Interval <= 0 || j.Run == nil {
		return errors.New("scheduler: job needs a name, positive interval and run func")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler: already started")
	}
	s.jobs = append(s.jobs, j)
	return nil
}

// Start launches every job; they stop when ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
}

// Wait blocks until every job goroutine has returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) loop(ctx context.Context, j Job) {
	defer s.wg.Done()
	log := s.logger.With().Str("job", j.Name).Logger()
	log.Info().Dur("interval", j.Interval).Msg("job started")

	if j.RunAtStart {
		s.run(ctx, j, log)
	}
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("job stopped")
			return
		case <-ticker.C:
			s.run(ctx, j, log)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, j Job, log zerolog.Logger) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("job panicked")
		}
	}()
	start := time.Now()
	j.Run(ctx)
	log.Debug().Dur("took", time.Since(start)).Msg("job finished")
}
