// Package services – Sweeper
//
// This file implements the supervised background task that keeps derived
// state converged: it persists co-sign expirations and materializes missed
// doses whose very-late cutoff has elapsed. Each sweep is idempotent — the
// missed materialization keys are deterministic and the expiry transition is
// a guarded UPDATE — so overlapping sweeps and restarts are harmless.
//
// The sweeper is an explicit service with a documented lifecycle: Start and
// Stop toggle a single loop, and Status is queryable without side effects.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"

	"github.com/kjanat/vet-med-tracker-sub009/internal/observability"
	"github.com/kjanat/vet-med-tracker-sub009/internal/repo"
	"github.com/kjanat/vet-med-tracker-sub009/internal/schedule"
)

// Sweeper periodically expires lapsed co-sign requests and materializes
// missed doses.
type Sweeper struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// Recorder materializes missed doses through the idempotent pipeline.
	Recorder *RecordingService

	// Interval between sweeps. Zero means 1 minute.
	Interval time.Duration
	// Lookback is how far behind now each sweep scans for elapsed occurrences.
	// Zero means 48 hours.
	Lookback time.Duration

	// Now overrides the clock for tests. Defaults to time.Now.
	Now func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	lastRun time.Time
	lastErr error
	sweeps  uint64
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// SweepReport is the outcome of one sweep iteration.
type SweepReport struct {
	CoSignsExpired int64 `json:"cosigns_expired"`
	MissedCreated  int   `json:"missed_created"`
}

// SweeperStatus is a side-effect-free snapshot of the loop's state.
type SweeperStatus struct {
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitempty"`
	Sweeps    uint64    `json:"sweeps"`
	LastError string    `json:"last_error,omitempty"`
}

// Start launches the sweep loop. Starting a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				report, err := s.RunOnce(ctx)
				s.mu.Lock()
				s.lastRun = s.now()
				s.lastErr = err
				s.sweeps++
				s.mu.Unlock()
				if err != nil {
					log.Error().Err(err).Msg("sweep failed")
					continue
				}
				if report.CoSignsExpired > 0 || report.MissedCreated > 0 {
					log.Info().
						Int64("cosigns_expired", report.CoSignsExpired).
						Int("missed_created", report.MissedCreated).
						Msg("sweep applied")
				}
			}
		}
	}(s.stopCh, s.doneCh)
}

// Stop halts the loop and waits for the in-flight sweep to finish. Stopping a
// stopped sweeper is a no-op.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()
	<-done
}

// Status reports the loop's state without side effects.
func (s *Sweeper) Status() SweeperStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SweeperStatus{
		Running: s.running,
		LastRun: s.lastRun,
		Sweeps:  s.sweeps,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// RunOnce performs a single sweep: persist lapsed co-sign expirations, then
// materialize a missed record for every elapsed occurrence of every
// fixed-time regimen within the lookback window. Regimens discontinued inside
// the window are swept up to their discontinuation. Re-running over the same
// window creates nothing new.
func (s *Sweeper) RunOnce(ctx context.Context) (*SweepReport, error) {
	tr := otel.Tracer("services/Sweeper")
	ctx, span := tr.Start(ctx, "RunOnce")
	defer span.End()

	now := s.now()
	report := &SweepReport{}

	expired, err := repo.ExpireLapsedCoSigns(ctx, s.DB, now)
	if err != nil {
		return report, err
	}
	report.CoSignsExpired = expired

	lookback := s.Lookback
	if lookback <= 0 {
		lookback = 48 * time.Hour
	}
	from := now.Add(-lookback)

	// Regimens discontinued within the window still get their pre-discontinuation
	// misses materialized.
	regs, err := repo.ListSweepableFixedRegimens(ctx, s.DB, from)
	if err != nil {
		return report, err
	}

	for i := range regs {
		reg := &regs[i]
		occs, resErr := schedule.ResolveOccurrences(reg, from, now)
		if resErr != nil {
			// A regimen with bad schedule data must not stall the sweep.
			log.Warn().Err(resErr).Str("regimen_id", reg.ID).Msg("skipping unresolvable regimen")
			continue
		}
		tol := schedule.ToleranceFor(reg, s.Recorder.DefaultLateAfter, s.Recorder.DefaultVeryLateAfter)
		for _, occ := range occs {
			if reg.DiscontinuedAt != nil && !occ.ScheduledAt.Before(*reg.DiscontinuedAt) {
				continue
			}
			if now.Before(schedule.MissedCutoff(occ.ScheduledAt, tol)) {
				continue
			}
			created, matErr := s.Recorder.MaterializeMissed(ctx, reg, occ.ScheduledAt)
			if matErr != nil {
				return report, matErr
			}
			if created {
				report.MissedCreated++
			}
		}
	}

	observability.CountSweep()
	return report, nil
}
