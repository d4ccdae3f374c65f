// Package scheduler drives job fires. A polling loop claims each due
// fire exactly once, hands it to the executor pool, and immediately
// advances the job to its next occurrence. Fires and executions are
// decoupled on purpose: a slow script delays nothing but its own job.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/oncue/internal/config"
	"github.com/watzon/oncue/internal/database"
	"github.com/watzon/oncue/internal/executor"
	"github.com/watzon/oncue/internal/job"
	"github.com/watzon/oncue/internal/metrics"
	"github.com/watzon/oncue/internal/runlog"
	"github.com/watzon/oncue/internal/trigger"
)

const (
	defaultPollInterval      = 5 * time.Second
	defaultClaimBatch        = 100
	defaultRescheduleRetries = 3
	defaultBackoff           = 1 * time.Second
	defaultBackoffMax        = 10 * time.Second
)

// Scheduler owns the polling loop and the claim/advance cycle.
type Scheduler struct {
	db   *database.DB
	jobs *job.Store
	runs *runlog.Store
	pool *executor.Pool

	pollInterval      time.Duration
	claimBatch        int
	rescheduleRetries int
	backoff           time.Duration
	backoffMax        time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. Zero config values fall back to
// defaults (5s poll, 100 claims per wake, 3 reschedule attempts).
func NewScheduler(db *database.DB, jobs *job.Store, runs *runlog.Store, pool *executor.Pool, cfg *config.SchedulerConfig) *Scheduler {
	if cfg == nil {
		cfg = &config.SchedulerConfig{}
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	claimBatch := cfg.ClaimBatch
	if claimBatch <= 0 {
		claimBatch = defaultClaimBatch
	}
	retries := cfg.RescheduleRetries
	if retries <= 0 {
		retries = defaultRescheduleRetries
	}
	backoff := cfg.RescheduleBackoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	backoffMax := cfg.RescheduleBackoffMax
	if backoffMax <= 0 {
		backoffMax = defaultBackoffMax
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		db:                db,
		jobs:              jobs,
		runs:              runs,
		pool:              pool,
		pollInterval:      pollInterval,
		claimBatch:        claimBatch,
		rescheduleRetries: retries,
		backoff:           backoff,
		backoffMax:        backoffMax,
		ctx:               ctx,
		cancel:            cancel,
	}
}

// Start begins background polling.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.pollLoop()

	log.Info().
		Dur("poll_interval", s.pollInterval).
		Int("claim_batch", s.claimBatch).
		Msg("Scheduler started")
}

// Stop shuts the polling loop down. In-flight executions belong to the
// pool and are stopped separately.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.ProcessDue(s.ctx); err != nil {
				log.Error().Err(err).Msg("Failed to process due jobs")
			}
			s.publishStats(s.ctx)
		}
	}
}

// ProcessDue claims and dispatches every job whose fire time has
// arrived, up to the claim batch limit.
func (s *Scheduler) ProcessDue(ctx context.Context) error {
	now := time.Now().UTC()

	due, err := s.jobs.GetDue(ctx, now, s.claimBatch)
	if err != nil {
		return fmt.Errorf("getting due jobs: %w", err)
	}

	for _, j := range due {
		if err := s.fire(ctx, j, now); err != nil {
			log.Error().Err(err).Str("job", j.Name).Msg("Failed to fire job")
		}
	}

	return nil
}

// fire claims one due fire and hands it to the pool. The claim and the
// pending execution record commit in a single transaction, so exactly
// one process-wide winner exists per scheduled instant.
func (s *Scheduler) fire(ctx context.Context, j *job.Job, now time.Time) error {
	if j.NextFireAt == nil {
		return nil
	}
	scheduledAt := *j.NextFireAt

	rec := &runlog.Record{
		JobID:       j.ID,
		JobName:     j.Name,
		Trigger:     runlog.TriggerSchedule,
		ScheduledAt: scheduledAt,
	}

	claimed := false
	err := s.db.Transaction(ctx, func(tx *database.Tx) error {
		var claimErr error
		claimed, claimErr = s.jobs.Claim(ctx, tx, j.ID, scheduledAt, now)
		if claimErr != nil {
			return claimErr
		}
		if !claimed {
			return nil
		}
		return s.runs.CreateTx(ctx, tx, rec)
	})
	if err != nil {
		return fmt.Errorf("claiming fire: %w", err)
	}
	if !claimed {
		// A concurrent wake or a mutation moved the fire time first.
		return nil
	}

	metrics.RecordFireClaimed(string(runlog.TriggerSchedule))

	log.Debug().
		Str("job", j.Name).
		Time("scheduled_at", scheduledAt).
		Str("run_id", rec.ID).
		Msg("Fire claimed")

	s.pool.Submit(&executor.Task{Job: j, Record: rec})

	return s.advance(ctx, j, scheduledAt)
}

// advance computes the fire after firedAt and persists it, releasing
// the claim. A job whose schedule cannot be advanced is parked as
// degraded rather than left to refire in a loop.
func (s *Scheduler) advance(ctx context.Context, j *job.Job, firedAt time.Time) error {
	next, err := trigger.Next(&j.Rule, j.Timezone, &firedAt, time.Now().UTC())
	if err != nil {
		s.markDegraded(ctx, j, fmt.Sprintf("computing next fire: %v", err))
		return fmt.Errorf("computing next fire: %w", err)
	}

	if err := s.reschedule(ctx, j, firedAt, next); err != nil {
		s.markDegraded(ctx, j, fmt.Sprintf("persisting next fire: %v", err))
		return fmt.Errorf("persisting next fire: %w", err)
	}

	if next == nil {
		log.Info().Str("job", j.Name).Msg("Job has no further occurrences")
	}

	return nil
}

func (s *Scheduler) reschedule(ctx context.Context, j *job.Job, firedAt time.Time, next *time.Time) error {
	backoff := s.backoff
	var lastErr error

	for attempt := 1; attempt <= s.rescheduleRetries; attempt++ {
		lastErr = s.jobs.Reschedule(ctx, j.ID, firedAt, next)
		if lastErr == nil {
			return nil
		}

		log.Warn().
			Err(lastErr).
			Str("job", j.Name).
			Int("attempt", attempt).
			Msg("Failed to persist next fire, retrying")

		if attempt == s.rescheduleRetries {
			break
		}
		metrics.RecordRescheduleRetry()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > s.backoffMax {
			backoff = s.backoffMax
		}
	}

	return lastErr
}

func (s *Scheduler) markDegraded(ctx context.Context, j *job.Job, reason string) {
	if err := s.jobs.MarkDegraded(ctx, j.ID, reason); err != nil {
		log.Error().Err(err).Str("job", j.Name).Msg("Failed to mark job degraded")
		return
	}

	log.Error().
		Str("job", j.Name).
		Str("reason", reason).
		Msg("Job degraded, schedule parked until re-enabled")
}

// RunNow fires a job immediately, outside its schedule. The manual run
// does not consume or shift the scheduled next fire, and it works on
// disabled jobs. Overlap with a running execution is still skipped by
// the pool.
func (s *Scheduler) RunNow(ctx context.Context, jobID string) (*runlog.Record, error) {
	j, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	rec := &runlog.Record{
		JobID:       j.ID,
		JobName:     j.Name,
		Trigger:     runlog.TriggerManual,
		ScheduledAt: time.Now().UTC(),
	}
	if err := s.runs.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating execution record: %w", err)
	}

	metrics.RecordFireClaimed(string(runlog.TriggerManual))

	s.pool.Submit(&executor.Task{Job: j, Record: rec})

	log.Info().Str("job", j.Name).Str("run_id", rec.ID).Msg("Manual run queued")

	return rec, nil
}

func (s *Scheduler) publishStats(ctx context.Context) {
	stats, err := s.jobs.Counts(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to read job counts")
		return
	}
	metrics.UpdateJobStats(stats.Total, stats.Enabled, stats.Degraded)

	dbStats := s.db.Stats()
	metrics.UpdateDBStats(dbStats.OpenConnections, dbStats.InUse, dbStats.Idle)
}
