package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/oncue/internal/trigger"
)

// Recover restores scheduler invariants after a restart. Claims left by
// the previous process are cleared, execution records it never finished
// are closed out as canceled, and fire times that passed while the
// daemon was down are recomputed. Missed occurrences are not backfilled;
// only a pending once fire survives downtime and is delivered late.
func (s *Scheduler) Recover(ctx context.Context) error {
	cleared, err := s.jobs.ResetClaims(ctx)
	if err != nil {
		return fmt.Errorf("clearing stale claims: %w", err)
	}

	canceled, err := s.runs.CancelInFlight(ctx, "interrupted by daemon restart")
	if err != nil {
		return fmt.Errorf("closing orphaned execution records: %w", err)
	}

	now := time.Now().UTC()
	stale, err := s.jobs.ListStale(ctx, now)
	if err != nil {
		return fmt.Errorf("listing stale jobs: %w", err)
	}

	recomputed := 0
	for _, j := range stale {
		next, err := trigger.Next(&j.Rule, j.Timezone, j.LastFireAt, now)
		if err != nil {
			log.Error().Err(err).Str("job", j.Name).
				Msg("Failed to recompute fire time during recovery")
			continue
		}

		if err := s.jobs.UpdateNextFire(ctx, j.ID, next); err != nil {
			log.Error().Err(err).Str("job", j.Name).
				Msg("Failed to update fire time during recovery")
			continue
		}
		recomputed++

		if next != nil {
			log.Info().
				Str("job", j.Name).
				Time("next_fire_at", *next).
				Msg("Missed occurrences skipped, schedule resumed")
		}
	}

	log.Info().
		Int64("claims_cleared", cleared).
		Int64("records_canceled", canceled).
		Int("fires_recomputed", recomputed).
		Msg("Scheduler state recovered")

	return nil
}
