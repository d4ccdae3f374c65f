package runlog

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/oncue/internal/config"
)

// Sweeper prunes terminal execution records past the retention age.
type Sweeper struct {
	store    *Store
	maxAge   time.Duration
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewSweeper creates a retention sweeper from the run log settings.
func NewSweeper(store *Store, cfg *config.RetentionConfig) *Sweeper {
	return &Sweeper{
		store:    store,
		maxAge:   cfg.MaxAge,
		interval: cfg.SweepInterval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic pruning.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.loop()

	log.Info().
		Dur("max_age", s.maxAge).
		Dur("sweep_interval", s.interval).
		Msg("Run log retention sweeper started")
}

// Stop shuts the sweeper down and waits for an in-progress sweep.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	deleted, err := s.store.DeleteOlderThan(context.Background(), s.maxAge)
	if err != nil {
		log.Error().Err(err).Msg("Run log retention sweep failed")
		return
	}

	if deleted > 0 {
		log.Info().
			Int64("deleted", deleted).
			Msg("Pruned old execution records")
	}
}
