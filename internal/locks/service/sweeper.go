package service

import (
	"context"
	"reclock/internal/locks/repository"
	"reclock/pkg/config"
	"reclock/pkg/events"
	"time"
)

// Sweeper periodically marks lapsed locks inactive. Correctness never
// depends on it: every read and conditional write already treats an expired
// lock as absent. The sweep keeps the collection tidy and emits an audit
// event for abandoned leases.
type Sweeper struct {
	repo      repository.LockRepository
	publisher events.Publisher
	cfg       *config.Config
	stop      chan struct{}
	done      chan struct{}
}

func NewSweeper(repo repository.LockRepository, publisher events.Publisher, cfg *config.Config) *Sweeper {
	return &Sweeper{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the sweep loop. A zero interval disables sweeping.
func (s *Sweeper) Start() {
	if s.cfg.SweepInterval <= 0 {
		close(s.done)
		s.cfg.Log.Info("Lock sweeper disabled")
		return
	}

	go s.run()
	s.cfg.Log.Info("Lock sweeper started", "interval", s.cfg.SweepInterval)
}

func (s *Sweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()

	now := time.Now().UTC()
	count, err := s.repo.SweepExpired(ctx, now)
	if err != nil {
		s.cfg.Log.Error("Lock sweep failed", "error", err)
		return
	}

	if count > 0 {
		s.publisher.Publish(ctx, events.LockEvent{
			EventType:  events.TypeLocksExpired,
			Reason:     "lease expired",
			SweptCount: count,
			OccurredAt: now,
		})
		s.cfg.Log.Info("Swept expired locks", "count", count)
	}
}

// Stop signals the loop and waits for the in-flight sweep to finish.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}
