package syncer

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/jwpark-dev/fmsportal/internal/review"
)

// SchedulerStore lists the projects eligible for scheduled refresh.
type SchedulerStore interface {
	ListAllProjects(ctx context.Context) ([]*review.Project, error)
}

// Scheduler triggers refreshes on each project's cadence. It keeps the
// last trigger time per project in memory; a restart resets the clock,
// which at worst delays one cycle.
type Scheduler struct {
	store  SchedulerStore
	orch   *Orchestrator
	logger *log.Logger

	// Tick is how often eligibility is checked. Zero means one hour.
	Tick time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastRun map[int64]time.Time
}

// NewScheduler wires a scheduler over the orchestrator.
func NewScheduler(store SchedulerStore, orch *Orchestrator, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(os.Stderr, "[scheduler] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:   store,
		orch:    orch,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		lastRun: make(map[int64]time.Time),
	}
}

// Start runs the scheduling loop until ctx is cancelled or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Println("Starting refresh scheduler")
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop halts the loop and waits for it to exit. In-flight sync attempts
// keep running; wait on the orchestrator to drain those.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Println("Refresh scheduler stopped")
}

func (s *Scheduler) tick() time.Duration {
	if s.Tick > 0 {
		return s.Tick
	}
	return time.Hour
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// runDue refreshes every project whose cadence has elapsed. A project
// already syncing is skipped without resetting its clock.
func (s *Scheduler) runDue(ctx context.Context) {
	projects, err := s.store.ListAllProjects(ctx)
	if err != nil {
		s.logger.Printf("failed to list projects: %v", err)
		return
	}

	now := time.Now()
	for _, p := range projects {
		if p.Status == review.StatusSyncing {
			continue
		}
		last, seen := s.lastRun[p.ID]
		if !seen {
			// First sighting: start the cadence clock, do not refresh.
			s.lastRun[p.ID] = now
			continue
		}
		if now.Sub(last) < p.Refresh.Interval() {
			continue
		}

		err := s.orch.Refresh(ctx, p.ID)
		switch {
		case errors.Is(err, ErrSyncInFlight):
			continue
		case err != nil:
			s.logger.Printf("scheduled refresh of project %d failed: %v", p.ID, err)
		default:
			s.lastRun[p.ID] = now
			s.logger.Printf("scheduled refresh of project %d (%s cadence)", p.ID, p.Refresh)
		}
	}
}
