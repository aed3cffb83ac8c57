// Package syncer drives sync attempts: it guards against overlapping
// syncs per project, runs the diff tool and reconciler in the background
// under a hard timeout, and always settles the project status to a
// terminal value.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwpark-dev/fmsportal/internal/difftool"
	"github.com/jwpark-dev/fmsportal/internal/reconcile"
	"github.com/jwpark-dev/fmsportal/internal/review"
)

// DefaultTimeout bounds one sync attempt end to end, including the
// subprocess. Exceeding it kills the subprocess and settles the project
// to sync error.
const DefaultTimeout = 10 * time.Minute

// ErrSyncInFlight is returned by Refresh when the project is already
// syncing. The caller should surface it without starting anything.
var ErrSyncInFlight = errors.New("sync already in flight for this project")

// Store is the persistence surface a sync attempt reads and mutates. The
// second block serves rebuild attempts, which salvage and restore human
// annotations around a full re-population of the review set.
type Store interface {
	reconcile.ReviewStore
	TryBeginSync(ctx context.Context, projectID int64) (bool, error)
	SetProjectStatus(ctx context.Context, projectID int64, status review.ProjectStatus) error
	ListGroups(ctx context.Context, projectID int64) ([]review.Group, error)
	ListModelCombinations(ctx context.Context, groupID int64) ([]review.ModelCombination, error)

	ListReviewsByGroup(ctx context.Context, groupID int64) ([]review.KeyReview, error)
	ListComments(ctx context.Context, keyReviewID int64) ([]review.Comment, error)
	DeleteReviewsByGroup(ctx context.Context, groupID int64) error
	SetReviewStatus(ctx context.Context, id int64, status review.ReviewStatus) error
	UpdateReviewAnnotations(ctx context.Context, id int64, konaIDs, clNumbers string) error
}

// Notifier observes project status transitions. The websocket hub
// implements it; a nil notifier is fine.
type Notifier interface {
	ProjectStatusChanged(projectID int64, status review.ProjectStatus)
}

// Orchestrator owns the sync state machine over Project.status:
// active|sync error -> syncing -> active|sync error.
type Orchestrator struct {
	store    Store
	runner   difftool.Runner
	rec      *reconcile.Reconciler
	logger   *log.Logger
	notifier Notifier

	// Timeout bounds one attempt. Zero means DefaultTimeout.
	Timeout time.Duration

	wg sync.WaitGroup
}

// New wires an orchestrator. The reconciler shares the store and logger.
func New(store Store, runner difftool.Runner, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}
	return &Orchestrator{
		store:  store,
		runner: runner,
		rec:    reconcile.New(store, logger),
		logger: logger,
	}
}

// SetNotifier registers a status observer. Must be called before the
// first Refresh.
func (o *Orchestrator) SetNotifier(n Notifier) { o.notifier = n }

// Refresh starts a sync attempt for the project and returns as soon as
// the project is marked syncing; the attempt itself runs in the
// background with its own error boundary. Returns ErrSyncInFlight if
// another attempt holds the project.
func (o *Orchestrator) Refresh(ctx context.Context, projectID int64) error {
	return o.start(ctx, projectID, false)
}

// RefreshRebuild starts a sync attempt that re-populates the project's
// review set from scratch: existing reviews are dropped once the diff
// tool has answered, fresh ones are inserted, and human annotations
// (status, tickets, comments) carry over by composite-key match. Keys
// absent from the fresh output are gone afterwards. This is the attempt
// mode configuration edits use.
func (o *Orchestrator) RefreshRebuild(ctx context.Context, projectID int64) error {
	return o.start(ctx, projectID, true)
}

func (o *Orchestrator) start(ctx context.Context, projectID int64, rebuild bool) error {
	ok, err := o.store.TryBeginSync(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to begin sync for project %d: %w", projectID, err)
	}
	if !ok {
		return ErrSyncInFlight
	}
	o.notify(projectID, review.StatusSyncing)

	attempt := uuid.NewString()
	o.logger.Printf("sync %s: started for project %d (rebuild=%t)", attempt, projectID, rebuild)

	o.wg.Add(1)
	go o.runAttempt(projectID, attempt, rebuild)
	return nil
}

// Wait blocks until all in-flight attempts settle. Used on shutdown and
// in tests.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return DefaultTimeout
}

// runAttempt is the background half of Refresh. Whatever happens inside,
// the project ends at a terminal status.
func (o *Orchestrator) runAttempt(projectID int64, attempt string, rebuild bool) {
	defer o.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout())
	defer cancel()

	status := review.StatusActive
	defer func() {
		if p := recover(); p != nil {
			o.logger.Printf("sync %s: panic: %v", attempt, p)
			status = review.StatusSyncError
		}
		o.settle(projectID, attempt, status)
	}()

	if err := o.sync(ctx, projectID, attempt, rebuild); err != nil {
		o.logger.Printf("sync %s: failed: %v", attempt, err)
		status = review.StatusSyncError
	}
}

// settle writes the terminal status under its own deadline, detached
// from the attempt's (possibly expired) context.
func (o *Orchestrator) settle(projectID int64, attempt string, status review.ProjectStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := o.store.SetProjectStatus(ctx, projectID, status); err != nil {
		o.logger.Printf("sync %s: failed to settle project %d to %q: %v", attempt, projectID, status, err)
		return
	}
	o.notify(projectID, status)
	o.logger.Printf("sync %s: project %d settled to %q", attempt, projectID, status)
}

func (o *Orchestrator) notify(projectID int64, status review.ProjectStatus) {
	if o.notifier != nil {
		o.notifier.ProjectStatusChanged(projectID, status)
	}
}

// sync is one strictly sequential attempt: load topology, run the diff
// tool, reconcile. Any error aborts the remainder. A rebuild attempt
// additionally drops and re-populates the review set, but only after the
// tool has answered, so a tool failure never destroys reviews.
func (o *Orchestrator) sync(ctx context.Context, projectID int64, attempt string, rebuild bool) error {
	groups, err := o.store.ListGroups(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to load groups: %w", err)
	}
	if len(groups) == 0 {
		o.logger.Printf("sync %s: project %d has no groups, nothing to do", attempt, projectID)
		return nil
	}

	combos := make([][]review.ModelCombination, len(groups))
	for i := range groups {
		combos[i], err = o.store.ListModelCombinations(ctx, groups[i].ID)
		if err != nil {
			return fmt.Errorf("failed to load combinations for group %s: %w", groups[i].Name, err)
		}
	}

	slots, spec, err := difftool.BuildPlan(groups, combos)
	if err != nil {
		return fmt.Errorf("failed to build branch/models spec: %w", err)
	}
	if len(slots) == 0 {
		o.logger.Printf("sync %s: project %d has no model combinations, nothing to do", attempt, projectID)
		return nil
	}

	result, err := o.runner.Diff(ctx, spec, difftool.HasTwoVsTwo(groups))
	if err != nil {
		return fmt.Errorf("diff tool failed: %w", err)
	}

	records := zipRecords(slots, result.Datasets)

	var salvage salvageSet
	if rebuild {
		salvage, err = o.salvageReviews(ctx, projectID, groups)
		if err != nil {
			return err
		}
	}

	allData := func(ctx context.Context) ([]reconcile.ComboRecords, error) {
		full, err := o.runner.AllData(ctx, spec)
		if err != nil {
			return nil, err
		}
		return zipRecords(slots, full.Datasets), nil
	}

	sum, err := o.rec.Run(ctx, projectID, records, allData)
	if err != nil {
		return err
	}
	o.logger.Printf("sync %s: project %d reconciled: %d created, %d updated, %d unchanged, %d missing",
		attempt, projectID, sum.Created, sum.Updated, sum.Unchanged, sum.Missing)

	if rebuild {
		restored, err := o.restoreAnnotations(ctx, projectID, salvage)
		if err != nil {
			return err
		}
		o.logger.Printf("sync %s: project %d rebuilt, %d reviews kept their annotations", attempt, projectID, restored)
	}
	return nil
}

// zipRecords pairs result blocks with the slots they were requested for.
// Blocks are positional; a skipped block leaves an empty dataset at its
// index, so alignment survives partial parses.
func zipRecords(slots []difftool.Slot, datasets []difftool.Dataset) []reconcile.ComboRecords {
	records := make([]reconcile.ComboRecords, 0, len(slots))
	for i, slot := range slots {
		if i >= len(datasets) {
			break
		}
		records = append(records, reconcile.ComboRecords{
			Group: slot.Group,
			Combo: slot.Combo,
			Rows:  datasets[i].Rows,
		})
	}
	return records
}
