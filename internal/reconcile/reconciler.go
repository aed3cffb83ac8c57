package reconcile

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/jwpark-dev/fmsportal/internal/difftool"
	"github.com/jwpark-dev/fmsportal/internal/review"
)

// ComboRecords couples one group and model combination with the rows the
// diff tool produced for it.
type ComboRecords struct {
	Group review.Group
	Combo review.ModelCombo
	Rows  []difftool.Row
}

// AllDataFunc fetches the tool's full-data view for the same spec the
// diff came from. The reconciler calls it at most once per run, and only
// when some stored review is absent from the diff result.
type AllDataFunc func(ctx context.Context) ([]ComboRecords, error)

// ReviewStore is the persistence surface the reconciler mutates.
type ReviewStore interface {
	ListReviewsByProject(ctx context.Context, projectID int64) ([]review.KeyReview, error)
	CreateKeyReview(ctx context.Context, k *review.KeyReview) error
	UpdateReviewValues(ctx context.Context, id int64, vals review.RoleValues, status review.ReviewStatus) error
	CreateComment(ctx context.Context, c *review.Comment) error
}

// Summary counts what one reconciliation run did.
type Summary struct {
	Created   int
	Updated   int
	Unchanged int
	Missing   int
}

// Reconciler applies fresh diff records onto the stored key reviews.
type Reconciler struct {
	store  ReviewStore
	logger *log.Logger
}

// New returns a reconciler writing through the given store.
func New(store ReviewStore, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}
	return &Reconciler{store: store, logger: logger}
}

// comboIndex indexes review rows two levels deep: outer by composite key,
// inner by the rendered model combination.
type comboIndex map[review.CompositeKey]map[string]*indexed

type indexed struct {
	group  review.Group
	combo  review.ModelCombo
	values review.RoleValues
	old    *review.KeyReview
}

func indexRecords(records []ComboRecords) comboIndex {
	idx := make(comboIndex)
	for ri := range records {
		rec := &records[ri]
		rendered := rec.Combo.Render()
		for _, row := range rec.Rows {
			key := review.CompositeKey{KeyName: row.Key, GroupName: rec.Group.Name}
			inner, ok := idx[key]
			if !ok {
				inner = make(map[string]*indexed)
				idx[key] = inner
			}
			inner[rendered] = &indexed{group: rec.Group, combo: rec.Combo, values: row.Values}
		}
	}
	return idx
}

// valuesEqual compares only the live roles of the comparison type, so a
// stale value left in an unused slot never forces a spurious update.
func valuesEqual(c review.ComparisonType, a, b review.RoleValues) bool {
	for _, r := range c.Roles() {
		if a.Get(r) != b.Get(r) {
			return false
		}
	}
	return true
}

// Run classifies every composite key in the union of the stored reviews
// and the fresh records exactly once, applying the mutation each case
// calls for. Keys only in the fresh set become new unreviewed rows; keys
// in both either stay untouched or get updated with a system comment;
// keys only in the stored set are re-checked against the tool's
// full-data view and never deleted here.
func (r *Reconciler) Run(ctx context.Context, projectID int64, records []ComboRecords, allData AllDataFunc) (Summary, error) {
	var sum Summary

	oldReviews, err := r.store.ListReviewsByProject(ctx, projectID)
	if err != nil {
		return sum, fmt.Errorf("failed to load stored reviews: %w", err)
	}

	oldIdx := make(comboIndex, len(oldReviews))
	for i := range oldReviews {
		k := &oldReviews[i]
		inner, ok := oldIdx[k.Key()]
		if !ok {
			inner = make(map[string]*indexed)
			oldIdx[k.Key()] = inner
		}
		inner[k.Models.Render()] = &indexed{values: k.Values, old: k}
	}

	consumed := make(map[*review.KeyReview]bool, len(oldReviews))

	for ri := range records {
		rec := &records[ri]
		rendered := rec.Combo.Render()
		for _, row := range rec.Rows {
			key := review.CompositeKey{KeyName: row.Key, GroupName: rec.Group.Name}

			var old *review.KeyReview
			if inner, ok := oldIdx[key]; ok {
				if entry, ok := inner[rendered]; ok {
					old = entry.old
				}
			}

			if old == nil {
				created := &review.KeyReview{
					ProjectID: projectID,
					GroupID:   rec.Group.ID,
					KeyName:   row.Key,
					GroupName: rec.Group.Name,
					Models:    rec.Combo,
					Values:    row.Values,
					Status:    review.ReviewUnreviewed,
				}
				if err := r.store.CreateKeyReview(ctx, created); err != nil {
					return sum, fmt.Errorf("failed to create review for %s: %w", key, err)
				}
				sum.Created++
				continue
			}

			consumed[old] = true
			if valuesEqual(rec.Group.Comparison, old.Values, row.Values) {
				sum.Unchanged++
				continue
			}
			if err := r.applyValueChange(ctx, old, &rec.Group, rec.Combo, row.Values); err != nil {
				return sum, err
			}
			sum.Updated++
		}
	}

	var missing []*review.KeyReview
	for i := range oldReviews {
		if !consumed[&oldReviews[i]] {
			missing = append(missing, &oldReviews[i])
		}
	}
	sum.Missing = len(missing)
	if len(missing) == 0 || allData == nil {
		return sum, nil
	}

	// Second pass: the diff function only returns differences, so an
	// absent key may simply mean "no longer different". Re-check the
	// stored value against the tool's full-data view before deciding.
	full, err := allData(ctx)
	if err != nil {
		return sum, fmt.Errorf("failed to fetch full data for missing keys: %w", err)
	}
	fullIdx := indexRecords(full)

	for _, old := range missing {
		inner, ok := fullIdx[old.Key()]
		if !ok {
			continue
		}
		entry, ok := inner[old.Models.Render()]
		if !ok {
			continue
		}
		if valuesEqual(entry.group.Comparison, old.Values, entry.values) {
			sum.Unchanged++
			continue
		}
		if err := r.applyValueChange(ctx, old, &entry.group, entry.combo, entry.values); err != nil {
			return sum, err
		}
		sum.Updated++
	}
	return sum, nil
}

// applyValueChange is the common "case 2" mutation: overwrite the role
// values, force the status back to value_changed, and append a system
// comment recording what moved.
func (r *Reconciler) applyValueChange(ctx context.Context, old *review.KeyReview, g *review.Group, combo review.ModelCombo, newVals review.RoleValues) error {
	if err := r.store.UpdateReviewValues(ctx, old.ID, newVals, review.ReviewValueChanged); err != nil {
		return fmt.Errorf("failed to update review %s: %w", old.Key(), err)
	}

	c := &review.Comment{
		KeyReviewID: old.ID,
		Author:      review.SystemAuthor,
		Body:        changeComment(g, combo, old.Values, newVals),
	}
	if err := r.store.CreateComment(ctx, c); err != nil {
		return fmt.Errorf("failed to record change comment for %s: %w", old.Key(), err)
	}
	r.logger.Printf("value changed: project=%d key=%s combo=%s", old.ProjectID, old.Key(), combo.Render())
	return nil
}

// changeComment renders the audit comment for a value change.
func changeComment(g *review.Group, combo review.ModelCombo, oldVals, newVals review.RoleValues) string {
	var b strings.Builder
	fmt.Fprintf(&b, "System: Value changed for model combination %q\n\n", combo.Render())

	b.WriteString("Previous values:\n")
	writeRoleValues(&b, g.Comparison, oldVals)
	b.WriteString("\nNew values:\n")
	writeRoleValues(&b, g.Comparison, newVals)

	fmt.Fprintf(&b, "\nBranches: %s\n", strings.Join(g.BranchList(), ", "))
	fmt.Fprintf(&b, "Changed at: %s", time.Now().UTC().Format(time.RFC3339))
	return b.String()
}

func writeRoleValues(b *strings.Builder, c review.ComparisonType, vals review.RoleValues) {
	for _, r := range c.Roles() {
		fmt.Fprintf(b, "- %s: %s\n", roleLabel(c.RoleName(r)), vals.Get(r))
	}
}

func roleLabel(name string) string {
	if name == "" {
		return name
	}
	runes := []rune(name)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
