// Package reconcile implements the configuration differ and the
// key-review reconciler: given the persisted review state and freshly
// computed branch data, it decides which groups, model combinations,
// and key reviews to create, update, or remove.
package reconcile

import (
	"context"
	"fmt"

	"github.com/jwpark-dev/fmsportal/internal/review"
)

// DesiredGroup is one group from a submitted configuration, with the
// model combinations requested under it.
type DesiredGroup struct {
	Group  review.Group
	Combos []review.RoleValues
}

// GroupChange describes a group retained across a configuration update.
type GroupChange struct {
	Current         review.Group
	Branches        review.RoleValues
	BranchesChanged bool
	CombosToAdd     []review.RoleValues
	CombosToRemove  []review.ModelCombination
}

// ConfigDiff is the computed delta between the persisted configuration
// and a newly submitted one.
type ConfigDiff struct {
	GroupsToAdd    []DesiredGroup
	GroupsToRemove []review.Group
	Retained       []GroupChange
}

// Empty reports whether the diff carries no changes at all.
func (d *ConfigDiff) Empty() bool {
	if len(d.GroupsToAdd) > 0 || len(d.GroupsToRemove) > 0 {
		return false
	}
	for _, gc := range d.Retained {
		if gc.BranchesChanged || len(gc.CombosToAdd) > 0 || len(gc.CombosToRemove) > 0 {
			return false
		}
	}
	return true
}

// DiffConfig computes the configuration delta. Groups match by (name,
// comparison type); a group whose comparison type changed counts as a
// removal plus an addition. Within retained groups, model combinations
// match by their full role tuple.
func DiffConfig(current []review.Group, currentCombos map[int64][]review.ModelCombination, desired []DesiredGroup) ConfigDiff {
	var diff ConfigDiff

	oldByKey := make(map[review.ConfigKey]*review.Group, len(current))
	for i := range current {
		oldByKey[current[i].ConfigKey()] = &current[i]
	}

	seen := make(map[review.ConfigKey]bool, len(desired))
	for _, want := range desired {
		key := want.Group.ConfigKey()
		seen[key] = true

		old, ok := oldByKey[key]
		if !ok {
			diff.GroupsToAdd = append(diff.GroupsToAdd, want)
			continue
		}

		gc := GroupChange{Current: *old, Branches: want.Group.Branches}
		if !old.Branches.Equal(want.Group.Branches) {
			gc.BranchesChanged = true
		}

		existing := currentCombos[old.ID]
		matched := make([]bool, len(existing))
		for _, wantCombo := range want.Combos {
			found := false
			for i := range existing {
				if !matched[i] && existing[i].Models.Equal(wantCombo) {
					matched[i] = true
					found = true
					break
				}
			}
			if !found {
				gc.CombosToAdd = append(gc.CombosToAdd, wantCombo)
			}
		}
		for i := range existing {
			if !matched[i] {
				gc.CombosToRemove = append(gc.CombosToRemove, existing[i])
			}
		}
		diff.Retained = append(diff.Retained, gc)
	}

	for i := range current {
		if !seen[current[i].ConfigKey()] {
			diff.GroupsToRemove = append(diff.GroupsToRemove, current[i])
		}
	}
	return diff
}

// ConfigStore is the persistence surface ApplyConfig mutates.
type ConfigStore interface {
	CreateGroup(ctx context.Context, g *review.Group) error
	DeleteGroup(ctx context.Context, groupID int64) error
	UpdateGroupBranches(ctx context.Context, groupID int64, branches review.RoleValues) error
	CreateModelCombination(ctx context.Context, m *review.ModelCombination) error
	DeleteModelCombination(ctx context.Context, m *review.ModelCombination) error
}

// ApplyConfig persists a computed diff. Removed groups cascade their
// model combinations and key reviews; removed combinations cascade just
// their key reviews. Added groups and combinations start with no key
// reviews, which the next sync populates.
func ApplyConfig(ctx context.Context, store ConfigStore, diff ConfigDiff) error {
	for i := range diff.GroupsToRemove {
		if err := store.DeleteGroup(ctx, diff.GroupsToRemove[i].ID); err != nil {
			return fmt.Errorf("failed to remove group %s: %w", diff.GroupsToRemove[i].Name, err)
		}
	}

	for _, gc := range diff.Retained {
		if gc.BranchesChanged {
			if err := store.UpdateGroupBranches(ctx, gc.Current.ID, gc.Branches); err != nil {
				return fmt.Errorf("failed to update group %s branches: %w", gc.Current.Name, err)
			}
		}
		for i := range gc.CombosToRemove {
			if err := store.DeleteModelCombination(ctx, &gc.CombosToRemove[i]); err != nil {
				return fmt.Errorf("failed to remove model combination from group %s: %w", gc.Current.Name, err)
			}
		}
		for _, models := range gc.CombosToAdd {
			m := &review.ModelCombination{GroupID: gc.Current.ID, Models: models}
			if err := store.CreateModelCombination(ctx, m); err != nil {
				return fmt.Errorf("failed to add model combination to group %s: %w", gc.Current.Name, err)
			}
		}
	}

	for _, want := range diff.GroupsToAdd {
		g := want.Group
		if err := store.CreateGroup(ctx, &g); err != nil {
			return fmt.Errorf("failed to add group %s: %w", g.Name, err)
		}
		for _, models := range want.Combos {
			m := &review.ModelCombination{GroupID: g.ID, Models: models}
			if err := store.CreateModelCombination(ctx, m); err != nil {
				return fmt.Errorf("failed to add model combination to group %s: %w", g.Name, err)
			}
		}
	}
	return nil
}
