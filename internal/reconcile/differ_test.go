package reconcile

import (
	"context"
	"testing"

	"github.com/jwpark-dev/fmsportal/internal/review"
)

func desiredGroup(name string, c review.ComparisonType, branches []string, combos ...[]string) DesiredGroup {
	g := review.Group{Name: name, Comparison: c}
	for i, b := range branches {
		g.Branches.Set(review.Role(i), b)
	}
	d := DesiredGroup{Group: g}
	for _, models := range combos {
		var v review.RoleValues
		for i, m := range models {
			v.Set(review.Role(i), m)
		}
		d.Combos = append(d.Combos, v)
	}
	return d
}

func existingGroup(id int64, name string, c review.ComparisonType, branches ...string) review.Group {
	g := review.Group{ID: id, ProjectID: 1, Name: name, Comparison: c}
	for i, b := range branches {
		g.Branches.Set(review.Role(i), b)
	}
	return g
}

func TestDiffConfig_AddsNewGroup(t *testing.T) {
	current := []review.Group{existingGroup(1, "G1", review.ThreeWay, "t", "r1", "r2")}
	desired := []DesiredGroup{
		desiredGroup("G1", review.ThreeWay, []string{"t", "r1", "r2"}),
		desiredGroup("G2", review.TwoWay, []string{"a", "b"}, []string{"M1", "M2"}),
	}

	diff := DiffConfig(current, nil, desired)
	if len(diff.GroupsToAdd) != 1 || diff.GroupsToAdd[0].Group.Name != "G2" {
		t.Fatalf("GroupsToAdd = %+v", diff.GroupsToAdd)
	}
	if len(diff.GroupsToRemove) != 0 {
		t.Errorf("GroupsToRemove = %+v, want none", diff.GroupsToRemove)
	}
	if len(diff.Retained) != 1 || diff.Retained[0].BranchesChanged {
		t.Errorf("Retained = %+v", diff.Retained)
	}
}

func TestDiffConfig_RemovesDroppedGroup(t *testing.T) {
	current := []review.Group{
		existingGroup(1, "G1", review.ThreeWay, "t", "r1", "r2"),
		existingGroup(2, "G2", review.TwoWay, "a", "b"),
	}
	desired := []DesiredGroup{desiredGroup("G1", review.ThreeWay, []string{"t", "r1", "r2"})}

	diff := DiffConfig(current, nil, desired)
	if len(diff.GroupsToRemove) != 1 || diff.GroupsToRemove[0].Name != "G2" {
		t.Fatalf("GroupsToRemove = %+v", diff.GroupsToRemove)
	}
}

func TestDiffConfig_ComparisonChangeIsRemoveAndAdd(t *testing.T) {
	current := []review.Group{existingGroup(1, "G1", review.TwoWay, "t", "r1")}
	desired := []DesiredGroup{desiredGroup("G1", review.ThreeWay, []string{"t", "r1", "r2"})}

	diff := DiffConfig(current, nil, desired)
	if len(diff.GroupsToAdd) != 1 || len(diff.GroupsToRemove) != 1 {
		t.Fatalf("diff = %+v, want one add and one remove", diff)
	}
}

func TestDiffConfig_ComboDelta(t *testing.T) {
	g := existingGroup(1, "G1", review.TwoWay, "t", "r1")
	keep := review.ModelCombination{ID: 1, GroupID: 1}
	keep.Models.Set(review.RoleTarget, "M1")
	keep.Models.Set(review.RoleRef1, "M2")
	drop := review.ModelCombination{ID: 2, GroupID: 1}
	drop.Models.Set(review.RoleTarget, "M3")
	drop.Models.Set(review.RoleRef1, "M4")

	desired := []DesiredGroup{
		desiredGroup("G1", review.TwoWay, []string{"t", "r1"},
			[]string{"M1", "M2"}, []string{"M5", "M6"}),
	}

	diff := DiffConfig([]review.Group{g},
		map[int64][]review.ModelCombination{1: {keep, drop}}, desired)

	if len(diff.Retained) != 1 {
		t.Fatalf("Retained = %+v", diff.Retained)
	}
	gc := diff.Retained[0]
	if len(gc.CombosToAdd) != 1 || gc.CombosToAdd[0].Get(review.RoleTarget) != "M5" {
		t.Errorf("CombosToAdd = %+v", gc.CombosToAdd)
	}
	if len(gc.CombosToRemove) != 1 || gc.CombosToRemove[0].ID != 2 {
		t.Errorf("CombosToRemove = %+v", gc.CombosToRemove)
	}
}

func TestDiffConfig_BranchChange(t *testing.T) {
	current := []review.Group{existingGroup(1, "G1", review.TwoWay, "t", "r1")}
	desired := []DesiredGroup{desiredGroup("G1", review.TwoWay, []string{"t", "r9"})}

	diff := DiffConfig(current, nil, desired)
	if len(diff.Retained) != 1 || !diff.Retained[0].BranchesChanged {
		t.Fatalf("diff = %+v, want branch change on retained group", diff)
	}
	if diff.Empty() {
		t.Error("Empty() = true for a diff with changes")
	}
}

func TestDiffConfig_NoChanges(t *testing.T) {
	current := []review.Group{existingGroup(1, "G1", review.TwoWay, "t", "r1")}
	desired := []DesiredGroup{desiredGroup("G1", review.TwoWay, []string{"t", "r1"})}

	diff := DiffConfig(current, nil, desired)
	if !diff.Empty() {
		t.Errorf("Empty() = false for %+v", diff)
	}
}

// fakeConfigStore records the mutations ApplyConfig performs.
type fakeConfigStore struct {
	nextID        int64
	created       []string
	deletedGroups []int64
	combosAdded   int
	combosDeleted int
	branchUpdates int
}

func (f *fakeConfigStore) CreateGroup(_ context.Context, g *review.Group) error {
	f.nextID++
	g.ID = f.nextID
	f.created = append(f.created, g.Name)
	return nil
}

func (f *fakeConfigStore) DeleteGroup(_ context.Context, id int64) error {
	f.deletedGroups = append(f.deletedGroups, id)
	return nil
}

func (f *fakeConfigStore) UpdateGroupBranches(_ context.Context, _ int64, _ review.RoleValues) error {
	f.branchUpdates++
	return nil
}

func (f *fakeConfigStore) CreateModelCombination(_ context.Context, m *review.ModelCombination) error {
	f.nextID++
	m.ID = f.nextID
	f.combosAdded++
	return nil
}

func (f *fakeConfigStore) DeleteModelCombination(_ context.Context, _ *review.ModelCombination) error {
	f.combosDeleted++
	return nil
}

func TestApplyConfig(t *testing.T) {
	current := []review.Group{
		existingGroup(1, "G1", review.TwoWay, "t", "r1"),
		existingGroup(2, "Gone", review.TwoWay, "x", "y"),
	}
	drop := review.ModelCombination{ID: 5, GroupID: 1}
	drop.Models.Set(review.RoleTarget, "Mold")
	drop.Models.Set(review.RoleRef1, "Mold2")

	desired := []DesiredGroup{
		desiredGroup("G1", review.TwoWay, []string{"t", "r9"}, []string{"M1", "M2"}),
		desiredGroup("G2", review.TwoWay, []string{"a", "b"}, []string{"M3", "M4"}),
	}

	diff := DiffConfig(current, map[int64][]review.ModelCombination{1: {drop}}, desired)

	store := &fakeConfigStore{nextID: 10}
	if err := ApplyConfig(context.Background(), store, diff); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}

	if len(store.deletedGroups) != 1 || store.deletedGroups[0] != 2 {
		t.Errorf("deletedGroups = %v", store.deletedGroups)
	}
	if len(store.created) != 1 || store.created[0] != "G2" {
		t.Errorf("created = %v", store.created)
	}
	if store.branchUpdates != 1 {
		t.Errorf("branchUpdates = %d, want 1", store.branchUpdates)
	}
	// One combo dropped from G1, one added to G1, one added under new G2.
	if store.combosDeleted != 1 || store.combosAdded != 2 {
		t.Errorf("combos: added=%d deleted=%d", store.combosAdded, store.combosDeleted)
	}
}
