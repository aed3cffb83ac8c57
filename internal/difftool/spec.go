// Package difftool invokes the external P4 diff tool and decodes its
// sentinel-delimited stdout protocol.
//
// The tool is an opaque batch executable. It accepts a serialized
// branch/model specification and prints one block of tabular records per
// model combination, wrapped in DF_DATA_START/DF_DATA_END sentinels and
// preceded by a DF_COUNT line. The whole stdout is captured before any
// parsing begins; the protocol is not streamed.
package difftool

import (
	"encoding/json"
	"fmt"

	"github.com/jwpark-dev/fmsportal/internal/review"
)

// Entry points exposed by the diff script. The 2-way-vs-2-way comparison
// needs a distinct computation path in the tool.
const (
	FuncDiff         = "get_dif_from_p4"
	FuncDiffTwoVsTwo = "get_dif_from_p4_2wayvs2way"
	FuncAllData      = "get_all_data_from_p4"
)

// BranchModelsSpec is the wire form of a project's comparison topology:
// per group, the ordered branch list and the list of model combinations
// (each an ordered list of model names, one per branch role).
type BranchModelsSpec struct {
	Branch [][]string   `json:"branch"`
	Model  [][][]string `json:"model"`
}

// Slot pairs one group with one model combination, in the exact order
// the tool will print blocks for them.
type Slot struct {
	Group review.Group
	Combo review.ModelCombo
}

// BuildPlan assembles the spec from group state along with the ordered
// slot list the tool's output blocks map onto. Combinations keep the
// order of the combos slice, which must parallel groups. Duplicate role
// tuples inside a group collapse, first occurrence wins.
func BuildPlan(groups []review.Group, combos [][]review.ModelCombination) ([]Slot, BranchModelsSpec, error) {
	if len(groups) != len(combos) {
		return nil, BranchModelsSpec{}, fmt.Errorf("group/combination count mismatch: %d groups, %d combination sets",
			len(groups), len(combos))
	}

	spec := BranchModelsSpec{
		Branch: make([][]string, 0, len(groups)),
		Model:  make([][][]string, 0, len(groups)),
	}
	var slots []Slot

	for i := range groups {
		g := &groups[i]
		if err := g.Validate(); err != nil {
			return nil, BranchModelsSpec{}, err
		}
		spec.Branch = append(spec.Branch, g.BranchList())

		seen := make(map[string]bool)
		rows := make([][]string, 0, len(combos[i]))
		for j := range combos[i] {
			combo := combos[i][j].Combo(g.Comparison)
			rendered := combo.Render()
			if seen[rendered] {
				continue
			}
			seen[rendered] = true
			rows = append(rows, []string(combo))
			slots = append(slots, Slot{Group: *g, Combo: combo})
		}
		spec.Model = append(spec.Model, rows)
	}

	return slots, spec, nil
}

// ComboCount returns the total number of model combinations across all
// groups, which is the number of blocks the tool will print.
func (s BranchModelsSpec) ComboCount() int {
	n := 0
	for _, rows := range s.Model {
		n += len(rows)
	}
	return n
}

// Encode serializes the spec as the single JSON argument the tool accepts.
func (s BranchModelsSpec) Encode() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode branch/models spec: %w", err)
	}
	return string(data), nil
}

// HasTwoVsTwo reports whether any group uses the 2-way-vs-2-way
// comparison, which selects the tool's alternate diff entry point.
func HasTwoVsTwo(groups []review.Group) bool {
	for i := range groups {
		if groups[i].Comparison == review.TwoVsTwo {
			return true
		}
	}
	return false
}
