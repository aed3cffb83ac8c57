package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jwpark-dev/fmsportal/internal/review"
)

// CreateGroup inserts a group after validating its invariants.
func (db *DB) CreateGroup(ctx context.Context, g *review.Group) error {
	if err := g.Validate(); err != nil {
		return err
	}

	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO grps (project_id, name, comparison_type, target_branch, ref1_branch, ref2_branch, ref3_branch)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.ProjectID, g.Name, string(g.Comparison),
		g.Branches.Get(review.RoleTarget), g.Branches.Get(review.RoleRef1),
		g.Branches.Get(review.RoleRef2), g.Branches.Get(review.RoleRef3))
	if err != nil {
		return fmt.Errorf("failed to insert group %s: %w", g.Name, err)
	}

	g.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read group id: %w", err)
	}
	return nil
}

// UpdateGroupBranches rewrites a group's branch assignments.
func (db *DB) UpdateGroupBranches(ctx context.Context, groupID int64, branches review.RoleValues) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE grps SET target_branch = ?, ref1_branch = ?, ref2_branch = ?, ref3_branch = ?
		WHERE group_id = ?`,
		branches.Get(review.RoleTarget), branches.Get(review.RoleRef1),
		branches.Get(review.RoleRef2), branches.Get(review.RoleRef3), groupID)
	if err != nil {
		return fmt.Errorf("failed to update group %d branches: %w", groupID, err)
	}
	return nil
}

// ListGroups returns a project's groups in creation order.
func (db *DB) ListGroups(ctx context.Context, projectID int64) ([]review.Group, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT group_id, project_id, name, comparison_type, target_branch, ref1_branch, ref2_branch, ref3_branch
		FROM grps WHERE project_id = ? ORDER BY group_id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []review.Group
	for rows.Next() {
		var g review.Group
		var comparison string
		var target, ref1, ref2, ref3 string
		if err := rows.Scan(&g.ID, &g.ProjectID, &g.Name, &comparison, &target, &ref1, &ref2, &ref3); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		g.Comparison = review.ComparisonType(comparison)
		g.Branches.Set(review.RoleTarget, target)
		g.Branches.Set(review.RoleRef1, ref1)
		g.Branches.Set(review.RoleRef2, ref2)
		g.Branches.Set(review.RoleRef3, ref3)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// DeleteGroup removes a group. Model combinations and key reviews cascade
// through the schema's foreign keys.
func (db *DB) DeleteGroup(ctx context.Context, groupID int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM grps WHERE group_id = ?`, groupID)
	if err != nil {
		return fmt.Errorf("failed to delete group %d: %w", groupID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("group %d: %w", groupID, ErrNotFound)
	}
	return nil
}

// CreateModelCombination inserts a model combination. Duplicate role
// tuples within a group collapse silently, matching the domain invariant.
func (db *DB) CreateModelCombination(ctx context.Context, m *review.ModelCombination) error {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO group_model_mapping (group_id, target_model, ref1_model, ref2_model, ref3_model)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(group_id, target_model, ref1_model, ref2_model, ref3_model) DO NOTHING`,
		m.GroupID,
		m.Models.Get(review.RoleTarget), m.Models.Get(review.RoleRef1),
		m.Models.Get(review.RoleRef2), m.Models.Get(review.RoleRef3))
	if err != nil {
		return fmt.Errorf("failed to insert model combination: %w", err)
	}

	id, err := res.LastInsertId()
	if err == nil && id > 0 {
		m.ID = id
	}
	return nil
}

// ListModelCombinations returns a group's combinations in creation order.
func (db *DB) ListModelCombinations(ctx context.Context, groupID int64) ([]review.ModelCombination, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT gm_id, group_id, target_model, ref1_model, ref2_model, ref3_model
		FROM group_model_mapping WHERE group_id = ? ORDER BY gm_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query model combinations: %w", err)
	}
	defer rows.Close()

	var combos []review.ModelCombination
	for rows.Next() {
		var m review.ModelCombination
		var target, ref1, ref2, ref3 string
		if err := rows.Scan(&m.ID, &m.GroupID, &target, &ref1, &ref2, &ref3); err != nil {
			return nil, fmt.Errorf("failed to scan model combination: %w", err)
		}
		m.Models.Set(review.RoleTarget, target)
		m.Models.Set(review.RoleRef1, ref1)
		m.Models.Set(review.RoleRef2, ref2)
		m.Models.Set(review.RoleRef3, ref3)
		combos = append(combos, m)
	}
	return combos, rows.Err()
}

// DeleteModelCombination removes one combination row and the key reviews
// that were populated from it, identified by the combination's model
// names within the group.
func (db *DB) DeleteModelCombination(ctx context.Context, m *review.ModelCombination) error {
	g, err := db.groupByID(ctx, m.GroupID)
	if err != nil {
		return err
	}

	combo := m.Combo(g.Comparison)
	if err := db.DeleteReviewsByCombo(ctx, m.GroupID, combo); err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx, `
		DELETE FROM group_model_mapping
		WHERE group_id = ? AND target_model = ? AND ref1_model = ? AND ref2_model = ? AND ref3_model = ?`,
		m.GroupID,
		m.Models.Get(review.RoleTarget), m.Models.Get(review.RoleRef1),
		m.Models.Get(review.RoleRef2), m.Models.Get(review.RoleRef3))
	if err != nil {
		return fmt.Errorf("failed to delete model combination: %w", err)
	}
	return nil
}

func (db *DB) groupByID(ctx context.Context, groupID int64) (*review.Group, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT group_id, project_id, name, comparison_type, target_branch, ref1_branch, ref2_branch, ref3_branch
		FROM grps WHERE group_id = ?`, groupID)

	var g review.Group
	var comparison, target, ref1, ref2, ref3 string
	err := row.Scan(&g.ID, &g.ProjectID, &g.Name, &comparison, &target, &ref1, &ref2, &ref3)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %d: %w", groupID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan group: %w", err)
	}
	g.Comparison = review.ComparisonType(comparison)
	g.Branches.Set(review.RoleTarget, target)
	g.Branches.Set(review.RoleRef1, ref1)
	g.Branches.Set(review.RoleRef2, ref2)
	g.Branches.Set(review.RoleRef3, ref3)
	return &g, nil
}
