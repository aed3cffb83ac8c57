package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jwpark-dev/fmsportal/internal/review"
)

// CreateProject inserts a new project and returns it with its id set.
// The admin is also registered as a participant with the admin role.
func (db *DB) CreateProject(ctx context.Context, p *review.Project) error {
	if p.Title == "" {
		return fmt.Errorf("project title is required")
	}
	if p.Refresh == "" {
		p.Refresh = review.RefreshWeekly
	}
	if p.Status == "" {
		p.Status = review.StatusActive
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO projects (title, description, admin_username, refresh_schedule, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Title, p.Description, p.AdminUsername, string(p.Refresh), string(p.Status),
		formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}

	p.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read project id: %w", err)
	}

	return db.AddParticipant(ctx, p.ID, p.AdminUsername, p.AdminUsername, "admin")
}

// GetProject fetches a project by id. Returns ErrNotFound if absent.
func (db *DB) GetProject(ctx context.Context, id int64) (*review.Project, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT project_id, title, description, admin_username, refresh_schedule, status, created_at, updated_at
		FROM projects WHERE project_id = ?`, id)
	return scanProject(row)
}

// ListProjects returns the projects the given user participates in,
// newest first.
func (db *DB) ListProjects(ctx context.Context, username string) ([]*review.Project, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT p.project_id, p.title, p.description, p.admin_username, p.refresh_schedule, p.status, p.created_at, p.updated_at
		FROM projects p
		JOIN project_participants pp ON pp.project_id = p.project_id
		WHERE pp.username = ?
		ORDER BY p.project_id DESC`, username)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []*review.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ListAllProjects returns every project. Used by the refresh scheduler.
func (db *DB) ListAllProjects(ctx context.Context) ([]*review.Project, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT project_id, title, description, admin_username, refresh_schedule, status, created_at, updated_at
		FROM projects ORDER BY project_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []*review.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProjectMeta updates title, description, and refresh cadence.
func (db *DB) UpdateProjectMeta(ctx context.Context, id int64, title, description string, refresh review.RefreshCadence) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE projects SET title = ?, description = ?, refresh_schedule = ?, updated_at = ?
		WHERE project_id = ?`,
		title, description, string(refresh), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update project %d: %w", id, err)
	}
	return requireRow(res, fmt.Sprintf("project %d", id))
}

// SetProjectStatus overwrites the project status unconditionally. The
// orchestrator uses this to settle a sync attempt to a terminal state.
func (db *DB) SetProjectStatus(ctx context.Context, id int64, status review.ProjectStatus) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE projects SET status = ?, updated_at = ? WHERE project_id = ?`,
		string(status), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to set project %d status: %w", id, err)
	}
	return requireRow(res, fmt.Sprintf("project %d", id))
}

// TryBeginSync flips the project into the syncing state, but only if no
// sync is already in flight. Returns false without error when the project
// is currently syncing. This compare-and-swap is the overlap guard: at
// most one sync attempt per project can hold the syncing state.
func (db *DB) TryBeginSync(ctx context.Context, id int64) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE projects SET status = ?, updated_at = ?
		WHERE project_id = ? AND status != ?`,
		string(review.StatusSyncing), formatTime(time.Now()), id, string(review.StatusSyncing))
	if err != nil {
		return false, fmt.Errorf("failed to begin sync for project %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		// Either the project is already syncing or it doesn't exist.
		if _, err := db.GetProject(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// DeleteProject removes a project and everything it owns.
func (db *DB) DeleteProject(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM projects WHERE project_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project %d: %w", id, err)
	}
	return requireRow(res, fmt.Sprintf("project %d", id))
}

// AddParticipant registers a user on a project. Re-adding an existing
// participant updates their role.
func (db *DB) AddParticipant(ctx context.Context, projectID int64, username, addedBy, role string) error {
	if role == "" {
		role = "reviewer"
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO project_participants (project_id, username, role, added_by)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id, username) DO UPDATE SET role = excluded.role`,
		projectID, username, role, addedBy)
	if err != nil {
		return fmt.Errorf("failed to add participant %s: %w", username, err)
	}
	return nil
}

// RemoveParticipant removes a user from a project.
func (db *DB) RemoveParticipant(ctx context.Context, projectID int64, username string) error {
	_, err := db.conn.ExecContext(ctx, `
		DELETE FROM project_participants WHERE project_id = ? AND username = ?`,
		projectID, username)
	if err != nil {
		return fmt.Errorf("failed to remove participant %s: %w", username, err)
	}
	return nil
}

// ListParticipants returns the usernames on a project.
func (db *DB) ListParticipants(ctx context.Context, projectID int64) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT username FROM project_participants WHERE project_id = ? ORDER BY username`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// HasAccess reports whether the user participates in the project.
func (db *DB) HasAccess(ctx context.Context, projectID int64, username string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM project_participants WHERE project_id = ? AND username = ?`,
		projectID, username).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check access: %w", err)
	}
	return n > 0, nil
}

// ProjectStats returns total and reviewed key counts for a project. A
// review counts as reviewed once its status leaves unreviewed.
func (db *DB) ProjectStats(ctx context.Context, projectID int64) (review.ProjectStats, error) {
	var stats review.ProjectStats
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status != ? THEN 1 ELSE 0 END), 0)
		FROM key_reviews WHERE project_id = ?`,
		string(review.ReviewUnreviewed), projectID).Scan(&stats.KeyDifferences, &stats.ReviewedKeys)
	if err != nil {
		return stats, fmt.Errorf("failed to query project stats: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*review.Project, error) {
	var p review.Project
	var refresh, status, created, updated string
	err := row.Scan(&p.ID, &p.Title, &p.Description, &p.AdminUsername, &refresh, &status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	p.Refresh = review.RefreshCadence(refresh)
	p.Status = review.ProjectStatus(status)
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
