package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jwpark-dev/fmsportal/internal/review"
)

// comboColumns pads an ordered model tuple out to the four model column
// slots. Live roles fill from the front; unused slots store empty strings.
func comboColumns(combo review.ModelCombo) [review.MaxRoles]string {
	var cols [review.MaxRoles]string
	for i, m := range combo {
		if i >= review.MaxRoles {
			break
		}
		cols[i] = m
	}
	return cols
}

// columnsCombo is the inverse of comboColumns: collect the leading
// non-empty model columns back into an ordered tuple.
func columnsCombo(cols [review.MaxRoles]string) review.ModelCombo {
	var combo review.ModelCombo
	for _, c := range cols {
		if c == "" {
			break
		}
		combo = append(combo, c)
	}
	return combo
}

// CreateKeyReview inserts a key review row. Status defaults to unreviewed
// when unset.
func (db *DB) CreateKeyReview(ctx context.Context, k *review.KeyReview) error {
	if k.Status == "" {
		k.Status = review.ReviewUnreviewed
	}
	if k.UpdatedAt.IsZero() {
		k.UpdatedAt = time.Now().UTC()
	}
	models := comboColumns(k.Models)

	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO key_reviews (
			project_id, group_id, key_name, group_name,
			target_model, ref1_model, ref2_model, ref3_model,
			target_val, ref1_val, ref2_val, ref3_val,
			status, kona_ids, cl_numbers, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ProjectID, k.GroupID, k.KeyName, k.GroupName,
		models[0], models[1], models[2], models[3],
		k.Values.Get(review.RoleTarget), k.Values.Get(review.RoleRef1),
		k.Values.Get(review.RoleRef2), k.Values.Get(review.RoleRef3),
		string(k.Status), k.KonaIDs, k.CLNumbers, formatTime(k.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert key review %s: %w", k.KeyName, err)
	}

	k.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read key review id: %w", err)
	}
	return nil
}

const keyReviewColumns = `
	key_review_id, project_id, group_id, key_name, group_name,
	target_model, ref1_model, ref2_model, ref3_model,
	target_val, ref1_val, ref2_val, ref3_val,
	status, kona_ids, cl_numbers, updated_at`

func scanKeyReview(row rowScanner) (*review.KeyReview, error) {
	var k review.KeyReview
	var models [review.MaxRoles]string
	var vals [review.MaxRoles]string
	var status, updatedAt string

	err := row.Scan(&k.ID, &k.ProjectID, &k.GroupID, &k.KeyName, &k.GroupName,
		&models[0], &models[1], &models[2], &models[3],
		&vals[0], &vals[1], &vals[2], &vals[3],
		&status, &k.KonaIDs, &k.CLNumbers, &updatedAt)
	if err != nil {
		return nil, err
	}

	k.Models = columnsCombo(models)
	for i, v := range vals {
		k.Values.Set(review.Role(i), v)
	}
	k.Status = review.ReviewStatus(status)
	k.UpdatedAt = parseTime(updatedAt)
	return &k, nil
}

// GetKeyReview fetches one review by id.
func (db *DB) GetKeyReview(ctx context.Context, id int64) (*review.KeyReview, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+keyReviewColumns+` FROM key_reviews WHERE key_review_id = ?`, id)
	k, err := scanKeyReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("key review %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan key review: %w", err)
	}
	return k, nil
}

// ListReviewsByProject returns every key review in a project, ordered by
// group name then key name so reconciliation and the UI see a stable order.
func (db *DB) ListReviewsByProject(ctx context.Context, projectID int64) ([]review.KeyReview, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+keyReviewColumns+` FROM key_reviews WHERE project_id = ? ORDER BY group_name, key_name, key_review_id`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query key reviews: %w", err)
	}
	defer rows.Close()

	var reviews []review.KeyReview
	for rows.Next() {
		k, err := scanKeyReview(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan key review: %w", err)
		}
		reviews = append(reviews, *k)
	}
	return reviews, rows.Err()
}

// ListReviewsByGroup returns the key reviews under one group.
func (db *DB) ListReviewsByGroup(ctx context.Context, groupID int64) ([]review.KeyReview, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+keyReviewColumns+` FROM key_reviews WHERE group_id = ? ORDER BY key_name, key_review_id`,
		groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query key reviews: %w", err)
	}
	defer rows.Close()

	var reviews []review.KeyReview
	for rows.Next() {
		k, err := scanKeyReview(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan key review: %w", err)
		}
		reviews = append(reviews, *k)
	}
	return reviews, rows.Err()
}

// UpdateReviewValues rewrites a review's observed values and sets its
// status, touching updated_at. The reconciler uses this for the
// value-changed path; the API uses it for manual status updates.
func (db *DB) UpdateReviewValues(ctx context.Context, id int64, vals review.RoleValues, status review.ReviewStatus) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE key_reviews
		SET target_val = ?, ref1_val = ?, ref2_val = ?, ref3_val = ?, status = ?, updated_at = ?
		WHERE key_review_id = ?`,
		vals.Get(review.RoleTarget), vals.Get(review.RoleRef1),
		vals.Get(review.RoleRef2), vals.Get(review.RoleRef3),
		string(status), formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to update key review %d: %w", id, err)
	}
	return requireRow(res, fmt.Sprintf("key review %d", id))
}

// SetReviewStatus updates only the review status.
func (db *DB) SetReviewStatus(ctx context.Context, id int64, status review.ReviewStatus) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE key_reviews SET status = ?, updated_at = ? WHERE key_review_id = ?`,
		string(status), formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to update key review %d status: %w", id, err)
	}
	return requireRow(res, fmt.Sprintf("key review %d", id))
}

// UpdateReviewAnnotations replaces the Kona id and CL number annotations.
func (db *DB) UpdateReviewAnnotations(ctx context.Context, id int64, konaIDs, clNumbers string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE key_reviews SET kona_ids = ?, cl_numbers = ?, updated_at = ? WHERE key_review_id = ?`,
		konaIDs, clNumbers, formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to update key review %d annotations: %w", id, err)
	}
	return requireRow(res, fmt.Sprintf("key review %d", id))
}

// DeleteReviewsByGroup removes every key review under a group. Comments
// cascade through the schema's foreign keys.
func (db *DB) DeleteReviewsByGroup(ctx context.Context, groupID int64) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM key_reviews WHERE group_id = ?`, groupID)
	if err != nil {
		return fmt.Errorf("failed to delete group %d reviews: %w", groupID, err)
	}
	return nil
}

// DeleteReviewsByCombo removes the key reviews in a group that carry the
// given ordered model tuple.
func (db *DB) DeleteReviewsByCombo(ctx context.Context, groupID int64, combo review.ModelCombo) error {
	models := comboColumns(combo)
	_, err := db.conn.ExecContext(ctx, `
		DELETE FROM key_reviews
		WHERE group_id = ? AND target_model = ? AND ref1_model = ? AND ref2_model = ? AND ref3_model = ?`,
		groupID, models[0], models[1], models[2], models[3])
	if err != nil {
		return fmt.Errorf("failed to delete group %d reviews for combo %s: %w",
			groupID, combo.Render(), err)
	}
	return nil
}

// CreateComment appends a comment to a key review. A caller-provided
// CreatedAt is preserved so re-attached comments keep their original
// timestamps after a configuration edit.
func (db *DB) CreateComment(ctx context.Context, c *review.Comment) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO comments (key_review_id, author, body, created_at) VALUES (?, ?, ?, ?)`,
		c.KeyReviewID, c.Author, c.Body, formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert comment: %w", err)
	}
	c.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read comment id: %w", err)
	}
	return nil
}

// ListComments returns a review's comments oldest first.
func (db *DB) ListComments(ctx context.Context, keyReviewID int64) ([]review.Comment, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT comment_id, key_review_id, author, body, created_at
		FROM comments WHERE key_review_id = ? ORDER BY created_at, comment_id`, keyReviewID)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	var comments []review.Comment
	for rows.Next() {
		var c review.Comment
		var createdAt string
		if err := rows.Scan(&c.ID, &c.KeyReviewID, &c.Author, &c.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		c.CreatedAt = parseTime(createdAt)
		comments = append(comments, c)
	}
	return comments, rows.Err()
}
