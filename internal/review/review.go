package review

import (
	"fmt"
	"time"
)

// ProjectStatus is the project lifecycle state. It is the single source of
// truth for whether a sync is in flight; only the sync orchestrator and
// explicit configuration updates mutate it.
type ProjectStatus string

const (
	StatusActive    ProjectStatus = "active"
	StatusSyncing   ProjectStatus = "syncing"
	StatusSyncError ProjectStatus = "sync error"
)

// ReviewStatus is the human review state of a key review.
type ReviewStatus string

const (
	ReviewUnreviewed   ReviewStatus = "unreviewed"
	ReviewReviewed     ReviewStatus = "reviewed"
	ReviewPending      ReviewStatus = "pending"
	ReviewNoChange     ReviewStatus = "no-change"
	ReviewDiscussion   ReviewStatus = "discussion"
	ReviewValueChanged ReviewStatus = "value_changed"
)

// SystemAuthor is the comment author used for reconciler-generated
// comments.
const SystemAuthor = "system"

// RefreshCadence is how often a project is refreshed by the scheduler.
type RefreshCadence string

const (
	RefreshDaily   RefreshCadence = "Daily"
	RefreshWeekly  RefreshCadence = "Weekly"
	RefreshMonthly RefreshCadence = "Monthly"
)

// ParseRefreshCadence validates a submitted cadence string.
func ParseRefreshCadence(s string) (RefreshCadence, error) {
	switch c := RefreshCadence(s); c {
	case RefreshDaily, RefreshWeekly, RefreshMonthly:
		return c, nil
	}
	return "", fmt.Errorf("unknown refresh schedule %q", s)
}

// Interval returns the wall-clock interval between scheduled refreshes.
func (c RefreshCadence) Interval() time.Duration {
	switch c {
	case RefreshDaily:
		return 24 * time.Hour
	case RefreshMonthly:
		return 30 * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// Project is the top-level unit of ownership.
type Project struct {
	ID            int64
	Title         string
	Description   string
	AdminUsername string
	Refresh       RefreshCadence
	Status        ProjectStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Group is a named branch comparison within a project. Branches holds one
// branch name per role slot of the comparison type.
type Group struct {
	ID         int64
	ProjectID  int64
	Name       string
	Comparison ComparisonType
	Branches   RoleValues
}

// BranchList returns the group's branch names in role order, one per live
// role. This is the order the diff tool expects.
func (g *Group) BranchList() []string {
	return g.Branches.ForRoles(g.Comparison.Roles())
}

// Validate enforces the group invariants: a known comparison type, every
// role populated, and no branch assigned to two roles.
func (g *Group) Validate() error {
	if g.Name == "" {
		return fmt.Errorf("group name is required")
	}
	if !g.Comparison.Valid() {
		return fmt.Errorf("group %s: unknown comparison type %q", g.Name, g.Comparison)
	}
	seen := make(map[string]Role)
	for _, r := range g.Comparison.Roles() {
		b := g.Branches.Get(r)
		if b == "" {
			return fmt.Errorf("group %s: role %s has no branch", g.Name, g.Comparison.RoleName(r))
		}
		if prev, dup := seen[b]; dup {
			return fmt.Errorf("group %s: branch %q assigned to both %s and %s",
				g.Name, b, g.Comparison.RoleName(prev), g.Comparison.RoleName(r))
		}
		seen[b] = r
	}
	return nil
}

// ConfigKey is the identity used when diffing group configurations:
// a group is "the same group" iff name and comparison type both match.
type ConfigKey struct {
	Name       string
	Comparison ComparisonType
}

// ConfigKey returns the group's configuration identity.
func (g *Group) ConfigKey() ConfigKey {
	return ConfigKey{Name: g.Name, Comparison: g.Comparison}
}

// ModelCombination assigns a model to each role of its group. Models holds
// one model name per role slot, like Group.Branches.
type ModelCombination struct {
	ID      int64
	GroupID int64
	Models  RoleValues
}

// Combo returns the ordered model tuple for the given comparison type.
func (m *ModelCombination) Combo(c ComparisonType) ModelCombo {
	return ModelCombo(m.Models.ForRoles(c.Roles()))
}

// KeyReview is the reconciled unit of work: one FMS key in one group under
// one model combination. Model names are denormalized so the composite key
// can be recomputed without joins, tolerating combination re-creation.
type KeyReview struct {
	ID        int64
	ProjectID int64
	GroupID   int64
	KeyName   string
	GroupName string
	Models    ModelCombo
	Values    RoleValues
	Status    ReviewStatus
	KonaIDs   string
	CLNumbers string
	UpdatedAt time.Time
}

// Key returns the review's outer composite key.
func (k *KeyReview) Key() CompositeKey {
	return CompositeKey{KeyName: k.KeyName, GroupName: k.GroupName}
}

// Comment is an append-only annotation on a key review. Author is a
// username or SystemAuthor; comments are immutable once created.
type Comment struct {
	ID          int64
	KeyReviewID int64
	Author      string
	Body        string
	CreatedAt   time.Time
}

// ProjectStats summarizes review progress for a project.
type ProjectStats struct {
	KeyDifferences int `json:"keyDifferences"`
	ReviewedKeys   int `json:"reviewedKeys"`
}
