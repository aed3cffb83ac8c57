// Package review provides the domain model for FMS key reviews.
//
// A project owns groups; each group compares a set of code branches under
// one comparison type and owns model combinations, which assign a concrete
// model to every branch role. Key reviews are the reconciled unit of work:
// one per (FMS key, group, model combination).
package review

import (
	"fmt"
	"strings"
)

// ComparisonType determines how many branch roles a group carries and what
// they are called. It is a closed set; role access goes through Roles()
// rather than probing optional fields.
type ComparisonType string

const (
	TwoWay   ComparisonType = "2-way"
	ThreeWay ComparisonType = "3-way"
	FourWay  ComparisonType = "4-way"
	TwoVsTwo ComparisonType = "2-way-vs-2-way"
)

// MaxRoles is the widest role set any comparison type carries.
const MaxRoles = 4

// Role identifies one positional slot in a comparison. Slots are stored
// positionally (target, ref1, ref2, ref3); the comparison type decides how
// many are live and how they are named.
type Role int

const (
	RoleTarget Role = iota
	RoleRef1
	RoleRef2
	RoleRef3
)

// String returns the storage name of the role slot.
func (r Role) String() string {
	switch r {
	case RoleTarget:
		return "target"
	case RoleRef1:
		return "ref1"
	case RoleRef2:
		return "ref2"
	case RoleRef3:
		return "ref3"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseComparisonType validates a comparison type string.
// The legacy spelling "2-way vs 2-way" is accepted and normalized.
func ParseComparisonType(s string) (ComparisonType, error) {
	switch s {
	case string(TwoWay):
		return TwoWay, nil
	case string(ThreeWay):
		return ThreeWay, nil
	case string(FourWay):
		return FourWay, nil
	case string(TwoVsTwo), "2-way vs 2-way":
		return TwoVsTwo, nil
	}
	return "", fmt.Errorf("unknown comparison type %q", s)
}

// Roles returns the ordered role slots this comparison type populates.
func (c ComparisonType) Roles() []Role {
	switch c {
	case TwoWay:
		return []Role{RoleTarget, RoleRef1}
	case ThreeWay:
		return []Role{RoleTarget, RoleRef1, RoleRef2}
	case FourWay, TwoVsTwo:
		return []Role{RoleTarget, RoleRef1, RoleRef2, RoleRef3}
	default:
		return nil
	}
}

// RoleName returns the user-facing name of a role under this comparison
// type. For 2-way-vs-2-way the four slots are two target/reference pairs.
func (c ComparisonType) RoleName(r Role) string {
	if c == TwoVsTwo {
		switch r {
		case RoleTarget:
			return "target1"
		case RoleRef1:
			return "reference1"
		case RoleRef2:
			return "target2"
		case RoleRef3:
			return "reference2"
		}
	}
	switch r {
	case RoleTarget:
		return "target"
	case RoleRef1:
		return "reference1"
	case RoleRef2:
		return "reference2"
	case RoleRef3:
		return "reference3"
	}
	return r.String()
}

// Valid reports whether c is a known comparison type.
func (c ComparisonType) Valid() bool {
	_, err := ParseComparisonType(string(c))
	return err == nil
}

// RoleValues holds one string per role slot. Slots beyond the comparison
// type's role count stay blank.
type RoleValues [MaxRoles]string

// Get returns the value in the given role slot.
func (v RoleValues) Get(r Role) string {
	if r < 0 || int(r) >= MaxRoles {
		return ""
	}
	return v[r]
}

// Set stores a value in the given role slot.
func (v *RoleValues) Set(r Role, val string) {
	if r >= 0 && int(r) < MaxRoles {
		v[r] = val
	}
}

// Equal reports bitwise equality across all four slots.
func (v RoleValues) Equal(other RoleValues) bool {
	return v == other
}

// ForRoles returns the values for the given roles, including blanks.
func (v RoleValues) ForRoles(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = v.Get(r)
	}
	return out
}

// ValuesFor builds a RoleValues from an ordered list, one entry per role
// of the comparison type. Extra entries are ignored.
func ValuesFor(c ComparisonType, ordered []string) RoleValues {
	var v RoleValues
	for i, r := range c.Roles() {
		if i < len(ordered) {
			v.Set(r, ordered[i])
		}
	}
	return v
}

// ModelCombo is the ordered tuple of model names assigned to a group's
// roles. Its rendered form is the matching key used during reconciliation,
// which lets reviews re-match across combination re-creation.
type ModelCombo []string

// Render joins the model names with the portal's fixed " | " separator.
// The rendered string appears in system comments and the UI.
func (m ModelCombo) Render() string {
	return strings.Join(m, " | ")
}

// Equal reports element-wise equality.
func (m ModelCombo) Equal(other ModelCombo) bool {
	if len(m) != len(other) {
		return false
	}
	for i := range m {
		if m[i] != other[i] {
			return false
		}
	}
	return true
}

// CompositeKey identifies a review's outer matching key. Matching is
// two-level: reviews are grouped by CompositeKey, then matched within the
// group on the rendered model combination.
type CompositeKey struct {
	KeyName   string
	GroupName string
}

// String renders the key for log lines.
func (k CompositeKey) String() string {
	return k.KeyName + "/" + k.GroupName
}
