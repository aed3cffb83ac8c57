package review

import (
	"testing"
)

func TestParseComparisonType(t *testing.T) {
	tests := []struct {
		in      string
		want    ComparisonType
		wantErr bool
	}{
		{"2-way", TwoWay, false},
		{"3-way", ThreeWay, false},
		{"4-way", FourWay, false},
		{"2-way-vs-2-way", TwoVsTwo, false},
		{"2-way vs 2-way", TwoVsTwo, false}, // legacy spelling
		{"5-way", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseComparisonType(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseComparisonType(%q) expected error, got %q", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseComparisonType(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseComparisonType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestComparisonType_Roles(t *testing.T) {
	tests := []struct {
		ct   ComparisonType
		want int
	}{
		{TwoWay, 2},
		{ThreeWay, 3},
		{FourWay, 4},
		{TwoVsTwo, 4},
	}

	for _, tt := range tests {
		if got := len(tt.ct.Roles()); got != tt.want {
			t.Errorf("%s: got %d roles, want %d", tt.ct, got, tt.want)
		}
	}
}

func TestComparisonType_RoleName_TwoVsTwo(t *testing.T) {
	// 2-way-vs-2-way renames the four slots into two target/reference pairs.
	want := []string{"target1", "reference1", "target2", "reference2"}
	for i, r := range TwoVsTwo.Roles() {
		if got := TwoVsTwo.RoleName(r); got != want[i] {
			t.Errorf("RoleName(%s) = %q, want %q", r, got, want[i])
		}
	}
}

func TestRoleValues_Equal(t *testing.T) {
	a := RoleValues{"True", "False", "True", ""}
	b := RoleValues{"True", "False", "True", ""}
	if !a.Equal(b) {
		t.Error("identical values reported unequal")
	}

	b.Set(RoleRef1, "True")
	if a.Equal(b) {
		t.Error("differing values reported equal")
	}
}

func TestValuesFor_IgnoresExtras(t *testing.T) {
	v := ValuesFor(TwoWay, []string{"a", "b", "c", "d"})
	if v.Get(RoleRef2) != "" || v.Get(RoleRef3) != "" {
		t.Errorf("2-way values spilled past ref1: %v", v)
	}
	if v.Get(RoleTarget) != "a" || v.Get(RoleRef1) != "b" {
		t.Errorf("unexpected slot assignment: %v", v)
	}
}

func TestModelCombo_Render(t *testing.T) {
	combo := ModelCombo{"M1", "M2", "M3"}
	if got := combo.Render(); got != "M1 | M2 | M3" {
		t.Errorf("Render() = %q", got)
	}
}

func TestGroup_Validate(t *testing.T) {
	valid := Group{
		Name:       "G1",
		Comparison: ThreeWay,
		Branches:   RoleValues{"main", "dev", "release", ""},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid group rejected: %v", err)
	}

	tests := []struct {
		name  string
		group Group
	}{
		{
			name: "missing role branch",
			group: Group{
				Name:       "G1",
				Comparison: ThreeWay,
				Branches:   RoleValues{"main", "dev", "", ""},
			},
		},
		{
			name: "duplicate branch across roles",
			group: Group{
				Name:       "G1",
				Comparison: TwoWay,
				Branches:   RoleValues{"main", "main", "", ""},
			},
		},
		{
			name: "unknown comparison type",
			group: Group{
				Name:       "G1",
				Comparison: "6-way",
				Branches:   RoleValues{"main", "dev", "", ""},
			},
		},
		{
			name: "empty name",
			group: Group{
				Comparison: TwoWay,
				Branches:   RoleValues{"main", "dev", "", ""},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.group.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestGroup_BranchList(t *testing.T) {
	g := Group{
		Name:       "G1",
		Comparison: TwoWay,
		Branches:   RoleValues{"main", "dev", "stale", "stale"},
	}
	got := g.BranchList()
	if len(got) != 2 || got[0] != "main" || got[1] != "dev" {
		t.Errorf("BranchList() = %v, want [main dev]", got)
	}
}

func TestParseRefreshCadence(t *testing.T) {
	tests := []struct {
		in      string
		want    RefreshCadence
		wantErr bool
	}{
		{"Daily", RefreshDaily, false},
		{"Weekly", RefreshWeekly, false},
		{"Monthly", RefreshMonthly, false},
		{"daily", "", true},
		{"Fortnightly", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseRefreshCadence(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRefreshCadence(%q) expected error, got %q", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRefreshCadence(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRefreshCadence(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRefreshCadence_Interval(t *testing.T) {
	if RefreshDaily.Interval() >= RefreshWeekly.Interval() {
		t.Error("daily interval should be shorter than weekly")
	}
	if RefreshWeekly.Interval() >= RefreshMonthly.Interval() {
		t.Error("weekly interval should be shorter than monthly")
	}
	// Unknown cadences fall back to weekly.
	if RefreshCadence("Hourly").Interval() != RefreshWeekly.Interval() {
		t.Error("unknown cadence should default to weekly")
	}
}
