package reconcile

import (
	"context"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/jwpark-dev/fmsportal/internal/difftool"
	"github.com/jwpark-dev/fmsportal/internal/review"
)

// fakeStore keeps reviews and comments in memory so classification
// outcomes can be asserted without a database.
type fakeStore struct {
	nextID   int64
	reviews  []review.KeyReview
	comments []review.Comment
	updates  int
}

func (f *fakeStore) ListReviewsByProject(_ context.Context, projectID int64) ([]review.KeyReview, error) {
	var out []review.KeyReview
	for _, k := range f.reviews {
		if k.ProjectID == projectID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateKeyReview(_ context.Context, k *review.KeyReview) error {
	f.nextID++
	k.ID = f.nextID
	f.reviews = append(f.reviews, *k)
	return nil
}

func (f *fakeStore) UpdateReviewValues(_ context.Context, id int64, vals review.RoleValues, status review.ReviewStatus) error {
	f.updates++
	for i := range f.reviews {
		if f.reviews[i].ID == id {
			f.reviews[i].Values = vals
			f.reviews[i].Status = status
			return nil
		}
	}
	return nil
}

func (f *fakeStore) CreateComment(_ context.Context, c *review.Comment) error {
	f.nextID++
	c.ID = f.nextID
	f.comments = append(f.comments, *c)
	return nil
}

func (f *fakeStore) byKey(name string) *review.KeyReview {
	for i := range f.reviews {
		if f.reviews[i].KeyName == name {
			return &f.reviews[i]
		}
	}
	return nil
}

func threeWayGroup() review.Group {
	g := review.Group{ID: 1, ProjectID: 1, Name: "G1", Comparison: review.ThreeWay}
	g.Branches.Set(review.RoleTarget, "trunk")
	g.Branches.Set(review.RoleRef1, "release-24")
	g.Branches.Set(review.RoleRef2, "release-23")
	return g
}

func vals(target, ref1, ref2 string) review.RoleValues {
	var v review.RoleValues
	v.Set(review.RoleTarget, target)
	v.Set(review.RoleRef1, ref1)
	v.Set(review.RoleRef2, ref2)
	return v
}

func storedReview(id int64, key string, v review.RoleValues, status review.ReviewStatus) review.KeyReview {
	return review.KeyReview{
		ID: id, ProjectID: 1, GroupID: 1,
		KeyName: key, GroupName: "G1",
		Models: review.ModelCombo{"M1", "M2", "M3"},
		Values: v,
		Status: status,
	}
}

func testReconciler(store ReviewStore) *Reconciler {
	return New(store, log.New(io.Discard, "", 0))
}

func TestRun_UnchangedLeavesReviewAlone(t *testing.T) {
	store := &fakeStore{nextID: 10}
	store.reviews = []review.KeyReview{
		storedReview(1, "k1", vals("True", "False", "True"), review.ReviewReviewed),
	}
	g := threeWayGroup()

	records := []ComboRecords{{
		Group: g,
		Combo: review.ModelCombo{"M1", "M2", "M3"},
		Rows:  []difftool.Row{{Key: "k1", Values: vals("True", "False", "True")}},
	}}

	sum, err := testReconciler(store).Run(context.Background(), 1, records, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Unchanged != 1 || sum.Updated != 0 || sum.Created != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if store.updates != 0 || len(store.comments) != 0 {
		t.Errorf("unchanged key caused %d updates, %d comments", store.updates, len(store.comments))
	}
	if got := store.byKey("k1").Status; got != review.ReviewReviewed {
		t.Errorf("status = %q, want reviewed preserved", got)
	}
}

func TestRun_ChangedUpdatesAndComments(t *testing.T) {
	store := &fakeStore{nextID: 10}
	store.reviews = []review.KeyReview{
		storedReview(1, "k1", vals("True", "False", "True"), review.ReviewReviewed),
	}
	g := threeWayGroup()

	records := []ComboRecords{{
		Group: g,
		Combo: review.ModelCombo{"M1", "M2", "M3"},
		Rows:  []difftool.Row{{Key: "k1", Values: vals("True", "True", "True")}},
	}}

	sum, err := testReconciler(store).Run(context.Background(), 1, records, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Updated != 1 {
		t.Fatalf("summary = %+v, want one update", sum)
	}

	got := store.byKey("k1")
	if got.Status != review.ReviewValueChanged {
		t.Errorf("status = %q, want value_changed", got.Status)
	}
	if got.Values.Get(review.RoleRef1) != "True" {
		t.Errorf("ref1 = %q, want True", got.Values.Get(review.RoleRef1))
	}

	if len(store.comments) != 1 {
		t.Fatalf("got %d comments, want 1", len(store.comments))
	}
	c := store.comments[0]
	if c.Author != review.SystemAuthor {
		t.Errorf("author = %q, want system", c.Author)
	}
	for _, want := range []string{
		`model combination "M1 | M2 | M3"`,
		"Previous values:",
		"- Ref1: False",
		"New values:",
		"- Ref1: True",
		"Branches: trunk, release-24, release-23",
	} {
		if !strings.Contains(c.Body, want) {
			t.Errorf("comment missing %q:\n%s", want, c.Body)
		}
	}
}

func TestRun_NewKeyCreatesUnreviewed(t *testing.T) {
	store := &fakeStore{}
	g := threeWayGroup()

	records := []ComboRecords{{
		Group: g,
		Combo: review.ModelCombo{"M1", "M2", "M3"},
		Rows:  []difftool.Row{{Key: "fresh.key", Values: vals("1", "2", "3")}},
	}}

	sum, err := testReconciler(store).Run(context.Background(), 1, records, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Created != 1 {
		t.Fatalf("summary = %+v, want one create", sum)
	}

	got := store.byKey("fresh.key")
	if got == nil {
		t.Fatal("review not created")
	}
	if got.Status != review.ReviewUnreviewed || got.KonaIDs != "" || got.CLNumbers != "" {
		t.Errorf("created review = %+v, want unreviewed with blank annotations", got)
	}
	if !got.Models.Equal(review.ModelCombo{"M1", "M2", "M3"}) {
		t.Errorf("models = %v", got.Models)
	}
}

func TestRun_MissingNeverDeletes(t *testing.T) {
	store := &fakeStore{nextID: 10}
	store.reviews = []review.KeyReview{
		storedReview(1, "k1", vals("True", "False", "True"), review.ReviewReviewed),
	}

	allDataCalls := 0
	allData := func(context.Context) ([]ComboRecords, error) {
		allDataCalls++
		return []ComboRecords{{
			Group: threeWayGroup(),
			Combo: review.ModelCombo{"M1", "M2", "M3"},
			Rows:  []difftool.Row{{Key: "k1", Values: vals("True", "False", "True")}},
		}}, nil
	}

	sum, err := testReconciler(store).Run(context.Background(), 1, nil, allData)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if allDataCalls != 1 {
		t.Fatalf("all-data called %d times, want 1", allDataCalls)
	}
	if sum.Missing != 1 {
		t.Errorf("summary = %+v, want one missing", sum)
	}
	if len(store.reviews) != 1 || store.updates != 0 {
		t.Errorf("missing key was mutated: %d reviews, %d updates", len(store.reviews), store.updates)
	}
}

func TestRun_MissingWithChangedFullData(t *testing.T) {
	store := &fakeStore{nextID: 10}
	store.reviews = []review.KeyReview{
		storedReview(1, "k1", vals("True", "False", "True"), review.ReviewReviewed),
	}

	allData := func(context.Context) ([]ComboRecords, error) {
		return []ComboRecords{{
			Group: threeWayGroup(),
			Combo: review.ModelCombo{"M1", "M2", "M3"},
			Rows:  []difftool.Row{{Key: "k1", Values: vals("False", "False", "True")}},
		}}, nil
	}

	sum, err := testReconciler(store).Run(context.Background(), 1, nil, allData)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Updated != 1 {
		t.Fatalf("summary = %+v, want one update", sum)
	}
	got := store.byKey("k1")
	if got.Status != review.ReviewValueChanged || got.Values.Get(review.RoleTarget) != "False" {
		t.Errorf("after full-data recheck: %+v", got)
	}
	if len(store.comments) != 1 {
		t.Errorf("got %d comments, want 1", len(store.comments))
	}
}

func TestRun_NoMissingSkipsAllData(t *testing.T) {
	store := &fakeStore{}
	g := threeWayGroup()
	records := []ComboRecords{{
		Group: g,
		Combo: review.ModelCombo{"M1", "M2", "M3"},
		Rows:  []difftool.Row{{Key: "k1", Values: vals("1", "2", "3")}},
	}}

	called := false
	allData := func(context.Context) ([]ComboRecords, error) {
		called = true
		return nil, nil
	}

	if _, err := testReconciler(store).Run(context.Background(), 1, records, allData); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if called {
		t.Error("all-data fetched although nothing was missing")
	}
}

func TestRun_InnerComboMismatchFallsToMissing(t *testing.T) {
	store := &fakeStore{nextID: 10}
	store.reviews = []review.KeyReview{
		storedReview(1, "k1", vals("a", "b", "c"), review.ReviewPending),
	}
	g := threeWayGroup()

	// Same key and group, different model combination: must not match.
	records := []ComboRecords{{
		Group: g,
		Combo: review.ModelCombo{"M1", "M2", "M9"},
		Rows:  []difftool.Row{{Key: "k1", Values: vals("a", "b", "c")}},
	}}

	sum, err := testReconciler(store).Run(context.Background(), 1, records, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Created != 1 || sum.Missing != 1 {
		t.Errorf("summary = %+v, want one create and one missing", sum)
	}
	if len(store.reviews) != 2 {
		t.Errorf("got %d reviews, want 2", len(store.reviews))
	}
}

func TestRun_Idempotent(t *testing.T) {
	store := &fakeStore{}
	g := threeWayGroup()
	records := []ComboRecords{{
		Group: g,
		Combo: review.ModelCombo{"M1", "M2", "M3"},
		Rows: []difftool.Row{
			{Key: "k1", Values: vals("1", "2", "3")},
			{Key: "k2", Values: vals("x", "y", "z")},
		},
	}}

	r := testReconciler(store)
	if _, err := r.Run(context.Background(), 1, records, nil); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	firstReviews := len(store.reviews)
	firstComments := len(store.comments)

	sum, err := r.Run(context.Background(), 1, records, nil)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if sum.Created != 0 || sum.Updated != 0 || sum.Unchanged != 2 {
		t.Errorf("second run summary = %+v, want all unchanged", sum)
	}
	if len(store.reviews) != firstReviews || len(store.comments) != firstComments {
		t.Error("second run mutated state")
	}
}
