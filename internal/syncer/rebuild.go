package syncer

import (
	"context"
	"fmt"

	"github.com/jwpark-dev/fmsportal/internal/review"
)

// salvaged is what survives a rebuild for one review: the human-set state
// plus the full comment trail.
type salvaged struct {
	status    review.ReviewStatus
	konaIDs   string
	clNumbers string
	comments  []review.Comment
}

// salvageSet indexes salvaged state like the reconciler indexes reviews:
// outer by composite key, inner by the rendered model combination.
type salvageSet map[review.CompositeKey]map[string]*salvaged

// salvageReviews captures every review's annotations and comments, then
// deletes the reviews group by group. Called only after the diff tool has
// produced usable output.
func (o *Orchestrator) salvageReviews(ctx context.Context, projectID int64, groups []review.Group) (salvageSet, error) {
	set := make(salvageSet)
	for gi := range groups {
		g := &groups[gi]
		reviews, err := o.store.ListReviewsByGroup(ctx, g.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load reviews for group %s: %w", g.Name, err)
		}
		for i := range reviews {
			k := &reviews[i]
			comments, err := o.store.ListComments(ctx, k.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to load comments for review %s: %w", k.Key(), err)
			}
			inner, ok := set[k.Key()]
			if !ok {
				inner = make(map[string]*salvaged)
				set[k.Key()] = inner
			}
			inner[k.Models.Render()] = &salvaged{
				status:    k.Status,
				konaIDs:   k.KonaIDs,
				clNumbers: k.CLNumbers,
				comments:  comments,
			}
		}
		if err := o.store.DeleteReviewsByGroup(ctx, g.ID); err != nil {
			return nil, fmt.Errorf("failed to clear reviews for group %s: %w", g.Name, err)
		}
	}
	o.logger.Printf("rebuild: project %d salvaged annotations for %d keys", projectID, len(set))
	return set, nil
}

// restoreAnnotations copies salvaged state onto the freshly created
// reviews wherever the composite key and model combination still match.
// Salvaged reviews with no fresh counterpart stay gone; that is the point
// of a rebuild.
func (o *Orchestrator) restoreAnnotations(ctx context.Context, projectID int64, set salvageSet) (int, error) {
	if len(set) == 0 {
		return 0, nil
	}

	fresh, err := o.store.ListReviewsByProject(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("failed to reload reviews after rebuild: %w", err)
	}

	restored := 0
	for i := range fresh {
		k := &fresh[i]
		inner, ok := set[k.Key()]
		if !ok {
			continue
		}
		s, ok := inner[k.Models.Render()]
		if !ok {
			continue
		}

		if s.status != review.ReviewUnreviewed {
			if err := o.store.SetReviewStatus(ctx, k.ID, s.status); err != nil {
				return restored, fmt.Errorf("failed to restore status for %s: %w", k.Key(), err)
			}
		}
		if s.konaIDs != "" || s.clNumbers != "" {
			if err := o.store.UpdateReviewAnnotations(ctx, k.ID, s.konaIDs, s.clNumbers); err != nil {
				return restored, fmt.Errorf("failed to restore annotations for %s: %w", k.Key(), err)
			}
		}
		for ci := range s.comments {
			c := s.comments[ci]
			c.ID = 0
			c.KeyReviewID = k.ID
			if err := o.store.CreateComment(ctx, &c); err != nil {
				return restored, fmt.Errorf("failed to restore comment for %s: %w", k.Key(), err)
			}
		}
		restored++
	}
	return restored, nil
}
