package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jwpark-dev/fmsportal/internal/reconcile"
	"github.com/jwpark-dev/fmsportal/internal/review"
	"github.com/jwpark-dev/fmsportal/internal/store"
	"github.com/jwpark-dev/fmsportal/internal/syncer"
)

type groupPayload struct {
	Name           string     `json:"name"`
	ComparisonType string     `json:"comparisonType"`
	Branches       []string   `json:"branches"`
	Models         [][]string `json:"models"`
}

// projectPayload serves create and update. Pointer fields distinguish
// "not submitted" from an explicit empty value, so an update can clear
// the description without touching the title.
type projectPayload struct {
	Title           *string        `json:"title"`
	Description     *string        `json:"description"`
	RefreshSchedule *string        `json:"refreshSchedule"`
	Groups          []groupPayload `json:"groups"`
}

// desiredGroups converts submitted group payloads into the differ's
// input, validating comparison types and branch/model names.
func (s *Server) desiredGroups(projectID int64, payloads []groupPayload) ([]reconcile.DesiredGroup, error) {
	var catalog interface {
		HasBranch(string) bool
		HasModel(string, string) bool
	}
	if s.refdata != nil {
		catalog = s.refdata.Catalog()
	}

	desired := make([]reconcile.DesiredGroup, 0, len(payloads))
	for _, p := range payloads {
		c, err := review.ParseComparisonType(p.ComparisonType)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", p.Name, err)
		}
		roles := c.Roles()
		if len(p.Branches) != len(roles) {
			return nil, fmt.Errorf("group %s: %s needs %d branches, got %d",
				p.Name, c, len(roles), len(p.Branches))
		}

		g := review.Group{
			ProjectID:  projectID,
			Name:       strings.TrimSpace(p.Name),
			Comparison: c,
			Branches:   review.ValuesFor(c, p.Branches),
		}
		if err := g.Validate(); err != nil {
			return nil, err
		}

		d := reconcile.DesiredGroup{Group: g}
		for _, models := range p.Models {
			if len(models) != len(roles) {
				return nil, fmt.Errorf("group %s: model combination needs %d entries, got %d",
					p.Name, len(roles), len(models))
			}
			if catalog != nil {
				for i, r := range roles {
					branch := g.Branches.Get(r)
					if !catalog.HasBranch(branch) {
						return nil, fmt.Errorf("group %s: unknown branch %q", p.Name, branch)
					}
					if !catalog.HasModel(branch, models[i]) {
						return nil, fmt.Errorf("group %s: model %q is not buildable on branch %q",
							p.Name, models[i], branch)
					}
				}
			}
			d.Combos = append(d.Combos, review.ValuesFor(c, models))
		}
		desired = append(desired, d)
	}
	return desired, nil
}

func projectJSON(p *review.Project) map[string]any {
	return map[string]any{
		"projectId":       p.ID,
		"title":           p.Title,
		"description":     p.Description,
		"adminUsername":   p.AdminUsername,
		"refreshSchedule": string(p.Refresh),
		"status":          string(p.Status),
		"createdAt":       p.CreatedAt,
		"updatedAt":       p.UpdatedAt,
	}
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	user := actingUser(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing "+userHeader+" header")
		return
	}

	projects, err := s.db.ListProjects(r.Context(), user)
	if err != nil {
		s.fail(w, "list projects", err)
		return
	}
	out := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		out = append(out, projectJSON(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": out})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	user := actingUser(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing "+userHeader+" header")
		return
	}

	var payload projectPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Title == nil || strings.TrimSpace(*payload.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	refresh := review.RefreshWeekly
	if payload.RefreshSchedule != nil {
		var err error
		refresh, err = review.ParseRefreshCadence(*payload.RefreshSchedule)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	p := &review.Project{
		Title:         strings.TrimSpace(*payload.Title),
		AdminUsername: user,
		Refresh:       refresh,
	}
	if payload.Description != nil {
		p.Description = *payload.Description
	}

	desired, err := s.desiredGroups(0, payload.Groups)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.db.CreateProject(r.Context(), p); err != nil {
		s.fail(w, "create project", err)
		return
	}
	for i := range desired {
		desired[i].Group.ProjectID = p.ID
	}

	diff := reconcile.DiffConfig(nil, nil, desired)
	if err := reconcile.ApplyConfig(r.Context(), s.db, diff); err != nil {
		s.fail(w, "apply project configuration", err)
		return
	}

	// Populate the key reviews in the background. A project with no
	// groups yet stays active.
	if len(desired) > 0 {
		if err := s.orch.Refresh(r.Context(), p.ID); err != nil && !errors.Is(err, syncer.ErrSyncInFlight) {
			s.fail(w, "start initial sync", err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{"project": projectJSON(p)})
}

// requireAccess loads the project and checks the acting user belongs to
// it. Writes the error response itself when it returns nil.
func (s *Server) requireAccess(w http.ResponseWriter, r *http.Request) *review.Project {
	user := actingUser(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing "+userHeader+" header")
		return nil
	}
	id, ok := urlID(r, "projectID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return nil
	}

	p, err := s.db.GetProject(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return nil
	}
	if err != nil {
		s.fail(w, "load project", err)
		return nil
	}

	allowed, err := s.db.HasAccess(r.Context(), id, user)
	if err != nil {
		s.fail(w, "check access", err)
		return nil
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "not a participant of this project")
		return nil
	}
	return p
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p := s.requireAccess(w, r)
	if p == nil {
		return
	}
	ctx := r.Context()

	groups, err := s.db.ListGroups(ctx, p.ID)
	if err != nil {
		s.fail(w, "list groups", err)
		return
	}

	groupsOut := make([]map[string]any, 0, len(groups))
	for i := range groups {
		g := &groups[i]
		combos, err := s.db.ListModelCombinations(ctx, g.ID)
		if err != nil {
			s.fail(w, "list model combinations", err)
			return
		}
		combosOut := make([][]string, 0, len(combos))
		for j := range combos {
			combosOut = append(combosOut, combos[j].Combo(g.Comparison))
		}
		groupsOut = append(groupsOut, map[string]any{
			"groupId":        g.ID,
			"name":           g.Name,
			"comparisonType": string(g.Comparison),
			"branches":       g.BranchList(),
			"models":         combosOut,
		})
	}

	stats, err := s.db.ProjectStats(ctx, p.ID)
	if err != nil {
		s.fail(w, "load stats", err)
		return
	}
	participants, err := s.db.ListParticipants(ctx, p.ID)
	if err != nil {
		s.fail(w, "list participants", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"project":      projectJSON(p),
		"groups":       groupsOut,
		"stats":        stats,
		"participants": participants,
	})
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	p := s.requireAccess(w, r)
	if p == nil {
		return
	}
	ctx := r.Context()

	var payload projectPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	title := p.Title
	if payload.Title != nil {
		title = strings.TrimSpace(*payload.Title)
		if title == "" {
			writeError(w, http.StatusBadRequest, "title must not be empty")
			return
		}
	}
	description := p.Description
	if payload.Description != nil {
		description = *payload.Description
	}
	refresh := p.Refresh
	if payload.RefreshSchedule != nil {
		var err error
		refresh, err = review.ParseRefreshCadence(*payload.RefreshSchedule)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := s.db.UpdateProjectMeta(ctx, p.ID, title, description, refresh); err != nil {
		s.fail(w, "update project", err)
		return
	}

	// A submitted group list rewrites the comparison topology. The
	// follow-up sync rebuilds the review set for the retained groups
	// from fresh tool output; status, tickets, and comments carry over
	// by composite-key match.
	if payload.Groups != nil {
		desired, err := s.desiredGroups(p.ID, payload.Groups)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		current, err := s.db.ListGroups(ctx, p.ID)
		if err != nil {
			s.fail(w, "list groups", err)
			return
		}
		combos := make(map[int64][]review.ModelCombination, len(current))
		for i := range current {
			combos[current[i].ID], err = s.db.ListModelCombinations(ctx, current[i].ID)
			if err != nil {
				s.fail(w, "list model combinations", err)
				return
			}
		}

		diff := reconcile.DiffConfig(current, combos, desired)
		if !diff.Empty() {
			if err := reconcile.ApplyConfig(ctx, s.db, diff); err != nil {
				s.fail(w, "apply configuration changes", err)
				return
			}
			if s.hub != nil {
				data, _ := json.Marshal(map[string]int64{"projectId": p.ID})
				s.hub.Broadcast(Event{Type: EventConfigChanged, Data: data})
			}

			err := s.orch.RefreshRebuild(ctx, p.ID)
			if errors.Is(err, syncer.ErrSyncInFlight) {
				writeError(w, http.StatusConflict, "configuration saved, but a sync is already running")
				return
			}
			if err != nil {
				s.fail(w, "start sync", err)
				return
			}
		}
	}

	updated, err := s.db.GetProject(ctx, p.ID)
	if err != nil {
		s.fail(w, "reload project", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": projectJSON(updated)})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	p := s.requireAccess(w, r)
	if p == nil {
		return
	}
	if p.AdminUsername != actingUser(r) {
		writeError(w, http.StatusForbidden, "only the project admin can delete it")
		return
	}
	if err := s.db.DeleteProject(r.Context(), p.ID); err != nil {
		s.fail(w, "delete project", err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	p := s.requireAccess(w, r)
	if p == nil {
		return
	}

	err := s.orch.Refresh(r.Context(), p.ID)
	if errors.Is(err, syncer.ErrSyncInFlight) {
		writeError(w, http.StatusConflict, "a sync is already running for this project")
		return
	}
	if err != nil {
		s.fail(w, "start sync", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": string(review.StatusSyncing)})
}

func reviewJSON(k *review.KeyReview) map[string]any {
	return map[string]any{
		"keyReviewId": k.ID,
		"keyName":     k.KeyName,
		"groupName":   k.GroupName,
		"models":      k.Models.Render(),
		"values": map[string]string{
			"target": k.Values.Get(review.RoleTarget),
			"ref1":   k.Values.Get(review.RoleRef1),
			"ref2":   k.Values.Get(review.RoleRef2),
			"ref3":   k.Values.Get(review.RoleRef3),
		},
		"status":    string(k.Status),
		"konaIds":   k.KonaIDs,
		"clNumbers": k.CLNumbers,
		"updatedAt": k.UpdatedAt,
	}
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	p := s.requireAccess(w, r)
	if p == nil {
		return
	}

	reviews, err := s.db.ListReviewsByProject(r.Context(), p.ID)
	if err != nil {
		s.fail(w, "list reviews", err)
		return
	}
	out := make([]map[string]any, 0, len(reviews))
	for i := range reviews {
		out = append(out, reviewJSON(&reviews[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": out})
}

func (s *Server) handleProjectStats(w http.ResponseWriter, r *http.Request) {
	p := s.requireAccess(w, r)
	if p == nil {
		return
	}
	stats, err := s.db.ProjectStats(r.Context(), p.ID)
	if err != nil {
		s.fail(w, "load stats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

var allowedStatuses = map[review.ReviewStatus]bool{
	review.ReviewUnreviewed: true,
	review.ReviewReviewed:   true,
	review.ReviewPending:    true,
	review.ReviewNoChange:   true,
	review.ReviewDiscussion: true,
}

func (s *Server) handleSetReviewStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "reviewID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid review id")
		return
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	status := review.ReviewStatus(body.Status)
	if !allowedStatuses[status] {
		writeError(w, http.StatusBadRequest, "invalid status "+body.Status)
		return
	}

	err := s.db.SetReviewStatus(r.Context(), id, status)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "review not found")
		return
	}
	if err != nil {
		s.fail(w, "update review status", err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleSetReviewAnnotations(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "reviewID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid review id")
		return
	}

	var body struct {
		KonaIDs   string `json:"konaIds"`
		CLNumbers string `json:"clNumbers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.db.UpdateReviewAnnotations(r.Context(), id, body.KonaIDs, body.CLNumbers)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "review not found")
		return
	}
	if err != nil {
		s.fail(w, "update review annotations", err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "reviewID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid review id")
		return
	}
	comments, err := s.db.ListComments(r.Context(), id)
	if err != nil {
		s.fail(w, "list comments", err)
		return
	}
	out := make([]map[string]any, 0, len(comments))
	for _, c := range comments {
		out = append(out, map[string]any{
			"commentId": c.ID,
			"author":    c.Author,
			"body":      c.Body,
			"createdAt": c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": out})
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	user := actingUser(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing "+userHeader+" header")
		return
	}
	id, ok := urlID(r, "reviewID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid review id")
		return
	}

	var body struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Body) == "" {
		writeError(w, http.StatusBadRequest, "comment body is required")
		return
	}

	if _, err := s.db.GetKeyReview(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "review not found")
			return
		}
		s.fail(w, "load review", err)
		return
	}

	c := &review.Comment{KeyReviewID: id, Author: user, Body: body.Body}
	if err := s.db.CreateComment(r.Context(), c); err != nil {
		s.fail(w, "create comment", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"commentId": c.ID})
}

func (s *Server) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	p := s.requireAccess(w, r)
	if p == nil {
		return
	}

	var body struct {
		Username string `json:"username"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Username) == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	if body.Role == "" {
		body.Role = "member"
	}

	if err := s.db.AddParticipant(r.Context(), p.ID, body.Username, actingUser(r), body.Role); err != nil {
		s.fail(w, "add participant", err)
		return
	}
	writeJSON(w, http.StatusCreated, nil)
}

func (s *Server) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	p := s.requireAccess(w, r)
	if p == nil {
		return
	}
	username := chi.URLParam(r, "username")
	if username == p.AdminUsername {
		writeError(w, http.StatusBadRequest, "cannot remove the project admin")
		return
	}
	if err := s.db.RemoveParticipant(r.Context(), p.ID, username); err != nil {
		s.fail(w, "remove participant", err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// fail logs an internal error and answers with a generic message.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	s.logger.Printf("failed to %s: %v", op, err)
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}
