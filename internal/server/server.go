// Package server exposes the portal's HTTP API: project and group
// configuration, key review browsing and annotation, refresh triggers,
// and a websocket feed of sync status events.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jwpark-dev/fmsportal/internal/refdata"
	"github.com/jwpark-dev/fmsportal/internal/store"
	"github.com/jwpark-dev/fmsportal/internal/syncer"
)

// userHeader carries the acting username. Authentication itself happens
// upstream; the API trusts this header.
const userHeader = "X-Username"

// Server wires storage, the sync orchestrator, reference data, and the
// event hub behind one router.
type Server struct {
	db      *store.DB
	orch    *syncer.Orchestrator
	refdata *refdata.Service
	hub     *Hub
	logger  *log.Logger
	router  chi.Router
}

// New assembles the server. refdataSvc may be nil when no catalog is
// configured; branch/model validation is then skipped.
func New(db *store.DB, orch *syncer.Orchestrator, refdataSvc *refdata.Service, hub *Hub, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}

	s := &Server{
		db:      db,
		orch:    orch,
		refdata: refdataSvc,
		hub:     hub,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/health", s.handleHealth)

	r.Route("/api/refdata", func(r chi.Router) {
		r.Get("/branches", s.handleListBranches)
		r.Get("/branches/{branch}/models", s.handleListModels)
	})

	r.Route("/api/projects", func(r chi.Router) {
		r.Get("/", s.handleListProjects)
		r.Post("/", s.handleCreateProject)

		r.Route("/{projectID}", func(r chi.Router) {
			r.Get("/", s.handleGetProject)
			r.Put("/", s.handleUpdateProject)
			r.Delete("/", s.handleDeleteProject)
			r.Post("/refresh", s.handleRefresh)
			r.Get("/reviews", s.handleListReviews)
			r.Get("/stats", s.handleProjectStats)
			r.Post("/participants", s.handleAddParticipant)
			r.Delete("/participants/{username}", s.handleRemoveParticipant)
		})
	})

	r.Route("/api/reviews/{reviewID}", func(r chi.Router) {
		r.Put("/status", s.handleSetReviewStatus)
		r.Put("/annotations", s.handleSetReviewAnnotations)
		r.Get("/comments", s.handleListComments)
		r.Post("/comments", s.handleAddComment)
	})

	if hub != nil {
		r.Get("/ws", hub.handleWebSocket)
	}

	s.router = r
	return s
}

// Handler returns the root handler for mounting.
func (s *Server) Handler() http.Handler { return s.router }

// actingUser extracts the acting username from the request.
func actingUser(r *http.Request) string {
	return r.Header.Get(userHeader)
}

// urlID parses a positive integer URL parameter.
func urlID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

// writeJSON responds with the standard success envelope.
func writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	if _, ok := payload["success"]; !ok {
		payload["success"] = true
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError responds with the failure envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": msg,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	clients := 0
	if s.hub != nil {
		clients = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": clients,
	})
}

func (s *Server) handleListBranches(w http.ResponseWriter, r *http.Request) {
	if s.refdata == nil {
		writeError(w, http.StatusNotFound, "no reference catalog configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"branches": s.refdata.Catalog().BranchNames(),
	})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if s.refdata == nil {
		writeError(w, http.StatusNotFound, "no reference catalog configured")
		return
	}
	branch := chi.URLParam(r, "branch")
	c := s.refdata.Catalog()
	if !c.HasBranch(branch) {
		writeError(w, http.StatusNotFound, "unknown branch "+branch)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"branch": branch,
		"models": c.ModelsFor(branch),
	})
}
