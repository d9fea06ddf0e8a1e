package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/llmchat/internal/session"
)

type createSessionRequest struct {
	ModelName string `json:"model_name"`
}

type renameSessionRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	sess, err := s.store.Create(r.Context(), strings.TrimSpace(req.ModelName))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	s.metrics.IncSessionEvent("created")
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.List(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if summaries == nil {
		summaries = []session.Summary{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	var req renameSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "title is required")
		return
	}
	sess, err := s.store.Rename(r.Context(), chi.URLParam(r, "id"), req.Title)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	s.metrics.IncSessionEvent("renamed")
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondStoreError(w, err)
		return
	}
	s.metrics.IncSessionEvent("deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearSessions(w http.ResponseWriter, r *http.Request) {
	removed, err := s.store.Clear(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	s.metrics.IncSessionEvent("cleared")
	respondJSON(w, http.StatusOK, map[string]any{"removed": removed})
}
