package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/auditimport/internal/core"
)

// handleListTemplates returns mapping templates ordered by name, optionally
// filtered by ?name= and ?createdBy=.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	templates, err := s.service.ListTemplates(r.Context(), core.TemplateFilter{
		NameContains: q.Get("name"),
		CreatedBy:    q.Get("createdBy"),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if templates == nil {
		templates = []core.MappingTemplate{}
	}
	writeJSON(w, templates)
}

// handleMatchTemplates finds templates matching the provided file headers.
func (s *Server) handleMatchTemplates(w http.ResponseWriter, r *http.Request) {
	headers := splitHeaders(r.URL.Query().Get("headers"))
	if len(headers) == 0 {
		s.respondError(w, r, errMissingHeaders)
		return
	}

	matches, err := s.service.MatchTemplates(r.Context(), headers)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if matches == nil {
		matches = []core.TemplateMatch{}
	}
	writeJSON(w, matches)
}

// handleGetTemplate returns a single mapping template by ID.
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	template, err := s.service.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, template)
}

// handleCreateTemplate creates a new mapping template.
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	template, err := s.service.CreateTemplate(r.Context(), req.input())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/import/templates/"+template.ID)
	writeJSONStatus(w, http.StatusCreated, template)
}

// handleUpdateTemplate replaces an existing mapping template.
func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	template, err := s.service.UpdateTemplate(r.Context(), chi.URLParam(r, "id"), req.input())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, template)
}

// handleDeleteTemplate deletes a mapping template.
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTemplate(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
