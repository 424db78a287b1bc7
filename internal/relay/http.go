package relay

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/emberchat/keyvault/internal/provision"
)

// Handler returns the REST API served by the relay daemon.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/links", s.handleCreate)
	mux.HandleFunc("POST /v1/links/{id}/share", s.handleShare)
	mux.HandleFunc("GET /v1/links/{id}", s.handleStatus)
	mux.HandleFunc("POST /v1/links/{id}/sealed", s.handlePutSealed)
	mux.HandleFunc("GET /v1/links/{id}/sealed", s.handleGetSealed)
	mux.HandleFunc("DELETE /v1/links/{id}", s.handleDelete)
	return mux
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req provision.CreateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := s.CreateLink(req); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	var req provision.ShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	resp, err := s.PostShare(r.PathValue("id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handlePutSealed(w http.ResponseWriter, r *http.Request) {
	var sealed provision.SealedBundle
	if err := json.NewDecoder(r.Body).Decode(&sealed); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := s.PutSealed(r.PathValue("id"), sealed); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetSealed(w http.ResponseWriter, r *http.Request) {
	sealed, err := s.FetchSealed(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if sealed == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, sealed)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.DeleteLink(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrLinkNotFound):
		http.Error(w, "link not found", http.StatusNotFound)
	case errors.Is(err, ErrLinkConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrBadRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
