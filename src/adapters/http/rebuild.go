package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

type RebuildRequest struct {
	IDs []string `json:"ids,omitempty"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// Rebuild sem ids dispara a reconstrução completa em background; com ids é síncrono.
func (s *Server) Rebuild(w http.ResponseWriter, r *http.Request) {
	entityType, err := entityTypeFrom(r)
	if err != nil {
		s.writeError(w, "rebuild", err)
		return
	}

	var request RebuildRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if len(request.IDs) > 0 {
		if err := s.rebuilder.Rebuild(r.Context(), entityType, request.IDs); err != nil {
			s.writeError(w, "rebuild", err)
			return
		}
		s.writeJSON(w, http.StatusOK, statusResponse{Status: "rebuilt"})
		return
	}

	go func() {
		if err := s.rebuilder.Rebuild(s.background, entityType, nil); err != nil {
			s.logger.Error("Full rebuild failed", "entity_type", entityType, "error", err)
		}
	}()
	s.writeJSON(w, http.StatusAccepted, statusResponse{Status: "full rebuild accepted for processing"})
}

func (s *Server) SnapshotToHistory(w http.ResponseWriter, r *http.Request) {
	entityType, err := entityTypeFrom(r)
	if err != nil {
		s.writeError(w, "snapshot", err)
		return
	}

	go func() {
		if err := s.rebuilder.SnapshotToHistory(s.background, entityType); err != nil {
			s.logger.Error("History snapshot failed", "entity_type", entityType, "error", err)
		}
	}()
	s.writeJSON(w, http.StatusAccepted, statusResponse{Status: "snapshot accepted for processing"})
}
