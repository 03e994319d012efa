package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"axoncore/src/domain"
)

type errorResponse struct {
	Error    string `json:"error"`
	Fragment string `json:"fragment,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to write JSON response", "error", err)
	}
}

// writeError traduz os erros de domínio para status HTTP. O resto vira 500 genérico.
func (s *Server) writeError(w http.ResponseWriter, operation string, err error) {
	var compileErr *domain.CompileError

	switch {
	case errors.As(err, &compileErr):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: compileErr.Error(), Fragment: compileErr.Fragment})
	case errors.Is(err, domain.ErrValidation):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrCardinality):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		s.logger.Error("Request failed", "operation", operation, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: domain.ErrUnavailableServer.Error()})
	}
}
