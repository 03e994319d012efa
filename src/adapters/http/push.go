package http

import (
	"io"
	"net/http"

	"axoncore/src/adapters/dto"
	"axoncore/src/domain"
)

const maxBodyBytes = 16 << 20

func (s *Server) Push(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	request, err := s.validator.DecodePush(body, r.PathValue("entity_type"))
	if err != nil {
		s.writeError(w, "push", err)
		return
	}

	result, err := s.correlation.Push(r.Context(), request)
	if err != nil {
		s.writeError(w, "push", err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, dto.MapPushResult(result))
}

func (s *Server) IngestRecords(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	request, err := s.validator.DecodeIngest(body, r.PathValue("entity_type"))
	if err != nil {
		s.writeError(w, "ingest", err)
		return
	}

	result, err := s.correlation.IngestRecords(r.Context(), request)
	if err != nil {
		s.writeError(w, "ingest", err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, dto.MapPushResult(result))
}

func entityTypeFrom(r *http.Request) (domain.EntityType, error) {
	return domain.ParseEntityType(r.PathValue("entity_type"))
}
