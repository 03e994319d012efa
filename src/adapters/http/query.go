package http

import (
	"encoding/json"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
)

const defaultQueryLimit = 100

type CompileRequest struct {
	Filter     string     `json:"filter"`
	ForDate    *time.Time `json:"for_date,omitempty"`
	EntityType *string    `json:"entity_type,omitempty"`
}

type QueryRequest struct {
	Filter string `json:"filter"`
	Limit  int64  `json:"limit"`
	Skip   int64  `json:"skip"`
}

type QueryResponse struct {
	Total int64           `json:"total"`
	Views []entities.View `json:"views"`
}

func (s *Server) CompileQuery(w http.ResponseWriter, r *http.Request) {
	var request CompileRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	var entityType *domain.EntityType
	if request.EntityType != nil {
		et, err := domain.ParseEntityType(*request.EntityType)
		if err != nil {
			s.writeError(w, "compile", err)
			return
		}
		entityType = &et
	}

	query, err := s.compiler.Compile(r.Context(), request.Filter, request.ForDate, entityType)
	if err != nil {
		s.writeError(w, "compile", err)
		return
	}

	// Extended JSON relaxado: datas viram {"$date": ...} e regex {"$regularExpression": ...}.
	native, err := bson.MarshalExtJSON(query, false, false)
	if err != nil {
		s.writeError(w, "compile", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(native); err != nil {
		s.logger.Error("Failed to write JSON response", "error", err)
	}
}

func (s *Server) QueryViews(w http.ResponseWriter, r *http.Request) {
	entityType, err := entityTypeFrom(r)
	if err != nil {
		s.writeError(w, "query", err)
		return
	}

	var request QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if request.Limit <= 0 {
		request.Limit = defaultQueryLimit
	}
	if request.Skip < 0 {
		request.Skip = 0
	}

	query, err := s.compiler.Compile(r.Context(), request.Filter, nil, &entityType)
	if err != nil {
		s.writeError(w, "query", err)
		return
	}

	views, total, err := s.views.Query(r.Context(), entityType, query, request.Limit, request.Skip)
	if err != nil {
		s.writeError(w, "query", err)
		return
	}
	if views == nil {
		views = []entities.View{}
	}

	s.writeJSON(w, http.StatusOK, QueryResponse{Total: total, Views: views})
}
