package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/bson"

	"axoncore/src/adapters/dto"
	"axoncore/src/domain"
	"axoncore/src/domain/entities"
)

type CorrelationService interface {
	Push(ctx context.Context, request domain.PushRequest) (domain.PushResult, error)
	IngestRecords(ctx context.Context, request domain.IngestRequest) (domain.PushResult, error)
}

type ViewRebuilder interface {
	Rebuild(ctx context.Context, entityType domain.EntityType, ids []string) error
	SnapshotToHistory(ctx context.Context, entityType domain.EntityType) error
}

type QueryCompiler interface {
	Compile(ctx context.Context, aql string, forDate *time.Time, entityType *domain.EntityType) (bson.M, error)
}

type ViewQuerier interface {
	Query(ctx context.Context, entityType domain.EntityType, filter bson.M, limit, skip int64) ([]entities.View, int64, error)
}

// Server representa o servidor HTTP da API
type Server struct {
	logger    *slog.Logger
	server    *http.Server
	mux       *http.ServeMux
	port      int
	validator *dto.Validator

	correlation CorrelationService
	rebuilder   ViewRebuilder
	compiler    QueryCompiler
	views       ViewQuerier

	// background recebe o ctx das reconstruções assíncronas; cancelado no Shutdown.
	background context.Context
	cancel     context.CancelFunc
}

// NewServer cria uma nova instância do servidor
func NewServer(
	logger *slog.Logger,
	port int,
	validator *dto.Validator,
	correlation CorrelationService,
	rebuilder ViewRebuilder,
	compiler QueryCompiler,
	views ViewQuerier,
) *Server {
	background, cancel := context.WithCancel(context.Background())

	server := &Server{
		mux:         http.NewServeMux(),
		port:        port,
		logger:      logger,
		validator:   validator,
		correlation: correlation,
		rebuilder:   rebuilder,
		compiler:    compiler,
		views:       views,
		background:  background,
		cancel:      cancel,
	}

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      server.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Correlação
	server.mux.HandleFunc("POST /v1/{entity_type}/push", server.Push)
	server.mux.HandleFunc("POST /v1/{entity_type}/records", server.IngestRecords)

	// Views
	server.mux.HandleFunc("POST /v1/{entity_type}/rebuild", server.Rebuild)
	server.mux.HandleFunc("POST /v1/{entity_type}/history/snapshot", server.SnapshotToHistory)

	// AQL
	server.mux.HandleFunc("POST /v1/query/compile", server.CompileQuery)
	server.mux.HandleFunc("POST /v1/{entity_type}/query", server.QueryViews)

	server.mux.Handle("GET /metrics", promhttp.Handler())

	return server
}

// Handler expõe o mux, usado pelos testes com httptest.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start inicia o servidor HTTP
func (s *Server) Start() error {
	s.logger.Info("Server started", "port", s.port)

	return s.server.ListenAndServe()
}

// Shutdown encerra o servidor HTTP de forma graciosa
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	s.cancel()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
