package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/markdave123-py/Ingesta/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/Ingesta/internal/api/middlewares"
	"github.com/markdave123-py/Ingesta/internal/config"
	"github.com/markdave123-py/Ingesta/internal/core"
	"github.com/markdave123-py/Ingesta/internal/core/ingestion_engine"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

// NewServer builds and wires all routes.
func NewServer(
	cfg *config.Config,
	meta core.MetadataStore,
	vectors core.VectorCollectionStore,
	engine core.EmbeddingEngine,
	orch *ingestion_engine.Orchestrator,
	files *ingestion_engine.FileManager,
	archive core.ObjectClient,
	log *zap.Logger,
) *Server {
	docHandler := handlers.NewDocumentHandler(meta, orch, files, archive, cfg, log)
	collHandler := handlers.NewCollectionHandler(vectors, meta, log)
	searchHandler := handlers.NewSearchHandler(orch, log)
	configHandler := handlers.NewConfigHandler(engine, orch, log)
	healthHandler := handlers.NewHealthHandler(meta, vectors, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", healthHandler.Health)

	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/documents", func(docs chi.Router) {
			docs.Post("/upload", docHandler.UploadDocument)
			docs.Post("/batch-upload", docHandler.BatchUploadDocuments)
			docs.Get("/", docHandler.ListDocuments)
			docs.Get("/{doc_id}", docHandler.GetDocument)
			docs.Get("/{doc_id}/status", docHandler.GetDocumentStatus)
			docs.Get("/{doc_id}/chunks", docHandler.GetDocumentChunks)
			docs.Put("/{doc_id}", docHandler.ReplaceDocument)
			docs.Delete("/{doc_id}", docHandler.DeleteDocument)
		})

		api.Post("/search", searchHandler.Search)

		api.Get("/collections", collHandler.ListCollections)
		api.Get("/collections/{name}", collHandler.GetCollection)

		api.Get("/config", configHandler.GetConfig)
		api.Get("/config/embedding-models", configHandler.ListEmbeddingModels)

		// Mutating admin surface.
		api.Group(func(admin chi.Router) {
			admin.Use(appMiddleware.RequireAdmin(cfg.JWTSecret))
			admin.Post("/collections", collHandler.CreateCollection)
			admin.Put("/collections/{name}/rename", collHandler.RenameCollection)
			admin.Post("/collections/{name}/reset", collHandler.ResetCollection)
			admin.Delete("/collections/{name}", collHandler.DeleteCollection)
			admin.Post("/config/embedding-model", configHandler.SwitchEmbeddingModel)
			admin.Post("/config/chunking", configHandler.UpdateChunking)
		})
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv, log: log}
}

// Start runs the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
