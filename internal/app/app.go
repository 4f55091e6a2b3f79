package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/Ingesta/internal/config"
	"github.com/markdave123-py/Ingesta/internal/core"
	db "github.com/markdave123-py/Ingesta/internal/core/database"
	"github.com/markdave123-py/Ingesta/internal/core/ingestion_engine"
	"github.com/markdave123-py/Ingesta/internal/core/llm"
	objectclient "github.com/markdave123-py/Ingesta/internal/core/object-client"
	"github.com/markdave123-py/Ingesta/internal/core/vectorstore"
)

// App owns every long-lived component and their shutdown order.
type App struct {
	Meta         *db.MetadataStore
	Vectors      *vectorstore.Store
	Engine       *llm.Engine
	Orchestrator *ingestion_engine.Orchestrator
	Server       *Server

	log *zap.Logger
}

func NewApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	bootCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	meta, err := db.NewMetadataStore(bootCtx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, fmt.Errorf("metadata store: %w", err)
	}
	log.Info("metadata store ready")

	vectors, err := vectorstore.NewStore(bootCtx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	log.Info("vector store ready")

	engine, err := llm.NewEngine(bootCtx, llm.NewGeminiFactory(cfg.GeminiAPIKey), cfg.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("embedding engine: %w", err)
	}
	log.Info("embedding engine ready", zap.String("model", engine.Current().Info().Key))

	files, err := ingestion_engine.NewFileManager(cfg.UploadsDir)
	if err != nil {
		return nil, fmt.Errorf("file manager: %w", err)
	}

	var archive core.ObjectClient
	opts := []ingestion_engine.Option{
		ingestion_engine.WithChunkParams(cfg.ChunkSize, cfg.ChunkOverlap),
	}
	if cfg.ArchiveEnabled() {
		s3, err := objectclient.NewS3Client(bootCtx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("object client: %w", err)
		}
		archive = s3
		opts = append(opts, ingestion_engine.WithArchive(s3, cfg.BucketName))
	}

	orch, err := ingestion_engine.NewOrchestrator(
		meta,
		vectors,
		ingestion_engine.NewDocconvExtractor(),
		ingestion_engine.NewRecursiveChunker(),
		engine,
		files,
		cfg.WorkerCount,
		log,
		opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	server := NewServer(cfg, meta, vectors, engine, orch, files, archive, log)

	return &App{
		Meta:         meta,
		Vectors:      vectors,
		Engine:       engine,
		Orchestrator: orch,
		Server:       server,
		log:          log,
	}, nil
}

func (a *App) Close() {
	a.Orchestrator.Close()
	if err := a.Vectors.Close(); err != nil {
		a.log.Warn("vector store close failed", zap.Error(err))
	}
	if err := a.Meta.Close(); err != nil {
		a.log.Warn("metadata store close failed", zap.Error(err))
	}
}
