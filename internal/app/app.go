// internal/app/app.go
package app

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/markdave123-py/bitacora/internal/config"
	"github.com/markdave123-py/bitacora/internal/core"
	db "github.com/markdave123-py/bitacora/internal/core/database"
	"github.com/markdave123-py/bitacora/internal/core/ingestion_engine"
	"github.com/markdave123-py/bitacora/internal/core/metrics"
	objectclient "github.com/markdave123-py/bitacora/internal/core/object-client"
	"github.com/markdave123-py/bitacora/internal/core/streaming"
	"github.com/markdave123-py/bitacora/internal/services"
)

type App struct {
	DBClient     core.DbClient
	ObjectClient core.ObjectClient
	Ingestor     ingestion_engine.Ingestor
	Server       *Server
}

// NewApp connects the stores, starts the ingestion workers on ctx and
// builds the HTTP server.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	initCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(initCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Println("Database initialized and ready.")

	objClient, err := objectclient.NewS3Client(initCtx, cfg)
	if err != nil {
		_ = dbClient.Close()
		return nil, err
	}
	log.Println("Object client initialized and ready.")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pipelineMetrics := metrics.NewPipeline(reg)

	coord := streaming.NewCoordinator(cfg.ChunkSize, pipelineMetrics)

	ingestor := ingestion_engine.NewTableIngestor(dbClient, objClient, coord, pipelineMetrics, &ingestion_engine.IngestConfig{
		ChunkSize: cfg.ChunkSize,
		BatchSize: cfg.IngestBatchSize,
		QueueSize: cfg.IngestQueue,
	})
	ingestor.Start(ctx, cfg.IngestWorkers)
	go func() {
		n, err := ingestor.Requeue(ctx)
		if err != nil {
			log.Printf("TableIngestor: requeue stopped after %d tables: %v", n, err)
			return
		}
		log.Printf("TableIngestor: requeued %d pending tables", n)
	}()

	tables := services.NewTableService(dbClient, objClient, cfg.BucketName)
	server := NewServer(cfg, coord, tables, ingestor, reg)

	return &App{DBClient: dbClient, ObjectClient: objClient, Ingestor: ingestor, Server: server}, nil
}

func (a *App) Close() {
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
