package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/markdave123-py/bitacora/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/bitacora/internal/api/middlewares"
	"github.com/markdave123-py/bitacora/internal/config"
	"github.com/markdave123-py/bitacora/internal/core/ingestion_engine"
	"github.com/markdave123-py/bitacora/internal/core/streaming"
	"github.com/markdave123-py/bitacora/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, coord *streaming.Coordinator, tables *services.TableService, ing ingestion_engine.Ingestor, reg *prometheus.Registry) *Server {
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewRouter(cfg, coord, tables, ing, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &Server{httpServer: httpSrv}
}

// NewRouter mounts every route. Streaming routes skip the request timeout
// since a large document may take longer than a minute to deliver.
func NewRouter(cfg *config.Config, coord *streaming.Coordinator, tables *services.TableService, ing ingestion_engine.Ingestor, reg *prometheus.Registry) http.Handler {
	streamHandler := handlers.NewStreamHandler(coord, cfg.MaxUploadBytes(), cfg.AllowedOrigins)
	tableHandler := handlers.NewTableHandler(tables, ing, coord, cfg.MaxUploadBytes())
	auth := appMiddleware.JWTMiddleware([]byte(cfg.JWTSecret))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	// Serve static files from the web directory
	fileServer := http.FileServer(http.Dir("./web"))
	r.Handle("/*", fileServer)

	r.Route("/api", func(api chi.Router) {
		// streaming endpoints
		api.Post("/parse/stream", streamHandler.StreamDocument)
		api.Get("/parse/ws", streamHandler.WebSocket)

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(auth)
			protected.Get("/tables/{id}/stream", tableHandler.StreamTable)

			protected.Group(func(bounded chi.Router) {
				bounded.Use(middleware.Timeout(60 * time.Second))
				bounded.Post("/tables/upload", tableHandler.UploadTable)
				bounded.Get("/tables", tableHandler.ListTables)
				bounded.Get("/tables/{id}", tableHandler.GetTable)
				bounded.Get("/tables/{id}/rows", tableHandler.GetRows)
			})
		})
	})

	return r
}

// Start runs the HTTP server.
func (s *Server) Start() {
	log.Printf("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}
