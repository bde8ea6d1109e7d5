package api

import (
	"net/http"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/engine"
)

// Server is the HTTP API server for the engram graph engine.
type Server struct {
	config Config
	engine *engine.Engine
	logger *zap.Logger
	app    *fiber.App
}

// NewServer creates a new API server.
// The engine is injected to allow sharing with other surfaces (e.g. the MCP
// server running in the same process).
func NewServer(config Config, eng *engine.Engine, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		engine: eng,
		logger: logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)

	app.Get("/graph", s.handleReadGraph)
	app.Get("/graph/at", s.handleGraphAtTime)
	app.Get("/graph/decayed", s.handleDecayedGraph)
	app.Post("/graph/open", s.handleOpenNodes)

	app.Post("/entities", s.handleCreateEntities)
	app.Delete("/entities", s.handleDeleteEntities)
	app.Get("/entities/:name/history", s.handleEntityHistory)

	app.Post("/relations", s.handleCreateRelations)
	app.Put("/relations", s.handleUpdateRelation)
	app.Delete("/relations", s.handleDeleteRelations)
	app.Get("/relations/history", s.handleRelationHistory)

	app.Post("/observations", s.handleAddObservations)
	app.Delete("/observations", s.handleDeleteObservations)

	app.Get("/search", s.handleSearch)
	app.Get("/semantic-search", s.handleSemanticSearch)

	return s
}

// MountMCP attaches a streamable HTTP MCP handler at the given path.
func (s *Server) MountMCP(path string, handler http.Handler) {
	s.app.All(path, adaptor.HTTPHandler(handler))
	s.app.All(path+"/*", adaptor.HTTPHandler(handler))
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
