// Package mcp provides an MCP (Model Context Protocol) server for the engram
// knowledge graph, exposing the engine's mutation and retrieval operations as
// tools for AI agents.
package mcp

import (
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/engine"
	"github.com/papercomputeco/engram/pkg/utils"
)

type Config struct {
	// Engine is the graph engine backing every tool.
	Engine *engine.Engine

	// Noop for empty MCP server
	Noop bool

	// Logger is the configured zap logger
	Logger *zap.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the graph tools.
func NewServer(c Config) (*Server, error) {
	s := &Server{
		config: c,
	}

	// Create the MCP server
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "engram",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	if c.Noop {
		// return the empty MCP server with no tools configured
		// if the noop flag is set (i.e., MCP capabilities are disabled)
		s.mcpServer = mcpServer
		return s, nil
	}

	if c.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if c.Logger == nil {
		return nil, errors.New("logger is required")
	}

	// Mutation tools
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "create_entities",
		Description: "Create new entities in the knowledge graph. Each entity has a unique name, a type, and a list of observation strings. Entities that already exist are skipped.",
	}, s.handleCreateEntities)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "create_relations",
		Description: "Create directed relations between existing entities. Each relation has a from entity, a to entity, a relation type (active voice, e.g. 'works_at'), and optional strength and confidence in [0,1].",
	}, s.handleCreateRelations)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "add_observations",
		Description: "Add observation strings to existing entities. Duplicate observations are suppressed; an entity that gains nothing keeps its current version.",
	}, s.handleAddObservations)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "delete_observations",
		Description: "Remove observation strings from existing entities, creating a new version of each changed entity.",
	}, s.handleDeleteObservations)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "update_relation",
		Description: "Update the strength, confidence, or metadata of an existing relation. Omitted fields carry forward from the current version.",
	}, s.handleUpdateRelation)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "delete_entities",
		Description: "Permanently delete entities, their full version history, and every relation touching them. This cannot be undone.",
	}, s.handleDeleteEntities)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "delete_relations",
		Description: "Permanently delete relations and their full version history. This cannot be undone.",
	}, s.handleDeleteRelations)

	// Retrieval tools
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "read_graph",
		Description: "Read the entire current knowledge graph: every current entity and relation.",
	}, s.handleReadGraph)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "open_nodes",
		Description: "Open specific entities by name, returning them plus every relation among them. Unknown names are silently skipped.",
	}, s.handleOpenNodes)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "search_nodes",
		Description: "Search the knowledge graph by keyword over entity names, types, and observation text.",
	}, s.handleSearchNodes)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "semantic_search",
		Description: "Search the knowledge graph by meaning using vector similarity, falling back to keyword search when embeddings are unavailable. Supports a similarity floor and entity type filter.",
	}, s.handleSemanticSearch)

	// Temporal tools
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "entity_history",
		Description: "Return every version of a named entity ordered from oldest to newest, with validity intervals.",
	}, s.handleEntityHistory)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "relation_history",
		Description: "Return every version of a relation (identified by from, to, and relation type) ordered from oldest to newest.",
	}, s.handleRelationHistory)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "graph_at_time",
		Description: "Reconstruct the knowledge graph as it existed at a past RFC 3339 timestamp.",
	}, s.handleGraphAtTime)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "decayed_graph",
		Description: "Read the current knowledge graph with relation confidence decayed by age, so stale relations rank lower.",
	}, s.handleDecayedGraph)

	s.mcpServer = mcpServer

	// Create a streamable HTTP net/http handler for stateless operations
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}
