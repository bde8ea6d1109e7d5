package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/engine"
	"github.com/papercomputeco/engram/pkg/graph"
)

// GraphOutput wraps a graph projection returned by the read tools.
type GraphOutput struct {
	Graph *graph.Graph `json:"graph"`
}

// ReadGraphInput represents the (empty) input for the read_graph tool.
type ReadGraphInput struct{}

func (s *Server) handleReadGraph(ctx context.Context, _ *mcp.CallToolRequest, _ ReadGraphInput) (*mcp.CallToolResult, GraphOutput, error) {
	g, err := s.config.Engine.ReadGraph(ctx)
	if err != nil {
		s.config.Logger.Error("failed to read graph", zap.Error(err))
		return errorResult(fmt.Sprintf("Failed to read graph: %v", err)), GraphOutput{}, nil
	}

	return textResult(GraphOutput{Graph: g})
}

// OpenNodesInput represents the input arguments for the open_nodes tool.
type OpenNodesInput struct {
	Names []string `json:"names" jsonschema:"names of the entities to open"`
}

func (s *Server) handleOpenNodes(ctx context.Context, _ *mcp.CallToolRequest, input OpenNodesInput) (*mcp.CallToolResult, GraphOutput, error) {
	g, err := s.config.Engine.OpenNodes(ctx, input.Names)
	if err != nil {
		s.config.Logger.Error("failed to open nodes", zap.Error(err))
		return errorResult(fmt.Sprintf("Failed to open nodes: %v", err)), GraphOutput{}, nil
	}

	return textResult(GraphOutput{Graph: g})
}

// SearchNodesInput represents the input arguments for the search_nodes tool.
type SearchNodesInput struct {
	Query string   `json:"query" jsonschema:"the keyword query text"`
	Limit int      `json:"limit,omitempty" jsonschema:"maximum number of entities to return"`
	Types []string `json:"entityTypes,omitempty" jsonschema:"restrict results to these entity types"`
}

func (s *Server) handleSearchNodes(ctx context.Context, _ *mcp.CallToolRequest, input SearchNodesInput) (*mcp.CallToolResult, GraphOutput, error) {
	s.config.Logger.Debug("MCP search request",
		zap.String("query", input.Query),
		zap.Int("limit", input.Limit),
	)

	g, err := s.config.Engine.Search(ctx, input.Query, engine.SearchOptions{
		Limit:       input.Limit,
		EntityTypes: input.Types,
	})
	if err != nil {
		s.config.Logger.Error("failed to search nodes", zap.Error(err))
		return errorResult(fmt.Sprintf("Failed to search nodes: %v", err)), GraphOutput{}, nil
	}

	return textResult(GraphOutput{Graph: g})
}

// SemanticSearchInput represents the input arguments for the semantic_search tool.
type SemanticSearchInput struct {
	Query         string    `json:"query" jsonschema:"the natural-language query text"`
	Limit         int       `json:"limit,omitempty" jsonschema:"maximum number of entities to return"`
	Types         []string  `json:"entityTypes,omitempty" jsonschema:"restrict results to these entity types"`
	MinSimilarity float32   `json:"minSimilarity,omitempty" jsonschema:"similarity floor in [0,1]; results below it are dropped"`
	Vector        []float32 `json:"vector,omitempty" jsonschema:"pre-computed query embedding; skips query embedding when set"`
}

func (s *Server) handleSemanticSearch(ctx context.Context, _ *mcp.CallToolRequest, input SemanticSearchInput) (*mcp.CallToolResult, GraphOutput, error) {
	s.config.Logger.Debug("MCP semantic search request",
		zap.String("query", input.Query),
		zap.Int("limit", input.Limit),
	)

	g, err := s.config.Engine.SemanticSearch(ctx, input.Query, engine.SearchOptions{
		Limit:         input.Limit,
		EntityTypes:   input.Types,
		MinSimilarity: input.MinSimilarity,
		Vector:        input.Vector,
	})
	if err != nil {
		s.config.Logger.Error("failed to run semantic search", zap.Error(err))
		return errorResult(fmt.Sprintf("Failed to run semantic search: %v", err)), GraphOutput{}, nil
	}

	return textResult(GraphOutput{Graph: g})
}

// EntityHistoryInput represents the input arguments for the entity_history tool.
type EntityHistoryInput struct {
	Name string `json:"name" jsonschema:"name of the entity"`
}

// EntityHistoryOutput represents the output of the entity_history tool.
type EntityHistoryOutput struct {
	Versions []graph.Entity `json:"versions"`
	Count    int            `json:"count"`
}

func (s *Server) handleEntityHistory(ctx context.Context, _ *mcp.CallToolRequest, input EntityHistoryInput) (*mcp.CallToolResult, EntityHistoryOutput, error) {
	versions, err := s.config.Engine.EntityHistory(ctx, input.Name)
	if err != nil {
		s.config.Logger.Error("failed to read entity history", zap.Error(err))
		return errorResult(fmt.Sprintf("Failed to read entity history: %v", err)), EntityHistoryOutput{}, nil
	}

	return textResult(EntityHistoryOutput{
		Versions: versions,
		Count:    len(versions),
	})
}

// RelationHistoryInput represents the input arguments for the relation_history tool.
type RelationHistoryInput struct {
	From         string `json:"from" jsonschema:"source entity name"`
	To           string `json:"to" jsonschema:"target entity name"`
	RelationType string `json:"relationType" jsonschema:"relation type"`
}

// RelationHistoryOutput represents the output of the relation_history tool.
type RelationHistoryOutput struct {
	Versions []graph.Relation `json:"versions"`
	Count    int              `json:"count"`
}

func (s *Server) handleRelationHistory(ctx context.Context, _ *mcp.CallToolRequest, input RelationHistoryInput) (*mcp.CallToolResult, RelationHistoryOutput, error) {
	versions, err := s.config.Engine.RelationHistory(ctx, input.From, input.To, input.RelationType)
	if err != nil {
		s.config.Logger.Error("failed to read relation history", zap.Error(err))
		return errorResult(fmt.Sprintf("Failed to read relation history: %v", err)), RelationHistoryOutput{}, nil
	}

	return textResult(RelationHistoryOutput{
		Versions: versions,
		Count:    len(versions),
	})
}

// GraphAtTimeInput represents the input arguments for the graph_at_time tool.
type GraphAtTimeInput struct {
	Timestamp string `json:"timestamp" jsonschema:"RFC 3339 timestamp to reconstruct the graph at"`
}

func (s *Server) handleGraphAtTime(ctx context.Context, _ *mcp.CallToolRequest, input GraphAtTimeInput) (*mcp.CallToolResult, GraphOutput, error) {
	t, err := time.Parse(time.RFC3339, input.Timestamp)
	if err != nil {
		return errorResult(fmt.Sprintf("Invalid timestamp %q: must be RFC 3339", input.Timestamp)), GraphOutput{}, nil
	}

	g, err := s.config.Engine.GraphAtTime(ctx, t)
	if err != nil {
		s.config.Logger.Error("failed to read graph at time", zap.Error(err))
		return errorResult(fmt.Sprintf("Failed to read graph at time: %v", err)), GraphOutput{}, nil
	}

	return textResult(GraphOutput{Graph: g})
}

// DecayedGraphInput represents the (empty) input for the decayed_graph tool.
type DecayedGraphInput struct{}

func (s *Server) handleDecayedGraph(ctx context.Context, _ *mcp.CallToolRequest, _ DecayedGraphInput) (*mcp.CallToolResult, GraphOutput, error) {
	g, err := s.config.Engine.DecayedGraph(ctx)
	if err != nil {
		s.config.Logger.Error("failed to read decayed graph", zap.Error(err))
		return errorResult(fmt.Sprintf("Failed to read decayed graph: %v", err)), GraphOutput{}, nil
	}

	return textResult(GraphOutput{Graph: g})
}
