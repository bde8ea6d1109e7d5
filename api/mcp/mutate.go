package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/engine"
	"github.com/papercomputeco/engram/pkg/graph"
)

// CreateEntitiesInput represents the input arguments for the create_entities tool.
type CreateEntitiesInput struct {
	Entities []engine.EntityInput `json:"entities" jsonschema:"the entities to create"`
}

// CreateEntitiesOutput represents the output of the create_entities tool.
type CreateEntitiesOutput struct {
	Created []graph.Entity `json:"created"`
	Count   int            `json:"count"`
}

func (s *Server) handleCreateEntities(ctx context.Context, _ *mcp.CallToolRequest, input CreateEntitiesInput) (*mcp.CallToolResult, CreateEntitiesOutput, error) {
	created, err := s.config.Engine.CreateEntities(ctx, input.Entities)
	if err != nil {
		s.config.Logger.Error("failed to create entities", zap.Error(err))
		return errorResult(fmt.Sprintf("Failed to create entities: %v", err)), CreateEntitiesOutput{}, nil
	}

	return textResult(CreateEntitiesOutput{
		Created: created,
		Count:   len(created),
	})
}

// CreateRelationsInput represents the input arguments for the create_relations tool.
type CreateRelationsInput struct {
	Relations []engine.RelationInput `json:"relations" jsonschema:"the relations to create"`
}

// CreateRelationsOutput represents the output of the create_relations tool.
type CreateRelationsOutput struct {
	Created []graph.Relation `json:"created"`
	Count   int              `json:"count"`
}

func (s *Server) handleCreateRelations(ctx context.Context, _ *mcp.CallToolRequest, input CreateRelationsInput) (*mcp.CallToolResult, CreateRelationsOutput, error) {
	created, err := s.config.Engine.CreateRelations(ctx, input.Relations)
	if err != nil {
		s.config.Logger.Error("failed to create relations", zap.Error(err))
		return errorResult(fmt.Sprintf("Failed to create relations: %v", err)), CreateRelationsOutput{}, nil
	}

	return textResult(CreateRelationsOutput{
		Created: created,
		Count:   len(created),
	})
}

// AddObservationsInput represents the input arguments for the add_observations tool.
type AddObservationsInput struct {
	Observations []engine.ObservationInput `json:"observations" jsonschema:"observation contents to add per entity"`
}

// ObservationsOutput represents the output of the observation tools.
type ObservationsOutput struct {
	Results []engine.ObservationResult `json:"results"`
}

func (s *Server) handleAddObservations(ctx context.Context, _ *mcp.CallToolRequest, input AddObservationsInput) (*mcp.CallToolResult, ObservationsOutput, error) {
	results, err := s.config.Engine.AddObservations(ctx, input.Observations)
	if err != nil {
		s.config.Logger.Error("failed to add observations", zap.Error(err))
		return errorResult(fmt.Sprintf("Failed to add observations: %v", err)), ObservationsOutput{}, nil
	}

	return textResult(ObservationsOutput{Results: results})
}

// DeleteObservationsInput represents the input arguments for the delete_observations tool.
type DeleteObservationsInput struct {
	Deletions []engine.ObservationDeletion `json:"deletions" jsonschema:"observation strings to remove per entity"`
}

func (s *Server) handleDeleteObservations(ctx context.Context, _ *mcp.CallToolRequest, input DeleteObservationsInput) (*mcp.CallToolResult, ObservationsOutput, error) {
	results, err := s.config.Engine.DeleteObservations(ctx, input.Deletions)
	if err != nil {
		s.config.Logger.Error("failed to delete observations", zap.Error(err))
		return errorResult(fmt.Sprintf("Failed to delete observations: %v", err)), ObservationsOutput{}, nil
	}

	return textResult(ObservationsOutput{Results: results})
}

// UpdateRelationInput represents the input arguments for the update_relation tool.
type UpdateRelationInput struct {
	From         string         `json:"from" jsonschema:"source entity name"`
	To           string         `json:"to" jsonschema:"target entity name"`
	RelationType string         `json:"relationType" jsonschema:"relation type identifying the relation to update"`
	Strength     *float64       `json:"strength,omitempty" jsonschema:"new strength in [0,1]; omit to keep current"`
	Confidence   *float64       `json:"confidence,omitempty" jsonschema:"new confidence in [0,1]; omit to keep current"`
	Metadata     map[string]any `json:"metadata,omitempty" jsonschema:"new metadata; omit to keep current"`
	ChangedBy    string         `json:"changedBy,omitempty" jsonschema:"actor attribution for the new version"`
}

// UpdateRelationOutput represents the output of the update_relation tool.
type UpdateRelationOutput struct {
	Relation *graph.Relation `json:"relation"`
}

func (s *Server) handleUpdateRelation(ctx context.Context, _ *mcp.CallToolRequest, input UpdateRelationInput) (*mcp.CallToolResult, UpdateRelationOutput, error) {
	next, err := s.config.Engine.UpdateRelation(ctx, engine.RelationUpdate{
		From:         input.From,
		To:           input.To,
		RelationType: input.RelationType,
		Strength:     input.Strength,
		Confidence:   input.Confidence,
		Metadata:     input.Metadata,
		ChangedBy:    input.ChangedBy,
	})
	if err != nil {
		s.config.Logger.Error("failed to update relation", zap.Error(err))
		return errorResult(fmt.Sprintf("Failed to update relation: %v", err)), UpdateRelationOutput{}, nil
	}

	return textResult(UpdateRelationOutput{Relation: next})
}

// DeleteEntitiesInput represents the input arguments for the delete_entities tool.
type DeleteEntitiesInput struct {
	Names []string `json:"names" jsonschema:"names of the entities to delete permanently"`
}

// DeleteOutput represents the output of the delete tools.
type DeleteOutput struct {
	Deleted int `json:"deleted"`
}

func (s *Server) handleDeleteEntities(ctx context.Context, _ *mcp.CallToolRequest, input DeleteEntitiesInput) (*mcp.CallToolResult, DeleteOutput, error) {
	if err := s.config.Engine.DeleteEntities(ctx, input.Names); err != nil {
		s.config.Logger.Error("failed to delete entities", zap.Error(err))
		return errorResult(fmt.Sprintf("Failed to delete entities: %v", err)), DeleteOutput{}, nil
	}

	return textResult(DeleteOutput{Deleted: len(input.Names)})
}

// DeleteRelationsInput represents the input arguments for the delete_relations tool.
type DeleteRelationsInput struct {
	Relations []graph.RelationKey `json:"relations" jsonschema:"the relations to delete permanently"`
}

func (s *Server) handleDeleteRelations(ctx context.Context, _ *mcp.CallToolRequest, input DeleteRelationsInput) (*mcp.CallToolResult, DeleteOutput, error) {
	if err := s.config.Engine.DeleteRelations(ctx, input.Relations); err != nil {
		s.config.Logger.Error("failed to delete relations", zap.Error(err))
		return errorResult(fmt.Sprintf("Failed to delete relations: %v", err)), DeleteOutput{}, nil
	}

	return textResult(DeleteOutput{Deleted: len(input.Relations)})
}
