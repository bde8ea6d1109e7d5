package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/engram/pkg/engine"
	"github.com/papercomputeco/engram/pkg/graph"
)

// OpenNodesRequest names the entities to open.
type OpenNodesRequest struct {
	Names []string `json:"names"`
}

// DeleteEntitiesRequest names the entities to hard-delete.
type DeleteEntitiesRequest struct {
	Names []string `json:"names"`
}

// DeleteRelationsRequest lists the logical relations to hard-delete.
type DeleteRelationsRequest struct {
	Relations []graph.RelationKey `json:"relations"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleReadGraph returns the full current graph.
func (s *Server) handleReadGraph(c *fiber.Ctx) error {
	g, err := s.engine.ReadGraph(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to read graph"})
	}
	return c.JSON(g)
}

// handleGraphAtTime returns the graph as it existed at the given RFC 3339
// instant, passed as the "t" query parameter.
func (s *Server) handleGraphAtTime(c *fiber.Ctx) error {
	raw := c.Query("t")
	if raw == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "t parameter required (RFC 3339)"})
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "t must be a valid RFC 3339 timestamp"})
	}

	g, err := s.engine.GraphAtTime(c.Context(), t)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to read graph at time"})
	}
	return c.JSON(g)
}

// handleDecayedGraph returns the current graph with confidence decay applied.
func (s *Server) handleDecayedGraph(c *fiber.Ctx) error {
	g, err := s.engine.DecayedGraph(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to read decayed graph"})
	}
	return c.JSON(g)
}

// handleOpenNodes returns the named entities plus relations among them.
func (s *Server) handleOpenNodes(c *fiber.Ctx) error {
	var req OpenNodesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	g, err := s.engine.OpenNodes(c.Context(), req.Names)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to open nodes"})
	}
	return c.JSON(g)
}

// handleCreateEntities creates version-1 entities.
func (s *Server) handleCreateEntities(c *fiber.Ctx) error {
	var inputs []engine.EntityInput
	if err := c.BodyParser(&inputs); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	created, err := s.engine.CreateEntities(c.Context(), inputs)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// handleDeleteEntities hard-deletes entities and their history.
func (s *Server) handleDeleteEntities(c *fiber.Ctx) error {
	var req DeleteEntitiesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	if err := s.engine.DeleteEntities(c.Context(), req.Names); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to delete entities"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleEntityHistory returns every version of a named entity.
func (s *Server) handleEntityHistory(c *fiber.Ctx) error {
	name := c.Params("name")
	if name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "name parameter required"})
	}

	history, err := s.engine.EntityHistory(c.Context(), name)
	if err != nil {
		if errors.As(err, &graph.EntityNotFoundError{}) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to read entity history"})
	}
	return c.JSON(history)
}

// handleCreateRelations creates version-1 relations.
func (s *Server) handleCreateRelations(c *fiber.Ctx) error {
	var inputs []engine.RelationInput
	if err := c.BodyParser(&inputs); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	created, err := s.engine.CreateRelations(c.Context(), inputs)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// handleUpdateRelation supersedes the current version of a relation.
func (s *Server) handleUpdateRelation(c *fiber.Ctx) error {
	var upd engine.RelationUpdate
	if err := c.BodyParser(&upd); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	next, err := s.engine.UpdateRelation(c.Context(), upd)
	if err != nil {
		if errors.As(err, &graph.RelationNotFoundError{}) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to update relation"})
	}
	return c.JSON(next)
}

// handleDeleteRelations hard-deletes relations and their history.
func (s *Server) handleDeleteRelations(c *fiber.Ctx) error {
	var req DeleteRelationsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	if err := s.engine.DeleteRelations(c.Context(), req.Relations); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to delete relations"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleRelationHistory returns every version of a logical relation identified
// by the from, to, and type query parameters.
func (s *Server) handleRelationHistory(c *fiber.Ctx) error {
	from := c.Query("from")
	to := c.Query("to")
	relationType := c.Query("type")
	if from == "" || to == "" || relationType == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "from, to, and type parameters required"})
	}

	history, err := s.engine.RelationHistory(c.Context(), from, to, relationType)
	if err != nil {
		if errors.As(err, &graph.RelationNotFoundError{}) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to read relation history"})
	}
	return c.JSON(history)
}

// handleAddObservations appends observations to entities.
func (s *Server) handleAddObservations(c *fiber.Ctx) error {
	var inputs []engine.ObservationInput
	if err := c.BodyParser(&inputs); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	results, err := s.engine.AddObservations(c.Context(), inputs)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}
	return c.JSON(results)
}

// handleDeleteObservations removes observations from entities.
func (s *Server) handleDeleteObservations(c *fiber.Ctx) error {
	var inputs []engine.ObservationDeletion
	if err := c.BodyParser(&inputs); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	results, err := s.engine.DeleteObservations(c.Context(), inputs)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}
	return c.JSON(results)
}
