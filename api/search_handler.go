package api

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/engram/pkg/engine"
)

// handleSearch handles GET /search requests (lexical matching only).
// Query parameters:
//   - query (required): the search query text
//   - limit (optional): maximum number of entities to return
//   - types (optional): comma-separated entity type filter
func (s *Server) handleSearch(c *fiber.Ctx) error {
	opts, errResp := searchOptions(c)
	if errResp != nil {
		return c.Status(fiber.StatusBadRequest).JSON(*errResp)
	}

	g, err := s.engine.Search(c.Context(), c.Query("query"), opts)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}
	return c.JSON(g)
}

// handleSemanticSearch handles GET /semantic-search requests.
// Same parameters as /search plus:
//   - min_similarity (optional): similarity floor in [0,1]
func (s *Server) handleSemanticSearch(c *fiber.Ctx) error {
	opts, errResp := searchOptions(c)
	if errResp != nil {
		return c.Status(fiber.StatusBadRequest).JSON(*errResp)
	}

	if raw := c.Query("min_similarity"); raw != "" {
		f, err := strconv.ParseFloat(raw, 32)
		if err != nil || f < 0 || f > 1 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Error: "min_similarity must be a number in [0,1]",
			})
		}
		opts.MinSimilarity = float32(f)
	}

	g, err := s.engine.SemanticSearch(c.Context(), c.Query("query"), opts)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}
	return c.JSON(g)
}

// searchOptions parses the shared search query parameters.
func searchOptions(c *fiber.Ctx) (engine.SearchOptions, *ErrorResponse) {
	var opts engine.SearchOptions

	if c.Query("query") == "" {
		return opts, &ErrorResponse{Error: "query parameter is required"}
	}

	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return opts, &ErrorResponse{Error: "limit must be a positive integer"}
		}
		opts.Limit = n
	}

	if raw := c.Query("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				opts.EntityTypes = append(opts.EntityTypes, t)
			}
		}
	}

	return opts, nil
}
