package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/store"
	"github.com/papercomputeco/engram/pkg/utils"
)

const (
	// DefaultMinSimilarity is the vector similarity floor when none is
	// configured: candidates scoring below it are excluded.
	DefaultMinSimilarity = 0.6

	// DefaultSearchLimit is the result limit when none is requested.
	DefaultSearchLimit = 10

	// typeFilterOversample widens the vector top-K when an entityTypes
	// allow-list will drop candidates post-hoc.
	typeFilterOversample = 4
)

// SearchConfig holds retrieval defaults.
type SearchConfig struct {
	// MinSimilarity is the default vector similarity floor.
	MinSimilarity float32

	// DefaultLimit is the result limit applied when a call requests none.
	DefaultLimit int
}

func (c SearchConfig) withDefaults() SearchConfig {
	if c.MinSimilarity <= 0 {
		c.MinSimilarity = DefaultMinSimilarity
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = DefaultSearchLimit
	}
	return c
}

// SearchOptions tune a single retrieval call.
type SearchOptions struct {
	// Limit caps the number of entities returned. Zero means the configured
	// default.
	Limit int

	// EntityTypes is an allow-list applied after candidate retrieval. Empty
	// means all types.
	EntityTypes []string

	// MinSimilarity overrides the configured similarity floor for this call.
	// Zero means the configured default.
	MinSimilarity float32

	// Vector short-circuits query embedding: when set, the vector index is
	// queried with it directly.
	Vector []float32

	// Trace, when non-nil, receives a step-by-step record of the call.
	Trace *Trace
}

// Search returns current entities matching the query text lexically —
// case-insensitive substring over name, type, and joined observation text —
// with relations between the results hydrated.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) (*graph.Graph, error) {
	started := time.Now()
	limit := e.limitFor(opts)

	opts.Trace.add("lexical", "query=%q limit=%d", query, limit)

	entities, err := e.store.MatchEntities(ctx, query, opts.EntityTypes, limit)
	if err != nil {
		return nil, err
	}

	opts.Trace.add("lexical_done", "matched=%d", len(entities))

	return e.hydrate(ctx, entities, started)
}

// SemanticSearch returns the most relevant subgraph for the query,
// choosing among three strategies in priority order: an explicitly provided
// vector, embedding the query text, and lexical matching. A failed embedding
// or an unavailable vector index falls through to the next strategy and is
// absorbed, never surfaced as an error.
func (e *Engine) SemanticSearch(ctx context.Context, query string, opts SearchOptions) (*graph.Graph, error) {
	started := time.Now()

	vec := opts.Vector
	switch {
	case vec != nil:
		opts.Trace.add("vector_ready", "dimensions=%d", len(vec))

	case e.embedder != nil:
		embedded, err := e.embedder.Embed(ctx, query)
		if err != nil {
			e.logger.Warn("query embedding failed, falling back to lexical search",
				zap.String("query", utils.Truncate(query, 120)),
				zap.Error(err),
			)
			opts.Trace.add("embed_query_failed", "%v", err)
			return e.Search(ctx, query, opts)
		}
		vec = embedded
		opts.Trace.add("embed_query", "dimensions=%d", len(vec))

	default:
		opts.Trace.add("no_embedder", "lexical only")
		return e.Search(ctx, query, opts)
	}

	entities, err := e.vectorCandidates(ctx, vec, opts)
	if err != nil {
		if errors.Is(err, store.ErrVectorIndexUnavailable) {
			e.logger.Warn("vector index unavailable, falling back to lexical search",
				zap.Error(err),
			)
			opts.Trace.add("index_unavailable", "%v", err)
			return e.Search(ctx, query, opts)
		}
		return nil, err
	}

	return e.hydrate(ctx, entities, started)
}

// vectorCandidates runs the vector-index lookup and applies the similarity
// floor, the entityTypes allow-list, and the limit. Zero matches yields an
// empty result, not an error.
func (e *Engine) vectorCandidates(ctx context.Context, vec []float32, opts SearchOptions) ([]graph.Entity, error) {
	if err := e.initVectorIndex(ctx, len(vec)); err != nil {
		// An index that cannot initialize is an unavailable index, whatever
		// the driver error. The caller degrades to lexical and the unset
		// ready flag retries initialization on the next query.
		if !errors.Is(err, store.ErrVectorIndexUnavailable) {
			err = fmt.Errorf("%w: %v", store.ErrVectorIndexUnavailable, err)
		}
		return nil, err
	}

	limit := e.limitFor(opts)
	floor := opts.MinSimilarity
	if floor <= 0 {
		floor = e.searchConfig().MinSimilarity
	}

	topK := limit
	if len(opts.EntityTypes) > 0 {
		topK *= typeFilterOversample
	}

	scored, err := e.store.QueryByVector(ctx, vec, topK)
	if err != nil {
		return nil, err
	}

	opts.Trace.add("vector_query", "candidates=%d topK=%d floor=%.2f", len(scored), topK, floor)

	var typeSet map[string]bool
	if len(opts.EntityTypes) > 0 {
		typeSet = make(map[string]bool, len(opts.EntityTypes))
		for _, t := range opts.EntityTypes {
			typeSet[t] = true
		}
	}

	// Results arrive score-descending; ties keep store order.
	entities := make([]graph.Entity, 0, limit)
	for _, s := range scored {
		if s.Score < floor {
			continue
		}
		if typeSet != nil && !typeSet[s.EntityType] {
			continue
		}
		entities = append(entities, s.Entity)
		if len(entities) >= limit {
			break
		}
	}

	opts.Trace.add("vector_filtered", "kept=%d", len(entities))

	return entities, nil
}

// initVectorIndex performs the lazy one-time vector index initialization.
// Idempotent and safe to race: the last initializer wins and the others
// observe the ready flag. A failed attempt leaves the flag unset so the next
// call retries.
func (e *Engine) initVectorIndex(ctx context.Context, dimensions int) error {
	if e.vectorReady.Load() {
		return nil
	}

	if err := e.store.EnsureVectorIndex(ctx, dimensions); err != nil {
		if !errors.Is(err, store.ErrVectorIndexUnavailable) {
			e.logger.Warn("vector index initialization failed",
				zap.Int("dimensions", dimensions),
				zap.Error(err),
			)
		}
		return err
	}

	e.vectorReady.Store(true)
	return nil
}

func (e *Engine) limitFor(opts SearchOptions) int {
	if opts.Limit > 0 {
		return opts.Limit
	}
	return e.searchConfig().DefaultLimit
}
