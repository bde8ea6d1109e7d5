// Package engine implements the versioned knowledge graph engine: bitemporal
// version management over a store driver, read-time confidence decay, and
// hybrid semantic/lexical retrieval.
//
// The engine owns the rules; persistence is delegated to a store.Driver and
// query/entity vectorization to an optional embeddings.Embedder. Every write
// is an atomic transition from one current version to the next, and every
// read path degrades rather than fails when the embedding gateway or the
// vector index is unavailable.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/embeddings"
	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/store"
)

// Config holds the collaborators and tuning for an Engine.
type Config struct {
	// Store is the persistence driver. Required.
	Store store.Driver

	// Embedder vectorizes entity and query text. Optional; when nil, entities
	// are created without embeddings and semantic search degrades to lexical.
	Embedder embeddings.Embedder

	// Events receives mutation events after writes commit. Optional.
	Events eventstream.Publisher

	// Logger is the configured zap logger. Required.
	Logger *zap.Logger

	// Decay configures read-time confidence decay.
	Decay DecayConfig

	// Search configures retrieval defaults.
	Search SearchConfig
}

// Engine is the versioned knowledge graph engine.
type Engine struct {
	store    store.Driver
	embedder embeddings.Embedder
	events   eventstream.Publisher
	logger   *zap.Logger

	// tuneMu guards decay and search, which can be replaced at runtime via
	// Retune when the config file changes.
	tuneMu sync.RWMutex
	decay  DecayConfig
	search SearchConfig

	// vectorReady flips once the store's vector index has been initialized.
	// Initialization is lazy, idempotent, and safe to race; a failed attempt
	// is retried on the next vector query.
	vectorReady atomic.Bool
}

// New creates an Engine from the given config.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("store driver is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}

	return &Engine{
		store:    cfg.Store,
		embedder: cfg.Embedder,
		events:   cfg.Events,
		logger:   cfg.Logger,
		decay:    cfg.Decay.withDefaults(),
		search:   cfg.Search.withDefaults(),
	}, nil
}

// Retune replaces the decay and search tuning at runtime.
func (e *Engine) Retune(decay DecayConfig, search SearchConfig) {
	e.tuneMu.Lock()
	defer e.tuneMu.Unlock()

	e.decay = decay.withDefaults()
	e.search = search.withDefaults()
}

func (e *Engine) decayConfig() DecayConfig {
	e.tuneMu.RLock()
	defer e.tuneMu.RUnlock()
	return e.decay
}

func (e *Engine) searchConfig() SearchConfig {
	e.tuneMu.RLock()
	defer e.tuneMu.RUnlock()
	return e.search
}

// Close releases the engine's collaborators.
func (e *Engine) Close() error {
	var errs []error

	if e.embedder != nil {
		errs = append(errs, e.embedder.Close())
	}
	if e.events != nil {
		errs = append(errs, e.events.Close())
	}
	errs = append(errs, e.store.Close())

	return errors.Join(errs...)
}

// ReadGraph returns the full current graph.
func (e *Engine) ReadGraph(ctx context.Context) (*graph.Graph, error) {
	started := time.Now()

	entities, err := e.store.CurrentEntities(ctx, nil)
	if err != nil {
		return nil, err
	}

	return e.hydrate(ctx, entities, started)
}

// OpenNodes returns the named current entities plus every current relation
// between them. Unknown names are skipped.
func (e *Engine) OpenNodes(ctx context.Context, names []string) (*graph.Graph, error) {
	started := time.Now()

	entities, err := e.store.CurrentEntities(ctx, names)
	if err != nil {
		return nil, err
	}

	return e.hydrate(ctx, entities, started)
}

// GraphAtTime reconstructs the graph as it existed at instant t.
func (e *Engine) GraphAtTime(ctx context.Context, t time.Time) (*graph.Graph, error) {
	started := time.Now()

	entities, err := e.store.EntitiesAt(ctx, t)
	if err != nil {
		return nil, err
	}

	relations, err := e.store.RelationsAt(ctx, t)
	if err != nil {
		return nil, err
	}

	return assemble(entities, relations, started), nil
}

// DecayedGraph returns the current graph with relation confidence decayed by
// age as of now. Stored values are never mutated.
func (e *Engine) DecayedGraph(ctx context.Context) (*graph.Graph, error) {
	g, err := e.ReadGraph(ctx)
	if err != nil {
		return nil, err
	}

	return ApplyDecay(e.decayConfig(), g, time.Now().UTC()), nil
}

// hydrate attaches every current relation whose endpoints are both in the
// entity set, then assembles the Graph projection. One second pass instead of
// an all-pairs join over the whole dataset.
func (e *Engine) hydrate(ctx context.Context, entities []graph.Entity, started time.Time) (*graph.Graph, error) {
	names := make([]string, len(entities))
	for i := range entities {
		names[i] = entities[i].Name
	}

	var relations []graph.Relation
	if len(names) > 0 {
		var err error
		relations, err = e.store.RelationsAmong(ctx, names)
		if err != nil {
			return nil, err
		}
	}

	return assemble(entities, relations, started), nil
}

// assemble builds the Graph projection with non-nil slices and timing.
func assemble(entities []graph.Entity, relations []graph.Relation, started time.Time) *graph.Graph {
	if entities == nil {
		entities = []graph.Entity{}
	}
	if relations == nil {
		relations = []graph.Relation{}
	}

	return &graph.Graph{
		Entities:  entities,
		Relations: relations,
		Total:     len(entities),
		TimeTaken: time.Since(started).Milliseconds(),
	}
}

// publish emits a mutation event after a committed write. Best-effort: a
// publish failure is logged, never surfaced.
func (e *Engine) publish(ctx context.Context, event *eventstream.MutationEvent) {
	if e.events == nil || event == nil {
		return
	}

	event.SchemaVersion = eventstream.SchemaVersionV1
	event.EventID = uuid.NewString()
	event.EmittedAt = time.Now().UTC()

	if err := e.events.PublishMutation(ctx, event); err != nil {
		e.logger.Warn("failed to publish mutation event",
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
	}
}
