// Package store defines the persistence driver interface for the engram
// knowledge graph.
//
// A Driver owns durable storage of entity and relation version rows plus two
// query capabilities the retrieval layer depends on: a case-insensitive text
// match over entity fields, and (optionally) a nearest-neighbor vector index
// over current entity embeddings. Backends that cannot index vectors return
// ErrVectorIndexUnavailable and the retrieval layer degrades to text match.
//
// Version supersession is expressed as a Transition: close a set of current
// rows and insert their successors at a single instant. Drivers must apply a
// Transition atomically: a reader never observes closed rows without their
// successors or vice versa.
//
// Drivers are pluggable via configuration:
//
//	[storage]
//	provider = "sqlite"   # or "memory", "postgres", "neo4j"
package store

import (
	"context"
	"time"

	"github.com/papercomputeco/engram/pkg/graph"
)

// ScoredEntity pairs an entity with its vector similarity score.
type ScoredEntity struct {
	graph.Entity

	// Score is the similarity to the query vector (higher = more similar),
	// normalized to [0,1] by the driver.
	Score float32
}

// Transition is the atomic unit of version supersession. All closes and
// inserts happen at instant At inside one storage transaction.
type Transition struct {
	// At is the instant applied as ValidTo on closed rows. Inserted rows
	// carry their own ValidFrom (normally equal to At).
	At time.Time

	// CloseEntityIDs and CloseRelationIDs are version-row ids whose ValidTo
	// is currently open and must be set to At.
	CloseEntityIDs   []string
	CloseRelationIDs []string

	// InsertEntities and InsertRelations are the successor rows.
	InsertEntities  []graph.Entity
	InsertRelations []graph.Relation
}

// Empty reports whether the transition carries no work.
func (t Transition) Empty() bool {
	return len(t.CloseEntityIDs) == 0 && len(t.CloseRelationIDs) == 0 &&
		len(t.InsertEntities) == 0 && len(t.InsertRelations) == 0
}

// Driver is the persistence contract for the knowledge graph.
//
// All read methods returning slices preserve a stable order within one call
// so that tie-breaks in ranking are reproducible.
type Driver interface {
	// InsertEntities stores new version rows. Used for version-1 creates;
	// supersession goes through Apply.
	InsertEntities(ctx context.Context, entities []graph.Entity) error

	// InsertRelations stores new relation version rows.
	InsertRelations(ctx context.Context, relations []graph.Relation) error

	// Apply executes a version transition atomically. A close targeting a row
	// that is no longer open is a conflict (a concurrent writer superseded it
	// first) and fails the whole transition.
	Apply(ctx context.Context, tr Transition) error

	// DeleteEntities removes every version row for the named entities and
	// every relation version row touching them. History is removed outright;
	// this is not a versioned tombstone.
	DeleteEntities(ctx context.Context, names []string) error

	// DeleteRelations removes every version row for the given logical
	// relations.
	DeleteRelations(ctx context.Context, keys []graph.RelationKey) error

	// CurrentEntity returns the open version row for a name, or
	// graph.EntityNotFoundError.
	CurrentEntity(ctx context.Context, name string) (*graph.Entity, error)

	// CurrentEntities returns open version rows for the given names, skipping
	// names with no current row. A nil names slice returns all current
	// entities.
	CurrentEntities(ctx context.Context, names []string) ([]graph.Entity, error)

	// CurrentRelation returns the open version row for a logical relation, or
	// graph.RelationNotFoundError.
	CurrentRelation(ctx context.Context, key graph.RelationKey) (*graph.Relation, error)

	// RelationsTouching returns every current relation with the named entity
	// as either endpoint.
	RelationsTouching(ctx context.Context, name string) ([]graph.Relation, error)

	// RelationsAmong returns every current relation whose endpoints are both
	// in the given name set.
	RelationsAmong(ctx context.Context, names []string) ([]graph.Relation, error)

	// EntityHistory returns all version rows for a name ordered by ValidFrom
	// ascending.
	EntityHistory(ctx context.Context, name string) ([]graph.Entity, error)

	// RelationHistory returns all version rows for a logical relation ordered
	// by ValidFrom ascending.
	RelationHistory(ctx context.Context, key graph.RelationKey) ([]graph.Relation, error)

	// EntitiesAt returns the rows live at instant t: ValidFrom <= t < ValidTo,
	// or ValidTo open with ValidFrom <= t.
	EntitiesAt(ctx context.Context, t time.Time) ([]graph.Entity, error)

	// RelationsAt is EntitiesAt for relations.
	RelationsAt(ctx context.Context, t time.Time) ([]graph.Relation, error)

	// MatchEntities returns current entities whose name, type, or joined
	// observation text contains the query, case-insensitively. An empty types
	// slice matches all entity types.
	MatchEntities(ctx context.Context, query string, types []string, limit int) ([]graph.Entity, error)

	// EnsureVectorIndex prepares the vector index for the given embedding
	// dimensionality. Idempotent and safe to race. Backends without vector
	// support return ErrVectorIndexUnavailable.
	EnsureVectorIndex(ctx context.Context, dimensions int) error

	// QueryByVector returns up to topK current entities ranked by descending
	// similarity to the query vector. Scores are normalized to [0,1] with
	// higher meaning more similar, but the mapping from raw distance to score
	// is backend-specific (sqlitevec uses 1/(1+distance), inmemory
	// (cosine+1)/2, neo4j native cosine similarity), so a similarity floor
	// tuned against one backend is not directly portable to another. Returns
	// ErrVectorIndexUnavailable when the index is absent or not yet
	// initialized.
	QueryByVector(ctx context.Context, vec []float32, topK int) ([]ScoredEntity, error)

	// Close releases driver resources.
	Close() error
}
