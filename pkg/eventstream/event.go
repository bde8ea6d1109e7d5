// Package eventstream defines transport-neutral mutation events emitted
// after knowledge-graph writes commit, and the Publisher interface backends
// implement. Publishing is best-effort: a failed publish never rolls back
// the write that produced it.
package eventstream

import (
	"time"

	"github.com/papercomputeco/engram/pkg/graph"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeEntitiesCreated is emitted after version-1 entity rows commit.
	EventTypeEntitiesCreated = "engram.entities.created"

	// EventTypeEntityVersioned is emitted after an entity supersession
	// (observation append/delete) commits.
	EventTypeEntityVersioned = "engram.entity.versioned"

	// EventTypeRelationsCreated is emitted after relation rows commit.
	EventTypeRelationsCreated = "engram.relations.created"

	// EventTypeRelationVersioned is emitted after a relation update commits.
	EventTypeRelationVersioned = "engram.relation.versioned"

	// EventTypeDeleted is emitted after a hard delete commits.
	EventTypeDeleted = "engram.deleted"
)

// MutationEvent is a transport-neutral event payload for a committed
// knowledge-graph mutation.
type MutationEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`

	// Actor is the changedBy tag of the mutation, when supplied.
	Actor string `json:"actor,omitempty"`

	// Entities and Relations are the version rows written by the mutation.
	// For deletes they are the logical names/keys removed instead.
	Entities  []graph.Entity   `json:"entities,omitempty"`
	Relations []graph.Relation `json:"relations,omitempty"`

	// DeletedNames and DeletedKeys identify hard-deleted logical records.
	DeletedNames []string            `json:"deleted_names,omitempty"`
	DeletedKeys  []graph.RelationKey `json:"deleted_keys,omitempty"`
}
