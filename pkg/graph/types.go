// Package graph defines the data model for the engram knowledge graph:
// versioned entities, versioned relations between them, and the read-only
// Graph projection returned by every query.
//
// Entities and relations are stored as version rows. A logical entity is
// identified by its Name; a logical relation by (From, To, RelationType).
// Each mutation closes the current row (ValidTo set) and inserts a successor
// row, so history stays queryable. The row with a nil ValidTo is the current
// version.
package graph

import "time"

// Entity is one version row of a named, typed thing with free-text
// observations attached.
type Entity struct {
	// ID identifies this version row, not the logical entity.
	ID string `json:"id"`

	// Name is the logical key, stable across versions.
	Name string `json:"name"`

	// EntityType classifies the entity (e.g. "person", "project").
	EntityType string `json:"entityType"`

	// Observations is an ordered list of free-text facts. Insertion order is
	// significant; duplicates are suppressed on append.
	Observations []string `json:"observations"`

	// Version increases monotonically per logical name, starting at 1.
	Version int `json:"version"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// ValidFrom/ValidTo bound the interval during which this row was the
	// current version. A nil ValidTo marks the current row.
	ValidFrom time.Time  `json:"validFrom"`
	ValidTo   *time.Time `json:"validTo,omitempty"`

	// ChangedBy optionally tags the actor that produced this version.
	ChangedBy string `json:"changedBy,omitempty"`

	// Embedding is the unit vector for this entity's observation text, when
	// an embedding provider was available at write time.
	Embedding []float32 `json:"-"`
}

// Current reports whether this row is the open (current) version.
func (e *Entity) Current() bool {
	return e.ValidTo == nil
}

// Relation is one version row of a directed, typed edge between two entities,
// referenced by name.
type Relation struct {
	// ID identifies this version row.
	ID string `json:"id"`

	From         string `json:"from"`
	To           string `json:"to"`
	RelationType string `json:"relationType"`

	// Strength is an application-defined edge weight in [0,1]. It never
	// decays.
	Strength float64 `json:"strength,omitempty"`

	// Confidence is the base trust score in [0,1]. Read paths may present it
	// decayed by age; the stored value is never rewritten.
	Confidence float64 `json:"confidence,omitempty"`

	// Metadata is an opaque bag carried forward across versions.
	Metadata map[string]any `json:"metadata,omitempty"`

	Version int `json:"version"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ValidFrom time.Time  `json:"validFrom"`
	ValidTo   *time.Time `json:"validTo,omitempty"`

	ChangedBy string `json:"changedBy,omitempty"`
}

// Current reports whether this row is the open (current) version.
func (r *Relation) Current() bool {
	return r.ValidTo == nil
}

// Key returns the logical identity of the relation.
func (r *Relation) Key() RelationKey {
	return RelationKey{From: r.From, To: r.To, RelationType: r.RelationType}
}

// RelationKey identifies a logical relation across versions.
type RelationKey struct {
	From         string `json:"from"`
	To           string `json:"to"`
	RelationType string `json:"relationType"`
}

// Graph is the read-only projection returned by every query. It is assembled
// per call and never persisted.
type Graph struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`

	// Total is the number of entities in the result.
	Total int `json:"total"`

	// TimeTaken is the wall-clock duration of the query in milliseconds.
	TimeTaken int64 `json:"timeTaken"`
}

// EntityNames returns the logical names present in the graph, in result order.
func (g *Graph) EntityNames() []string {
	names := make([]string, len(g.Entities))
	for i := range g.Entities {
		names[i] = g.Entities[i].Name
	}
	return names
}
