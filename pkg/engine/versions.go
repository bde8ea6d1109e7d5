package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/store"
)

const (
	// DefaultStrength is applied when a relation's strength is absent,
	// both at creation and on carry-forward.
	DefaultStrength = 0.9

	// DefaultConfidence is applied when a relation's confidence is absent.
	DefaultConfidence = 0.95
)

// EntityInput describes an entity to create.
type EntityInput struct {
	Name         string   `json:"name"`
	EntityType   string   `json:"entityType"`
	Observations []string `json:"observations"`
	ChangedBy    string   `json:"changedBy,omitempty"`
}

// RelationInput describes a relation to create.
type RelationInput struct {
	From         string         `json:"from"`
	To           string         `json:"to"`
	RelationType string         `json:"relationType"`
	Strength     float64        `json:"strength,omitempty"`
	Confidence   float64        `json:"confidence,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ChangedBy    string         `json:"changedBy,omitempty"`
}

// ObservationInput adds observation contents to a named entity.
type ObservationInput struct {
	EntityName string   `json:"entityName"`
	Contents   []string `json:"contents"`
	ChangedBy  string   `json:"changedBy,omitempty"`
}

// ObservationDeletion removes observation strings from a named entity.
type ObservationDeletion struct {
	EntityName   string   `json:"entityName"`
	Observations []string `json:"observations"`
	ChangedBy    string   `json:"changedBy,omitempty"`
}

// ObservationResult reports what actually changed for one entity.
type ObservationResult struct {
	EntityName          string   `json:"entityName"`
	AddedObservations   []string `json:"addedObservations"`
	RemovedObservations []string `json:"removedObservations,omitempty"`
}

// RelationUpdate supersedes the current version of a relation. Nil fields
// carry forward from the current version.
type RelationUpdate struct {
	From         string         `json:"from"`
	To           string         `json:"to"`
	RelationType string         `json:"relationType"`
	Strength     *float64       `json:"strength,omitempty"`
	Confidence   *float64       `json:"confidence,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ChangedBy    string         `json:"changedBy,omitempty"`
}

// CreateEntities inserts version-1 rows for the given inputs. Names that
// already have a current version, and names repeated within the batch, are
// skipped with a diagnostic, preserving the one-current-row invariant. When
// the embedding gateway is available an embedding is generated from the
// joined observation text before the write; embedding failure is non-fatal
// and the entity is created without one.
func (e *Engine) CreateEntities(ctx context.Context, inputs []EntityInput) ([]graph.Entity, error) {
	now := time.Now().UTC()

	rows := make([]graph.Entity, 0, len(inputs))
	accepted := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		if in.Name == "" {
			return nil, errors.New("entity name is required")
		}

		// A name may repeat within the batch; only the first occurrence
		// inserts, so the name keeps a single current row.
		if _, dup := accepted[in.Name]; dup {
			e.logger.Warn("duplicate entity name in batch, skipping create",
				zap.String("name", in.Name),
			)
			continue
		}

		if _, err := e.store.CurrentEntity(ctx, in.Name); err == nil {
			e.logger.Warn("entity already exists, skipping create",
				zap.String("name", in.Name),
			)
			continue
		} else if !errors.As(err, &graph.EntityNotFoundError{}) {
			return nil, err
		}

		accepted[in.Name] = struct{}{}
		rows = append(rows, graph.Entity{
			ID:           uuid.NewString(),
			Name:         in.Name,
			EntityType:   in.EntityType,
			Observations: append([]string{}, in.Observations...),
			Version:      1,
			CreatedAt:    now,
			UpdatedAt:    now,
			ValidFrom:    now,
			ChangedBy:    in.ChangedBy,
		})
	}

	if len(rows) == 0 {
		return []graph.Entity{}, nil
	}

	// Embeddings are generated outside any store transaction so a slow model
	// never holds storage locks.
	e.attachEmbeddings(ctx, rows)

	if err := e.store.InsertEntities(ctx, rows); err != nil {
		return nil, err
	}

	e.publish(ctx, &eventstream.MutationEvent{
		EventType: eventstream.EventTypeEntitiesCreated,
		Actor:     firstActor(inputs),
		Entities:  rows,
	})

	return rows, nil
}

// CreateRelations inserts version-1 relation rows. A relation whose endpoint
// entities do not both currently exist is skipped with a diagnostic, never
// partially created. Relations that already have a current version are
// likewise skipped.
func (e *Engine) CreateRelations(ctx context.Context, inputs []RelationInput) ([]graph.Relation, error) {
	now := time.Now().UTC()

	rows := make([]graph.Relation, 0, len(inputs))
	for _, in := range inputs {
		if in.From == "" || in.To == "" || in.RelationType == "" {
			return nil, errors.New("relation from, to, and relationType are required")
		}

		if !e.endpointsExist(ctx, in.From, in.To) {
			e.logger.Warn("relation endpoints missing, skipping create",
				zap.String("from", in.From),
				zap.String("to", in.To),
				zap.String("relation_type", in.RelationType),
			)
			continue
		}

		key := graph.RelationKey{From: in.From, To: in.To, RelationType: in.RelationType}
		if _, err := e.store.CurrentRelation(ctx, key); err == nil {
			e.logger.Warn("relation already exists, skipping create",
				zap.String("from", in.From),
				zap.String("to", in.To),
				zap.String("relation_type", in.RelationType),
			)
			continue
		} else if !errors.As(err, &graph.RelationNotFoundError{}) {
			return nil, err
		}

		rows = append(rows, graph.Relation{
			ID:           uuid.NewString(),
			From:         in.From,
			To:           in.To,
			RelationType: in.RelationType,
			Strength:     defaultIfZero(in.Strength, DefaultStrength),
			Confidence:   defaultIfZero(in.Confidence, DefaultConfidence),
			Metadata:     in.Metadata,
			Version:      1,
			CreatedAt:    now,
			UpdatedAt:    now,
			ValidFrom:    now,
			ChangedBy:    in.ChangedBy,
		})
	}

	if len(rows) == 0 {
		return []graph.Relation{}, nil
	}

	if err := e.store.InsertRelations(ctx, rows); err != nil {
		return nil, err
	}

	e.publish(ctx, &eventstream.MutationEvent{
		EventType: eventstream.EventTypeRelationsCreated,
		Relations: rows,
	})

	return rows, nil
}

// AddObservations appends new observation contents to entities. Contents
// already present are suppressed; an entity with nothing new is left
// untouched (no new version). Otherwise the entity's current row is closed
// and recreated with the merged list, and every adjacent current relation is
// closed and recreated against the new version, all in one atomic
// transition per entity. Unknown entity names are skipped with a diagnostic;
// transactional failures abort the batch.
func (e *Engine) AddObservations(ctx context.Context, inputs []ObservationInput) ([]ObservationResult, error) {
	results := make([]ObservationResult, 0, len(inputs))

	for _, in := range inputs {
		cur, err := e.store.CurrentEntity(ctx, in.EntityName)
		if err != nil {
			if errors.As(err, &graph.EntityNotFoundError{}) {
				e.logger.Warn("entity not found, skipping observations",
					zap.String("name", in.EntityName),
				)
				results = append(results, ObservationResult{
					EntityName:        in.EntityName,
					AddedObservations: []string{},
				})
				continue
			}
			return nil, err
		}

		added := difference(in.Contents, cur.Observations)
		if len(added) == 0 {
			results = append(results, ObservationResult{
				EntityName:        in.EntityName,
				AddedObservations: []string{},
			})
			continue
		}

		merged := make([]string, 0, len(cur.Observations)+len(added))
		merged = append(merged, cur.Observations...)
		merged = append(merged, added...)

		next, err := e.supersedeEntity(ctx, cur, merged, in.ChangedBy)
		if err != nil {
			return nil, err
		}

		e.publish(ctx, &eventstream.MutationEvent{
			EventType: eventstream.EventTypeEntityVersioned,
			Actor:     in.ChangedBy,
			Entities:  []graph.Entity{*next},
		})

		results = append(results, ObservationResult{
			EntityName:        in.EntityName,
			AddedObservations: added,
		})
	}

	return results, nil
}

// DeleteObservations removes observation strings from entities using the
// same copy-on-write supersession as AddObservations. Entities left
// unchanged get no new version.
func (e *Engine) DeleteObservations(ctx context.Context, inputs []ObservationDeletion) ([]ObservationResult, error) {
	results := make([]ObservationResult, 0, len(inputs))

	for _, in := range inputs {
		cur, err := e.store.CurrentEntity(ctx, in.EntityName)
		if err != nil {
			if errors.As(err, &graph.EntityNotFoundError{}) {
				e.logger.Warn("entity not found, skipping observation delete",
					zap.String("name", in.EntityName),
				)
				results = append(results, ObservationResult{
					EntityName:        in.EntityName,
					AddedObservations: []string{},
				})
				continue
			}
			return nil, err
		}

		remaining := difference(cur.Observations, in.Observations)
		removed := difference(cur.Observations, remaining)
		if len(removed) == 0 {
			results = append(results, ObservationResult{
				EntityName:        in.EntityName,
				AddedObservations: []string{},
			})
			continue
		}

		next, err := e.supersedeEntity(ctx, cur, remaining, in.ChangedBy)
		if err != nil {
			return nil, err
		}

		e.publish(ctx, &eventstream.MutationEvent{
			EventType: eventstream.EventTypeEntityVersioned,
			Actor:     in.ChangedBy,
			Entities:  []graph.Entity{*next},
		})

		results = append(results, ObservationResult{
			EntityName:          in.EntityName,
			AddedObservations:   []string{},
			RemovedObservations: removed,
		})
	}

	return results, nil
}

// UpdateRelation closes the current version of a relation and inserts the
// next one, carrying forward any field not explicitly supplied. Returns
// graph.RelationNotFoundError when no current version exists.
func (e *Engine) UpdateRelation(ctx context.Context, upd RelationUpdate) (*graph.Relation, error) {
	key := graph.RelationKey{From: upd.From, To: upd.To, RelationType: upd.RelationType}

	cur, err := e.store.CurrentRelation(ctx, key)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	next := graph.Relation{
		ID:           uuid.NewString(),
		From:         cur.From,
		To:           cur.To,
		RelationType: cur.RelationType,
		Strength:     defaultIfZero(cur.Strength, DefaultStrength),
		Confidence:   defaultIfZero(cur.Confidence, DefaultConfidence),
		Metadata:     cur.Metadata,
		Version:      cur.Version + 1,
		CreatedAt:    cur.CreatedAt,
		UpdatedAt:    now,
		ValidFrom:    now,
		ChangedBy:    upd.ChangedBy,
	}

	if upd.Strength != nil {
		next.Strength = *upd.Strength
	}
	if upd.Confidence != nil {
		next.Confidence = *upd.Confidence
	}
	if upd.Metadata != nil {
		next.Metadata = upd.Metadata
	}

	tr := store.Transition{At: now}
	tr.CloseRelationIDs = []string{cur.ID}
	tr.InsertRelations = []graph.Relation{next}

	if err := e.store.Apply(ctx, tr); err != nil {
		return nil, err
	}

	e.publish(ctx, &eventstream.MutationEvent{
		EventType: eventstream.EventTypeRelationVersioned,
		Actor:     upd.ChangedBy,
		Relations: []graph.Relation{next},
	})

	return &next, nil
}

// DeleteEntities hard-deletes entities: every version row for each name is
// removed, along with every relation row touching them. History is gone
// outright; this deliberately bypasses the versioned model.
func (e *Engine) DeleteEntities(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}

	if err := e.store.DeleteEntities(ctx, names); err != nil {
		return err
	}

	e.publish(ctx, &eventstream.MutationEvent{
		EventType:    eventstream.EventTypeDeleted,
		DeletedNames: names,
	})

	return nil
}

// DeleteRelations hard-deletes relations including their history.
func (e *Engine) DeleteRelations(ctx context.Context, keys []graph.RelationKey) error {
	if len(keys) == 0 {
		return nil
	}

	if err := e.store.DeleteRelations(ctx, keys); err != nil {
		return err
	}

	e.publish(ctx, &eventstream.MutationEvent{
		EventType:   eventstream.EventTypeDeleted,
		DeletedKeys: keys,
	})

	return nil
}

// EntityHistory returns every version row for a name ordered by ValidFrom.
func (e *Engine) EntityHistory(ctx context.Context, name string) ([]graph.Entity, error) {
	return e.store.EntityHistory(ctx, name)
}

// RelationHistory returns every version row for a logical relation ordered
// by ValidFrom.
func (e *Engine) RelationHistory(ctx context.Context, from, to, relationType string) ([]graph.Relation, error) {
	return e.store.RelationHistory(ctx, graph.RelationKey{
		From:         from,
		To:           to,
		RelationType: relationType,
	})
}

// supersedeEntity closes the current entity row and inserts the successor
// with the given observation list, closing and recreating every adjacent
// current relation so the current relation set always points at the current
// entity version. The whole transition is applied atomically.
func (e *Engine) supersedeEntity(ctx context.Context, cur *graph.Entity, observations []string, changedBy string) (*graph.Entity, error) {
	now := time.Now().UTC()

	next := graph.Entity{
		ID:           uuid.NewString(),
		Name:         cur.Name,
		EntityType:   cur.EntityType,
		Observations: observations,
		Version:      cur.Version + 1,
		CreatedAt:    cur.CreatedAt,
		UpdatedAt:    now,
		ValidFrom:    now,
		ChangedBy:    changedBy,
		Embedding:    cur.Embedding,
	}

	// Re-embed the changed observation text before opening the transaction;
	// failure keeps the previous embedding.
	rows := []graph.Entity{next}
	e.attachEmbeddings(ctx, rows)
	next = rows[0]

	touching, err := e.store.RelationsTouching(ctx, cur.Name)
	if err != nil {
		return nil, err
	}

	tr := store.Transition{At: now}
	tr.CloseEntityIDs = []string{cur.ID}
	tr.InsertEntities = []graph.Entity{next}

	for _, rel := range touching {
		tr.CloseRelationIDs = append(tr.CloseRelationIDs, rel.ID)
		tr.InsertRelations = append(tr.InsertRelations, graph.Relation{
			ID:           uuid.NewString(),
			From:         rel.From,
			To:           rel.To,
			RelationType: rel.RelationType,
			Strength:     defaultIfZero(rel.Strength, DefaultStrength),
			Confidence:   defaultIfZero(rel.Confidence, DefaultConfidence),
			Metadata:     rel.Metadata,
			Version:      rel.Version + 1,
			CreatedAt:    rel.CreatedAt,
			UpdatedAt:    now,
			ValidFrom:    now,
			ChangedBy:    changedBy,
		})
	}

	if err := e.store.Apply(ctx, tr); err != nil {
		return nil, err
	}

	return &next, nil
}

// attachEmbeddings fills Embedding on each row from its joined observation
// text. Gateway absence or failure is absorbed: entities proceed without an
// embedding and only semantic search quality degrades.
func (e *Engine) attachEmbeddings(ctx context.Context, rows []graph.Entity) {
	if e.embedder == nil || len(rows) == 0 {
		return
	}

	texts := make([]string, len(rows))
	for i := range rows {
		texts[i] = strings.Join(rows[i].Observations, " ")
	}

	vecs, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		e.logger.Warn("embedding generation failed, continuing without embeddings",
			zap.Int("entities", len(rows)),
			zap.Error(err),
		)
		return
	}

	for i := range rows {
		rows[i].Embedding = vecs[i]
	}

	// The index is created lazily because dimensionality may be unknown
	// until the first embedding arrives.
	if len(vecs) > 0 && len(vecs[0]) > 0 {
		e.initVectorIndex(ctx, len(vecs[0]))
	}
}

// endpointsExist reports whether both named entities have a current version.
func (e *Engine) endpointsExist(ctx context.Context, from, to string) bool {
	if _, err := e.store.CurrentEntity(ctx, from); err != nil {
		return false
	}
	if _, err := e.store.CurrentEntity(ctx, to); err != nil {
		return false
	}
	return true
}

// difference returns items from a not present in b, preserving a's order and
// dropping duplicates within a.
func difference(a, b []string) []string {
	present := make(map[string]bool, len(b))
	for _, s := range b {
		present[s] = true
	}

	var out []string
	for _, s := range a {
		if present[s] {
			continue
		}
		present[s] = true
		out = append(out, s)
	}
	return out
}

func defaultIfZero(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func firstActor(inputs []EntityInput) string {
	for _, in := range inputs {
		if in.ChangedBy != "" {
			return in.ChangedBy
		}
	}
	return ""
}
