// Package inmemory provides a map-backed store driver used by tests and as
// the default backend when no storage path is configured. Vector search is a
// brute-force cosine scan over current entity embeddings.
package inmemory

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/store"
)

// Driver implements store.Driver using in-memory maps.
type Driver struct {
	// mu guards all maps and order slices below.
	mu sync.RWMutex

	// entities and relations hold version rows keyed by row id.
	entities  map[string]graph.Entity
	relations map[string]graph.Relation

	// entityOrder and relationOrder keep insertion order so reads return
	// stable results within one process.
	entityOrder   []string
	relationOrder []string

	// dims is the vector index dimensionality; zero until EnsureVectorIndex.
	dims int
}

// NewDriver creates a new in-memory store driver.
func NewDriver() *Driver {
	return &Driver{
		entities:  make(map[string]graph.Entity),
		relations: make(map[string]graph.Relation),
	}
}

// InsertEntities stores new entity version rows.
func (d *Driver) InsertEntities(_ context.Context, entities []graph.Entity) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, e := range entities {
		if e.ID == "" {
			return errors.New("entity row id is required")
		}
		d.entities[e.ID] = e
		d.entityOrder = append(d.entityOrder, e.ID)
	}

	return nil
}

// InsertRelations stores new relation version rows.
func (d *Driver) InsertRelations(_ context.Context, relations []graph.Relation) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, r := range relations {
		if r.ID == "" {
			return errors.New("relation row id is required")
		}
		d.relations[r.ID] = r
		d.relationOrder = append(d.relationOrder, r.ID)
	}

	return nil
}

// Apply executes a version transition atomically under the write lock.
// A close targeting a row that is already closed (or missing) fails the whole
// transition with store.ConflictError and leaves state untouched.
func (d *Driver) Apply(_ context.Context, tr store.Transition) error {
	if tr.Empty() {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Validate all closes before mutating anything.
	for _, id := range tr.CloseEntityIDs {
		row, ok := d.entities[id]
		if !ok || row.ValidTo != nil {
			return store.ConflictError{RowID: id}
		}
	}
	for _, id := range tr.CloseRelationIDs {
		row, ok := d.relations[id]
		if !ok || row.ValidTo != nil {
			return store.ConflictError{RowID: id}
		}
	}

	at := tr.At
	for _, id := range tr.CloseEntityIDs {
		row := d.entities[id]
		closed := at
		row.ValidTo = &closed
		d.entities[id] = row
	}
	for _, id := range tr.CloseRelationIDs {
		row := d.relations[id]
		closed := at
		row.ValidTo = &closed
		d.relations[id] = row
	}

	for _, e := range tr.InsertEntities {
		d.entities[e.ID] = e
		d.entityOrder = append(d.entityOrder, e.ID)
	}
	for _, r := range tr.InsertRelations {
		d.relations[r.ID] = r
		d.relationOrder = append(d.relationOrder, r.ID)
	}

	return nil
}

// DeleteEntities removes all version rows for the named entities and every
// relation row touching them.
func (d *Driver) DeleteEntities(_ context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	nameSet := toSet(names)

	d.entityOrder = d.filterEntityOrder(func(e graph.Entity) bool {
		return !nameSet[e.Name]
	})
	d.relationOrder = d.filterRelationOrder(func(r graph.Relation) bool {
		return !nameSet[r.From] && !nameSet[r.To]
	})

	return nil
}

// DeleteRelations removes all version rows for the given logical relations.
func (d *Driver) DeleteRelations(_ context.Context, keys []graph.RelationKey) error {
	if len(keys) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	keySet := make(map[graph.RelationKey]bool, len(keys))
	for _, k := range keys {
		keySet[k] = true
	}

	d.relationOrder = d.filterRelationOrder(func(r graph.Relation) bool {
		return !keySet[r.Key()]
	})

	return nil
}

// CurrentEntity returns the open version row for a name.
func (d *Driver) CurrentEntity(_ context.Context, name string) (*graph.Entity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, id := range d.entityOrder {
		e := d.entities[id]
		if e.Name == name && e.ValidTo == nil {
			row := e
			return &row, nil
		}
	}

	return nil, graph.EntityNotFoundError{Name: name}
}

// CurrentEntities returns open rows for the given names in insertion order.
// A nil names slice returns all current entities.
func (d *Driver) CurrentEntities(_ context.Context, names []string) ([]graph.Entity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var nameSet map[string]bool
	if names != nil {
		nameSet = toSet(names)
	}

	var out []graph.Entity
	for _, id := range d.entityOrder {
		e := d.entities[id]
		if e.ValidTo != nil {
			continue
		}
		if nameSet != nil && !nameSet[e.Name] {
			continue
		}
		out = append(out, e)
	}

	return out, nil
}

// CurrentRelation returns the open version row for a logical relation.
func (d *Driver) CurrentRelation(_ context.Context, key graph.RelationKey) (*graph.Relation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, id := range d.relationOrder {
		r := d.relations[id]
		if r.Key() == key && r.ValidTo == nil {
			row := r
			return &row, nil
		}
	}

	return nil, graph.RelationNotFoundError{Key: key}
}

// RelationsTouching returns current relations with the named entity as either
// endpoint.
func (d *Driver) RelationsTouching(_ context.Context, name string) ([]graph.Relation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []graph.Relation
	for _, id := range d.relationOrder {
		r := d.relations[id]
		if r.ValidTo == nil && (r.From == name || r.To == name) {
			out = append(out, r)
		}
	}

	return out, nil
}

// RelationsAmong returns current relations whose endpoints are both in names.
func (d *Driver) RelationsAmong(_ context.Context, names []string) ([]graph.Relation, error) {
	if len(names) == 0 {
		return nil, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	nameSet := toSet(names)

	var out []graph.Relation
	for _, id := range d.relationOrder {
		r := d.relations[id]
		if r.ValidTo == nil && nameSet[r.From] && nameSet[r.To] {
			out = append(out, r)
		}
	}

	return out, nil
}

// EntityHistory returns all version rows for a name ordered by ValidFrom.
func (d *Driver) EntityHistory(_ context.Context, name string) ([]graph.Entity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []graph.Entity
	for _, id := range d.entityOrder {
		e := d.entities[id]
		if e.Name == name {
			out = append(out, e)
		}
	}

	if len(out) == 0 {
		return nil, graph.EntityNotFoundError{Name: name}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ValidFrom.Before(out[j].ValidFrom)
	})

	return out, nil
}

// RelationHistory returns all version rows for a logical relation ordered by
// ValidFrom.
func (d *Driver) RelationHistory(_ context.Context, key graph.RelationKey) ([]graph.Relation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []graph.Relation
	for _, id := range d.relationOrder {
		r := d.relations[id]
		if r.Key() == key {
			out = append(out, r)
		}
	}

	if len(out) == 0 {
		return nil, graph.RelationNotFoundError{Key: key}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ValidFrom.Before(out[j].ValidFrom)
	})

	return out, nil
}

// EntitiesAt returns entity rows live at instant t.
func (d *Driver) EntitiesAt(_ context.Context, t time.Time) ([]graph.Entity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []graph.Entity
	for _, id := range d.entityOrder {
		e := d.entities[id]
		if liveAt(e.ValidFrom, e.ValidTo, t) {
			out = append(out, e)
		}
	}

	return out, nil
}

// RelationsAt returns relation rows live at instant t.
func (d *Driver) RelationsAt(_ context.Context, t time.Time) ([]graph.Relation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []graph.Relation
	for _, id := range d.relationOrder {
		r := d.relations[id]
		if liveAt(r.ValidFrom, r.ValidTo, t) {
			out = append(out, r)
		}
	}

	return out, nil
}

// MatchEntities returns current entities whose name, type, or joined
// observation text contains the query, case-insensitively.
func (d *Driver) MatchEntities(_ context.Context, query string, types []string, limit int) ([]graph.Entity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	needle := strings.ToLower(query)

	var typeSet map[string]bool
	if len(types) > 0 {
		typeSet = toSet(types)
	}

	var out []graph.Entity
	for _, id := range d.entityOrder {
		e := d.entities[id]
		if e.ValidTo != nil {
			continue
		}
		if typeSet != nil && !typeSet[e.EntityType] {
			continue
		}
		haystack := strings.ToLower(e.Name + " " + e.EntityType + " " + strings.Join(e.Observations, " "))
		if !strings.Contains(haystack, needle) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}

	return out, nil
}

// EnsureVectorIndex records the embedding dimensionality. Idempotent; a
// dimensionality change is rejected.
func (d *Driver) EnsureVectorIndex(_ context.Context, dimensions int) error {
	if dimensions <= 0 {
		return errors.New("vector index dimensions must be positive")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dims != 0 && d.dims != dimensions {
		return errors.New("vector index dimensions already set")
	}
	d.dims = dimensions

	return nil
}

// QueryByVector ranks current entities by cosine similarity to vec,
// normalized to [0,1].
func (d *Driver) QueryByVector(_ context.Context, vec []float32, topK int) ([]store.ScoredEntity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.dims == 0 {
		return nil, store.ErrVectorIndexUnavailable
	}
	if topK <= 0 {
		topK = 10
	}

	var scored []store.ScoredEntity
	for _, id := range d.entityOrder {
		e := d.entities[id]
		if e.ValidTo != nil || len(e.Embedding) == 0 {
			continue
		}
		scored = append(scored, store.ScoredEntity{
			Entity: e,
			Score:  cosineScore(vec, e.Embedding),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}

	return scored, nil
}

// Close releases driver resources.
func (d *Driver) Close() error {
	return nil
}

// filterEntityOrder drops rows failing keep from both map and order slice.
// Caller holds the write lock.
func (d *Driver) filterEntityOrder(keep func(graph.Entity) bool) []string {
	order := d.entityOrder[:0]
	for _, id := range d.entityOrder {
		e := d.entities[id]
		if keep(e) {
			order = append(order, id)
			continue
		}
		delete(d.entities, id)
	}
	return order
}

// filterRelationOrder drops rows failing keep from both map and order slice.
// Caller holds the write lock.
func (d *Driver) filterRelationOrder(keep func(graph.Relation) bool) []string {
	order := d.relationOrder[:0]
	for _, id := range d.relationOrder {
		r := d.relations[id]
		if keep(r) {
			order = append(order, id)
			continue
		}
		delete(d.relations, id)
	}
	return order
}

// liveAt implements validFrom <= t < validTo, open intervals included.
func liveAt(from time.Time, to *time.Time, t time.Time) bool {
	if from.After(t) {
		return false
	}
	return to == nil || t.Before(*to)
}

// cosineScore maps cosine similarity from [-1,1] into [0,1].
func cosineScore(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}

	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return float32((cos + 1) / 2)
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

var _ store.Driver = (*Driver)(nil)
