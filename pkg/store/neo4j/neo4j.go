// Package neo4j provides a Neo4j-backed store driver.
//
// Version rows map to nodes: entity versions are (:EntityVersion) nodes and
// relation versions are (:RelationVersion) nodes, so closed rows survive as
// history the same way they do in the SQL backends. Vector search uses a
// native Neo4j vector index over current entity embeddings.
package neo4j

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/store"
)

const vectorIndexName = "entity_embeddings"

// Driver implements store.Driver using Neo4j.
type Driver struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger

	mu       sync.Mutex
	vecReady bool
}

// Config holds configuration for the Neo4j store driver.
type Config struct {
	// URI is the bolt connection URI, e.g. "neo4j://localhost:7687".
	URI string
	// Username and Password authenticate against the database.
	Username string
	Password string
}

// NewDriver creates a new Neo4j-backed store driver.
func NewDriver(ctx context.Context, c Config, logger *zap.Logger) (*Driver, error) {
	if c.URI == "" {
		return nil, fmt.Errorf("neo4j URI is required")
	}

	drv, err := neo4j.NewDriverWithContext(c.URI, neo4j.BasicAuth(c.Username, c.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	if err := drv.VerifyConnectivity(ctx); err != nil {
		drv.Close(ctx)
		return nil, fmt.Errorf("%w: %v", store.ErrConnection, err)
	}

	d := &Driver{driver: drv, logger: logger}

	if err := d.ensureConstraints(ctx); err != nil {
		drv.Close(ctx)
		return nil, err
	}

	logger.Info("neo4j store driver initialized",
		zap.String("uri", c.URI),
	)

	return d, nil
}

func (d *Driver) ensureConstraints(ctx context.Context) error {
	stmts := []string{
		`CREATE CONSTRAINT entity_version_id IF NOT EXISTS FOR (e:EntityVersion) REQUIRE e.id IS UNIQUE`,
		`CREATE CONSTRAINT relation_version_id IF NOT EXISTS FOR (r:RelationVersion) REQUIRE r.id IS UNIQUE`,
		`CREATE INDEX entity_version_name IF NOT EXISTS FOR (e:EntityVersion) ON (e.name)`,
	}
	for _, stmt := range stmts {
		if _, err := neo4j.ExecuteQuery(ctx, d.driver, stmt, nil, neo4j.EagerResultTransformer); err != nil {
			return fmt.Errorf("creating constraint: %w", err)
		}
	}
	return nil
}

// InsertEntities stores new entity version rows in one transaction.
func (d *Driver) InsertEntities(ctx context.Context, entities []graph.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	return d.write(ctx, func(tx neo4j.ManagedTransaction) error {
		for _, e := range entities {
			if err := insertEntity(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertRelations stores new relation version rows in one transaction.
func (d *Driver) InsertRelations(ctx context.Context, relations []graph.Relation) error {
	if len(relations) == 0 {
		return nil
	}
	return d.write(ctx, func(tx neo4j.ManagedTransaction) error {
		for _, r := range relations {
			if err := insertRelation(ctx, tx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

// Apply executes a version transition in one transaction.
func (d *Driver) Apply(ctx context.Context, tr store.Transition) error {
	if tr.Empty() {
		return nil
	}
	at := tr.At.UnixMilli()

	return d.write(ctx, func(tx neo4j.ManagedTransaction) error {
		for _, id := range tr.CloseEntityIDs {
			if err := closeNode(ctx, tx, "EntityVersion", id, at); err != nil {
				return err
			}
		}
		for _, id := range tr.CloseRelationIDs {
			if err := closeNode(ctx, tx, "RelationVersion", id, at); err != nil {
				return err
			}
		}
		for _, e := range tr.InsertEntities {
			if err := insertEntity(ctx, tx, e); err != nil {
				return err
			}
		}
		for _, r := range tr.InsertRelations {
			if err := insertRelation(ctx, tx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteEntities removes all version rows for the named entities plus every
// relation row touching them.
func (d *Driver) DeleteEntities(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	return d.write(ctx, func(tx neo4j.ManagedTransaction) error {
		if _, err := tx.Run(ctx,
			`MATCH (r:RelationVersion) WHERE r.from IN $names OR r.to IN $names DETACH DELETE r`,
			map[string]any{"names": names},
		); err != nil {
			return fmt.Errorf("deleting touching relations: %w", err)
		}
		if _, err := tx.Run(ctx,
			`MATCH (e:EntityVersion) WHERE e.name IN $names DETACH DELETE e`,
			map[string]any{"names": names},
		); err != nil {
			return fmt.Errorf("deleting entities: %w", err)
		}
		return nil
	})
}

// DeleteRelations removes all version rows for the given logical relations.
func (d *Driver) DeleteRelations(ctx context.Context, keys []graph.RelationKey) error {
	if len(keys) == 0 {
		return nil
	}
	return d.write(ctx, func(tx neo4j.ManagedTransaction) error {
		for _, k := range keys {
			if _, err := tx.Run(ctx,
				`MATCH (r:RelationVersion {from: $from, to: $to, relationType: $type}) DETACH DELETE r`,
				map[string]any{"from": k.From, "to": k.To, "type": k.RelationType},
			); err != nil {
				return fmt.Errorf("deleting relation %s -[%s]-> %s: %w", k.From, k.RelationType, k.To, err)
			}
		}
		return nil
	})
}

// CurrentEntity returns the open version row for a name.
func (d *Driver) CurrentEntity(ctx context.Context, name string) (*graph.Entity, error) {
	entities, err := d.readEntities(ctx,
		`MATCH (e:EntityVersion {name: $name}) WHERE e.validTo IS NULL RETURN e`,
		map[string]any{"name": name},
	)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, graph.EntityNotFoundError{Name: name}
	}
	return &entities[0], nil
}

// CurrentEntities returns open rows for the given names; nil returns all.
func (d *Driver) CurrentEntities(ctx context.Context, names []string) ([]graph.Entity, error) {
	if names == nil {
		return d.readEntities(ctx,
			`MATCH (e:EntityVersion) WHERE e.validTo IS NULL RETURN e ORDER BY e.validFrom, e.name`,
			nil,
		)
	}
	if len(names) == 0 {
		return nil, nil
	}
	return d.readEntities(ctx,
		`MATCH (e:EntityVersion) WHERE e.validTo IS NULL AND e.name IN $names RETURN e ORDER BY e.validFrom, e.name`,
		map[string]any{"names": names},
	)
}

// CurrentRelation returns the open version row for a logical relation.
func (d *Driver) CurrentRelation(ctx context.Context, key graph.RelationKey) (*graph.Relation, error) {
	relations, err := d.readRelations(ctx,
		`MATCH (r:RelationVersion {from: $from, to: $to, relationType: $type}) WHERE r.validTo IS NULL RETURN r`,
		map[string]any{"from": key.From, "to": key.To, "type": key.RelationType},
	)
	if err != nil {
		return nil, err
	}
	if len(relations) == 0 {
		return nil, graph.RelationNotFoundError{Key: key}
	}
	return &relations[0], nil
}

// RelationsTouching returns current relations with the named entity as
// either endpoint.
func (d *Driver) RelationsTouching(ctx context.Context, name string) ([]graph.Relation, error) {
	return d.readRelations(ctx,
		`MATCH (r:RelationVersion) WHERE r.validTo IS NULL AND (r.from = $name OR r.to = $name) RETURN r ORDER BY r.validFrom`,
		map[string]any{"name": name},
	)
}

// RelationsAmong returns current relations whose endpoints are both in names.
func (d *Driver) RelationsAmong(ctx context.Context, names []string) ([]graph.Relation, error) {
	if len(names) == 0 {
		return nil, nil
	}
	return d.readRelations(ctx,
		`MATCH (r:RelationVersion) WHERE r.validTo IS NULL AND r.from IN $names AND r.to IN $names RETURN r ORDER BY r.validFrom`,
		map[string]any{"names": names},
	)
}

// EntityHistory returns all version rows for a name ordered by validity.
func (d *Driver) EntityHistory(ctx context.Context, name string) ([]graph.Entity, error) {
	entities, err := d.readEntities(ctx,
		`MATCH (e:EntityVersion {name: $name}) RETURN e ORDER BY e.validFrom, e.version`,
		map[string]any{"name": name},
	)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, graph.EntityNotFoundError{Name: name}
	}
	return entities, nil
}

// RelationHistory returns all version rows for a logical relation.
func (d *Driver) RelationHistory(ctx context.Context, key graph.RelationKey) ([]graph.Relation, error) {
	relations, err := d.readRelations(ctx,
		`MATCH (r:RelationVersion {from: $from, to: $to, relationType: $type}) RETURN r ORDER BY r.validFrom, r.version`,
		map[string]any{"from": key.From, "to": key.To, "type": key.RelationType},
	)
	if err != nil {
		return nil, err
	}
	if len(relations) == 0 {
		return nil, graph.RelationNotFoundError{Key: key}
	}
	return relations, nil
}

// EntitiesAt returns entity rows live at instant t.
func (d *Driver) EntitiesAt(ctx context.Context, t time.Time) ([]graph.Entity, error) {
	return d.readEntities(ctx,
		`MATCH (e:EntityVersion) WHERE e.validFrom <= $at AND (e.validTo IS NULL OR e.validTo > $at) RETURN e ORDER BY e.validFrom, e.name`,
		map[string]any{"at": t.UnixMilli()},
	)
}

// RelationsAt returns relation rows live at instant t.
func (d *Driver) RelationsAt(ctx context.Context, t time.Time) ([]graph.Relation, error) {
	return d.readRelations(ctx,
		`MATCH (r:RelationVersion) WHERE r.validFrom <= $at AND (r.validTo IS NULL OR r.validTo > $at) RETURN r ORDER BY r.validFrom`,
		map[string]any{"at": t.UnixMilli()},
	)
}

// MatchEntities returns current entities whose name, type, or observation
// text contains the query, case-insensitively.
func (d *Driver) MatchEntities(ctx context.Context, query string, types []string, limit int) ([]graph.Entity, error) {
	cypher := `MATCH (e:EntityVersion) WHERE e.validTo IS NULL
		AND (toLower(e.name) CONTAINS toLower($q)
			OR toLower(e.entityType) CONTAINS toLower($q)
			OR any(o IN e.observations WHERE toLower(o) CONTAINS toLower($q)))`
	params := map[string]any{"q": query}

	if len(types) > 0 {
		cypher += ` AND e.entityType IN $types`
		params["types"] = types
	}

	cypher += ` RETURN e ORDER BY e.validFrom, e.name`
	if limit > 0 {
		cypher += ` LIMIT $limit`
		params["limit"] = limit
	}

	return d.readEntities(ctx, cypher, params)
}

// EnsureVectorIndex creates the native vector index for the given
// dimensionality. Idempotent.
func (d *Driver) EnsureVectorIndex(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("vector index dimensions must be positive")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.vecReady {
		return nil
	}

	cypher := fmt.Sprintf(`CREATE VECTOR INDEX %s IF NOT EXISTS
		FOR (e:EntityVersion) ON (e.embedding)
		OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: %d, `+"`vector.similarity_function`"+`: 'cosine'}}`,
		vectorIndexName, dimensions,
	)
	if _, err := neo4j.ExecuteQuery(ctx, d.driver, cypher, nil, neo4j.EagerResultTransformer); err != nil {
		return fmt.Errorf("creating vector index: %w", err)
	}

	d.vecReady = true
	d.logger.Info("vector index initialized",
		zap.Int("dimensions", dimensions),
	)
	return nil
}

// QueryByVector returns up to topK current entities ranked by cosine
// similarity via the native vector index.
func (d *Driver) QueryByVector(ctx context.Context, vec []float32, topK int) ([]store.ScoredEntity, error) {
	d.mu.Lock()
	ready := d.vecReady
	d.mu.Unlock()
	if !ready {
		return nil, store.ErrVectorIndexUnavailable
	}
	if topK <= 0 {
		topK = 10
	}

	query := make([]float64, len(vec))
	for i, f := range vec {
		query[i] = float64(f)
	}

	result, err := neo4j.ExecuteQuery(ctx, d.driver, `
		CALL db.index.vector.queryNodes($index, $k, $query)
		YIELD node, score
		WHERE node.validTo IS NULL
		RETURN node AS e, score
		ORDER BY score DESC`,
		map[string]any{"index": vectorIndexName, "k": topK, "query": query},
		neo4j.EagerResultTransformer,
	)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}

	var out []store.ScoredEntity
	for _, record := range result.Records {
		node, ok := record.Get("e")
		if !ok {
			continue
		}
		e, err := entityFromNode(node.(neo4j.Node))
		if err != nil {
			return nil, err
		}
		score, _ := record.Get("score")
		out = append(out, store.ScoredEntity{
			Entity: *e,
			Score:  float32(score.(float64)),
		})
	}

	return out, nil
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	return d.driver.Close(context.Background())
}

func (d *Driver) write(ctx context.Context, fn func(neo4j.ManagedTransaction) error) error {
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(tx)
	})
	return err
}

func closeNode(ctx context.Context, tx neo4j.ManagedTransaction, label, id string, at int64) error {
	result, err := tx.Run(ctx,
		fmt.Sprintf(`MATCH (n:%s {id: $id}) WHERE n.validTo IS NULL SET n.validTo = $at RETURN count(n) AS n`, label),
		map[string]any{"id": id, "at": at},
	)
	if err != nil {
		return fmt.Errorf("closing %s %s: %w", label, id, err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return fmt.Errorf("closing %s %s: %w", label, id, err)
	}
	n, _ := record.Get("n")
	if n.(int64) != 1 {
		return store.ConflictError{RowID: id}
	}
	return nil
}

func insertEntity(ctx context.Context, tx neo4j.ManagedTransaction, e graph.Entity) error {
	props := map[string]any{
		"id":           e.ID,
		"name":         e.Name,
		"entityType":   e.EntityType,
		"observations": e.Observations,
		"version":      e.Version,
		"createdAt":    e.CreatedAt.UnixMilli(),
		"updatedAt":    e.UpdatedAt.UnixMilli(),
		"validFrom":    e.ValidFrom.UnixMilli(),
		"changedBy":    e.ChangedBy,
	}
	if e.ValidTo != nil {
		props["validTo"] = e.ValidTo.UnixMilli()
	}
	if len(e.Embedding) > 0 {
		emb := make([]float64, len(e.Embedding))
		for i, f := range e.Embedding {
			emb[i] = float64(f)
		}
		props["embedding"] = emb
	}

	if _, err := tx.Run(ctx,
		`CREATE (e:EntityVersion) SET e = $props`,
		map[string]any{"props": props},
	); err != nil {
		return fmt.Errorf("inserting entity %s: %w", e.Name, err)
	}
	return nil
}

func insertRelation(ctx context.Context, tx neo4j.ManagedTransaction, r graph.Relation) error {
	props := map[string]any{
		"id":           r.ID,
		"from":         r.From,
		"to":           r.To,
		"relationType": r.RelationType,
		"strength":     r.Strength,
		"confidence":   r.Confidence,
		"version":      r.Version,
		"createdAt":    r.CreatedAt.UnixMilli(),
		"updatedAt":    r.UpdatedAt.UnixMilli(),
		"validFrom":    r.ValidFrom.UnixMilli(),
		"changedBy":    r.ChangedBy,
	}
	if r.ValidTo != nil {
		props["validTo"] = r.ValidTo.UnixMilli()
	}
	// Neo4j properties are scalars and homogeneous lists, so structured
	// metadata ships as flattened meta_ keys for scalar values.
	for k, v := range r.Metadata {
		switch v.(type) {
		case string, bool, int, int64, float64:
			props["meta_"+k] = v
		}
	}

	if _, err := tx.Run(ctx,
		`CREATE (r:RelationVersion) SET r = $props`,
		map[string]any{"props": props},
	); err != nil {
		return fmt.Errorf("inserting relation %s: %w", r.ID, err)
	}
	return nil
}

func (d *Driver) readEntities(ctx context.Context, cypher string, params map[string]any) ([]graph.Entity, error) {
	result, err := neo4j.ExecuteQuery(ctx, d.driver, cypher, params, neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}

	var out []graph.Entity
	for _, record := range result.Records {
		node, ok := record.Get("e")
		if !ok {
			continue
		}
		e, err := entityFromNode(node.(neo4j.Node))
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

func (d *Driver) readRelations(ctx context.Context, cypher string, params map[string]any) ([]graph.Relation, error) {
	result, err := neo4j.ExecuteQuery(ctx, d.driver, cypher, params, neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("querying relations: %w", err)
	}

	var out []graph.Relation
	for _, record := range result.Records {
		node, ok := record.Get("r")
		if !ok {
			continue
		}
		r, err := relationFromNode(node.(neo4j.Node))
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

func entityFromNode(node neo4j.Node) (*graph.Entity, error) {
	var e graph.Entity
	e.ID = stringProp(node, "id")
	e.Name = stringProp(node, "name")
	e.EntityType = stringProp(node, "entityType")
	e.Version = intProp(node, "version")
	e.ChangedBy = stringProp(node, "changedBy")
	e.CreatedAt = time.UnixMilli(int64Prop(node, "createdAt")).UTC()
	e.UpdatedAt = time.UnixMilli(int64Prop(node, "updatedAt")).UTC()
	e.ValidFrom = time.UnixMilli(int64Prop(node, "validFrom")).UTC()
	if raw, ok := node.Props["validTo"]; ok {
		if ms, ok := raw.(int64); ok {
			t := time.UnixMilli(ms).UTC()
			e.ValidTo = &t
		}
	}
	if raw, ok := node.Props["observations"]; ok {
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("unexpected observations type for %s", e.Name)
		}
		for _, o := range list {
			s, ok := o.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected observation value for %s", e.Name)
			}
			e.Observations = append(e.Observations, s)
		}
	}
	if raw, ok := node.Props["embedding"]; ok {
		if list, ok := raw.([]any); ok {
			vec := make([]float32, 0, len(list))
			for _, v := range list {
				if f, ok := v.(float64); ok {
					vec = append(vec, float32(f))
				}
			}
			e.Embedding = vec
		}
	}
	return &e, nil
}

func relationFromNode(node neo4j.Node) (*graph.Relation, error) {
	var r graph.Relation
	r.ID = stringProp(node, "id")
	r.From = stringProp(node, "from")
	r.To = stringProp(node, "to")
	r.RelationType = stringProp(node, "relationType")
	r.Version = intProp(node, "version")
	r.ChangedBy = stringProp(node, "changedBy")
	r.CreatedAt = time.UnixMilli(int64Prop(node, "createdAt")).UTC()
	r.UpdatedAt = time.UnixMilli(int64Prop(node, "updatedAt")).UTC()
	r.ValidFrom = time.UnixMilli(int64Prop(node, "validFrom")).UTC()
	if raw, ok := node.Props["validTo"]; ok {
		if ms, ok := raw.(int64); ok {
			t := time.UnixMilli(ms).UTC()
			r.ValidTo = &t
		}
	}
	if raw, ok := node.Props["strength"]; ok {
		if f, ok := raw.(float64); ok {
			r.Strength = f
		}
	}
	if raw, ok := node.Props["confidence"]; ok {
		if f, ok := raw.(float64); ok {
			r.Confidence = f
		}
	}
	for k, v := range node.Props {
		if len(k) > 5 && k[:5] == "meta_" {
			if r.Metadata == nil {
				r.Metadata = make(map[string]any)
			}
			r.Metadata[k[5:]] = v
		}
	}
	return &r, nil
}

func stringProp(node neo4j.Node, key string) string {
	if v, ok := node.Props[key].(string); ok {
		return v
	}
	return ""
}

func int64Prop(node neo4j.Node, key string) int64 {
	if v, ok := node.Props[key].(int64); ok {
		return v
	}
	return 0
}

func intProp(node neo4j.Node, key string) int {
	return int(int64Prop(node, key))
}

var _ store.Driver = (*Driver)(nil)
