// Package sqlitevec provides the SQLite-backed store driver using sqlite-vec
// for nearest-neighbor search over current entity embeddings.
//
// Version rows live in plain tables with millisecond validity intervals;
// a NULL valid_to marks the current row. Embeddings are stored as BLOBs next
// to their entity rows and mirrored into a vec0 virtual table once the index
// has been initialized, so the index can be created lazily after the first
// embedding reveals its dimensionality.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/store"
)

// Driver implements store.Driver using SQLite with sqlite-vec.
type Driver struct {
	db     *sql.DB
	logger *zap.Logger

	// mu guards vecReady; writes to the vec tables are serialized by SQLite.
	mu       sync.Mutex
	vecReady bool
}

// Config holds configuration for the SQLite store driver.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string
}

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	entity_type TEXT NOT NULL DEFAULT '',
	observations TEXT NOT NULL DEFAULT '[]',
	version INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	valid_from INTEGER NOT NULL,
	valid_to INTEGER,
	changed_by TEXT NOT NULL DEFAULT '',
	embedding BLOB
);
CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name);
CREATE INDEX IF NOT EXISTS idx_entities_current ON entities(name) WHERE valid_to IS NULL;

CREATE TABLE IF NOT EXISTS relations (
	id TEXT PRIMARY KEY,
	from_entity TEXT NOT NULL,
	to_entity TEXT NOT NULL,
	relation_type TEXT NOT NULL,
	strength REAL NOT NULL DEFAULT 0,
	confidence REAL NOT NULL DEFAULT 0,
	metadata TEXT NOT NULL DEFAULT '{}',
	version INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	valid_from INTEGER NOT NULL,
	valid_to INTEGER,
	changed_by TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_relations_from ON relations(from_entity);
CREATE INDEX IF NOT EXISTS idx_relations_to ON relations(to_entity);
CREATE INDEX IF NOT EXISTS idx_relations_current ON relations(from_entity, to_entity, relation_type) WHERE valid_to IS NULL;

CREATE TABLE IF NOT EXISTS vec_entities (
	rowid INTEGER PRIMARY KEY AUTOINCREMENT,
	row_id TEXT NOT NULL UNIQUE
);
`

// NewDriver creates a new SQLite store driver backed by sqlite-vec.
func NewDriver(c Config, logger *zap.Logger) (*Driver, error) {
	// enable connection to have sqlite-vec extension
	sqlite_vec.Auto()

	if c.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Verify sqlite-vec is loaded
	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec not available: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	d := &Driver{
		db:     db,
		logger: logger,
	}

	// A vec0 table from a previous run means the index is already usable.
	var name string
	err = db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'vec_embeddings'`,
	).Scan(&name)
	if err == nil {
		d.vecReady = true
	} else if err != sql.ErrNoRows {
		db.Close()
		return nil, fmt.Errorf("checking vec table: %w", err)
	}

	logger.Info("sqlite store driver initialized",
		zap.String("db_path", c.DBPath),
		zap.String("vec_version", vecVersion),
		zap.Bool("vector_index", d.vecReady),
	)

	return d, nil
}

// InsertEntities stores new entity version rows in one transaction.
func (d *Driver) InsertEntities(ctx context.Context, entities []graph.Entity) error {
	if len(entities) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entities {
		if err := d.insertEntity(ctx, tx, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// InsertRelations stores new relation version rows in one transaction.
func (d *Driver) InsertRelations(ctx context.Context, relations []graph.Relation) error {
	if len(relations) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, r := range relations {
		if err := insertRelation(ctx, tx, r); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// Apply executes a version transition in one transaction. A close hitting a
// row that is no longer open aborts with store.ConflictError.
func (d *Driver) Apply(ctx context.Context, tr store.Transition) error {
	if tr.Empty() {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	at := tr.At.UnixMilli()

	for _, id := range tr.CloseEntityIDs {
		res, err := tx.ExecContext(ctx,
			`UPDATE entities SET valid_to = ? WHERE id = ? AND valid_to IS NULL`,
			at, id,
		)
		if err != nil {
			return fmt.Errorf("closing entity row %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("closing entity row %s: %w", id, err)
		}
		if n != 1 {
			return store.ConflictError{RowID: id}
		}

		// Closed rows leave the vector index; only current rows are indexed.
		if err := d.removeVecRow(ctx, tx, id); err != nil {
			return err
		}
	}

	for _, id := range tr.CloseRelationIDs {
		res, err := tx.ExecContext(ctx,
			`UPDATE relations SET valid_to = ? WHERE id = ? AND valid_to IS NULL`,
			at, id,
		)
		if err != nil {
			return fmt.Errorf("closing relation row %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("closing relation row %s: %w", id, err)
		}
		if n != 1 {
			return store.ConflictError{RowID: id}
		}
	}

	for _, e := range tr.InsertEntities {
		if err := d.insertEntity(ctx, tx, e); err != nil {
			return err
		}
	}
	for _, r := range tr.InsertRelations {
		if err := insertRelation(ctx, tx, r); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// DeleteEntities removes all version rows for the named entities, every
// relation row touching them, and their vector index rows.
func (d *Driver) DeleteEntities(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders, args := inClause(names)

	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(`SELECT id FROM entities WHERE name IN (%s)`, placeholders), args...,
	)
	if err != nil {
		return fmt.Errorf("querying entity rows for deletion: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scanning entity row id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating entity row ids: %w", err)
	}

	for _, id := range ids {
		if err := d.removeVecRow(ctx, tx, id); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM entities WHERE name IN (%s)`, placeholders), args...,
	); err != nil {
		return fmt.Errorf("deleting entities: %w", err)
	}

	relArgs := append(append([]any{}, args...), args...)
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM relations WHERE from_entity IN (%s) OR to_entity IN (%s)`,
			placeholders, placeholders),
		relArgs...,
	); err != nil {
		return fmt.Errorf("deleting touching relations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// DeleteRelations removes all version rows for the given logical relations.
func (d *Driver) DeleteRelations(ctx context.Context, keys []graph.RelationKey) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM relations WHERE from_entity = ? AND to_entity = ? AND relation_type = ?`,
			k.From, k.To, k.RelationType,
		); err != nil {
			return fmt.Errorf("deleting relation %s -[%s]-> %s: %w", k.From, k.RelationType, k.To, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// CurrentEntity returns the open version row for a name.
func (d *Driver) CurrentEntity(ctx context.Context, name string) (*graph.Entity, error) {
	row := d.db.QueryRowContext(ctx,
		entitySelect+` WHERE name = ? AND valid_to IS NULL`, name,
	)

	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, graph.EntityNotFoundError{Name: name}
	}
	if err != nil {
		return nil, fmt.Errorf("querying current entity: %w", err)
	}

	return e, nil
}

// CurrentEntities returns open rows for the given names; nil names returns
// all current entities. Results are ordered by rowid for stable tie-breaks.
func (d *Driver) CurrentEntities(ctx context.Context, names []string) ([]graph.Entity, error) {
	query := entitySelect + ` WHERE valid_to IS NULL`
	var args []any

	if names != nil {
		if len(names) == 0 {
			return nil, nil
		}
		placeholders, inArgs := inClause(names)
		query += fmt.Sprintf(` AND name IN (%s)`, placeholders)
		args = inArgs
	}
	query += ` ORDER BY rowid`

	return d.queryEntities(ctx, query, args...)
}

// CurrentRelation returns the open version row for a logical relation.
func (d *Driver) CurrentRelation(ctx context.Context, key graph.RelationKey) (*graph.Relation, error) {
	row := d.db.QueryRowContext(ctx,
		relationSelect+` WHERE from_entity = ? AND to_entity = ? AND relation_type = ? AND valid_to IS NULL`,
		key.From, key.To, key.RelationType,
	)

	r, err := scanRelation(row)
	if err == sql.ErrNoRows {
		return nil, graph.RelationNotFoundError{Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("querying current relation: %w", err)
	}

	return r, nil
}

// RelationsTouching returns current relations with the named entity as
// either endpoint.
func (d *Driver) RelationsTouching(ctx context.Context, name string) ([]graph.Relation, error) {
	return d.queryRelations(ctx,
		relationSelect+` WHERE valid_to IS NULL AND (from_entity = ? OR to_entity = ?) ORDER BY rowid`,
		name, name,
	)
}

// RelationsAmong returns current relations whose endpoints are both in names.
func (d *Driver) RelationsAmong(ctx context.Context, names []string) ([]graph.Relation, error) {
	if len(names) == 0 {
		return nil, nil
	}

	placeholders, args := inClause(names)
	query := fmt.Sprintf(
		relationSelect+` WHERE valid_to IS NULL AND from_entity IN (%s) AND to_entity IN (%s) ORDER BY rowid`,
		placeholders, placeholders,
	)

	return d.queryRelations(ctx, query, append(append([]any{}, args...), args...)...)
}

// EntityHistory returns all version rows for a name ordered by valid_from.
func (d *Driver) EntityHistory(ctx context.Context, name string) ([]graph.Entity, error) {
	entities, err := d.queryEntities(ctx,
		entitySelect+` WHERE name = ? ORDER BY valid_from, version`, name,
	)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, graph.EntityNotFoundError{Name: name}
	}

	return entities, nil
}

// RelationHistory returns all version rows for a logical relation ordered by
// valid_from.
func (d *Driver) RelationHistory(ctx context.Context, key graph.RelationKey) ([]graph.Relation, error) {
	relations, err := d.queryRelations(ctx,
		relationSelect+` WHERE from_entity = ? AND to_entity = ? AND relation_type = ? ORDER BY valid_from, version`,
		key.From, key.To, key.RelationType,
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
	at := t.UnixMilli()
	return d.queryEntities(ctx,
		entitySelect+` WHERE valid_from <= ? AND (valid_to IS NULL OR valid_to > ?) ORDER BY rowid`,
		at, at,
	)
}

// RelationsAt returns relation rows live at instant t.
func (d *Driver) RelationsAt(ctx context.Context, t time.Time) ([]graph.Relation, error) {
	at := t.UnixMilli()
	return d.queryRelations(ctx,
		relationSelect+` WHERE valid_from <= ? AND (valid_to IS NULL OR valid_to > ?) ORDER BY rowid`,
		at, at,
	)
}

// MatchEntities returns current entities whose name, type, or serialized
// observation text contains the query, case-insensitively.
func (d *Driver) MatchEntities(ctx context.Context, query string, types []string, limit int) ([]graph.Entity, error) {
	sqlQuery := entitySelect + ` WHERE valid_to IS NULL
		AND instr(lower(name || ' ' || entity_type || ' ' || observations), lower(?)) > 0`
	args := []any{query}

	if len(types) > 0 {
		placeholders, typeArgs := inClause(types)
		sqlQuery += fmt.Sprintf(` AND entity_type IN (%s)`, placeholders)
		args = append(args, typeArgs...)
	}

	sqlQuery += ` ORDER BY rowid`
	if limit > 0 {
		sqlQuery += ` LIMIT ?`
		args = append(args, limit)
	}

	return d.queryEntities(ctx, sqlQuery, args...)
}

// EnsureVectorIndex creates the vec0 virtual table for the given
// dimensionality and backfills it from current entity rows that already
// carry embeddings. Idempotent and safe to race.
func (d *Driver) EnsureVectorIndex(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("vector index dimensions must be positive")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.vecReady {
		return nil
	}

	createVec := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vec_embeddings USING vec0(embedding float[%d])`,
		dimensions,
	)
	if _, err := d.db.ExecContext(ctx, createVec); err != nil {
		return fmt.Errorf("creating vec0 table: %w", err)
	}

	d.vecReady = true

	if err := d.backfillVectors(ctx); err != nil {
		return err
	}

	d.logger.Info("vector index initialized",
		zap.Int("dimensions", dimensions),
	)

	return nil
}

// QueryByVector returns up to topK current entities ranked by similarity.
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

	queryBlob, err := serializeFloat32(vec)
	if err != nil {
		return nil, fmt.Errorf("serializing query embedding: %w", err)
	}

	// KNN via vec0 MATCH, then JOIN back through the id mapping to the
	// current entity rows.
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+entityColumns("e")+`, ve.distance
		FROM vec_embeddings ve
		INNER JOIN vec_entities m ON m.rowid = ve.rowid
		INNER JOIN entities e ON e.id = m.row_id
		WHERE ve.embedding MATCH ?
			AND ve.k = ?
			AND e.valid_to IS NULL
		ORDER BY ve.distance
	`, queryBlob, topK)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var results []store.ScoredEntity
	for rows.Next() {
		var (
			e        graph.Entity
			obsJSON  string
			validTo  sql.NullInt64
			created  int64
			updated  int64
			from     int64
			emb      []byte
			distance float64
		)
		if err := rows.Scan(
			&e.ID, &e.Name, &e.EntityType, &obsJSON, &e.Version,
			&created, &updated, &from, &validTo, &e.ChangedBy, &emb,
			&distance,
		); err != nil {
			return nil, fmt.Errorf("scanning query result: %w", err)
		}
		if err := hydrateEntity(&e, obsJSON, created, updated, from, validTo, emb); err != nil {
			return nil, err
		}

		results = append(results, store.ScoredEntity{
			Entity: e,
			// Convert distance to similarity score: lower distance = higher similarity
			Score: float32(1.0 / (1.0 + distance)),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating query results: %w", err)
	}

	return results, nil
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	return d.db.Close()
}

const entitySelectColumns = `id, name, entity_type, observations, version, created_at, updated_at, valid_from, valid_to, changed_by, embedding`

var entitySelect = `SELECT ` + entitySelectColumns + ` FROM entities`

func entityColumns(alias string) string {
	cols := strings.Split(entitySelectColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

const relationSelect = `SELECT id, from_entity, to_entity, relation_type, strength, confidence, metadata, version, created_at, updated_at, valid_from, valid_to, changed_by FROM relations`

// insertEntity writes one entity row and, when the vector index is ready and
// the row carries an embedding, mirrors it into the vec tables.
func (d *Driver) insertEntity(ctx context.Context, tx *sql.Tx, e graph.Entity) error {
	obsJSON, err := json.Marshal(e.Observations)
	if err != nil {
		return fmt.Errorf("marshaling observations for %s: %w", e.Name, err)
	}

	var emb []byte
	if len(e.Embedding) > 0 {
		if emb, err = serializeFloat32(e.Embedding); err != nil {
			return fmt.Errorf("serializing embedding for %s: %w", e.Name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entities (id, name, entity_type, observations, version, created_at, updated_at, valid_from, valid_to, changed_by, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.EntityType, string(obsJSON), e.Version,
		e.CreatedAt.UnixMilli(), e.UpdatedAt.UnixMilli(), e.ValidFrom.UnixMilli(),
		nullMilli(e.ValidTo), e.ChangedBy, emb,
	); err != nil {
		return fmt.Errorf("inserting entity %s: %w", e.Name, err)
	}

	if emb == nil || e.ValidTo != nil {
		return nil
	}

	d.mu.Lock()
	ready := d.vecReady
	d.mu.Unlock()
	if !ready {
		return nil
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO vec_entities (row_id) VALUES (?)`, e.ID,
	)
	if err != nil {
		return fmt.Errorf("inserting vec mapping for %s: %w", e.Name, err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting vec rowid for %s: %w", e.Name, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO vec_embeddings (rowid, embedding) VALUES (?, ?)`,
		rowID, emb,
	); err != nil {
		return fmt.Errorf("inserting embedding for %s: %w", e.Name, err)
	}

	return nil
}

func insertRelation(ctx context.Context, tx *sql.Tx, r graph.Relation) error {
	metaJSON, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata for relation %s: %w", r.ID, err)
	}
	if r.Metadata == nil {
		metaJSON = []byte("{}")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO relations (id, from_entity, to_entity, relation_type, strength, confidence, metadata, version, created_at, updated_at, valid_from, valid_to, changed_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.From, r.To, r.RelationType, r.Strength, r.Confidence, string(metaJSON),
		r.Version, r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli(), r.ValidFrom.UnixMilli(),
		nullMilli(r.ValidTo), r.ChangedBy,
	); err != nil {
		return fmt.Errorf("inserting relation %s: %w", r.ID, err)
	}

	return nil
}

// removeVecRow drops the vec index rows for an entity version row, if any.
func (d *Driver) removeVecRow(ctx context.Context, tx *sql.Tx, rowID string) error {
	d.mu.Lock()
	ready := d.vecReady
	d.mu.Unlock()
	if !ready {
		return nil
	}

	var vecRowID int64
	err := tx.QueryRowContext(ctx,
		`SELECT rowid FROM vec_entities WHERE row_id = ?`, rowID,
	).Scan(&vecRowID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("querying vec mapping for %s: %w", rowID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM vec_embeddings WHERE rowid = ?`, vecRowID,
	); err != nil {
		return fmt.Errorf("deleting embedding for %s: %w", rowID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM vec_entities WHERE rowid = ?`, vecRowID,
	); err != nil {
		return fmt.Errorf("deleting vec mapping for %s: %w", rowID, err)
	}

	return nil
}

// backfillVectors mirrors embeddings of current entity rows into the vec
// tables. Called once when the index is first created. Caller holds mu.
func (d *Driver) backfillVectors(ctx context.Context) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, embedding FROM entities
		WHERE valid_to IS NULL AND embedding IS NOT NULL
			AND id NOT IN (SELECT row_id FROM vec_entities)
	`)
	if err != nil {
		return fmt.Errorf("querying rows to backfill: %w", err)
	}

	type pending struct {
		id  string
		emb []byte
	}
	var todo []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.emb); err != nil {
			rows.Close()
			return fmt.Errorf("scanning backfill row: %w", err)
		}
		todo = append(todo, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating backfill rows: %w", err)
	}

	for _, p := range todo {
		res, err := d.db.ExecContext(ctx,
			`INSERT INTO vec_entities (row_id) VALUES (?)`, p.id,
		)
		if err != nil {
			return fmt.Errorf("backfilling vec mapping for %s: %w", p.id, err)
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("backfilling vec rowid for %s: %w", p.id, err)
		}
		if _, err := d.db.ExecContext(ctx,
			`INSERT INTO vec_embeddings (rowid, embedding) VALUES (?, ?)`,
			rowID, p.emb,
		); err != nil {
			return fmt.Errorf("backfilling embedding for %s: %w", p.id, err)
		}
	}

	if len(todo) > 0 {
		d.logger.Debug("backfilled vector index",
			zap.Int("rows", len(todo)),
		)
	}

	return nil
}

func (d *Driver) queryEntities(ctx context.Context, query string, args ...any) ([]graph.Entity, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var out []graph.Entity
	for rows.Next() {
		e, err := scanEntityRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}

	return out, nil
}

func (d *Driver) queryRelations(ctx context.Context, query string, args ...any) ([]graph.Relation, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying relations: %w", err)
	}
	defer rows.Close()

	var out []graph.Relation
	for rows.Next() {
		r, err := scanRelationRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relations: %w", err)
	}

	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*graph.Entity, error) {
	var (
		e       graph.Entity
		obsJSON string
		validTo sql.NullInt64
		created int64
		updated int64
		from    int64
		emb     []byte
	)

	if err := row.Scan(
		&e.ID, &e.Name, &e.EntityType, &obsJSON, &e.Version,
		&created, &updated, &from, &validTo, &e.ChangedBy, &emb,
	); err != nil {
		return nil, err
	}

	if err := hydrateEntity(&e, obsJSON, created, updated, from, validTo, emb); err != nil {
		return nil, err
	}

	return &e, nil
}

func scanEntityRows(rows *sql.Rows) (*graph.Entity, error) {
	e, err := scanEntity(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning entity: %w", err)
	}
	return e, nil
}

func hydrateEntity(e *graph.Entity, obsJSON string, created, updated, from int64, validTo sql.NullInt64, emb []byte) error {
	if err := json.Unmarshal([]byte(obsJSON), &e.Observations); err != nil {
		return fmt.Errorf("unmarshaling observations for %s: %w", e.Name, err)
	}

	e.CreatedAt = time.UnixMilli(created).UTC()
	e.UpdatedAt = time.UnixMilli(updated).UTC()
	e.ValidFrom = time.UnixMilli(from).UTC()
	if validTo.Valid {
		t := time.UnixMilli(validTo.Int64).UTC()
		e.ValidTo = &t
	}

	if len(emb) > 0 {
		vec, err := deserializeFloat32(emb)
		if err != nil {
			return fmt.Errorf("deserializing embedding for %s: %w", e.Name, err)
		}
		e.Embedding = vec
	}

	return nil
}

func scanRelation(row rowScanner) (*graph.Relation, error) {
	var (
		r        graph.Relation
		metaJSON string
		validTo  sql.NullInt64
		created  int64
		updated  int64
		from     int64
	)

	if err := row.Scan(
		&r.ID, &r.From, &r.To, &r.RelationType, &r.Strength, &r.Confidence,
		&metaJSON, &r.Version, &created, &updated, &from, &validTo, &r.ChangedBy,
	); err != nil {
		return nil, err
	}

	if metaJSON != "" && metaJSON != "{}" && metaJSON != "null" {
		if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata for relation %s: %w", r.ID, err)
		}
	}

	r.CreatedAt = time.UnixMilli(created).UTC()
	r.UpdatedAt = time.UnixMilli(updated).UTC()
	r.ValidFrom = time.UnixMilli(from).UTC()
	if validTo.Valid {
		t := time.UnixMilli(validTo.Int64).UTC()
		r.ValidTo = &t
	}

	return &r, nil
}

func scanRelationRows(rows *sql.Rows) (*graph.Relation, error) {
	r, err := scanRelation(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning relation: %w", err)
	}
	return r, nil
}

// serializeFloat32 converts a float32 slice to a little-endian byte slice
// suitable for sqlite-vec BLOB format.
func serializeFloat32(v []float32) ([]byte, error) {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf, nil
}

// deserializeFloat32 converts a little-endian byte slice back to a float32 slice.
func deserializeFloat32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d: must be divisible by 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func nullMilli(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func inClause(items []string) (string, []any) {
	placeholders := make([]string, len(items))
	args := make([]any, len(items))
	for i, it := range items {
		placeholders[i] = "?"
		args[i] = it
	}
	return strings.Join(placeholders, ","), args
}

var _ store.Driver = (*Driver)(nil)
