package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entity is one users or guilds row.
type Entity struct {
	Type       EntityType                `json:"type"`
	ID         int64                     `json:"id"`
	Attributes map[string]AttributeValue `json:"attributes"`
	Data       map[string]any            `json:"data"`
	CreatedAt  time.Time                 `json:"createdAt"`
	UpdatedAt  time.Time                 `json:"updatedAt"`
}

// Attribute returns the stored value or Absent.
func (e Entity) Attribute(name string) AttributeValue {
	if v, ok := e.Attributes[name]; ok {
		return v
	}
	return Absent()
}

// SetAttributeParams describes one audited attribute write.
type SetAttributeParams struct {
	Type      EntityType
	ID        int64
	Name      string
	Value     AttributeValue
	ChangedBy int64
	Reason    string
}

// querier is satisfied by *pgxpool.Conn and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EntityStore owns the users/guilds tables and the attribute_changes audit log.
// It keeps no in-process state; concurrent callers on the same entity rely on
// row-level atomicity in Postgres.
type EntityStore struct {
	pool *pgxpool.Pool
}

func NewEntityStore(pool *pgxpool.Pool) (*EntityStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &EntityStore{pool: pool}, nil
}

// GetOrCreate returns the entity, inserting a default row on first access.
// Concurrent first access is resolved by INSERT ... ON CONFLICT DO NOTHING
// followed by a re-read; the insert's own result is never trusted.
func (s *EntityStore) GetOrCreate(ctx context.Context, kind EntityType, id int64) (Entity, error) {
	tbl, err := kind.table()
	if err != nil {
		return Entity{}, err
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return Entity{}, storageFault("acquire connection", err)
	}
	defer conn.Release()

	entity, err := getOrCreate(ctx, conn, kind, tbl, id)
	if err != nil {
		return Entity{}, storageFault("get or create "+kind.String(), err)
	}
	return entity, nil
}

// SetAttribute writes or removes one attribute and appends one audit row in
// the same transaction. The entity row is locked for the duration, so the
// audited old value is the one actually replaced. An absent value (nil or
// false upstream) removes the key and is still audited.
func (s *EntityStore) SetAttribute(ctx context.Context, params SetAttributeParams) error {
	tbl, err := params.Type.table()
	if err != nil {
		return err
	}
	if err := ValidateAttributeName(params.Name); err != nil {
		return err
	}

	var encoded []byte
	if params.Value.IsPresent() {
		encoded, err = json.Marshal(params.Value)
		if err != nil {
			return malformed("encode attribute %s: %v", params.Name, err)
		}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storageFault("begin tx", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := ensureEntity(ctx, tx, tbl, params.ID); err != nil {
		return storageFault("ensure "+params.Type.String(), err)
	}

	var oldRaw []byte
	if err := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT attributes -> $2::text
		FROM %s
		WHERE %s = $1
		FOR UPDATE
	`, tbl.name, tbl.idColumn), params.ID, params.Name).Scan(&oldRaw); err != nil {
		return storageFault("lock "+params.Type.String(), err)
	}
	old, err := decodeAttributeValue(oldRaw)
	if err != nil {
		return storageFault("read attribute "+params.Name, err)
	}

	if params.Value.IsPresent() {
		_, err = tx.Exec(ctx, fmt.Sprintf(`
			UPDATE %s
			SET attributes = attributes || jsonb_build_object($2::text, $3::jsonb),
			    updated_at = NOW()
			WHERE %s = $1
		`, tbl.name, tbl.idColumn), params.ID, params.Name, string(encoded))
	} else {
		_, err = tx.Exec(ctx, fmt.Sprintf(`
			UPDATE %s
			SET attributes = attributes - $2::text,
			    updated_at = NOW()
			WHERE %s = $1
		`, tbl.name, tbl.idColumn), params.ID, params.Name)
	}
	if err != nil {
		return storageFault("update attribute "+params.Name, err)
	}

	if err := insertAttributeChange(ctx, tx, params.Type, params.ID, params.Name, old, params.Value, params.ChangedBy, params.Reason); err != nil {
		return storageFault("audit attribute "+params.Name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storageFault("commit attribute "+params.Name, err)
	}
	return nil
}

// HasAttribute reports whether name is present, whatever its value.
func (s *EntityStore) HasAttribute(ctx context.Context, kind EntityType, id int64, name string) (bool, error) {
	value, err := s.GetAttribute(ctx, kind, id, name)
	if err != nil {
		return false, err
	}
	return value.IsPresent(), nil
}

// GetAttribute returns the stored value, or Absent when the key is missing.
func (s *EntityStore) GetAttribute(ctx context.Context, kind EntityType, id int64, name string) (AttributeValue, error) {
	if err := ValidateAttributeName(name); err != nil {
		return Absent(), err
	}
	entity, err := s.GetOrCreate(ctx, kind, id)
	if err != nil {
		return Absent(), err
	}
	return entity.Attribute(name), nil
}

// UpdateData deep-sets value at path inside the data document in one
// statement, creating intermediate objects and preserving siblings.
func (s *EntityStore) UpdateData(ctx context.Context, kind EntityType, id int64, path DataPath, value any) error {
	tbl, err := kind.table()
	if err != nil {
		return err
	}
	if err := path.validate(); err != nil {
		return err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return malformed("encode data value at %s: %v", path, err)
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return storageFault("acquire connection", err)
	}
	defer conn.Release()

	if err := ensureEntity(ctx, conn, tbl, id); err != nil {
		return storageFault("ensure "+kind.String(), err)
	}

	_, err = conn.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET data = %s,
		    updated_at = NOW()
		WHERE %s = $1
	`, tbl.name, deepSetExpr("COALESCE(data, '{}'::jsonb)", len(path), 2, 3), tbl.idColumn),
		id, []string(path), string(encoded))
	if err != nil {
		return storageFault("update data "+path.String(), err)
	}
	return nil
}

// ResetEntity removes every attribute (one audit row each) and clears data.
// The row itself is kept. Returns the number of attributes removed.
func (s *EntityStore) ResetEntity(ctx context.Context, kind EntityType, id int64, changedBy int64, reason string) (int, error) {
	tbl, err := kind.table()
	if err != nil {
		return 0, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, storageFault("begin tx", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := ensureEntity(ctx, tx, tbl, id); err != nil {
		return 0, storageFault("ensure "+kind.String(), err)
	}

	var raw []byte
	if err := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT attributes FROM %s WHERE %s = $1 FOR UPDATE
	`, tbl.name, tbl.idColumn), id).Scan(&raw); err != nil {
		return 0, storageFault("lock "+kind.String(), err)
	}
	attrs, err := decodeAttributes(raw)
	if err != nil {
		return 0, storageFault("read attributes", err)
	}

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := insertAttributeChange(ctx, tx, kind, id, name, attrs[name], Absent(), changedBy, reason); err != nil {
			return 0, storageFault("audit attribute "+name, err)
		}
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET attributes = '{}'::jsonb,
		    data = '{}'::jsonb,
		    updated_at = NOW()
		WHERE %s = $1
	`, tbl.name, tbl.idColumn), id); err != nil {
		return 0, storageFault("reset "+kind.String(), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, storageFault("commit reset", err)
	}
	return len(names), nil
}

// EntitiesWithAttribute lists ids where name is present, whatever its value.
func (s *EntityStore) EntitiesWithAttribute(ctx context.Context, kind EntityType, name string) ([]int64, error) {
	tbl, err := kind.table()
	if err != nil {
		return nil, err
	}
	if err := ValidateAttributeName(name); err != nil {
		return nil, err
	}

	return s.queryIDs(ctx, fmt.Sprintf(`
		SELECT %[2]s FROM %[1]s WHERE attributes ? $1 ORDER BY %[2]s
	`, tbl.name, tbl.idColumn), name)
}

// EntitiesWithAttributeValue lists ids whose stored value equals value exactly.
// Build value with MatchValue; an absent value is malformed input.
func (s *EntityStore) EntitiesWithAttributeValue(ctx context.Context, kind EntityType, name string, value AttributeValue) ([]int64, error) {
	if !value.IsPresent() {
		return nil, malformed("attribute %s: exact match needs a value", name)
	}
	tbl, err := kind.table()
	if err != nil {
		return nil, err
	}
	if err := ValidateAttributeName(name); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, malformed("encode attribute %s: %v", name, err)
	}

	return s.queryIDs(ctx, fmt.Sprintf(`
		SELECT %[2]s FROM %[1]s
		WHERE attributes @> jsonb_build_object($1::text, $2::jsonb)
		ORDER BY %[2]s
	`, tbl.name, tbl.idColumn), name, string(encoded))
}

func (s *EntityStore) queryIDs(ctx context.Context, sql string, args ...any) ([]int64, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, storageFault("query entities", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, storageFault("scan entities", err)
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

func getOrCreate(ctx context.Context, q querier, kind EntityType, tbl entityTable, id int64) (Entity, error) {
	selectSQL := fmt.Sprintf(`
		SELECT attributes, data, created_at, updated_at
		FROM %s
		WHERE %s = $1
	`, tbl.name, tbl.idColumn)

	entity, err := scanEntity(q.QueryRow(ctx, selectSQL, id), kind, id)
	if err == nil {
		return entity, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Entity{}, fmt.Errorf("select entity: %w", err)
	}

	if err := ensureEntity(ctx, q, tbl, id); err != nil {
		return Entity{}, err
	}

	entity, err = scanEntity(q.QueryRow(ctx, selectSQL, id), kind, id)
	if err != nil {
		return Entity{}, fmt.Errorf("reselect entity: %w", err)
	}
	return entity, nil
}

func ensureEntity(ctx context.Context, q querier, tbl entityTable, id int64) error {
	if _, err := q.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s) VALUES ($1)
		ON CONFLICT (%s) DO NOTHING
	`, tbl.name, tbl.idColumn, tbl.idColumn), id); err != nil {
		return fmt.Errorf("insert entity: %w", err)
	}
	return nil
}

func scanEntity(row pgx.Row, kind EntityType, id int64) (Entity, error) {
	var (
		attributesRaw []byte
		dataRaw       []byte
		createdAt     time.Time
		updatedAt     time.Time
	)
	if err := row.Scan(&attributesRaw, &dataRaw, &createdAt, &updatedAt); err != nil {
		return Entity{}, err
	}

	attributes, err := decodeAttributes(attributesRaw)
	if err != nil {
		return Entity{}, err
	}
	data := map[string]any{}
	if len(strings.TrimSpace(string(dataRaw))) > 0 {
		if err := json.Unmarshal(dataRaw, &data); err != nil {
			return Entity{}, fmt.Errorf("decode data: %w", err)
		}
		if data == nil {
			data = map[string]any{}
		}
	}

	return Entity{
		Type:       kind,
		ID:         id,
		Attributes: attributes,
		Data:       data,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}, nil
}
