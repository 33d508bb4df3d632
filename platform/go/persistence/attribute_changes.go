package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	defaultChangeLimit = 100
	maxChangeLimit     = 1000
)

// AttributeChange is one append-only audit row.
type AttributeChange struct {
	ID            int64      `json:"id"`
	EntityType    EntityType `json:"entityType"`
	EntityID      int64      `json:"entityId"`
	AttributeName string     `json:"attributeName"`
	OldValue      *string    `json:"oldValue"`
	NewValue      *string    `json:"newValue"`
	ChangedBy     int64      `json:"changedBy"`
	ChangedAt     time.Time  `json:"changedAt"`
	Reason        string     `json:"reason,omitempty"`
}

// AttributeChangeFilter narrows ListAttributeChanges. Zero fields match everything.
type AttributeChangeFilter struct {
	EntityType    EntityType
	EntityID      int64
	AttributeName string
	Limit         int
}

// EffectiveLimit is Limit defaulted to 100 and capped at 1000.
func (f AttributeChangeFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return defaultChangeLimit
	case f.Limit > maxChangeLimit:
		return maxChangeLimit
	default:
		return f.Limit
	}
}

// ListAttributeChanges returns audit rows newest first.
func (s *EntityStore) ListAttributeChanges(ctx context.Context, filter AttributeChangeFilter) ([]AttributeChange, error) {
	var (
		where []string
		args  []any
	)
	if filter.EntityType != "" {
		if !filter.EntityType.Valid() {
			return nil, malformed("unknown entity type %q", string(filter.EntityType))
		}
		args = append(args, string(filter.EntityType))
		where = append(where, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	if filter.EntityID != 0 {
		args = append(args, filter.EntityID)
		where = append(where, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	if filter.AttributeName != "" {
		args = append(args, filter.AttributeName)
		where = append(where, fmt.Sprintf("attribute_name = $%d", len(args)))
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.EffectiveLimit())

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, entity_type, entity_id, attribute_name, old_value, new_value,
		       changed_by, changed_at, COALESCE(reason, '')
		FROM attribute_changes
		%s
		ORDER BY id DESC
		LIMIT $%d
	`, whereSQL, len(args)), args...)
	if err != nil {
		return nil, storageFault("query attribute changes", err)
	}

	changes, err := pgx.CollectRows(rows, scanAttributeChange)
	if err != nil {
		return nil, storageFault("scan attribute changes", err)
	}
	if changes == nil {
		changes = []AttributeChange{}
	}
	return changes, nil
}

func insertAttributeChange(ctx context.Context, q querier, kind EntityType, id int64, name string, old, updated AttributeValue, changedBy int64, reason string) error {
	var reasonArg *string
	if reason != "" {
		reasonArg = &reason
	}
	_, err := q.Exec(ctx, `
		INSERT INTO attribute_changes
		    (entity_type, entity_id, attribute_name, old_value, new_value, changed_by, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, string(kind), id, name, old.Text(), updated.Text(), changedBy, reasonArg)
	if err != nil {
		return fmt.Errorf("insert attribute change: %w", err)
	}
	return nil
}

func scanAttributeChange(row pgx.CollectableRow) (AttributeChange, error) {
	var (
		change AttributeChange
		kind   string
	)
	if err := row.Scan(
		&change.ID,
		&kind,
		&change.EntityID,
		&change.AttributeName,
		&change.OldValue,
		&change.NewValue,
		&change.ChangedBy,
		&change.ChangedAt,
		&change.Reason,
	); err != nil {
		return AttributeChange{}, err
	}
	change.EntityType = EntityType(kind)
	return change, nil
}
