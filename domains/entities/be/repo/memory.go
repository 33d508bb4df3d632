package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/moddy-bot/moddy/platform/go/persistence"
)

type entityKey struct {
	kind persistence.EntityType
	id   int64
}

// MemoryRepository is an in-memory Repository with the same write and audit
// semantics as the postgres one. Suitable for tests and local tooling.
type MemoryRepository struct {
	mu       sync.Mutex
	entities map[entityKey]persistence.Entity
	changes  []persistence.AttributeChange
	now      func() time.Time
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entities: make(map[entityKey]persistence.Entity),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) GetOrCreate(ctx context.Context, kind persistence.EntityType, id int64) (persistence.Entity, error) {
	if err := checkKind(kind); err != nil {
		return persistence.Entity{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	return cloneEntity(r.ensure(kind, id)), nil
}

// HasAttribute mirrors persistence.EntityStore.HasAttribute, so guards can run over memory.
func (r *MemoryRepository) HasAttribute(ctx context.Context, kind persistence.EntityType, id int64, name string) (bool, error) {
	if err := checkKind(kind); err != nil {
		return false, err
	}
	if err := persistence.ValidateAttributeName(name); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.ensure(kind, id).Attributes[name]
	return ok, nil
}

func (r *MemoryRepository) SetAttribute(ctx context.Context, params persistence.SetAttributeParams) error {
	if err := checkKind(params.Type); err != nil {
		return err
	}
	if err := persistence.ValidateAttributeName(params.Name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entity := r.ensure(params.Type, params.ID)
	old := entity.Attribute(params.Name)
	if params.Value.IsPresent() {
		entity.Attributes[params.Name] = params.Value
	} else {
		delete(entity.Attributes, params.Name)
	}
	entity.UpdatedAt = r.now()
	r.entities[entityKey{params.Type, params.ID}] = entity
	r.appendChange(params.Type, params.ID, params.Name, old, params.Value, params.ChangedBy, params.Reason)
	return nil
}

func (r *MemoryRepository) UpdateData(ctx context.Context, kind persistence.EntityType, id int64, path persistence.DataPath, value any) error {
	if err := checkKind(kind); err != nil {
		return err
	}
	if _, err := persistence.NewDataPath(path...); err != nil {
		return err
	}
	normalized, err := roundTrip(value)
	if err != nil {
		return fmt.Errorf("%w: encode data value at %s: %v", persistence.ErrMalformedInput, path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entity := r.ensure(kind, id)
	entity.Data = path.Set(entity.Data, normalized)
	entity.UpdatedAt = r.now()
	r.entities[entityKey{kind, id}] = entity
	return nil
}

func (r *MemoryRepository) ResetEntity(ctx context.Context, kind persistence.EntityType, id int64, changedBy int64, reason string) (int, error) {
	if err := checkKind(kind); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	entity := r.ensure(kind, id)
	names := make([]string, 0, len(entity.Attributes))
	for name := range entity.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r.appendChange(kind, id, name, entity.Attributes[name], persistence.Absent(), changedBy, reason)
	}

	entity.Attributes = map[string]persistence.AttributeValue{}
	entity.Data = map[string]any{}
	entity.UpdatedAt = r.now()
	r.entities[entityKey{kind, id}] = entity
	return len(names), nil
}

func (r *MemoryRepository) EntitiesWithAttribute(ctx context.Context, kind persistence.EntityType, name string) ([]int64, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	if err := persistence.ValidateAttributeName(name); err != nil {
		return nil, err
	}
	return r.matching(kind, name, func(persistence.AttributeValue) bool { return true }), nil
}

// EntitiesWithAttributeValue matches on the JSON encoding, so 42 and 42.0 are equal as in jsonb.
// An absent value is malformed input, as in the postgres store.
func (r *MemoryRepository) EntitiesWithAttributeValue(ctx context.Context, kind persistence.EntityType, name string, value persistence.AttributeValue) ([]int64, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	if err := persistence.ValidateAttributeName(name); err != nil {
		return nil, err
	}
	if !value.IsPresent() {
		return nil, fmt.Errorf("%w: attribute %s: exact match needs a value", persistence.ErrMalformedInput, name)
	}
	want, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: encode attribute %s: %v", persistence.ErrMalformedInput, name, err)
	}
	return r.matching(kind, name, func(stored persistence.AttributeValue) bool {
		got, err := json.Marshal(stored)
		return err == nil && string(got) == string(want)
	}), nil
}

func (r *MemoryRepository) matching(kind persistence.EntityType, name string, match func(persistence.AttributeValue) bool) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := []int64{}
	for key, entity := range r.entities {
		if key.kind != kind {
			continue
		}
		if stored, ok := entity.Attributes[name]; ok && match(stored) {
			ids = append(ids, key.id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *MemoryRepository) ListAttributeChanges(ctx context.Context, filter persistence.AttributeChangeFilter) ([]persistence.AttributeChange, error) {
	if filter.EntityType != "" {
		if err := checkKind(filter.EntityType); err != nil {
			return nil, err
		}
	}
	limit := filter.EffectiveLimit()

	r.mu.Lock()
	defer r.mu.Unlock()

	out := []persistence.AttributeChange{}
	for i := len(r.changes) - 1; i >= 0 && len(out) < limit; i-- {
		c := r.changes[i]
		if filter.EntityType != "" && c.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != 0 && c.EntityID != filter.EntityID {
			continue
		}
		if filter.AttributeName != "" && c.AttributeName != filter.AttributeName {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// GetStats counts entities and audit rows; errors and guild cache are not held here.
func (r *MemoryRepository) GetStats(ctx context.Context) (persistence.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s persistence.Stats
	for key, entity := range r.entities {
		if key.kind == persistence.EntityGuild {
			s.Guilds++
			continue
		}
		s.Users++
		if entity.Attribute("BETA").IsPresent() {
			s.BetaUsers++
		}
		if entity.Attribute("PREMIUM").IsPresent() {
			s.PremiumUsers++
		}
		if entity.Attribute("BLACKLISTED").IsPresent() {
			s.BlacklistedUsers++
		}
	}
	s.AttributeChanges = int64(len(r.changes))
	return s, nil
}

func (r *MemoryRepository) ensure(kind persistence.EntityType, id int64) persistence.Entity {
	key := entityKey{kind, id}
	if entity, ok := r.entities[key]; ok {
		return entity
	}
	now := r.now()
	entity := persistence.Entity{
		Type:       kind,
		ID:         id,
		Attributes: map[string]persistence.AttributeValue{},
		Data:       map[string]any{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.entities[key] = entity
	return entity
}

func (r *MemoryRepository) appendChange(kind persistence.EntityType, id int64, name string, old, next persistence.AttributeValue, changedBy int64, reason string) {
	r.changes = append(r.changes, persistence.AttributeChange{
		ID:            int64(len(r.changes) + 1),
		EntityType:    kind,
		EntityID:      id,
		AttributeName: name,
		OldValue:      old.Text(),
		NewValue:      next.Text(),
		ChangedBy:     changedBy,
		ChangedAt:     r.now(),
		Reason:        reason,
	})
}

func checkKind(kind persistence.EntityType) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", persistence.ErrMalformedInput, string(kind))
	}
	return nil
}

func cloneEntity(e persistence.Entity) persistence.Entity {
	attrs := make(map[string]persistence.AttributeValue, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	data, err := roundTrip(e.Data)
	if doc, ok := data.(map[string]any); err == nil && ok {
		e.Data = doc
	} else {
		e.Data = map[string]any{}
	}
	e.Attributes = attrs
	return e
}

// roundTrip gives value the shape it would have after a trip through jsonb.
func roundTrip(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ensure interface compliance.
var _ Repository = (*MemoryRepository)(nil)
