package persistence

import "strings"

// EntityType selects one of the two attribute-bearing tables.
type EntityType string

const (
	EntityUser  EntityType = "user"
	EntityGuild EntityType = "guild"
)

// ParseEntityType accepts "user" or "guild" (case-insensitive, surrounding spaces ignored).
func ParseEntityType(raw string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", malformed("unknown entity type %q", raw)
	}
	return t, nil
}

func (t EntityType) Valid() bool {
	return t == EntityUser || t == EntityGuild
}

func (t EntityType) String() string { return string(t) }

type entityTable struct {
	name     string
	idColumn string
}

func (t EntityType) table() (entityTable, error) {
	switch t {
	case EntityUser:
		return entityTable{name: "users", idColumn: "user_id"}, nil
	case EntityGuild:
		return entityTable{name: "guilds", idColumn: "guild_id"}, nil
	default:
		return entityTable{}, malformed("unknown entity type %q", string(t))
	}
}
