package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrGuildNotCached indicates no cache row exists or it is older than the freshness window.
var ErrGuildNotCached = errors.New("guild not cached")

// DefaultGuildCacheMaxAge is the freshness window readers use when none is configured.
const DefaultGuildCacheMaxAge = 7 * 24 * time.Hour

// UpdateSource tags where a cached guild snapshot came from.
type UpdateSource string

const (
	SourceBotJoin     UpdateSource = "bot_join"
	SourceUserProfile UpdateSource = "user_profile"
	SourceAPICall     UpdateSource = "api_call"
	SourceManual      UpdateSource = "manual"
	SourceScheduled   UpdateSource = "scheduled"
)

func (s UpdateSource) Valid() bool {
	switch s {
	case SourceBotJoin, SourceUserProfile, SourceAPICall, SourceManual, SourceScheduled:
		return true
	}
	return false
}

// GuildInfo is platform-reported guild metadata.
type GuildInfo struct {
	GuildID     int64          `json:"guildId"`
	Name        string         `json:"name"`
	IconURL     string         `json:"iconUrl,omitempty"`
	Features    []string       `json:"features"`
	MemberCount int            `json:"memberCount"`
	CreatedAt   *time.Time     `json:"createdAt,omitempty"`
	Raw         map[string]any `json:"raw,omitempty"`
}

// CachedGuild is a GuildInfo plus cache bookkeeping.
type CachedGuild struct {
	GuildInfo
	LastUpdated  time.Time    `json:"lastUpdated"`
	UpdateSource UpdateSource `json:"updateSource"`
}

// GuildCache is the upsert table of guild metadata.
type GuildCache struct {
	pool *pgxpool.Pool
}

func NewGuildCache(pool *pgxpool.Pool) (*GuildCache, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &GuildCache{pool: pool}, nil
}

// CacheGuildInfo upserts info and refreshes last_updated.
// A naive CreatedAt is taken as UTC.
func (c *GuildCache) CacheGuildInfo(ctx context.Context, info GuildInfo, source UpdateSource) error {
	if !source.Valid() {
		return malformed("unknown update source %q", string(source))
	}

	var createdAt *time.Time
	if info.CreatedAt != nil && !info.CreatedAt.IsZero() {
		utc := info.CreatedAt.UTC()
		createdAt = &utc
	}
	features := info.Features
	if features == nil {
		features = []string{}
	}
	raw := info.Raw
	if raw == nil {
		raw = map[string]any{}
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return malformed("encode guild raw data: %v", err)
	}

	_, err = c.pool.Exec(ctx, `
		INSERT INTO guilds_cache (guild_id, name, icon_url, features, member_count,
		                          created_at, update_source, raw_data)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8::jsonb)
		ON CONFLICT (guild_id) DO UPDATE SET
		    name = EXCLUDED.name,
		    icon_url = EXCLUDED.icon_url,
		    features = EXCLUDED.features,
		    member_count = EXCLUDED.member_count,
		    created_at = COALESCE(EXCLUDED.created_at, guilds_cache.created_at),
		    last_updated = NOW(),
		    update_source = EXCLUDED.update_source,
		    raw_data = EXCLUDED.raw_data
	`,
		info.GuildID,
		truncate(info.Name, 100),
		info.IconURL,
		features,
		info.MemberCount,
		createdAt,
		string(source),
		string(encoded),
	)
	if err != nil {
		return storageFault("upsert guild cache", err)
	}
	return nil
}

// GetCachedGuild returns the cached row when it is younger than maxAge
// (DefaultGuildCacheMaxAge when maxAge <= 0).
func (c *GuildCache) GetCachedGuild(ctx context.Context, guildID int64, maxAge time.Duration) (CachedGuild, error) {
	if maxAge <= 0 {
		maxAge = DefaultGuildCacheMaxAge
	}

	row := c.pool.QueryRow(ctx, `
		SELECT guild_id, COALESCE(name, ''), COALESCE(icon_url, ''), features,
		       COALESCE(member_count, 0), created_at, last_updated, update_source, raw_data
		FROM guilds_cache
		WHERE guild_id = $1
		  AND last_updated > NOW() - make_interval(secs => $2)
	`, guildID, maxAge.Seconds())

	var (
		cached  CachedGuild
		source  string
		rawData []byte
	)
	if err := row.Scan(
		&cached.GuildID,
		&cached.Name,
		&cached.IconURL,
		&cached.Features,
		&cached.MemberCount,
		&cached.CreatedAt,
		&cached.LastUpdated,
		&source,
		&rawData,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CachedGuild{}, ErrGuildNotCached
		}
		return CachedGuild{}, storageFault("select guild cache", err)
	}
	cached.UpdateSource = UpdateSource(source)
	if len(rawData) > 0 {
		if err := json.Unmarshal(rawData, &cached.Raw); err != nil {
			return CachedGuild{}, storageFault("decode guild raw data", fmt.Errorf("unmarshal: %w", err))
		}
	}
	return cached, nil
}
