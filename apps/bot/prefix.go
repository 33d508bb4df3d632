package main

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/moddy-bot/moddy/platform/go/persistence"
)

// entityGetter is the read the prefix cache needs from the entities service.
type entityGetter interface {
	Get(ctx context.Context, entityType string, id int64) (persistence.Entity, error)
}

// prefixCache memoises each guild's command prefix. The bot invalidates an
// entry when it writes the prefix; writes made elsewhere are seen after a restart.
type prefixCache struct {
	mu       sync.RWMutex
	byGuild  map[int64]string
	entities entityGetter
	fallback string
	logger   *zap.Logger
}

func newPrefixCache(entities entityGetter, fallback string, logger *zap.Logger) *prefixCache {
	if fallback == "" {
		fallback = "!"
	}
	return &prefixCache{
		byGuild:  make(map[int64]string),
		entities: entities,
		fallback: fallback,
		logger:   logger,
	}
}

// Resolve returns the guild prefix, or the default for direct messages,
// guilds without one, and lookups that fail. Failures are not cached.
func (c *prefixCache) Resolve(ctx context.Context, guildID int64) string {
	if guildID == 0 {
		return c.fallback
	}

	c.mu.RLock()
	prefix, ok := c.byGuild[guildID]
	c.mu.RUnlock()
	if ok {
		return prefix
	}

	guild, err := c.entities.Get(ctx, string(persistence.EntityGuild), guildID)
	if err != nil {
		c.logger.Warn("resolve guild prefix", zap.Int64("guild_id", guildID), zap.Error(err))
		return c.fallback
	}
	prefix = c.fallback
	if v, ok := prefixPath.Lookup(guild.Data); ok {
		if s, ok := v.(string); ok && s != "" {
			prefix = s
		}
	}

	c.mu.Lock()
	c.byGuild[guildID] = prefix
	c.mu.Unlock()
	return prefix
}

func (c *prefixCache) Invalidate(guildID int64) {
	c.mu.Lock()
	delete(c.byGuild, guildID)
	c.mu.Unlock()
}
