package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/moddy-bot/moddy/platform/go/persistence"
)

// DefaultFetchTimeout bounds one platform fetch shared by concurrent lookups.
const DefaultFetchTimeout = 10 * time.Second

// ErrGuildUnknown is returned when the guild is neither cached nor fetchable.
var ErrGuildUnknown = errors.New("guild unknown")

// Store is the persistence contract of the guild cache.
type Store interface {
	CacheGuildInfo(ctx context.Context, info persistence.GuildInfo, source persistence.UpdateSource) error
	GetCachedGuild(ctx context.Context, guildID int64, maxAge time.Duration) (persistence.CachedGuild, error)
}

// Fetcher loads live guild metadata from the chat platform.
type Fetcher interface {
	FetchGuild(ctx context.Context, guildID int64) (persistence.GuildInfo, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, guildID int64) (persistence.GuildInfo, error)

func (f FetcherFunc) FetchGuild(ctx context.Context, guildID int64) (persistence.GuildInfo, error) {
	return f(ctx, guildID)
}

// Service serves guild metadata from the cache, refreshing stale entries from the platform.
type Service struct {
	store   Store
	fetcher Fetcher
	maxAge  time.Duration
	logger  *zap.Logger
	group   singleflight.Group

	fetchTimeout time.Duration
}

// New constructs a Service. fetcher may be nil, in which case only cached data is served.
func New(store Store, fetcher Fetcher, maxAge time.Duration, logger *zap.Logger) *Service {
	if store == nil {
		panic("guild cache store is required")
	}
	if maxAge <= 0 {
		maxAge = persistence.DefaultGuildCacheMaxAge
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, fetcher: fetcher, maxAge: maxAge, logger: logger, fetchTimeout: DefaultFetchTimeout}
}

// Lookup returns fresh cached info, or fetches and caches it with source api_call.
// Concurrent lookups of the same guild share one fetch.
func (s *Service) Lookup(ctx context.Context, guildID int64) (persistence.CachedGuild, error) {
	cached, err := s.store.GetCachedGuild(ctx, guildID, s.maxAge)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, persistence.ErrGuildNotCached) {
		return persistence.CachedGuild{}, fmt.Errorf("get cached guild: %w", err)
	}
	if s.fetcher == nil {
		return persistence.CachedGuild{}, ErrGuildUnknown
	}

	// The shared fetch is detached from any single caller; each caller still
	// stops waiting when its own context ends.
	ch := s.group.DoChan(strconv.FormatInt(guildID, 10), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()

		info, err := s.fetcher.FetchGuild(fetchCtx, guildID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrGuildUnknown, err)
		}
		info.GuildID = guildID
		if err := s.store.CacheGuildInfo(fetchCtx, info, persistence.SourceAPICall); err != nil {
			// still serve the fetched data
			s.logger.Warn("cache guild info", zap.Int64("guild_id", guildID), zap.Error(err))
		}
		return persistence.CachedGuild{
			GuildInfo:    info,
			LastUpdated:  time.Now().UTC(),
			UpdateSource: persistence.SourceAPICall,
		}, nil
	})
	select {
	case <-ctx.Done():
		return persistence.CachedGuild{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return persistence.CachedGuild{}, res.Err
		}
		return res.Val.(persistence.CachedGuild), nil
	}
}

// Remember stores info pushed by a platform event.
func (s *Service) Remember(ctx context.Context, info persistence.GuildInfo, source persistence.UpdateSource) error {
	if err := s.store.CacheGuildInfo(ctx, info, source); err != nil {
		return fmt.Errorf("cache guild info: %w", err)
	}
	return nil
}
