package persistence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Stats holds per-table row counts and the fixed user cohort counters.
type Stats struct {
	Errors           int64 `json:"errors"`
	Users            int64 `json:"users"`
	Guilds           int64 `json:"guilds"`
	GuildsCache      int64 `json:"guildsCache"`
	AttributeChanges int64 `json:"attributeChanges"`
	BetaUsers        int64 `json:"betaUsers"`
	PremiumUsers     int64 `json:"premiumUsers"`
	BlacklistedUsers int64 `json:"blacklistedUsers"`
}

// StatsReader computes Stats in a single round-trip.
type StatsReader struct {
	pool *pgxpool.Pool
}

func NewStatsReader(pool *pgxpool.Pool) (*StatsReader, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &StatsReader{pool: pool}, nil
}

func (r *StatsReader) GetStats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.pool.QueryRow(ctx, `
		SELECT
		    (SELECT COUNT(*) FROM errors),
		    (SELECT COUNT(*) FROM users),
		    (SELECT COUNT(*) FROM guilds),
		    (SELECT COUNT(*) FROM guilds_cache),
		    (SELECT COUNT(*) FROM attribute_changes),
		    (SELECT COUNT(*) FROM users WHERE attributes ? 'BETA'),
		    (SELECT COUNT(*) FROM users WHERE attributes ? 'PREMIUM'),
		    (SELECT COUNT(*) FROM users WHERE attributes ? 'BLACKLISTED')
	`).Scan(
		&s.Errors,
		&s.Users,
		&s.Guilds,
		&s.GuildsCache,
		&s.AttributeChanges,
		&s.BetaUsers,
		&s.PremiumUsers,
		&s.BlacklistedUsers,
	)
	if err != nil {
		return Stats{}, storageFault("query stats", err)
	}
	return s, nil
}
