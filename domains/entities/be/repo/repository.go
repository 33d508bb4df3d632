package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moddy-bot/moddy/platform/go/persistence"
)

// Repository exposes entity persistence operations for both entity kinds.
type Repository interface {
	GetOrCreate(ctx context.Context, kind persistence.EntityType, id int64) (persistence.Entity, error)
	SetAttribute(ctx context.Context, params persistence.SetAttributeParams) error
	UpdateData(ctx context.Context, kind persistence.EntityType, id int64, path persistence.DataPath, value any) error
	ResetEntity(ctx context.Context, kind persistence.EntityType, id int64, changedBy int64, reason string) (int, error)
	EntitiesWithAttribute(ctx context.Context, kind persistence.EntityType, name string) ([]int64, error)
	EntitiesWithAttributeValue(ctx context.Context, kind persistence.EntityType, name string, value persistence.AttributeValue) ([]int64, error)
	ListAttributeChanges(ctx context.Context, filter persistence.AttributeChangeFilter) ([]persistence.AttributeChange, error)
	GetStats(ctx context.Context) (persistence.Stats, error)
}

type repository struct {
	*persistence.EntityStore
	*persistence.StatsReader
}

// New constructs a Repository backed by the shared persistence layer.
func New(pool *pgxpool.Pool) Repository {
	if pool == nil {
		panic("postgres pool is required")
	}

	store, err := persistence.NewEntityStore(pool)
	if err != nil {
		panic(err)
	}
	stats, err := persistence.NewStatsReader(pool)
	if err != nil {
		panic(err)
	}

	return &repository{EntityStore: store, StatsReader: stats}
}
