package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/moddy-bot/moddy/database"
)

// ApplySchema applies the store DDL in a single transaction, in this order:
//  1. entities.sql (users, guilds)
//  2. attribute_changes.sql
//  3. errors.sql
//  4. guilds_cache.sql
//
// SQL is embedded at build time so binaries stay self-contained. Every
// statement is idempotent, so the helper is safe to run on each startup.
func ApplySchema(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("apply schema: pool is required")
	}

	var statements []string
	statements = append(statements, splitStatements(sqlassets.EntitiesSQL)...)
	statements = append(statements, splitStatements(sqlassets.AttributeChangesSQL)...)
	statements = append(statements, splitStatements(sqlassets.ErrorsSQL)...)
	statements = append(statements, splitStatements(sqlassets.GuildsCacheSQL)...)

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply ddl: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// splitStatements breaks a DDL file on semicolons. The embedded files hold no
// function bodies or string literals containing ';'.
func splitStatements(sql string) []string {
	raw := strings.Split(sql, ";")
	out := make([]string, 0, len(raw))
	for _, part := range raw {
		stmt := strings.TrimSpace(part)
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}
