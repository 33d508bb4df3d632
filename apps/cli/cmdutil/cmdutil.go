// Package cmdutil holds the plumbing shared by moddyctl subcommands.
package cmdutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	entitiesrepo "github.com/moddy-bot/moddy/domains/entities/be/repo"
	entitiesservice "github.com/moddy-bot/moddy/domains/entities/be/service"
	platformlogging "github.com/moddy-bot/moddy/platform/go/logging"
	"github.com/moddy-bot/moddy/platform/go/persistence"
	"github.com/moddy-bot/moddy/platform/go/requesttrace"
	"github.com/moddy-bot/moddy/platform/go/setups"
)

// Persistent flag names defined on the root command.
const (
	FlagActor    = "actor"
	FlagLogLevel = "log-level"
)

// Env is an opened database session for one command invocation.
type Env struct {
	Pool   *pgxpool.Pool
	Logger *zap.Logger
	actor  int64
}

// Open loads the database configuration and connects.
func Open(cmd *cobra.Command) (*Env, error) {
	var db setups.Database
	if err := setups.Load(&db); err != nil {
		return nil, err
	}

	level, _ := cmd.Flags().GetString(FlagLogLevel)
	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "moddyctl",
		Level:     level,
		Console:   true,
		Output:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	actor, _ := cmd.Flags().GetInt64(FlagActor)
	if actor < 0 {
		return nil, fmt.Errorf("--%s must not be negative", FlagActor)
	}

	pool, err := persistence.NewPool(cmd.Context(), db.PoolConfig("moddyctl"))
	if err != nil {
		return nil, fmt.Errorf("init pool: %w", err)
	}

	return &Env{Pool: pool, Logger: logger, actor: actor}, nil
}

func (e *Env) Close() {
	persistence.ClosePool(e.Pool)
	_ = e.Logger.Sync()
}

// Context carries the audit actor: the --actor user, or the system actor.
func (e *Env) Context(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	audit := requesttrace.System("moddyctl")
	if e.actor > 0 {
		audit = requesttrace.User(e.actor, "moddyctl")
	}
	ctx = requesttrace.IntoContext(ctx, audit)
	return platformlogging.WithLogger(ctx, e.Logger)
}

// Entities builds the entities service over the session pool.
func (e *Env) Entities() entitiesservice.Service {
	return entitiesservice.New(entitiesrepo.New(e.Pool))
}

// PrintJSON writes v indented.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ParseLiteral reads raw as a JSON literal when it parses as one, otherwise as a string.
// "true" sets a flag, "null" and "false" remove, "42" is a number, "FR" is a string.
func ParseLiteral(raw string) any {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err == nil && !dec.More() {
		return v
	}
	return raw
}

// FormatError renders service validation errors readably.
func FormatError(err error) error {
	var valErr *entitiesservice.ValidationError
	if !errors.As(err, &valErr) {
		return err
	}
	fields := make([]string, 0, len(valErr.Fields))
	for field := range valErr.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s %s", field, strings.Join(valErr.Fields[field], ", ")))
	}
	return fmt.Errorf("invalid input: %s", strings.Join(parts, "; "))
}
