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

var (
	// ErrErrorNotFound indicates no error record carries the requested code.
	ErrErrorNotFound = errors.New("error record not found")
	// ErrErrorCodeConflict indicates the code is already taken.
	ErrErrorCodeConflict = errors.New("error code conflict")
)

// ErrorRecord is one row of the errors table.
type ErrorRecord struct {
	Code      string         `json:"code"`
	Type      string         `json:"type,omitempty"`
	Message   string         `json:"message,omitempty"`
	File      string         `json:"file,omitempty"`
	Line      *int32         `json:"line,omitempty"`
	Traceback string         `json:"traceback,omitempty"`
	UserID    *int64         `json:"userId,omitempty"`
	GuildID   *int64         `json:"guildId,omitempty"`
	Command   string         `json:"command,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
}

// ErrorLog persists application errors, independent of the entity tables.
type ErrorLog struct {
	pool *pgxpool.Pool
}

func NewErrorLog(pool *pgxpool.Pool) (*ErrorLog, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &ErrorLog{pool: pool}, nil
}

// LogError appends rec. The timestamp is assigned by the database.
func (l *ErrorLog) LogError(ctx context.Context, rec ErrorRecord) error {
	code, err := NormalizeErrorCode(rec.Code)
	if err != nil {
		return err
	}
	contextDoc := rec.Context
	if contextDoc == nil {
		contextDoc = map[string]any{}
	}
	encoded, err := json.Marshal(contextDoc)
	if err != nil {
		return malformed("encode error context: %v", err)
	}

	_, err = l.pool.Exec(ctx, `
		INSERT INTO errors (error_code, error_type, message, file_source,
		                    line_number, traceback, user_id, guild_id,
		                    command, context)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5,
		        NULLIF($6, ''), $7, $8, NULLIF($9, ''), $10::jsonb)
	`,
		code,
		truncate(rec.Type, 100),
		rec.Message,
		truncate(rec.File, 255),
		rec.Line,
		rec.Traceback,
		rec.UserID,
		rec.GuildID,
		truncate(rec.Command, 100),
		string(encoded),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrErrorCodeConflict
		}
		return storageFault("insert error", err)
	}
	return nil
}

// GetError looks a record up by code (case-insensitive).
func (l *ErrorLog) GetError(ctx context.Context, code string) (ErrorRecord, error) {
	normalized, err := NormalizeErrorCode(code)
	if err != nil {
		return ErrorRecord{}, err
	}

	row := l.pool.QueryRow(ctx, `
		SELECT error_code, COALESCE(error_type, ''), COALESCE(message, ''),
		       COALESCE(file_source, ''), line_number, COALESCE(traceback, ''),
		       user_id, guild_id, COALESCE(command, ''), timestamp, context
		FROM errors
		WHERE error_code = $1
	`, normalized)

	rec, err := scanErrorRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrorRecord{}, ErrErrorNotFound
		}
		return ErrorRecord{}, storageFault("select error", err)
	}
	return rec, nil
}

// CleanupOldErrors deletes records older than the given number of days.
func (l *ErrorLog) CleanupOldErrors(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 0 {
		return 0, malformed("retention days must not be negative")
	}
	tag, err := l.pool.Exec(ctx, `
		DELETE FROM errors
		WHERE timestamp < NOW() - make_interval(days => $1)
	`, olderThanDays)
	if err != nil {
		return 0, storageFault("delete errors", err)
	}
	return tag.RowsAffected(), nil
}

func scanErrorRecord(row pgx.Row) (ErrorRecord, error) {
	var (
		rec        ErrorRecord
		contextRaw []byte
	)
	if err := row.Scan(
		&rec.Code,
		&rec.Type,
		&rec.Message,
		&rec.File,
		&rec.Line,
		&rec.Traceback,
		&rec.UserID,
		&rec.GuildID,
		&rec.Command,
		&rec.Timestamp,
		&contextRaw,
	); err != nil {
		return ErrorRecord{}, err
	}
	if len(contextRaw) > 0 {
		if err := json.Unmarshal(contextRaw, &rec.Context); err != nil {
			return ErrorRecord{}, fmt.Errorf("decode error context: %w", err)
		}
	}
	return rec, nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
