package persistence

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrStorageUnavailable wraps every fault raised by the backing store
	// (pool exhaustion, network failure, statement rejection). The store never retries.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrMalformedInput marks caller input the store refuses before touching the database.
	ErrMalformedInput = errors.New("malformed input")
)

// storageFault tags err as ErrStorageUnavailable while keeping the driver error reachable via errors.As.
func storageFault(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrMalformedInput) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedInput, fmt.Sprintf(format, args...))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
