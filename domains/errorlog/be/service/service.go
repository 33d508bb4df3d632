package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/moddy-bot/moddy/platform/go/persistence"
)

// DefaultRetention is how long error records are kept when none is configured.
const DefaultRetention = 30 * 24 * time.Hour

const maxCodeAttempts = 3

// Domain sentinel errors.
var (
	ErrNotFound    = errors.New("error record not found")
	ErrInvalidCode = errors.New("invalid error code")
)

// Store is the persistence contract of the error log.
type Store interface {
	LogError(ctx context.Context, rec persistence.ErrorRecord) error
	GetError(ctx context.Context, code string) (persistence.ErrorRecord, error)
	CleanupOldErrors(ctx context.Context, olderThanDays int) (int64, error)
}

// RecordInput describes a failure to log. The code is generated.
type RecordInput struct {
	Type      string
	Message   string
	File      string
	Line      int
	Traceback string
	UserID    int64
	GuildID   int64
	Command   string
	Context   map[string]any
}

// Service defines the error log operations.
type Service interface {
	Record(ctx context.Context, input RecordInput) (string, error)
	Lookup(ctx context.Context, code string) (persistence.ErrorRecord, error)
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

type service struct {
	store   Store
	newCode func(errorType, message string) string
}

// New constructs a Service instance.
func New(store Store) Service {
	if store == nil {
		panic("error store is required")
	}
	return &service{store: store, newCode: persistence.NewErrorCode}
}

// Record stores the failure under a fresh code and returns the code users quote to staff.
// A code collision is retried with a new code.
func (s *service) Record(ctx context.Context, input RecordInput) (string, error) {
	rec := persistence.ErrorRecord{
		Type:      input.Type,
		Message:   input.Message,
		File:      input.File,
		Traceback: input.Traceback,
		Command:   input.Command,
		Context:   input.Context,
	}
	if input.Line > 0 && input.Line <= math.MaxInt32 {
		line := int32(input.Line)
		rec.Line = &line
	}
	if input.UserID > 0 {
		id := input.UserID
		rec.UserID = &id
	}
	if input.GuildID > 0 {
		id := input.GuildID
		rec.GuildID = &id
	}

	var err error
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		rec.Code = s.newCode(input.Type, input.Message)
		err = s.store.LogError(ctx, rec)
		if err == nil {
			return rec.Code, nil
		}
		if !errors.Is(err, persistence.ErrErrorCodeConflict) {
			return "", fmt.Errorf("log error: %w", err)
		}
	}
	return "", fmt.Errorf("log error after %d attempts: %w", maxCodeAttempts, err)
}

func (s *service) Lookup(ctx context.Context, code string) (persistence.ErrorRecord, error) {
	rec, err := s.store.GetError(ctx, code)
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, persistence.ErrErrorNotFound):
		return persistence.ErrorRecord{}, ErrNotFound
	case errors.Is(err, persistence.ErrMalformedInput):
		return persistence.ErrorRecord{}, fmt.Errorf("%w: %w", ErrInvalidCode, err)
	default:
		return persistence.ErrorRecord{}, fmt.Errorf("get error: %w", err)
	}
}

// Cleanup deletes records older than retention, rounded down to whole days
// with a minimum of one day.
func (s *service) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	days := int(retention / (24 * time.Hour))
	if days < 1 {
		days = 1
	}
	deleted, err := s.store.CleanupOldErrors(ctx, days)
	if err != nil {
		return 0, fmt.Errorf("cleanup errors: %w", err)
	}
	return deleted, nil
}

// RetentionWorker periodically runs Cleanup until its context ends.
type RetentionWorker struct {
	svc       Service
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
}

func NewRetentionWorker(svc Service, retention, interval time.Duration, logger *zap.Logger) *RetentionWorker {
	if svc == nil {
		panic("error log service is required")
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetentionWorker{svc: svc, retention: retention, interval: interval, logger: logger}
}

// Run cleans up once immediately, then on every tick. Cleanup failures are
// logged and do not stop the worker. Returns nil when ctx is cancelled.
func (w *RetentionWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *RetentionWorker) runOnce(ctx context.Context) {
	deleted, err := w.svc.Cleanup(ctx, w.retention)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("error retention cleanup failed", zap.Error(err))
		}
		return
	}
	if deleted > 0 {
		w.logger.Info("error retention cleanup", zap.Int64("deleted", deleted))
	}
}
