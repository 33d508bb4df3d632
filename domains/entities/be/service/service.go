package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	domainrepo "github.com/moddy-bot/moddy/domains/entities/be/repo"
	"github.com/moddy-bot/moddy/platform/go/persistence"
	"github.com/moddy-bot/moddy/platform/go/requesttrace"
)

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

// ValidationError is returned when the input payload is invalid.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	return "validation error"
}

// Domain sentinel errors.
var (
	ErrActorRequired = errors.New("an acting user is required for attribute changes")
	ErrUnavailable   = errors.New("entity storage unavailable")
)

var attributeNamePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// SetAttributeInput is one attribute write. A nil or false Value removes the attribute.
type SetAttributeInput struct {
	EntityType string
	EntityID   int64
	Name       string
	Value      any
	Reason     string
}

// UpdateDataInput deep-sets Value at Path. Segments win over DottedPath when both are set.
type UpdateDataInput struct {
	EntityType string
	EntityID   int64
	DottedPath string
	Segments   []string
	Value      any
}

// CohortQuery lists entities holding an attribute, optionally with an exact value.
type CohortQuery struct {
	EntityType string
	Name       string
	Value      any
	HasValue   bool
}

// HistoryOptions filters audit history.
type HistoryOptions struct {
	EntityType string
	EntityID   int64
	Name       string
	Limit      int
}

// Service defines the business operations for the entities domain.
type Service interface {
	Get(ctx context.Context, entityType string, id int64) (persistence.Entity, error)
	GetAttribute(ctx context.Context, entityType string, id int64, name string) (persistence.AttributeValue, error)
	SetAttribute(ctx context.Context, input SetAttributeInput) (persistence.AttributeValue, error)
	UpdateData(ctx context.Context, input UpdateDataInput) (persistence.Entity, error)
	Reset(ctx context.Context, entityType string, id int64, reason string) (int, error)
	Cohort(ctx context.Context, query CohortQuery) ([]int64, error)
	History(ctx context.Context, opts HistoryOptions) ([]persistence.AttributeChange, error)
	Stats(ctx context.Context) (persistence.Stats, error)
}

type service struct {
	repo domainrepo.Repository
}

// New constructs a Service instance.
func New(repo domainrepo.Repository) Service {
	if repo == nil {
		panic("entities repository is required")
	}

	return &service{repo: repo}
}

func (s *service) Get(ctx context.Context, entityType string, id int64) (persistence.Entity, error) {
	kind, fields := validateTarget(entityType, id)
	if len(fields) > 0 {
		return persistence.Entity{}, &ValidationError{Fields: fields}
	}

	entity, err := s.repo.GetOrCreate(ctx, kind, id)
	if err != nil {
		return persistence.Entity{}, translateError(err)
	}
	return entity, nil
}

func (s *service) GetAttribute(ctx context.Context, entityType string, id int64, name string) (persistence.AttributeValue, error) {
	kind, fields := validateTarget(entityType, id)
	normalized := NormalizeAttributeName(name)
	validateName(fields, normalized)
	if len(fields) > 0 {
		return persistence.Absent(), &ValidationError{Fields: fields}
	}

	entity, err := s.repo.GetOrCreate(ctx, kind, id)
	if err != nil {
		return persistence.Absent(), translateError(err)
	}
	return entity.Attribute(normalized), nil
}

func (s *service) SetAttribute(ctx context.Context, input SetAttributeInput) (persistence.AttributeValue, error) {
	kind, fields := validateTarget(input.EntityType, input.EntityID)
	name := NormalizeAttributeName(input.Name)
	validateName(fields, name)
	value, err := persistence.AttributeFromAny(input.Value)
	if err != nil {
		fields["value"] = append(fields["value"], "must be a string, number, boolean or null")
	}
	if len(input.Reason) > 500 {
		fields["reason"] = append(fields["reason"], "must be at most 500 characters")
	}
	if len(fields) > 0 {
		return persistence.Absent(), &ValidationError{Fields: fields}
	}

	changedBy, err := actor(ctx)
	if err != nil {
		return persistence.Absent(), err
	}

	if err := s.repo.SetAttribute(ctx, persistence.SetAttributeParams{
		Type:      kind,
		ID:        input.EntityID,
		Name:      name,
		Value:     value,
		ChangedBy: changedBy,
		Reason:    strings.TrimSpace(input.Reason),
	}); err != nil {
		return persistence.Absent(), translateError(err)
	}
	return value, nil
}

func (s *service) UpdateData(ctx context.Context, input UpdateDataInput) (persistence.Entity, error) {
	kind, fields := validateTarget(input.EntityType, input.EntityID)

	var (
		path persistence.DataPath
		err  error
	)
	if len(input.Segments) > 0 {
		path, err = persistence.NewDataPath(input.Segments...)
	} else {
		path, err = persistence.ParseDataPath(input.DottedPath)
	}
	if err != nil {
		fields["path"] = append(fields["path"], "must be a non-empty path without empty segments")
	}
	if len(fields) > 0 {
		return persistence.Entity{}, &ValidationError{Fields: fields}
	}

	if err := s.repo.UpdateData(ctx, kind, input.EntityID, path, input.Value); err != nil {
		return persistence.Entity{}, translateError(err)
	}

	entity, err := s.repo.GetOrCreate(ctx, kind, input.EntityID)
	if err != nil {
		return persistence.Entity{}, translateError(err)
	}
	return entity, nil
}

func (s *service) Reset(ctx context.Context, entityType string, id int64, reason string) (int, error) {
	kind, fields := validateTarget(entityType, id)
	if len(fields) > 0 {
		return 0, &ValidationError{Fields: fields}
	}

	changedBy, err := actor(ctx)
	if err != nil {
		return 0, err
	}

	removed, err := s.repo.ResetEntity(ctx, kind, id, changedBy, strings.TrimSpace(reason))
	if err != nil {
		return 0, translateError(err)
	}
	return removed, nil
}

func (s *service) Cohort(ctx context.Context, query CohortQuery) ([]int64, error) {
	fields := FieldErrors{}
	kind, err := persistence.ParseEntityType(query.EntityType)
	if err != nil {
		fields["entityType"] = append(fields["entityType"], "must be user or guild")
	}
	name := NormalizeAttributeName(query.Name)
	validateName(fields, name)

	var value persistence.AttributeValue
	if query.HasValue {
		value, err = persistence.MatchValue(query.Value)
		if err != nil {
			fields["value"] = append(fields["value"], "must be a string, number or boolean")
		}
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	// A supplied value is always an exact match; false only finds rows that literally store false.
	var ids []int64
	if query.HasValue {
		ids, err = s.repo.EntitiesWithAttributeValue(ctx, kind, name, value)
	} else {
		ids, err = s.repo.EntitiesWithAttribute(ctx, kind, name)
	}
	if err != nil {
		return nil, translateError(err)
	}
	return ids, nil
}

func (s *service) History(ctx context.Context, opts HistoryOptions) ([]persistence.AttributeChange, error) {
	fields := FieldErrors{}
	filter := persistence.AttributeChangeFilter{EntityID: opts.EntityID, Limit: opts.Limit}

	if opts.EntityType != "" {
		kind, err := persistence.ParseEntityType(opts.EntityType)
		if err != nil {
			fields["entityType"] = append(fields["entityType"], "must be user or guild")
		}
		filter.EntityType = kind
	}
	if opts.EntityID < 0 {
		fields["entityId"] = append(fields["entityId"], "must be positive")
	}
	if opts.Name != "" {
		filter.AttributeName = NormalizeAttributeName(opts.Name)
		validateName(fields, filter.AttributeName)
	}
	if opts.Limit < 0 {
		fields["limit"] = append(fields["limit"], "must not be negative")
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	changes, err := s.repo.ListAttributeChanges(ctx, filter)
	if err != nil {
		return nil, translateError(err)
	}
	return changes, nil
}

func (s *service) Stats(ctx context.Context) (persistence.Stats, error) {
	stats, err := s.repo.GetStats(ctx)
	if err != nil {
		return persistence.Stats{}, translateError(err)
	}
	return stats, nil
}

// NormalizeAttributeName trims and upper-cases an attribute name.
func NormalizeAttributeName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

func validateTarget(entityType string, id int64) (persistence.EntityType, FieldErrors) {
	fields := FieldErrors{}
	kind, err := persistence.ParseEntityType(entityType)
	if err != nil {
		fields["entityType"] = append(fields["entityType"], "must be user or guild")
	}
	if id <= 0 {
		fields["entityId"] = append(fields["entityId"], "must be positive")
	}
	return kind, fields
}

func validateName(fields FieldErrors, name string) {
	switch {
	case name == "":
		fields["name"] = append(fields["name"], "is required")
	case len(name) > persistence.MaxAttributeNameLength:
		fields["name"] = append(fields["name"], fmt.Sprintf("must be at most %d characters", persistence.MaxAttributeNameLength))
	case !attributeNamePattern.MatchString(name):
		fields["name"] = append(fields["name"], "must contain only letters, digits and underscores")
	}
}

// actor resolves changed_by from the request trace. Anonymous callers cannot write.
func actor(ctx context.Context) (int64, error) {
	audit := requesttrace.FromContextOrAnonymous(ctx)
	if audit.ActorKind == requesttrace.ActorKindAnonymous {
		return 0, ErrActorRequired
	}
	return audit.ChangedBy(), nil
}

func translateError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrMalformedInput):
		return &ValidationError{Fields: FieldErrors{"input": {err.Error()}}}
	case errors.Is(err, persistence.ErrStorageUnavailable):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		return err
	}
}
