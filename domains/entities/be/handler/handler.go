package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/moddy-bot/moddy/domains/entities/be/service"
	platformlogging "github.com/moddy-bot/moddy/platform/go/logging"
	"github.com/moddy-bot/moddy/platform/go/persistence"
	"github.com/moddy-bot/moddy/platform/go/validation"
)

const (
	problemTypeValidation  = "https://moddy.bot/problems/validation-error"
	problemTypeForbidden   = "https://moddy.bot/problems/forbidden"
	problemTypeUnavailable = "https://moddy.bot/problems/storage-unavailable"
	problemTypeInternal    = "https://moddy.bot/problems/internal-error"

	maxBodyBytes = 64 << 10
)

// ProblemDetails is an RFC 7807 body.
type ProblemDetails struct {
	Type   string              `json:"type"`
	Title  string              `json:"title"`
	Status int                 `json:"status"`
	Detail string              `json:"detail,omitempty"`
	Errors map[string][]string `json:"errors,omitempty"`
}

type attributeResponse struct {
	EntityType string                     `json:"entityType"`
	EntityID   int64                      `json:"entityId"`
	Name       string                     `json:"name"`
	Present    bool                       `json:"present"`
	Value      persistence.AttributeValue `json:"value"`
}

type setAttributeRequest struct {
	Value  any    `json:"value"`
	Reason string `json:"reason"`
}

type updateDataRequest struct {
	Path     string   `json:"path"`
	Segments []string `json:"segments"`
	Value    any      `json:"value"`
}

type resetRequest struct {
	Reason string `json:"reason"`
}

// Handler exposes the entities service over the internal HTTP API.
type Handler struct {
	svc       service.Service
	logger    *zap.Logger
	validator *validation.Validator
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("entities service is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	validator := validation.NewValidator()
	for name, definition := range requestSchemas {
		validator.Register(name, []byte(definition))
	}

	return &Handler{svc: svc, logger: logger, validator: validator}
}

// Routes mounts the entity endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/stats", h.GetStats)
	r.Get("/history", h.ListHistory)
	r.Get("/{entityType}", h.ListCohort)
	r.Get("/{entityType}/{id}", h.GetEntity)
	r.Get("/{entityType}/{id}/attributes/{name}", h.GetAttribute)
	r.Put("/{entityType}/{id}/attributes/{name}", h.SetAttribute)
	r.Delete("/{entityType}/{id}/attributes/{name}", h.DeleteAttribute)
	r.Patch("/{entityType}/{id}/data", h.UpdateData)
	r.Post("/{entityType}/{id}/reset", h.Reset)
}

func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}

	entity, err := h.svc.Get(r.Context(), chi.URLParam(r, "entityType"), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

func (h *Handler) GetAttribute(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}
	entityType := chi.URLParam(r, "entityType")
	name := service.NormalizeAttributeName(chi.URLParam(r, "name"))

	value, err := h.svc.GetAttribute(r.Context(), entityType, id, name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attributeResponse{
		EntityType: strings.ToLower(entityType),
		EntityID:   id,
		Name:       name,
		Present:    value.IsPresent(),
		Value:      value,
	})
}

func (h *Handler) SetAttribute(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}
	var body setAttributeRequest
	if !h.decodeBody(w, r, schemaSetAttribute, &body) {
		return
	}

	h.writeAttribute(w, r, id, body.Value, body.Reason)
}

// DeleteAttribute removes the attribute; the removal is audited like any other write.
func (h *Handler) DeleteAttribute(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}
	h.writeAttribute(w, r, id, nil, r.URL.Query().Get("reason"))
}

func (h *Handler) writeAttribute(w http.ResponseWriter, r *http.Request, id int64, raw any, reason string) {
	entityType := chi.URLParam(r, "entityType")
	name := service.NormalizeAttributeName(chi.URLParam(r, "name"))

	value, err := h.svc.SetAttribute(r.Context(), service.SetAttributeInput{
		EntityType: entityType,
		EntityID:   id,
		Name:       name,
		Value:      raw,
		Reason:     reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attributeResponse{
		EntityType: strings.ToLower(entityType),
		EntityID:   id,
		Name:       name,
		Present:    value.IsPresent(),
		Value:      value,
	})
}

func (h *Handler) UpdateData(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}
	var body updateDataRequest
	if !h.decodeBody(w, r, schemaUpdateData, &body) {
		return
	}

	entity, err := h.svc.UpdateData(r.Context(), service.UpdateDataInput{
		EntityType: chi.URLParam(r, "entityType"),
		EntityID:   id,
		DottedPath: body.Path,
		Segments:   body.Segments,
		Value:      body.Value,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}
	var body resetRequest
	if !h.decodeOptionalBody(w, r, schemaReset, &body) {
		return
	}

	removed, err := h.svc.Reset(r.Context(), chi.URLParam(r, "entityType"), id, body.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removedAttributes": removed})
}

// ListCohort serves GET /{entityType}?attribute=NAME[&value=V]. V is read as
// a JSON literal when it parses as one, otherwise as a plain string.
func (h *Handler) ListCohort(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	cohort := service.CohortQuery{
		EntityType: chi.URLParam(r, "entityType"),
		Name:       query.Get("attribute"),
	}
	if query.Has("value") {
		cohort.Value = parseQueryValue(query.Get("value"))
		cohort.HasValue = true
	}

	ids, err := h.svc.Cohort(r.Context(), cohort)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ids": ids})
}

func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := service.HistoryOptions{
		EntityType: query.Get("entityType"),
		Name:       query.Get("attribute"),
	}

	fields := service.FieldErrors{}
	if raw := query.Get("entityId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			fields["entityId"] = []string{"must be an integer"}
		}
		opts.EntityID = id
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			fields["limit"] = []string{"must be an integer"}
		}
		opts.Limit = limit
	}
	if len(fields) > 0 {
		h.writeError(w, r, &service.ValidationError{Fields: fields})
		return
	}

	changes, err := h.svc.History(r.Context(), opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": changes})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) entityID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, r, &service.ValidationError{Fields: service.FieldErrors{"entityId": {"must be a positive integer"}}})
		return 0, false
	}
	return id, true
}

// decodeBody validates the raw body against the named schema before decoding into dst.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, schema string, dst any) bool {
	return h.decode(w, r, schema, dst, false)
}

// decodeOptionalBody is decodeBody that accepts an empty body and leaves dst untouched.
func (h *Handler) decodeOptionalBody(w http.ResponseWriter, r *http.Request, schema string, dst any) bool {
	return h.decode(w, r, schema, dst, true)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, schema string, dst any, optional bool) bool {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		h.writeError(w, r, err)
		return false
	}
	if len(payload) > maxBodyBytes {
		h.writeError(w, r, &service.ValidationError{Fields: service.FieldErrors{"body": {"is too large"}}})
		return false
	}
	if optional && len(bytes.TrimSpace(payload)) == 0 {
		return true
	}

	if err := h.validator.Validate(schema, payload); err != nil {
		h.writeError(w, r, &service.ValidationError{Fields: schemaFieldErrors(err)})
		return false
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, r, &service.ValidationError{Fields: service.FieldErrors{"body": {"must be valid JSON"}}})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeProblem(w, ProblemDetails{
			Type:   problemTypeValidation,
			Title:  "Validation error",
			Status: http.StatusBadRequest,
			Errors: validationErr.Fields,
		})
	case errors.Is(err, service.ErrActorRequired):
		writeProblem(w, ProblemDetails{
			Type:   problemTypeForbidden,
			Title:  "Forbidden",
			Status: http.StatusForbidden,
			Detail: err.Error(),
		})
	case errors.Is(err, service.ErrUnavailable):
		platformlogging.FromContextOr(r.Context(), h.logger).Warn("entities storage unavailable", zap.Error(err))
		writeProblem(w, ProblemDetails{
			Type:   problemTypeUnavailable,
			Title:  "Service unavailable",
			Status: http.StatusServiceUnavailable,
			Detail: "storage unavailable",
		})
	default:
		platformlogging.FromContextOr(r.Context(), h.logger).Error("entities handler", zap.Error(err))
		writeProblem(w, ProblemDetails{
			Type:   problemTypeInternal,
			Title:  "Internal error",
			Status: http.StatusInternalServerError,
			Detail: "unexpected error",
		})
	}
}

func schemaFieldErrors(err error) service.FieldErrors {
	var schemaErr *jsonschema.ValidationError
	if !errors.As(err, &schemaErr) {
		return service.FieldErrors{"body": {"must be valid JSON"}}
	}

	fields := service.FieldErrors{}
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			field := strings.TrimPrefix(e.InstanceLocation, "/")
			if field == "" {
				field = "body"
			}
			fields[field] = append(fields[field], e.Message)
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(schemaErr)
	return fields
}

func parseQueryValue(raw string) any {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err == nil && !dec.More() {
		switch v.(type) {
		case string, bool, json.Number:
			return v
		}
	}
	return raw
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeProblem(w http.ResponseWriter, problem ProblemDetails) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}
