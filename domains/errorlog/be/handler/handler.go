package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/moddy-bot/moddy/domains/errorlog/be/service"
	platformlogging "github.com/moddy-bot/moddy/platform/go/logging"
)

// Handler serves error records to staff tooling.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("error log service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/errors/{code}", h.GetError)
}

func (h *Handler) GetError(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Lookup(r.Context(), chi.URLParam(r, "code"))
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(rec)
	case errors.Is(err, service.ErrInvalidCode):
		writeProblem(w, http.StatusBadRequest, "Validation error", "error code must be 8 hexadecimal characters")
	case errors.Is(err, service.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not found", "no error with this code")
	default:
		platformlogging.FromContextOr(r.Context(), h.logger).Error("error log handler", zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, "Internal error", "unexpected error")
	}
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "about:blank",
		"title":  title,
		"status": status,
		"detail": detail,
	})
}
