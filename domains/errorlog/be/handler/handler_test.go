package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/moddy-bot/moddy/domains/errorlog/be/service"
	"github.com/moddy-bot/moddy/platform/go/persistence"
)

type mockService struct {
	lookupFn func(ctx context.Context, code string) (persistence.ErrorRecord, error)
}

func (m *mockService) Record(context.Context, service.RecordInput) (string, error) {
	panic("recordFn not configured")
}

func (m *mockService) Lookup(ctx context.Context, code string) (persistence.ErrorRecord, error) {
	if m.lookupFn == nil {
		panic("lookupFn not configured")
	}
	return m.lookupFn(ctx, code)
}

func (m *mockService) Cleanup(context.Context, time.Duration) (int64, error) {
	panic("cleanupFn not configured")
}

func TestGetError(t *testing.T) {
	t.Parallel()

	svc := &mockService{lookupFn: func(_ context.Context, code string) (persistence.ErrorRecord, error) {
		switch code {
		case "ABCDEF12":
			return persistence.ErrorRecord{Code: code, Type: "KeyError"}, nil
		case "zz":
			return persistence.ErrorRecord{}, service.ErrInvalidCode
		}
		return persistence.ErrorRecord{}, service.ErrNotFound
	}}

	r := chi.NewRouter()
	New(svc, zaptest.NewLogger(t)).Routes(r)

	cases := map[string]int{
		"/errors/ABCDEF12": http.StatusOK,
		"/errors/zz":       http.StatusBadRequest,
		"/errors/00000000": http.StatusNotFound,
	}
	for target, status := range cases {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, status, rec.Code, target)
	}
}
