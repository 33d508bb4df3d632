package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	domainrepo "github.com/moddy-bot/moddy/domains/entities/be/repo"
	"github.com/moddy-bot/moddy/domains/entities/be/service"
	"github.com/moddy-bot/moddy/platform/go/persistence"
	"github.com/moddy-bot/moddy/platform/go/requesttrace"
)

type mockService struct {
	getFn          func(ctx context.Context, entityType string, id int64) (persistence.Entity, error)
	getAttributeFn func(ctx context.Context, entityType string, id int64, name string) (persistence.AttributeValue, error)
	setAttributeFn func(ctx context.Context, input service.SetAttributeInput) (persistence.AttributeValue, error)
	updateDataFn   func(ctx context.Context, input service.UpdateDataInput) (persistence.Entity, error)
	resetFn        func(ctx context.Context, entityType string, id int64, reason string) (int, error)
	cohortFn       func(ctx context.Context, query service.CohortQuery) ([]int64, error)
	historyFn      func(ctx context.Context, opts service.HistoryOptions) ([]persistence.AttributeChange, error)
	statsFn        func(ctx context.Context) (persistence.Stats, error)
}

func (m *mockService) Get(ctx context.Context, entityType string, id int64) (persistence.Entity, error) {
	if m.getFn == nil {
		panic("getFn not configured")
	}
	return m.getFn(ctx, entityType, id)
}

func (m *mockService) GetAttribute(ctx context.Context, entityType string, id int64, name string) (persistence.AttributeValue, error) {
	if m.getAttributeFn == nil {
		panic("getAttributeFn not configured")
	}
	return m.getAttributeFn(ctx, entityType, id, name)
}

func (m *mockService) SetAttribute(ctx context.Context, input service.SetAttributeInput) (persistence.AttributeValue, error) {
	if m.setAttributeFn == nil {
		panic("setAttributeFn not configured")
	}
	return m.setAttributeFn(ctx, input)
}

func (m *mockService) UpdateData(ctx context.Context, input service.UpdateDataInput) (persistence.Entity, error) {
	if m.updateDataFn == nil {
		panic("updateDataFn not configured")
	}
	return m.updateDataFn(ctx, input)
}

func (m *mockService) Reset(ctx context.Context, entityType string, id int64, reason string) (int, error) {
	if m.resetFn == nil {
		panic("resetFn not configured")
	}
	return m.resetFn(ctx, entityType, id, reason)
}

func (m *mockService) Cohort(ctx context.Context, query service.CohortQuery) ([]int64, error) {
	if m.cohortFn == nil {
		panic("cohortFn not configured")
	}
	return m.cohortFn(ctx, query)
}

func (m *mockService) History(ctx context.Context, opts service.HistoryOptions) ([]persistence.AttributeChange, error) {
	if m.historyFn == nil {
		panic("historyFn not configured")
	}
	return m.historyFn(ctx, opts)
}

func (m *mockService) Stats(ctx context.Context) (persistence.Stats, error) {
	if m.statsFn == nil {
		panic("statsFn not configured")
	}
	return m.statsFn(ctx)
}

func newRouter(t *testing.T, svc service.Service) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := requesttrace.IntoContext(req.Context(), requesttrace.User(1, "test"))
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	New(svc, zaptest.NewLogger(t)).Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSetAttributeSuccess(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	svc.setAttributeFn = func(_ context.Context, input service.SetAttributeInput) (persistence.AttributeValue, error) {
		require.Equal(t, "user", input.EntityType)
		require.Equal(t, int64(555), input.EntityID)
		require.Equal(t, "LANG", input.Name)
		require.Equal(t, "FR", input.Value)
		require.Equal(t, "asked", input.Reason)
		return persistence.StringValue("FR"), nil
	}

	rec := do(t, newRouter(t, svc), http.MethodPut, "/user/555/attributes/lang", `{"value":"FR","reason":"asked"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "LANG", body["name"])
	require.Equal(t, "FR", body["value"])
	require.Equal(t, true, body["present"])
}

func TestSetAttributeSchemaViolation(t *testing.T) {
	t.Parallel()

	rec := do(t, newRouter(t, &mockService{}), http.MethodPut, "/user/1/attributes/BETA", `{"value":{"nested":true}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var problem ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Contains(t, problem.Errors, "value")
}

func TestDeleteAttributeSendsNil(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	svc.setAttributeFn = func(_ context.Context, input service.SetAttributeInput) (persistence.AttributeValue, error) {
		require.Nil(t, input.Value)
		require.Equal(t, "expired", input.Reason)
		return persistence.Absent(), nil
	}

	rec := do(t, newRouter(t, svc), http.MethodDelete, "/guild/7/attributes/PREMIUM?reason=expired", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"present":false`)
	require.Contains(t, rec.Body.String(), `"value":null`)
}

func TestInvalidEntityID(t *testing.T) {
	t.Parallel()

	rec := do(t, newRouter(t, &mockService{}), http.MethodGet, "/user/abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCohortValueParsing(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	var got []service.CohortQuery
	svc.cohortFn = func(_ context.Context, query service.CohortQuery) ([]int64, error) {
		got = append(got, query)
		return []int64{1}, nil
	}
	h := newRouter(t, svc)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/user?attribute=BETA", "").Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/user?attribute=LANG&value=FR", "").Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/user?attribute=TIER&value=42", "").Code)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/user?attribute=BETA&value=true", "").Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/user?attribute=BETA&value=false", "").Code)

	require.Len(t, got, 5)
	require.False(t, got[0].HasValue)
	require.Equal(t, "FR", got[1].Value)
	require.Equal(t, json.Number("42"), got[2].Value)
	require.Equal(t, true, got[3].Value)
	require.True(t, got[4].HasValue)
	require.Equal(t, false, got[4].Value)
}

func TestCohortBooleanValuesEndToEnd(t *testing.T) {
	t.Parallel()

	h := newRouter(t, service.New(domainrepo.NewMemoryRepository()))
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPut, "/user/1/attributes/BETA", `{"value":true}`).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPut, "/user/2/attributes/BETA", `{"value":"yes"}`).Code)

	cohort := func(target string) []int64 {
		t.Helper()
		rec := do(t, h, http.MethodGet, target, "")
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			IDs []int64 `json:"ids"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return body.IDs
	}

	require.Equal(t, []int64{1, 2}, cohort("/user?attribute=BETA"))
	require.Equal(t, []int64{1}, cohort("/user?attribute=BETA&value=true"))
	require.Equal(t, []int64{2}, cohort("/user?attribute=BETA&value=yes"))
	require.Empty(t, cohort("/user?attribute=BETA&value=false"))
}

func TestUpdateDataRequiresPath(t *testing.T) {
	t.Parallel()

	rec := do(t, newRouter(t, &mockService{}), http.MethodPatch, "/guild/3/data", `{"value":"?"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		status int
	}{
		{err: &service.ValidationError{Fields: service.FieldErrors{"name": {"is required"}}}, status: http.StatusBadRequest},
		{err: service.ErrActorRequired, status: http.StatusForbidden},
		{err: fmt.Errorf("%w: %w", service.ErrUnavailable, persistence.ErrStorageUnavailable), status: http.StatusServiceUnavailable},
		{err: errors.New("boom"), status: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		svc := &mockService{}
		svc.resetFn = func(context.Context, string, int64, string) (int, error) { return 0, tc.err }
		rec := do(t, newRouter(t, svc), http.MethodPost, "/user/1/reset", "")
		require.Equal(t, tc.status, rec.Code, tc.err.Error())
	}
}

func TestEndToEndWithMemoryRepository(t *testing.T) {
	t.Parallel()

	h := newRouter(t, service.New(domainrepo.NewMemoryRepository()))

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPut, "/user/555/attributes/LANG", `{"value":"FR"}`).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPut, "/user/555/attributes/LANG", `{"value":null}`).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPatch, "/guild/9/data", `{"path":"config.prefix","value":"?"}`).Code)

	rec := do(t, h, http.MethodGet, "/guild/9", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"prefix":"?"`)

	rec = do(t, h, http.MethodGet, "/history?entityType=user&entityId=555", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Items []persistence.AttributeChange `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history.Items, 2)
	require.Nil(t, history.Items[0].NewValue)
	require.Equal(t, int64(1), history.Items[0].ChangedBy)

	rec = do(t, h, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"attributeChanges":2`)
}
