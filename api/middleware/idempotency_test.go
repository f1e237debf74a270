package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/solverpay-backend/pkg/errors"
)

type memoryStore struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	return true, m.Set(ctx, key, value, ttl)
}

func (m *memoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.data[key] = value.(string)
	m.ttls[key] = ttl
	return nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string { return "idem:" + scope + ":" + id }

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

var testAccount = uuid.MustParse("7d0c0a5e-4f6c-4b7a-9d1e-000000000001")

func routed(method, url, pattern, body, key string) *http.Request {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{pattern}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rc)
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	return req.WithContext(WithAccountID(ctx, testAccount))
}

func submitJob(body, key string) *http.Request {
	return routed(http.MethodPost, "/api/v1/jobs", "/api/v1/jobs", body, key)
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestRuleSelection(t *testing.T) {
	cases := []struct {
		method, pattern string
		ttl             time.Duration
		required, ok    bool
	}{
		{http.MethodPost, "/api/v1/jobs", defaultIdempotencyTTL, false, true},
		{http.MethodPost, "/api/v1/jobs/{jobId}/refund", defaultIdempotencyTTL, false, true},
		{http.MethodPost, "/internal/v1/accounts/{accountId}/deposits", criticalIdempotencyTTL, true, true},
		{http.MethodGet, "/api/v1/jobs", 0, false, false},
	}
	for _, tc := range cases {
		rule, ok := ruleFor(tc.method, tc.pattern)
		require.Equal(t, tc.ok, ok, tc.pattern)
		if ok {
			assert.Equal(t, tc.ttl, rule.ttl, tc.pattern)
			assert.Equal(t, tc.required, rule.required, tc.pattern)
		}
	}
}

func TestIdempotencyWithoutKeyPassesThrough(t *testing.T) {
	store := newMemoryStore()
	calls := 0
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), submitJob(`{"type":"HCaptchaTask"}`, ""))
	handler.ServeHTTP(httptest.NewRecorder(), submitJob(`{"type":"HCaptchaTask"}`, ""))
	assert.Equal(t, 2, calls)
	assert.Empty(t, store.data)
}

func TestIdempotencyRequiredKeyRejected(t *testing.T) {
	handler := Idempotency(newMemoryStore(), nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run without a key")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, routed(http.MethodPost, "/internal/v1/accounts/abc/deposits",
		"/internal/v1/accounts/{accountId}/deposits", `{}`, ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIdempotencyRejectsOversizedKey(t *testing.T) {
	handler := Idempotency(newMemoryStore(), nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, submitJob(`{}`, strings.Repeat("k", maxIdempotencyKeyBytes+1)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store := newMemoryStore()
	calls := 0
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"type":"HCaptchaTask"}`, string(body), "handler still sees the body")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"job-1"}}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, submitJob(`{"type":"HCaptchaTask"}`, "abc"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, submitJob(`{"type":"HCaptchaTask"}`, "abc"))

	assert.Equal(t, 1, calls)
	for _, rec := range []*httptest.ResponseRecorder{first, second} {
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, `{"data":{"id":"job-1"}}`, rec.Body.String())
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
	assert.Empty(t, first.Header().Get(replayedHeader))
	assert.Equal(t, "true", second.Header().Get(replayedHeader))

	for key := range store.data {
		assert.Equal(t, defaultIdempotencyTTL, store.ttls[key])
	}
}

func TestIdempotencyReleasesKeyOnFailure(t *testing.T) {
	store := newMemoryStore()
	calls := 0
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), submitJob(`{}`, "retry-me"))
	handler.ServeHTTP(httptest.NewRecorder(), submitJob(`{}`, "retry-me"))
	assert.Equal(t, 2, calls)
	assert.Empty(t, store.data)
}

func TestIdempotencyReleasesKeyOnPanic(t *testing.T) {
	store := newMemoryStore()
	handler := Idempotency(store, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	assert.Panics(t, func() {
		handler.ServeHTTP(httptest.NewRecorder(), submitJob(`{}`, "explode"))
	})
	assert.Empty(t, store.data)
}

func TestIdempotencyConflicts(t *testing.T) {
	store := newMemoryStore()
	key := store.IdempotencyKey(testAccount.String()+"|POST|/api/v1/jobs", "busy")
	store.data[key] = slot{Fingerprint: fingerprint([]byte(`{"type":"HCaptchaTask"}`))}.encode()

	handler := Idempotency(store, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run while the key is claimed")
	}))

	cases := []struct {
		name string
		body string
		code pkgerrors.Code
	}{
		{"same body still running", `{"type":"HCaptchaTask"}`, pkgerrors.CodeConflict},
		{"different body", `{"type":"RecaptchaV3Task"}`, pkgerrors.CodeIdempotency},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, submitJob(tc.body, "busy"))
			assert.Equal(t, http.StatusConflict, rec.Code)
			assert.Equal(t, string(tc.code), errorCode(t, rec))
		})
	}
	assert.Contains(t, store.data, key, "a waiting retry never frees another request's claim")
}
