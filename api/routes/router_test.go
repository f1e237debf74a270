package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/solverpay-backend/internal/orchestrator"
	pkgAuth "github.com/angelmondragon/solverpay-backend/pkg/auth"
	"github.com/angelmondragon/solverpay-backend/pkg/config"
	"github.com/angelmondragon/solverpay-backend/pkg/db/models"
	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/solverpay-backend/pkg/errors"
	"github.com/angelmondragon/solverpay-backend/pkg/money"
)

const testAPIKey = "sk_test_router"

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type memoryRedis struct {
	mu     sync.Mutex
	data   map[string]string
	counts map[string]int64
	ping   error
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{data: map[string]string{}, counts: map[string]int64{}}
}

func (m *memoryRedis) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", goredis.Nil
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key], _ = value.(string)
	return true, nil
}

func (m *memoryRedis) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key], _ = value.(string)
	return nil
}

func (m *memoryRedis) IdempotencyKey(scope, id string) string { return "idem:" + scope + ":" + id }

func (m *memoryRedis) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryRedis) Ping(context.Context) error { return m.ping }

func (m *memoryRedis) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[scope]++
	return m.counts[scope] <= limit, m.counts[scope], nil
}

type stubAuthenticator struct{ account *models.Account }

func (s stubAuthenticator) Authenticate(_ context.Context, key string) (*models.Account, error) {
	if key != testAPIKey {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid api key")
	}
	return s.account, nil
}

type stubCore struct {
	orchestrator.Service
	mu      sync.Mutex
	created int
	credits int
}

func (s *stubCore) CreateJob(_ context.Context, in orchestrator.CreateJobInput) (*models.Job, error) {
	s.mu.Lock()
	s.created++
	s.mu.Unlock()
	return &models.Job{ID: uuid.New(), AccountID: in.AccountID, Type: enums.JobType(in.Type), Status: enums.JobStatusPending}, nil
}

func (s *stubCore) GetBalance(context.Context, uuid.UUID) (money.Amount, error) {
	return money.MustParse("1.50"), nil
}

func (s *stubCore) ReportOutcome(_ context.Context, jobID uuid.UUID, _ orchestrator.Outcome) (*models.Job, error) {
	return &models.Job{ID: jobID, Status: enums.JobStatusProcessing}, nil
}

func (s *stubCore) Deposit(_ context.Context, in orchestrator.CreditInput) (*orchestrator.CreditResult, error) {
	s.mu.Lock()
	s.credits++
	s.mu.Unlock()
	return &orchestrator.CreditResult{Status: enums.CreditStatusApplied, Balance: in.Amount}, nil
}

type fixture struct {
	cfg     *config.Config
	handler http.Handler
	redis   *memoryRedis
	core    *stubCore
}

func newFixture(t *testing.T, dbErr error) *fixture {
	t.Helper()
	cfg := &config.Config{
		JWT:           config.JWTConfig{Secret: "router-secret", Issuer: "solverpay"},
		AuthRateLimit: config.AuthRateLimitConfig{Window: time.Minute, IPLimit: 2},
		Metrics:       config.MetricsConfig{Enabled: true},
	}
	f := &fixture{cfg: cfg, redis: newMemoryRedis(), core: &stubCore{}}
	f.handler = NewRouter(cfg, nil, stubPinger{err: dbErr}, f.redis, prometheus.NewRegistry(),
		stubAuthenticator{account: &models.Account{ID: uuid.New()}}, f.core)
	return f
}

func (f *fixture) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "203.0.113.7:5000"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) serviceToken(t *testing.T, role enums.ServiceRole) string {
	t.Helper()
	token, err := pkgAuth.MintServiceToken(f.cfg.JWT, time.Now(), pkgAuth.ServiceTokenPayload{Subject: "solver-1", Role: role, TTL: time.Hour})
	require.NoError(t, err)
	return "Bearer " + token
}

func TestHealthRoutes(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health/live", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health/ready", "", nil).Code)

	down := newFixture(t, errors.New("db down"))
	assert.Equal(t, http.StatusServiceUnavailable, down.do(http.MethodGet, "/health/ready", "", nil).Code)
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/metrics", "", nil).Code)
}

func TestAPIRequiresKey(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/v1/balance", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/v1/balance", "", map[string]string{"X-API-Key": "wrong"}).Code)

	rec := f.do(http.MethodGet, "/api/v1/balance", "", map[string]string{"Authorization": "Bearer " + testAPIKey})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"1.5`)
}

func TestCreateJobReplaysIdempotencyKey(t *testing.T) {
	f := newFixture(t, nil)
	headers := map[string]string{"X-API-Key": testAPIKey, "Idempotency-Key": "create-1"}
	body := `{"type":"HCaptchaTask","params":{"website_url":"https://example.com","website_key":"k"}}`

	first := f.do(http.MethodPost, "/api/v1/jobs", body, headers)
	require.Equal(t, http.StatusCreated, first.Code)

	second := f.do(http.MethodPost, "/api/v1/jobs", body, headers)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, f.core.created)

	conflict := f.do(http.MethodPost, "/api/v1/jobs", `{"type":"RecaptchaV2Task"}`, headers)
	assert.Equal(t, http.StatusConflict, conflict.Code)
}

func TestInternalRoutesEnforceRoles(t *testing.T) {
	f := newFixture(t, nil)
	outcome := "/internal/v1/jobs/" + uuid.NewString() + "/outcome"
	deposit := "/internal/v1/accounts/" + uuid.NewString() + "/deposits"

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, outcome, `{"outcome":"started"}`, nil).Code)

	worker := f.serviceToken(t, enums.ServiceRoleWorker)
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, outcome, `{"outcome":"started"}`, map[string]string{"Authorization": worker}).Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, deposit, `{"amount":"10","reference":"pay_1"}`, map[string]string{"Authorization": worker}).Code)

	admin := f.serviceToken(t, enums.ServiceRoleAdmin)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, deposit, `{"amount":"10","reference":"pay_1"}`, map[string]string{"Authorization": admin}).Code)

	headers := map[string]string{"Authorization": admin, "Idempotency-Key": "dep-1"}
	assert.Equal(t, http.StatusCreated, f.do(http.MethodPost, deposit, `{"amount":"10","reference":"pay_1"}`, headers).Code)
	assert.Equal(t, http.StatusCreated, f.do(http.MethodPost, deposit, `{"amount":"10","reference":"pay_1"}`, headers).Code)
	assert.Equal(t, 1, f.core.credits)
}

func TestCompatRoutesThrottlePerIP(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"clientKey":"` + testAPIKey + `"}`

	for i := 0; i < 2; i++ {
		rec := f.do(http.MethodPost, "/getBalance", body, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var out map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.Equal(t, float64(0), out["errorId"])
		assert.Equal(t, 1.5, out["balance"])
	}

	rec := f.do(http.MethodPost, "/getBalance", body, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, float64(22), out["errorId"])
}
