package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/solverpay-backend/api/middleware"
	"github.com/angelmondragon/solverpay-backend/internal/orchestrator"
	"github.com/angelmondragon/solverpay-backend/pkg/db/models"
	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/solverpay-backend/pkg/errors"
	"github.com/angelmondragon/solverpay-backend/pkg/money"
)

// stubCore implements only what each test sets; anything else panics on the
// nil embedded interface.
type stubCore struct {
	orchestrator.Service
	createJob     func(orchestrator.CreateJobInput) (*models.Job, error)
	refund        func(uuid.UUID) (*orchestrator.RefundResult, error)
	reportOutcome func(uuid.UUID, orchestrator.Outcome) (*models.Job, error)
	deposit       func(orchestrator.CreditInput) (*orchestrator.CreditResult, error)
	bonus         func(orchestrator.CreditInput) (*orchestrator.CreditResult, error)
}

func (s *stubCore) CreateJob(_ context.Context, in orchestrator.CreateJobInput) (*models.Job, error) {
	return s.createJob(in)
}

func (s *stubCore) RequestRefund(_ context.Context, _ uuid.UUID, jobID uuid.UUID) (*orchestrator.RefundResult, error) {
	return s.refund(jobID)
}

func (s *stubCore) ReportOutcome(_ context.Context, jobID uuid.UUID, outcome orchestrator.Outcome) (*models.Job, error) {
	return s.reportOutcome(jobID, outcome)
}

func (s *stubCore) Deposit(_ context.Context, in orchestrator.CreditInput) (*orchestrator.CreditResult, error) {
	return s.deposit(in)
}

func (s *stubCore) GrantBonus(_ context.Context, in orchestrator.CreditInput) (*orchestrator.CreditResult, error) {
	return s.bonus(in)
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func serve(t *testing.T, h http.HandlerFunc, method, target string, body any, params map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rc := chi.NewRouteContext()
	for k, v := range params {
		rc.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rc)
	req = req.WithContext(middleware.WithAccountID(ctx, uuid.New()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestCreateJobReturnsCreated(t *testing.T) {
	var got orchestrator.CreateJobInput
	core := &stubCore{createJob: func(in orchestrator.CreateJobInput) (*models.Job, error) {
		got = in
		return &models.Job{ID: uuid.New(), AccountID: in.AccountID, Type: enums.JobTypeHCaptcha, Status: enums.JobStatusPending, Params: json.RawMessage(`{}`), CreatedAt: time.Now()}, nil
	}}

	rec, env := serve(t, CreateJob(core, nil), http.MethodPost, "/api/v1/jobs", map[string]any{
		"type":   "HCaptchaTask",
		"params": map[string]any{"website_url": "https://example.com", "website_key": "abcdefghijklmnopqrstuvwxyz"},
	}, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "HCaptchaTask", got.Type)
	assert.Equal(t, "https://example.com", got.Params.WebsiteURL)
	assert.NotEqual(t, uuid.Nil, got.AccountID)

	var job JobDTO
	require.NoError(t, json.Unmarshal(env.Data, &job))
	assert.Equal(t, enums.JobStatusPending, job.Status)
}

func TestCreateJobMapsRateLimit(t *testing.T) {
	core := &stubCore{createJob: func(orchestrator.CreateJobInput) (*models.Job, error) {
		return nil, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded").
			WithDetails(map[string]any{"retry_after_seconds": 17})
	}}

	rec, env := serve(t, CreateJob(core, nil), http.MethodPost, "/api/v1/jobs", map[string]any{"type": "HCaptchaTask"}, nil)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "17", rec.Header().Get("Retry-After"))
	assert.Equal(t, string(pkgerrors.CodeRateLimit), env.Error.Code)
}

func TestCreateJobRequiresType(t *testing.T) {
	core := &stubCore{createJob: func(orchestrator.CreateJobInput) (*models.Job, error) {
		t.Fatal("service should not be called")
		return nil, nil
	}}
	rec, env := serve(t, CreateJob(core, nil), http.MethodPost, "/api/v1/jobs", map[string]any{"params": map[string]any{}}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "is required", env.Error.Details["type"])
}

func TestRefundJobAlreadyRefundedIsOK(t *testing.T) {
	jobID := uuid.New()
	core := &stubCore{refund: func(id uuid.UUID) (*orchestrator.RefundResult, error) {
		assert.Equal(t, jobID, id)
		return &orchestrator.RefundResult{Status: enums.RefundStatusAlreadyRefunded}, nil
	}}

	rec, env := serve(t, RefundJob(core, nil), http.MethodPost, "/", nil, map[string]string{"jobId": jobID.String()})

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, "already_refunded", body["status"])
	assert.NotContains(t, body, "balance")
}

func TestRefundJobRejectsBadID(t *testing.T) {
	rec, _ := serve(t, RefundJob(&stubCore{}, nil), http.MethodPost, "/", nil, map[string]string{"jobId": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportOutcomeParsesCost(t *testing.T) {
	var got orchestrator.Outcome
	core := &stubCore{reportOutcome: func(_ uuid.UUID, o orchestrator.Outcome) (*models.Job, error) {
		got = o
		return &models.Job{ID: uuid.New(), Status: enums.JobStatusReady}, nil
	}}
	rec, _ := serve(t, ReportOutcome(core, nil), http.MethodPost, "/", map[string]any{
		"outcome": "completed",
		"result":  map[string]any{"gRecaptchaResponse": "token"},
		"cost":    "0.0035",
	}, map[string]string{"jobId": uuid.NewString()})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, enums.OutcomeCompleted, got.Kind)
	require.NotNil(t, got.Cost)
	assert.Equal(t, money.MustParse("0.0035").String(), got.Cost.String())
}

func TestReportOutcomeValidation(t *testing.T) {
	core := &stubCore{reportOutcome: func(uuid.UUID, orchestrator.Outcome) (*models.Job, error) {
		t.Fatal("service should not be called")
		return nil, nil
	}}
	for name, body := range map[string]map[string]any{
		"unknown outcome": {"outcome": "exploded"},
		"bad cost":        {"outcome": "completed", "cost": "lots"},
	} {
		rec, _ := serve(t, ReportOutcome(core, nil), http.MethodPost, "/", body, map[string]string{"jobId": uuid.NewString()})
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestReportOutcomeStateConflict(t *testing.T) {
	core := &stubCore{reportOutcome: func(uuid.UUID, orchestrator.Outcome) (*models.Job, error) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "invalid job transition")
	}}
	rec, _ := serve(t, ReportOutcome(core, nil), http.MethodPost, "/", map[string]any{"outcome": "started"}, map[string]string{"jobId": uuid.NewString()})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreditAccountRoutesKindAndDuplicate(t *testing.T) {
	accountID := uuid.New()
	var deposits, bonuses int
	core := &stubCore{
		deposit: func(in orchestrator.CreditInput) (*orchestrator.CreditResult, error) {
			deposits++
			assert.Equal(t, accountID, in.AccountID)
			assert.Equal(t, money.MustParse("25").String(), in.Amount.String())
			return &orchestrator.CreditResult{Status: enums.CreditStatusApplied, Balance: in.Amount}, nil
		},
		bonus: func(in orchestrator.CreditInput) (*orchestrator.CreditResult, error) {
			bonuses++
			return &orchestrator.CreditResult{Status: enums.CreditStatusDuplicate}, nil
		},
	}
	params := map[string]string{"accountId": accountID.String()}

	rec, _ := serve(t, CreditAccount(core, nil), http.MethodPost, "/", map[string]any{"amount": "25", "reference": "pay_1"}, params)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = serve(t, CreditAccount(core, nil), http.MethodPost, "/", map[string]any{"amount": "5", "reference": "promo", "kind": "bonus"}, params)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = serve(t, CreditAccount(core, nil), http.MethodPost, "/", map[string]any{"amount": "5", "reference": "x", "kind": "gift"}, params)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, 1, deposits)
	assert.Equal(t, 1, bonuses)
}

func TestHealthReady(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("dial tcp: refused") }

	rec, _ := serve(t, HealthReady(nil, map[string]Pinger{"database": ok, "redis": ok}), http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := serve(t, HealthReady(nil, map[string]Pinger{"database": ok, "redis": down}), http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "redis", env.Error.Details["dependency"])
}
