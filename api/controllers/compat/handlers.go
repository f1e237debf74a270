// Package compat serves the anti-captcha compatible API: credentials travel in
// the JSON body and every answer is HTTP 200 with an errorId envelope.
package compat

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/solverpay-backend/api/responses"
	"github.com/angelmondragon/solverpay-backend/api/validators"
	"github.com/angelmondragon/solverpay-backend/internal/orchestrator"
	"github.com/angelmondragon/solverpay-backend/pkg/db/models"
	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	"github.com/angelmondragon/solverpay-backend/pkg/logger"
)

type authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*models.Account, error)
}

// Handlers groups the compat endpoints around their shared dependencies.
type Handlers struct {
	accounts authenticator
	core     orchestrator.Service
	logg     *logger.Logger
}

func NewHandlers(accounts authenticator, core orchestrator.Service, logg *logger.Logger) *Handlers {
	return &Handlers{accounts: accounts, core: core, logg: logg}
}

type taskBody struct {
	Type          string   `json:"type"`
	WebsiteURL    string   `json:"websiteURL"`
	WebsiteKey    string   `json:"websiteKey"`
	WebsiteDomain string   `json:"websiteDomain,omitempty"`
	IsEnterprise  bool     `json:"isEnterprise,omitempty"`
	PageAction    string   `json:"pageAction,omitempty"`
	MinScore      *float64 `json:"minScore,omitempty"`
}

type createTaskRequest struct {
	ClientKey string    `json:"clientKey"`
	Task      *taskBody `json:"task"`
}

type createTaskResponse struct {
	Envelope
	TaskID string `json:"taskId,omitempty"`
}

func (h *Handlers) CreateTask() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createTaskRequest
		if err := validators.DecodeLenientJSONBody(r, &req); err != nil || req.Task == nil || strings.TrimSpace(req.Task.Type) == "" {
			h.fail(r.Context(), w, ErrorMissingParam, err)
			return
		}
		account, ok := h.authenticate(r.Context(), w, req.ClientKey)
		if !ok {
			return
		}

		job, err := h.core.CreateJob(r.Context(), orchestrator.CreateJobInput{
			AccountID: account.ID,
			Type:      req.Task.Type,
			Params: orchestrator.JobParams{
				WebsiteURL:    req.Task.WebsiteURL,
				WebsiteKey:    req.Task.WebsiteKey,
				WebsiteDomain: req.Task.WebsiteDomain,
				IsEnterprise:  req.Task.IsEnterprise,
				PageAction:    req.Task.PageAction,
				MinScore:      req.Task.MinScore,
			},
		})
		if err != nil {
			h.fail(r.Context(), w, errorIDFor(err, ErrorInvalidTaskType), err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, createTaskResponse{TaskID: job.ID.String()})
	}
}

type taskRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    string `json:"taskId"`
}

type taskResultResponse struct {
	Envelope
	Status     string          `json:"status,omitempty"`
	Solution   json.RawMessage `json:"solution,omitempty"`
	Cost       *float64        `json:"cost,omitempty"`
	CreateTime int64           `json:"createTime,omitempty"`
	EndTime    int64           `json:"endTime,omitempty"`
}

func (h *Handlers) GetTaskResult() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, jobID, ok := h.decodeTaskRequest(w, r)
		if !ok {
			return
		}
		job, err := h.core.GetJob(r.Context(), account.ID, jobID)
		if err != nil {
			h.fail(r.Context(), w, errorIDFor(err, ErrorNoSuchTask), err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, taskResult(job))
	}
}

func taskResult(job *models.Job) taskResultResponse {
	switch job.Status {
	case enums.JobStatusReady:
		cost := job.Cost.Float64()
		resp := taskResultResponse{
			Status:     "ready",
			Solution:   job.Result,
			Cost:       &cost,
			CreateTime: job.CreatedAt.Unix(),
		}
		if job.CompletedAt != nil {
			resp.EndTime = job.CompletedAt.Unix()
		}
		return resp
	case enums.JobStatusFailed:
		resp := taskResultResponse{Envelope: errorEnvelope(ErrorUnsolvable)}
		if job.ErrorCode != nil && *job.ErrorCode != "" {
			resp.ErrorCode = *job.ErrorCode
		}
		if job.ErrorDescription != nil && *job.ErrorDescription != "" {
			resp.ErrorDescription = *job.ErrorDescription
		}
		return resp
	default:
		return taskResultResponse{Status: "processing"}
	}
}

type balanceRequest struct {
	ClientKey string `json:"clientKey"`
}

type balanceResponse struct {
	Envelope
	Balance *float64 `json:"balance,omitempty"`
}

func (h *Handlers) GetBalance() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req balanceRequest
		if err := validators.DecodeLenientJSONBody(r, &req); err != nil {
			h.fail(r.Context(), w, ErrorMissingParam, err)
			return
		}
		account, ok := h.authenticate(r.Context(), w, req.ClientKey)
		if !ok {
			return
		}
		balance, err := h.core.GetBalance(r.Context(), account.ID)
		if err != nil {
			h.fail(r.Context(), w, errorIDFor(err, ErrorInternal), err)
			return
		}
		value := balance.Float64()
		responses.WriteJSON(w, http.StatusOK, balanceResponse{Balance: &value})
	}
}

type reportResponse struct {
	Envelope
	Status string `json:"status,omitempty"`
}

// ReportIncorrect refunds a solved task. A second report answers
// already_refunded; unsolved or free tasks answer not_eligible.
func (h *Handlers) ReportIncorrect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, jobID, ok := h.decodeTaskRequest(w, r)
		if !ok {
			return
		}
		result, err := h.core.RequestRefund(r.Context(), account.ID, jobID)
		if err != nil {
			h.fail(r.Context(), w, errorIDFor(err, ErrorNoSuchTask), err)
			return
		}
		status := string(result.Status)
		if result.Status == enums.RefundStatusRefunded {
			status = "success"
		}
		responses.WriteJSON(w, http.StatusOK, reportResponse{Status: status})
	}
}

// Reject renders middleware rejections (per-IP throttling, limiter outages)
// in the compat envelope.
func (h *Handlers) Reject(w http.ResponseWriter, r *http.Request, err error) {
	h.fail(r.Context(), w, errorIDFor(err, ErrorInternal), err)
}

func (h *Handlers) decodeTaskRequest(w http.ResponseWriter, r *http.Request) (*models.Account, uuid.UUID, bool) {
	var req taskRequest
	if err := validators.DecodeLenientJSONBody(r, &req); err != nil || strings.TrimSpace(req.TaskID) == "" {
		h.fail(r.Context(), w, ErrorMissingParam, err)
		return nil, uuid.Nil, false
	}
	account, ok := h.authenticate(r.Context(), w, req.ClientKey)
	if !ok {
		return nil, uuid.Nil, false
	}
	jobID, err := uuid.Parse(strings.TrimSpace(req.TaskID))
	if err != nil {
		h.fail(r.Context(), w, ErrorNoSuchTask, nil)
		return nil, uuid.Nil, false
	}
	return account, jobID, true
}

func (h *Handlers) authenticate(ctx context.Context, w http.ResponseWriter, clientKey string) (*models.Account, bool) {
	if strings.TrimSpace(clientKey) == "" {
		h.fail(ctx, w, ErrorMissingParam, nil)
		return nil, false
	}
	account, err := h.accounts.Authenticate(ctx, clientKey)
	if err != nil {
		h.fail(ctx, w, errorIDFor(err, ErrorInvalidKey), err)
		return nil, false
	}
	return account, true
}

func (h *Handlers) fail(ctx context.Context, w http.ResponseWriter, id int, err error) {
	if h.logg != nil && err != nil {
		logCtx := h.logg.WithField(ctx, "error_id", id)
		if id == ErrorInternal {
			h.logg.Error(logCtx, "compat.request.error", err)
		} else {
			h.logg.Warn(h.logg.WithField(logCtx, "error", err.Error()), "compat.request.rejected")
		}
	}
	responses.WriteJSON(w, http.StatusOK, errorEnvelope(id))
}
