package controllers

import (
	"net/http"

	"github.com/angelmondragon/solverpay-backend/api/middleware"
	"github.com/angelmondragon/solverpay-backend/api/responses"
	"github.com/angelmondragon/solverpay-backend/api/validators"
	"github.com/angelmondragon/solverpay-backend/internal/orchestrator"
	"github.com/angelmondragon/solverpay-backend/pkg/db/models"
	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	"github.com/angelmondragon/solverpay-backend/pkg/logger"
	"github.com/angelmondragon/solverpay-backend/pkg/money"
	"github.com/angelmondragon/solverpay-backend/pkg/pagination"
)

// createJobRequest leaves params validation to the orchestrator, which knows
// the per-type rules.
type createJobRequest struct {
	Type   string                 `json:"type" validate:"required,max=64"`
	Params orchestrator.JobParams `json:"params" validate:"-"`
}

// CreateJob submits a job for the authenticated account.
func CreateJob(svc orchestrator.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := middleware.AccountIDFromContext(r.Context())

		var body createJobRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		job, err := svc.CreateJob(r.Context(), orchestrator.CreateJobInput{
			AccountID: accountID,
			Type:      body.Type,
			Params:    body.Params,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newJobDTO(job))
	}
}

func GetJob(svc orchestrator.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := validators.ParseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		job, err := svc.GetJob(r.Context(), middleware.AccountIDFromContext(r.Context()), jobID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newJobDTO(job))
	}
}

// ListJobs pages the account's jobs newest first, optionally filtered by status.
func ListJobs(svc orchestrator.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListJobs(r.Context(), middleware.AccountIDFromContext(r.Context()), orchestrator.ListJobsInput{
			Status: validators.ParseQueryString(r, "status", 32),
			Params: pagination.Params{
				Limit:  limit,
				Cursor: validators.ParseQueryString(r, "cursor", 256),
			},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, mapPage(page.Items, page.NextCursor, func(j *models.Job) JobDTO { return newJobDTO(j) }))
	}
}

type refundResponse struct {
	Status      enums.RefundStatus `json:"status"`
	Balance     *money.Amount      `json:"balance,omitempty"`
	Transaction *TransactionDTO    `json:"transaction,omitempty"`
}

// RefundJob reports a READY result as incorrect. Repeats answer
// already_refunded with HTTP 200.
func RefundJob(svc orchestrator.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := validators.ParseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.RequestRefund(r.Context(), middleware.AccountIDFromContext(r.Context()), jobID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resp := refundResponse{Status: result.Status, Transaction: newTransactionDTO(result.Transaction)}
		if result.Status == enums.RefundStatusRefunded {
			balance := result.Balance
			resp.Balance = &balance
		}
		responses.WriteSuccess(w, resp)
	}
}

func GetBalance(svc orchestrator.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		balance, err := svc.GetBalance(r.Context(), middleware.AccountIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"balance": balance})
	}
}

func ListTransactions(svc orchestrator.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListTransactions(r.Context(), middleware.AccountIDFromContext(r.Context()), pagination.Params{
			Limit:  limit,
			Cursor: validators.ParseQueryString(r, "cursor", 256),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, mapPage(page.Items, page.NextCursor, func(t *models.Transaction) TransactionDTO {
			return *newTransactionDTO(t)
		}))
	}
}
