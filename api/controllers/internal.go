package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/angelmondragon/solverpay-backend/api/responses"
	"github.com/angelmondragon/solverpay-backend/api/validators"
	"github.com/angelmondragon/solverpay-backend/internal/orchestrator"
	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/solverpay-backend/pkg/errors"
	"github.com/angelmondragon/solverpay-backend/pkg/logger"
	"github.com/angelmondragon/solverpay-backend/pkg/money"
)

type outcomeRequest struct {
	Outcome          string          `json:"outcome" validate:"required,oneof=started completed failed"`
	Result           json.RawMessage `json:"result,omitempty"`
	Cost             *string         `json:"cost,omitempty"`
	ErrorCode        string          `json:"error_code,omitempty" validate:"max=64"`
	ErrorDescription string          `json:"error_description,omitempty" validate:"max=512"`
}

func (req outcomeRequest) toOutcome() (orchestrator.Outcome, error) {
	kind, err := enums.ParseOutcomeKind(req.Outcome)
	if err != nil {
		return orchestrator.Outcome{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown outcome")
	}
	out := orchestrator.Outcome{
		Kind:             kind,
		Result:           req.Result,
		ErrorCode:        req.ErrorCode,
		ErrorDescription: validators.SanitizeString(req.ErrorDescription, 512),
	}
	if req.Cost != nil {
		cost, err := money.Parse(*req.Cost)
		if err != nil {
			return orchestrator.Outcome{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cost").
				WithDetails(map[string]any{"cost": *req.Cost})
		}
		out.Cost = &cost
	}
	return out, nil
}

// ReportOutcome is the synchronous twin of the outcomes subscription, used by
// workers that report over HTTP.
func ReportOutcome(svc orchestrator.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := validators.ParseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body outcomeRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		outcome, err := body.toOutcome()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		job, err := svc.ReportOutcome(r.Context(), jobID, outcome)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newJobDTO(job))
	}
}

type creditRequest struct {
	Amount      string `json:"amount" validate:"required,max=32"`
	Reference   string `json:"reference" validate:"required,max=128"`
	Kind        string `json:"kind,omitempty" validate:"omitempty,oneof=deposit bonus"`
	Description string `json:"description,omitempty" validate:"max=256"`
}

type creditResponse struct {
	Status      enums.CreditStatus `json:"status"`
	Balance     money.Amount       `json:"balance"`
	Transaction *TransactionDTO    `json:"transaction,omitempty"`
}

// CreditAccount records a deposit or bonus. Replaying a reference answers
// duplicate without changing the balance.
func CreditAccount(svc orchestrator.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := validators.ParseUUIDParam(r, "accountId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body creditRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amount, err := money.Parse(body.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount"))
			return
		}

		input := orchestrator.CreditInput{
			AccountID:   accountID,
			Amount:      amount,
			Reference:   validators.SanitizeString(body.Reference, 128),
			Description: validators.SanitizeString(body.Description, 256),
		}
		credit := svc.Deposit
		if body.Kind == "bonus" {
			credit = svc.GrantBonus
		}
		result, err := credit(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if result.Status == enums.CreditStatusDuplicate {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, creditResponse{
			Status:      result.Status,
			Balance:     result.Balance,
			Transaction: newTransactionDTO(result.Transaction),
		})
	}
}
