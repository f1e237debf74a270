package controllers

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/solverpay-backend/pkg/db/models"
	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	"github.com/angelmondragon/solverpay-backend/pkg/money"
)

// JobDTO is the public shape of a job.
type JobDTO struct {
	ID               uuid.UUID       `json:"id"`
	Type             enums.JobType   `json:"type"`
	Status           enums.JobStatus `json:"status"`
	Params           json.RawMessage `json:"params"`
	Result           json.RawMessage `json:"result,omitempty"`
	ErrorCode        *string         `json:"error_code,omitempty"`
	ErrorDescription *string         `json:"error_description,omitempty"`
	Cost             money.Amount    `json:"cost"`
	RetryCount       int             `json:"retry_count"`
	CreatedAt        time.Time       `json:"created_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

func newJobDTO(job *models.Job) JobDTO {
	return JobDTO{
		ID:               job.ID,
		Type:             job.Type,
		Status:           job.Status,
		Params:           job.Params,
		Result:           job.Result,
		ErrorCode:        job.ErrorCode,
		ErrorDescription: job.ErrorDescription,
		Cost:             job.Cost,
		RetryCount:       job.RetryCount,
		CreatedAt:        job.CreatedAt,
		StartedAt:        job.StartedAt,
		CompletedAt:      job.CompletedAt,
	}
}

type TransactionDTO struct {
	ID            uuid.UUID             `json:"id"`
	Kind          enums.TransactionKind `json:"kind"`
	Amount        money.Amount          `json:"amount"`
	BalanceAfter  money.Amount          `json:"balance_after"`
	ReferenceID   string                `json:"reference_id"`
	ReferenceKind enums.ReferenceKind   `json:"reference_kind"`
	Description   string                `json:"description,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
}

func newTransactionDTO(tx *models.Transaction) *TransactionDTO {
	if tx == nil {
		return nil
	}
	return &TransactionDTO{
		ID:            tx.ID,
		Kind:          tx.Kind,
		Amount:        tx.Amount,
		BalanceAfter:  tx.BalanceAfter,
		ReferenceID:   tx.ReferenceID,
		ReferenceKind: tx.ReferenceKind,
		Description:   tx.Description,
		CreatedAt:     tx.CreatedAt,
	}
}

type pageDTO[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

func mapPage[S, T any](items []S, next string, convert func(*S) T) pageDTO[T] {
	out := make([]T, 0, len(items))
	for i := range items {
		out = append(out, convert(&items[i]))
	}
	return pageDTO[T]{Items: out, NextCursor: next}
}
