package payloads

import (
	"encoding/json"

	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	"github.com/google/uuid"
)

// JobCreatedEvent asks the execution pool to run a job. Attempt starts at 0 and
// grows each time the watchdog re-dispatches a job nobody picked up.
type JobCreatedEvent struct {
	JobID     uuid.UUID       `json:"job_id"`
	AccountID uuid.UUID       `json:"account_id"`
	Type      enums.JobType   `json:"type"`
	Params    json.RawMessage `json:"params"`
	Attempt   int             `json:"attempt"`
}

// JobSettledEvent is emitted when a job reaches READY or FAILED.
type JobSettledEvent struct {
	JobID     uuid.UUID       `json:"job_id"`
	AccountID uuid.UUID       `json:"account_id"`
	Status    enums.JobStatus `json:"status"`
	Cost      string          `json:"cost"`
	ErrorCode string          `json:"error_code,omitempty"`
}

// JobRefundedEvent is emitted once per refunded job.
type JobRefundedEvent struct {
	JobID         uuid.UUID `json:"job_id"`
	AccountID     uuid.UUID `json:"account_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Amount        string    `json:"amount"`
}

// BalanceCreditedEvent is emitted for deposits and bonus grants.
type BalanceCreditedEvent struct {
	AccountID     uuid.UUID             `json:"account_id"`
	TransactionID uuid.UUID             `json:"transaction_id"`
	Kind          enums.TransactionKind `json:"kind"`
	Amount        string                `json:"amount"`
	BalanceAfter  string                `json:"balance_after"`
	Reference     string                `json:"reference"`
}

// JobOutcomeReportedEvent is the inbound message an execution worker sends
// when it starts, finishes, or gives up on a job.
type JobOutcomeReportedEvent struct {
	JobID            uuid.UUID         `json:"job_id" validate:"required"`
	Outcome          enums.OutcomeKind `json:"outcome" validate:"required"`
	Result           json.RawMessage   `json:"result,omitempty"`
	Cost             *string           `json:"cost,omitempty"`
	ErrorCode        string            `json:"error_code,omitempty"`
	ErrorDescription string            `json:"error_description,omitempty"`
}
