// Package orchestrator composes the job state machine, the ledger and the rate
// gate into the billing operations exposed to clients and execution workers.
// Every state change that touches money commits in one database transaction
// together with the outbox event describing it.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/solverpay-backend/internal/jobs"
	"github.com/angelmondragon/solverpay-backend/internal/ledger"
	"github.com/angelmondragon/solverpay-backend/internal/ratelimit"
	"github.com/angelmondragon/solverpay-backend/pkg/config"
	"github.com/angelmondragon/solverpay-backend/pkg/db/models"
	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/solverpay-backend/pkg/errors"
	"github.com/angelmondragon/solverpay-backend/pkg/logger"
	"github.com/angelmondragon/solverpay-backend/pkg/metrics"
	"github.com/angelmondragon/solverpay-backend/pkg/money"
	"github.com/angelmondragon/solverpay-backend/pkg/outbox"
	"github.com/angelmondragon/solverpay-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/solverpay-backend/pkg/pagination"
)

// Service is the billing core consumed by the HTTP API, the outcome consumer,
// the watchdog and the admin CLI.
type Service interface {
	CreateJob(ctx context.Context, input CreateJobInput) (*models.Job, error)
	GetJob(ctx context.Context, accountID, jobID uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, accountID uuid.UUID, input ListJobsInput) (*pagination.Page[models.Job], error)
	ReportOutcome(ctx context.Context, jobID uuid.UUID, outcome Outcome) (*models.Job, error)
	RequestRefund(ctx context.Context, accountID, jobID uuid.UUID) (*RefundResult, error)
	GetBalance(ctx context.Context, accountID uuid.UUID) (money.Amount, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*pagination.Page[models.Transaction], error)
	Deposit(ctx context.Context, input CreditInput) (*CreditResult, error)
	GrantBonus(ctx context.Context, input CreditInput) (*CreditResult, error)
	Redispatch(ctx context.Context, jobID uuid.UUID, retryCount int) (bool, error)
	PriceFor(jobType enums.JobType) money.Amount
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// CreateJobInput is a client's job submission.
type CreateJobInput struct {
	AccountID uuid.UUID
	Type      string
	Params    JobParams
}

type ListJobsInput struct {
	Status string
	pagination.Params
}

// Outcome is what an execution worker reports about a job. Cost is only read
// for completed outcomes; nil falls back to the price book.
type Outcome struct {
	Kind             enums.OutcomeKind
	Result           json.RawMessage
	Cost             *money.Amount
	ErrorCode        string
	ErrorDescription string
}

type RefundResult struct {
	Status      enums.RefundStatus
	Transaction *models.Transaction
	Balance     money.Amount
}

// CreditInput funds an account. Reference is the external payment or grant id
// and makes the credit idempotent.
type CreditInput struct {
	AccountID   uuid.UUID
	Amount      money.Amount
	Reference   string
	Description string
}

type CreditResult struct {
	Status      enums.CreditStatus
	Transaction *models.Transaction
	Balance     money.Amount
}

// ServiceParams bundles the dependencies required to build the orchestrator.
type ServiceParams struct {
	Jobs      jobs.Repository
	Ledger    ledger.Repository
	Tx        txRunner
	Outbox    outbox.Emitter
	Gate      ratelimit.Gate
	Prices    *PriceBook
	RateLimit config.RateLimitConfig
	Metrics   *metrics.BillingMetrics
	Logger    *logger.Logger
}

type service struct {
	jobs      jobs.Repository
	ledger    ledger.Repository
	tx        txRunner
	outbox    outbox.Emitter
	gate      ratelimit.Gate
	prices    *PriceBook
	rateLimit config.RateLimitConfig
	metrics   *metrics.BillingMetrics
	logg      *logger.Logger
	now       func() time.Time
}

var errDuplicateCharge = errors.New("job already charged")

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Jobs == nil:
		return nil, fmt.Errorf("jobs repository required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Gate == nil:
		return nil, fmt.Errorf("rate gate required")
	case params.Prices == nil:
		return nil, fmt.Errorf("price book required")
	}
	return &service{
		jobs:      params.Jobs,
		ledger:    params.Ledger,
		tx:        params.Tx,
		outbox:    params.Outbox,
		gate:      params.Gate,
		prices:    params.Prices,
		rateLimit: params.RateLimit,
		metrics:   params.Metrics,
		logg:      params.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) PriceFor(jobType enums.JobType) money.Amount {
	return s.prices.PriceFor(jobType)
}

func (s *service) CreateJob(ctx context.Context, input CreateJobInput) (*models.Job, error) {
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "account required")
	}
	jobType, err := enums.ParseJobType(input.Type)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported job type").
			WithDetails(map[string]any{"type": input.Type, "supported": enums.JobTypes()})
	}
	params, err := normalizeParams(jobType, input.Params)
	if err != nil {
		return nil, err
	}

	if err := s.admit(ctx, input.AccountID); err != nil {
		return nil, err
	}

	price := s.prices.PriceFor(jobType)
	balance, err := s.ledger.Balance(ctx, input.AccountID)
	if err != nil {
		return nil, mapLedgerError(err, "load balance")
	}
	if balance < price {
		return nil, insufficientBalance(balance, price)
	}

	job := &models.Job{
		AccountID: input.AccountID,
		Type:      jobType,
		Params:    params,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.jobs.WithTx(tx).Create(ctx, job); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create job")
		}
		return s.emit(ctx, tx, enums.EventJobCreated, enums.AggregateJob, job.ID, job.AccountID, payloads.JobCreatedEvent{
			JobID:     job.ID,
			AccountID: job.AccountID,
			Type:      job.Type,
			Params:    job.Params,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.JobCreated(string(job.Type))
	if s.logg != nil {
		logCtx := s.logg.WithJobID(s.logg.WithAccountID(ctx, job.AccountID.String()), job.ID.String())
		s.logg.Info(logCtx, "job created")
	}
	return job, nil
}

func (s *service) admit(ctx context.Context, accountID uuid.UUID) error {
	decision, err := s.gate.Allow(ctx, accountID.String(), s.rateLimit.PerMinute, s.rateLimit.Window)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiter unavailable")
	}
	if decision.Allowed {
		return nil
	}
	s.metrics.RateLimited()
	seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded").
		WithDetails(map[string]any{"retry_after_seconds": seconds})
}

func (s *service) GetJob(ctx context.Context, accountID, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.jobs.FindForAccount(ctx, jobID, accountID)
	if err != nil {
		return nil, mapJobError(err, "load job")
	}
	return job, nil
}

func (s *service) ListJobs(ctx context.Context, accountID uuid.UUID, input ListJobsInput) (*pagination.Page[models.Job], error) {
	filter := jobs.ListFilter{Limit: pagination.LimitWithBuffer(input.Limit)}
	if input.Status != "" {
		status, err := enums.ParseJobStatus(input.Status)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		filter.Status = &status
	}
	cursor, err := pagination.ParseCursor(input.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	filter.Cursor = cursor

	rows, err := s.jobs.List(ctx, accountID, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list jobs")
	}
	page := pagination.BuildPage(rows, input.Limit, func(j models.Job) pagination.Cursor {
		return pagination.Cursor{CreatedAt: j.CreatedAt, ID: j.ID}
	})
	return &page, nil
}

func (s *service) ReportOutcome(ctx context.Context, jobID uuid.UUID, outcome Outcome) (*models.Job, error) {
	if jobID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "job id required")
	}
	if s.logg != nil {
		ctx = s.logg.WithJobID(ctx, jobID.String())
	}

	switch outcome.Kind {
	case enums.OutcomeStarted, enums.OutcomeCompleted, enums.OutcomeFailed:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown outcome").
			WithDetails(map[string]any{"outcome": outcome.Kind})
	}

	// an error here means nothing committed, including the reload
	var job *models.Job
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		switch outcome.Kind {
		case enums.OutcomeStarted:
			err = s.jobs.WithTx(tx).Start(ctx, jobID, s.now())
		case enums.OutcomeCompleted:
			err = s.complete(ctx, tx, jobID, outcome)
		case enums.OutcomeFailed:
			err = s.fail(ctx, tx, jobID, outcome)
		}
		if err != nil {
			return err
		}
		job, err = s.jobs.WithTx(tx).FindByID(ctx, jobID)
		return err
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) && s.logg != nil {
			s.logg.Warn(ctx, "job completed but account cannot cover the charge")
		}
		return nil, s.reportTransitionError(ctx, string(outcome.Kind), err)
	}
	if outcome.Kind != enums.OutcomeStarted {
		s.metrics.JobSettled(string(job.Status))
	}
	return job, nil
}

// complete charges the job exactly once: the state transition, the balance
// debit and the DEDUCT entry commit together or not at all.
func (s *service) complete(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, outcome Outcome) error {
	jobsRepo := s.jobs.WithTx(tx)
	ledgerRepo := s.ledger.WithTx(tx)

	job, err := jobsRepo.FindByID(ctx, jobID)
	if err != nil {
		return err
	}
	price := s.prices.PriceFor(job.Type)
	if outcome.Cost != nil {
		price = *outcome.Cost
	}
	if price < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "cost must not be negative")
	}

	if err := jobsRepo.Complete(ctx, jobID, outcome.Result, price, s.now()); err != nil {
		return err
	}

	if price > 0 {
		balance, err := ledgerRepo.AdjustBalance(ctx, job.AccountID, price.Neg())
		if err != nil {
			return err
		}
		res, err := ledgerRepo.AppendIdempotent(ctx, &models.Transaction{
			AccountID:     job.AccountID,
			Kind:          enums.TransactionKindDeduct,
			Amount:        price.Neg(),
			BalanceAfter:  balance,
			ReferenceID:   jobID.String(),
			ReferenceKind: enums.ReferenceKindJob,
			Description:   fmt.Sprintf("%s job", job.Type),
		})
		if err != nil {
			return err
		}
		if !res.Inserted {
			return errDuplicateCharge
		}
	}

	return s.emit(ctx, tx, enums.EventJobSettled, enums.AggregateJob, job.ID, job.AccountID, payloads.JobSettledEvent{
		JobID:     job.ID,
		AccountID: job.AccountID,
		Status:    enums.JobStatusReady,
		Cost:      price.String(),
	})
}

func (s *service) fail(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, outcome Outcome) error {
	code := outcome.ErrorCode
	if code == "" {
		code = "ERROR_UNKNOWN"
	}
	jobsRepo := s.jobs.WithTx(tx)
	job, err := jobsRepo.FindByID(ctx, jobID)
	if err != nil {
		return err
	}
	if err := jobsRepo.Fail(ctx, jobID, code, outcome.ErrorDescription, s.now()); err != nil {
		return err
	}
	return s.emit(ctx, tx, enums.EventJobSettled, enums.AggregateJob, job.ID, job.AccountID, payloads.JobSettledEvent{
		JobID:     job.ID,
		AccountID: job.AccountID,
		Status:    enums.JobStatusFailed,
		Cost:      money.Amount(0).String(),
		ErrorCode: code,
	})
}

// reportTransitionError maps failures from ReportOutcome. Illegal transitions
// are logged at error level since they mean a worker and the core disagree.
func (s *service) reportTransitionError(ctx context.Context, operation string, err error) error {
	switch {
	case errors.Is(err, jobs.ErrInvalidTransition), errors.Is(err, errDuplicateCharge):
		s.metrics.InvalidTransition(operation)
		if s.logg != nil {
			s.logg.Error(s.logg.WithField(ctx, "operation", operation), "rejected job transition", err)
		}
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "job cannot move to the reported state")
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return pkgerrors.Wrap(pkgerrors.CodeInsufficientBalance, err, "insufficient balance")
	case errors.Is(err, jobs.ErrNotFound):
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "job not found")
	}
	return mapLedgerError(err, "report outcome")
}

// RequestRefund returns the charge for a READY job. The REFUND entry is
// appended first so a concurrent second request finds the reference taken.
func (s *service) RequestRefund(ctx context.Context, accountID, jobID uuid.UUID) (*RefundResult, error) {
	result := &RefundResult{}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ledgerRepo := s.ledger.WithTx(tx)

		job, err := s.jobs.WithTx(tx).FindForAccount(ctx, jobID, accountID)
		if err != nil {
			return mapJobError(err, "load job")
		}
		if job.Status != enums.JobStatusReady || !job.Cost.IsPositive() {
			result.Status = enums.RefundStatusNotEligible
			return nil
		}

		appended, err := ledgerRepo.AppendIdempotent(ctx, &models.Transaction{
			AccountID:     job.AccountID,
			Kind:          enums.TransactionKindRefund,
			Amount:        job.Cost,
			ReferenceID:   job.ID.String(),
			ReferenceKind: enums.ReferenceKindJobRefund,
			Description:   "refund for incorrect result",
		})
		if err != nil {
			return mapLedgerError(err, "append refund")
		}
		result.Transaction = appended.Transaction
		if !appended.Inserted {
			result.Status = enums.RefundStatusAlreadyRefunded
			return nil
		}

		balance, err := ledgerRepo.AdjustBalance(ctx, job.AccountID, job.Cost)
		if err != nil {
			return mapLedgerError(err, "credit refund")
		}
		if err := ledgerRepo.RecordBalanceSnapshot(ctx, appended.Transaction.ID, balance); err != nil {
			return mapLedgerError(err, "record refund balance")
		}
		appended.Transaction.BalanceAfter = balance
		result.Status = enums.RefundStatusRefunded
		result.Balance = balance

		return s.emit(ctx, tx, enums.EventJobRefunded, enums.AggregateJob, job.ID, job.AccountID, payloads.JobRefundedEvent{
			JobID:         job.ID,
			AccountID:     job.AccountID,
			TransactionID: appended.Transaction.ID,
			Amount:        job.Cost.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Refund(string(result.Status))
	return result, nil
}

func (s *service) GetBalance(ctx context.Context, accountID uuid.UUID) (money.Amount, error) {
	balance, err := s.ledger.Balance(ctx, accountID)
	if err != nil {
		return 0, mapLedgerError(err, "load balance")
	}
	return balance, nil
}

func (s *service) ListTransactions(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*pagination.Page[models.Transaction], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.ledger.ListByAccount(ctx, accountID, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}
	page := pagination.BuildPage(rows, params.Limit, func(t models.Transaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: t.CreatedAt, ID: t.ID}
	})
	return &page, nil
}

func (s *service) Deposit(ctx context.Context, input CreditInput) (*CreditResult, error) {
	return s.credit(ctx, enums.TransactionKindDeposit, enums.ReferenceKindPayment, input)
}

func (s *service) GrantBonus(ctx context.Context, input CreditInput) (*CreditResult, error) {
	return s.credit(ctx, enums.TransactionKindBonus, enums.ReferenceKindBonus, input)
}

func (s *service) credit(ctx context.Context, kind enums.TransactionKind, refKind enums.ReferenceKind, input CreditInput) (*CreditResult, error) {
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.Reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference required")
	}

	result := &CreditResult{}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ledgerRepo := s.ledger.WithTx(tx)
		appended, err := ledgerRepo.AppendIdempotent(ctx, &models.Transaction{
			AccountID:     input.AccountID,
			Kind:          kind,
			Amount:        input.Amount,
			ReferenceID:   input.Reference,
			ReferenceKind: refKind,
			Description:   input.Description,
		})
		if err != nil {
			return err
		}
		result.Transaction = appended.Transaction
		if !appended.Inserted {
			if appended.Transaction.AccountID != input.AccountID {
				return pkgerrors.New(pkgerrors.CodeConflict, "reference already used by another account")
			}
			result.Status = enums.CreditStatusDuplicate
			result.Balance = appended.Transaction.BalanceAfter
			return nil
		}

		balance, err := ledgerRepo.AdjustBalance(ctx, input.AccountID, input.Amount)
		if err != nil {
			return err
		}
		if err := ledgerRepo.RecordBalanceSnapshot(ctx, appended.Transaction.ID, balance); err != nil {
			return err
		}
		appended.Transaction.BalanceAfter = balance
		result.Status = enums.CreditStatusApplied
		result.Balance = balance

		return s.emit(ctx, tx, enums.EventBalanceCredited, enums.AggregateAccount, input.AccountID, input.AccountID, payloads.BalanceCreditedEvent{
			AccountID:     input.AccountID,
			TransactionID: appended.Transaction.ID,
			Kind:          kind,
			Amount:        input.Amount.String(),
			BalanceAfter:  balance.String(),
			Reference:     input.Reference,
		})
	})
	if err != nil {
		return nil, mapLedgerError(err, "apply credit")
	}

	s.metrics.Credit(string(kind), string(result.Status))
	if s.logg != nil {
		logCtx := s.logg.WithFields(s.logg.WithAccountID(ctx, input.AccountID.String()), map[string]any{
			"kind":      kind,
			"reference": input.Reference,
			"status":    result.Status,
		})
		s.logg.Info(logCtx, "balance credit processed")
	}
	return result, nil
}

// Redispatch re-emits job_created for a PENDING job that no worker picked up.
// It reports false when the job already moved on.
func (s *service) Redispatch(ctx context.Context, jobID uuid.UUID, retryCount int) (bool, error) {
	bumped := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		jobsRepo := s.jobs.WithTx(tx)
		ok, err := jobsRepo.Redispatch(ctx, jobID, retryCount, s.now())
		if err != nil || !ok {
			return err
		}
		job, err := jobsRepo.FindByID(ctx, jobID)
		if err != nil {
			return err
		}
		bumped = true
		return s.emit(ctx, tx, enums.EventJobCreated, enums.AggregateJob, job.ID, job.AccountID, payloads.JobCreatedEvent{
			JobID:     job.ID,
			AccountID: job.AccountID,
			Type:      job.Type,
			Params:    job.Params,
			Attempt:   job.RetryCount,
		})
	})
	if err != nil {
		return false, mapJobError(err, "redispatch job")
	}
	return bumped, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, aggregateID, accountID uuid.UUID, data any) error {
	actor := &outbox.ActorRef{AccountID: &accountID}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: aggregate,
		AggregateID:   aggregateID,
		Actor:         actor,
		Data:          data,
		OccurredAt:    s.now(),
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit outbox event")
	}
	return nil
}

func insufficientBalance(balance, price money.Amount) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient balance").
		WithDetails(map[string]any{"balance": balance.String(), "price": price.String()})
}

func mapJobError(err error, action string) error {
	if pkgErr := pkgerrors.As(err); pkgErr != nil {
		return pkgErr
	}
	if errors.Is(err, jobs.ErrNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "job not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}

func mapLedgerError(err error, action string) error {
	if pkgErr := pkgerrors.As(err); pkgErr != nil {
		return pkgErr
	}
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return pkgerrors.Wrap(pkgerrors.CodeInsufficientBalance, err, "insufficient balance")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}
