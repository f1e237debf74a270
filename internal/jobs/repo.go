// Package jobs persists jobs and enforces their lifecycle. Each transition is a
// single conditional UPDATE keyed on the allowed source states, so concurrent
// reporters race in the database and exactly one wins.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/solverpay-backend/pkg/db/models"
	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	"github.com/angelmondragon/solverpay-backend/pkg/money"
	"github.com/angelmondragon/solverpay-backend/pkg/pagination"
)

// ListFilter narrows an account's job listing.
type ListFilter struct {
	Status *enums.JobStatus
	Cursor *pagination.Cursor
	Limit  int
}

// Repository manages job persistence and state transitions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, job *models.Job) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	FindForAccount(ctx context.Context, id, accountID uuid.UUID) (*models.Job, error)
	List(ctx context.Context, accountID uuid.UUID, filter ListFilter) ([]models.Job, error)
	ListStale(ctx context.Context, status enums.JobStatus, before time.Time, limit int) ([]models.Job, error)
	Start(ctx context.Context, id uuid.UUID, at time.Time) error
	Complete(ctx context.Context, id uuid.UUID, result json.RawMessage, cost money.Amount, at time.Time) error
	Fail(ctx context.Context, id uuid.UUID, code, description string, at time.Time) error
	Redispatch(ctx context.Context, id uuid.UUID, retryCount int, at time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts job as PENDING with zero cost regardless of the fields passed in.
func (r *repository) Create(ctx context.Context, job *models.Job) error {
	if job == nil {
		return errors.New("job required")
	}
	if !job.Type.IsValid() {
		return fmt.Errorf("invalid job type %q", job.Type)
	}
	job.Status = enums.JobStatusPending
	job.Cost = 0
	job.Result = nil
	if len(job.Params) == 0 {
		job.Params = json.RawMessage(`{}`)
	}
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// FindForAccount hides jobs owned by other accounts behind ErrNotFound.
func (r *repository) FindForAccount(ctx context.Context, id, accountID uuid.UUID) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).Where("id = ? AND account_id = ?", id, accountID).Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) List(ctx context.Context, accountID uuid.UUID, filter ListFilter) ([]models.Job, error) {
	query := r.db.WithContext(ctx).Model(&models.Job{}).Where("account_id = ?", accountID)
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	var rows []models.Job
	if err := query.Scopes(pagination.NewestFirst(filter.Cursor)).Limit(filter.Limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListStale returns jobs in status whose last progress happened before the
// cutoff, oldest first. Progress is started_at once a worker picked the job up,
// otherwise updated_at, which only moves on (re)dispatch.
func (r *repository) ListStale(ctx context.Context, status enums.JobStatus, before time.Time, limit int) ([]models.Job, error) {
	var rows []models.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND COALESCE(started_at, updated_at) < ?", status, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Start(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.transition(ctx, id, enums.JobStatusProcessing, map[string]any{
		"started_at": at,
	})
}

func (r *repository) Complete(ctx context.Context, id uuid.UUID, result json.RawMessage, cost money.Amount, at time.Time) error {
	if cost < 0 {
		return fmt.Errorf("negative cost %d", cost)
	}
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}
	return r.transition(ctx, id, enums.JobStatusReady, map[string]any{
		"result":       result,
		"cost":         int64(cost),
		"completed_at": at,
	})
}

func (r *repository) Fail(ctx context.Context, id uuid.UUID, code, description string, at time.Time) error {
	return r.transition(ctx, id, enums.JobStatusFailed, map[string]any{
		"error_code":        code,
		"error_description": description,
		"completed_at":      at,
	})
}

// Redispatch bumps retry_count on a still-PENDING job. It reports false when
// the job moved on or another sweeper already bumped it.
func (r *repository) Redispatch(ctx context.Context, id uuid.UUID, retryCount int, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status = ? AND retry_count = ?", id, enums.JobStatusPending, retryCount).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"updated_at":  at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) transition(ctx context.Context, id uuid.UUID, to enums.JobStatus, fields map[string]any) error {
	fields["status"] = to
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now().UTC()
	}

	res := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status IN ?", id, sourcesFor(to)).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}
	return ErrInvalidTransition
}
