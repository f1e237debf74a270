package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	"github.com/angelmondragon/solverpay-backend/pkg/money"
)

// Job is one billable unit of work. Rows are never deleted.
type Job struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	AccountID        uuid.UUID       `gorm:"column:account_id;type:uuid;not null;index:idx_jobs_account_created,priority:1"`
	Type             enums.JobType   `gorm:"column:type;type:text;not null"`
	Params           json.RawMessage `gorm:"column:params;type:jsonb;not null"`
	Status           enums.JobStatus `gorm:"column:status;type:text;not null;index:idx_jobs_status_created,priority:1"`
	Result           json.RawMessage `gorm:"column:result;type:jsonb"`
	ErrorCode        *string         `gorm:"column:error_code"`
	ErrorDescription *string         `gorm:"column:error_description"`
	Cost             money.Amount    `gorm:"column:cost;not null;default:0"`
	RetryCount       int             `gorm:"column:retry_count;not null;default:0"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime;index:idx_jobs_account_created,priority:2;index:idx_jobs_status_created,priority:2"`
	StartedAt        *time.Time      `gorm:"column:started_at"`
	CompletedAt      *time.Time      `gorm:"column:completed_at"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (j *Job) BeforeCreate(*gorm.DB) error {
	assignID(&j.ID)
	return nil
}
