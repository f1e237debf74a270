package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	"github.com/angelmondragon/solverpay-backend/pkg/money"
)

// Account is a billing identity. Balance only changes alongside a Transaction row.
type Account struct {
	ID           uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Email        string              `gorm:"column:email;type:text;not null;uniqueIndex:ux_accounts_email"`
	Status       enums.AccountStatus `gorm:"column:status;type:text;not null;default:active"`
	Balance      money.Amount        `gorm:"column:balance;not null;default:0;check:chk_accounts_balance_non_negative,balance >= 0"`
	APIKeyPrefix string              `gorm:"column:api_key_prefix;type:text;not null;uniqueIndex:ux_accounts_api_key_prefix"`
	APIKeyHash   string              `gorm:"column:api_key_hash;type:text;not null"`
	LastUsedAt   *time.Time          `gorm:"column:last_used_at"`
	CreatedAt    time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *Account) BeforeCreate(*gorm.DB) error {
	assignID(&a.ID)
	return nil
}
