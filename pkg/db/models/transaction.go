package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	"github.com/angelmondragon/solverpay-backend/pkg/money"
)

// Transaction is an immutable ledger entry. (reference_id, reference_kind) is
// unique across the ledger and acts as the idempotency key.
type Transaction struct {
	ID            uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	AccountID     uuid.UUID             `gorm:"column:account_id;type:uuid;not null;index:idx_transactions_account_created,priority:1"`
	Kind          enums.TransactionKind `gorm:"column:kind;type:text;not null"`
	Amount        money.Amount          `gorm:"column:amount;not null"`
	BalanceAfter  money.Amount          `gorm:"column:balance_after;not null;default:0"`
	ReferenceID   string                `gorm:"column:reference_id;type:text;not null;uniqueIndex:ux_transactions_reference,priority:1"`
	ReferenceKind enums.ReferenceKind   `gorm:"column:reference_kind;type:text;not null;uniqueIndex:ux_transactions_reference,priority:2"`
	Description   string                `gorm:"column:description;type:text;not null;default:''"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime;index:idx_transactions_account_created,priority:2"`
}

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	assignID(&t.ID)
	return nil
}
