// Package ledger owns account balances and the append-only transaction log.
// Every method runs against the *gorm.DB it was built with, so callers bind
// a transaction with WithTx to make balance and log changes commit together.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/solverpay-backend/pkg/db/models"
	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	"github.com/angelmondragon/solverpay-backend/pkg/money"
	"github.com/angelmondragon/solverpay-backend/pkg/pagination"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidTransaction  = errors.New("invalid transaction")
)

// AppendResult reports whether AppendIdempotent wrote a new row. On a
// duplicate, Transaction is the row already holding the reference.
type AppendResult struct {
	Transaction *models.Transaction
	Inserted    bool
}

// Repository manages balances and ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	AdjustBalance(ctx context.Context, accountID uuid.UUID, delta money.Amount) (money.Amount, error)
	AppendIdempotent(ctx context.Context, txn *models.Transaction) (AppendResult, error)
	RecordBalanceSnapshot(ctx context.Context, transactionID uuid.UUID, balance money.Amount) error
	Balance(ctx context.Context, accountID uuid.UUID) (money.Amount, error)
	FindByReference(ctx context.Context, referenceID string, kind enums.ReferenceKind) (*models.Transaction, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Transaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// AdjustBalance adds delta to the account balance in a single conditional
// update and returns the resulting balance. The update matches no row when the
// account is missing or the balance would go negative; a follow-up probe tells
// the two apart.
func (r *repository) AdjustBalance(ctx context.Context, accountID uuid.UUID, delta money.Amount) (money.Amount, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND balance + ? >= 0", accountID, int64(delta)).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance + ?", int64(delta)),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		exists, err := r.accountExists(ctx, accountID)
		if err != nil {
			return 0, err
		}
		if !exists {
			return 0, ErrAccountNotFound
		}
		return 0, ErrInsufficientFunds
	}
	return r.Balance(ctx, accountID)
}

func (r *repository) accountExists(ctx context.Context, accountID uuid.UUID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", accountID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// AppendIdempotent inserts txn unless a row with the same reference exists.
// The conflict is resolved by the database, so a duplicate never aborts an
// enclosing Postgres transaction.
func (r *repository) AppendIdempotent(ctx context.Context, txn *models.Transaction) (AppendResult, error) {
	if err := validateTransaction(txn); err != nil {
		return AppendResult{}, err
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "reference_id"}, {Name: "reference_kind"}},
			DoNothing: true,
		}).
		Create(txn)
	if res.Error != nil {
		return AppendResult{}, res.Error
	}
	if res.RowsAffected > 0 {
		return AppendResult{Transaction: txn, Inserted: true}, nil
	}

	existing, err := r.FindByReference(ctx, txn.ReferenceID, txn.ReferenceKind)
	if err != nil {
		return AppendResult{}, err
	}
	return AppendResult{Transaction: existing, Inserted: false}, nil
}

func validateTransaction(txn *models.Transaction) error {
	switch {
	case txn == nil:
		return fmt.Errorf("%w: transaction required", ErrInvalidTransaction)
	case txn.AccountID == uuid.Nil:
		return fmt.Errorf("%w: account id required", ErrInvalidTransaction)
	case !txn.Kind.IsValid():
		return fmt.Errorf("%w: kind %q", ErrInvalidTransaction, txn.Kind)
	case !txn.ReferenceKind.IsValid():
		return fmt.Errorf("%w: reference kind %q", ErrInvalidTransaction, txn.ReferenceKind)
	case txn.ReferenceID == "":
		return fmt.Errorf("%w: reference id required", ErrInvalidTransaction)
	case txn.Kind.IsCredit() && !txn.Amount.IsPositive():
		return fmt.Errorf("%w: %s amount must be positive", ErrInvalidTransaction, txn.Kind)
	case !txn.Kind.IsCredit() && txn.Amount >= 0:
		return fmt.Errorf("%w: %s amount must be negative", ErrInvalidTransaction, txn.Kind)
	}
	return nil
}

// RecordBalanceSnapshot stores the post-apply balance on an appended row.
func (r *repository) RecordBalanceSnapshot(ctx context.Context, transactionID uuid.UUID, balance money.Amount) error {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ?", transactionID).
		Update("balance_after", int64(balance))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *repository) Balance(ctx context.Context, accountID uuid.UUID) (money.Amount, error) {
	var account models.Account
	err := r.db.WithContext(ctx).
		Select("id", "balance").
		Where("id = ?", accountID).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

func (r *repository) FindByReference(ctx context.Context, referenceID string, kind enums.ReferenceKind) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Where("reference_id = ? AND reference_kind = ?", referenceID, kind).
		Take(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// ListByAccount returns newest-first entries strictly after cursor.
func (r *repository) ListByAccount(ctx context.Context, accountID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Scopes(pagination.NewestFirst(cursor)).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
