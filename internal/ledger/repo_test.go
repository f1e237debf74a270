package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/solverpay-backend/internal/ledger"
	"github.com/angelmondragon/solverpay-backend/pkg/db/dbtest"
	"github.com/angelmondragon/solverpay-backend/pkg/db/models"
	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	"github.com/angelmondragon/solverpay-backend/pkg/money"
	"github.com/angelmondragon/solverpay-backend/pkg/pagination"
)

func TestAdjustBalance(t *testing.T) {
	client := dbtest.New(t)
	repo := ledger.NewRepository(client.DB())
	ctx := context.Background()
	account := dbtest.SeedAccount(t, client, money.MustParse("10"))

	balance, err := repo.AdjustBalance(ctx, account.ID, money.MustParse("-4"))
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("6"), balance)

	balance, err = repo.AdjustBalance(ctx, account.ID, money.MustParse("-6"))
	require.NoError(t, err)
	assert.Equal(t, money.Amount(0), balance)

	_, err = repo.AdjustBalance(ctx, account.ID, -1)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	balance, err = repo.AdjustBalance(ctx, account.ID, money.MustParse("2.5"))
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("2.5"), balance)

	_, err = repo.AdjustBalance(ctx, uuid.New(), 1)
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestAdjustBalanceInsideRolledBackTx(t *testing.T) {
	client := dbtest.New(t)
	repo := ledger.NewRepository(client.DB())
	ctx := context.Background()
	account := dbtest.SeedAccount(t, client, 100)

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := repo.WithTx(tx).AdjustBalance(ctx, account.ID, -40); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	balance, err := repo.Balance(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(100), balance)
}

func TestAppendIdempotent(t *testing.T) {
	client := dbtest.New(t)
	repo := ledger.NewRepository(client.DB())
	ctx := context.Background()
	account := dbtest.SeedAccount(t, client, 0)
	jobID := uuid.NewString()

	first, err := repo.AppendIdempotent(ctx, &models.Transaction{
		AccountID:     account.ID,
		Kind:          enums.TransactionKindDeduct,
		Amount:        -2990,
		ReferenceID:   jobID,
		ReferenceKind: enums.ReferenceKindJob,
	})
	require.NoError(t, err)
	require.True(t, first.Inserted)

	second, err := repo.AppendIdempotent(ctx, &models.Transaction{
		AccountID:     account.ID,
		Kind:          enums.TransactionKindDeduct,
		Amount:        -2990,
		ReferenceID:   jobID,
		ReferenceKind: enums.ReferenceKindJob,
	})
	require.NoError(t, err)
	assert.False(t, second.Inserted)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)

	// same reference id with a different kind is a separate entry
	refund, err := repo.AppendIdempotent(ctx, &models.Transaction{
		AccountID:     account.ID,
		Kind:          enums.TransactionKindRefund,
		Amount:        2990,
		ReferenceID:   jobID,
		ReferenceKind: enums.ReferenceKindJobRefund,
	})
	require.NoError(t, err)
	assert.True(t, refund.Inserted)
}

func TestAppendIdempotentRejectsMalformed(t *testing.T) {
	client := dbtest.New(t)
	repo := ledger.NewRepository(client.DB())
	account := dbtest.SeedAccount(t, client, 0)

	cases := map[string]*models.Transaction{
		"nil":            nil,
		"missing ref":    {AccountID: account.ID, Kind: enums.TransactionKindDeposit, Amount: 1, ReferenceKind: enums.ReferenceKindPayment},
		"positive debit": {AccountID: account.ID, Kind: enums.TransactionKindDeduct, Amount: 1, ReferenceID: "x", ReferenceKind: enums.ReferenceKindJob},
		"zero credit":    {AccountID: account.ID, Kind: enums.TransactionKindDeposit, Amount: 0, ReferenceID: "x", ReferenceKind: enums.ReferenceKindPayment},
		"unknown kind":   {AccountID: account.ID, Kind: "GIFT", Amount: 1, ReferenceID: "x", ReferenceKind: enums.ReferenceKindPayment},
	}
	for name, txn := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := repo.AppendIdempotent(context.Background(), txn)
			require.ErrorIs(t, err, ledger.ErrInvalidTransaction)
		})
	}
}

func TestRecordBalanceSnapshot(t *testing.T) {
	client := dbtest.New(t)
	repo := ledger.NewRepository(client.DB())
	ctx := context.Background()
	account := dbtest.SeedAccount(t, client, 0)

	res, err := repo.AppendIdempotent(ctx, &models.Transaction{
		AccountID:     account.ID,
		Kind:          enums.TransactionKindDeposit,
		Amount:        500,
		ReferenceID:   "pay_1",
		ReferenceKind: enums.ReferenceKindPayment,
	})
	require.NoError(t, err)
	require.NoError(t, repo.RecordBalanceSnapshot(ctx, res.Transaction.ID, 500))

	stored, err := repo.FindByReference(ctx, "pay_1", enums.ReferenceKindPayment)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(500), stored.BalanceAfter)

	require.ErrorIs(t, repo.RecordBalanceSnapshot(ctx, uuid.New(), 1), ledger.ErrTransactionNotFound)
	_, err = repo.FindByReference(ctx, "missing", enums.ReferenceKindPayment)
	require.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

func TestListByAccountPaginates(t *testing.T) {
	client := dbtest.New(t)
	repo := ledger.NewRepository(client.DB())
	ctx := context.Background()
	account := dbtest.SeedAccount(t, client, 0)
	other := dbtest.SeedAccount(t, client, 0)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, client.DB().Create(&models.Transaction{
			AccountID:     account.ID,
			Kind:          enums.TransactionKindDeposit,
			Amount:        money.Amount(i + 1),
			ReferenceID:   uuid.NewString(),
			ReferenceKind: enums.ReferenceKindPayment,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}).Error)
	}
	require.NoError(t, client.DB().Create(&models.Transaction{
		AccountID:     other.ID,
		Kind:          enums.TransactionKindBonus,
		Amount:        9,
		ReferenceID:   "grant",
		ReferenceKind: enums.ReferenceKindBonus,
		CreatedAt:     base,
	}).Error)

	position := func(t models.Transaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: t.CreatedAt, ID: t.ID}
	}

	rows, err := repo.ListByAccount(ctx, account.ID, nil, pagination.LimitWithBuffer(2))
	require.NoError(t, err)
	page := pagination.BuildPage(rows, 2, position)
	require.Len(t, page.Items, 2)
	assert.Equal(t, money.Amount(5), page.Items[0].Amount)
	require.NotEmpty(t, page.NextCursor)

	var seen []money.Amount
	for _, item := range page.Items {
		seen = append(seen, item.Amount)
	}
	for page.NextCursor != "" {
		cursor, err := pagination.ParseCursor(page.NextCursor)
		require.NoError(t, err)
		rows, err = repo.ListByAccount(ctx, account.ID, cursor, pagination.LimitWithBuffer(2))
		require.NoError(t, err)
		page = pagination.BuildPage(rows, 2, position)
		for _, item := range page.Items {
			seen = append(seen, item.Amount)
		}
	}
	assert.Equal(t, []money.Amount{5, 4, 3, 2, 1}, seen)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	client := dbtest.New(t)
	repo := ledger.NewRepository(client.DB())
	ctx := context.Background()
	account := dbtest.SeedAccount(t, client, 50)

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := client.WithTx(ctx, func(tx *gorm.DB) error {
				_, err := repo.WithTx(tx).AdjustBalance(ctx, account.ID, -10)
				return err
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	balance, err := repo.Balance(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(0), balance)
}
