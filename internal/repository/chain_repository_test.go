package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tryethernal/ethernal-sub004/internal/model"
	"github.com/tryethernal/ethernal-sub004/internal/testutil"
)

const (
	hashA = "0x1111111111111111111111111111111111111111111111111111111111111111"
	hashB = "0x2222222222222222222222222222222222222222222222222222222222222222"
	addrA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	addrB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	token = "0xcccccccccccccccccccccccccccccccccccccccc"
)

func TestBlockRepository_CreateIfAbsent(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ws := testutil.SeedWorkspace(t, db, 1, "")
	repo := NewBlockRepository(db)
	ctx := context.Background()

	first := &model.Block{WorkspaceID: ws.ID, Number: 10, Hash: hashA, ParentHash: hashB, Timestamp: 1000}
	created, err := repo.CreateIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, first.ID)

	again := &model.Block{WorkspaceID: ws.ID, Number: 10, Hash: hashA, ParentHash: hashB, Timestamp: 1000}
	created, err = repo.CreateIfAbsent(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)

	n, err := repo.CountByWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.GetByNumber(ctx, ws.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = repo.GetByNumber(ctx, ws.ID, 11)
	assert.ErrorIs(t, err, ErrBlockNotFound)
}

func TestBlockRepository_CreateIfAbsent_Postgres(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	repo := NewBlockRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "blocks" .* ON CONFLICT DO NOTHING RETURNING "id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	created, err := repo.CreateIfAbsent(context.Background(), &model.Block{WorkspaceID: 1, Number: 5, Hash: hashA})
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepository_ReceiptsAndLogs(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ws := testutil.SeedWorkspace(t, db, 1, "")
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	tx := &model.Transaction{WorkspaceID: ws.ID, BlockNumber: 1, BlockHash: hashB, Hash: hashA, From: addrA, Value: decimal.NewFromInt(5)}
	created, err := repo.CreateIfAbsent(ctx, tx)
	require.NoError(t, err)
	require.True(t, created)

	created, err = repo.CreateIfAbsent(ctx, &model.Transaction{WorkspaceID: ws.ID, BlockNumber: 1, BlockHash: hashB, Hash: hashA, From: addrA})
	require.NoError(t, err)
	assert.False(t, created)

	receipt := &model.TransactionReceipt{WorkspaceID: ws.ID, TransactionID: tx.ID, TransactionHash: hashA, BlockNumber: 1, Status: 1}
	created, err = repo.CreateReceiptIfAbsent(ctx, receipt)
	require.NoError(t, err)
	require.True(t, created)

	logs := []*model.TransactionLog{
		{WorkspaceID: ws.ID, TransactionReceiptID: receipt.ID, TransactionID: tx.ID, LogIndex: 0, Address: token, Topics: model.StringList{hashA}},
		{WorkspaceID: ws.ID, TransactionReceiptID: receipt.ID, TransactionID: tx.ID, LogIndex: 1, Address: token, Topics: model.StringList{hashB}},
	}
	require.NoError(t, repo.CreateLogs(ctx, logs))
	require.NoError(t, repo.CreateLogs(ctx, []*model.TransactionLog{
		{WorkspaceID: ws.ID, TransactionReceiptID: receipt.ID, TransactionID: tx.ID, LogIndex: 1, Address: token, Topics: model.StringList{}},
	}))

	stored, err := repo.ListLogsByReceipt(ctx, receipt.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, model.StringList{hashB}, stored[1].Topics)

	require.NoError(t, repo.MarkBilled(ctx, []int64{tx.ID}))
	got, err := repo.GetByID(ctx, tx.ID, forUpdate)
	require.NoError(t, err)
	assert.True(t, got.Billed)
	assert.True(t, got.Value.Equal(decimal.NewFromInt(5)))

	_, err = repo.GetReceiptByTransactionID(ctx, tx.ID+100)
	assert.ErrorIs(t, err, ErrReceiptNotFound)
}

func TestTokenRepository_DuplicateGroups(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewTokenRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.CreateBalanceChange(ctx, &model.TokenBalanceChange{
			WorkspaceID: 1, TransactionID: 7, Token: token, Address: addrA,
			PreviousBalance: decimal.Zero, CurrentBalance: decimal.NewFromInt(10), Diff: decimal.NewFromInt(10),
		}))
	}
	require.NoError(t, repo.CreateBalanceChange(ctx, &model.TokenBalanceChange{
		WorkspaceID: 1, TransactionID: 7, Token: token, Address: addrB,
		PreviousBalance: decimal.Zero, CurrentBalance: decimal.NewFromInt(1), Diff: decimal.NewFromInt(1),
	}))

	groups, err := repo.FindDuplicateBalanceChanges(ctx, 1)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, int64(3), groups[0].Total)
	assert.Equal(t, addrA, groups[0].Address)

	rows, err := repo.LockBalanceChanges(ctx, 1, groups[0].BalanceChangeKey)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, groups[0].KeepID, rows[0].ID)

	deleted, err := repo.DeleteBalanceChanges(ctx, []int64{rows[1].ID, rows[2].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	groups, err = repo.FindDuplicateBalanceChanges(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, groups)

	balance, err := repo.LatestBalance(ctx, 1, token, addrB)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(1)))

	balance, err = repo.LatestBalance(ctx, 1, token, "0x0000000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestTokenRepository_TransferNaturalKey(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewTokenRepository(db)
	ctx := context.Background()

	transfer := func(logIndex int) *model.TokenTransfer {
		return &model.TokenTransfer{
			WorkspaceID: 1, TransactionID: 3, LogIndex: logIndex, Token: token,
			Src: addrA, Dst: addrB, Amount: decimal.NewFromInt(1), Standard: "erc20",
		}
	}

	created, err := repo.CreateTransferIfAbsent(ctx, transfer(0))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreateTransferIfAbsent(ctx, transfer(0))
	require.NoError(t, err)
	assert.False(t, created)

	created, err = repo.CreateTransferIfAbsent(ctx, transfer(1))
	require.NoError(t, err)
	assert.True(t, created)

	list, err := repo.ListTransfersByTransaction(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
