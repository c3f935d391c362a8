package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tryethernal/ethernal-sub004/internal/model"
	"gorm.io/gorm"
)

var ErrBalanceChangeNotFound = errors.New("token balance change not found")

// BalanceChangeKey is the logical key of a balance change within a workspace.
type BalanceChangeKey struct {
	TransactionID int64
	Token         string
	Address       string
}

// DuplicateGroup is a logical key holding more than one row.
type DuplicateGroup struct {
	BalanceChangeKey
	KeepID int64
	Total  int64
}

// TokenRepository 代币转账与余额变动仓储
type TokenRepository interface {
	CreateTransferIfAbsent(ctx context.Context, transfer *model.TokenTransfer) (bool, error)
	ListTransfersByTransaction(ctx context.Context, transactionID int64) ([]*model.TokenTransfer, error)

	FindBalanceChange(ctx context.Context, workspaceID int64, key BalanceChangeKey) (*model.TokenBalanceChange, error)
	// LatestBalance returns the current balance after the most recent change, zero when none.
	LatestBalance(ctx context.Context, workspaceID int64, token, address string) (decimal.Decimal, error)
	CreateBalanceChange(ctx context.Context, change *model.TokenBalanceChange) error
	ListBalanceChangesByTransaction(ctx context.Context, transactionID int64) ([]*model.TokenBalanceChange, error)

	FindDuplicateBalanceChanges(ctx context.Context, workspaceID int64) ([]DuplicateGroup, error)
	LockBalanceChanges(ctx context.Context, workspaceID int64, key BalanceChangeKey) ([]*model.TokenBalanceChange, error)
	DeleteBalanceChanges(ctx context.Context, ids []int64) (int64, error)
}

type tokenRepository struct {
	*Repository
}

func NewTokenRepository(db *gorm.DB) TokenRepository {
	return &tokenRepository{Repository: NewRepository(db)}
}

func (r *tokenRepository) CreateTransferIfAbsent(ctx context.Context, transfer *model.TokenTransfer) (bool, error) {
	transfer.CreatedAt = time.Now().UnixMilli()
	return insertIgnore(r.DB(ctx), transfer)
}

func (r *tokenRepository) ListTransfersByTransaction(ctx context.Context, transactionID int64) ([]*model.TokenTransfer, error) {
	var list []*model.TokenTransfer
	err := r.DB(ctx).
		Where("transaction_id = ?", transactionID).
		Order("log_index, id").
		Find(&list).Error
	return list, err
}

func (r *tokenRepository) FindBalanceChange(ctx context.Context, workspaceID int64, key BalanceChangeKey) (*model.TokenBalanceChange, error) {
	var change model.TokenBalanceChange
	err := r.DB(ctx).
		Where("workspace_id = ? AND transaction_id = ? AND token = ? AND address = ?",
			workspaceID, key.TransactionID, key.Token, key.Address).
		Order("id").
		First(&change).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBalanceChangeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &change, nil
}

func (r *tokenRepository) LatestBalance(ctx context.Context, workspaceID int64, token, address string) (decimal.Decimal, error) {
	var change model.TokenBalanceChange
	err := r.DB(ctx).
		Where("workspace_id = ? AND token = ? AND address = ?", workspaceID, token, address).
		Order("block_number DESC, id DESC").
		First(&change).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return change.CurrentBalance, nil
}

func (r *tokenRepository) CreateBalanceChange(ctx context.Context, change *model.TokenBalanceChange) error {
	change.CreatedAt = time.Now().UnixMilli()
	return r.DB(ctx).Create(change).Error
}

func (r *tokenRepository) ListBalanceChangesByTransaction(ctx context.Context, transactionID int64) ([]*model.TokenBalanceChange, error) {
	var list []*model.TokenBalanceChange
	err := r.DB(ctx).Where("transaction_id = ?", transactionID).Order("id").Find(&list).Error
	return list, err
}

func (r *tokenRepository) FindDuplicateBalanceChanges(ctx context.Context, workspaceID int64) ([]DuplicateGroup, error) {
	var rows []struct {
		TransactionID int64
		Token         string
		Address       string
		KeepID        int64
		Total         int64
	}
	err := r.DB(ctx).Model(&model.TokenBalanceChange{}).
		Select("transaction_id, token, address, MIN(id) AS keep_id, COUNT(*) AS total").
		Where("workspace_id = ?", workspaceID).
		Group("transaction_id, token, address").
		Having("COUNT(*) > 1").
		Order("keep_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	groups := make([]DuplicateGroup, 0, len(rows))
	for _, row := range rows {
		groups = append(groups, DuplicateGroup{
			BalanceChangeKey: BalanceChangeKey{TransactionID: row.TransactionID, Token: row.Token, Address: row.Address},
			KeepID:           row.KeepID,
			Total:            row.Total,
		})
	}
	return groups, nil
}

func (r *tokenRepository) LockBalanceChanges(ctx context.Context, workspaceID int64, key BalanceChangeKey) ([]*model.TokenBalanceChange, error) {
	var list []*model.TokenBalanceChange
	err := forUpdate.ApplyLock(r.DB(ctx)).
		Where("workspace_id = ? AND transaction_id = ? AND token = ? AND address = ?",
			workspaceID, key.TransactionID, key.Token, key.Address).
		Order("id").
		Find(&list).Error
	return list, err
}

func (r *tokenRepository) DeleteBalanceChanges(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.DB(ctx).Where("id IN ?", ids).Delete(&model.TokenBalanceChange{})
	return res.RowsAffected, res.Error
}
