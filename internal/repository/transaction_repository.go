package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tryethernal/ethernal-sub004/internal/model"
	"gorm.io/gorm"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrReceiptNotFound     = errors.New("transaction receipt not found")
)

// TransactionRepository persists transactions with their receipts and logs.
type TransactionRepository interface {
	CreateIfAbsent(ctx context.Context, tx *model.Transaction) (bool, error)
	GetByHash(ctx context.Context, workspaceID int64, hash string) (*model.Transaction, error)
	GetByID(ctx context.Context, id int64, opts *QueryOptions) (*model.Transaction, error)
	ListByBlock(ctx context.Context, workspaceID, blockNumber int64) ([]*model.Transaction, error)
	MarkBilled(ctx context.Context, ids []int64) error

	CreateReceiptIfAbsent(ctx context.Context, receipt *model.TransactionReceipt) (bool, error)
	GetReceiptByTransactionID(ctx context.Context, transactionID int64) (*model.TransactionReceipt, error)

	CreateLogs(ctx context.Context, logs []*model.TransactionLog) error
	ListLogsByReceipt(ctx context.Context, receiptID int64) ([]*model.TransactionLog, error)
}

type transactionRepository struct {
	*Repository
}

func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{Repository: NewRepository(db)}
}

func (r *transactionRepository) CreateIfAbsent(ctx context.Context, tx *model.Transaction) (bool, error) {
	now := time.Now().UnixMilli()
	tx.CreatedAt = now
	tx.UpdatedAt = now
	return insertIgnore(r.DB(ctx), tx)
}

func (r *transactionRepository) GetByHash(ctx context.Context, workspaceID int64, hash string) (*model.Transaction, error) {
	var tx model.Transaction
	err := r.DB(ctx).Where("workspace_id = ? AND hash = ?", workspaceID, hash).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) GetByID(ctx context.Context, id int64, opts *QueryOptions) (*model.Transaction, error) {
	var tx model.Transaction
	err := opts.ApplyLock(r.DB(ctx)).Where("id = ?", id).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) ListByBlock(ctx context.Context, workspaceID, blockNumber int64) ([]*model.Transaction, error) {
	var list []*model.Transaction
	err := r.DB(ctx).
		Where("workspace_id = ? AND block_number = ?", workspaceID, blockNumber).
		Order("transaction_index").
		Find(&list).Error
	return list, err
}

func (r *transactionRepository) MarkBilled(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.DB(ctx).Model(&model.Transaction{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"billed":     true,
			"updated_at": time.Now().UnixMilli(),
		}).Error
}

func (r *transactionRepository) CreateReceiptIfAbsent(ctx context.Context, receipt *model.TransactionReceipt) (bool, error) {
	receipt.CreatedAt = time.Now().UnixMilli()
	return insertIgnore(r.DB(ctx), receipt)
}

func (r *transactionRepository) GetReceiptByTransactionID(ctx context.Context, transactionID int64) (*model.TransactionReceipt, error) {
	var receipt model.TransactionReceipt
	err := r.DB(ctx).Where("transaction_id = ?", transactionID).First(&receipt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (r *transactionRepository) CreateLogs(ctx context.Context, logs []*model.TransactionLog) error {
	if len(logs) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	for _, l := range logs {
		l.CreatedAt = now
	}
	_, err := insertIgnore(r.DB(ctx), logs)
	return err
}

func (r *transactionRepository) ListLogsByReceipt(ctx context.Context, receiptID int64) ([]*model.TransactionLog, error) {
	var list []*model.TransactionLog
	err := r.DB(ctx).
		Where("transaction_receipt_id = ?", receiptID).
		Order("log_index").
		Find(&list).Error
	return list, err
}
