package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tryethernal/ethernal-sub004/internal/model"
	"gorm.io/gorm"
)

var ErrBlockNotFound = errors.New("block not found")

// BlockRepository 区块仓储
type BlockRepository interface {
	// CreateIfAbsent inserts the block and reports false when (workspace, number)
	// or (workspace, hash) already exists.
	CreateIfAbsent(ctx context.Context, block *model.Block) (bool, error)
	GetByNumber(ctx context.Context, workspaceID, number int64) (*model.Block, error)
	CountByWorkspace(ctx context.Context, workspaceID int64) (int64, error)
}

type blockRepository struct {
	*Repository
}

func NewBlockRepository(db *gorm.DB) BlockRepository {
	return &blockRepository{Repository: NewRepository(db)}
}

func (r *blockRepository) CreateIfAbsent(ctx context.Context, block *model.Block) (bool, error) {
	now := time.Now().UnixMilli()
	block.CreatedAt = now
	block.UpdatedAt = now
	return insertIgnore(r.DB(ctx), block)
}

func (r *blockRepository) GetByNumber(ctx context.Context, workspaceID, number int64) (*model.Block, error) {
	var block model.Block
	err := r.DB(ctx).
		Where("workspace_id = ? AND number = ?", workspaceID, number).
		First(&block).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBlockNotFound
	}
	if err != nil {
		return nil, err
	}
	return &block, nil
}

func (r *blockRepository) CountByWorkspace(ctx context.Context, workspaceID int64) (int64, error) {
	var n int64
	err := r.DB(ctx).Model(&model.Block{}).Where("workspace_id = ?", workspaceID).Count(&n).Error
	return n, err
}
