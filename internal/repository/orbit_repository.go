package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tryethernal/ethernal-sub004/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrOrbitStateNotFound  = errors.New("orbit transaction state not found")
	ErrOrbitBatchNotFound  = errors.New("orbit batch not found")
	ErrOrbitConfigNotFound = errors.New("orbit chain config not found")
)

// OrbitRepository 汇总链 (rollup) 终局性仓储
type OrbitRepository interface {
	GetState(ctx context.Context, transactionID int64, opts *QueryOptions) (*model.OrbitTransactionState, error)
	CreateStateIfAbsent(ctx context.Context, state *model.OrbitTransactionState) (bool, error)
	SaveState(ctx context.Context, state *model.OrbitTransactionState) error

	CreateBatchIfAbsent(ctx context.Context, batch *model.OrbitBatch) (bool, error)
	GetBatch(ctx context.Context, workspaceID, sequenceNumber int64, opts *QueryOptions) (*model.OrbitBatch, error)
	SaveBatch(ctx context.Context, batch *model.OrbitBatch) error

	UpsertChainConfig(ctx context.Context, cfg *model.OrbitChainConfig) error
	GetChainConfig(ctx context.Context, workspaceID int64) (*model.OrbitChainConfig, error)
}

type orbitRepository struct {
	*Repository
}

func NewOrbitRepository(db *gorm.DB) OrbitRepository {
	return &orbitRepository{Repository: NewRepository(db)}
}

func (r *orbitRepository) GetState(ctx context.Context, transactionID int64, opts *QueryOptions) (*model.OrbitTransactionState, error) {
	var state model.OrbitTransactionState
	err := opts.ApplyLock(r.DB(ctx)).Where("transaction_id = ?", transactionID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrbitStateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *orbitRepository) CreateStateIfAbsent(ctx context.Context, state *model.OrbitTransactionState) (bool, error) {
	now := time.Now().UnixMilli()
	state.CreatedAt = now
	state.UpdatedAt = now
	return insertIgnore(r.DB(ctx), state)
}

func (r *orbitRepository) SaveState(ctx context.Context, state *model.OrbitTransactionState) error {
	state.UpdatedAt = time.Now().UnixMilli()
	return r.DB(ctx).Save(state).Error
}

func (r *orbitRepository) CreateBatchIfAbsent(ctx context.Context, batch *model.OrbitBatch) (bool, error) {
	now := time.Now().UnixMilli()
	batch.CreatedAt = now
	batch.UpdatedAt = now
	return insertIgnore(r.DB(ctx), batch)
}

func (r *orbitRepository) GetBatch(ctx context.Context, workspaceID, sequenceNumber int64, opts *QueryOptions) (*model.OrbitBatch, error) {
	var batch model.OrbitBatch
	err := opts.ApplyLock(r.DB(ctx)).
		Where("workspace_id = ? AND batch_sequence_number = ?", workspaceID, sequenceNumber).
		First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrbitBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *orbitRepository) SaveBatch(ctx context.Context, batch *model.OrbitBatch) error {
	batch.UpdatedAt = time.Now().UnixMilli()
	return r.DB(ctx).Save(batch).Error
}

func (r *orbitRepository) UpsertChainConfig(ctx context.Context, cfg *model.OrbitChainConfig) error {
	now := time.Now().UnixMilli()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "workspace_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"parent_chain_id", "parent_chain_rpc_server", "rollup_contract", "bridge_contract",
			"inbox_contract", "sequencer_inbox", "outbox_contract", "updated_at",
		}),
	}).Create(cfg).Error
}

func (r *orbitRepository) GetChainConfig(ctx context.Context, workspaceID int64) (*model.OrbitChainConfig, error) {
	var cfg model.OrbitChainConfig
	err := r.DB(ctx).Where("workspace_id = ?", workspaceID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrbitConfigNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
