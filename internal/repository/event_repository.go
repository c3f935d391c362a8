package repository

import (
	"context"

	"github.com/tryethernal/ethernal-sub004/internal/model"
	"gorm.io/gorm"
)

// EventRepository writes the append-only analytics mirrors.
type EventRepository interface {
	CreateTransactionEvent(ctx context.Context, ev *model.TransactionEvent) error
	CreateTokenTransferEvent(ctx context.Context, ev *model.TokenTransferEvent) error
	CreateTokenBalanceChangeEvent(ctx context.Context, ev *model.TokenBalanceChangeEvent) error
	DeleteTokenBalanceChangeEvents(ctx context.Context, workspaceID int64, changeIDs []int64) (int64, error)
}

type eventRepository struct {
	*Repository
}

func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{Repository: NewRepository(db)}
}

// Mirror inserts ignore an existing key so a replayed unit is harmless.

func (r *eventRepository) CreateTransactionEvent(ctx context.Context, ev *model.TransactionEvent) error {
	_, err := insertIgnore(r.DB(ctx), ev)
	return err
}

func (r *eventRepository) CreateTokenTransferEvent(ctx context.Context, ev *model.TokenTransferEvent) error {
	_, err := insertIgnore(r.DB(ctx), ev)
	return err
}

func (r *eventRepository) CreateTokenBalanceChangeEvent(ctx context.Context, ev *model.TokenBalanceChangeEvent) error {
	_, err := insertIgnore(r.DB(ctx), ev)
	return err
}

func (r *eventRepository) DeleteTokenBalanceChangeEvents(ctx context.Context, workspaceID int64, changeIDs []int64) (int64, error) {
	if len(changeIDs) == 0 {
		return 0, nil
	}
	res := r.DB(ctx).
		Where("workspace_id = ? AND token_balance_change_id IN ?", workspaceID, changeIDs).
		Delete(&model.TokenBalanceChangeEvent{})
	return res.RowsAffected, res.Error
}
