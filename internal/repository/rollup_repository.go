package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
)

const dayMs = int64(24 * time.Hour / time.Millisecond)

// RollupRepository recomputes aggregate tables from the event mirrors. Each refresh
// replaces the rows of the requested range inside one transaction.
type RollupRepository interface {
	RefreshTransactionDaily(ctx context.Context, r TimeRange) (int64, error)
	RefreshTokenTransferDaily(ctx context.Context, r TimeRange) (int64, error)
	RefreshActiveWallets(ctx context.Context, day int64) (int64, error)
}

type rollupRepository struct {
	*Repository
}

func NewRollupRepository(db *gorm.DB) RollupRepository {
	return &rollupRepository{Repository: NewRepository(db)}
}

// DayStart truncates a ms timestamp to 00:00 UTC.
func DayStart(ts int64) int64 {
	return ts - ts%dayMs
}

func (r *rollupRepository) replace(ctx context.Context, deleteSQL, insertSQL string, deleteArgs, insertArgs []interface{}) (int64, error) {
	var affected int64
	err := r.Transaction(ctx, func(ctx context.Context) error {
		if err := r.DB(ctx).Exec(deleteSQL, deleteArgs...).Error; err != nil {
			return err
		}
		res := r.DB(ctx).Exec(insertSQL, insertArgs...)
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}

func (r *rollupRepository) RefreshTransactionDaily(ctx context.Context, tr TimeRange) (int64, error) {
	from, to := DayStart(tr.Start), DayStart(tr.End)+dayMs
	now := time.Now().UnixMilli()
	return r.replace(ctx,
		`DELETE FROM transaction_events_daily WHERE day >= ? AND day < ?`,
		`INSERT INTO transaction_events_daily (workspace_id, day, transaction_count, unique_sender_count, gas_used, updated_at)
		SELECT workspace_id, ("timestamp" / 86400000) * 86400000, COUNT(*), COUNT(DISTINCT "from"), COALESCE(SUM(gas_used), 0), ?
		FROM transaction_events
		WHERE "timestamp" >= ? AND "timestamp" < ?
		GROUP BY workspace_id, ("timestamp" / 86400000) * 86400000`,
		[]interface{}{from, to},
		[]interface{}{now, from, to},
	)
}

func (r *rollupRepository) RefreshTokenTransferDaily(ctx context.Context, tr TimeRange) (int64, error) {
	from, to := DayStart(tr.Start), DayStart(tr.End)+dayMs
	now := time.Now().UnixMilli()
	return r.replace(ctx,
		`DELETE FROM token_transfer_events_daily WHERE day >= ? AND day < ?`,
		`INSERT INTO token_transfer_events_daily (workspace_id, day, token, transfer_count, volume, updated_at)
		SELECT workspace_id, ("timestamp" / 86400000) * 86400000, token, COUNT(*), COALESCE(SUM(amount), 0), ?
		FROM token_transfer_events
		WHERE "timestamp" >= ? AND "timestamp" < ?
		GROUP BY workspace_id, ("timestamp" / 86400000) * 86400000, token`,
		[]interface{}{from, to},
		[]interface{}{now, from, to},
	)
}

// RefreshActiveWallets counts distinct addresses with a balance change in the 14 days ending with day.
func (r *rollupRepository) RefreshActiveWallets(ctx context.Context, day int64) (int64, error) {
	day = DayStart(day)
	from, to := day-13*dayMs, day+dayMs
	now := time.Now().UnixMilli()
	return r.replace(ctx,
		`DELETE FROM active_wallets_14d WHERE day = ?`,
		`INSERT INTO active_wallets_14d (workspace_id, day, wallet_count, updated_at)
		SELECT workspace_id, ?, COUNT(DISTINCT address), ?
		FROM token_balance_change_events
		WHERE "timestamp" >= ? AND "timestamp" < ?
		GROUP BY workspace_id`,
		[]interface{}{day},
		[]interface{}{day, now, from, to},
	)
}
