package service

import (
	"context"

	"github.com/tryethernal/ethernal-sub004/internal/metrics"
	"github.com/tryethernal/ethernal-sub004/internal/repository"
	"github.com/tryethernal/ethernal-sub004/pkg/logger"
	"go.uber.org/zap"
)

// DedupService removes balance changes that share (transaction, token, address),
// keeping the lowest id. Each group is repaired in its own transaction under
// row locks so it can run beside live ingestion.
type DedupService struct {
	txm    repository.TxManager
	tokens repository.TokenRepository
	events repository.EventRepository
}

func NewDedupService(txm repository.TxManager, tokens repository.TokenRepository, events repository.EventRepository) *DedupService {
	return &DedupService{txm: txm, tokens: tokens, events: events}
}

// Reconcile returns the number of rows removed.
func (s *DedupService) Reconcile(ctx context.Context, workspaceID int64) (int, error) {
	groups, err := s.tokens.FindDuplicateBalanceChanges(ctx, workspaceID)
	if err != nil {
		return 0, classify("find duplicate balance changes", err)
	}

	removed := 0
	for _, g := range groups {
		n, err := s.repairGroup(ctx, workspaceID, g.BalanceChangeKey)
		if err != nil {
			return removed, classify("repair duplicate balance changes", err)
		}
		removed += n
	}

	if removed > 0 {
		metrics.DedupRowsRemovedTotal.Add(float64(removed))
		logger.Info("duplicate balance changes removed",
			zap.Int64("workspace_id", workspaceID),
			zap.Int("groups", len(groups)),
			zap.Int("removed", removed))
	}
	return removed, nil
}

func (s *DedupService) repairGroup(ctx context.Context, workspaceID int64, key repository.BalanceChangeKey) (int, error) {
	removed := 0
	err := s.txm.Transaction(ctx, func(ctx context.Context) error {
		rows, err := s.tokens.LockBalanceChanges(ctx, workspaceID, key)
		if err != nil {
			return err
		}
		// a concurrent run may have repaired it already
		if len(rows) < 2 {
			return nil
		}
		ids := make([]int64, 0, len(rows)-1)
		for _, r := range rows[1:] {
			ids = append(ids, r.ID)
		}
		if _, err := s.events.DeleteTokenBalanceChangeEvents(ctx, workspaceID, ids); err != nil {
			return err
		}
		n, err := s.tokens.DeleteBalanceChanges(ctx, ids)
		if err != nil {
			return err
		}
		removed = int(n)
		return nil
	})
	return removed, err
}

// ReconcileAll runs Reconcile for each workspace and stops at the first failure.
func (s *DedupService) ReconcileAll(ctx context.Context, workspaceIDs []int64) (int, error) {
	total := 0
	for _, id := range workspaceIDs {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.Reconcile(ctx, id)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
