package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tryethernal/ethernal-sub004/internal/metrics"
	"github.com/tryethernal/ethernal-sub004/internal/model"
	"github.com/tryethernal/ethernal-sub004/internal/repository"
	"github.com/tryethernal/ethernal-sub004/pkg/logger"
	"go.uber.org/zap"
)

// Evidence is what a parent-chain watcher observed for a state.
type Evidence struct {
	At                  int64  `json:"at"` // ms, defaults to now
	TxHash              string `json:"txHash,omitempty"`
	BlockNumber         *int64 `json:"blockNumber,omitempty"`
	BatchSequenceNumber *int64 `json:"batchSequenceNumber,omitempty"`
	Reason              string `json:"reason,omitempty"`
}

type TransitionResult string

const (
	TransitionUpdated   TransitionResult = "updated"
	TransitionUnchanged TransitionResult = "unchanged"
)

type StateResult struct {
	Result TransitionResult
	State  *model.OrbitTransactionState
}

// OrbitService tracks rollup finality of transactions and batches.
type OrbitService struct {
	txm          repository.TxManager
	repo         repository.OrbitRepository
	transactions repository.TransactionRepository
	now          func() time.Time
}

func NewOrbitService(txm repository.TxManager, repo repository.OrbitRepository, transactions repository.TransactionRepository) *OrbitService {
	return &OrbitService{txm: txm, repo: repo, transactions: transactions, now: time.Now}
}

// RecordState moves a transaction along
//
//	SUBMITTED -> SEQUENCED -> POSTED -> CONFIRMED -> FINALIZED
//
// with FAILED reachable from any non-terminal state. Stages may be skipped
// forward. A state at or behind the current one is a no-op that only fills
// evidence still missing. Terminal states accept nothing but their own replay.
func (s *OrbitService) RecordState(ctx context.Context, transactionID int64, newState model.OrbitState, ev *Evidence) (*StateResult, error) {
	if !newState.Valid() {
		return nil, validationErr("unknown orbit state %q", newState)
	}
	if ev == nil {
		ev = &Evidence{}
	}
	if ev.TxHash != "" {
		ev.TxHash = strings.ToLower(ev.TxHash)
		if !isHash(ev.TxHash) {
			return nil, validationErr("invalid evidence tx hash %q", ev.TxHash)
		}
	}
	if ev.At == 0 {
		ev.At = s.now().UnixMilli()
	}

	var res *StateResult
	err := s.txm.Transaction(ctx, func(ctx context.Context) error {
		state, err := s.lockState(ctx, transactionID)
		if err != nil {
			return err
		}

		current := state.CurrentState
		switch {
		case current == newState:
			if current == model.OrbitStateSubmitted || current.Terminal() {
				res = &StateResult{Result: TransitionUnchanged, State: state}
				return nil
			}
		case current.Terminal():
			return fmtErr(ErrInvalidTransition, "%s -> %s on transaction %d", current, newState, transactionID)
		case newState == model.OrbitStateFailed:
		case newState == model.OrbitStateFinalized && current != model.OrbitStateConfirmed:
			return fmtErr(ErrInvalidTransition, "%s -> %s on transaction %d", current, newState, transactionID)
		}

		if newState != model.OrbitStateFailed && newState.Rank() <= current.Rank() {
			// already reached; backfill evidence only
			if s.applyEvidence(ctx, state, newState, ev) {
				if err := s.repo.SaveState(ctx, state); err != nil {
					return err
				}
			}
			res = &StateResult{Result: TransitionUnchanged, State: state}
			return nil
		}

		s.applyEvidence(ctx, state, newState, ev)
		state.CurrentState = newState
		if err := s.repo.SaveState(ctx, state); err != nil {
			return err
		}
		res = &StateResult{Result: TransitionUpdated, State: state}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			metrics.OrbitTransitionsTotal.WithLabelValues(string(newState), "rejected").Inc()
			logger.Warn("orbit transition rejected", zap.Int64("transaction_id", transactionID), zap.Error(err))
			return nil, err
		}
		return nil, classify("record orbit state", err)
	}
	metrics.OrbitTransitionsTotal.WithLabelValues(string(newState), string(res.Result)).Inc()
	return res, nil
}

// MarkFailed forces a non-terminal transaction into FAILED.
func (s *OrbitService) MarkFailed(ctx context.Context, transactionID int64, reason string) (*StateResult, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, validationErr("failure reason is required")
	}
	return s.RecordState(ctx, transactionID, model.OrbitStateFailed, &Evidence{Reason: reason})
}

func (s *OrbitService) GetState(ctx context.Context, transactionID int64) (*model.OrbitTransactionState, error) {
	state, err := s.repo.GetState(ctx, transactionID, nil)
	if err != nil && !errors.Is(err, repository.ErrOrbitStateNotFound) {
		return nil, classify("get orbit state", err)
	}
	return state, err
}

func (s *OrbitService) lockState(ctx context.Context, transactionID int64) (*model.OrbitTransactionState, error) {
	lock := &repository.QueryOptions{ForUpdate: true}
	state, err := s.repo.GetState(ctx, transactionID, lock)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, repository.ErrOrbitStateNotFound) {
		return nil, err
	}

	tx, err := s.transactions.GetByID(ctx, transactionID, nil)
	if errors.Is(err, repository.ErrTransactionNotFound) {
		return nil, fmtMissing("transaction %d not stored", transactionID)
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.CreateStateIfAbsent(ctx, &model.OrbitTransactionState{
		WorkspaceID:   tx.WorkspaceID,
		TransactionID: tx.ID,
		CurrentState:  model.OrbitStateSubmitted,
		SubmittedAt:   tx.Timestamp,
	}); err != nil {
		return nil, err
	}
	return s.repo.GetState(ctx, transactionID, lock)
}

// applyEvidence fills the still empty evidence columns of st and reports whether anything changed.
func (s *OrbitService) applyEvidence(ctx context.Context, row *model.OrbitTransactionState, st model.OrbitState, ev *Evidence) bool {
	changed := false
	setInt := func(dst **int64, v *int64) {
		if *dst == nil && v != nil {
			x := *v
			*dst = &x
			changed = true
		}
	}
	setAt := func(dst **int64) {
		if *dst == nil {
			x := ev.At
			*dst = &x
			changed = true
		}
	}
	setStr := func(dst **string, v string) {
		if *dst == nil && v != "" {
			x := v
			*dst = &x
			changed = true
		}
	}

	switch st {
	case model.OrbitStateSequenced:
		setAt(&row.SequencedAt)
		setInt(&row.SequencedBlockNumber, ev.BlockNumber)
	case model.OrbitStatePosted:
		setAt(&row.PostedAt)
		setStr(&row.PostedTxHash, ev.TxHash)
		setInt(&row.PostedBlockNumber, ev.BlockNumber)
		if row.OrbitBatchID == nil && ev.BatchSequenceNumber != nil {
			batch, err := s.repo.GetBatch(ctx, row.WorkspaceID, *ev.BatchSequenceNumber, nil)
			if err == nil {
				setInt(&row.OrbitBatchID, &batch.ID)
			} else {
				logger.Debug("batch not linked",
					zap.Int64("transaction_id", row.TransactionID),
					zap.Int64("batch_sequence_number", *ev.BatchSequenceNumber),
					zap.Error(err))
			}
		}
	case model.OrbitStateConfirmed:
		setAt(&row.ConfirmedAt)
		setStr(&row.ConfirmedTxHash, ev.TxHash)
		setInt(&row.ConfirmedBlockNumber, ev.BlockNumber)
	case model.OrbitStateFinalized:
		setAt(&row.FinalizedAt)
		setInt(&row.FinalizedBlockNumber, ev.BlockNumber)
	case model.OrbitStateFailed:
		setAt(&row.FailedAt)
		setStr(&row.FailureReason, ev.Reason)
	}
	return changed
}

// CreateBatch stores a new batch. A second delivery of the same sequence number
// is rejected and the stored row is left as first seen.
func (s *OrbitService) CreateBatch(ctx context.Context, batch *model.OrbitBatch) (*model.OrbitBatch, error) {
	if batch.WorkspaceID <= 0 || batch.BatchSequenceNumber < 0 {
		return nil, validationErr("invalid batch key (%d, %d)", batch.WorkspaceID, batch.BatchSequenceNumber)
	}
	batch.ParentChainTxHash = strings.ToLower(batch.ParentChainTxHash)
	if !isHash(batch.ParentChainTxHash) {
		return nil, validationErr("invalid parent chain tx hash %q", batch.ParentChainTxHash)
	}
	if batch.Status == "" {
		batch.Status = model.OrbitBatchPending
	}
	if batch.Status.Rank() < 0 {
		return nil, validationErr("unknown batch status %q", batch.Status)
	}
	if batch.PostedAt == 0 {
		batch.PostedAt = s.now().UnixMilli()
	}

	created, err := s.repo.CreateBatchIfAbsent(ctx, batch)
	if err != nil {
		return nil, classify("create orbit batch", err)
	}
	if !created {
		return nil, fmtErr(ErrDuplicateBatch, "workspace %d sequence %d", batch.WorkspaceID, batch.BatchSequenceNumber)
	}
	return batch, nil
}

func (s *OrbitService) GetBatch(ctx context.Context, workspaceID, sequenceNumber int64) (*model.OrbitBatch, error) {
	batch, err := s.repo.GetBatch(ctx, workspaceID, sequenceNumber, nil)
	if err != nil && !errors.Is(err, repository.ErrOrbitBatchNotFound) {
		return nil, classify("get orbit batch", err)
	}
	return batch, err
}

// UpdateBatchStatus moves a batch one step forward. Confirmed may skip
// challenged and go straight to finalized.
func (s *OrbitService) UpdateBatchStatus(ctx context.Context, workspaceID, sequenceNumber int64, status model.OrbitBatchStatus) (*model.OrbitBatch, error) {
	if status.Rank() < 0 {
		return nil, validationErr("unknown batch status %q", status)
	}

	var out *model.OrbitBatch
	err := s.txm.Transaction(ctx, func(ctx context.Context) error {
		batch, err := s.repo.GetBatch(ctx, workspaceID, sequenceNumber, &repository.QueryOptions{ForUpdate: true})
		if errors.Is(err, repository.ErrOrbitBatchNotFound) {
			return fmtMissing("batch %d of workspace %d not stored", sequenceNumber, workspaceID)
		}
		if err != nil {
			return err
		}
		out = batch
		if status == batch.Status {
			return nil
		}
		if !batchStepAllowed(batch.Status, status) {
			return fmtErr(ErrInvalidTransition, "batch %d: %s -> %s", sequenceNumber, batch.Status, status)
		}

		now := s.now().UnixMilli()
		switch status {
		case model.OrbitBatchConfirmed:
			batch.ConfirmedAt = &now
		case model.OrbitBatchChallenged:
			batch.ChallengedAt = &now
		case model.OrbitBatchFinalized:
			batch.FinalizedAt = &now
		}
		batch.Status = status
		return s.repo.SaveBatch(ctx, batch)
	})
	if err != nil {
		return nil, classify("update orbit batch", err)
	}
	return out, nil
}

func batchStepAllowed(from, to model.OrbitBatchStatus) bool {
	if from == model.OrbitBatchConfirmed && to == model.OrbitBatchFinalized {
		return true
	}
	return to.Rank() == from.Rank()+1
}

func (s *OrbitService) UpsertChainConfig(ctx context.Context, cfg *model.OrbitChainConfig) error {
	if cfg.WorkspaceID <= 0 || cfg.ParentChainID <= 0 {
		return validationErr("workspace and parent chain are required")
	}
	if cfg.ParentChainRpcServer == "" {
		return validationErr("parent chain rpc server is required")
	}
	required := map[string]*string{
		"rollup":          &cfg.RollupContract,
		"bridge":          &cfg.BridgeContract,
		"inbox":           &cfg.InboxContract,
		"sequencer inbox": &cfg.SequencerInbox,
	}
	for name, addr := range required {
		if !isAddress(*addr) {
			return validationErr("invalid %s contract %q", name, *addr)
		}
		*addr = normalizeAddress(*addr)
	}
	if cfg.OutboxContract != "" {
		if !isAddress(cfg.OutboxContract) {
			return validationErr("invalid outbox contract %q", cfg.OutboxContract)
		}
		cfg.OutboxContract = normalizeAddress(cfg.OutboxContract)
	}
	return classify("upsert orbit chain config", s.repo.UpsertChainConfig(ctx, cfg))
}

func (s *OrbitService) GetChainConfig(ctx context.Context, workspaceID int64) (*model.OrbitChainConfig, error) {
	cfg, err := s.repo.GetChainConfig(ctx, workspaceID)
	if err != nil && !errors.Is(err, repository.ErrOrbitConfigNotFound) {
		return nil, classify("get orbit chain config", err)
	}
	return cfg, err
}
