package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tryethernal/ethernal-sub004/internal/metrics"
	"github.com/tryethernal/ethernal-sub004/internal/model"
	"github.com/tryethernal/ethernal-sub004/internal/repository"
	"github.com/tryethernal/ethernal-sub004/pkg/logger"
	"go.uber.org/zap"
)

type IngestStatus string

const (
	IngestStatusIngested        IngestStatus = "ingested"
	IngestStatusAlreadyIngested IngestStatus = "already_ingested"
	IngestStatusQuotaExceeded   IngestStatus = "quota_exceeded"
)

// IngestResult summarises one committed ingestion unit.
type IngestResult struct {
	UnitID                string       `json:"unit_id"`
	Status                IngestStatus `json:"status"`
	BlockID               int64        `json:"block_id"`
	BlockCreated          bool         `json:"block_created"`
	NewTransactions       int          `json:"new_transactions"`
	DuplicateTransactions int          `json:"duplicate_transactions"`
	TokenTransfers        int          `json:"token_transfers"`
	BalanceChanges        int          `json:"balance_changes"`
	BilledTransactions    int          `json:"billed_transactions"`
}

// ChainGate decides whether a chain may be ingested at all.
type ChainGate interface {
	IsForbidden(ctx context.Context, chainID int64) (bool, error)
}

// Projector mirrors primary rows into the analytics tables.
type Projector interface {
	Project(ctx context.Context, f Fact) error
}

// Admitter meters billable transactions.
type Admitter interface {
	Admit(ctx context.Context, workspaceID int64, txCount int64) (*Admission, error)
}

// IngestionService 链数据写入. Every call is one storage transaction: either the
// block with all its transactions, receipts, logs, derived rows and mirrors
// commits, or nothing does.
type IngestionService struct {
	txm          repository.TxManager
	workspaces   repository.WorkspaceRepository
	blocks       repository.BlockRepository
	transactions repository.TransactionRepository
	tokens       repository.TokenRepository
	projector    Projector
	quota        Admitter
	chains       ChainGate
}

func NewIngestionService(
	txm repository.TxManager,
	workspaces repository.WorkspaceRepository,
	blocks repository.BlockRepository,
	transactions repository.TransactionRepository,
	tokens repository.TokenRepository,
	projector Projector,
	quota Admitter,
	chains ChainGate,
) *IngestionService {
	return &IngestionService{
		txm:          txm,
		workspaces:   workspaces,
		blocks:       blocks,
		transactions: transactions,
		tokens:       tokens,
		projector:    projector,
		quota:        quota,
		chains:       chains,
	}
}

// txBundle is a validated transaction with its receipt and logs.
type txBundle struct {
	tx      *model.Transaction
	receipt *model.TransactionReceipt
	logs    []*model.TransactionLog
}

// IngestBlock stores one block's worth of chain data. Redelivering the same
// payload is a no-op that reports already_ingested.
func (s *IngestionService) IngestBlock(ctx context.Context, req *IngestBlockRequest) (*IngestResult, error) {
	start := time.Now()
	res, err := s.ingestBlock(ctx, req)
	s.observe(res, err, start)
	return res, err
}

func (s *IngestionService) ingestBlock(ctx context.Context, req *IngestBlockRequest) (*IngestResult, error) {
	if req == nil {
		return nil, validationErr("empty request")
	}
	block, err := buildBlock(req.WorkspaceID, &req.Block)
	if err != nil {
		return nil, err
	}
	bundles, err := buildBundles(req.WorkspaceID, block, req.Transactions, req.Receipts)
	if err != nil {
		return nil, err
	}
	if err := s.admitWorkspace(ctx, req.WorkspaceID); err != nil {
		return nil, err
	}

	res := &IngestResult{UnitID: uuid.NewString(), Status: IngestStatusIngested}
	ctx = logger.NewContext(ctx, zap.String("unit_id", res.UnitID), zap.Int64("workspace_id", req.WorkspaceID))

	err = s.txm.Transaction(ctx, func(ctx context.Context) error {
		created, err := s.blocks.CreateIfAbsent(ctx, block)
		if err != nil {
			return err
		}
		if !created {
			stored, err := s.blocks.GetByNumber(ctx, block.WorkspaceID, block.Number)
			if errors.Is(err, repository.ErrBlockNotFound) {
				return validationErr("block hash %s already stored under another number", block.Hash)
			}
			if err != nil {
				return err
			}
			if stored.Hash != block.Hash {
				return validationErr("block %d already stored with hash %s, got %s", block.Number, stored.Hash, block.Hash)
			}
			block = stored
		}
		res.BlockID = block.ID
		res.BlockCreated = created
		return s.writeUnit(ctx, req.WorkspaceID, bundles, res)
	})
	if err != nil {
		return nil, classify("ingest block", err)
	}

	s.finish(ctx, res)
	logger.WithContext(ctx).Debug("block ingested",
		zap.Int64("block_number", block.Number),
		zap.String("status", string(res.Status)),
		zap.Int("new_transactions", res.NewTransactions),
		zap.Int("token_transfers", res.TokenTransfers))
	return res, nil
}

// IngestTransactions stores transactions of a block that is already committed.
// A missing block is reported as a missing dependency so the caller redelivers.
func (s *IngestionService) IngestTransactions(ctx context.Context, req *IngestTransactionsRequest) (*IngestResult, error) {
	start := time.Now()
	res, err := s.ingestTransactions(ctx, req)
	s.observe(res, err, start)
	return res, err
}

func (s *IngestionService) ingestTransactions(ctx context.Context, req *IngestTransactionsRequest) (*IngestResult, error) {
	if req == nil {
		return nil, validationErr("empty request")
	}
	if len(req.Transactions) == 0 {
		return nil, validationErr("no transactions")
	}
	if err := s.admitWorkspace(ctx, req.WorkspaceID); err != nil {
		return nil, err
	}

	res := &IngestResult{UnitID: uuid.NewString(), Status: IngestStatusIngested}
	ctx = logger.NewContext(ctx, zap.String("unit_id", res.UnitID), zap.Int64("workspace_id", req.WorkspaceID))

	err := s.txm.Transaction(ctx, func(ctx context.Context) error {
		block, err := s.blocks.GetByNumber(ctx, req.WorkspaceID, req.BlockNumber)
		if errors.Is(err, repository.ErrBlockNotFound) {
			return fmtMissing("block %d not stored yet", req.BlockNumber)
		}
		if err != nil {
			return err
		}
		bundles, err := buildBundles(req.WorkspaceID, block, req.Transactions, req.Receipts)
		if err != nil {
			return err
		}
		res.BlockID = block.ID
		return s.writeUnit(ctx, req.WorkspaceID, bundles, res)
	})
	if err != nil {
		return nil, classify("ingest transactions", err)
	}

	s.finish(ctx, res)
	return res, nil
}

func (s *IngestionService) admitWorkspace(ctx context.Context, workspaceID int64) error {
	ws, err := s.workspaces.GetByID(ctx, workspaceID)
	if errors.Is(err, repository.ErrWorkspaceNotFound) {
		return validationErr("unknown workspace %d", workspaceID)
	}
	if err != nil {
		return classify("load workspace", err)
	}
	if s.chains == nil {
		return nil
	}
	forbidden, err := s.chains.IsForbidden(ctx, ws.ChainID)
	if err != nil {
		return classify("check chain policy", err)
	}
	if forbidden {
		return fmtErr(ErrForbiddenChain, "chain %d of workspace %d", ws.ChainID, workspaceID)
	}
	return nil
}

// writeUnit writes the primary rows, then admits and derives the transactions
// that have not been billed yet.
func (s *IngestionService) writeUnit(ctx context.Context, workspaceID int64, bundles []*txBundle, res *IngestResult) error {
	var unbilled []*txBundle

	for _, b := range bundles {
		created, err := s.transactions.CreateIfAbsent(ctx, b.tx)
		if err != nil {
			return err
		}
		if created {
			res.NewTransactions++
		} else {
			stored, err := s.transactions.GetByHash(ctx, workspaceID, b.tx.Hash)
			if err != nil {
				return err
			}
			if stored.BlockNumber != b.tx.BlockNumber {
				return validationErr("transaction %s already stored in block %d", b.tx.Hash, stored.BlockNumber)
			}
			b.tx = stored
			res.DuplicateTransactions++
		}

		b.receipt.TransactionID = b.tx.ID
		receiptCreated, err := s.transactions.CreateReceiptIfAbsent(ctx, b.receipt)
		if err != nil {
			return err
		}
		if !receiptCreated {
			if b.receipt, err = s.transactions.GetReceiptByTransactionID(ctx, b.tx.ID); err != nil {
				return err
			}
		}

		for _, l := range b.logs {
			l.TransactionReceiptID = b.receipt.ID
			l.TransactionID = b.tx.ID
		}
		if err := s.transactions.CreateLogs(ctx, b.logs); err != nil {
			return err
		}
		if !receiptCreated {
			// derive from what is stored, not from the redelivered payload
			if b.logs, err = s.transactions.ListLogsByReceipt(ctx, b.receipt.ID); err != nil {
				return err
			}
		}

		if created {
			if err := s.projector.Project(ctx, TransactionFact{Transaction: b.tx, GasUsed: b.receipt.GasUsed}); err != nil {
				return err
			}
		}
		if !b.tx.Billed {
			unbilled = append(unbilled, b)
		}
	}

	unbilled, err := s.lockUnbilled(ctx, unbilled)
	if err != nil {
		return err
	}
	if len(unbilled) == 0 {
		return nil
	}

	adm, err := s.quota.Admit(ctx, workspaceID, int64(len(unbilled)))
	if err != nil {
		return err
	}
	if !adm.Admitted {
		// primary rows still commit; derivation waits for a redelivery in a later window
		res.Status = IngestStatusQuotaExceeded
		return nil
	}

	ids := make([]int64, 0, len(unbilled))
	for _, b := range unbilled {
		if err := s.derive(ctx, b, res); err != nil {
			return err
		}
		ids = append(ids, b.tx.ID)
	}
	if err := s.transactions.MarkBilled(ctx, ids); err != nil {
		return err
	}
	res.BilledTransactions += len(ids)
	return nil
}

// lockUnbilled locks the candidate rows in id order and drops any that a
// concurrent unit billed in the meantime.
func (s *IngestionService) lockUnbilled(ctx context.Context, bundles []*txBundle) ([]*txBundle, error) {
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].tx.ID < bundles[j].tx.ID })
	out := bundles[:0]
	for _, b := range bundles {
		locked, err := s.transactions.GetByID(ctx, b.tx.ID, &repository.QueryOptions{ForUpdate: true})
		if err != nil {
			return nil, err
		}
		if locked.Billed {
			continue
		}
		b.tx = locked
		out = append(out, b)
	}
	return out, nil
}

// derive writes token transfers and balance changes for one locked transaction.
// Reverted transactions move no tokens.
func (s *IngestionService) derive(ctx context.Context, b *txBundle, res *IngestResult) error {
	if b.receipt.Status != 1 {
		return nil
	}

	transfers := decodeTransfers(b.tx, b.logs)
	for _, t := range transfers {
		row := &model.TokenTransfer{
			WorkspaceID:   b.tx.WorkspaceID,
			TransactionID: b.tx.ID,
			LogIndex:      t.LogIndex,
			Token:         t.Token,
			TokenID:       t.TokenID,
			Src:           t.Src,
			Dst:           t.Dst,
			Amount:        t.Amount,
			Standard:      t.Standard,
			Timestamp:     b.tx.Timestamp,
		}
		created, err := s.tokens.CreateTransferIfAbsent(ctx, row)
		if err != nil {
			return err
		}
		if !created {
			continue
		}
		if err := s.projector.Project(ctx, TokenTransferFact{Transfer: row}); err != nil {
			return err
		}
		res.TokenTransfers++
	}

	for _, d := range netBalanceDeltas(transfers) {
		key := repository.BalanceChangeKey{TransactionID: b.tx.ID, Token: d.Token, Address: d.Address}
		_, err := s.tokens.FindBalanceChange(ctx, b.tx.WorkspaceID, key)
		if err == nil {
			continue
		}
		if !errors.Is(err, repository.ErrBalanceChangeNotFound) {
			return err
		}

		prev, err := s.tokens.LatestBalance(ctx, b.tx.WorkspaceID, d.Token, d.Address)
		if err != nil {
			return err
		}
		change := &model.TokenBalanceChange{
			WorkspaceID:     b.tx.WorkspaceID,
			TransactionID:   b.tx.ID,
			Token:           d.Token,
			Address:         d.Address,
			PreviousBalance: prev,
			CurrentBalance:  prev.Add(d.Diff),
			Diff:            d.Diff,
			BlockNumber:     b.tx.BlockNumber,
			Timestamp:       b.tx.Timestamp,
		}
		if err := s.tokens.CreateBalanceChange(ctx, change); err != nil {
			return err
		}
		if err := s.projector.Project(ctx, BalanceChangeFact{Change: change}); err != nil {
			return err
		}
		res.BalanceChanges++
	}
	return nil
}

func (s *IngestionService) finish(ctx context.Context, res *IngestResult) {
	if res.Status == IngestStatusIngested && !res.BlockCreated && res.NewTransactions == 0 &&
		res.BilledTransactions == 0 && res.TokenTransfers == 0 && res.BalanceChanges == 0 {
		res.Status = IngestStatusAlreadyIngested
	}
	if res.Status == IngestStatusQuotaExceeded {
		logger.WithContext(ctx).Warn("derivation withheld, quota exceeded",
			zap.Int64("block_id", res.BlockID),
			zap.Int("new_transactions", res.NewTransactions))
	}
	metrics.RecordDerived(res.TokenTransfers, res.BalanceChanges)
}

func (s *IngestionService) observe(res *IngestResult, err error, start time.Time) {
	result := "error"
	switch {
	case err == nil:
		result = string(res.Status)
	case errors.Is(err, ErrValidation), errors.Is(err, ErrForbiddenChain):
		result = "rejected"
	case IsRetryable(err):
		result = "retryable"
	}
	metrics.RecordIngestion(result, time.Since(start).Seconds())
}

func buildBlock(workspaceID int64, p *BlockPayload) (*model.Block, error) {
	if workspaceID <= 0 {
		return nil, validationErr("invalid workspace id %d", workspaceID)
	}
	if p.Number < 0 {
		return nil, validationErr("negative block number %d", p.Number)
	}
	hash := strings.ToLower(p.Hash)
	if !isHash(hash) {
		return nil, validationErr("invalid block hash %q", p.Hash)
	}
	parent := strings.ToLower(p.ParentHash)
	if !isHash(parent) {
		return nil, validationErr("invalid parent hash %q", p.ParentHash)
	}
	miner := ""
	if p.Miner != "" {
		if !isAddress(p.Miner) {
			return nil, validationErr("invalid miner %q", p.Miner)
		}
		miner = normalizeAddress(p.Miner)
	}
	if p.Timestamp < 0 {
		return nil, validationErr("negative block timestamp %d", p.Timestamp)
	}

	gasLimit, err := parseQuantity(p.GasLimit)
	if err != nil {
		return nil, err
	}
	gasUsed, err := parseQuantity(p.GasUsed)
	if err != nil {
		return nil, err
	}
	baseFee, err := parseQuantity(p.BaseFeePerGas)
	if err != nil {
		return nil, err
	}

	return &model.Block{
		WorkspaceID:   workspaceID,
		Number:        p.Number,
		Hash:          hash,
		ParentHash:    parent,
		Miner:         miner,
		GasLimit:      gasLimit,
		GasUsed:       gasUsed,
		BaseFeePerGas: baseFee,
		Timestamp:     p.Timestamp * 1000,
		Metadata:      model.JSONMap(p.Metadata),
	}, nil
}

// buildBundles validates transactions against their block and pairs each with
// exactly one receipt.
func buildBundles(workspaceID int64, block *model.Block, txs []TransactionPayload, receipts []ReceiptPayload) ([]*txBundle, error) {
	if len(receipts) != len(txs) {
		return nil, validationErr("%d transactions but %d receipts", len(txs), len(receipts))
	}
	byHash := make(map[string]*ReceiptPayload, len(receipts))
	for i := range receipts {
		h := strings.ToLower(receipts[i].TransactionHash)
		if _, dup := byHash[h]; dup {
			return nil, validationErr("duplicate receipt for %s", h)
		}
		byHash[h] = &receipts[i]
	}

	seen := make(map[string]struct{}, len(txs))
	bundles := make([]*txBundle, 0, len(txs))
	for i := range txs {
		p := &txs[i]
		tx, err := buildTransaction(workspaceID, block, p)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[tx.Hash]; dup {
			return nil, validationErr("duplicate transaction %s", tx.Hash)
		}
		seen[tx.Hash] = struct{}{}

		rp, ok := byHash[tx.Hash]
		if !ok {
			return nil, validationErr("missing receipt for %s", tx.Hash)
		}
		receipt, logs, err := buildReceipt(workspaceID, tx, rp)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, &txBundle{tx: tx, receipt: receipt, logs: logs})
	}
	return bundles, nil
}

func buildTransaction(workspaceID int64, block *model.Block, p *TransactionPayload) (*model.Transaction, error) {
	hash := strings.ToLower(p.Hash)
	if !isHash(hash) {
		return nil, validationErr("invalid transaction hash %q", p.Hash)
	}
	if p.BlockNumber != block.Number {
		return nil, validationErr("transaction %s belongs to block %d, not %d", hash, p.BlockNumber, block.Number)
	}
	if p.BlockHash != "" && strings.ToLower(p.BlockHash) != block.Hash {
		return nil, validationErr("transaction %s block hash %s does not match %s", hash, p.BlockHash, block.Hash)
	}
	if !isAddress(p.From) {
		return nil, validationErr("invalid sender %q on %s", p.From, hash)
	}
	var to *string
	if p.To != nil && *p.To != "" {
		if !isAddress(*p.To) {
			return nil, validationErr("invalid recipient %q on %s", *p.To, hash)
		}
		addr := normalizeAddress(*p.To)
		to = &addr
	}
	if p.TransactionIndex < 0 || p.Nonce < 0 {
		return nil, validationErr("negative index or nonce on %s", hash)
	}

	value, err := parseQuantity(p.Value)
	if err != nil {
		return nil, err
	}
	gasPrice, err := parseQuantity(p.GasPrice)
	if err != nil {
		return nil, err
	}
	gasLimit, err := parseQuantity(p.GasLimit)
	if err != nil {
		return nil, err
	}

	return &model.Transaction{
		WorkspaceID:      workspaceID,
		BlockNumber:      block.Number,
		BlockHash:        block.Hash,
		Hash:             hash,
		TransactionIndex: p.TransactionIndex,
		From:             normalizeAddress(p.From),
		To:               to,
		Value:            value,
		Nonce:            p.Nonce,
		GasPrice:         gasPrice,
		GasLimit:         gasLimit,
		Input:            p.Input,
		Timestamp:        block.Timestamp,
		Metadata:         model.JSONMap(p.Metadata),
	}, nil
}

func buildReceipt(workspaceID int64, tx *model.Transaction, p *ReceiptPayload) (*model.TransactionReceipt, []*model.TransactionLog, error) {
	if p.Status != 0 && p.Status != 1 {
		return nil, nil, validationErr("invalid receipt status %d on %s", p.Status, tx.Hash)
	}
	var contract *string
	if p.ContractAddress != nil && *p.ContractAddress != "" {
		if !isAddress(*p.ContractAddress) {
			return nil, nil, validationErr("invalid contract address %q on %s", *p.ContractAddress, tx.Hash)
		}
		addr := normalizeAddress(*p.ContractAddress)
		contract = &addr
	}
	gasUsed, err := parseQuantity(p.GasUsed)
	if err != nil {
		return nil, nil, err
	}
	cumulative, err := parseQuantity(p.CumulativeGasUsed)
	if err != nil {
		return nil, nil, err
	}
	effective, err := parseQuantity(p.EffectiveGasPrice)
	if err != nil {
		return nil, nil, err
	}

	indexes := make(map[int]struct{}, len(p.Logs))
	logs := make([]*model.TransactionLog, 0, len(p.Logs))
	for _, lp := range p.Logs {
		if lp.LogIndex < 0 {
			return nil, nil, validationErr("negative log index on %s", tx.Hash)
		}
		if _, dup := indexes[lp.LogIndex]; dup {
			return nil, nil, validationErr("duplicate log index %d on %s", lp.LogIndex, tx.Hash)
		}
		indexes[lp.LogIndex] = struct{}{}
		if !isAddress(lp.Address) {
			return nil, nil, validationErr("invalid log address %q on %s", lp.Address, tx.Hash)
		}
		topics := make(model.StringList, 0, len(lp.Topics))
		for _, t := range lp.Topics {
			t = strings.ToLower(t)
			if !isHash(t) {
				return nil, nil, validationErr("invalid topic %q on %s", t, tx.Hash)
			}
			topics = append(topics, t)
		}
		logs = append(logs, &model.TransactionLog{
			WorkspaceID: workspaceID,
			LogIndex:    lp.LogIndex,
			Address:     normalizeAddress(lp.Address),
			Topics:      topics,
			Data:        lp.Data,
		})
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].LogIndex < logs[j].LogIndex })

	return &model.TransactionReceipt{
		WorkspaceID:       workspaceID,
		TransactionHash:   tx.Hash,
		BlockNumber:       tx.BlockNumber,
		Status:            p.Status,
		GasUsed:           gasUsed,
		CumulativeGasUsed: cumulative,
		EffectiveGasPrice: effective,
		ContractAddress:   contract,
	}, logs, nil
}
