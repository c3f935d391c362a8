package service

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tryethernal/ethernal-sub004/internal/model"
	"github.com/tryethernal/ethernal-sub004/internal/repository"
	"github.com/tryethernal/ethernal-sub004/internal/testutil"
	"gorm.io/gorm"
)

const testChainID = 1337

type testEnv struct {
	db        *gorm.DB
	txm       *repository.Repository
	ws        *model.Workspace
	repos     testRepos
	quota     *QuotaService
	projector *AnalyticsProjector
	ingestion *IngestionService
}

type testRepos struct {
	workspaces   repository.WorkspaceRepository
	blocks       repository.BlockRepository
	transactions repository.TransactionRepository
	tokens       repository.TokenRepository
	events       repository.EventRepository
	quotas       repository.QuotaRepository
	orbit        repository.OrbitRepository
}

// newTestEnv wires the ingestion path over an in-memory database. quota 0 means unlimited.
func newTestEnv(t *testing.T, quota int64) *testEnv {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	env := &testEnv{
		db:  db,
		txm: repository.NewRepository(db),
		ws:  testutil.SeedWorkspace(t, db, testChainID, "http://127.0.0.1:8545"),
		repos: testRepos{
			workspaces:   repository.NewWorkspaceRepository(db),
			blocks:       repository.NewBlockRepository(db),
			transactions: repository.NewTransactionRepository(db),
			tokens:       repository.NewTokenRepository(db),
			events:       repository.NewEventRepository(db),
			quotas:       repository.NewQuotaRepository(db),
			orbit:        repository.NewOrbitRepository(db),
		},
	}
	env.quota = NewQuotaService(env.txm, env.repos.quotas, StaticPlanProvider{Quota: quota}, QuotaWindowMonthly)
	env.projector = NewAnalyticsProjector(env.repos.events)
	env.ingestion = env.newIngestion(env.projector, nil)
	return env
}

func (e *testEnv) newIngestion(p Projector, gate ChainGate) *IngestionService {
	return NewIngestionService(e.txm, e.repos.workspaces, e.repos.blocks, e.repos.transactions,
		e.repos.tokens, p, e.quota, gate)
}

func (e *testEnv) count(t *testing.T, m interface{}) int64 {
	t.Helper()
	var n int64
	if err := e.db.Model(m).Count(&n).Error; err != nil {
		t.Fatalf("count %T: %v", m, err)
	}
	return n
}

func hashN(n int) string { return fmt.Sprintf("0x%064x", n) }

func addrN(n int) string { return fmt.Sprintf("0x%040x", n) }

func addrTopic(addr string) string {
	return common.BytesToHash(common.HexToAddress(addr).Bytes()).Hex()
}

func erc20Log(idx int, token, from, to string, amount int64) LogPayload {
	return LogPayload{
		LogIndex: idx,
		Address:  token,
		Topics:   []string{transferTopic.Hex(), addrTopic(from), addrTopic(to)},
		Data:     common.BigToHash(big.NewInt(amount)).Hex(),
	}
}

func blockPayload(number int64) BlockPayload {
	return BlockPayload{
		Number:     number,
		Hash:       hashN(int(number) + 1000),
		ParentHash: hashN(int(number) + 999),
		Miner:      addrN(1),
		Timestamp:  1700000000 + number,
		GasLimit:   "30000000",
		GasUsed:    "0x5208",
	}
}

// txPayload builds a successful call from -> to carrying value wei.
func txPayload(block BlockPayload, hashSeed int, from, to string, value string, logs ...LogPayload) (TransactionPayload, ReceiptPayload) {
	hash := hashN(hashSeed)
	tx := TransactionPayload{
		Hash:             hash,
		BlockNumber:      block.Number,
		BlockHash:        block.Hash,
		TransactionIndex: hashSeed % 100,
		From:             from,
		To:               &to,
		Value:            value,
		Nonce:            int64(hashSeed),
		GasPrice:         "1000000000",
		GasLimit:         "21000",
		Input:            "0x",
	}
	receipt := ReceiptPayload{
		TransactionHash:   hash,
		Status:            1,
		GasUsed:           "21000",
		CumulativeGasUsed: "21000",
		EffectiveGasPrice: "1000000000",
		Logs:              logs,
	}
	return tx, receipt
}

func blockRequest(wsID int64, block BlockPayload, pairs ...interface{}) *IngestBlockRequest {
	req := &IngestBlockRequest{WorkspaceID: wsID, Block: block}
	for i := 0; i+1 < len(pairs); i += 2 {
		req.Transactions = append(req.Transactions, pairs[i].(TransactionPayload))
		req.Receipts = append(req.Receipts, pairs[i+1].(ReceiptPayload))
	}
	return req
}

type failingProjector struct {
	err error
}

func (p failingProjector) Project(context.Context, Fact) error { return p.err }
