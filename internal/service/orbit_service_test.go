package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tryethernal/ethernal-sub004/internal/model"
)

func newOrbitEnv(t *testing.T) (*testEnv, *OrbitService, *model.Transaction) {
	t.Helper()
	env := newTestEnv(t, 0)
	block := blockPayload(50)
	tx, rc := txPayload(block, 50, alice, bob, "0")
	_, err := env.ingestion.IngestBlock(context.Background(), blockRequest(env.ws.ID, block, tx, rc))
	require.NoError(t, err)
	stored, err := env.repos.transactions.GetByHash(context.Background(), env.ws.ID, hashN(50))
	require.NoError(t, err)
	return env, NewOrbitService(env.txm, env.repos.orbit, env.repos.transactions), stored
}

func int64p(v int64) *int64 { return &v }

func TestOrbit_ForwardPathAndWriteOnceEvidence(t *testing.T) {
	_, svc, tx := newOrbitEnv(t)
	ctx := context.Background()

	res, err := svc.RecordState(ctx, tx.ID, model.OrbitStateSequenced, &Evidence{At: 10, BlockNumber: int64p(50)})
	require.NoError(t, err)
	assert.Equal(t, TransitionUpdated, res.Result)
	assert.Equal(t, tx.Timestamp, res.State.SubmittedAt)

	res, err = svc.RecordState(ctx, tx.ID, model.OrbitStateSequenced, &Evidence{At: 99, BlockNumber: int64p(77)})
	require.NoError(t, err)
	assert.Equal(t, TransitionUnchanged, res.Result)
	assert.Equal(t, int64(10), *res.State.SequencedAt)
	assert.Equal(t, int64(50), *res.State.SequencedBlockNumber)

	// POSTED skipped
	res, err = svc.RecordState(ctx, tx.ID, model.OrbitStateConfirmed, &Evidence{At: 30, TxHash: hashN(3), BlockNumber: int64p(900)})
	require.NoError(t, err)
	assert.Equal(t, model.OrbitStateConfirmed, res.State.CurrentState)

	// late POSTED evidence fills in without moving back
	res, err = svc.RecordState(ctx, tx.ID, model.OrbitStatePosted, &Evidence{At: 20, TxHash: hashN(2)})
	require.NoError(t, err)
	assert.Equal(t, TransitionUnchanged, res.Result)
	assert.Equal(t, model.OrbitStateConfirmed, res.State.CurrentState)
	assert.Equal(t, int64(20), *res.State.PostedAt)

	res, err = svc.RecordState(ctx, tx.ID, model.OrbitStateFinalized, &Evidence{At: 40})
	require.NoError(t, err)
	assert.Equal(t, model.OrbitStateFinalized, res.State.CurrentState)

	res, err = svc.RecordState(ctx, tx.ID, model.OrbitStateFinalized, nil)
	require.NoError(t, err)
	assert.Equal(t, TransitionUnchanged, res.Result)
}

func TestOrbit_FinalizedThenSequencedRejected(t *testing.T) {
	_, svc, tx := newOrbitEnv(t)
	ctx := context.Background()

	for _, s := range []model.OrbitState{model.OrbitStateSequenced, model.OrbitStatePosted, model.OrbitStateConfirmed, model.OrbitStateFinalized} {
		_, err := svc.RecordState(ctx, tx.ID, s, nil)
		require.NoError(t, err)
	}

	_, err := svc.RecordState(ctx, tx.ID, model.OrbitStateSequenced, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.False(t, IsRetryable(err))

	_, err = svc.MarkFailed(ctx, tx.ID, "too late")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	state, err := svc.GetState(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrbitStateFinalized, state.CurrentState)
	assert.Nil(t, state.FailedAt)
}

func TestOrbit_FinalizedRequiresConfirmed(t *testing.T) {
	_, svc, tx := newOrbitEnv(t)

	_, err := svc.RecordState(context.Background(), tx.ID, model.OrbitStateFinalized, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestOrbit_MarkFailed(t *testing.T) {
	_, svc, tx := newOrbitEnv(t)
	ctx := context.Background()

	_, err := svc.RecordState(ctx, tx.ID, model.OrbitStatePosted, nil)
	require.NoError(t, err)

	res, err := svc.MarkFailed(ctx, tx.ID, "batch reverted")
	require.NoError(t, err)
	assert.Equal(t, model.OrbitStateFailed, res.State.CurrentState)
	assert.Equal(t, "batch reverted", *res.State.FailureReason)

	_, err = svc.RecordState(ctx, tx.ID, model.OrbitStateConfirmed, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.MarkFailed(ctx, tx.ID, "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestOrbit_UnknownTransactionIsMissingDependency(t *testing.T) {
	_, svc, _ := newOrbitEnv(t)

	_, err := svc.RecordState(context.Background(), 424242, model.OrbitStateSequenced, nil)
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestOrbit_DuplicateBatchKeepsFirst(t *testing.T) {
	env, svc, tx := newOrbitEnv(t)
	ctx := context.Background()

	first := &model.OrbitBatch{
		WorkspaceID:            env.ws.ID,
		BatchSequenceNumber:    5000,
		ParentChainBlockNumber: 18000000,
		ParentChainTxHash:      hashN(5000),
		TransactionCount:       12,
	}
	_, err := svc.CreateBatch(ctx, first)
	require.NoError(t, err)

	_, err = svc.CreateBatch(ctx, &model.OrbitBatch{
		WorkspaceID:            env.ws.ID,
		BatchSequenceNumber:    5000,
		ParentChainBlockNumber: 1,
		ParentChainTxHash:      hashN(1),
		TransactionCount:       1,
	})
	assert.ErrorIs(t, err, ErrDuplicateBatch)

	stored, err := svc.GetBatch(ctx, env.ws.ID, 5000)
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ID)
	assert.Equal(t, int64(18000000), stored.ParentChainBlockNumber)
	assert.Equal(t, 12, stored.TransactionCount)
	assert.Equal(t, model.OrbitBatchPending, stored.Status)

	// POSTED evidence links the batch
	res, err := svc.RecordState(ctx, tx.ID, model.OrbitStatePosted, &Evidence{BatchSequenceNumber: int64p(5000)})
	require.NoError(t, err)
	require.NotNil(t, res.State.OrbitBatchID)
	assert.Equal(t, first.ID, *res.State.OrbitBatchID)
}

func TestOrbit_BatchStatusForwardOnly(t *testing.T) {
	env, svc, _ := newOrbitEnv(t)
	ctx := context.Background()

	_, err := svc.CreateBatch(ctx, &model.OrbitBatch{WorkspaceID: env.ws.ID, BatchSequenceNumber: 7, ParentChainTxHash: hashN(7)})
	require.NoError(t, err)

	batch, err := svc.UpdateBatchStatus(ctx, env.ws.ID, 7, model.OrbitBatchConfirmed)
	require.NoError(t, err)
	assert.NotNil(t, batch.ConfirmedAt)

	batch, err = svc.UpdateBatchStatus(ctx, env.ws.ID, 7, model.OrbitBatchFinalized)
	require.NoError(t, err)
	assert.Equal(t, model.OrbitBatchFinalized, batch.Status)
	assert.Nil(t, batch.ChallengedAt)

	_, err = svc.UpdateBatchStatus(ctx, env.ws.ID, 7, model.OrbitBatchConfirmed)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.UpdateBatchStatus(ctx, env.ws.ID, 8, model.OrbitBatchConfirmed)
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestOrbit_BatchStatusNoSkips(t *testing.T) {
	env, svc, _ := newOrbitEnv(t)
	ctx := context.Background()

	for seq := int64(10); seq <= 11; seq++ {
		_, err := svc.CreateBatch(ctx, &model.OrbitBatch{WorkspaceID: env.ws.ID, BatchSequenceNumber: seq, ParentChainTxHash: hashN(int(seq))})
		require.NoError(t, err)
	}

	_, err := svc.UpdateBatchStatus(ctx, env.ws.ID, 10, model.OrbitBatchFinalized)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.UpdateBatchStatus(ctx, env.ws.ID, 10, model.OrbitBatchChallenged)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := svc.GetBatch(ctx, env.ws.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, model.OrbitBatchPending, stored.Status)
	assert.Nil(t, stored.FinalizedAt)

	for _, st := range []model.OrbitBatchStatus{model.OrbitBatchConfirmed, model.OrbitBatchChallenged, model.OrbitBatchFinalized} {
		batch, err := svc.UpdateBatchStatus(ctx, env.ws.ID, 11, st)
		require.NoError(t, err, st)
		assert.Equal(t, st, batch.Status)
	}
}

func TestOrbit_ChainConfig(t *testing.T) {
	env, svc, _ := newOrbitEnv(t)
	ctx := context.Background()

	cfg := &model.OrbitChainConfig{
		WorkspaceID:          env.ws.ID,
		ParentChainID:        1,
		ParentChainRpcServer: "http://l1",
		RollupContract:       "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		BridgeContract:       addrN(2),
		InboxContract:        addrN(3),
		SequencerInbox:       addrN(4),
	}
	require.NoError(t, svc.UpsertChainConfig(ctx, cfg))

	got, err := svc.GetChainConfig(ctx, env.ws.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", got.RollupContract)

	bad := *cfg
	bad.BridgeContract = "bridge"
	assert.ErrorIs(t, svc.UpsertChainConfig(ctx, &bad), ErrValidation)
}
