package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tryethernal/ethernal-sub004/internal/model"
	"github.com/tryethernal/ethernal-sub004/internal/repository"
	"github.com/tryethernal/ethernal-sub004/internal/testutil"
)

func TestRpcHealth_SignalsOnceAfterThreshold(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ws := testutil.SeedWorkspace(t, db, 1, "http://rpc")
	svc := NewRpcHealthService(repository.NewRepository(db), repository.NewRpcHealthRepository(db), 3, StopPolicyOnce)
	ctx := context.Background()

	var signals []int
	for i := 1; i <= 6; i++ {
		res, err := svc.RecordResult(ctx, ws.ID, false)
		require.NoError(t, err)
		assert.False(t, res.IsReachable)
		assert.Equal(t, i, res.FailedAttempts)
		if res.ThresholdCrossed {
			signals = append(signals, i)
		}
	}
	assert.Equal(t, []int{4}, signals)

	check, err := svc.Get(ctx, ws.ID)
	require.NoError(t, err)
	assert.NotNil(t, check.SyncStoppedAt)

	res, err := svc.RecordResult(ctx, ws.ID, true)
	require.NoError(t, err)
	assert.True(t, res.IsReachable)
	assert.Zero(t, res.FailedAttempts)
	assert.False(t, res.ThresholdCrossed)
	assert.True(t, res.Recovered)

	res, err = svc.RecordResult(ctx, ws.ID, true)
	require.NoError(t, err)
	assert.False(t, res.Recovered, "only the first success after a stop resumes")

	check, err = svc.Get(ctx, ws.ID)
	require.NoError(t, err)
	assert.Nil(t, check.SyncStoppedAt)

	// re-armed after recovery
	for i := 1; i <= 4; i++ {
		res, err = svc.RecordResult(ctx, ws.ID, false)
		require.NoError(t, err)
	}
	assert.True(t, res.ThresholdCrossed)
}

func TestRpcHealth_EveryPolicyRefires(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ws := testutil.SeedWorkspace(t, db, 1, "http://rpc")
	svc := NewRpcHealthService(repository.NewRepository(db), repository.NewRpcHealthRepository(db), 0, StopPolicyEvery)

	var signals []int
	for i := 1; i <= 6; i++ {
		res, err := svc.RecordResult(context.Background(), ws.ID, false)
		require.NoError(t, err)
		if res.ThresholdCrossed {
			signals = append(signals, res.FailedAttempts)
		}
	}
	assert.Equal(t, []int{4, 5, 6}, signals)
}

func TestIntegrity_SetAndGet(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ws := testutil.SeedWorkspace(t, db, 1, "")
	svc := NewIntegrityService(repository.NewIntegrityRepository(db))
	ctx := context.Background()

	status, err := svc.GetStatus(ctx, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IntegrityStatusHealthy, status)

	for _, s := range []model.IntegrityStatus{model.IntegrityStatusRecovering, model.IntegrityStatusRecovering, model.IntegrityStatusHealthy} {
		check, err := svc.SetStatus(ctx, ws.ID, s)
		require.NoError(t, err)
		assert.Equal(t, s, check.Status)
	}

	_, err = svc.SetStatus(ctx, ws.ID, "degraded")
	assert.ErrorIs(t, err, ErrValidation)

	status, err = svc.GetStatus(ctx, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IntegrityStatusHealthy, status)

	var n int64
	require.NoError(t, db.Model(&model.IntegrityCheck{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}
