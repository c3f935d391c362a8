package jobs

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tryethernal/ethernal-sub004/internal/model"
	"github.com/tryethernal/ethernal-sub004/internal/repository"
	"github.com/tryethernal/ethernal-sub004/internal/service"
	"github.com/tryethernal/ethernal-sub004/internal/testutil"
)

type mockTargets struct{ mock.Mock }

func (m *mockTargets) ListWithRpcServer(ctx context.Context) ([]*model.Workspace, error) {
	args := m.Called(ctx)
	ws, _ := args.Get(0).([]*model.Workspace)
	return ws, args.Error(1)
}

type mockProber struct{ mock.Mock }

func (m *mockProber) Probe(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

type mockHealth struct{ mock.Mock }

func (m *mockHealth) RecordResult(ctx context.Context, id int64, reachable bool) (*service.RpcHealthResult, error) {
	args := m.Called(ctx, id, reachable)
	res, _ := args.Get(0).(*service.RpcHealthResult)
	return res, args.Error(1)
}

type mockStopper struct{ mock.Mock }

func (m *mockStopper) StopSync(ctx context.Context, id int64, reason string) error {
	return m.Called(ctx, id, reason).Error(0)
}

func (m *mockStopper) ResumeSync(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func TestRpcProbeJob_StopsSyncOnThreshold(t *testing.T) {
	targets, prober, health, stopper := &mockTargets{}, &mockProber{}, &mockHealth{}, &mockStopper{}
	targets.On("ListWithRpcServer", mock.Anything).Return([]*model.Workspace{
		{ID: 1, RpcServer: "http://up"},
		{ID: 2, RpcServer: "http://down"},
		{ID: 3, RpcServer: "http://flaky"},
	}, nil)

	prober.On("Probe", mock.Anything, "http://up").Return(nil)
	prober.On("Probe", mock.Anything, "http://down").Return(errors.New("connection refused"))
	prober.On("Probe", mock.Anything, "http://flaky").Return(errors.New("timeout"))

	health.On("RecordResult", mock.Anything, int64(1), true).
		Return(&service.RpcHealthResult{WorkspaceID: 1, IsReachable: true}, nil)
	health.On("RecordResult", mock.Anything, int64(2), false).
		Return(&service.RpcHealthResult{WorkspaceID: 2, FailedAttempts: 4, ThresholdCrossed: true}, nil)
	health.On("RecordResult", mock.Anything, int64(3), false).
		Return(&service.RpcHealthResult{WorkspaceID: 3, FailedAttempts: 1}, nil)

	// a failed stop signal does not fail the run
	stopper.On("StopSync", mock.Anything, int64(2), "rpc unreachable").Return(errors.New("broker down")).Once()

	job := NewRpcProbeJob(targets, prober, health, stopper, 2)
	res, err := job.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.ProcessedCount)
	assert.Equal(t, 1, res.AffectedCount)
	assert.Equal(t, 0, res.ErrorCount)
	assert.EqualValues(t, 2, res.Details["unreachable"])
	stopper.AssertExpectations(t)
	health.AssertExpectations(t)
}

func TestRpcProbeJob_ResumesSyncOnRecovery(t *testing.T) {
	targets, prober, health, stopper := &mockTargets{}, &mockProber{}, &mockHealth{}, &mockStopper{}
	targets.On("ListWithRpcServer", mock.Anything).Return([]*model.Workspace{
		{ID: 4, RpcServer: "http://back"},
		{ID: 5, RpcServer: "http://steady"},
	}, nil)
	prober.On("Probe", mock.Anything, mock.Anything).Return(nil)
	health.On("RecordResult", mock.Anything, int64(4), true).
		Return(&service.RpcHealthResult{WorkspaceID: 4, IsReachable: true, Recovered: true}, nil)
	health.On("RecordResult", mock.Anything, int64(5), true).
		Return(&service.RpcHealthResult{WorkspaceID: 5, IsReachable: true}, nil)
	stopper.On("ResumeSync", mock.Anything, int64(4)).Return(nil).Once()

	res, err := NewRpcProbeJob(targets, prober, health, stopper, 2).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.AffectedCount)
	assert.EqualValues(t, 1, res.Details["resumed"])
	stopper.AssertExpectations(t)
	stopper.AssertNotCalled(t, "ResumeSync", mock.Anything, int64(5))
	stopper.AssertNotCalled(t, "StopSync", mock.Anything, mock.Anything, mock.Anything)
}

func TestRpcProbeJob_BookkeepingErrorCounted(t *testing.T) {
	targets, prober, health := &mockTargets{}, &mockProber{}, &mockHealth{}
	targets.On("ListWithRpcServer", mock.Anything).Return([]*model.Workspace{{ID: 9, RpcServer: "http://x"}}, nil)
	prober.On("Probe", mock.Anything, "http://x").Return(nil)
	health.On("RecordResult", mock.Anything, int64(9), true).Return(nil, service.ErrInfrastructure)

	res, err := NewRpcProbeJob(targets, prober, health, nil, 0).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.ErrorCount)
}

func TestRpcProbeJob_ListError(t *testing.T) {
	targets := &mockTargets{}
	targets.On("ListWithRpcServer", mock.Anything).Return(nil, errors.New("db down"))

	_, err := NewRpcProbeJob(targets, &mockProber{}, &mockHealth{}, nil, 1).Execute(context.Background())
	assert.Error(t, err)
}

type fakeWorkspaces []int64

func (f fakeWorkspaces) ListIDs(context.Context) ([]int64, error) { return f, nil }

type fakeReconciler struct {
	got     []int64
	removed int
}

func (f *fakeReconciler) ReconcileAll(_ context.Context, ids []int64) (int, error) {
	f.got = ids
	return f.removed, nil
}

func TestDedupReconcileJob(t *testing.T) {
	rec := &fakeReconciler{removed: 4}
	res, err := NewDedupReconcileJob(fakeWorkspaces{1, 2}, rec).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, rec.got)
	assert.Equal(t, 2, res.ProcessedCount)
	assert.Equal(t, 4, res.AffectedCount)
}

type fakeRoller struct{ n int }

func (f fakeRoller) RolloverExpired(context.Context) (int, error) { return f.n, nil }

func TestQuotaRolloverJob(t *testing.T) {
	res, err := NewQuotaRolloverJob(fakeRoller{n: 3}).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.AffectedCount)
}

type recordingRollups struct {
	ranges []repository.TimeRange
	days   []int64
	fail   bool
}

func (r *recordingRollups) RefreshTransactionDaily(_ context.Context, tr repository.TimeRange) (int64, error) {
	r.ranges = append(r.ranges, tr)
	return 2, nil
}

func (r *recordingRollups) RefreshTokenTransferDaily(_ context.Context, tr repository.TimeRange) (int64, error) {
	if r.fail {
		return 0, errors.New("deadlock detected")
	}
	r.ranges = append(r.ranges, tr)
	return 1, nil
}

func (r *recordingRollups) RefreshActiveWallets(_ context.Context, day int64) (int64, error) {
	r.days = append(r.days, day)
	return 5, nil
}

func TestRollupRefreshJob(t *testing.T) {
	rollups := &recordingRollups{}
	job := NewRollupRefreshJob(rollups, 2)
	job.now = func() time.Time { return time.Date(2026, 10, 15, 13, 30, 0, 0, time.UTC) }

	res, err := job.Execute(context.Background())
	require.NoError(t, err)

	today := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC).UnixMilli()
	want := repository.TimeRange{Start: today - dayMs, End: today + dayMs}
	assert.Equal(t, []repository.TimeRange{want, want}, rollups.ranges)
	assert.Equal(t, []int64{today - dayMs, today}, rollups.days)
	assert.Equal(t, 2, res.ProcessedCount)
	assert.Equal(t, 2+1+5+5, res.AffectedCount)

	_, err = NewRollupRefreshJob(&recordingRollups{fail: true}, 1).Execute(context.Background())
	assert.ErrorContains(t, err, "token transfer daily")
}

func TestPartitionManageJob(t *testing.T) {
	db, sqlMock := testutil.NewMockDB(t)
	job := NewPartitionManageJob(db, []string{"transaction_events"}, 1)
	job.now = func() time.Time { return time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC) }

	nov := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	dec := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)

	sqlMock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("transaction_events_2026_10").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	sqlMock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("transaction_events_2026_11").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	sqlMock.ExpectExec(regexp.QuoteMeta(
		"CREATE TABLE IF NOT EXISTS transaction_events_2026_11 PARTITION OF transaction_events FOR VALUES FROM (" +
			strconv.FormatInt(nov.UnixMilli(), 10) + ") TO (" + strconv.FormatInt(dec.UnixMilli(), 10) + ")")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	res, err := job.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.ProcessedCount)
	assert.Equal(t, 1, res.AffectedCount)
	assert.Equal(t, []string{"transaction_events_2026_11"}, res.Details["transaction_events"])
	require.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestPartitionManageJob_ErrorsCounted(t *testing.T) {
	db, sqlMock := testutil.NewMockDB(t)
	job := NewPartitionManageJob(db, []string{"token_transfer_events"}, 1)
	job.now = func() time.Time { return time.Date(2026, 12, 3, 0, 0, 0, 0, time.UTC) }

	sqlMock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("token_transfer_events_2026_12").
		WillReturnError(errors.New("permission denied"))
	sqlMock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("token_transfer_events_2027_01").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	sqlMock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS token_transfer_events_2027_01")).
		WillReturnError(errors.New("updated partition constraint for default partition would be violated"))

	res, err := job.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.ErrorCount)
	assert.Equal(t, 0, res.AffectedCount)
	require.NoError(t, sqlMock.ExpectationsWereMet())
}
