package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tryethernal/ethernal-sub004/internal/config"
	"github.com/tryethernal/ethernal-sub004/internal/model"
	"github.com/tryethernal/ethernal-sub004/internal/service"
)

var testTopics = config.KafkaTopics{
	BlockPayloads:   "block-payloads",
	OrbitEvidence:   "orbit-evidence",
	IntegrityStatus: "integrity-status",
	SyncControl:     "explorer-sync-control",
}

type mockIngester struct{ mock.Mock }

func (m *mockIngester) IngestBlock(ctx context.Context, req *service.IngestBlockRequest) (*service.IngestResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*service.IngestResult)
	return res, args.Error(1)
}

func (m *mockIngester) IngestTransactions(ctx context.Context, req *service.IngestTransactionsRequest) (*service.IngestResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*service.IngestResult)
	return res, args.Error(1)
}

type mockOrbit struct{ mock.Mock }

func (m *mockOrbit) RecordState(ctx context.Context, id int64, s model.OrbitState, ev *service.Evidence) (*service.StateResult, error) {
	args := m.Called(ctx, id, s, ev)
	return nil, args.Error(0)
}

func (m *mockOrbit) MarkFailed(ctx context.Context, id int64, reason string) (*service.StateResult, error) {
	args := m.Called(ctx, id, reason)
	return nil, args.Error(0)
}

func (m *mockOrbit) CreateBatch(ctx context.Context, b *model.OrbitBatch) (*model.OrbitBatch, error) {
	args := m.Called(ctx, b)
	return b, args.Error(0)
}

func (m *mockOrbit) UpdateBatchStatus(ctx context.Context, ws, seq int64, s model.OrbitBatchStatus) (*model.OrbitBatch, error) {
	args := m.Called(ctx, ws, seq, s)
	return nil, args.Error(0)
}

func (m *mockOrbit) UpsertChainConfig(ctx context.Context, cfg *model.OrbitChainConfig) error {
	return m.Called(ctx, cfg).Error(0)
}

type mockIntegrity struct{ mock.Mock }

func (m *mockIntegrity) SetStatus(ctx context.Context, ws int64, s model.IntegrityStatus) (*model.IntegrityCheck, error) {
	args := m.Called(ctx, ws, s)
	return nil, args.Error(0)
}

type mockRedeliverer struct{ mock.Mock }

func (m *mockRedeliverer) Redeliver(ctx context.Context, msg *sarama.ConsumerMessage, attempt int) error {
	return m.Called(ctx, msg, attempt).Error(0)
}

// fakeSession records marked offsets.
type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32               { return nil }
func (s *fakeSession) MemberID() string                         { return "member" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	ch chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.ch }

func claimOf(msgs ...*sarama.ConsumerMessage) *fakeClaim {
	ch := make(chan *sarama.ConsumerMessage, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return &fakeClaim{ch: ch}
}

type handlerMocks struct {
	ingester    *mockIngester
	orbit       *mockOrbit
	integrity   *mockIntegrity
	redeliverer *mockRedeliverer
}

func newTestHandler() (*Handler, *handlerMocks) {
	m := &handlerMocks{&mockIngester{}, &mockOrbit{}, &mockIntegrity{}, &mockRedeliverer{}}
	h := NewHandler(HandlerConfig{
		Topics:          testTopics,
		Ingester:        m.ingester,
		Orbit:           m.orbit,
		Integrity:       m.integrity,
		Redeliverer:     m.redeliverer,
		MaxRedeliveries: 3,
	})
	return h, m
}

func message(t *testing.T, topic string, offset int64, v interface{}) *sarama.ConsumerMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: topic, Offset: offset, Key: []byte("7"), Value: data}
}

func TestHandler_IngestsBlockAndMarks(t *testing.T) {
	h, m := newTestHandler()
	env := IngestEnvelope{Kind: "block", Block: &service.IngestBlockRequest{WorkspaceID: 7}}
	m.ingester.On("IngestBlock", mock.Anything, mock.MatchedBy(func(r *service.IngestBlockRequest) bool {
		return r.WorkspaceID == 7
	})).Return(&service.IngestResult{Status: service.IngestStatusIngested}, nil).Once()

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, h.ConsumeClaim(session, claimOf(message(t, testTopics.BlockPayloads, 11, env))))
	assert.Equal(t, []int64{11}, session.marked)
	m.ingester.AssertExpectations(t)
}

func TestHandler_RetryableIsRedelivered(t *testing.T) {
	h, m := newTestHandler()
	env := IngestEnvelope{Kind: "transactions", Transactions: &service.IngestTransactionsRequest{WorkspaceID: 7, BlockNumber: 9}}
	missing := fmt.Errorf("ingest: %w", service.ErrMissingDependency)
	m.ingester.On("IngestTransactions", mock.Anything, mock.Anything).Return(nil, missing)
	m.redeliverer.On("Redeliver", mock.Anything, mock.Anything, 1).Return(nil).Once()

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, h.ConsumeClaim(session, claimOf(message(t, testTopics.BlockPayloads, 3, env))))
	assert.Equal(t, []int64{3}, session.marked)
	m.redeliverer.AssertExpectations(t)
}

func TestHandler_GivesUpAfterMaxRedeliveries(t *testing.T) {
	h, m := newTestHandler()
	m.ingester.On("IngestBlock", mock.Anything, mock.Anything).Return(nil, service.ErrInfrastructure)

	msg := message(t, testTopics.BlockPayloads, 4, IngestEnvelope{Block: &service.IngestBlockRequest{WorkspaceID: 1}})
	msg.Headers = []*sarama.RecordHeader{{Key: []byte(HeaderAttempt), Value: []byte("3")}}

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, h.ConsumeClaim(session, claimOf(msg)))
	assert.Equal(t, []int64{4}, session.marked)
	m.redeliverer.AssertNotCalled(t, "Redeliver", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandler_FailedRedeliveryLeavesOffset(t *testing.T) {
	h, m := newTestHandler()
	m.ingester.On("IngestBlock", mock.Anything, mock.Anything).Return(nil, service.ErrInfrastructure)
	m.redeliverer.On("Redeliver", mock.Anything, mock.Anything, 1).Return(sarama.ErrOutOfBrokers)

	session := &fakeSession{ctx: context.Background()}
	err := h.ConsumeClaim(session, claimOf(message(t, testTopics.BlockPayloads, 5, IngestEnvelope{Block: &service.IngestBlockRequest{}})))
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	assert.Empty(t, session.marked)
}

func TestHandler_TerminalErrorsAreMarked(t *testing.T) {
	h, m := newTestHandler()
	m.orbit.On("RecordState", mock.Anything, int64(12), model.OrbitStateSequenced, mock.Anything).
		Return(fmt.Errorf("%w: FINALIZED -> SEQUENCED", service.ErrInvalidTransition))

	session := &fakeSession{ctx: context.Background()}
	msgs := []*sarama.ConsumerMessage{
		message(t, testTopics.OrbitEvidence, 1, OrbitMessage{Kind: "state", TransactionID: 12, State: model.OrbitStateSequenced}),
		{Topic: testTopics.BlockPayloads, Offset: 2, Value: []byte("{not json")},
		message(t, testTopics.OrbitEvidence, 3, OrbitMessage{Kind: "teleport"}),
	}
	require.NoError(t, h.ConsumeClaim(session, claimOf(msgs...)))
	assert.Equal(t, []int64{1, 2, 3}, session.marked)
	m.redeliverer.AssertNotCalled(t, "Redeliver", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandler_OrbitAndIntegrityDispatch(t *testing.T) {
	h, m := newTestHandler()
	ctx := context.Background()

	m.orbit.On("MarkFailed", mock.Anything, int64(5), "reverted").Return(nil).Once()
	m.orbit.On("CreateBatch", mock.Anything, mock.Anything).Return(service.ErrDuplicateBatch).Once()
	m.orbit.On("UpdateBatchStatus", mock.Anything, int64(2), int64(5000), model.OrbitBatchConfirmed).Return(nil).Once()
	m.orbit.On("UpsertChainConfig", mock.Anything, mock.Anything).Return(nil).Once()
	m.integrity.On("SetStatus", mock.Anything, int64(2), model.IntegrityStatusRecovering).Return(nil).Once()

	require.NoError(t, h.Dispatch(ctx, message(t, testTopics.OrbitEvidence, 0, OrbitMessage{Kind: "failed", TransactionID: 5, Reason: "reverted"})))
	require.NoError(t, h.Dispatch(ctx, message(t, testTopics.OrbitEvidence, 0, OrbitMessage{Kind: "batch", Batch: &model.OrbitBatch{WorkspaceID: 2, BatchSequenceNumber: 5000}})))
	require.NoError(t, h.Dispatch(ctx, message(t, testTopics.OrbitEvidence, 0, OrbitMessage{Kind: "batch_status", WorkspaceID: 2, BatchSequence: 5000, BatchStatus: model.OrbitBatchConfirmed})))
	require.NoError(t, h.Dispatch(ctx, message(t, testTopics.OrbitEvidence, 0, OrbitMessage{Kind: "chain_config", ChainConfig: &model.OrbitChainConfig{WorkspaceID: 2}})))
	require.NoError(t, h.Dispatch(ctx, message(t, testTopics.IntegrityStatus, 0, IntegrityMessage{WorkspaceID: 2, Status: model.IntegrityStatusRecovering})))

	err := h.Dispatch(ctx, &sarama.ConsumerMessage{Topic: "elsewhere"})
	assert.ErrorIs(t, err, service.ErrValidation)

	m.orbit.AssertExpectations(t)
	m.integrity.AssertExpectations(t)
}

func TestHandler_Topics(t *testing.T) {
	h, _ := newTestHandler()
	assert.Equal(t, []string{"block-payloads", "orbit-evidence", "integrity-status"}, h.Topics())
}
