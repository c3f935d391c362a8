package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/tryethernal/ethernal-sub004/internal/config"
	"github.com/tryethernal/ethernal-sub004/internal/metrics"
	"github.com/tryethernal/ethernal-sub004/internal/model"
	"github.com/tryethernal/ethernal-sub004/internal/service"
	"github.com/tryethernal/ethernal-sub004/pkg/logger"
	"go.uber.org/zap"
)

// BlockIngester is the ingestion side of the consumer.
type BlockIngester interface {
	IngestBlock(ctx context.Context, req *service.IngestBlockRequest) (*service.IngestResult, error)
	IngestTransactions(ctx context.Context, req *service.IngestTransactionsRequest) (*service.IngestResult, error)
}

// OrbitRecorder applies rollup evidence.
type OrbitRecorder interface {
	RecordState(ctx context.Context, transactionID int64, state model.OrbitState, ev *service.Evidence) (*service.StateResult, error)
	MarkFailed(ctx context.Context, transactionID int64, reason string) (*service.StateResult, error)
	CreateBatch(ctx context.Context, batch *model.OrbitBatch) (*model.OrbitBatch, error)
	UpdateBatchStatus(ctx context.Context, workspaceID, sequenceNumber int64, status model.OrbitBatchStatus) (*model.OrbitBatch, error)
	UpsertChainConfig(ctx context.Context, cfg *model.OrbitChainConfig) error
}

type IntegritySetter interface {
	SetStatus(ctx context.Context, workspaceID int64, status model.IntegrityStatus) (*model.IntegrityCheck, error)
}

// Redeliverer puts a message back on its topic for another attempt.
type Redeliverer interface {
	Redeliver(ctx context.Context, msg *sarama.ConsumerMessage, attempt int) error
}

// IngestEnvelope is the value of a block-payloads message.
type IngestEnvelope struct {
	Kind         string                             `json:"kind"` // block | transactions
	Block        *service.IngestBlockRequest        `json:"block,omitempty"`
	Transactions *service.IngestTransactionsRequest `json:"transactions,omitempty"`
}

// OrbitMessage is the value of an orbit-evidence message.
type OrbitMessage struct {
	Kind          string                  `json:"kind"` // state | failed | batch | batch_status | chain_config
	TransactionID int64                   `json:"transactionId,omitempty"`
	State         model.OrbitState        `json:"state,omitempty"`
	Evidence      *service.Evidence       `json:"evidence,omitempty"`
	Reason        string                  `json:"reason,omitempty"`
	Batch         *model.OrbitBatch       `json:"batch,omitempty"`
	WorkspaceID   int64                   `json:"workspaceId,omitempty"`
	BatchSequence int64                   `json:"batchSequenceNumber,omitempty"`
	BatchStatus   model.OrbitBatchStatus  `json:"batchStatus,omitempty"`
	ChainConfig   *model.OrbitChainConfig `json:"chainConfig,omitempty"`
}

// IntegrityMessage is the value of an integrity-status message.
type IntegrityMessage struct {
	WorkspaceID int64                 `json:"workspaceId"`
	Status      model.IntegrityStatus `json:"status"`
}

// Consumer reads the ingestion topics as one consumer group.
type Consumer struct {
	client  sarama.ConsumerGroup
	handler *Handler
	topics  []string
	groupID string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	ClientID string
	SASL     *SASLConfig
}

func NewConsumer(cfg *ConsumerConfig, handler *Handler) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.ClientID = cfg.ClientID
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Offsets.AutoCommit.Enable = true
	config.Consumer.Offsets.AutoCommit.Interval = time.Second

	if err := applySASL(config, cfg.SASL); err != nil {
		return nil, err
	}

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, err
	}
	return &Consumer{
		client:  client,
		handler: handler,
		topics:  handler.Topics(),
		groupID: cfg.GroupID,
	}, nil
}

func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errors.New("consumer already running")
	}
	c.running = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		for ctx.Err() == nil {
			if err := c.client.Consume(ctx, c.topics, c.handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				logger.Error("kafka consume error", zap.Error(err))
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}
	}()

	logger.Info("kafka consumer started",
		zap.Strings("topics", c.topics),
		zap.String("group_id", c.groupID))
	return nil
}

// Stop waits for the current messages to finish before closing the group.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.running = false
	c.cancel()
	<-c.done
	return c.client.Close()
}

// Handler dispatches consumed messages to the services. It implements
// sarama.ConsumerGroupHandler.
type Handler struct {
	topics          config.KafkaTopics
	ingester        BlockIngester
	orbit           OrbitRecorder
	integrity       IntegritySetter
	redeliverer     Redeliverer
	maxRedeliveries int
	backoff         time.Duration
}

type HandlerConfig struct {
	Topics          config.KafkaTopics
	Ingester        BlockIngester
	Orbit           OrbitRecorder
	Integrity       IntegritySetter
	Redeliverer     Redeliverer
	MaxRedeliveries int
	RetryBackoff    time.Duration
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		topics:          cfg.Topics,
		ingester:        cfg.Ingester,
		orbit:           cfg.Orbit,
		integrity:       cfg.Integrity,
		redeliverer:     cfg.Redeliverer,
		maxRedeliveries: cfg.MaxRedeliveries,
		backoff:         cfg.RetryBackoff,
	}
}

func (h *Handler) Topics() []string {
	return []string{h.topics.BlockPayloads, h.topics.OrbitEvidence, h.topics.IntegrityStatus}
}

func (h *Handler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *Handler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *Handler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.process(session.Context(), msg); err != nil {
				// leave unmarked; the next session starts from this offset
				return err
			}
			session.MarkMessage(msg, "")
		}
	}
}

// process handles one message and decides whether it is done. Only a failed
// redelivery is returned; everything else is settled here.
func (h *Handler) process(ctx context.Context, msg *sarama.ConsumerMessage) error {
	metrics.RecordKafkaMessage(msg.Topic, false)
	attempt := attemptOf(msg)
	log := logger.L().With(
		zap.String("topic", msg.Topic),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Int("attempt", attempt))

	err := h.Dispatch(ctx, msg)
	switch {
	case err == nil:
		return nil
	case service.IsRetryable(err):
		if attempt >= h.maxRedeliveries {
			log.Error("giving up on message", zap.Error(err))
			return nil
		}
		if h.backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(h.backoff):
			}
		}
		if rerr := h.redeliverer.Redeliver(ctx, msg, attempt+1); rerr != nil {
			log.Error("redelivery failed", zap.NamedError("cause", err), zap.Error(rerr))
			return rerr
		}
		log.Warn("message redelivered", zap.Error(err))
		return nil
	default:
		log.Warn("message rejected", zap.Error(err))
		return nil
	}
}

// Dispatch decodes msg and calls the owning service.
func (h *Handler) Dispatch(ctx context.Context, msg *sarama.ConsumerMessage) error {
	switch msg.Topic {
	case h.topics.BlockPayloads:
		return h.handleIngest(ctx, msg.Value)
	case h.topics.OrbitEvidence:
		return h.handleOrbit(ctx, msg.Value)
	case h.topics.IntegrityStatus:
		return h.handleIntegrity(ctx, msg.Value)
	default:
		return fmt.Errorf("%w: unknown topic %s", service.ErrValidation, msg.Topic)
	}
}

func (h *Handler) handleIngest(ctx context.Context, data []byte) error {
	var env IngestEnvelope
	if err := decode(data, &env); err != nil {
		return err
	}

	var (
		res *service.IngestResult
		err error
	)
	switch {
	case env.Kind == "transactions" && env.Transactions != nil:
		res, err = h.ingester.IngestTransactions(ctx, env.Transactions)
	case (env.Kind == "" || env.Kind == "block") && env.Block != nil:
		res, err = h.ingester.IngestBlock(ctx, env.Block)
	default:
		return fmt.Errorf("%w: ingest envelope kind %q without payload", service.ErrValidation, env.Kind)
	}
	if err != nil {
		return err
	}
	if res.Status == service.IngestStatusQuotaExceeded {
		logger.Info("ingestion over quota, derivation deferred", zap.String("unit_id", res.UnitID))
	}
	return nil
}

func (h *Handler) handleOrbit(ctx context.Context, data []byte) error {
	var m OrbitMessage
	if err := decode(data, &m); err != nil {
		return err
	}

	var err error
	switch m.Kind {
	case "state":
		_, err = h.orbit.RecordState(ctx, m.TransactionID, m.State, m.Evidence)
	case "failed":
		_, err = h.orbit.MarkFailed(ctx, m.TransactionID, m.Reason)
	case "batch":
		if m.Batch == nil {
			return fmt.Errorf("%w: batch message without batch", service.ErrValidation)
		}
		_, err = h.orbit.CreateBatch(ctx, m.Batch)
		if errors.Is(err, service.ErrDuplicateBatch) {
			logger.Debug("duplicate orbit batch ignored",
				zap.Int64("workspace_id", m.Batch.WorkspaceID),
				zap.Int64("batch_sequence_number", m.Batch.BatchSequenceNumber))
			return nil
		}
	case "batch_status":
		_, err = h.orbit.UpdateBatchStatus(ctx, m.WorkspaceID, m.BatchSequence, m.BatchStatus)
	case "chain_config":
		if m.ChainConfig == nil {
			return fmt.Errorf("%w: chain_config message without config", service.ErrValidation)
		}
		err = h.orbit.UpsertChainConfig(ctx, m.ChainConfig)
	default:
		return fmt.Errorf("%w: unknown orbit message kind %q", service.ErrValidation, m.Kind)
	}
	return err
}

func (h *Handler) handleIntegrity(ctx context.Context, data []byte) error {
	var m IntegrityMessage
	if err := decode(data, &m); err != nil {
		return err
	}
	_, err := h.integrity.SetStatus(ctx, m.WorkspaceID, m.Status)
	return err
}

func decode(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decode message: %w", service.ErrValidation, err)
	}
	return nil
}

func attemptOf(msg *sarama.ConsumerMessage) int {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == HeaderAttempt {
			if n, err := strconv.Atoi(string(h.Value)); err == nil {
				return n
			}
		}
	}
	return 0
}
