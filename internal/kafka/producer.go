// Package kafka carries chain data in and sync-control commands out.
//
// Consumed topics (JSON values):
//
//	block-payloads    ingestion envelopes from the chain sync worker, key = workspace id
//	orbit-evidence    rollup state, batch and chain config updates from parent-chain watchers
//	integrity-status  healthy/recovering flips from the gap detector
//
// Produced topics:
//
//	explorer-sync-control  stop/resume commands for the explorer control plane, key = workspace id
//
// Retryable failures are re-published to the topic they came from with an
// incremented attempt header.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/tryethernal/ethernal-sub004/internal/metrics"
	"github.com/tryethernal/ethernal-sub004/pkg/logger"
	"go.uber.org/zap"
)

const (
	HeaderAttempt = "x-attempt"
	HeaderUnitID  = "x-unit-id"
)

var ErrProducerClosed = errors.New("producer is closed")

// Producer Kafka 生产者
type Producer struct {
	producer sarama.SyncProducer
	mu       sync.RWMutex
	closed   bool
}

type ProducerConfig struct {
	Brokers      []string
	ClientID     string
	RequiredAcks sarama.RequiredAcks
	MaxRetries   int
	RetryBackoff time.Duration
	SASL         *SASLConfig
}

func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.ClientID = cfg.ClientID
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	config.Producer.RequiredAcks = cfg.RequiredAcks
	if config.Producer.RequiredAcks == 0 {
		config.Producer.RequiredAcks = sarama.WaitForAll
	}
	config.Producer.Retry.Max = cfg.MaxRetries
	if config.Producer.Retry.Max == 0 {
		config.Producer.Retry.Max = 5
	}
	config.Producer.Retry.Backoff = cfg.RetryBackoff
	if config.Producer.Retry.Backoff == 0 {
		config.Producer.Retry.Backoff = 100 * time.Millisecond
	}

	if err := applySASL(config, cfg.SASL); err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, err
	}
	return NewProducerWith(producer), nil
}

// NewProducerWith wraps an existing sync producer.
func NewProducerWith(producer sarama.SyncProducer) *Producer {
	return &Producer{producer: producer}
}

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.producer.Close()
}

func (p *Producer) send(topic, key string, value []byte, headers []sarama.RecordHeader) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}

	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(value),
		Headers: headers,
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		logger.Error("failed to send kafka message",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return err
	}
	metrics.RecordKafkaMessage(topic, true)

	logger.Debug("kafka message sent",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Redeliver re-publishes a consumed message to its own topic for a later attempt.
func (p *Producer) Redeliver(_ context.Context, msg *sarama.ConsumerMessage, attempt int) error {
	headers := make([]sarama.RecordHeader, 0, len(msg.Headers)+1)
	for _, h := range msg.Headers {
		if h == nil || string(h.Key) == HeaderAttempt {
			continue
		}
		headers = append(headers, *h)
	}
	headers = append(headers, sarama.RecordHeader{Key: []byte(HeaderAttempt), Value: []byte(strconv.Itoa(attempt))})
	return p.send(msg.Topic, string(msg.Key), msg.Value, headers)
}

type SyncAction string

const (
	SyncActionStop   SyncAction = "stop"
	SyncActionResume SyncAction = "resume"
)

// SyncCommand asks the explorer control plane to stop or resume a workspace's sync.
type SyncCommand struct {
	WorkspaceID int64      `json:"workspaceId"`
	Action      SyncAction `json:"action"`
	Reason      string     `json:"reason,omitempty"`
	IssuedAt    int64      `json:"issuedAt"`
}

// SyncController publishes sync commands. In-flight ingestion is not interrupted;
// the control plane stops handing out new work.
type SyncController struct {
	producer *Producer
	topic    string
}

func NewSyncController(producer *Producer, topic string) *SyncController {
	return &SyncController{producer: producer, topic: topic}
}

func (c *SyncController) StopSync(ctx context.Context, workspaceID int64, reason string) error {
	return c.publish(ctx, SyncCommand{WorkspaceID: workspaceID, Action: SyncActionStop, Reason: reason})
}

func (c *SyncController) ResumeSync(ctx context.Context, workspaceID int64) error {
	return c.publish(ctx, SyncCommand{WorkspaceID: workspaceID, Action: SyncActionResume})
}

func (c *SyncController) publish(_ context.Context, cmd SyncCommand) error {
	cmd.IssuedAt = time.Now().UnixMilli()
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return c.producer.send(c.topic, strconv.FormatInt(cmd.WorkspaceID, 10), data, nil)
}
