package ingestion

import (
	"MarginLedger/internal/observability"
	"MarginLedger/internal/persistence"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	OutboundSubjectPrefix = "margin.ledger.ops."
	OutboundStream        = "MARGIN_LEDGER_OPS"
)

// OutboundPublisher announces durable operations on
// margin.ledger.ops.<OperationType>. It only sees batches the persistence
// worker has committed, so a consumer never hears of an operation the log
// could lose.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan chan PublishableOperation
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// PublishableOperation is the outbound notification body.
type PublishableOperation struct {
	Sequence       int64           `json:"sequence"`
	OpType         string          `json:"op_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	AccountID      *uuid.UUID      `json:"account_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, buffer int, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: make(chan PublishableOperation, buffer),
		metrics:   metrics,
		logger:    logger,
	}
}

// Flushed implements persistence.FlushSink. A full buffer drops the
// notification; consumers can page the operation log to fill gaps.
func (op *OutboundPublisher) Flushed(rows []persistence.OperationRow) {
	for _, r := range rows {
		select {
		case op.inputChan <- NewPublishableOperation(r):
		default:
			if op.metrics != nil {
				op.metrics.PublishDrops.Inc()
			}
		}
	}
}

func NewPublishableOperation(r persistence.OperationRow) PublishableOperation {
	return PublishableOperation{
		Sequence:       r.Sequence,
		OpType:         r.OpType,
		IdempotencyKey: r.IdempotencyKey,
		AccountID:      r.AccountID,
		Payload:        r.Payload,
		StateHash:      hex.EncodeToString(r.StateHash),
		Timestamp:      r.Timestamp,
	}
}

// Run publishes queued notifications until ctx is cancelled.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-op.inputChan:
			if err := op.publish(ctx, evt); err != nil {
				op.logger.Warn().Err(err).Int64("seq", evt.Sequence).Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.PublishErrors.Inc()
				}
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableOperation) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal operation: %w", err)
	}
	// Nats-Msg-Id lets JetStream drop a republished sequence
	_, err = op.js.Publish(ctx, OutboundSubjectPrefix+evt.OpType, data,
		jetstream.WithMsgID(fmt.Sprintf("seq-%d", evt.Sequence)))
	return err
}

// EnsureOutboundStream creates the outbound operations stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       OutboundStream,
		Subjects:   []string{OutboundSubjectPrefix + ">"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
