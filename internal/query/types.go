package query

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AccountSummary is one projected account image.
type AccountSummary struct {
	AccountID    uuid.UUID       `json:"account_id"`
	Authority    uuid.UUID       `json:"authority"`
	Image        json.RawMessage `json:"image"`
	LastSequence int64           `json:"last_sequence"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// OperationEntry is one logged operation touching an account.
type OperationEntry struct {
	Sequence       int64           `json:"sequence"`
	OpType         string          `json:"op_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Timestamp      time.Time       `json:"timestamp"`
	Payload        json.RawMessage `json:"payload"`
}

// IntegrityReport is the result of a log integrity check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	LatestSequence  int64   `json:"latest_sequence"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	SequenceGaps    []int64 `json:"sequence_gaps,omitempty"`
}
