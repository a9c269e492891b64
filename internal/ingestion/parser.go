package ingestion

import (
	"MarginLedger/internal/event"
	"MarginLedger/internal/oracle"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidMessage marks an inbound message that can never be applied.
// Such messages are acked and dropped rather than redelivered.
var ErrInvalidMessage = errors.New("invalid inbound message")

// ParseRawEvent decodes an inbound message by its subject.
func ParseRawEvent(raw RawEvent) (event.Event, error) {
	switch {
	case strings.HasPrefix(raw.Subject, OracleSubjectPrefix):
		acc, err := oracle.DecodeAccount(raw.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %v: %w", raw.Subject, err, ErrInvalidMessage)
		}
		return &event.PriceFeedUpdate{Account: acc, Timestamp: raw.Timestamp.Unix()}, nil

	case strings.HasPrefix(raw.Subject, OpsSubjectPrefix):
		return ParseOperation(strings.TrimPrefix(raw.Subject, OpsSubjectPrefix), raw.Data)

	default:
		return nil, fmt.Errorf("unknown subject %s: %w", raw.Subject, ErrInvalidMessage)
	}
}

// ParseOperation decodes a JSON operation named opType and checks the fields
// every operation must carry.
func ParseOperation(opType string, data []byte) (event.Event, error) {
	et, err := event.ParseEventType(opType)
	if err != nil || et == event.EventTypePriceFeedUpdate {
		return nil, fmt.Errorf("operation type %q: %w", opType, ErrInvalidMessage)
	}
	evt, err := event.Decode(et, data)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidMessage)
	}

	// operation ids are the idempotency keys of every JSON operation
	if evt.IdempotencyKey() == uuid.Nil.String() {
		return nil, fmt.Errorf("%s: missing operation_id: %w", opType, ErrInvalidMessage)
	}
	if evt.At() <= 0 {
		return nil, fmt.Errorf("%s: missing timestamp: %w", opType, ErrInvalidMessage)
	}
	return evt, nil
}
