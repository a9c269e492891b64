package ingestion

import (
	"MarginLedger/internal/core"
	"MarginLedger/internal/oracle"
	"context"
	"fmt"
)

// IngestService applies operations submitted directly, for admin tooling and
// manual injection. They take the same decoding path as NATS messages but are
// applied synchronously so the caller sees the result.
type IngestService struct {
	core Processor
}

func NewIngestService(core Processor) *IngestService {
	return &IngestService{core: core}
}

// Submit decodes and applies one operation.
func (s *IngestService) Submit(ctx context.Context, opType string, data []byte) (*core.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	evt, err := ParseOperation(opType, data)
	if err != nil {
		return nil, err
	}
	return s.core.Process(evt)
}

// SubmitFeed records an oracle image and reports whether it was newer than
// the one held.
func (s *IngestService) SubmitFeed(ctx context.Context, data []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	acc, err := oracle.DecodeAccount(data)
	if err != nil {
		return false, fmt.Errorf("%v: %w", err, ErrInvalidMessage)
	}
	return s.core.UpdatePriceFeed(acc), nil
}
