package event

import (
	"MarginLedger/internal/oracle"
	"fmt"
)

// PriceFeedUpdate carries a fresh oracle account image.
type PriceFeedUpdate struct {
	Account   oracle.Account
	Timestamp int64
}

// IdempotencyKey is the feed address plus the receive time; replays of the
// same image are also harmless since older publishes are ignored.
func (p *PriceFeedUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d", p.Account.Key(), p.Timestamp)
}

func (p *PriceFeedUpdate) EventType() EventType { return EventTypePriceFeedUpdate }
func (p *PriceFeedUpdate) At() int64            { return p.Timestamp }
