package event

import "github.com/google/uuid"

// EventType discriminator for operation payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeAddBank
	EventTypeCreateAccount
	EventTypeDeposit
	EventTypeWithdraw
	EventTypeBorrow
	EventTypeRepay
	EventTypeLiquidate
	EventTypeHandleBankruptcy
	EventTypeFlashloanStart
	EventTypeFlashloanEnd
	EventTypeConfigureBankEmode
	EventTypeCloseAccount
	EventTypeAccrueInterest
	EventTypePriceFeedUpdate
)

// EventEnvelope wraps every committed operation in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	EventType EventType

	// Primary account touched, uuid.Nil for bank-level operations
	AccountID uuid.UUID

	// Versioned input timestamp, unix seconds
	Timestamp int64

	// JSON-encoded operation
	Payload []byte

	// SHA-256 of state AFTER applying this operation
	StateHash [32]byte

	// Previous operation's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all operation payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	EventType() EventType

	// At returns the operation's clock input in unix seconds. The core never
	// reads the wall clock.
	At() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeAddBank:
		return "AddBank"
	case EventTypeCreateAccount:
		return "CreateAccount"
	case EventTypeDeposit:
		return "Deposit"
	case EventTypeWithdraw:
		return "Withdraw"
	case EventTypeBorrow:
		return "Borrow"
	case EventTypeRepay:
		return "Repay"
	case EventTypeLiquidate:
		return "Liquidate"
	case EventTypeHandleBankruptcy:
		return "HandleBankruptcy"
	case EventTypeFlashloanStart:
		return "FlashloanStart"
	case EventTypeFlashloanEnd:
		return "FlashloanEnd"
	case EventTypeConfigureBankEmode:
		return "ConfigureBankEmode"
	case EventTypeCloseAccount:
		return "CloseAccount"
	case EventTypeAccrueInterest:
		return "AccrueInterest"
	case EventTypePriceFeedUpdate:
		return "PriceFeedUpdate"
	default:
		return "Unknown"
	}
}
