package event

import (
	"MarginLedger/internal/state"

	"github.com/google/uuid"
)

// AddBank registers a new bank. Signer must be the group admin.
type AddBank struct {
	OperationID uuid.UUID        `json:"operation_id"`
	Signer      uuid.UUID        `json:"signer"`
	BankID      uuid.UUID        `json:"bank_id"`
	Mint        uuid.UUID        `json:"mint"`
	Decimals    uint8            `json:"decimals"`
	Config      state.BankConfig `json:"config"`
	Flags       uint64           `json:"flags"`
	EmodeTag    uint16           `json:"emode_tag"`
	Timestamp   int64            `json:"timestamp"`
}

func (a *AddBank) IdempotencyKey() string { return a.OperationID.String() }
func (a *AddBank) EventType() EventType   { return EventTypeAddBank }
func (a *AddBank) At() int64              { return a.Timestamp }

// ConfigureBankEmode replaces a bank's emode tag and table.
type ConfigureBankEmode struct {
	OperationID uuid.UUID          `json:"operation_id"`
	Signer      uuid.UUID          `json:"signer"`
	BankID      uuid.UUID          `json:"bank_id"`
	Tag         uint16             `json:"tag"`
	Entries     []state.EmodeEntry `json:"entries"`
	Timestamp   int64              `json:"timestamp"`
}

func (c *ConfigureBankEmode) IdempotencyKey() string { return c.OperationID.String() }
func (c *ConfigureBankEmode) EventType() EventType   { return EventTypeConfigureBankEmode }
func (c *ConfigureBankEmode) At() int64              { return c.Timestamp }

// AccrueInterest advances a bank's share values to Timestamp.
type AccrueInterest struct {
	OperationID uuid.UUID `json:"operation_id"`
	BankID      uuid.UUID `json:"bank_id"`
	Timestamp   int64     `json:"timestamp"`
}

func (a *AccrueInterest) IdempotencyKey() string { return a.OperationID.String() }
func (a *AccrueInterest) EventType() EventType   { return EventTypeAccrueInterest }
func (a *AccrueInterest) At() int64              { return a.Timestamp }
