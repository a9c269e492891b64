package event

import "github.com/google/uuid"

type CreateAccount struct {
	OperationID uuid.UUID `json:"operation_id"`
	AccountID   uuid.UUID `json:"account_id"`
	Authority   uuid.UUID `json:"authority"`
	Timestamp   int64     `json:"timestamp"`
}

func (c *CreateAccount) IdempotencyKey() string { return c.OperationID.String() }
func (c *CreateAccount) EventType() EventType   { return EventTypeCreateAccount }
func (c *CreateAccount) At() int64              { return c.Timestamp }

type CloseAccount struct {
	OperationID uuid.UUID `json:"operation_id"`
	AccountID   uuid.UUID `json:"account_id"`
	Timestamp   int64     `json:"timestamp"`
}

func (c *CloseAccount) IdempotencyKey() string { return c.OperationID.String() }
func (c *CloseAccount) EventType() EventType   { return EventTypeCloseAccount }
func (c *CloseAccount) At() int64              { return c.Timestamp }

// FlashloanStart opens a flashloan window on the account. Risk checks are
// suspended until the matching FlashloanEnd.
type FlashloanStart struct {
	OperationID uuid.UUID `json:"operation_id"`
	AccountID   uuid.UUID `json:"account_id"`
	Timestamp   int64     `json:"timestamp"`
}

func (f *FlashloanStart) IdempotencyKey() string { return f.OperationID.String() }
func (f *FlashloanStart) EventType() EventType   { return EventTypeFlashloanStart }
func (f *FlashloanStart) At() int64              { return f.Timestamp }

type FlashloanEnd struct {
	OperationID uuid.UUID `json:"operation_id"`
	AccountID   uuid.UUID `json:"account_id"`
	Timestamp   int64     `json:"timestamp"`
}

func (f *FlashloanEnd) IdempotencyKey() string { return f.OperationID.String() }
func (f *FlashloanEnd) EventType() EventType   { return EventTypeFlashloanEnd }
func (f *FlashloanEnd) At() int64              { return f.Timestamp }
