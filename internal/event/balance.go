package event

import "github.com/google/uuid"

// Deposit credits Amount native units into the account's balance in BankID.
type Deposit struct {
	OperationID uuid.UUID `json:"operation_id"`
	AccountID   uuid.UUID `json:"account_id"`
	BankID      uuid.UUID `json:"bank_id"`
	Amount      uint64    `json:"amount"`
	Timestamp   int64     `json:"timestamp"`
}

func (d *Deposit) IdempotencyKey() string { return d.OperationID.String() }
func (d *Deposit) EventType() EventType   { return EventTypeDeposit }
func (d *Deposit) At() int64              { return d.Timestamp }

// Withdraw removes Amount from a deposit, or the whole deposit when All is set.
type Withdraw struct {
	OperationID uuid.UUID `json:"operation_id"`
	AccountID   uuid.UUID `json:"account_id"`
	BankID      uuid.UUID `json:"bank_id"`
	Amount      uint64    `json:"amount"`
	All         bool      `json:"all"`
	Timestamp   int64     `json:"timestamp"`
}

func (w *Withdraw) IdempotencyKey() string { return w.OperationID.String() }
func (w *Withdraw) EventType() EventType   { return EventTypeWithdraw }
func (w *Withdraw) At() int64              { return w.Timestamp }

type Borrow struct {
	OperationID uuid.UUID `json:"operation_id"`
	AccountID   uuid.UUID `json:"account_id"`
	BankID      uuid.UUID `json:"bank_id"`
	Amount      uint64    `json:"amount"`
	Timestamp   int64     `json:"timestamp"`
}

func (b *Borrow) IdempotencyKey() string { return b.OperationID.String() }
func (b *Borrow) EventType() EventType   { return EventTypeBorrow }
func (b *Borrow) At() int64              { return b.Timestamp }

// Repay pays down Amount of a liability, or all of it when All is set.
type Repay struct {
	OperationID uuid.UUID `json:"operation_id"`
	AccountID   uuid.UUID `json:"account_id"`
	BankID      uuid.UUID `json:"bank_id"`
	Amount      uint64    `json:"amount"`
	All         bool      `json:"all"`
	Timestamp   int64     `json:"timestamp"`
}

func (r *Repay) IdempotencyKey() string { return r.OperationID.String() }
func (r *Repay) EventType() EventType   { return EventTypeRepay }
func (r *Repay) At() int64              { return r.Timestamp }
