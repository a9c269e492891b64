package event

import "github.com/google/uuid"

// Liquidate has the liquidator take AssetAmount of the liquidatee's collateral
// in AssetBankID at a discount, assuming the matching debt in LiabBankID.
type Liquidate struct {
	OperationID  uuid.UUID `json:"operation_id"`
	LiquidatorID uuid.UUID `json:"liquidator_id"`
	LiquidateeID uuid.UUID `json:"liquidatee_id"`
	AssetBankID  uuid.UUID `json:"asset_bank_id"`
	LiabBankID   uuid.UUID `json:"liab_bank_id"`
	AssetAmount  uint64    `json:"asset_amount"`
	Timestamp    int64     `json:"timestamp"`
}

func (l *Liquidate) IdempotencyKey() string { return l.OperationID.String() }
func (l *Liquidate) EventType() EventType   { return EventTypeLiquidate }
func (l *Liquidate) At() int64              { return l.Timestamp }

// HandleBankruptcy settles a bankrupt account's bad debt in BankID from
// insurance, socializing the rest.
type HandleBankruptcy struct {
	OperationID uuid.UUID `json:"operation_id"`
	Signer      uuid.UUID `json:"signer"`
	AccountID   uuid.UUID `json:"account_id"`
	BankID      uuid.UUID `json:"bank_id"`
	Timestamp   int64     `json:"timestamp"`
}

func (h *HandleBankruptcy) IdempotencyKey() string { return h.OperationID.String() }
func (h *HandleBankruptcy) EventType() EventType   { return EventTypeHandleBankruptcy }
func (h *HandleBankruptcy) At() int64              { return h.Timestamp }
