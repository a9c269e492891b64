package state

import (
	"MarginLedger/internal/errcode"
	"fmt"

	"github.com/google/uuid"
)

// MarginAccount is one user's position: a fixed arena of balance slots plus
// account flags and the diagnostics of the last risk evaluation.
type MarginAccount struct {
	ID        uuid.UUID `json:"id"`
	Authority uuid.UUID `json:"authority"`

	Balances [MaxBalances]Balance `json:"balances"`
	Flags    uint64               `json:"flags"`

	HealthCache HealthCache `json:"health_cache"`
}

func NewMarginAccount(id, authority uuid.UUID) *MarginAccount {
	return &MarginAccount{ID: id, Authority: authority}
}

// Clone returns an independent copy. MarginAccount holds no reference types.
func (a *MarginAccount) Clone() *MarginAccount {
	c := *a
	return &c
}

func (a *MarginAccount) HasFlag(flag uint64) bool { return a.Flags&flag == flag }
func (a *MarginAccount) SetFlag(flag uint64)      { a.Flags |= flag }
func (a *MarginAccount) UnsetFlag(flag uint64)    { a.Flags &^= flag }

// ActiveBalances returns the active slots in slot order. Remaining inputs
// supplied to the risk engine follow the same order.
func (a *MarginAccount) ActiveBalances() []*Balance {
	out := make([]*Balance, 0, MaxBalances)
	for i := range a.Balances {
		if a.Balances[i].Active {
			out = append(out, &a.Balances[i])
		}
	}
	return out
}

// FindBalance returns the active balance for a bank.
func (a *MarginAccount) FindBalance(bankID uuid.UUID) (*Balance, bool) {
	for i := range a.Balances {
		if a.Balances[i].Active && a.Balances[i].BankID == bankID {
			return &a.Balances[i], true
		}
	}
	return nil, false
}

// FindOrCreateBalance returns the balance for a bank, claiming the first free
// slot if there is none. A new balance starts its emissions clock at now.
func (a *MarginAccount) FindOrCreateBalance(bankID uuid.UUID, now int64) (*Balance, error) {
	if b, ok := a.FindBalance(bankID); ok {
		return b, nil
	}
	for i := range a.Balances {
		if !a.Balances[i].Active {
			a.Balances[i] = Balance{Active: true, BankID: bankID, LastUpdate: now}
			return &a.Balances[i], nil
		}
	}
	return nil, fmt.Errorf("account %s: %w", a.ID, errcode.ErrBalanceSlotsFull)
}

// CanBeClosed reports whether the account holds nothing and is idle.
func (a *MarginAccount) CanBeClosed() bool {
	if a.HasFlag(AccountInFlashloan) || a.HasFlag(AccountDisabled) {
		return false
	}
	for i := range a.Balances {
		if a.Balances[i].Active {
			return false
		}
	}
	return true
}

// CheckUsable rejects mutations on disabled accounts.
func (a *MarginAccount) CheckUsable() error {
	if a.HasFlag(AccountDisabled) {
		return fmt.Errorf("account %s: %w", a.ID, errcode.ErrAccountDisabled)
	}
	return nil
}
