package state

import (
	"MarginLedger/internal/errcode"
	fpmath "MarginLedger/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// Balance is one account's stake in one bank.
type Balance struct {
	Active               bool          `json:"active"`
	BankID               uuid.UUID     `json:"bank_id"`
	AssetShares          fpmath.I80F48 `json:"asset_shares"`
	LiabilityShares      fpmath.I80F48 `json:"liability_shares"`
	EmissionsOutstanding fpmath.I80F48 `json:"emissions_outstanding"`
	LastUpdate           int64         `json:"last_update"`
}

// Side classifies the balance. Both sides above the empty threshold at once
// is a ledger corruption and panics.
func (b *Balance) Side() BalanceSide {
	assets := !b.AssetShares.LessThan(EmptyBalanceThreshold)
	liabilities := !b.LiabilityShares.LessThan(EmptyBalanceThreshold)
	switch {
	case assets && liabilities:
		panic(fmt.Sprintf("FATAL: balance in bank %s holds assets %s and liabilities %s",
			b.BankID, b.AssetShares, b.LiabilityShares))
	case liabilities:
		return SideLiabilities
	case assets:
		return SideAssets
	default:
		return SideEmpty
	}
}

// IsEmpty reports whether one side is below the empty threshold.
func (b *Balance) IsEmpty(side BalanceSide) bool {
	switch side {
	case SideAssets:
		return b.AssetShares.LessThan(EmptyBalanceThreshold)
	case SideLiabilities:
		return b.LiabilityShares.LessThan(EmptyBalanceThreshold)
	default:
		return true
	}
}

func (b *Balance) changeAssetShares(delta fpmath.I80F48) error {
	v, err := b.AssetShares.Add(delta)
	if err != nil {
		return err
	}
	if v.IsNegative() {
		return fmt.Errorf("balance asset shares %s: %w", v, errcode.ErrIllegalBalanceState)
	}
	b.AssetShares = v
	return nil
}

func (b *Balance) changeLiabilityShares(delta fpmath.I80F48) error {
	v, err := b.LiabilityShares.Add(delta)
	if err != nil {
		return err
	}
	if v.IsNegative() {
		return fmt.Errorf("balance liability shares %s: %w", v, errcode.ErrIllegalBalanceState)
	}
	b.LiabilityShares = v
	return nil
}

// Close clears the slot. Unclaimed emissions of a whole token or more block it.
func (b *Balance) Close() error {
	if !b.EmissionsOutstanding.LessThan(fpmath.One) {
		return fmt.Errorf("bank %s outstanding %s: %w", b.BankID, b.EmissionsOutstanding, errcode.ErrCannotCloseOutstandingEmission)
	}
	*b = Balance{}
	return nil
}

func (b *Balance) drained() bool {
	return b.AssetShares.IsZero() && b.LiabilityShares.IsZero() && b.EmissionsOutstanding.IsZero()
}
