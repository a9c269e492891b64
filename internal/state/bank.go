package state

import (
	"MarginLedger/internal/errcode"
	fpmath "MarginLedger/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// Bank is one asset's lending pool. Share values convert market-local shares
// to native amounts and are shared by every balance in the bank, so interest
// accrues without touching individual balances.
type Bank struct {
	ID           uuid.UUID `json:"id"`
	Mint         uuid.UUID `json:"mint"`
	MintDecimals uint8     `json:"mint_decimals"`

	AssetShareValue      fpmath.I80F48 `json:"asset_share_value"`
	LiabilityShareValue  fpmath.I80F48 `json:"liability_share_value"`
	TotalAssetShares     fpmath.I80F48 `json:"total_asset_shares"`
	TotalLiabilityShares fpmath.I80F48 `json:"total_liability_shares"`

	CollectedGroupFeesOutstanding     fpmath.I80F48 `json:"collected_group_fees_outstanding"`
	CollectedInsuranceFeesOutstanding fpmath.I80F48 `json:"collected_insurance_fees_outstanding"`

	LastUpdate int64         `json:"last_update"`
	Rates      InterestRates `json:"rates"`

	Config BankConfig `json:"config"`
	Flags  uint64     `json:"flags"`

	// Reward tokens per UI unit per year, paid from EmissionsRemaining.
	EmissionsMint      uuid.UUID     `json:"emissions_mint"`
	EmissionsRate      fpmath.I80F48 `json:"emissions_rate"`
	EmissionsRemaining fpmath.I80F48 `json:"emissions_remaining"`

	LendingPositionCount   int32 `json:"lending_position_count"`
	BorrowingPositionCount int32 `json:"borrowing_position_count"`

	Emode EmodeSettings `json:"emode"`
}

// NewBank validates cfg and returns a bank with unit share values.
func NewBank(id, mint uuid.UUID, decimals uint8, cfg BankConfig, now int64) (*Bank, error) {
	if _, err := fpmath.Exp10(int(decimals)); err != nil {
		return nil, fmt.Errorf("mint decimals %d: %w", decimals, errcode.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Bank{
		ID:                  id,
		Mint:                mint,
		MintDecimals:        decimals,
		AssetShareValue:     fpmath.One,
		LiabilityShareValue: fpmath.One,
		LastUpdate:          now,
		Config:              cfg,
	}, nil
}

// Clone returns an independent copy. Bank holds no reference types.
func (b *Bank) Clone() *Bank {
	c := *b
	return &c
}

func (b *Bank) HasFlag(flag uint64) bool { return b.Flags&flag == flag }

func (b *Bank) AssetAmount(shares fpmath.I80F48) (fpmath.I80F48, error) {
	return shares.Mul(b.AssetShareValue)
}

func (b *Bank) LiabilityAmount(shares fpmath.I80F48) (fpmath.I80F48, error) {
	return shares.Mul(b.LiabilityShareValue)
}

// AssetShares converts an amount to shares. A zero amount is zero shares
// even in a bank whose share value was wiped to zero.
func (b *Bank) AssetShares(amount fpmath.I80F48) (fpmath.I80F48, error) {
	if amount.IsZero() {
		return fpmath.Zero, nil
	}
	return amount.Div(b.AssetShareValue)
}

func (b *Bank) LiabilityShares(amount fpmath.I80F48) (fpmath.I80F48, error) {
	if amount.IsZero() {
		return fpmath.Zero, nil
	}
	return amount.Div(b.LiabilityShareValue)
}

// ChangeAssetShares moves the bank's total asset shares. Increases are
// checked against the deposit limit unless bypass is set.
func (b *Bank) ChangeAssetShares(delta fpmath.I80F48, bypassLimit bool) error {
	total, err := b.TotalAssetShares.Add(delta)
	if err != nil {
		return err
	}
	if total.IsNegative() {
		return fmt.Errorf("bank %s asset shares %s: %w", b.ID, total, errcode.ErrIllegalBalanceState)
	}
	if delta.IsPositive() && b.Config.IsDepositLimitActive() && !bypassLimit {
		deposits, err := b.AssetAmount(total)
		if err != nil {
			return err
		}
		if !deposits.LessThan(fpmath.FromUint64(b.Config.DepositLimit)) {
			return fmt.Errorf("deposits %s, limit %d: %w", deposits, b.Config.DepositLimit, errcode.ErrBankAssetCapacityExceeded)
		}
	}
	b.TotalAssetShares = total
	return nil
}

// ChangeLiabilityShares mirrors ChangeAssetShares against the borrow limit.
func (b *Bank) ChangeLiabilityShares(delta fpmath.I80F48, bypassLimit bool) error {
	total, err := b.TotalLiabilityShares.Add(delta)
	if err != nil {
		return err
	}
	if total.IsNegative() {
		return fmt.Errorf("bank %s liability shares %s: %w", b.ID, total, errcode.ErrIllegalBalanceState)
	}
	if delta.IsPositive() && b.Config.IsBorrowLimitActive() && !bypassLimit {
		borrows, err := b.LiabilityAmount(total)
		if err != nil {
			return err
		}
		if !borrows.LessThan(fpmath.FromUint64(b.Config.BorrowLimit)) {
			return fmt.Errorf("borrows %s, limit %d: %w", borrows, b.Config.BorrowLimit, errcode.ErrBankLiabilityCapacityExceeded)
		}
	}
	b.TotalLiabilityShares = total
	return nil
}

// CheckUtilizationRatio fails if the bank lent out more than it holds.
func (b *Bank) CheckUtilizationRatio() error {
	assets, err := b.AssetAmount(b.TotalAssetShares)
	if err != nil {
		return err
	}
	liabilities, err := b.LiabilityAmount(b.TotalLiabilityShares)
	if err != nil {
		return err
	}
	if assets.LessThan(liabilities) {
		return fmt.Errorf("assets %s, liabilities %s: %w", assets, liabilities, errcode.ErrIllegalUtilizationRatio)
	}
	return nil
}

// AssertOperationalMode rejects motion the bank's state forbids. increasing
// reports whether the operation grows a deposit or a borrow.
func (b *Bank) AssertOperationalMode(increasing bool) error {
	switch b.Config.OperationalState {
	case StatePaused:
		return fmt.Errorf("bank %s: %w", b.ID, errcode.ErrBankPaused)
	case StateReduceOnly:
		if increasing {
			return fmt.Errorf("bank %s: %w", b.ID, errcode.ErrBankReduceOnly)
		}
	}
	return nil
}

// AssetWeightInitDiscount returns cap/total when the bank's total deposits,
// valued at price, exceed its USD init limit. ok is false otherwise.
func (b *Bank) AssetWeightInitDiscount(price fpmath.I80F48) (discount fpmath.I80F48, ok bool, err error) {
	if !b.Config.UsdInitLimitActive() {
		return fpmath.Zero, false, nil
	}
	deposits, err := b.AssetAmount(b.TotalAssetShares)
	if err != nil {
		return fpmath.Zero, false, err
	}
	total, err := fpmath.CalcValue(deposits, price, b.MintDecimals)
	if err != nil {
		return fpmath.Zero, false, err
	}
	limit := fpmath.FromUint64(b.Config.TotalAssetValueInitLimit)
	if !total.GreaterThan(limit) {
		return fpmath.Zero, false, nil
	}
	discount, err = limit.Div(total)
	if err != nil {
		return fpmath.Zero, false, err
	}
	return discount, true, nil
}

// SocializeLoss spreads uncovered bad debt over depositors by lowering the
// asset share value. This is the only path that decreases a share value. If
// the loss wipes out every deposit the bank is left ReduceOnly with a zero
// share value and wiped is true.
func (b *Bank) SocializeLoss(loss fpmath.I80F48) (wiped bool, err error) {
	if !loss.IsPositive() {
		return false, nil
	}
	total, err := b.AssetAmount(b.TotalAssetShares)
	if err != nil {
		return false, err
	}
	if !loss.LessThan(total) {
		b.AssetShareValue = fpmath.Zero
		b.Config.OperationalState = StateReduceOnly
		return true, nil
	}
	remaining, err := total.Sub(loss)
	if err != nil {
		return false, err
	}
	value, err := remaining.Div(b.TotalAssetShares)
	if err != nil {
		return false, err
	}
	b.AssetShareValue = value
	return false, nil
}

func (b *Bank) adjustPositionCounts(before, after BalanceSide) {
	if before == after {
		return
	}
	switch before {
	case SideAssets:
		b.LendingPositionCount--
	case SideLiabilities:
		b.BorrowingPositionCount--
	}
	switch after {
	case SideAssets:
		b.LendingPositionCount++
	case SideLiabilities:
		b.BorrowingPositionCount++
	}
}
