package state

import (
	"MarginLedger/internal/errcode"
	fpmath "MarginLedger/internal/math"
	"fmt"
)

// IncreaseType constrains a balance increase.
type IncreaseType uint8

const (
	IncreaseAny IncreaseType = iota
	IncreaseRepayOnly
	IncreaseDepositOnly
	IncreaseBypassDepositLimit
)

// DecreaseType constrains a balance decrease.
type DecreaseType uint8

const (
	DecreaseAny DecreaseType = iota
	DecreaseWithdrawOnly
	DecreaseBorrowOnly
	DecreaseBypassBorrowLimit
)

// BankAccountWrapper pairs a balance with its bank so that every share
// movement lands on both at once.
type BankAccountWrapper struct {
	Balance *Balance
	Bank    *Bank
}

// FindBankAccount wraps the account's existing balance in bank.
func FindBankAccount(bank *Bank, acc *MarginAccount) (*BankAccountWrapper, error) {
	b, ok := acc.FindBalance(bank.ID)
	if !ok {
		return nil, fmt.Errorf("account %s bank %s: %w", acc.ID, bank.ID, errcode.ErrBalanceNotFound)
	}
	return &BankAccountWrapper{Balance: b, Bank: bank}, nil
}

// FindOrCreateBankAccount wraps the balance in bank, opening one if needed.
func FindOrCreateBankAccount(bank *Bank, acc *MarginAccount, now int64) (*BankAccountWrapper, error) {
	b, err := acc.FindOrCreateBalance(bank.ID, now)
	if err != nil {
		return nil, err
	}
	return &BankAccountWrapper{Balance: b, Bank: bank}, nil
}

func (w *BankAccountWrapper) Deposit(amount fpmath.I80F48, now int64) error {
	return w.IncreaseBalance(amount, IncreaseDepositOnly, now)
}

func (w *BankAccountWrapper) Repay(amount fpmath.I80F48, now int64) error {
	return w.IncreaseBalance(amount, IncreaseRepayOnly, now)
}

func (w *BankAccountWrapper) Withdraw(amount fpmath.I80F48, now int64) error {
	return w.DecreaseBalance(amount, DecreaseWithdrawOnly, now)
}

func (w *BankAccountWrapper) Borrow(amount fpmath.I80F48, now int64) error {
	return w.DecreaseBalance(amount, DecreaseBorrowOnly, now)
}

// IncreaseBalance applies a positive amount: it first cancels liability and
// the remainder becomes a deposit.
func (w *BankAccountWrapper) IncreaseBalance(delta fpmath.I80F48, typ IncreaseType, now int64) error {
	if delta.IsNegative() {
		return fmt.Errorf("increase by %s: %w", delta, errcode.ErrMath)
	}
	if err := w.ClaimEmissions(now); err != nil {
		return err
	}
	bal, bank := w.Balance, w.Bank
	before := bal.Side()

	owed, err := bank.LiabilityAmount(bal.LiabilityShares)
	if err != nil {
		return err
	}
	liabilityDecrease := fpmath.Min(owed, delta)
	assetIncrease, err := delta.Sub(liabilityDecrease)
	if err != nil {
		return err
	}

	switch typ {
	case IncreaseRepayOnly:
		if !assetIncrease.LessThan(ZeroAmountThreshold) {
			return fmt.Errorf("repay %s exceeds debt %s: %w", delta, owed, errcode.ErrOperationRepayOnly)
		}
	case IncreaseDepositOnly:
		if !liabilityDecrease.LessThan(ZeroAmountThreshold) {
			return fmt.Errorf("deposit would repay %s: %w", liabilityDecrease, errcode.ErrOperationDepositOnly)
		}
	}

	if err := bank.AssertOperationalMode(assetIncrease.GreaterThan(ZeroAmountThreshold)); err != nil {
		return err
	}

	assetShares, err := bank.AssetShares(assetIncrease)
	if err != nil {
		return err
	}
	if err := bal.changeAssetShares(assetShares); err != nil {
		return err
	}
	if err := bank.ChangeAssetShares(assetShares, typ == IncreaseBypassDepositLimit); err != nil {
		return err
	}

	// paying off the whole debt cancels every share rather than its rounded equivalent
	liabilityShares := bal.LiabilityShares
	if liabilityDecrease != owed {
		if liabilityShares, err = bank.LiabilityShares(liabilityDecrease); err != nil {
			return err
		}
	}
	if err := w.cancelLiabilityShares(liabilityShares); err != nil {
		return err
	}

	w.settle(before)
	return nil
}

// DecreaseBalance applies a negative amount given as its magnitude: it first
// draws down deposits and the remainder becomes a borrow.
func (w *BankAccountWrapper) DecreaseBalance(delta fpmath.I80F48, typ DecreaseType, now int64) error {
	if delta.IsNegative() {
		return fmt.Errorf("decrease by %s: %w", delta, errcode.ErrMath)
	}
	if err := w.ClaimEmissions(now); err != nil {
		return err
	}
	bal, bank := w.Balance, w.Bank
	before := bal.Side()

	held, err := bank.AssetAmount(bal.AssetShares)
	if err != nil {
		return err
	}
	assetDecrease := fpmath.Min(held, delta)
	liabilityIncrease, err := delta.Sub(assetDecrease)
	if err != nil {
		return err
	}

	switch typ {
	case DecreaseWithdrawOnly:
		if !liabilityIncrease.LessThan(ZeroAmountThreshold) {
			return fmt.Errorf("withdraw %s exceeds deposit %s: %w", delta, held, errcode.ErrOperationWithdrawOnly)
		}
	case DecreaseBorrowOnly:
		if !assetDecrease.LessThan(ZeroAmountThreshold) {
			return fmt.Errorf("borrow would withdraw %s: %w", assetDecrease, errcode.ErrOperationBorrowOnly)
		}
	}

	if err := bank.AssertOperationalMode(liabilityIncrease.GreaterThan(ZeroAmountThreshold)); err != nil {
		return err
	}

	assetShares := bal.AssetShares
	if assetDecrease != held {
		if assetShares, err = bank.AssetShares(assetDecrease); err != nil {
			return err
		}
	}
	if err := w.cancelAssetShares(assetShares); err != nil {
		return err
	}

	liabilityShares, err := bank.LiabilityShares(liabilityIncrease)
	if err != nil {
		return err
	}
	if err := bal.changeLiabilityShares(liabilityShares); err != nil {
		return err
	}
	if err := bank.ChangeLiabilityShares(liabilityShares, typ == DecreaseBypassBorrowLimit); err != nil {
		return err
	}
	if err := bank.CheckUtilizationRatio(); err != nil {
		return err
	}

	w.settle(before)
	return nil
}

func (w *BankAccountWrapper) cancelAssetShares(shares fpmath.I80F48) error {
	neg, err := shares.Neg()
	if err != nil {
		return err
	}
	if err := w.Balance.changeAssetShares(neg); err != nil {
		return err
	}
	return w.Bank.ChangeAssetShares(neg, false)
}

func (w *BankAccountWrapper) cancelLiabilityShares(shares fpmath.I80F48) error {
	neg, err := shares.Neg()
	if err != nil {
		return err
	}
	if err := w.Balance.changeLiabilityShares(neg); err != nil {
		return err
	}
	return w.Bank.ChangeLiabilityShares(neg, true)
}

// settle updates the bank's position counters on a side transition and
// frees the slot once nothing is left in it.
func (w *BankAccountWrapper) settle(before BalanceSide) {
	w.Bank.adjustPositionCounts(before, w.Balance.Side())
	if w.Balance.drained() {
		*w.Balance = Balance{}
	}
}

// WithdrawAll removes the whole deposit and closes the balance. The native
// amount to transfer is floored; the remainder is booked to insurance.
func (w *BankAccountWrapper) WithdrawAll(now int64) (uint64, error) {
	if err := w.ClaimEmissions(now); err != nil {
		return 0, err
	}
	bal, bank := w.Balance, w.Bank
	before := bal.Side()

	shares := bal.AssetShares
	amount, err := bank.AssetAmount(shares)
	if err != nil {
		return 0, err
	}
	if amount.LessThan(ZeroAmountThreshold) {
		return 0, fmt.Errorf("bank %s: %w", bank.ID, errcode.ErrNoAssetFound)
	}
	if err := bank.AssertOperationalMode(false); err != nil {
		return 0, err
	}
	if err := w.cancelAssetShares(shares); err != nil {
		return 0, err
	}
	if err := bank.CheckUtilizationRatio(); err != nil {
		return 0, err
	}

	floor := amount.Floor()
	out, err := floor.Uint64()
	if err != nil {
		return 0, err
	}
	if err := w.bookDust(amount, floor); err != nil {
		return 0, err
	}
	bank.adjustPositionCounts(before, SideEmpty)
	if err := bal.Close(); err != nil {
		return 0, err
	}
	return out, nil
}

// RepayAll clears the whole liability and closes the balance. The native
// amount to collect is ceiled; the excess is booked to insurance.
func (w *BankAccountWrapper) RepayAll(now int64) (uint64, error) {
	if err := w.ClaimEmissions(now); err != nil {
		return 0, err
	}
	bal, bank := w.Balance, w.Bank
	before := bal.Side()

	shares := bal.LiabilityShares
	amount, err := bank.LiabilityAmount(shares)
	if err != nil {
		return 0, err
	}
	if amount.LessThan(ZeroAmountThreshold) {
		return 0, fmt.Errorf("bank %s: %w", bank.ID, errcode.ErrNoLiabilityFound)
	}
	if err := bank.AssertOperationalMode(false); err != nil {
		return 0, err
	}
	if err := w.cancelLiabilityShares(shares); err != nil {
		return 0, err
	}

	ceil, err := amount.Ceil()
	if err != nil {
		return 0, err
	}
	out, err := ceil.Uint64()
	if err != nil {
		return 0, err
	}
	if err := w.bookDust(ceil, amount); err != nil {
		return 0, err
	}
	bank.adjustPositionCounts(before, SideEmpty)
	if err := bal.Close(); err != nil {
		return 0, err
	}
	return out, nil
}

func (w *BankAccountWrapper) bookDust(hi, lo fpmath.I80F48) error {
	dust, err := hi.Sub(lo)
	if err != nil {
		return err
	}
	fees, err := w.Bank.CollectedInsuranceFeesOutstanding.Add(dust)
	if err != nil {
		return err
	}
	w.Bank.CollectedInsuranceFeesOutstanding = fees
	return nil
}
