package core

import (
	"MarginLedger/internal/errcode"
	"MarginLedger/internal/event"
	fpmath "MarginLedger/internal/math"
	"MarginLedger/internal/state"
	"fmt"

	"github.com/google/uuid"
)

func (c *LendingCore) requireAdmin(signer uuid.UUID) error {
	if c.admin == uuid.Nil || signer != c.admin {
		return fmt.Errorf("signer %s is not the group admin: %w", signer, errcode.ErrUnauthorized)
	}
	return nil
}

func (c *LendingCore) handleAddBank(tx *txn, e *event.AddBank) error {
	if err := c.requireAdmin(e.Signer); err != nil {
		return err
	}
	bank, err := state.NewBank(e.BankID, e.Mint, e.Decimals, e.Config, e.Timestamp)
	if err != nil {
		return err
	}
	bank.Flags = e.Flags
	bank.Emode.Tag = e.EmodeTag
	return tx.addBank(bank)
}

func (c *LendingCore) handleConfigureBankEmode(tx *txn, e *event.ConfigureBankEmode) error {
	if err := c.requireAdmin(e.Signer); err != nil {
		return err
	}
	bank, err := tx.bank(e.BankID)
	if err != nil {
		return err
	}
	if bank.HasFlag(state.FreezeSettings) {
		return fmt.Errorf("bank %s settings are frozen: %w", bank.ID, errcode.ErrUnauthorized)
	}
	table, err := state.NewEmodeConfig(e.Entries)
	if err != nil {
		return err
	}
	bank.Emode = state.EmodeSettings{Tag: e.Tag, Config: table, Timestamp: e.Timestamp}
	return nil
}

func (c *LendingCore) handleCreateAccount(tx *txn, e *event.CreateAccount) error {
	return tx.createAccount(state.NewMarginAccount(e.AccountID, e.Authority))
}

func (c *LendingCore) handleCloseAccount(tx *txn, e *event.CloseAccount) error {
	acc, err := tx.account(e.AccountID)
	if err != nil {
		return err
	}
	if !acc.CanBeClosed() {
		return fmt.Errorf("account %s cannot be closed: %w", acc.ID, errcode.ErrIllegalAction)
	}
	tx.closeAccount(acc.ID)
	return nil
}

func (c *LendingCore) handleDeposit(tx *txn, e *event.Deposit) error {
	acc, err := tx.usableAccount(e.AccountID)
	if err != nil {
		return err
	}
	bank, err := tx.bank(e.BankID)
	if err != nil {
		return err
	}
	w, err := state.FindOrCreateBankAccount(bank, acc, tx.now)
	if err != nil {
		return err
	}
	return w.Deposit(fpmath.FromUint64(e.Amount), tx.now)
}

func (c *LendingCore) handleWithdraw(tx *txn, e *event.Withdraw, res *Result) error {
	acc, err := tx.usableAccount(e.AccountID)
	if err != nil {
		return err
	}
	bank, err := tx.bank(e.BankID)
	if err != nil {
		return err
	}
	w, err := state.FindBankAccount(bank, acc)
	if err != nil {
		return err
	}

	if e.All {
		if res.Amount, err = w.WithdrawAll(tx.now); err != nil {
			return err
		}
	} else {
		if err := w.Withdraw(fpmath.FromUint64(e.Amount), tx.now); err != nil {
			return err
		}
		res.Amount = e.Amount
	}
	return c.gateRisk(tx, acc)
}

func (c *LendingCore) handleBorrow(tx *txn, e *event.Borrow) error {
	acc, err := tx.usableAccount(e.AccountID)
	if err != nil {
		return err
	}
	bank, err := tx.bank(e.BankID)
	if err != nil {
		return err
	}
	w, err := state.FindOrCreateBankAccount(bank, acc, tx.now)
	if err != nil {
		return err
	}
	if err := w.Borrow(fpmath.FromUint64(e.Amount), tx.now); err != nil {
		return err
	}
	return c.gateRisk(tx, acc)
}

func (c *LendingCore) handleRepay(tx *txn, e *event.Repay, res *Result) error {
	acc, err := tx.usableAccount(e.AccountID)
	if err != nil {
		return err
	}
	bank, err := tx.bank(e.BankID)
	if err != nil {
		return err
	}
	w, err := state.FindBankAccount(bank, acc)
	if err != nil {
		return err
	}
	if e.All {
		res.Amount, err = w.RepayAll(tx.now)
		return err
	}
	res.Amount = e.Amount
	return w.Repay(fpmath.FromUint64(e.Amount), tx.now)
}

// gateRisk runs the Initial check after a risk-adding operation. Inside a
// flashloan the check is deferred to FlashloanEnd.
func (c *LendingCore) gateRisk(tx *txn, acc *state.MarginAccount) error {
	if acc.HasFlag(state.AccountInFlashloan) {
		return nil
	}
	return tx.checkInitHealth(acc)
}

func (c *LendingCore) handleFlashloanStart(tx *txn, e *event.FlashloanStart) error {
	acc, err := tx.usableAccount(e.AccountID)
	if err != nil {
		return err
	}
	if acc.HasFlag(state.AccountInFlashloan) {
		return fmt.Errorf("account %s: %w", acc.ID, errcode.ErrAccountInFlashloan)
	}
	acc.SetFlag(state.AccountInFlashloan)
	return nil
}

func (c *LendingCore) handleFlashloanEnd(tx *txn, e *event.FlashloanEnd) error {
	acc, err := tx.account(e.AccountID)
	if err != nil {
		return err
	}
	if !acc.HasFlag(state.AccountInFlashloan) {
		return fmt.Errorf("account %s is not in a flashloan: %w", acc.ID, errcode.ErrIllegalFlashloan)
	}
	acc.UnsetFlag(state.AccountInFlashloan)

	engine, err := tx.engineNoFlashloanCheck(acc)
	if err != nil {
		return err
	}
	return c.runInitCheck(engine, acc)
}
