package core

import (
	"MarginLedger/internal/errcode"
	"MarginLedger/internal/risk"
	"MarginLedger/internal/state"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// txn stages one operation against cloned images. Nothing reaches the
// committed maps unless the operation returns without error.
type txn struct {
	core *LendingCore
	now  int64

	banks    map[uuid.UUID]*state.Bank
	accounts map[uuid.UUID]*state.MarginAccount
	created  map[uuid.UUID]bool
	closed   map[uuid.UUID]bool
}

func (c *LendingCore) begin(now int64) *txn {
	return &txn{
		core:     c,
		now:      now,
		banks:    make(map[uuid.UUID]*state.Bank),
		accounts: make(map[uuid.UUID]*state.MarginAccount),
		created:  make(map[uuid.UUID]bool),
		closed:   make(map[uuid.UUID]bool),
	}
}

// bank returns a mutable clone with interest accrued to now.
func (tx *txn) bank(id uuid.UUID) (*state.Bank, error) {
	if b, ok := tx.banks[id]; ok {
		return b, nil
	}
	committed, ok := tx.core.banks[id]
	if !ok {
		return nil, fmt.Errorf("bank %s: %w", id, errcode.ErrBankNotFound)
	}
	b := committed.Clone()
	if err := b.AccrueInterest(tx.now); err != nil {
		return nil, fmt.Errorf("accrue bank %s: %w", id, err)
	}
	tx.banks[id] = b
	return b, nil
}

// viewBank returns the staged clone when the bank was touched, otherwise the
// committed image. Callers must treat the result as read-only.
func (tx *txn) viewBank(id uuid.UUID) (*state.Bank, bool) {
	if b, ok := tx.banks[id]; ok {
		return b, true
	}
	b, ok := tx.core.banks[id]
	return b, ok
}

func (tx *txn) addBank(b *state.Bank) error {
	if _, ok := tx.viewBank(b.ID); ok {
		return fmt.Errorf("bank %s already registered: %w", b.ID, errcode.ErrIllegalAction)
	}
	tx.banks[b.ID] = b
	return nil
}

func (tx *txn) account(id uuid.UUID) (*state.MarginAccount, error) {
	if a, ok := tx.accounts[id]; ok {
		return a, nil
	}
	committed, ok := tx.core.accounts[id]
	if !ok || tx.closed[id] {
		return nil, fmt.Errorf("account %s: %w", id, errcode.ErrAccountNotFound)
	}
	a := committed.Clone()
	tx.accounts[id] = a
	return a, nil
}

// usableAccount is account plus the disabled-flag gate every mutation applies.
func (tx *txn) usableAccount(id uuid.UUID) (*state.MarginAccount, error) {
	a, err := tx.account(id)
	if err != nil {
		return nil, err
	}
	if err := a.CheckUsable(); err != nil {
		return nil, err
	}
	return a, nil
}

func (tx *txn) createAccount(a *state.MarginAccount) error {
	if _, ok := tx.core.accounts[a.ID]; ok {
		return fmt.Errorf("account %s already exists: %w", a.ID, errcode.ErrIllegalAction)
	}
	if _, ok := tx.accounts[a.ID]; ok {
		return fmt.Errorf("account %s already exists: %w", a.ID, errcode.ErrIllegalAction)
	}
	tx.accounts[a.ID] = a
	tx.created[a.ID] = true
	return nil
}

func (tx *txn) closeAccount(id uuid.UUID) {
	delete(tx.accounts, id)
	tx.closed[id] = true
}

// riskInputs assembles the per-balance bank and oracle inputs in the
// account's active balance order.
func (tx *txn) riskInputs(acc *state.MarginAccount) ([]risk.BankWithOracles, error) {
	active := acc.ActiveBalances()
	inputs := make([]risk.BankWithOracles, 0, len(active))
	for _, bal := range active {
		bank, ok := tx.viewBank(bal.BankID)
		if !ok {
			return nil, fmt.Errorf("balance bank %s: %w", bal.BankID, errcode.ErrMissingBankOrOracleInput)
		}
		feeds, err := tx.core.feeds.InputsFor(bank.Config.Oracle)
		if err != nil {
			return nil, fmt.Errorf("bank %s: %w", bank.ID, err)
		}
		inputs = append(inputs, risk.BankWithOracles{Bank: bank, Oracles: feeds})
	}
	return inputs, nil
}

func (tx *txn) engine(acc *state.MarginAccount) (*risk.Engine, error) {
	inputs, err := tx.riskInputs(acc)
	if err != nil {
		return nil, err
	}
	return risk.New(acc, inputs, tx.now)
}

func (tx *txn) engineNoFlashloanCheck(acc *state.MarginAccount) (*risk.Engine, error) {
	inputs, err := tx.riskInputs(acc)
	if err != nil {
		return nil, err
	}
	return risk.NewNoFlashloanCheck(acc, inputs, tx.now)
}

// checkInitHealth runs the Initial gate and stores its diagnostics on the
// account whether or not it passes.
func (tx *txn) checkInitHealth(acc *state.MarginAccount) error {
	e, err := tx.engine(acc)
	if err != nil {
		return err
	}
	return tx.core.runInitCheck(e, acc)
}

// commit publishes the staged images and returns them, with the ids of closed
// accounts, sorted by id for the state digest.
func (tx *txn) commit() ([]*state.Bank, []*state.MarginAccount, []uuid.UUID) {
	banks := make([]*state.Bank, 0, len(tx.banks))
	for id, b := range tx.banks {
		tx.core.banks[id] = b
		banks = append(banks, b)
	}
	accounts := make([]*state.MarginAccount, 0, len(tx.accounts))
	for id, a := range tx.accounts {
		tx.core.accounts[id] = a
		accounts = append(accounts, a)
	}
	closed := make([]uuid.UUID, 0, len(tx.closed))
	for id := range tx.closed {
		delete(tx.core.accounts, id)
		closed = append(closed, id)
	}

	sort.Slice(banks, func(i, j int) bool { return lessID(banks[i].ID, banks[j].ID) })
	sort.Slice(accounts, func(i, j int) bool { return lessID(accounts[i].ID, accounts[j].ID) })
	sort.Slice(closed, func(i, j int) bool { return lessID(closed[i], closed[j]) })
	return banks, accounts, closed
}

func lessID(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
