package state_test

import (
	"MarginLedger/internal/errcode"
	fpmath "MarginLedger/internal/math"
	"MarginLedger/internal/state"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func newAccount() *state.MarginAccount {
	return state.NewMarginAccount(uuid.New(), uuid.New())
}

func mustWrap(t *testing.T, bank *state.Bank, acc *state.MarginAccount) *state.BankAccountWrapper {
	t.Helper()
	w, err := state.FindOrCreateBankAccount(bank, acc, t0)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	return w
}

func mustFunded(t *testing.T, bank *state.Bank, amount int64) {
	t.Helper()
	if err := mustWrap(t, bank, newAccount()).Deposit(fpmath.FromInt(amount), t0); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
}

// ============================================================================
// Test: deposit / withdraw / borrow / repay policies
// ============================================================================

func TestRepayOnly_CannotFlipIntoDeposit(t *testing.T) {
	bank := newBank(t, testConfig())
	mustFunded(t, bank, 1_000)

	acc := newAccount()
	w := mustWrap(t, bank, acc)
	if err := w.Borrow(fpmath.FromInt(100), t0); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if bank.BorrowingPositionCount != 1 {
		t.Fatalf("borrowing positions: got %d, want 1", bank.BorrowingPositionCount)
	}

	if err := w.Repay(fpmath.FromInt(150), t0); !errors.Is(err, errcode.ErrOperationRepayOnly) {
		t.Fatalf("over-repay: got %v, want ErrOperationRepayOnly", err)
	}

	if err := w.Repay(fpmath.FromInt(100), t0); err != nil {
		t.Fatalf("exact repay: %v", err)
	}
	if _, ok := acc.FindBalance(bank.ID); ok {
		t.Error("fully repaid balance should be closed")
	}
	if bank.BorrowingPositionCount != 0 {
		t.Errorf("borrowing positions: got %d, want 0", bank.BorrowingPositionCount)
	}
}

func TestDepositOnly_RejectsRepayment(t *testing.T) {
	bank := newBank(t, testConfig())
	mustFunded(t, bank, 1_000)

	w := mustWrap(t, bank, newAccount())
	if err := w.Borrow(fpmath.FromInt(10), t0); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := w.Deposit(fpmath.FromInt(5), t0); !errors.Is(err, errcode.ErrOperationDepositOnly) {
		t.Fatalf("got %v, want ErrOperationDepositOnly", err)
	}
}

func TestWithdrawOnly_CannotBorrow(t *testing.T) {
	bank := newBank(t, testConfig())
	mustFunded(t, bank, 1_000)

	w := mustWrap(t, bank, newAccount())
	if err := w.Deposit(fpmath.FromInt(50), t0); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := w.Withdraw(fpmath.FromInt(60), t0); !errors.Is(err, errcode.ErrOperationWithdrawOnly) {
		t.Fatalf("got %v, want ErrOperationWithdrawOnly", err)
	}
}

func TestBorrowOnly_CannotWithdraw(t *testing.T) {
	bank := newBank(t, testConfig())
	mustFunded(t, bank, 1_000)

	w := mustWrap(t, bank, newAccount())
	if err := w.Deposit(fpmath.FromInt(50), t0); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := w.Borrow(fpmath.FromInt(10), t0); !errors.Is(err, errcode.ErrOperationBorrowOnly) {
		t.Fatalf("got %v, want ErrOperationBorrowOnly", err)
	}
}

func TestDeposit_UpdatesSharesAndCounters(t *testing.T) {
	bank := newBank(t, testConfig())
	bank.AssetShareValue = fp("2")

	acc := newAccount()
	w := mustWrap(t, bank, acc)
	if err := w.Deposit(fpmath.FromInt(500), t0); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if w.Balance.AssetShares != fpmath.FromInt(250) {
		t.Errorf("balance shares: got %s, want 250", w.Balance.AssetShares)
	}
	if bank.TotalAssetShares != fpmath.FromInt(250) {
		t.Errorf("bank shares: got %s, want 250", bank.TotalAssetShares)
	}
	if bank.LendingPositionCount != 1 {
		t.Errorf("lending positions: got %d, want 1", bank.LendingPositionCount)
	}

	if err := w.Withdraw(fpmath.FromInt(500), t0); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if bank.LendingPositionCount != 0 || !bank.TotalAssetShares.IsZero() {
		t.Errorf("after full withdraw: positions %d, shares %s", bank.LendingPositionCount, bank.TotalAssetShares)
	}
	if len(acc.ActiveBalances()) != 0 {
		t.Error("drained balance should free its slot")
	}
}

func TestOverdraw_FlipsToBorrowWhenUnconstrained(t *testing.T) {
	bank := newBank(t, testConfig())
	mustFunded(t, bank, 1_000)

	w := mustWrap(t, bank, newAccount())
	if err := w.Deposit(fpmath.FromInt(40), t0); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := w.DecreaseBalance(fpmath.FromInt(100), state.DecreaseAny, t0); err != nil {
		t.Fatalf("decrease: %v", err)
	}
	if w.Balance.Side() != state.SideLiabilities {
		t.Fatalf("side: got %s, want liabilities", w.Balance.Side())
	}
	if w.Balance.LiabilityShares != fpmath.FromInt(60) {
		t.Errorf("liability shares: got %s, want 60", w.Balance.LiabilityShares)
	}
	if bank.LendingPositionCount != 1 || bank.BorrowingPositionCount != 1 {
		t.Errorf("positions: lending %d borrowing %d, want 1 and 1", bank.LendingPositionCount, bank.BorrowingPositionCount)
	}
}

func TestWithdraw_UtilizationGuard(t *testing.T) {
	bank := newBank(t, testConfig())

	lender := mustWrap(t, bank, newAccount())
	if err := lender.Deposit(fpmath.FromInt(100), t0); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := mustWrap(t, bank, newAccount()).Borrow(fpmath.FromInt(50), t0); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := lender.Withdraw(fpmath.FromInt(80), t0); !errors.Is(err, errcode.ErrIllegalUtilizationRatio) {
		t.Fatalf("got %v, want ErrIllegalUtilizationRatio", err)
	}
}

func TestReduceOnlyBank(t *testing.T) {
	bank := newBank(t, testConfig())
	mustFunded(t, bank, 1_000)

	w := mustWrap(t, bank, newAccount())
	if err := w.Borrow(fpmath.FromInt(10), t0); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	bank.Config.OperationalState = state.StateReduceOnly

	if err := mustWrap(t, bank, newAccount()).Deposit(fpmath.FromInt(1), t0); !errors.Is(err, errcode.ErrBankReduceOnly) {
		t.Errorf("deposit: got %v, want ErrBankReduceOnly", err)
	}
	if err := w.Repay(fpmath.FromInt(4), t0); err != nil {
		t.Errorf("repay on reduce-only bank: %v", err)
	}
}

func TestRepay_IntoWipedBank(t *testing.T) {
	bank := newBank(t, testConfig())
	mustFunded(t, bank, 1_000)

	debtor, other := newAccount(), newAccount()
	w := mustWrap(t, bank, debtor)
	if err := w.Borrow(fpmath.FromInt(900), t0); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	o := mustWrap(t, bank, other)
	if err := o.Borrow(fpmath.FromInt(100), t0); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	wiped, err := bank.SocializeLoss(fpmath.FromInt(1_000))
	if err != nil || !wiped {
		t.Fatalf("socialize: wiped=%v err=%v", wiped, err)
	}

	if err := w.Repay(fpmath.FromInt(900), t0); err != nil {
		t.Fatalf("repay after wipe: %v", err)
	}
	if _, ok := debtor.FindBalance(bank.ID); ok {
		t.Error("repaid balance should be closed")
	}
	if err := o.Repay(fpmath.FromInt(40), t0); err != nil {
		t.Fatalf("partial repay after wipe: %v", err)
	}
	if bank.BorrowingPositionCount != 1 {
		t.Errorf("borrowing positions: got %d, want 1", bank.BorrowingPositionCount)
	}
}

// ============================================================================
// Test: withdraw-all / repay-all
// ============================================================================

func TestWithdrawAll_FloorsAndBooksDust(t *testing.T) {
	bank := newBank(t, testConfig())
	acc := newAccount()
	w := mustWrap(t, bank, acc)
	if err := w.Deposit(fpmath.FromInt(2), t0); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	bank.AssetShareValue = fp("1.75")

	out, err := w.WithdrawAll(t0)
	if err != nil {
		t.Fatalf("withdraw all: %v", err)
	}
	if out != 3 {
		t.Errorf("withdrawn: got %d, want 3", out)
	}
	if bank.CollectedInsuranceFeesOutstanding != fp("0.5") {
		t.Errorf("dust: got %s, want 0.5", bank.CollectedInsuranceFeesOutstanding)
	}
	if len(acc.ActiveBalances()) != 0 || bank.LendingPositionCount != 0 {
		t.Error("balance not closed after withdraw all")
	}
}

func TestRepayAll_CeilsOwedAmount(t *testing.T) {
	bank := newBank(t, testConfig())
	mustFunded(t, bank, 1_000)

	w := mustWrap(t, bank, newAccount())
	if err := w.Borrow(fpmath.FromInt(4), t0); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	bank.LiabilityShareValue = fp("1.125")

	out, err := w.RepayAll(t0)
	if err != nil {
		t.Fatalf("repay all: %v", err)
	}
	if out != 5 {
		t.Errorf("repaid: got %d, want 5", out)
	}
	if bank.CollectedInsuranceFeesOutstanding != fp("0.5") {
		t.Errorf("dust: got %s, want 0.5", bank.CollectedInsuranceFeesOutstanding)
	}
	if !bank.TotalLiabilityShares.IsZero() {
		t.Errorf("liability shares left: %s", bank.TotalLiabilityShares)
	}
}

func TestWithdrawAll_NoDeposit(t *testing.T) {
	bank := newBank(t, testConfig())
	w := mustWrap(t, bank, newAccount())
	if _, err := w.WithdrawAll(t0); !errors.Is(err, errcode.ErrNoAssetFound) {
		t.Fatalf("got %v, want ErrNoAssetFound", err)
	}
}

// ============================================================================
// Test: balance invariants
// ============================================================================

func TestBalanceSide_BothSidesPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for a balance holding both sides")
		}
	}()
	b := state.Balance{Active: true, AssetShares: fpmath.FromInt(5), LiabilityShares: fpmath.FromInt(5)}
	b.Side()
}

func TestBalanceSide_DustIsEmpty(t *testing.T) {
	b := state.Balance{Active: true, AssetShares: fp("0.5")}
	if got := b.Side(); got != state.SideEmpty {
		t.Errorf("got %s, want empty", got)
	}
}

func TestAccount_SlotsFull(t *testing.T) {
	acc := newAccount()
	for i := 0; i < state.MaxBalances; i++ {
		if _, err := acc.FindOrCreateBalance(uuid.New(), t0); err != nil {
			t.Fatalf("slot %d: %v", i, err)
		}
	}
	if _, err := acc.FindOrCreateBalance(uuid.New(), t0); !errors.Is(err, errcode.ErrBalanceSlotsFull) {
		t.Fatalf("got %v, want ErrBalanceSlotsFull", err)
	}
}

// ============================================================================
// Test: emissions
// ============================================================================

func emissionsBank(t *testing.T, remaining string) *state.Bank {
	t.Helper()
	bank := newBank(t, testConfig())
	bank.Flags |= state.EmissionsFlagLendingActive
	bank.EmissionsRate = fp("0.1")
	bank.EmissionsRemaining = fp(remaining)
	return bank
}

func TestEmissions_OneYearAtTenPercent(t *testing.T) {
	bank := emissionsBank(t, "1000")
	w := mustWrap(t, bank, newAccount())
	if err := w.Deposit(fpmath.FromInt(1_000_000_000), t0); err != nil { // 1000 UI
		t.Fatalf("deposit: %v", err)
	}

	if err := w.ClaimEmissions(t0 + 31_536_000); err != nil {
		t.Fatalf("claim: %v", err)
	}
	assertClose(t, w.Balance.EmissionsOutstanding, fpmath.FromInt(100), "0.000001")
	assertClose(t, bank.EmissionsRemaining, fpmath.FromInt(900), "0.000001")
	if w.Balance.LastUpdate != t0+31_536_000 {
		t.Errorf("last update: got %d", w.Balance.LastUpdate)
	}
}

func TestEmissions_CappedByRemainingBudget(t *testing.T) {
	bank := emissionsBank(t, "40")
	w := mustWrap(t, bank, newAccount())
	if err := w.Deposit(fpmath.FromInt(1_000_000_000), t0); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := w.ClaimEmissions(t0 + 31_536_000); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if w.Balance.EmissionsOutstanding != fpmath.FromInt(40) {
		t.Errorf("outstanding: got %s, want 40", w.Balance.EmissionsOutstanding)
	}
	if !bank.EmissionsRemaining.IsZero() {
		t.Errorf("remaining: got %s, want 0", bank.EmissionsRemaining)
	}
}

func TestEmissions_InactiveSideEarnsNothing(t *testing.T) {
	bank := emissionsBank(t, "1000")
	bank.Flags = state.EmissionsFlagBorrowActive
	w := mustWrap(t, bank, newAccount())
	if err := w.Deposit(fpmath.FromInt(1_000_000_000), t0); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := w.ClaimEmissions(t0 + 86_400); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !w.Balance.EmissionsOutstanding.IsZero() {
		t.Errorf("outstanding: got %s, want 0", w.Balance.EmissionsOutstanding)
	}
}

func TestBalanceClose_BlockedByOutstandingEmissions(t *testing.T) {
	b := state.Balance{Active: true, EmissionsOutstanding: fpmath.FromInt(2)}
	if err := b.Close(); !errors.Is(err, errcode.ErrCannotCloseOutstandingEmission) {
		t.Fatalf("got %v, want ErrCannotCloseOutstandingEmission", err)
	}
}
