package core

import (
	"MarginLedger/internal/errcode"
	"MarginLedger/internal/event"
	fpmath "MarginLedger/internal/math"
	"MarginLedger/internal/oracle"
	"MarginLedger/internal/state"
	"fmt"
)

var (
	liquidatorDiscount = mustSub(fpmath.One, state.LiquidationLiquidatorFee)
	finalDiscount      = mustSub(liquidatorDiscount, state.LiquidationInsuranceFee)
)

func mustSub(a, b fpmath.I80F48) fpmath.I80F48 {
	v, err := a.Sub(b)
	if err != nil {
		panic(fmt.Sprintf("FATAL: liquidation discount: %v", err))
	}
	return v
}

// handleLiquidate moves AssetAmount of collateral from the liquidatee to the
// liquidator. The liquidator assumes debt worth the collateral less its fee;
// the liquidatee is relieved of debt worth the collateral less both fees and
// the difference is routed to insurance.
func (c *LendingCore) handleLiquidate(tx *txn, e *event.Liquidate, res *Result) error {
	if e.AssetBankID == e.LiabBankID {
		return fmt.Errorf("asset and liability bank are both %s: %w", e.AssetBankID, errcode.ErrIllegalLiquidation)
	}
	if e.LiquidatorID == e.LiquidateeID {
		return fmt.Errorf("account %s cannot liquidate itself: %w", e.LiquidatorID, errcode.ErrIllegalLiquidation)
	}
	if e.AssetAmount == 0 {
		return fmt.Errorf("zero asset amount: %w", errcode.ErrIllegalLiquidation)
	}

	liquidatee, err := tx.usableAccount(e.LiquidateeID)
	if err != nil {
		return err
	}
	liquidator, err := tx.usableAccount(e.LiquidatorID)
	if err != nil {
		return err
	}
	assetBank, err := tx.bank(e.AssetBankID)
	if err != nil {
		return err
	}
	liabBank, err := tx.bank(e.LiabBankID)
	if err != nil {
		return err
	}

	pre, err := tx.engine(liquidatee)
	if err != nil {
		return err
	}
	var cache state.HealthCache
	preHealth, err := pre.CheckPreLiquidation(liabBank.ID, &cache)
	if err != nil {
		return err
	}

	assetPrice, err := c.realTimePrice(assetBank, oracle.BiasLow, tx.now)
	if err != nil {
		return err
	}
	liabPrice, err := c.realTimePrice(liabBank, oracle.BiasHigh, tx.now)
	if err != nil {
		return err
	}

	assetAmount := fpmath.FromUint64(e.AssetAmount)
	liabForLiquidator, err := liabilityEquivalent(assetAmount, assetPrice, assetBank.MintDecimals, liquidatorDiscount, liabPrice, liabBank.MintDecimals)
	if err != nil {
		return err
	}
	liabFinal, err := liabilityEquivalent(assetAmount, assetPrice, assetBank.MintDecimals, finalDiscount, liabPrice, liabBank.MintDecimals)
	if err != nil {
		return err
	}

	// liquidator side
	lw, err := state.FindOrCreateBankAccount(assetBank, liquidator, tx.now)
	if err != nil {
		return err
	}
	if err := lw.IncreaseBalance(assetAmount, state.IncreaseBypassDepositLimit, tx.now); err != nil {
		return err
	}
	lw, err = state.FindOrCreateBankAccount(liabBank, liquidator, tx.now)
	if err != nil {
		return err
	}
	if err := lw.DecreaseBalance(liabForLiquidator, state.DecreaseBypassBorrowLimit, tx.now); err != nil {
		return err
	}

	// liquidatee side
	ew, err := state.FindBankAccount(assetBank, liquidatee)
	if err != nil {
		return fmt.Errorf("liquidatee holds no collateral in bank %s: %w", assetBank.ID, errcode.ErrIllegalLiquidation)
	}
	if err := ew.Withdraw(assetAmount, tx.now); err != nil {
		return err
	}
	ew, err = state.FindBankAccount(liabBank, liquidatee)
	if err != nil {
		return err
	}
	if err := ew.IncreaseBalance(liabFinal, state.IncreaseRepayOnly, tx.now); err != nil {
		return err
	}

	insurance, err := liabForLiquidator.Sub(liabFinal)
	if err != nil {
		return err
	}
	if liabBank.CollectedInsuranceFeesOutstanding, err = liabBank.CollectedInsuranceFeesOutstanding.Add(insurance); err != nil {
		return err
	}
	if res.InsuranceFee, err = insurance.Floor().Uint64(); err != nil {
		return err
	}

	post, err := tx.engine(liquidatee)
	if err != nil {
		return err
	}
	if err := post.CheckPostLiquidation(liabBank.ID, preHealth, &cache); err != nil {
		return err
	}
	liquidatee.HealthCache = cache

	if err := tx.checkInitHealth(liquidator); err != nil {
		return fmt.Errorf("liquidator: %w", err)
	}

	if c.metrics != nil {
		c.metrics.LiquidationsCompleted.WithLabelValues(liabBank.ID.String()).Inc()
	}
	c.logger.Info().
		Str("liquidatee", liquidatee.ID.String()).
		Str("liquidator", liquidator.ID.String()).
		Str("asset_amount", assetAmount.String()).
		Str("liab_repaid", liabFinal.String()).
		Str("insurance_fee", insurance.String()).
		Msg("liquidation")
	return nil
}

// liabilityEquivalent converts an asset amount to the liability amount of the
// same value after a discount.
func liabilityEquivalent(assetAmount, assetPrice fpmath.I80F48, assetDecimals uint8, discount, liabPrice fpmath.I80F48, liabDecimals uint8) (fpmath.I80F48, error) {
	value, err := fpmath.CalcWeightedValue(assetAmount, assetPrice, assetDecimals, discount)
	if err != nil {
		return fpmath.Zero, err
	}
	return fpmath.CalcAmount(value, liabPrice, liabDecimals)
}

func (c *LendingCore) realTimePrice(bank *state.Bank, bias oracle.Bias, now int64) (fpmath.I80F48, error) {
	inputs, err := c.feeds.InputsFor(bank.Config.Oracle)
	if err != nil {
		return fpmath.Zero, err
	}
	feed, err := oracle.Load(bank.Config.Oracle, inputs, now)
	if err != nil {
		return fpmath.Zero, err
	}
	return feed.Price(oracle.RealTime, bias, bank.Config.Oracle.MaxConfidence)
}

// handleBankruptcy settles the bad debt of a bankrupt account in one bank.
// Insurance covers what it can and depositors absorb the rest through the
// asset share value. The account is disabled afterwards.
func (c *LendingCore) handleBankruptcy(tx *txn, e *event.HandleBankruptcy, res *Result) error {
	bank, err := tx.bank(e.BankID)
	if err != nil {
		return err
	}
	if !bank.HasFlag(state.PermissionlessBadDebtSettlement) {
		if err := c.requireAdmin(e.Signer); err != nil {
			return err
		}
	}

	acc, err := tx.account(e.AccountID)
	if err != nil {
		return err
	}
	engine, err := tx.engine(acc)
	if err != nil {
		return err
	}
	var cache state.HealthCache
	if err := engine.CheckAccountBankrupt(&cache); err != nil {
		return err
	}

	w, err := state.FindBankAccount(bank, acc)
	if err != nil {
		return err
	}
	debt, err := bank.LiabilityAmount(w.Balance.LiabilityShares)
	if err != nil {
		return err
	}
	if !debt.GreaterThan(state.ZeroAmountThreshold) {
		return fmt.Errorf("debt %s in bank %s: %w", debt, bank.ID, errcode.ErrBalanceNotBadDebt)
	}

	covered := fpmath.Max(fpmath.Min(debt, bank.CollectedInsuranceFeesOutstanding), fpmath.Zero)
	socialized, err := debt.Sub(covered)
	if err != nil {
		return err
	}
	if bank.CollectedInsuranceFeesOutstanding, err = bank.CollectedInsuranceFeesOutstanding.Sub(covered); err != nil {
		return err
	}
	wiped, err := bank.SocializeLoss(socialized)
	if err != nil {
		return err
	}
	if err := w.IncreaseBalance(debt, state.IncreaseRepayOnly, tx.now); err != nil {
		return err
	}

	acc.SetFlag(state.AccountDisabled)
	acc.HealthCache = cache
	res.CoveredByInsurance, res.Socialized = covered, socialized

	if c.metrics != nil {
		c.metrics.BankruptciesHandled.WithLabelValues(bank.ID.String()).Inc()
	}
	ev := c.logger.Warn().
		Str("account_id", acc.ID.String()).
		Str("bank_id", bank.ID.String()).
		Str("bad_debt", debt.String()).
		Str("covered", covered.String()).
		Str("socialized", socialized.String())
	if wiped {
		ev = ev.Bool("bank_wiped", true)
	}
	ev.Msg("bankruptcy settled")
	return nil
}
