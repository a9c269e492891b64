package risk

import (
	"MarginLedger/internal/errcode"
	fpmath "MarginLedger/internal/math"
	"MarginLedger/internal/state"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CheckInitHealth gates operations that add risk. The account passes when its
// Initial-regime weighted assets cover its weighted liabilities. cache, if
// given, is reset and also receives best-effort Maintenance and Equity totals.
func (e *Engine) CheckInitHealth(cache *state.HealthCache) error {
	if cache != nil {
		cache.Reset(e.now)
	}

	assets, liabilities, err := e.HealthComponents(state.RequirementInitial, cache)
	if err != nil {
		recordInternal(cache, err)
		return err
	}
	if cache != nil {
		cache.AssetValue, cache.LiabilityValue = assets, liabilities
		e.fillBestEffort(cache)
	}

	if assets.LessThan(liabilities) {
		var rejected error
		if cause := e.firstFeedError(); cause != nil {
			rejected = fmt.Errorf("%w: assets %s below liabilities %s: %w", errcode.ErrRiskEngineInitRejected, assets, liabilities, cause)
		} else {
			rejected = fmt.Errorf("%w: assets %s below liabilities %s", errcode.ErrRiskEngineInitRejected, assets, liabilities)
		}
		recordInternal(cache, rejected)
		return rejected
	}

	if err := e.CheckRiskTiers(); err != nil {
		recordInternal(cache, err)
		return err
	}
	if cache != nil {
		cache.SetFlag(state.HealthCacheHealthy, true)
		cache.SetFlag(state.HealthCacheEngineOK, true)
	}
	return nil
}

// fillBestEffort records Maintenance and Equity totals; failures only leave
// the fields zero.
func (e *Engine) fillBestEffort(cache *state.HealthCache) {
	if a, l, err := e.HealthComponents(state.RequirementMaintenance, nil); err == nil {
		cache.AssetValueMaint, cache.LiabilityValueMaint = a, l
	}
	if a, l, err := e.HealthComponents(state.RequirementEquity, nil); err == nil {
		cache.AssetValueEquity, cache.LiabilityValueEquity = a, l
	}
	cache.SetFlag(state.HealthCacheOracleOK, e.firstFeedError() == nil)
}

func recordInternal(cache *state.HealthCache, err error) {
	if cache == nil {
		return
	}
	cache.InternalErr = errcode.CodeOf(err)
}

// CheckRiskTiers rejects an account that owes into an isolated bank while
// also owing elsewhere.
func (e *Engine) CheckRiskTiers() error {
	liabilities, isolated := 0, false
	for _, pb := range e.balances {
		if pb.balance.IsEmpty(state.SideLiabilities) {
			continue
		}
		liabilities++
		if pb.bank.Config.RiskTier == state.RiskTierIsolated {
			isolated = true
		}
	}
	if isolated && liabilities > 1 {
		return fmt.Errorf("account %s owes %d banks including an isolated one: %w", e.account.ID, liabilities, errcode.ErrIsolatedAccountIllegalState)
	}
	return nil
}

// MaintenanceHealth is weighted assets minus weighted liabilities under the
// Maintenance regime.
func (e *Engine) MaintenanceHealth(cache *state.HealthCache) (fpmath.I80F48, error) {
	assets, liabilities, err := e.HealthComponents(state.RequirementMaintenance, cache)
	if err != nil {
		return fpmath.Zero, err
	}
	if cache != nil {
		cache.AssetValueMaint, cache.LiabilityValueMaint = assets, liabilities
	}
	return assets.Sub(liabilities)
}

// IsLiquidatable reports whether Maintenance health is at or below zero.
func (e *Engine) IsLiquidatable() (bool, error) {
	h, err := e.MaintenanceHealth(nil)
	if err != nil {
		return false, err
	}
	return !h.IsPositive(), nil
}

// CheckPreLiquidation verifies the account owes into liabBank and is not
// healthy under Maintenance. It returns the pre-liquidation health.
func (e *Engine) CheckPreLiquidation(liabBank uuid.UUID, cache *state.HealthCache) (fpmath.I80F48, error) {
	if cache != nil {
		cache.Reset(e.now)
	}
	pb, ok := e.find(liabBank)
	if !ok || pb.balance.IsEmpty(state.SideLiabilities) {
		return fpmath.Zero, fmt.Errorf("account %s has no liability in bank %s: %w", e.account.ID, liabBank, errcode.ErrIllegalLiquidation)
	}

	health, err := e.MaintenanceHealth(cache)
	if err != nil {
		recordLiquidation(cache, err)
		return fpmath.Zero, err
	}
	if health.IsPositive() {
		err := fmt.Errorf("account %s maintenance health %s: %w", e.account.ID, health, errcode.ErrHealthyAccount)
		recordLiquidation(cache, err)
		return fpmath.Zero, err
	}
	return health, nil
}

// CheckPostLiquidation verifies a liquidation improved the account without
// overshooting: the liability must remain, health must stay at or below zero
// and strictly exceed preHealth.
func (e *Engine) CheckPostLiquidation(liabBank uuid.UUID, preHealth fpmath.I80F48, cache *state.HealthCache) error {
	if cache != nil {
		cache.Reset(e.now)
	}
	pb, ok := e.find(liabBank)
	if !ok || pb.balance.IsEmpty(state.SideLiabilities) {
		err := fmt.Errorf("account %s bank %s: %w", e.account.ID, liabBank, errcode.ErrExhaustedLiability)
		recordLiquidation(cache, err)
		return err
	}

	health, err := e.MaintenanceHealth(cache)
	if err != nil {
		recordLiquidation(cache, err)
		return err
	}
	if health.IsPositive() {
		err := fmt.Errorf("post-liquidation health %s: %w", health, errcode.ErrTooSevereLiquidation)
		recordLiquidation(cache, err)
		return err
	}
	if !health.GreaterThan(preHealth) {
		err := fmt.Errorf("post-liquidation health %s, before %s: %w", health, preHealth, errcode.ErrWorseHealthPostLiquidation)
		recordLiquidation(cache, err)
		return err
	}
	if cache != nil {
		cache.SetFlag(state.HealthCacheEngineOK, true)
	}
	return nil
}

func recordLiquidation(cache *state.HealthCache, err error) {
	if cache == nil {
		return
	}
	cache.InternalLiqErr = errcode.CodeOf(err)
}

// IsBankrupt applies the Equity regime: liabilities exceed assets, assets are
// below BankruptThreshold and liabilities above ZeroAmountThreshold.
func (e *Engine) IsBankrupt(cache *state.HealthCache) (bool, error) {
	assets, liabilities, err := e.HealthComponents(state.RequirementEquity, cache)
	if err != nil {
		return false, err
	}
	if cache != nil {
		cache.AssetValueEquity, cache.LiabilityValueEquity = assets, liabilities
	}
	return assets.LessThan(liabilities) &&
		assets.LessThan(state.BankruptThreshold) &&
		liabilities.GreaterThan(state.ZeroAmountThreshold), nil
}

// CheckAccountBankrupt returns ErrAccountNotBankrupt unless IsBankrupt holds.
func (e *Engine) CheckAccountBankrupt(cache *state.HealthCache) error {
	if cache != nil {
		cache.Reset(e.now)
	}
	bankrupt, err := e.IsBankrupt(cache)
	if err == nil && !bankrupt {
		err = fmt.Errorf("account %s: %w", e.account.ID, errcode.ErrAccountNotBankrupt)
	}
	if err != nil {
		if cache != nil {
			cache.InternalBankruptcyErr = errcode.CodeOf(err)
		}
		return err
	}
	if cache != nil {
		cache.SetFlag(state.HealthCacheEngineOK, true)
	}
	return nil
}

func (e *Engine) find(bankID uuid.UUID) (*pricedBalance, bool) {
	for i := range e.balances {
		if e.balances[i].bank.ID == bankID {
			return &e.balances[i], true
		}
	}
	return nil, false
}

// IsOracleRejection reports whether an init-health rejection was caused by a
// price feed failure, which a caller may retry with fresher feeds.
func IsOracleRejection(err error) bool {
	return errors.Is(err, errcode.ErrRiskEngineInitRejected) && errcode.IsOracle(err)
}
