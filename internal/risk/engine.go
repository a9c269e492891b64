// Package risk evaluates the health of a margin account over its active
// balances, their banks and the price feeds supplied for them.
package risk

import (
	"MarginLedger/internal/errcode"
	fpmath "MarginLedger/internal/math"
	"MarginLedger/internal/oracle"
	"MarginLedger/internal/state"
	"fmt"

	"github.com/google/uuid"
)

// BankWithOracles is the caller-supplied input for one active balance: the
// bank it belongs to and the feed images its oracle setup consumes.
type BankWithOracles struct {
	Bank    *state.Bank
	Oracles []oracle.Account
}

type pricedBalance struct {
	balance *state.Balance
	bank    *state.Bank
	feed    oracle.PriceAdapter
	feedErr error
}

// Engine is a read-only view of one account for the duration of a check.
// It never mutates banks or balances; only a caller-owned HealthCache is written.
type Engine struct {
	account  *state.MarginAccount
	balances []pricedBalance
	emode    state.EmodeConfig
	now      int64
}

// New builds an engine over the account's active balances. inputs must follow
// the active balance order. Accounts mid-flashloan are rejected.
func New(acc *state.MarginAccount, inputs []BankWithOracles, now int64) (*Engine, error) {
	if acc.HasFlag(state.AccountInFlashloan) {
		return nil, fmt.Errorf("account %s: %w", acc.ID, errcode.ErrAccountInFlashloan)
	}
	return NewNoFlashloanCheck(acc, inputs, now)
}

// NewNoFlashloanCheck is New without the flashloan guard, for the check that
// closes a flashloan.
func NewNoFlashloanCheck(acc *state.MarginAccount, inputs []BankWithOracles, now int64) (*Engine, error) {
	active := acc.ActiveBalances()
	if len(inputs) < len(active) {
		return nil, fmt.Errorf("%d active balances, %d inputs: %w", len(active), len(inputs), errcode.ErrMissingBankOrOracleInput)
	}

	e := &Engine{account: acc, balances: make([]pricedBalance, 0, len(active)), now: now}
	liabilityTables := make([]state.EmodeConfig, 0, len(active))
	for i, bal := range active {
		in := inputs[i]
		if in.Bank == nil {
			return nil, fmt.Errorf("input %d: %w", i, errcode.ErrMissingBankOrOracleInput)
		}
		if in.Bank.ID != bal.BankID {
			return nil, fmt.Errorf("input %d is bank %s, balance is in %s: %w", i, in.Bank.ID, bal.BankID, errcode.ErrInvalidBankAccount)
		}
		feed, err := oracle.Load(in.Bank.Config.Oracle, in.Oracles, now)
		e.balances = append(e.balances, pricedBalance{balance: bal, bank: in.Bank, feed: feed, feedErr: err})

		if !bal.IsEmpty(state.SideLiabilities) {
			liabilityTables = append(liabilityTables, in.Bank.Emode.Config)
		}
	}
	e.emode = state.ReconcileEmodeConfigs(liabilityTables)
	return e, nil
}

// AccountID is the account the engine was built over.
func (e *Engine) AccountID() uuid.UUID { return e.account.ID }

// Emode returns the table reconciled from the banks the account owes into.
func (e *Engine) Emode() state.EmodeConfig { return e.emode }

// HealthComponents folds every balance into weighted asset and liability
// totals under req. Under the Initial regime an asset whose feed fails is
// counted as zero and the first such failure is recorded in cache; every
// other feed failure is returned. cache may be nil.
func (e *Engine) HealthComponents(req state.RequirementType, cache *state.HealthCache) (assets, liabilities fpmath.I80F48, err error) {
	assets, liabilities = fpmath.Zero, fpmath.Zero
	for i := range e.balances {
		pb := &e.balances[i]
		switch pb.balance.Side() {
		case state.SideAssets:
			v, price, verr := e.assetValue(pb, req)
			if verr != nil {
				if req != state.RequirementInitial || !errcode.IsOracle(verr) {
					return fpmath.Zero, fpmath.Zero, fmt.Errorf("balance %d (bank %s): %w", i, pb.bank.ID, verr)
				}
				recordFirstError(cache, i, verr)
				continue
			}
			if assets, err = assets.Add(v); err != nil {
				return fpmath.Zero, fpmath.Zero, err
			}
			cachePrice(cache, req, i, price)

		case state.SideLiabilities:
			v, price, verr := e.liabilityValue(pb, req)
			if verr != nil {
				return fpmath.Zero, fpmath.Zero, fmt.Errorf("balance %d (bank %s): %w", i, pb.bank.ID, verr)
			}
			if liabilities, err = liabilities.Add(v); err != nil {
				return fpmath.Zero, fpmath.Zero, err
			}
			cachePrice(cache, req, i, price)
		}
	}
	return assets, liabilities, nil
}

func (e *Engine) assetValue(pb *pricedBalance, req state.RequirementType) (value, price fpmath.I80F48, err error) {
	bank := pb.bank
	if bank.Config.RiskTier == state.RiskTierIsolated {
		return fpmath.Zero, fpmath.Zero, nil
	}
	if pb.feedErr != nil {
		return fpmath.Zero, fpmath.Zero, pb.feedErr
	}
	if price, err = pb.feed.Price(req.PriceType(), oracle.BiasLow, bank.Config.Oracle.MaxConfidence); err != nil {
		return fpmath.Zero, fpmath.Zero, err
	}

	weight := bank.Config.Weight(req, state.SideAssets)
	if req != state.RequirementEquity {
		if entry, ok := e.emode.FindWithTag(bank.Emode.Tag); ok {
			emodeWeight := entry.AssetWeightInit
			if req == state.RequirementMaintenance {
				emodeWeight = entry.AssetWeightMaint
			}
			weight = fpmath.Max(weight, emodeWeight)
		}
	}
	if req == state.RequirementInitial {
		discount, ok, derr := bank.AssetWeightInitDiscount(price)
		if derr != nil {
			return fpmath.Zero, fpmath.Zero, derr
		}
		if ok {
			if weight, err = weight.Mul(discount); err != nil {
				return fpmath.Zero, fpmath.Zero, err
			}
		}
	}

	amount, err := bank.AssetAmount(pb.balance.AssetShares)
	if err != nil {
		return fpmath.Zero, fpmath.Zero, err
	}
	value, err = fpmath.CalcWeightedValue(amount, price, bank.MintDecimals, weight)
	return value, price, err
}

func (e *Engine) liabilityValue(pb *pricedBalance, req state.RequirementType) (value, price fpmath.I80F48, err error) {
	bank := pb.bank
	if pb.feedErr != nil {
		return fpmath.Zero, fpmath.Zero, pb.feedErr
	}
	if price, err = pb.feed.Price(req.PriceType(), oracle.BiasHigh, bank.Config.Oracle.MaxConfidence); err != nil {
		return fpmath.Zero, fpmath.Zero, err
	}
	amount, err := bank.LiabilityAmount(pb.balance.LiabilityShares)
	if err != nil {
		return fpmath.Zero, fpmath.Zero, err
	}
	value, err = fpmath.CalcWeightedValue(amount, price, bank.MintDecimals, bank.Config.Weight(req, state.SideLiabilities))
	return value, price, err
}

func recordFirstError(cache *state.HealthCache, index int, err error) {
	if cache == nil || cache.ErrIndex != state.NoErrorIndex {
		return
	}
	cache.ErrIndex = uint8(index)
	cache.MrgnErr = errcode.CodeOf(err)
}

func cachePrice(cache *state.HealthCache, req state.RequirementType, index int, price fpmath.I80F48) {
	if cache == nil || req != state.RequirementInitial {
		return
	}
	cache.Prices[index] = price.Float64()
}

// firstFeedError returns the first load failure across all balances.
func (e *Engine) firstFeedError() error {
	for _, pb := range e.balances {
		if pb.feedErr != nil {
			return pb.feedErr
		}
	}
	return nil
}
