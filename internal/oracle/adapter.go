// Package oracle turns validated oracle input images into prices.
//
// Every adapter answers the same question: the price at a time horizon,
// optionally shifted by a confidence interval toward the conservative side.
// Loading an adapter checks ownership, layout, identity and staleness before
// any value is exposed, so a returned adapter is always safe to price with.
package oracle

import (
	"MarginLedger/internal/errcode"
	fpmath "MarginLedger/internal/math"
	"fmt"
)

// PriceAdapter is the shared capability of every oracle backend.
type PriceAdapter interface {
	// Price returns the price for the horizon. With a bias, the confidence
	// interval is subtracted (BiasLow) or added (BiasHigh) after being
	// checked against maxConfidence, a fraction of u32::MAX (0 = default).
	Price(kind PriceType, bias Bias, maxConfidence uint32) (fpmath.I80F48, error)
}

// Load builds the adapter a bank's oracle configuration describes from the
// supplied inputs, validating them against the clock.
func Load(cfg Config, inputs []Account, now int64) (PriceAdapter, error) {
	switch cfg.Setup {
	case SetupNone:
		return nil, errcode.ErrOracleNotSetup
	case SetupPythLegacy:
		return nil, errcode.ErrPythLegacyDeprecated
	case SetupSwitchboardV2:
		return nil, errcode.ErrSwitchboardV2Deprecated
	}

	if len(inputs) != cfg.InputCount() {
		return nil, fmt.Errorf("%s wants %d inputs, got %d: %w",
			cfg.Setup, cfg.InputCount(), len(inputs), errcode.ErrWrongNumberOfOracleInputs)
	}

	switch cfg.Setup {
	case SetupPythPush:
		return loadPythPush(inputs[0], cfg.Keys[0], cfg.maxAge(), now)
	case SetupSwitchboardPull:
		return loadSwitchboardPull(inputs[0], cfg.Keys[0], cfg.maxAge(), now)
	case SetupStakedWithPythPush:
		return loadStaked(cfg, inputs, now)
	default:
		return nil, fmt.Errorf("oracle setup %d: %w", cfg.Setup, errcode.ErrOracleNotSetup)
	}
}

// confidenceInterval scales the reported confidence, rejects it if it is
// wider than the bank tolerates and caps it at maxConfInterval of price.
func confidenceInterval(price, reported, multiple fpmath.I80F48, maxConfidence uint32) (fpmath.I80F48, error) {
	interval, err := reported.Mul(multiple)
	if err != nil {
		return fpmath.Zero, err
	}

	tolerance := defaultMaxConfidence
	if maxConfidence != 0 {
		if tolerance, err = fpmath.FromUint64(uint64(maxConfidence)).Div(u32Max); err != nil {
			return fpmath.Zero, err
		}
	}
	limit, err := price.Mul(tolerance)
	if err != nil {
		return fpmath.Zero, err
	}
	if interval.GreaterThan(limit) {
		return fpmath.Zero, fmt.Errorf("interval %s over limit %s: %w", interval, limit, errcode.ErrOracleMaxConfidenceExceeded)
	}

	hardCap, err := price.Mul(maxConfInterval)
	if err != nil {
		return fpmath.Zero, err
	}
	return fpmath.Min(interval, hardCap), nil
}

func applyBias(price, reported, multiple fpmath.I80F48, bias Bias, maxConfidence uint32) (fpmath.I80F48, error) {
	if bias == BiasNone {
		return price, nil
	}
	interval, err := confidenceInterval(price, reported, multiple, maxConfidence)
	if err != nil {
		return fpmath.Zero, err
	}
	if bias == BiasLow {
		return price.Sub(interval)
	}
	return price.Add(interval)
}
