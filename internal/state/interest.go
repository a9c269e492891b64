package state

import (
	"MarginLedger/internal/errcode"
	fpmath "MarginLedger/internal/math"
	"fmt"
)

// InterestRateConfig describes the utilization curve and the fee split.
// All rates are APRs expressed as fractions.
type InterestRateConfig struct {
	OptimalUtilizationRate fpmath.I80F48 `json:"optimal_utilization_rate"`
	PlateauInterestRate    fpmath.I80F48 `json:"plateau_interest_rate"`
	MaxInterestRate        fpmath.I80F48 `json:"max_interest_rate"`

	InsuranceFeeFixedApr fpmath.I80F48 `json:"insurance_fee_fixed_apr"`
	InsuranceIrFee       fpmath.I80F48 `json:"insurance_ir_fee"`
	ProtocolFixedFeeApr  fpmath.I80F48 `json:"protocol_fixed_fee_apr"`
	ProtocolIrFee        fpmath.I80F48 `json:"protocol_ir_fee"`
}

// InterestRates is one evaluation of the curve.
type InterestRates struct {
	Base            fpmath.I80F48 `json:"base"`
	Lending         fpmath.I80F48 `json:"lending"`
	Borrowing       fpmath.I80F48 `json:"borrowing"`
	GroupFeeApr     fpmath.I80F48 `json:"group_fee_apr"`
	InsuranceFeeApr fpmath.I80F48 `json:"insurance_fee_apr"`
}

func (c *InterestRateConfig) Validate() error {
	if c.OptimalUtilizationRate.IsZero() {
		// an all-zero curve accrues nothing and is allowed
		if c.PlateauInterestRate.IsZero() && c.MaxInterestRate.IsZero() {
			return nil
		}
		return fmt.Errorf("optimal utilization must be positive: %w", errcode.ErrInvalidConfig)
	}
	if !c.OptimalUtilizationRate.LessThan(fpmath.One) {
		return fmt.Errorf("optimal utilization %s must be below 1: %w", c.OptimalUtilizationRate, errcode.ErrInvalidConfig)
	}
	if c.PlateauInterestRate.IsNegative() || c.MaxInterestRate.LessThan(c.PlateauInterestRate) {
		return fmt.Errorf("curve must be non-decreasing (plateau %s, max %s): %w", c.PlateauInterestRate, c.MaxInterestRate, errcode.ErrInvalidConfig)
	}
	for _, fee := range []fpmath.I80F48{c.InsuranceFeeFixedApr, c.InsuranceIrFee, c.ProtocolFixedFeeApr, c.ProtocolIrFee} {
		if fee.IsNegative() {
			return fmt.Errorf("negative fee %s: %w", fee, errcode.ErrInvalidConfig)
		}
	}
	return nil
}

// curve is piecewise linear: 0 -> plateau up to the optimal utilization,
// then plateau -> max at full utilization, extending on the same slope.
func (c *InterestRateConfig) curve(ur fpmath.I80F48) (fpmath.I80F48, error) {
	if c.OptimalUtilizationRate.IsZero() {
		return fpmath.Zero, nil
	}
	if !ur.GreaterThan(c.OptimalUtilizationRate) {
		r, err := ur.Div(c.OptimalUtilizationRate)
		if err != nil {
			return fpmath.Zero, err
		}
		return r.Mul(c.PlateauInterestRate)
	}

	over, err := ur.Sub(c.OptimalUtilizationRate)
	if err != nil {
		return fpmath.Zero, err
	}
	span, err := fpmath.One.Sub(c.OptimalUtilizationRate)
	if err != nil {
		return fpmath.Zero, err
	}
	rise, err := c.MaxInterestRate.Sub(c.PlateauInterestRate)
	if err != nil {
		return fpmath.Zero, err
	}
	r, err := over.Div(span)
	if err != nil {
		return fpmath.Zero, err
	}
	if r, err = r.Mul(rise); err != nil {
		return fpmath.Zero, err
	}
	return r.Add(c.PlateauInterestRate)
}

// Rates evaluates the curve at a utilization ratio.
func (c *InterestRateConfig) Rates(ur fpmath.I80F48) (InterestRates, error) {
	var out InterestRates
	base, err := c.curve(ur)
	if err != nil {
		return out, err
	}
	out.Base = base

	if out.Lending, err = base.Mul(ur); err != nil {
		return out, err
	}

	irFees, err := c.InsuranceIrFee.Add(c.ProtocolIrFee)
	if err != nil {
		return out, err
	}
	fixedFees, err := c.InsuranceFeeFixedApr.Add(c.ProtocolFixedFeeApr)
	if err != nil {
		return out, err
	}
	onePlusFees, err := fpmath.One.Add(irFees)
	if err != nil {
		return out, err
	}
	if out.Borrowing, err = mulAdd(base, onePlusFees, fixedFees); err != nil {
		return out, err
	}
	if out.GroupFeeApr, err = mulAdd(base, c.ProtocolIrFee, c.ProtocolFixedFeeApr); err != nil {
		return out, err
	}
	if out.InsuranceFeeApr, err = mulAdd(base, c.InsuranceIrFee, c.InsuranceFeeFixedApr); err != nil {
		return out, err
	}
	return out, nil
}

// mulAdd returns a*b + c.
func mulAdd(a, b, c fpmath.I80F48) (fpmath.I80F48, error) {
	p, err := a.Mul(b)
	if err != nil {
		return fpmath.Zero, err
	}
	return p.Add(c)
}

// periodFactor returns apr * dt / SecondsPerYear.
func periodFactor(apr fpmath.I80F48, dt int64) (fpmath.I80F48, error) {
	p, err := apr.Mul(fpmath.FromInt(dt))
	if err != nil {
		return fpmath.Zero, err
	}
	return p.Div(SecondsPerYear)
}

// AccrueInterest advances both share values to now and books the group and
// insurance fee cut. Share values never decrease here.
func (b *Bank) AccrueInterest(now int64) error {
	dt := now - b.LastUpdate
	if dt <= 0 {
		return nil
	}

	totalAssets, err := b.AssetAmount(b.TotalAssetShares)
	if err != nil {
		return err
	}
	totalLiabilities, err := b.LiabilityAmount(b.TotalLiabilityShares)
	if err != nil {
		return err
	}
	if !totalAssets.IsPositive() || !totalLiabilities.IsPositive() {
		b.LastUpdate = now
		return nil
	}

	ur, err := totalLiabilities.Div(totalAssets)
	if err != nil {
		return err
	}
	rates, err := b.Config.InterestRate.Rates(ur)
	if err != nil {
		return err
	}

	grow := func(value, apr fpmath.I80F48) (fpmath.I80F48, error) {
		f, err := periodFactor(apr, dt)
		if err != nil {
			return fpmath.Zero, err
		}
		return mulAdd(value, f, value)
	}
	assetValue, err := grow(b.AssetShareValue, rates.Lending)
	if err != nil {
		return fmt.Errorf("accrue asset share value: %w", err)
	}
	liabilityValue, err := grow(b.LiabilityShareValue, rates.Borrowing)
	if err != nil {
		return fmt.Errorf("accrue liability share value: %w", err)
	}

	groupFee, err := periodFactor(rates.GroupFeeApr, dt)
	if err != nil {
		return err
	}
	insuranceFee, err := periodFactor(rates.InsuranceFeeApr, dt)
	if err != nil {
		return err
	}
	groupOutstanding, err := mulAdd(totalLiabilities, groupFee, b.CollectedGroupFeesOutstanding)
	if err != nil {
		return err
	}
	insuranceOutstanding, err := mulAdd(totalLiabilities, insuranceFee, b.CollectedInsuranceFeesOutstanding)
	if err != nil {
		return err
	}

	b.AssetShareValue = assetValue
	b.LiabilityShareValue = liabilityValue
	b.CollectedGroupFeesOutstanding = groupOutstanding
	b.CollectedInsuranceFeesOutstanding = insuranceOutstanding
	b.Rates = rates
	b.LastUpdate = now
	return nil
}
