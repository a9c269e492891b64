package state

import (
	"MarginLedger/internal/errcode"
	fpmath "MarginLedger/internal/math"
	"MarginLedger/internal/oracle"
	"fmt"
)

// RiskTier decides whether a bank's deposits can back other banks' debt.
type RiskTier uint8

const (
	RiskTierCollateral RiskTier = iota
	RiskTierIsolated
)

func (r RiskTier) String() string {
	if r == RiskTierIsolated {
		return "Isolated"
	}
	return "Collateral"
}

// OperationalState gates the direction of balance motion a bank accepts.
type OperationalState uint8

const (
	StatePaused OperationalState = iota
	StateOperational
	StateReduceOnly
)

func (s OperationalState) String() string {
	switch s {
	case StatePaused:
		return "Paused"
	case StateOperational:
		return "Operational"
	case StateReduceOnly:
		return "ReduceOnly"
	default:
		return fmt.Sprintf("OperationalState(%d)", uint8(s))
	}
}

// RequirementType is the regime a health evaluation runs under.
type RequirementType uint8

const (
	RequirementInitial RequirementType = iota
	RequirementMaintenance
	RequirementEquity
)

func (r RequirementType) String() string {
	switch r {
	case RequirementInitial:
		return "initial"
	case RequirementMaintenance:
		return "maintenance"
	default:
		return "equity"
	}
}

// PriceType maps the regime to the oracle horizon it prices with.
// Maintenance reacts to the real-time price; the others use the smoothed one.
func (r RequirementType) PriceType() oracle.PriceType {
	if r == RequirementMaintenance {
		return oracle.RealTime
	}
	return oracle.TimeWeighted
}

// BalanceSide is the net direction of a balance.
type BalanceSide uint8

const (
	SideEmpty BalanceSide = iota
	SideAssets
	SideLiabilities
)

func (s BalanceSide) String() string {
	switch s {
	case SideAssets:
		return "assets"
	case SideLiabilities:
		return "liabilities"
	default:
		return "empty"
	}
}

// BankConfig holds the administratively set risk parameters of a bank.
type BankConfig struct {
	AssetWeightInit      fpmath.I80F48 `json:"asset_weight_init"`
	AssetWeightMaint     fpmath.I80F48 `json:"asset_weight_maint"`
	LiabilityWeightInit  fpmath.I80F48 `json:"liability_weight_init"`
	LiabilityWeightMaint fpmath.I80F48 `json:"liability_weight_maint"`

	// Native-unit caps; NoLimit disables them.
	DepositLimit uint64 `json:"deposit_limit"`
	BorrowLimit  uint64 `json:"borrow_limit"`

	// USD cap on total deposits for the Initial-regime discount.
	TotalAssetValueInitLimit uint64 `json:"total_asset_value_init_limit"`

	InterestRate     InterestRateConfig `json:"interest_rate"`
	OperationalState OperationalState   `json:"operational_state"`
	RiskTier         RiskTier           `json:"risk_tier"`
	Oracle           oracle.Config      `json:"oracle"`
}

// DefaultBankConfig is an uncapped, operational collateral bank with neutral
// weights and no oracle.
func DefaultBankConfig() BankConfig {
	return BankConfig{
		AssetWeightInit:      fpmath.One,
		AssetWeightMaint:     fpmath.One,
		LiabilityWeightInit:  fpmath.One,
		LiabilityWeightMaint: fpmath.One,
		DepositLimit:         NoLimit,
		BorrowLimit:          NoLimit,
		OperationalState:     StateOperational,
		RiskTier:             RiskTierCollateral,
	}
}

// Validate checks the weight ordering the risk engine relies on.
func (c *BankConfig) Validate() error {
	if c.AssetWeightInit.IsNegative() || c.AssetWeightInit.GreaterThan(fpmath.One) {
		return fmt.Errorf("asset weight init %s outside [0, 1]: %w", c.AssetWeightInit, errcode.ErrInvalidConfig)
	}
	if c.AssetWeightMaint.LessThan(c.AssetWeightInit) {
		return fmt.Errorf("asset weight maint %s below init %s: %w", c.AssetWeightMaint, c.AssetWeightInit, errcode.ErrInvalidConfig)
	}
	if c.LiabilityWeightInit.LessThan(fpmath.One) {
		return fmt.Errorf("liability weight init %s below 1: %w", c.LiabilityWeightInit, errcode.ErrInvalidConfig)
	}
	if c.LiabilityWeightMaint.LessThan(fpmath.One) || c.LiabilityWeightMaint.GreaterThan(c.LiabilityWeightInit) {
		return fmt.Errorf("liability weight maint %s outside [1, %s]: %w", c.LiabilityWeightMaint, c.LiabilityWeightInit, errcode.ErrInvalidConfig)
	}
	if c.RiskTier == RiskTierIsolated && (!c.AssetWeightInit.IsZero() || !c.AssetWeightMaint.IsZero()) {
		return fmt.Errorf("isolated bank must have zero asset weights: %w", errcode.ErrInvalidConfig)
	}
	if c.OperationalState > StateReduceOnly {
		return fmt.Errorf("operational state %d: %w", c.OperationalState, errcode.ErrInvalidConfig)
	}
	if err := c.InterestRate.Validate(); err != nil {
		return err
	}
	return c.Oracle.Validate()
}

// Weight returns the weight for a regime and side. Equity is always 1.
func (c *BankConfig) Weight(req RequirementType, side BalanceSide) fpmath.I80F48 {
	switch req {
	case RequirementInitial:
		if side == SideLiabilities {
			return c.LiabilityWeightInit
		}
		return c.AssetWeightInit
	case RequirementMaintenance:
		if side == SideLiabilities {
			return c.LiabilityWeightMaint
		}
		return c.AssetWeightMaint
	default:
		return fpmath.One
	}
}

func (c *BankConfig) IsDepositLimitActive() bool { return c.DepositLimit != NoLimit }
func (c *BankConfig) IsBorrowLimitActive() bool  { return c.BorrowLimit != NoLimit }

func (c *BankConfig) UsdInitLimitActive() bool {
	return c.TotalAssetValueInitLimit != TotalAssetValueInitLimitInactive
}
