package config

import (
	"MarginLedger/internal/event"
	fpmath "MarginLedger/internal/math"
	"MarginLedger/internal/oracle"
	"MarginLedger/internal/state"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// bootstrapNamespace derives operation ids for catalogue operations, so a
// restart resubmits the same keys and the ledger dedupes them.
var bootstrapNamespace = uuid.MustParse("6f1f3a52-6c1e-4c1b-9d65-0e7a50f4e21b")

// Markets is the bank catalogue loaded at startup.
type Markets struct {
	Admin string       `yaml:"admin"`
	Banks []BankMarket `yaml:"banks"`
}

type BankMarket struct {
	ID       string   `yaml:"id"`
	Mint     string   `yaml:"mint"`
	Decimals uint8    `yaml:"decimals"`
	Flags    []string `yaml:"flags"`
	EmodeTag uint16   `yaml:"emode_tag"`

	// Weights and rates are decimal strings to keep them exact.
	AssetWeightInit      string `yaml:"asset_weight_init"`
	AssetWeightMaint     string `yaml:"asset_weight_maint"`
	LiabilityWeightInit  string `yaml:"liability_weight_init"`
	LiabilityWeightMaint string `yaml:"liability_weight_maint"`

	// Zero leaves a cap disabled.
	DepositLimit             uint64 `yaml:"deposit_limit"`
	BorrowLimit              uint64 `yaml:"borrow_limit"`
	TotalAssetValueInitLimit uint64 `yaml:"total_asset_value_init_limit"`

	OperationalState string `yaml:"operational_state"`
	RiskTier         string `yaml:"risk_tier"`

	InterestRate InterestCurve `yaml:"interest_rate"`
	Oracle       OracleMarket  `yaml:"oracle"`
	Emode        []EmodeMarket `yaml:"emode"`
}

type InterestCurve struct {
	OptimalUtilizationRate string `yaml:"optimal_utilization_rate"`
	PlateauInterestRate    string `yaml:"plateau_interest_rate"`
	MaxInterestRate        string `yaml:"max_interest_rate"`
	InsuranceFeeFixedApr   string `yaml:"insurance_fee_fixed_apr"`
	InsuranceIrFee         string `yaml:"insurance_ir_fee"`
	ProtocolFixedFeeApr    string `yaml:"protocol_fixed_fee_apr"`
	ProtocolIrFee          string `yaml:"protocol_ir_fee"`
}

type OracleMarket struct {
	Setup         string   `yaml:"setup"`
	Keys          []string `yaml:"keys"`
	MaxAge        uint16   `yaml:"max_age"`
	MaxConfidence uint32   `yaml:"max_confidence"`
}

type EmodeMarket struct {
	CollateralTag     uint16 `yaml:"collateral_tag"`
	AssetWeightInit   string `yaml:"asset_weight_init"`
	AssetWeightMaint  string `yaml:"asset_weight_maint"`
	AppliesToIsolated bool   `yaml:"applies_to_isolated"`
}

var bankFlags = map[string]uint64{
	"permissionless_bad_debt_settlement": state.PermissionlessBadDebtSettlement,
	"freeze_settings":                    state.FreezeSettings,
}

// LoadMarkets reads and validates a catalogue file.
func LoadMarkets(path string) (*Markets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read markets file: %w", err)
	}
	return ParseMarkets(data)
}

func ParseMarkets(data []byte) (*Markets, error) {
	var m Markets
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse markets: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid markets: %w", err)
	}
	return &m, nil
}

// Validate converts every bank once so a bad entry fails at load time.
func (m *Markets) Validate() error {
	if _, err := uuid.Parse(m.Admin); err != nil {
		return fmt.Errorf("admin %q: %w", m.Admin, err)
	}
	seen := make(map[string]bool, len(m.Banks))
	for i := range m.Banks {
		b := &m.Banks[i]
		if seen[b.ID] {
			return fmt.Errorf("bank %s listed twice", b.ID)
		}
		seen[b.ID] = true
		add, err := b.AddBank(uuid.Nil, 0)
		if err != nil {
			return err
		}
		entries, err := b.emodeEntries()
		if err != nil {
			return err
		}
		// a frozen bank refuses the emode operation that follows its creation
		if len(entries) > 0 && add.Flags&state.FreezeSettings != 0 {
			return fmt.Errorf("bank %s: freeze_settings with an emode table", b.ID)
		}
	}
	return nil
}

// BootstrapOps returns the admin operations that create every bank and
// install its emode table. Operation ids are derived from the bank id.
func (m *Markets) BootstrapOps(now int64) ([]event.Event, error) {
	admin, err := uuid.Parse(m.Admin)
	if err != nil {
		return nil, fmt.Errorf("admin %q: %w", m.Admin, err)
	}
	ops := make([]event.Event, 0, len(m.Banks)*2)
	for i := range m.Banks {
		b := &m.Banks[i]
		add, err := b.AddBank(admin, now)
		if err != nil {
			return nil, err
		}
		ops = append(ops, add)

		entries, err := b.emodeEntries()
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			continue
		}
		ops = append(ops, &event.ConfigureBankEmode{
			OperationID: uuid.NewSHA1(bootstrapNamespace, []byte("emode:"+add.BankID.String())),
			Signer:      admin,
			BankID:      add.BankID,
			Tag:         b.EmodeTag,
			Entries:     entries,
			Timestamp:   now,
		})
	}
	return ops, nil
}

// AddBank builds the creation operation for one catalogue entry.
func (b *BankMarket) AddBank(admin uuid.UUID, now int64) (*event.AddBank, error) {
	id, err := uuid.Parse(b.ID)
	if err != nil {
		return nil, fmt.Errorf("bank id %q: %w", b.ID, err)
	}
	mint, err := uuid.Parse(b.Mint)
	if err != nil {
		return nil, fmt.Errorf("bank %s mint %q: %w", b.ID, b.Mint, err)
	}
	cfg, err := b.bankConfig()
	if err != nil {
		return nil, fmt.Errorf("bank %s: %w", b.ID, err)
	}
	var flags uint64
	for _, name := range b.Flags {
		f, ok := bankFlags[name]
		if !ok {
			return nil, fmt.Errorf("bank %s: unknown flag %q", b.ID, name)
		}
		flags |= f
	}
	return &event.AddBank{
		OperationID: uuid.NewSHA1(bootstrapNamespace, []byte("bank:"+id.String())),
		Signer:      admin,
		BankID:      id,
		Mint:        mint,
		Decimals:    b.Decimals,
		Config:      cfg,
		Flags:       flags,
		EmodeTag:    b.EmodeTag,
		Timestamp:   now,
	}, nil
}

func (b *BankMarket) bankConfig() (state.BankConfig, error) {
	cfg := state.DefaultBankConfig()
	p := fractionParser{}

	p.into(&cfg.AssetWeightInit, "asset_weight_init", b.AssetWeightInit)
	p.into(&cfg.AssetWeightMaint, "asset_weight_maint", b.AssetWeightMaint)
	p.into(&cfg.LiabilityWeightInit, "liability_weight_init", b.LiabilityWeightInit)
	p.into(&cfg.LiabilityWeightMaint, "liability_weight_maint", b.LiabilityWeightMaint)

	ir := &cfg.InterestRate
	p.into(&ir.OptimalUtilizationRate, "optimal_utilization_rate", b.InterestRate.OptimalUtilizationRate)
	p.into(&ir.PlateauInterestRate, "plateau_interest_rate", b.InterestRate.PlateauInterestRate)
	p.into(&ir.MaxInterestRate, "max_interest_rate", b.InterestRate.MaxInterestRate)
	p.into(&ir.InsuranceFeeFixedApr, "insurance_fee_fixed_apr", b.InterestRate.InsuranceFeeFixedApr)
	p.into(&ir.InsuranceIrFee, "insurance_ir_fee", b.InterestRate.InsuranceIrFee)
	p.into(&ir.ProtocolFixedFeeApr, "protocol_fixed_fee_apr", b.InterestRate.ProtocolFixedFeeApr)
	p.into(&ir.ProtocolIrFee, "protocol_ir_fee", b.InterestRate.ProtocolIrFee)
	if p.err != nil {
		return cfg, p.err
	}

	if b.DepositLimit != 0 {
		cfg.DepositLimit = b.DepositLimit
	}
	if b.BorrowLimit != 0 {
		cfg.BorrowLimit = b.BorrowLimit
	}
	cfg.TotalAssetValueInitLimit = b.TotalAssetValueInitLimit

	switch b.OperationalState {
	case "", "operational":
		cfg.OperationalState = state.StateOperational
	case "paused":
		cfg.OperationalState = state.StatePaused
	case "reduce_only":
		cfg.OperationalState = state.StateReduceOnly
	default:
		return cfg, fmt.Errorf("unknown operational_state %q", b.OperationalState)
	}
	switch b.RiskTier {
	case "", "collateral":
		cfg.RiskTier = state.RiskTierCollateral
	case "isolated":
		cfg.RiskTier = state.RiskTierIsolated
	default:
		return cfg, fmt.Errorf("unknown risk_tier %q", b.RiskTier)
	}

	oc, err := b.Oracle.config()
	if err != nil {
		return cfg, err
	}
	cfg.Oracle = oc

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (o OracleMarket) config() (oracle.Config, error) {
	var cfg oracle.Config
	setup, err := oracle.ParseSetup(o.Setup)
	if err != nil {
		return cfg, err
	}
	if len(o.Keys) > oracle.MaxOracleKeys {
		return cfg, fmt.Errorf("%d oracle keys, at most %d", len(o.Keys), oracle.MaxOracleKeys)
	}
	cfg.Setup = setup
	for i, k := range o.Keys {
		if cfg.Keys[i], err = uuid.Parse(k); err != nil {
			return cfg, fmt.Errorf("oracle key %q: %w", k, err)
		}
	}
	cfg.MaxAge = o.MaxAge
	cfg.MaxConfidence = o.MaxConfidence
	return cfg, nil
}

func (b *BankMarket) emodeEntries() ([]state.EmodeEntry, error) {
	entries := make([]state.EmodeEntry, 0, len(b.Emode))
	for _, e := range b.Emode {
		entry := state.EmodeEntry{CollateralTag: e.CollateralTag}
		p := fractionParser{}
		p.into(&entry.AssetWeightInit, "emode asset_weight_init", e.AssetWeightInit)
		p.into(&entry.AssetWeightMaint, "emode asset_weight_maint", e.AssetWeightMaint)
		if p.err != nil {
			return nil, fmt.Errorf("bank %s: %w", b.ID, p.err)
		}
		if e.AppliesToIsolated {
			entry.Flags = state.EmodeAppliesToIsolated
		}
		entries = append(entries, entry)
	}
	if _, err := state.NewEmodeConfig(entries); err != nil {
		return nil, fmt.Errorf("bank %s emode: %w", b.ID, err)
	}
	return entries, nil
}

// fractionParser keeps the first error so a run of fields reads flat.
// Empty strings leave the destination untouched.
type fractionParser struct {
	err error
}

func (p *fractionParser) into(dst *fpmath.I80F48, field, s string) {
	if p.err != nil || s == "" {
		return
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		p.err = fmt.Errorf("%s %q: %w", field, s, err)
		return
	}
	v, err := fpmath.FromDecimal(d)
	if err != nil {
		p.err = fmt.Errorf("%s %q: %w", field, s, err)
		return
	}
	*dst = v
}
