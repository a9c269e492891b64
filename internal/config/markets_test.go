package config_test

import (
	"MarginLedger/internal/config"
	"MarginLedger/internal/core"
	"MarginLedger/internal/event"
	fpmath "MarginLedger/internal/math"
	"MarginLedger/internal/state"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	adminID = "0b7f5a7c-2f5e-4c58-9d61-3d0f3b7c9a11"
	usdcID  = "9a1c2b7e-1f4d-4a0e-8a55-6b2f0c9d3e01"
	solID   = "c3d4e5f6-0a1b-4c2d-8e3f-4a5b6c7d8e02"
)

var catalogue = `
admin: ` + adminID + `
banks:
  - id: ` + usdcID + `
    mint: 11111111-2222-4333-8444-555555555555
    decimals: 6
    emode_tag: 1
    asset_weight_init: "0.9"
    asset_weight_maint: "0.95"
    liability_weight_init: "1.1"
    liability_weight_maint: "1.05"
    deposit_limit: 1000000000000
    interest_rate:
      optimal_utilization_rate: "0.8"
      plateau_interest_rate: "0.1"
      max_interest_rate: "1.5"
      protocol_ir_fee: "0.05"
    oracle:
      setup: PythPushOracle
      keys: [7d0c5a11-3e2b-4f1a-9b6c-2a4d8e0f1c03]
      max_age: 60
    emode:
      - collateral_tag: 2
        asset_weight_init: "0.95"
        asset_weight_maint: "0.97"
  - id: ` + solID + `
    mint: 66666666-7777-4888-8999-aaaaaaaaaaaa
    decimals: 9
    emode_tag: 2
    flags: [permissionless_bad_debt_settlement]
    asset_weight_init: "0.7"
    asset_weight_maint: "0.8"
    liability_weight_init: "1.3"
    liability_weight_maint: "1.2"
    risk_tier: collateral
    oracle:
      setup: PythPushOracle
      keys: [5e6f7a8b-9c0d-4e1f-8a2b-3c4d5e6f7a04]
`

func writeCatalogue(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "markets.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write catalogue: %v", err)
	}
	return path
}

// ============================================================================
// Test: Loading
// ============================================================================

func TestLoadMarkets(t *testing.T) {
	m, err := config.LoadMarkets(writeCatalogue(t, catalogue))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(m.Banks) != 2 {
		t.Fatalf("got %d banks, want 2", len(m.Banks))
	}

	add, err := m.Banks[0].AddBank(uuid.MustParse(adminID), 100)
	if err != nil {
		t.Fatalf("add bank: %v", err)
	}
	cfg := add.Config
	if want, _ := fpmath.FromString("0.9"); cfg.AssetWeightInit != want {
		t.Errorf("asset weight init: got %s, want 0.9", cfg.AssetWeightInit)
	}
	if cfg.DepositLimit != 1_000_000_000_000 {
		t.Errorf("deposit limit: got %d", cfg.DepositLimit)
	}
	if cfg.BorrowLimit != state.NoLimit {
		t.Errorf("borrow limit: got %d, want uncapped", cfg.BorrowLimit)
	}
	if cfg.Oracle.MaxAge != 60 || cfg.Oracle.Keys[0] == uuid.Nil {
		t.Errorf("oracle: got %+v", cfg.Oracle)
	}
}

func TestParseMarkets_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		replace [2]string
	}{
		{"bad admin", [2]string{"admin: " + adminID, "admin: nobody"}},
		{"weight above one", [2]string{`asset_weight_init: "0.9"`, `asset_weight_init: "1.2"`}},
		{"not a decimal", [2]string{`max_interest_rate: "1.5"`, `max_interest_rate: "lots"`}},
		{"unknown oracle setup", [2]string{"setup: PythPushOracle\n      keys: [7d0c", "setup: Chainlink\n      keys: [7d0c"}},
		{"unknown flag", [2]string{"permissionless_bad_debt_settlement", "mint_on_demand"}},
		{"unknown tier", [2]string{"risk_tier: collateral", "risk_tier: junior"}},
		{"duplicate bank", [2]string{"id: " + solID, "id: " + usdcID}},
		{"frozen with emode", [2]string{"emode_tag: 1\n", "emode_tag: 1\n    flags: [freeze_settings]\n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := strings.Replace(catalogue, tt.replace[0], tt.replace[1], 1)
			if body == catalogue {
				t.Fatalf("replacement %q did not apply", tt.replace[0])
			}
			if _, err := config.ParseMarkets([]byte(body)); err == nil {
				t.Fatal("expected catalogue to be rejected")
			}
		})
	}
}

// ============================================================================
// Test: Bootstrap
// ============================================================================

func TestBootstrapOps_CreatesBanksOnce(t *testing.T) {
	m, err := config.ParseMarkets([]byte(catalogue))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ops, err := m.BootstrapOps(1_700_000_000)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	// two banks plus one emode table
	if len(ops) != 3 {
		t.Fatalf("got %d ops, want 3", len(ops))
	}
	if _, ok := ops[1].(*event.ConfigureBankEmode); !ok {
		t.Fatalf("op 1: got %T, want emode configuration", ops[1])
	}

	c := core.NewLendingCore(core.Config{Admin: uuid.MustParse(adminID), Logger: zerolog.Nop()})
	for _, op := range ops {
		if _, err := c.Process(op); err != nil {
			t.Fatalf("%s: %v", op.EventType(), err)
		}
	}
	seq := c.Sequence()

	bank, err := c.Bank(uuid.MustParse(usdcID))
	if err != nil {
		t.Fatalf("bank: %v", err)
	}
	if bank.Emode.Tag != 1 || !bank.Emode.Config.HasEntries() {
		t.Errorf("emode: got tag %d, entries %v", bank.Emode.Tag, bank.Emode.Config.HasEntries())
	}
	sol, _ := c.Bank(uuid.MustParse(solID))
	if !sol.HasFlag(state.PermissionlessBadDebtSettlement) {
		t.Error("sol bank lost its flag")
	}

	// a restart derives the same operation ids
	again, _ := m.BootstrapOps(1_700_000_500)
	for _, op := range again {
		res, err := c.Process(op)
		if err != nil {
			t.Fatalf("replay %s: %v", op.EventType(), err)
		}
		if !res.Duplicate {
			t.Errorf("replay %s: want duplicate", op.EventType())
		}
	}
	if c.Sequence() != seq {
		t.Fatalf("sequence moved on replay: got %d, want %d", c.Sequence(), seq)
	}
}
