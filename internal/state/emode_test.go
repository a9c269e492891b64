package state_test

import (
	"MarginLedger/internal/errcode"
	"MarginLedger/internal/state"
	"errors"
	"testing"
)

func entry(tag uint16, init, maint string) state.EmodeEntry {
	return state.EmodeEntry{CollateralTag: tag, AssetWeightInit: fp(init), AssetWeightMaint: fp(maint)}
}

func mustEmode(t *testing.T, entries ...state.EmodeEntry) state.EmodeConfig {
	t.Helper()
	cfg, err := state.NewEmodeConfig(entries)
	if err != nil {
		t.Fatalf("emode config: %v", err)
	}
	return cfg
}

func TestNewEmodeConfig_SortsAndDropsEmpty(t *testing.T) {
	cfg := mustEmode(t, entry(7, "0.9", "0.95"), state.EmodeEntry{}, entry(3, "0.8", "0.85"))
	if cfg.Entries[0].CollateralTag != 3 || cfg.Entries[1].CollateralTag != 7 {
		t.Fatalf("order: got %d, %d", cfg.Entries[0].CollateralTag, cfg.Entries[1].CollateralTag)
	}
	if !cfg.Entries[2].IsEmpty() {
		t.Error("empty slots should trail")
	}
	if _, ok := cfg.FindWithTag(state.EmodeTagEmpty); ok {
		t.Error("empty tag must never match")
	}
}

func TestNewEmodeConfig_Rejects(t *testing.T) {
	cases := []struct {
		name    string
		entries []state.EmodeEntry
	}{
		{"duplicate tag", []state.EmodeEntry{entry(3, "0.8", "0.85"), entry(3, "0.7", "0.8")}},
		{"init above one", []state.EmodeEntry{entry(3, "1.1", "1.2")}},
		{"maint below init", []state.EmodeEntry{entry(3, "0.8", "0.7")}},
		{"maint above two", []state.EmodeEntry{entry(3, "0.8", "2.5")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := state.NewEmodeConfig(tc.entries); !errors.Is(err, errcode.ErrBadEmodeConfig) {
				t.Fatalf("got %v, want ErrBadEmodeConfig", err)
			}
		})
	}
}

func TestReconcileEmodeConfigs(t *testing.T) {
	t.Run("no tables", func(t *testing.T) {
		out := state.ReconcileEmodeConfigs(nil)
		if out.HasEntries() {
			t.Error("reconciling nothing should yield an empty table")
		}
	})

	t.Run("intersection with minimum weights", func(t *testing.T) {
		a := mustEmode(t, entry(1, "0.9", "0.95"), entry(2, "0.7", "0.8"))
		b := mustEmode(t, entry(1, "0.85", "0.97"), entry(5, "0.6", "0.7"))
		a.Entries[0].Flags = state.EmodeAppliesToIsolated

		out := state.ReconcileEmodeConfigs([]state.EmodeConfig{a, b})
		e, ok := out.FindWithTag(1)
		if !ok {
			t.Fatal("shared tag 1 dropped")
		}
		if e.AssetWeightInit != fp("0.85") || e.AssetWeightMaint != fp("0.95") {
			t.Errorf("weights: got %s/%s, want 0.85/0.95", e.AssetWeightInit, e.AssetWeightMaint)
		}
		if e.Flags != 0 {
			t.Errorf("flags: got %d, want 0", e.Flags)
		}
		if _, ok := out.FindWithTag(2); ok {
			t.Error("tag 2 is missing from one table and must be dropped")
		}
		if _, ok := out.FindWithTag(5); ok {
			t.Error("tag 5 is missing from one table and must be dropped")
		}
		if err := out.Validate(); err != nil {
			t.Errorf("reconciled table invalid: %v", err)
		}
	})

	t.Run("one empty table empties the result", func(t *testing.T) {
		a := mustEmode(t, entry(1, "0.9", "0.95"))
		out := state.ReconcileEmodeConfigs([]state.EmodeConfig{a, {}})
		if out.HasEntries() {
			t.Error("expected empty result")
		}
	})
}
