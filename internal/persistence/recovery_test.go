package persistence_test

import (
	"MarginLedger/internal/core"
	"MarginLedger/internal/event"
	"MarginLedger/internal/oracle"
	"MarginLedger/internal/persistence"
	"MarginLedger/internal/state"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const now = int64(1_700_000_000)

// --- Test helpers ---

// loggedRun drives a core through a small history and returns it with the
// log rows its outputs convert to.
func loggedRun(t *testing.T) (*core.LendingCore, []persistence.OperationRow) {
	t.Helper()
	admin := uuid.New()
	persist := make(chan core.CoreOutput, 64)
	c := core.NewLendingCore(core.Config{Admin: admin, Logger: zerolog.Nop(), PersistChan: persist})

	cfg := state.DefaultBankConfig()
	cfg.Oracle.Setup = oracle.SetupPythPush
	cfg.Oracle.Keys[0] = uuid.New()
	bankID := uuid.New()
	keeper, leaver := uuid.New(), uuid.New()

	ops := []event.Event{
		&event.AddBank{OperationID: uuid.New(), Signer: admin, BankID: bankID, Mint: uuid.New(), Decimals: 6, Config: cfg, Timestamp: now},
		&event.CreateAccount{OperationID: uuid.New(), AccountID: keeper, Authority: uuid.New(), Timestamp: now},
		&event.CreateAccount{OperationID: uuid.New(), AccountID: leaver, Authority: uuid.New(), Timestamp: now},
		&event.Deposit{OperationID: uuid.New(), AccountID: keeper, BankID: bankID, Amount: 5_000_000, Timestamp: now + 10},
		&event.CloseAccount{OperationID: uuid.New(), AccountID: leaver, Timestamp: now + 20},
	}
	for _, op := range ops {
		if _, err := c.Process(op); err != nil {
			t.Fatalf("%s: %v", op.EventType(), err)
		}
	}

	var rows []persistence.OperationRow
	for len(persist) > 0 {
		row, err := persistence.NewOperationRow(<-persist)
		if err != nil {
			t.Fatalf("row: %v", err)
		}
		rows = append(rows, row)
	}
	return c, rows
}

type pagedSource struct {
	snap  *core.Snapshot
	rows  []persistence.OperationRow
	calls int
}

func (p *pagedSource) LoadLatestSnapshot(context.Context) (*core.Snapshot, error) {
	return p.snap, nil
}

func (p *pagedSource) LoadOperationsFrom(_ context.Context, from int64, limit int) ([]persistence.OperationRow, error) {
	p.calls++
	var out []persistence.OperationRow
	for _, r := range p.rows {
		if r.Sequence >= from && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

// ============================================================================
// Test: Operation rows
// ============================================================================

func TestNewOperationRow_CarriesEnvelope(t *testing.T) {
	_, rows := loggedRun(t)
	if len(rows) != 5 {
		t.Fatalf("got %d rows, want 5", len(rows))
	}

	if rows[0].OpType != "AddBank" || rows[0].AccountID != nil {
		t.Fatalf("bank-level row: got op=%s account=%v", rows[0].OpType, rows[0].AccountID)
	}
	if rows[3].OpType != "Deposit" || rows[3].AccountID == nil {
		t.Fatalf("deposit row: got op=%s account=%v", rows[3].OpType, rows[3].AccountID)
	}
	if got := rows[3].Timestamp.Unix(); got != now+10 {
		t.Fatalf("timestamp: got %d, want %d", got, now+10)
	}
	if !strings.Contains(string(rows[4].Images), rows[4].AccountID.String()) {
		t.Fatal("close row should list the closed account")
	}
	for i, r := range rows {
		if r.Sequence != int64(i+1) {
			t.Fatalf("row %d: got seq %d", i, r.Sequence)
		}
	}
}

// ============================================================================
// Test: Roll-forward recovery
// ============================================================================

func TestRollForward_RebuildsCoreState(t *testing.T) {
	c, rows := loggedRun(t)
	want := c.Snapshot()

	got, err := persistence.RollForward(persistence.GenesisSnapshot(), rows)
	if err != nil {
		t.Fatalf("roll forward: %v", err)
	}
	if got.Sequence != want.Sequence {
		t.Fatalf("sequence: got %d, want %d", got.Sequence, want.Sequence)
	}
	if got.StateHash != want.StateHash {
		t.Fatal("state hash differs from the live core")
	}
	if len(got.Banks) != 1 || len(got.Accounts) != 1 {
		t.Fatalf("got %d banks %d accounts, want 1 and 1", len(got.Banks), len(got.Accounts))
	}
	if got.Accounts[0].ID != want.Accounts[0].ID {
		t.Fatal("surviving account differs")
	}
	if len(got.IdempotencyKeys) != 5 {
		t.Fatalf("got %d idempotency keys, want 5", len(got.IdempotencyKeys))
	}
	for i, e := range got.IdempotencyKeys {
		if e.Sequence != int64(i+1) {
			t.Errorf("idempotency key %s: got seq %d, want %d", e.Key, e.Sequence, i+1)
		}
	}
}

func TestRollForward_RestoredCoreContinuesChain(t *testing.T) {
	live, rows := loggedRun(t)
	snap, err := persistence.RollForward(persistence.GenesisSnapshot(), rows)
	if err != nil {
		t.Fatalf("roll forward: %v", err)
	}

	restored := core.NewLendingCore(core.Config{Logger: zerolog.Nop()})
	restored.Restore(snap)

	next := &event.CreateAccount{OperationID: uuid.New(), AccountID: uuid.New(), Authority: uuid.New(), Timestamp: now + 30}
	a, err := live.Process(next)
	if err != nil {
		t.Fatalf("live: %v", err)
	}
	b, err := restored.Process(next)
	if err != nil {
		t.Fatalf("restored: %v", err)
	}
	if a.StateHash != b.StateHash || a.Sequence != b.Sequence {
		t.Fatal("restored core diverged from the live core")
	}
}

func TestRollForward_FromSnapshot(t *testing.T) {
	_, rows := loggedRun(t)
	mid, err := persistence.RollForward(persistence.GenesisSnapshot(), rows[:2])
	if err != nil {
		t.Fatalf("first half: %v", err)
	}
	full, err := persistence.RollForward(persistence.GenesisSnapshot(), rows)
	if err != nil {
		t.Fatalf("full: %v", err)
	}

	got, err := persistence.RollForward(mid, rows[2:])
	if err != nil {
		t.Fatalf("second half: %v", err)
	}
	if got.StateHash != full.StateHash {
		t.Fatal("snapshot + tail should equal the full replay")
	}
	if len(mid.Accounts) != 1 {
		t.Fatalf("base snapshot mutated: got %d accounts, want 1", len(mid.Accounts))
	}
}

func TestRollForward_DetectsBrokenChain(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(rows []persistence.OperationRow) []persistence.OperationRow
	}{
		{"gap", func(rows []persistence.OperationRow) []persistence.OperationRow {
			return append(rows[:1:1], rows[2:]...)
		}},
		{"prev hash", func(rows []persistence.OperationRow) []persistence.OperationRow {
			rows[2].PrevHash = make([]byte, 32)
			return rows
		}},
		{"edited image", func(rows []persistence.OperationRow) []persistence.OperationRow {
			rows[3].Images = []byte(strings.Replace(string(rows[3].Images), `"flags":0`, `"flags":1`, 1))
			return rows
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, rows := loggedRun(t)
			_, err := persistence.RollForward(persistence.GenesisSnapshot(), tt.tamper(rows))
			if !errors.Is(err, persistence.ErrChainBroken) {
				t.Fatalf("got %v, want ErrChainBroken", err)
			}
		})
	}
}

func TestRecover_PagesThroughLog(t *testing.T) {
	_, rows := loggedRun(t)
	src := &pagedSource{rows: rows}

	snap, applied, err := persistence.Recover(context.Background(), src, 2)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if applied != 5 || snap.Sequence != 5 {
		t.Fatalf("got applied=%d seq=%d, want 5 and 5", applied, snap.Sequence)
	}
	// pages of 2, 2, 1
	if src.calls != 3 {
		t.Fatalf("got %d page loads, want 3", src.calls)
	}
}

func TestRecover_StartsFromVerifiedSnapshot(t *testing.T) {
	_, rows := loggedRun(t)
	base, err := persistence.RollForward(persistence.GenesisSnapshot(), rows[:3])
	if err != nil {
		t.Fatalf("base: %v", err)
	}

	snap, applied, err := persistence.Recover(context.Background(), &pagedSource{snap: base, rows: rows}, 100)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if applied != 2 || snap.Sequence != 5 {
		t.Fatalf("got applied=%d seq=%d, want 2 and 5", applied, snap.Sequence)
	}
}
