package persistence_test

import (
	"MarginLedger/internal/core"
	"MarginLedger/internal/event"
	"MarginLedger/internal/observability"
	"MarginLedger/internal/persistence"
	"MarginLedger/internal/testutil"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type captureSink struct {
	batches [][]persistence.OperationRow
}

func (c *captureSink) Flushed(rows []persistence.OperationRow) {
	c.batches = append(c.batches, rows)
}

// ============================================================================
// Test: Postgres round trip (MARGIN_INTEGRATION_TEST=1)
// ============================================================================

func TestIntegration_WorkerSnapshotRecover(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	live, rows := loggedRun(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// feed the worker the same outputs the core produced, via the writer
	writer := persistence.NewOperationLogWriter(db)
	if err := writer.WriteOperationBatch(ctx, nil, rows[:3]); err != nil {
		t.Fatalf("write: %v", err)
	}
	// retried batch overlaps and must be skipped
	if err := writer.WriteOperationBatch(ctx, nil, rows); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	sm := persistence.NewSnapshotManager(db)
	latest, err := sm.GetLatestSequence(ctx)
	if err != nil || latest != 5 {
		t.Fatalf("latest: got %d (%v), want 5", latest, err)
	}

	snap := live.Snapshot()
	if _, err := sm.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got, _ := sm.LoadLatestSnapshot(ctx); got != nil {
		t.Fatal("unverified snapshot should not load")
	}
	ok, err := sm.VerifySnapshot(ctx, snap.Sequence, snap.StateHash)
	if err != nil || !ok {
		t.Fatalf("verify: got %v (%v), want true", ok, err)
	}

	recovered, applied, err := persistence.Recover(ctx, sm, 2)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if applied != 0 || recovered.StateHash != snap.StateHash {
		t.Fatalf("got applied=%d, want 0 and the snapshot hash", applied)
	}

	idem := persistence.NewPostgresIdempotencyChecker(db)
	seq, dup, err := idem.LookupSequence(rows[1].OpType, rows[1].IdempotencyKey)
	if err != nil || !dup {
		t.Fatalf("logged key: got %v (%v), want duplicate", dup, err)
	}
	if seq != rows[1].Sequence {
		t.Fatalf("logged sequence: got %d, want %d", seq, rows[1].Sequence)
	}
	_, dup, _ = idem.LookupSequence("Deposit", uuid.NewString())
	if dup {
		t.Fatal("unknown key reported as duplicate")
	}
}

func TestIntegration_WorkerFlushesAndNotifiesSinks(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	persist := make(chan core.CoreOutput, 16)
	c := core.NewLendingCore(core.Config{Logger: zerolog.Nop(), PersistChan: persist})
	sink := &captureSink{}
	w := persistence.NewPersistenceWorker(db, persist, 2, 50*time.Millisecond,
		observability.NewMetricsWith(prometheus.NewRegistry()), zerolog.Nop(), sink)

	for i := 0; i < 3; i++ {
		if _, err := c.Process(&event.CreateAccount{
			OperationID: uuid.New(), AccountID: uuid.New(), Authority: uuid.New(), Timestamp: now,
		}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	close(persist)

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	total := 0
	for _, b := range sink.batches {
		total += len(b)
	}
	if total != 3 {
		t.Fatalf("sinks saw %d rows, want 3", total)
	}

	latest, err := persistence.NewSnapshotManager(db).GetLatestSequence(context.Background())
	if err != nil || latest != 3 {
		t.Fatalf("latest: got %d (%v), want 3", latest, err)
	}
}
