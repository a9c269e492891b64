package ingestion_test

import (
	"MarginLedger/internal/core"
	"MarginLedger/internal/errcode"
	"MarginLedger/internal/event"
	"MarginLedger/internal/ingestion"
	"MarginLedger/internal/observability"
	"MarginLedger/internal/oracle"
	"MarginLedger/internal/persistence"
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// --- Test helpers ---

type fakeCore struct {
	mu        sync.Mutex
	processed []event.Event
	feeds     []oracle.Account
	keepFeeds bool
	err       error
}

func (f *fakeCore) Process(evt event.Event) (*core.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, evt)
	if f.err != nil {
		return nil, f.err
	}
	return &core.Result{Sequence: int64(len(f.processed))}, nil
}

func (f *fakeCore) UpdatePriceFeed(acc oracle.Account) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feeds = append(f.feeds, acc)
	return f.keepFeeds
}

type ackRecorder struct {
	mu         sync.Mutex
	acks, naks int
}

func (a *ackRecorder) raw(subject string, data []byte) ingestion.RawEvent {
	return ingestion.RawEvent{
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() { a.mu.Lock(); a.acks++; a.mu.Unlock() },
		NakFunc:   func() { a.mu.Lock(); a.naks++; a.mu.Unlock() },
	}
}

func closeAccountJSON() []byte {
	return []byte(`{"operation_id":"` + uuid.NewString() + `","account_id":"` + uuid.NewString() + `","timestamp":1700000000}`)
}

// ============================================================================
// Test: Pipeline
// ============================================================================

func TestPipeline_AcksAfterQueueing(t *testing.T) {
	rawChan := make(chan ingestion.RawEvent, 4)
	out := make(chan ingestion.Inbound, 4)
	acks := &ackRecorder{}

	rawChan <- acks.raw("margin.ops.CloseAccount", closeAccountJSON())
	rawChan <- acks.raw("margin.ops.CloseAccount", []byte(`{broken`))
	close(rawChan)

	p := ingestion.NewPipeline(rawChan, out, nil, zerolog.Nop())
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(out) != 1 {
		t.Fatalf("got %d queued events, want 1", len(out))
	}
	// the malformed message is acked too so it is not redelivered
	if acks.acks != 2 || acks.naks != 0 {
		t.Fatalf("got acks=%d naks=%d, want 2 and 0", acks.acks, acks.naks)
	}
}

func TestPipeline_LogsDroppedMessageAtError(t *testing.T) {
	rawChan := make(chan ingestion.RawEvent, 1)
	out := make(chan ingestion.Inbound, 1)
	acks := &ackRecorder{}
	rawChan <- acks.raw("margin.ops.CloseAccount", []byte(`{broken`))
	close(rawChan)

	var buf bytes.Buffer
	p := ingestion.NewPipeline(rawChan, out, nil, observability.NewLoggerTo(&buf, "pipeline", zerolog.ErrorLevel))
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	line := buf.String()
	if !strings.Contains(line, `"level":"error"`) || !strings.Contains(line, "dropping inbound message") {
		t.Fatalf("log: got %q, want an error-level drop entry", line)
	}
}

func TestPipeline_NaksOnShutdown(t *testing.T) {
	rawChan := make(chan ingestion.RawEvent, 1)
	out := make(chan ingestion.Inbound) // nobody reads
	acks := &ackRecorder{}
	rawChan <- acks.raw("margin.ops.CloseAccount", closeAccountJSON())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	ingestion.NewPipeline(rawChan, out, nil, zerolog.Nop()).Run(ctx)

	if acks.naks != 1 || acks.acks != 0 {
		t.Fatalf("got acks=%d naks=%d, want 0 and 1", acks.acks, acks.naks)
	}
}

// ============================================================================
// Test: Applier
// ============================================================================

func TestApplier_StoresKeptFeeds(t *testing.T) {
	fc := &fakeCore{keepFeeds: true}
	store := oracle.NewMemoryFeedStore()
	in := make(chan ingestion.Inbound, 4)

	feed := &oracle.PythPriceUpdate{Address: uuid.New(), PublishTime: 10}
	in <- ingestion.Inbound{Event: &event.PriceFeedUpdate{Account: feed, Timestamp: 10}}
	in <- ingestion.Inbound{Event: &event.CloseAccount{OperationID: uuid.New(), AccountID: uuid.New(), Timestamp: 10}}
	close(in)

	if err := ingestion.NewApplier(fc, in, store, nil, zerolog.Nop()).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(fc.feeds) != 1 || len(fc.processed) != 1 {
		t.Fatalf("got feeds=%d processed=%d, want 1 and 1", len(fc.feeds), len(fc.processed))
	}
	stored, _ := store.LoadAll(context.Background())
	if len(stored) != 1 || stored[0].Key() != feed.Address {
		t.Fatalf("feed store: got %d images, want the kept feed", len(stored))
	}
}

func TestApplier_SkipsStaleFeedsAndSurvivesRejections(t *testing.T) {
	fc := &fakeCore{err: errcode.ErrRiskEngineInitRejected}
	store := oracle.NewMemoryFeedStore()
	in := make(chan ingestion.Inbound, 4)

	in <- ingestion.Inbound{Event: &event.PriceFeedUpdate{Account: &oracle.PythPriceUpdate{Address: uuid.New()}}}
	in <- ingestion.Inbound{Event: &event.CloseAccount{OperationID: uuid.New(), AccountID: uuid.New(), Timestamp: 10}}
	in <- ingestion.Inbound{Event: &event.CloseAccount{OperationID: uuid.New(), AccountID: uuid.New(), Timestamp: 11}}
	close(in)

	ingestion.NewApplier(fc, in, store, nil, zerolog.Nop()).Run(context.Background())

	if len(fc.processed) != 2 {
		t.Fatalf("got %d processed, want 2", len(fc.processed))
	}
	if stored, _ := store.LoadAll(context.Background()); len(stored) != 0 {
		t.Fatalf("stale feed was stored")
	}
}

// ============================================================================
// Test: Ingest service and outbound publisher
// ============================================================================

func TestIngestService_Submit(t *testing.T) {
	fc := &fakeCore{}
	svc := ingestion.NewIngestService(fc)

	res, err := svc.Submit(context.Background(), "CloseAccount", closeAccountJSON())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Sequence != 1 {
		t.Fatalf("got seq %d, want 1", res.Sequence)
	}
	if _, err := svc.Submit(context.Background(), "Nope", closeAccountJSON()); err == nil {
		t.Fatal("expected unknown operation to fail")
	}
}

func TestOutboundPublisher_DropsWhenFull(t *testing.T) {
	pub := ingestion.NewOutboundPublisher(nil, 1, nil, zerolog.Nop())
	rows := []persistence.OperationRow{
		{Sequence: 1, OpType: "Deposit", StateHash: []byte{0xab}},
		{Sequence: 2, OpType: "Deposit"},
	}
	// must return without a running publisher
	pub.Flushed(rows)

	msg := ingestion.NewPublishableOperation(rows[0])
	if msg.StateHash != "ab" || msg.OpType != "Deposit" {
		t.Fatalf("got %+v", msg)
	}
}
