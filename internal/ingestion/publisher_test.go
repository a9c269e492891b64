package ingestion_test

import (
	"MarginLedger/internal/ingestion"
	"MarginLedger/internal/persistence"
	"MarginLedger/internal/testutil"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// ============================================================================
// Test: Outbound publisher (requires NATS with JetStream)
// ============================================================================

func TestOutboundPublisher_DeduplicatesBySequence(t *testing.T) {
	testutil.RequireIntegration(t)

	nc, js, err := ingestion.ConnectNATS(testutil.TestNATSURL(), zerolog.Nop())
	if err != nil {
		t.Skipf("NATS not available: %v", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		t.Fatalf("ensure stream: %v", err)
	}
	stream, err := js.Stream(ctx, ingestion.OutboundStream)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if err := stream.Purge(ctx); err != nil {
		t.Fatalf("purge: %v", err)
	}

	pub := ingestion.NewOutboundPublisher(js, 8, nil, zerolog.Nop())
	go pub.Run(ctx)

	// sequences unique per run; the stream's duplicate window outlives a purge
	base := time.Now().UnixNano()
	a := persistence.OperationRow{Sequence: base, OpType: "AddBank", Payload: []byte(`{}`), Timestamp: time.Unix(1_700_000_000, 0)}
	b := persistence.OperationRow{Sequence: base + 1, OpType: "Deposit", Payload: []byte(`{}`), Timestamp: time.Unix(1_700_000_001, 0)}
	pub.Flushed([]persistence.OperationRow{a})
	pub.Flushed([]persistence.OperationRow{a, b})

	deadline := time.Now().Add(5 * time.Second)
	for {
		info, err := stream.Info(ctx)
		if err != nil {
			t.Fatalf("info: %v", err)
		}
		if info.State.Msgs >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("published: got %d messages, want 2", info.State.Msgs)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cons, err := js.OrderedConsumer(ctx, ingestion.OutboundStream, jetstream.OrderedConsumerConfig{})
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	batch, err := cons.Fetch(2, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	var got []ingestion.PublishableOperation
	for msg := range batch.Messages() {
		var op ingestion.PublishableOperation
		if err := json.Unmarshal(msg.Data(), &op); err != nil {
			t.Fatalf("decode: %v", err)
		}
		got = append(got, op)
	}
	if len(got) != 2 {
		t.Fatalf("fetched: got %d, want 2", len(got))
	}
	if got[0].Sequence != a.Sequence || got[1].Sequence != b.Sequence {
		t.Fatalf("order: got %d,%d, want %d,%d", got[0].Sequence, got[1].Sequence, a.Sequence, b.Sequence)
	}
	if got[1].OpType != "Deposit" {
		t.Errorf("op type: got %s, want Deposit", got[1].OpType)
	}
}
