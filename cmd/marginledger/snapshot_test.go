package main

import (
	"MarginLedger/internal/core"
	"MarginLedger/internal/persistence"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type fakeSource struct{ seq int64 }

func (f *fakeSource) Sequence() int64 { return f.seq }
func (f *fakeSource) Snapshot() *core.Snapshot {
	return &core.Snapshot{Sequence: f.seq, StateHash: [32]byte{byte(f.seq)}}
}

type fakeStore struct {
	saved  []int64
	logged int64
	broken bool
	down   bool
}

func (f *fakeStore) SaveSnapshot(_ context.Context, snap *core.Snapshot) (int, error) {
	f.saved = append(f.saved, snap.Sequence)
	return 128, nil
}

func (f *fakeStore) VerifySnapshot(_ context.Context, seq int64, _ [32]byte) (bool, error) {
	switch {
	case f.down:
		return false, errors.New("connection refused")
	case f.broken:
		return false, persistence.ErrChainBroken
	}
	return seq <= f.logged, nil
}

func TestSnapshotter_VerifiesOnceLogCatchesUp(t *testing.T) {
	src := &fakeSource{seq: 10}
	store := &fakeStore{logged: 5}
	s := &snapshotter{core: src, store: store, logger: zerolog.Nop()}

	if err := s.take(context.Background()); err != nil {
		t.Fatalf("take: %v", err)
	}
	// nothing new committed
	if err := s.take(context.Background()); err != nil || len(store.saved) != 1 {
		t.Fatalf("got %d saves (%v), want 1", len(store.saved), err)
	}

	s.verifyPending(context.Background())
	if len(s.pending) != 1 {
		t.Fatalf("got %d pending, want 1 while the log lags", len(s.pending))
	}

	store.down = true
	if err := s.verifyPending(context.Background()); err == nil || len(s.pending) != 1 {
		t.Fatalf("transient failure: got %d pending (%v), want 1 and an error", len(s.pending), err)
	}

	store.down, store.logged = false, 10
	if err := s.verifyPending(context.Background()); err != nil || len(s.pending) != 0 {
		t.Fatalf("got %d pending (%v), want 0", len(s.pending), err)
	}
}

func TestSnapshotter_DropsSnapshotThatContradictsLog(t *testing.T) {
	store := &fakeStore{broken: true}
	s := &snapshotter{core: &fakeSource{seq: 3}, store: store, logger: zerolog.Nop()}
	s.take(context.Background())

	if err := s.verifyPending(context.Background()); !errors.Is(err, persistence.ErrChainBroken) {
		t.Fatalf("got %v, want ErrChainBroken", err)
	}
	if len(s.pending) != 0 {
		t.Fatalf("got %d pending, want the snapshot discarded", len(s.pending))
	}
}
