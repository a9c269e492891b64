package main

import (
	"MarginLedger/internal/core"
	"MarginLedger/internal/observability"
	"MarginLedger/internal/persistence"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type snapshotSource interface {
	Snapshot() *core.Snapshot
	Sequence() int64
}

type snapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *core.Snapshot) (int, error)
	VerifySnapshot(ctx context.Context, sequence int64, stateHash [32]byte) (bool, error)
}

type pendingSnapshot struct {
	sequence int64
	hash     [32]byte
}

// snapshotter saves a snapshot every interval operations. A saved snapshot
// is only usable for recovery once the log has caught up to it and agrees
// with its hash, so verification is retried on later ticks.
type snapshotter struct {
	core     snapshotSource
	store    snapshotStore
	interval int64
	lastSeq  int64
	pending  []pendingSnapshot
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func (s *snapshotter) run(ctx context.Context) {
	if s.interval <= 0 {
		s.interval = 100_000
	}
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.verifyPending(ctx); err != nil {
				s.logger.Error().Err(err).Msg("snapshot verification failed")
			}
			if s.core.Sequence()-s.lastSeq < s.interval {
				continue
			}
			if err := s.take(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("periodic snapshot failed")
			}
		}
	}
}

// take saves the current state. It is a no-op when nothing was committed
// since the last snapshot.
func (s *snapshotter) take(ctx context.Context) error {
	start := time.Now()
	snap := s.core.Snapshot()
	if snap.Sequence == 0 || snap.Sequence == s.lastSeq {
		return nil
	}

	size, err := s.store.SaveSnapshot(ctx, snap)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	s.lastSeq = snap.Sequence
	s.pending = append(s.pending, pendingSnapshot{sequence: snap.Sequence, hash: snap.StateHash})

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
	}
	s.logger.Info().Int64("sequence", snap.Sequence).Int("bytes", size).Msg("snapshot saved")
	return nil
}

// verifyPending marks every snapshot the log has reached as verified. One
// that contradicts the log is discarded; the rest are retried.
func (s *snapshotter) verifyPending(ctx context.Context) error {
	kept := s.pending[:0]
	var firstErr error
	for _, p := range s.pending {
		ok, err := s.store.VerifySnapshot(ctx, p.sequence, p.hash)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if !errors.Is(err, persistence.ErrChainBroken) {
				kept = append(kept, p)
			}
			continue
		}
		if !ok {
			kept = append(kept, p)
			continue
		}
		if s.metrics != nil {
			s.metrics.SnapshotLastSeq.Set(float64(p.sequence))
		}
	}
	s.pending = kept
	return firstErr
}
