package persistence

import (
	"MarginLedger/internal/core"
	"MarginLedger/internal/state"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// ErrChainBroken reports an operation log that does not link to the state it
// is applied on.
var ErrChainBroken = errors.New("operation log hash chain broken")

// RecoverySource is the read side of the operation log and snapshot store.
type RecoverySource interface {
	LoadLatestSnapshot(ctx context.Context) (*core.Snapshot, error)
	LoadOperationsFrom(ctx context.Context, fromSequence int64, limit int) ([]OperationRow, error)
}

// GenesisSnapshot is the empty state every log starts from.
func GenesisSnapshot() *core.Snapshot {
	return &core.Snapshot{StateHash: sha256.Sum256([]byte(core.GenesisHashSeed))}
}

// Recover rebuilds the latest state: the newest verified snapshot, or genesis,
// rolled forward through every later log row. Rows are applied by image, not
// re-executed, and each one's hash is checked against the chain.
func Recover(ctx context.Context, src RecoverySource, pageSize int) (*core.Snapshot, int, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}
	base, err := src.LoadLatestSnapshot(ctx)
	if err != nil {
		return nil, 0, err
	}
	if base == nil {
		base = GenesisSnapshot()
	}

	rf := newRollForward(base)
	applied := 0
	for {
		rows, err := src.LoadOperationsFrom(ctx, rf.sequence+1, pageSize)
		if err != nil {
			return nil, applied, fmt.Errorf("load operations from seq=%d: %w", rf.sequence+1, err)
		}
		for _, r := range rows {
			if err := rf.apply(r); err != nil {
				return nil, applied, err
			}
			applied++
		}
		if len(rows) < pageSize {
			return rf.snapshot(), applied, nil
		}
	}
}

// RollForward applies rows in order on top of base without mutating it.
func RollForward(base *core.Snapshot, rows []OperationRow) (*core.Snapshot, error) {
	rf := newRollForward(base)
	for _, r := range rows {
		if err := rf.apply(r); err != nil {
			return nil, err
		}
	}
	return rf.snapshot(), nil
}

type rollForward struct {
	sequence int64
	hasher   *core.StateHasher
	banks    map[uuid.UUID]*state.Bank
	accounts map[uuid.UUID]*state.MarginAccount
	keys     []core.IdempotencyEntry
}

func newRollForward(base *core.Snapshot) *rollForward {
	rf := &rollForward{
		sequence: base.Sequence,
		hasher:   core.NewStateHasher(),
		banks:    make(map[uuid.UUID]*state.Bank, len(base.Banks)),
		accounts: make(map[uuid.UUID]*state.MarginAccount, len(base.Accounts)),
		keys:     append([]core.IdempotencyEntry(nil), base.IdempotencyKeys...),
	}
	rf.hasher.Restore(base.StateHash)
	for _, b := range base.Banks {
		rf.banks[b.ID] = b.Clone()
	}
	for _, a := range base.Accounts {
		rf.accounts[a.ID] = a.Clone()
	}
	return rf
}

func (rf *rollForward) apply(r OperationRow) error {
	if r.Sequence != rf.sequence+1 {
		return fmt.Errorf("expected seq=%d, log has seq=%d: %w", rf.sequence+1, r.Sequence, ErrChainBroken)
	}
	tip := rf.hasher.GetPrevHash()
	if !bytes.Equal(r.PrevHash, tip[:]) {
		return fmt.Errorf("seq=%d prev_hash does not match the chain tip: %w", r.Sequence, ErrChainBroken)
	}

	var images ImageSet
	if err := json.Unmarshal(r.Images, &images); err != nil {
		return fmt.Errorf("decode images at seq=%d: %w", r.Sequence, err)
	}
	hash := rf.hasher.ComputeHash(r.Sequence, core.StateDigest(images.Banks, images.Accounts, images.Closed))
	if !bytes.Equal(r.StateHash, hash[:]) {
		return fmt.Errorf("seq=%d state_hash mismatch: %w", r.Sequence, ErrChainBroken)
	}

	for _, b := range images.Banks {
		rf.banks[b.ID] = b
	}
	for _, a := range images.Accounts {
		rf.accounts[a.ID] = a
	}
	for _, id := range images.Closed {
		delete(rf.accounts, id)
	}
	rf.keys = append(rf.keys, core.IdempotencyEntry{Key: core.CompositeKey(r.OpType, r.IdempotencyKey), Sequence: r.Sequence})
	rf.sequence = r.Sequence
	return nil
}

func (rf *rollForward) snapshot() *core.Snapshot {
	snap := &core.Snapshot{
		Sequence:        rf.sequence,
		StateHash:       rf.hasher.GetPrevHash(),
		Banks:           make([]*state.Bank, 0, len(rf.banks)),
		Accounts:        make([]*state.MarginAccount, 0, len(rf.accounts)),
		IdempotencyKeys: rf.keys,
	}
	for _, b := range rf.banks {
		snap.Banks = append(snap.Banks, b)
	}
	for _, a := range rf.accounts {
		snap.Accounts = append(snap.Accounts, a)
	}
	sort.Slice(snap.Banks, func(i, j int) bool { return bytes.Compare(snap.Banks[i].ID[:], snap.Banks[j].ID[:]) < 0 })
	sort.Slice(snap.Accounts, func(i, j int) bool {
		return bytes.Compare(snap.Accounts[i].ID[:], snap.Accounts[j].ID[:]) < 0
	})
	return snap
}
