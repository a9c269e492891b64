package persistence

import (
	"MarginLedger/internal/core"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager stores core snapshots and reads the operation log back for
// recovery.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot stores snap unverified and returns its encoded size.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *core.Snapshot) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO margin_ledger.snapshots
			(snapshot_id, sequence, data, state_hash, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $5
	`, uuid.New(), snap.Sequence, string(data), snap.StateHash[:], len(data), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("save snapshot at seq=%d: %w", snap.Sequence, err)
	}
	return len(data), nil
}

// VerifySnapshot marks the snapshot at sequence verified once the operation
// log holds the same state hash for that sequence. It reports false while the
// log has not caught up.
func (sm *SnapshotManager) VerifySnapshot(ctx context.Context, sequence int64, stateHash [32]byte) (bool, error) {
	var logged []byte
	err := sm.db.QueryRowContext(ctx,
		`SELECT state_hash FROM margin_ledger.operations WHERE sequence = $1`, sequence,
	).Scan(&logged)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !bytes.Equal(logged, stateHash[:]) {
		return false, fmt.Errorf("snapshot at seq=%d disagrees with the operation log: %w", sequence, ErrChainBroken)
	}
	if _, err := sm.db.ExecContext(ctx,
		`UPDATE margin_ledger.snapshots SET verified = TRUE WHERE sequence = $1`, sequence,
	); err != nil {
		return false, err
	}
	return true, nil
}

// LoadLatestSnapshot returns the most recent verified snapshot, or nil when
// there is none.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*core.Snapshot, error) {
	var data []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT data FROM margin_ledger.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap core.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// LoadOperationsFrom returns up to limit log rows starting at fromSequence.
func (sm *SnapshotManager) LoadOperationsFrom(ctx context.Context, fromSequence int64, limit int) ([]OperationRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, op_type, idempotency_key, account_id, op_timestamp,
		       payload, images, state_hash, prev_hash
		FROM margin_ledger.operations
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OperationRow
	for rows.Next() {
		var (
			r         OperationRow
			accountID uuid.NullUUID
		)
		if err := rows.Scan(
			&r.Sequence, &r.OpType, &r.IdempotencyKey, &accountID, &r.Timestamp,
			&r.Payload, &r.Images, &r.StateHash, &r.PrevHash,
		); err != nil {
			return nil, err
		}
		if accountID.Valid {
			id := accountID.UUID
			r.AccountID = &id
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetLatestSequence returns the highest logged sequence, 0 for an empty log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM margin_ledger.operations`,
	).Scan(&seq); err != nil {
		return 0, err
	}
	return seq.Int64, nil
}
