package persistence

import (
	"MarginLedger/internal/core"
	"MarginLedger/internal/state"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OperationLogWriter appends committed operations to margin_ledger.operations
// using multi-row INSERTs.
type OperationLogWriter struct {
	db *sql.DB
}

// ImageSet is the images column: every bank and account image an operation
// wrote, plus the accounts it closed.
type ImageSet struct {
	Banks    []*state.Bank          `json:"banks"`
	Accounts []*state.MarginAccount `json:"accounts"`
	Closed   []uuid.UUID            `json:"closed"`
}

// OperationRow represents a row in margin_ledger.operations
type OperationRow struct {
	Sequence       int64
	OpType         string
	IdempotencyKey string
	AccountID      *uuid.UUID
	Timestamp      time.Time
	Payload        []byte
	Images         []byte
	StateHash      []byte
	PrevHash       []byte
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func NewOperationLogWriter(db *sql.DB) *OperationLogWriter {
	return &OperationLogWriter{db: db}
}

// NewOperationRow converts a core output into its log row.
func NewOperationRow(out core.CoreOutput) (OperationRow, error) {
	env := out.Envelope
	images, err := json.Marshal(ImageSet{Banks: out.Banks, Accounts: out.Accounts, Closed: out.Closed})
	if err != nil {
		return OperationRow{}, fmt.Errorf("marshal images at seq=%d: %w", env.Sequence, err)
	}

	row := OperationRow{
		Sequence:       env.Sequence,
		OpType:         env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Timestamp:      time.Unix(env.Timestamp, 0).UTC(),
		Payload:        env.Payload,
		Images:         images,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
	}
	if env.AccountID != uuid.Nil {
		id := env.AccountID
		row.AccountID = &id
	}
	return row, nil
}

const operationColumns = 9

// WriteOperationBatch inserts rows through ex. Rows whose sequence is already
// present are skipped so a retried batch is harmless.
func (w *OperationLogWriter) WriteOperationBatch(ctx context.Context, ex execer, rows []OperationRow) error {
	if len(rows) == 0 {
		return nil
	}
	if ex == nil {
		ex = w.db
	}

	query, args := buildOperationInsert(rows)
	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

func buildOperationInsert(rows []OperationRow) (string, []any) {
	var b strings.Builder
	b.WriteString(`INSERT INTO margin_ledger.operations
		(sequence, op_type, idempotency_key, account_id, op_timestamp, payload, images, state_hash, prev_hash)
		VALUES `)

	args := make([]any, 0, len(rows)*operationColumns)
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * operationColumns
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9)

		var accountID any
		if r.AccountID != nil {
			accountID = *r.AccountID
		}
		args = append(args,
			r.Sequence, r.OpType, r.IdempotencyKey, accountID,
			// jsonb columns take text; lib/pq would send []byte as bytea
			r.Timestamp, string(r.Payload), string(r.Images), r.StateHash, r.PrevHash,
		)
	}
	b.WriteString(" ON CONFLICT (sequence) DO NOTHING")
	return b.String(), args
}
