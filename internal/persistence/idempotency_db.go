package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresIdempotencyChecker is the second idempotency tier: it looks keys
// that fell out of the core's LRU up in the operation log.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{db: db, timeout: 500 * time.Millisecond}
}

// LookupSequence returns the sequence (opType, idempotencyKey) was logged at.
func (pic *PostgresIdempotencyChecker) LookupSequence(opType string, idempotencyKey string) (int64, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pic.timeout)
	defer cancel()

	var sequence int64
	err := pic.db.QueryRowContext(ctx, `
		SELECT sequence
		FROM margin_ledger.operations
		WHERE op_type = $1 AND idempotency_key = $2
	`, opType, idempotencyKey).Scan(&sequence)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return sequence, true, nil
}
