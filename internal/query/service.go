package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// QueryService reads the projection tables and the operation log. Live risk
// figures come from the core; this side serves history and listings, each
// tagged with the projection watermark it reflects.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// AccountsByAuthority lists the open accounts owned by authority.
func (qs *QueryService) AccountsByAuthority(ctx context.Context, authority uuid.UUID) ([]AccountSummary, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_id, authority, image, last_sequence
		FROM margin_ledger.account_state
		WHERE authority = $1 AND NOT closed
		ORDER BY account_id
	`, authority)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AccountSummary
	for rows.Next() {
		var (
			a     AccountSummary
			image []byte
		)
		if err := rows.Scan(&a.AccountID, &a.Authority, &image, &a.LastSequence); err != nil {
			return nil, err
		}
		a.Image = image
		a.AsOfSequence = asOfSeq
		out = append(out, a)
	}
	return out, rows.Err()
}

// OperationHistory returns the newest operations for an account, paging
// backwards from beforeSequence when it is set.
func (qs *QueryService) OperationHistory(
	ctx context.Context,
	accountID uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]OperationEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT sequence, op_type, idempotency_key, op_timestamp, payload
		FROM margin_ledger.operations
		WHERE account_id = $1
	`
	args := []any{accountID}
	if beforeSequence != nil {
		query += " AND sequence < $2"
		args = append(args, *beforeSequence)
	}
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OperationEntry
	for rows.Next() {
		var (
			e       OperationEntry
			payload []byte
		)
		if err := rows.Scan(&e.Sequence, &e.OpType, &e.IdempotencyKey, &e.Timestamp, &payload); err != nil {
			return nil, err
		}
		e.Payload = payload
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks that every logged row links to its predecessor and
// that the sequence has no holes.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	if err := qs.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM margin_ledger.operations`,
	).Scan(&report.LatestSequence); err != nil {
		return nil, err
	}

	breaks, err := qs.sequences(ctx, `
		SELECT o.sequence
		FROM margin_ledger.operations o
		JOIN margin_ledger.operations p ON p.sequence = o.sequence - 1
		WHERE o.prev_hash <> p.state_hash
		ORDER BY o.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	report.HashChainBreaks = breaks

	gaps, err := qs.sequences(ctx, `
		SELECT o.sequence + 1
		FROM margin_ledger.operations o
		LEFT JOIN margin_ledger.operations n ON n.sequence = o.sequence + 1
		WHERE n.sequence IS NULL AND o.sequence < (SELECT MAX(sequence) FROM margin_ledger.operations)
		ORDER BY o.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	report.SequenceGaps = gaps

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.SequenceGaps) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) sequences(ctx context.Context, query string) ([]int64, error) {
	rows, err := qs.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		out = append(out, seq)
	}
	return out, rows.Err()
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx,
		`SELECT last_sequence FROM margin_ledger.projection_watermark WHERE worker_id = 'main'`,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}
