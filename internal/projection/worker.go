package projection

import (
	"MarginLedger/internal/observability"
	"MarginLedger/internal/persistence"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ProjectionWorker keeps the current-state tables in step with the
// operation log. It is fed batches after they are durable; when it falls
// behind, batches are dropped and Rebuild catches it up from the log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan chan []persistence.OperationRow
	lastSeq   atomic.Int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, buffer int, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: make(chan []persistence.OperationRow, buffer),
		metrics:   metrics,
		logger:    logger,
	}
}

// Flushed implements persistence.FlushSink. It never blocks.
func (pw *ProjectionWorker) Flushed(rows []persistence.OperationRow) {
	select {
	case pw.inputChan <- rows:
	default:
		if pw.metrics != nil {
			pw.metrics.ProjectionDrops.Inc()
		}
	}
}

// Run applies batches until ctx is cancelled. A batch that does not follow
// the watermark triggers a rebuild from the log.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	if err := pw.loadWatermark(ctx); err != nil {
		return fmt.Errorf("projection watermark: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rows := <-pw.inputChan:
			if len(rows) == 0 || rows[len(rows)-1].Sequence <= pw.lastSeq.Load() {
				continue
			}
			if rows[0].Sequence > pw.lastSeq.Load()+1 {
				if err := pw.Rebuild(ctx); err != nil {
					pw.logger.Warn().Err(err).Int64("from_seq", pw.lastSeq.Load()+1).Msg("projection rebuild failed")
				}
				continue
			}
			if err := pw.apply(ctx, rows); err != nil {
				// eventually consistent: the next gap triggers a rebuild
				pw.logger.Warn().Err(err).Int64("seq", rows[0].Sequence).Msg("projection update failed")
			}
		}
	}
}

// Rebuild replays the log from the watermark.
func (pw *ProjectionWorker) Rebuild(ctx context.Context) error {
	src := persistence.NewSnapshotManager(pw.db)
	for {
		rows, err := src.LoadOperationsFrom(ctx, pw.lastSeq.Load()+1, 1000)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		if err := pw.apply(ctx, rows); err != nil {
			return err
		}
		pw.logger.Info().Int64("seq", pw.lastSeq.Load()).Msg("projection caught up")
	}
}

func (pw *ProjectionWorker) apply(ctx context.Context, rows []persistence.OperationRow) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	last := pw.lastSeq.Load()
	for _, r := range rows {
		if r.Sequence <= last {
			continue
		}
		if err := applyImages(ctx, tx, r); err != nil {
			return fmt.Errorf("seq=%d: %w", r.Sequence, err)
		}
		last = r.Sequence
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO margin_ledger.projection_watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, last); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	pw.lastSeq.Store(last)
	if pw.metrics != nil {
		pw.metrics.ProjectionLastSequence.Set(float64(last))
	}
	return nil
}

func applyImages(ctx context.Context, tx *sql.Tx, r persistence.OperationRow) error {
	var images persistence.ImageSet
	if err := json.Unmarshal(r.Images, &images); err != nil {
		return err
	}

	for _, b := range images.Banks {
		raw, err := json.Marshal(b)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO margin_ledger.bank_state (bank_id, mint, image, last_sequence, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (bank_id) DO UPDATE SET image = $3, last_sequence = $4, updated_at = NOW()
		`, b.ID, b.Mint, string(raw), r.Sequence); err != nil {
			return fmt.Errorf("bank %s: %w", b.ID, err)
		}
	}
	for _, a := range images.Accounts {
		raw, err := json.Marshal(a)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO margin_ledger.account_state (account_id, authority, image, last_sequence, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (account_id) DO UPDATE SET image = $3, last_sequence = $4, updated_at = NOW()
		`, a.ID, a.Authority, string(raw), r.Sequence); err != nil {
			return fmt.Errorf("account %s: %w", a.ID, err)
		}
	}
	for _, id := range images.Closed {
		if _, err := tx.ExecContext(ctx, `
			UPDATE margin_ledger.account_state
			SET closed = TRUE, last_sequence = $2, updated_at = NOW()
			WHERE account_id = $1
		`, id, r.Sequence); err != nil {
			return fmt.Errorf("close %s: %w", id, err)
		}
	}
	return nil
}

func (pw *ProjectionWorker) loadWatermark(ctx context.Context) error {
	var seq sql.NullInt64
	err := pw.db.QueryRowContext(ctx,
		`SELECT last_sequence FROM margin_ledger.projection_watermark WHERE worker_id = 'main'`,
	).Scan(&seq)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	pw.lastSeq.Store(seq.Int64)
	return nil
}

// LastSequence is the highest sequence reflected in the projection tables.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq.Load()
}
