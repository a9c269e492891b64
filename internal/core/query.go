package core

import (
	"MarginLedger/internal/errcode"
	fpmath "MarginLedger/internal/math"
	"MarginLedger/internal/oracle"
	"MarginLedger/internal/state"
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// HealthReport is a read-only risk evaluation of an account at a point in time.
type HealthReport struct {
	AccountID         uuid.UUID         `json:"account_id"`
	Timestamp         int64             `json:"timestamp"`
	Healthy           bool              `json:"healthy"`
	MaintenanceHealth fpmath.I80F48     `json:"maintenance_health"`
	Liquidatable      bool              `json:"liquidatable"`
	Bankrupt          bool              `json:"bankrupt"`
	RejectCode        uint32            `json:"reject_code,omitempty"`
	Reject            string            `json:"reject,omitempty"`
	Cache             state.HealthCache `json:"cache"`
}

// Bank returns a copy of the committed bank image.
func (c *LendingCore) Bank(id uuid.UUID) (*state.Bank, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.banks[id]
	if !ok {
		return nil, fmt.Errorf("bank %s: %w", id, errcode.ErrBankNotFound)
	}
	return b.Clone(), nil
}

// Account returns a copy of the committed account image.
func (c *LendingCore) Account(id uuid.UUID) (*state.MarginAccount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, errcode.ErrAccountNotFound)
	}
	return a.Clone(), nil
}

// AccountHealth evaluates an account against banks accrued to now without
// committing anything. A failed Initial check is reported, not returned;
// only structural failures are errors.
func (c *LendingCore) AccountHealth(id uuid.UUID, now int64) (*HealthReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx := c.begin(now)
	acc, err := tx.account(id)
	if err != nil {
		return nil, err
	}
	for _, bal := range acc.ActiveBalances() {
		if _, err := tx.bank(bal.BankID); err != nil {
			return nil, err
		}
	}
	engine, err := tx.engineNoFlashloanCheck(acc)
	if err != nil {
		return nil, err
	}

	report := &HealthReport{AccountID: id, Timestamp: now}
	if checkErr := engine.CheckInitHealth(&report.Cache); checkErr != nil {
		if !isRiskRejection(checkErr) {
			return nil, checkErr
		}
		report.RejectCode, report.Reject = errcode.CodeOf(checkErr), checkErr.Error()
	} else {
		report.Healthy = true
	}
	if h, err := engine.MaintenanceHealth(nil); err == nil {
		report.MaintenanceHealth = h
		report.Liquidatable = !h.IsPositive()
	}
	if bankrupt, err := engine.IsBankrupt(nil); err == nil {
		report.Bankrupt = bankrupt
	}

	if c.metrics != nil {
		result := "healthy"
		if !report.Healthy {
			result = "unhealthy"
		}
		c.metrics.HealthQueries.WithLabelValues(result).Inc()
	}
	return report, nil
}

func isRiskRejection(err error) bool {
	return errcode.KindOf(err) == errcode.KindPolicy || errcode.KindOf(err) == errcode.KindOracle
}

// Snapshot is a complete image of the core at a committed sequence. Oracle
// images are not part of it: they are reloaded from the feed store.
type Snapshot struct {
	Sequence        int64                  `json:"sequence"`
	StateHash       [32]byte               `json:"state_hash"`
	Banks           []*state.Bank          `json:"banks"`
	Accounts        []*state.MarginAccount `json:"accounts"`
	IdempotencyKeys []IdempotencyEntry     `json:"idempotency_keys"`
}

func (c *LendingCore) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &Snapshot{
		Sequence:        c.sequence,
		StateHash:       c.hasher.GetPrevHash(),
		Banks:           make([]*state.Bank, 0, len(c.banks)),
		Accounts:        make([]*state.MarginAccount, 0, len(c.accounts)),
		IdempotencyKeys: c.idempotency.Entries(),
	}
	for _, b := range c.banks {
		snap.Banks = append(snap.Banks, b.Clone())
	}
	for _, a := range c.accounts {
		snap.Accounts = append(snap.Accounts, a.Clone())
	}
	sort.Slice(snap.Banks, func(i, j int) bool { return lessID(snap.Banks[i].ID, snap.Banks[j].ID) })
	sort.Slice(snap.Accounts, func(i, j int) bool { return lessID(snap.Accounts[i].ID, snap.Accounts[j].ID) })
	return snap
}

// Restore replaces the core's state with a snapshot. It is meant for startup,
// before any operation is processed.
func (c *LendingCore) Restore(snap *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence = snap.Sequence
	c.hasher.Restore(snap.StateHash)
	c.banks = make(map[uuid.UUID]*state.Bank, len(snap.Banks))
	for _, b := range snap.Banks {
		c.banks[b.ID] = b.Clone()
	}
	c.accounts = make(map[uuid.UUID]*state.MarginAccount, len(snap.Accounts))
	for _, a := range snap.Accounts {
		c.accounts[a.ID] = a.Clone()
	}
	c.idempotency.Warm(snap.IdempotencyKeys)

	c.logger.Info().
		Int64("sequence", snap.Sequence).
		Int("banks", len(snap.Banks)).
		Int("accounts", len(snap.Accounts)).
		Msg("state restored from snapshot")
}

// LoadFeeds seeds the oracle registry from a feed store.
func (c *LendingCore) LoadFeeds(ctx context.Context, store oracle.FeedStore) (int, error) {
	feeds, err := store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load feeds: %w", err)
	}
	kept := 0
	for _, f := range feeds {
		if c.UpdatePriceFeed(f) {
			kept++
		}
	}
	return kept, nil
}
