package core

import (
	"MarginLedger/internal/errcode"
	"MarginLedger/internal/event"
	fpmath "MarginLedger/internal/math"
	"MarginLedger/internal/observability"
	"MarginLedger/internal/oracle"
	"MarginLedger/internal/risk"
	"MarginLedger/internal/state"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LendingCore is the serialized operation processor. One mutex guards every
// bank and account: an operation runs to completion against cloned images
// and commits them only if it succeeds.
type LendingCore struct {
	mu sync.Mutex

	admin    uuid.UUID
	sequence int64
	hasher   *StateHasher

	banks    map[uuid.UUID]*state.Bank
	accounts map[uuid.UUID]*state.MarginAccount
	feeds    *oracle.Registry

	idempotency *IdempotencyChecker
	metrics     *observability.Metrics
	logger      zerolog.Logger

	persistChan chan<- CoreOutput
}

// CoreOutput is emitted once per committed operation. Banks and Accounts are
// the full post-images the operation wrote; Closed lists accounts it removed.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Banks    []*state.Bank
	Accounts []*state.MarginAccount
	Closed   []uuid.UUID
}

// Config wires optional collaborators into the core. Zero values disable them.
type Config struct {
	Admin               uuid.UUID
	StartSequence       int64
	IdempotencyCapacity int
	DBChecker           DBIdempotencyChecker
	Metrics             *observability.Metrics
	Logger              zerolog.Logger
	PersistChan         chan<- CoreOutput
}

// Result reports what a committed operation produced for the transfer layer.
type Result struct {
	Sequence  int64
	StateHash [32]byte
	Duplicate bool

	// Native amount moved by withdraw-all / repay-all.
	Amount uint64
	// Liquidation: liability native units routed to insurance.
	InsuranceFee uint64
	// Bankruptcy: debt covered by insurance and debt socialized.
	CoveredByInsurance fpmath.I80F48
	Socialized         fpmath.I80F48
}

func NewLendingCore(cfg Config) *LendingCore {
	capacity := cfg.IdempotencyCapacity
	if capacity <= 0 {
		capacity = 100_000
	}
	return &LendingCore{
		admin:       cfg.Admin,
		sequence:    cfg.StartSequence,
		hasher:      NewStateHasher(),
		banks:       make(map[uuid.UUID]*state.Bank),
		accounts:    make(map[uuid.UUID]*state.MarginAccount),
		feeds:       oracle.NewRegistry(),
		idempotency: NewIdempotencyChecker(capacity, cfg.DBChecker, cfg.Metrics),
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		persistChan: cfg.PersistChan,
	}
}

// Process applies one operation. A duplicate idempotency key is acknowledged
// without effect. On error no state changes.
func (c *LendingCore) Process(evt event.Event) (*Result, error) {
	if feed, ok := evt.(*event.PriceFeedUpdate); ok {
		c.UpdatePriceFeed(feed.Account)
		return &Result{}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	opType := evt.EventType().String()
	key := evt.IdempotencyKey()

	if seq, dup := c.idempotency.Lookup(opType, key); dup {
		if c.metrics != nil {
			c.metrics.CoreOpsRejected.WithLabelValues(opType, "duplicate").Inc()
		}
		return &Result{Duplicate: true, Sequence: seq}, nil
	}

	tx := c.begin(evt.At())
	res := &Result{}
	accountID, err := c.dispatch(tx, evt, res)
	if err != nil {
		if c.metrics != nil {
			c.metrics.CoreOpsRejected.WithLabelValues(opType, strconv.FormatUint(uint64(errcode.CodeOf(err)), 10)).Inc()
		}
		c.logger.Warn().
			Str("op", opType).
			Str("idempotency_key", key).
			Uint32("code", errcode.CodeOf(err)).
			Err(err).
			Msg("operation rejected")
		return nil, err
	}

	banks, accounts, closed := tx.commit()
	c.sequence++
	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal committed operation %s: %v", key, err))
	}
	prev := c.hasher.GetPrevHash()
	hash := c.hasher.ComputeHash(c.sequence, StateDigest(banks, accounts, closed))

	env := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: key,
		EventType:      evt.EventType(),
		AccountID:      accountID,
		Timestamp:      evt.At(),
		Payload:        payload,
		StateHash:      hash,
		PrevHash:       prev,
	}
	if c.persistChan != nil {
		// blocking: the operation log must not skip a sequence
		out := CoreOutput{Envelope: env, Banks: banks, Accounts: accounts, Closed: closed}
		select {
		case c.persistChan <- out:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- out
		}
	}
	c.idempotency.MarkProcessed(opType, key, c.sequence)

	res.Sequence, res.StateHash = c.sequence, hash
	if c.metrics != nil {
		c.metrics.CoreOpsApplied.WithLabelValues(opType).Inc()
		c.metrics.CoreOpDuration.WithLabelValues(opType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}
	c.logger.Debug().
		Str("op", opType).
		Int64("sequence", c.sequence).
		Str("account_id", accountID.String()).
		Msg("operation committed")
	return res, nil
}

func (c *LendingCore) dispatch(tx *txn, evt event.Event, res *Result) (uuid.UUID, error) {
	switch e := evt.(type) {
	case *event.AddBank:
		return uuid.Nil, c.handleAddBank(tx, e)
	case *event.ConfigureBankEmode:
		return uuid.Nil, c.handleConfigureBankEmode(tx, e)
	case *event.AccrueInterest:
		_, err := tx.bank(e.BankID)
		return uuid.Nil, err
	case *event.CreateAccount:
		return e.AccountID, c.handleCreateAccount(tx, e)
	case *event.CloseAccount:
		return e.AccountID, c.handleCloseAccount(tx, e)
	case *event.Deposit:
		return e.AccountID, c.handleDeposit(tx, e)
	case *event.Withdraw:
		return e.AccountID, c.handleWithdraw(tx, e, res)
	case *event.Borrow:
		return e.AccountID, c.handleBorrow(tx, e)
	case *event.Repay:
		return e.AccountID, c.handleRepay(tx, e, res)
	case *event.FlashloanStart:
		return e.AccountID, c.handleFlashloanStart(tx, e)
	case *event.FlashloanEnd:
		return e.AccountID, c.handleFlashloanEnd(tx, e)
	case *event.Liquidate:
		return e.LiquidateeID, c.handleLiquidate(tx, e, res)
	case *event.HandleBankruptcy:
		return e.AccountID, c.handleBankruptcy(tx, e, res)
	default:
		return uuid.Nil, fmt.Errorf("unsupported operation %T: %w", evt, errcode.ErrIllegalAction)
	}
}

// runInitCheck stores the check's diagnostics on acc. The cache is written
// even on failure; the caller discards acc then, so only logs see it.
func (c *LendingCore) runInitCheck(e *risk.Engine, acc *state.MarginAccount) error {
	var cache state.HealthCache
	err := e.CheckInitHealth(&cache)
	acc.HealthCache = cache

	if cache.ErrIndex != state.NoErrorIndex {
		c.logger.Info().
			Str("account_id", acc.ID.String()).
			Uint8("err_index", cache.ErrIndex).
			Uint32("code", cache.MrgnErr).
			Msg("stale collateral tolerated in initial health")
		if c.metrics != nil {
			c.metrics.StaleCollateralTolerated.Inc()
		}
	}
	if c.metrics != nil {
		result := "pass"
		if err != nil {
			result = "reject"
		}
		c.metrics.HealthChecks.WithLabelValues(state.RequirementInitial.String(), result).Inc()
	}
	return err
}

// UpdatePriceFeed records an oracle image. Images older than the one held are
// ignored; the return value reports whether the image was kept.
func (c *LendingCore) UpdatePriceFeed(acc oracle.Account) bool {
	kept := c.feeds.Put(acc)
	if c.metrics != nil {
		result := "kept"
		if !kept {
			result = "stale"
		}
		c.metrics.OracleFeedUpdates.WithLabelValues(result).Inc()
	}
	return kept
}

// Sequence returns the last committed sequence.
func (c *LendingCore) Sequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence
}
