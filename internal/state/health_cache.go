package state

import fpmath "MarginLedger/internal/math"

// NoErrorIndex marks a health cache with no recorded per-balance failure.
const NoErrorIndex uint8 = 255

// Health cache flags.
const (
	HealthCacheHealthy  uint32 = 1 << 0
	HealthCacheEngineOK uint32 = 1 << 1
	HealthCacheOracleOK uint32 = 1 << 2
)

// HealthCache records the last risk evaluation of an account. It is a
// diagnostic and is never read back by the risk engine.
type HealthCache struct {
	AssetValue           fpmath.I80F48 `json:"asset_value"`
	LiabilityValue       fpmath.I80F48 `json:"liability_value"`
	AssetValueMaint      fpmath.I80F48 `json:"asset_value_maint"`
	LiabilityValueMaint  fpmath.I80F48 `json:"liability_value_maint"`
	AssetValueEquity     fpmath.I80F48 `json:"asset_value_equity"`
	LiabilityValueEquity fpmath.I80F48 `json:"liability_value_equity"`

	// Initial-regime price per active balance, in slot order.
	Prices [MaxBalances]float64 `json:"prices"`

	Timestamp int64  `json:"timestamp"`
	Flags     uint32 `json:"flags"`

	// First tolerated per-balance failure.
	ErrIndex uint8  `json:"err_index"`
	MrgnErr  uint32 `json:"mrgn_err"`

	InternalErr           uint32 `json:"internal_err"`
	InternalLiqErr        uint32 `json:"internal_liq_err"`
	InternalBankruptcyErr uint32 `json:"internal_bankruptcy_err"`
}

// Reset clears the cache for a new evaluation at now.
func (h *HealthCache) Reset(now int64) {
	*h = HealthCache{Timestamp: now, ErrIndex: NoErrorIndex}
}

func (h *HealthCache) SetFlag(flag uint32, on bool) {
	if on {
		h.Flags |= flag
	} else {
		h.Flags &^= flag
	}
}

func (h *HealthCache) HasFlag(flag uint32) bool { return h.Flags&flag == flag }
