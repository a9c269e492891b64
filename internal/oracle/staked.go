package oracle

import (
	"MarginLedger/internal/errcode"
	fpmath "MarginLedger/internal/math"
	"fmt"
)

// StakedFeed prices a liquid staking token as the underlying Pyth price times
// the pool's backing per token.
type StakedFeed struct {
	base  *PythPushFeed
	ratio fpmath.I80F48
}

// Inputs are ordered: Pyth update, LST mint, stake pool. Keys follow the same
// order, with Keys[0] holding the feed id.
func loadStaked(cfg Config, inputs []Account, now int64) (*StakedFeed, error) {
	mint, ok := inputs[1].(*LstMint)
	if !ok {
		return nil, fmt.Errorf("lst mint input is %T: %w", inputs[1], errcode.ErrStakePoolValidationFailed)
	}
	pool, ok := inputs[2].(*StakePool)
	if !ok {
		return nil, fmt.Errorf("stake pool input is %T: %w", inputs[2], errcode.ErrStakePoolValidationFailed)
	}
	if mint.Address != cfg.Keys[1] || pool.Address != cfg.Keys[2] {
		return nil, errcode.ErrStakePoolValidationFailed
	}
	if mint.OwnerProgram != TokenProgram || pool.OwnerProgram != NativeStakeProgram {
		return nil, errcode.ErrStakedPythPushWrongOwner
	}

	base, err := loadPythPush(inputs[0], cfg.Keys[0], cfg.maxAge(), now)
	if err != nil {
		return nil, err
	}
	if mint.Supply == 0 {
		return nil, fmt.Errorf("lst supply is zero: %w", errcode.ErrOracleInvalidPrice)
	}
	ratio, err := fpmath.FromUint64(pool.Lamports).Div(fpmath.FromUint64(mint.Supply))
	if err != nil {
		return nil, err
	}
	return &StakedFeed{base: base, ratio: ratio}, nil
}

func (f *StakedFeed) Price(kind PriceType, bias Bias, maxConfidence uint32) (fpmath.I80F48, error) {
	p, err := f.base.Price(kind, bias, maxConfidence)
	if err != nil {
		return fpmath.Zero, err
	}
	return p.Mul(f.ratio)
}
