package oracle

import (
	"MarginLedger/internal/errcode"
	fpmath "MarginLedger/internal/math"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SwitchboardFeed prices from a Switchboard pull feed. The feed carries no
// smoothed value, so both horizons return the same price.
type SwitchboardFeed struct {
	price  fpmath.I80F48
	stdDev fpmath.I80F48
}

func loadSwitchboardPull(input Account, key uuid.UUID, maxAge, now int64) (*SwitchboardFeed, error) {
	feed, ok := input.(*SwitchboardPullFeed)
	if !ok {
		return nil, fmt.Errorf("switchboard input is %T: %w", input, errcode.ErrSwitchboardInvalidAccount)
	}
	if feed.Address != key {
		return nil, fmt.Errorf("feed %s, bank wants %s: %w", feed.Address, key, errcode.ErrInvalidOracleAccount)
	}
	if feed.OwnerProgram != SwitchboardPullProgram {
		return nil, fmt.Errorf("owner %s: %w", feed.OwnerProgram, errcode.ErrSwitchboardWrongAccountOwner)
	}
	if feed.Discriminator != PullFeedDiscriminator || feed.Value == nil || feed.StdDev == nil {
		return nil, errcode.ErrSwitchboardInvalidAccount
	}
	if feed.LastUpdate+maxAge < now {
		return nil, fmt.Errorf("updated %d, now %d, max age %d: %w", feed.LastUpdate, now, maxAge, errcode.ErrSwitchboardStalePrice)
	}

	price, err := fpmath.FromDecimal(decimal.NewFromBigInt(feed.Value, -SwitchboardDecimals))
	if err != nil {
		return nil, err
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("switchboard price %s: %w", price, errcode.ErrOracleInvalidPrice)
	}
	stdDev, err := fpmath.FromDecimal(decimal.NewFromBigInt(feed.StdDev, -SwitchboardDecimals))
	if err != nil {
		return nil, err
	}
	return &SwitchboardFeed{price: price, stdDev: stdDev}, nil
}

func (f *SwitchboardFeed) Price(_ PriceType, bias Bias, maxConfidence uint32) (fpmath.I80F48, error) {
	return applyBias(f.price, f.stdDev, confMultipleSwb, bias, maxConfidence)
}
