package oracle

import (
	"MarginLedger/internal/errcode"
	fpmath "MarginLedger/internal/math"
	"fmt"

	"github.com/google/uuid"
)

type pythComponent struct {
	price fpmath.I80F48
	conf  fpmath.I80F48
}

// PythPushFeed prices from a fully verified Pyth receiver update.
type PythPushFeed struct {
	spot pythComponent
	ema  pythComponent
}

func loadPythPush(input Account, feedID uuid.UUID, maxAge, now int64) (*PythPushFeed, error) {
	upd, ok := input.(*PythPriceUpdate)
	if !ok {
		return nil, fmt.Errorf("pyth push input is %T: %w", input, errcode.ErrPythPushInvalidAccount)
	}
	if upd.OwnerProgram != PythReceiverProgram {
		return nil, fmt.Errorf("owner %s: %w", upd.OwnerProgram, errcode.ErrPythPushWrongAccountOwner)
	}
	if upd.Discriminator != PriceUpdateV2Discriminator {
		return nil, fmt.Errorf("discriminator %#x: %w", upd.Discriminator, errcode.ErrPythPushInvalidAccount)
	}
	if upd.Verification != VerificationFull {
		return nil, errcode.ErrPythPushInsufficientVerify
	}
	if upd.FeedID != feedID {
		return nil, fmt.Errorf("feed %s, bank wants %s: %w", upd.FeedID, feedID, errcode.ErrPythPushMismatchedFeedID)
	}
	if upd.PublishTime+maxAge < now {
		return nil, fmt.Errorf("published %d, now %d, max age %d: %w", upd.PublishTime, now, maxAge, errcode.ErrPythPushStalePrice)
	}

	spot, err := pythToFixed(upd.Price)
	if err != nil {
		return nil, err
	}
	ema, err := pythToFixed(upd.EmaPrice)
	if err != nil {
		return nil, err
	}
	return &PythPushFeed{spot: spot, ema: ema}, nil
}

func pythToFixed(m PythPriceMessage) (pythComponent, error) {
	if m.Price <= 0 {
		return pythComponent{}, fmt.Errorf("pyth price %d: %w", m.Price, errcode.ErrOracleInvalidPrice)
	}
	price, err := fpmath.ScaleByExponent(fpmath.FromInt(m.Price), m.Exponent)
	if err != nil {
		return pythComponent{}, err
	}
	conf, err := fpmath.ScaleByExponent(fpmath.FromUint64(m.Conf), m.Exponent)
	if err != nil {
		return pythComponent{}, err
	}
	return pythComponent{price: price, conf: conf}, nil
}

func (f *PythPushFeed) Price(kind PriceType, bias Bias, maxConfidence uint32) (fpmath.I80F48, error) {
	c := f.spot
	if kind == TimeWeighted {
		c = f.ema
	}
	return applyBias(c.price, c.conf, confMultiplePyth, bias, maxConfidence)
}
