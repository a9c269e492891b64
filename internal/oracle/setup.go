package oracle

import (
	"MarginLedger/internal/errcode"
	fpmath "MarginLedger/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// Setup selects the oracle backend a bank prices against.
type Setup uint8

const (
	SetupNone Setup = iota
	SetupPythLegacy
	SetupSwitchboardV2
	SetupPythPush
	SetupSwitchboardPull
	SetupStakedWithPythPush
)

func (s Setup) String() string {
	switch s {
	case SetupNone:
		return "None"
	case SetupPythLegacy:
		return "PythLegacy"
	case SetupSwitchboardV2:
		return "SwitchboardV2"
	case SetupPythPush:
		return "PythPushOracle"
	case SetupSwitchboardPull:
		return "SwitchboardPull"
	case SetupStakedWithPythPush:
		return "StakedWithPythPush"
	default:
		return fmt.Sprintf("Setup(%d)", uint8(s))
	}
}

// ParseSetup accepts the names produced by String.
func ParseSetup(s string) (Setup, error) {
	for v := SetupNone; v <= SetupStakedWithPythPush; v++ {
		if v.String() == s {
			return v, nil
		}
	}
	return SetupNone, fmt.Errorf("unknown oracle setup %q: %w", s, errcode.ErrInvalidConfig)
}

// PriceType is the time horizon of a price.
type PriceType uint8

const (
	TimeWeighted PriceType = iota
	RealTime
)

func (p PriceType) String() string {
	if p == RealTime {
		return "RealTime"
	}
	return "TimeWeighted"
}

// Bias shifts a price by its confidence interval.
type Bias uint8

const (
	BiasNone Bias = iota
	BiasLow
	BiasHigh
)

const (
	MaxOracleKeys = 5

	// DefaultMaxAge applies when a bank leaves its max age at zero.
	DefaultMaxAge uint16 = 60

	// PythConfMultiple widens the reported Pyth confidence to roughly 2 sigma.
	PythConfMultiple = "2.12"
	// SwitchboardStdDevMultiple widens the reported standard deviation.
	SwitchboardStdDevMultiple = "1.96"

	// SwitchboardDecimals is the fixed scale of Switchboard pull values.
	SwitchboardDecimals = 18
)

var (
	confMultiplePyth = fpmath.MustFromString(PythConfMultiple)
	confMultipleSwb  = fpmath.MustFromString(SwitchboardStdDevMultiple)

	// Confidence tolerance used when a bank leaves MaxConfidence at zero.
	defaultMaxConfidence = fpmath.MustFromString("0.1")
	// Hard cap on the interval regardless of the bank's tolerance.
	maxConfInterval = fpmath.MustFromString("0.05")

	u32Max = fpmath.FromUint64(1<<32 - 1)
)

// Program identities the input images must be owned by.
var (
	PythReceiverProgram    = uuid.MustParse("7a3c1c56-4a55-4e3c-9d45-1f5e3b0d9a01")
	SwitchboardPullProgram = uuid.MustParse("5b0f9a2e-8c74-4d1b-a6e3-2c9d7f4e1b02")
	TokenProgram           = uuid.MustParse("0c6b7de4-31f8-4a2e-bb15-9e4d2a7c6f03")
	NativeStakeProgram     = uuid.MustParse("e41d8a3f-6b29-4c70-8d5e-3a1f9c2b7e04")
)

// Account discriminators of the supported feed images.
const (
	PriceUpdateV2Discriminator uint64 = 0xcdf47e9d6323f122
	PullFeedDiscriminator      uint64 = 0x28dbd70ac46c1bc4
)

// Config is the oracle section of a bank's configuration.
type Config struct {
	Setup Setup                    `json:"setup"`
	Keys  [MaxOracleKeys]uuid.UUID `json:"keys"`
	// MaxAge is in seconds; zero selects DefaultMaxAge.
	MaxAge uint16 `json:"max_age"`
	// MaxConfidence is a fraction of u32::MAX; zero selects a 10% tolerance.
	MaxConfidence uint32 `json:"max_confidence"`
}

// InputCount is the number of oracle inputs the setup consumes per bank.
func (c Config) InputCount() int {
	switch c.Setup {
	case SetupPythPush, SetupSwitchboardPull:
		return 1
	case SetupStakedWithPythPush:
		return 3
	default:
		return 0
	}
}

func (c Config) maxAge() int64 {
	if c.MaxAge == 0 {
		return int64(DefaultMaxAge)
	}
	return int64(c.MaxAge)
}

// Validate checks that every key the setup consumes is present.
func (c Config) Validate() error {
	switch c.Setup {
	case SetupPythPush, SetupSwitchboardPull, SetupStakedWithPythPush:
	case SetupNone, SetupPythLegacy, SetupSwitchboardV2:
		return fmt.Errorf("oracle setup %s cannot be configured: %w", c.Setup, errcode.ErrInvalidConfig)
	default:
		return fmt.Errorf("oracle setup %d: %w", c.Setup, errcode.ErrInvalidConfig)
	}
	for i := 0; i < c.InputCount(); i++ {
		if c.Keys[i] == uuid.Nil {
			return fmt.Errorf("oracle key %d missing for %s: %w", i, c.Setup, errcode.ErrInvalidConfig)
		}
	}
	return nil
}
