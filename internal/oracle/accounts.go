package oracle

import (
	"MarginLedger/internal/errcode"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// Account is an already-deserialized oracle input image.
type Account interface {
	Key() uuid.UUID
	Owner() uuid.UUID
}

// VerificationLevel of a Pyth price update.
type VerificationLevel uint8

const (
	VerificationPartial VerificationLevel = iota
	VerificationFull
)

// PythPriceMessage is one horizon of a Pyth update in raw feed units.
type PythPriceMessage struct {
	Price    int64  `json:"price"`
	Conf     uint64 `json:"conf"`
	Exponent int32  `json:"exponent"`
}

// PythPriceUpdate mirrors a Pyth receiver PriceUpdateV2 account.
type PythPriceUpdate struct {
	Address       uuid.UUID         `json:"address"`
	OwnerProgram  uuid.UUID         `json:"owner"`
	Discriminator uint64            `json:"discriminator"`
	Verification  VerificationLevel `json:"verification"`
	FeedID        uuid.UUID         `json:"feed_id"`
	Price         PythPriceMessage  `json:"price"`
	EmaPrice      PythPriceMessage  `json:"ema_price"`
	PublishTime   int64             `json:"publish_time"`
}

func (p *PythPriceUpdate) Key() uuid.UUID   { return p.Address }
func (p *PythPriceUpdate) Owner() uuid.UUID { return p.OwnerProgram }

// SwitchboardPullFeed mirrors a Switchboard on-demand PullFeed account.
// Value and StdDev are fixed at SwitchboardDecimals.
type SwitchboardPullFeed struct {
	Address       uuid.UUID `json:"address"`
	OwnerProgram  uuid.UUID `json:"owner"`
	Discriminator uint64    `json:"discriminator"`
	Value         *big.Int  `json:"value"`
	StdDev        *big.Int  `json:"std_dev"`
	LastUpdate    int64     `json:"last_update"`
}

func (s *SwitchboardPullFeed) Key() uuid.UUID   { return s.Address }
func (s *SwitchboardPullFeed) Owner() uuid.UUID { return s.OwnerProgram }

// LstMint is the mint of a liquid staking token.
type LstMint struct {
	Address      uuid.UUID `json:"address"`
	OwnerProgram uuid.UUID `json:"owner"`
	Supply       uint64    `json:"supply"`
}

func (m *LstMint) Key() uuid.UUID   { return m.Address }
func (m *LstMint) Owner() uuid.UUID { return m.OwnerProgram }

// StakePool is the stake account backing an LST.
type StakePool struct {
	Address      uuid.UUID `json:"address"`
	OwnerProgram uuid.UUID `json:"owner"`
	Lamports     uint64    `json:"lamports"`
}

func (s *StakePool) Key() uuid.UUID   { return s.Address }
func (s *StakePool) Owner() uuid.UUID { return s.OwnerProgram }

// Kind tags for the wire envelope.
const (
	KindPythPush        = "pyth_push"
	KindSwitchboardPull = "switchboard_pull"
	KindLstMint         = "lst_mint"
	KindStakePool       = "stake_pool"
)

type envelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// EncodeAccount wraps an image with its kind tag.
func EncodeAccount(acc Account) ([]byte, error) {
	var kind string
	switch acc.(type) {
	case *PythPriceUpdate:
		kind = KindPythPush
	case *SwitchboardPullFeed:
		kind = KindSwitchboardPull
	case *LstMint:
		kind = KindLstMint
	case *StakePool:
		kind = KindStakePool
	default:
		return nil, fmt.Errorf("encode oracle account: unsupported type %T", acc)
	}
	data, err := json.Marshal(acc)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	return json.Marshal(envelope{Kind: kind, Data: data})
}

// DecodeAccount is the inverse of EncodeAccount.
func DecodeAccount(raw []byte) (Account, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode oracle envelope: %w", err)
	}
	var acc Account
	switch env.Kind {
	case KindPythPush:
		acc = &PythPriceUpdate{}
	case KindSwitchboardPull:
		acc = &SwitchboardPullFeed{}
	case KindLstMint:
		acc = &LstMint{}
	case KindStakePool:
		acc = &StakePool{}
	default:
		return nil, fmt.Errorf("decode oracle envelope: unknown kind %q", env.Kind)
	}
	if err := json.Unmarshal(env.Data, acc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
	}
	if acc.Key() == uuid.Nil {
		return nil, fmt.Errorf("decode %s: missing address: %w", env.Kind, errcode.ErrInvalidOracleAccount)
	}
	return acc, nil
}
