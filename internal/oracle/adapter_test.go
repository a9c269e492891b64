package oracle_test

import (
	"MarginLedger/internal/errcode"
	fpmath "MarginLedger/internal/math"
	"MarginLedger/internal/oracle"
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"
)

const now = int64(1_700_000_000)

var feedID = uuid.MustParse("11111111-1111-4111-8111-111111111111")

func pythUpdate(price int64, conf uint64, publish int64) *oracle.PythPriceUpdate {
	return &oracle.PythPriceUpdate{
		Address:       uuid.New(),
		OwnerProgram:  oracle.PythReceiverProgram,
		Discriminator: oracle.PriceUpdateV2Discriminator,
		Verification:  oracle.VerificationFull,
		FeedID:        feedID,
		Price:         oracle.PythPriceMessage{Price: price, Conf: conf, Exponent: -2},
		EmaPrice:      oracle.PythPriceMessage{Price: price / 2, Conf: conf, Exponent: -2},
		PublishTime:   publish,
	}
}

func pythConfig() oracle.Config {
	cfg := oracle.Config{Setup: oracle.SetupPythPush}
	cfg.Keys[0] = feedID
	return cfg
}

func mustLoad(t *testing.T, cfg oracle.Config, inputs ...oracle.Account) oracle.PriceAdapter {
	t.Helper()
	a, err := oracle.Load(cfg, inputs, now)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return a
}

func assertPrice(t *testing.T, a oracle.PriceAdapter, kind oracle.PriceType, bias oracle.Bias, maxConf uint32, want string) {
	t.Helper()
	got, err := a.Price(kind, bias, maxConf)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	diff, _ := got.Sub(fpmath.MustFromString(want))
	diff, _ = diff.Abs()
	if diff.GreaterThan(fpmath.MustFromString("0.000001")) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

// ============================================================================
// Test: Pyth push loading
// ============================================================================

func TestPythPush_LoadRejections(t *testing.T) {
	stale := pythUpdate(10000, 100, now-61)

	wrongOwner := pythUpdate(10000, 100, now)
	wrongOwner.OwnerProgram = uuid.New()

	malformed := pythUpdate(10000, 100, now)
	malformed.Discriminator = 7

	partial := pythUpdate(10000, 100, now)
	partial.Verification = oracle.VerificationPartial

	otherFeed := pythUpdate(10000, 100, now)
	otherFeed.FeedID = uuid.New()

	cases := []struct {
		name  string
		input oracle.Account
		want  error
	}{
		{"stale", stale, errcode.ErrPythPushStalePrice},
		{"wrong owner", wrongOwner, errcode.ErrPythPushWrongAccountOwner},
		{"malformed", malformed, errcode.ErrPythPushInvalidAccount},
		{"partial verification", partial, errcode.ErrPythPushInsufficientVerify},
		{"mismatched feed", otherFeed, errcode.ErrPythPushMismatchedFeedID},
		{"wrong image type", &oracle.StakePool{Address: uuid.New()}, errcode.ErrPythPushInvalidAccount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := oracle.Load(pythConfig(), []oracle.Account{tc.input}, now)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
			if errcode.KindOf(err) != errcode.KindOracle {
				t.Errorf("kind: got %s, want oracle", errcode.KindOf(err))
			}
		})
	}
}

func TestPythPush_MaxAgeBoundaryIsInclusive(t *testing.T) {
	mustLoad(t, pythConfig(), pythUpdate(10000, 100, now-60))

	cfg := pythConfig()
	cfg.MaxAge = 5
	if _, err := oracle.Load(cfg, []oracle.Account{pythUpdate(10000, 100, now-6)}, now); !errors.Is(err, errcode.ErrPythPushStalePrice) {
		t.Fatalf("got %v, want stale", err)
	}
}

func TestPythPush_BiasAndHorizon(t *testing.T) {
	// price 100.00, conf 1.00 -> interval 2.12
	a := mustLoad(t, pythConfig(), pythUpdate(10000, 100, now))

	assertPrice(t, a, oracle.RealTime, oracle.BiasNone, 0, "100")
	assertPrice(t, a, oracle.RealTime, oracle.BiasLow, 0, "97.88")
	assertPrice(t, a, oracle.RealTime, oracle.BiasHigh, 0, "102.12")
	// ema price is 50.00 with the same conf
	assertPrice(t, a, oracle.TimeWeighted, oracle.BiasNone, 0, "50")
	assertPrice(t, a, oracle.TimeWeighted, oracle.BiasLow, 0, "47.88")
}

func TestPythPush_ConfidenceExceedsDefaultTolerance(t *testing.T) {
	// conf 10.00 -> interval 21.2 against a 10% tolerance of 100
	a := mustLoad(t, pythConfig(), pythUpdate(10000, 1000, now))

	if _, err := a.Price(oracle.RealTime, oracle.BiasLow, 0); !errors.Is(err, errcode.ErrOracleMaxConfidenceExceeded) {
		t.Fatalf("got %v, want ErrOracleMaxConfidenceExceeded", err)
	}
	// unbiased prices skip the confidence gate
	assertPrice(t, a, oracle.RealTime, oracle.BiasNone, 0, "100")
}

func TestPythPush_IntervalHardCappedAtFivePercent(t *testing.T) {
	// conf 5.00 -> interval 10.6; full tolerance lets it through, cap trims to 5
	a := mustLoad(t, pythConfig(), pythUpdate(10000, 500, now))
	assertPrice(t, a, oracle.RealTime, oracle.BiasLow, ^uint32(0), "95")
	assertPrice(t, a, oracle.RealTime, oracle.BiasHigh, ^uint32(0), "105")
}

// ============================================================================
// Test: setup dispatch
// ============================================================================

func TestLoad_DeprecatedAndUnsetSetups(t *testing.T) {
	cases := map[oracle.Setup]error{
		oracle.SetupNone:          errcode.ErrOracleNotSetup,
		oracle.SetupPythLegacy:    errcode.ErrPythLegacyDeprecated,
		oracle.SetupSwitchboardV2: errcode.ErrSwitchboardV2Deprecated,
	}
	for setup, want := range cases {
		if _, err := oracle.Load(oracle.Config{Setup: setup}, nil, now); !errors.Is(err, want) {
			t.Errorf("%s: got %v, want %v", setup, err, want)
		}
	}
}

func TestLoad_WrongInputCount(t *testing.T) {
	_, err := oracle.Load(pythConfig(), nil, now)
	if !errors.Is(err, errcode.ErrWrongNumberOfOracleInputs) {
		t.Fatalf("got %v, want ErrWrongNumberOfOracleInputs", err)
	}
}

// ============================================================================
// Test: Switchboard pull and staked collateral
// ============================================================================

func scaled18(whole, frac int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(whole), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	return v.Add(v, new(big.Int).Mul(big.NewInt(frac), new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)))
}

func TestSwitchboardPull_PriceAndStaleness(t *testing.T) {
	feed := &oracle.SwitchboardPullFeed{
		Address:       uuid.New(),
		OwnerProgram:  oracle.SwitchboardPullProgram,
		Discriminator: oracle.PullFeedDiscriminator,
		Value:         scaled18(2, 50), // 2.50
		StdDev:        scaled18(0, 1),  // 0.01
		LastUpdate:    now - 10,
	}
	cfg := oracle.Config{Setup: oracle.SetupSwitchboardPull}
	cfg.Keys[0] = feed.Address

	a := mustLoad(t, cfg, feed)
	assertPrice(t, a, oracle.TimeWeighted, oracle.BiasNone, 0, "2.5")
	assertPrice(t, a, oracle.RealTime, oracle.BiasLow, 0, "2.4804")

	feed.LastUpdate = now - 100
	if _, err := oracle.Load(cfg, []oracle.Account{feed}, now); !errors.Is(err, errcode.ErrSwitchboardStalePrice) {
		t.Fatalf("got %v, want ErrSwitchboardStalePrice", err)
	}

	cfg.Keys[0] = uuid.New()
	feed.LastUpdate = now
	if _, err := oracle.Load(cfg, []oracle.Account{feed}, now); !errors.Is(err, errcode.ErrInvalidOracleAccount) {
		t.Fatalf("got %v, want ErrInvalidOracleAccount", err)
	}
}

func TestStakedWithPythPush_ScalesByPoolBacking(t *testing.T) {
	mint := &oracle.LstMint{Address: uuid.New(), OwnerProgram: oracle.TokenProgram, Supply: 1_000_000_000}
	pool := &oracle.StakePool{Address: uuid.New(), OwnerProgram: oracle.NativeStakeProgram, Lamports: 1_100_000_000}
	cfg := oracle.Config{Setup: oracle.SetupStakedWithPythPush}
	cfg.Keys[0], cfg.Keys[1], cfg.Keys[2] = feedID, mint.Address, pool.Address

	a := mustLoad(t, cfg, pythUpdate(10000, 100, now), mint, pool)
	assertPrice(t, a, oracle.RealTime, oracle.BiasNone, 0, "110")

	pool.OwnerProgram = uuid.New()
	if _, err := oracle.Load(cfg, []oracle.Account{pythUpdate(10000, 100, now), mint, pool}, now); !errors.Is(err, errcode.ErrStakedPythPushWrongOwner) {
		t.Fatalf("got %v, want ErrStakedPythPushWrongOwner", err)
	}
}

// ============================================================================
// Test: registry
// ============================================================================

func TestRegistry_ResolvesByFeedAndIgnoresOlderUpdates(t *testing.T) {
	r := oracle.NewRegistry()
	fresh := pythUpdate(10000, 100, now)
	if !r.Put(fresh) {
		t.Fatal("first put rejected")
	}
	if r.Put(pythUpdate(9000, 100, now-30)) {
		t.Error("older update for the same feed should be ignored")
	}

	inputs, err := r.InputsFor(pythConfig())
	if err != nil {
		t.Fatalf("inputs: %v", err)
	}
	if inputs[0] != oracle.Account(fresh) {
		t.Errorf("got %v, want the fresh update", inputs[0])
	}

	cfg := oracle.Config{Setup: oracle.SetupSwitchboardPull}
	cfg.Keys[0] = uuid.New()
	if _, err := r.InputsFor(cfg); !errors.Is(err, errcode.ErrMissingBankOrOracleInput) {
		t.Fatalf("got %v, want ErrMissingBankOrOracleInput", err)
	}
}

func TestRegistry_IgnoresOlderSwitchboardImage(t *testing.T) {
	r := oracle.NewRegistry()
	addr := uuid.New()
	pull := func(whole int64, lastUpdate int64) *oracle.SwitchboardPullFeed {
		return &oracle.SwitchboardPullFeed{
			Address:       addr,
			OwnerProgram:  oracle.SwitchboardPullProgram,
			Discriminator: oracle.PullFeedDiscriminator,
			Value:         scaled18(whole, 0),
			StdDev:        scaled18(0, 1),
			LastUpdate:    lastUpdate,
		}
	}
	fresh := pull(3, now)
	if !r.Put(fresh) {
		t.Fatal("first put rejected")
	}
	if r.Put(pull(2, now-90)) {
		t.Error("older pull image at the same address should be ignored")
	}
	if !r.Put(pull(4, now)) {
		t.Error("image with the same update time should be accepted")
	}

	cfg := oracle.Config{Setup: oracle.SetupSwitchboardPull}
	cfg.Keys[0] = addr
	inputs, err := r.InputsFor(cfg)
	if err != nil {
		t.Fatalf("inputs: %v", err)
	}
	got := inputs[0].(*oracle.SwitchboardPullFeed)
	if got.LastUpdate != now || got.Value.Cmp(scaled18(4, 0)) != 0 {
		t.Errorf("got image updated at %d with value %s, want the latest", got.LastUpdate, got.Value)
	}
}

func TestEncodeDecodeAccount_PreservesKind(t *testing.T) {
	upd := pythUpdate(12345, 7, now)
	data, err := oracle.EncodeAccount(upd)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	acc, err := oracle.DecodeAccount(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	back, ok := acc.(*oracle.PythPriceUpdate)
	if !ok {
		t.Fatalf("got %T, want *oracle.PythPriceUpdate", acc)
	}
	if *back != *upd {
		t.Errorf("got %+v, want %+v", back, upd)
	}
}
