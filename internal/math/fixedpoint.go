// internal/math/fixedpoint.go
package math

import (
	"MarginLedger/internal/errcode"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
)

// FracBits is the number of fractional bits carried by I80F48.
const FracBits = 48

// I80F48 is a signed 128-bit fixed-point number with 48 fractional bits.
// The raw two's-complement value is split into hi/lo words so the type is
// comparable and its zero value is 0. All arithmetic is checked: any result
// that does not fit in 128 bits is an ErrMath failure.
type I80F48 struct {
	hi int64
	lo uint64
}

var (
	Zero = I80F48{}
	One  = FromInt(1)
)

var (
	maxRaw  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minRaw  = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	mask64  = new(big.Int).SetUint64(^uint64(0))
	fracOne = new(big.Int).Lsh(big.NewInt(1), FracBits)
	// 5^48: raw / 2^48 == raw * 5^48 / 10^48
	pow5Frac = new(big.Int).Exp(big.NewInt(5), big.NewInt(FracBits), nil)
)

// Intermediates are pooled; every public operation returns them before exit.
var bigPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigPool.Get().(*big.Int)
}

func putBig(v ...*big.Int) {
	for _, b := range v {
		b.SetInt64(0)
		bigPool.Put(b)
	}
}

func (f I80F48) toBig(z *big.Int) *big.Int {
	lo := getBig()
	z.SetInt64(f.hi)
	z.Lsh(z, 64)
	z.Add(z, lo.SetUint64(f.lo))
	putBig(lo)
	return z
}

func fromBig(z *big.Int) (I80F48, bool) {
	if z.Cmp(maxRaw) > 0 || z.Cmp(minRaw) < 0 {
		return Zero, false
	}
	t := getBig()
	defer putBig(t)
	lo := t.And(z, mask64).Uint64()
	hi := t.Rsh(z, 64).Int64()
	return I80F48{hi: hi, lo: lo}, true
}

func overflow(op string) error {
	return fmt.Errorf("fixed-point %s: %w", op, errcode.ErrMath)
}

// FromInt converts an integer exactly.
func FromInt(v int64) I80F48 {
	return I80F48{hi: v >> (64 - FracBits), lo: uint64(v) << FracBits}
}

// FromUint64 converts a native token amount exactly.
func FromUint64(v uint64) I80F48 {
	return I80F48{hi: int64(v >> (64 - FracBits)), lo: v << FracBits}
}

// FromDecimal converts a decimal, truncating toward zero below 2^-48.
func FromDecimal(d decimal.Decimal) (I80F48, error) {
	z := getBig()
	p := getBig()
	defer putBig(z, p)

	z.Lsh(d.Coefficient(), FracBits)
	exp := d.Exponent()
	if exp >= 0 {
		z.Mul(z, p.Exp(big.NewInt(10), big.NewInt(int64(exp)), nil))
	} else {
		z.Quo(z, p.Exp(big.NewInt(10), big.NewInt(int64(-exp)), nil))
	}
	f, ok := fromBig(z)
	if !ok {
		return Zero, overflow("from decimal")
	}
	return f, nil
}

// FromString parses a decimal string such as "0.85".
func FromString(s string) (I80F48, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("parse fixed-point %q: %w", s, err)
	}
	return FromDecimal(d)
}

// MustFromString is FromString for package-level constants.
func MustFromString(s string) I80F48 {
	f, err := FromString(s)
	if err != nil {
		panic(fmt.Sprintf("FATAL: bad fixed-point constant %q: %v", s, err))
	}
	return f
}

// Decimal returns the exact decimal value.
func (f I80F48) Decimal() decimal.Decimal {
	z := getBig()
	defer putBig(z)
	f.toBig(z)
	z.Mul(z, pow5Frac)
	return decimal.NewFromBigInt(z, -FracBits)
}

func (f I80F48) String() string {
	return f.Decimal().String()
}

// Float64 is lossy and only meant for diagnostics.
func (f I80F48) Float64() float64 {
	return f.Decimal().InexactFloat64()
}

func (f I80F48) Add(g I80F48) (I80F48, error) {
	a, b := getBig(), getBig()
	defer putBig(a, b)
	r, ok := fromBig(a.Add(f.toBig(a), g.toBig(b)))
	if !ok {
		return Zero, overflow("add")
	}
	return r, nil
}

func (f I80F48) Sub(g I80F48) (I80F48, error) {
	a, b := getBig(), getBig()
	defer putBig(a, b)
	r, ok := fromBig(a.Sub(f.toBig(a), g.toBig(b)))
	if !ok {
		return Zero, overflow("sub")
	}
	return r, nil
}

// Mul rounds toward negative infinity.
func (f I80F48) Mul(g I80F48) (I80F48, error) {
	a, b := getBig(), getBig()
	defer putBig(a, b)
	a.Mul(f.toBig(a), g.toBig(b))
	r, ok := fromBig(a.Rsh(a, FracBits))
	if !ok {
		return Zero, overflow("mul")
	}
	return r, nil
}

// Div truncates toward zero.
func (f I80F48) Div(g I80F48) (I80F48, error) {
	if g.IsZero() {
		return Zero, fmt.Errorf("fixed-point div by zero: %w", errcode.ErrMath)
	}
	a, b := getBig(), getBig()
	defer putBig(a, b)
	a.Lsh(f.toBig(a), FracBits)
	r, ok := fromBig(a.Quo(a, g.toBig(b)))
	if !ok {
		return Zero, overflow("div")
	}
	return r, nil
}

func (f I80F48) Neg() (I80F48, error) {
	return Zero.Sub(f)
}

func (f I80F48) Abs() (I80F48, error) {
	if f.IsNegative() {
		return f.Neg()
	}
	return f, nil
}

// Floor rounds toward negative infinity to a whole number.
func (f I80F48) Floor() I80F48 {
	return I80F48{hi: f.hi, lo: f.lo &^ (1<<FracBits - 1)}
}

// Ceil rounds toward positive infinity to a whole number.
func (f I80F48) Ceil() (I80F48, error) {
	fl := f.Floor()
	if fl == f {
		return f, nil
	}
	return fl.Add(One)
}

// Uint64 returns the integer part, failing if it is negative or too large.
func (f I80F48) Uint64() (uint64, error) {
	if f.IsNegative() || f.hi>>FracBits != 0 {
		return 0, overflow("to u64")
	}
	return uint64(f.hi)<<(64-FracBits) | f.lo>>FracBits, nil
}

func (f I80F48) Cmp(g I80F48) int {
	switch {
	case f.hi < g.hi:
		return -1
	case f.hi > g.hi:
		return 1
	case f.lo < g.lo:
		return -1
	case f.lo > g.lo:
		return 1
	}
	return 0
}

func (f I80F48) IsZero() bool     { return f.hi == 0 && f.lo == 0 }
func (f I80F48) IsNegative() bool { return f.hi < 0 }
func (f I80F48) IsPositive() bool { return f.hi > 0 || (f.hi == 0 && f.lo > 0) }

func (f I80F48) LessThan(g I80F48) bool    { return f.Cmp(g) < 0 }
func (f I80F48) GreaterThan(g I80F48) bool { return f.Cmp(g) > 0 }

func Min(a, b I80F48) I80F48 {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func Max(a, b I80F48) I80F48 {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// MarshalJSON encodes the exact decimal value as a string.
func (f I80F48) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Decimal().String())
}

func (f *I80F48) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("fixed-point json: %w", err)
	}
	v, err := FromString(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}
