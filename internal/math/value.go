// internal/math/value.go
package math

import (
	"MarginLedger/internal/errcode"
	"fmt"
)

// MaxExp10 bounds the supported token and oracle exponents.
const MaxExp10 = 24

var exp10 [MaxExp10]I80F48

func init() {
	v := uint64(1)
	for i := 0; i < 20; i++ {
		exp10[i] = FromUint64(v)
		if i < 19 {
			v *= 10
		}
	}
	for i := 20; i < MaxExp10; i++ {
		p, err := exp10[i-1].Mul(FromInt(10))
		if err != nil {
			panic("FATAL: exp10 table overflow")
		}
		exp10[i] = p
	}
}

// Exp10 returns 10^n.
func Exp10(n int) (I80F48, error) {
	if n < 0 || n >= MaxExp10 {
		return Zero, fmt.Errorf("exp10(%d) out of range: %w", n, errcode.ErrMath)
	}
	return exp10[n], nil
}

// CalcValue converts a native amount to a USD value: amount * price / 10^decimals.
func CalcValue(amount, price I80F48, decimals uint8) (I80F48, error) {
	return calcValue(amount, price, decimals, nil)
}

// CalcWeightedValue is CalcValue with the amount scaled by a risk weight first.
func CalcWeightedValue(amount, price I80F48, decimals uint8, weight I80F48) (I80F48, error) {
	return calcValue(amount, price, decimals, &weight)
}

func calcValue(amount, price I80F48, decimals uint8, weight *I80F48) (I80F48, error) {
	if amount.IsZero() {
		return Zero, nil
	}
	scaling, err := Exp10(int(decimals))
	if err != nil {
		return Zero, err
	}
	weighted := amount
	if weight != nil {
		if weighted, err = amount.Mul(*weight); err != nil {
			return Zero, err
		}
	}
	v, err := weighted.Mul(price)
	if err != nil {
		return Zero, err
	}
	return v.Div(scaling)
}

// CalcAmount converts a USD value back to a native amount: value * 10^decimals / price.
func CalcAmount(value, price I80F48, decimals uint8) (I80F48, error) {
	scaling, err := Exp10(int(decimals))
	if err != nil {
		return Zero, err
	}
	v, err := value.Mul(scaling)
	if err != nil {
		return Zero, err
	}
	return v.Div(price)
}

// ScaleByExponent applies a feed exponent: value * 10^exp.
func ScaleByExponent(value I80F48, exp int32) (I80F48, error) {
	if exp == 0 {
		return value, nil
	}
	n := int(exp)
	if n < 0 {
		n = -n
	}
	s, err := Exp10(n)
	if err != nil {
		return Zero, err
	}
	if exp < 0 {
		return value.Div(s)
	}
	return value.Mul(s)
}
