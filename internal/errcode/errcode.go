// Package errcode holds the typed failure catalogue shared by every layer of
// the lending core. Each failure carries a stable numeric code so it can be
// recorded in a health cache or sent over the wire, and a Kind that tells the
// caller whether retrying with fresher inputs can help.
package errcode

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindMath
	KindOracle
	KindPolicy
	KindStructural
)

func (k Kind) String() string {
	switch k {
	case KindMath:
		return "math"
	case KindOracle:
		return "oracle"
	case KindPolicy:
		return "policy"
	case KindStructural:
		return "structural"
	default:
		return "unknown"
	}
}

// Error is a catalogued domain failure. Values are compared by identity, so
// callers should use errors.Is against the package-level sentinels.
type Error struct {
	Code uint32
	Kind Kind
	Name string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (code %d)", e.Name, e.Msg, e.Code)
}

var registry = map[uint32]*Error{}

// New registers a catalogue entry. Codes must be unique.
func New(code uint32, kind Kind, name, msg string) *Error {
	if _, dup := registry[code]; dup {
		panic(fmt.Sprintf("FATAL: duplicate error code %d", code))
	}
	e := &Error{Code: code, Kind: kind, Name: name, Msg: msg}
	registry[code] = e
	return e
}

// Lookup returns the catalogue entry for a code, or nil.
func Lookup(code uint32) *Error {
	return registry[code]
}

// CodeOf returns the code of the first catalogued error in err's tree, or 0.
func CodeOf(err error) uint32 {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// KindOf returns the kind of the first catalogued error in err's tree.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsOracle reports whether err carries an oracle failure anywhere in its tree.
func IsOracle(err error) bool {
	for _, e := range oracleErrors {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
