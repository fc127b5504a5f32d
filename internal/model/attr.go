// Package model defines core data structures for the importer.
package model

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
)

// Kind indicates which variant an AttrValue holds.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindInteger
	KindBigInteger
	KindFloat
	KindString
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInteger:
		return "int"
	case KindBigInteger:
		return "bigint"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return "invalid"
	}
}

var (
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
)

// AttrValue is a typed attribute value. The zero value is invalid.
// Values are immutable once constructed; BigInteger payloads are copied
// in and out so callers can never alias the internal *big.Int.
type AttrValue struct {
	kind Kind
	b    bool
	i    int64
	big  *big.Int
	f    float64
	s    string
}

// Bool returns a boolean attribute value.
func Bool(b bool) AttrValue { return AttrValue{kind: KindBool, b: b} }

// Integer returns a signed 64-bit attribute value.
func Integer(i int64) AttrValue { return AttrValue{kind: KindInteger, i: i} }

// Float returns a 64-bit float attribute value.
func Float(f float64) AttrValue { return AttrValue{kind: KindFloat, f: f} }

// String returns a string attribute value.
func String(s string) AttrValue { return AttrValue{kind: KindString, s: s} }

// BigInteger returns a signed 128-bit attribute value. Values outside the
// 128-bit range saturate at the nearest bound.
func BigInteger(v *big.Int) AttrValue {
	c := new(big.Int).Set(v)
	if c.Cmp(minInt128) < 0 {
		c.Set(minInt128)
	} else if c.Cmp(maxInt128) > 0 {
		c.Set(maxInt128)
	}
	return AttrValue{kind: KindBigInteger, big: c}
}

// BigIntegerFromInt64 returns a BigInteger holding i.
func BigIntegerFromInt64(i int64) AttrValue {
	return AttrValue{kind: KindBigInteger, big: big.NewInt(i)}
}

// BigIntegerFromUint64 returns a BigInteger holding u.
func BigIntegerFromUint64(u uint64) AttrValue {
	return AttrValue{kind: KindBigInteger, big: new(big.Int).SetUint64(u)}
}

// ParseInt128 parses a base-10 signed 128-bit integer.
func ParseInt128(s string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Cmp(minInt128) < 0 || v.Cmp(maxInt128) > 0 {
		return nil, false
	}
	return v, true
}

// FloatToInt128 truncates f toward zero, saturating at the 128-bit bounds.
// NaN converts to zero.
func FloatToInt128(f float64) *big.Int {
	switch {
	case math.IsNaN(f):
		return new(big.Int)
	case math.IsInf(f, 1):
		return new(big.Int).Set(maxInt128)
	case math.IsInf(f, -1):
		return new(big.Int).Set(minInt128)
	}
	v, _ := big.NewFloat(math.Trunc(f)).Int(nil)
	if v.Cmp(minInt128) < 0 {
		return v.Set(minInt128)
	}
	if v.Cmp(maxInt128) > 0 {
		return v.Set(maxInt128)
	}
	return v
}

// Kind returns the variant held by v.
func (v AttrValue) Kind() Kind { return v.kind }

// IsValid reports whether v holds a value.
func (v AttrValue) IsValid() bool { return v.kind != KindInvalid }

// AsBool returns the boolean payload.
func (v AttrValue) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInteger returns the 64-bit integer payload.
func (v AttrValue) AsInteger() (int64, bool) { return v.i, v.kind == KindInteger }

// AsFloat returns the float payload.
func (v AttrValue) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

// AsString returns the string payload.
func (v AttrValue) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsBigInteger returns a copy of the 128-bit integer payload.
func (v AttrValue) AsBigInteger() (*big.Int, bool) {
	if v.kind != KindBigInteger {
		return nil, false
	}
	return new(big.Int).Set(v.big), true
}

// Numeric returns v interpreted as a float64. Only integer and float
// variants are numeric.
func (v AttrValue) Numeric() (float64, bool) {
	switch v.kind {
	case KindInteger:
		return float64(v.i), true
	case KindBigInteger:
		f, _ := new(big.Float).SetInt(v.big).Float64()
		return f, true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// Equal reports whether two values hold the same variant and payload.
// NaN floats compare equal to each other.
func (v AttrValue) Equal(o AttrValue) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == o.b
	case KindInteger:
		return v.i == o.i
	case KindBigInteger:
		return v.big.Cmp(o.big) == 0
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindString:
		return v.s == o.s
	default:
		return true
	}
}

// String renders the value for display and for building names.
func (v AttrValue) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindBigInteger:
		return v.big.String()
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	default:
		return "<invalid>"
	}
}

// Identity returns a comparable encoding of v that distinguishes variants,
// suitable for use inside map keys.
func (v AttrValue) Identity() string {
	switch v.kind {
	case KindFloat:
		return fmt.Sprintf("%s:%x", v.kind, math.Float64bits(v.f))
	default:
		return v.kind.String() + ":" + v.String()
	}
}

// KV is a flat attribute key with its value.
type KV struct {
	Key   string
	Value AttrValue
}

// KVs is an ordered attribute list.
type KVs []KV

// Get returns the value of the first pair whose key matches.
func (kvs KVs) Get(key string) (AttrValue, bool) {
	for _, kv := range kvs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return AttrValue{}, false
}
