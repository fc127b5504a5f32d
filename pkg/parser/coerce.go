package parser

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/logflow/jsonimport/internal/model"
)

// CoerceString types a regex capture heuristically. A string containing a
// decimal point that parses as a float becomes Float, otherwise a string
// that parses as a signed 128-bit integer becomes BigInteger, and anything
// else stays a String. Numeric-looking text is always coerced.
func CoerceString(s string) model.AttrValue {
	if strings.Contains(s, ".") && !isHexFloat(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return model.Float(f)
		}
	}

	if i, ok := model.ParseInt128(s); ok {
		return model.BigInteger(i)
	}

	return model.String(s)
}

// CoerceJSON types a decoded JSON scalar. Numbers that fit int64 become
// Integer, numbers that only fit uint64 become BigInteger and every other
// number becomes Float. A bare -0 is Float so the sign survives. It returns false for null, arrays and objects.
func CoerceJSON(v any) (model.AttrValue, bool) {
	switch t := v.(type) {
	case bool:
		return model.Bool(t), true
	case string:
		return model.String(t), true
	case json.Number:
		return coerceNumber(t), true
	case float64:
		return model.Float(t), true
	default:
		return model.AttrValue{}, false
	}
}

func coerceNumber(n json.Number) model.AttrValue {
	s := n.String()
	if s == "-0" {
		return model.Float(math.Copysign(0, -1))
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return model.Integer(i)
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return model.BigIntegerFromUint64(u)
	}
	// DecodeValue has already rejected magnitudes beyond float64.
	f, _ := strconv.ParseFloat(s, 64)
	return model.Float(f)
}

// strconv accepts hexadecimal floats such as 0x1.8p1; treat them as text.
func isHexFloat(s string) bool {
	s = strings.TrimLeft(s, "+-")
	return len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
