package ndjson

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/logflow/jsonimport/internal/model"
	"github.com/logflow/jsonimport/pkg/sink"
)

// WireAttr is a typed attribute value on the wire. BigInteger values travel
// as decimal strings and non-finite floats as "NaN", "+Inf" or "-Inf" so
// nothing is lost to JSON number precision.
type WireAttr struct {
	Key   uint32          `json:"k"`
	Type  string          `json:"t"`
	Value json.RawMessage `json:"v"`
}

// EncodeAttrs converts keyed values to their wire form.
func EncodeAttrs(attrs []sink.KeyedValue) ([]WireAttr, error) {
	out := make([]WireAttr, 0, len(attrs))
	for _, a := range attrs {
		raw, err := encodeValue(a.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, WireAttr{Key: uint32(a.Key), Type: a.Value.Kind().String(), Value: raw})
	}
	return out, nil
}

// DecodeAttrs converts wire attributes back to keyed values.
func DecodeAttrs(attrs []WireAttr) ([]sink.KeyedValue, error) {
	out := make([]sink.KeyedValue, 0, len(attrs))
	for _, a := range attrs {
		v, err := decodeValue(a.Type, a.Value)
		if err != nil {
			return nil, fmt.Errorf("attr %d: %w", a.Key, err)
		}
		out = append(out, sink.KeyedValue{Key: sink.KeyHandle(a.Key), Value: v})
	}
	return out, nil
}

func encodeValue(v model.AttrValue) (json.RawMessage, error) {
	switch v.Kind() {
	case model.KindBool:
		b, _ := v.AsBool()
		return json.Marshal(b)
	case model.KindInteger:
		i, _ := v.AsInteger()
		return json.Marshal(i)
	case model.KindBigInteger:
		return json.Marshal(v.String())
	case model.KindFloat:
		f, _ := v.AsFloat()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return json.Marshal(strconv.FormatFloat(f, 'g', -1, 64))
		}
		return json.Marshal(f)
	case model.KindString:
		s, _ := v.AsString()
		return json.Marshal(s)
	default:
		return nil, fmt.Errorf("cannot encode %s value", v.Kind())
	}
}

func decodeValue(typ string, raw json.RawMessage) (model.AttrValue, error) {
	switch typ {
	case "bool":
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return model.AttrValue{}, err
		}
		return model.Bool(b), nil
	case "int":
		var i int64
		if err := json.Unmarshal(raw, &i); err != nil {
			return model.AttrValue{}, err
		}
		return model.Integer(i), nil
	case "bigint":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return model.AttrValue{}, err
		}
		b, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return model.AttrValue{}, fmt.Errorf("invalid bigint %q", s)
		}
		return model.BigInteger(b), nil
	case "float":
		var f float64
		if err := json.Unmarshal(raw, &f); err == nil {
			return model.Float(f), nil
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return model.AttrValue{}, err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.AttrValue{}, err
		}
		return model.Float(f), nil
	case "string":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return model.AttrValue{}, err
		}
		return model.String(s), nil
	default:
		return model.AttrValue{}, fmt.Errorf("unknown value type %q", typ)
	}
}

// parseOrdering parses an unsigned 128-bit decimal.
func parseOrdering(s string) (model.Ordering, error) {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok || b.Sign() < 0 || b.BitLen() > 128 {
		return model.Ordering{}, fmt.Errorf("invalid ordering %q", s)
	}
	lo := new(big.Int).And(b, new(big.Int).SetUint64(math.MaxUint64))
	hi := new(big.Int).Rsh(b, 64)
	return model.Ordering{Hi: hi.Uint64(), Lo: lo.Uint64()}, nil
}
