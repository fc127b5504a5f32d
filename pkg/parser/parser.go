// Package parser turns raw input text into typed attributes.
//
// It covers three concerns: coercing scalars into model.AttrValue,
// flattening nested JSON objects into dotted attribute paths, and reading
// a buffer that mixes JSON objects, JSON arrays and free-text lines.
//
// Decoded JSON uses plain Go values: nil, bool, json.Number, string,
// []any for arrays and *Object for objects. Objects keep their member
// order so flattening is deterministic and follows the source text.
package parser

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
)

// Member is a single key/value pair of a JSON object.
type Member struct {
	Key   string
	Value any
}

// Object is a JSON object that preserves member insertion order.
type Object struct {
	members []Member
	index   map[string]int
}

// NewObject returns an empty object.
func NewObject() *Object {
	return &Object{index: make(map[string]int)}
}

// Set adds a member. A repeated key replaces the earlier value in place.
func (o *Object) Set(key string, v any) {
	if o.index == nil {
		o.index = make(map[string]int)
	}
	if i, ok := o.index[key]; ok {
		o.members[i].Value = v
		return
	}
	o.index[key] = len(o.members)
	o.members = append(o.members, Member{Key: key, Value: v})
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (any, bool) {
	i, ok := o.index[key]
	if !ok {
		return nil, false
	}
	return o.members[i].Value, true
}

// Members returns the members in insertion order.
func (o *Object) Members() []Member {
	return o.members
}

// Len returns the number of members.
func (o *Object) Len() int {
	return len(o.members)
}

// DecodeValue reads one complete JSON value from dec.
// dec must have UseNumber enabled so numbers arrive as json.Number.
// Numbers too large for a float64 are an error.
func DecodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, unexpectedEOF(err)
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, unexpectedEOF(err)
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("object key is %T, not string", keyTok)
				}
				v, err := DecodeValue(dec)
				if err != nil {
					return nil, err
				}
				obj.Set(key, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, unexpectedEOF(err)
			}
			return obj, nil

		case '[':
			arr := []any{}
			for dec.More() {
				v, err := DecodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, unexpectedEOF(err)
			}
			return arr, nil

		default:
			return nil, fmt.Errorf("unexpected delimiter %q", rune(t))
		}

	case json.Number:
		if err := checkNumber(t); err != nil {
			return nil, err
		}
		return t, nil

	case nil, bool, string:
		return t, nil

	default:
		return nil, fmt.Errorf("unexpected token %T", tok)
	}
}

// checkNumber rejects numbers whose magnitude does not fit a float64.
func checkNumber(n json.Number) error {
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil && math.IsInf(f, 0) {
		return fmt.Errorf("number %s is out of range", n)
	}
	return nil
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
