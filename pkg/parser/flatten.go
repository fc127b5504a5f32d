package parser

import (
	"strconv"
	"strings"

	"github.com/logflow/jsonimport/internal/model"
)

// Walk visits every leaf of obj depth-first in source order. Object keys
// and array indices extend the path. Nulls are leaves too; callers decide
// what to do with them.
func Walk(obj *Object, fn func(path []string, v any)) {
	walkObject(nil, obj, fn)
}

func walkObject(path []string, obj *Object, fn func([]string, any)) {
	for _, m := range obj.Members() {
		walkValue(appendSegment(path, m.Key), m.Value, fn)
	}
}

func walkArray(path []string, arr []any, fn func([]string, any)) {
	for i, v := range arr {
		walkValue(appendSegment(path, strconv.Itoa(i)), v, fn)
	}
}

func walkValue(path []string, v any, fn func([]string, any)) {
	switch t := v.(type) {
	case *Object:
		walkObject(path, t, fn)
	case []any:
		walkArray(path, t, fn)
	default:
		fn(path, v)
	}
}

// appendSegment copies so sibling paths never share a backing array.
func appendSegment(path []string, seg string) []string {
	out := make([]string, len(path)+1)
	copy(out, path)
	out[len(path)] = seg
	return out
}

// Flatten returns one (dotted path, value) pair per non-null leaf of obj.
// Empty objects and arrays contribute nothing.
func Flatten(obj *Object) []model.KV {
	var kvs []model.KV
	Walk(obj, func(path []string, v any) {
		if val, ok := CoerceJSON(v); ok {
			kvs = append(kvs, model.KV{Key: strings.Join(path, "."), Value: val})
		}
	})
	return kvs
}
