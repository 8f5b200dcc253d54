// Package document provides tolerant lookups over untyped JSON documents
// such as the ones returned by the Fronius Solar API.
package document

import (
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// Document is a decoded JSON object. No schema is enforced on it.
type Document map[string]any

// ErrNotObject is returned by From when the value is not a JSON object.
var ErrNotObject = errors.New("document is not a JSON object")

// From turns a decoded JSON value into a Document.
// A nil value becomes an empty document.
func From(v any) (Document, error) {
	switch d := v.(type) {
	case nil:
		return Document{}, nil
	case Document:
		return d, nil
	case map[string]any:
		return Document(d), nil
	default:
		return nil, errors.Wrapf(ErrNotObject, "got %T", v)
	}
}

// Get walks path and returns the value found at its end.
// ok is false when any segment is missing, an intermediate value is not
// an object, or the leaf is null.
func (d Document) Get(path ...string) (any, bool) {
	var cur any = map[string]any(d)

	for _, key := range path {
		var obj map[string]any

		switch m := cur.(type) {
		case map[string]any:
			obj = m
		case Document:
			obj = m
		default:
			return nil, false
		}

		next, found := obj[key]
		if !found {
			return nil, false
		}

		cur = next
	}

	if cur == nil {
		return nil, false
	}

	return cur, true
}

// Lookup returns the value at path as T, or def when the path cannot be
// resolved or the leaf is not a T.
func Lookup[T any](d Document, def T, path ...string) T {
	v, ok := d.Get(path...)
	if !ok {
		return def
	}

	t, ok := v.(T)
	if !ok {
		return def
	}

	return t
}

// Float returns the numeric leaf at path, or 0.
// Numeric strings and json.Number values are converted.
func Float(d Document, path ...string) float64 {
	return FloatOr(d, 0, path...)
}

// FloatOr is Float with an explicit default.
func FloatOr(d Document, def float64, path ...string) float64 {
	v := Lookup[any](d, nil, path...)
	if v == nil {
		return def
	}

	// cast happily turns bools into 0/1, which is never a reading
	if _, isBool := v.(bool); isBool {
		return def
	}

	f, err := cast.ToFloat64E(v)
	if err != nil {
		return def
	}

	return f
}
