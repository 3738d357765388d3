// Package codec translates logged metric values between their in-memory
// Go representation and a JSON-safe wire encoding. Non-finite floats are
// encoded as quoted string markers ("Infinity", "-Infinity", "NaN") so
// they survive a JSON round trip, since encoding/json rejects the bare
// tokens. Artifact descriptors, recognized by a "_type" key, pass
// through untouched.
package codec

import (
	"math"
	"reflect"

	trackerrors "github.com/trackhive/trackhive/internal/errors"
)

const maxDepth = 64

const (
	markerPosInf = "Infinity"
	markerNegInf = "-Infinity"
	markerNaN    = "NaN"
)

// Encode converts a value tree produced by a client call (maps, slices,
// scalars, and float64 NaN/Inf) into a JSON-marshalable tree. Artifact
// descriptors, recognized by a top-level "_type" key, pass through
// unchanged except for recursing into any nested values they carry.
func Encode(value any) (any, error) {
	return encode(value, 0)
}

func encode(value any, depth int) (any, error) {
	if depth > maxDepth {
		return nil, &trackerrors.EncodingCycleError{Depth: depth}
	}

	switch v := value.(type) {
	case nil, bool, string, int, int32, int64:
		return v, nil
	case float32:
		return encodeFloat(float64(v)), nil
	case float64:
		return encodeFloat(v), nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			encoded, err := encode(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = encoded
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			encoded, err := encode(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = encoded
		}
		return out, nil
	default:
		return encodeReflect(value, depth)
	}
}

// encodeReflect handles values outside the fast-path types: structs (and
// pointers to them) become a flat mapping of their exported fields, the
// Go rendering of logging an arbitrary config object. Unexported fields
// are dropped. Anything else passes through for encoding/json to handle.
func encodeReflect(value any, depth int) (any, error) {
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}

	if rv.Kind() != reflect.Struct {
		return value, nil
	}

	rt := rv.Type()
	out := make(map[string]any, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		encoded, err := encode(rv.Field(i).Interface(), depth+1)
		if err != nil {
			return nil, err
		}
		out[field.Name] = encoded
	}
	return out, nil
}

func encodeFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return markerNaN
	case math.IsInf(f, 1):
		return markerPosInf
	case math.IsInf(f, -1):
		return markerNegInf
	default:
		return f
	}
}

// Decode reverses Encode: any string exactly matching one of the three
// non-finite markers is replaced by its numeric value. Everything else is
// preserved structurally.
func Decode(value any) any {
	return decode(value)
}

func decode(value any) any {
	switch v := value.(type) {
	case string:
		switch v {
		case markerPosInf:
			return math.Inf(1)
		case markerNegInf:
			return math.Inf(-1)
		case markerNaN:
			return math.NaN()
		default:
			return v
		}
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = decode(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = decode(item)
		}
		return out
	default:
		return value
	}
}

// IsArtifactDescriptor reports whether value is a map carrying a "_type"
// key, the marker used by the artifact store to embed media references
// inside an otherwise plain metric mapping.
func IsArtifactDescriptor(value any) bool {
	m, ok := value.(map[string]any)
	if !ok {
		return false
	}
	_, ok = m["_type"]
	return ok
}
