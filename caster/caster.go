// Package caster converts entity field values to and from their wire representation.
package caster

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/jacentio/lattice/mapping"
)

// Wire formats for temporal values.
const (
	DateTimeLayout = "2006-01-02 15:04:05"
	DateLayout     = "2006-01-02"
)

// CastError reports a value that cannot be represented as the mapped type.
type CastError struct {
	Type  mapping.FieldType
	Value any
}

func (e *CastError) Error() string {
	return fmt.Sprintf("lattice: cannot cast %T to %s", e.Value, e.Type)
}

// Cast converts a Go value to the wire representation of t.
//
// The result never aliases mutable input (byte slices, maps, slices), so it
// can be kept as a snapshot and compared later.
func Cast(t mapping.FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case mapping.String:
		return castString(v)
	case mapping.Integer:
		return castInteger(v)
	case mapping.Float:
		return castFloat(v)
	case mapping.Boolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case mapping.DateTime:
		if tm, ok := timeValue(v); ok {
			return tm.UTC().Format(DateTimeLayout), nil
		}
		if s, ok := v.(string); ok {
			return s, nil
		}
	case mapping.Date:
		if tm, ok := timeValue(v); ok {
			return tm.UTC().Format(DateLayout), nil
		}
		if s, ok := v.(string); ok {
			return s, nil
		}
	case mapping.Binary:
		switch b := v.(type) {
		case []byte:
			return base64.StdEncoding.EncodeToString(b), nil
		case string:
			return b, nil
		}
	case mapping.EmbeddedMap:
		if m, ok := v.(map[string]any); ok {
			return copyValue(m), nil
		}
	case mapping.EmbeddedList:
		switch l := v.(type) {
		case []any:
			return copyValue(l), nil
		case []string:
			out := make([]any, len(l))
			for i, s := range l {
				out[i] = s
			}
			return out, nil
		}
	case mapping.Any:
		return copyValue(v), nil
	}
	return nil, &CastError{Type: t, Value: v}
}

// Uncast converts a wire value back to the canonical Go type of t:
// string, int64, float64, bool, time.Time, []byte, map[string]any or []any.
func Uncast(t mapping.FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case mapping.DateTime, mapping.Date:
		switch s := v.(type) {
		case time.Time:
			return s, nil
		case string:
			for _, layout := range []string{DateTimeLayout, DateLayout, time.RFC3339Nano} {
				if tm, err := time.Parse(layout, s); err == nil {
					return tm, nil
				}
			}
		}
		return nil, &CastError{Type: t, Value: v}
	case mapping.Binary:
		switch s := v.(type) {
		case []byte:
			return s, nil
		case string:
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("decode binary: %w", err)
			}
			return b, nil
		}
		return nil, &CastError{Type: t, Value: v}
	}
	return Cast(t, v)
}

func castString(v any) (any, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	case []byte:
		return string(s), nil
	}
	return nil, &CastError{Type: mapping.String, Value: v}
}

func castInteger(v any) (any, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			break
		}
		return int64(n), nil
	case float64:
		// JSON decoders hand back float64 for every number
		if n == math.Trunc(n) {
			return int64(n), nil
		}
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, nil
		}
	}
	return nil, &CastError{Type: mapping.Integer, Value: v}
}

func castFloat(v any) (any, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, nil
		}
	}
	return nil, &CastError{Type: mapping.Float, Value: v}
}

func timeValue(v any) (time.Time, bool) {
	switch tm := v.(type) {
	case time.Time:
		return tm, true
	case *time.Time:
		if tm != nil {
			return *tm, true
		}
	}
	return time.Time{}, false
}

// copyValue deep-copies maps and slices of JSON-like values.
func copyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = copyValue(e)
		}
		return out
	case []byte:
		return append([]byte(nil), x...)
	}
	return v
}
