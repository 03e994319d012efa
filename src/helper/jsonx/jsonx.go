// Package jsonx implementa a convenção {"$date": <epoch-millis>} usada no fio e nas colunas JSONB,
// e a forma canônica (RFC 8785) usada para comparar payloads.
package jsonx

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/gowebpki/jcs"
)

const dateKey = "$date"

// EncodeDates replaces every time.Time inside v with {"$date": millis}.
func EncodeDates(v any) any {
	switch t := v.(type) {
	case time.Time:
		return map[string]any{dateKey: t.UnixMilli()}
	case *time.Time:
		if t == nil {
			return nil
		}
		return map[string]any{dateKey: t.UnixMilli()}
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = EncodeDates(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = EncodeDates(item)
		}
		return out
	default:
		return v
	}
}

// DecodeDates is the inverse of EncodeDates for values produced by encoding/json.
func DecodeDates(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 1 {
			if raw, ok := t[dateKey]; ok {
				if ts, err := parseDate(raw); err == nil {
					return ts
				}
			}
		}
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = DecodeDates(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = DecodeDates(item)
		}
		return out
	default:
		return v
	}
}

// DecodeDatesMap is DecodeDates for the common map case.
func DecodeDatesMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out, _ := DecodeDates(m).(map[string]any)
	return out
}

func parseDate(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return time.Time{}, fmt.Errorf("invalid $date %v", v)
		}
		return time.UnixMilli(int64(v)).UTC(), nil
	case int64:
		return time.UnixMilli(v).UTC(), nil
	case int:
		return time.UnixMilli(int64(v)).UTC(), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(n).UTC(), nil
	case string:
		return time.Parse(time.RFC3339Nano, v)
	default:
		return time.Time{}, fmt.Errorf("unsupported $date value %T", raw)
	}
}

// Canonical returns the RFC 8785 canonical JSON of v, dates encoded.
func Canonical(v any) ([]byte, error) {
	b, err := json.Marshal(EncodeDates(v))
	if err != nil {
		return nil, err
	}
	return jcs.Transform(b)
}

// Equal compares two payloads by their canonical JSON; falls back to reflect.DeepEqual if either fails to encode.
func Equal(a, b any) bool {
	ca, errA := Canonical(a)
	cb, errB := Canonical(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return string(ca) == string(cb)
}
