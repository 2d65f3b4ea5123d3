package catalog

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// NormalizeSize coerces a measured or stored size into a plain optional
// number. It is the only place where loosely typed sizes are interpreted.
//
// Accepted: Go integer and float kinds, json.Number, numeric strings,
// pointers to those, and single-element slices wrapping any of them.
// NaN, infinities, negatives, empty slices and anything unparsable
// normalize to nil.
func NormalizeSize(v any) *float64 {
	var f float64
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		p, err := x.Float64()
		if err != nil {
			return nil
		}
		f = p
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil
		}
		f = p
	case *float64:
		if x == nil {
			return nil
		}
		f = *x
	case *int64:
		if x == nil {
			return nil
		}
		f = float64(*x)
	case []any:
		if len(x) != 1 {
			return nil
		}
		return NormalizeSize(x[0])
	case []float64:
		if len(x) != 1 {
			return nil
		}
		f = x[0]
	case []int64:
		if len(x) != 1 {
			return nil
		}
		f = float64(x[0])
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return nil
	}
	return &f
}
