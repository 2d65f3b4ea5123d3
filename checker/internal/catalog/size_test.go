package catalog

import (
	"encoding/json"
	"math"
	"testing"
)

func TestNormalizeSize(t *testing.T) {
	// WHAT: Loosely typed sizes collapse to a plain optional number.
	// WHY: Stored state and probe output disagree on numeric representation.
	seven := int64(7)
	tests := []struct {
		name string
		in   any
		want *float64
	}{
		{"nil", nil, nil},
		{"int", 42, ptr(42)},
		{"int64", int64(3), ptr(3)},
		{"float", 150.0, ptr(150)},
		{"fraction", 10.5, ptr(10.5)},
		{"json number", json.Number("12"), ptr(12)},
		{"bad json number", json.Number("x"), nil},
		{"numeric string", " 99 ", ptr(99)},
		{"garbage string", "n/a", nil},
		{"nan", math.NaN(), nil},
		{"inf", math.Inf(1), nil},
		{"negative", -1, nil},
		{"boxed single", []any{json.Number("5")}, ptr(5)},
		{"boxed float slice", []float64{8}, ptr(8)},
		{"boxed empty", []any{}, nil},
		{"boxed many", []any{1, 2}, nil},
		{"int pointer", &seven, ptr(7)},
		{"nil pointer", (*float64)(nil), nil},
		{"bool", true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeSize(tt.in)
			switch {
			case tt.want == nil && got != nil:
				t.Fatalf("got %v, want nil", *got)
			case tt.want != nil && got == nil:
				t.Fatalf("got nil, want %v", *tt.want)
			case tt.want != nil && *got != *tt.want:
				t.Fatalf("got %v, want %v", *got, *tt.want)
			}
		})
	}
}

func ptr(f float64) *float64 { return &f }
