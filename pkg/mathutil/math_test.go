package mathutil

import "testing"

func TestClamp01(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{1.7, 1},
	}
	for _, tt := range tests {
		if got := Clamp01(tt.in); got != tt.want {
			t.Errorf("Clamp01(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestClampLimit(t *testing.T) {
	if got := ClampLimit(0, 20, 200); got != 20 {
		t.Errorf("default: got %d", got)
	}
	if got := ClampLimit(500, 20, 200); got != 200 {
		t.Errorf("max: got %d", got)
	}
	if got := ClampLimit(37, 20, 200); got != 37 {
		t.Errorf("passthrough: got %d", got)
	}
}

func TestSafeRatio(t *testing.T) {
	if got := SafeRatio(1, 0); got != 0 {
		t.Errorf("divide by zero: got %v", got)
	}
	if got := SafeRatio(3, 4); got != 0.75 {
		t.Errorf("got %v", got)
	}
}
