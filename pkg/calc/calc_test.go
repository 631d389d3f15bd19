package calc

import (
	"math"
	"testing"
	"time"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestRatio(t *testing.T) {
	tests := []struct {
		name        string
		done, total int64
		want        float64
	}{
		{"total_zero", 10, 0, 0},
		{"total_negative", 10, -1, 0},
		{"zero_done", 0, 100, 0},
		{"half", 50, 100, 0.5},
		{"over_total_clamped", 150, 100, 1},
		{"negative_done", -5, 100, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := Ratio(tc.done, tc.total); !approx(got, tc.want) {
				t.Fatalf("Ratio(%d, %d) = %v; want %v", tc.done, tc.total, got, tc.want)
			}
		})
	}
}

func TestWeighted(t *testing.T) {
	tests := []struct {
		name                   string
		weight, stream, encode float64
		want                   float64
	}{
		{"start", 0.15, 0, 0, 0},
		{"stream_done", 0.15, 1, 0, 0.15},
		{"half_encoded", 0.15, 1, 0.5, 0.575},
		{"all_done", 0.15, 1, 1, 1},
		{"stream_only_weight", 1, 0.4, 0.9, 0.4},
		{"ratios_clamped", 0.15, 2, -1, 0.15},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := Weighted(tc.weight, tc.stream, tc.encode); !approx(got, tc.want) {
				t.Fatalf("Weighted(%v, %v, %v) = %v; want %v", tc.weight, tc.stream, tc.encode, got, tc.want)
			}
		})
	}
}

func TestPlaylistProgress(t *testing.T) {
	tests := []struct {
		name            string
		position, total int
		item            float64
		want            float64
	}{
		{"first_item_start", 1, 4, 0, 0},
		{"first_item_half", 1, 4, 0.5, 0.125},
		{"second_item_done", 2, 4, 1, 0.5},
		{"last_item_done", 4, 4, 1, 1},
		{"empty_total", 1, 0, 0.5, 0},
		{"zero_position", 0, 3, 0.5, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := PlaylistProgress(tc.position, tc.total, tc.item); !approx(got, tc.want) {
				t.Fatalf("PlaylistProgress(%d, %d, %v) = %v; want %v", tc.position, tc.total, tc.item, got, tc.want)
			}
		})
	}
}

func TestPercent(t *testing.T) {
	t.Parallel()

	cases := map[float64]int{0: 0, 0.333: 33, 0.666: 67, 1: 100, 3: 100, math.NaN(): 0}
	for in, want := range cases {
		if got := Percent(in); got != want {
			t.Errorf("Percent(%v) = %d; want %d", in, got, want)
		}
	}
}

func TestETA(t *testing.T) {
	const tolerance = 50 * time.Millisecond

	started := time.Now().Add(-2 * time.Second)

	got := ETA(0.5, started)
	if diff := got - 2*time.Second; diff > tolerance || diff < -tolerance {
		t.Fatalf("ETA(0.5) = %v; want ~2s", got)
	}

	if got := ETA(0, started); got != 0 {
		t.Fatalf("ETA(0) = %v; want 0", got)
	}

	if got := ETA(1, started); got != 0 {
		t.Fatalf("ETA(1) = %v; want 0", got)
	}
}
