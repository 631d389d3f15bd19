// Package calc holds the progress arithmetic shared by the orchestrators.
package calc

import (
	"math"
	"time"
)

// Clamp01 bounds r to [0,1]. NaN maps to 0.
func Clamp01(r float64) float64 {
	switch {
	case math.IsNaN(r) || r < 0:
		return 0
	case r > 1:
		return 1
	default:
		return r
	}
}

// Ratio returns done/total in [0,1]; an unknown total yields 0.
func Ratio(done, total int64) float64 {
	if total <= 0 {
		return 0
	}

	return Clamp01(float64(done) / float64(total))
}

// Weighted combines the streaming and encoding ratios of one job:
// streamWeight*stream + (1-streamWeight)*encode.
func Weighted(streamWeight, stream, encode float64) float64 {
	w := Clamp01(streamWeight)

	return Clamp01(w*Clamp01(stream) + (1-w)*Clamp01(encode))
}

// PlaylistProgress maps the progress of item number position (1-based) of total
// onto the whole batch: (position-1+item)/total.
func PlaylistProgress(position, total int, item float64) float64 {
	if total <= 0 || position <= 0 {
		return 0
	}

	return Clamp01((float64(position-1) + Clamp01(item)) / float64(total))
}

// Percent renders a ratio as a rounded percentage.
func Percent(r float64) int {
	return int(math.Round(Clamp01(r) * 100))
}

// ETA estimates the remaining time from a ratio and the start time.
func ETA(progress float64, started time.Time) time.Duration {
	if progress <= 0 || progress >= 1 {
		return 0
	}

	elapsed := time.Since(started)

	return time.Duration(float64(elapsed) * (1/progress - 1))
}
