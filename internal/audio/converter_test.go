package audio

import (
	"math"
	"testing"
)

func TestResample(t *testing.T) {
	samples := make([]float32, 100)
	for i := range samples {
		samples[i] = float32(i) / 100
	}

	// 8kHz to 16kHz should double
	up := Resample(samples, 8000, 16000)
	if len(up) != 200 {
		t.Errorf("Expected 200 samples, got %d", len(up))
	}
	if math.Abs(float64(up[1])-0.005) > 1e-6 {
		t.Errorf("Expected interpolated 0.005, got %v", up[1])
	}

	// 16kHz to 8kHz should halve
	down := Resample(samples, 16000, 8000)
	if len(down) != 50 {
		t.Errorf("Expected 50 samples, got %d", len(down))
	}

	// Same rate should return unchanged
	same := Resample(samples, 8000, 8000)
	if len(same) != len(samples) {
		t.Errorf("Expected unchanged length %d, got %d", len(samples), len(same))
	}

	if out := Resample(nil, 8000, 16000); len(out) != 0 {
		t.Errorf("Expected empty output, got %d samples", len(out))
	}
}

func TestMix(t *testing.T) {
	dst := []float32{0.5, 0.5, 0.5, 0.5}
	Mix(dst, []float32{0.25, 0.75, -2}, 1)

	expected := []float32{0.5, 0.75, 1, -1}
	for i, v := range expected {
		if dst[i] != v {
			t.Errorf("Expected %v at index %d, got %v", v, i, dst[i])
		}
	}

	// writes past the end are dropped
	Mix(dst, []float32{0.1, 0.1}, 3)
	if math.Abs(float64(dst[3])+0.9) > 1e-6 {
		t.Errorf("Expected -0.9, got %v", dst[3])
	}

	// negative offsets skip the leading samples
	dst = make([]float32, 2)
	Mix(dst, []float32{0.1, 0.2, 0.3}, -1)
	if dst[0] != 0.2 || dst[1] != 0.3 {
		t.Errorf("Expected [0.2 0.3], got %v", dst)
	}
}

func TestCalculateRMS(t *testing.T) {
	samples := []float32{0.5, -0.5, 0.25, -0.25}
	rms := CalculateRMS(samples)

	expected := math.Sqrt((0.25 + 0.25 + 0.0625 + 0.0625) / 4.0)
	if math.Abs(rms-expected) > 1e-9 {
		t.Errorf("Expected RMS %.4f, got %.4f", expected, rms)
	}

	if rms := CalculateRMS(nil); rms != 0.0 {
		t.Errorf("Expected RMS 0.0 for empty slice, got %.2f", rms)
	}
}
