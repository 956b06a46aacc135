package audio

import (
	"math"
)

// Resample converts mono float samples between rates using linear
// interpolation. Device backends use it when the hardware runs at a rate
// other than the one a session asked for.
func Resample(samples []float32, inputRate, outputRate int) []float32 {
	if inputRate == outputRate || inputRate <= 0 || outputRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]float32, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) / ratio

		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = float32(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// Mix adds src into dst starting at offset, clamping the sum to [-1, 1]
func Mix(dst, src []float32, offset int) {
	for i, s := range src {
		j := offset + i
		if j < 0 {
			continue
		}
		if j >= len(dst) {
			return
		}
		v := dst[j] + s
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		dst[j] = v
	}
}

// CalculateRMS returns the root mean square of the samples
func CalculateRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
