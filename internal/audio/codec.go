package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// PCM16Scale is the factor between float samples in [-1, 1] and 16-bit PCM.
const PCM16Scale = 32768.0

// ErrInvalidSample is returned when a float sample is NaN or infinite.
var ErrInvalidSample = errors.New("audio: invalid sample")

// DecodeError reports malformed wire or transport data
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("audio: decode %s", e.Op)
	}
	return fmt.Sprintf("audio: decode %s: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// SamplesToWireFrame converts float samples to 16-bit signed PCM, little-endian.
// Each sample is scaled by 32768 and truncated toward zero; values outside the
// int16 range are clamped so that +1.0 maps to 32767 rather than wrapping.
func SamplesToWireFrame(samples []float32) ([]byte, error) {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		f := float64(s)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w at index %d", ErrInvalidSample, i)
		}
		v := math.Trunc(f * PCM16Scale)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out, nil
}

// WireFrameToSamples converts interleaved 16-bit little-endian PCM into one
// float sample slice per channel.
func WireFrameToSamples(data []byte, channels int) ([][]float32, error) {
	if channels < 1 {
		return nil, &DecodeError{Op: "pcm16", Err: fmt.Errorf("invalid channel count %d", channels)}
	}
	frameBytes := 2 * channels
	if len(data)%frameBytes != 0 {
		return nil, &DecodeError{Op: "pcm16", Err: fmt.Errorf("length %d is not a multiple of %d", len(data), frameBytes)}
	}

	frames := len(data) / frameBytes
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(data[off:]))
			out[ch][i] = float32(float64(sample) / PCM16Scale)
		}
	}
	return out, nil
}

// BytesToTransportText encodes binary audio as standard base64.
func BytesToTransportText(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// TransportTextToBytes decodes standard base64 text.
func TransportTextToBytes(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, &DecodeError{Op: "base64", Err: err}
	}
	return data, nil
}

// EncodeFrame converts a captured float frame straight to transport text.
func EncodeFrame(samples []float32) (string, error) {
	pcm, err := SamplesToWireFrame(samples)
	if err != nil {
		return "", err
	}
	return BytesToTransportText(pcm), nil
}

// DecodeFrame reverses EncodeFrame for the given channel count.
func DecodeFrame(text string, channels int) ([][]float32, error) {
	pcm, err := TransportTextToBytes(text)
	if err != nil {
		return nil, err
	}
	return WireFrameToSamples(pcm, channels)
}
