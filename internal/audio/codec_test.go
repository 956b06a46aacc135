package audio

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"testing"
)

func TestTransportText_RoundTripAllByteValues(t *testing.T) {
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}

	for n := 0; n <= len(all); n++ {
		in := all[:n]
		out, err := TransportTextToBytes(BytesToTransportText(in))
		if err != nil {
			t.Fatalf("length %d: unexpected error %v", n, err)
		}
		if !bytes.Equal(in, out) {
			t.Fatalf("length %d: round trip mismatch", n)
		}
	}
}

func TestTransportText_RandomRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		in := make([]byte, rng.Intn(4096))
		rng.Read(in)
		out, err := TransportTextToBytes(BytesToTransportText(in))
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		if !bytes.Equal(in, out) {
			t.Fatalf("round trip mismatch for %d bytes", len(in))
		}
	}
}

func TestTransportTextToBytes_Malformed(t *testing.T) {
	tests := []string{"@@@@", "abc", "YWJj*A==", "===="}
	for _, text := range tests {
		t.Run(text, func(t *testing.T) {
			data, err := TransportTextToBytes(text)
			if err == nil {
				t.Fatalf("Expected DecodeError, got data %v", data)
			}
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Errorf("Expected *DecodeError, got %T", err)
			}
			if data != nil {
				t.Errorf("Expected no partial data, got %d bytes", len(data))
			}
		})
	}
}

func TestPCM16_RoundTripTolerance(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	samples := []float32{-1, -0.5, 0, 0.25, 0.999, 1}
	for i := 0; i < 4096; i++ {
		samples = append(samples, rng.Float32()*2-1)
	}

	pcm, err := SamplesToWireFrame(samples)
	if err != nil {
		t.Fatalf("SamplesToWireFrame failed: %v", err)
	}
	if len(pcm) != len(samples)*2 {
		t.Fatalf("Expected %d bytes, got %d", len(samples)*2, len(pcm))
	}

	decoded, err := WireFrameToSamples(pcm, 1)
	if err != nil {
		t.Fatalf("WireFrameToSamples failed: %v", err)
	}
	for i, s := range samples {
		diff := math.Abs(float64(s) - float64(decoded[0][i]))
		if diff > 1.0/PCM16Scale {
			t.Errorf("sample %d: %f decoded as %f (error %g)", i, s, decoded[0][i], diff)
		}
	}
}

func TestSamplesToWireFrame_LittleEndianAndClamp(t *testing.T) {
	pcm, err := SamplesToWireFrame([]float32{0.5, -1, 1, 1.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []byte{
		0x00, 0x40, // 16384
		0x00, 0x80, // -32768
		0xff, 0x7f, // clamped 32767
		0xff, 0x7f, // clamped 32767
	}
	if !bytes.Equal(pcm, expected) {
		t.Errorf("Expected %v, got %v", expected, pcm)
	}
}

func TestSamplesToWireFrame_RejectsNaN(t *testing.T) {
	tests := []float32{float32(math.NaN()), float32(math.Inf(1)), float32(math.Inf(-1))}
	for _, bad := range tests {
		_, err := SamplesToWireFrame([]float32{0, bad})
		if !errors.Is(err, ErrInvalidSample) {
			t.Errorf("Expected ErrInvalidSample for %v, got %v", bad, err)
		}
	}
}

func TestWireFrameToSamples_Deinterleave(t *testing.T) {
	// L=16384, R=-16384, L=0, R=8192
	pcm := []byte{0x00, 0x40, 0x00, 0xc0, 0x00, 0x00, 0x00, 0x20}
	channels, err := WireFrameToSamples(pcm, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(channels) != 2 || len(channels[0]) != 2 {
		t.Fatalf("Expected 2 channels of 2 samples, got %v", channels)
	}
	if channels[0][0] != 0.5 || channels[0][1] != 0 {
		t.Errorf("Unexpected left channel %v", channels[0])
	}
	if channels[1][0] != -0.5 || channels[1][1] != 0.25 {
		t.Errorf("Unexpected right channel %v", channels[1])
	}
}

func TestWireFrameToSamples_Misaligned(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		channels int
	}{
		{"odd length mono", []byte{1, 2, 3}, 1},
		{"partial stereo frame", []byte{1, 2, 3, 4, 5, 6}, 2},
		{"zero channels", []byte{1, 2}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := WireFrameToSamples(tt.data, tt.channels)
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Errorf("Expected *DecodeError, got %v", err)
			}
		})
	}
}

func TestEncodeDecodeFrame(t *testing.T) {
	frame := []float32{0, 0.5, -0.5}
	text, err := EncodeFrame(frame)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	decoded, err := DecodeFrame(text, 1)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	for i := range frame {
		if decoded[0][i] != frame[i] {
			t.Errorf("sample %d: expected %f, got %f", i, frame[i], decoded[0][i])
		}
	}

	if _, err := DecodeFrame("not base64!", 1); err == nil {
		t.Error("Expected error for malformed frame")
	}
}
