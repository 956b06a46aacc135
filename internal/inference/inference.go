// Package inference defines the structured-output request contract shared by
// the batch analysis and comparison paths, the remote error taxonomy, and
// the bounded retry policy applied to transient failures.
package inference

import (
	"context"

	"google.golang.org/genai"
)

// Part is one piece of request content: text, or inline media bytes.
type Part struct {
	Text     string
	MIMEType string
	Data     []byte
}

// TextPart returns a text part
func TextPart(text string) Part {
	return Part{Text: text}
}

// MediaPart returns an inline media part
func MediaPart(mimeType string, data []byte) Part {
	return Part{MIMEType: mimeType, Data: data}
}

// IsMedia reports whether p carries inline bytes
func (p Part) IsMedia() bool {
	return len(p.Data) > 0
}

// Request is a single structured-output call
type Request struct {
	Model       string
	Parts       []Part
	Schema      *genai.Schema
	Temperature float32
}

// Generator returns the raw JSON text produced for a request
type Generator interface {
	Generate(ctx context.Context, req Request) ([]byte, error)
}

// GeneratorFunc adapts a function to Generator
type GeneratorFunc func(ctx context.Context, req Request) ([]byte, error)

// Generate calls f
func (f GeneratorFunc) Generate(ctx context.Context, req Request) ([]byte, error) {
	return f(ctx, req)
}
