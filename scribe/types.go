package scribe

import (
	"context"
	"fmt"
	"strings"
)

// Language is the decoding language every engine is pinned to.
const Language = "ja"

// ModelSize selects a speech model; larger is slower and more accurate.
type ModelSize string

const (
	Tiny   ModelSize = "tiny"
	Base   ModelSize = "base"
	Small  ModelSize = "small"
	Medium ModelSize = "medium"
	Large  ModelSize = "large"

	DefaultModelSize = Base
)

// ModelSizes lists the supported sizes from smallest to largest.
func ModelSizes() []ModelSize {
	return []ModelSize{Tiny, Base, Small, Medium, Large}
}

// ParseModelSize validates a model size name. The empty string selects the
// default.
func ParseModelSize(s string) (ModelSize, error) {
	if s == "" {
		return DefaultModelSize, nil
	}
	size := ModelSize(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range ModelSizes() {
		if size == known {
			return size, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedModelSize, s)
}

// Next returns the following size, wrapping from large to tiny.
func (m ModelSize) Next() ModelSize {
	sizes := ModelSizes()
	for i, size := range sizes {
		if size == m {
			return sizes[(i+1)%len(sizes)]
		}
	}
	return DefaultModelSize
}

// Segment is a time-bounded span of transcribed speech. Times are seconds
// from the start of the audio.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the outcome of one transcription.
type Result struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// Info describes the service state for observers.
type Info struct {
	Engine    string    `json:"engine"`
	ModelSize ModelSize `json:"model_size"`
	Loaded    bool      `json:"loaded"`
}

// Engine is a speech recognition backend.
type Engine interface {
	Name() string
	// SampleRate is the input rate the engine requires, or 0 for any.
	SampleRate() int
	// Check reports whether a model of the given size could be loaded.
	Check(ctx context.Context, size ModelSize) error
	Load(ctx context.Context, size ModelSize) (Model, error)
}

// Model is a loaded speech model.
type Model interface {
	Transcribe(ctx context.Context, path, language string) (Result, error)
	Close() error
}
