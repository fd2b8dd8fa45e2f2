package audio

import (
	"math"
	"sync"
)

const (
	backgroundWindow = 50
	speechRatio      = 2.22
)

// Level is the input loudness of the most recent chunk.
type Level struct {
	Amplitude  float64 // mean absolute sample value, 0..1
	Background float64 // rolling mean over the last chunks
	Speech     bool    // amplitude well above the background
}

// Amplitude returns the mean absolute value of chunk.
func Amplitude(chunk []float32) float64 {
	if len(chunk) == 0 {
		return 0
	}
	var total float64
	for _, s := range chunk {
		total += math.Abs(float64(s))
	}
	return total / float64(len(chunk))
}

// LevelMeter tracks chunk amplitude against a rolling background estimate.
type LevelMeter struct {
	mu      sync.Mutex
	history []float64
	current Level
}

// Observe records one chunk and returns the updated level.
func (m *LevelMeter) Observe(chunk []float32) Level {
	amplitude := Amplitude(chunk)

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) >= backgroundWindow {
		m.history = m.history[1:]
	}
	m.history = append(m.history, amplitude)

	var sum float64
	for _, a := range m.history {
		sum += a
	}
	background := sum / float64(len(m.history))

	m.current = Level{
		Amplitude:  amplitude,
		Background: background,
		Speech:     background > 0 && amplitude/background > speechRatio,
	}
	return m.current
}

// Level returns the last observed level.
func (m *LevelMeter) Level() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Reset forgets the background estimate.
func (m *LevelMeter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = m.history[:0]
	m.current = Level{}
}
