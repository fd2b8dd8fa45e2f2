package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

const defaultFramesPerBuffer = 1024

var (
	ErrAlreadyRecording   = errors.New("already recording")
	ErrNotRecording       = errors.New("not recording")
	ErrNoAudioCaptured    = errors.New("no audio captured")
	ErrCaptureInterrupted = errors.New("capture interrupted")
)

// Source delivers successive mono sample frames from an input device. The
// returned slice may be reused by the next Read.
type Source interface {
	Read() ([]float32, error)
	Close() error
}

// SourceOpener opens a started input source.
type SourceOpener func(sampleRate, framesPerBuffer int) (Source, error)

// CaptureOption configures a Capture.
type CaptureOption func(*Capture)

// WithSampleRate sets the capture rate. Default 44100.
func WithSampleRate(rate int) CaptureOption {
	return func(c *Capture) {
		if rate > 0 {
			c.sampleRate = rate
		}
	}
}

// WithFramesPerBuffer sets how many frames each read returns. Default 1024.
func WithFramesPerBuffer(frames int) CaptureOption {
	return func(c *Capture) {
		if frames > 0 {
			c.framesPerBuffer = frames
		}
	}
}

// Capture records mono audio from a Source on a dedicated goroutine and
// keeps every chunk in memory until the next Start.
type Capture struct {
	open            SourceOpener
	sampleRate      int
	framesPerBuffer int

	mu      sync.Mutex
	chunks  [][]float32
	samples int
	active  bool // reader goroutine running
	pending bool // started and not yet stopped
	err     error
	quit    chan struct{}
	done    chan struct{}

	meter LevelMeter
}

// NewCapture creates an idle capture reading from sources produced by open.
func NewCapture(open SourceOpener, opts ...CaptureOption) *Capture {
	c := &Capture{
		open:            open,
		sampleRate:      DefaultSampleRate,
		framesPerBuffer: defaultFramesPerBuffer,
	}
	for _, opt := range opts {
		opt(c)
	}

	done := make(chan struct{})
	close(done)
	c.done = done
	return c
}

// SampleRate returns the capture rate in Hz.
func (c *Capture) SampleRate() int {
	return c.sampleRate
}

// Start opens the input source, clears the buffer and begins appending
// chunks.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return ErrAlreadyRecording
	}

	src, err := c.open(c.sampleRate, c.framesPerBuffer)
	if err != nil {
		return fmt.Errorf("failed to open input stream: %w", err)
	}

	c.chunks = nil
	c.samples = 0
	c.err = nil
	c.meter.Reset()
	c.active = true
	c.pending = true
	c.quit = make(chan struct{})
	c.done = make(chan struct{})

	go c.run(src, c.quit, c.done)

	log.Debug().
		Int("sample_rate", c.sampleRate).
		Int("frames_per_buffer", c.framesPerBuffer).
		Msg("Audio capture started")
	return nil
}

// Stop halts capture and waits for the reader goroutine to exit; no chunk is
// appended after Stop returns. If the device failed mid-capture the returned
// error matches ErrCaptureInterrupted and the audio read before the failure
// stays in the buffer.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.pending {
		c.mu.Unlock()
		return ErrNotRecording
	}
	c.pending = false
	quit, done := c.quit, c.done
	c.mu.Unlock()

	close(quit)
	<-done

	c.mu.Lock()
	defer c.mu.Unlock()

	log.Debug().
		Float64("seconds", c.durationLocked()).
		Int("chunks", len(c.chunks)).
		Msg("Audio capture stopped")

	if c.err != nil {
		return fmt.Errorf("%w: %w", ErrCaptureInterrupted, c.err)
	}
	return nil
}

// Duration returns the recorded length in seconds.
func (c *Capture) Duration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.durationLocked()
}

func (c *Capture) durationLocked() float64 {
	return float64(c.samples) / float64(c.sampleRate)
}

// IsActive reports whether the reader goroutine is running. It turns false
// on its own when the device fails.
func (c *Capture) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Level returns the loudness of the most recent chunk.
func (c *Capture) Level() Level {
	return c.meter.Level()
}

// Done is closed when the current capture run ends, for any reason.
func (c *Capture) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns the device error that ended the last run early, if any.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Clear drops the buffered audio. It has no effect while capturing.
func (c *Capture) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return
	}
	c.chunks = nil
	c.samples = 0
	c.err = nil
}

// Samples returns the captured audio concatenated in arrival order.
func (c *Capture) Samples() []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]float32, 0, c.samples)
	for _, chunk := range c.chunks {
		out = append(out, chunk...)
	}
	return out
}

// ExportContainer returns the captured audio as a WAV container.
func (c *Capture) ExportContainer() ([]byte, error) {
	samples := c.Samples()
	if len(samples) == 0 {
		return nil, ErrNoAudioCaptured
	}
	return EncodeWAV(samples, c.sampleRate)
}

func (c *Capture) run(src Source, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if err := src.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close input stream")
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			c.finish(fmt.Errorf("input stream panic: %v", r))
		}
	}()

	for {
		select {
		case <-quit:
			c.finish(nil)
			return
		default:
		}

		chunk, err := src.Read()
		if err != nil {
			log.Error().Err(err).Msg("Audio capture ended by device error")
			c.finish(err)
			return
		}
		c.append(chunk)
	}
}

func (c *Capture) append(chunk []float32) {
	if len(chunk) == 0 {
		return
	}
	cp := make([]float32, len(chunk))
	copy(cp, chunk)
	c.meter.Observe(cp)

	c.mu.Lock()
	c.chunks = append(c.chunks, cp)
	c.samples += len(cp)
	c.mu.Unlock()
}

func (c *Capture) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	if err != nil && c.err == nil {
		c.err = err
	}
}
