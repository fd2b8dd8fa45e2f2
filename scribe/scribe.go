package scribe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bosley/recordnote/audio"
	"github.com/bosley/recordnote/observability"
	"github.com/rs/zerolog/log"
)

// Option configures a Service.
type Option func(*Service)

// WithTempDir sets where transient audio files are written. Default is the
// system temp directory.
func WithTempDir(dir string) Option {
	return func(s *Service) {
		s.tempDir = dir
	}
}

// WithLanguage overrides the pinned decoding language.
func WithLanguage(language string) Option {
	return func(s *Service) {
		if language != "" {
			s.language = language
		}
	}
}

// Service turns WAV containers into transcription results. The model is
// loaded on first use and kept until the model size changes. Transcriptions
// run one at a time.
type Service struct {
	engine   Engine
	language string
	tempDir  string

	run sync.Mutex // held for the whole of one transcription

	mu    sync.Mutex
	size  ModelSize
	model Model // memoized for size
	inUse Model
}

// New creates a service for engine with the given model size.
func New(engine Engine, size ModelSize, opts ...Option) (*Service, error) {
	if engine == nil {
		return nil, errors.New("scribe: nil engine")
	}
	size, err := ParseModelSize(string(size))
	if err != nil {
		return nil, err
	}

	s := &Service{
		engine:   engine,
		language: Language,
		size:     size,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Info returns the current model size and whether a model is loaded.
func (s *Service) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		Engine:    s.engine.Name(),
		ModelSize: s.size,
		Loaded:    s.model != nil,
	}
}

// ModelSize returns the selected model size.
func (s *Service) ModelSize() ModelSize {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// SetModelSize selects a model size. A change drops the loaded model; the
// next transcription loads the new one.
func (s *Service) SetModelSize(size ModelSize) error {
	size, err := ParseModelSize(string(size))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if size == s.size {
		return nil
	}

	log.Info().
		Str("engine", s.engine.Name()).
		Str("from", string(s.size)).
		Str("to", string(size)).
		Msg("Model size changed")

	s.size = size
	if s.model != nil {
		old := s.model
		s.model = nil
		// A model in use is closed by its transcription when it finishes
		if old != s.inUse {
			closeModel(old)
		}
	}
	return nil
}

// Check reports whether the engine can serve the current model size.
func (s *Service) Check(ctx context.Context) (bool, error) {
	info := s.Info()
	if info.Loaded {
		return true, nil
	}
	if err := s.engine.Check(ctx, info.ModelSize); err != nil {
		return false, err
	}
	return true, nil
}

// TranscribeFile reads a WAV file and transcribes it.
func (s *Service) TranscribeFile(ctx context.Context, path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read audio file: %w", err)
	}
	return s.Transcribe(ctx, data)
}

// Transcribe decodes a WAV container and runs the model over it. Errors match
// ErrInvalidAudio for unreadable containers and ErrTranscriptionFailed for
// everything the engine reports, model loading included.
func (s *Service) Transcribe(ctx context.Context, data []byte) (Result, error) {
	clip, err := audio.DecodeWAV(data)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidAudio, err)
	}

	s.run.Lock()
	defer s.run.Unlock()

	start := time.Now()
	result, err := s.transcribe(ctx, clip)
	observability.RecordTranscription(s.engine.Name(), time.Since(start), err == nil)
	if err != nil {
		return Result{}, err
	}

	log.Info().
		Str("engine", s.engine.Name()).
		Dur("audio", clip.Duration()).
		Dur("elapsed", time.Since(start)).
		Int("segments", len(result.Segments)).
		Str("language", result.Language).
		Msg("Transcription finished")
	return result, nil
}

func (s *Service) transcribe(ctx context.Context, clip audio.Clip) (Result, error) {
	model, err := s.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer s.release(model)

	path, err := s.writeTemp(clip)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("Failed to remove temporary audio file")
		}
	}()

	result, err := model.Transcribe(ctx, path, s.language)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}
	return normalize(result, s.language), nil
}

// acquire returns the memoized model, loading it if needed.
func (s *Service) acquire(ctx context.Context) (Model, error) {
	s.mu.Lock()
	if m := s.model; m != nil {
		s.inUse = m
		s.mu.Unlock()
		return m, nil
	}
	size := s.size
	s.mu.Unlock()

	log.Info().
		Str("engine", s.engine.Name()).
		Str("model_size", string(size)).
		Msg("Loading speech model")

	model, err := s.engine.Load(ctx, size)
	observability.RecordModelLoad(s.engine.Name(), string(size), err == nil)
	if err != nil {
		return nil, fmt.Errorf("%w (%w): %w", ErrTranscriptionFailed, ErrModelLoadFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// The size may have changed while loading; the model still serves this
	// call and is dropped afterwards.
	if s.size == size && s.model == nil {
		s.model = model
	}
	s.inUse = model
	return model, nil
}

func (s *Service) release(model Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inUse = nil
	if model != s.model {
		closeModel(model)
	}
}

func (s *Service) writeTemp(clip audio.Clip) (string, error) {
	samples, rate := clip.Samples, clip.SampleRate
	if want := s.engine.SampleRate(); want > 0 && want != rate {
		samples = audio.Resample(samples, rate, want)
		rate = want
	}

	f, err := os.CreateTemp(s.tempDir, "recordnote-*.wav")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary audio file: %w", err)
	}

	if err := audio.WriteWAV(f, samples, rate); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temporary audio file: %w", err)
	}
	return f.Name(), nil
}

// Close releases the loaded model.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return nil
	}
	err := s.model.Close()
	s.model = nil
	return err
}

func closeModel(m Model) {
	if err := m.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close speech model")
	}
}

// normalize trims segment text, orders segments by start time and fills in
// text and language the engine left empty.
func normalize(result Result, language string) Result {
	segments := make([]Segment, 0, len(result.Segments))
	for _, seg := range result.Segments {
		seg.Text = strings.TrimSpace(seg.Text)
		if seg.Start < 0 {
			seg.Start = 0
		}
		if seg.End < seg.Start {
			seg.End = seg.Start
		}
		segments = append(segments, seg)
	}
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Start < segments[j].Start
	})
	result.Segments = segments

	result.Text = strings.TrimSpace(result.Text)
	if result.Text == "" {
		texts := make([]string, 0, len(segments))
		for _, seg := range segments {
			if seg.Text != "" {
				texts = append(texts, seg.Text)
			}
		}
		result.Text = strings.Join(texts, " ")
	}

	if result.Language == "" {
		result.Language = language
	}
	return result
}
