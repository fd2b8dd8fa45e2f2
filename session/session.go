// Package session sequences one recording-to-minutes cycle: capture, then a
// background transcription and formatting pipeline, with observers notified
// of every transition.
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bosley/recordnote/audio"
	"github.com/bosley/recordnote/minutes"
	"github.com/bosley/recordnote/observability"
	"github.com/bosley/recordnote/scribe"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Recorder is the capture side of a session. *audio.Capture satisfies it.
type Recorder interface {
	Start() error
	Stop() error
	Duration() float64
	IsActive() bool
	ExportContainer() ([]byte, error)
	Done() <-chan struct{}
	Clear()
}

// Transcriber turns a WAV container into a transcription. *scribe.Service
// satisfies it.
type Transcriber interface {
	Transcribe(ctx context.Context, data []byte) (scribe.Result, error)
}

// Snapshot is a consistent copy of the session's observable state. Seq grows
// with every published change; observers drop snapshots older than the last
// one they applied.
type Snapshot struct {
	Seq      uint64         `json:"seq"`
	ID       string         `json:"id"`
	State    State          `json:"state"`
	Title    string         `json:"title"`
	Duration float64        `json:"duration"`
	Document string         `json:"document,omitempty"`
	Stats    *minutes.Stats `json:"stats,omitempty"`
	Error    string         `json:"error,omitempty"`

	// GeneratedAt is the document timestamp once Completed.
	GeneratedAt *time.Time `json:"generated_at,omitempty"`
}

// Option configures a Session.
type Option func(*Session)

// WithTitle sets the initial document title.
func WithTitle(title string) Option {
	return func(s *Session) {
		s.title = CleanTitle(title)
	}
}

// WithClock replaces time.Now for the document timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithContext sets the context pipeline runs are bound to. Cancelling it
// fails an in-flight transcription.
func WithContext(ctx context.Context) Option {
	return func(s *Session) {
		if ctx != nil {
			s.ctx = ctx
		}
	}
}

// Session is the recording state machine. All methods are safe for
// concurrent use.
type Session struct {
	rec Recorder
	tr  Transcriber
	ctx context.Context
	now func() time.Time

	mu          sync.Mutex
	id          string
	run         uint64
	state       State
	title       string
	result      *scribe.Result
	document    string
	stats       minutes.Stats
	generatedAt time.Time
	lastErr     error
	seq         uint64
	metrics     *observability.SessionMetrics
	logger      zerolog.Logger

	obsMu     sync.Mutex
	observers map[uint64]func(Snapshot)
	nextObs   uint64

	wg sync.WaitGroup
}

// New creates an idle session.
func New(rec Recorder, tr Transcriber, opts ...Option) *Session {
	s := &Session{
		rec:       rec,
		tr:        tr,
		ctx:       context.Background(),
		now:       time.Now,
		title:     minutes.DefaultTitle,
		observers: make(map[uint64]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.newRunLocked()
	return s
}

// CleanTitle trims title, falling back to the default title when blank.
func CleanTitle(title string) string {
	if title = strings.TrimSpace(title); title == "" {
		return minutes.DefaultTitle
	}
	return title
}

func (s *Session) newRunLocked() {
	s.run++
	s.id = uuid.NewString()
	s.logger = observability.WithSessionID(s.id)
	s.metrics = observability.NewSessionMetrics(s.id)
}

// BeginRecording starts capture from Idle. Any previous error is cleared.
func (s *Session) BeginRecording() error {
	s.mu.Lock()
	switch s.state {
	case Recording:
		s.mu.Unlock()
		return audio.ErrAlreadyRecording
	case Processing:
		s.mu.Unlock()
		return ErrBusy
	case Completed:
		s.mu.Unlock()
		return fmt.Errorf("%w: reset before recording again", ErrInvalidState)
	}

	if err := s.rec.Start(); err != nil {
		s.lastErr = err
		s.logger.Error().Err(err).Msg("Failed to start recording")
		observability.RecordError("capture_start", "session")
		snap := s.nextSnapshotLocked()
		s.mu.Unlock()
		s.publish(snap)
		return err
	}

	s.newRunLocked()
	s.state = Recording
	s.lastErr = nil
	s.metrics.RecordRecordingStart()
	run, done := s.run, s.rec.Done()
	s.logger.Info().Str("title", s.title).Msg("Recording started")
	snap := s.nextSnapshotLocked()
	s.mu.Unlock()

	go s.watchCapture(run, done)
	s.publish(snap)
	return nil
}

// watchCapture surfaces a capture that ended without EndRecording.
func (s *Session) watchCapture(run uint64, done <-chan struct{}) {
	<-done

	s.mu.Lock()
	if s.run != run || s.state != Recording {
		s.mu.Unlock()
		return
	}

	err := s.rec.Stop()
	if err == nil {
		err = audio.ErrCaptureInterrupted
	}
	s.abortRecordingLocked(err)
	snap := s.nextSnapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
}

func (s *Session) abortRecordingLocked(err error) {
	s.metrics.RecordRecordingEnd(s.rec.Duration(), true)
	observability.RecordError("capture_interrupted", "session")
	s.logger.Error().Err(err).Msg("Recording interrupted")

	s.rec.Clear()
	s.state = Idle
	s.lastErr = err
}

// EndRecording stops capture and starts the pipeline in the background. It
// returns once the capture goroutine has exited.
func (s *Session) EndRecording() error {
	s.mu.Lock()
	switch s.state {
	case Idle, Completed:
		s.mu.Unlock()
		return audio.ErrNotRecording
	case Processing:
		s.mu.Unlock()
		return ErrBusy
	}

	if err := s.rec.Stop(); err != nil {
		s.abortRecordingLocked(err)
		snap := s.nextSnapshotLocked()
		s.mu.Unlock()
		s.publish(snap)
		return err
	}

	seconds := s.rec.Duration()
	s.metrics.RecordRecordingEnd(seconds, false)
	s.metrics.RecordPipelineStart()
	s.state = Processing
	s.logger.Info().Float64("seconds", seconds).Msg("Recording stopped, processing")

	run := s.run
	s.wg.Add(1)
	snap := s.nextSnapshotLocked()
	s.mu.Unlock()

	go s.process(run)
	s.publish(snap)
	return nil
}

// Abort stops a running capture and discards its audio without processing.
// The session returns to Idle with no error.
func (s *Session) Abort() error {
	s.mu.Lock()
	if s.state != Recording {
		s.mu.Unlock()
		return audio.ErrNotRecording
	}

	if err := s.rec.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("Capture ended with error while aborting")
	}
	s.metrics.RecordRecordingEnd(s.rec.Duration(), false)
	s.rec.Clear()
	s.state = Idle
	s.lastErr = nil
	s.logger.Info().Msg("Recording aborted")
	snap := s.nextSnapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	return nil
}

func (s *Session) process(run uint64) {
	defer s.wg.Done()

	s.mu.Lock()
	logger := s.logger
	s.mu.Unlock()

	start := time.Now()
	result, err := s.pipeline()

	s.mu.Lock()
	if s.run != run || s.state != Processing {
		s.mu.Unlock()
		return
	}

	if err != nil {
		s.rec.Clear()
		s.state = Idle
		s.lastErr = err
		s.metrics.RecordPipelineEnd("failed")
		observability.RecordError("pipeline", "session")
		logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Processing failed")
	} else {
		s.result = &result
		s.generatedAt = s.now()
		s.document = minutes.Format(result, s.title, s.generatedAt)
		s.stats = minutes.Summarize(result)
		s.state = Completed
		s.metrics.RecordPipelineEnd("completed")
		logger.Info().
			Dur("elapsed", time.Since(start)).
			Int("segments", s.stats.SegmentCount).
			Int("chars", s.stats.CharCount).
			Msg("Minutes ready")
	}
	snap := s.nextSnapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
}

// pipeline runs outside the session lock. The capture is stopped and joined
// by the time it starts, so the buffer is read-only.
func (s *Session) pipeline() (scribe.Result, error) {
	data, err := s.rec.ExportContainer()
	if err != nil {
		return scribe.Result{}, err
	}
	return s.tr.Transcribe(s.ctx, data)
}

// Reset returns a completed or idle session to a fresh Idle state and
// restores the default title.
func (s *Session) Reset() error {
	s.mu.Lock()
	switch s.state {
	case Recording, Processing:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot reset while %s", ErrInvalidState, state)
	}

	s.rec.Clear()
	s.state = Idle
	s.result = nil
	s.document = ""
	s.stats = minutes.Stats{}
	s.generatedAt = time.Time{}
	s.lastErr = nil
	s.title = minutes.DefaultTitle
	s.logger.Debug().Msg("Session reset")
	snap := s.nextSnapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	return nil
}

// SetTitle changes the document title. A completed document is re-rendered
// with the new title and its original timestamp.
func (s *Session) SetTitle(title string) {
	s.mu.Lock()
	s.title = CleanTitle(title)
	if s.state == Completed && s.result != nil {
		s.document = minutes.Format(*s.result, s.title, s.generatedAt)
	}
	snap := s.nextSnapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
}

// Export writes the completed document. A target ending in ".md" is used as
// the file path; anything else is a directory that receives the default
// filename. It returns the written path.
func (s *Session) Export(target string) (string, error) {
	s.mu.Lock()
	if s.state != Completed {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: no document to export", ErrInvalidState)
	}
	doc, at := s.document, s.generatedAt
	logger := s.logger
	s.mu.Unlock()

	path := target
	if !strings.EqualFold(filepath.Ext(target), minutes.Extension) {
		path = filepath.Join(target, minutes.DefaultFilename(at))
	}
	if err := minutes.Export(doc, path); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("Failed to export minutes")
		return "", err
	}
	return path, nil
}

// Wait blocks until no pipeline run is in flight.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Subscribe registers fn for every published snapshot. fn runs on the
// goroutine that made the change and must not block.
func (s *Session) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.obsMu.Lock()
			delete(s.observers, id)
			s.obsMu.Unlock()
		})
	}
}

func (s *Session) publish(snap Snapshot) {
	s.obsMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (s *Session) nextSnapshotLocked() Snapshot {
	s.seq++
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Seq:      s.seq,
		ID:       s.id,
		State:    s.state,
		Title:    s.title,
		Duration: s.rec.Duration(),
		Document: s.document,
	}
	if s.state == Completed {
		stats, at := s.stats, s.generatedAt
		snap.Stats = &stats
		snap.GeneratedAt = &at
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	return snap
}

// Snapshot returns the current state without publishing it.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.nextSnapshotLocked()
	s.seq--
	snap.Seq = s.seq
	return snap
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Duration returns the captured length in seconds.
func (s *Session) Duration() float64 {
	return s.rec.Duration()
}

// Document returns the formatted minutes, or "" until Completed.
func (s *Session) Document() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.document
}

// Stats returns the summary of the completed transcription.
func (s *Session) Stats() (minutes.Stats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats, s.state == Completed
}

// Result returns the completed transcription.
func (s *Session) Result() (scribe.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return scribe.Result{}, false
	}
	return *s.result, true
}

// LastError returns the error that last sent the session back to Idle.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// ID identifies the current recording run in logs and metrics.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// IsRejected reports whether err is a command refused because of the
// current state rather than a failure.
func IsRejected(err error) bool {
	return errors.Is(err, ErrBusy) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, audio.ErrAlreadyRecording) ||
		errors.Is(err, audio.ErrNotRecording)
}
