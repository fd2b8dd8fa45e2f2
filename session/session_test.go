package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bosley/recordnote/audio"
	"github.com/bosley/recordnote/minutes"
	"github.com/bosley/recordnote/scribe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Recorder    = (*audio.Capture)(nil)
	_ Transcriber = (*scribe.Service)(nil)
)

type fakeRecorder struct {
	mu        sync.Mutex
	pending   bool
	active    bool
	seconds   float64
	err       error
	done      chan struct{}
	startErr  error
	exportErr error
	cleared   int
}

func newFakeRecorder() *fakeRecorder {
	done := make(chan struct{})
	close(done)
	return &fakeRecorder{done: done}
}

func (r *fakeRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return audio.ErrAlreadyRecording
	}
	if r.startErr != nil {
		return r.startErr
	}
	r.pending, r.active = true, true
	r.seconds, r.err = 0, nil
	r.done = make(chan struct{})
	return nil
}

func (r *fakeRecorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pending {
		return audio.ErrNotRecording
	}
	r.pending = false
	if r.active {
		r.active = false
		r.seconds = 1.5
		close(r.done)
	}
	if r.err != nil {
		return fmt.Errorf("%w: %w", audio.ErrCaptureInterrupted, r.err)
	}
	return nil
}

// fail ends the capture the way a device error does.
func (r *fakeRecorder) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
	r.seconds = 0.4
	r.err = err
	close(r.done)
}

func (r *fakeRecorder) Duration() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seconds
}

func (r *fakeRecorder) IsActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *fakeRecorder) ExportContainer() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exportErr != nil {
		return nil, r.exportErr
	}
	return []byte("RIFF"), nil
}

func (r *fakeRecorder) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *fakeRecorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared++
	r.seconds = 0
}

type fakeTranscriber struct {
	result scribe.Result
	err    error
	gate   chan struct{}

	mu    sync.Mutex
	calls int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, data []byte) (scribe.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return scribe.Result{}, ctx.Err()
		}
	}
	return f.result, f.err
}

var testResult = scribe.Result{
	Text:     "これはテストです。",
	Language: "ja",
	Segments: []scribe.Segment{{Start: 0, End: 2, Text: "これはテストです。"}},
}

var testTime = time.Date(2024, 3, 7, 9, 5, 30, 0, time.Local)

func newTestSession(rec *fakeRecorder, tr *fakeTranscriber, opts ...Option) *Session {
	opts = append([]Option{WithClock(func() time.Time { return testTime })}, opts...)
	return New(rec, tr, opts...)
}

func complete(t *testing.T, s *Session) {
	t.Helper()
	require.NoError(t, s.BeginRecording())
	require.NoError(t, s.EndRecording())
	s.Wait()
	require.Equal(t, Completed, s.State())
}

func TestSessionLifecycle(t *testing.T) {
	rec := newFakeRecorder()
	s := newTestSession(rec, &fakeTranscriber{result: testResult}, WithTitle("週次定例"))

	var (
		mu     sync.Mutex
		states []State
		seqs   []uint64
	)
	s.Subscribe(func(snap Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, snap.State)
		seqs = append(seqs, snap.Seq)
	})

	assert.Equal(t, Idle, s.State())
	assert.Empty(t, s.Document())

	require.NoError(t, s.BeginRecording())
	assert.Equal(t, Recording, s.State())
	assert.True(t, rec.IsActive())

	require.NoError(t, s.EndRecording())
	assert.False(t, rec.IsActive())
	s.Wait()

	assert.Equal(t, Completed, s.State())
	assert.NoError(t, s.LastError())
	assert.Equal(t, minutes.Format(testResult, "週次定例", testTime), s.Document())

	stats, ok := s.Stats()
	require.True(t, ok)
	assert.Equal(t, minutes.Stats{Duration: 2, SegmentCount: 1, WordCount: 1, CharCount: 8}, stats)

	result, ok := s.Result()
	require.True(t, ok)
	assert.Equal(t, testResult, result)
	assert.Equal(t, 1.5, s.Duration())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Recording, Processing, Completed}, states)
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1])
	}
}

func TestSessionRejectedTransitions(t *testing.T) {
	rec := newFakeRecorder()
	tr := &fakeTranscriber{result: testResult, gate: make(chan struct{})}
	s := newTestSession(rec, tr)

	assert.ErrorIs(t, s.EndRecording(), audio.ErrNotRecording)
	assert.Equal(t, Idle, s.State())

	require.NoError(t, s.BeginRecording())
	assert.ErrorIs(t, s.BeginRecording(), audio.ErrAlreadyRecording)
	assert.ErrorIs(t, s.Reset(), ErrInvalidState)
	assert.Equal(t, Recording, s.State())

	require.NoError(t, s.EndRecording())
	assert.ErrorIs(t, s.BeginRecording(), ErrBusy)
	assert.ErrorIs(t, s.EndRecording(), ErrBusy)
	assert.ErrorIs(t, s.Reset(), ErrInvalidState)
	assert.Equal(t, Processing, s.State())

	close(tr.gate)
	s.Wait()
	require.Equal(t, Completed, s.State())

	assert.ErrorIs(t, s.BeginRecording(), ErrInvalidState)
	assert.ErrorIs(t, s.EndRecording(), audio.ErrNotRecording)
	assert.Equal(t, Completed, s.State())
	assert.NotEmpty(t, s.Document())

	tr.mu.Lock()
	assert.Equal(t, 1, tr.calls, "one pipeline run per recording")
	tr.mu.Unlock()

	assert.True(t, IsRejected(ErrBusy))
	assert.True(t, IsRejected(fmt.Errorf("wrapped: %w", audio.ErrNotRecording)))
	assert.False(t, IsRejected(scribe.ErrTranscriptionFailed))
}

func TestSessionReset(t *testing.T) {
	rec := newFakeRecorder()
	s := newTestSession(rec, &fakeTranscriber{result: testResult}, WithTitle("Weekly Sync"))
	complete(t, s)

	oldID := s.ID()
	require.NoError(t, s.Reset())

	assert.Equal(t, Idle, s.State())
	assert.Empty(t, s.Document())
	assert.Equal(t, minutes.DefaultTitle, s.Title())
	_, ok := s.Stats()
	assert.False(t, ok)
	_, ok = s.Result()
	assert.False(t, ok)
	assert.Zero(t, s.Duration())

	complete(t, s)
	assert.NotEqual(t, oldID, s.ID(), "each recording gets a new id")
}

func TestSessionPipelineFailure(t *testing.T) {
	rec := newFakeRecorder()
	cause := fmt.Errorf("%w: backend crashed", scribe.ErrTranscriptionFailed)
	s := newTestSession(rec, &fakeTranscriber{err: cause})

	require.NoError(t, s.BeginRecording())
	require.NoError(t, s.EndRecording())
	s.Wait()

	assert.Equal(t, Idle, s.State())
	assert.ErrorIs(t, s.LastError(), scribe.ErrTranscriptionFailed)
	assert.Empty(t, s.Document())
	_, ok := s.Result()
	assert.False(t, ok)
	assert.Zero(t, s.Duration(), "buffers cleared")

	snap := s.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Contains(t, snap.Error, "backend crashed")
	assert.Nil(t, snap.Stats)

	// A fresh recording clears the error.
	require.NoError(t, s.BeginRecording())
	assert.NoError(t, s.LastError())
}

func TestSessionNoAudio(t *testing.T) {
	rec := newFakeRecorder()
	rec.exportErr = audio.ErrNoAudioCaptured
	tr := &fakeTranscriber{result: testResult}
	s := newTestSession(rec, tr)

	require.NoError(t, s.BeginRecording())
	require.NoError(t, s.EndRecording())
	s.Wait()

	assert.Equal(t, Idle, s.State())
	assert.ErrorIs(t, s.LastError(), audio.ErrNoAudioCaptured)
	assert.Zero(t, tr.calls)
}

func TestSessionCaptureInterrupted(t *testing.T) {
	rec := newFakeRecorder()
	s := newTestSession(rec, &fakeTranscriber{result: testResult})

	updates := make(chan Snapshot, 8)
	s.Subscribe(func(snap Snapshot) { updates <- snap })

	require.NoError(t, s.BeginRecording())
	<-updates

	rec.fail(errors.New("device unplugged"))

	select {
	case snap := <-updates:
		assert.Equal(t, Idle, snap.State)
		assert.Contains(t, snap.Error, "device unplugged")
	case <-time.After(2 * time.Second):
		t.Fatal("interruption was not published")
	}

	assert.Equal(t, Idle, s.State())
	assert.ErrorIs(t, s.LastError(), audio.ErrCaptureInterrupted)
	assert.ErrorIs(t, s.EndRecording(), audio.ErrNotRecording)

	require.NoError(t, s.BeginRecording(), "a new recording can follow an interruption")
}

func TestSessionAbort(t *testing.T) {
	rec := newFakeRecorder()
	tr := &fakeTranscriber{result: testResult}
	s := newTestSession(rec, tr)

	updates := make(chan Snapshot, 8)
	s.Subscribe(func(snap Snapshot) { updates <- snap })

	assert.ErrorIs(t, s.Abort(), audio.ErrNotRecording)

	require.NoError(t, s.BeginRecording())
	<-updates

	require.NoError(t, s.Abort())
	snap := <-updates
	assert.Equal(t, Idle, snap.State)
	assert.Empty(t, snap.Error)

	assert.False(t, rec.IsActive())
	assert.Equal(t, 1, rec.cleared)
	assert.NoError(t, s.LastError(), "an abort is not reported as an interruption")

	select {
	case extra := <-updates:
		t.Fatalf("unexpected snapshot after abort: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}

	s.Wait()
	tr.mu.Lock()
	assert.Zero(t, tr.calls, "aborted audio is never transcribed")
	tr.mu.Unlock()
}

func TestSessionStartFailure(t *testing.T) {
	rec := newFakeRecorder()
	rec.startErr = errors.New("no input device")
	s := newTestSession(rec, &fakeTranscriber{})

	err := s.BeginRecording()
	assert.ErrorContains(t, err, "no input device")
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, err, s.LastError())
}

func TestSessionSetTitle(t *testing.T) {
	s := newTestSession(newFakeRecorder(), &fakeTranscriber{result: testResult})
	assert.Equal(t, minutes.DefaultTitle, s.Title())

	s.SetTitle("  ")
	assert.Equal(t, minutes.DefaultTitle, s.Title())

	complete(t, s)
	s.SetTitle("Weekly Sync")

	assert.Equal(t, "Weekly Sync", s.Title())
	assert.Equal(t, minutes.Format(testResult, "Weekly Sync", testTime), s.Document())
}

func TestSessionExport(t *testing.T) {
	s := newTestSession(newFakeRecorder(), &fakeTranscriber{result: testResult})
	dir := t.TempDir()

	_, err := s.Export(dir)
	assert.ErrorIs(t, err, ErrInvalidState)

	complete(t, s)

	path, err := s.Export(filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out", "meeting_minutes_20240307_090530.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, s.Document(), string(data))

	explicit := filepath.Join(dir, "named.md")
	path, err = s.Export(explicit)
	require.NoError(t, err)
	assert.Equal(t, explicit, path)
	assert.FileExists(t, explicit)
}

func TestSessionSubscribeCancel(t *testing.T) {
	s := newTestSession(newFakeRecorder(), &fakeTranscriber{result: testResult})

	var count int
	cancel := s.Subscribe(func(Snapshot) { count++ })
	s.SetTitle("one")
	cancel()
	cancel()
	s.SetTitle("two")

	assert.Equal(t, 1, count)
}

func TestSnapshotJSON(t *testing.T) {
	s := newTestSession(newFakeRecorder(), &fakeTranscriber{result: testResult})
	complete(t, s)

	data, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "completed", decoded["state"])
	assert.Equal(t, s.ID(), decoded["id"])
	assert.NotContains(t, decoded, "error")
	assert.Contains(t, decoded, "stats")

	var state State
	require.NoError(t, state.UnmarshalText([]byte("processing")))
	assert.Equal(t, Processing, state)
	assert.Error(t, state.UnmarshalText([]byte("failed")))
}

func TestSessionContextCancelFailsPipeline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := &fakeTranscriber{result: testResult, gate: make(chan struct{})}
	s := newTestSession(newFakeRecorder(), tr, WithContext(ctx))

	require.NoError(t, s.BeginRecording())
	require.NoError(t, s.EndRecording())
	cancel()
	s.Wait()

	assert.Equal(t, Idle, s.State())
	assert.ErrorIs(t, s.LastError(), context.Canceled)
}
