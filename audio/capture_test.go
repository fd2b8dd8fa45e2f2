package audio

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	frames    int
	value     float32
	failAfter int // 0 never fails
	reads     atomic.Int32
	closed    atomic.Bool
}

func (f *fakeSource) Read() ([]float32, error) {
	n := int(f.reads.Add(1))
	if f.failAfter > 0 && n > f.failAfter {
		return nil, errors.New("device unplugged")
	}
	time.Sleep(time.Millisecond)
	buf := make([]float32, f.frames)
	for i := range buf {
		buf[i] = f.value
	}
	return buf, nil
}

func (f *fakeSource) Close() error {
	f.closed.Store(true)
	return nil
}

type fakeOpener struct {
	mu      sync.Mutex
	sources []*fakeSource
	value   float32
	fail    int
	err     error
}

func (o *fakeOpener) open(sampleRate, frames int) (Source, error) {
	if o.err != nil {
		return nil, o.err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	src := &fakeSource{frames: frames, value: o.value, failAfter: o.fail}
	o.sources = append(o.sources, src)
	return src, nil
}

func (o *fakeOpener) last() *fakeSource {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sources[len(o.sources)-1]
}

func newTestCapture(o *fakeOpener) *Capture {
	return NewCapture(o.open, WithSampleRate(1000), WithFramesPerBuffer(100))
}

func waitForSamples(t *testing.T, c *Capture, min float64) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Duration() >= min }, 2*time.Second, 2*time.Millisecond)
}

func TestCaptureStartStop(t *testing.T) {
	opener := &fakeOpener{value: 0.5}
	c := newTestCapture(opener)

	assert.False(t, c.IsActive())
	assert.Zero(t, c.Duration())

	require.NoError(t, c.Start())
	assert.True(t, c.IsActive())
	waitForSamples(t, c, 0.3)

	require.NoError(t, c.Stop())
	assert.False(t, c.IsActive())
	assert.True(t, opener.last().closed.Load(), "source should be closed once Stop returns")

	// whole 100-frame reads at 1 kHz
	n := len(c.Samples())
	assert.Greater(t, n, 0)
	assert.Zero(t, n%100)
	assert.InDelta(t, float64(n)/1000, c.Duration(), 1e-9)
}

func TestCaptureStartWhileActive(t *testing.T) {
	c := newTestCapture(&fakeOpener{})
	require.NoError(t, c.Start())
	defer c.Stop()

	assert.ErrorIs(t, c.Start(), ErrAlreadyRecording)
	assert.True(t, c.IsActive())
}

func TestCaptureStopWithoutStart(t *testing.T) {
	c := newTestCapture(&fakeOpener{})
	assert.ErrorIs(t, c.Stop(), ErrNotRecording)

	require.NoError(t, c.Start())
	require.NoError(t, c.Stop())
	assert.ErrorIs(t, c.Stop(), ErrNotRecording)
}

func TestCaptureNoAppendAfterStop(t *testing.T) {
	c := newTestCapture(&fakeOpener{value: 0.1})
	require.NoError(t, c.Start())
	waitForSamples(t, c, 0.2)
	require.NoError(t, c.Stop())

	before := len(c.Samples())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, before, len(c.Samples()))
}

func TestCaptureStartResetsBuffer(t *testing.T) {
	opener := &fakeOpener{value: 0.1}
	c := newTestCapture(opener)
	require.NoError(t, c.Start())
	waitForSamples(t, c, 0.5)
	require.NoError(t, c.Stop())

	opener.value = 0.9
	require.NoError(t, c.Start())
	waitForSamples(t, c, 0.1)
	require.NoError(t, c.Stop())

	for _, s := range c.Samples() {
		require.InDelta(t, 0.9, s, 1e-6)
	}
}

func TestCaptureExportEmpty(t *testing.T) {
	c := newTestCapture(&fakeOpener{})
	_, err := c.ExportContainer()
	assert.ErrorIs(t, err, ErrNoAudioCaptured)
}

func TestCaptureExportContainer(t *testing.T) {
	c := newTestCapture(&fakeOpener{value: 0.25})
	require.NoError(t, c.Start())
	waitForSamples(t, c, 0.2)
	require.NoError(t, c.Stop())

	data, err := c.ExportContainer()
	require.NoError(t, err)

	clip, err := DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, 1000, clip.SampleRate)
	assert.Len(t, clip.Samples, len(c.Samples()))
	assert.InDelta(t, 0.25, clip.Samples[0], 1e-3)
}

func TestCaptureDeviceFailure(t *testing.T) {
	opener := &fakeOpener{value: 0.1, fail: 3}
	c := newTestCapture(opener)
	require.NoError(t, c.Start())

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("capture did not end after device failure")
	}

	assert.False(t, c.IsActive())
	assert.Error(t, c.Err())
	assert.InDelta(t, 0.3, c.Duration(), 1e-9)

	err := c.Stop()
	assert.ErrorIs(t, err, ErrCaptureInterrupted)
	assert.Contains(t, err.Error(), "device unplugged")
	assert.ErrorIs(t, c.Stop(), ErrNotRecording)

	// The audio read before the failure is still exportable
	_, err = c.ExportContainer()
	assert.NoError(t, err)
}

func TestCaptureRestartAfterFailure(t *testing.T) {
	opener := &fakeOpener{fail: 1}
	c := newTestCapture(opener)
	require.NoError(t, c.Start())
	<-c.Done()

	opener.fail = 0
	require.NoError(t, c.Start())
	assert.True(t, c.IsActive())
	assert.NoError(t, c.Err())
	require.NoError(t, c.Stop())
}

func TestCaptureOpenError(t *testing.T) {
	c := newTestCapture(&fakeOpener{err: errors.New("no device")})
	err := c.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no device")
	assert.False(t, c.IsActive())
	assert.ErrorIs(t, c.Stop(), ErrNotRecording)
}

func TestCaptureClear(t *testing.T) {
	c := newTestCapture(&fakeOpener{value: 0.1})
	require.NoError(t, c.Start())
	waitForSamples(t, c, 0.1)
	require.NoError(t, c.Stop())

	c.Clear()
	assert.Zero(t, c.Duration())
	_, err := c.ExportContainer()
	assert.ErrorIs(t, err, ErrNoAudioCaptured)
}
