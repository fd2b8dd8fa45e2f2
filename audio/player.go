package audio

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog/log"
)

// Play plays a WAV file on the default output device until it ends or ctx is
// cancelled.
func Play(ctx context.Context, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to open audio file: %w", err)
	}
	clip, err := DecodeWAV(data)
	if err != nil {
		return err
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	var (
		pos      int
		finished = make(chan struct{})
		once     sync.Once
	)

	stream, err := portaudio.OpenDefaultStream(
		0,
		channels,
		float64(clip.SampleRate),
		defaultFramesPerBuffer,
		func(out []float32) {
			n := copy(out, clip.Samples[pos:])
			pos += n
			// Fill remaining buffer with silence
			for i := n; i < len(out); i++ {
				out[i] = 0
			}
			if pos >= len(clip.Samples) {
				once.Do(func() { close(finished) })
			}
		},
	)
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	log.Info().
		Str("file", filename).
		Dur("duration", clip.Duration()).
		Int("sample_rate", clip.SampleRate).
		Msg("Playing audio")

	select {
	case <-finished:
	case <-ctx.Done():
	}

	return stream.Stop()
}
