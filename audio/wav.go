package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/youpy/go-wav"
)

const (
	DefaultSampleRate = 44100 // Rate at which audio is recorded
	WhisperSampleRate = 16000 // Rate required by whisper.cpp
	channels          = 1     // Mono audio
	bitsPerSample     = 16    // Containers carry int16 PCM
)

// ErrUnsupportedWAV is returned by DecodeWAV for containers it cannot read.
var ErrUnsupportedWAV = errors.New("unsupported wav container")

// Clip is decoded mono audio.
type Clip struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playing time of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// EncodeWAV packages mono float samples in [-1, 1] as a 16-bit PCM RIFF/WAVE
// container.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAV(&buf, samples, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAV is EncodeWAV writing to w.
func WriteWAV(w io.Writer, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	writer := wav.NewWriter(w, uint32(len(samples)), channels, uint32(sampleRate), bitsPerSample)

	out := make([]wav.Sample, len(samples))
	for i, s := range samples {
		out[i].Values[0] = int(floatToPCM(s))
	}

	if err := writer.WriteSamples(out); err != nil {
		return fmt.Errorf("failed to write wav samples: %w", err)
	}
	return nil
}

// DecodeWAV reads a 16-bit PCM container with one or two channels. Stereo is
// down-mixed to mono.
func DecodeWAV(data []byte) (Clip, error) {
	if len(data) == 0 {
		return Clip{}, fmt.Errorf("%w: empty input", ErrUnsupportedWAV)
	}

	reader := wav.NewReader(bytes.NewReader(data))

	format, err := reader.Format()
	if err != nil {
		return Clip{}, fmt.Errorf("%w: %w", ErrUnsupportedWAV, err)
	}
	if format.AudioFormat != wav.AudioFormatPCM || format.BitsPerSample != bitsPerSample {
		return Clip{}, fmt.Errorf("%w: format %d with %d bits per sample",
			ErrUnsupportedWAV, format.AudioFormat, format.BitsPerSample)
	}
	if format.NumChannels != 1 && format.NumChannels != 2 {
		return Clip{}, fmt.Errorf("%w: %d channels", ErrUnsupportedWAV, format.NumChannels)
	}
	if format.SampleRate == 0 {
		return Clip{}, fmt.Errorf("%w: zero sample rate", ErrUnsupportedWAV)
	}

	clip := Clip{SampleRate: int(format.SampleRate)}
	for {
		samples, err := reader.ReadSamples(4096)
		for _, s := range samples {
			v := reader.IntValue(s, 0)
			if format.NumChannels == 2 {
				v = (v + reader.IntValue(s, 1)) / 2
			}
			clip.Samples = append(clip.Samples, pcmToFloat(int16(v)))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Clip{}, fmt.Errorf("%w: %w", ErrUnsupportedWAV, err)
		}
		if len(samples) == 0 {
			break
		}
	}

	if len(clip.Samples) == 0 {
		return Clip{}, fmt.Errorf("%w: no samples", ErrUnsupportedWAV)
	}
	return clip, nil
}

func floatToPCM(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(s * 32767)
}

func pcmToFloat(v int16) float32 {
	return float32(v) / 32768
}
