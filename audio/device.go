package audio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog/log"
)

// DefaultDevice selects the system default input device.
const DefaultDevice = -1

// Device describes an input-capable audio device.
type Device struct {
	Index             int
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
	Default           bool
}

// ListInputDevices returns every device with at least one input channel.
// Index is the value accepted by OpenPortAudio.
func ListInputDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	var defaultName string
	if def, err := portaudio.DefaultInputDevice(); err == nil {
		defaultName = def.Name
	}

	inputs := make([]Device, 0, len(devices))
	for i, device := range devices {
		if device.MaxInputChannels == 0 {
			continue
		}
		inputs = append(inputs, Device{
			Index:             i,
			Name:              device.Name,
			MaxInputChannels:  device.MaxInputChannels,
			DefaultSampleRate: device.DefaultSampleRate,
			Default:           device.Name == defaultName,
		})
	}
	return inputs, nil
}

type portAudioSource struct {
	stream *portaudio.Stream
	buf    []float32
}

// OpenPortAudio returns a SourceOpener for the device at index, or the system
// default input device for DefaultDevice. Each opened source holds its own
// PortAudio initialisation and releases it on Close.
func OpenPortAudio(index int) SourceOpener {
	return func(sampleRate, framesPerBuffer int) (Source, error) {
		if err := portaudio.Initialize(); err != nil {
			return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
		}

		device, err := inputDevice(index)
		if err != nil {
			portaudio.Terminate()
			return nil, err
		}

		log.Info().
			Int("device", index).
			Str("device_name", device.Name).
			Float64("device_rate", device.DefaultSampleRate).
			Int("sample_rate", sampleRate).
			Msg("Using audio input device")

		buf := make([]float32, framesPerBuffer)
		params := portaudio.StreamParameters{
			Input: portaudio.StreamDeviceParameters{
				Device:   device,
				Channels: channels,
				Latency:  device.DefaultLowInputLatency,
			},
			SampleRate:      float64(sampleRate),
			FramesPerBuffer: framesPerBuffer,
		}

		stream, err := portaudio.OpenStream(params, buf)
		if err != nil {
			portaudio.Terminate()
			return nil, fmt.Errorf("failed to open audio stream: %w", err)
		}
		if err := stream.Start(); err != nil {
			stream.Close()
			portaudio.Terminate()
			return nil, fmt.Errorf("failed to start audio stream: %w", err)
		}

		return &portAudioSource{stream: stream, buf: buf}, nil
	}
}

func inputDevice(index int) (*portaudio.DeviceInfo, error) {
	if index == DefaultDevice {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get audio devices: %w", err)
	}
	if index < 0 || index >= len(devices) {
		return nil, fmt.Errorf("invalid device index %d", index)
	}
	device := devices[index]
	if device.MaxInputChannels == 0 {
		return nil, fmt.Errorf("device %d (%s) is not an input device", index, device.Name)
	}
	return device, nil
}

// Read blocks until a full buffer is available. Input overflow only means
// samples were dropped by the driver and is not fatal.
func (s *portAudioSource) Read() ([]float32, error) {
	if err := s.stream.Read(); err != nil && err != portaudio.InputOverflowed {
		return nil, err
	}
	return s.buf, nil
}

func (s *portAudioSource) Close() error {
	defer portaudio.Terminate()

	stopErr := s.stream.Stop()
	if err := s.stream.Close(); err != nil {
		return err
	}
	return stopErr
}
