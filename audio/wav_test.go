package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWAVHeader(t *testing.T) {
	samples := make([]float32, 441)
	data, err := EncodeWAV(samples, DefaultSampleRate)
	require.NoError(t, err)

	require.Len(t, data, 44+len(samples)*2)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, "fmt ", string(data[12:16]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[20:22]), "PCM")
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[22:24]), "mono")
	assert.Equal(t, uint32(DefaultSampleRate), binary.LittleEndian.Uint32(data[24:28]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(data[34:36]))
	assert.Equal(t, "data", string(data[36:40]))
	assert.Equal(t, uint32(len(samples)*2), binary.LittleEndian.Uint32(data[40:44]))
}

func TestEncodeWAVClampsSamples(t *testing.T) {
	data, err := EncodeWAV([]float32{2, -2, 0.5}, 8000)
	require.NoError(t, err)

	pcm := data[44:]
	assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(pcm[0:2])))
	assert.Equal(t, int16(-32767), int16(binary.LittleEndian.Uint16(pcm[2:4])))
	assert.Equal(t, int16(16383), int16(binary.LittleEndian.Uint16(pcm[4:6])))
}

func TestEncodeWAVInvalidRate(t *testing.T) {
	_, err := EncodeWAV([]float32{0}, 0)
	assert.Error(t, err)
}

func TestDecodeWAV(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 0.25}
	data, err := EncodeWAV(in, 16000)
	require.NoError(t, err)

	clip, err := DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, 16000, clip.SampleRate)
	require.Len(t, clip.Samples, len(in))
	for i := range in {
		assert.InDelta(t, in[i], clip.Samples[i], 1e-3)
	}
	assert.Equal(t, 250*time.Microsecond, clip.Duration())
}

func TestDecodeWAVStereoDownmix(t *testing.T) {
	var buf bytes.Buffer
	writeHeader(&buf, 1, 2, 16, 8000, 4)
	binary.Write(&buf, binary.LittleEndian, []int16{1000, 3000})

	clip, err := DecodeWAV(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, clip.Samples, 1)
	assert.InDelta(t, 2000.0/32768, clip.Samples[0], 1e-6)
}

func TestDecodeWAVRejects(t *testing.T) {
	var float32WAV bytes.Buffer
	writeHeader(&float32WAV, 3, 1, 32, 8000, 4)
	binary.Write(&float32WAV, binary.LittleEndian, float32(0.5))

	var empty bytes.Buffer
	writeHeader(&empty, 1, 1, 16, 8000, 0)

	var surround bytes.Buffer
	writeHeader(&surround, 1, 6, 16, 8000, 12)
	surround.Write(make([]byte, 12))

	cases := map[string][]byte{
		"nil":       nil,
		"garbage":   []byte("definitely not a wav file"),
		"float":     float32WAV.Bytes(),
		"no frames": empty.Bytes(),
		"surround":  surround.Bytes(),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeWAV(data)
			assert.ErrorIs(t, err, ErrUnsupportedWAV)
		})
	}
}

func TestResample(t *testing.T) {
	in := make([]float32, 44100)
	for i := range in {
		in[i] = 0.5
	}
	out := Resample(in, 44100, 16000)
	assert.Len(t, out, 16000)
	for _, s := range out {
		require.InDelta(t, 0.5, s, 1e-6)
	}

	same := []float32{1, 2, 3}
	assert.Equal(t, same, Resample(same, 16000, 16000))
	assert.Empty(t, Resample(nil, 44100, 16000))
}

func TestResampleInterpolates(t *testing.T) {
	out := Resample([]float32{0, 1}, 1, 2)
	require.Len(t, out, 4)
	assert.InDelta(t, 0.0, out[0], 1e-6)
	assert.InDelta(t, 0.5, out[1], 1e-6)
	assert.InDelta(t, 1.0, out[2], 1e-6)
}

// writeHeader writes a canonical 44-byte header for dataSize bytes of frames.
func writeHeader(buf *bytes.Buffer, format, channels, bits uint16, rate, dataSize uint32) {
	blockAlign := channels * bits / 8
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVEfmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, format)
	binary.Write(buf, binary.LittleEndian, channels)
	binary.Write(buf, binary.LittleEndian, rate)
	binary.Write(buf, binary.LittleEndian, rate*uint32(blockAlign))
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, bits)
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataSize)
}
