package scribe

import "errors"

var (
	ErrInvalidAudio         = errors.New("invalid audio")
	ErrTranscriptionFailed  = errors.New("transcription failed")
	ErrModelLoadFailed      = errors.New("model load failed")
	ErrUnsupportedModelSize = errors.New("unsupported model size")
)
