package scribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bosley/recordnote/audio"
	"github.com/rs/zerolog/log"
)

const blankAudioMarker = "[BLANK_AUDIO]"

// WhisperConfig locates a whisper.cpp installation.
type WhisperConfig struct {
	// Path to the whisper-cli executable, or a name resolved through PATH
	Path string

	// Directory holding ggml-<size>.bin model files
	ModelsDir string

	// Number of inference threads; 0 lets whisper.cpp decide
	Threads int
}

// WhisperEngine runs the whisper.cpp command line tool.
type WhisperEngine struct {
	config WhisperConfig
}

// NewWhisperEngine creates an engine for the given installation.
func NewWhisperEngine(cfg WhisperConfig) *WhisperEngine {
	return &WhisperEngine{config: cfg}
}

func (e *WhisperEngine) Name() string { return "whisper" }

func (e *WhisperEngine) SampleRate() int { return audio.WhisperSampleRate }

// ModelPath returns the model file for size.
func (e *WhisperEngine) ModelPath(size ModelSize) string {
	return filepath.Join(e.config.ModelsDir, "ggml-"+string(size)+".bin")
}

func (e *WhisperEngine) Check(ctx context.Context, size ModelSize) error {
	_, _, err := e.resolve(size)
	return err
}

func (e *WhisperEngine) resolve(size ModelSize) (bin, model string, err error) {
	bin, err = exec.LookPath(e.config.Path)
	if err != nil {
		return "", "", fmt.Errorf("whisper executable %q: %w", e.config.Path, err)
	}
	model = e.ModelPath(size)
	info, err := os.Stat(model)
	if err != nil {
		return "", "", fmt.Errorf("whisper model: %w", err)
	}
	if info.IsDir() {
		return "", "", fmt.Errorf("whisper model %s is a directory", model)
	}
	return bin, model, nil
}

// Load resolves the executable and model file. whisper.cpp reads the model
// itself on every run.
func (e *WhisperEngine) Load(ctx context.Context, size ModelSize) (Model, error) {
	bin, model, err := e.resolve(size)
	if err != nil {
		return nil, err
	}
	return &whisperModel{bin: bin, model: model, threads: e.config.Threads}, nil
}

type whisperModel struct {
	bin     string
	model   string
	threads int
}

func (m *whisperModel) Close() error { return nil }

func (m *whisperModel) Transcribe(ctx context.Context, path, language string) (Result, error) {
	prefix := strings.TrimSuffix(path, filepath.Ext(path))
	jsonPath := prefix + ".json"
	defer os.Remove(jsonPath)

	args := []string{
		"-m", m.model,
		"-f", path,
		"-l", language,
		"-oj",
		"-of", prefix,
		"-np",
	}
	if m.threads > 0 {
		args = append(args, "-t", strconv.Itoa(m.threads))
	}

	cmd := exec.CommandContext(ctx, m.bin, args...)

	log.Debug().
		Str("command", cmd.String()).
		Msg("Executing whisper command")

	if _, err := cmd.Output(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.Debug().
				Str("stderr", string(exitErr.Stderr)).
				Int("exit_code", exitErr.ExitCode()).
				Msg("Whisper command failed")
			if msg := lastLine(string(exitErr.Stderr)); msg != "" {
				return Result{}, fmt.Errorf("whisper execution failed: %w: %s", err, msg)
			}
		}
		return Result{}, fmt.Errorf("whisper execution failed: %w", err)
	}

	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read whisper output: %w", err)
	}
	return parseWhisperJSON(data)
}

type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// parseWhisperJSON reads the -oj output of whisper.cpp. Offsets are in
// milliseconds.
func parseWhisperJSON(data []byte) (Result, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Result{}, fmt.Errorf("failed to parse whisper output: %w", err)
	}

	result := Result{Language: out.Result.Language}
	texts := make([]string, 0, len(out.Transcription))
	for _, item := range out.Transcription {
		text := strings.TrimSpace(strings.ReplaceAll(item.Text, blankAudioMarker, ""))
		if text == "" {
			continue
		}
		result.Segments = append(result.Segments, Segment{
			Start: float64(item.Offsets.From) / 1000,
			End:   float64(item.Offsets.To) / 1000,
			Text:  text,
		})
		texts = append(texts, text)
	}
	result.Text = strings.Join(texts, " ")
	return result, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
