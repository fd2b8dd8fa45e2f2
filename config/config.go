// Package config loads recordnote settings from defaults, a TOML file, a
// .env file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bosley/recordnote/audio"
	"github.com/bosley/recordnote/scribe"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// EnvPrefix prefixes every environment override, e.g.
// RECORDNOTE_TRANSCRIPTION_MODEL_SIZE.
const EnvPrefix = "RECORDNOTE"

const appName = "recordnote"

const (
	BackendWhisper  = "whisper"
	BackendDeepgram = "deepgram"
)

type Config struct {
	Title         string              `toml:"title"`
	OutputDir     string              `toml:"output_dir" split_words:"true" validate:"required"`
	Audio         AudioConfig         `toml:"audio"`
	Transcription TranscriptionConfig `toml:"transcription"`
	Server        ServerConfig        `toml:"server"`
	Log           LogConfig           `toml:"log"`
}

type AudioConfig struct {
	// Device is a PortAudio device index, -1 for the default input.
	Device          int `toml:"device" validate:"gte=-1"`
	SampleRate      int `toml:"sample_rate" split_words:"true" validate:"oneof=16000 22050 44100 48000"`
	FramesPerBuffer int `toml:"frames_per_buffer" split_words:"true" validate:"gt=0,lte=16384"`
}

type TranscriptionConfig struct {
	Backend   string `toml:"backend" validate:"oneof=whisper deepgram"`
	ModelSize string `toml:"model_size" split_words:"true" validate:"model_size"`
	Language  string `toml:"language" validate:"required"`
	TempDir   string `toml:"temp_dir" split_words:"true"`

	WhisperPath string `toml:"whisper_path" split_words:"true" validate:"required_if=Backend whisper"`
	ModelsDir   string `toml:"models_dir" split_words:"true" validate:"required_if=Backend whisper"`
	Threads     int    `toml:"threads" validate:"gte=0"`

	// DeepgramAPIKey also reads the unprefixed DEEPGRAM_API_KEY.
	DeepgramAPIKey string `toml:"deepgram_api_key" envconfig:"DEEPGRAM_API_KEY" validate:"required_if=Backend deepgram"`
}

type ServerConfig struct {
	Addr           string   `toml:"addr" validate:"required"`
	CertFile       string   `toml:"cert_file" split_words:"true" validate:"required_with=KeyFile"`
	KeyFile        string   `toml:"key_file" split_words:"true" validate:"required_with=CertFile"`
	AllowedOrigins []string `toml:"allowed_origins" split_words:"true"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Pretty bool   `toml:"pretty"`
	File   string `toml:"file"`
}

// TLS reports whether the server should listen with TLS.
func (s ServerConfig) TLS() bool {
	return s.CertFile != "" && s.KeyFile != ""
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		OutputDir: defaultOutputDir(),
		Audio: AudioConfig{
			Device:          audio.DefaultDevice,
			SampleRate:      audio.DefaultSampleRate,
			FramesPerBuffer: 1024,
		},
		Transcription: TranscriptionConfig{
			Backend:     BackendWhisper,
			ModelSize:   string(scribe.DefaultModelSize),
			Language:    scribe.Language,
			WhisperPath: "whisper-cli",
			ModelsDir:   filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), appName, "models"),
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join(xdgDir("XDG_STATE_HOME", ".local", "state"), appName, appName+".log"),
		},
	}
}

// Load reads path (DefaultPath when empty) over the defaults, then applies
// .env and environment overrides and validates the result. A missing file is
// not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}
	if path != "" {
		meta, err := toml.DecodeFile(path, cfg)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			log.Debug().Str("path", path).Msg("No config file, using defaults")
		case err != nil:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			for _, key := range meta.Undecoded() {
				log.Warn().Str("key", key.String()).Str("path", path).Msg("Unknown config key")
			}
		}
	}

	// Ignore error if .env doesn't exist; it never overrides set variables
	_ = godotenv.Load()

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	cfg.OutputDir = expandTilde(cfg.OutputDir)
	cfg.Log.File = expandTilde(cfg.Log.File)
	cfg.Transcription.ModelsDir = expandTilde(cfg.Transcription.ModelsDir)
	cfg.Transcription.ModelSize = strings.ToLower(strings.TrimSpace(cfg.Transcription.ModelSize))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ModelSize returns the configured transcription model size.
func (c *Config) ModelSize() scribe.ModelSize {
	size, err := scribe.ParseModelSize(c.Transcription.ModelSize)
	if err != nil {
		return scribe.DefaultModelSize
	}
	return size
}

// DefaultPath returns $XDG_CONFIG_HOME/recordnote/config.toml, or "" when no
// home directory is known.
func DefaultPath() string {
	dir := xdgDir("XDG_CONFIG_HOME", ".config")
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, appName, "config.toml")
}

func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(append([]string{home}, fallback...)...)
}

func defaultOutputDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "meetings")
	}
	return filepath.Join(".", "meetings")
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
