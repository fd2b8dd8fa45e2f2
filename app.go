package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/bosley/recordnote/audio"
	"github.com/bosley/recordnote/config"
	"github.com/bosley/recordnote/observability"
	"github.com/bosley/recordnote/scribe"
	"github.com/bosley/recordnote/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// overrides are command flags that replace config values when set.
type overrides struct {
	title     string
	device    int
	modelSize string
	addr      string
}

func (o *overrides) register(cmd *cobra.Command, names ...string) {
	flags := cmd.Flags()
	for _, name := range names {
		switch name {
		case "title":
			flags.StringVarP(&o.title, "title", "t", "", "Meeting title")
		case "device":
			flags.IntVarP(&o.device, "device", "d", audio.DefaultDevice, "Input device index (see 'recordnote devices')")
		case "model":
			flags.StringVarP(&o.modelSize, "model", "m", "", "Model size: tiny, base, small, medium, large")
		case "addr":
			flags.StringVar(&o.addr, "addr", "", "Listen address")
		}
	}
}

func (o *overrides) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("title") {
		cfg.Title = o.title
	}
	if flags.Changed("device") {
		cfg.Audio.Device = o.device
	}
	if flags.Changed("model") {
		cfg.Transcription.ModelSize = o.modelSize
	}
	if flags.Changed("addr") {
		cfg.Server.Addr = o.addr
	}
}

// loadConfig loads the layered config and applies flag overrides on top.
func loadConfig(opts *rootOptions, cmd *cobra.Command, ov *overrides) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if ov != nil {
		ov.apply(cmd, cfg)
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.pretty {
		cfg.Log.Pretty = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// watchPath is the file watched for live changes.
func (o *rootOptions) watchPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	return config.DefaultPath()
}

// openLogFile installs a logger writing to cfg.File. The terminal belongs to
// the TUI while recording, so logs never go to stdout there.
func openLogFile(cfg config.LogConfig) (io.Closer, error) {
	if cfg.File == "" {
		observability.InitLogger(cfg.Level, false, io.Discard)
		return io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	observability.InitLogger(cfg.Level, cfg.Pretty, f)
	return f, nil
}

func newEngine(cfg config.TranscriptionConfig) scribe.Engine {
	if cfg.Backend == config.BackendDeepgram {
		return scribe.NewDeepgramEngine(cfg.DeepgramAPIKey)
	}
	return scribe.NewWhisperEngine(scribe.WhisperConfig{
		Path:      cfg.WhisperPath,
		ModelsDir: cfg.ModelsDir,
		Threads:   cfg.Threads,
	})
}

func newTranscriber(cfg *config.Config) (*scribe.Service, error) {
	return scribe.New(
		newEngine(cfg.Transcription),
		cfg.ModelSize(),
		scribe.WithTempDir(cfg.Transcription.TempDir),
		scribe.WithLanguage(cfg.Transcription.Language),
	)
}

// app is one wired recording session: microphone, transcriber and state
// machine.
type app struct {
	cfg     *config.Config
	capture *audio.Capture
	scribe  *scribe.Service
	session *session.Session

	cancel context.CancelFunc

	mu    sync.Mutex
	title string // last title taken from config
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	tr, err := newTranscriber(cfg)
	if err != nil {
		return nil, err
	}

	capture := audio.NewCapture(
		audio.OpenPortAudio(cfg.Audio.Device),
		audio.WithSampleRate(cfg.Audio.SampleRate),
		audio.WithFramesPerBuffer(cfg.Audio.FramesPerBuffer),
	)

	ctx, cancel := context.WithCancel(ctx)
	sess := session.New(capture, tr,
		session.WithTitle(cfg.Title),
		session.WithContext(ctx),
	)

	log.Info().
		Str("engine", tr.Info().Engine).
		Str("model_size", string(tr.ModelSize())).
		Int("device", cfg.Audio.Device).
		Int("sample_rate", cfg.Audio.SampleRate).
		Msg("Session ready")

	return &app{
		cfg:     cfg,
		capture: capture,
		scribe:  tr,
		session: sess,
		cancel:  cancel,
		title:   cfg.Title,
	}, nil
}

// applyConfig takes a reloaded config's model size, and its title unless the
// user has already renamed the session.
func (a *app) applyConfig(cfg *config.Config) {
	if err := a.scribe.SetModelSize(cfg.ModelSize()); err != nil {
		log.Warn().Err(err).Msg("Ignoring reloaded model size")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if cfg.Title == a.title {
		return
	}
	if a.session.Title() == session.CleanTitle(a.title) {
		a.session.SetTitle(cfg.Title)
	}
	a.title = cfg.Title
}

// watchConfig applies config file changes until ctx is done.
func (a *app) watchConfig(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if err := config.Watch(ctx, path, a.applyConfig); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Config file not watched")
	}
}

// close aborts a running recording, cancels any transcription and waits for
// the session to settle.
func (a *app) close() {
	if err := a.session.Abort(); err != nil && !errors.Is(err, audio.ErrNotRecording) {
		log.Warn().Err(err).Msg("Failed to abort recording")
	}
	a.cancel()
	a.session.Wait()
	if err := a.scribe.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to release model")
	}
}
