package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/bosley/recordnote/session"
	"github.com/bosley/recordnote/tui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRecordCmd(opts *rootOptions) *cobra.Command {
	ov := &overrides{}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a meeting in the terminal",
		Long:  "Opens the terminal recorder. Space starts and stops recording, s saves the minutes, q quits.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, cmd, ov)
			if err != nil {
				return err
			}
			logFile, err := openLogFile(cfg.Log)
			if err != nil {
				return err
			}
			defer logFile.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			return runRecord(ctx, a, opts.watchPath())
		},
	}

	ov.register(cmd, "title", "device", "model")
	return cmd
}

func runRecord(ctx context.Context, a *app, watchPath string) error {
	p := tea.NewProgram(
		tui.New(a.session, a.scribe, a.capture, a.cfg.OutputDir),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	unsubscribe := a.session.Subscribe(func(snap session.Snapshot) {
		p.Send(tui.SnapshotMsg{Snapshot: snap})
	})
	defer unsubscribe()

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.watchConfig(watchCtx, watchPath)

	log.Info().Str("output_dir", a.cfg.OutputDir).Msg("Recorder started")

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	log.Info().Str("state", a.session.State().String()).Msg("Recorder closed")
	return nil
}
