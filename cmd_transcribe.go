package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bosley/recordnote/minutes"
	"github.com/bosley/recordnote/observability"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newTranscribeCmd(opts *rootOptions) *cobra.Command {
	ov := &overrides{}
	var output string

	cmd := &cobra.Command{
		Use:   "transcribe FILE",
		Short: "Turn an existing WAV recording into minutes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, cmd, ov)
			if err != nil {
				return err
			}
			observability.InitLogger(cfg.Log.Level, cfg.Log.Pretty, os.Stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tr, err := newTranscriber(cfg)
			if err != nil {
				return err
			}
			defer tr.Close()

			start := time.Now()
			result, err := tr.TranscribeFile(ctx, args[0])
			if err != nil {
				return err
			}
			log.Info().
				Str("file", args[0]).
				Int("segments", len(result.Segments)).
				Dur("elapsed", time.Since(start)).
				Msg("Transcribed file")

			now := time.Now()
			target := output
			if target == "" {
				target = filepath.Join(cfg.OutputDir, minutes.DefaultFilename(now))
			}
			if err := minutes.Export(minutes.Format(result, cfg.Title, now), target); err != nil {
				return err
			}
			observability.RecordExport()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Saved %s\n", target)
			for _, line := range minutes.Summarize(result).Lines() {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default <output_dir>/meeting_minutes_<time>.md)")
	ov.register(cmd, "title", "model")
	return cmd
}
