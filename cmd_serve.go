package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bosley/recordnote/observability"
	"github.com/bosley/recordnote/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	ov := &overrides{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the recorder to a browser",
		Long:  "Serves the recorder page, a JSON API and a WebSocket state feed. TLS is used when server.cert_file and server.key_file are set.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, cmd, ov)
			if err != nil {
				return err
			}
			observability.InitLogger(cfg.Log.Level, cfg.Log.Pretty, os.Stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			watchCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			go a.watchConfig(watchCtx, opts.watchPath())

			srv := server.New(a.session, a.scribe, cfg.Server, version)
			if err := srv.Launch(ctx, cfg.Server); err != nil {
				log.Error().Err(err).Msg("Server stopped")
				return err
			}
			return nil
		},
	}

	ov.register(cmd, "title", "device", "model", "addr")
	return cmd
}
