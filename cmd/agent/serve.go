package main

import (
	"os/signal"
	"syscall"

	"search-agent/internal/infrastructure/httpapi"

	"github.com/spf13/cobra"
)

func newServeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			container, err := newContainer(ctx, cmd, opts, nil)
			if err != nil {
				return err
			}
			defer container.Close()

			cfg := httpapi.DefaultConfig()
			cfg.Addr = opts.addr
			if opts.verbose {
				cfg.LogLevel = "debug"
			}
			return httpapi.NewServer(container.Agent, cfg, container.Logger).ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", ":8080", "listen address")
	return cmd
}
