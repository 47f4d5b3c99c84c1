package main

import (
	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/geoswarm/internal/core/config"
	"github.com/mohammed-shakir/geoswarm/internal/core/server"
)

func newServeCmd(cfg config.Config, g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API while replicating with peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := openNode(cfg, g, "serve")
			if err != nil {
				return err
			}
			defer func() { _ = n.Close() }()

			ctx := cmd.Context()
			if err := n.startDiscovery(ctx, g.connect); err != nil {
				return err
			}
			n.logger.Info("serving", "key", n.log.KeyHex(), "http", n.cfg.HTTPAddr, "version", Version)
			return server.Run(ctx, n.cfg, n.logger, server.Deps{
				Features: n.store,
				Query:    n.engine,
				Ready:    n,
				Version:  Version,
			})
		},
	}
	cmd.Flags().StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	return cmd
}
