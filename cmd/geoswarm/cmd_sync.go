package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/geoswarm/internal/core/config"
)

func newSyncCmd(cfg config.Config, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Print the log key and replicate with peers until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := openNode(cfg, g, "sync")
			if err != nil {
				return err
			}
			defer func() { _ = n.Close() }()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "key", n.log.KeyHex())
			fmt.Fprintf(out, "geoswarm sync --key %s\n", n.log.KeyHex())

			ctx := cmd.Context()
			if err := n.startDiscovery(ctx, g.connect); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	}
}
