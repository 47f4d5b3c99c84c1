package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/geoswarm/internal/core/config"
	"github.com/mohammed-shakir/geoswarm/internal/geostore"
)

func newListCmd(cfg config.Config, g *globalFlags) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print every feature, then new ones as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := openNode(cfg, g, "list")
			if err != nil {
				return err
			}
			defer func() { _ = n.Close() }()

			ctx := cmd.Context()
			if !n.log.Writable() && !offline {
				if err := n.startDiscovery(ctx, g.connect); err != nil {
					return err
				}
			}

			r := geostore.NamespaceRange(geostore.FeaturesNS)
			r.Live = !offline
			enc := json.NewEncoder(cmd.OutOrStdout())
			for rec, err := range n.store.Scan(ctx, r) {
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				if err := enc.Encode(rec.Feature); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "print the local snapshot and exit")
	return cmd
}
