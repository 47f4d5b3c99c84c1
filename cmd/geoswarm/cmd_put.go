package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/geoswarm/internal/core/config"
	"github.com/mohammed-shakir/geoswarm/internal/core/model"
)

func newPutCmd(cfg config.Config, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "put <path>",
		Short: "Store the features of a GeoJSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openNode(cfg, g, "put")
			if err != nil {
				return err
			}
			defer func() { _ = n.Close() }()

			if !n.store.Writable() {
				return model.ErrNotWritable
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read features: %w", err)
			}
			feats, err := model.DecodeFeatures(data)
			if err != nil {
				return err
			}
			for _, f := range feats {
				q, err := n.store.Put(cmd.Context(), f)
				if err != nil {
					return fmt.Errorf("put feature %q: %w", f.ID, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", f.ID, q)
			}
			return nil
		},
	}
}
