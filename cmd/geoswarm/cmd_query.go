package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/geoswarm/internal/core/config"
	"github.com/mohammed-shakir/geoswarm/internal/core/model"
	"github.com/mohammed-shakir/geoswarm/internal/core/router"
	"github.com/mohammed-shakir/geoswarm/internal/query"
)

type queryFlags struct {
	quadkey string
	bbox    string
	typ     string
	minZoom int
	maxZoom int
	limit   int
	live    bool
	unique  bool
}

func (f *queryFlags) params(cmd *cobra.Command) (query.Params, error) {
	p := query.Params{Zoom: model.ZoomRange{Min: f.minZoom, Max: f.maxZoom}}
	if cmd.Flags().Changed("quadkey") {
		p.Quadkey = &f.quadkey
	}
	if cmd.Flags().Changed("type") {
		p.Type = &f.typ
	}
	if cmd.Flags().Changed("bbox") {
		bb, err := router.ParseBBox(f.bbox)
		if err != nil {
			return p, err
		}
		p.BBox = &bb
	}
	return p, nil
}

func newQueryCmd(cfg config.Config, g *globalFlags) *cobra.Command {
	f := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print features matching a quadkey, bounding box or type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := f.params(cmd)
			if err != nil {
				return err
			}
			sel, err := query.ParseSelector(p)
			if err != nil {
				return err
			}

			n, err := openNode(cfg, g, "query")
			if err != nil {
				return err
			}
			defer func() { _ = n.Close() }()

			ctx := cmd.Context()
			if f.live && !n.log.Writable() {
				if err := n.startDiscovery(ctx, g.connect); err != nil {
					return err
				}
			}
			seq, err := n.engine.Query(ctx, sel, query.Options{Live: f.live, Limit: f.limit})
			if err != nil {
				return err
			}
			if f.unique {
				seq = query.Dedupe(seq)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for rec, err := range seq {
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
	fl := cmd.Flags()
	fl.StringVar(&f.quadkey, "quadkey", "", "features under this quadkey prefix")
	fl.StringVar(&f.bbox, "bbox", "", "features inside x1,y1,x2,y2")
	fl.StringVar(&f.typ, "type", "", "features of this thematic type")
	fl.IntVar(&f.minZoom, "min-zoom", cfg.BBoxMinZoom, "coarsest tile level of a bbox cover")
	fl.IntVar(&f.maxZoom, "max-zoom", cfg.BBoxMaxZoom, "finest tile level of a bbox cover")
	fl.IntVar(&f.limit, "limit", 0, "maximum number of results, 0 for all")
	fl.BoolVar(&f.live, "live", false, "keep printing new matches")
	fl.BoolVar(&f.unique, "unique", false, "print each feature once")
	cmd.MarkFlagsMutuallyExclusive("quadkey", "bbox", "type")
	cmd.MarkFlagsOneRequired("quadkey", "bbox", "type")
	return cmd
}
