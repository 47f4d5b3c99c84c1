package quadkey

import (
	"fmt"
	"slices"

	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/geoswarm/internal/core/model"
)

// BBoxToQuadkey returns the smallest single tile that contains the bbox.
// The corner tiles at MaxZoom are walked up until they meet; with quadkeys
// that is their longest common prefix.
func BBoxToQuadkey(bb model.BBox) (string, error) {
	if err := bb.Validate(); err != nil {
		return "", err
	}
	nw := TileToQuadkey(tileAt(bb.X1, bb.Y2, MaxZoom))
	se := TileToQuadkey(tileAt(bb.X2, bb.Y1, MaxZoom))
	n := 0
	for n < len(nw) && nw[n] == se[n] {
		n++
	}
	return nw[:n], nil
}

// BBoxToQuadkeys covers the bbox with tiles between minZoom and maxZoom.
// Every tile at maxZoom touching the bbox is collected, then complete groups
// of four siblings are replaced by their parent until minZoom is reached.
// The result is sorted and free of duplicates. The tile count grows with
// 4^maxZoom times the bbox area; callers pick zooms accordingly.
func BBoxToQuadkeys(bb model.BBox, minZoom, maxZoom int) (model.Quadkeys, error) {
	if err := bb.Validate(); err != nil {
		return nil, err
	}
	if err := validateZoom(minZoom); err != nil {
		return nil, err
	}
	if err := validateZoom(maxZoom); err != nil {
		return nil, err
	}
	if minZoom > maxZoom {
		return nil, fmt.Errorf("minZoom %d must be <= maxZoom %d", minZoom, maxZoom)
	}

	nw := tileAt(bb.X1, bb.Y2, maxZoom)
	se := tileAt(bb.X2, bb.Y1, maxZoom)

	level := make(map[maptile.Tile]struct{}, int(se.X-nw.X+1)*int(se.Y-nw.Y+1))
	for x := nw.X; x <= se.X; x++ {
		for y := nw.Y; y <= se.Y; y++ {
			level[maptile.New(x, y, maptile.Zoom(maxZoom))] = struct{}{}
		}
	}

	var out model.Quadkeys
	for z := maxZoom; z > minZoom; z-- {
		children := make(map[maptile.Tile]int, len(level)/4+1)
		for t := range level {
			children[t.Parent()]++
		}
		next := make(map[maptile.Tile]struct{}, len(children))
		for t := range level {
			if children[t.Parent()] == 4 {
				next[t.Parent()] = struct{}{}
				continue
			}
			out = append(out, TileToQuadkey(t))
		}
		level = next
	}
	for t := range level {
		out = append(out, TileToQuadkey(t))
	}

	slices.Sort(out)
	return slices.Compact(out), nil
}

// Mapper adapts the codec to mapper.Interface.
type Mapper struct{}

func New() *Mapper { return &Mapper{} }

func (m *Mapper) CellForPoint(lon, lat float64, zoom int) (string, error) {
	return PointToQuadkey(lon, lat, zoom)
}

func (m *Mapper) CellsForBBox(bb model.BBox, zr model.ZoomRange) (model.Quadkeys, error) {
	return BBoxToQuadkeys(bb, zr.Min, zr.Max)
}
