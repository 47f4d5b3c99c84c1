// Package mapper converts between geographic coordinates and hierarchical tile keys.
package mapper

import (
	"github.com/mohammed-shakir/geoswarm/internal/core/model"
)

type Interface interface {
	CellForPoint(lon, lat float64, zoom int) (string, error)
	CellsForBBox(bb model.BBox, zr model.ZoomRange) (model.Quadkeys, error)
}
