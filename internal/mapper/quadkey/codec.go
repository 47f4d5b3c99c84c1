// Package quadkey encodes Web-Mercator tiles as base-4 quadkey strings.
//
// A quadkey of length z names one tile at zoom z. Each digit selects a
// quadrant (x bit + 2*y bit) starting from the most significant level, so
// the quadkey of any tile is a prefix of the quadkeys of all tiles it
// contains. Range scans over a lexicographic store rely on that property.
package quadkey

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/geoswarm/internal/core/model"
)

const (
	DefaultZoom = 24
	MaxZoom     = 30
)

func validateZoom(zoom int) error {
	if zoom < 0 || zoom > MaxZoom {
		return fmt.Errorf("invalid zoom %d (must be 0..%d)", zoom, MaxZoom)
	}
	return nil
}

func clampLat(lat float64) float64 {
	return math.Max(-model.MaxLatitude, math.Min(model.MaxLatitude, lat))
}

// tileAt returns the tile containing (lon, lat) at zoom. Points on the
// east edge and poles fold into the last row/column.
func tileAt(lon, lat float64, zoom int) maptile.Tile {
	n := float64(uint64(1) << uint(zoom))
	sin := math.Sin(clampLat(lat) * math.Pi / 180)
	fx := (lon + 180) / 360 * n
	fy := (0.5 - math.Log((1+sin)/(1-sin))/(4*math.Pi)) * n
	return maptile.New(clampIndex(fx, n), clampIndex(fy, n), maptile.Zoom(zoom))
}

func clampIndex(f, n float64) uint32 {
	f = math.Floor(f)
	if f < 0 || math.IsNaN(f) {
		return 0
	}
	if f > n-1 {
		return uint32(n - 1)
	}
	return uint32(f)
}

// PointToQuadkey returns the quadkey of the tile containing the point.
func PointToQuadkey(lon, lat float64, zoom int) (string, error) {
	if err := validateZoom(zoom); err != nil {
		return "", err
	}
	if math.IsNaN(lon) || math.IsNaN(lat) || lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return "", fmt.Errorf("point (%v, %v) out of range", lon, lat)
	}
	return TileToQuadkey(tileAt(lon, lat, zoom)), nil
}

func TileToQuadkey(t maptile.Tile) string {
	z := int(t.Z)
	var b strings.Builder
	b.Grow(z)
	for i := z; i > 0; i-- {
		digit := byte('0')
		mask := uint32(1) << uint(i-1)
		if t.X&mask != 0 {
			digit++
		}
		if t.Y&mask != 0 {
			digit += 2
		}
		b.WriteByte(digit)
	}
	return b.String()
}

// Validate checks the alphabet and length of a quadkey.
func Validate(q string) error {
	if len(q) > MaxZoom {
		return fmt.Errorf("quadkey %q longer than %d digits", q, MaxZoom)
	}
	for i := 0; i < len(q); i++ {
		if q[i] < '0' || q[i] > '3' {
			return fmt.Errorf("quadkey %q: invalid digit %q at %d", q, q[i], i)
		}
	}
	return nil
}

func QuadkeyToTile(q string) (maptile.Tile, error) {
	if err := Validate(q); err != nil {
		return maptile.Tile{}, err
	}
	var x, y uint32
	for i := 0; i < len(q); i++ {
		d := q[i] - '0'
		x = x<<1 | uint32(d&1)
		y = y<<1 | uint32(d>>1)
	}
	return maptile.New(x, y, maptile.Zoom(len(q))), nil
}
