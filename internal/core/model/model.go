// Package model defines core domain types shared across the service.
package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// web mercator latitude limit
const MaxLatitude = 85.05112878

type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
}

// String representation matching the geojson bbox order
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.X1, b.Y1, b.X2, b.Y2)
}

func (b BBox) Validate() error {
	if !(b.X1 >= -180 && b.X1 <= 180 && b.X2 >= -180 && b.X2 <= 180) {
		return errors.New("longitude must be in [-180,180]")
	}
	if !(b.Y1 >= -90 && b.Y1 <= 90 && b.Y2 >= -90 && b.Y2 <= 90) {
		return errors.New("latitude must be in [-90,90]")
	}
	if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
		return errors.New("coordinates must satisfy x2>x1 and y2>y1")
	}
	return nil
}

func (b BBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.X1, b.Y1}, Max: orb.Point{b.X2, b.Y2}}
}

func (b BBox) Contains(p orb.Point) bool {
	return b.Bound().Contains(p)
}

type ZoomRange struct {
	Min int
	Max int
}

type Quadkeys []string

// Feature is the stored record. Quadkey is derived on put.
type Feature struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Geometry   *geojson.Geometry  `json:"geometry"`
	Properties geojson.Properties `json:"properties,omitempty"`
	Quadkey    string             `json:"quadkey,omitempty"`
}

func NewPointFeature(id string, lon, lat float64, props map[string]any) *Feature {
	return &Feature{
		ID:         id,
		Type:       "Feature",
		Geometry:   geojson.NewGeometry(orb.Point{lon, lat}),
		Properties: geojson.Properties(props),
	}
}

// accepts string and numeric ids
func (f *Feature) UnmarshalJSON(data []byte) error {
	type alias Feature
	var tmp struct {
		alias
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*f = Feature(tmp.alias)
	f.ID = ""

	raw := bytes.TrimSpace(tmp.ID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("parse id: %w", err)
		}
		f.ID = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		f.ID = strconv.FormatInt(i, 10)
		return nil
	}
	f.ID = n.String()
	return nil
}

// GeometryType returns the geojson geometry kind, or "" if absent.
func (f *Feature) GeometryType() string {
	if f == nil || f.Geometry == nil {
		return ""
	}
	if f.Geometry.Type != "" {
		return f.Geometry.Type
	}
	if f.Geometry.Coordinates != nil {
		return f.Geometry.Coordinates.GeoJSONType()
	}
	return ""
}

// Point returns the coordinates of a Point feature.
func (f *Feature) Point() (orb.Point, error) {
	if kind := f.GeometryType(); kind != geojson.TypePoint {
		return orb.Point{}, fmt.Errorf("%w: %q", ErrUnsupportedGeometry, kind)
	}
	p, ok := f.Geometry.Coordinates.(orb.Point)
	if !ok {
		return orb.Point{}, fmt.Errorf("%w: point without coordinates", ErrUnsupportedGeometry)
	}
	return p, nil
}

// ThematicType is the value the type index is keyed by: properties.type when
// it is a non-empty string, the record discriminator otherwise.
func (f *Feature) ThematicType() string {
	if f == nil {
		return ""
	}
	if v, ok := f.Properties["type"].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if f.Type == "" {
		return "Feature"
	}
	return f.Type
}

type FeatureCollection struct {
	Type     string     `json:"type"`
	Features []*Feature `json:"features"`
}

// DecodeFeatures accepts a FeatureCollection or a single Feature. Null
// members of a collection are dropped.
func DecodeFeatures(data []byte) ([]*Feature, error) {
	var hdr struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}
	switch hdr.Type {
	case "FeatureCollection":
		var fc FeatureCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse feature collection: %w", err)
		}
		// null members carry nothing to store
		feats := fc.Features[:0]
		for _, f := range fc.Features {
			if f != nil {
				feats = append(feats, f)
			}
		}
		return feats, nil
	case "Feature":
		var f Feature
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse feature: %w", err)
		}
		return []*Feature{&f}, nil
	default:
		return nil, fmt.Errorf("unsupported GeoJSON type: %q", hdr.Type)
	}
}
