package query

import (
	"fmt"
	"strings"

	"github.com/mohammed-shakir/geoswarm/internal/core/model"
	"github.com/mohammed-shakir/geoswarm/internal/mapper/quadkey"
)

type Kind int

const (
	KindNone Kind = iota
	KindQuadkey
	KindBBox
	KindType
)

func (k Kind) String() string {
	switch k {
	case KindQuadkey:
		return "quadkey"
	case KindBBox:
		return "bbox"
	case KindType:
		return "type"
	default:
		return "none"
	}
}

// Selector names exactly one way of picking features. The zero value selects
// nothing and is rejected by the engine.
type Selector struct {
	kind    Kind
	quadkey string
	bbox    model.BBox
	zoom    model.ZoomRange
	typ     string
}

func ByQuadkey(q string) Selector { return Selector{kind: KindQuadkey, quadkey: q} }

func ByBBox(bb model.BBox, zr model.ZoomRange) Selector {
	return Selector{kind: KindBBox, bbox: bb, zoom: zr}
}

// ByType matches the thematic type, which is stored without surrounding space.
func ByType(t string) Selector { return Selector{kind: KindType, typ: strings.TrimSpace(t)} }

func (s Selector) Kind() Kind { return s.kind }

func (s Selector) String() string {
	switch s.kind {
	case KindQuadkey:
		return "quadkey=" + s.quadkey
	case KindBBox:
		return fmt.Sprintf("bbox=%s zoom=%d..%d", s.bbox, s.zoom.Min, s.zoom.Max)
	case KindType:
		return "type=" + s.typ
	default:
		return "none"
	}
}

func (s Selector) Validate() error {
	switch s.kind {
	case KindQuadkey:
		if err := quadkey.Validate(s.quadkey); err != nil {
			return fmt.Errorf("%w: %v", model.ErrInvalidQuery, err)
		}
	case KindBBox:
		if err := s.bbox.Validate(); err != nil {
			return fmt.Errorf("%w: %v", model.ErrInvalidQuery, err)
		}
		if s.zoom.Min < 0 || s.zoom.Max > quadkey.MaxZoom || s.zoom.Min > s.zoom.Max {
			return fmt.Errorf("%w: zoom range %d..%d outside 0..%d", model.ErrInvalidQuery, s.zoom.Min, s.zoom.Max, quadkey.MaxZoom)
		}
	case KindType:
		if strings.TrimSpace(s.typ) == "" {
			return fmt.Errorf("%w: empty type", model.ErrInvalidQuery)
		}
	default:
		return fmt.Errorf("%w: no selector", model.ErrInvalidQuery)
	}
	return nil
}

// Params is the loosely typed form of a query as it arrives from a CLI or
// HTTP request. Nil fields are absent.
type Params struct {
	Quadkey *string
	BBox    *model.BBox
	Type    *string
	Zoom    model.ZoomRange
}

// ParseSelector requires exactly one of Quadkey, BBox or Type.
func ParseSelector(p Params) (Selector, error) {
	var set []string
	var sel Selector
	if p.Quadkey != nil {
		set = append(set, "quadkey")
		sel = ByQuadkey(strings.TrimSpace(*p.Quadkey))
	}
	if p.BBox != nil {
		set = append(set, "bbox")
		sel = ByBBox(*p.BBox, p.Zoom)
	}
	if p.Type != nil {
		set = append(set, "type")
		sel = ByType(*p.Type)
	}
	switch len(set) {
	case 0:
		return Selector{}, fmt.Errorf("%w: one of quadkey, bbox or type is required", model.ErrInvalidQuery)
	case 1:
	default:
		return Selector{}, fmt.Errorf("%w: only one selector allowed, got %s", model.ErrInvalidQuery, strings.Join(set, ", "))
	}
	if err := sel.Validate(); err != nil {
		return Selector{}, err
	}
	return sel, nil
}
