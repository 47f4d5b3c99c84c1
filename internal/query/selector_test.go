package query

import (
	"errors"
	"testing"

	"github.com/mohammed-shakir/geoswarm/internal/core/model"
)

func ptr[T any](v T) *T { return &v }

func TestParseSelector(t *testing.T) {
	bb := model.BBox{X1: -1, Y1: -1, X2: 1, Y2: 1}
	cases := []struct {
		name    string
		p       Params
		want    Kind
		wantErr bool
	}{
		{name: "none", p: Params{}, wantErr: true},
		{name: "quadkey", p: Params{Quadkey: ptr("0213")}, want: KindQuadkey},
		{name: "type", p: Params{Type: ptr("park")}, want: KindType},
		{name: "bbox", p: Params{BBox: &bb, Zoom: model.ZoomRange{Min: 1, Max: 5}}, want: KindBBox},
		{name: "two selectors", p: Params{Quadkey: ptr("0"), Type: ptr("park")}, wantErr: true},
		{name: "all selectors", p: Params{Quadkey: ptr("0"), Type: ptr("park"), BBox: &bb}, wantErr: true},
		{name: "bad quadkey", p: Params{Quadkey: ptr("9")}, wantErr: true},
		{name: "bad bbox", p: Params{BBox: &model.BBox{X1: 1, Y1: 1, X2: 0, Y2: 2}, Zoom: model.ZoomRange{Min: 1, Max: 2}}, wantErr: true},
		{name: "bad zoom", p: Params{BBox: &bb, Zoom: model.ZoomRange{Min: 3, Max: 31}}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sel, err := ParseSelector(tc.p)
			if tc.wantErr {
				if !errors.Is(err, model.ErrInvalidQuery) {
					t.Fatalf("err=%v want ErrInvalidQuery", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if sel.Kind() != tc.want {
				t.Fatalf("kind=%v want %v", sel.Kind(), tc.want)
			}
		})
	}
}

func TestSelector_String(t *testing.T) {
	if s := ByQuadkey("02").String(); s != "quadkey=02" {
		t.Fatalf("got %q", s)
	}
	if s := (Selector{}).String(); s != "none" {
		t.Fatalf("got %q", s)
	}
}
