package quadkey

import (
	"fmt"
	"testing"

	"github.com/mohammed-shakir/geoswarm/internal/core/model"
)

func BenchmarkBBoxToQuadkeys(b *testing.B) {
	bb := model.BBox{X1: -130.781250, Y1: 43.068888, X2: -110.390625, Y2: 55.578345}
	for _, maxZoom := range []int{8, 10, 12} {
		b.Run(fmt.Sprintf("z%d", maxZoom), func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				if _, err := BBoxToQuadkeys(bb, 1, maxZoom); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkPointToQuadkey(b *testing.B) {
	for b.Loop() {
		if _, err := PointToQuadkey(-122.89992, 47.04719, DefaultZoom); err != nil {
			b.Fatal(err)
		}
	}
}
