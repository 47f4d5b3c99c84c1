package model

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestFeature_UnmarshalNumericID(t *testing.T) {
	var f Feature
	raw := `{"type":"Feature","id":42,"geometry":{"type":"Point","coordinates":[18.0686,59.3293]},"properties":{"name":"x"}}`
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.ID != "42" {
		t.Fatalf("id=%q want 42", f.ID)
	}
	p, err := f.Point()
	if err != nil {
		t.Fatalf("point: %v", err)
	}
	if p.Lon() != 18.0686 || p.Lat() != 59.3293 {
		t.Fatalf("coords=%v", p)
	}
}

func TestFeature_MissingIDStaysEmpty(t *testing.T) {
	var f Feature
	if err := json.Unmarshal([]byte(`{"type":"Feature","geometry":null}`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.ID != "" {
		t.Fatalf("id=%q want empty", f.ID)
	}
}

func TestFeature_PointRejectsPolygon(t *testing.T) {
	var f Feature
	raw := `{"type":"Feature","id":"p","geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}}`
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, err := f.Point(); !errors.Is(err, ErrUnsupportedGeometry) {
		t.Fatalf("err=%v want ErrUnsupportedGeometry", err)
	}
}

func TestFeature_ThematicType(t *testing.T) {
	f := NewPointFeature("a", 1, 2, map[string]any{"type": "park"})
	if got := f.ThematicType(); got != "park" {
		t.Fatalf("type=%q want park", got)
	}
	g := NewPointFeature("b", 1, 2, nil)
	if got := g.ThematicType(); got != "Feature" {
		t.Fatalf("type=%q want Feature", got)
	}
}

func TestDecodeFeatures_CollectionAndSingle(t *testing.T) {
	fc := `{"type":"FeatureCollection","features":[
		{"type":"Feature","id":"0","geometry":{"type":"Point","coordinates":[1,2]}},
		{"type":"Feature","id":"1","geometry":{"type":"Point","coordinates":[3,4]}}]}`
	fs, err := DecodeFeatures([]byte(fc))
	if err != nil {
		t.Fatalf("decode collection: %v", err)
	}
	if len(fs) != 2 || fs[1].ID != "1" {
		t.Fatalf("unexpected features: %+v", fs)
	}

	fs, err = DecodeFeatures([]byte(`{"type":"Feature","id":"z","geometry":{"type":"Point","coordinates":[0,0]}}`))
	if err != nil {
		t.Fatalf("decode single: %v", err)
	}
	if len(fs) != 1 || fs[0].ID != "z" {
		t.Fatalf("unexpected features: %+v", fs)
	}

	if _, err := DecodeFeatures([]byte(`{"type":"Point","coordinates":[0,0]}`)); err == nil {
		t.Fatal("expected error for bare geometry")
	}
}

func TestDecodeFeatures_DropsNullMembers(t *testing.T) {
	fs, err := DecodeFeatures([]byte(`{"type":"FeatureCollection","features":[null,
		{"type":"Feature","id":"1","geometry":{"type":"Point","coordinates":[3,4]}},null]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fs) != 1 || fs[0] == nil || fs[0].ID != "1" {
		t.Fatalf("unexpected features: %+v", fs)
	}

	fs, err = DecodeFeatures([]byte(`{"type":"FeatureCollection","features":[null]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fs) != 0 {
		t.Fatalf("expected no features, got %+v", fs)
	}
}

func TestBBox_Validate(t *testing.T) {
	if err := (BBox{X1: -130.78, Y1: 43.07, X2: -110.39, Y2: 55.58}).Validate(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := (BBox{X1: 10, Y1: 0, X2: 5, Y2: 1}).Validate(); err == nil {
		t.Fatal("expected error for inverted bbox")
	}
	if err := (BBox{X1: 0, Y1: 0, X2: 190, Y2: 1}).Validate(); err == nil {
		t.Fatal("expected error for longitude out of range")
	}
}
