package ogc

import (
	"net/url"
	"testing"
)

func TestAroundPoint_CentersClickInVirtualImage(t *testing.T) {
	q := AroundPoint(1000, 2000, 2, GetFeatureInfo{CRS: "EPSG:3857"})
	if q.Width != FeatureInfoPixels || q.Height != FeatureInfoPixels {
		t.Fatalf("size=%dx%d", q.Width, q.Height)
	}
	want := BBox{MinX: 899, MinY: 1899, MaxX: 1101, MaxY: 2101}
	if q.BBox != want {
		t.Fatalf("bbox=%+v want %+v", q.BBox, want)
	}
	if q.I != 50 || q.J != 50 {
		t.Fatalf("pixel=(%d,%d) want (50,50)", q.I, q.J)
	}
}

func TestBuildGetFeatureInfoParams_WMS13(t *testing.T) {
	q := AroundPoint(0, 0, 1, GetFeatureInfo{
		Version:      "1.3.0",
		Layers:       "museum",
		Format:       "image/png",
		Transparent:  true,
		InfoFormat:   "geojson",
		FeatureCount: 10,
		CRS:          "EPSG:3857",
	})
	p := BuildGetFeatureInfoParams(q)

	checks := map[string]string{
		"SERVICE":       "WMS",
		"REQUEST":       "GetFeatureInfo",
		"VERSION":       "1.3.0",
		"QUERY_LAYERS":  "museum",
		"LAYERS":        "museum",
		"INFO_FORMAT":   "geojson",
		"FEATURE_COUNT": "10",
		"TRANSPARENT":   "TRUE",
		"CRS":           "EPSG:3857",
		"I":             "50",
		"J":             "50",
		"BBOX":          "-50.5,-50.5,50.5,50.5",
	}
	for k, want := range checks {
		if got := p.Get(k); got != want {
			t.Fatalf("%s=%q want %q", k, got, want)
		}
	}
	if p.Has("SRS") || p.Has("X") {
		t.Fatalf("1.1.1 params leaked into 1.3.0 request: %v", p)
	}
}

func TestBuildGetFeatureInfoParams_WMS111UsesSRSAndXY(t *testing.T) {
	q := AroundPoint(0, 0, 1, GetFeatureInfo{Version: "1.1.1", Layers: "park", CRS: "EPSG:3857"})
	p := BuildGetFeatureInfoParams(q)
	if p.Get("SRS") != "EPSG:3857" || p.Get("X") != "50" || p.Get("Y") != "50" {
		t.Fatalf("unexpected 1.1.1 params: %v", p)
	}
	if p.Has("CRS") || p.Has("I") {
		t.Fatalf("1.3.0 params leaked into 1.1.1 request: %v", p)
	}
}

func TestBBoxString_SwapsGeographicAxesFor13(t *testing.T) {
	b := BBox{MinX: 60, MinY: 56, MaxX: 61, MaxY: 57}
	if got := b.String("1.3.0", "EPSG:4326"); got != "56,60,57,61" {
		t.Fatalf("got %q", got)
	}
	if got := b.String("1.1.1", "EPSG:4326"); got != "60,56,61,57" {
		t.Fatalf("got %q", got)
	}
}

func TestFeatureInfoURL_KeepsBaseQuery(t *testing.T) {
	raw, err := FeatureInfoURL("http://localhost:8080/mapserver?map=/etc/mapserver/geoportal.map",
		AroundPoint(0, 0, 1, GetFeatureInfo{Layers: "boundary", CRS: "EPSG:3857"}))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Path != "/mapserver" {
		t.Fatalf("path=%q", u.Path)
	}
	if u.Query().Get("map") != "/etc/mapserver/geoportal.map" {
		t.Fatalf("lost base query: %s", raw)
	}
	if u.Query().Get("REQUEST") != "GetFeatureInfo" {
		t.Fatalf("missing request: %s", raw)
	}
}

func TestFeatureInfoURL_RejectsRelative(t *testing.T) {
	if _, err := FeatureInfoURL("/mapserver", GetFeatureInfo{}); err == nil {
		t.Fatal("expected error for relative url")
	}
}
