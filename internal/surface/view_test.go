package surface

import (
	"math"
	"net/url"
	"testing"

	"github.com/paulmach/orb"
)

const testWMS = "http://mapserver.test/mapserver?map=/etc/mapserver/geoportal.map"

func TestView_ClickDeliversInSubscriptionOrder(t *testing.T) {
	v := NewView(testWMS)
	var order []int
	s1 := v.OnClick(func(ClickEvent) { order = append(order, 1) })
	v.OnClick(func(ClickEvent) { order = append(order, 2) })

	n, err := v.Click(orb.Point{1, 2})
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order=%v", order)
	}

	v.OffClick(s1)
	order = nil
	if n, _ := v.Click(orb.Point{}); n != 1 || order[0] != 2 {
		t.Fatalf("after OffClick n=%d order=%v", n, order)
	}
}

func TestView_ResolutionFollowsZoom(t *testing.T) {
	v := NewView(testWMS)
	v.SetZoom(0)
	if got := v.Resolution(); got != maxResolution {
		t.Fatalf("z0 resolution=%v", got)
	}
	v.SetZoom(13)
	if got, want := v.Resolution(), maxResolution/8192; math.Abs(got-want) > 1e-9 {
		t.Fatalf("z13 resolution=%v want %v", got, want)
	}
	v.SetZoom(99)
	if v.Zoom() != MaxZoom {
		t.Fatalf("zoom not clamped: %v", v.Zoom())
	}
	v.SetZoom(-3)
	if v.Zoom() != MinZoom {
		t.Fatalf("zoom not clamped: %v", v.Zoom())
	}
}

func TestView_DestroyDetachesEverything(t *testing.T) {
	v := NewView(testWMS)
	v.OnClick(func(ClickEvent) { t.Fatal("handler must not run after Destroy") })
	v.AddLayer(LayerSpec{Layers: "boundary"})
	v.SetCursor(CursorCrosshair)

	v.Destroy()
	v.Destroy()

	if !v.Destroyed() || v.LayerCount() != 0 || v.Cursor() != CursorDefault {
		t.Fatalf("destroyed=%v layers=%d cursor=%q", v.Destroyed(), v.LayerCount(), v.Cursor())
	}
	if _, err := v.Click(orb.Point{}); err != ErrDestroyed {
		t.Fatalf("err=%v want ErrDestroyed", err)
	}
}

func TestLayer_FeatureInfoURL(t *testing.T) {
	v := NewView(testWMS)
	l := v.AddLayer(LayerSpec{
		Layers: "museum", Format: "image/png", Transparent: true, Version: "1.3.0", Visible: false,
	})
	if l.Visible() {
		t.Fatal("initial visibility not preserved")
	}
	l.SetVisible(true)
	if !l.Visible() {
		t.Fatal("SetVisible not applied")
	}

	raw, err := l.FeatureInfoURL(orb.Point{6746000, 7720000}, 19.109, v.Projection(),
		Options{InfoFormat: "geojson", QueryLayers: "museum", FeatureCount: 10})
	if err != nil {
		t.Fatalf("FeatureInfoURL: %v", err)
	}
	u, _ := url.Parse(raw)
	q := u.Query()
	if q.Get("QUERY_LAYERS") != "museum" || q.Get("FEATURE_COUNT") != "10" || q.Get("CRS") != "EPSG:3857" {
		t.Fatalf("unexpected query: %s", raw)
	}
	if q.Get("map") == "" {
		t.Fatalf("base query dropped: %s", raw)
	}

	if _, err := l.FeatureInfoURL(orb.Point{}, 0, v.Projection(), Options{}); err == nil {
		t.Fatal("expected error for zero resolution")
	}
}
