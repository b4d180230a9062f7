package featureinfo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geoportal-viewer/internal/cache"
	"github.com/mohammed-shakir/geoportal-viewer/internal/cache/memstore"
	"github.com/mohammed-shakir/geoportal-viewer/internal/cache/redisstore"
	"github.com/mohammed-shakir/geoportal-viewer/internal/geo"
	"github.com/mohammed-shakir/geoportal-viewer/internal/surface"
)

func TestHTTPFetcher_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); !strings.Contains(got, "application/geo+json") {
			t.Errorf("accept=%q", got)
		}
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write([]byte(museumBody))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), "")
	b, err := f.Fetch(context.Background(), Request{LayerID: "museum", URL: srv.URL + "/wms?REQUEST=GetFeatureInfo"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	recs, err := Parse("museum", b)
	if err != nil || len(recs) != 1 || recs[0].Name != "City Museum" {
		t.Fatalf("recs=%+v err=%v", recs, err)
	}
}

func TestHTTPFetcher_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "msWMSFeatureInfo(): no such layer", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(srv.Client(), "").Fetch(context.Background(), Request{URL: srv.URL})
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("err=%v", err)
	}
}

func TestHTTPFetcher_HonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := NewHTTPFetcher(srv.Client(), "").Fetch(ctx, Request{URL: srv.URL}); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestParse_Properties(t *testing.T) {
	body := `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":null,"properties":{"id":7,"name":"Park","description":"green"}},
		{"type":"Feature","geometry":null,"properties":{}}]}`
	recs, err := Parse("park", []byte(body))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if recs[0].ID != "7" || recs[0].Description != "green" || recs[1] != (Record{Layer: "park"}) {
		t.Fatalf("recs=%+v", recs)
	}
	if _, err := Parse("park", []byte("<html>")); err == nil {
		t.Fatal("expected error for non-JSON body")
	}
	if _, err := Parse("park", []byte(`{"type":"FeatureCollection"}`)); !errors.Is(err, errNoFeatures) {
		t.Fatalf("err=%v want errNoFeatures", err)
	}
	recs, err = Parse("park", []byte(`{"features":[{"type":"Feature","properties":{"id":"1"}}]}`))
	if err != nil || len(recs) != 1 || recs[0].ID != "1" {
		t.Fatalf("recs=%+v err=%v", recs, err)
	}
}

func cachedRequest(layer string) Request {
	p := geo.ToProjected(orb.Point{60.6057, 56.838})
	return Request{
		LayerID: layer,
		URL:     "http://wms.test/" + layer,
		Variant: layer + "|application/geo+json|10",
		Click:   Click{Coordinate: p, Resolution: 19.109, Projection: surface.EPSG3857, Zoom: 13},
	}
}

func TestKey_DependsOnSpotZoomAndLayer(t *testing.T) {
	a := cachedRequest("museum")
	b := cachedRequest("museum")
	if Key(a) == "" || Key(a) != Key(b) {
		t.Fatalf("keys differ for the same click: %q %q", Key(a), Key(b))
	}
	if Key(cachedRequest("park")) == Key(a) {
		t.Fatal("layers must not share a key")
	}

	c := cachedRequest("museum")
	c.Click.Resolution = 9.55
	if Key(c) == Key(a) {
		t.Fatal("zoom change must change the key")
	}

	d := cachedRequest("museum")
	d.Click.Resolution = 0.3
	if Key(d) != "" {
		t.Fatal("deep zoom should not be cached")
	}
}

func TestCachingFetcher_MemoryAndRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rc, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	stores := map[string]cache.Interface{
		"memory": memstore.New(16),
		"redis":  rc,
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			var calls atomic.Int32
			next := FetcherFunc(func(context.Context, Request) ([]byte, error) {
				calls.Add(1)
				return []byte(museumBody), nil
			})
			f := NewCachingFetcher(next, store, time.Minute, time.Second, discard)

			for range 3 {
				b, err := f.Fetch(context.Background(), cachedRequest("museum-"+name))
				if err != nil || string(b) != museumBody {
					t.Fatalf("b=%q err=%v", b, err)
				}
			}
			if calls.Load() != 1 {
				t.Fatalf("upstream calls=%d want 1", calls.Load())
			}
		})
	}
}

func TestCachingFetcher_SkipsInvalidAndErrors(t *testing.T) {
	store := memstore.New(16)
	var calls atomic.Int32
	next := FetcherFunc(func(context.Context, Request) ([]byte, error) {
		calls.Add(1)
		return []byte("<ServiceExceptionReport/>"), nil
	})
	f := NewCachingFetcher(next, store, time.Minute, time.Second, discard)

	_, _ = f.Fetch(context.Background(), cachedRequest("park"))
	_, _ = f.Fetch(context.Background(), cachedRequest("park"))
	if calls.Load() != 2 || store.Len() != 0 {
		t.Fatalf("non-JSON cached: calls=%d len=%d", calls.Load(), store.Len())
	}
}

func TestCachingFetcher_BackendDownFallsThrough(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rc, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	mr.Close()

	next := FetcherFunc(func(context.Context, Request) ([]byte, error) { return []byte(museumBody), nil })
	f := NewCachingFetcher(next, rc, time.Minute, 100*time.Millisecond, discard)
	b, err := f.Fetch(context.Background(), cachedRequest("museum"))
	if err != nil || string(b) != museumBody {
		t.Fatalf("b=%q err=%v", b, err)
	}
}
