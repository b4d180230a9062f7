package featureinfo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geoportal-viewer/internal/layers"
	mylog "github.com/mohammed-shakir/geoportal-viewer/internal/logger"
	"github.com/mohammed-shakir/geoportal-viewer/internal/surface"
)

const museumBody = `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":null,"properties":{"id":"42","name":"City Museum"}}]}`

const emptyBody = `{"type":"FeatureCollection","features":[]}`

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type urlStub struct{}

func (urlStub) FeatureInfoURL(id string, coord orb.Point, _ float64, _ surface.Projection, o surface.Options) (string, error) {
	if id == "broken" {
		return "", errors.New("no url")
	}
	return fmt.Sprintf("http://wms.test/%s?x=%g&ql=%s", id, coord.X(), o.QueryLayers), nil
}

type recordingSink struct {
	mu        sync.Mutex
	clears    []uint64
	published []Result
}

func (s *recordingSink) ClearFeatures(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears = append(s.clears, gen)
}

func (s *recordingSink) PublishFeatures(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, r)
}

func (s *recordingSink) snapshot() ([]uint64, []Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.clears...), append([]Result(nil), s.published...)
}

func defs(ids ...string) []layers.Definition {
	out := make([]layers.Definition, 0, len(ids))
	for _, id := range ids {
		out = append(out, layers.Definition{ID: id, Name: id, Params: layers.QueryParams{Layers: id}, Visible: true})
	}
	return out
}

func click(x float64) Click {
	return Click{Coordinate: orb.Point{x, 0}, Resolution: 19.1, Projection: surface.EPSG3857, Zoom: 13}
}

func TestRun_FailingLayerIsIsolated(t *testing.T) {
	fetch := FetcherFunc(func(_ context.Context, r Request) ([]byte, error) {
		switch r.LayerID {
		case "boundary":
			return nil, errors.New("upstream 500")
		case "museum":
			return []byte(museumBody), nil
		}
		return nil, fmt.Errorf("unexpected layer %s", r.LayerID)
	})
	sink := &recordingSink{}
	q := New(Config{}, urlStub{}, fetch, sink, discard)

	gen := q.Run(context.Background(), click(1), defs("boundary", "museum"))
	q.Wait()

	clears, pub := sink.snapshot()
	if !reflect.DeepEqual(clears, []uint64{gen}) {
		t.Fatalf("clears=%v", clears)
	}
	if len(pub) != 1 {
		t.Fatalf("published %d results", len(pub))
	}
	want := []Record{{Layer: "museum", ID: "42", Name: "City Museum"}}
	if pub[0].Generation != gen || pub[0].Empty || !reflect.DeepEqual(pub[0].Records, want) {
		t.Fatalf("result=%+v", pub[0])
	}
}

func TestRun_NoFeaturesIsEmpty(t *testing.T) {
	fetch := FetcherFunc(func(context.Context, Request) ([]byte, error) { return []byte(emptyBody), nil })
	sink := &recordingSink{}
	q := New(Config{}, urlStub{}, fetch, sink, discard)

	q.Run(context.Background(), click(1), defs("boundary", "park"))
	q.Wait()

	_, pub := sink.snapshot()
	if len(pub) != 1 || !pub[0].Empty || len(pub[0].Records) != 0 {
		t.Fatalf("published=%+v", pub)
	}
}

func TestRun_NoVisibleLayersIsEmpty(t *testing.T) {
	fetch := FetcherFunc(func(context.Context, Request) ([]byte, error) {
		t.Error("fetch called without layers")
		return nil, nil
	})
	sink := &recordingSink{}
	q := New(Config{}, urlStub{}, fetch, sink, discard)

	q.Run(context.Background(), click(1), nil)
	q.Wait()
	if _, pub := sink.snapshot(); len(pub) != 1 || !pub[0].Empty {
		t.Fatalf("published=%+v", pub)
	}
}

func TestRun_RecordsFollowLayerOrder(t *testing.T) {
	fetch := FetcherFunc(func(_ context.Context, r Request) ([]byte, error) {
		if r.LayerID == "a" {
			time.Sleep(20 * time.Millisecond)
		}
		body := `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":null,"properties":{"id":"` + r.LayerID + `"}}]}`
		return []byte(body), nil
	})
	sink := &recordingSink{}
	q := New(Config{}, urlStub{}, fetch, sink, discard)

	q.Run(context.Background(), click(1), defs("a", "b", "broken", "c"))
	q.Wait()

	_, pub := sink.snapshot()
	var got []string
	for _, r := range pub[0].Records {
		got = append(got, r.Layer)
	}
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("order=%v", got)
	}
}

func TestRun_MalformedBodyDropsLayer(t *testing.T) {
	fetch := FetcherFunc(func(_ context.Context, r Request) ([]byte, error) {
		if r.LayerID == "park" {
			return []byte(`{"type":"FeatureCollection","features":[{"type":"Feature","geometry":null}]}`), nil
		}
		return []byte(museumBody), nil
	})
	sink := &recordingSink{}
	q := New(Config{}, urlStub{}, fetch, sink, discard)

	q.Run(context.Background(), click(1), defs("park", "museum"))
	q.Wait()
	_, pub := sink.snapshot()
	if len(pub[0].Records) != 1 || pub[0].Records[0].Layer != "museum" {
		t.Fatalf("records=%+v", pub[0].Records)
	}
}

func TestRun_BareFeaturesBodyIsAccepted(t *testing.T) {
	fetch := FetcherFunc(func(_ context.Context, r Request) ([]byte, error) {
		if r.LayerID == "museum" {
			return []byte(`{"features":[{"properties":{"id":"42","name":"City Museum","description":"d"}}]}`), nil
		}
		return []byte(`{"features":[]}`), nil
	})
	sink := &recordingSink{}
	q := New(Config{}, urlStub{}, fetch, sink, discard)

	q.Run(context.Background(), click(1), defs("boundary", "museum"))
	q.Wait()

	_, pub := sink.snapshot()
	want := []Record{{Layer: "museum", ID: "42", Name: "City Museum", Description: "d"}}
	if len(pub) != 1 || pub[0].Empty || !reflect.DeepEqual(pub[0].Records, want) {
		t.Fatalf("published=%+v", pub)
	}
}

func TestRun_LayerFailureLogCarriesSession(t *testing.T) {
	var buf bytes.Buffer
	zl := mylog.Build(mylog.Config{Level: "debug"}, &buf)
	fetch := FetcherFunc(func(context.Context, Request) ([]byte, error) {
		return nil, errors.New("upstream 500")
	})
	q := New(Config{}, urlStub{}, fetch, &recordingSink{}, mylog.NewSlog(&zl))

	ctx := mylog.WithSessionID(context.Background(), "view-7")
	q.Run(ctx, click(1), defs("boundary"))
	q.Wait()

	var line map[string]any
	for _, raw := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
		if m["msg"] == "feature info request failed" {
			line = m
		}
	}
	if line == nil {
		t.Fatalf("no failure line in %s", buf.String())
	}
	if line["session_id"] != "view-7" || line["layer"] != "boundary" {
		t.Fatalf("line=%v", line)
	}
}

// gatedFetcher blocks each click's requests until the test releases them.
type gatedFetcher struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
}

func newGated(keys ...string) *gatedFetcher {
	g := &gatedFetcher{gates: map[string]chan struct{}{}}
	for _, k := range keys {
		g.gates[k] = make(chan struct{})
	}
	return g
}

func (g *gatedFetcher) release(k string) { close(g.gates[k]) }

func (g *gatedFetcher) Fetch(_ context.Context, r Request) ([]byte, error) {
	k := fmt.Sprint(r.Click.Coordinate.X())
	g.mu.Lock()
	gate := g.gates[k]
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}
	body := `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":null,"properties":{"id":"x` + k + `"}}]}`
	return []byte(body), nil
}

func TestRun_StaleResponseNeverShown(t *testing.T) {
	tests := []struct {
		name  string
		order []string
	}{
		{"older finishes last", []string{"2", "1"}},
		{"older finishes first", []string{"1", "2"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := newGated("1", "2")
			sink := &recordingSink{}
			q := New(Config{}, urlStub{}, g, sink, discard)

			g1 := q.Run(context.Background(), click(1), defs("museum"))
			g2 := q.Run(context.Background(), click(2), defs("museum"))
			if g2 <= g1 {
				t.Fatalf("generations not increasing: %d %d", g1, g2)
			}
			for _, k := range tc.order {
				g.release(k)
			}
			q.Wait()

			clears, pub := sink.snapshot()
			if !reflect.DeepEqual(clears, []uint64{g1, g2}) {
				t.Fatalf("clears=%v", clears)
			}
			if len(pub) != 1 || pub[0].Generation != g2 || pub[0].Records[0].ID != "x2" {
				t.Fatalf("published=%+v", pub)
			}
		})
	}
}

func TestRun_SupersededBatchIsCanceled(t *testing.T) {
	canceled := make(chan struct{})
	fetch := FetcherFunc(func(ctx context.Context, r Request) ([]byte, error) {
		if strings.Contains(r.URL, "x=1&") {
			<-ctx.Done()
			close(canceled)
			return nil, ctx.Err()
		}
		return []byte(emptyBody), nil
	})
	sink := &recordingSink{}
	q := New(Config{}, urlStub{}, fetch, sink, discard)

	q.Run(context.Background(), click(1), defs("museum"))
	q.Run(context.Background(), click(2), defs("museum"))

	select {
	case <-canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("superseded request was not canceled")
	}
	q.Wait()
	if _, pub := sink.snapshot(); len(pub) != 1 || pub[0].Generation != 2 {
		t.Fatalf("published=%+v", pub)
	}
}

func TestRun_PerRequestTimeout(t *testing.T) {
	fetch := FetcherFunc(func(ctx context.Context, r Request) ([]byte, error) {
		if r.LayerID == "slow" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return []byte(museumBody), nil
	})
	sink := &recordingSink{}
	q := New(Config{Timeout: 50 * time.Millisecond}, urlStub{}, fetch, sink, discard)

	q.Run(context.Background(), click(1), defs("slow", "museum"))
	q.Wait()
	if _, pub := sink.snapshot(); len(pub) != 1 || len(pub[0].Records) != 1 {
		t.Fatalf("published=%+v", pub)
	}
}

func TestRun_UsesVisibleSnapshot(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	fetch := FetcherFunc(func(_ context.Context, r Request) ([]byte, error) {
		mu.Lock()
		seen = append(seen, r.LayerID)
		mu.Unlock()
		if !strings.Contains(r.URL, "ql="+r.LayerID) {
			t.Errorf("query layers not set: %s", r.URL)
		}
		if r.Variant != r.LayerID+"|application/geo+json|10" {
			t.Errorf("variant=%q", r.Variant)
		}
		return []byte(emptyBody), nil
	})
	q := New(Config{}, urlStub{}, fetch, &recordingSink{}, discard)

	visible := defs("boundary")
	q.Run(context.Background(), click(1), visible)
	visible[0].ID = "park"
	q.Wait()

	if !reflect.DeepEqual(seen, []string{"boundary"}) {
		t.Fatalf("seen=%v", seen)
	}
}

func TestClose_WaitsForInflight(t *testing.T) {
	fetch := FetcherFunc(func(ctx context.Context, _ Request) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	q := New(Config{}, urlStub{}, fetch, &recordingSink{}, discard)
	q.Run(context.Background(), click(1), defs("museum"))

	done := make(chan struct{})
	go func() { q.Close(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}
