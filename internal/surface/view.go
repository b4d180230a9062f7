package surface

import (
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geoportal-viewer/internal/core/ogc"
)

// resolution of zoom level 0 for 256px web mercator tiles, in meters per pixel
const maxResolution = 156543.03392804097

const (
	MinZoom = 0
	MaxZoom = 28
)

var ErrDestroyed = errors.New("surface destroyed")

// View is an in-process surface backed by a WMS endpoint.
type View struct {
	wmsURL string

	mu        sync.RWMutex
	center    orb.Point
	zoom      float64
	cursor    string
	layers    []*wmsLayer
	handlers  map[Subscription]func(ClickEvent)
	nextSub   Subscription
	destroyed bool
}

var _ Surface = (*View)(nil)

// NewView returns a surface whose layers query wmsURL.
func NewView(wmsURL string) *View {
	return &View{
		wmsURL:   wmsURL,
		handlers: map[Subscription]func(ClickEvent){},
	}
}

// ViewFactory returns a Factory producing views bound to wmsURL.
func ViewFactory(wmsURL string) Factory {
	return func() (Surface, error) {
		return NewView(wmsURL), nil
	}
}

func (v *View) OnClick(handler func(ClickEvent)) Subscription {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextSub++
	v.handlers[v.nextSub] = handler
	return v.nextSub
}

func (v *View) OffClick(sub Subscription) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.handlers, sub)
}

// Click delivers a pointer click to the registered handlers in subscription
// order and returns how many ran.
func (v *View) Click(coord orb.Point) (int, error) {
	v.mu.RLock()
	if v.destroyed {
		v.mu.RUnlock()
		return 0, ErrDestroyed
	}
	subs := make([]Subscription, 0, len(v.handlers))
	for s := range v.handlers {
		subs = append(subs, s)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i] < subs[j] })
	hs := make([]func(ClickEvent), 0, len(subs))
	for _, s := range subs {
		hs = append(hs, v.handlers[s])
	}
	v.mu.RUnlock()

	ev := ClickEvent{Coordinate: coord}
	for _, h := range hs {
		h(ev)
	}
	return len(hs), nil
}

func (v *View) Resolution() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return maxResolution / math.Pow(2, v.zoom)
}

func (v *View) Projection() Projection { return EPSG3857 }

func (v *View) Center() orb.Point {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.center
}

func (v *View) SetCenter(center orb.Point) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.center = center
}

func (v *View) Zoom() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.zoom
}

func (v *View) SetZoom(zoom float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.zoom = math.Max(MinZoom, math.Min(MaxZoom, zoom))
}

func (v *View) SetCursor(cursor string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cursor = cursor
}

func (v *View) Cursor() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cursor
}

func (v *View) AddLayer(spec LayerSpec) Layer {
	l := &wmsLayer{wmsURL: v.wmsURL, spec: spec, visible: spec.Visible}
	v.mu.Lock()
	v.layers = append(v.layers, l)
	v.mu.Unlock()
	return l
}

// LayerCount reports how many overlays are attached.
func (v *View) LayerCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.layers)
}

// Destroy detaches every handler and layer; later calls are no-ops.
func (v *View) Destroy() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.destroyed {
		return
	}
	v.destroyed = true
	v.handlers = map[Subscription]func(ClickEvent){}
	v.layers = nil
	v.cursor = CursorDefault
}

func (v *View) Destroyed() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.destroyed
}

type wmsLayer struct {
	wmsURL string
	spec   LayerSpec

	mu      sync.RWMutex
	visible bool
}

func (l *wmsLayer) SetVisible(visible bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visible = visible
}

func (l *wmsLayer) Visible() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.visible
}

func (l *wmsLayer) FeatureInfoURL(coord orb.Point, resolution float64, proj Projection, opts Options) (string, error) {
	if resolution <= 0 {
		return "", errors.New("resolution must be positive")
	}
	q := ogc.AroundPoint(coord.X(), coord.Y(), resolution, ogc.GetFeatureInfo{
		Version:      l.spec.Version,
		Layers:       l.spec.Layers,
		Styles:       l.spec.Styles,
		Format:       l.spec.Format,
		Transparent:  l.spec.Transparent,
		QueryLayers:  opts.QueryLayers,
		InfoFormat:   opts.InfoFormat,
		FeatureCount: opts.FeatureCount,
		CRS:          string(proj),
	})
	return ogc.FeatureInfoURL(l.wmsURL, q)
}
