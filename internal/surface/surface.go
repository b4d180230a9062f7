// Package surface defines the narrow contract the map view needs from a
// rendering surface, plus View, an in-process implementation that keeps the
// view state a browser map engine would hold and builds WMS requests for it.
package surface

import (
	"github.com/paulmach/orb"
)

type Projection string

const EPSG3857 Projection = "EPSG:3857"

// Cursor values understood by the browser.
const (
	CursorDefault   = ""
	CursorCrosshair = "crosshair"
)

// ClickEvent carries a pointer click in projected coordinates.
type ClickEvent struct {
	Coordinate orb.Point
}

type Subscription uint64

// Options are the feature-info specific request parameters.
type Options struct {
	InfoFormat   string
	QueryLayers  string
	FeatureCount int
}

// LayerSpec describes one WMS overlay to add to a surface.
type LayerSpec struct {
	Name        string
	Layers      string
	Styles      string
	Format      string
	Transparent bool
	Version     string
	Visible     bool
}

// Layer is a renderable overlay on a surface.
type Layer interface {
	SetVisible(visible bool)
	Visible() bool
	FeatureInfoURL(coord orb.Point, resolution float64, proj Projection, opts Options) (string, error)
}

// Cursor changes the pointer affordance over the map.
type Cursor interface {
	SetCursor(cursor string)
}

type Surface interface {
	Cursor

	OnClick(handler func(ClickEvent)) Subscription
	OffClick(sub Subscription)

	Resolution() float64
	Projection() Projection
	Center() orb.Point
	SetCenter(center orb.Point)
	Zoom() float64
	SetZoom(zoom float64)

	AddLayer(spec LayerSpec) Layer
	Destroy()
}

// Factory constructs a fresh surface for a mounting view.
type Factory func() (Surface, error)
