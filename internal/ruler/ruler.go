// Package ruler implements the measuring tool: a three state machine that
// collects clicked points and keeps the great-circle length of the path.
package ruler

import (
	"errors"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geoportal-viewer/internal/core/observability"
	"github.com/mohammed-shakir/geoportal-viewer/internal/geo"
	"github.com/mohammed-shakir/geoportal-viewer/internal/surface"
)

var ErrInactive = errors.New("ruler is not active")

// EmptyMessage is shown while there is nothing to measure yet.
const EmptyMessage = "Click on the map to add points"

type Mode int

const (
	Inactive Mode = iota
	ActiveEmpty
	ActiveMeasuring
)

func (m Mode) String() string {
	switch m {
	case ActiveEmpty:
		return "active_empty"
	case ActiveMeasuring:
		return "active_measuring"
	default:
		return "inactive"
	}
}

// State is a copy of the tool's data. Points are lon/lat degrees.
type State struct {
	Active        bool
	Points        []orb.Point
	TotalDistance float64
}

// Readout is what the UI shows for the tool.
type Readout struct {
	Active        bool        `json:"active"`
	Mode          string      `json:"mode"`
	Points        []orb.Point `json:"points"`
	TotalDistance float64     `json:"total_distance"`
	Formatted     string      `json:"formatted"`
	Message       string      `json:"message,omitempty"`
}

type Tool struct {
	mu     sync.Mutex
	active bool
	points []orb.Point
	total  float64
	cursor surface.Cursor
}

// New returns an inactive tool. cursor may be nil until Attach.
func New(cursor surface.Cursor) *Tool {
	return &Tool{cursor: cursor}
}

// Attach sets the surface whose cursor follows the tool state.
func (t *Tool) Attach(c surface.Cursor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cursor = c
	if c != nil && t.active {
		c.SetCursor(surface.CursorCrosshair)
	}
}

func (t *Tool) Detach() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cursor = nil
}

// Toggle flips between inactive and active. Both directions start from an
// empty path. It returns whether the tool is now active.
func (t *Tool) Toggle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = !t.active
	t.points = nil
	t.total = 0
	if t.cursor != nil {
		if t.active {
			t.cursor.SetCursor(surface.CursorCrosshair)
		} else {
			t.cursor.SetCursor(surface.CursorDefault)
		}
	}
	return t.active
}

// AddPoint appends a lon/lat point and recomputes the path length.
func (t *Tool) AddPoint(p orb.Point) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return ErrInactive
	}
	t.points = append(t.points, p)
	t.total = geo.PathLength(t.points)
	observability.IncRulerPoint()
	return nil
}

// Clear empties the path but keeps the tool active.
func (t *Tool) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return ErrInactive
	}
	t.points = nil
	t.total = 0
	return nil
}

func (t *Tool) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *Tool) Mode() Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.modeLocked()
}

func (t *Tool) modeLocked() Mode {
	switch {
	case !t.active:
		return Inactive
	case len(t.points) == 0:
		return ActiveEmpty
	default:
		return ActiveMeasuring
	}
}

func (t *Tool) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{
		Active:        t.active,
		Points:        append([]orb.Point(nil), t.points...),
		TotalDistance: t.total,
	}
}

func (t *Tool) Readout() Readout {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := Readout{
		Active:        t.active,
		Mode:          t.modeLocked().String(),
		Points:        append([]orb.Point{}, t.points...),
		TotalDistance: t.total,
		Formatted:     geo.FormatDistance(t.total),
	}
	if t.active && t.total == 0 {
		r.Message = EmptyMessage
	}
	return r
}

// Overlay renders the measured path: a Point feature per vertex and, once
// there are two vertices, the LineString joining them.
func (t *Tool) Overlay() *geojson.FeatureCollection {
	s := t.Snapshot()
	fc := geojson.NewFeatureCollection()
	for i, p := range s.Points {
		f := geojson.NewFeature(p)
		f.Properties["index"] = i
		fc.Append(f)
	}
	if len(s.Points) >= 2 {
		f := geojson.NewFeature(orb.LineString(s.Points))
		f.Properties["total_distance"] = s.TotalDistance
		f.Properties["formatted"] = geo.FormatDistance(s.TotalDistance)
		fc.Append(f)
	}
	return fc
}
