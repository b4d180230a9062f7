// Package mapview wires one map surface to its layer registry, ruler tool and
// feature-info pipeline, and routes pointer clicks between them.
package mapview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geoportal-viewer/internal/clickevents"
	"github.com/mohammed-shakir/geoportal-viewer/internal/core/observability"
	"github.com/mohammed-shakir/geoportal-viewer/internal/featureinfo"
	"github.com/mohammed-shakir/geoportal-viewer/internal/geo"
	"github.com/mohammed-shakir/geoportal-viewer/internal/layers"
	mylog "github.com/mohammed-shakir/geoportal-viewer/internal/logger"
	"github.com/mohammed-shakir/geoportal-viewer/internal/ruler"
	"github.com/mohammed-shakir/geoportal-viewer/internal/state"
	"github.com/mohammed-shakir/geoportal-viewer/internal/surface"
)

var (
	ErrNotMounted     = errors.New("map view is not mounted")
	ErrAlreadyMounted = errors.New("map view is already mounted")
	ErrUnmounted      = errors.New("map view was unmounted")
)

// Default view from the original deployment (Yekaterinburg).
var (
	DefaultCenter = orb.Point{60.6057, 56.838}
	DefaultZoom   = 13.0
)

// Outcome tells which component consumed a click.
type Outcome string

const (
	OutcomeRulerPoint   Outcome = "ruler_point"
	OutcomeFeatureQuery Outcome = "feature_query"
)

// ClickPublisher receives analytics for clicks that started a feature query.
type ClickPublisher interface {
	Publish(ev clickevents.Event)
}

type Option func(*Controller)

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithClickPublisher(p ClickPublisher) Option {
	return func(c *Controller) { c.clicks = p }
}

func WithQueryConfig(cfg featureinfo.Config) Option {
	return func(c *Controller) { c.queryCfg = cfg }
}

// WithDefaultView sets the geographic centre and zoom used at mount and reset.
func WithDefaultView(center orb.Point, zoom float64) Option {
	return func(c *Controller) {
		c.defaultCenter = center
		c.defaultZoom = zoom
	}
}

type Controller struct {
	id            string
	factory       surface.Factory
	defs          []layers.Definition
	fetch         featureinfo.Fetcher
	queryCfg      featureinfo.Config
	logger        *slog.Logger
	clicks        ClickPublisher
	defaultCenter orb.Point
	defaultZoom   float64

	registry *layers.Registry
	ruler    *ruler.Tool
	store    *state.Store

	// mu serializes lifecycle changes and click dispatch
	mu          sync.Mutex
	mounted     bool
	unmounted   bool
	surf        surface.Surface
	sub         surface.Subscription
	query       *featureinfo.Query
	ctx         context.Context
	cancel      context.CancelFunc
	destroyOnce sync.Once
}

func New(id string, factory surface.Factory, defs []layers.Definition, fetch featureinfo.Fetcher, opts ...Option) *Controller {
	c := &Controller{
		id:            id,
		factory:       factory,
		defs:          append([]layers.Definition(nil), defs...),
		fetch:         fetch,
		logger:        slog.Default(),
		defaultCenter: DefaultCenter,
		defaultZoom:   DefaultZoom,
		registry:      layers.New(),
		ruler:         ruler.New(nil),
		store:         state.New(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("session_id", id)
	return c
}

func (c *Controller) ID() string { return c.id }

// Store exposes the view's UI state for subscribers.
func (c *Controller) Store() *state.Store { return c.store }

// Mount creates the surface, adds the configured layers and starts listening
// for clicks. A controller mounts at most once.
func (c *Controller) Mount(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.unmounted:
		return ErrUnmounted
	case c.mounted:
		return ErrAlreadyMounted
	}

	s, err := c.factory()
	if err != nil {
		return fmt.Errorf("create surface: %w", err)
	}
	if err := c.registry.Initialize(s, c.defs); err != nil {
		s.Destroy()
		return fmt.Errorf("mount %s: %w", c.id, err)
	}
	s.SetCenter(geo.ToProjected(c.defaultCenter))
	s.SetZoom(c.defaultZoom)
	c.ruler.Attach(s)

	c.ctx, c.cancel = context.WithCancel(mylog.WithSessionID(context.WithoutCancel(ctx), c.id))
	c.query = featureinfo.New(c.queryCfg, c.registry, c.fetch, c.store, c.logger)
	c.surf = s
	c.sub = s.OnClick(func(ev surface.ClickEvent) {
		if _, err := c.HandleClick(ev); err != nil {
			c.logger.Debug("click not handled", "err", err)
		}
	})
	c.mounted = true
	observability.ViewMounted()
	c.logger.InfoContext(c.ctx, "map view mounted", "layers", len(c.defs))
	return nil
}

// Unmount stops listening for clicks, waits for in-flight queries and
// destroys the surface. Calling it again is a no-op.
func (c *Controller) Unmount() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mounted {
		return nil
	}
	c.mounted = false
	c.unmounted = true

	c.surf.OffClick(c.sub)
	c.cancel()
	c.query.Close()
	c.registry.Teardown()
	c.ruler.Detach()
	c.destroyOnce.Do(c.surf.Destroy)
	c.store.Close()
	observability.ViewUnmounted()
	c.logger.InfoContext(c.ctx, "map view unmounted")
	return nil
}

func (c *Controller) Mounted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mounted
}

// HandleClick routes a click in surface coordinates: to the ruler while it
// is active, otherwise to a new feature-info query.
func (c *Controller) HandleClick(ev surface.ClickEvent) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mounted {
		return "", ErrNotMounted
	}

	lonlat := c.toGeographic(ev.Coordinate)
	if c.ruler.Active() {
		if err := c.ruler.AddPoint(lonlat); err != nil {
			return OutcomeRulerPoint, err
		}
		c.store.SetRuler(c.ruler.Readout())
		return OutcomeRulerPoint, nil
	}

	visible := c.registry.VisibleLayers()
	gen := c.query.Run(c.ctx, featureinfo.Click{
		Coordinate: ev.Coordinate,
		Resolution: c.surf.Resolution(),
		Projection: c.surf.Projection(),
		Zoom:       c.surf.Zoom(),
	}, visible)

	if c.clicks != nil {
		ids := make([]string, 0, len(visible))
		for _, d := range visible {
			ids = append(ids, d.ID)
		}
		c.clicks.Publish(clickevents.Event{
			View:       c.id,
			Lon:        lonlat.Lon(),
			Lat:        lonlat.Lat(),
			Layers:     ids,
			Generation: gen,
			TS:         time.Now().UTC(),
		})
	}
	return OutcomeFeatureQuery, nil
}

func (c *Controller) toGeographic(p orb.Point) orb.Point {
	if c.surf.Projection() == surface.EPSG3857 {
		return geo.ToGeographic(p)
	}
	return p
}

func (c *Controller) ZoomIn() (float64, error)  { return c.zoomBy(1) }
func (c *Controller) ZoomOut() (float64, error) { return c.zoomBy(-1) }

func (c *Controller) zoomBy(d float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mounted {
		return 0, ErrNotMounted
	}
	c.surf.SetZoom(c.surf.Zoom() + d)
	return c.surf.Zoom(), nil
}

// ResetView recentres on a geographic point. A nil center uses the default
// view; a negative zoom keeps the default zoom.
func (c *Controller) ResetView(center *orb.Point, zoom float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mounted {
		return ErrNotMounted
	}
	ctr := c.defaultCenter
	if center != nil {
		ctr = *center
	}
	if zoom < 0 {
		zoom = c.defaultZoom
	}
	c.surf.SetCenter(geo.ToProjected(ctr))
	c.surf.SetZoom(zoom)
	return nil
}

// ViewState is the current camera in geographic coordinates.
type ViewState struct {
	Center     orb.Point `json:"center"`
	Zoom       float64   `json:"zoom"`
	Resolution float64   `json:"resolution"`
}

func (c *Controller) View() (ViewState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mounted {
		return ViewState{}, ErrNotMounted
	}
	return ViewState{
		Center:     c.toGeographic(c.surf.Center()),
		Zoom:       c.surf.Zoom(),
		Resolution: c.surf.Resolution(),
	}, nil
}

func (c *Controller) ToggleLayer(id string, visible bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mounted {
		return ErrNotMounted
	}
	if err := c.registry.SetVisible(id, visible); err != nil {
		return err
	}
	c.store.LayerToggled(id, visible)
	return nil
}

func (c *Controller) Layers() ([]layers.Definition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mounted {
		return nil, ErrNotMounted
	}
	return c.registry.Layers(), nil
}

// ToggleRuler switches the measuring tool and reports whether it is active.
func (c *Controller) ToggleRuler() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mounted {
		return false, ErrNotMounted
	}
	active := c.ruler.Toggle()
	c.store.SetRuler(c.ruler.Readout())
	return active, nil
}

func (c *Controller) ClearRuler() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mounted {
		return ErrNotMounted
	}
	if err := c.ruler.Clear(); err != nil {
		return err
	}
	c.store.SetRuler(c.ruler.Readout())
	return nil
}

func (c *Controller) Ruler() ruler.Readout { return c.ruler.Readout() }

func (c *Controller) RulerOverlay() *geojson.FeatureCollection { return c.ruler.Overlay() }

func (c *Controller) Features() state.Features { return c.store.Features() }

// Wait blocks until every started feature query has settled.
func (c *Controller) Wait() {
	c.mu.Lock()
	q := c.query
	c.mu.Unlock()
	if q != nil {
		q.Wait()
	}
}
