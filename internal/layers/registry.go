package layers

import (
	"errors"
	"fmt"
	"sync"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geoportal-viewer/internal/surface"
)

var (
	ErrUnknownLayer       = errors.New("unknown layer")
	ErrAlreadyInitialized = errors.New("layer registry already initialized for this surface")
	ErrNotInitialized     = errors.New("layer registry not initialized")
)

// LookupError reports an id that is not in the registry.
type LookupError struct {
	ID string
}

func (e *LookupError) Error() string { return fmt.Sprintf("layer %q: %v", e.ID, ErrUnknownLayer) }

func (e *LookupError) Unwrap() error { return ErrUnknownLayer }

// Handle binds a definition id to its layer on the current surface.
// It never leaves this package.
type Handle struct {
	id    string
	layer surface.Layer
}

type Registry struct {
	mu      sync.RWMutex
	surf    surface.Surface
	defs    []Definition
	index   map[string]int
	handles map[string]*Handle
}

func New() *Registry {
	return &Registry{}
}

// Initialize creates one surface layer per definition, keeping each
// definition's configured visibility. It may run once per surface.
func (r *Registry) Initialize(s surface.Surface, defs []Definition) error {
	if s == nil {
		return errors.New("initialize layers: nil surface")
	}
	if err := Validate(defs); err != nil {
		return fmt.Errorf("initialize layers: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.surf != nil {
		return ErrAlreadyInitialized
	}

	r.defs = make([]Definition, len(defs))
	copy(r.defs, defs)
	r.index = make(map[string]int, len(defs))
	r.handles = make(map[string]*Handle, len(defs))
	for i, d := range r.defs {
		r.index[d.ID] = i
		r.handles[d.ID] = &Handle{
			id: d.ID,
			layer: s.AddLayer(surface.LayerSpec{
				Name:        d.Name,
				Layers:      d.Params.Layers,
				Styles:      d.Params.Styles,
				Format:      d.Params.Format,
				Transparent: d.Params.Transparent,
				Version:     d.Params.Version,
				Visible:     d.Visible,
			}),
		}
	}
	r.surf = s
	return nil
}

// Teardown drops the surface bindings; definitions are kept.
func (r *Registry) Teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surf = nil
	r.handles = nil
}

// SetVisible updates the flag and applies it to the rendering layer at once.
func (r *Registry) SetVisible(id string, visible bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return &LookupError{ID: id}
	}
	r.defs[i].Visible = visible
	if h := r.handles[id]; h != nil {
		h.layer.SetVisible(visible)
	}
	return nil
}

// VisibleLayers returns a copy of the visible definitions in configuration order.
func (r *Registry) VisibleLayers() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		if d.Visible {
			out = append(out, d)
		}
	}
	return out
}

// Layers returns a copy of every definition in configuration order.
func (r *Registry) Layers() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// FeatureInfoURL builds the feature-info request of one layer through its
// surface binding.
func (r *Registry) FeatureInfoURL(id string, coord orb.Point, resolution float64, proj surface.Projection, opts surface.Options) (string, error) {
	r.mu.RLock()
	h, ok := r.handles[id]
	_, known := r.index[id]
	r.mu.RUnlock()
	if !known {
		return "", &LookupError{ID: id}
	}
	if !ok || h == nil {
		return "", ErrNotInitialized
	}
	u, err := h.layer.FeatureInfoURL(coord, resolution, proj, opts)
	if err != nil {
		return "", fmt.Errorf("layer %q feature info url: %w", h.id, err)
	}
	return u, nil
}
