// Package api exposes map view sessions over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geoportal-viewer/internal/core/observability"
	"github.com/mohammed-shakir/geoportal-viewer/internal/layers"
	mylog "github.com/mohammed-shakir/geoportal-viewer/internal/logger"
	"github.com/mohammed-shakir/geoportal-viewer/internal/mapview"
	"github.com/mohammed-shakir/geoportal-viewer/internal/ruler"
	"github.com/mohammed-shakir/geoportal-viewer/internal/surface"
	"github.com/mohammed-shakir/geoportal-viewer/internal/viewstore"
)

// max accepted request body
const maxBody = 64 << 10

type API struct {
	views  *viewstore.Store
	logger *slog.Logger
}

func New(views *viewstore.Store, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{views: views, logger: logger}
}

// Routes returns the view session routes, meant to be mounted at /api/v1/views.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(instrument)

	r.Post("/", a.createView)
	r.Route("/{viewID}", func(r chi.Router) {
		r.Get("/", a.getView)
		r.Delete("/", a.deleteView)
		r.Get("/layers", a.listLayers)
		r.Put("/layers/{layerID}", a.setLayer)
		r.Post("/click", a.click)
		r.Get("/features", a.features)
		r.Get("/events", a.events)
		r.Get("/ruler", a.ruler)
		r.Post("/ruler/toggle", a.toggleRuler)
		r.Post("/ruler/clear", a.clearRuler)
		r.Get("/ruler/overlay", a.rulerOverlay)
		r.Post("/zoom/in", a.zoom(1))
		r.Post("/zoom/out", a.zoom(-1))
		r.Post("/reset", a.reset)
	})
	return r
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrument records request metrics under the matched route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, viewstore.ErrNotFound), errors.Is(err, layers.ErrUnknownLayer):
		return http.StatusNotFound
	case errors.Is(err, ruler.ErrInactive),
		errors.Is(err, mapview.ErrNotMounted),
		errors.Is(err, mapview.ErrAlreadyMounted),
		errors.Is(err, mapview.ErrUnmounted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= 500 {
		a.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid body: %w", err)
	}
	return nil
}

func (a *API) view(w http.ResponseWriter, r *http.Request) (*mapview.Controller, bool) {
	c, err := a.views.Get(chi.URLParam(r, "viewID"))
	if err != nil {
		a.fail(w, r, err)
		return nil, false
	}
	return c, true
}

type viewResponse struct {
	ID     string              `json:"id"`
	View   mapview.ViewState   `json:"view"`
	Layers []layers.Definition `json:"layers"`
	Ruler  ruler.Readout       `json:"ruler"`
}

func (a *API) describe(c *mapview.Controller) (viewResponse, error) {
	vs, err := c.View()
	if err != nil {
		return viewResponse{}, err
	}
	ls, err := c.Layers()
	if err != nil {
		return viewResponse{}, err
	}
	return viewResponse{ID: c.ID(), View: vs, Layers: ls, Ruler: c.Ruler()}, nil
}

func (a *API) createView(w http.ResponseWriter, r *http.Request) {
	c, err := a.views.Create(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out, err := a.describe(c)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.logger.InfoContext(mylog.WithSessionID(r.Context(), c.ID()), "view created")
	writeJSON(w, http.StatusCreated, out)
}

func (a *API) getView(w http.ResponseWriter, r *http.Request) {
	c, ok := a.view(w, r)
	if !ok {
		return
	}
	out, err := a.describe(c)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) deleteView(w http.ResponseWriter, r *http.Request) {
	if err := a.views.Delete(chi.URLParam(r, "viewID")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listLayers(w http.ResponseWriter, r *http.Request) {
	c, ok := a.view(w, r)
	if !ok {
		return
	}
	ls, err := c.Layers()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ls)
}

func (a *API) setLayer(w http.ResponseWriter, r *http.Request) {
	c, ok := a.view(w, r)
	if !ok {
		return
	}
	var body struct {
		Visible *bool `json:"visible"`
	}
	if err := decode(r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}
	if body.Visible == nil {
		badRequest(w, "missing required field: visible")
		return
	}
	if err := c.ToggleLayer(chi.URLParam(r, "layerID"), *body.Visible); err != nil {
		a.fail(w, r, err)
		return
	}
	ls, _ := c.Layers()
	writeJSON(w, http.StatusOK, ls)
}

func (a *API) click(w http.ResponseWriter, r *http.Request) {
	c, ok := a.view(w, r)
	if !ok {
		return
	}
	var body struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}
	if err := decode(r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}
	if body.X == nil || body.Y == nil {
		badRequest(w, "missing required fields: x, y")
		return
	}
	out, err := c.HandleClick(surface.ClickEvent{Coordinate: orb.Point{*body.X, *body.Y}})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]mapview.Outcome{"outcome": out})
}

func (a *API) features(w http.ResponseWriter, r *http.Request) {
	c, ok := a.view(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Features())
}

// events streams state changes of one view as server-sent events.
func (a *API) events(w http.ResponseWriter, r *http.Request) {
	c, ok := a.view(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}
	store := c.Store()
	ch := store.Subscribe()
	defer store.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
			flusher.Flush()
		}
	}
}

func (a *API) ruler(w http.ResponseWriter, r *http.Request) {
	c, ok := a.view(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Ruler())
}

func (a *API) toggleRuler(w http.ResponseWriter, r *http.Request) {
	c, ok := a.view(w, r)
	if !ok {
		return
	}
	if _, err := c.ToggleRuler(); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Ruler())
}

func (a *API) clearRuler(w http.ResponseWriter, r *http.Request) {
	c, ok := a.view(w, r)
	if !ok {
		return
	}
	if err := c.ClearRuler(); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Ruler())
}

func (a *API) rulerOverlay(w http.ResponseWriter, r *http.Request) {
	c, ok := a.view(w, r)
	if !ok {
		return
	}
	b, err := c.RulerOverlay().MarshalJSON()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	_, _ = w.Write(b)
}

func (a *API) zoom(dir int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := a.view(w, r)
		if !ok {
			return
		}
		var err error
		if dir > 0 {
			_, err = c.ZoomIn()
		} else {
			_, err = c.ZoomOut()
		}
		if err != nil {
			a.fail(w, r, err)
			return
		}
		vs, _ := c.View()
		writeJSON(w, http.StatusOK, vs)
	}
}

func (a *API) reset(w http.ResponseWriter, r *http.Request) {
	c, ok := a.view(w, r)
	if !ok {
		return
	}
	var body struct {
		Lon  *float64 `json:"lon"`
		Lat  *float64 `json:"lat"`
		Zoom *float64 `json:"zoom"`
	}
	if err := decode(r, &body); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, err.Error())
		return
	}
	if (body.Lon == nil) != (body.Lat == nil) {
		badRequest(w, "lon and lat must be given together")
		return
	}
	var center *orb.Point
	if body.Lon != nil {
		if *body.Lat < -90 || *body.Lat > 90 || *body.Lon < -180 || *body.Lon > 180 {
			badRequest(w, "center out of range")
			return
		}
		center = &orb.Point{*body.Lon, *body.Lat}
	}
	zoom := -1.0
	if body.Zoom != nil {
		if *body.Zoom < 0 {
			badRequest(w, "zoom must not be negative")
			return
		}
		zoom = *body.Zoom
	}
	if err := c.ResetView(center, zoom); err != nil {
		a.fail(w, r, err)
		return
	}
	vs, _ := c.View()
	writeJSON(w, http.StatusOK, vs)
}
