// Package featureinfo runs the per-click feature-info pipeline: one request
// per visible overlay, issued concurrently, aggregated in layer order and
// published only if no newer click has superseded it.
package featureinfo

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geoportal-viewer/internal/core/observability"
	"github.com/mohammed-shakir/geoportal-viewer/internal/layers"
	mylog "github.com/mohammed-shakir/geoportal-viewer/internal/logger"
	"github.com/mohammed-shakir/geoportal-viewer/internal/surface"
)

const (
	DefaultFeatureCount = 10
	DefaultInfoFormat   = "application/geo+json"
	DefaultTimeout      = 5 * time.Second
)

// Click is the view state captured when the pointer was released.
type Click struct {
	Coordinate orb.Point
	Resolution float64
	Projection surface.Projection
	Zoom       float64
}

// Result is the outcome of one click. Empty means no layer returned a feature.
type Result struct {
	Generation uint64   `json:"generation"`
	Empty      bool     `json:"empty"`
	Records    []Record `json:"features"`
}

// Sink receives the visible outcome of clicks.
type Sink interface {
	// ClearFeatures drops any shown result as soon as a click starts.
	ClearFeatures(generation uint64)
	PublishFeatures(res Result)
}

// URLBuilder builds a layer's feature-info URL from its surface binding.
type URLBuilder interface {
	FeatureInfoURL(id string, coord orb.Point, resolution float64, proj surface.Projection, opts surface.Options) (string, error)
}

type Config struct {
	Timeout      time.Duration
	InfoFormat   string
	FeatureCount int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.InfoFormat == "" {
		c.InfoFormat = DefaultInfoFormat
	}
	if c.FeatureCount <= 0 {
		c.FeatureCount = DefaultFeatureCount
	}
	return c
}

type Query struct {
	cfg    Config
	logger *slog.Logger
	urls   URLBuilder
	fetch  Fetcher
	sink   Sink

	gen atomic.Uint64

	mu     sync.Mutex // orders clear/publish against generation changes
	cancel context.CancelFunc

	wg sync.WaitGroup
}

func New(cfg Config, urls URLBuilder, fetch Fetcher, sink Sink, logger *slog.Logger) *Query {
	if logger == nil {
		logger = slog.Default()
	}
	return &Query{
		cfg:    cfg.withDefaults(),
		logger: logger,
		urls:   urls,
		fetch:  fetch,
		sink:   sink,
	}
}

// Generation returns the id of the latest click.
func (q *Query) Generation() uint64 { return q.gen.Load() }

// Run starts the batch for one click against the visible layers captured at
// click time and returns its generation without waiting for the network.
func (q *Query) Run(ctx context.Context, click Click, visible []layers.Definition) uint64 {
	snapshot := make([]layers.Definition, len(visible))
	copy(snapshot, visible)

	q.mu.Lock()
	gen := q.gen.Add(1)
	if q.cancel != nil {
		// release the superseded batch's upstream connections
		q.cancel()
	}
	bctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.sink.ClearFeatures(gen)
	q.mu.Unlock()

	reqs := make([]Request, 0, len(snapshot))
	for _, d := range snapshot {
		opts := surface.Options{
			InfoFormat:   q.cfg.InfoFormat,
			QueryLayers:  d.Params.Layers,
			FeatureCount: q.cfg.FeatureCount,
		}
		u, err := q.urls.FeatureInfoURL(d.ID, click.Coordinate, click.Resolution, click.Projection, opts)
		if err != nil {
			q.logger.WarnContext(ctx, "feature info url", "layer", d.ID, "generation", gen, "err", err)
			observability.IncFeatureInfoLayer("error")
			continue
		}
		reqs = append(reqs, Request{
			LayerID: d.ID,
			URL:     u,
			Variant: variant(opts),
			Click:   click,
		})
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer cancel()
		q.settle(mylog.WithGeneration(bctx, gen), gen, reqs)
	}()
	return gen
}

// Wait blocks until every started batch has settled.
func (q *Query) Wait() { q.wg.Wait() }

// Close cancels the in-flight batch and waits for it.
func (q *Query) Close() {
	q.mu.Lock()
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Query) settle(ctx context.Context, gen uint64, reqs []Request) {
	start := time.Now()
	perLayer := make([][]Record, len(reqs))

	var wg sync.WaitGroup
	for i, r := range reqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			perLayer[i] = q.fetchLayer(ctx, gen, r)
		}()
	}
	wg.Wait()

	var records []Record
	for _, rs := range perLayer {
		records = append(records, rs...)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.gen.Load() != gen {
		observability.IncFeatureInfoBatch("stale")
		q.logger.DebugContext(ctx, "discarding stale feature info",
			"generation", gen, "latest", q.gen.Load())
		return
	}

	res := Result{Generation: gen, Records: records, Empty: len(records) == 0}
	if res.Empty {
		observability.IncFeatureInfoBatch("empty")
	} else {
		observability.IncFeatureInfoBatch("published")
	}
	observability.ObserveFeatureInfoBatch(time.Since(start).Seconds())
	q.sink.PublishFeatures(res)
	q.logger.DebugContext(ctx, "feature info published",
		"generation", gen, "layers", len(reqs), "features", len(records),
		"dur", time.Since(start).String())
}

// fetchLayer never fails the batch; errors are logged and the layer dropped.
func (q *Query) fetchLayer(ctx context.Context, gen uint64, r Request) []Record {
	ctx, cancel := context.WithTimeout(ctx, q.cfg.Timeout)
	defer cancel()

	body, err := q.fetch.Fetch(ctx, r)
	if err != nil {
		observability.IncFeatureInfoLayer("error")
		if q.gen.Load() == gen {
			q.logger.WarnContext(ctx, "feature info request failed", "layer", r.LayerID, "generation", gen, "err", err)
		}
		return nil
	}
	recs, err := Parse(r.LayerID, body)
	if err != nil {
		observability.IncFeatureInfoLayer("error")
		q.logger.WarnContext(ctx, "feature info response rejected", "layer", r.LayerID, "generation", gen, "err", err)
		return nil
	}
	if len(recs) == 0 {
		observability.IncFeatureInfoLayer("empty")
		return nil
	}
	observability.IncFeatureInfoLayer("ok")
	return recs
}

func variant(o surface.Options) string {
	return o.QueryLayers + "|" + o.InfoFormat + "|" + strconv.Itoa(o.FeatureCount)
}
