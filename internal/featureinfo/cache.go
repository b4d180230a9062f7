package featureinfo

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/geoportal-viewer/internal/cache"
	"github.com/mohammed-shakir/geoportal-viewer/internal/cache/keys"
	"github.com/mohammed-shakir/geoportal-viewer/internal/core/observability"
	"github.com/mohammed-shakir/geoportal-viewer/internal/geo"
	h3mapper "github.com/mohammed-shakir/geoportal-viewer/internal/mapper/h3"
	"github.com/mohammed-shakir/geoportal-viewer/internal/surface"
)

// CachingFetcher answers repeated clicks on the same spot at the same zoom
// from a response cache. Cache failures fall through to the upstream fetcher.
type CachingFetcher struct {
	next      Fetcher
	store     cache.Interface
	ttl       time.Duration
	opTimeout time.Duration
	logger    *slog.Logger
}

func NewCachingFetcher(next Fetcher, store cache.Interface, ttl, opTimeout time.Duration, logger *slog.Logger) *CachingFetcher {
	if opTimeout <= 0 {
		opTimeout = 250 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingFetcher{next: next, store: store, ttl: ttl, opTimeout: opTimeout, logger: logger}
}

// Key returns the cache key for r, or "" when the click cannot be cached.
func Key(r Request) string {
	if r.Click.Projection != surface.EPSG3857 {
		return ""
	}
	lonlat := geo.ToGeographic(r.Click.Coordinate)
	cell, ok, err := h3mapper.PixelCell(lonlat, r.Click.Resolution)
	if err != nil || !ok {
		return ""
	}
	k := keys.FeatureInfo(r.LayerID, r.Click.Resolution, cell, r.Variant)
	if !keys.IsASCII(k) {
		return ""
	}
	return k
}

func (f *CachingFetcher) Fetch(ctx context.Context, r Request) ([]byte, error) {
	key := Key(r)
	if key == "" {
		return f.next.Fetch(ctx, r)
	}

	gctx, cancel := context.WithTimeout(ctx, f.opTimeout)
	b, ok, err := f.store.Get(gctx, key)
	cancel()
	switch {
	case err != nil:
		f.logger.WarnContext(ctx, "feature info cache get", "key", key, "err", err)
	case ok:
		observability.IncCacheHit()
		return b, nil
	}
	observability.IncCacheMiss()

	b, err = f.next.Fetch(ctx, r)
	if err != nil {
		return nil, err
	}
	if !json.Valid(b) {
		return b, nil
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.opTimeout)
	defer cancel()
	if err := f.store.Set(sctx, key, b, f.ttl); err != nil {
		f.logger.WarnContext(ctx, "feature info cache set", "key", key, "err", err)
	}
	return b, nil
}
