package featureinfo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mohammed-shakir/geoportal-viewer/internal/core/observability"
)

// Request is one per-layer feature-info call.
type Request struct {
	LayerID string
	URL     string
	// Variant identifies the request parameters that change the answer
	// for the same point (query layers, info format, feature count).
	Variant string
	Click   Click
}

// Fetcher performs one feature-info request and returns the raw body.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req Request) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, req Request) ([]byte, error) { return f(ctx, req) }

// maximum accepted response body
const maxBody = 4 << 20

// HTTPFetcher issues GET requests with an authenticated or plain client.
type HTTPFetcher struct {
	client   *http.Client
	accept   string
	startNow func() time.Time // for tests
}

func NewHTTPFetcher(client *http.Client, accept string) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if strings.TrimSpace(accept) == "" {
		accept = "application/geo+json, application/json;q=0.9, */*;q=0.1"
	}
	return &HTTPFetcher{client: client, accept: accept, startNow: time.Now}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, r Request) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", f.accept)

	start := f.startNow()
	resp, err := f.client.Do(req)
	observability.ObserveUpstreamLatency("wms_featureinfo", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(b) > maxBody {
		return nil, fmt.Errorf("response larger than %d bytes", maxBody)
	}
	return b, nil
}
