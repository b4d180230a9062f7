// Package proxy forwards browser map requests to MapServer so that the
// browser only ever talks to this service.
package proxy

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/mohammed-shakir/geoportal-viewer/internal/core/observability"
)

const UserAgent = "GeoportalBackendProxy/1.0"

// request headers that are not passed upstream
var dropHeaders = []string{"Host", "Connection", "User-Agent", "Content-Length", "Content-Type"}

type MapServer struct {
	logger   *slog.Logger
	client   *http.Client
	base     *url.URL
	startNow func() time.Time // for tests
}

func New(logger *slog.Logger, client *http.Client, mapserverURL string) (*MapServer, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(mapserverURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse mapserver url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("mapserver url %q must be absolute", mapserverURL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MapServer{logger: logger, client: client, base: u, startNow: time.Now}, nil
}

// Handler serves GET requests whose path below the mount point is given by
// tail, e.g. chi's URLParam(r, "*").
func (m *MapServer) Handler(tail func(*http.Request) string) http.HandlerFunc {
	rt := http.RoundTripper(http.DefaultTransport)
	if m.client != nil && m.client.Transport != nil {
		rt = m.client.Transport
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		path := strings.TrimLeft(tail(r), "/")
		start := m.startNow()

		proxy := &httputil.ReverseProxy{
			Transport: rt,

			Rewrite: func(p *httputil.ProxyRequest) {
				p.Out.URL.Scheme = m.base.Scheme
				p.Out.URL.Host = m.base.Host
				p.Out.URL.Path = m.base.Path + "/" + path
				p.Out.URL.RawPath = ""
				p.Out.URL.RawQuery = r.URL.RawQuery
				p.Out.Host = m.base.Host
				for _, h := range dropHeaders {
					p.Out.Header.Del(h)
				}
				p.Out.Header.Set("User-Agent", UserAgent)
			},

			ModifyResponse: func(resp *http.Response) error {
				dur := time.Since(start)
				m.logger.Debug("mapserver proxy done",
					"status", resp.StatusCode,
					"path", path,
					"duration", dur.String())
				observability.ObserveUpstreamLatency("mapserver", dur.Seconds())
				return nil
			},

			ErrorHandler: func(w http.ResponseWriter, _ *http.Request, err error) {
				m.logger.Error("mapserver proxy error", "err", err)
				http.Error(w, "Error connecting to MapServer: "+err.Error(), http.StatusBadGateway)
			},
		}
		proxy.ServeHTTP(w, r)
	}
}
