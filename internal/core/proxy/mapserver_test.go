package proxy

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func tailAfter(prefix string) func(*http.Request) string {
	return func(r *http.Request) string { return strings.TrimPrefix(r.URL.Path, prefix) }
}

func TestHandler_ForwardsPathQueryAndHeaders(t *testing.T) {
	var got *http.Request
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(r.Context())
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("PNG"))
	}))
	defer up.Close()

	m, err := New(discard, up.Client(), up.URL+"/cgi-bin/")
	if err != nil {
		t.Fatal(err)
	}
	h := m.Handler(tailAfter("/api/v1/proxy/mapserver"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/proxy/mapserver/mapserv?map=/maps/geo.map&SERVICE=WMS", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer t")
	rr := httptest.NewRecorder()
	h(rr, req)

	if rr.Code != http.StatusOK || rr.Body.String() != "PNG" || rr.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("code=%d body=%q ct=%q", rr.Code, rr.Body.String(), rr.Header().Get("Content-Type"))
	}
	if got.URL.Path != "/cgi-bin/mapserv" || got.URL.RawQuery != "map=/maps/geo.map&SERVICE=WMS" {
		t.Fatalf("upstream url=%s", got.URL.String())
	}
	if got.Header.Get("User-Agent") != UserAgent || got.Header.Get("Content-Type") != "" || got.Header.Get("Authorization") != "Bearer t" {
		t.Fatalf("upstream headers=%v", got.Header)
	}
}

func TestHandler_UpstreamDownIs502(t *testing.T) {
	up := httptest.NewServer(http.NotFoundHandler())
	base := up.URL
	up.Close()

	m, _ := New(discard, nil, base)
	rr := httptest.NewRecorder()
	m.Handler(tailAfter("/p"))(rr, httptest.NewRequest(http.MethodGet, "/p/mapserv", nil))
	if rr.Code != http.StatusBadGateway || !strings.Contains(rr.Body.String(), "Error connecting to MapServer") {
		t.Fatalf("code=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestHandler_OnlyGET(t *testing.T) {
	m, _ := New(discard, nil, "http://mapserver.test")
	rr := httptest.NewRecorder()
	m.Handler(tailAfter("/p"))(rr, httptest.NewRequest(http.MethodPost, "/p/x", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("code=%d", rr.Code)
	}
}

func TestNew_RejectsRelative(t *testing.T) {
	if _, err := New(discard, nil, "/cgi-bin/mapserv"); err == nil {
		t.Fatal("expected error")
	}
}
