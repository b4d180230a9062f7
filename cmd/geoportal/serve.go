package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/geoportal-viewer/internal/api"
	"github.com/mohammed-shakir/geoportal-viewer/internal/cache"
	"github.com/mohammed-shakir/geoportal-viewer/internal/cache/memstore"
	"github.com/mohammed-shakir/geoportal-viewer/internal/cache/redisstore"
	"github.com/mohammed-shakir/geoportal-viewer/internal/clickevents"
	"github.com/mohammed-shakir/geoportal-viewer/internal/core/config"
	"github.com/mohammed-shakir/geoportal-viewer/internal/core/health"
	"github.com/mohammed-shakir/geoportal-viewer/internal/core/httpclient"
	"github.com/mohammed-shakir/geoportal-viewer/internal/core/observability"
	"github.com/mohammed-shakir/geoportal-viewer/internal/core/proxy"
	"github.com/mohammed-shakir/geoportal-viewer/internal/core/server"
	"github.com/mohammed-shakir/geoportal-viewer/internal/featureinfo"
	"github.com/mohammed-shakir/geoportal-viewer/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/geoportal-viewer/internal/layers"
	"github.com/mohammed-shakir/geoportal-viewer/internal/logger"
	"github.com/mohammed-shakir/geoportal-viewer/internal/mapview"
	"github.com/mohammed-shakir/geoportal-viewer/internal/metrics"
	"github.com/mohammed-shakir/geoportal-viewer/internal/surface"
	"github.com/mohammed-shakir/geoportal-viewer/internal/viewstore"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve map view sessions and the MapServer proxy",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (overrides ADDR)")
	cmd.Flags().String("layers", "", "Layer definitions YAML file (overrides LAYERS_FILE)")
	cmd.Flags().String("mapserver", "", "MapServer WMS endpoint (overrides MAPSERVER_URL)")
	cmd.Flags().String("cache", "", "Feature-info cache driver: none, memory or redis (overrides CACHE_DRIVER)")
	return cmd
}

// applyFlags overrides environment settings with explicitly set flags.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	str := func(name string, dst *string) {
		if cmd.Flags().Changed(name) {
			v, _ := cmd.Flags().GetString(name)
			*dst = strings.TrimSpace(v)
		}
	}
	str("addr", &cfg.Addr)
	str("layers", &cfg.LayersFile)
	str("mapserver", &cfg.MapServerURL)
	str("cache", &cfg.Cache.Driver)

	switch cfg.Cache.Driver {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("unknown cache driver %q", cfg.Cache.Driver)
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.FromEnv()
	if err := applyFlags(cmd, &cfg); err != nil {
		return err
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: "geoportal",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting geoportal",
		"addr", cfg.Addr,
		"version", Version,
		"mapserver", cfg.MapServerURL,
		"cache", cfg.Cache.Driver)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appLog)
	if err != nil {
		appLog.Error("setup failed", "err", err)
		return err
	}
	defer a.Close()

	if err := server.Run(ctx, cfg.Addr, appLog, a.handler); err != nil {
		appLog.Error("server exited", "err", err)
		return err
	}
	appLog.Info("shutdown complete")
	return nil
}

// app owns everything serve starts and must release on shutdown.
type app struct {
	handler http.Handler
	views   *viewstore.Store
	logger  *slog.Logger
	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{logger: log}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	defs := layers.Defaults()
	if cfg.LayersFile != "" {
		d, err := layers.Load(cfg.LayersFile)
		if err != nil {
			return nil, err
		}
		defs = d
	}

	var fetch featureinfo.Fetcher = featureinfo.NewHTTPFetcher(httpclient.NewOutbound(cfg.FeatureTimeout), "")

	ready := map[string]health.Checker{}
	store, err := a.cacheStore(ctx, cfg.Cache, ready)
	if err != nil {
		return nil, err
	}
	if store != nil {
		fetch = featureinfo.NewCachingFetcher(fetch, store, cfg.Cache.TTL, cfg.Cache.OpTimeout, log)
		if cfg.Invalidation.Enabled {
			a.startInvalidation(ctx, cfg, store)
		}
	}

	var clicks mapview.ClickPublisher
	if cfg.ClickEvents.Enabled {
		pub, err := clickevents.NewPublisher(config.Brokers(cfg.KafkaBrokers), cfg.ClickEvents.Topic, 1024, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		clicks = pub
	}

	qcfg := featureinfo.Config{
		Timeout:      cfg.FeatureTimeout,
		InfoFormat:   cfg.FeatureFormat,
		FeatureCount: cfg.FeatureCount,
	}
	center := orb.Point{cfg.DefaultCenterLon, cfg.DefaultCenterLat}
	factory := surface.ViewFactory(cfg.MapServerURL)

	views, err := viewstore.New(cfg.SessionMax, func(id string) *mapview.Controller {
		opts := []mapview.Option{
			mapview.WithLogger(log),
			mapview.WithQueryConfig(qcfg),
			mapview.WithDefaultView(center, cfg.DefaultZoom),
		}
		if clicks != nil {
			opts = append(opts, mapview.WithClickPublisher(clicks))
		}
		return mapview.New(id, factory, defs, fetch, opts...)
	}, log)
	if err != nil {
		return nil, err
	}
	a.views = views

	mp, err := proxy.New(log, httpclient.NewOutbound(httpclient.DefaultTimeout), cfg.MapServerURL)
	if err != nil {
		return nil, err
	}

	rt := server.Routes{
		Views:    api.New(views, log).Routes(),
		MapProxy: mp.Handler(func(r *http.Request) string { return chi.URLParam(r, "*") }),
		Ready:    ready,
	}
	if cfg.MetricsEnabled {
		p := metrics.Init(metrics.Config{Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		}})
		observability.Init(p.Registerer(), true)
		rt.Metrics = p.Handler()
	}
	a.handler = server.NewRouter(log, rt)

	ok = true
	return a, nil
}

func (a *app) cacheStore(ctx context.Context, c config.CacheCfg, ready map[string]health.Checker) (cache.Interface, error) {
	switch c.Driver {
	case "memory":
		return memstore.New(c.Size), nil
	case "redis":
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		rc, err := redisstore.New(dialCtx, c.RedisAddr)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rc.Close)
		ready["redis"] = health.CheckerFunc(rc.Ready)
		return rc, nil
	default:
		return nil, nil
	}
}

// startInvalidation runs the layer change consumer until Close.
func (a *app) startInvalidation(ctx context.Context, cfg config.Config, store cache.Interface) {
	purger, ok := store.(cache.PrefixDeleter)
	if !ok {
		a.logger.Warn("cache driver cannot purge layers; invalidation disabled", "driver", cfg.Cache.Driver)
		return
	}
	consumer := kafkaconsumer.New(kafkaconsumer.Config{
		Brokers:             config.Brokers(cfg.KafkaBrokers),
		Topic:               cfg.Invalidation.Topic,
		GroupID:             cfg.Invalidation.GroupID,
		InitialOffsetOldest: false,
	}, a.logger, purger)

	cctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(cctx); err != nil {
			a.logger.Error("layer change consumer stopped", "err", err)
		}
	}()
	a.closers = append(a.closers, func() error {
		cancel()
		<-done
		return nil
	})
}

// Close unmounts every view before stopping the services they publish to.
func (a *app) Close() {
	if a.views != nil {
		a.views.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown", "err", err)
	}
}
