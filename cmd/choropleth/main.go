package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/vulnerability-map/internal/choropleth"
	"github.com/mohammed-shakir/vulnerability-map/internal/core/config"
	"github.com/mohammed-shakir/vulnerability-map/internal/core/httpclient"
	"github.com/mohammed-shakir/vulnerability-map/internal/core/model"
	"github.com/mohammed-shakir/vulnerability-map/internal/core/observability"
	"github.com/mohammed-shakir/vulnerability-map/internal/core/router"
	"github.com/mohammed-shakir/vulnerability-map/internal/core/server"
	"github.com/mohammed-shakir/vulnerability-map/internal/dataprovider"
	"github.com/mohammed-shakir/vulnerability-map/internal/loadevents"
	"github.com/mohammed-shakir/vulnerability-map/internal/logger"
	"github.com/mohammed-shakir/vulnerability-map/internal/mapsurface"
	"github.com/mohammed-shakir/vulnerability-map/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env", ".env", "dotenv file to load before reading the environment")
	flag.Parse()
	_ = godotenv.Load(*envFile)

	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "choropleth",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting choropleth",
		"addr", cfg.Addr,
		"version", Version,
		"data_service", cfg.DataServiceURL,
		"catalog_cache_size", cfg.CatalogCacheSize,
		"catalog_cache_ttl", cfg.CatalogCacheTTL)

	mp := metrics.Init(metrics.BuildInfoFromEnv(Version))

	provider := dataprovider.New(appLog,
		httpclient.NewOutbound(cfg.DataServiceTimeout),
		cfg.DataServiceURL,
		dataprovider.WithCatalogCache(cfg.CatalogCacheSize, cfg.CatalogCacheTTL),
	)

	opts := []choropleth.Option{
		choropleth.WithLogger(appLog),
		choropleth.WithDefaultRequest(model.RenderRequest{
			BoundaryID:  cfg.DefaultBoundary,
			IndicatorID: cfg.DefaultIndicator,
		}),
		choropleth.WithViewport(choropleth.Viewport{
			Center:     orb.Point{cfg.Map.CenterLon, cfg.Map.CenterLat},
			Zoom:       cfg.Map.Zoom,
			FitPadding: cfg.Map.FitPadding,
			Tiles: choropleth.TileLayer{
				URLTemplate: cfg.Map.TileURL,
				Attribution: cfg.Map.TileAttribution,
			},
		}),
	}

	var pub *loadevents.Publisher
	if cfg.LoadEvents.Enabled {
		p, err := loadevents.NewPublisher(cfg.LoadEvents.Brokers, cfg.LoadEvents.Topic, cfg.LoadEvents.Queue, appLog)
		if err != nil {
			appLog.Warn("load events disabled", "err", err, "brokers", cfg.LoadEvents.Brokers)
		} else {
			pub = p
			opts = append(opts, choropleth.WithDataLoaded(pub.OnDataLoad))
		}
	}

	renderer := choropleth.New(provider, opts...)
	surface := mapsurface.NewMemory()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := renderer.Initialize(ctx, surface); err != nil {
		appLog.Error("map initialization failed", "err", err)
		return 1
	}

	api := router.New(appLog, provider, renderer, surface)
	code := 0
	if err := server.Run(ctx, cfg, appLog, server.Handler(appLog, api, renderer, mp.Handler())); err != nil {
		appLog.Error("server exited with error", "err", err)
		code = 1
	}

	if err := renderer.Teardown(); err != nil {
		appLog.Warn("teardown", "err", err)
	}
	renderer.Wait()
	if pub != nil {
		if err := pub.Close(); err != nil {
			appLog.Warn("closing load events", "err", err)
		}
	}
	appLog.Info("server stopped")
	return code
}
