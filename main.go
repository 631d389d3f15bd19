// entry point of the application
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	"mediafetch/internal/config"
	"mediafetch/internal/depmanager"
	"mediafetch/internal/downloader"
	"mediafetch/internal/entity"
	"mediafetch/internal/feedback"
	"mediafetch/internal/format"
	httprouter "mediafetch/internal/infrastructure/delivery/http"
	"mediafetch/internal/observability"
	"mediafetch/internal/platform/youtube"
	"mediafetch/internal/playlist"
	"mediafetch/internal/proxymgr"
	"mediafetch/internal/resolver"
	"mediafetch/internal/service"
	"mediafetch/internal/storage"
	"mediafetch/internal/tagger"
	"mediafetch/internal/transcode"
	httpserver "mediafetch/pkg/http/server"
	"mediafetch/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.New()
	if err != nil {
		slog.Error("config new", slog.Any("error", err))
		stop()
		os.Exit(1)
	}

	log, err := logger.New(&logger.Options{
		AddSource: true,
		Level:     cfg.App.LogLevel,
		Format:    cfg.App.LogFormat,
	})
	if err != nil {
		log.WarnContext(ctx, "logger options invalid; using defaults", slog.Any("error", err))
	}

	metrics := observability.New()

	// ffmpeg is provisioned lazily on the first transcode
	depMgr := depmanager.New(log, cfg.DepManager)
	depMgr.StartUpdateChecker(ctx)

	proxyMgr := proxymgr.New(log, cfg.Proxy, metrics)
	proxyMgr.StartHealthChecker(ctx)

	identity := func(name string, platform entity.Platform, userAgent string) *youtube.Client {
		return youtube.New(log, youtube.Options{
			Name:       name,
			Platform:   platform,
			HTTPClient: youtube.NewHTTPClient(userAgent, proxyMgr.Wrap),
			Timeout:    cfg.Resolver.Timeout,
		})
	}

	res := resolver.New(log, metrics, resolver.Options{
		Primary:   identity("primary", entity.PlatformPrimary, cfg.Resolver.UserAgent),
		Alternate: identity("alternate", entity.PlatformAlternate, cfg.Resolver.UserAgent),
		Bypass:    identity("bypass", entity.PlatformPrimary, cfg.Resolver.BypassUserAgent),
	})

	engine := transcode.New(log, metrics, depMgr, transcode.NewFFmpegRunner(log), cfg.Dir.Work)
	coverClient := &http.Client{Transport: proxyMgr.Wrap(http.DefaultTransport.(*http.Transport).Clone())}

	dl := downloader.New(log, metrics, cfg.Download, downloader.Options{
		Resolver:      res,
		Selector:      format.NewSelector(format.StaticEntitlement(cfg.Download.AudioOnly)),
		Engine:        engine,
		Tagger:        tagger.New(log, coverClient, cfg.Download.MaxCoverWidth, cfg.Dir.Work),
		DefaultFolder: cfg.Dir.Downloads,
		WorkDir:       cfg.Dir.Work,
	})
	pl := playlist.New(log, metrics, res, dl, cfg.Dir.Downloads, cfg.Download.MaxFilenameLength)

	sinks := []feedback.Sink{feedback.NewLogSink(log)}

	var redisSink *feedback.RedisSink
	if cfg.Feedback.RedisAddr != "" {
		redisSink = feedback.NewRedisSink(log, cfg.Feedback)
		sinks = append(sinks, redisSink)
	}

	storer := storage.New(ctx, log, cfg.Storage, metrics)

	// Service
	svc := service.New(cfg, log, metrics, storer, dl, pl, feedback.Multi(sinks...))

	// HTTP Server
	router := httprouter.New(log, cfg, svc, metrics)

	httpSrv := httpserver.New(router, httpserver.Options{
		Addr:            cfg.HTTP.Port,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	})

	log.InfoContext(ctx, "mediafetch started", slog.String("port", cfg.HTTP.Port))

	// Waiting for shutdown signal
	select {
	case <-ctx.Done():
	case err := <-httpSrv.Notify():
		if err != nil {
			log.Error("http server", slog.Any("error", err))
		}
	}

	err = httpSrv.Shutdown()
	if err != nil {
		log.Error(err.Error())
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := svc.Close(closeCtx); err != nil {
		log.Error("service close", slog.Any("error", err))
	}

	if err := engine.Close(); err != nil {
		log.Error("engine close", slog.Any("error", err))
	}

	if redisSink != nil {
		if err := redisSink.Close(); err != nil {
			log.Error("feedback close", slog.Any("error", err))
		}
	}

	log.Info("mediafetch shut down gracefully")
}
