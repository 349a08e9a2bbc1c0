package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/departure-collector/internal/circuitbreaker"
	"github.com/kjstillabower/departure-collector/internal/client"
	"github.com/kjstillabower/departure-collector/internal/collector"
	"github.com/kjstillabower/departure-collector/internal/config"
	httphandler "github.com/kjstillabower/departure-collector/internal/http"
	"github.com/kjstillabower/departure-collector/internal/lifecycle"
	"github.com/kjstillabower/departure-collector/internal/observability"
	"github.com/kjstillabower/departure-collector/internal/pipeline"
	"github.com/kjstillabower/departure-collector/internal/status"
	"github.com/kjstillabower/departure-collector/internal/store"
	"github.com/kjstillabower/departure-collector/internal/traffic"
)

func main() {
	cfg, cfgErr := config.Load()
	level := os.Getenv("LOG_LEVEL")
	if cfgErr == nil {
		level = cfg.LogLevel
	}
	logger, err := observability.NewLogger(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if cfgErr != nil {
		var ce *config.ConfigError
		if errors.As(cfgErr, &ce) {
			logger.Fatal("invalid configuration", zap.String("error_type", string(ce.Type)), zap.Error(cfgErr))
		}
		logger.Fatal("config", zap.Error(cfgErr))
	}
	logger.Info("configuration loaded",
		zap.String("env", cfg.Env),
		zap.Int("stations", len(cfg.Stations)),
		zap.Stringer("window", cfg.Window),
		zap.Duration("interval", cfg.Interval),
		zap.String("alignment", cfg.Alignment),
	)

	feeds, err := newFeeds(cfg, logger)
	if err != nil {
		logger.Fatal("feed clients", zap.Error(err))
	}

	sink, err := store.NewInfluxSink(store.InfluxConfig{
		URL:     cfg.InfluxURL,
		Token:   cfg.InfluxToken,
		Org:     cfg.InfluxOrg,
		Bucket:  cfg.InfluxBucket,
		Timeout: cfg.WriteTimeout,
	})
	if err != nil {
		logger.Fatal("influx sink", zap.Error(err))
	}
	defer sink.Close()

	var statuses status.Store
	var memcached *status.MemcachedStore
	switch cfg.StatusBackend {
	case config.BackendMemcached:
		memcached = status.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		statuses = memcached
		logger.Info("status backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		statuses = status.NewInMemoryStore()
		logger.Info("status backend: in_memory")
	}

	aligner, err := pipeline.NewAligner(cfg.Alignment)
	if err != nil {
		logger.Fatal("aligner", zap.Error(err))
	}

	coll, err := collector.New(collector.Config{
		Stations:  cfg.Stations,
		Window:    cfg.Window,
		Location:  cfg.Location,
		Workers:   cfg.Workers,
		StatusTTL: cfg.StatusTTL,
	}, collector.Deps{
		Schedule: feeds.schedule,
		Realtime: feeds.realtime,
		Weather:  feeds.weather,
		Aligner:  aligner,
		Sink:     sink,
		Status:   statuses,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("collector", zap.Error(err))
	}

	traffic.EnsureRetention(cfg.DegradedWindow)
	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:     cfg.DegradedWindow,
		DegradedErrorPct:   cfg.DegradedErrorPct,
		DegradedMinSamples: cfg.DegradedMinSamples,
		Window:             cfg.Window,
		StorePing:          sink.Ping,
	}
	if memcached != nil {
		healthConfig.StatusPing = memcached.Ping
	}
	handler := httphandler.NewHandler(statuses, cfg.StationNames(), healthConfig, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      httphandler.NewRouter(handler, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- coll.Run(ctx, collector.IntervalTrigger{Interval: cfg.Interval}) }()

	<-ctx.Done()
	stop()
	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	select {
	case err := <-done:
		if err != nil {
			logger.Error("collector stopped with error", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Warn("collection cycle did not finish before shutdown timeout")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if memcached != nil {
		if err := memcached.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
	}
}

type feedSet struct {
	schedule *client.ScheduleClient
	realtime *client.RealtimeClient
	weather  *client.WeatherClient
}

// newFeeds builds the three feed clients. The two departure feeds share one
// credential and therefore one rate limiter; each feed has its own breaker.
func newFeeds(cfg *config.Config, logger *zap.Logger) (feedSet, error) {
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	dbHeaders := map[string]string{
		"DB-Client-Id": cfg.DBClientID,
		"DB-Api-Key":   cfg.DBAPIKey,
	}

	schedule, err := client.NewScheduleClient(client.Options{
		BaseURL: cfg.ScheduleURL,
		Timeout: cfg.FeedTimeout,
		Headers: dbHeaders,
		Limiter: limiter,
		Breaker: newBreaker(cfg, client.FeedSchedule, logger),
	})
	if err != nil {
		return feedSet{}, err
	}
	realtime, err := client.NewRealtimeClient(client.Options{
		BaseURL: cfg.RealtimeURL,
		Timeout: cfg.FeedTimeout,
		Headers: dbHeaders,
		Limiter: limiter,
		Breaker: newBreaker(cfg, client.FeedRealtime, logger),
	})
	if err != nil {
		return feedSet{}, err
	}
	weather, err := client.NewWeatherClient(cfg.WeatherAPIKey, client.Options{
		BaseURL: cfg.WeatherURL,
		Timeout: cfg.FeedTimeout,
		Breaker: newBreaker(cfg, client.FeedWeather, logger),
	})
	if err != nil {
		return feedSet{}, err
	}
	return feedSet{schedule: schedule, realtime: realtime, weather: weather}, nil
}

func newBreaker(cfg *config.Config, feed string, logger *zap.Logger) *circuitbreaker.CircuitBreaker {
	observability.CircuitBreakerState.WithLabelValues(feed).Set(0)
	return circuitbreaker.New(circuitbreaker.Config{
		Name:             feed,
		FailureThreshold: cfg.BreakerFailureThreshold,
		Cooldown:         cfg.BreakerCooldown,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(name, from.String(), to.String(), int(to))
			logger.Warn("circuit breaker state change",
				zap.String("feed", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}
