package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Codewithaiyan/ObserveAI/internal/analysis"
	"github.com/Codewithaiyan/ObserveAI/internal/api"
	"github.com/Codewithaiyan/ObserveAI/internal/baseline"
	"github.com/Codewithaiyan/ObserveAI/internal/cache"
	"github.com/Codewithaiyan/ObserveAI/internal/config"
	"github.com/Codewithaiyan/ObserveAI/internal/correlator"
	"github.com/Codewithaiyan/ObserveAI/internal/dispatch"
	"github.com/Codewithaiyan/ObserveAI/internal/engine"
	"github.com/Codewithaiyan/ObserveAI/internal/metrics"
	"github.com/Codewithaiyan/ObserveAI/internal/models"
	"github.com/Codewithaiyan/ObserveAI/internal/repo"
	"github.com/Codewithaiyan/ObserveAI/internal/scorer"
	"github.com/Codewithaiyan/ObserveAI/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting observeai-agent", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	cacheLive := false
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable, alert dedup is in-memory only", slog.Any("error", err))
		} else {
			cacheProvider = provider
			cacheLive = true
			defer provider.Close()
		}
	}

	var metricsSource engine.MetricsSource
	if cfg.Metrics.BaseURL != "" {
		metricsSource = repo.NewMetricsBackendClient(cfg.Metrics.BaseURL, cfg.Metrics.QueryPath, cfg.Metrics.Timeout)
	}
	var logsSource engine.LogsSource
	if cfg.Logs.BaseURL != "" {
		logsSource = repo.NewLogsBackendClient(cfg.Logs.BaseURL, cfg.Logs.Index, cfg.Logs.Timeout)
	}

	baselines := baseline.NewStore(cfg.State.Path, utils.ComponentLogger(logger, "baseline"))
	if cacheLive {
		baselines.EnableMirror(cacheProvider)
	}

	anomalyScorer := scorer.New(scorer.Config{
		AnomalyScoreThreshold: cfg.Detection.AnomalyScoreThreshold,
		ZScoreThreshold:       cfg.Detection.ZScoreThreshold,
		ErrorRateThreshold:    cfg.Detection.ErrorRateThreshold,
		HighErrorThreshold:    cfg.Detection.HighErrorThreshold,
		MinSamples:            cfg.Detection.MinSamples,
	})

	incidentCorrelator := correlator.New(correlator.Config{
		CorrelationWindow: cfg.Detection.CorrelationWindow,
		QuietPeriod:       cfg.Detection.QuietPeriod,
		Dependencies:      cfg.Dependencies,
	}, utils.ComponentLogger(logger, "correlator"))

	analyzer := analysis.NewRequester(cfg.Analysis.URL, cfg.Analysis.Timeout, utils.ComponentLogger(logger, "analysis"))

	var channels []dispatch.Channel
	if cfg.Alerting.ChatWebhookURL != "" {
		channels = append(channels, dispatch.NewChatWebhookChannel(cfg.Alerting.ChatWebhookURL, cfg.Alerting.Timeout))
	}
	if cfg.Alerting.GenericWebhookURL != "" {
		channels = append(channels, dispatch.NewGenericWebhookChannel(cfg.Alerting.GenericWebhookURL, cfg.Alerting.Timeout))
	}
	if len(channels) == 0 {
		logger.Warn("no alert channels configured, incidents will only be visible via the API")
	}

	routingRules, err := dispatch.LoadRoutingRules(cfg.Alerting.RoutingRulesPath)
	if err != nil {
		logger.Error("failed to load routing rules", slog.Any("error", err))
		os.Exit(1)
	}

	dispatcher := dispatch.New(channels, routingRules, cacheProvider, dispatch.Config{
		MinSeverity: models.Severity(cfg.Alerting.MinSeverity),
		Timeout:     cfg.Alerting.Timeout,
	}, utils.ComponentLogger(logger, "dispatch"))

	monitor := engine.New(
		*cfg,
		metricsSource,
		logsSource,
		baselines,
		anomalyScorer,
		incidentCorrelator,
		analyzer,
		dispatcher,
		utils.ComponentLogger(logger, "engine"),
	)

	handler := api.NewHandler(monitor, utils.ComponentLogger(logger, "api"))
	server, err := api.NewServer(cfg.Server, handler.Router())
	if err != nil {
		logger.Error("failed to create API server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	var loopWG sync.WaitGroup
	loopWG.Add(1)
	go func() {
		defer loopWG.Done()
		monitor.Run(ctx)
	}()

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("API server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	loopWG.Wait()
	logger.Info("observeai-agent stopped")
}
