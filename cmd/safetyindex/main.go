package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridian-mobility/safetyindex/internal/api"
	"github.com/meridian-mobility/safetyindex/internal/cache"
	"github.com/meridian-mobility/safetyindex/internal/calibration"
	"github.com/meridian-mobility/safetyindex/internal/config"
	"github.com/meridian-mobility/safetyindex/internal/ebayes"
	"github.com/meridian-mobility/safetyindex/internal/engine"
	"github.com/meridian-mobility/safetyindex/internal/events"
	"github.com/meridian-mobility/safetyindex/internal/plugins"
	"github.com/meridian-mobility/safetyindex/internal/rtsi"
	"github.com/meridian-mobility/safetyindex/internal/store"
	"github.com/meridian-mobility/safetyindex/internal/uplift"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := store.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	// Events (optional)
	var bus events.Client
	if cfg.NATS.URL != "" {
		nc, err := events.NewNATSClient(ctx, cfg.NATS.URL, logger)
		if err != nil {
			logger.Warn("failed to connect to nats, running without events", "error", err)
		} else {
			bus = nc
			defer nc.Close()
			logger.Info("connected to nats")
		}
	}

	// Live cache (optional)
	var liveCache *cache.Cache
	if cfg.Redis.URL != "" {
		rc, err := cache.New(ctx, cfg.Redis.URL, cfg.RedisTTL(), logger)
		if err != nil {
			logger.Warn("failed to connect to redis, running without cache", "error", err)
		} else {
			liveCache = rc
			defer rc.Close()
			logger.Info("connected to redis")
		}
	}

	severity := ebayes.SeverityWeights{
		Fatal:  cfg.Scoring.Severity.Fatal,
		Injury: cfg.Scoring.Severity.Injury,
		PDO:    cfg.Scoring.Severity.PDO,
	}
	upliftCoeffs := uplift.Coefficients{
		K1:              cfg.Scoring.Uplift.K1,
		K2:              cfg.Scoring.Uplift.K2,
		K3:              cfg.Scoring.Uplift.K3,
		Beta1:           cfg.Scoring.Uplift.Beta1,
		Beta2:           cfg.Scoring.Uplift.Beta2,
		Beta3:           cfg.Scoring.Uplift.Beta3,
		TurningFraction: cfg.Scoring.Uplift.TurningFraction,
		ConflictScale:   cfg.Scoring.Uplift.ConflictScale,
		Epsilon:         1e-6,
	}
	rtsiParams := rtsi.Params{
		K4:           cfg.Scoring.RTSI.K4,
		K5:           cfg.Scoring.RTSI.K5,
		Gamma:        cfg.Scoring.RTSI.Gamma,
		RoadCapacity: cfg.Scoring.RTSI.RoadCapacity,
		OmegaVRU:     cfg.Scoring.RTSI.OmegaVRU,
		OmegaVehicle: cfg.Scoring.RTSI.OmegaVehicle,
		Epsilon:      1e-6,
	}
	params := engine.Params{
		DefaultAlpha:  cfg.Scoring.DefaultAlpha,
		BinWidth:      cfg.BinWidth(),
		Lookback:      cfg.Lookback(),
		Uplift:        upliftCoeffs,
		RTSI:          rtsiParams,
		Tau:           cfg.Scoring.Tau,
		BootstrapRate: cfg.Scoring.BootstrapRate,
	}

	// Plugin registry
	registry := plugins.NewRegistry(logger, plugins.WithMaxWorkers(cfg.Plugins.MaxWorkers))
	registerPlugins(registry, db, cfg, severity, upliftCoeffs, logger)
	if v := registry.ValidateWeights(); !v.Valid {
		logger.Warn("plugin weights do not sum to 1.0", "sum", v.Sum, "message", v.Message)
	}

	// Engine + calibration loop
	eng := engine.New(db, registry, liveCache, bus, params, logger)
	cal := calibration.New(db, eng, bus, calibration.Options{
		Interval:      cfg.CalibrationInterval(),
		HistoryWindow: cfg.HistoryWindow(),
		RiskWindow:    cfg.RiskWindow(),
		Severity:      severity,
		Stratify:      cfg.Calibration.Stratify,
		FallbackK:     cfg.Calibration.FallbackK,
		BootstrapRate: cfg.Scoring.BootstrapRate,
		Params:        params,
	}, logger)
	cal.Start(ctx)
	defer cal.Stop()
	logger.Info("calibrator started", "interval", cfg.CalibrationInterval())

	// API server
	router := api.NewRouter(eng, db, liveCache, registry, cal, cfg.Server.AdminToken, logger)
	apiServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Metrics server
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: api.NewMetricsRouter(),
	}

	go func() {
		logger.Info("API server starting", "port", cfg.Server.Port)
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("API server error", "error", err)
		}
	}()

	go func() {
		logger.Info("metrics server starting", "port", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
}

func registerPlugins(registry *plugins.Registry, db store.Store, cfg *config.Config, severity ebayes.SeverityWeights, coeffs uplift.Coefficients, logger *slog.Logger) {
	source := &storeSource{store: db, binWidth: cfg.BinWidth()}

	mustRegister := func(name string, reg plugins.Registration) {
		if err := registry.Register(name, reg); err != nil {
			logger.Error("plugin registration failed", "plugin", name, "error", err)
			os.Exit(1)
		}
	}

	mustRegister("telemetry", plugins.Registration{
		Plugin:  plugins.NewTelemetryPlugin(source, coeffs, cfg.Plugins.Telemetry.Weight),
		Enabled: cfg.Plugins.Telemetry.Enabled,
		Weight:  cfg.Plugins.Telemetry.Weight,
		Timeout: cfg.Plugins.Telemetry.Timeout(),
	})
	mustRegister("incidents", plugins.Registration{
		Plugin:  plugins.NewIncidentPlugin(source, severity, cfg.Scoring.IncidentSeverityScale, cfg.Plugins.Incidents.Weight),
		Enabled: cfg.Plugins.Incidents.Enabled,
		Weight:  cfg.Plugins.Incidents.Weight,
		Timeout: cfg.Plugins.Incidents.Timeout(),
	})
	mustRegister("weather", plugins.Registration{
		Plugin:  plugins.NewWeatherPlugin(cfg.Weather.URL, cfg.Weather.APIKey, cfg.Plugins.Weather.Weight),
		Enabled: cfg.Plugins.Weather.Enabled && cfg.Weather.URL != "",
		Weight:  cfg.Plugins.Weather.Weight,
		Timeout: cfg.Plugins.Weather.Timeout(),
	})
}
