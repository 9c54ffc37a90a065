package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"

	"github.com/rewired-gh/polyedge/internal/config"
	"github.com/rewired-gh/polyedge/internal/detector"
	"github.com/rewired-gh/polyedge/internal/logger"
	"github.com/rewired-gh/polyedge/internal/metrics"
	"github.com/rewired-gh/polyedge/internal/monitor"
	"github.com/rewired-gh/polyedge/internal/oracle"
	"github.com/rewired-gh/polyedge/internal/polymarket"
	"github.com/rewired-gh/polyedge/internal/reconcile"
	"github.com/rewired-gh/polyedge/internal/riskgate"
	"github.com/rewired-gh/polyedge/internal/storage"
	"github.com/rewired-gh/polyedge/internal/strategy"
	"github.com/rewired-gh/polyedge/internal/telegram"
)

// app holds everything a command needs once the configuration is loaded.
type app struct {
	cfg       *config.Config
	registry  *prometheus.Registry
	history   *storage.Storage
	telegram  *telegram.Client
	scheduler *monitor.Scheduler
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", path)
	return cfg, nil
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.New(a.registry)

	history, err := storage.New(cfg.Storage.MaxHistory, cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.history = history

	var dispatcher monitor.Dispatcher = monitor.LogDispatcher{}
	var formatter monitor.Formatter = monitor.TextFormatter{}
	if cfg.Telegram.Enabled {
		a.telegram, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		dispatcher, formatter = a.telegram, telegram.Formatter{}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled, alerts go to the log")
	}

	var reconciler *reconcile.Reconciler
	if cfg.Oracle.Probability.Enabled {
		reconciler = reconcile.New(
			oracle.NewProbabilityClient(oracleConfig(cfg.Oracle.Probability.ServiceConfig)),
			reconcile.Config{
				MinMispricing:    cfg.Strategy.MinMispricing,
				MinConfidence:    cfg.Strategy.MinConfidence,
				MinExpectedValue: reconcile.DefaultConfig().MinExpectedValue,
				Timeout:          cfg.Oracle.Probability.Timeout,
			},
		)
	} else {
		logger.Info("Probability oracle disabled, value and conviction signals are off")
	}

	maxSize := decimal.NewFromFloat(cfg.Strategy.MaxPositionSize)
	gateCfg := riskgate.DefaultConfig()
	gateCfg.MaxPositionSize = maxSize
	gateCfg.Timeout = cfg.Oracle.Risk.Timeout
	gate := riskgate.New(oracle.NewRiskClient(oracleConfig(cfg.Oracle.Risk)), gateCfg)

	stratCfg := strategy.DefaultConfig()
	stratCfg.BasePositionSize = decimal.NewFromFloat(cfg.Strategy.DefaultPositionSize)
	stratCfg.MaxPositionSize = maxSize

	pipeline := monitor.NewPipeline(reconciler, detector.Defaults(), strategy.New(stratCfg), gate, rec)

	source := polymarket.NewClient(
		cfg.Polymarket.GammaAPIURL,
		cfg.Polymarket.Timeout,
		polymarket.ClientConfig{
			MaxRetries:     cfg.Polymarket.MaxRetries,
			RetryDelayBase: cfg.Polymarket.RetryDelayBase,
			Categories:     cfg.Polymarket.Categories,
		},
	)

	a.scheduler, err = monitor.NewScheduler(
		monitor.Config{
			PollInterval:           cfg.Scan.PollInterval(),
			MaxMarketsPerScan:      cfg.Scan.MaxMarketsPerScan,
			MarketsAnalyzedPerScan: cfg.Scan.MarketsAnalyzedPerScan,
			AlertCooldown:          cfg.Scan.AlertCooldown,
			MaxPendingAlerts:       cfg.Scan.MaxPendingAlerts,
		},
		monitor.Deps{
			Source:     source,
			Pipeline:   pipeline,
			Store:      storage.NewStateFile(cfg.Storage.StatePath),
			History:    history,
			Dispatcher: dispatcher,
			Formatter:  formatter,
			Metrics:    rec,
		},
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func oracleConfig(s config.ServiceConfig) oracle.Config {
	return oracle.Config{
		URL:               s.URL,
		APIKey:            s.APIKey,
		Timeout:           s.Timeout,
		RequestsPerMinute: s.RequestsPerMinute,
		BreakerFailures:   uint32(s.BreakerFailures),
		BreakerCooldown:   s.BreakerCooldown,
	}
}

func (a *app) Close() {
	if a.history == nil {
		return
	}
	if err := a.history.Close(); err != nil {
		logger.Error("Failed to close storage: %v", err)
	}
}
