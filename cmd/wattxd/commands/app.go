package commands

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/The-Mining-Game/WATTx/internal/apperrors"
	"github.com/The-Mining-Game/WATTx/internal/blockheader"
	"github.com/The-Mining-Game/WATTx/internal/config"
	"github.com/The-Mining-Game/WATTx/internal/gpuengine"
	"github.com/The-Mining-Game/WATTx/internal/hashengine"
	"github.com/The-Mining-Game/WATTx/internal/jobbroker"
	"github.com/The-Mining-Game/WATTx/internal/logging"
	"github.com/The-Mining-Game/WATTx/internal/metrics"
	"github.com/The-Mining-Game/WATTx/internal/minerdriver"
	"github.com/The-Mining-Game/WATTx/internal/provider"
	"github.com/The-Mining-Game/WATTx/internal/sieve"
	"github.com/The-Mining-Game/WATTx/internal/stratum"
)

// App wires every component of the mining subsystem into a single,
// long-lived process. Each CLI verb either inspects App's current state
// or mutates it, mirroring the RPC surface a full node would expose to
// its own mining module in-process rather than over a second transport.
type App struct {
	Logger   *zap.Logger
	Config   *config.Config
	Provider provider.BlockTemplateProvider
	Metrics  *metrics.Exporter

	HashEngine  *hashengine.Engine
	SieveEngine *sieve.Engine
	Broker      *jobbroker.Broker
	Stratum     *stratum.Server
	Driver      *minerdriver.Driver

	ErrorHandler *apperrors.ErrorHandler
}

func newApp(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	loggerFactory, err := logging.NewLoggerFactory(logging.DefaultLogConfig())
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	logger := loggerFactory.GetLogger("wattxd")

	prov := provider.NewStub()

	hashCfg := hashengine.Config{
		Threads:  cfg.HashEngine.Threads,
		Mode:     modeFromString(cfg.HashEngine.Mode),
		SafeMode: cfg.HashEngine.SafeMode,
		HugePages: cfg.Performance.HugePagesEnabled,
	}
	hashEngine := hashengine.New(logger, hashCfg)

	sieveParams := sieve.Params{
		SieveBytes:   cfg.Sieve.SieveBytes,
		SievePrimes:  cfg.Sieve.SievePrimes,
		WheelModulus: 210,
		Shift:        cfg.Sieve.Shift,
		FermatRounds: cfg.Sieve.FermatRounds,
		MinGapSize:   10,
	}
	sieveEngine := sieve.New(logger, sieveParams, gpuengine.Noop())

	var stratumServer *stratum.Server
	broker := jobbroker.New(logger, jobbroker.Config{
		JobTimeoutSeconds: int(cfg.Stratum.JobTimeout.Seconds()),
		ServerTarget:      blockheader.PoolTargetFromDifficulty(cfg.Stratum.MinDiff),
		Algo:              "rx/0",
	}, prov, func(j *jobbroker.Job) {
		if stratumServer != nil {
			stratumServer.BroadcastJob(j)
		}
	})

	driver := minerdriver.New(logger, broker, prov, hashEngine, sieveEngine, cfg.Sieve.TargetMerit, cfg.Sieve.GPUWorkers)

	stratumServer = stratum.New(logger, stratum.Config{
		ListenAddr:    cfg.Stratum.ListenAddr,
		MaxClients:    cfg.Stratum.MaxClients,
		IdleTimeout:   cfg.Stratum.IdleTimeout,
		RecvBufferMax: cfg.Stratum.RecvBufferMax,
	}, broker, stratum.Callbacks{
		OnSubmit: driver.ValidateAndSubmitShare,
	})

	metricsExporter := metrics.New(logger, metrics.Config{
		Enabled:     cfg.Monitoring.PrometheusAddr != "",
		ListenAddr:  cfg.Monitoring.PrometheusAddr,
		MetricsPath: "/metrics",
		Namespace:   "wattx",
	})
	sieveEngine.SetMetrics(metricsExporter)
	driver.SetMetrics(metricsExporter)
	stratumServer.SetMetrics(metricsExporter)

	return &App{
		Logger:       logger,
		Config:       cfg,
		Provider:     prov,
		Metrics:      metricsExporter,
		HashEngine:   hashEngine,
		SieveEngine:  sieveEngine,
		Broker:       broker,
		Stratum:      stratumServer,
		Driver:       driver,
		ErrorHandler: apperrors.NewErrorHandler(logger),
	}, nil
}

func modeFromString(s string) hashengine.Mode {
	if s == "full" {
		return hashengine.ModeFull
	}
	return hashengine.ModeLight
}

func (a *App) ensureBroker(ctx context.Context) error {
	if a.Broker.Current() != nil {
		return nil
	}
	return a.Broker.Start(ctx)
}
