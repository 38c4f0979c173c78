package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/msip/internal/config"
	"github.com/zeusync/msip/internal/core/broker"
	"github.com/zeusync/msip/internal/core/observability/log"
	"github.com/zeusync/msip/internal/server"
)

// ProviderSet builds a ready-to-start broker process from a config.Config.
var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideBrokerConfig,
	ProvideBroker,
	ProvideServerConfig,
	server.NewServer,
	NewApp,
)

// App is the wired process: a server and the logger it reports to.
type App struct {
	Server *server.Server
	Logger log.Log
}

func NewApp(srv *server.Server, logger log.Log) *App {
	return &App{Server: srv, Logger: logger}
}

// ProvideLogger builds the process logger. The cleanup flushes it.
func ProvideLogger(cfg config.Config) (log.Log, func()) {
	logger := log.New(cfg.LogLevel)
	return logger, func() { _ = logger.Sync() }
}

func ProvideBrokerConfig(cfg config.Config) broker.Config {
	return broker.Config{Shards: cfg.Shards}
}

// ProvideBroker builds the broker with fan-out logging installed.
func ProvideBroker(cfg broker.Config, logger log.Log) *broker.Broker {
	b := broker.New(cfg, logger)
	b.AddObserver(broker.NewLogObserver(logger))
	return b
}

func ProvideServerConfig(cfg config.Config) server.Config {
	return server.Config{
		ListenAddr:      cfg.ListenAddr,
		WebSocketAddr:   cfg.WebSocketAddr,
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		DrainTimeout:    cfg.DrainTimeout,
		ReusePort:       cfg.ReusePort,
	}
}
