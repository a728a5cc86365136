// smlcd is the SMLC Lb-interface daemon: it runs the lb.Instance event loop
// against a configured cell location database and subscriber registry, and
// exposes Prometheus metrics over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/osmocom-go/smlcd/internal/bssaple"
	"github.com/osmocom-go/smlcd/internal/config"
	"github.com/osmocom-go/smlcd/internal/config/cellsfile"
	"github.com/osmocom-go/smlcd/internal/lb"
	lbmetrics "github.com/osmocom-go/smlcd/internal/metrics"
	"github.com/osmocom-go/smlcd/internal/sccpsap"
	"github.com/osmocom-go/smlcd/internal/subscr"
	appversion "github.com/osmocom-go/smlcd/internal/version"
)

// shutdownTimeout bounds how long the metrics HTTP server is given to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()))
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("smlcd starting",
		slog.String("version", appversion.Version),
		slog.String("sccp_listen_addr", cfg.SCCP.ListenAddr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	cells, err := cellsfile.Load(cfg.CellsFile)
	if err != nil {
		logger.Error("failed to load cells file", slog.String("error", err.Error()))
		return 1
	}
	logger.Info("cell database loaded", slog.Int("cells", len(cells.List())))

	reg := prometheus.NewRegistry()
	collector := lbmetrics.NewCollector(reg)

	localAddr := sccpsap.Address{PointCode: cfg.SCCP.PointCode, SSN: cfg.SCCP.SSN}
	provider := newLoggingProvider(localAddr, logger)
	subscribers := subscr.NewRegistry(logger)

	inst := lb.NewInstance(
		localAddr,
		provider,
		bssaple.DefaultCodec{},
		cells,
		subscribers,
		logger,
		lb.WithMetrics(collector),
		lb.WithConfig(lb.Config{
			ResetTimeout:    cfg.Lb.ResetTimeout,
			ResetAckTimeout: cfg.Lb.ResetAckTimeout,
			WaitTATimeout:   cfg.Lb.WaitTATimeout,
		}),
	)

	if err := runServers(cfg, inst, reg, logger, *configPath, logLevel); err != nil {
		logger.Error("smlcd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("smlcd stopped")
	return 0
}

// runServers runs the Lb engine and the metrics HTTP server under one
// errgroup with a signal-aware context.
func runServers(
	cfg *config.Config,
	inst *lb.Instance,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		inst.Run(gCtx)
		return nil
	})

	lc := net.ListenConfig{}
	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path))
		return listenAndServe(gCtx, &lc, metricsSrv, cfg.Metrics.Addr)
	})

	startSIGHUPHandler(gCtx, g, configPath, logLevel, logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// startSIGHUPHandler registers a goroutine that reloads the dynamic log
// level on SIGHUP. Session/peer state in lb.Instance is never reloaded this
// way -- only ambient configuration that is safe to change without
// disrupting an in-flight RESET handshake or location request.
func startSIGHUPHandler(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sigHUP:
				reloadLogLevel(configPath, logLevel, logger)
			}
		}
	})
}

func reloadLogLevel(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	logger.Info("received SIGHUP, reloading log level")
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()))
		return
	}
	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)
	logger.Info("log level reloaded",
		slog.String("old_level", oldLevel.String()),
		slog.String("new_level", newLevel.String()))
}

func gracefulShutdown(ctx context.Context, logger *slog.Logger, srv *http.Server) error {
	logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// loggingProvider is a placeholder sccpsap.Provider that logs every downward
// primitive instead of sending it over a real SCCP/M3UA stack -- no such
// transport is implemented in this module. A real deployment replaces this
// with a Provider backed by an actual SCCP user adaptation layer; the
// lb.Instance engine never depends on anything beyond the Provider
// interface.
type loggingProvider struct {
	localAddr sccpsap.Address
	logger    *slog.Logger
}

func newLoggingProvider(localAddr sccpsap.Address, logger *slog.Logger) *loggingProvider {
	return &loggingProvider{localAddr: localAddr, logger: logger.With(slog.String("component", "sccpsap.provider"))}
}

func (p *loggingProvider) ConnectReq(connID uint32, calling, called sccpsap.Address, userData []byte) error {
	p.logger.Warn("ConnectReq: no SCCP transport wired in, dropping",
		slog.Uint64("conn_id", uint64(connID)), slog.String("called", called.String()))
	return nil
}

func (p *loggingProvider) DataReq(connID uint32, data []byte) error {
	p.logger.Warn("DataReq: no SCCP transport wired in, dropping", slog.Uint64("conn_id", uint64(connID)))
	return nil
}

func (p *loggingProvider) DisconnectReq(connID uint32, cause uint8) error {
	p.logger.Warn("DisconnectReq: no SCCP transport wired in, dropping", slog.Uint64("conn_id", uint64(connID)))
	return nil
}

func (p *loggingProvider) UnitdataReq(calling, called sccpsap.Address, data []byte) error {
	p.logger.Warn("UnitdataReq: no SCCP transport wired in, dropping", slog.String("called", called.String()))
	return nil
}

var _ sccpsap.Provider = (*loggingProvider)(nil)
