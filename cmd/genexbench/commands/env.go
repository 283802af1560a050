package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/genexbench/pkg/archive"
	"github.com/Sumatoshi-tech/genexbench/pkg/catalog"
	"github.com/Sumatoshi-tech/genexbench/pkg/config"
	"github.com/Sumatoshi-tech/genexbench/pkg/engine"
	"github.com/Sumatoshi-tech/genexbench/pkg/engine/bridge"
	"github.com/Sumatoshi-tech/genexbench/pkg/notify"
	"github.com/Sumatoshi-tech/genexbench/pkg/observability"
	"github.com/Sumatoshi-tech/genexbench/pkg/version"
)

const (
	metricsPath           = "/metrics"
	serverShutdownTimeout = 5 * time.Second
	readHeaderTimeout     = 10 * time.Second
)

// env is what one subcommand invocation runs with.
type env struct {
	cfg       *config.Config
	providers observability.Providers
	metrics   *observability.RunMetrics
	logger    *slog.Logger

	port       engine.Port
	closePort  func() error
	metricAddr string
}

// setup loads the configuration, applies override to it, and initializes
// observability.
func (g *globals) setup(mode observability.AppMode, metricsAddr string, override func(*config.Config)) (*env, error) {
	cfg, err := config.LoadConfig(g.configPath)
	if err != nil {
		return nil, err
	}

	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}

	if g.logJSON {
		cfg.Logging.Format = "json"
	}

	if metricsAddr != "" {
		cfg.Observability.MetricsAddr = metricsAddr
	}

	if override != nil {
		override(cfg)
	}

	err = config.Validate(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.Mode = mode
	obsCfg.RunID = uuid.NewString()
	obsCfg.OTLPEndpoint = cfg.Observability.OTLPEndpoint
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(cfg.Observability.OTLPHeaders)
	obsCfg.OTLPInsecure = cfg.Observability.OTLPInsecure
	obsCfg.Prometheus = cfg.Observability.MetricsAddr != ""
	obsCfg.SampleRatio = cfg.Observability.SampleRatio
	obsCfg.LogLevel = observability.ParseLevel(cfg.Logging.Level)
	obsCfg.LogJSON = cfg.Logging.Format == "json"
	obsCfg.LogOutput = g.logOutput

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	metrics, err := observability.NewRunMetrics(providers.Meter)
	if err != nil {
		return nil, errors.Join(err, providers.Shutdown(context.Background()))
	}

	return &env{
		cfg:        cfg,
		providers:  providers,
		metrics:    metrics,
		logger:     providers.Logger,
		port:       g.port,
		metricAddr: cfg.Observability.MetricsAddr,
	}, nil
}

// engine returns the engine port, starting the engine process unless one was
// injected. Dry runs get engine.Offline instead of a process.
func (e *env) engine(ctx context.Context, dryRun bool) (engine.Port, error) {
	if e.port == nil && dryRun {
		return engine.Offline{}, nil
	}

	if e.port != nil {
		return engine.WithTimeout(e.port, e.cfg.Engine.Timeout, e.logger), nil
	}

	client, err := bridge.Start(ctx, e.logger, e.cfg.Engine.Command, e.cfg.Engine.Args...)
	if err != nil {
		return nil, err
	}

	e.port = client
	e.closePort = client.Close

	return engine.WithTimeout(client, e.cfg.Engine.Timeout, e.logger), nil
}

func (e *env) loadOptions() engine.LoadOptions {
	return engine.LoadOptions{
		Delimiter:   e.cfg.Engine.Delimiter,
		LabelColumn: e.cfg.Engine.LabelColumn,
		SkipColumns: e.cfg.Engine.SkipColumns,
	}
}

func (e *env) catalog() (*catalog.Catalog, error) {
	return catalog.Open(e.cfg.Paths.Catalog)
}

func (e *env) notifier() notify.Sink {
	if e.cfg.Notify.SMTPServer == "" {
		return notify.Discard{}
	}

	return notify.NewMailer(e.cfg.Notify.SMTPServer, e.cfg.Notify.From, e.logger)
}

// archiver returns nil, which archives nothing, unless archive.dir is set.
func (e *env) archiver() (*archive.Archiver, error) {
	a := e.cfg.Archive
	if a.Dir == "" {
		return nil, nil
	}

	var opts []archive.Option

	if a.S3Bucket != "" {
		remote, err := archive.NewS3(archive.S3Config{
			Endpoint:        a.S3Endpoint,
			Bucket:          a.S3Bucket,
			Prefix:          a.S3Prefix,
			AccessKeyID:     a.AccessKeyID,
			SecretAccessKey: a.SecretAccessKey,
			Secure:          a.S3Secure,
		})
		if err != nil {
			return nil, err
		}

		opts = append(opts, archive.WithRemote(remote))
	}

	return archive.New(a.Dir, e.logger, opts...), nil
}

// close stops the engine process and flushes telemetry.
func (e *env) close() {
	if e.closePort != nil {
		err := e.closePort()
		if err != nil {
			e.logger.Warn("engine shutdown failed", slog.Any("error", err))
		}
	}

	err := e.providers.Shutdown(context.Background())
	if err != nil {
		e.logger.Warn("observability shutdown failed", slog.Any("error", err))
	}
}

// serve runs work and, when a metrics address is configured, the Prometheus
// scrape endpoint next to it until work returns.
func (e *env) serve(ctx context.Context, work func(context.Context) error) error {
	if e.metricAddr == "" || e.providers.MetricsHandler == nil {
		return work(ctx)
	}

	mux := http.NewServeMux()
	mux.Handle(metricsPath, e.providers.MetricsHandler)

	srv := &http.Server{
		Addr:              e.metricAddr,
		Handler:           observability.HTTPMiddleware(e.providers.Tracer, mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		e.logger.InfoContext(gctx, "serving metrics", slog.String("addr", e.metricAddr+metricsPath))

		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("metrics server: %w", err)
	})

	g.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), serverShutdownTimeout)
			defer cancel()

			_ = srv.Shutdown(shutdownCtx)
		}()

		return work(gctx)
	})

	return g.Wait()
}

// changed reports whether the user set flag name on cmd.
func changed(cmd *cobra.Command, name string) bool {
	f := cmd.Flags().Lookup(name)

	return f != nil && f.Changed
}
