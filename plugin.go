package mouse_telemetry

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/roadrunner-server/endure/v2/dep"
	"github.com/roadrunner-server/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Plugin represents the main plugin structure
type Plugin struct {
	config     *Config
	logger     *zap.Logger
	metrics    *metricsCollector
	store      Store
	identity   *Identity
	transport  *HTTPTransport
	retryMgr   *RetryManager
	dispatcher *Dispatcher
	pages      *Pages
	server     *http.Server

	dispatchLoop *Loop
	pageLoop     *Loop

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	served atomic.Bool
	stopCh chan struct{}
	doneCh chan struct{}
}

// Configurer interface for config plugin
type Configurer interface {
	UnmarshalKey(name string, out interface{}) error
	Has(name string) bool
}

// Logger interface for logger plugin
type Logger interface {
	NamedLogger(name string) *zap.Logger
}

// SampleSink interface for other plugins to use
type SampleSink interface {
	SubmitSample(sample *Sample) error
	GetStatus(ctx context.Context) Status
}

// Init initializes the plugin
func (p *Plugin) Init(cfg Configurer, log Logger) error {
	const op = errors.Op("mouse_telemetry_init")

	// Check if configuration section exists
	if !cfg.Has(PluginName) {
		return errors.E(op, errors.Disabled)
	}

	// Unmarshal configuration
	config := &Config{}
	if err := cfg.UnmarshalKey(PluginName, config); err != nil {
		return errors.E(op, err)
	}

	// Initialize defaults and validate
	config.InitDefaults()
	if err := config.Validate(); err != nil {
		return errors.E(op, err)
	}

	// Check if plugin is enabled
	if !config.Enabled {
		return errors.E(op, errors.Disabled)
	}

	logger := log.NamedLogger(PluginName)
	if level, err := zapcore.ParseLevel(config.Logging.Level); err == nil {
		logger = logger.WithOptions(zap.IncreaseLevel(level))
	}

	store, err := NewStore(&config.Storage)
	if err != nil {
		return errors.E(op, err)
	}

	if err := p.build(config, logger, store); err != nil {
		_ = store.Close()
		return errors.E(op, err)
	}

	p.logger.Info("Mouse telemetry plugin initialized",
		zap.Bool("enabled", config.Enabled),
		zap.String("storage", config.Storage.Driver),
		zap.Duration("sample_duration", config.Sampler.SampleDuration),
		zap.Duration("sleep_duration", config.Sampler.SleepDuration),
		zap.Int("max_retries", config.Retry.MaxAttempts),
		zap.String("http_address", config.HTTP.Address))

	return nil
}

// build wires the components around an opened store
func (p *Plugin) build(config *Config, logger *zap.Logger, store Store) error {
	transport, err := NewHTTPTransport(&config.Transport, logger)
	if err != nil {
		return err
	}

	p.config = config
	p.logger = logger
	p.store = store
	p.transport = transport
	p.metrics = newMetricsCollector()
	p.identity = NewIdentity(store, logger)
	p.retryMgr = NewRetryManager(&config.Retry, logger, p.metrics)
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.dispatchLoop = NewLoop("dispatch", config.Dispatch.BufferSize, logger)
	p.pageLoop = NewLoop("pages", config.Dispatch.BufferSize, logger)

	p.dispatcher = NewDispatcher(p.ctx, &config.Dispatch, p.dispatchLoop, transport, p.identity, p.retryMgr, logger, p.metrics)
	p.metrics.setStatusSource(p.dispatcher.Status)

	emitter := &dispatchEmitter{loop: p.dispatchLoop, dispatcher: p.dispatcher}
	p.pages = NewPages(p.pageLoop, config.Sampler, emitter, logger, p.metrics)

	if config.HTTP.Address != "" {
		p.server = &http.Server{
			Addr:              config.HTTP.Address,
			Handler:           p.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	// Initialize lifecycle channels
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	return nil
}

// Serve starts the plugin
func (p *Plugin) Serve() chan error {
	const op = errors.Op("mouse_telemetry_serve")
	errCh := make(chan error, 1)

	if p.config == nil {
		errCh <- errors.E(op, errors.Str("plugin not initialized"))
		return errCh
	}

	if _, err := p.identity.EnsureUserID(p.ctx); err != nil {
		errCh <- errors.E(op, err)
		return errCh
	}
	if p.config.Storage.Endpoint != "" {
		if err := p.identity.SeedEndpoint(p.ctx, p.config.Storage.Endpoint); err != nil {
			errCh <- errors.E(op, err)
			return errCh
		}
	}

	p.dispatchLoop.Start()
	p.pageLoop.Start()
	p.served.Store(true)

	if p.server != nil {
		go func() {
			p.logger.Info("Mouse telemetry HTTP API listening", zap.String("address", p.server.Addr))
			if err := p.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- errors.E(op, err)
			}
		}()
	}

	go func() {
		defer close(p.doneCh)

		// Start status routine
		go p.statusRoutine(p.ctx)

		p.logger.Info("Mouse telemetry plugin started")

		// Wait for stop signal
		select {
		case <-p.stopCh:
			p.logger.Info("Mouse telemetry plugin stopping")
		case <-p.ctx.Done():
			p.logger.Info("Mouse telemetry plugin context cancelled")
		}
	}()

	return errCh
}

// Stop stops the plugin
func (p *Plugin) Stop(ctx context.Context) error {
	if p.config == nil {
		return nil
	}

	if p.served.Load() {
		select {
		case <-p.stopCh:
		default:
			close(p.stopCh)
		}

		// Wait for graceful shutdown with timeout
		select {
		case <-p.doneCh:
		case <-ctx.Done():
			p.logger.Warn("Plugin stop timed out")
			return ctx.Err()
		}
	}

	return p.shutdown(ctx)
}

func (p *Plugin) shutdown(ctx context.Context) error {
	var err error

	if p.server != nil {
		err = multierr.Append(err, p.server.Shutdown(ctx))
	}

	// samples forced out of open pages are posted to the dispatch loop;
	// the empty Call waits until they are enqueued
	if p.served.Load() {
		err = multierr.Append(err, p.pages.CloseAll(ctx))
	}
	err = multierr.Append(err, p.pageLoop.Stop(ctx))
	if p.served.Load() {
		err = multierr.Append(err, p.dispatchLoop.Call(ctx, func() {}))
	}

	p.cancel()
	err = multierr.Append(err, p.dispatchLoop.Stop(ctx))
	err = multierr.Append(err, p.transport.Close())
	err = multierr.Append(err, p.store.Close())

	status := p.dispatcher.Status()
	if status.QueueLength > 0 || status.RetryLength > 0 {
		p.logger.Warn("Dropping undelivered samples on stop",
			zap.Int("queue_length", status.QueueLength),
			zap.Int("retry_length", status.RetryLength))
	}

	p.logger.Info("Mouse telemetry plugin stopped")
	return err
}

// statusRoutine logs queue status and performs periodic cleanup
func (p *Plugin) statusRoutine(ctx context.Context) {
	ticker := time.NewTicker(p.config.Dispatch.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.dispatchLoop.Post(p.dispatcher.LogStatus); err != nil {
				p.logger.Debug("Skipping status check", zap.Error(err))
			}
			p.transport.GetRateLimiter().CleanupExpired()

			stats := p.Stats()
			p.logger.Debug("Transport status",
				zap.String("breaker", stats.Breaker),
				zap.Int("rate_limited_endpoints", len(stats.RateLimits)),
				zap.Int("open_pages", stats.OpenPages))
		}
	}
}

// Name returns the plugin name
func (p *Plugin) Name() string {
	return PluginName
}

// RPC returns the RPC interface
func (p *Plugin) RPC() interface{} {
	return NewRPC(p, p.logger)
}

// Provides returns the dependencies this plugin provides
func (p *Plugin) Provides() []*dep.Out {
	return []*dep.Out{
		dep.Bind((*SampleSink)(nil), p.Sink),
	}
}

// Sink returns the sample sink interface
func (p *Plugin) Sink() SampleSink {
	return p
}

// MetricsCollector exposes the plugin collectors to the metrics plugin
func (p *Plugin) MetricsCollector() []prometheus.Collector {
	return []prometheus.Collector{p.metrics}
}

// IsEnabled returns true if the plugin is enabled and configured
func (p *Plugin) IsEnabled() bool {
	return p.config != nil && p.config.Enabled
}
