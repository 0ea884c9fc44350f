package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/blocksprint/relay/app/services/relay/handlers"
	"github.com/blocksprint/relay/business/sys/metrics"
	"github.com/blocksprint/relay/foundation/events"
	"github.com/blocksprint/relay/foundation/logger"
	"github.com/blocksprint/relay/foundation/relay/breaker"
	"github.com/blocksprint/relay/foundation/relay/channel"
	"github.com/blocksprint/relay/foundation/relay/endpoint"
	"github.com/blocksprint/relay/foundation/relay/entropy"
	"github.com/blocksprint/relay/foundation/relay/headers"
	"github.com/blocksprint/relay/foundation/relay/health"
	"github.com/blocksprint/relay/foundation/relay/pool"
	"github.com/blocksprint/relay/foundation/relay/transport"
	"github.com/blocksprint/relay/foundation/relay/worker"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("RELAY")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// This is all the configuration for the application and the default values.
	// Configuration values will be passed through the application as individual
	// values.
	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			MetricsHost     string        `conf:"default:0.0.0.0:9090"`
		}
		Relay struct {
			Upstreams      []string      `conf:"default:0.0.0.0:8333;0.0.0.0:8334"`
			Protocol       string        `conf:"default:tcp"`
			MaxConnections int           `conf:"default:50"`
			MinIdle        int           `conf:"default:5"`
			IdleTimeout    time.Duration `conf:"default:60s"`
			ReapInterval   time.Duration `conf:"default:5s"`
			DialTimeout    time.Duration `conf:"default:5s"`
			DialRetries    uint64        `conf:"default:3"`
		}
		Breaker struct {
			FailureThreshold int           `conf:"default:3"`
			Cooldown         time.Duration `conf:"default:30s"`
		}
		Entropy struct {
			AdapterTimeout    time.Duration `conf:"default:50ms"`
			EnableChainHeader bool          `conf:"default:true"`
			EnableHardware    bool          `conf:"default:true"`
			EnableFingerprint bool          `conf:"default:true"`
			RateLimit         int           `conf:"default:100"`
		}
		Headers struct {
			Sources         []string
			RefreshInterval time.Duration `conf:"default:15s"`
		}
		Metrics struct {
			AuthToken string `conf:"default:changeme,mask"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "copyright information here",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "RELAY"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Relay Core Support

	// An endpoint set is the collection of configured upstream nodes blocks
	// and state are fetched from.
	endpoints := endpoint.NewSet()
	for _, host := range cfg.Relay.Upstreams {
		endpoints.Add(endpoint.New(host, cfg.Relay.Protocol))
	}

	// The relay packages accept a function of this signature to allow the
	// application to log. These raw messages are also sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	hlt := health.New(health.DefaultWindow)

	brk := breaker.New(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
		EvHandler:        ev,
		OnStateChange: func(ep endpoint.Endpoint, from breaker.State, to breaker.State) {
			metrics.BreakerState.WithLabelValues(ep.String()).Set(float64(to))
		},
	})

	pl, err := pool.New(pool.Config{
		Endpoints:      endpoints,
		Client:         transport.NewTCPClient(cfg.Relay.DialTimeout, cfg.Relay.DialRetries),
		Breaker:        brk,
		Health:         hlt,
		MaxConnections: cfg.Relay.MaxConnections,
		MinIdle:        cfg.Relay.MinIdle,
		IdleTimeout:    cfg.Relay.IdleTimeout,
		EvHandler:      ev,
	})
	if err != nil {
		return fmt.Errorf("constructing pool: %w", err)
	}

	// The header tracker is fed by the configured header sources and read by
	// the chain-header entropy adapter. Each source is a "chain=url" pair
	// naming an HTTP endpoint that reports the chain's latest header.
	tracker := headers.NewTracker()

	var nodes []headers.Node
	for _, source := range cfg.Headers.Sources {
		chain, url, found := strings.Cut(source, "=")
		if !found {
			return fmt.Errorf("parsing header source %q: want chain=url", source)
		}
		nodes = append(nodes, headers.NewHTTPNode(chain, url))
	}
	if cfg.Entropy.EnableChainHeader && len(nodes) == 0 {
		log.Infow("startup", "status", "no header sources configured, chain header entropy will downgrade")
	}

	adapters := []entropy.Adapter{
		entropy.OSRandom{},
		entropy.NewJitter(),
	}
	if cfg.Entropy.EnableChainHeader {
		adapters = append(adapters, entropy.NewChainHeader(tracker))
	}
	if cfg.Entropy.EnableHardware {
		adapters = append(adapters, entropy.Hardware{})
	}
	if cfg.Entropy.EnableFingerprint {
		adapters = append(adapters, entropy.Fingerprint{})
	}

	eng, err := entropy.New(entropy.Config{
		Adapters:       adapters,
		AdapterTimeout: cfg.Entropy.AdapterTimeout,
		EvHandler:      ev,
	})
	if err != nil {
		return fmt.Errorf("constructing entropy engine: %w", err)
	}

	// The channel value represents the relay trust core and provides an API
	// for application support.
	ch, err := channel.New(channel.Config{
		Endpoints: endpoints,
		Pool:      pl,
		Breaker:   brk,
		Health:    hlt,
		Entropy:   eng,
		EvHandler: ev,
		FetchObserver: func(ep endpoint.Endpoint, outcome string, latency time.Duration) {
			metrics.FetchDuration.WithLabelValues(ep.String(), outcome).Observe(latency.Seconds())
		},
		EntropyRate: cfg.Entropy.RateLimit,
	})
	if err != nil {
		return fmt.Errorf("constructing channel: %w", err)
	}

	// The worker package implements the background workflows such as pool
	// reaping and header refresh. The worker will register itself with the
	// channel.
	worker.Run(ch, worker.Config{
		Pool:            pl,
		Headers:         tracker,
		Nodes:           nodes,
		ReapInterval:    cfg.Relay.ReapInterval,
		RefreshInterval: cfg.Headers.RefreshInterval,
		EvHandler:       ev,
	})

	// Export pool, breaker and latency state on an interval so the metrics
	// surface stays current even without traffic.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := ch.PoolStats()
			metrics.PoolInUse.Set(float64(stats.InUse))
			metrics.PoolIdle.Set(float64(stats.Idle))
			for _, ep := range ch.Endpoints() {
				metrics.BreakerState.WithLabelValues(ep.String()).Set(float64(ch.BreakerState(ep)))
				snap := ch.Health(ep)
				metrics.EndpointLatency.WithLabelValues(ep.String(), "0.5").Set(snap.P50.Seconds())
				metrics.EndpointLatency.WithLabelValues(ep.String(), "0.95").Set(snap.P95.Seconds())
				metrics.EndpointLatency.WithLabelValues(ep.String(), "0.99").Set(snap.P99.Seconds())
			}
		}
	}()

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug router started", "host", cfg.Web.DebugHost)

	// The Debug function returns a mux to listen and serve on for all the debug
	// related endpoints. This includes the standard library endpoints.
	debugMux := handlers.DebugMux(build, log)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	// Construct the mux for the public API calls.
	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		Channel:  ch,
		Evts:     evts,
	})

	// Construct a server to service the requests against the mux.
	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      publicMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Metrics Service

	log.Infow("startup", "status", "initializing metrics support")

	// The metrics surface carries its own bearer token since it is a
	// separate trust boundary from the public API.
	metricsSrv := http.Server{
		Addr:         cfg.Web.MetricsHost,
		Handler:      handlers.MetricsMux(cfg.Metrics.AuthToken, log),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for metrics requests.
	go func() {
		log.Infow("startup", "status", "metrics router started", "host", metricsSrv.Addr)
		serverErrors <- metricsSrv.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}

		// Give outstanding requests a deadline for completion.
		ctx, cancelMet := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelMet()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown metrics API started")
		if err := metricsSrv.Shutdown(ctx); err != nil {
			metricsSrv.Close()
			return fmt.Errorf("could not stop metrics service gracefully: %w", err)
		}

		// Drain the pool and stop the background workers.
		ctx, cancelCh := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelCh()

		log.Infow("shutdown", "status", "shutdown relay core started")
		if err := ch.Shutdown(ctx); err != nil {
			return fmt.Errorf("could not stop relay core gracefully: %w", err)
		}
	}

	return nil
}
