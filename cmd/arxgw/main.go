// Command arxgw runs the gateway: it loads configuration, builds the
// outbound client holders and routing registry, and serves HTTP until
// asked to shut down, grounded on cmd/skipper/main.go's shape.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/protojour/arx/auth"
	"github.com/protojour/arx/backend"
	"github.com/protojour/arx/config"
	"github.com/protojour/arx/gateway"
	"github.com/protojour/arx/identity"
	"github.com/protojour/arx/logging"
	"github.com/protojour/arx/routing"
)

// shutdownGrace bounds how long in-flight requests are given to finish
// once shutdown begins, per spec.md §5's "implementation-configurable"
// grace period.
const shutdownGrace = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.NewConfig()
	if err := cfg.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "arxgw: parsing configuration: %v\n", err)
		return 1
	}

	log := logrus.StandardLogger()
	log.SetLevel(cfg.LogrusLevel())

	logging.Init(logging.Options{Disabled: !cfg.AccessLog})

	defaultHolder, err := newHolder(cfg, "arx-gateway/default")
	if err != nil {
		log.WithError(err).Error("arxgw: building default outbound client")
		return 1
	}
	meshHolder, err := newHolder(cfg, "arx-gateway/mesh")
	if err != nil {
		log.WithError(err).Error("arxgw: building mesh outbound client")
		return 1
	}

	var identityClient auth.Client
	if cfg.AuthlyURL != "" {
		identityClient = identity.New(cfg.AuthlyURL, defaultHolder.Current())
	}

	registry := routing.NewRegistry()
	handlers := staticHandlers(cfg, registry, defaultHolder, meshHolder)
	compiler := routing.NewCompiler(cfg.GatewayName, handlers, log)
	watcher := routing.NewWatcher(compiler, registry, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	events := make(chan routing.Event)
	close(events) // spec.md §1 non-goal (a): the route source is an external collaborator.
	go watcher.Run(ctx, events)

	state := gateway.New(registry, gateway.ClientHolders{Default: defaultHolder, Mesh: meshHolder}, identityClient, log)
	state.Metrics = gateway.NewMetrics()
	state.AccessLog = cfg.AccessLog
	state.RequestMaxSize = cfg.RequestMaxSize

	mux := http.NewServeMux()
	mux.Handle("/metrics", state.Metrics.Handler())
	mux.Handle("/", state.Handler(cfg.CompressionConfig(), cfg.CORSConfig()))

	server := &http.Server{
		Addr:    cfg.Address,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("address", cfg.Address).Info("arxgw: listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("arxgw: shutdown signal received, draining in-flight requests")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("arxgw: graceful shutdown timed out, closing remaining connections")
			_ = server.Close()
		}
		return 0

	case err := <-errCh:
		if err == nil {
			return 0
		}
		var netErr *net.OpError
		if errors.As(err, &netErr) {
			log.WithError(err).Error("arxgw: failed to bind listener")
			return 1
		}
		log.WithError(err).Error("arxgw: server exited unexpectedly")
		return 1
	}
}

func newHolder(cfg *config.Config, userAgent string) (*backend.Holder, error) {
	clientCfg := cfg.ClientConfig(userAgent)
	client, err := backend.Build(clientCfg, nil)
	if err != nil {
		return nil, err
	}
	return backend.NewHolder(client, logrus.StandardLogger()), nil
}

func staticHandlers(cfg *config.Config, registry *routing.Registry, defaultHolder, meshHolder *backend.Holder) routing.StaticHandlers {
	health := &gateway.Health{
		Checkers: []gateway.HealthChecker{
			gateway.RouteTableChecker("routes", func() bool { _, ok := registry.Current(); return ok }),
			gateway.HolderChecker("default-client", defaultHolder),
			gateway.HolderChecker("mesh-client", meshHolder),
		},
	}
	handlers := routing.StaticHandlers{
		Health: health,
	}
	if cfg.StaticDir != "" {
		handlers.Static = gateway.NewStatic(cfg.StaticDir)
	}
	if cfg.DocsDir != "" {
		handlers.Docs = gateway.NewDocs(cfg.DocsDir)
	}
	if cfg.OntoDir != "" {
		handlers.Onto = gateway.NewOnto(cfg.OntoDir)
	}
	return handlers
}
