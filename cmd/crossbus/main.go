package main

import (
	"context"
	"flag"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/crossbus/crossbus/pkg/bridge"
	"github.com/crossbus/crossbus/pkg/config"
	"github.com/crossbus/crossbus/pkg/observability"
	"github.com/crossbus/crossbus/pkg/system"
	"github.com/crossbus/crossbus/pkg/systems/grpcmw"
	"github.com/crossbus/crossbus/pkg/systems/inproc"
	"github.com/crossbus/crossbus/pkg/systems/redismw"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		// No logger yet; this is the one place plain stderr is right.
		os.Stderr.WriteString("crossbus: " + err.Error() + "\n")
		os.Exit(1)
	}

	configPath := flag.String("config", cfg.BridgeConfig, "Path to the bridge configuration file")
	flag.Parse()

	log := cfg.NewLogger()

	// Every adapter kind this binary ships. Embedders building their own
	// binary register their adapters the same way.
	hub := inproc.NewHub()
	for kind, factory := range map[string]system.Factory{
		inproc.Kind:  inproc.Factory(hub, log),
		redismw.Kind: redismw.Factory(log),
		grpcmw.Kind:  grpcmw.Factory(log),
	} {
		if err := system.Register(kind, factory); err != nil {
			log.WithError(err).WithField("kind", kind).Fatal("registering adapter factory")
		}
	}
	log.WithField("kinds", system.Kinds()).Info("adapter factories registered")

	bridgeCfg, err := bridge.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("loading bridge configuration")
	}

	promRegistry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		promRegistry.MustRegister(collectors.NewGoCollector())
		promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(promRegistry)
	} else {
		metrics = observability.NewNopMetrics()
	}

	b, err := bridge.New(bridgeCfg,
		bridge.WithLogger(log),
		bridge.WithMetrics(metrics),
		bridge.WithSpinInterval(cfg.SpinInterval),
	)
	if err != nil {
		log.WithError(err).Fatal("configuring bridge")
	}

	checker := observability.NewHealthChecker(b.Status)
	opsServer := &http.Server{
		Addr:    cfg.HealthHost + ":" + cfg.HealthPort,
		Handler: observability.NewOpsRouter(checker, promRegistry),
	}

	spinCtx, stopSpin := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(spinCtx)

	g.Go(func() error {
		log.WithField("addr", opsServer.Addr).Info("ops server listening")
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := b.Spin(gctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	// Whatever ends the group — a signal, a dead spin loop, an ops server
	// failure — the ops server must come down so Wait can return.
	g.Go(func() error {
		<-gctx.Done()
		return opsServer.Shutdown(context.Background())
	})

	shutdown := observability.NewShutdownManager(log, opsServer, cfg.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		stopSpin()
		return b.Close()
	})
	go func() {
		if err := shutdown.WaitForShutdown(); err != nil {
			log.WithError(err).Error("graceful shutdown incomplete")
		}
	}()

	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("bridge exited")
	}
	log.Info("bridge stopped")
}
