// Command simnode wires two engines over a paired mock radio, serves their
// combined counters on a Prometheus /metrics endpoint, and exchanges one
// demonstration payload once routes converge.
//
// radio.Mock models a single point-to-point link (Pair connects exactly two
// radios), so the simulated topology is the simplest non-trivial mesh: two
// directly-connected nodes. It exists to exercise engine.Engine,
// metrics.Collector, and radio.Mock/radio.Pair end to end without any
// physical LoRa hardware, mirroring the way the example repos ship a small
// cmd/ wiring binary alongside their library packages
// (runZeroInc-sockstats/cmd, Lzww0608-AetherFlow/cmd).
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aethermesh/aethermesh/config"
	"github.com/aethermesh/aethermesh/core"
	"github.com/aethermesh/aethermesh/engine"
	"github.com/aethermesh/aethermesh/metrics"
	"github.com/aethermesh/aethermesh/radio"
)

func main() {
	listenAddr := flag.String("listen", ":9090", "address to serve /metrics on")
	settleTimeout := flag.Duration("settle-timeout", 5*time.Second, "how long to wait for routes to converge before sending the demo payload")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, b := buildPair(log)
	engines := []*engine.Engine{a, b}

	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.New(a, prometheus.Labels{"node": "1"}))
	registry.MustRegister(metrics.New(b, prometheus.Labels{"node": "2"}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: *listenAddr, Handler: mux}

	go func() {
		log.Info("serving metrics", "addr", *listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "error", err)
		}
	}()

	for i, e := range engines {
		i, e := i, e
		go func() {
			if err := e.Start(ctx); err != nil && ctx.Err() == nil {
				log.Error("engine exited with error", "node", i+1, "error", err)
			}
		}()
	}
	go demoExchange(ctx, log, a, b, *settleTimeout)

	<-ctx.Done()
	log.Info("shutting down")

	a.Stop()
	b.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// buildPair creates two engines addressed 1 and 2, backed by a pair of
// linked radio.Mock instances.
func buildPair(log *slog.Logger) (*engine.Engine, *engine.Engine) {
	radioA := radio.NewMock(10 * time.Microsecond)
	radioB := radio.NewMock(10 * time.Microsecond)
	radio.Pair(radioA, radioB)

	cfg := config.Default()
	cfg.HelloInterval = 2 * time.Second
	cfg.DefaultTimeout = 5 * cfg.HelloInterval

	a := engine.New(engine.Config{
		Local:  core.Address(1),
		Radio:  radioA,
		Config: cfg,
		Logger: log.With("node", 1),
	})
	b := engine.New(engine.Config{
		Local:  core.Address(2),
		Radio:  radioB,
		Config: cfg,
		Logger: log.With("node", 2),
	})
	return a, b
}

// demoExchange waits for the pair to converge, then sends one payload from
// a to b and logs the delivery.
func demoExchange(ctx context.Context, log *slog.Logger, a, b *engine.Engine, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if a.RoutingTableSize() > 0 {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}

	payload := []byte("hello from node 1")
	if err := a.SendData(b.LocalAddress(), payload); err != nil {
		log.Warn("demo send failed", "error", err)
		return
	}

	deadline = time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if app, ok := b.NextAppPacket(); ok {
			log.Info("demo payload delivered", "from", app.Src, "payload", string(app.Payload))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	log.Warn("demo payload not delivered within timeout")
}
