// Command keyroute is an HTTP gateway that routes requests to weighted
// backend pools. Routes default to consistent hashing over a ketama-style
// ring, so a client (or a chosen request header) keeps landing on the same
// backend, and backend churn remaps only a proportional slice of keys.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/keyroute/keyroute/internal/health"
	"github.com/keyroute/keyroute/internal/lb"
	"github.com/keyroute/keyroute/internal/middleware"
	"github.com/keyroute/keyroute/internal/observe"
	"github.com/keyroute/keyroute/internal/proxy"
	"github.com/keyroute/keyroute/internal/router"
	"github.com/keyroute/keyroute/internal/server"
)

func main() {
	configPath := flag.String("config", "keyroute.yaml", "path to config file")
	flag.Parse()

	cfg, err := router.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "keyroute:", err)
		os.Exit(1)
	}

	logger := observe.NewLogger(observe.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	metrics := observe.NewMetrics(reg)

	handler, closers, err := buildGateway(cfg, metrics, reg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "keyroute:", err)
		os.Exit(1)
	}

	listen := cfg.Listen
	if listen == "" {
		listen = ":9000"
	}

	srv := server.New(server.Config{
		Addr:    listen,
		Handler: handler,
		Logger:  logger,
	})
	for _, c := range closers {
		srv.RegisterCloser(c)
	}

	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// buildGateway wires routes, balancers, health checking, and the proxy into
// the root handler, and returns the background resources to close on
// shutdown.
func buildGateway(cfg *router.GatewayConfig, metrics *observe.Metrics, reg *prometheus.Registry, logger *slog.Logger) (http.Handler, []io.Closer, error) {
	upstreams := make(map[string]*proxy.Upstream, len(cfg.Routes))
	closers := make([]io.Closer, 0, len(cfg.Routes))

	for _, rc := range cfg.Routes {
		up, checker, err := buildUpstream(rc, cfg.Health, metrics, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("route %s: %w", rc.Name, err)
		}
		upstreams[rc.Name] = up
		closers = append(closers, checker)
	}

	rt := router.New(cfg)
	p := proxy.New(rt, upstreams, metrics, logger)

	handler := middleware.Chain(
		middleware.Tracing(),
		middleware.Logging(logger),
		middleware.Recover(logger),
	)(p)

	mux := http.NewServeMux()
	mux.Handle("/metrics", observe.Handler(reg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.Handle("/", handler)

	return mux, closers, nil
}

// buildUpstream creates the backend pool, health checking, and balancer for
// one route, and subscribes the balancer to health transitions.
func buildUpstream(rc router.RouteConfig, hc router.HealthConfig, metrics *observe.Metrics, logger *slog.Logger) (*proxy.Upstream, *health.CombinedChecker, error) {
	backends := make([]*lb.Backend, len(rc.Backends))
	addrs := make([]string, len(rc.Backends))
	for i, bc := range rc.Backends {
		backends[i] = &lb.Backend{
			Addr:   bc.Addr,
			Name:   bc.Hostname,
			Weight: bc.Weight,
		}
		addrs[i] = bc.Addr
	}

	balancer, err := buildBalancer(rc, metrics, logger)
	if err != nil {
		return nil, nil, err
	}

	// OnChange closes over the pool variable, which is assigned below.
	// Nothing fires before then: probing starts with active.Start() at the
	// end of this function, and passive outcomes only arrive with traffic.
	var pool *health.Pool
	notify := func() { pool.Notify() }

	active := health.NewActiveChecker(addrs, health.Config{
		Interval:           hc.Interval,
		Timeout:            hc.Timeout,
		HealthPath:         hc.Path,
		HealthyThreshold:   hc.HealthyThreshold,
		UnhealthyThreshold: hc.UnhealthyThreshold,
		OnChange:           notify,
	})
	passive := health.NewPassiveChecker(health.PassiveConfig{
		OnChange: notify,
	})
	checker := health.NewCombinedChecker(active, passive)
	pool = health.NewPool(backends, checker)

	isRing := rc.Policy == "" || rc.Policy == "ring_hash"
	rebuild := func() {
		if err := balancer.Rebuild(pool.Healthy()); err != nil {
			logger.Error("balancer rebuild failed", "route", rc.Name, "error", err)
			return
		}
		if isRing {
			metrics.RingBuildsTotal.WithLabelValues(rc.Name).Inc()
		}
		for _, b := range pool.All() {
			v := 0.0
			if checker.IsHealthy(b.Addr) {
				v = 1.0
			}
			metrics.BackendHealthy.WithLabelValues(b.Addr).Set(v)
		}
	}
	pool.Subscribe(rebuild)
	rebuild()
	active.Start()

	return &proxy.Upstream{
		Name:     rc.Name,
		Balancer: balancer,
		Pool:     pool,
		Recorder: checker,
		Retries:  rc.Retries,
		HashKey:  rc.HashKey,
	}, checker, nil
}

func buildBalancer(rc router.RouteConfig, metrics *observe.Metrics, logger *slog.Logger) (lb.Balancer, error) {
	switch rc.Policy {
	case "round_robin":
		return lb.NewRoundRobin(nil), nil
	case "weighted":
		return lb.NewWeightedRoundRobin(nil), nil
	case "least_conn":
		return lb.NewLeastConnections(nil), nil
	}

	ringCfg, err := rc.Ring.RingHashConfig()
	if err != nil {
		return nil, err
	}
	ringCfg.Logger = logger

	return lb.NewRingHash(ringCfg, metrics.RingStats(rc.Name))
}
