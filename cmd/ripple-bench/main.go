// Command ripple-bench serves the plaintext, json, stream and echo
// benchmark routes with the ripple HTTP/1.x engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/ripple/pkg/ripple/bench"
	"github.com/yourusername/ripple/pkg/ripple/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ripple-bench:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "path to a JSON configuration file (reloaded on change)")
		addr        = flag.String("addr", "", "listen address (overrides the config file)")
		metricsAddr = flag.String("metrics", "", "address for the Prometheus /metrics endpoint")
		mode        = flag.String("transport", "", "I/O transport: readiness or completion")
		logLevel    = flag.String("log-level", "info", "log level: debug, info, warn or error")
	)
	flag.Parse()

	level := new(slog.LevelVar)
	lvl, err := server.ParseLevel(*logLevel)
	if err != nil {
		return err
	}
	level.Set(lvl)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	cfg := server.DefaultConfig()
	cfg.Dispatcher = bench.Dispatcher{}
	cfg.Logger = logger
	cfg.LogLevel = level
	cfg.Registerer = reg

	if *configPath != "" {
		fc, err := server.LoadConfig(*configPath)
		if err != nil {
			return err
		}
		fc.Apply(&cfg)
		if *metricsAddr == "" {
			*metricsAddr = fc.MetricsAddr
		}
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *mode != "" {
		cfg.TransportMode = *mode
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})

	if *configPath != "" {
		cw, err := server.NewConfigWatcher(*configPath, logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return cw.Run(gctx, srv.Reload)
		})
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		ms := &http.Server{
			Addr:              *metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics listening", "addr", *metricsAddr)
			if err := ms.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return ms.Shutdown(sctx)
		})
	}

	err = g.Wait()
	st := srv.Stats()
	logger.Info("stopped",
		"uptime", st.Duration().Round(time.Second),
		"connections", st.TotalConnections.Load(),
		"requests", st.TotalRequests.Load(),
		"rps", st.RequestsPerSecond())
	return err
}
