// Command lotwire runs the inventory synchronization server: REST
// API, websocket push channel, and metrics, backed by SurrealDB when
// configured and by the built-in fallback dataset otherwise.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lotwire/lotwire"
	"github.com/lotwire/lotwire/pkg/api"
	"github.com/lotwire/lotwire/pkg/channel"
	"github.com/lotwire/lotwire/pkg/logger"
	"github.com/lotwire/lotwire/pkg/publish"
	"github.com/lotwire/lotwire/pkg/store"
	"github.com/lotwire/lotwire/pkg/store/surreal"
)

func main() {
	log := logger.New(os.Stderr)
	if err := run(log); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(log logger.Logger) error {
	var (
		addr        = flag.String("addr", envOr("LOTWIRE_ADDR", ":8080"), "listen address")
		surrealURL  = flag.String("surreal-url", os.Getenv("LOTWIRE_SURREAL_URL"), "SurrealDB endpoint; empty runs on the fallback dataset")
		surrealNS   = flag.String("surreal-ns", envOr("LOTWIRE_SURREAL_NS", "lotwire"), "SurrealDB namespace")
		surrealDB   = flag.String("surreal-db", envOr("LOTWIRE_SURREAL_DB", "inventory"), "SurrealDB database")
		surrealUser = flag.String("surreal-user", envOr("LOTWIRE_SURREAL_USER", "root"), "SurrealDB user")
		surrealPass = flag.String("surreal-pass", envOr("LOTWIRE_SURREAL_PASS", "root"), "SurrealDB password")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var live store.Store
	if *surrealURL != "" {
		s, err := surreal.New(ctx, surreal.Config{
			URL:       *surrealURL,
			Namespace: *surrealNS,
			Database:  *surrealDB,
			Username:  *surrealUser,
			Password:  *surrealPass,
		})
		if err != nil {
			// Start degraded rather than refuse to start: the
			// fallback dataset keeps the lot operational.
			log.Warn("live backend unavailable at startup, serving fallback dataset", "url", *surrealURL, "error", err)
		} else {
			live = s
			log.Info("live backend connected", "url", *surrealURL)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	publisher := publish.New(log, publish.NewMetrics(registry))
	defer publisher.Close()

	svc := lotwire.NewService(lotwire.Config{
		Live:      live,
		Seed:      lotwire.SampleInventory(),
		Publisher: publisher,
		Logger:    log,
	})

	channelSrv := channel.NewServer(channel.ServerConfig{
		Publisher: publisher,
		OnRefreshRequest: func(ctx context.Context) {
			if err := svc.Refresh(ctx); err != nil {
				log.Error("refresh broadcast failed", "error", err)
			}
		},
		Logger: log,
	})
	defer channelSrv.Close()

	apiSrv := api.New(svc, channelSrv, log)
	apiSrv.Gatherer = registry

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           apiSrv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", *addr, "source", svc.Source())
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
