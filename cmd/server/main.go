/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the collection engine server for one field
  device. Handles configuration, dependency injection, and graceful
  shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Open the remote store and the device-local store
  3. Load the offline queue persisted by previous runs
  4. Wire recorder, coordinator, and background scheduler
  5. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port          HTTP server port (default: 8080)
  -db            Remote store SQLite path (default: collections.db)
  -localdb       Device-local store SQLite path (default: device.db)
  -agent         Acting user whose queue this device drains
  -sync-interval Background drain interval (default: 1m)
  -offline       Start with connectivity marked down
  -log-level     logrus level (default: info)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop the scheduler, stop accepting connections,
  wait for in-flight requests (30s timeout), close both stores.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kopa/loan-engine/api"
	"github.com/kopa/loan-engine/collections"
	"github.com/kopa/loan-engine/loan"
	"github.com/kopa/loan-engine/queue"
	"github.com/kopa/loan-engine/store/sqlite"
)

func main() {
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "collections.db", "remote store SQLite path")
	localPath := flag.String("localdb", "device.db", "device-local store SQLite path")
	agent := flag.String("agent", "agent-1", "acting user for scheduled drains")
	syncInterval := flag.Duration("sync-interval", time.Minute, "background drain interval")
	offline := flag.Bool("offline", false, "start with connectivity marked down")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(lvl)
	}

	remote, err := sqlite.New(*dbPath)
	if err != nil {
		logger.WithError(err).Fatal("opening remote store")
	}
	defer remote.Close()

	local, err := sqlite.New(*localPath)
	if err != nil {
		logger.WithError(err).Fatal("opening local store")
	}
	defer local.Close()

	clock := loan.SystemClock{}
	conn := loan.NewTracker(!*offline)

	manager, err := queue.NewManager(context.Background(), local, clock, logger)
	if err != nil {
		logger.WithError(err).Fatal("loading offline queue")
	}
	manager.WithMirror(remote, conn)

	coordinator := queue.NewCoordinator(manager, conn, logger)
	recorder := collections.NewRecorder(remote, manager, conn, clock, logger)
	recorder.RegisterWith(coordinator)

	scheduler := api.NewSyncScheduler(coordinator, manager, *agent, logger)
	scheduler.Interval = *syncInterval
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(recorder, manager, coordinator, conn)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("port", *port).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("forced shutdown")
	}
	logger.Info("server stopped")
}
