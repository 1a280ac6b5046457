/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command scanner is the scan engine's process entry point: it loads
// configuration, opens storage, wires the lifecycle controller and the
// thin HTTP API atop it, optionally starts geo enrichment, and runs until
// a shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/portscanner/internal/api"
	"github.com/example/portscanner/internal/config"
	"github.com/example/portscanner/internal/controller"
	"github.com/example/portscanner/internal/events"
	"github.com/example/portscanner/internal/geo"
	"github.com/example/portscanner/internal/logger"
	"github.com/example/portscanner/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.LoadFromOSArgs(ctx, logger.Std())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(&cfg.Logging); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	log := logger.Std()

	store, err := storage.Open(cfg.Scan.Database, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	notifier, err := events.Connect(cfg.Server.NATSURL, log)
	if err != nil {
		return fmt.Errorf("connect notifier: %w", err)
	}
	defer notifier.Close()

	ctrl := controller.New(store, log, notifier)
	server := api.New(store, ctrl, log)
	ctrl.OnOutcome = server.Hub().Broadcast

	var enricher *geo.Enricher

	if cfg.Server.GeoDBPath != "" {
		enricher, err = geo.Open(store, cfg.Server.GeoDBPath, log)
		if err != nil {
			return fmt.Errorf("open geo enrichment: %w", err)
		}
		defer enricher.Close()
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if enricher != nil {
		go enricher.Run(runCtx)
	}

	if cfg.Scan.StartIP != "" && cfg.Scan.Ports != "" {
		if _, err := ctrl.Start(runCtx, controller.StartRequest{
			StartIP:     cfg.Scan.StartIP,
			EndIP:       cfg.Scan.EndIP,
			Ports:       cfg.Scan.Ports,
			TimeoutMS:   cfg.Scan.TimeoutMS,
			Concurrency: cfg.Scan.Concurrency,
			ProbeMode:   cfg.Scan.ProbeMode,
			SkipPrivate: cfg.Scan.SkipPrivate,
			LoopMode:    cfg.Scan.LoopMode,
			BatchSize:   cfg.Scan.BatchSize,
		}); err != nil {
			return fmt.Errorf("start scan: %w", err)
		}
	}

	errCh := make(chan error, 1)

	go func() {
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("api server listening")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}

		errCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server error: %w", err)
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()

	if err := ctrl.Stop(stopCtx); err != nil && !errors.Is(err, controller.ErrNotRunning) {
		log.Error().Err(err).Msg("error stopping scan controller")
	}

	if err := httpServer.Shutdown(stopCtx); err != nil {
		log.Error().Err(err).Msg("error shutting down api server")
	}

	cancel()

	log.Info().Msg("scanner shutdown complete")

	return nil
}
