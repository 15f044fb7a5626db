//  Copyright 2024 Google LLC
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.


// Package main implements the logship agent, shipping the lines read from
// stdin or a file to a remote log endpoint.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/feifanzhou/logship"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// maxLineSize is the longest input line accepted.
	maxLineSize = 1 << 20
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "logship: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := loadConfig(args, os.Stderr)
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return errors.Wrap(err, "failed to create logger")
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	input, err := openInput(cfg.Input)
	if err != nil {
		return err
	}
	defer input.Close()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close store", zap.Error(err))
		}
	}()

	instanceID, err := logship.EnsureInstanceID(store)
	if err != nil {
		return errors.Wrap(err, "failed to load instance id")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	connectivity, probe, err := newConnectivity(cfg, logger)
	if err != nil {
		return err
	}

	level, _ := cfg.level()
	policy, _ := cfg.rejectPolicy()

	var retry backoff.BackOff
	if cfg.RetryMaxInterval > 0 {
		bo := backoff.NewExponentialBackOff()
		bo.MaxInterval = cfg.RetryMaxInterval
		bo.MaxElapsedTime = 0
		retry = bo
	}

	// The shipper outlives ctx so the final flush still runs after a signal.
	shipper, err := logship.NewShipper(context.Background(), logship.ShipperOptions{
		URI:            cfg.Endpoint,
		APIKey:         cfg.APIKey,
		Store:          store,
		StorageKey:     cfg.StorageKey,
		QueueSize:      cfg.QueueSize,
		SendInterval:   cfg.SendInterval,
		RequestTimeout: cfg.RequestTimeout,
		Connectivity:   connectivity,
		RejectPolicy:   policy,
		RetryBackoff:   retry,
		DisableSending: cfg.DisableSending,
		Logger:         logger.Named("shipper"),
		Registerer:     registry,
		OnError: func(record logship.LogRecord, err error) {
			logger.Debug("Delivery failed", zap.String("timestamp", record.Timestamp), zap.Error(err))
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to create shipper")
	}
	defer shipper.Close()

	dimensions := cfg.dimensions()
	dimensions["instance_id"] = instanceID

	lg := logship.NewLogger()
	lg.SetLevel(level)
	if err := lg.SetLevelStore(store); err != nil {
		logger.Warn("Failed to restore persisted log level, using the configured one",
			zap.Stringer("level", level), zap.Error(err))
	}
	lg.SetDefaultDimensions(dimensions)
	lg.RegisterBackend(context.Background(), shipper)
	if cfg.Console {
		lg.RegisterBackend(context.Background(), logship.NewStderrBackend(os.Stderr))
	}

	logger.Info("Shipping logs",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("instance_id", instanceID),
		zap.Stringer("level", lg.CurrentLevel()),
		zap.Int("queued", queued(shipper)))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if probe != nil {
		g.Go(func() error {
			probe.Run(gctx)
			return nil
		})
	}

	if cfg.MetricsAddr != "" {
		server := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsHandler(registry),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server failed")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		handleControlSignals(gctx, shipper, logger)
		return nil
	})

	g.Go(func() error {
		// End of input stops the agent.
		defer cancel()
		return readLines(gctx, input, lg)
	})

	runErr := g.Wait()

	logger.Info("Shutting down", zap.Int("queued", queued(shipper)))
	if err := lg.Shutdown(cfg.ShutdownTimeout); err != nil {
		// Records left in the queue are sent by the next run.
		logger.Warn("Failed to flush all records", zap.Error(err), zap.Int("queued", queued(shipper)))
	}

	return multierr.Combine(runErr, shipper.Close())
}

// openInput returns the reader of the lines to ship.
func openInput(path string) (io.ReadCloser, error) {
	if path == "" {
		return io.NopCloser(os.Stdin), nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open input")
	}
	return file, nil
}

// openStore opens the configured storage engine.
func openStore(cfg *config) (logship.Store, error) {
	if cfg.Storage == storageBadger {
		store, err := logship.NewBadgerStore(filepath.Join(cfg.StateDir, "badger"))
		if err != nil {
			return nil, errors.Wrap(err, "failed to open badger store")
		}
		return store, nil
	}

	store, err := logship.NewFileStore(cfg.StateDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file store")
	}
	return store, nil
}

// newConnectivity returns the endpoint connectivity, and the probe to run
// when probing is enabled.
func newConnectivity(cfg *config, logger *zap.Logger) (logship.Connectivity, *logship.ProbeConnectivity, error) {
	if cfg.DisableSending || cfg.ProbeInterval <= 0 {
		return logship.AlwaysOnline{}, nil, nil
	}

	target, err := logship.ProbeTarget(cfg.Endpoint)
	if err != nil {
		return nil, nil, errors.Wrap(err, "invalid endpoint")
	}

	probe := logship.NewProbeConnectivity(target, logship.ProbeOptions{
		Interval:    cfg.ProbeInterval,
		MaxInterval: cfg.RetryMaxInterval,
		Logger:      logger.Named("probe"),
	})
	return probe, probe, nil
}

// metricsHandler serves the registry on /metrics.
func metricsHandler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}

// readLines logs every non empty line of input until the end of input or ctx
// is canceled.
func readLines(ctx context.Context, input io.Reader, lg *logship.Logger) error {
	lines := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(input)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				errs <- nil
				return
			}
		}
		errs <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return errors.Wrap(<-errs, "failed to read input")
			}
			if line == "" {
				continue
			}
			lg.Log(line)
		}
	}
}

// queued returns the number of queued records.
func queued(shipper *logship.Shipper) int {
	if shipper.Queue() == nil {
		return 0
	}
	return shipper.Queue().Len()
}
