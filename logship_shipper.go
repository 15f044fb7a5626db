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

package logship

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	// DefaultStorageKey is the storage key of the shipper's queue.
	DefaultStorageKey = "logship-queue"

	// shipperQueueSize is the size of the facade's in-memory queue in front
	// of the shipper. It only holds entries the persisted queue failed to
	// store.
	shipperQueueSize = 100
)

var (
	// ErrMissingURI is returned when the endpoint URI isn't configured.
	ErrMissingURI = errors.New("endpoint uri is required")

	// ErrMissingAPIKey is returned when the API key isn't configured.
	ErrMissingAPIKey = errors.New("api key is required")

	// ErrMissingStore is returned when neither a Store nor a StateDir is
	// configured.
	ErrMissingStore = errors.New("a store or a state directory is required")
)

// ShipperOptions configures a Shipper.
type ShipperOptions struct {
	// URI is the endpoint records are posted to.
	URI string
	// APIKey is the access key sent with every request.
	APIKey string
	// Store backs the persisted queue. When nil a FileStore rooted at
	// StateDir is created and owned by the shipper.
	Store Store
	// StateDir is the directory of the FileStore created when Store is nil.
	StateDir string
	// StorageKey is the key of the persisted queue, defaults to
	// DefaultStorageKey.
	StorageKey string
	// QueueSize is the capacity of the persisted queue, defaults to
	// DefaultQueueSize.
	QueueSize int
	// SendInterval is the delay between two successful sends, defaults to
	// DefaultSendInterval.
	SendInterval time.Duration
	// RequestTimeout bounds a single request, defaults to
	// DefaultRequestTimeout.
	RequestTimeout time.Duration
	// HTTPClient overrides the pooled client built from RequestTimeout.
	HTTPClient *http.Client
	// Connectivity gates the sends, defaults to AlwaysOnline.
	Connectivity Connectivity
	// RejectPolicy decides the fate of rejected records.
	RejectPolicy RejectPolicy
	// RetryBackoff re-arms the drain loop after a failed attempt.
	RetryBackoff backoff.BackOff
	// DisableSending makes the shipper discard every entry: nothing is queued
	// and nothing is sent.
	DisableSending bool
	// Clock drives the timers, defaults to the wall clock.
	Clock clock.Clock
	// Logger receives the shipper diagnostics, defaults to a no-op logger.
	Logger *zap.Logger
	// Registerer, if set, registers the shipper's metrics.
	Registerer prometheus.Registerer
	// Results, if set, receives every delivery Result.
	Results chan<- Result
	// OnSuccess is called after each delivered record.
	OnSuccess func(LogRecord)
	// OnError is called after each failed attempt.
	OnError func(LogRecord, error)
}

// Shipper is the Backend persisting entries to a durable queue and delivering
// them in order to the remote endpoint.
type Shipper struct {
	backendID string
	config    *backendConfig
	opts      ShipperOptions
	logger    *zap.Logger

	store     Store
	ownsStore bool
	queue     *Queue
	drainer   *Drainer

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewShipper wires the store, queue, sender and drain loop, and starts the
// loop. The loop stops when ctx is canceled or Close is called. Records
// persisted by a previous run are attempted right away.
func NewShipper(ctx context.Context, opts ShipperOptions) (*Shipper, error) {
	if opts.URI == "" {
		return nil, ErrMissingURI
	}
	if opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if opts.StorageKey == "" {
		opts.StorageKey = DefaultStorageKey
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	res := &Shipper{
		backendID: "log-backend,shipper",
		config:    newBackendConfig(shipperQueueSize),
		opts:      opts,
		logger:    opts.Logger,
		store:     opts.Store,
	}

	if opts.DisableSending {
		return res, nil
	}

	if res.store == nil {
		if opts.StateDir == "" {
			return nil, ErrMissingStore
		}
		store, err := NewFileStore(opts.StateDir)
		if err != nil {
			return nil, err
		}
		res.store = store
		res.ownsStore = true
	}

	metrics, err := NewMetrics(opts.Registerer)
	if err != nil {
		res.closeStore()
		return nil, err
	}

	queue, err := OpenQueue(res.store, opts.StorageKey, opts.QueueSize,
		WithQueueLogger(opts.Logger), WithQueueMetrics(metrics), WithQueueClock(opts.Clock))
	if err != nil {
		res.closeStore()
		return nil, err
	}
	res.queue = queue

	sender := NewHTTPSender(opts.URI, opts.APIKey, opts.HTTPClient, opts.RequestTimeout)
	res.drainer = NewDrainer(queue, sender, DrainerOptions{
		SendInterval: opts.SendInterval,
		RejectPolicy: opts.RejectPolicy,
		RetryBackoff: opts.RetryBackoff,
		Connectivity: opts.Connectivity,
		Clock:        opts.Clock,
		Logger:       opts.Logger,
		Metrics:      metrics,
		Results:      opts.Results,
		OnSuccess:    opts.OnSuccess,
		OnError:      opts.OnError,
	})

	ctx, res.cancel = context.WithCancel(ctx)
	res.wg.Add(1)
	go func() {
		defer res.wg.Done()
		res.drainer.Run(ctx)
	}()

	return res, nil
}

// ID returns the shipper backend implementation's ID.
func (sh *Shipper) ID() string {
	return sh.backendID
}

// Log converts the entry into a record, persists it and wakes the drain loop
// up. A record that can't be serialized is logged and discarded, a failed
// persistence is returned so the entry is kept and retried.
func (sh *Shipper) Log(entry *LogEntry) error {
	if sh.queue == nil {
		return nil
	}

	if err := sh.Enqueue(entry.Record()); err != nil {
		if errors.Is(err, ErrUnserializable) {
			sh.logger.Error("Discarding log entry", zap.Error(err))
			return nil
		}
		return err
	}
	return nil
}

// Enqueue persists record and wakes the drain loop up.
func (sh *Shipper) Enqueue(record LogRecord) error {
	if sh.queue == nil {
		return nil
	}

	if err := sh.queue.Enqueue(record); err != nil {
		return fmt.Errorf("failed to enqueue record: %w", err)
	}
	sh.drainer.Trigger()
	return nil
}

// Config returns the backend configuration of the shipper.
func (sh *Shipper) Config() Config {
	return sh.config
}

// Flush attempts all the queued records without waiting for the send
// interval. It returns the error of the first failed attempt.
func (sh *Shipper) Flush(ctx context.Context) error {
	return sh.FlushNow(ctx)
}

// FlushNow is the explicit flush of the drain loop, see [Drainer.FlushNow].
func (sh *Shipper) FlushNow(ctx context.Context) error {
	if sh.drainer == nil {
		return nil
	}
	return sh.drainer.FlushNow(ctx)
}

// Pause stops sending, records keep being queued.
func (sh *Shipper) Pause() {
	if sh.drainer != nil {
		sh.drainer.Pause()
	}
}

// Resume restarts sending after Pause.
func (sh *Shipper) Resume() {
	if sh.drainer != nil {
		sh.drainer.Resume()
	}
}

// AppResumed triggers a drain, called when the host application returns to
// the foreground.
func (sh *Shipper) AppResumed() {
	if sh.drainer != nil {
		sh.drainer.AppResumed()
	}
}

// Paused returns true if sending is paused.
func (sh *Shipper) Paused() bool {
	return sh.drainer != nil && sh.drainer.Paused()
}

// State returns the drain loop state.
func (sh *Shipper) State() DrainState {
	if sh.drainer == nil {
		return Idle
	}
	return sh.drainer.State()
}

// Clear drops every queued record.
func (sh *Shipper) Clear() error {
	if sh.queue == nil {
		return nil
	}
	return sh.queue.Clear()
}

// Queue returns the persisted queue, nil when sending is disabled.
func (sh *Shipper) Queue() *Queue {
	return sh.queue
}

// Close stops the drain loop and releases the store if the shipper created
// it. Queued records stay persisted for the next run.
func (sh *Shipper) Close() error {
	sh.closeOnce.Do(func() {
		if sh.cancel != nil {
			sh.cancel()
		}
		sh.wg.Wait()
		sh.closeErr = sh.closeStore()
	})
	return sh.closeErr
}

// closeStore closes the store when owned by the shipper.
func (sh *Shipper) closeStore() error {
	if !sh.ownsStore || sh.store == nil {
		return nil
	}
	if err := sh.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}
