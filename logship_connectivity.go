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
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	// DefaultProbeInterval is how often ProbeConnectivity checks the endpoint
	// while online.
	DefaultProbeInterval = 30 * time.Second

	// DefaultProbeMaxInterval caps the backoff between probes while offline.
	DefaultProbeMaxInterval = 2 * time.Minute

	// defaultProbeTimeout bounds a single probe dial.
	defaultProbeTimeout = 5 * time.Second
)

// Connectivity reports whether the remote endpoint is reachable and notifies
// about online/offline transitions.
type Connectivity interface {
	// Online returns the current status.
	Online() bool
	// Subscribe returns a channel receiving the new status on each
	// transition and a function releasing the subscription. Only the latest
	// status is kept for slow readers.
	Subscribe() (<-chan bool, func())
}

// AlwaysOnline is a Connectivity that never goes offline.
type AlwaysOnline struct{}

// Online always returns true.
func (AlwaysOnline) Online() bool { return true }

// Subscribe returns a channel that never fires.
func (AlwaysOnline) Subscribe() (<-chan bool, func()) { return nil, func() {} }

// connectivityState is the status and subscriber bookkeeping shared by the
// Connectivity implementations.
type connectivityState struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]chan bool
}

func (cs *connectivityState) init(online bool) {
	cs.online = online
	cs.subs = make(map[int]chan bool)
}

// Online returns the current status.
func (cs *connectivityState) Online() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.online
}

// Subscribe registers a new transition listener.
func (cs *connectivityState) Subscribe() (<-chan bool, func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	id := cs.nextID
	cs.nextID++
	ch := make(chan bool, 1)
	cs.subs[id] = ch

	return ch, func() {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		delete(cs.subs, id)
	}
}

// set updates the status, subscribers are only notified of transitions. It
// returns true if the status changed.
func (cs *connectivityState) set(online bool) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.online == online {
		return false
	}
	cs.online = online

	for _, ch := range cs.subs {
		// Replace a pending unread status with the latest one.
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
	return true
}

// ManualConnectivity is a Connectivity driven by the host application, i.e.
// from the operating system's network change notifications.
type ManualConnectivity struct {
	connectivityState
}

// NewManualConnectivity returns a ManualConnectivity with the initial status.
func NewManualConnectivity(online bool) *ManualConnectivity {
	mc := &ManualConnectivity{}
	mc.init(online)
	return mc
}

// SetOnline sets the current status, notifying subscribers on transitions.
func (mc *ManualConnectivity) SetOnline(online bool) {
	mc.set(online)
}

// ProbeOptions configures a ProbeConnectivity.
type ProbeOptions struct {
	// Interval is the probing period while online.
	Interval time.Duration
	// MaxInterval caps the exponential backoff between probes while offline.
	MaxInterval time.Duration
	// Timeout bounds a single probe.
	Timeout time.Duration
	// Clock drives the probe timers, tests may use a mock clock.
	Clock clock.Clock
	// Dial opens the probe connection, defaults to a net.Dialer.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
	// Logger receives status transitions.
	Logger *zap.Logger
}

// ProbeConnectivity is a Connectivity that determines the status by opening
// TCP connections to the endpoint's host. It starts online.
type ProbeConnectivity struct {
	connectivityState
	target string
	opts   ProbeOptions
}

// NewProbeConnectivity returns a ProbeConnectivity probing target, a
// host:port address (see [ProbeTarget]). Probing starts with Run.
func NewProbeConnectivity(target string, opts ProbeOptions) *ProbeConnectivity {
	if opts.Interval <= 0 {
		opts.Interval = DefaultProbeInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = DefaultProbeMaxInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultProbeTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Dial == nil {
		dialer := &net.Dialer{}
		opts.Dial = dialer.DialContext
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	pc := &ProbeConnectivity{
		target: target,
		opts:   opts,
	}
	pc.init(true)
	return pc
}

// ProbeTarget returns the host:port address of an http(s) endpoint URI.
func ProbeTarget(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint uri: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("endpoint uri %q has no host", uri)
	}

	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		default:
			return "", fmt.Errorf("endpoint uri %q has no port and unknown scheme %q", uri, u.Scheme)
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// probe opens and closes one connection to the target.
func (pc *ProbeConnectivity) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pc.opts.Timeout)
	defer cancel()

	conn, err := pc.opts.Dial(ctx, "tcp", pc.target)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Run probes the target until ctx is canceled. While offline the period
// between probes backs off exponentially up to MaxInterval.
func (pc *ProbeConnectivity) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = pc.opts.MaxInterval
	bo.MaxElapsedTime = 0
	bo.Clock = pc.opts.Clock
	bo.Reset()

	for {
		online := pc.probe(ctx)
		if ctx.Err() != nil {
			return
		}

		if pc.set(online) {
			pc.opts.Logger.Info("Endpoint connectivity changed",
				zap.String("target", pc.target), zap.Bool("online", online))
		}

		wait := pc.opts.Interval
		if online {
			bo.Reset()
		} else {
			wait = bo.NextBackOff()
		}

		timer := pc.opts.Clock.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
