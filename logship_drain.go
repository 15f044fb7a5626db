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
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	// DefaultSendInterval is the delay between two successful sends.
	DefaultSendInterval = 200 * time.Millisecond
)

var (
	// ErrDrainerStopped is returned by FlushNow when the drainer is not
	// running anymore.
	ErrDrainerStopped = errors.New("drainer is stopped")
)

// DrainState is the state of the drain loop.
type DrainState int

const (
	// Idle means no send is in progress, the loop waits for a trigger.
	Idle DrainState = iota
	// Sending means the loop is delivering queued records.
	Sending
)

// String returns the string representation of the drain state.
func (s DrainState) String() string {
	if s == Sending {
		return "sending"
	}
	return "idle"
}

// RejectPolicy decides what happens to a record whose delivery was Rejected.
type RejectPolicy int

const (
	// RetryRejected keeps a rejected record at the head and retries it on the
	// next trigger, exactly as an unreachable endpoint. A record the endpoint
	// never accepts blocks the queue until it's evicted.
	RetryRejected RejectPolicy = iota
	// DropRejected removes a rejected record from the queue and carries on
	// with the next one. The dropped record is reported through the result
	// notifications and the dropped records metric.
	DropRejected
)

// Result is the notification published after each delivery attempt.
type Result struct {
	// Record is the record that was sent.
	Record LogRecord
	// Outcome is the delivery outcome.
	Outcome Outcome
}

// DrainerOptions configures a Drainer.
type DrainerOptions struct {
	// SendInterval is the delay between two successful sends.
	SendInterval time.Duration
	// RejectPolicy decides the fate of rejected records.
	RejectPolicy RejectPolicy
	// RetryBackoff, if set, re-arms the loop after a failed attempt with the
	// delay it returns. When nil a failed attempt waits for the next external
	// trigger.
	RetryBackoff backoff.BackOff
	// Connectivity gates the sends, defaults to AlwaysOnline.
	Connectivity Connectivity
	// Clock drives the send interval and the retry timer.
	Clock clock.Clock
	// Logger receives drain diagnostics.
	Logger *zap.Logger
	// Metrics may be nil.
	Metrics *Metrics
	// Results, if set, receives every Result. Results are dropped when the
	// channel is full.
	Results chan<- Result
	// OnSuccess is called after each delivered record.
	OnSuccess func(LogRecord)
	// OnError is called after each failed attempt.
	OnError func(LogRecord, error)
}

// flushRequest asks the loop goroutine to drain the queue right away.
type flushRequest struct {
	done chan error
}

// Drainer is the single-flight worker delivering the queue's records in
// order. Only the goroutine running Run sends, so there is never more than
// one request in flight.
type Drainer struct {
	queue  *Queue
	sender Sender
	opts   DrainerOptions

	// wake is the coalescing trigger channel.
	wake chan struct{}
	// flushes carries FlushNow requests to the loop goroutine.
	flushes chan flushRequest
	// done is closed when Run returns.
	done     chan struct{}
	doneOnce sync.Once

	// mu protects state and paused.
	mu     sync.Mutex
	state  DrainState
	paused bool
}

// NewDrainer returns a Drainer delivering queue's records with sender. The
// loop starts with Run.
func NewDrainer(queue *Queue, sender Sender, opts DrainerOptions) *Drainer {
	if opts.SendInterval <= 0 {
		opts.SendInterval = DefaultSendInterval
	}
	if opts.Connectivity == nil {
		opts.Connectivity = AlwaysOnline{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Drainer{
		queue:   queue,
		sender:  sender,
		opts:    opts,
		wake:    make(chan struct{}, 1),
		flushes: make(chan flushRequest),
		done:    make(chan struct{}),
	}
}

// Run runs the drain loop until ctx is canceled. Pending records are
// attempted right away.
func (d *Drainer) Run(ctx context.Context) {
	defer d.doneOnce.Do(func() { close(d.done) })

	changes, unsubscribe := d.opts.Connectivity.Subscribe()
	defer unsubscribe()

	var retryTimer *clock.Timer
	var retryC <-chan time.Time
	defer func() {
		if retryTimer != nil {
			retryTimer.Stop()
		}
	}()

	d.Trigger()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.flushes:
			req.done <- d.flush(ctx)
			continue
		case online := <-changes:
			if !online {
				continue
			}
		case <-retryC:
			retryC = nil
		case <-d.wake:
		}

		if !d.drain(ctx) || d.opts.RetryBackoff == nil {
			continue
		}

		// The attempt failed, re-arm the loop after the backoff delay.
		wait := d.opts.RetryBackoff.NextBackOff()
		if wait == backoff.Stop {
			continue
		}
		if retryTimer != nil {
			retryTimer.Stop()
		}
		retryTimer = d.opts.Clock.Timer(wait)
		retryC = retryTimer.C
	}
}

// drain delivers records until the queue is empty, the loop is paused, the
// endpoint goes offline or an attempt fails. It returns true if it stopped
// because of a failed attempt.
func (d *Drainer) drain(ctx context.Context) bool {
	if !d.transition(Sending) {
		return false
	}
	defer d.transition(Idle)

	for {
		if ctx.Err() != nil || d.Paused() || !d.opts.Connectivity.Online() {
			return false
		}

		record, encoded, found := d.queue.peekHead()
		if !found {
			return false
		}

		if _, err := d.attempt(ctx, record, encoded); err != nil {
			return true
		}

		timer := d.opts.Clock.Timer(d.opts.SendInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// flush delivers records back to back, ignoring pause and connectivity,
// until the queue is empty or an attempt fails.
func (d *Drainer) flush(ctx context.Context) error {
	d.forceState(Sending)
	defer d.forceState(Idle)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		record, encoded, found := d.queue.peekHead()
		if !found {
			return nil
		}

		if _, err := d.attempt(ctx, record, encoded); err != nil {
			return err
		}
	}
}

// attempt sends record once and applies the outcome to the queue, encoded is
// the head handle returned by peekHead. A nil error means the loop can go on
// with the next record.
func (d *Drainer) attempt(ctx context.Context, record LogRecord, encoded string) (Outcome, error) {
	outcome := d.sender.Send(ctx, record)
	d.opts.Metrics.recordSend(outcome.Kind)

	switch {
	case outcome.Kind == Delivered:
		if _, err := d.queue.removeIfOldest(encoded); err != nil {
			// The record stays queued and will be sent again.
			d.opts.Logger.Error("Failed to remove delivered record from queue", zap.Error(err))
			d.notify(record, outcome)
			return outcome, err
		}
		if d.opts.RetryBackoff != nil {
			d.opts.RetryBackoff.Reset()
		}
		d.notify(record, outcome)
		return outcome, nil
	case outcome.Kind == Rejected && d.opts.RejectPolicy == DropRejected:
		d.notify(record, outcome)
		if _, err := d.queue.removeIfOldest(encoded); err != nil {
			d.opts.Logger.Error("Failed to drop rejected record from queue", zap.Error(err))
			return outcome, err
		}
		d.opts.Metrics.recordDropped()
		d.opts.Logger.Warn("Dropped rejected record",
			zap.String("timestamp", record.Timestamp), zap.Error(outcome.Err))
		return outcome, nil
	default:
		d.notify(record, outcome)
		err := outcome.Err
		if err == nil {
			err = fmt.Errorf("delivery %s", outcome.Kind)
		}
		d.opts.Logger.Debug("Delivery attempt failed, record kept at the head",
			zap.Stringer("outcome", outcome.Kind), zap.Error(err))
		return outcome, err
	}
}

// notify publishes the result of an attempt.
func (d *Drainer) notify(record LogRecord, outcome Outcome) {
	if outcome.Kind == Delivered {
		if d.opts.OnSuccess != nil {
			d.opts.OnSuccess(record)
		}
	} else if d.opts.OnError != nil {
		d.opts.OnError(record, outcome.Err)
	}

	if d.opts.Results != nil {
		select {
		case d.opts.Results <- Result{Record: record, Outcome: outcome}:
		default:
		}
	}
}

// transition moves to state. Leaving Idle is refused while paused.
func (d *Drainer) transition(state DrainState) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if state == Sending && d.paused {
		return false
	}
	d.state = state
	return true
}

// forceState moves to state regardless of the paused flag.
func (d *Drainer) forceState(state DrainState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = state
}

// Trigger wakes the loop up if it's idle. Triggers received while sending
// are coalesced into one.
func (d *Drainer) Trigger() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// AppResumed is the trigger for an application coming back from background.
func (d *Drainer) AppResumed() {
	d.Trigger()
}

// Pause stops new sends. A send already in flight is not interrupted.
func (d *Drainer) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = true
}

// Resume clears a previous Pause and attempts the head record right away.
func (d *Drainer) Resume() {
	d.mu.Lock()
	wasPaused := d.paused
	d.paused = false
	d.mu.Unlock()

	if wasPaused {
		d.Trigger()
	}
}

// Paused returns true if sending is paused.
func (d *Drainer) Paused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// State returns the current drain state.
func (d *Drainer) State() DrainState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// FlushNow drains the queue on the loop goroutine without waiting for the
// send interval, ignoring pause and connectivity. It returns the error of the
// first failed attempt. The drainer must be running.
func (d *Drainer) FlushNow(ctx context.Context) error {
	req := flushRequest{done: make(chan error, 1)}

	select {
	case d.flushes <- req:
	case <-d.done:
		return ErrDrainerStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
