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
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// scriptedSender answers with the scripted outcomes in order, then Delivered.
type scriptedSender struct {
	mu       sync.Mutex
	outcomes []OutcomeKind
	sent     []LogRecord
}

func (ss *scriptedSender) Send(_ context.Context, record LogRecord) Outcome {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.sent = append(ss.sent, record)

	kind := Delivered
	if len(ss.outcomes) > 0 {
		kind, ss.outcomes = ss.outcomes[0], ss.outcomes[1:]
	}
	if kind == Delivered {
		return Outcome{Kind: kind}
	}
	return Outcome{Kind: kind, Err: errors.New("scripted " + kind.String())}
}

func (ss *scriptedSender) sentMessages() []any {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return messages(ss.sent)
}

// startDrainer runs a drainer until the test ends.
func startDrainer(t *testing.T, q *Queue, sender Sender, opts DrainerOptions) *Drainer {
	t.Helper()
	if opts.SendInterval == 0 {
		opts.SendInterval = time.Millisecond
	}
	opts.Logger = zaptest.NewLogger(t)

	d := NewDrainer(q, sender, opts)
	runDrainer(t, d)
	return d
}

// runDrainer runs d until the test ends.
func runDrainer(t *testing.T, d *Drainer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func enqueueMessages(t *testing.T, q *Queue, msgs ...string) {
	t.Helper()
	for i, msg := range msgs {
		require.NoError(t, q.Enqueue(testRecord(i, msg)))
	}
}

func TestDrainerDeliversInOrder(t *testing.T) {
	endpoint := newTestEndpoint(t, `{"ok":true}`)
	q := openTestQueue(t, newMemStore(), 10)
	enqueueMessages(t, q, "a", "b", "c")

	startDrainer(t, q, NewHTTPSender(endpoint.URL, "secret", nil, time.Second), DrainerOptions{})

	require.Eventually(t, q.IsEmpty, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{"a", "b", "c"}, endpoint.receivedMessages())
}

func TestDrainerTriggeredByEnqueue(t *testing.T) {
	q := openTestQueue(t, newMemStore(), 10)
	sender := &scriptedSender{}
	d := startDrainer(t, q, sender, DrainerOptions{})

	enqueueMessages(t, q, "a")
	d.Trigger()

	require.Eventually(t, q.IsEmpty, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{"a"}, sender.sentMessages())
	assert.Eventually(t, func() bool { return d.State() == Idle }, 5*time.Second, 5*time.Millisecond)
}

func TestDrainerUnreachableKeepsRecord(t *testing.T) {
	q := openTestQueue(t, newMemStore(), 10)
	enqueueMessages(t, q, "a", "b")

	results := make(chan Result, 10)
	sender := &scriptedSender{outcomes: []OutcomeKind{Unreachable}}
	d := startDrainer(t, q, sender, DrainerOptions{Results: results})

	select {
	case res := <-results:
		assert.Equal(t, Unreachable, res.Outcome.Kind)
		assert.Equal(t, "a", res.Record.Message)
	case <-time.After(5 * time.Second):
		t.Fatalf("no delivery attempt")
	}

	// Without a trigger the record stays queued.
	assert.Never(t, func() bool { return q.Len() != 2 }, 50*time.Millisecond, 5*time.Millisecond)

	d.AppResumed()
	require.Eventually(t, q.IsEmpty, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{"a", "a", "b"}, sender.sentMessages())
}

func TestDrainerRetryBackoff(t *testing.T) {
	q := openTestQueue(t, newMemStore(), 10)
	enqueueMessages(t, q, "a")

	sender := &scriptedSender{outcomes: []OutcomeKind{Unreachable, Unreachable}}
	startDrainer(t, q, sender, DrainerOptions{
		RetryBackoff: backoff.NewConstantBackOff(5 * time.Millisecond),
	})

	require.Eventually(t, q.IsEmpty, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{"a", "a", "a"}, sender.sentMessages())
}

func TestDrainerRejectPolicy(t *testing.T) {
	tests := []struct {
		desc   string
		policy RejectPolicy
		want   []any
		queued int
	}{
		{
			desc:   "retry",
			policy: RetryRejected,
			want:   []any{"a"},
			queued: 2,
		},
		{
			desc:   "drop",
			policy: DropRejected,
			want:   []any{"a", "b"},
			queued: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.desc, func(t *testing.T) {
			q := openTestQueue(t, newMemStore(), 10)
			enqueueMessages(t, q, "a", "b")

			var mu sync.Mutex
			var failed []LogRecord
			sender := &scriptedSender{outcomes: []OutcomeKind{Rejected}}
			startDrainer(t, q, sender, DrainerOptions{
				RejectPolicy: tc.policy,
				OnError: func(record LogRecord, err error) {
					mu.Lock()
					defer mu.Unlock()
					failed = append(failed, record)
				},
			})

			require.Eventually(t, func() bool {
				return len(sender.sentMessages()) == len(tc.want) && q.Len() == tc.queued
			}, 5*time.Second, 5*time.Millisecond)

			time.Sleep(20 * time.Millisecond)
			assert.Equal(t, tc.want, sender.sentMessages())
			assert.Equal(t, tc.queued, q.Len())

			mu.Lock()
			defer mu.Unlock()
			require.Len(t, failed, 1)
			assert.Equal(t, "a", failed[0].Message)
		})
	}
}

func TestDrainerPauseResume(t *testing.T) {
	q := openTestQueue(t, newMemStore(), 10)
	enqueueMessages(t, q, "a", "b")

	sender := &scriptedSender{}
	d := NewDrainer(q, sender, DrainerOptions{SendInterval: time.Millisecond, Logger: zaptest.NewLogger(t)})
	d.Pause()
	assert.True(t, d.Paused())

	runDrainer(t, d)

	d.Trigger()
	assert.Never(t, func() bool { return len(sender.sentMessages()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, Idle, d.State())

	d.Resume()
	assert.False(t, d.Paused())
	require.Eventually(t, q.IsEmpty, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{"a", "b"}, sender.sentMessages())
}

func TestDrainerPauseBetweenSends(t *testing.T) {
	q := openTestQueue(t, newMemStore(), 10)
	enqueueMessages(t, q, "a", "b", "c")

	mock := clock.NewMock()
	sender := &scriptedSender{}
	d := startDrainer(t, q, sender, DrainerOptions{SendInterval: time.Second, Clock: mock})

	// The next send waits for the interval on the clock.
	require.Eventually(t, func() bool { return len(sender.sentMessages()) == 1 }, 5*time.Second, time.Millisecond)
	assert.Never(t, func() bool { return len(sender.sentMessages()) > 1 }, 30*time.Millisecond, 5*time.Millisecond)

	d.Pause()
	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return d.State() == Idle
	}, 5*time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool {
		mock.Add(time.Second)
		return len(sender.sentMessages()) > 1
	}, 50*time.Millisecond, 5*time.Millisecond)

	d.Resume()
	require.Eventually(t, func() bool { return len(sender.sentMessages()) == 2 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, []any{"a", "b"}, sender.sentMessages())
	assert.Never(t, func() bool { return len(sender.sentMessages()) > 2 }, 30*time.Millisecond, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return q.IsEmpty()
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{"a", "b", "c"}, sender.sentMessages())
}

func TestDrainerPausedRetryTimer(t *testing.T) {
	q := openTestQueue(t, newMemStore(), 10)
	enqueueMessages(t, q, "a")

	mock := clock.NewMock()
	sender := &scriptedSender{outcomes: []OutcomeKind{Unreachable}}
	d := startDrainer(t, q, sender, DrainerOptions{
		Clock:        mock,
		RetryBackoff: backoff.NewConstantBackOff(time.Second),
	})

	require.Eventually(t, func() bool {
		return len(sender.sentMessages()) == 1 && d.State() == Idle
	}, 5*time.Second, time.Millisecond)

	d.Pause()
	assert.Never(t, func() bool {
		mock.Add(time.Second)
		return len(sender.sentMessages()) > 1
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 1, q.Len())

	d.Resume()
	require.Eventually(t, q.IsEmpty, 5*time.Second, time.Millisecond)
	assert.Equal(t, []any{"a", "a"}, sender.sentMessages())
}

func TestDrainerCallerChangesRecordAfterEnqueue(t *testing.T) {
	q := openTestQueue(t, newMemStore(), 10)

	props := Properties{"k": "v"}
	require.NoError(t, q.Enqueue(LogRecord{Timestamp: "2024-03-01T12:00:00.000Z", Message: "a", Level: "info", Properties: props}))
	props["k"] = "changed"

	sender := &scriptedSender{}
	startDrainer(t, q, sender, DrainerOptions{})

	require.Eventually(t, q.IsEmpty, 5*time.Second, time.Millisecond)
	assert.Never(t, func() bool { return len(sender.sentMessages()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "v", sender.sent[0].Properties["k"])
}

func TestDrainerOnlineTransition(t *testing.T) {
	q := openTestQueue(t, newMemStore(), 10)
	enqueueMessages(t, q, "a")

	conn := NewManualConnectivity(false)
	sender := &scriptedSender{}
	startDrainer(t, q, sender, DrainerOptions{Connectivity: conn})

	assert.Never(t, func() bool { return len(sender.sentMessages()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	conn.SetOnline(true)
	require.Eventually(t, q.IsEmpty, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{"a"}, sender.sentMessages())
}

func TestDrainerFlushNow(t *testing.T) {
	q := openTestQueue(t, newMemStore(), 10)
	enqueueMessages(t, q, "a", "b", "c")

	sender := &scriptedSender{}
	d := startDrainer(t, q, sender, DrainerOptions{Connectivity: NewManualConnectivity(false)})
	d.Pause()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.FlushNow(ctx))

	assert.True(t, q.IsEmpty())
	assert.Equal(t, []any{"a", "b", "c"}, sender.sentMessages())
	assert.True(t, d.Paused(), "FlushNow must not resume")
}

func TestDrainerFlushNowFailure(t *testing.T) {
	q := openTestQueue(t, newMemStore(), 10)
	enqueueMessages(t, q, "a", "b")

	sender := &scriptedSender{outcomes: []OutcomeKind{Delivered, Unreachable, Unreachable}}
	d := startDrainer(t, q, sender, DrainerOptions{Connectivity: NewManualConnectivity(false)})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.Error(t, d.FlushNow(ctx))
	assert.Equal(t, []any{"b"}, messages(q.Entries()))
}

func TestDrainerFlushNowStopped(t *testing.T) {
	q := openTestQueue(t, newMemStore(), 10)
	d := NewDrainer(q, &scriptedSender{}, DrainerOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	assert.ErrorIs(t, d.FlushNow(context.Background()), ErrDrainerStopped)
}

func TestDrainStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "sending", Sending.String())
}
