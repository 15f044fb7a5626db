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
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// testRecord returns a record created i milliseconds after testEpoch.
func testRecord(i int, message string) LogRecord {
	return NewRecord(testEpoch.Add(time.Duration(i)*time.Millisecond), InfoLevel, message, Properties{"seq": i}, nil)
}

func messages(records []LogRecord) []any {
	var res []any
	for _, curr := range records {
		res = append(res, curr.Message)
	}
	return res
}

func openTestQueue(t *testing.T, store Store, capacity int, opts ...QueueOption) *Queue {
	t.Helper()
	opts = append([]QueueOption{WithQueueLogger(zaptest.NewLogger(t))}, opts...)
	q, err := OpenQueue(store, "queue", capacity, opts...)
	require.NoError(t, err)
	return q
}

func TestOpenQueueInvalid(t *testing.T) {
	_, err := OpenQueue(nil, "queue", 10)
	assert.Error(t, err)

	for _, capacity := range []int{0, -1} {
		_, err := OpenQueue(newMemStore(), "queue", capacity)
		assert.ErrorIs(t, err, ErrInvalidCapacity)
	}
}

func TestQueueFIFO(t *testing.T) {
	q := openTestQueue(t, newMemStore(), 10)
	assert.True(t, q.IsEmpty())

	_, found := q.PeekOldest()
	assert.False(t, found)
	_, err := q.RemoveOldest()
	assert.ErrorIs(t, err, ErrEmptyQueue)

	for i, msg := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(testRecord(i, msg)))
	}
	assert.Equal(t, 3, q.Len())

	head, found := q.PeekOldest()
	require.True(t, found)
	assert.Equal(t, "a", head.Message)
	assert.Equal(t, 3, q.Len(), "PeekOldest must not remove")

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.RemoveOldest()
		require.NoError(t, err)
		assert.Equal(t, want, got.Message)
	}
	assert.True(t, q.IsEmpty())
}

func TestQueueCapacityEviction(t *testing.T) {
	tests := []struct {
		desc     string
		capacity int
		messages []string
		want     []any
	}{
		{
			desc:     "below_capacity",
			capacity: 3,
			messages: []string{"a", "b"},
			want:     []any{"a", "b"},
		},
		{
			desc:     "at_capacity",
			capacity: 2,
			messages: []string{"a", "b"},
			want:     []any{"a", "b"},
		},
		{
			desc:     "capacity_two",
			capacity: 2,
			messages: []string{"a", "b", "c"},
			want:     []any{"c", evictionMessage},
		},
		{
			desc:     "capacity_three",
			capacity: 3,
			messages: []string{"a", "b", "c", "d"},
			want:     []any{"c", "d", evictionMessage},
		},
		{
			desc:     "capacity_one",
			capacity: 1,
			messages: []string{"a", "b", "c"},
			want:     []any{"c"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.desc, func(t *testing.T) {
			q := openTestQueue(t, newMemStore(), tc.capacity)
			for i, msg := range tc.messages {
				require.NoError(t, q.Enqueue(testRecord(i, msg)))
				assert.LessOrEqual(t, q.Len(), tc.capacity)
			}
			assert.Equal(t, tc.want, messages(q.Entries()))
		})
	}
}

func TestQueueEvictionWarning(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(testEpoch.Add(time.Hour))

	q := openTestQueue(t, newMemStore(), 2, WithQueueClock(mock))
	for i, msg := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(testRecord(i, msg)))
	}

	entries := q.Entries()
	require.Len(t, entries, 2)

	warning := entries[1]
	assert.Equal(t, WarnLevel.Name(), warning.Level)
	assert.Equal(t, "2024-03-01T13:00:00.000Z", warning.Timestamp)
	assert.Equal(t, json.Number("2"), warning.Properties["capacity"])
	assert.Equal(t, json.Number("1"), warning.Properties["evicted"])
	assert.Equal(t, testRecord(0, "a").Timestamp, warning.Properties["oldest_evicted"])
	assert.Equal(t, "queue", warning.Properties["storage_key"])
}

func TestQueueDuplicates(t *testing.T) {
	store := newMemStore()
	q := openTestQueue(t, store, 10)

	record := testRecord(0, "a")
	require.NoError(t, q.Enqueue(record))
	writes := store.writes

	require.NoError(t, q.Enqueue(testRecord(0, "a")))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, writes, store.writes, "duplicate must not be persisted")

	// Same message, different timestamp, is not a duplicate.
	require.NoError(t, q.Enqueue(testRecord(1, "a")))
	assert.Equal(t, 2, q.Len())

	// Once removed, the record can be queued again.
	_, err := q.RemoveOldest()
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(record))
	assert.Equal(t, 2, q.Len())
}

func TestQueueDurability(t *testing.T) {
	store := newMemStore()
	q := openTestQueue(t, store, 10)

	for i, msg := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(testRecord(i, msg)))
	}
	_, err := q.RemoveOldest()
	require.NoError(t, err)

	reopened := openTestQueue(t, store, 10)
	assert.Equal(t, []any{"b", "c"}, messages(reopened.Entries()))

	head, found := reopened.PeekOldest()
	require.True(t, found)
	assertSameEncoding(t, testRecord(1, "b"), head)

	// Reloaded records are still detected as duplicates.
	require.NoError(t, reopened.Enqueue(testRecord(2, "c")))
	assert.Equal(t, 2, reopened.Len())
}

func TestQueueDurabilityFileStore(t *testing.T) {
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	q := openTestQueue(t, store, 10)
	require.NoError(t, q.Enqueue(testRecord(0, "a")))
	require.NoError(t, q.Enqueue(testRecord(1, "b")))
	require.NoError(t, store.Close())

	restarted, err := NewFileStore(dir)
	require.NoError(t, err)
	defer restarted.Close()

	reopened := openTestQueue(t, restarted, 10)
	assert.Equal(t, []any{"a", "b"}, messages(reopened.Entries()))
}

func TestQueuePersistedFormat(t *testing.T) {
	store := newMemStore()
	q := openTestQueue(t, store, 10)

	record := NewRecord(testEpoch, ErrorLevel, "boom", Properties{"b": 2, "a": "x"}, nil)
	require.NoError(t, q.Enqueue(record))

	want := `[{"timestamp":"2024-03-01T12:00:00.000Z","message":"boom","level":"error","properties":{"a":"x","b":2}}]`
	assert.Equal(t, want, store.get("queue"))
}

func TestQueuePersistenceFailure(t *testing.T) {
	store := newMemStore()
	q := openTestQueue(t, store, 2)
	require.NoError(t, q.Enqueue(testRecord(0, "a")))
	require.NoError(t, q.Enqueue(testRecord(1, "b")))
	persisted := store.get("queue")

	store.setFailWrites(true)

	assert.Error(t, q.Enqueue(testRecord(2, "c")))
	assert.Equal(t, []any{"a", "b"}, messages(q.Entries()))

	_, err := q.RemoveOldest()
	assert.Error(t, err)
	assert.Equal(t, []any{"a", "b"}, messages(q.Entries()))

	assert.Error(t, q.Clear())
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, persisted, store.get("queue"))

	store.setFailWrites(false)

	// The failed record was never queued, so it's not a duplicate now.
	require.NoError(t, q.Enqueue(testRecord(2, "c")))
	assert.Equal(t, []any{"c", evictionMessage}, messages(q.Entries()))
}

func TestQueueUnserializable(t *testing.T) {
	store := newMemStore()
	q := openTestQueue(t, store, 10)

	record := NewRecord(testEpoch, InfoLevel, "nan", Properties{"value": math.NaN()}, nil)
	assert.ErrorIs(t, q.Enqueue(record), ErrUnserializable)
	assert.True(t, q.IsEmpty())
	assert.Equal(t, 0, store.writes)
}

func TestQueueCorruptState(t *testing.T) {
	tests := []struct {
		desc  string
		state string
	}{
		{
			desc:  "not_json",
			state: "not json",
		},
		{
			desc:  "not_an_array",
			state: `{"message":"a"}`,
		},
		{
			desc:  "invalid_entry",
			state: `[{"timestamp":"2024-03-01T12:00:00.000Z","message":"a","level":"info","properties":{}},42]`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.desc, func(t *testing.T) {
			store := newMemStore()
			require.NoError(t, store.Write("queue", []byte(tc.state)))

			q := openTestQueue(t, store, 10)
			assert.True(t, q.IsEmpty())
			assert.Equal(t, tc.state, store.get("queue"+corruptKeySuffix))

			require.NoError(t, q.Enqueue(testRecord(0, "a")))
			assert.Equal(t, 1, q.Len())
		})
	}
}

func TestQueueTrimOnReload(t *testing.T) {
	store := newMemStore()
	q := openTestQueue(t, store, 5)
	for i := range 5 {
		require.NoError(t, q.Enqueue(testRecord(i, fmt.Sprintf("m%d", i))))
	}

	reopened := openTestQueue(t, store, 2)
	assert.Equal(t, 2, reopened.Capacity())
	assert.Equal(t, []any{"m3", "m4"}, messages(reopened.Entries()))
	assert.Contains(t, store.get("queue"), `"m3"`)
	assert.NotContains(t, store.get("queue"), `"m2"`)
}

func TestQueueClear(t *testing.T) {
	store := newMemStore()
	q := openTestQueue(t, store, 10)
	require.NoError(t, q.Enqueue(testRecord(0, "a")))

	require.NoError(t, q.Clear())
	assert.True(t, q.IsEmpty())
	assert.Equal(t, "[]", store.get("queue"))
}

func TestQueueRemoveIfOldest(t *testing.T) {
	q := openTestQueue(t, newMemStore(), 2)
	require.NoError(t, q.Enqueue(testRecord(0, "a")))
	_, a, found := q.peekHead()
	require.True(t, found)
	require.NoError(t, q.Enqueue(testRecord(1, "b")))

	// The head changes while "a" is in flight.
	_, err := q.RemoveOldest()
	require.NoError(t, err)

	removed, err := q.removeIfOldest(a)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, []any{"b"}, messages(q.Entries()))

	_, b, found := q.peekHead()
	require.True(t, found)
	removed, err = q.removeIfOldest(b)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.True(t, q.IsEmpty())
}

func TestQueueOwnsRecords(t *testing.T) {
	store := newMemStore()
	q := openTestQueue(t, store, 10)

	props := Properties{"k": "v"}
	message := map[string]any{"event": "login"}
	require.NoError(t, q.Enqueue(NewRecord(testEpoch, InfoLevel, message, nil, nil)))
	record := LogRecord{Timestamp: "2024-03-01T12:00:00.001Z", Message: "b", Level: "info", Properties: props}
	require.NoError(t, q.Enqueue(record))
	persisted := store.get("queue")

	// Changes made by the caller after Enqueue don't reach the queue.
	props["k"] = "changed"
	message["event"] = "changed"

	entries := q.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "login", entries[0].Message.(map[string]any)["event"])
	assert.Equal(t, "v", entries[1].Properties["k"])

	// Neither do changes made to the returned copies.
	entries[1].Properties["k"] = "changed"
	head, found := q.PeekOldest()
	require.True(t, found)
	head.Message.(map[string]any)["event"] = "changed"

	assert.Equal(t, "v", q.Entries()[1].Properties["k"])
	assert.Equal(t, "login", q.Entries()[0].Message.(map[string]any)["event"])
	assert.Equal(t, persisted, store.get("queue"))

	// The original record is still a duplicate of the queued one.
	props["k"] = "v"
	require.NoError(t, q.Enqueue(record))
	assert.Equal(t, 2, q.Len())
}

func TestQueueTrimOnReloadWriteFailure(t *testing.T) {
	store := newMemStore()
	q := openTestQueue(t, store, 5)
	for i := range 5 {
		require.NoError(t, q.Enqueue(testRecord(i, fmt.Sprintf("m%d", i))))
	}
	persisted := store.get("queue")

	store.setFailWrites(true)
	reopened := openTestQueue(t, store, 2)
	assert.Equal(t, []any{"m3", "m4"}, messages(reopened.Entries()))
	assert.Equal(t, persisted, store.get("queue"))

	store.setFailWrites(false)
	require.NoError(t, reopened.Enqueue(testRecord(5, "m5")))
	assert.Equal(t, []any{"m5", evictionMessage}, messages(reopened.Entries()))
	assert.Contains(t, store.get("queue"), `"m5"`)
}

func TestQueueCorruptStateKeepsCopies(t *testing.T) {
	store := newMemStore()

	for _, state := range []string{"first", "second", "third"} {
		require.NoError(t, store.Write("queue", []byte(state)))
		q := openTestQueue(t, store, 10)
		assert.True(t, q.IsEmpty())
	}

	assert.Equal(t, "first", store.get("queue"+corruptKeySuffix))
	assert.Equal(t, "second", store.get("queue"+corruptKeySuffix+".1"))
	assert.Equal(t, "third", store.get("queue"+corruptKeySuffix+".2"))
}
