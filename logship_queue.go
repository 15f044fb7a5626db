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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	// DefaultQueueSize is the default capacity of the persisted queue.
	DefaultQueueSize = 2000

	// evictionMessage is the message of the warning record appended when the
	// queue drops its oldest records.
	evictionMessage = "message queue size exceeded"

	// corruptKeySuffix is appended to the queue's storage key to preserve
	// state that failed to parse.
	corruptKeySuffix = ".corrupt"

	// maxCorruptCopies bounds the number of corrupt state copies kept.
	maxCorruptCopies = 100
)

var (
	// ErrEmptyQueue is returned by RemoveOldest on an empty queue.
	ErrEmptyQueue = errors.New("queue is empty")

	// ErrCorruptState is returned when the persisted queue can't be parsed.
	ErrCorruptState = errors.New("persisted queue state is corrupt")

	// ErrUnserializable is returned for records that can't be encoded.
	ErrUnserializable = errors.New("record can't be serialized")

	// ErrInvalidCapacity is returned for a non positive queue capacity.
	ErrInvalidCapacity = errors.New("queue capacity must be greater than 0")
)

// Queue is a capacity bounded FIFO of LogRecord persisted to a Store. The
// whole ordered sequence is written to the store on every mutation, before
// the mutating call returns, so the stored image always matches memory.
type Queue struct {
	// mu serializes mutations and the persistence writes.
	mu sync.Mutex
	// store is the backing key-value storage.
	store Store
	// key is the storage key owned by this queue.
	key string
	// capacity is the max number of entries.
	capacity int
	// entries is the ordered sequence, the head is the oldest record.
	entries []LogRecord
	// encoded holds the canonical encoding of each entry, same indexes as
	// entries.
	encoded []string
	// index counts the queued entries by canonical encoding, it backs the
	// duplicate check.
	index map[string]int
	// logger receives queue diagnostics.
	logger *zap.Logger
	// metrics may be nil.
	metrics *Metrics
	// clock stamps the eviction warnings.
	clock clock.Clock
}

// QueueOption configures optional Queue behavior.
type QueueOption func(*Queue)

// WithQueueLogger sets the logger used for queue diagnostics.
func WithQueueLogger(logger *zap.Logger) QueueOption {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithQueueMetrics sets the collectors updated by the queue.
func WithQueueMetrics(m *Metrics) QueueOption {
	return func(q *Queue) { q.metrics = m }
}

// WithQueueClock sets the clock used to stamp eviction warnings.
func WithQueueClock(c clock.Clock) QueueOption {
	return func(q *Queue) {
		if c != nil {
			q.clock = c
		}
	}
}

// OpenQueue creates the queue stored under key, reloading any previously
// persisted state. A state that can't be read or parsed never fails the call,
// it's logged and the queue starts empty; unparseable bytes are preserved
// under key + ".corrupt".
func OpenQueue(store Store, key string, capacity int, opts ...QueueOption) (*Queue, error) {
	if store == nil {
		return nil, errors.New("queue store must not be nil")
	}

	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}

	q := &Queue{
		store:    store,
		key:      key,
		capacity: capacity,
		index:    make(map[string]int),
		logger:   zap.NewNop(),
		clock:    clock.New(),
	}

	for _, opt := range opts {
		opt(q)
	}

	if err := q.load(); err != nil {
		q.logger.Error("Failed to load persisted queue, starting empty",
			zap.String("key", key), zap.Error(err))
		q.reset()
	}

	q.metrics.setDepth(len(q.entries))
	return q, nil
}

// load reads the persisted sequence. No persisted state means an empty queue.
func (q *Queue) load() error {
	data, err := q.store.Read(q.key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read queue state: %w", err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		q.preserveCorrupt(data)
		return fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	for i, curr := range raw {
		record, err := decodeRecord(curr)
		if err != nil {
			q.reset()
			q.preserveCorrupt(data)
			return fmt.Errorf("%w: entry %d: %v", ErrCorruptState, i, err)
		}

		encoded, err := record.encode()
		if err != nil {
			q.reset()
			q.preserveCorrupt(data)
			return fmt.Errorf("%w: entry %d: %v", ErrCorruptState, i, err)
		}

		q.entries = append(q.entries, record)
		q.encoded = append(q.encoded, string(encoded))
		q.index[string(encoded)]++
	}

	// The capacity may have been lowered since the state was written.
	if excess := len(q.entries) - q.capacity; excess > 0 {
		for range excess {
			q.dropHeadLocked()
		}
		q.logger.Warn("Persisted queue exceeds capacity, dropped oldest records",
			zap.String("key", q.key), zap.Int("dropped", excess), zap.Int("capacity", q.capacity))
		q.metrics.recordEvicted(excess)
		// The trimmed state is kept in memory, the next successful mutation
		// persists it.
		if err := q.persistLocked(); err != nil {
			q.logger.Warn("Failed to persist trimmed queue",
				zap.String("key", q.key), zap.Error(err))
		}
	}

	return nil
}

// preserveCorrupt copies unparseable state aside so it's not overwritten by
// the next mutation. Earlier copies are kept: the first one goes to
// key + ".corrupt", the next ones get a ".1", ".2", ... suffix.
func (q *Queue) preserveCorrupt(data []byte) {
	key, err := q.corruptKey()
	if err == nil {
		err = q.store.Write(key, data)
	}
	if err != nil {
		q.logger.Warn("Failed to preserve corrupt queue state",
			zap.String("key", q.key), zap.Error(err))
		return
	}
	q.logger.Warn("Preserved corrupt queue state", zap.String("key", key))
}

// corruptKey returns the first unused key for a corrupt state copy.
func (q *Queue) corruptKey() (string, error) {
	base := q.key + corruptKeySuffix
	for n := 0; n < maxCorruptCopies; n++ {
		key := base
		if n > 0 {
			key = fmt.Sprintf("%s.%d", base, n)
		}

		_, err := q.store.Read(key)
		if errors.Is(err, ErrNotFound) {
			return key, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("too many corrupt state copies of %s", q.key)
}

// reset empties the in-memory state.
func (q *Queue) reset() {
	q.entries = nil
	q.encoded = nil
	q.index = make(map[string]int)
}

// Enqueue appends record at the tail. A record identical to a queued one is
// silently ignored. When the queue is full the oldest records are evicted and
// a warning record describing the eviction is appended after record; the
// warning goes through the same capacity rule but never triggers another
// warning. The new state is persisted before Enqueue returns, if that fails
// the queue is left unchanged and the error is returned.
func (q *Queue) Enqueue(record LogRecord) error {
	data, err := record.encode()
	if err != nil {
		return err
	}
	encoded := string(data)

	// The queued copy shares no map or slice with the caller's record.
	record, err = decodeRecord(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnserializable, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.index[encoded] > 0 {
		q.metrics.recordDuplicate()
		return nil
	}

	prevEntries, prevEncoded := slices.Clone(q.entries), slices.Clone(q.encoded)

	evicted := q.appendLocked(record, encoded)
	evictedByWarning := 0
	if len(evicted) > 0 && q.capacity > 1 {
		warning := q.evictionWarning(evicted)
		if warningData, err := warning.encode(); err == nil && q.index[string(warningData)] == 0 {
			if warning, err = decodeRecord(warningData); err == nil {
				evictedByWarning = len(q.appendLocked(warning, string(warningData)))
			}
		}
	}

	if err := q.persistLocked(); err != nil {
		q.restoreLocked(prevEntries, prevEncoded)
		return err
	}

	q.metrics.recordEnqueued()
	if total := len(evicted) + evictedByWarning; total > 0 {
		q.metrics.recordEvicted(total)
		q.logger.Warn("Queue full, evicted oldest records",
			zap.String("key", q.key),
			zap.Int("capacity", q.capacity),
			zap.Int("evicted", total))
	}
	q.metrics.setDepth(len(q.entries))
	return nil
}

// appendLocked evicts from the head until there is room and appends record.
// It returns the evicted records.
func (q *Queue) appendLocked(record LogRecord, encoded string) []LogRecord {
	var evicted []LogRecord
	for len(q.entries) >= q.capacity {
		evicted = append(evicted, q.entries[0])
		q.dropHeadLocked()
	}

	q.entries = append(q.entries, record)
	q.encoded = append(q.encoded, encoded)
	q.index[encoded]++
	return evicted
}

// evictionWarning builds the record describing an eviction.
func (q *Queue) evictionWarning(evicted []LogRecord) LogRecord {
	return NewRecord(q.clock.Now(), WarnLevel, evictionMessage, Properties{
		"capacity":       q.capacity,
		"evicted":        len(evicted),
		"oldest_evicted": evicted[0].Timestamp,
		"newest_evicted": evicted[len(evicted)-1].Timestamp,
		"storage_key":    q.key,
	}, nil)
}

// dropHeadLocked removes the head from the in-memory state.
func (q *Queue) dropHeadLocked() {
	encoded := q.encoded[0]
	if q.index[encoded]--; q.index[encoded] <= 0 {
		delete(q.index, encoded)
	}
	q.entries[0] = LogRecord{}
	q.entries = q.entries[1:]
	q.encoded = q.encoded[1:]
}

// restoreLocked puts back a previous in-memory state.
func (q *Queue) restoreLocked(entries []LogRecord, encoded []string) {
	q.entries = entries
	q.encoded = encoded
	q.index = make(map[string]int, len(encoded))
	for _, curr := range encoded {
		q.index[curr]++
	}
}

// persistLocked writes the full ordered sequence as a JSON array.
func (q *Queue) persistLocked() error {
	var buf bytes.Buffer
	buf.WriteByte('[')
	buf.WriteString(strings.Join(q.encoded, ","))
	buf.WriteByte(']')

	if err := q.store.Write(q.key, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to persist queue: %w", err)
	}
	return nil
}

// PeekOldest returns a copy of the head without removing it, false if the
// queue is empty.
func (q *Queue) PeekOldest() (LogRecord, bool) {
	record, _, found := q.peekHead()
	return record, found
}

// peekHead returns a copy of the head and its canonical encoding, the handle
// removeIfOldest takes.
func (q *Queue) peekHead() (LogRecord, string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return LogRecord{}, "", false
	}
	return q.recordAtLocked(0), q.encoded[0], true
}

// recordAtLocked returns a copy of the i-th entry decoded from its encoding.
func (q *Queue) recordAtLocked(i int) LogRecord {
	record, err := decodeRecord([]byte(q.encoded[i]))
	if err != nil {
		q.logger.Error("Failed to copy queued record", zap.Int("index", i), zap.Error(err))
		return q.entries[i]
	}
	return record
}

// RemoveOldest removes and returns the head, persisting the new state first.
// It fails with ErrEmptyQueue on an empty queue.
func (q *Queue) RemoveOldest() (LogRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeOldestLocked()
}

func (q *Queue) removeOldestLocked() (LogRecord, error) {
	if len(q.entries) == 0 {
		return LogRecord{}, ErrEmptyQueue
	}

	prevEntries, prevEncoded := slices.Clone(q.entries), slices.Clone(q.encoded)
	head := q.entries[0]
	q.dropHeadLocked()

	if err := q.persistLocked(); err != nil {
		q.restoreLocked(prevEntries, prevEncoded)
		return LogRecord{}, err
	}

	q.metrics.setDepth(len(q.entries))
	return head, nil
}

// removeIfOldest removes the head only if its encoding is still encoded, as
// returned by peekHead. A head evicted while its send was in flight is then
// never confused with the new head.
func (q *Queue) removeIfOldest(encoded string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 || q.encoded[0] != encoded {
		return false, nil
	}

	if _, err := q.removeOldestLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// IsEmpty returns true if the queue has no entries.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Capacity returns the max number of entries.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Entries returns copies of the queued records, oldest first.
func (q *Queue) Entries() []LogRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	res := make([]LogRecord, len(q.entries))
	for i := range q.entries {
		res[i] = q.recordAtLocked(i)
	}
	return res
}

// Clear empties the queue and persists the empty state.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	prevEntries, prevEncoded := q.entries, q.encoded
	q.reset()

	if err := q.persistLocked(); err != nil {
		q.restoreLocked(prevEntries, prevEncoded)
		return err
	}

	q.metrics.setDepth(0)
	return nil
}
