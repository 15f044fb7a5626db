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
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is a Store backed by an embedded badger database. Badger
// already holds an exclusive directory lock so a second process opening the
// same path fails at NewBadgerStore.
type BadgerStore struct {
	db     *badger.DB
	closed atomic.Bool
}

// NewBadgerStore opens (or creates) the badger database at path with
// synchronous writes. An empty path opens an in-memory database, only useful
// for tests as nothing survives Close().
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store %q: %w", path, err)
	}

	return &BadgerStore{db: db}, nil
}

// Read returns the value stored under key.
func (bs *BadgerStore) Read(key string) ([]byte, error) {
	if bs.closed.Load() {
		return nil, ErrStoreClosed
	}
	if key == "" {
		return nil, ErrInvalidKey
	}

	var data []byte
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read badger key %q: %w", key, err)
	}

	return data, nil
}

// Write stores data under key, the transaction commit is synced to disk.
func (bs *BadgerStore) Write(key string, data []byte) error {
	if bs.closed.Load() {
		return ErrStoreClosed
	}
	if key == "" {
		return ErrInvalidKey
	}

	err := bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("failed to write badger key %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (bs *BadgerStore) Close() error {
	if bs.closed.Swap(true) {
		return nil
	}
	return bs.db.Close()
}
