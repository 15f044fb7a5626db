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
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const (
	// instanceIDKey is the storage key of the persisted instance id.
	instanceIDKey = "instance-id"

	// levelKey is the storage key of the persisted log level.
	levelKey = "verbosity"
)

var (
	// ErrNotFound is returned by a Store's Read when the key was never written.
	ErrNotFound = errors.New("storage key not found")

	// ErrStoreLocked is returned when another process owns the storage key.
	ErrStoreLocked = errors.New("storage key is locked by another process")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrInvalidKey is returned for keys that can't be mapped to storage.
	ErrInvalidKey = errors.New("invalid storage key")
)

// Store is a key-value byte store, one key per queue instance. Write must not
// return before the bytes are durable.
type Store interface {
	// Read returns the bytes stored under key or ErrNotFound.
	Read(key string) ([]byte, error)
	// Write replaces the bytes stored under key.
	Write(key string, data []byte) error
	// Close releases the store's resources.
	Close() error
}

// FileStore is a Store keeping one file per key in a directory. Each key is
// owned exclusively by the process that first touched it, ownership is
// enforced with an advisory file lock next to the data file.
type FileStore struct {
	// dir is the directory holding the data and lock files.
	dir string
	// mu protects locks and closed.
	mu sync.Mutex
	// locks maps a key to the lock held for it.
	locks map[string]*flock.Flock
	// closed is true after Close().
	closed bool
}

// NewFileStore returns a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}

	return &FileStore{
		dir:   dir,
		locks: make(map[string]*flock.Flock),
	}, nil
}

// path returns the data file path of key.
func (fs *FileStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(fs.dir, "."+key), nil
}

// acquire takes the key's lock on first use.
func (fs *FileStore) acquire(key, path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return ErrStoreClosed
	}

	if _, found := fs.locks[key]; found {
		return nil
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock storage key %q: %w", key, err)
	}
	if !locked {
		return fmt.Errorf("%w: %q", ErrStoreLocked, key)
	}

	fs.locks[key] = lock
	return nil
}

// Read returns the content of the key's file.
func (fs *FileStore) Read(key string) ([]byte, error) {
	path, err := fs.path(key)
	if err != nil {
		return nil, err
	}

	if err := fs.acquire(key, path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read storage file %s: %w", path, err)
	}

	return data, nil
}

// Write atomically replaces the key's file: data is written to a temporary
// file that is synced and renamed over the previous content.
func (fs *FileStore) Write(key string, data []byte) error {
	path, err := fs.path(key)
	if err != nil {
		return err
	}

	if err := fs.acquire(key, path); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(fs.dir, "."+key+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary storage file: %w", err)
	}
	tmpPath := tmp.Name()

	n, err := tmp.Write(data)
	if err == nil && n != len(data) {
		err = fmt.Errorf("failed to write the data, wrote %d bytes out of %d bytes", n, len(data))
	}
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write storage file %s: %w", path, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace storage file %s: %w", path, err)
	}

	return syncDir(fs.dir)
}

// Close releases all the key locks.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return nil
	}
	fs.closed = true

	var err error
	for key, lock := range fs.locks {
		err = multierr.Append(err, lock.Unlock())
		delete(fs.locks, key)
	}
	return err
}

// syncDir makes a rename in dir durable. Not every platform allows syncing a
// directory, those errors are ignored.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open storage directory %s: %w", dir, err)
	}
	defer d.Close()
	d.Sync()
	return nil
}

// EnsureInstanceID returns the instance id persisted in store, generating and
// persisting a new one on first use.
func EnsureInstanceID(store Store) (string, error) {
	data, err := store.Read(instanceIDKey)
	if err == nil && len(strings.TrimSpace(string(data))) > 0 {
		return strings.TrimSpace(string(data)), nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}

	id := uuid.NewString()
	if err := store.Write(instanceIDKey, []byte(id)); err != nil {
		return "", fmt.Errorf("failed to persist instance id: %w", err)
	}
	return id, nil
}

// LoadLevel returns the log level persisted in store, found is false when no
// level was ever saved.
func LoadLevel(store Store) (level Level, found bool, err error) {
	data, err := store.Read(levelKey)
	if errors.Is(err, ErrNotFound) {
		return Level{}, false, nil
	}
	if err != nil {
		return Level{}, false, fmt.Errorf("failed to read log level: %w", err)
	}

	level, err = LevelByName(strings.TrimSpace(string(data)))
	if err != nil {
		return Level{}, false, fmt.Errorf("failed to parse persisted log level: %w", err)
	}
	return level, true, nil
}

// SaveLevel persists level's name in store.
func SaveLevel(store Store, level Level) error {
	if err := store.Write(levelKey, []byte(level.Name())); err != nil {
		return fmt.Errorf("failed to persist log level: %w", err)
	}
	return nil
}
