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
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"syscall"
)

const (
	// defaultStderrQueueSize bounds the in-memory queue of the console backend,
	// writes to the console rarely fail so a handful of entries is enough.
	defaultStderrQueueSize = 10

	// consoleTimeFormat is the timestamp layout of the console lines.
	consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"
)

// StderrBackend mirrors the entries to the console, one text line per entry
// followed by the entry's properties as sorted key=value pairs.
type StderrBackend struct {
	// backendID is the internal id of this backend.
	backendID string
	// config is the text formats and queue configuration.
	config *backendConfig
	// mu serializes the writes.
	mu sync.Mutex
	// writer is os.Stderr unless a test or the host sets another one.
	writer io.Writer
}

// NewStderrBackend returns a Backend writing to writer, a nil writer means
// os.Stderr.
func NewStderrBackend(writer io.Writer) *StderrBackend {
	if writer == nil {
		writer = os.Stderr
	}

	res := &StderrBackend{
		backendID: "log-backend,stderr",
		config:    newBackendConfig(defaultStderrQueueSize),
		writer:    writer,
	}

	res.config.SetFormat(ErrorLevel,
		`{{.When.UTC.Format "`+consoleTimeFormat+`"}} {{if .Prefix}}{{.Prefix}}: {{end}}[{{.Level}}]: {{.Message}}`)
	res.config.SetFormat(DebugLevel,
		`{{.When.UTC.Format "`+consoleTimeFormat+`"}} {{if .Prefix}}{{.Prefix}}: {{end}}[{{.Level}}]: ({{.File}}:{{.Line}}) {{.Message}}`)

	return res
}

// ID returns the console backend implementation's ID.
func (sb *StderrBackend) ID() string {
	return sb.backendID
}

// Log writes the formatted entry.
func (sb *StderrBackend) Log(entry *LogEntry) error {
	format := sb.config.Format(entry.Level)

	message, err := entry.Format(format)
	if err != nil {
		return fmt.Errorf("failed to format log entry: %w", err)
	}
	message += formatProperties(entry.Properties) + "\n"

	sb.mu.Lock()
	defer sb.mu.Unlock()

	n, err := io.WriteString(sb.writer, message)
	if err != nil {
		return fmt.Errorf("failed to write log entry: %w", err)
	}

	if n != len(message) {
		return fmt.Errorf("failed to write the message, wrote %d bytes out of %d bytes", n, len(message))
	}

	return nil
}

// formatProperties renders props as " key=value" pairs sorted by key.
func formatProperties(props Properties) string {
	if len(props) == 0 {
		return ""
	}

	keys := make([]string, 0, len(props))
	for key := range props {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	var sb strings.Builder
	for _, key := range keys {
		fmt.Fprintf(&sb, " %s=%v", key, props[key])
	}
	return sb.String()
}

// Config returns the backend configuration of the console backend.
func (sb *StderrBackend) Config() Config {
	return sb.config
}

// Flush syncs the writer when it's a file.
func (sb *StderrBackend) Flush(context.Context) error {
	file, ok := sb.writer.(*os.File)
	if !ok {
		return nil
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()

	// Syncing a terminal or a pipe fails with EINVAL, there is nothing to
	// flush in that case.
	if err := file.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) {
		return fmt.Errorf("failed to flush %s: %w", file.Name(), err)
	}
	return nil
}
