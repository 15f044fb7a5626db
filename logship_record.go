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
	"fmt"
	"maps"
	"time"
)

const (
	// recordTimeFormat is the ISO-8601 layout of LogRecord's Timestamp.
	recordTimeFormat = "2006-01-02T15:04:05.000Z07:00"
)

// Properties maps a dimension name to a scalar value.
type Properties map[string]any

// LogRecord is the unit queued on local storage and delivered to the remote
// endpoint. Once enqueued a record is never mutated, it's either removed or
// retried as a whole.
type LogRecord struct {
	// Timestamp is the ISO-8601 creation time of the record.
	Timestamp string `json:"timestamp"`
	// Message is the free-form payload, a string or structured fields.
	Message any `json:"message"`
	// Level is the lowercase priority name, see [Level.Name].
	Level string `json:"level"`
	// Properties are the custom and default dimensions merged at creation.
	Properties Properties `json:"properties"`
}

// NewRecord creates a record stamped with when. The defaults are copied over
// props, a default dimension wins over a custom one with the same key.
func NewRecord(when time.Time, level Level, message any, props Properties, defaults Properties) LogRecord {
	merged := make(Properties, len(props)+len(defaults))
	maps.Copy(merged, props)
	maps.Copy(merged, defaults)

	return LogRecord{
		Timestamp:  when.UTC().Format(recordTimeFormat),
		Message:    message,
		Level:      level.Name(),
		Properties: merged,
	}
}

// encode returns the canonical encoding of the record. encoding/json sorts
// map keys so two structurally equal records always encode to the same bytes.
func (r LogRecord) encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnserializable, err)
	}
	return data, nil
}

// decodeRecord parses a canonical encoding into a record that shares nothing
// with the encoded one. Numbers are kept as json.Number so encoding the result
// again gives back the same bytes.
func decodeRecord(data []byte) (LogRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var record LogRecord
	if err := dec.Decode(&record); err != nil {
		return LogRecord{}, err
	}
	return record, nil
}
