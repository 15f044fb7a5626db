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


package main

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/feifanzhou/logship"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logship.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigFlags(t *testing.T) {
	cfg, err := loadConfig([]string{
		"-endpoint", "https://logs.example.com/ingest",
		"-api-key", "secret",
		"-queue-size", "10",
		"-level", "warn",
		"-dimension", "app=demo",
		"-dimension", "env=prod",
		"-reject-policy", "drop",
	}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "https://logs.example.com/ingest", cfg.Endpoint)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, 10, cfg.QueueSize)
	assert.Equal(t, logship.DefaultSendInterval, cfg.SendInterval)
	assert.Equal(t, storageFile, cfg.Storage)
	assert.Equal(t, logship.Properties{"app": "demo", "env": "prod"}, cfg.dimensions())

	level, err := cfg.level()
	require.NoError(t, err)
	assert.Equal(t, logship.WarnLevel, level)

	policy, err := cfg.rejectPolicy()
	require.NoError(t, err)
	assert.Equal(t, logship.DropRejected, policy)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
endpoint: https://logs.example.com/ingest
api_key: from-file
storage: badger
queue_size: 50
send_interval: 1s
level: info
dimensions:
  app: demo
console: true
`)

	cfg, err := loadConfig([]string{"-config", path, "-api-key", "from-flag", "-dimension", "env=dev"}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "https://logs.example.com/ingest", cfg.Endpoint)
	assert.Equal(t, "from-flag", cfg.APIKey, "flags override the file")
	assert.Equal(t, storageBadger, cfg.Storage)
	assert.Equal(t, 50, cfg.QueueSize)
	assert.Equal(t, time.Second, cfg.SendInterval)
	assert.True(t, cfg.Console)
	assert.Equal(t, logship.DefaultRequestTimeout, cfg.RequestTimeout, "defaults are kept")
	assert.Equal(t, logship.Properties{"app": "demo", "env": "dev"}, cfg.dimensions())
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		desc string
		args []string
	}{
		{
			desc: "missing_endpoint",
			args: []string{"-api-key", "secret"},
		},
		{
			desc: "missing_api_key",
			args: []string{"-endpoint", "https://logs.example.com"},
		},
		{
			desc: "invalid_endpoint",
			args: []string{"-endpoint", "ftp://logs.example.com", "-api-key", "secret"},
		},
		{
			desc: "invalid_storage",
			args: []string{"-endpoint", "https://logs.example.com", "-api-key", "secret", "-storage", "sqlite"},
		},
		{
			desc: "invalid_queue_size",
			args: []string{"-endpoint", "https://logs.example.com", "-api-key", "secret", "-queue-size", "0"},
		},
		{
			desc: "invalid_level",
			args: []string{"-endpoint", "https://logs.example.com", "-api-key", "secret", "-level", "loud"},
		},
		{
			desc: "invalid_reject_policy",
			args: []string{"-endpoint", "https://logs.example.com", "-api-key", "secret", "-reject-policy", "ignore"},
		},
		{
			desc: "invalid_dimension",
			args: []string{"-endpoint", "https://logs.example.com", "-api-key", "secret", "-dimension", "novalue"},
		},
		{
			desc: "missing_config_file",
			args: []string{"-config", "/does/not/exist.yaml"},
		},
		{
			desc: "unknown_flag",
			args: []string{"-foo"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := loadConfig(tc.args, io.Discard)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writeConfig(t, "endpoint: [unterminated")
	_, err := loadConfig([]string{"-config", path}, io.Discard)
	assert.Error(t, err)
}

func TestLoadConfigDisableSending(t *testing.T) {
	cfg, err := loadConfig([]string{"-disable-sending"}, io.Discard)
	require.NoError(t, err)
	assert.True(t, cfg.DisableSending)
}

func TestLoadConfigHelp(t *testing.T) {
	_, err := loadConfig([]string{"-h"}, io.Discard)
	assert.ErrorIs(t, err, flag.ErrHelp)
}
