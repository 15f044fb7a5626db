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
	"slices"
	"strings"
	"time"

	"github.com/feifanzhou/logship"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	storageFile   = "file"
	storageBadger = "badger"

	rejectRetry = "retry"
	rejectDrop  = "drop"
)

// config is the agent configuration. Values are read from the YAML file
// given with -config, then overridden by the flags set on the command line.
type config struct {
	Endpoint         string            `yaml:"endpoint"`
	APIKey           string            `yaml:"api_key"`
	StateDir         string            `yaml:"state_dir"`
	Storage          string            `yaml:"storage"`
	StorageKey       string            `yaml:"storage_key"`
	QueueSize        int               `yaml:"queue_size"`
	SendInterval     time.Duration     `yaml:"send_interval"`
	RequestTimeout   time.Duration     `yaml:"request_timeout"`
	Level            string            `yaml:"level"`
	Dimensions       map[string]string `yaml:"dimensions"`
	Console          bool              `yaml:"console"`
	DisableSending   bool              `yaml:"disable_sending"`
	RejectPolicy     string            `yaml:"reject_policy"`
	ProbeInterval    time.Duration     `yaml:"probe_interval"`
	RetryMaxInterval time.Duration     `yaml:"retry_max_interval"`
	MetricsAddr      string            `yaml:"metrics_addr"`
	ShutdownTimeout  time.Duration     `yaml:"shutdown_timeout"`
	Input            string            `yaml:"input"`
}

// defaultConfig returns the configuration used for anything neither the file
// nor the flags set.
func defaultConfig() *config {
	return &config{
		StateDir:         ".",
		Storage:          storageFile,
		StorageKey:       logship.DefaultStorageKey,
		QueueSize:        logship.DefaultQueueSize,
		SendInterval:     logship.DefaultSendInterval,
		RequestTimeout:   logship.DefaultRequestTimeout,
		Level:            logship.VerboseLevel.Name(),
		RejectPolicy:     rejectRetry,
		ProbeInterval:    logship.DefaultProbeInterval,
		RetryMaxInterval: logship.DefaultProbeMaxInterval,
		ShutdownTimeout:  5 * time.Second,
	}
}

// dimensionsFlag collects repeated -dimension key=value flags.
type dimensionsFlag map[string]string

func (df dimensionsFlag) String() string {
	var pairs []string
	for key, value := range df {
		pairs = append(pairs, key+"="+value)
	}
	slices.Sort(pairs)
	return strings.Join(pairs, ",")
}

func (df dimensionsFlag) Set(value string) error {
	key, val, found := strings.Cut(value, "=")
	if !found || strings.TrimSpace(key) == "" {
		return errors.Errorf("invalid dimension %q, expected key=value", value)
	}
	df[strings.TrimSpace(key)] = val
	return nil
}

// newFlagSet binds the flags to cfg, the current values of cfg are the flag
// defaults.
func newFlagSet(cfg *config, configPath *string, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("logship", flag.ContinueOnError)
	fs.SetOutput(output)

	if cfg.Dimensions == nil {
		cfg.Dimensions = make(map[string]string)
	}

	fs.StringVar(configPath, "config", *configPath, "YAML configuration file")
	fs.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "endpoint URI the records are posted to")
	fs.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "API key sent with every request")
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "directory holding the persisted queue")
	fs.StringVar(&cfg.Storage, "storage", cfg.Storage, "storage engine: file or badger")
	fs.StringVar(&cfg.StorageKey, "storage-key", cfg.StorageKey, "storage key of the persisted queue")
	fs.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "max number of queued records")
	fs.DurationVar(&cfg.SendInterval, "send-interval", cfg.SendInterval, "delay between two successful sends")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "timeout of a single request")
	fs.StringVar(&cfg.Level, "level", cfg.Level, "least urgent level shipped: "+logship.ValidLevels())
	fs.Var(dimensionsFlag(cfg.Dimensions), "dimension", "default dimension as key=value, repeatable")
	fs.BoolVar(&cfg.Console, "console", cfg.Console, "mirror the records to stderr")
	fs.BoolVar(&cfg.DisableSending, "disable-sending", cfg.DisableSending, "discard the records instead of shipping them")
	fs.StringVar(&cfg.RejectPolicy, "reject-policy", cfg.RejectPolicy, "fate of rejected records: retry or drop")
	fs.DurationVar(&cfg.ProbeInterval, "probe-interval", cfg.ProbeInterval, "endpoint connectivity probe period, 0 disables probing")
	fs.DurationVar(&cfg.RetryMaxInterval, "retry-max-interval", cfg.RetryMaxInterval, "max backoff between retries of a failed send, 0 waits for the next record")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address of the prometheus metrics listener, empty disables it")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "max time spent flushing on shutdown")
	fs.StringVar(&cfg.Input, "input", cfg.Input, "file to read the lines from, stdin when empty")

	return fs
}

// loadConfig builds the configuration from the command line arguments and
// the optional YAML file.
func loadConfig(args []string, output io.Writer) (*config, error) {
	cfg := defaultConfig()
	var configPath string

	// The first pass only finds the configuration file.
	if err := newFlagSet(cfg, &configPath, io.Discard).Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			newFlagSet(defaultConfig(), new(string), output).Usage()
		}
		return nil, err
	}

	if configPath != "" {
		cfg = defaultConfig()
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read configuration file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse configuration file %s", configPath)
		}

		// Flags override the file.
		if err := newFlagSet(cfg, &configPath, output).Parse(args); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks the configuration consistency.
func (cfg *config) validate() error {
	if !cfg.DisableSending {
		if cfg.Endpoint == "" {
			return errors.New("endpoint is required")
		}
		if _, err := logship.ProbeTarget(cfg.Endpoint); err != nil {
			return errors.Wrap(err, "invalid endpoint")
		}
		if cfg.APIKey == "" {
			return errors.New("api key is required")
		}
	}

	if cfg.Storage != storageFile && cfg.Storage != storageBadger {
		return errors.Errorf("invalid storage %q, expected %s or %s", cfg.Storage, storageFile, storageBadger)
	}

	if cfg.QueueSize <= 0 {
		return errors.Errorf("invalid queue size %d", cfg.QueueSize)
	}

	if _, err := cfg.level(); err != nil {
		return err
	}

	if _, err := cfg.rejectPolicy(); err != nil {
		return err
	}

	if cfg.ShutdownTimeout <= 0 {
		return errors.Errorf("invalid shutdown timeout %s", cfg.ShutdownTimeout)
	}

	return nil
}

// level returns the configured logship level.
func (cfg *config) level() (logship.Level, error) {
	level, err := logship.LevelByName(cfg.Level)
	if err != nil {
		return level, errors.Wrapf(err, "valid levels are %s", logship.ValidLevels())
	}
	return level, nil
}

// rejectPolicy returns the configured logship reject policy.
func (cfg *config) rejectPolicy() (logship.RejectPolicy, error) {
	switch strings.ToLower(cfg.RejectPolicy) {
	case rejectRetry:
		return logship.RetryRejected, nil
	case rejectDrop:
		return logship.DropRejected, nil
	default:
		return logship.RetryRejected, errors.Errorf("invalid reject policy %q, expected %s or %s", cfg.RejectPolicy, rejectRetry, rejectDrop)
	}
}

// dimensions returns the default dimensions of the shipped records.
func (cfg *config) dimensions() logship.Properties {
	props := make(logship.Properties, len(cfg.Dimensions))
	for key, value := range cfg.Dimensions {
		props[key] = value
	}
	return props
}
