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
	"fmt"
	"maps"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"text/template"
	"time"

	"go.uber.org/multierr"
)

// Config bridges the behavior configuration between the logger and a backend
// implementation.
type Config interface {
	// QueueSize returns the max number of entries kept in memory for a backend
	// that failed to accept them.
	QueueSize() int
	// SetQueueSize sets the max size of the backend's in-memory queue.
	SetQueueSize(size int)
	// SetFormat sets the text format of the specified level.
	SetFormat(level Level, format string)
	// Format returns the text format of the specified level.
	Format(level Level) string
}

// FormatMap wraps the level <-> format map type.
type FormatMap map[Level]string

// backendConfig is the common implementation of the Config interface.
type backendConfig struct {
	// mu protects the fields, backends read them from their own goroutine.
	mu sync.RWMutex
	// queueSize is the in-memory queue max size. When 0 failed entries are not
	// kept at all.
	queueSize int
	// formatMap maps the text format of a given level.
	formatMap FormatMap
}

// Backend defines the interface of a backend implementation.
type Backend interface {
	// ID returns the backend's implementation ID.
	ID() string
	// Log hands the entry to the backend. A returned error makes the logger
	// keep the entry in the backend's in-memory queue and retry it later.
	Log(entry *LogEntry) error
	// Config returns the backend configuration interface implementation.
	Config() Config
	// Flush pushes out anything the backend is still holding.
	Flush(ctx context.Context) error
}

// LogEntry describes a log call.
type LogEntry struct {
	// Level is the priority of the entry.
	Level Level
	// File is the file name of the log caller.
	File string
	// Line is the file's line of the log caller.
	Line int
	// Function is the function name of the log caller.
	Function string
	// When is the time the entry was created.
	When time.Time
	// Message is the formatted message.
	Message string
	// Prefix is a string/tag prefixed to the message by text backends.
	Prefix string
	// Properties are the custom dimensions merged with the default ones.
	Properties Properties
	// Force is true for entries that bypass the level filter.
	Force bool
}

// BackendQueue wraps the entry queueing control objects of one backend.
type BackendQueue struct {
	// entries holds the entries the backend failed to accept, oldest first.
	entries []*LogEntry
	// entriesMutex protects entries, it's shared by the goroutine receiving
	// new entries and the one retrying the queued ones.
	entriesMutex sync.Mutex
	// cancel is closed to stop the backend's goroutines.
	cancel chan struct{}
	// bus delivers new entries to the backend's goroutine.
	bus chan *LogEntry
	// ticker drives the retry of queued entries.
	ticker *time.Ticker
	// tickerFrequency is the frequency of the ticker.
	tickerFrequency time.Duration
	// backend points to the actual backend object.
	backend Backend
}

// Logger is the leveled logging facade. It filters entries by level, merges
// the default dimensions and fans the entries out to the registered backends.
type Logger struct {
	// mu protects currentLevel, prefix and defaults.
	mu sync.RWMutex
	// currentLevel is the least urgent level still logged.
	currentLevel Level
	// prefix is prepended to messages by the text backends.
	prefix string
	// defaults are the dimensions merged into every entry.
	defaults Properties
	// levelStore persists currentLevel across runs, may be nil.
	levelStore Store

	// queues packs the registered backend control data (indexed by backend ID).
	queues map[string]*BackendQueue
	// queuesMutex protects queues and retryFrequency.
	queuesMutex sync.Mutex
	// retryFrequency is the retry period of the backends' in-memory queues.
	retryFrequency time.Duration
}

var (
	// defaultLogger backs the package level functions.
	defaultLogger = NewLogger()

	// defaultRetryFrequency is the default retry period of the backends'
	// in-memory queues.
	defaultRetryFrequency = time.Millisecond * 10

	// EmergencyLevel is the most urgent priority.
	EmergencyLevel = Level{0, "EMERGENCY"}

	// ErrorLevel is the priority of errors.
	ErrorLevel = Level{1, "ERROR"}

	// WarnLevel is the priority of warnings.
	WarnLevel = Level{2, "WARN"}

	// InfoLevel is the priority of informational messages.
	InfoLevel = Level{3, "INFO"}

	// LogLevel is the priority of regular log messages.
	LogLevel = Level{4, "LOG"}

	// DebugLevel is the priority of debugging messages.
	DebugLevel = Level{5, "DEBUG"}

	// TraceLevel is the priority of tracing messages.
	TraceLevel = Level{6, "TRACE"}

	// VerboseLevel is the least urgent priority.
	VerboseLevel = Level{7, "VERBOSE"}

	// allLevels is the list of all the levels, most urgent first.
	allLevels = []Level{EmergencyLevel, ErrorLevel, WarnLevel, InfoLevel, LogLevel, DebugLevel, TraceLevel, VerboseLevel}
)

const (
	// levelChangedMessage is the message of the entry logged on level changes.
	levelChangedMessage = "Set log verbosity"

	// fallbackFormat is used when a backend didn't provide the level <-> format
	// mapping.
	fallbackFormat = `{{.When.Format "2006-01-02T15:04:05.0000Z07:00"}} [{{.Level}}]: {{.Message}}`
)

// NewLogger returns a Logger with no backends, logging every level.
func NewLogger() *Logger {
	return &Logger{
		currentLevel:   VerboseLevel,
		queues:         make(map[string]*BackendQueue),
		retryFrequency: defaultRetryFrequency,
	}
}

// Default returns the shared logger behind the package level functions.
func Default() *Logger {
	return defaultLogger
}

// Level wraps id and description of a priority.
type Level struct {
	// level is the numeric priority, 0 is the most urgent.
	level int
	// tag is displayed by the text backends.
	tag string
}

// String returns the string representation of a level.
func (level Level) String() string {
	return level.tag
}

// Name returns the lowercase priority name sent on the wire.
func (level Level) Name() string {
	return strings.ToLower(level.tag)
}

// Priority returns the numeric priority, 0 is the most urgent.
func (level Level) Priority() int {
	return level.level
}

// ParseLevel returns the level of a given priority. In case of an invalid
// priority an error is returned.
func ParseLevel(level int) (Level, error) {
	for _, lvl := range allLevels {
		if lvl.level == level {
			return lvl, nil
		}
	}
	return Level{level: level, tag: "INVALID"}, fmt.Errorf("invalid log level: %d", level)
}

// LevelByName returns the level with the given priority name, the lookup is
// case-insensitive.
func LevelByName(name string) (Level, error) {
	for _, lvl := range allLevels {
		if strings.EqualFold(lvl.tag, name) {
			return lvl, nil
		}
	}
	return Level{level: -1, tag: "INVALID"}, fmt.Errorf("invalid log level name: %q", name)
}

// ValidLevels returns a string representation of all the valid levels.
func ValidLevels() string {
	var levels []string
	for _, lvl := range allLevels {
		levels = append(levels, fmt.Sprintf("%s(%d)", lvl.tag, lvl.level))
	}
	return strings.Join(levels, ", ")
}

// SetLevel sets the least urgent level the default logger still logs.
func SetLevel(level Level) {
	defaultLogger.SetLevel(level)
}

// SetLevelStore makes the default logger's level survive restarts, see
// [Logger.SetLevelStore].
func SetLevelStore(store Store) error {
	return defaultLogger.SetLevelStore(store)
}

// CurrentLevel returns the default logger current level.
func CurrentLevel() Level {
	return defaultLogger.CurrentLevel()
}

// SetPrefix sets the prefix used by the default logger's text backends.
func SetPrefix(prefix string) {
	defaultLogger.SetPrefix(prefix)
}

// SetDefaultDimensions sets the dimensions merged into every entry of the
// default logger.
func SetDefaultDimensions(props Properties) {
	defaultLogger.SetDefaultDimensions(props)
}

// RegisterBackend registers a backend with the default logger. This function
// is thread safe and can be called from any goroutine in the program.
func RegisterBackend(ctx context.Context, backend Backend) {
	defaultLogger.RegisterBackend(ctx, backend)
}

// RegisteredBackendIDs returns the IDs of the default logger's backends.
func RegisteredBackendIDs() []string {
	return defaultLogger.RegisteredBackendIDs()
}

// UnregisterBackend removes a backend from the default logger.
func UnregisterBackend(backend Backend) {
	defaultLogger.UnregisterBackend(backend)
}

// Shutdown shuts down the default logger, see [Logger.Shutdown].
func Shutdown(timeout time.Duration) error {
	return defaultLogger.Shutdown(timeout)
}

// SetQueueRetryFrequency sets the retry period of the default logger's
// backend queues.
func SetQueueRetryFrequency(frequency time.Duration) {
	defaultLogger.SetQueueRetryFrequency(frequency)
}

// QueueRetryFrequency returns the retry period of the default logger's
// backend queues.
func QueueRetryFrequency() time.Duration {
	return defaultLogger.QueueRetryFrequency()
}

// Emit logs message with level and custom dimensions using the default
// logger.
func Emit(level Level, message string, props Properties) {
	defaultLogger.emit(level, message, props, false)
}

// ForceEmit is like Emit but bypasses the level filter.
func ForceEmit(level Level, message string, props Properties) {
	defaultLogger.emit(level, message, props, true)
}

// Emergency logs to the EMERGENCY level. Arguments are handled in the manner
// of fmt.Print.
func Emergency(args ...any) {
	defaultLogger.emit(EmergencyLevel, fmt.Sprint(args...), nil, false)
}

// Emergencyf logs to the EMERGENCY level. Arguments are handled in the manner
// of fmt.Printf.
func Emergencyf(format string, args ...any) {
	defaultLogger.emit(EmergencyLevel, fmt.Sprintf(format, args...), nil, false)
}

// Error logs to the ERROR level. Arguments are handled in the manner of
// fmt.Print.
func Error(args ...any) {
	defaultLogger.emit(ErrorLevel, fmt.Sprint(args...), nil, false)
}

// Errorf logs to the ERROR level. Arguments are handled in the manner of
// fmt.Printf.
func Errorf(format string, args ...any) {
	defaultLogger.emit(ErrorLevel, fmt.Sprintf(format, args...), nil, false)
}

// Warn logs to the WARN level. Arguments are handled in the manner of
// fmt.Print.
func Warn(args ...any) {
	defaultLogger.emit(WarnLevel, fmt.Sprint(args...), nil, false)
}

// Warnf logs to the WARN level. Arguments are handled in the manner of
// fmt.Printf.
func Warnf(format string, args ...any) {
	defaultLogger.emit(WarnLevel, fmt.Sprintf(format, args...), nil, false)
}

// Info logs to the INFO level. Arguments are handled in the manner of
// fmt.Print.
func Info(args ...any) {
	defaultLogger.emit(InfoLevel, fmt.Sprint(args...), nil, false)
}

// Infof logs to the INFO level. Arguments are handled in the manner of
// fmt.Printf.
func Infof(format string, args ...any) {
	defaultLogger.emit(InfoLevel, fmt.Sprintf(format, args...), nil, false)
}

// Log logs to the LOG level. Arguments are handled in the manner of
// fmt.Print.
func Log(args ...any) {
	defaultLogger.emit(LogLevel, fmt.Sprint(args...), nil, false)
}

// Logf logs to the LOG level. Arguments are handled in the manner of
// fmt.Printf.
func Logf(format string, args ...any) {
	defaultLogger.emit(LogLevel, fmt.Sprintf(format, args...), nil, false)
}

// Debug logs to the DEBUG level. Arguments are handled in the manner of
// fmt.Print.
func Debug(args ...any) {
	defaultLogger.emit(DebugLevel, fmt.Sprint(args...), nil, false)
}

// Debugf logs to the DEBUG level. Arguments are handled in the manner of
// fmt.Printf.
func Debugf(format string, args ...any) {
	defaultLogger.emit(DebugLevel, fmt.Sprintf(format, args...), nil, false)
}

// Trace logs to the TRACE level. Arguments are handled in the manner of
// fmt.Print.
func Trace(args ...any) {
	defaultLogger.emit(TraceLevel, fmt.Sprint(args...), nil, false)
}

// Tracef logs to the TRACE level. Arguments are handled in the manner of
// fmt.Printf.
func Tracef(format string, args ...any) {
	defaultLogger.emit(TraceLevel, fmt.Sprintf(format, args...), nil, false)
}

// Verbose logs to the VERBOSE level. Arguments are handled in the manner of
// fmt.Print.
func Verbose(args ...any) {
	defaultLogger.emit(VerboseLevel, fmt.Sprint(args...), nil, false)
}

// Verbosef logs to the VERBOSE level. Arguments are handled in the manner of
// fmt.Printf.
func Verbosef(format string, args ...any) {
	defaultLogger.emit(VerboseLevel, fmt.Sprintf(format, args...), nil, false)
}

// newEntry sets up the log entry for each logging call. skip is the number of
// frames between newEntry and the logging call of the application.
func newEntry(skip int, level Level, prefix string, msg string, props Properties) *LogEntry {
	pc, file, line, _ := runtime.Caller(skip)
	return &LogEntry{
		Level:      level,
		When:       time.Now(),
		File:       filepath.Base(file),
		Line:       line,
		Function:   runtime.FuncForPC(pc).Name(),
		Message:    msg,
		Prefix:     prefix,
		Properties: props,
	}
}

// Format processes a template provided in format and returns it as a string.
func (en *LogEntry) Format(format string) (string, error) {
	tmpl, err := template.New("").Parse(format)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	buffer := new(strings.Builder)
	if err := tmpl.Execute(buffer, en); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buffer.String(), nil
}

// Record converts the entry into the record shipped to the remote endpoint.
func (en *LogEntry) Record() LogRecord {
	return NewRecord(en.When, en.Level, en.Message, en.Properties, nil)
}

// newBackendConfig allocates and initializes a new backendConfig instance.
func newBackendConfig(queueSize int) *backendConfig {
	return &backendConfig{
		queueSize: queueSize,
		formatMap: make(FormatMap),
	}
}

// QueueSize returns the queueSize set to the configuration.
func (bc *backendConfig) QueueSize() int {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.queueSize
}

// SetQueueSize sets the in-memory queue size. When the limit is reached the
// oldest entries are dropped one by one.
func (bc *backendConfig) SetQueueSize(size int) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.queueSize = size
}

// SetFormat adds level and format to the format mapping.
func (bc *backendConfig) SetFormat(level Level, format string) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.formatMap[level] = format
}

// Format returns the format configured for level. Without an exact match the
// closest more urgent level's format is used, then the closest less urgent
// one, and finally fallbackFormat.
func (bc *backendConfig) Format(level Level) string {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	if format, found := bc.formatMap[level]; found {
		return format
	}

	for i := min(level.level, len(allLevels)-1); i >= 0; i-- {
		if format, found := bc.formatMap[allLevels[i]]; found {
			return format
		}
	}

	for i := max(level.level, 0); i < len(allLevels); i++ {
		if format, found := bc.formatMap[allLevels[i]]; found {
			return format
		}
	}

	return fallbackFormat
}

// SetPrefix sets the prefix used by the text backends.
func (lg *Logger) SetPrefix(prefix string) {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	lg.prefix = prefix
}

// SetDefaultDimensions sets the dimensions merged into every entry. A default
// dimension wins over a custom one with the same key.
func (lg *Logger) SetDefaultDimensions(props Properties) {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	lg.defaults = maps.Clone(props)
}

// DefaultDimensions returns a copy of the default dimensions.
func (lg *Logger) DefaultDimensions() Properties {
	lg.mu.RLock()
	defer lg.mu.RUnlock()
	return maps.Clone(lg.defaults)
}

// SetLevel sets the least urgent level still logged. A change is logged as a
// forced info entry carrying the previous and current level names, and saved
// to the level store if one is set.
func (lg *Logger) SetLevel(level Level) {
	lg.mu.Lock()
	previous := lg.currentLevel
	lg.currentLevel = level
	store := lg.levelStore
	lg.mu.Unlock()

	if previous == level {
		return
	}

	lg.emit(InfoLevel, levelChangedMessage, Properties{
		"previous": previous.Name(),
		"current":  level.Name(),
	}, true)

	if store == nil {
		return
	}
	if err := SaveLevel(store, level); err != nil {
		lg.emit(WarnLevel, "Failed to persist log verbosity", Properties{"error": err.Error()}, true)
	}
}

// SetLevelStore makes the level survive restarts. A level saved by a previous
// run replaces the current one, otherwise the current level is saved. Later
// changes made with SetLevel are saved as they happen.
func (lg *Logger) SetLevelStore(store Store) error {
	stored, found, err := LoadLevel(store)
	if err != nil {
		return err
	}

	lg.mu.Lock()
	lg.levelStore = store
	if found {
		lg.currentLevel = stored
	}
	current := lg.currentLevel
	lg.mu.Unlock()

	if found {
		return nil
	}
	return SaveLevel(store, current)
}

// CurrentLevel returns the least urgent level still logged.
func (lg *Logger) CurrentLevel() Level {
	lg.mu.RLock()
	defer lg.mu.RUnlock()
	return lg.currentLevel
}

// SetQueueRetryFrequency sets the retry period of the backends' in-memory
// queues.
func (lg *Logger) SetQueueRetryFrequency(frequency time.Duration) {
	lg.queuesMutex.Lock()
	defer lg.queuesMutex.Unlock()

	lg.retryFrequency = frequency
	for _, backend := range lg.queues {
		if backend.tickerFrequency != frequency {
			backend.tickerFrequency = frequency
			backend.ticker.Reset(frequency)
		}
	}
}

// QueueRetryFrequency returns the retry period of the backends' in-memory
// queues.
func (lg *Logger) QueueRetryFrequency() time.Duration {
	lg.queuesMutex.Lock()
	defer lg.queuesMutex.Unlock()
	return lg.retryFrequency
}

// UnregisterBackend removes a backend and stops its goroutines.
func (lg *Logger) UnregisterBackend(backend Backend) {
	lg.queuesMutex.Lock()
	defer lg.queuesMutex.Unlock()
	if queue, found := lg.queues[backend.ID()]; found {
		delete(lg.queues, backend.ID())
		queue.ticker.Stop()
		close(queue.cancel)
	}
}

// Shutdown unregisters all the backends, then for at most timeout tries to
// write the entries still held in their in-memory queues and calls each
// backend's Flush. The errors of the flushes are combined in the returned
// error.
//
// After Shutdown all logging calls are no-op, no backend is left registered.
func (lg *Logger) Shutdown(timeout time.Duration) error {
	var backends []*BackendQueue

	lg.queuesMutex.Lock()
	for _, queue := range lg.queues {
		backends = append(backends, queue)
	}
	lg.queuesMutex.Unlock()

	// Stop accepting new entries first.
	for _, queue := range backends {
		lg.UnregisterBackend(queue.backend)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var err error
	for _, queue := range backends {
		if ctx.Err() != nil {
			err = multierr.Append(err, fmt.Errorf("shutdown timed out before flushing %s: %w", queue.backend.ID(), ctx.Err()))
			continue
		}
		lg.flushEnqueuedEntries(ctx, queue)
		if flushErr := queue.backend.Flush(ctx); flushErr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to flush %s: %w", queue.backend.ID(), flushErr))
		}
	}
	return err
}

// RegisterBackend registers a backend, replacing a previously registered one
// with the same ID.
func (lg *Logger) RegisterBackend(ctx context.Context, backend Backend) {
	lg.queuesMutex.Lock()
	defer lg.queuesMutex.Unlock()

	if previous, found := lg.queues[backend.ID()]; found {
		previous.ticker.Stop()
		close(previous.cancel)
	}

	backendQueue := &BackendQueue{
		cancel:          make(chan struct{}),
		bus:             make(chan *LogEntry),
		tickerFrequency: lg.retryFrequency,
		ticker:          time.NewTicker(lg.retryFrequency),
		backend:         backend,
	}
	lg.queues[backend.ID()] = backendQueue

	go lg.runBackend(ctx, backend, backendQueue)
}

// RegisteredBackendIDs returns the list of registered backend IDs.
func (lg *Logger) RegisteredBackendIDs() []string {
	lg.queuesMutex.Lock()
	defer lg.queuesMutex.Unlock()
	var backendIDs []string
	for _, queue := range lg.queues {
		backendIDs = append(backendIDs, queue.backend.ID())
	}
	return backendIDs
}

// runBackend runs the goroutines writing entries to a backend. An entry the
// backend fails to accept goes to the backend's in-memory queue, and while
// the queue isn't empty new entries are queued behind it so the write order
// matches the creation order.
func (lg *Logger) runBackend(ctx context.Context, backend Backend, bq *BackendQueue) {
	// enqueue guarantees the max size of the entry queue.
	enqueue := func(force bool, config Config, item *LogEntry) bool {
		bq.entriesMutex.Lock()
		defer bq.entriesMutex.Unlock()

		if !force && len(bq.entries) == 0 {
			return false
		}

		if config == nil || config.QueueSize() == 0 {
			return false
		}

		bq.entries = append(bq.entries, item)
		if queueSize := config.QueueSize(); queueSize > 0 && len(bq.entries) > queueSize {
			bq.entries = bq.entries[1:]
		}

		return true
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-bq.cancel:
				return
			case <-bq.ticker.C:
				lg.flushEnqueuedEntries(ctx, bq)
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-bq.cancel:
				return
			case entry := <-bq.bus:
				if enqueue(false, backend.Config(), entry) {
					continue
				}
				if err := backend.Log(entry); err != nil {
					enqueue(true, backend.Config(), entry)
				}
			}
		}
	}()

	wg.Wait()
}

// flushEnqueuedEntries writes the queued entries in order until one fails or
// ctx is canceled.
func (lg *Logger) flushEnqueuedEntries(ctx context.Context, bq *BackendQueue) {
	var success int
	bq.entriesMutex.Lock()
	defer bq.entriesMutex.Unlock()
	for _, curr := range bq.entries {
		if ctx.Err() != nil {
			break
		}

		if err := bq.backend.Log(curr); err != nil {
			break
		}
		success++
	}
	if success > 0 {
		bq.entries = bq.entries[success:]
	}
}

// log hands the entry to every registered backend. Entries less urgent than
// the current level are dropped unless forced.
func (lg *Logger) log(entry *LogEntry) {
	if !entry.Force && lg.CurrentLevel().level < entry.Level.level {
		return
	}

	lg.queuesMutex.Lock()
	defer lg.queuesMutex.Unlock()

	for _, curr := range lg.queues {
		select {
		case curr.bus <- entry:
		case <-curr.cancel:
		}
	}
}

// entry builds the entry of a logging call made by the application, skip
// frames above the logging method.
func (lg *Logger) entry(level Level, msg string, props Properties, force bool) *LogEntry {
	lg.mu.RLock()
	prefix := lg.prefix
	merged := make(Properties, len(props)+len(lg.defaults))
	maps.Copy(merged, props)
	maps.Copy(merged, lg.defaults)
	lg.mu.RUnlock()

	entry := newEntry(4, level, prefix, msg, merged)
	entry.Force = force
	return entry
}

// emit is the common path of the structured logging calls.
func (lg *Logger) emit(level Level, msg string, props Properties, force bool) {
	lg.log(lg.entry(level, msg, props, force))
}

// Emit logs message with level and custom dimensions.
func (lg *Logger) Emit(level Level, message string, props Properties) {
	lg.emit(level, message, props, false)
}

// ForceEmit is like Emit but bypasses the level filter.
func (lg *Logger) ForceEmit(level Level, message string, props Properties) {
	lg.emit(level, message, props, true)
}

// Emergency logs to the EMERGENCY level.
func (lg *Logger) Emergency(args ...any) {
	lg.emit(EmergencyLevel, fmt.Sprint(args...), nil, false)
}

// Emergencyf logs to the EMERGENCY level.
func (lg *Logger) Emergencyf(format string, args ...any) {
	lg.emit(EmergencyLevel, fmt.Sprintf(format, args...), nil, false)
}

// Error logs to the ERROR level.
func (lg *Logger) Error(args ...any) {
	lg.emit(ErrorLevel, fmt.Sprint(args...), nil, false)
}

// Errorf logs to the ERROR level.
func (lg *Logger) Errorf(format string, args ...any) {
	lg.emit(ErrorLevel, fmt.Sprintf(format, args...), nil, false)
}

// Warn logs to the WARN level.
func (lg *Logger) Warn(args ...any) {
	lg.emit(WarnLevel, fmt.Sprint(args...), nil, false)
}

// Warnf logs to the WARN level.
func (lg *Logger) Warnf(format string, args ...any) {
	lg.emit(WarnLevel, fmt.Sprintf(format, args...), nil, false)
}

// Info logs to the INFO level.
func (lg *Logger) Info(args ...any) {
	lg.emit(InfoLevel, fmt.Sprint(args...), nil, false)
}

// Infof logs to the INFO level.
func (lg *Logger) Infof(format string, args ...any) {
	lg.emit(InfoLevel, fmt.Sprintf(format, args...), nil, false)
}

// Log logs to the LOG level.
func (lg *Logger) Log(args ...any) {
	lg.emit(LogLevel, fmt.Sprint(args...), nil, false)
}

// Logf logs to the LOG level.
func (lg *Logger) Logf(format string, args ...any) {
	lg.emit(LogLevel, fmt.Sprintf(format, args...), nil, false)
}

// Debug logs to the DEBUG level.
func (lg *Logger) Debug(args ...any) {
	lg.emit(DebugLevel, fmt.Sprint(args...), nil, false)
}

// Debugf logs to the DEBUG level.
func (lg *Logger) Debugf(format string, args ...any) {
	lg.emit(DebugLevel, fmt.Sprintf(format, args...), nil, false)
}

// Trace logs to the TRACE level.
func (lg *Logger) Trace(args ...any) {
	lg.emit(TraceLevel, fmt.Sprint(args...), nil, false)
}

// Tracef logs to the TRACE level.
func (lg *Logger) Tracef(format string, args ...any) {
	lg.emit(TraceLevel, fmt.Sprintf(format, args...), nil, false)
}

// Verbose logs to the VERBOSE level.
func (lg *Logger) Verbose(args ...any) {
	lg.emit(VerboseLevel, fmt.Sprint(args...), nil, false)
}

// Verbosef logs to the VERBOSE level.
func (lg *Logger) Verbosef(format string, args ...any) {
	lg.emit(VerboseLevel, fmt.Sprintf(format, args...), nil, false)
}
