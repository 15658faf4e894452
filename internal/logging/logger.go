// Package logging provides structured logging with file and console output.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// LogEntry is one line kept in the in-memory history.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Component string `json:"component,omitempty"`
	Message   string `json:"message"`
}

// Config holds logger configuration
type Config struct {
	Level       string `mapstructure:"level" yaml:"level"`               // debug, info, warn, error (default: info)
	Dir         string `mapstructure:"dir" yaml:"dir"`                   // Directory for log files, empty disables file output
	Console     bool   `mapstructure:"console" yaml:"console"`           // Human readable output on stderr
	HistorySize int    `mapstructure:"history_size" yaml:"history_size"` // Entries kept in memory (default: 500)
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Level:       "info",
		Console:     true,
		HistorySize: 500,
	}
}

// Logger wraps zerolog with file output and log history
type Logger struct {
	zlog    zerolog.Logger
	filter  *levelFilter
	file    *os.File
	logPath string
	history *history
}

// New creates a Logger. Extra writers receive the raw JSON lines.
func New(cfg Config, extra ...io.Writer) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}

	l := &Logger{history: newHistory(cfg.HistorySize)}
	writers := []io.Writer{l.history}
	writers = append(writers, extra...)

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		// Create log file with date-based name
		name := fmt.Sprintf("lipsync_%s.log", time.Now().Format("2006-01-02"))
		l.logPath = filepath.Join(cfg.Dir, name)

		file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = file
		writers = append(writers, file)
	}

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		})
	}

	// Level is enforced by the shared writer, which every derived logger uses.
	l.filter = newLevelFilter(zerolog.MultiLevelWriter(writers...), level)
	l.zlog = zerolog.New(l.filter).
		With().
		Timestamp().
		Str("app", "lipsync").
		Logger()

	l.zlog.Debug().
		Str("component", "logging").
		Str("log_file", l.logPath).
		Str("level", level.String()).
		Msg("Logger initialized")

	return l, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop(), history: newHistory(1)}
}

// Component returns a zerolog.Logger with the component field set
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zlog.With().Str("component", name).Logger()
}

// Zerolog returns the underlying zerolog.Logger
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// SetLevel changes the minimum level, e.g. after a config reload.
func (l *Logger) SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	if l.filter != nil {
		l.filter.set(lvl)
	}
	return nil
}

// Level returns the current minimum level.
func (l *Logger) Level() zerolog.Level {
	if l.filter == nil {
		return zerolog.Disabled
	}
	return l.filter.get()
}

// SetOnLog sets a callback for real-time log streaming
func (l *Logger) SetOnLog(fn func(LogEntry)) {
	l.history.setCallback(fn)
}

// GetHistory returns up to limit recent log entries, oldest first.
func (l *Logger) GetHistory(limit int) []LogEntry {
	return l.history.recent(limit)
}

// GetLogPath returns the current log file path, empty without file output.
func (l *Logger) GetLogPath() string {
	return l.logPath
}

// Close closes the log file
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// levelFilter drops events below a level that can change at runtime.
type levelFilter struct {
	w     zerolog.LevelWriter
	level atomic.Int32
}

func newLevelFilter(w zerolog.LevelWriter, level zerolog.Level) *levelFilter {
	f := &levelFilter{w: w}
	f.set(level)
	return f
}

func (f *levelFilter) set(level zerolog.Level) {
	f.level.Store(int32(level))
}

func (f *levelFilter) get() zerolog.Level {
	return zerolog.Level(f.level.Load())
}

func (f *levelFilter) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

func (f *levelFilter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < f.get() {
		return len(p), nil
	}
	return f.w.WriteLevel(level, p)
}

// history decodes the JSON lines zerolog writes and keeps the latest ones.
type history struct {
	mu      sync.RWMutex
	entries []LogEntry
	max     int
	onLog   func(LogEntry)
}

func newHistory(max int) *history {
	return &history{entries: make([]LogEntry, 0, max), max: max}
}

func (h *history) Write(p []byte) (int, error) {
	var raw struct {
		Time      string `json:"time"`
		Level     string `json:"level"`
		Component string `json:"component"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(p, &raw); err != nil {
		// skip lines that are not JSON
		return len(p), nil
	}

	entry := LogEntry{
		Timestamp: raw.Time,
		Level:     raw.Level,
		Component: raw.Component,
		Message:   raw.Message,
	}

	h.mu.Lock()
	h.entries = append(h.entries, entry)
	if len(h.entries) > h.max {
		// Remove oldest entries
		h.entries = h.entries[len(h.entries)-h.max:]
	}
	cb := h.onLog
	h.mu.Unlock()

	if cb != nil {
		cb(entry)
	}
	return len(p), nil
}

func (h *history) setCallback(fn func(LogEntry)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onLog = fn
}

func (h *history) recent(limit int) []LogEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || limit > len(h.entries) {
		limit = len(h.entries)
	}
	out := make([]LogEntry, limit)
	copy(out, h.entries[len(h.entries)-limit:])
	return out
}
